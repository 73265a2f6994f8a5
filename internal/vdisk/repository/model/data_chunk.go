package model

import "time"

// DataChunk 等待 upload_data 消费的数据块
type DataChunk struct {
	CacheKey  string    `gorm:"primaryKey;type:text;column:cache_key" json:"cacheKey"`
	Offset    int64     `gorm:"type:integer;not null;column:offset" json:"offset"`
	Data      string    `gorm:"type:text;not null;column:data" json:"data"` // base64
	CreatedAt time.Time `gorm:"type:datetime;not null;column:created_at" json:"created_at"`
}

// TableName 指定表名
func (DataChunk) TableName() string {
	return "data_chunks"
}
