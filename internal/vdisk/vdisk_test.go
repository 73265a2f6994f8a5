package vdisk

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/jimyag/vdisk/internal/vdisk/config"
	"github.com/jimyag/vdisk/internal/vdisk/entity"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSetupLogger(t *testing.T) {
	testcases := []struct {
		level string
		want  zerolog.Level
	}{
		{level: "debug", want: zerolog.DebugLevel},
		{level: "warn", want: zerolog.WarnLevel},
		{level: "", want: zerolog.InfoLevel},
		{level: "verbose", want: zerolog.InfoLevel},
	}
	for _, tc := range testcases {
		logger := SetupLogger(tc.level)
		assert.Equal(t, tc.want, logger.GetLevel(), "level %q", tc.level)
		assert.Equal(t, tc.want, zerolog.DefaultContextLogger.GetLevel())
	}
}

func TestNewServer(t *testing.T) {
	cfg := config.Default()
	cfg.Database = filepath.Join(t.TempDir(), "vdisk.db")
	cfg.Address = "127.0.0.1:0"

	server, err := New(cfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = server.Close() })

	ctx := context.Background()
	err = server.RunTask(ctx, "task-404")
	assert.Error(t, err)

	_, err = server.Tasks().Submit(ctx, &entity.SubmitTaskRequest{
		Type:    entity.TaskTypeStorage,
		Action:  "mount",
		Objects: map[string]string{entity.ObjectStorage: "s-404"},
	})
	assert.Error(t, err)

	tasks, err := server.Tasks().List(ctx, &entity.ListTasksRequest{})
	require.NoError(t, err)
	assert.Empty(t, tasks)
}
