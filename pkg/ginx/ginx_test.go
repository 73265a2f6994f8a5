package ginx_test

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/jimyag/vdisk/pkg/apierror"
	"github.com/jimyag/vdisk/pkg/ginx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type createArgs struct {
	Name string `json:"name" binding:"required"`
	Size int64  `json:"size"`
}

func (args *createArgs) IsValid() error {
	if args.Size < 0 {
		return errors.New("size must not be negative")
	}
	return nil
}

type getArgs struct {
	ID string `uri:"id" binding:"required"`
}

type listArgs struct {
	State string `form:"state"`
}

type item struct {
	ID   string `json:"id"`
	Name string `json:"name,omitempty"`
}

func decodeErrors(t *testing.T, w *httptest.ResponseRecorder) apierror.ErrorResponse {
	t.Helper()
	var resp apierror.ErrorResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.Len(t, resp.Errors, 1)
	return resp
}

func newRouter() *gin.Engine {
	gin.SetMode(gin.TestMode)
	return gin.New()
}

func TestAdapt(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		testFunc func(*testing.T)
	}{
		{
			name: "Adapt3_Success",
			testFunc: func(t *testing.T) {
				t.Parallel()
				router := newRouter()
				router.GET("/items", ginx.Adapt3(func(c *gin.Context) ([]item, error) {
					return []item{{ID: "a"}, {ID: "b"}}, nil
				}))

				w := httptest.NewRecorder()
				router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/items", nil))

				assert.Equal(t, http.StatusOK, w.Code)
				assert.JSONEq(t, `[{"id":"a"},{"id":"b"}]`, w.Body.String())
			},
		},
		{
			name: "Adapt3_NilResponse",
			testFunc: func(t *testing.T) {
				t.Parallel()
				router := newRouter()
				router.GET("/ping", ginx.Adapt3(func(c *gin.Context) (*item, error) {
					return nil, nil
				}))

				w := httptest.NewRecorder()
				router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/ping", nil))

				assert.Equal(t, http.StatusNoContent, w.Code)
				assert.Empty(t, w.Body.String())
			},
		},
		{
			name: "Adapt5_BindURI",
			testFunc: func(t *testing.T) {
				t.Parallel()
				router := newRouter()
				router.GET("/items/:id", ginx.Adapt5(func(c *gin.Context, args *getArgs) (*item, error) {
					return &item{ID: args.ID}, nil
				}))

				w := httptest.NewRecorder()
				router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/items/img-1", nil))

				assert.Equal(t, http.StatusOK, w.Code)
				assert.JSONEq(t, `{"id":"img-1"}`, w.Body.String())
			},
		},
		{
			name: "Adapt5_BindQuery",
			testFunc: func(t *testing.T) {
				t.Parallel()
				router := newRouter()
				router.GET("/items", ginx.Adapt5(func(c *gin.Context, args *listArgs) (string, error) {
					return "state=" + args.State, nil
				}))

				w := httptest.NewRecorder()
				router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/items?state=ok", nil))

				assert.Equal(t, http.StatusOK, w.Code)
				assert.Equal(t, "state=ok", w.Body.String())
			},
		},
		{
			name: "AdaptCreated_BindJSON",
			testFunc: func(t *testing.T) {
				t.Parallel()
				router := newRouter()
				router.POST("/items", ginx.AdaptCreated(func(c *gin.Context, args *createArgs) (*item, error) {
					return &item{ID: "item-1", Name: args.Name}, nil
				}))

				w := httptest.NewRecorder()
				req := httptest.NewRequest(http.MethodPost, "/items", strings.NewReader(`{"name":"disk","size":10}`))
				req.Header.Set("Content-Type", "application/json")
				router.ServeHTTP(w, req)

				assert.Equal(t, http.StatusCreated, w.Code)
				assert.JSONEq(t, `{"id":"item-1","name":"disk"}`, w.Body.String())
			},
		},
		{
			name: "Adapt5_BindingError",
			testFunc: func(t *testing.T) {
				t.Parallel()
				router := newRouter()
				called := false
				router.POST("/items", ginx.Adapt5(func(c *gin.Context, args *createArgs) (*item, error) {
					called = true
					return nil, nil
				}))

				w := httptest.NewRecorder()
				req := httptest.NewRequest(http.MethodPost, "/items", strings.NewReader(`{"size":10}`))
				req.Header.Set(ginx.RequestIDHeader, "req-1")
				router.ServeHTTP(w, req)

				assert.False(t, called)
				assert.Equal(t, http.StatusBadRequest, w.Code)
				resp := decodeErrors(t, w)
				assert.Equal(t, apierror.ErrInvalidParameter.Code, resp.Errors[0].Code)
				assert.Equal(t, "req-1", resp.RequestID)
			},
		},
		{
			name: "Adapt5_MalformedJSON",
			testFunc: func(t *testing.T) {
				t.Parallel()
				router := newRouter()
				router.POST("/items", ginx.Adapt5(func(c *gin.Context, args *createArgs) (*item, error) {
					return nil, nil
				}))

				w := httptest.NewRecorder()
				router.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/items", strings.NewReader(`{"name":`)))

				assert.Equal(t, http.StatusBadRequest, w.Code)
				assert.Equal(t, apierror.ErrInvalidParameter.Code, decodeErrors(t, w).Errors[0].Code)
			},
		},
		{
			name: "Adapt5_IsValidError",
			testFunc: func(t *testing.T) {
				t.Parallel()
				router := newRouter()
				router.POST("/items", ginx.Adapt5(func(c *gin.Context, args *createArgs) (*item, error) {
					return &item{ID: "x"}, nil
				}))

				w := httptest.NewRecorder()
				router.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/items", strings.NewReader(`{"name":"disk","size":-1}`)))

				assert.Equal(t, http.StatusBadRequest, w.Code)
				resp := decodeErrors(t, w)
				assert.Equal(t, apierror.ErrInvalidParameter.Code, resp.Errors[0].Code)
				assert.Equal(t, "size must not be negative", resp.Errors[0].Message)
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, tt.testFunc)
	}
}

func TestRenderError(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name       string
		err        error
		wantStatus int
		wantCode   string
		wantMsg    string
	}{
		{
			name:       "api error",
			err:        apierror.WrapError(apierror.ErrNotFound, "image img-1 does not exist", nil),
			wantStatus: http.StatusNotFound,
			wantCode:   apierror.ErrNotFound.Code,
			wantMsg:    "image img-1 does not exist",
		},
		{
			name:       "wrapped api error",
			err:        fmt.Errorf("submit task: %w", apierror.ErrConflict),
			wantStatus: http.StatusConflict,
			wantCode:   apierror.ErrConflict.Code,
			wantMsg:    apierror.ErrConflict.Message,
		},
		{
			name:       "plain error",
			err:        errors.New("database is locked"),
			wantStatus: http.StatusInternalServerError,
			wantCode:   apierror.ErrInternal.Code,
			wantMsg:    "database is locked",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			router := newRouter()
			router.GET("/items/:id", ginx.Adapt5(func(c *gin.Context, args *getArgs) (*item, error) {
				return nil, tt.err
			}))

			w := httptest.NewRecorder()
			router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/items/img-1", nil))

			assert.Equal(t, tt.wantStatus, w.Code)
			resp := decodeErrors(t, w)
			assert.Equal(t, tt.wantCode, resp.Errors[0].Code)
			assert.Equal(t, tt.wantMsg, resp.Errors[0].Message)
		})
	}
}
