package apierror

import "net/http"

// API 层的预定义错误
var (
	ErrInvalidParameter = &Error{
		Code:       "InvalidParameter",
		Message:    "The request is missing a parameter or has an invalid one.",
		HTTPStatus: http.StatusBadRequest,
	}

	ErrNotFound = &Error{
		Code:       "NotFound",
		Message:    "The requested object does not exist.",
		HTTPStatus: http.StatusNotFound,
	}

	ErrConflict = &Error{
		Code:       "Conflict",
		Message:    "The object is being changed by another task.",
		HTTPStatus: http.StatusConflict,
	}

	ErrInternal = &Error{
		Code:       "InternalError",
		Message:    "An internal error has occurred.",
		HTTPStatus: http.StatusInternalServerError,
	}
)
