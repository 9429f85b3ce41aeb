package errs

import (
	"errors"
	"fmt"
)

// 错误分类哨兵，handler 据此映射 HTTP 状态码
var (
	ErrValidation          = errors.New("validation error")
	ErrUnsupportedPlatform = errors.New("unsupported platform")
	ErrNotDownloadable     = errors.New("content not downloadable")
	ErrBlocked             = errors.New("blocked or rate-limited")
	ErrSizeExceeded        = errors.New("estimated size exceeds limit")
	ErrExternalTool        = errors.New("external tool failure")
	ErrTimeout             = errors.New("operation timed out")
	ErrNotFound            = errors.New("not found")
	ErrUnsafeFilename      = errors.New("unsafe filename")
)

// Validationf 构造校验错误
func Validationf(format string, args ...interface{}) error {
	return fmt.Errorf("%w: "+format, append([]interface{}{ErrValidation}, args...)...)
}

// ExternalToolf 构造外部工具错误
func ExternalToolf(format string, args ...interface{}) error {
	return fmt.Errorf("%w: "+format, append([]interface{}{ErrExternalTool}, args...)...)
}

// HTTPStatus 错误到状态码映射
func HTTPStatus(err error) int {
	switch {
	case errors.Is(err, ErrValidation), errors.Is(err, ErrUnsupportedPlatform):
		return 400
	case errors.Is(err, ErrNotFound):
		return 404
	case errors.Is(err, ErrNotDownloadable), errors.Is(err, ErrBlocked), errors.Is(err, ErrSizeExceeded):
		return 422
	case errors.Is(err, ErrUnsafeFilename):
		return 400
	case errors.Is(err, ErrTimeout):
		return 502
	case errors.Is(err, ErrExternalTool):
		return 502
	default:
		return 500
	}
}

// Truncate 限制错误文本长度，防止无界增长
func Truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max]
}
