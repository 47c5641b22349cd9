// Package document 负责获取并渲染参考文档
//
// Fetcher 按文档 ID 下载 PDF，Renderer 把指定页转换为图像，
// Source 组合两者并实现 vision.PageLoader。
package document

import (
	"errors"
	"fmt"
)

// 错误定义
var (
	ErrInvalidID      = errors.New("文档 ID 不合法")
	ErrNotFound       = errors.New("文档不存在")
	ErrForbidden      = errors.New("无权访问文档")
	ErrServer         = errors.New("文档服务暂不可用")
	ErrTimeout        = errors.New("文档加载超时")
	ErrInvalidContent = errors.New("文档不是有效的 PDF")
	ErrEmpty          = errors.New("文档为空")
	ErrTooLarge       = errors.New("文档过大")
	ErrRequestFailed  = errors.New("文档请求失败")

	ErrPageOutOfRange = errors.New("页码超出范围")
	ErrNoPageImage    = errors.New("页面中没有图像")
)

// FetchErrorKind 获取失败的类别
type FetchErrorKind string

const (
	KindInvalidID      FetchErrorKind = "invalid-id"
	KindNotFound       FetchErrorKind = "not-found"
	KindForbidden      FetchErrorKind = "forbidden"
	KindServerError    FetchErrorKind = "server-error"
	KindTimeout        FetchErrorKind = "timeout"
	KindInvalidContent FetchErrorKind = "invalid-content"
	KindEmpty          FetchErrorKind = "empty"
	KindTooLarge       FetchErrorKind = "too-large"
	KindRequestFailed  FetchErrorKind = "request-failed"
)

var kindSentinels = map[FetchErrorKind]error{
	KindInvalidID:      ErrInvalidID,
	KindNotFound:       ErrNotFound,
	KindForbidden:      ErrForbidden,
	KindServerError:    ErrServer,
	KindTimeout:        ErrTimeout,
	KindInvalidContent: ErrInvalidContent,
	KindEmpty:          ErrEmpty,
	KindTooLarge:       ErrTooLarge,
	KindRequestFailed:  ErrRequestFailed,
}

// FetchError 文档获取错误
type FetchError struct {
	Kind   FetchErrorKind
	ID     string
	Status int // HTTP 状态码，未收到响应时为 0
	Err    error
}

func (e *FetchError) Error() string {
	msg := fmt.Sprintf("获取文档 %q 失败 (%s)", e.ID, e.Kind)
	if e.Status != 0 {
		msg += fmt.Sprintf(" HTTP %d", e.Status)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Is 使 errors.Is(err, ErrNotFound) 等按类别成立
func (e *FetchError) Is(target error) bool {
	return kindSentinels[e.Kind] == target
}

func (e *FetchError) Unwrap() error {
	return e.Err
}

// Retryable 超时与服务端错误可以重试
func (e *FetchError) Retryable() bool {
	return e.Kind == KindTimeout || e.Kind == KindServerError
}

// IsRetryable 判断任意错误是否可重试
func IsRetryable(err error) bool {
	var fe *FetchError
	if errors.As(err, &fe) {
		return fe.Retryable()
	}
	return errors.Is(err, ErrTimeout)
}
