package document

import (
	"context"
	"fmt"
	"image"
	"time"

	"github.com/zoeyai/stampcheck/internal/logger"
)

// Source 下载并渲染文档页，实现 vision.PageLoader
type Source struct {
	Fetcher  Fetcher
	Renderer Renderer
	// Timeout 下载与渲染的总时限，<=0 时使用 DefaultTimeout
	Timeout time.Duration

	log *logger.Logger
}

// NewSource 创建基于 HTTP 的文档源
func NewSource(baseURL string) *Source {
	return &Source{
		Fetcher:  NewHTTPFetcher(baseURL),
		Renderer: NewPDFRenderer(),
		Timeout:  DefaultTimeout,
		log:      logger.Default(),
	}
}

// SetLogger 设置日志器
func (s *Source) SetLogger(l *logger.Logger) {
	if l != nil {
		s.log = l
	}
}

// LoadPage 获取文档并返回第 page 页图像
// 下载与渲染共用 Timeout。渲染超时后立即返回 KindTimeout，
// 后台渲染无法中断，会继续执行到结束，其结果被丢弃
func (s *Source) LoadPage(ctx context.Context, documentID string, page int) (image.Image, error) {
	if page < 1 {
		return nil, fmt.Errorf("%w: %d", ErrPageOutOfRange, page)
	}

	timeout := s.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	data, err := s.Fetcher.Fetch(ctx, documentID)
	if err != nil {
		return nil, err
	}
	s.logger().Debug("文档 %s 已下载 %d 字节", documentID, len(data))

	type rendered struct {
		img image.Image
		err error
	}
	done := make(chan rendered, 1)
	go func() {
		img, err := s.Renderer.RenderPage(data, page)
		done <- rendered{img, err}
	}()

	select {
	case r := <-done:
		return r.img, r.err
	case <-ctx.Done():
		if ctx.Err() == context.DeadlineExceeded {
			return nil, &FetchError{Kind: KindTimeout, ID: documentID, Err: fmt.Errorf("渲染超过 %s", timeout)}
		}
		return nil, ctx.Err()
	}
}

func (s *Source) logger() *logger.Logger {
	if s.log != nil {
		return s.log
	}
	return logger.Default()
}
