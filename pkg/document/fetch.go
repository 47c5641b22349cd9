package document

import (
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"time"

	"github.com/pkg/errors"
)

// 下载限制
const (
	MaxIDLength    = 50
	DefaultMaxSize = 10 << 20
	DefaultTimeout = 30 * time.Second
	defaultAgent   = "stampcheck-fetcher/1.0"
	pdfContentType = "application/pdf"
	pdfMagic       = "%PDF-"
)

var idPattern = regexp.MustCompile(`^[a-zA-Z0-9_-]+$`)

// Fetcher 按 ID 获取文档字节
type Fetcher interface {
	Fetch(ctx context.Context, id string) ([]byte, error)
}

// ValidateID 检查文档 ID
func ValidateID(id string) error {
	if id == "" || len(id) > MaxIDLength || !idPattern.MatchString(id) {
		return &FetchError{Kind: KindInvalidID, ID: id}
	}
	return nil
}

// HTTPFetcher 通过 HTTP 下载 <BaseURL>/<id>.pdf
type HTTPFetcher struct {
	BaseURL   string
	Client    *http.Client
	MaxSize   int64
	UserAgent string
}

// NewHTTPFetcher 创建 HTTP 下载器
func NewHTTPFetcher(baseURL string) *HTTPFetcher {
	return &HTTPFetcher{
		BaseURL:   strings.TrimRight(baseURL, "/"),
		Client:    &http.Client{},
		MaxSize:   DefaultMaxSize,
		UserAgent: defaultAgent,
	}
}

// URL 返回文档地址
func (f *HTTPFetcher) URL(id string) string {
	return strings.TrimRight(f.BaseURL, "/") + "/" + url.PathEscape(id) + ".pdf"
}

// Fetch 下载文档，失败时返回 *FetchError
func (f *HTTPFetcher) Fetch(ctx context.Context, id string) ([]byte, error) {
	id = strings.TrimSpace(id)
	if err := ValidateID(id); err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, f.URL(id), nil)
	if err != nil {
		return nil, &FetchError{Kind: KindRequestFailed, ID: id, Err: errors.Wrap(err, "构造请求失败")}
	}
	req.Header.Set("Accept", pdfContentType)
	req.Header.Set("User-Agent", f.userAgent())

	resp, err := f.client().Do(req)
	if err != nil {
		return nil, f.transportError(ctx, id, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, &FetchError{Kind: statusKind(resp.StatusCode), ID: id, Status: resp.StatusCode}
	}

	if ct := resp.Header.Get("Content-Type"); ct != "" && !strings.Contains(ct, pdfContentType) {
		return nil, &FetchError{
			Kind:   KindInvalidContent,
			ID:     id,
			Status: resp.StatusCode,
			Err:    fmt.Errorf("Content-Type: %s", ct),
		}
	}

	maxSize := f.maxSize()
	if resp.ContentLength > maxSize {
		return nil, &FetchError{Kind: KindTooLarge, ID: id, Status: resp.StatusCode,
			Err: fmt.Errorf("%d > %d 字节", resp.ContentLength, maxSize)}
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxSize+1))
	if err != nil {
		return nil, f.transportError(ctx, id, errors.Wrap(err, "读取响应失败"))
	}
	if len(data) == 0 {
		return nil, &FetchError{Kind: KindEmpty, ID: id, Status: resp.StatusCode}
	}
	if int64(len(data)) > maxSize {
		return nil, &FetchError{Kind: KindTooLarge, ID: id, Status: resp.StatusCode,
			Err: fmt.Errorf("超过 %d 字节", maxSize)}
	}

	return data, nil
}

// transportError 区分超时、服务不可达与其它网络错误
// 连接被拒绝与域名解析失败按服务端错误处理，可重试
func (f *HTTPFetcher) transportError(ctx context.Context, id string, err error) error {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) || isTimeout(err) {
		return &FetchError{Kind: KindTimeout, ID: id, Err: err}
	}
	if isUnreachable(err) {
		return &FetchError{Kind: KindServerError, ID: id, Err: err}
	}
	return &FetchError{Kind: KindRequestFailed, ID: id, Err: err}
}

func isUnreachable(err error) bool {
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return true
	}
	var opErr *net.OpError
	return errors.As(err, &opErr) && opErr.Op == "dial"
}

func isTimeout(err error) bool {
	var te interface{ Timeout() bool }
	return errors.As(err, &te) && te.Timeout()
}

// statusKind HTTP 状态码映射
func statusKind(status int) FetchErrorKind {
	switch status {
	case http.StatusNotFound:
		return KindNotFound
	case http.StatusForbidden:
		return KindForbidden
	case http.StatusInternalServerError, http.StatusBadGateway,
		http.StatusServiceUnavailable, http.StatusGatewayTimeout:
		return KindServerError
	default:
		return KindRequestFailed
	}
}

func (f *HTTPFetcher) client() *http.Client {
	if f.Client != nil {
		return f.Client
	}
	return http.DefaultClient
}

func (f *HTTPFetcher) maxSize() int64 {
	if f.MaxSize > 0 {
		return f.MaxSize
	}
	return DefaultMaxSize
}

func (f *HTTPFetcher) userAgent() string {
	if f.UserAgent != "" {
		return f.UserAgent
	}
	return defaultAgent
}
