package document

import (
	"context"
	"errors"
	"image"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubFetcher struct {
	data []byte
	err  error
}

func (f *stubFetcher) Fetch(ctx context.Context, id string) ([]byte, error) {
	return f.data, f.err
}

type slowRenderer struct {
	delay    time.Duration
	finished chan struct{}
}

func (r *slowRenderer) RenderPage(data []byte, page int) (image.Image, error) {
	time.Sleep(r.delay)
	if r.finished != nil {
		close(r.finished)
	}
	return image.NewGray(image.Rect(0, 0, 1, 1)), nil
}

func TestSource_LoadPage(t *testing.T) {
	page := pngBytes(t, 64, 48)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/scan_7.pdf" {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "application/pdf")
		w.Write(page)
	}))
	defer srv.Close()

	s := NewSource(srv.URL)
	img, err := s.LoadPage(context.Background(), "scan_7", 1)
	require.NoError(t, err)
	assert.Equal(t, image.Rect(0, 0, 64, 48), img.Bounds())

	_, err = s.LoadPage(context.Background(), "missing", 1)
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = s.LoadPage(context.Background(), "scan_7", 0)
	assert.ErrorIs(t, err, ErrPageOutOfRange)
}

func TestSource_FetchErrorPassesThrough(t *testing.T) {
	sentinel := errors.New("boom")
	s := &Source{Fetcher: &stubFetcher{err: sentinel}, Renderer: NewPDFRenderer()}

	_, err := s.LoadPage(context.Background(), "doc_1", 1)
	assert.ErrorIs(t, err, sentinel)
}

func TestSource_RenderTimeout(t *testing.T) {
	s := &Source{
		Fetcher:  &stubFetcher{data: fakePDF},
		Renderer: &slowRenderer{delay: 500 * time.Millisecond},
		Timeout:  30 * time.Millisecond,
	}

	start := time.Now()
	_, err := s.LoadPage(context.Background(), "doc_1", 1)
	assert.ErrorIs(t, err, ErrTimeout)
	assert.True(t, IsRetryable(err))
	assert.Less(t, time.Since(start), 400*time.Millisecond)
}

func TestSource_RenderTimeoutDiscardsLateResult(t *testing.T) {
	r := &slowRenderer{delay: 100 * time.Millisecond, finished: make(chan struct{})}
	s := &Source{
		Fetcher:  &stubFetcher{data: fakePDF},
		Renderer: r,
		Timeout:  20 * time.Millisecond,
	}

	img, err := s.LoadPage(context.Background(), "doc_1", 1)
	assert.ErrorIs(t, err, ErrTimeout)
	assert.Nil(t, img)

	// 渲染在后台继续完成，写入带缓冲的通道后退出
	select {
	case <-r.finished:
	case <-time.After(2 * time.Second):
		t.Fatal("后台渲染未结束")
	}
}

func TestSource_Cancelled(t *testing.T) {
	s := &Source{
		Fetcher:  &stubFetcher{data: fakePDF},
		Renderer: &slowRenderer{delay: 300 * time.Millisecond},
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := s.LoadPage(ctx, "doc_1", 1)
	assert.ErrorIs(t, err, context.Canceled)
}
