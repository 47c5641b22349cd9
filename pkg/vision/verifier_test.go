package vision

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gocv.io/x/gocv"

	"github.com/zoeyai/stampcheck/internal/logger"
	"github.com/zoeyai/stampcheck/pkg/vision/cv"
)

func newQuietVerifier(opts ...Option) *Verifier {
	v := NewVerifier(opts...)
	l := logger.New()
	l.SetConsole(false)
	v.SetLogger(l)
	return v
}

func TestVerifier_WhiteImage(t *testing.T) {
	white := newSolid(400, 300, color.RGBA{R: 255, G: 255, B: 255, A: 255})
	query := subImage(white, image.Rect(150, 110, 250, 190))

	r, err := newQuietVerifier().CompareImages(context.Background(), white, query)
	require.NoError(t, err)

	assert.GreaterOrEqual(t, r.OverallScore, 95)
	assert.Equal(t, VerdictAuthentic, r.Verdict)
	assert.Equal(t, ConfidenceHigh, r.Confidence)
}

func TestVerifier_ExactSubRegion(t *testing.T) {
	src := newBlockTexture(400, 300, 8, 42)
	query := subImage(src, image.Rect(120, 80, 220, 160))

	r, err := newQuietVerifier().Compare(context.Background(), encodePNG(t, src), encodePNG(t, query))
	require.NoError(t, err)

	require.NotNil(t, r.Location)
	assert.Equal(t, 1.0, r.Location.Scale)
	assert.InDelta(t, 120, r.Location.X, 1)
	assert.InDelta(t, 80, r.Location.Y, 1)

	tpl, ok := r.Score(MethodTemplate)
	require.True(t, ok)
	assert.InDelta(t, 100, tpl, 0.5)

	hash, ok := r.Score(MethodHash)
	require.True(t, ok)
	assert.Equal(t, 100.0, hash)

	assert.Equal(t, 100, r.OverallScore)
	assert.Equal(t, VerdictAuthentic, r.Verdict)
	assert.Contains(t, []Method{MethodTemplate, MethodHash}, r.Method)
	assert.Greater(t, r.Time, 0.0)
}

func TestVerifier_RegionHashCropFallback(t *testing.T) {
	ref := mustGrayMat(t, newBlockTexture(200, 150, 8, 5))
	defer ref.Close()
	query := mustGrayMat(t, newBlockTexture(60, 40, 8, 6))
	defer query.Close()

	var buf bytes.Buffer
	l := logger.New()
	l.SetOutput(&buf)
	v := NewVerifier()
	v.SetLogger(l)

	whole, err := cv.HashSimilarity(query, ref, v.opts.HashSize)
	require.NoError(t, err)

	// 越界的定位区域无法裁剪，退回整张参考图
	bad := &cv.MatchLocation{X: 180, Y: 140, Width: 60, Height: 40, Scale: 1}
	sim, err := v.regionHash(ref, query, bad)
	require.NoError(t, err)
	assert.Equal(t, float64(whole), sim)
	assert.Contains(t, buf.String(), "区域裁剪失败")

	buf.Reset()
	sim, err = v.regionHash(ref, query, nil)
	require.NoError(t, err)
	assert.Equal(t, float64(whole), sim)
	assert.Empty(t, buf.String())
}

func TestVerifier_UnrelatedNoise(t *testing.T) {
	ref := newBlockTexture(400, 300, 1, 1001)
	query := newBlockTexture(100, 100, 1, 2002)

	r, err := newQuietVerifier().CompareImages(context.Background(), ref, query)
	require.NoError(t, err)

	t.Logf("噪声比对: %d%% %s (%s)", r.OverallScore, r.Verdict, r.Method)
	assert.Less(t, r.OverallScore, 65)
	assert.Equal(t, VerdictNoMatch, r.Verdict)
	assert.Empty(t, r.Errors())
}

func TestVerifier_QueryLargerThanReference(t *testing.T) {
	ref := newBlockTexture(100, 80, 8, 3)
	query := newBlockTexture(400, 300, 8, 4)

	r, err := newQuietVerifier().CompareImages(context.Background(), ref, query)
	require.NoError(t, err)
	require.NotNil(t, r)

	tpl, ok := r.Score(MethodTemplate)
	require.True(t, ok)
	assert.Equal(t, 0.0, tpl)
	assert.True(t, errors.Is(r.Errors()[MethodTemplate], cv.ErrNoValidScale))
	assert.Nil(t, r.Location)

	_, ok = r.Score(MethodHash)
	assert.True(t, ok)
	assert.NotContains(t, r.Errors(), MethodHash)
	_, ok = r.Score(MethodFeature)
	assert.True(t, ok)
	assert.NotContains(t, r.Errors(), MethodFeature)
}

func TestVerifier_KeepRegion(t *testing.T) {
	src := newBlockTexture(400, 300, 8, 5)
	query := subImage(src, image.Rect(40, 60, 140, 140))

	r, err := newQuietVerifier(WithKeepRegion(true)).CompareImages(context.Background(), src, query)
	require.NoError(t, err)

	require.NotNil(t, r.Region)
	assert.Equal(t, query.Bounds().Dx(), r.Region.Bounds().Dx())
	assert.Equal(t, query.Bounds().Dy(), r.Region.Bounds().Dy())
}

func TestVerifier_Normalizes(t *testing.T) {
	src := newBlockTexture(2048, 1536, 32, 6)
	query := subImage(src, image.Rect(512, 512, 912, 832))

	r, err := newQuietVerifier(WithKeepRegion(true)).CompareImages(context.Background(), src, query)
	require.NoError(t, err)

	// 只有参考图超过最大边长，被缩小一半后需要 0.5 倍的查询图才能对齐
	require.NotNil(t, r.Location)
	assert.InDelta(t, 256, r.Location.X, 2)
	assert.InDelta(t, 256, r.Location.Y, 2)
	assert.Equal(t, 0.5, r.Location.Scale)
	assert.Equal(t, VerdictAuthentic, r.Verdict)
}

func TestVerifier_DecodeError(t *testing.T) {
	valid := encodePNG(t, newBlockTexture(40, 40, 4, 1))

	_, err := newQuietVerifier().Compare(context.Background(), []byte("not an image"), valid)
	assert.True(t, errors.Is(err, cv.ErrDecode))

	_, err = newQuietVerifier().Compare(context.Background(), valid, nil)
	assert.True(t, errors.Is(err, cv.ErrDecode))
}

func TestVerifier_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	img := encodePNG(t, newBlockTexture(40, 40, 4, 1))
	_, err := newQuietVerifier().Compare(ctx, img, img)
	assert.ErrorIs(t, err, context.Canceled)
}

// stubDetector 返回固定分数
type stubDetector struct {
	name  Method
	score float64
	err   error
	panic bool
}

func (d *stubDetector) Name() Method { return d.name }

func (d *stubDetector) Compare(reference, query gocv.Mat) (float64, error) {
	if d.panic {
		panic("detector exploded")
	}
	return d.score, d.err
}

func TestVerifier_ExtraDetectors(t *testing.T) {
	ref := newBlockTexture(200, 150, 1, 7)
	query := newBlockTexture(60, 60, 1, 8)

	v := newQuietVerifier(WithDetectors(
		&stubDetector{name: "always", score: 99},
		&stubDetector{name: "broken", panic: true},
		&stubDetector{name: "failing", score: 80, err: errors.New("failed")},
	))
	r, err := v.CompareImages(context.Background(), ref, query)
	require.NoError(t, err)

	require.Len(t, r.Scores, 6)
	assert.Equal(t, []Method{MethodTemplate, MethodHash, MethodFeature, "always", "broken", "failing"},
		[]Method{r.Scores[0].Method, r.Scores[1].Method, r.Scores[2].Method, r.Scores[3].Method, r.Scores[4].Method, r.Scores[5].Method})

	assert.Equal(t, Method("always"), r.Method)
	assert.Equal(t, 99, r.OverallScore)

	errs := r.Errors()
	assert.True(t, errors.Is(errs["broken"], ErrDetectorPanic))
	assert.EqualError(t, errs["failing"], "failed")
	assert.Equal(t, 0.0, r.Scores[5].Similarity)
}

// fakeLoader 返回固定页面
type fakeLoader struct {
	pages map[string]image.Image
	err   error
	calls int
}

func (l *fakeLoader) LoadPage(ctx context.Context, documentID string, page int) (image.Image, error) {
	l.calls++
	if l.err != nil {
		return nil, l.err
	}
	data, ok := l.pages[documentID]
	if !ok || page != 1 {
		return nil, errors.New("not found")
	}
	return data, nil
}

func TestVerifier_VerifyDocument(t *testing.T) {
	src := newBlockTexture(400, 300, 8, 9)
	query := encodePNG(t, subImage(src, image.Rect(200, 100, 300, 180)))
	loader := &fakeLoader{pages: map[string]image.Image{"doc_1": src}}

	r, err := newQuietVerifier().VerifyDocument(context.Background(), loader, "doc_1", 1, query)
	require.NoError(t, err)
	assert.Equal(t, VerdictAuthentic, r.Verdict)

	sentinel := errors.New("upstream timeout")
	_, err = newQuietVerifier().VerifyDocument(context.Background(), &fakeLoader{err: sentinel}, "doc_1", 1, query)
	assert.ErrorIs(t, err, sentinel)

	_, err = newQuietVerifier().VerifyDocument(context.Background(), loader, "doc_1", 1, []byte("garbage"))
	assert.Error(t, err)
	assert.Equal(t, 1, loader.calls, "查询图无效时不应加载文档")
}

func TestVerifier_OptionsIsolated(t *testing.T) {
	scales := []float64{1.0}
	opts := NewOptions(WithScales(scales...))
	v := NewVerifierWithOptions(opts)

	opts.ScaleFactors[0] = 2.0
	got := v.Options()
	assert.Equal(t, []float64{1.0}, got.ScaleFactors)

	got.ScaleFactors[0] = 3.0
	assert.Equal(t, []float64{1.0}, v.Options().ScaleFactors)
}

func TestCompareFiles_Missing(t *testing.T) {
	_, err := CompareFiles(context.Background(), "/nonexistent/ref.png", "/nonexistent/q.png")
	assert.Error(t, err)
}
