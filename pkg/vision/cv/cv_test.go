package cv

import (
	"bytes"
	"errors"
	"image"
	"image/color"
	"image/png"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gocv.io/x/gocv"
)

// newBlockTexture 生成随机灰度方块纹理，block 为方块边长
func newBlockTexture(w, h, block int, seed int64) *image.RGBA {
	rng := rand.New(rand.NewSource(seed))
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for by := 0; by < h; by += block {
		for bx := 0; bx < w; bx += block {
			v := uint8(rng.Intn(256))
			for y := by; y < min(by+block, h); y++ {
				for x := bx; x < min(bx+block, w); x++ {
					img.Set(x, y, color.RGBA{R: v, G: v, B: v, A: 255})
				}
			}
		}
	}
	return img
}

// newNoise 生成逐像素随机噪声
func newNoise(w, h int, seed int64) *image.RGBA {
	return newBlockTexture(w, h, 1, seed)
}

// newSolid 生成纯色图
func newSolid(w, h int, c color.RGBA) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, c)
		}
	}
	return img
}

// subImage 复制 img 中的矩形区域
func subImage(img *image.RGBA, r image.Rectangle) *image.RGBA {
	dst := image.NewRGBA(image.Rect(0, 0, r.Dx(), r.Dy()))
	for y := 0; y < r.Dy(); y++ {
		for x := 0; x < r.Dx(); x++ {
			dst.Set(x, y, img.At(r.Min.X+x, r.Min.Y+y))
		}
	}
	return dst
}

func mustMat(t *testing.T, img image.Image) gocv.Mat {
	t.Helper()
	mat, err := ImageToMat(img)
	require.NoError(t, err)
	return mat
}

func mustGray(t *testing.T, img image.Image) gocv.Mat {
	t.Helper()
	mat := mustMat(t, img)
	defer mat.Close()
	return ToGray(mat)
}

func encodePNG(t *testing.T, img image.Image) []byte {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func TestDecodeImage(t *testing.T) {
	data := encodePNG(t, newBlockTexture(64, 48, 8, 1))

	mat, err := DecodeImage(data)
	require.NoError(t, err)
	defer mat.Close()

	w, h := GetResolution(mat)
	assert.Equal(t, 64, w)
	assert.Equal(t, 48, h)
	assert.Equal(t, 3, mat.Channels())
}

func TestDecodeImage_Invalid(t *testing.T) {
	testCases := []struct {
		name string
		data []byte
	}{
		{"空数据", nil},
		{"非图像", []byte("definitely not an image")},
		{"截断的PNG", encodePNG(t, newNoise(32, 32, 2))[:40]},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := DecodeImage(tc.data)
			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrDecode), "应为解码错误: %v", err)

			var decErr *DecodeError
			require.True(t, errors.As(err, &decErr))
			assert.Equal(t, len(tc.data), decErr.Size)
		})
	}
}

func TestNormalize(t *testing.T) {
	testCases := []struct {
		name         string
		w, h         int
		maxDimension int
		wantW, wantH int
	}{
		{"横向超限", 2000, 1000, 1024, 1024, 512},
		{"纵向超限", 600, 1500, 1024, 410, 1024},
		{"未超限", 400, 300, 1024, 400, 300},
		{"恰好等于上限", 1024, 200, 1024, 1024, 200},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			src := gocv.NewMatWithSize(tc.h, tc.w, gocv.MatTypeCV8UC3)
			defer src.Close()

			dst := Normalize(src, tc.maxDimension)
			defer dst.Close()

			w, h := GetResolution(dst)
			assert.Equal(t, tc.wantW, w)
			assert.Equal(t, tc.wantH, h)
			assert.Equal(t, 3, dst.Channels())
		})
	}
}

func TestNormalize_ReturnsIndependentMat(t *testing.T) {
	src := mustMat(t, newSolid(10, 10, color.RGBA{R: 10, G: 10, B: 10, A: 255}))
	defer src.Close()

	dst := Normalize(src, DefaultMaxDimension)
	defer dst.Close()

	dst.SetUCharAt(0, 0, 200)
	assert.Equal(t, uint8(10), src.GetUCharAt(0, 0))
}

func TestToGray(t *testing.T) {
	src := mustMat(t, newSolid(20, 10, color.RGBA{R: 255, G: 0, B: 0, A: 255}))
	defer src.Close()

	gray := ToGray(src)
	defer gray.Close()

	assert.Equal(t, 1, gray.Channels())
	assert.Equal(t, 20, gray.Cols())
	assert.Equal(t, 10, gray.Rows())
	// 0.299 * 255
	assert.InDelta(t, 76, int(gray.GetUCharAt(5, 5)), 1)

	again := ToGray(gray)
	defer again.Close()
	assert.Equal(t, 1, again.Channels())
}

func TestScaleImage(t *testing.T) {
	src := gocv.NewMatWithSize(80, 100, gocv.MatTypeCV8UC1)
	defer src.Close()

	testCases := []struct {
		scale        float64
		wantW, wantH int
	}{
		{1.0, 100, 80},
		{0.5, 50, 40},
		{1.25, 125, 100},
		{0.001, 1, 1},
	}
	for _, tc := range testCases {
		dst := ScaleImage(src, tc.scale)
		w, h := GetResolution(dst)
		dst.Close()
		assert.Equal(t, tc.wantW, w, "scale=%v", tc.scale)
		assert.Equal(t, tc.wantH, h, "scale=%v", tc.scale)
	}
}

func TestCropRect(t *testing.T) {
	ref := mustGray(t, newBlockTexture(400, 300, 8, 3))
	defer ref.Close()

	patch, err := CropRect(ref, 120, 80, 100, 80)
	require.NoError(t, err)
	defer patch.Close()

	assert.Equal(t, 100, patch.Cols())
	assert.Equal(t, 80, patch.Rows())
	assert.Equal(t, ref.GetUCharAt(80, 120), patch.GetUCharAt(0, 0))
	assert.Equal(t, ref.GetUCharAt(159, 219), patch.GetUCharAt(79, 99))

	// 裁剪结果是独立副本
	patch.SetUCharAt(0, 0, ^ref.GetUCharAt(80, 120))
	assert.NotEqual(t, ref.GetUCharAt(80, 120), patch.GetUCharAt(0, 0))
}

func TestCropRect_OutOfBounds(t *testing.T) {
	ref := gocv.NewMatWithSize(300, 400, gocv.MatTypeCV8UC1)
	defer ref.Close()

	testCases := []struct {
		name       string
		x, y, w, h int
	}{
		{"右侧越界", 350, 10, 100, 50},
		{"下侧越界", 10, 280, 50, 50},
		{"负坐标", -1, 0, 10, 10},
		{"空区域", 10, 10, 0, 10},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := CropRect(ref, tc.x, tc.y, tc.w, tc.h)
			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrOutOfBounds))

			var oob *OutOfBoundsError
			require.True(t, errors.As(err, &oob))
			assert.Equal(t, [2]int{400, 300}, oob.ImageSize)
		})
	}
}
