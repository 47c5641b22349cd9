package cv

import (
	"bytes"
	"fmt"
	"image"
	"math"

	"github.com/sunshineplan/imgconv"
	"gocv.io/x/gocv"
)

// DefaultMaxDimension 默认的最大边长
const DefaultMaxDimension = 1024

// DecodeImage 将原始字节解码为 BGR 三通道 Mat
// 支持 PNG/JPEG/GIF/BMP/TIFF/WEBP，以及只含一张图片的 PDF
func DecodeImage(data []byte) (gocv.Mat, error) {
	if len(data) == 0 {
		return gocv.Mat{}, &DecodeError{Size: 0, Err: ErrEmptyImage}
	}

	img, err := imgconv.Decode(bytes.NewReader(data))
	if err != nil {
		return gocv.Mat{}, &DecodeError{Size: len(data), Err: err}
	}

	mat, err := ImageToMat(img)
	if err != nil {
		return gocv.Mat{}, &DecodeError{Size: len(data), Err: err}
	}
	return mat, nil
}

// ImageToMat 将 image.Image 转换为 BGR 三通道 Mat
func ImageToMat(img image.Image) (gocv.Mat, error) {
	if img == nil || img.Bounds().Empty() {
		return gocv.Mat{}, ErrEmptyImage
	}
	mat, err := gocv.ImageToMatRGB(img)
	if err != nil {
		return gocv.Mat{}, fmt.Errorf("图像转换失败: %w", err)
	}
	return mat, nil
}

// MatToImage 将 gocv.Mat 转换为 image.Image
func MatToImage(mat gocv.Mat) (image.Image, error) {
	img, err := mat.ToImage()
	if err != nil {
		return nil, fmt.Errorf("Mat 转换失败: %w", err)
	}
	return img, nil
}

// ToGray 转换为灰度图 (gray = 0.299R + 0.587G + 0.114B)
func ToGray(src gocv.Mat) gocv.Mat {
	switch src.Channels() {
	case 1:
		return src.Clone()
	case 4:
		dst := gocv.NewMat()
		gocv.CvtColor(src, &dst, gocv.ColorBGRAToGray)
		return dst
	default:
		dst := gocv.NewMat()
		gocv.CvtColor(src, &dst, gocv.ColorBGRToGray)
		return dst
	}
}

// Normalize 将超过 maxDimension 的图像等比缩小
// 未超限时返回克隆，保证调用方拿到的始终是独立 Mat
func Normalize(src gocv.Mat, maxDimension int) gocv.Mat {
	w, h := GetResolution(src)
	longest := max(w, h)
	if maxDimension <= 0 || longest <= maxDimension {
		return src.Clone()
	}

	ratio := float64(maxDimension) / float64(longest)
	newW := max(1, int(math.Round(float64(w)*ratio)))
	newH := max(1, int(math.Round(float64(h)*ratio)))

	dst := gocv.NewMat()
	// 缩小时 INTER_AREA 比双线性更平滑
	gocv.Resize(src, &dst, image.Point{X: newW, Y: newH}, 0, 0, gocv.InterpolationArea)
	return dst
}

// GetResolution 获取图像分辨率 (width, height)
func GetResolution(img gocv.Mat) (int, int) {
	return img.Cols(), img.Rows()
}

// ResizeImage 调整图像大小
func ResizeImage(img gocv.Mat, width, height int) gocv.Mat {
	dst := gocv.NewMat()
	gocv.Resize(img, &dst, image.Point{X: width, Y: height}, 0, 0, gocv.InterpolationLinear)
	return dst
}

// ScaleImage 按比例缩放图像，尺寸至少为 1px
func ScaleImage(img gocv.Mat, scale float64) gocv.Mat {
	if scale == 1.0 {
		return img.Clone()
	}
	newW := max(1, int(math.Round(float64(img.Cols())*scale)))
	newH := max(1, int(math.Round(float64(img.Rows())*scale)))
	return ResizeImage(img, newW, newH)
}

// clamp 将 v 限制在 [lo, hi]
func clamp(v, lo, hi float64) float64 {
	if math.IsNaN(v) {
		return lo
	}
	return math.Max(lo, math.Min(hi, v))
}
