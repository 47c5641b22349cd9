package cv

import (
	"fmt"
	"image"
	"math"

	"github.com/steakknife/hamming"
	"gocv.io/x/gocv"
	"gonum.org/v1/gonum/stat"
)

// DefaultHashSize 默认哈希网格边长 (8x8 = 64 位)
const DefaultHashSize = 8

// Fingerprint 平均哈希指纹
// 共 Size*Size 位，按行优先顺序存放在 Bits 中
type Fingerprint struct {
	Size int
	Bits []uint64
}

// Len 返回指纹位数
func (f Fingerprint) Len() int {
	return f.Size * f.Size
}

// Distance 计算汉明距离
func (f Fingerprint) Distance(other Fingerprint) (int, error) {
	if f.Len() != other.Len() || len(f.Bits) != len(other.Bits) {
		return 0, fmt.Errorf("%w: %d != %d", ErrLengthMismatch, f.Len(), other.Len())
	}
	d := 0
	for i := range f.Bits {
		d += hamming.Uint64(f.Bits[i], other.Bits[i])
	}
	return d, nil
}

// Similarity 计算相似度 round(100 * (len - distance) / len)
func (f Fingerprint) Similarity(other Fingerprint) (int, error) {
	d, err := f.Distance(other)
	if err != nil {
		return 0, err
	}
	n := f.Len()
	if n == 0 {
		return 0, nil
	}
	return int(math.Round(100 * float64(n-d) / float64(n))), nil
}

// AverageHash 计算平均哈希
// 轻度模糊后缩小到 size x size 灰度网格，每格亮度高于均值记 1
func AverageHash(img gocv.Mat, size int) (Fingerprint, error) {
	if img.Empty() {
		return Fingerprint{}, ErrEmptyImage
	}
	if size <= 0 {
		size = DefaultHashSize
	}

	gray := ToGray(img)
	defer gray.Close()

	blurred := gocv.NewMat()
	defer blurred.Close()
	gocv.GaussianBlur(gray, &blurred, image.Point{X: 3, Y: 3}, 0, 0, gocv.BorderDefault)

	small := gocv.NewMat()
	defer small.Close()
	gocv.Resize(blurred, &small, image.Point{X: size, Y: size}, 0, 0, gocv.InterpolationArea)

	cells := make([]float64, 0, size*size)
	for y := 0; y < size; y++ {
		for x := 0; x < size; x++ {
			cells = append(cells, float64(small.GetUCharAt(y, x)))
		}
	}
	mean := stat.Mean(cells, nil)

	fp := Fingerprint{
		Size: size,
		Bits: make([]uint64, (size*size+63)/64),
	}
	for i, v := range cells {
		if v > mean {
			fp.Bits[i/64] |= 1 << (uint(i) % 64)
		}
	}
	return fp, nil
}

// HashSimilarity 计算两张图像的平均哈希相似度 [0, 100]
func HashSimilarity(a, b gocv.Mat, size int) (int, error) {
	ha, err := AverageHash(a, size)
	if err != nil {
		return 0, err
	}
	hb, err := AverageHash(b, size)
	if err != nil {
		return 0, err
	}
	return ha.Similarity(hb)
}
