package vision

import (
	"errors"
	"fmt"
	"image"
	"math"
	"strings"

	"github.com/corona10/goimagehash"
	"gocv.io/x/gocv"

	"github.com/zoeyai/stampcheck/pkg/vision/cv"
)

// ErrUnknownDetector 未知的比对方法名
var ErrUnknownDetector = errors.New("未知的比对方法")

// Detector 可插拔的比对方法
// reference 与 query 都是规范化后的 BGR 图像，实现不得修改或关闭它们
type Detector interface {
	// Name 方法名，出现在 MatchResult.Scores 中
	Name() Method
	// Compare 返回相似度 [0, 100]
	Compare(reference, query gocv.Mat) (float64, error)
}

// FeatureDetector ORB 特征点比对
type FeatureDetector struct {
	Params cv.ORBParams
}

// NewFeatureDetector 创建 ORB 比对方法
func NewFeatureDetector(params cv.ORBParams) *FeatureDetector {
	return &FeatureDetector{Params: params}
}

// Name 方法名
func (d *FeatureDetector) Name() Method {
	return MethodFeature
}

// Compare 比对两张图的 ORB 特征
func (d *FeatureDetector) Compare(reference, query gocv.Mat) (float64, error) {
	m := cv.NewORBMatchingWithParams(query, reference, d.Params)
	defer m.Close()
	return m.Similarity()
}

// ImageHashKind goimagehash 支持的哈希类型
type ImageHashKind int

const (
	// PerceptionHash DCT 感知哈希
	PerceptionHash ImageHashKind = iota
	// DifferenceHash 相邻像素差异哈希
	DifferenceHash
)

// ImageHashDetector 基于 goimagehash 的整图哈希比对
// 与内置平均哈希不同，它总是比较整张参考图
type ImageHashDetector struct {
	Kind ImageHashKind
}

// NewImageHashDetector 创建整图哈希比对方法
func NewImageHashDetector(kind ImageHashKind) *ImageHashDetector {
	return &ImageHashDetector{Kind: kind}
}

// Name 方法名
func (d *ImageHashDetector) Name() Method {
	if d.Kind == DifferenceHash {
		return MethodDHash
	}
	return MethodPHash
}

// Compare 计算两张图的哈希相似度
func (d *ImageHashDetector) Compare(reference, query gocv.Mat) (float64, error) {
	refImg, err := cv.MatToImage(reference)
	if err != nil {
		return 0, err
	}
	queryImg, err := cv.MatToImage(query)
	if err != nil {
		return 0, err
	}

	refHash, err := d.hash(refImg)
	if err != nil {
		return 0, fmt.Errorf("参考图哈希失败: %w", err)
	}
	queryHash, err := d.hash(queryImg)
	if err != nil {
		return 0, fmt.Errorf("查询图哈希失败: %w", err)
	}

	dist, err := refHash.Distance(queryHash)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", cv.ErrLengthMismatch, err)
	}

	bits := refHash.Bits()
	return math.Round(100 * float64(bits-dist) / float64(bits)), nil
}

func (d *ImageHashDetector) hash(img image.Image) (*goimagehash.ImageHash, error) {
	if d.Kind == DifferenceHash {
		return goimagehash.DifferenceHash(img)
	}
	return goimagehash.PerceptionHash(img)
}

// DetectorByName 按名称创建额外的比对方法
// 支持 phash, dhash
func DetectorByName(name string) (Detector, error) {
	switch Method(strings.ToLower(strings.TrimSpace(name))) {
	case MethodPHash:
		return NewImageHashDetector(PerceptionHash), nil
	case MethodDHash:
		return NewImageHashDetector(DifferenceHash), nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownDetector, name)
	}
}

// DetectorsByName 批量创建比对方法，忽略空名称
func DetectorsByName(names []string) ([]Detector, error) {
	var detectors []Detector
	for _, name := range names {
		if strings.TrimSpace(name) == "" {
			continue
		}
		d, err := DetectorByName(name)
		if err != nil {
			return nil, err
		}
		detectors = append(detectors, d)
	}
	return detectors, nil
}
