package cv

import (
	"math"
	"sort"

	"gocv.io/x/gocv"
)

// ORB 默认参数
const (
	DefaultMaxFeatures           = 500
	DefaultMaxDescriptorDistance = 64
)

// KeypointDetector 特征点检测器接口
type KeypointDetector interface {
	// Detect 检测特征点并计算描述子，调用方负责关闭返回的 Mat
	Detect(img gocv.Mat) ([]gocv.KeyPoint, gocv.Mat)
	// Close 释放资源
	Close()
}

// ORBParams ORB 匹配参数
type ORBParams struct {
	// MaxFeatures 每张图最多保留的特征点数
	MaxFeatures int
	// MaxDescriptorDistance 汉明距离超过该值的匹配被丢弃 (1-256)
	// 0 表示不过滤，保留全部交叉验证通过的匹配
	MaxDescriptorDistance float64
}

// DefaultORBParams 默认 ORB 参数
func DefaultORBParams() ORBParams {
	return ORBParams{
		MaxFeatures:           DefaultMaxFeatures,
		MaxDescriptorDistance: DefaultMaxDescriptorDistance,
	}
}

// ORBMatching ORB 特征点匹配
// 使用交叉验证的暴力汉明匹配，相似度 = 有效匹配数 / 较少一方的描述子数
type ORBMatching struct {
	imSearch gocv.Mat
	imSource gocv.Mat
	params   ORBParams
	detector KeypointDetector
}

// NewORBMatchingWithParams 创建 ORB 匹配器（带参数）
func NewORBMatchingWithParams(search, source gocv.Mat, params ORBParams) *ORBMatching {
	if params.MaxFeatures <= 0 {
		params.MaxFeatures = DefaultMaxFeatures
	}
	return &ORBMatching{
		imSearch: search,
		imSource: source,
		params:   params,
		detector: newORBDetector(params.MaxFeatures),
	}
}

// Close 释放资源
func (o *ORBMatching) Close() {
	o.detector.Close()
}

// Similarity 计算特征点相似度 [0, 100]
// 任意一方没有描述子时返回 0
func (o *ORBMatching) Similarity() (float64, error) {
	if o.imSearch.Empty() || o.imSource.Empty() {
		return 0, ErrEmptyImage
	}

	searchGray := ToGray(o.imSearch)
	defer searchGray.Close()
	sourceGray := ToGray(o.imSource)
	defer sourceGray.Close()

	_, descSearch := o.detector.Detect(searchGray)
	defer descSearch.Close()
	_, descSource := o.detector.Detect(sourceGray)
	defer descSource.Close()

	nSearch, nSource := descSearch.Rows(), descSource.Rows()
	if descSearch.Empty() || descSource.Empty() || nSearch == 0 || nSource == 0 {
		return 0, nil
	}

	matcher := gocv.NewBFMatcherWithParams(gocv.NormHamming, true)
	defer matcher.Close()

	matches := matcher.Match(descSearch, descSource)
	if o.params.MaxDescriptorDistance > 0 {
		matches = filterByDistance(matches, o.params.MaxDescriptorDistance)
	}

	denom := min(nSearch, nSource)
	return math.Min(100, 100*float64(len(matches))/float64(denom)), nil
}

// filterByDistance 保留距离不超过 maxDistance 的匹配，按距离升序
func filterByDistance(matches []gocv.DMatch, maxDistance float64) []gocv.DMatch {
	good := make([]gocv.DMatch, 0, len(matches))
	for _, m := range matches {
		if m.Distance <= maxDistance {
			good = append(good, m)
		}
	}
	sort.Slice(good, func(i, j int) bool {
		return good[i].Distance < good[j].Distance
	})
	return good
}

// orbDetector 基于 gocv.ORB 的检测器
type orbDetector struct {
	orb gocv.ORB
}

func newORBDetector(maxFeatures int) *orbDetector {
	orb := gocv.NewORBWithParams(maxFeatures, 1.2, 8, 31, 0, 2, gocv.ORBScoreTypeHarris, 31, 20)
	return &orbDetector{orb: orb}
}

// Detect 检测特征点
func (d *orbDetector) Detect(img gocv.Mat) ([]gocv.KeyPoint, gocv.Mat) {
	mask := gocv.NewMat()
	defer mask.Close()
	return d.orb.DetectAndCompute(img, mask)
}

// Close 释放资源
func (d *orbDetector) Close() {
	d.orb.Close()
}
