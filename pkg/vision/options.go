package vision

import (
	"github.com/zoeyai/stampcheck/pkg/vision/cv"
)

// Options 比对参数
// Verifier 创建后持有一份副本，不受后续修改影响
type Options struct {
	// 规范化
	MaxImageDimension int // 最大边长，默认 1024

	// 模板匹配
	ScaleFactors          []float64 // 缩放候选，默认 [0.5, 0.75, 1.0, 1.25, 1.5]
	EdgeDetection         bool      // 是否先做 Canny 边缘检测
	ScaleDiversityPenalty bool      // 命中尺度不足 2 个时扣分，默认关闭
	TemplateMatchPenalty  float64   // 扣分值，默认 15

	// 平均哈希
	HashSize int // 哈希网格边长，默认 8

	// ORB
	MaxFeatures           int     // 最大特征点数，默认 500
	MaxDescriptorDistance float64 // 描述子最大汉明距离，默认 64，0 表示不过滤

	// 结论阈值
	MinSimilarity        float64 // 需要人工复核的下限，默认 65
	StrongMatchThreshold float64 // 可信匹配下限，默认 80

	// KeepRegion 在结果中保留定位到的区域图像
	KeepRegion bool

	// detectors 额外注册的比对方法
	detectors []Detector
}

// DefaultOptions 默认配置
var DefaultOptions = Options{
	MaxImageDimension: cv.DefaultMaxDimension,

	ScaleFactors:         []float64{0.5, 0.75, 1.0, 1.25, 1.5},
	TemplateMatchPenalty: cv.DefaultTemplatePenalty,

	HashSize: cv.DefaultHashSize,

	MaxFeatures:           cv.DefaultMaxFeatures,
	MaxDescriptorDistance: cv.DefaultMaxDescriptorDistance,

	MinSimilarity:        65,
	StrongMatchThreshold: 80,
}

// Option 配置选项函数类型
type Option func(*Options)

// NewOptions 在默认配置上应用选项
func NewOptions(opts ...Option) Options {
	o := DefaultOptions
	o.ScaleFactors = append([]float64(nil), DefaultOptions.ScaleFactors...)
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// Thresholds 返回结论阈值
func (o Options) Thresholds() Thresholds {
	return Thresholds{
		Min:    o.MinSimilarity,
		Strong: o.StrongMatchThreshold,
	}
}

// templateParams 转换为 cv 模板匹配参数
func (o Options) templateParams() cv.TemplateParams {
	return cv.TemplateParams{
		EdgeDetection:    o.EdgeDetection,
		DiversityPenalty: o.ScaleDiversityPenalty,
		PenaltyFloor:     o.MinSimilarity,
		Penalty:          o.TemplateMatchPenalty,
	}
}

// orbParams 转换为 cv ORB 参数
func (o Options) orbParams() cv.ORBParams {
	return cv.ORBParams{
		MaxFeatures:           o.MaxFeatures,
		MaxDescriptorDistance: o.MaxDescriptorDistance,
	}
}

// WithMaxImageDimension 设置规范化最大边长
func WithMaxImageDimension(n int) Option {
	return func(o *Options) {
		o.MaxImageDimension = n
	}
}

// WithScales 设置缩放候选
func WithScales(scales ...float64) Option {
	return func(o *Options) {
		if len(scales) > 0 {
			o.ScaleFactors = append([]float64(nil), scales...)
		}
	}
}

// WithEdgeDetection 启用边缘检测模式
func WithEdgeDetection(enabled bool) Option {
	return func(o *Options) {
		o.EdgeDetection = enabled
	}
}

// WithScaleDiversityPenalty 启用尺度多样性扣分
func WithScaleDiversityPenalty(enabled bool) Option {
	return func(o *Options) {
		o.ScaleDiversityPenalty = enabled
	}
}

// WithTemplateMatchPenalty 设置扣分值
func WithTemplateMatchPenalty(penalty float64) Option {
	return func(o *Options) {
		o.TemplateMatchPenalty = penalty
	}
}

// WithHashSize 设置哈希网格边长
func WithHashSize(size int) Option {
	return func(o *Options) {
		o.HashSize = size
	}
}

// WithMaxFeatures 设置 ORB 最大特征点数
func WithMaxFeatures(n int) Option {
	return func(o *Options) {
		o.MaxFeatures = n
	}
}

// WithMaxDescriptorDistance 设置描述子最大汉明距离
func WithMaxDescriptorDistance(d float64) Option {
	return func(o *Options) {
		o.MaxDescriptorDistance = d
	}
}

// WithMinSimilarity 设置复核阈值
func WithMinSimilarity(v float64) Option {
	return func(o *Options) {
		o.MinSimilarity = v
	}
}

// WithStrongMatchThreshold 设置可信匹配阈值
func WithStrongMatchThreshold(v float64) Option {
	return func(o *Options) {
		o.StrongMatchThreshold = v
	}
}

// WithKeepRegion 在结果中保留区域图像
func WithKeepRegion(keep bool) Option {
	return func(o *Options) {
		o.KeepRegion = keep
	}
}

// WithDetectors 注册额外的比对方法，与内置方法并发执行
func WithDetectors(detectors ...Detector) Option {
	return func(o *Options) {
		o.detectors = append(o.detectors, detectors...)
	}
}
