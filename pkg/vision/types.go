package vision

import (
	"image"

	"github.com/zoeyai/stampcheck/pkg/vision/cv"
)

// Version 版本号
const Version = "1.0.0"

// Location 印章在参考图（规范化后）中的位置
type Location struct {
	X      int     `json:"x"`
	Y      int     `json:"y"`
	Width  int     `json:"width"`
	Height int     `json:"height"`
	Scale  float64 `json:"scale"`
}

// newLocation 从 cv 匹配位置转换
func newLocation(loc *cv.MatchLocation) *Location {
	if loc == nil {
		return nil
	}
	return &Location{
		X:      loc.X,
		Y:      loc.Y,
		Width:  loc.Width,
		Height: loc.Height,
		Scale:  loc.Scale,
	}
}

// Method 比对方法名
type Method string

const (
	// MethodTemplate 多尺度模板匹配
	MethodTemplate Method = "template"
	// MethodHash 平均哈希
	MethodHash Method = "hash"
	// MethodFeature ORB 特征点匹配
	MethodFeature Method = "feature"
	// MethodPHash 感知哈希 (DCT)
	MethodPHash Method = "phash"
	// MethodDHash 差异哈希
	MethodDHash Method = "dhash"
	// MethodFused 没有任何方法分数时的占位名
	MethodFused Method = "fused"
)

// Confidence 置信度等级
type Confidence string

const (
	ConfidenceHigh    Confidence = "high"
	ConfidenceMedium  Confidence = "medium"
	ConfidenceLow     Confidence = "low"
	ConfidenceVeryLow Confidence = "very-low"
)

// Verdict 比对结论
type Verdict string

const (
	VerdictAuthentic Verdict = "AUTHENTIC MATCH"
	VerdictReview    Verdict = "REQUIRES REVIEW"
	VerdictNoMatch   Verdict = "NO MATCH"
)

// MethodScore 单个方法的相似度
type MethodScore struct {
	Method     Method  `json:"method"`
	Similarity float64 `json:"similarity"`
	// Err 方法失败原因，失败时 Similarity 为 0
	Err error `json:"-"`
	// Message Err 的文本形式，便于序列化
	Message string `json:"error,omitempty"`
}

// Failed 方法是否失败
func (s MethodScore) Failed() bool {
	return s.Err != nil
}

// MatchResult 印章比对结果
type MatchResult struct {
	// OverallScore 融合后的总分 [0, 100]
	OverallScore int `json:"overall_score"`
	// Method 得分最高的方法
	Method Method `json:"method"`
	// Confidence 置信度等级
	Confidence Confidence `json:"confidence"`
	// Verdict 结论
	Verdict Verdict `json:"verdict"`
	// Scores 各方法分数，顺序与执行顺序无关，按方法注册顺序排列
	Scores []MethodScore `json:"scores"`
	// Location 模板匹配定位到的区域，未定位时为 nil
	Location *Location `json:"location,omitempty"`
	// Time 比对耗时（毫秒）
	Time float64 `json:"time"`
	// Region 参考图中定位到的印章区域（需 WithKeepRegion）
	Region image.Image `json:"-"`
}

// Score 返回指定方法的分数
func (r *MatchResult) Score(m Method) (float64, bool) {
	for _, s := range r.Scores {
		if s.Method == m {
			return s.Similarity, true
		}
	}
	return 0, false
}

// Errors 返回失败方法的错误
func (r *MatchResult) Errors() map[Method]error {
	errs := make(map[Method]error)
	for _, s := range r.Scores {
		if s.Err != nil {
			errs[s.Method] = s.Err
		}
	}
	return errs
}

// IsMatch 是否为可信匹配
func (r *MatchResult) IsMatch() bool {
	return r.Verdict == VerdictAuthentic
}
