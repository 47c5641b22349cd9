package vision

import (
	"math"
)

// lowConfidenceMargin 低置信度区间在 Min 之下的宽度
const lowConfidenceMargin = 25

// Thresholds 结论阈值
type Thresholds struct {
	// Min 低于该值判定为不匹配
	Min float64
	// Strong 不低于该值判定为可信匹配
	Strong float64
}

// DefaultThresholds 默认阈值
func DefaultThresholds() Thresholds {
	return DefaultOptions.Thresholds()
}

// Fuse 融合各方法分数
// 取最高分方法作为总分，分数相同时取靠前的方法
func Fuse(scores []MethodScore, th Thresholds) *MatchResult {
	result := &MatchResult{
		Method: MethodFused,
		Scores: scores,
	}

	best := 0.0
	for i, s := range scores {
		if i == 0 || s.Similarity > best {
			best = s.Similarity
			result.Method = s.Method
		}
	}

	result.OverallScore = clampScore(best)
	result.Confidence = ClassifyConfidence(result.OverallScore, th)
	result.Verdict = ClassifyVerdict(result.OverallScore, th)
	return result
}

// ClassifyConfidence 按分数划分置信度，边界值归入较高一档
func ClassifyConfidence(score int, th Thresholds) Confidence {
	s := float64(score)
	switch {
	case s >= th.Strong:
		return ConfidenceHigh
	case s >= th.Min:
		return ConfidenceMedium
	case s >= th.Min-lowConfidenceMargin:
		return ConfidenceLow
	default:
		return ConfidenceVeryLow
	}
}

// ClassifyVerdict 按分数给出结论
func ClassifyVerdict(score int, th Thresholds) Verdict {
	s := float64(score)
	switch {
	case s >= th.Strong:
		return VerdictAuthentic
	case s >= th.Min:
		return VerdictReview
	default:
		return VerdictNoMatch
	}
}

// clampScore 四舍五入并限制在 [0, 100]
func clampScore(v float64) int {
	if math.IsNaN(v) {
		return 0
	}
	return int(math.Max(0, math.Min(100, math.Round(v))))
}
