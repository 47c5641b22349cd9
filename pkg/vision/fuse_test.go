package vision

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFuse_Empty(t *testing.T) {
	r := Fuse(nil, DefaultThresholds())

	assert.Equal(t, MethodFused, r.Method)
	assert.Equal(t, 0, r.OverallScore)
	assert.Equal(t, ConfidenceVeryLow, r.Confidence)
	assert.Equal(t, VerdictNoMatch, r.Verdict)
}

func TestFuse_MaxWins(t *testing.T) {
	scores := []MethodScore{
		{Method: MethodTemplate, Similarity: 72.4},
		{Method: MethodHash, Similarity: 88.6},
		{Method: MethodFeature, Similarity: 12},
	}
	r := Fuse(scores, DefaultThresholds())

	assert.Equal(t, MethodHash, r.Method)
	assert.Equal(t, 89, r.OverallScore)
	assert.Equal(t, ConfidenceHigh, r.Confidence)
	assert.Equal(t, VerdictAuthentic, r.Verdict)
	assert.Len(t, r.Scores, 3)
}

func TestFuse_TieKeepsFirst(t *testing.T) {
	scores := []MethodScore{
		{Method: MethodTemplate, Similarity: 50},
		{Method: MethodHash, Similarity: 70},
		{Method: MethodFeature, Similarity: 70},
	}
	assert.Equal(t, MethodHash, Fuse(scores, DefaultThresholds()).Method)

	zeros := []MethodScore{
		{Method: MethodTemplate},
		{Method: MethodHash},
	}
	assert.Equal(t, MethodTemplate, Fuse(zeros, DefaultThresholds()).Method)
}

func TestFuse_Tiers(t *testing.T) {
	testCases := []struct {
		score      float64
		wantScore  int
		confidence Confidence
		verdict    Verdict
	}{
		{100, 100, ConfidenceHigh, VerdictAuthentic},
		{80, 80, ConfidenceHigh, VerdictAuthentic},
		{79.5, 80, ConfidenceHigh, VerdictAuthentic},
		{79.4, 79, ConfidenceMedium, VerdictReview},
		{65, 65, ConfidenceMedium, VerdictReview},
		{64, 64, ConfidenceLow, VerdictNoMatch},
		{40, 40, ConfidenceLow, VerdictNoMatch},
		{39, 39, ConfidenceVeryLow, VerdictNoMatch},
		{0, 0, ConfidenceVeryLow, VerdictNoMatch},
		{130, 100, ConfidenceHigh, VerdictAuthentic},
		{-5, 0, ConfidenceVeryLow, VerdictNoMatch},
		{math.NaN(), 0, ConfidenceVeryLow, VerdictNoMatch},
	}

	for _, tc := range testCases {
		r := Fuse([]MethodScore{{Method: MethodTemplate, Similarity: tc.score}}, DefaultThresholds())
		assert.Equal(t, tc.wantScore, r.OverallScore, "score=%v", tc.score)
		assert.Equal(t, tc.confidence, r.Confidence, "score=%v", tc.score)
		assert.Equal(t, tc.verdict, r.Verdict, "score=%v", tc.score)
		assert.GreaterOrEqual(t, r.OverallScore, 0)
		assert.LessOrEqual(t, r.OverallScore, 100)
	}
}

func TestFuse_CustomThresholds(t *testing.T) {
	th := Thresholds{Min: 50, Strong: 90}

	assert.Equal(t, VerdictReview, ClassifyVerdict(85, th))
	assert.Equal(t, VerdictAuthentic, ClassifyVerdict(90, th))
	assert.Equal(t, ConfidenceLow, ClassifyConfidence(25, th))
	assert.Equal(t, ConfidenceVeryLow, ClassifyConfidence(24, th))
}
