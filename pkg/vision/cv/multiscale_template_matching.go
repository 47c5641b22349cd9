package cv

import (
	"fmt"
	"runtime"
	"sync"

	"gocv.io/x/gocv"
)

// DefaultScales 默认缩放候选
var DefaultScales = []float64{0.5, 0.75, 1.0, 1.25, 1.5}

// 多尺度匹配默认参数
const (
	DefaultPenaltyFloor    = 65.0
	DefaultTemplatePenalty = 15.0
	minScalesAboveFloor    = 2
)

// TemplateParams 多尺度模板匹配参数
type TemplateParams struct {
	// EdgeDetection 匹配前对两张图做 Canny 边缘检测
	EdgeDetection bool
	// DiversityPenalty 超过 PenaltyFloor 的尺度少于 2 个时扣分
	DiversityPenalty bool
	// PenaltyFloor 判断尺度是否"命中"的最低分
	PenaltyFloor float64
	// Penalty 扣除的分数
	Penalty float64
}

// DefaultTemplateParams 默认参数（不做边缘检测，不扣分）
func DefaultTemplateParams() TemplateParams {
	return TemplateParams{
		PenaltyFloor: DefaultPenaltyFloor,
		Penalty:      DefaultTemplatePenalty,
	}
}

// MultiScaleTemplateMatching 多尺度模板匹配
// 适用场景：
//   - 手机拍摄的印章与 PDF 渲染尺寸不一致
//   - 扫描 DPI 不同
type MultiScaleTemplateMatching struct {
	imSearch gocv.Mat
	imSource gocv.Mat
	scales   []float64
	params   TemplateParams
}

// NewMultiScaleTemplateMatching 创建多尺度模板匹配器
// search 为查询图（印章照片），source 为参考图（PDF 页面），均应为灰度图
func NewMultiScaleTemplateMatching(search, source gocv.Mat, scales []float64) *MultiScaleTemplateMatching {
	return NewMultiScaleTemplateMatchingWithParams(search, source, scales, DefaultTemplateParams())
}

// NewMultiScaleTemplateMatchingWithParams 创建多尺度模板匹配器（带参数）
func NewMultiScaleTemplateMatchingWithParams(search, source gocv.Mat, scales []float64, params TemplateParams) *MultiScaleTemplateMatching {
	if len(scales) == 0 {
		scales = DefaultScales
	}
	return &MultiScaleTemplateMatching{
		imSearch: search,
		imSource: source,
		scales:   scales,
		params:   params,
	}
}

// scaleSearchInfo 单个尺度的搜索结果
type scaleSearchInfo struct {
	valid bool
	loc   MatchLocation
}

// LocateBestMatch 在所有尺度中查找相关系数最高的位置
// 相关系数完全相同时取 scales 中靠前的尺度
func (m *MultiScaleTemplateMatching) LocateBestMatch() (*MatchLocation, error) {
	if m.imSearch.Empty() || m.imSource.Empty() {
		return nil, ErrEmptyImage
	}

	source := ToGray(m.imSource)
	defer source.Close()
	if m.params.EdgeDetection {
		edges := EdgeImage(source)
		source.Close()
		source = edges
	}

	best, aboveFloor := selectBest(m.searchAllScales(source), m.params.PenaltyFloor)

	if best == nil {
		return nil, fmt.Errorf("%w: 查询图 %dx%d, 参考图 %dx%d", ErrNoValidScale,
			m.imSearch.Cols(), m.imSearch.Rows(), m.imSource.Cols(), m.imSource.Rows())
	}

	if m.params.DiversityPenalty && aboveFloor < minScalesAboveFloor {
		best.Score = clamp(best.Score-m.params.Penalty, 0, 100)
	}

	return best, nil
}

// selectBest 按 scales 顺序归并各尺度结果，严格大于才替换，
// 因此相关系数相同时保留靠前的尺度。同时统计分数不低于 floor 的尺度数
func selectBest(infos []scaleSearchInfo, floor float64) (*MatchLocation, int) {
	var best *MatchLocation
	aboveFloor := 0
	for i := range infos {
		if !infos[i].valid {
			continue
		}
		if infos[i].loc.Score >= floor {
			aboveFloor++
		}
		if best == nil || infos[i].loc.Correlation > best.Correlation {
			loc := infos[i].loc
			best = &loc
		}
	}
	return best, aboveFloor
}

// searchAllScales 并发搜索每个尺度，结果按 scales 顺序写入各自槽位
func (m *MultiScaleTemplateMatching) searchAllScales(source gocv.Mat) []scaleSearchInfo {
	infos := make([]scaleSearchInfo, len(m.scales))

	var wg sync.WaitGroup
	sem := make(chan struct{}, runtime.NumCPU())

	for i, ratio := range m.scales {
		if ratio <= 0 {
			continue
		}
		wg.Add(1)
		sem <- struct{}{}
		go func(idx int, ratio float64) {
			defer wg.Done()
			defer func() { <-sem }()
			infos[idx] = m.searchScale(source, ratio)
		}(i, ratio)
	}
	wg.Wait()

	return infos
}

// searchScale 在单个尺度上匹配
func (m *MultiScaleTemplateMatching) searchScale(source gocv.Mat, ratio float64) scaleSearchInfo {
	search := ToGray(m.imSearch)
	defer search.Close()

	scaled := ScaleImage(search, ratio)
	defer scaled.Close()

	// 模板窗口不能大于搜索空间
	if err := checkSourceLargerThanSearch(source, scaled); err != nil {
		return scaleSearchInfo{}
	}

	tmpl := scaled
	if m.params.EdgeDetection {
		edges := EdgeImage(scaled)
		defer edges.Close()
		tmpl = edges
	}

	corr, maxLoc := matchTemplateMax(source, tmpl)

	w, h := tmpl.Cols(), tmpl.Rows()
	if maxLoc.X < 0 || maxLoc.Y < 0 || maxLoc.X+w > source.Cols() || maxLoc.Y+h > source.Rows() {
		return scaleSearchInfo{}
	}

	return scaleSearchInfo{
		valid: true,
		loc: MatchLocation{
			X:           maxLoc.X,
			Y:           maxLoc.Y,
			Width:       w,
			Height:      h,
			Scale:       ratio,
			Correlation: corr,
			Score:       correlationToScore(corr),
		},
	}
}
