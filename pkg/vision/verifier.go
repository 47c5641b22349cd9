package vision

import (
	"context"
	"errors"
	"fmt"
	"image"
	"math"
	"strings"
	"sync"
	"time"

	"gocv.io/x/gocv"

	"github.com/zoeyai/stampcheck/internal/logger"
	"github.com/zoeyai/stampcheck/pkg/vision/cv"
)

// ErrDetectorPanic 比对方法内部 panic
var ErrDetectorPanic = errors.New("比对方法异常")

// PageLoader 按文档 ID 和页码加载参考页图像，页码从 1 开始
type PageLoader interface {
	LoadPage(ctx context.Context, documentID string, page int) (image.Image, error)
}

// Verifier 印章比对器
// 每次比对使用独立的缓冲区，可被多个 goroutine 并发使用
type Verifier struct {
	opts Options
	log  *logger.Logger
}

// NewVerifier 创建比对器
func NewVerifier(opts ...Option) *Verifier {
	return NewVerifierWithOptions(NewOptions(opts...))
}

// NewVerifierWithOptions 使用完整配置创建比对器
func NewVerifierWithOptions(opts Options) *Verifier {
	opts.ScaleFactors = append([]float64(nil), opts.ScaleFactors...)
	opts.detectors = append([]Detector(nil), opts.detectors...)
	return &Verifier{
		opts: opts,
		log:  logger.Default(),
	}
}

// SetLogger 替换日志记录器
func (v *Verifier) SetLogger(l *logger.Logger) {
	if l != nil {
		v.log = l
	}
}

// Options 返回比对参数副本
func (v *Verifier) Options() Options {
	o := v.opts
	o.ScaleFactors = append([]float64(nil), v.opts.ScaleFactors...)
	o.detectors = append([]Detector(nil), v.opts.detectors...)
	return o
}

// Compare 比对参考图与查询图的原始字节，失败处理同 CompareMats
func (v *Verifier) Compare(ctx context.Context, reference, query []byte) (*MatchResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	ref, err := cv.DecodeImage(reference)
	if err != nil {
		v.log.LogEvent("VRFY", false, 0, "参考图解码失败")
		return nil, fmt.Errorf("参考图: %w", err)
	}
	defer ref.Close()

	q, err := cv.DecodeImage(query)
	if err != nil {
		v.log.LogEvent("VRFY", false, 0, "查询图解码失败")
		return nil, fmt.Errorf("查询图: %w", err)
	}
	defer q.Close()

	return v.CompareMats(ctx, ref, q)
}

// CompareImages 比对两张 image.Image
func (v *Verifier) CompareImages(ctx context.Context, reference, query image.Image) (*MatchResult, error) {
	ref, err := cv.ImageToMat(reference)
	if err != nil {
		return nil, fmt.Errorf("参考图: %w", err)
	}
	defer ref.Close()

	q, err := cv.ImageToMat(query)
	if err != nil {
		return nil, fmt.Errorf("查询图: %w", err)
	}
	defer q.Close()

	return v.CompareMats(ctx, ref, q)
}

// VerifyDocument 加载文档页作为参考图并比对
// 查询图先解码，解码失败时不会请求文档
func (v *Verifier) VerifyDocument(ctx context.Context, loader PageLoader, documentID string, page int, query []byte) (*MatchResult, error) {
	q, err := cv.DecodeImage(query)
	if err != nil {
		v.log.LogEvent("VRFY", false, 0, "查询图解码失败")
		return nil, fmt.Errorf("查询图: %w", err)
	}
	defer q.Close()

	start := time.Now()
	img, err := loader.LoadPage(ctx, documentID, page)
	if err != nil {
		v.log.LogEvent("LOAD", false, msSince(start), fmt.Sprintf("%s#%d: %v", documentID, page, err))
		return nil, fmt.Errorf("加载参考页失败: %w", err)
	}
	b := img.Bounds()
	v.log.LogEvent("LOAD", true, msSince(start), fmt.Sprintf("%s#%d %dx%d", documentID, page, b.Dx(), b.Dy()))

	ref, err := cv.ImageToMat(img)
	if err != nil {
		return nil, fmt.Errorf("参考图: %w", err)
	}
	defer ref.Close()

	return v.CompareMats(ctx, ref, q)
}

// CompareMats 比对两张 BGR/灰度 Mat，输入不会被修改
// 单个方法失败只会让该方法得 0 分，不影响其它方法
// 定位区域裁剪失败时哈希改用整张参考图，比对照常完成
func (v *Verifier) CompareMats(ctx context.Context, reference, query gocv.Mat) (*MatchResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if reference.Empty() || query.Empty() {
		return nil, cv.ErrEmptyImage
	}
	start := time.Now()

	refN := cv.Normalize(reference, v.opts.MaxImageDimension)
	defer refN.Close()
	queryN := cv.Normalize(query, v.opts.MaxImageDimension)
	defer queryN.Close()

	refGray := cv.ToGray(refN)
	defer refGray.Close()
	queryGray := cv.ToGray(queryN)
	defer queryGray.Close()

	// 固定槽位: template, hash, feature, 额外方法
	scores := make([]MethodScore, 3+len(v.opts.detectors))
	var (
		wg     sync.WaitGroup
		loc    *cv.MatchLocation
		region image.Image
	)

	wg.Add(1)
	go func() {
		defer wg.Done()
		loc, region, scores[0], scores[1] = v.locateAndHash(refN, refGray, queryGray)
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		scores[2] = runDetector(NewFeatureDetector(v.opts.orbParams()), refGray, queryGray)
	}()

	for i, d := range v.opts.detectors {
		wg.Add(1)
		go func(slot int, d Detector) {
			defer wg.Done()
			scores[slot] = runDetector(d, refN, queryN)
		}(3+i, d)
	}

	wg.Wait()

	result := Fuse(scores, v.opts.Thresholds())
	result.Location = newLocation(loc)
	result.Region = region
	result.Time = msSince(start)

	for _, s := range scores {
		if s.Err != nil {
			v.log.Debug("%s 失败: %v", s.Method, s.Err)
		} else {
			v.log.Debug("%s 相似度 %.1f", s.Method, s.Similarity)
		}
	}
	v.log.LogEvent("VRFY", true, result.Time, describe(result))

	return result, nil
}

// locateAndHash 模板定位后在定位区域上计算平均哈希
// 未定位或裁剪失败时与整张参考图比较
func (v *Verifier) locateAndHash(refColor, refGray, queryGray gocv.Mat) (*cv.MatchLocation, image.Image, MethodScore, MethodScore) {
	var loc *cv.MatchLocation
	tpl := runMethod(MethodTemplate, func() (float64, error) {
		m := cv.NewMultiScaleTemplateMatchingWithParams(queryGray, refGray, v.opts.ScaleFactors, v.opts.templateParams())
		l, err := m.LocateBestMatch()
		if err != nil {
			return 0, err
		}
		loc = l
		return l.Score, nil
	})

	hash := runMethod(MethodHash, func() (float64, error) {
		return v.regionHash(refGray, queryGray, loc)
	})

	var region image.Image
	if v.opts.KeepRegion && loc != nil {
		region = v.extractRegion(refColor, *loc)
	}

	return loc, region, tpl, hash
}

// regionHash 计算查询图与定位区域的哈希相似度
// 裁剪失败只记录警告，改用整张参考图，不中断比对
func (v *Verifier) regionHash(refGray, queryGray gocv.Mat, loc *cv.MatchLocation) (float64, error) {
	target := refGray
	if loc != nil {
		patch, err := cv.CropRegion(refGray, *loc)
		if err != nil {
			v.log.Warn("区域裁剪失败，使用整张参考图: %v", err)
		} else {
			defer patch.Close()
			target = patch
		}
	}
	sim, err := cv.HashSimilarity(queryGray, target, v.opts.HashSize)
	return float64(sim), err
}

// extractRegion 从彩色参考图裁剪出定位区域
func (v *Verifier) extractRegion(refColor gocv.Mat, loc cv.MatchLocation) image.Image {
	patch, err := cv.CropRegion(refColor, loc)
	if err != nil {
		v.log.Warn("区域提取失败: %v", err)
		return nil
	}
	defer patch.Close()

	img, err := cv.MatToImage(patch)
	if err != nil {
		v.log.Warn("区域转换失败: %v", err)
		return nil
	}
	return img
}

// runDetector 执行单个比对方法
func runDetector(d Detector, reference, query gocv.Mat) MethodScore {
	return runMethod(d.Name(), func() (float64, error) {
		return d.Compare(reference, query)
	})
}

// runMethod 执行 fn 并把错误或 panic 转换为 0 分
func runMethod(m Method, fn func() (float64, error)) (s MethodScore) {
	s.Method = m
	defer func() {
		if r := recover(); r != nil {
			s.Similarity = 0
			s.Err = fmt.Errorf("%w: %s: %v", ErrDetectorPanic, m, r)
			s.Message = s.Err.Error()
		}
	}()

	sim, err := fn()
	if err != nil {
		s.Err = err
		s.Message = err.Error()
		return s
	}
	if math.IsNaN(sim) {
		sim = 0
	}
	s.Similarity = math.Max(0, math.Min(100, sim))
	return s
}

// describe 生成一行日志摘要
func describe(r *MatchResult) string {
	parts := make([]string, 0, len(r.Scores))
	for _, s := range r.Scores {
		if s.Err != nil {
			parts = append(parts, fmt.Sprintf("%s=ERR", s.Method))
		} else {
			parts = append(parts, fmt.Sprintf("%s=%.0f", s.Method, s.Similarity))
		}
	}
	return fmt.Sprintf("%d%% %s (%s) [%s]", r.OverallScore, r.Verdict, r.Method, strings.Join(parts, " "))
}

func msSince(t time.Time) float64 {
	return float64(time.Since(t).Microseconds()) / 1000
}
