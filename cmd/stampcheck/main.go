package main

import (
	"context"
	"encoding/json"
	"fmt"
	"image"
	"image/png"
	"os"
	"path/filepath"

	"github.com/spf13/pflag"

	"github.com/zoeyai/stampcheck/internal/logger"
	"github.com/zoeyai/stampcheck/pkg/config"
	"github.com/zoeyai/stampcheck/pkg/document"
	"github.com/zoeyai/stampcheck/pkg/vision"
	"github.com/zoeyai/stampcheck/pkg/vision/cv"
)

// 版本信息 (可通过 ldflags 注入)
var (
	Version   = vision.Version
	BuildTime = "unknown"
	GitCommit = "unknown"
)

// 退出码
const (
	exitOK      = 0
	exitError   = 1
	exitUsage   = 2
	exitNoMatch = 3
)

type options struct {
	reference  string
	docID      string
	baseURL    string
	page       int
	query      string
	configFile string
	logLevel   string
	diff       string
	jsonOut    bool
	failNo     bool

	minSimilarity float64
	strong        float64
	scales        []float64
	edge          bool
	penalty       bool
	detectors     []string
	showVersion   bool
}

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	if len(args) > 0 {
		switch args[0] {
		case "verify":
			args = args[1:]
		case "version":
			printVersion()
			return exitOK
		}
	}

	var o options
	flags := pflag.NewFlagSet("stampcheck", pflag.ContinueOnError)
	flags.StringVarP(&o.reference, "reference", "r", "", "参考文档文件 (PDF 或图像)")
	flags.StringVar(&o.docID, "doc-id", "", "通过文档服务获取参考文档的 ID")
	flags.StringVar(&o.baseURL, "base-url", "", "文档服务地址，覆盖配置文件")
	flags.IntVarP(&o.page, "page", "p", 1, "参考文档页码")
	flags.StringVarP(&o.query, "query", "q", "", "待核验的印章/签名图像")
	flags.StringVarP(&o.configFile, "config", "c", "", "配置文件路径 (默认 ~/.stampcheck/config.json)")
	flags.StringVar(&o.logLevel, "log-level", "", "日志级别 DEBUG/INFO/WARN/ERROR")
	flags.StringVar(&o.diff, "diff", "", "输出并排对比图 (PNG)")
	flags.BoolVar(&o.jsonOut, "json", false, "以 JSON 输出结果")
	flags.BoolVar(&o.failNo, "fail-on-mismatch", false, "结论为 NO MATCH 时以退出码 3 结束")
	flags.Float64Var(&o.minSimilarity, "min-similarity", 0, "最低相似度阈值")
	flags.Float64Var(&o.strong, "strong-threshold", 0, "强匹配阈值")
	flags.Float64SliceVar(&o.scales, "scales", nil, "模板匹配尺度，如 0.5,1,1.5")
	flags.BoolVar(&o.edge, "edge", false, "在边缘图上做模板匹配")
	flags.BoolVar(&o.penalty, "scale-penalty", false, "启用尺度一致性惩罚")
	flags.StringSliceVar(&o.detectors, "detectors", nil, "附加比对方法: phash,dhash")
	flags.BoolVarP(&o.showVersion, "version", "v", false, "显示版本信息")
	flags.Usage = func() { printUsage(flags) }

	if err := flags.Parse(args); err != nil {
		if err == pflag.ErrHelp {
			return exitOK
		}
		return exitUsage
	}
	if o.showVersion {
		printVersion()
		return exitOK
	}

	if o.query == "" || (o.reference == "") == (o.docID == "") {
		fmt.Fprintln(os.Stderr, "[ERROR] 需要 --query，以及 --reference 或 --doc-id 之一")
		printUsage(flags)
		return exitUsage
	}

	cfg, err := loadConfig(o.configFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "[WARN] 加载配置失败，使用默认配置: %v\n", err)
	}
	applyOverrides(cfg, flags, &o)
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "[ERROR] %v\n", err)
		return exitUsage
	}

	log := logger.Default()
	if err := cfg.Log.Apply(log); err != nil {
		fmt.Fprintf(os.Stderr, "[WARN] %v\n", err)
	}
	defer log.Close()

	visionOpts, err := cfg.VisionOptions()
	if err != nil {
		fmt.Fprintf(os.Stderr, "[ERROR] %v\n", err)
		return exitUsage
	}
	if o.diff != "" {
		visionOpts = append(visionOpts, vision.WithKeepRegion(true))
	}
	verifier := vision.NewVerifier(visionOpts...)

	query, err := os.ReadFile(o.query)
	if err != nil {
		fmt.Fprintf(os.Stderr, "[ERROR] 无法读取查询图: %v\n", err)
		return exitError
	}

	var loader vision.PageLoader
	documentID := o.docID
	if o.reference != "" {
		loader = &fileLoader{path: o.reference, renderer: document.NewPDFRenderer()}
		documentID = filepath.Base(o.reference)
	} else {
		if cfg.Source.BaseURL == "" {
			fmt.Fprintln(os.Stderr, "[ERROR] 使用 --doc-id 时需要 --base-url 或配置 source.base_url")
			return exitUsage
		}
		src := cfg.Source.NewSource()
		src.SetLogger(log)
		loader = src
	}

	result, err := verifier.VerifyDocument(context.Background(), loader, documentID, o.page, query)
	if err != nil {
		fmt.Fprintf(os.Stderr, "[ERROR] 比对失败: %v\n", err)
		if document.IsRetryable(err) {
			fmt.Fprintln(os.Stderr, "[INFO] 该错误可重试")
		}
		return exitError
	}

	if o.diff != "" {
		if err := writeDiff(o.diff, result, query); err != nil {
			fmt.Fprintf(os.Stderr, "[WARN] 生成对比图失败: %v\n", err)
		}
	}

	if o.jsonOut {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(result); err != nil {
			fmt.Fprintf(os.Stderr, "[ERROR] %v\n", err)
			return exitError
		}
	} else {
		printResult(result)
	}

	if o.failNo && result.Verdict == vision.VerdictNoMatch {
		return exitNoMatch
	}
	return exitOK
}

// loadConfig 读取配置文件，失败时返回默认配置
func loadConfig(path string) (*config.Config, error) {
	if path != "" {
		return config.NewManagerWithFile(path).Load()
	}
	return config.Load()
}

// applyOverrides 命令行参数优先级高于配置文件
func applyOverrides(cfg *config.Config, flags *pflag.FlagSet, o *options) {
	if flags.Changed("base-url") {
		cfg.Source.BaseURL = o.baseURL
	}
	if flags.Changed("log-level") {
		cfg.Log.Level = o.logLevel
	}
	if flags.Changed("min-similarity") {
		cfg.Verify.MinSimilarity = o.minSimilarity
	}
	if flags.Changed("strong-threshold") {
		cfg.Verify.StrongMatchThreshold = o.strong
	}
	if flags.Changed("scales") {
		cfg.Verify.ScaleFactors = o.scales
	}
	if flags.Changed("edge") {
		cfg.Verify.EdgeDetection = o.edge
	}
	if flags.Changed("scale-penalty") {
		cfg.Verify.ScaleDiversityPenalty = o.penalty
	}
	if flags.Changed("detectors") {
		cfg.Verify.ExtraDetectors = o.detectors
	}
}

// fileLoader 从本地文件加载参考页
type fileLoader struct {
	path     string
	renderer document.Renderer
}

func (l *fileLoader) LoadPage(ctx context.Context, documentID string, page int) (image.Image, error) {
	data, err := os.ReadFile(l.path)
	if err != nil {
		return nil, fmt.Errorf("无法读取参考文档: %w", err)
	}
	return l.renderer.RenderPage(data, page)
}

// writeDiff 输出定位区域与查询图的并排对比图
func writeDiff(path string, result *vision.MatchResult, query []byte) error {
	q, err := cv.DecodeImage(query)
	if err != nil {
		return err
	}
	defer q.Close()
	queryImg, err := cv.MatToImage(q)
	if err != nil {
		return err
	}

	canvas, err := vision.SideBySide(result.Region, queryImg, result)
	if err != nil {
		return err
	}

	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := png.Encode(f, canvas); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

func printResult(r *vision.MatchResult) {
	fmt.Printf("结论:   %s\n", r.Verdict)
	fmt.Printf("总分:   %d%% (%s, 置信度 %s)\n", r.OverallScore, r.Method, r.Confidence)
	for _, s := range r.Scores {
		line := fmt.Sprintf("  %-8s %6.2f", s.Method, s.Similarity)
		if s.Err != nil {
			line += "  (" + s.Err.Error() + ")"
		}
		fmt.Println(line)
	}
	if r.Location != nil {
		fmt.Printf("位置:   (%d,%d) %dx%d 尺度 %.2f\n", r.Location.X, r.Location.Y, r.Location.Width, r.Location.Height, r.Location.Scale)
	}
	fmt.Printf("耗时:   %.1fms\n", r.Time)
}

func printVersion() {
	fmt.Printf("stampcheck v%s\n", Version)
	fmt.Printf("Build Time: %s\n", BuildTime)
	fmt.Printf("Git Commit: %s\n", GitCommit)
}

func printUsage(flags *pflag.FlagSet) {
	fmt.Fprintln(os.Stderr, "stampcheck - 印章/签名核验")
	fmt.Fprintln(os.Stderr)
	fmt.Fprintln(os.Stderr, "用法:")
	fmt.Fprintln(os.Stderr, "  stampcheck [verify] --reference doc.pdf --query stamp.png [选项]")
	fmt.Fprintln(os.Stderr, "  stampcheck [verify] --doc-id DOC123 --base-url https://host/files --query stamp.png")
	fmt.Fprintln(os.Stderr)
	fmt.Fprintln(os.Stderr, "选项:")
	fmt.Fprint(os.Stderr, flags.FlagUsages())
	fmt.Fprintln(os.Stderr)
	fmt.Fprintf(os.Stderr, "配置文件位置: %s\n", config.GetDefaultManager().GetConfigFile())
}
