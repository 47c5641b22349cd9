package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/pflag"

	"github.com/zoeyai/stampcheck/internal/logger"
	"github.com/zoeyai/stampcheck/pkg/config"
	"github.com/zoeyai/stampcheck/pkg/process"
	"github.com/zoeyai/stampcheck/pkg/vision"
	"github.com/zoeyai/stampcheck/pkg/worker"
)

// 版本信息 (可通过 ldflags 注入)
var (
	Version   = vision.Version
	BuildTime = "unknown"
	GitCommit = "unknown"
)

type options struct {
	serverURL   string
	accessKey   string
	secretKey   string
	baseURL     string
	configFile  string
	logLevel    string
	maxJobs     int
	saveConfig  bool
	showVersion bool
}

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	var o options
	flags := pflag.NewFlagSet("stampworker", pflag.ContinueOnError)
	flags.StringVarP(&o.serverURL, "server", "s", "", "调度服务端地址 (例: localhost:8080)")
	flags.StringVar(&o.accessKey, "access-key", "", "访问密钥")
	flags.StringVar(&o.secretKey, "secret-key", "", "秘密密钥")
	flags.StringVar(&o.baseURL, "base-url", "", "文档服务地址")
	flags.StringVarP(&o.configFile, "config", "c", "", "配置文件路径")
	flags.StringVar(&o.logLevel, "log-level", "", "日志级别 DEBUG/INFO/WARN/ERROR")
	flags.IntVar(&o.maxJobs, "max-jobs", 0, "最大并发任务数")
	flags.BoolVar(&o.saveConfig, "save", false, "保存配置到本地")
	flags.BoolVarP(&o.showVersion, "version", "v", false, "显示版本信息")
	flags.Usage = func() { printHelp(flags) }

	if err := flags.Parse(args); err != nil {
		if err == pflag.ErrHelp {
			return 0
		}
		return 2
	}
	if o.showVersion {
		printVersion()
		return 0
	}

	// 加载配置
	manager := config.GetDefaultManager()
	if o.configFile != "" {
		manager = config.NewManagerWithFile(o.configFile)
	}
	cfg, err := manager.Load()
	if err != nil {
		fmt.Printf("[WARN] 加载配置失败: %v\n", err)
	}

	applyOverrides(cfg, &o)
	if err := checkRequired(cfg); err != nil {
		fmt.Printf("[ERROR] %v\n", err)
		printHelp(flags)
		return 2
	}

	if o.saveConfig {
		if err := manager.Save(cfg); err != nil {
			fmt.Printf("[WARN] 保存配置失败: %v\n", err)
		} else {
			fmt.Printf("[INFO] 配置已保存到 %s\n", manager.GetConfigFile())
		}
	}

	log := logger.Default()
	if err := cfg.Log.Apply(log); err != nil {
		fmt.Printf("[WARN] %v\n", err)
	}
	defer log.Close()

	client, err := newWorker(cfg, log)
	if err != nil {
		fmt.Printf("[ERROR] %v\n", err)
		return 2
	}

	fmt.Println("========================================")
	fmt.Printf("  stampworker v%s\n", Version)
	fmt.Println("========================================")
	fmt.Printf("服务端:   %s\n", cfg.Worker.ServerURL)
	fmt.Printf("文档服务: %s\n", cfg.Source.BaseURL)
	if self, err := process.Self(context.Background()); err == nil {
		fmt.Printf("进程:     %s (pid=%d)\n", self.Name, self.PID)
	}
	if usage, err := process.Snapshot(); err == nil {
		fmt.Printf("资源:     %s\n", usage)
	}
	fmt.Println()

	log.Info("正在连接服务端...")
	if err := client.Connect(context.Background()); err != nil {
		log.Error("连接失败: %v", err)
		return 1
	}
	log.Info("连接成功，等待任务，按 Ctrl+C 退出")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	log.Info("正在断开连接...")
	client.Disconnect()
	log.Info("已退出")
	return 0
}

// applyOverrides 命令行参数优先级高于配置文件
func applyOverrides(cfg *config.Config, o *options) {
	if o.serverURL != "" {
		cfg.Worker.ServerURL = o.serverURL
	}
	if o.accessKey != "" {
		cfg.Worker.AccessKey = o.accessKey
	}
	if o.secretKey != "" {
		cfg.Worker.SecretKey = o.secretKey
	}
	if o.baseURL != "" {
		cfg.Source.BaseURL = o.baseURL
	}
	if o.logLevel != "" {
		cfg.Log.Level = o.logLevel
	}
	if o.maxJobs > 0 {
		cfg.Worker.MaxConcurrentJobs = o.maxJobs
	}
}

// checkRequired 验证必要参数
func checkRequired(cfg *config.Config) error {
	switch {
	case cfg.Worker.ServerURL == "":
		return errors.New("缺少服务端地址，请使用 --server 参数指定")
	case cfg.Worker.AccessKey == "" || cfg.Worker.SecretKey == "":
		return errors.New("缺少认证信息，请使用 --access-key 和 --secret-key 参数")
	case cfg.Source.BaseURL == "":
		return errors.New("缺少文档服务地址，请使用 --base-url 参数或配置 source.base_url")
	}
	return cfg.Validate()
}

// newWorker 组装客户端、执行器、文档源与核验器
func newWorker(cfg *config.Config, log *logger.Logger) (*worker.Client, error) {
	visionOpts, err := cfg.VisionOptions()
	if err != nil {
		return nil, err
	}
	verifier := vision.NewVerifier(visionOpts...)
	verifier.SetLogger(log)

	source := cfg.Source.NewSource()
	source.SetLogger(log)

	clientCfg := worker.DefaultClientConfig()
	clientCfg.ServerURL = cfg.Worker.ServerURL
	clientCfg.AccessKey = cfg.Worker.AccessKey
	clientCfg.SecretKey = cfg.Worker.SecretKey
	clientCfg.HeartbeatInterval = cfg.Worker.HeartbeatInterval()

	client := worker.NewClient(clientCfg)
	client.SetLogger(log)
	client.SetStatusCallback(func(status worker.ClientStatus) {
		log.Info("[STATUS] %s", status)
	})

	exec := worker.NewExecutor(verifier, source, client, cfg.Worker.MaxConcurrentJobs)
	exec.SetLogger(log)
	exec.TaskTimeout = cfg.Source.Timeout() + worker.DefaultTaskTimeout
	exec.Attach(client)
	return client, nil
}

// printVersion 打印版本信息
func printVersion() {
	fmt.Printf("stampworker v%s\n", Version)
	fmt.Printf("Build Time: %s\n", BuildTime)
	fmt.Printf("Git Commit: %s\n", GitCommit)
}

// printHelp 打印帮助信息
func printHelp(flags *pflag.FlagSet) {
	fmt.Println("stampworker - 印章核验任务执行器")
	fmt.Println()
	fmt.Println("用法:")
	fmt.Println("  stampworker [选项]")
	fmt.Println()
	fmt.Println("选项:")
	fmt.Print(flags.FlagUsages())
	fmt.Println()
	fmt.Println("示例:")
	fmt.Println("  # 连接服务端并保存配置")
	fmt.Println("  stampworker --server localhost:8080 --access-key KEY --secret-key SECRET \\")
	fmt.Println("      --base-url https://docs.example.com/files --save")
	fmt.Println()
	fmt.Println("  # 使用已保存的配置连接")
	fmt.Println("  stampworker")
	fmt.Println()
	fmt.Printf("配置文件位置: %s\n", config.GetDefaultManager().GetConfigFile())
}
