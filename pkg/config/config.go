package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/zoeyai/stampcheck/internal/logger"
	"github.com/zoeyai/stampcheck/pkg/document"
	"github.com/zoeyai/stampcheck/pkg/vision"
)

// ErrInvalidConfig 配置值不合法
var ErrInvalidConfig = errors.New("配置不合法")

// VerifyConfig 比对参数
type VerifyConfig struct {
	MaxImageDimension     int       `json:"max_image_dimension"`
	ScaleFactors          []float64 `json:"scale_factors"`
	HashSize              int       `json:"hash_size"`
	MinSimilarity         float64   `json:"min_similarity"`
	StrongMatchThreshold  float64   `json:"strong_match_threshold"`
	MaxFeatures           int       `json:"max_features"`
	MaxDescriptorDistance float64   `json:"max_descriptor_distance"`
	TemplateMatchPenalty  float64   `json:"template_match_penalty"`
	EdgeDetection         bool      `json:"edge_detection"`
	ScaleDiversityPenalty bool      `json:"scale_diversity_penalty"`
	// ExtraDetectors 额外启用的比对方法 (phash, dhash)
	ExtraDetectors []string `json:"extra_detectors,omitempty"`
}

// SourceConfig 参考文档来源
type SourceConfig struct {
	BaseURL        string `json:"base_url"`
	TimeoutSeconds int    `json:"timeout_seconds"`
	MaxSizeMB      int    `json:"max_size_mb"`
	UserAgent      string `json:"user_agent"`
}

// WorkerConfig 比对 worker 连接配置
type WorkerConfig struct {
	ServerURL         string `json:"server_url"`
	AccessKey         string `json:"access_key"`
	SecretKey         string `json:"secret_key"`
	AutoConnect       bool   `json:"auto_connect"`
	HeartbeatSeconds  int    `json:"heartbeat_seconds"`
	MaxConcurrentJobs int    `json:"max_concurrent_jobs"`
}

// LogConfig 日志配置
type LogConfig struct {
	Level string `json:"level"`
	File  string `json:"file,omitempty"`
}

// Config 完整配置
type Config struct {
	Verify VerifyConfig `json:"verify"`
	Source SourceConfig `json:"source"`
	Worker WorkerConfig `json:"worker"`
	Log    LogConfig    `json:"log"`
}

// DefaultConfig 默认配置
func DefaultConfig() *Config {
	d := vision.DefaultOptions
	return &Config{
		Verify: VerifyConfig{
			MaxImageDimension:     d.MaxImageDimension,
			ScaleFactors:          append([]float64(nil), d.ScaleFactors...),
			HashSize:              d.HashSize,
			MinSimilarity:         d.MinSimilarity,
			StrongMatchThreshold:  d.StrongMatchThreshold,
			MaxFeatures:           d.MaxFeatures,
			MaxDescriptorDistance: d.MaxDescriptorDistance,
			TemplateMatchPenalty:  d.TemplateMatchPenalty,
		},
		Source: SourceConfig{
			BaseURL:        "",
			TimeoutSeconds: 30,
			MaxSizeMB:      10,
			UserAgent:      "stampcheck/" + vision.Version,
		},
		Worker: WorkerConfig{
			ServerURL:         "localhost:8080",
			AutoConnect:       false,
			HeartbeatSeconds:  30,
			MaxConcurrentJobs: 4,
		},
		Log: LogConfig{
			Level: "INFO",
		},
	}
}

// Validate 检查配置值
func (c *Config) Validate() error {
	v := c.Verify
	switch {
	case v.MaxImageDimension <= 0:
		return fmt.Errorf("%w: max_image_dimension 必须大于 0", ErrInvalidConfig)
	case len(v.ScaleFactors) == 0:
		return fmt.Errorf("%w: scale_factors 不能为空", ErrInvalidConfig)
	case v.HashSize <= 0:
		return fmt.Errorf("%w: hash_size 必须大于 0", ErrInvalidConfig)
	case v.MinSimilarity < 0 || v.MinSimilarity > 100:
		return fmt.Errorf("%w: min_similarity 超出 [0, 100]", ErrInvalidConfig)
	case v.StrongMatchThreshold < v.MinSimilarity || v.StrongMatchThreshold > 100:
		return fmt.Errorf("%w: strong_match_threshold 必须在 [min_similarity, 100]", ErrInvalidConfig)
	case v.MaxFeatures <= 0:
		return fmt.Errorf("%w: max_features 必须大于 0", ErrInvalidConfig)
	}
	for _, s := range v.ScaleFactors {
		if s <= 0 {
			return fmt.Errorf("%w: scale_factors 包含非正数 %v", ErrInvalidConfig, s)
		}
	}
	if _, err := vision.DetectorsByName(v.ExtraDetectors); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	if c.Source.TimeoutSeconds <= 0 {
		return fmt.Errorf("%w: timeout_seconds 必须大于 0", ErrInvalidConfig)
	}
	return nil
}

// VisionOptions 转换为比对选项
func (c *Config) VisionOptions() ([]vision.Option, error) {
	v := c.Verify
	detectors, err := vision.DetectorsByName(v.ExtraDetectors)
	if err != nil {
		return nil, err
	}
	return []vision.Option{
		vision.WithMaxImageDimension(v.MaxImageDimension),
		vision.WithScales(v.ScaleFactors...),
		vision.WithHashSize(v.HashSize),
		vision.WithMinSimilarity(v.MinSimilarity),
		vision.WithStrongMatchThreshold(v.StrongMatchThreshold),
		vision.WithMaxFeatures(v.MaxFeatures),
		vision.WithMaxDescriptorDistance(v.MaxDescriptorDistance),
		vision.WithTemplateMatchPenalty(v.TemplateMatchPenalty),
		vision.WithEdgeDetection(v.EdgeDetection),
		vision.WithScaleDiversityPenalty(v.ScaleDiversityPenalty),
		vision.WithDetectors(detectors...),
	}, nil
}

// Timeout 文档加载超时
func (s SourceConfig) Timeout() time.Duration {
	return time.Duration(s.TimeoutSeconds) * time.Second
}

// MaxSize 文档大小上限（字节）
func (s SourceConfig) MaxSize() int64 {
	return int64(s.MaxSizeMB) << 20
}

// NewSource 按配置创建文档源
func (s SourceConfig) NewSource() *document.Source {
	src := document.NewSource(s.BaseURL)
	if f, ok := src.Fetcher.(*document.HTTPFetcher); ok {
		f.MaxSize = s.MaxSize()
		if s.UserAgent != "" {
			f.UserAgent = s.UserAgent
		}
	}
	src.Timeout = s.Timeout()
	return src
}

// HeartbeatInterval 心跳间隔
func (w WorkerConfig) HeartbeatInterval() time.Duration {
	return time.Duration(w.HeartbeatSeconds) * time.Second
}

// Apply 按配置设置日志级别与日志文件
func (l LogConfig) Apply(lg *logger.Logger) error {
	lg.SetLevel(logger.ParseLevel(l.Level))
	if l.File == "" {
		return nil
	}
	return lg.SetFile(true, l.File)
}

// Manager 配置管理器
type Manager struct {
	configDir  string
	configFile string
	mu         sync.RWMutex
}

// NewManager 创建配置管理器
func NewManager() *Manager {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		homeDir = "."
	}
	return NewManagerWithDir(filepath.Join(homeDir, ".stampcheck"))
}

// NewManagerWithDir 使用指定目录创建配置管理器
func NewManagerWithDir(configDir string) *Manager {
	return &Manager{
		configDir:  configDir,
		configFile: filepath.Join(configDir, "config.json"),
	}
}

// NewManagerWithFile 使用指定配置文件创建配置管理器
func NewManagerWithFile(configFile string) *Manager {
	return &Manager{
		configDir:  filepath.Dir(configFile),
		configFile: configFile,
	}
}

// ensureDir 确保配置目录存在
func (m *Manager) ensureDir() error {
	return os.MkdirAll(m.configDir, 0755)
}

// Load 加载配置，文件中缺失的字段保持默认值
func (m *Manager) Load() (*Config, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if _, err := os.Stat(m.configFile); os.IsNotExist(err) {
		return DefaultConfig(), nil
	}

	data, err := os.ReadFile(m.configFile)
	if err != nil {
		return DefaultConfig(), fmt.Errorf("读取配置文件失败: %w", err)
	}

	config := DefaultConfig()
	if err := json.Unmarshal(data, config); err != nil {
		return DefaultConfig(), fmt.Errorf("解析配置文件失败: %w", err)
	}

	if err := config.Validate(); err != nil {
		return DefaultConfig(), err
	}
	return config, nil
}

// Save 保存配置
func (m *Manager) Save(config *Config) error {
	if err := config.Validate(); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.ensureDir(); err != nil {
		return fmt.Errorf("创建配置目录失败: %w", err)
	}

	data, err := json.MarshalIndent(config, "", "  ")
	if err != nil {
		return fmt.Errorf("序列化配置失败: %w", err)
	}

	if err := os.WriteFile(m.configFile, data, 0600); err != nil {
		return fmt.Errorf("写入配置文件失败: %w", err)
	}

	return nil
}

// Clear 清除配置
func (m *Manager) Clear() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, err := os.Stat(m.configFile); os.IsNotExist(err) {
		return nil
	}

	return os.Remove(m.configFile)
}

// GetConfigDir 获取配置目录
func (m *Manager) GetConfigDir() string {
	return m.configDir
}

// GetConfigFile 获取配置文件路径
func (m *Manager) GetConfigFile() string {
	return m.configFile
}

// Exists 检查配置文件是否存在
func (m *Manager) Exists() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()

	_, err := os.Stat(m.configFile)
	return err == nil
}

// 全局配置管理器
var defaultManager = NewManager()

// GetDefaultManager 获取默认配置管理器
func GetDefaultManager() *Manager {
	return defaultManager
}

// Load 使用默认管理器加载配置
func Load() (*Config, error) {
	return defaultManager.Load()
}

// Save 使用默认管理器保存配置
func Save(config *Config) error {
	return defaultManager.Save(config)
}

// Clear 使用默认管理器清除配置
func Clear() error {
	return defaultManager.Clear()
}
