package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zoeyai/stampcheck/internal/logger"
	"github.com/zoeyai/stampcheck/pkg/document"
	"github.com/zoeyai/stampcheck/pkg/vision"
)

func TestDefaultConfig(t *testing.T) {
	config := DefaultConfig()

	assert.Equal(t, 1024, config.Verify.MaxImageDimension)
	assert.Equal(t, []float64{0.5, 0.75, 1.0, 1.25, 1.5}, config.Verify.ScaleFactors)
	assert.Equal(t, 8, config.Verify.HashSize)
	assert.Equal(t, 65.0, config.Verify.MinSimilarity)
	assert.Equal(t, 80.0, config.Verify.StrongMatchThreshold)
	assert.Equal(t, 500, config.Verify.MaxFeatures)
	assert.Equal(t, 15.0, config.Verify.TemplateMatchPenalty)
	assert.False(t, config.Verify.ScaleDiversityPenalty)

	assert.Equal(t, 30*time.Second, config.Source.Timeout())
	assert.Equal(t, int64(10<<20), config.Source.MaxSize())
	assert.Equal(t, 30*time.Second, config.Worker.HeartbeatInterval())
	assert.False(t, config.Worker.AutoConnect)

	require.NoError(t, config.Validate())
	t.Logf("默认配置: %+v", config)
}

func TestManagerSaveAndLoad(t *testing.T) {
	manager := NewManagerWithDir(t.TempDir())

	assert.False(t, manager.Exists(), "初始时配置文件不应存在")

	config := DefaultConfig()
	config.Verify.MinSimilarity = 70
	config.Verify.ExtraDetectors = []string{"phash"}
	config.Source.BaseURL = "https://docs.example.com/files"
	config.Worker.ServerURL = "test.server:8080"
	config.Worker.AccessKey = "test_access_key"

	require.NoError(t, manager.Save(config))
	assert.True(t, manager.Exists())

	info, err := os.Stat(manager.GetConfigFile())
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0600), info.Mode().Perm())

	loaded, err := manager.Load()
	require.NoError(t, err)
	assert.Equal(t, config, loaded)

	require.NoError(t, manager.Clear())
	assert.False(t, manager.Exists())
	require.NoError(t, manager.Clear(), "重复清除不应报错")
}

func TestManagerLoad_PartialFileKeepsDefaults(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "custom.json")
	require.NoError(t, os.WriteFile(file, []byte(`{"verify":{"min_similarity":60}}`), 0600))

	manager := NewManagerWithFile(file)
	assert.Equal(t, dir, manager.GetConfigDir())

	config, err := manager.Load()
	require.NoError(t, err)
	assert.Equal(t, 60.0, config.Verify.MinSimilarity)
	assert.Equal(t, 80.0, config.Verify.StrongMatchThreshold)
	assert.Equal(t, 30, config.Source.TimeoutSeconds)
}

func TestManagerLoad_Invalid(t *testing.T) {
	testCases := []struct {
		name    string
		content string
	}{
		{"非 JSON", "{not json"},
		{"阈值颠倒", `{"verify":{"min_similarity":90,"strong_match_threshold":80}}`},
		{"未知方法", `{"verify":{"extra_detectors":["sift"]}}`},
		{"空尺度", `{"verify":{"scale_factors":[]}}`},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			dir := t.TempDir()
			require.NoError(t, os.WriteFile(filepath.Join(dir, "config.json"), []byte(tc.content), 0600))

			config, err := NewManagerWithDir(dir).Load()
			assert.Error(t, err)
			assert.Equal(t, DefaultConfig(), config, "出错时应返回默认配置")
		})
	}
}

func TestValidate(t *testing.T) {
	config := DefaultConfig()
	config.Verify.ScaleFactors = []float64{1.0, -0.5}
	assert.True(t, errors.Is(config.Validate(), ErrInvalidConfig))

	config = DefaultConfig()
	config.Source.TimeoutSeconds = 0
	assert.True(t, errors.Is(config.Validate(), ErrInvalidConfig))

	assert.Error(t, NewManagerWithDir(t.TempDir()).Save(config))
}

func TestVisionOptions(t *testing.T) {
	config := DefaultConfig()
	config.Verify.MinSimilarity = 55
	config.Verify.EdgeDetection = true
	config.Verify.ExtraDetectors = []string{"dhash"}

	opts, err := config.VisionOptions()
	require.NoError(t, err)

	o := vision.NewOptions(opts...)
	assert.Equal(t, 55.0, o.MinSimilarity)
	assert.True(t, o.EdgeDetection)
	assert.Equal(t, config.Verify.ScaleFactors, o.ScaleFactors)

	config.Verify.ExtraDetectors = []string{"nope"}
	_, err = config.VisionOptions()
	assert.Error(t, err)
}

func TestSourceConfig_NewSource(t *testing.T) {
	sc := DefaultConfig().Source
	sc.BaseURL = "https://docs.example.com/files/"
	sc.MaxSizeMB = 2
	sc.TimeoutSeconds = 5

	src := sc.NewSource()
	assert.Equal(t, 5*time.Second, src.Timeout)

	f, ok := src.Fetcher.(*document.HTTPFetcher)
	require.True(t, ok)
	assert.Equal(t, int64(2<<20), f.MaxSize)
	assert.Equal(t, sc.UserAgent, f.UserAgent)
	assert.Equal(t, "https://docs.example.com/files/doc_1.pdf", f.URL("doc_1"))
}

func TestLogConfig_Apply(t *testing.T) {
	lg := logger.New()
	lg.SetConsole(false)
	defer lg.Close()

	file := filepath.Join(t.TempDir(), "stampcheck.log")
	require.NoError(t, LogConfig{Level: "debug", File: file}.Apply(lg))
	assert.Equal(t, logger.DEBUG, lg.GetLevel())

	lg.Info("hello")
	_, err := os.Stat(file)
	assert.NoError(t, err)
}
