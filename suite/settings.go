package suite

import (
	"fmt"
	"sync"

	"github.com/gocrud/testkit/config"
	"github.com/gocrud/testkit/logging"
)

const (
	// SettingsFile 可选的配置文件，位于测试运行的工作目录（即包目录）
	SettingsFile = "testkit.yaml"
	// EnvPrefix 环境变量前缀：TESTKIT_LOG_LEVEL、TESTKIT_RESOURCE_ROOT、TESTKIT_CONCURRENCY_WORKERS
	EnvPrefix = "TESTKIT_"
)

// Settings 运行设置
type Settings struct {
	LogLevel     logging.LogLevel
	ResourceRoot string
	Workers      int
	// Config 完整的配置，扩展可以读取自己的配置节
	Config config.Configuration
}

// DefaultSettings 返回默认设置
func DefaultSettings() *Settings {
	return &Settings{
		LogLevel:     logging.LogLevelWarn,
		ResourceRoot: "testdata",
		Workers:      4,
		Config:       config.New(nil),
	}
}

// LoadSettings 依次读取 testkit.yaml（可选）和 TESTKIT_ 环境变量
func LoadSettings() (*Settings, error) {
	cfg, err := config.NewConfigurationBuilder().
		AddYamlFile(SettingsFile, true).
		AddEnvironmentVariables(EnvPrefix).
		Build()
	if err != nil {
		return nil, err
	}
	return SettingsFrom(cfg)
}

// SettingsFrom 从配置中读取设置，缺失的项使用默认值
func SettingsFrom(cfg config.Configuration) (*Settings, error) {
	s := DefaultSettings()
	s.Config = cfg

	if cfg.Has("log.level") {
		level, err := logging.ParseLevel(cfg.Get("log.level"))
		if err != nil {
			return nil, err
		}
		s.LogLevel = level
	}
	if root := cfg.Get("resource.root"); root != "" {
		s.ResourceRoot = root
	}
	if cfg.Has("concurrency.workers") {
		workers, err := cfg.GetInt("concurrency.workers")
		if err != nil {
			return nil, fmt.Errorf("suite: concurrency.workers: %w", err)
		}
		if workers < 1 {
			return nil, fmt.Errorf("suite: concurrency.workers must be positive, got %d", workers)
		}
		s.Workers = workers
	}
	return s, nil
}

var loadOnce = sync.OnceValues(LoadSettings)
