package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

// Config 应用配置结构
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Redis     RedisConfig     `mapstructure:"redis"`
	Log       LogConfig       `mapstructure:"log"`
	Storage   StorageConfig   `mapstructure:"storage"`
	Signature SignatureConfig `mapstructure:"signature"`
	Workflow  WorkflowConfig  `mapstructure:"workflow"`
}

// ServerConfig HTTP 服务器配置
type ServerConfig struct {
	Port         int    `mapstructure:"port"`
	Mode         string `mapstructure:"mode"` // debug, release, test
	ReadTimeout  int    `mapstructure:"read_timeout"`
	WriteTimeout int    `mapstructure:"write_timeout"`
	PublicURL    string `mapstructure:"public_url"` // 对外可访问的基础 URL（签名链接、验证链接）
}

// DatabaseConfig 数据库配置
type DatabaseConfig struct {
	Host            string `mapstructure:"host"`
	Port            int    `mapstructure:"port"`
	User            string `mapstructure:"user"`
	Password        string `mapstructure:"password"`
	DBName          string `mapstructure:"dbname"`
	SSLMode         string `mapstructure:"sslmode"`
	MaxOpenConns    int    `mapstructure:"max_open_conns"`
	MaxIdleConns    int    `mapstructure:"max_idle_conns"`
	ConnMaxLifetime int    `mapstructure:"conn_max_lifetime"` // 秒
	SlowQueryMillis int    `mapstructure:"slow_query_millis"` // 慢查询日志阈值，毫秒
	AutoMigrate     bool   `mapstructure:"auto_migrate"`      // 是否自动迁移表结构
}

// RedisConfig Redis 配置（asynq 队列与令牌黑名单）
type RedisConfig struct {
	Host         string `mapstructure:"host"`
	Port         int    `mapstructure:"port"`
	Password     string `mapstructure:"password"`
	DB           int    `mapstructure:"db"`
	PoolSize     int    `mapstructure:"pool_size"`
	MinIdleConns int    `mapstructure:"min_idle_conns"`
}

// LogConfig 日志配置
type LogConfig struct {
	Level      string `mapstructure:"level"`       // debug, info, warn, error
	Format     string `mapstructure:"format"`      // json, console
	OutputPath string `mapstructure:"output_path"` // stdout, stderr, /path/to/log
}

// StorageConfig 文档存储配置
type StorageConfig struct {
	BasePath       string `mapstructure:"base_path"`       // 存储根目录
	SourceBucket   string `mapstructure:"source_bucket"`   // 源文档桶，默认 documents
	SignedBucket   string `mapstructure:"signed_bucket"`   // 签名产物主桶，默认 signed-documents
	DownloadTTL    int    `mapstructure:"download_ttl"`    // 签名下载链接有效期（秒），默认 1800
	DownloadSecret string `mapstructure:"download_secret"` // 下载链接 HMAC 密钥
	MaxFileSize    int64  `mapstructure:"max_file_size"`   // 单文件大小限制（字节）
}

// SignatureConfig 电子签名配置
type SignatureConfig struct {
	VerificationDays     int  `mapstructure:"verification_days"`      // 验证码有效天数，默认 365
	LegacyMetadataLookup bool `mapstructure:"legacy_metadata_lookup"` // 是否启用旧版 metadata 验证回退
}

// WorkflowConfig 流程引擎配置
type WorkflowConfig struct {
	MaxStepsPerTemplate int `mapstructure:"max_steps_per_template"` // 模板最大步骤数，默认 50
}

var globalConfig *Config

// Load 加载配置
// env: 环境名称（dev, prod, test）
// configPath: 配置文件路径（可选）
func Load(env string, configPath string) (*Config, error) {
	v := viper.New()

	if configPath == "" {
		v.SetConfigName(env) // dev.yaml, prod.yaml
		v.AddConfigPath("./config")
		v.AddConfigPath("../config")
		v.AddConfigPath("../../config")
	} else {
		v.SetConfigFile(configPath)
	}

	v.SetConfigType("yaml")

	// 环境变量优先级高于配置文件
	v.SetEnvPrefix("APP")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_")) // 支持嵌套配置：APP_DATABASE_HOST

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("读取配置文件失败: %w", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("解析配置失败: %w", err)
	}

	applyDefaults(&cfg)
	globalConfig = &cfg
	return &cfg, nil
}

// applyDefaults 填充缺省值
func applyDefaults(cfg *Config) {
	if cfg.Storage.SourceBucket == "" {
		cfg.Storage.SourceBucket = "documents"
	}
	if cfg.Storage.SignedBucket == "" {
		cfg.Storage.SignedBucket = "signed-documents"
	}
	if cfg.Storage.DownloadTTL <= 0 {
		cfg.Storage.DownloadTTL = 1800
	}
	if cfg.Signature.VerificationDays <= 0 {
		cfg.Signature.VerificationDays = 365
	}
	if cfg.Workflow.MaxStepsPerTemplate <= 0 {
		cfg.Workflow.MaxStepsPerTemplate = 50
	}
	if cfg.Database.SlowQueryMillis <= 0 {
		cfg.Database.SlowQueryMillis = 200
	}
	if cfg.Redis.Host == "" {
		cfg.Redis.Host = "localhost"
	}
	if cfg.Redis.Port == 0 {
		cfg.Redis.Port = 6379
	}
}

// Get 获取全局配置
func Get() *Config {
	if globalConfig == nil {
		panic("配置未初始化，请先调用 Load()")
	}
	return globalConfig
}

// GetDSN 获取数据库连接字符串
func (c *DatabaseConfig) GetDSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.DBName, c.SSLMode,
	)
}

// Addr 获取 Redis 地址
func (c *RedisConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}
