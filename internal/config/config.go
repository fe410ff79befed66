// Package config 配置加载
// 配置来源优先级：命令行参数 > 环境变量(EXCAVATOR_前缀) > YAML文件 > 默认值
package config

import (
	"fmt"
	"strings"

	"excavator/internal/logging"

	"github.com/spf13/viper"
)

// Config 主配置
type Config struct {
	Node       *NodeConfig        `mapstructure:"node"`
	Extract    *ExtractConfig     `mapstructure:"extract"`
	Output     *OutputConfig      `mapstructure:"output"`
	Decompiler *DecompilerConfig  `mapstructure:"decompiler"`
	Stream     *StreamConfig      `mapstructure:"stream"`
	Resolver   *ResolverConfig    `mapstructure:"resolver"`
	Progress   *ProgressConfig    `mapstructure:"progress"`
	API        *APIConfig         `mapstructure:"api"`
	Logging    *logging.LogConfig `mapstructure:"logging"`
}

// NodeConfig 节点配置
type NodeConfig struct {
	// Endpoint HTTP或WebSocket端点，追块模式需要WebSocket
	Endpoint string `mapstructure:"endpoint"`
}

// ExtractConfig 批量提取配置
type ExtractConfig struct {
	// NumTasks 在途区块上限，0表示 5×CPU核数
	NumTasks            int  `mapstructure:"num_tasks"`
	IncludeTransactions bool `mapstructure:"include_transactions"`
	IncludeTransfers    bool `mapstructure:"include_transfers"`
	IncludeLogs         bool `mapstructure:"include_logs"`
}

// OutputConfig 输出配置
type OutputConfig struct {
	Path string `mapstructure:"path"`
	// SizeKB 单个分段文件的序列化体积阈值
	SizeKB           int          `mapstructure:"size_kb"`
	CompressionLevel int          `mapstructure:"compression_level"`
	Kafka            *KafkaConfig `mapstructure:"kafka"`
}

// KafkaConfig Kafka镜像配置，brokers为空时不启用
type KafkaConfig struct {
	Brokers []string          `mapstructure:"brokers"`
	Topics  map[string]string `mapstructure:"topics"`
}

// DecompilerConfig 反编译器配置
type DecompilerConfig struct {
	// TimeoutMS 单次反编译的硬超时（毫秒）
	TimeoutMS int  `mapstructure:"timeout_ms"`
	Skip      bool `mapstructure:"skip"`
	// SCSPath 已验证源码库根目录，空表示不做源码比对
	SCSPath string `mapstructure:"scs_path"`
}

// StreamConfig 追块模式配置
type StreamConfig struct {
	// StoreDSN PostgreSQL连接串
	StoreDSN string `mapstructure:"store_dsn"`
	NumJobs  int    `mapstructure:"num_jobs"`
	NoSync   bool   `mapstructure:"no_sync"`
}

// ResolverConfig 函数签名解析配置
type ResolverConfig struct {
	Enabled        bool   `mapstructure:"enabled"`
	FourByteAPIURL string `mapstructure:"fourbyte_api_url"`
	TimeoutMS      int    `mapstructure:"timeout_ms"`
	CacheSize      int    `mapstructure:"cache_size"`
}

// ProgressConfig 进度持久化配置
type ProgressConfig struct {
	DBPath string `mapstructure:"db_path"`
}

// APIConfig 状态接口配置，port为0时不启用
type APIConfig struct {
	Port int `mapstructure:"port"`
}

// Load 加载配置，configPath为空时只用环境变量和默认值
func Load(configPath string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("EXCAVATOR")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configPath != "" {
		v.SetConfigFile(configPath)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("读取配置文件失败: %w", err)
		}
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("解析配置失败: %w", err)
	}

	return &config, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("node.endpoint", "http://localhost:8545")

	v.SetDefault("extract.num_tasks", 0)
	v.SetDefault("extract.include_transactions", false)
	v.SetDefault("extract.include_transfers", false)
	v.SetDefault("extract.include_logs", false)

	v.SetDefault("output.path", "./extracted")
	v.SetDefault("output.size_kb", 8192)
	v.SetDefault("output.compression_level", 6)

	v.SetDefault("decompiler.timeout_ms", 5000)
	v.SetDefault("decompiler.skip", false)
	v.SetDefault("decompiler.scs_path", "")

	v.SetDefault("stream.num_jobs", 1)
	v.SetDefault("stream.no_sync", false)

	v.SetDefault("resolver.enabled", false)
	v.SetDefault("resolver.fourbyte_api_url", "https://www.4byte.directory/api/v1/signatures/")
	v.SetDefault("resolver.timeout_ms", 5000)
	v.SetDefault("resolver.cache_size", 10000)

	v.SetDefault("progress.db_path", "./data/progress.db")

	v.SetDefault("api.port", 0)

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "text")
	v.SetDefault("logging.output", "stderr")
}

// Default 默认配置
func Default() *Config {
	config, _ := Load("")
	return config
}

// Validate 检查配置的基本一致性
func (c *Config) Validate() error {
	if c.Node == nil || c.Node.Endpoint == "" {
		return fmt.Errorf("缺少节点端点配置")
	}
	if c.Output != nil && c.Output.CompressionLevel != -1 &&
		(c.Output.CompressionLevel < 0 || c.Output.CompressionLevel > 9) {
		return fmt.Errorf("压缩级别必须在0-9之间: %d", c.Output.CompressionLevel)
	}
	if c.Extract != nil && c.Extract.NumTasks < 0 {
		return fmt.Errorf("并发数不能为负: %d", c.Extract.NumTasks)
	}
	return nil
}
