// Package config 负责加载和管理应用程序的配置。
package config

import (
	"fmt"

	"github.com/spf13/viper"
)

// 全局配置变量，存储从配置文件加载的所有设置。
var Conf Config

// Config 是整个应用程序的配置结构体，与 config.yaml 文件结构对应。
type Config struct {
	Server        ServerConfig        `mapstructure:"server"`
	Database      DatabaseConfig      `mapstructure:"database"`
	JWT           JWTConfig           `mapstructure:"jwt"`
	Log           LogConfig           `mapstructure:"log"`
	Kafka         KafkaConfig         `mapstructure:"kafka"`
	Elasticsearch ElasticsearchConfig `mapstructure:"elasticsearch"`
	MinIO         MinIOConfig         `mapstructure:"minio"`
	LLM           LLMConfig           `mapstructure:"llm"`
	Geocode       GeocodeConfig       `mapstructure:"geocode"`
	Memory        MemoryConfig        `mapstructure:"memory"`
	Planner       PlannerConfig       `mapstructure:"planner"`
	DeepPlanner   DeepPlannerConfig   `mapstructure:"deep_planner"`
	Task          TaskConfig          `mapstructure:"task"`
	Poi           PoiConfig           `mapstructure:"poi"`
	Assistant     AssistantConfig     `mapstructure:"assistant"`
	Admin         AdminConfig         `mapstructure:"admin"`
	Tool          ToolConfig          `mapstructure:"tool"`
	Metrics       MetricsConfig       `mapstructure:"metrics"`
}

// ServerConfig 存储服务器相关的配置。
type ServerConfig struct {
	Port string `mapstructure:"port"`
	Mode string `mapstructure:"mode"`
}

// DatabaseConfig 存储所有数据库连接的配置。
type DatabaseConfig struct {
	MySQL MySQLConfig `mapstructure:"mysql"`
	Redis RedisConfig `mapstructure:"redis"`
}

// MySQLConfig 存储 MySQL 数据库的配置。
type MySQLConfig struct {
	DSN string `mapstructure:"dsn"`
}

// RedisConfig 存储 Redis 的配置。
type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// JWTConfig 存储 JWT 相关的配置。
type JWTConfig struct {
	Secret                 string `mapstructure:"secret"`
	AccessTokenExpireHours int    `mapstructure:"access_token_expire_hours"`
	RefreshTokenExpireDays int    `mapstructure:"refresh_token_expire_days"`
}

// LogConfig 存储日志相关的配置。
type LogConfig struct {
	Level      string `mapstructure:"level"`
	Format     string `mapstructure:"format"`
	OutputPath string `mapstructure:"output_path"`
}

// KafkaConfig 存储 Kafka 相关的配置，用于任务队列的分布式扩展点。
type KafkaConfig struct {
	Brokers string `mapstructure:"brokers"`
	Topic   string `mapstructure:"topic"`
}

// ElasticsearchConfig 存储 Elasticsearch 相关的配置（POI 本地空间/文本索引）。
type ElasticsearchConfig struct {
	Addresses string `mapstructure:"addresses"`
	Username  string `mapstructure:"username"`
	Password  string `mapstructure:"password"`
	IndexName string `mapstructure:"index_name"`
}

// MinIOConfig 存储 MinIO 对象存储的配置（任务调试产物存储）。
type MinIOConfig struct {
	Endpoint        string `mapstructure:"endpoint"`
	AccessKeyID     string `mapstructure:"access_key_id"`
	SecretAccessKey string `mapstructure:"secret_access_key"`
	UseSSL          bool   `mapstructure:"use_ssl"`
	BucketName      string `mapstructure:"bucket_name"`
}

// LLMConfig 存储大语言模型相关的配置。
type LLMConfig struct {
	APIKey     string              `mapstructure:"api_key"`
	BaseURL    string              `mapstructure:"base_url"`
	Model      string              `mapstructure:"model"`
	Generation LLMGenerationConfig `mapstructure:"generation"`
}

// LLMGenerationConfig 配置生成相关参数（可选）。
type LLMGenerationConfig struct {
	Temperature float64 `mapstructure:"temperature"`
	TopP        float64 `mapstructure:"top_p"`
	MaxTokens   int     `mapstructure:"max_tokens"`
}

// GeocodeConfig 配置目的地中心解析提供方。
type GeocodeConfig struct {
	Provider        string `mapstructure:"provider"` // mock|amap|disabled
	APIKey          string `mapstructure:"api_key"`
	CacheTTLSeconds int    `mapstructure:"cache_ttl_seconds"`
}

// MemoryConfig 配置记忆服务外部提供方（out-of-scope 协作者，仅命名接口）。
type MemoryConfig struct {
	BaseURL string `mapstructure:"base_url"`
	APIKey  string `mapstructure:"api_key"`
}

// PlannerConfig 配置快速规划器。
type PlannerConfig struct {
	DefaultDayStart    string `mapstructure:"default_day_start"`
	DefaultDayEnd      string `mapstructure:"default_day_end"`
	DefaultSlotMinutes int    `mapstructure:"default_slot_minutes"`
	MaxDays            int    `mapstructure:"max_days"`
	FastRandomSeed     int64  `mapstructure:"fast_random_seed"`
	FastPoiLimitPerDay int    `mapstructure:"fast_poi_limit_per_day"`
	FastTransportMode  string `mapstructure:"fast_transport_mode"`
	CrossDayDedup      bool   `mapstructure:"cross_day_dedup"`
	OvercommitFactor   int    `mapstructure:"overcommit_factor"`
}

// DeepPlannerConfig 配置深度（LLM 驱动）规划器。
type DeepPlannerConfig struct {
	Model           string  `mapstructure:"model"`
	Temperature     float64 `mapstructure:"temperature"`
	MaxTokens       int     `mapstructure:"max_tokens"`
	TimeoutS        int     `mapstructure:"timeout_s"`
	Retries         int     `mapstructure:"retries"`
	MaxPois         int     `mapstructure:"max_pois"`
	MaxDays         int     `mapstructure:"max_days"`
	FallbackToFast  bool    `mapstructure:"fallback_to_fast"`
	ContextMaxDays  int     `mapstructure:"context_max_days"`
	ContextMaxChars int     `mapstructure:"context_max_chars"`
	PromptVersion   string  `mapstructure:"prompt_version"`
	OutlineSource   string  `mapstructure:"outline_source"` // fast|llm_outline
}

// TaskConfig 配置任务引擎。
type TaskConfig struct {
	WorkerConcurrency int    `mapstructure:"worker_concurrency"`
	QueueMaxSize      int    `mapstructure:"queue_maxsize"`
	MaxRunningPerUser int    `mapstructure:"max_running_per_user"`
	RetentionDays     int    `mapstructure:"retention_days"`
	QueueBackend      string `mapstructure:"queue_backend"` // inprocess|kafka
}

// MetricsConfig 配置指标聚合层。
type MetricsConfig struct {
	HistoryLimit    int    `mapstructure:"history_limit"`
	CountersBackend string `mapstructure:"counters_backend"` // inprocess|redis
	RedisKey        string `mapstructure:"redis_key"`
}

// PoiConfig 配置 POI 服务。
type PoiConfig struct {
	Provider        string `mapstructure:"provider"` // mock|amap
	APIKey          string `mapstructure:"api_key"`
	DefaultRadiusM  int    `mapstructure:"default_radius_m"`
	MaxRadiusM      int    `mapstructure:"max_radius_m"`
	CacheTTLSeconds int    `mapstructure:"cache_ttl_seconds"`
	CoordPrecision  int    `mapstructure:"coord_precision"`
	CacheEnabled    bool   `mapstructure:"cache_enabled"`
	CacheBackend    string `mapstructure:"cache_backend"` // memory|redis
	MinResults      int    `mapstructure:"min_results"`
}

// AssistantConfig 配置助手对话与 WebSocket 通道。
type AssistantConfig struct {
	WSEnabled               bool `mapstructure:"ws_enabled"`
	WSMaxConnectionsPerUser int  `mapstructure:"ws_max_connections_per_user"`
	WSIdleTimeoutS          int  `mapstructure:"ws_idle_timeout_s"`
	WSSendQueueMaxSize      int  `mapstructure:"ws_send_queue_maxsize"`
	WSMaxMessageChars       int  `mapstructure:"ws_max_message_chars"`
	WSRateLimitPerMin       int  `mapstructure:"ws_rate_limit_per_min"`
	HistoryMaxRounds        int  `mapstructure:"history_max_rounds"`
	TurnTimeoutS            int  `mapstructure:"turn_timeout_s"`
}

// ToolConfig 配置工具注册表的默认超时/重试策略与天气提供方密钥。
type ToolConfig struct {
	DefaultTimeoutS int    `mapstructure:"default_timeout_s"`
	DefaultRetries  int    `mapstructure:"default_retries"`
	WeatherAPIKey   string `mapstructure:"weather_api_key"`
}

// AdminConfig 配置管理端点访问控制。
type AdminConfig struct {
	APITokens         []string `mapstructure:"api_tokens"`
	AllowedIPs        []string `mapstructure:"allowed_ips"`
	SQLConsoleEnabled bool     `mapstructure:"sql_console_enabled"`
}

// Init 初始化配置加载，从指定的路径读取 YAML 文件并解析到 Conf 变量中。
func Init(configPath string) {
	viper.SetConfigFile(configPath)
	viper.SetConfigType("yaml")

	if err := viper.ReadInConfig(); err != nil {
		panic(fmt.Errorf("读取配置文件失败: %w", err))
	}

	if err := viper.Unmarshal(&Conf); err != nil {
		panic(fmt.Errorf("无法将配置解析到结构体中: %w", err))
	}

	applyDefaults()
}

// applyDefaults fills zero-valued fields with the spec's documented defaults
// so a minimal config.yaml still behaves sensibly.
func applyDefaults() {
	if Conf.Planner.DefaultDayStart == "" {
		Conf.Planner.DefaultDayStart = "09:00"
	}
	if Conf.Planner.DefaultDayEnd == "" {
		Conf.Planner.DefaultDayEnd = "20:00"
	}
	if Conf.Planner.DefaultSlotMinutes == 0 {
		Conf.Planner.DefaultSlotMinutes = 120
	}
	if Conf.Planner.MaxDays == 0 {
		Conf.Planner.MaxDays = 14
	}
	if Conf.Planner.FastPoiLimitPerDay == 0 {
		Conf.Planner.FastPoiLimitPerDay = 6
	}
	if Conf.Planner.FastTransportMode == "" {
		Conf.Planner.FastTransportMode = "walk"
	}
	if Conf.Planner.OvercommitFactor == 0 {
		Conf.Planner.OvercommitFactor = 3
	}
	if Conf.DeepPlanner.MaxTokens == 0 {
		Conf.DeepPlanner.MaxTokens = 800
	}
	if Conf.DeepPlanner.TimeoutS == 0 {
		Conf.DeepPlanner.TimeoutS = 20
	}
	if Conf.DeepPlanner.MaxPois == 0 {
		Conf.DeepPlanner.MaxPois = 30
	}
	if Conf.DeepPlanner.ContextMaxDays == 0 {
		Conf.DeepPlanner.ContextMaxDays = 3
	}
	if Conf.DeepPlanner.ContextMaxChars == 0 {
		Conf.DeepPlanner.ContextMaxChars = 2000
	}
	if Conf.DeepPlanner.PromptVersion == "" {
		Conf.DeepPlanner.PromptVersion = "deep_llm_v1"
	}
	if Conf.DeepPlanner.OutlineSource == "" {
		Conf.DeepPlanner.OutlineSource = "fast"
	}
	if Conf.Task.WorkerConcurrency == 0 {
		Conf.Task.WorkerConcurrency = 4
	}
	if Conf.Task.QueueMaxSize == 0 {
		Conf.Task.QueueMaxSize = 256
	}
	if Conf.Task.MaxRunningPerUser == 0 {
		Conf.Task.MaxRunningPerUser = 3
	}
	if Conf.Task.QueueBackend == "" {
		Conf.Task.QueueBackend = "inprocess"
	}
	if Conf.Poi.Provider == "" {
		Conf.Poi.Provider = "mock"
	}
	if Conf.Poi.DefaultRadiusM == 0 {
		Conf.Poi.DefaultRadiusM = 1000
	}
	if Conf.Poi.MaxRadiusM == 0 {
		Conf.Poi.MaxRadiusM = 5000
	}
	if Conf.Poi.CacheTTLSeconds == 0 {
		Conf.Poi.CacheTTLSeconds = 300
	}
	if Conf.Poi.CoordPrecision == 0 {
		Conf.Poi.CoordPrecision = 4
	}
	if Conf.Poi.CacheBackend == "" {
		Conf.Poi.CacheBackend = "memory"
	}
	if Conf.Poi.MinResults == 0 {
		Conf.Poi.MinResults = 3
	}
	if Conf.Assistant.WSMaxConnectionsPerUser == 0 {
		Conf.Assistant.WSMaxConnectionsPerUser = 3
	}
	if Conf.Assistant.WSIdleTimeoutS == 0 {
		Conf.Assistant.WSIdleTimeoutS = 120
	}
	if Conf.Assistant.WSSendQueueMaxSize == 0 {
		Conf.Assistant.WSSendQueueMaxSize = 64
	}
	if Conf.Assistant.WSMaxMessageChars == 0 {
		Conf.Assistant.WSMaxMessageChars = 4000
	}
	if Conf.Assistant.WSRateLimitPerMin == 0 {
		Conf.Assistant.WSRateLimitPerMin = 30
	}
	if Conf.Assistant.HistoryMaxRounds == 0 {
		Conf.Assistant.HistoryMaxRounds = 6
	}
	if Conf.Assistant.TurnTimeoutS == 0 {
		Conf.Assistant.TurnTimeoutS = 30
	}
	if Conf.Geocode.Provider == "" {
		Conf.Geocode.Provider = "mock"
	}
	if Conf.Geocode.CacheTTLSeconds == 0 {
		Conf.Geocode.CacheTTLSeconds = 3600
	}
	if Conf.Tool.DefaultTimeoutS == 0 {
		Conf.Tool.DefaultTimeoutS = 8
	}
	if Conf.Tool.DefaultRetries == 0 {
		Conf.Tool.DefaultRetries = 1
	}
}
