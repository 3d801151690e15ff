package config

import (
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/spf13/viper"

	"github.com/oneops-ai/incident-rca/infra/log"
	"github.com/oneops-ai/incident-rca/utils/slice"
)

// ========== 运行模式 ==========

const (
	// RunModeOnce 单次批处理：跑完一个回溯窗口后退出
	RunModeOnce = "run"
	// RunModeServe 常驻服务：HTTP API + 消息流消费
	RunModeServe = "serve"
)

// ========== 配置结构 ==========

// Config 全部运行配置，进程启动时从环境变量加载一次，
// 之后按值传递，不使用全局可变状态。
type Config struct {
	RunMode string // 运行模式 run|serve
	APIPort int    // HTTP 服务端口

	Zabbix      ZabbixConfig
	UptimeRobot UptimeRobotConfig
	LLM         LLMConfig
	SDP         SDPConfig
	Teams       TeamsConfig
	KB          KBConfig
	Kafka       KafkaConfig
	Redis       RedisConfig
	OpenSearch  OpenSearchConfig
	Pipeline    PipelineConfig
	Log         LogConfig

	HTTPTimeout time.Duration // 外部 HTTP 调用超时
}

// ZabbixConfig Zabbix 数据源配置。
type ZabbixConfig struct {
	URL   string // JSON-RPC 入口，如 http://zabbix/api_jsonrpc.php
	Token string // API Token
	TTL   time.Duration
}

// UptimeRobotConfig UptimeRobot 数据源配置。
type UptimeRobotConfig struct {
	APIKey string
	TTL    time.Duration
}

// LLMConfig 外部推理服务配置。APIKey 为空时退化为规则推理。
type LLMConfig struct {
	URL    string // OpenAI 兼容端点
	APIKey string
	Model  string
	TTL    time.Duration
}

// SDPConfig ServiceDesk Plus 工单配置。RequestID 为空时不执行工单流程。
type SDPConfig struct {
	URL              string
	TechnicianKey    string
	RequestID        string
	TaskTitle        string
	ResolutionPrefix string
	CloseStatus      string
}

// TeamsConfig Teams Webhook 通知配置。URL 为空时不通知。
type TeamsConfig struct {
	WebhookURL string
}

// KBConfig 知识库配置。
type KBConfig struct {
	JSONPath      string  // 知识库 JSON 文件路径，为空则不做 KB 匹配
	MatchMinScore float64 // 采纳匹配的最低分
}

// KafkaConfig 消息流配置。Brokers 为空时不启用流式接入。
type KafkaConfig struct {
	Brokers       []string
	Topic         string
	Group         string
	SASLUsername  string
	SASLPassword  string
	SASLMechanism string // plain / scram-sha-256 / scram-sha-512
}

// RedisConfig 缓存后端配置。Addr 为空时使用进程内缓存。
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// OpenSearchConfig 报告归档配置。Hosts 为空时不归档。
type OpenSearchConfig struct {
	Hosts    []string
	Username string
	Password string
}

// PipelineConfig 关联与推理流水线参数。
type PipelineConfig struct {
	LookbackMinutes       int     // 默认回溯窗口（分钟）
	TimeWindowMinutes     int     // 关联窗口 ±N 分钟
	BatchSize             int     // 单次批处理的事件上限
	MaxConcurrency        int     // 事件簇流水线并发上限
	EnrichLookbackMinutes int     // 富化基线窗口（分钟）
	EnrichTopNItems       int     // 每主机取异常度最高的 N 个指标
	MinIndependentSignals int     // 低于该独立信号数进入保守模式
	GuardrailCeiling      float64 // 保守模式下的置信度上限
	FallbackConfidenceCap float64 // 规则推理的置信度上限
	FetchMaxAttempts      int     // 数据源拉取最大尝试次数
	ReportTZOffset        string  // 报告展示时区偏移，如 +07:00
}

// LogConfig 日志配置，映射到 infra/log 的 LogCfg。
type LogConfig struct {
	Level       string
	Filepath    string
	MaxSize     int
	MaxAge      int
	MaxBackups  int
	Compress    bool
	Development bool
}

// ========== 加载 ==========

// Load 从环境变量加载配置并填充默认值。
func Load() (*Config, error) {
	v := viper.New()
	v.AutomaticEnv()

	setDefaults(v)

	cfg := &Config{
		RunMode: strings.ToLower(v.GetString("RUN_MODE")),
		APIPort: v.GetInt("API_PORT"),
		Zabbix: ZabbixConfig{
			URL:   v.GetString("ZABBIX_URL"),
			Token: v.GetString("ZABBIX_TOKEN"),
			TTL:   time.Duration(v.GetInt("TTL_ZABBIX_SEC")) * time.Second,
		},
		UptimeRobot: UptimeRobotConfig{
			APIKey: v.GetString("UPTIMEROBOT_API_KEY"),
			TTL:    time.Duration(v.GetInt("TTL_UPTIME_SEC")) * time.Second,
		},
		LLM: LLMConfig{
			URL:    v.GetString("LLM_URL"),
			APIKey: v.GetString("LLM_API_KEY"),
			Model:  v.GetString("LLM_MODEL"),
			TTL:    time.Duration(v.GetInt("TTL_LLM_SEC")) * time.Second,
		},
		SDP: SDPConfig{
			URL:              v.GetString("SDP_URL"),
			TechnicianKey:    v.GetString("SDP_TECHNICIAN_KEY"),
			RequestID:        v.GetString("SDP_REQUEST_ID"),
			TaskTitle:        v.GetString("SDP_TASK_TITLE"),
			ResolutionPrefix: v.GetString("SDP_RESOLUTION_PREFIX"),
			CloseStatus:      v.GetString("SDP_CLOSE_STATUS"),
		},
		Teams: TeamsConfig{
			WebhookURL: v.GetString("TEAMS_WEBHOOK_URL"),
		},
		KB: KBConfig{
			JSONPath:      v.GetString("KB_JSON_PATH"),
			MatchMinScore: v.GetFloat64("KB_MATCH_MIN_SCORE"),
		},
		Kafka: KafkaConfig{
			Brokers:       slice.SplitToStrings(v.GetString("KAFKA_BROKERS")),
			Topic:         v.GetString("KAFKA_TOPIC"),
			Group:         v.GetString("KAFKA_GROUP"),
			SASLUsername:  v.GetString("KAFKA_SASL_USERNAME"),
			SASLPassword:  v.GetString("KAFKA_SASL_PASSWORD"),
			SASLMechanism: v.GetString("KAFKA_SASL_MECHANISM"),
		},
		Redis: RedisConfig{
			Addr:     v.GetString("REDIS_ADDR"),
			Password: v.GetString("REDIS_PASSWORD"),
			DB:       v.GetInt("REDIS_DB"),
		},
		OpenSearch: OpenSearchConfig{
			Hosts:    slice.SplitToStrings(v.GetString("OPENSEARCH_HOSTS")),
			Username: v.GetString("OPENSEARCH_USERNAME"),
			Password: v.GetString("OPENSEARCH_PASSWORD"),
		},
		Pipeline: PipelineConfig{
			LookbackMinutes:       v.GetInt("LOOKBACK_MINUTES"),
			TimeWindowMinutes:     v.GetInt("TIME_WINDOW_MINUTES"),
			BatchSize:             v.GetInt("BATCH_SIZE"),
			MaxConcurrency:        v.GetInt("MAX_CONCURRENCY"),
			EnrichLookbackMinutes: v.GetInt("ENRICH_LOOKBACK_MINUTES"),
			EnrichTopNItems:       v.GetInt("ENRICH_TOP_N_ITEMS"),
			MinIndependentSignals: v.GetInt("MIN_INDEPENDENT_SIGNALS"),
			GuardrailCeiling:      v.GetFloat64("GUARDRAIL_CEILING"),
			FallbackConfidenceCap: v.GetFloat64("FALLBACK_CONFIDENCE_CAP"),
			FetchMaxAttempts:      v.GetInt("FETCH_MAX_ATTEMPTS"),
			ReportTZOffset:        v.GetString("REPORT_TZ_OFFSET"),
		},
		Log: LogConfig{
			Level:       v.GetString("LOG_LEVEL"),
			Filepath:    v.GetString("LOG_FILE"),
			MaxSize:     v.GetInt("LOG_MAX_SIZE"),
			MaxAge:      v.GetInt("LOG_MAX_AGE"),
			MaxBackups:  v.GetInt("LOG_MAX_BACKUPS"),
			Compress:    v.GetBool("LOG_COMPRESS"),
			Development: v.GetBool("LOG_DEVELOPMENT"),
		},
		HTTPTimeout: time.Duration(v.GetInt("HTTP_TIMEOUT_SEC")) * time.Second,
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("RUN_MODE", RunModeOnce)
	v.SetDefault("API_PORT", 8080)
	v.SetDefault("HTTP_TIMEOUT_SEC", 20)

	v.SetDefault("TTL_ZABBIX_SEC", 60)
	v.SetDefault("TTL_UPTIME_SEC", 60)
	v.SetDefault("TTL_LLM_SEC", 600)

	v.SetDefault("LOOKBACK_MINUTES", 30)
	v.SetDefault("TIME_WINDOW_MINUTES", 10)
	v.SetDefault("BATCH_SIZE", 20)
	v.SetDefault("MAX_CONCURRENCY", 8)
	v.SetDefault("ENRICH_LOOKBACK_MINUTES", 20)
	v.SetDefault("ENRICH_TOP_N_ITEMS", 5)
	v.SetDefault("MIN_INDEPENDENT_SIGNALS", 2)
	v.SetDefault("GUARDRAIL_CEILING", 0.5)
	v.SetDefault("FALLBACK_CONFIDENCE_CAP", 0.45)
	v.SetDefault("FETCH_MAX_ATTEMPTS", 3)
	v.SetDefault("REPORT_TZ_OFFSET", "+07:00")

	v.SetDefault("KB_MATCH_MIN_SCORE", 0.2)

	v.SetDefault("KAFKA_TOPIC", "incident_rca_raw_event")
	v.SetDefault("KAFKA_GROUP", "incident-rca-consumer")

	v.SetDefault("SDP_TASK_TITLE", "RCA 跟进处理")
	v.SetDefault("SDP_CLOSE_STATUS", "Closed")

	v.SetDefault("LLM_MODEL", "gpt-4o-mini")

	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("LOG_FILE", "/opt/incident-rca/log/incident-rca.log")
	v.SetDefault("LOG_MAX_SIZE", 100)
	v.SetDefault("LOG_MAX_AGE", 100)
	v.SetDefault("LOG_MAX_BACKUPS", 20)
	v.SetDefault("LOG_COMPRESS", false)
	v.SetDefault("LOG_DEVELOPMENT", false)
}

// Validate 校验必填项和取值范围。失败视为致命错误，进程不启动。
func (c *Config) Validate() error {
	if c.RunMode != RunModeOnce && c.RunMode != RunModeServe {
		return errors.Errorf("非法的运行模式: %s", c.RunMode)
	}
	if c.Zabbix.URL == "" && c.UptimeRobot.APIKey == "" && len(c.Kafka.Brokers) == 0 {
		return errors.New("至少需要配置一个数据源（ZABBIX_URL / UPTIMEROBOT_API_KEY / KAFKA_BROKERS）")
	}
	if c.Zabbix.URL != "" && c.Zabbix.Token == "" {
		return errors.New("配置了 ZABBIX_URL 但缺少 ZABBIX_TOKEN")
	}
	if c.LLM.APIKey != "" && c.LLM.URL == "" {
		return errors.New("配置了 LLM_API_KEY 但缺少 LLM_URL")
	}
	if c.SDP.RequestID != "" && (c.SDP.URL == "" || c.SDP.TechnicianKey == "") {
		return errors.New("配置了 SDP_REQUEST_ID 但缺少 SDP_URL 或 SDP_TECHNICIAN_KEY")
	}
	if c.Pipeline.TimeWindowMinutes <= 0 {
		return errors.New("TIME_WINDOW_MINUTES 必须为正数")
	}
	if c.Pipeline.MaxConcurrency <= 0 {
		return errors.New("MAX_CONCURRENCY 必须为正数")
	}
	if c.Pipeline.BatchSize <= 0 {
		return errors.New("BATCH_SIZE 必须为正数")
	}
	if c.KB.MatchMinScore < 0 || c.KB.MatchMinScore > 1 {
		return errors.New("KB_MATCH_MIN_SCORE 必须在 [0,1] 区间")
	}
	if c.Pipeline.GuardrailCeiling < 0 || c.Pipeline.GuardrailCeiling > 1 {
		return errors.New("GUARDRAIL_CEILING 必须在 [0,1] 区间")
	}
	if c.Pipeline.FallbackConfidenceCap < 0 || c.Pipeline.FallbackConfidenceCap > 1 {
		return errors.New("FALLBACK_CONFIDENCE_CAP 必须在 [0,1] 区间")
	}
	if c.Pipeline.FetchMaxAttempts <= 0 {
		return errors.New("FETCH_MAX_ATTEMPTS 必须为正数")
	}
	return nil
}

// LogCfg 转换为日志模块的配置结构。
func (c *Config) LogCfg() *log.LogCfg {
	return &log.LogCfg{
		Filepath:    c.Log.Filepath,
		Level:       c.Log.Level,
		MaxSize:     c.Log.MaxSize,
		MaxAge:      c.Log.MaxAge,
		MaxBackups:  c.Log.MaxBackups,
		Compress:    c.Log.Compress,
		Development: c.Log.Development,
	}
}

// LookbackWindow 以 now 为终点计算默认回溯窗口。
func (c *Config) LookbackWindow(now time.Time) (start, end time.Time) {
	end = now
	start = now.Add(-time.Duration(c.Pipeline.LookbackMinutes) * time.Minute)
	return start, end
}
