package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config 统一配置结构
type Config struct {
	Server    ServerConfig
	Log       LogConfig
	Database  DatabaseConfig
	Scheduler SchedulerConfig
	Bot       BotConfig
	Recall    RecallConfig
	Gemini    GeminiConfig
	TTS       TTSConfig
	Audit     AuditConfig
	Security  SecurityConfig
}

// ServerConfig 服务器配置
type ServerConfig struct {
	Env  string // dev, staging, production
	Port string
}

// LogConfig 日志配置
type LogConfig struct {
	Level string // debug, info, warn, error
}

// DatabaseConfig 数据库配置
type DatabaseConfig struct {
	URL string // pgx connection string; empty -> in-memory store (dev only)
}

// SchedulerConfig 入会调度配置
type SchedulerConfig struct {
	TickInterval    time.Duration // 调度检查周期，默认 60s
	JoinLeadTime    time.Duration // 会议开始前多久入会，默认 2m
	MissGracePeriod time.Duration // 超过该时长未入会则标记 missed，默认 5m
	MaxRetries      int           // dispatch 失败重试上限，默认 3
	DispatchTimeout time.Duration // 单次 dispatch 调用超时，默认 30s
	MaxConcurrent   int           // 单次 tick 内并发 dispatch 上限，默认 4
}

// BotConfig 会话机器人配置
type BotConfig struct {
	DisplayName      string   // 会议中显示的机器人名称
	TriggerKeywords  []string // 运维配置的触发关键词
	QuestionSuffixes []string // 疑问句结尾判定（日语助词等）
	HistoryWindow    int      // 上下文窗口大小 N，默认 20
	Acknowledgment   string   // taken_back 时的固定致辞
	PersonaPath      string   // persona 系统提示文件路径
}

// RecallConfig 远端机器人平台配置
type RecallConfig struct {
	APIKey         string
	BaseURL        string
	WebhookBaseURL string
}

// GeminiConfig 生成服务配置
type GeminiConfig struct {
	APIKey          string
	Model           string
	MaxOutputTokens int32
	Temperature     float32
	Timeout         time.Duration
}

// TTSConfig 语音合成服务配置
type TTSConfig struct {
	BaseURL      string
	VoiceName    string
	SpeakingRate float64
	Timeout      time.Duration
}

// AuditConfig 会话审计日志配置
type AuditConfig struct {
	LogPath string
}

// SecurityConfig API 访问控制
type SecurityConfig struct {
	APIKey string // /api/v1 静态 Bearer key；为空时仅允许 dev 环境
}

// LoadConfig 从环境变量加载配置
func LoadConfig() (*Config, error) {
	cfg := &Config{
		Server: ServerConfig{
			Env:  getEnv("ENV", "dev"),
			Port: getEnv("PORT", "8000"),
		},
		Log: LogConfig{
			Level: getEnv("LOG_LEVEL", "info"),
		},
		Database: DatabaseConfig{
			URL: getEnv("DATABASE_URL", ""),
		},
		Scheduler: SchedulerConfig{
			TickInterval:    getEnvDuration("SCHEDULER_TICK_INTERVAL", time.Minute),
			JoinLeadTime:    getEnvDuration("JOIN_LEAD_TIME", 2*time.Minute),
			MissGracePeriod: getEnvDuration("JOIN_MISS_GRACE", 5*time.Minute),
			MaxRetries:      getEnvInt("DISPATCH_MAX_RETRIES", 3),
			DispatchTimeout: getEnvDuration("DISPATCH_TIMEOUT", 30*time.Second),
			MaxConcurrent:   getEnvInt("DISPATCH_MAX_CONCURRENT", 4),
		},
		Bot: BotConfig{
			DisplayName:      getEnv("BOT_DISPLAY_NAME", "AI Avatar"),
			TriggerKeywords:  parseStringList(getEnv("RESPONSE_TRIGGERS", "")),
			QuestionSuffixes: parseStringList(getEnv("QUESTION_SUFFIXES", "か,か。,ですか,ますか")),
			HistoryWindow:    getEnvInt("MAX_CONVERSATION_HISTORY", 20),
			Acknowledgment:   getEnv("TAKEN_BACK_ACK", "持ち帰って確認します。"),
			PersonaPath:      getEnv("PERSONA_PROFILE_PATH", "knowledge/profile.md"),
		},
		Recall: RecallConfig{
			APIKey:         getEnv("RECALL_API_KEY", ""),
			BaseURL:        getEnv("RECALL_BASE_URL", "https://us-west-2.recall.ai/api/v1"),
			WebhookBaseURL: getEnv("WEBHOOK_BASE_URL", ""),
		},
		Gemini: GeminiConfig{
			APIKey:          getEnv("GEMINI_API_KEY", ""),
			Model:           getEnv("GEMINI_MODEL", "gemini-1.5-pro"),
			MaxOutputTokens: int32(getEnvInt("GEMINI_MAX_OUTPUT_TOKENS", 150)),
			Temperature:     float32(getEnvFloat("GEMINI_TEMPERATURE", 0.7)),
			Timeout:         getEnvDuration("GEMINI_TIMEOUT", 20*time.Second),
		},
		TTS: TTSConfig{
			BaseURL:      getEnv("TTS_BASE_URL", "http://localhost:8090"),
			VoiceName:    getEnv("TTS_VOICE_NAME", "ja-JP-Neural2-B"),
			SpeakingRate: getEnvFloat("TTS_SPEAKING_RATE", 1.0),
			Timeout:      getEnvDuration("TTS_TIMEOUT", 15*time.Second),
		},
		Audit: AuditConfig{
			LogPath: getEnv("CONVERSATION_AUDIT_LOG", "./data/conversation_audit.log"),
		},
		Security: SecurityConfig{
			APIKey: getEnv("API_KEY", ""),
		},
	}

	return cfg, nil
}

// ValidateConfig 验证配置的有效性
func ValidateConfig(cfg *Config) error {
	var errs []string

	if port, err := strconv.Atoi(cfg.Server.Port); err != nil || port < 1 || port > 65535 {
		errs = append(errs, fmt.Sprintf("invalid PORT value: %s (must be 1-65535)", cfg.Server.Port))
	}

	validLogLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLogLevels[cfg.Log.Level] {
		errs = append(errs, fmt.Sprintf("invalid LOG_LEVEL: %s (must be: debug, info, warn, error)", cfg.Log.Level))
	}

	validEnvs := map[string]bool{"dev": true, "development": true, "staging": true, "production": true}
	if !validEnvs[cfg.Server.Env] {
		errs = append(errs, fmt.Sprintf("invalid ENV: %s (must be: dev, development, staging, production)", cfg.Server.Env))
	}

	if cfg.Server.Env == "production" {
		if cfg.Security.APIKey == "" {
			errs = append(errs, "API_KEY is required in production environment")
		}
		if cfg.Database.URL == "" {
			errs = append(errs, "DATABASE_URL is required in production environment")
		}
		if cfg.Recall.APIKey == "" {
			errs = append(errs, "RECALL_API_KEY is required in production environment")
		}
	}

	if cfg.Scheduler.TickInterval <= 0 {
		errs = append(errs, "SCHEDULER_TICK_INTERVAL must be positive")
	}
	if cfg.Scheduler.JoinLeadTime <= 0 {
		errs = append(errs, "JOIN_LEAD_TIME must be positive")
	}
	if cfg.Scheduler.MaxRetries < 0 {
		errs = append(errs, "DISPATCH_MAX_RETRIES must not be negative")
	}
	if cfg.Bot.HistoryWindow < 1 {
		errs = append(errs, "MAX_CONVERSATION_HISTORY must be at least 1")
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}

	return nil
}

// IsProduction 判断是否为生产环境
func (c *Config) IsProduction() bool {
	return c.Server.Env == "production"
}

// GetServerAddr 获取服务器监听地址
func (c *Config) GetServerAddr() string {
	return ":" + c.Server.Port
}

// 辅助函数

// getEnv 获取环境变量，如果不存在则返回默认值
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if n, err := strconv.Atoi(value); err == nil {
			return n
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}

// parseStringList 解析逗号分隔的字符串列表
func parseStringList(value string) []string {
	if value == "" {
		return []string{}
	}
	parts := strings.Split(value, ",")
	result := make([]string, 0, len(parts))
	for _, part := range parts {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			result = append(result, trimmed)
		}
	}
	return result
}
