package config

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config 应用配置
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Download DownloadConfig `mapstructure:"download"`
	Queue    QueueConfig    `mapstructure:"queue"`
	Database DatabaseConfig `mapstructure:"database"`
	Redis    RedisConfig    `mapstructure:"redis"`
	Security SecurityConfig `mapstructure:"security"`
	Logging  LoggingConfig  `mapstructure:"logging"`
}

type ServerConfig struct {
	Port int    `mapstructure:"port"`
	Mode string `mapstructure:"mode"` // debug / release
}

type DownloadConfig struct {
	// 暂存目录：外部工具直接写入此目录
	StagingDir    string  `mapstructure:"staging_dir"`
	MaxFileSizeMB float64 `mapstructure:"max_file_size_mb"`
	// 元数据探测的硬超时
	ProbeTimeout time.Duration `mapstructure:"probe_timeout"`
	// 按平台的下载硬超时，未配置的平台用 default
	PlatformTimeouts map[string]time.Duration `mapstructure:"platform_timeouts"`
	// 暂存文件的默认保留时长
	CleanupMaxAge time.Duration `mapstructure:"cleanup_max_age"`
	// 清理循环间隔
	CleanupInterval time.Duration `mapstructure:"cleanup_interval"`
}

type QueueConfig struct {
	Concurrency  int           `mapstructure:"concurrency"`
	MaxAttempts  int           `mapstructure:"max_attempts"`
	BackoffDelay time.Duration `mapstructure:"backoff_delay"`
	// 单任务租约时长，需覆盖最坏情况下载耗时
	LeaseDuration time.Duration `mapstructure:"lease_duration"`
	// 失联任务巡检间隔
	StalledCheckInterval time.Duration `mapstructure:"stalled_check_interval"`
	// 终态任务在数据库中的保留天数
	RetentionDays int `mapstructure:"retention_days"`
}

type DatabaseConfig struct {
	Driver          string        `mapstructure:"driver"` // sqlite / postgres
	DSN             string        `mapstructure:"dsn"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
}

type RedisConfig struct {
	URL string `mapstructure:"url"`
	DB  int    `mapstructure:"db"`
}

type SecurityConfig struct {
	// 允许的跨域来源
	AllowedOrigins []string `mapstructure:"allowed_origins"`
}

type LoggingConfig struct {
	Level    string `mapstructure:"level"`  // debug / info / warn / error
	Format   string `mapstructure:"format"` // json / console
	Output   string `mapstructure:"output"` // stdout / file
	FilePath string `mapstructure:"file_path"`
}

// Load 加载配置
func Load(configPath string) (*Config, error) {
	v := viper.New()

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath("./configs")
		v.AddConfigPath(".")
	}

	// 自动读取环境变量
	v.AutomaticEnv()

	// 环境变量覆盖
	v.BindEnv("server.port", "PORT")
	v.BindEnv("download.staging_dir", "DOWNLOADS_DIR")
	v.BindEnv("download.max_file_size_mb", "MAX_FILE_SIZE_MB")
	v.BindEnv("download.platform_timeouts.instagram", "INSTAGRAM_TIMEOUT")
	v.BindEnv("download.platform_timeouts.tiktok", "TIKTOK_TIMEOUT")
	v.BindEnv("download.platform_timeouts.twitter", "TWITTER_TIMEOUT")
	v.BindEnv("download.platform_timeouts.facebook", "FACEBOOK_TIMEOUT")
	v.BindEnv("download.platform_timeouts.pinterest", "PINTEREST_TIMEOUT")
	v.BindEnv("queue.concurrency", "QUEUE_CONCURRENCY")
	v.BindEnv("queue.max_attempts", "QUEUE_MAX_ATTEMPTS")
	v.BindEnv("queue.backoff_delay", "QUEUE_BACKOFF_DELAY")
	v.BindEnv("queue.stalled_check_interval", "STALLED_CHECK_INTERVAL")
	v.BindEnv("database.dsn", "DATABASE_URL")
	v.BindEnv("redis.url", "REDIS_URL")
	v.BindEnv("security.allowed_origins", "CORS_ORIGINS")
	v.BindEnv("logging.level", "LOG_LEVEL")

	// 配置文件可选，缺失时全部走默认值与环境变量
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	// 兼容纯数字秒值（例如 QUEUE_BACKOFF_DELAY=5）
	normalizeDurationValues(v, []string{
		"download.probe_timeout",
		"download.platform_timeouts.instagram",
		"download.platform_timeouts.tiktok",
		"download.platform_timeouts.twitter",
		"download.platform_timeouts.facebook",
		"download.platform_timeouts.pinterest",
		"download.cleanup_max_age",
		"download.cleanup_interval",
		"queue.backoff_delay",
		"queue.lease_duration",
		"queue.stalled_check_interval",
		"database.conn_max_lifetime",
	})

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	// CORS_ORIGINS 支持逗号分隔
	if raw := strings.TrimSpace(v.GetString("security.allowed_origins")); raw != "" && strings.Contains(raw, ",") {
		parts := strings.Split(raw, ",")
		cfg.Security.AllowedOrigins = cfg.Security.AllowedOrigins[:0]
		for _, p := range parts {
			if p = strings.TrimSpace(p); p != "" {
				cfg.Security.AllowedOrigins = append(cfg.Security.AllowedOrigins, p)
			}
		}
	}

	setDefaults(&cfg)

	// 兼容 REDIS_URL 同时支持 host:port 与 redis://host:port/db
	if err := normalizeRedisAddress(&cfg.Redis); err != nil {
		return nil, fmt.Errorf("failed to parse redis config: %w", err)
	}

	return &cfg, nil
}

func setDefaults(cfg *Config) {
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 5000
	}
	if cfg.Server.Mode == "" {
		cfg.Server.Mode = "release"
	}
	if cfg.Download.StagingDir == "" {
		cfg.Download.StagingDir = "./downloads"
	}
	if cfg.Download.MaxFileSizeMB == 0 {
		cfg.Download.MaxFileSizeMB = 500
	}
	if cfg.Download.ProbeTimeout == 0 {
		cfg.Download.ProbeTimeout = 60 * time.Second
	}
	if cfg.Download.PlatformTimeouts == nil {
		cfg.Download.PlatformTimeouts = map[string]time.Duration{}
	}
	if cfg.Download.CleanupMaxAge == 0 {
		cfg.Download.CleanupMaxAge = 24 * time.Hour
	}
	if cfg.Download.CleanupInterval == 0 {
		cfg.Download.CleanupInterval = time.Hour
	}
	if cfg.Queue.Concurrency == 0 {
		cfg.Queue.Concurrency = 5
	}
	if cfg.Queue.MaxAttempts == 0 {
		cfg.Queue.MaxAttempts = 3
	}
	if cfg.Queue.BackoffDelay == 0 {
		cfg.Queue.BackoffDelay = 5 * time.Second
	}
	if cfg.Queue.LeaseDuration == 0 {
		cfg.Queue.LeaseDuration = 10 * time.Minute
	}
	if cfg.Queue.StalledCheckInterval == 0 {
		cfg.Queue.StalledCheckInterval = 30 * time.Second
	}
	if cfg.Queue.RetentionDays == 0 {
		cfg.Queue.RetentionDays = 7
	}
	if cfg.Database.Driver == "" {
		cfg.Database.Driver = "sqlite"
	}
	if cfg.Database.DSN == "" {
		cfg.Database.DSN = "jobs.db"
	}
	if len(cfg.Security.AllowedOrigins) == 0 {
		cfg.Security.AllowedOrigins = []string{"http://localhost:5173", "http://localhost:3000"}
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "json"
	}
	if cfg.Logging.Output == "" {
		cfg.Logging.Output = "stdout"
	}
}

// PlatformTimeout 返回平台的下载硬超时
func (c *DownloadConfig) PlatformTimeout(platform string) time.Duration {
	if d, ok := c.PlatformTimeouts[strings.ToLower(platform)]; ok && d > 0 {
		return d
	}
	return 5 * time.Minute
}

// ProbeTimeoutFor 返回平台的探测超时；显式配置的平台超时优先于全局探测超时
func (c *DownloadConfig) ProbeTimeoutFor(platform string) time.Duration {
	if d, ok := c.PlatformTimeouts[strings.ToLower(platform)]; ok && d > 0 {
		return d
	}
	return c.ProbeTimeout
}

func normalizeDurationValues(v *viper.Viper, keys []string) {
	for _, key := range keys {
		raw := strings.TrimSpace(v.GetString(key))
		if raw == "" {
			continue
		}
		if _, err := time.ParseDuration(raw); err == nil {
			continue
		}
		if isDigits(raw) {
			v.Set(key, raw+"s")
		}
	}
}

func isDigits(s string) bool {
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return s != ""
}

func normalizeRedisAddress(redisCfg *RedisConfig) error {
	raw := strings.TrimSpace(redisCfg.URL)
	if raw == "" {
		redisCfg.URL = "127.0.0.1:6379"
		return nil
	}

	// asynq 的 Addr 需要 host:port；若已经是该格式则直接使用
	if !strings.Contains(raw, "://") {
		redisCfg.URL = raw
		return nil
	}

	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("invalid REDIS_URL %q: %w", raw, err)
	}

	if u.Scheme != "redis" && u.Scheme != "rediss" {
		return fmt.Errorf("unsupported REDIS_URL scheme %q", u.Scheme)
	}
	if u.Host == "" {
		return fmt.Errorf("invalid REDIS_URL %q: missing host", raw)
	}

	redisCfg.URL = u.Host

	// 若未单独配置 DB，则尝试从 /<db> 提取
	if redisCfg.DB != 0 {
		return nil
	}
	path := strings.Trim(u.Path, "/")
	if path == "" {
		return nil
	}

	db, err := strconv.Atoi(path)
	if err != nil || db < 0 {
		return fmt.Errorf("invalid REDIS_URL database index %q", path)
	}
	redisCfg.DB = db

	return nil
}
