// Package config loads and validates service configuration via Viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config captures all service configuration knobs. It is constructed once
// at startup and passed explicitly into every component constructor.
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Crawl    CrawlConfig    `mapstructure:"crawl"`
	Retry    RetryConfig    `mapstructure:"retry"`
	Identity IdentityConfig `mapstructure:"identity"`
	Proxy    ProxyConfig    `mapstructure:"proxy"`
	Render   RenderConfig   `mapstructure:"render"`
	Dedup    DedupConfig    `mapstructure:"dedup"`
	Media    MediaConfig    `mapstructure:"media"`
	Export   ExportConfig   `mapstructure:"export"`
	DB       DBConfig       `mapstructure:"db"`
	Logging  LoggingConfig  `mapstructure:"logging"`
}

// ServerConfig controls the job-control HTTP server.
type ServerConfig struct {
	Port int `mapstructure:"port"`
}

// CrawlConfig governs request scheduling inside a job.
type CrawlConfig struct {
	Concurrency      int           `mapstructure:"concurrency"`
	PerHostMax       int           `mapstructure:"per_host_max"`
	DelayMin         time.Duration `mapstructure:"delay_min"`
	DelayMax         time.Duration `mapstructure:"delay_max"`
	PerHostRPS       float64       `mapstructure:"per_host_rps"`
	HTTPTimeout      time.Duration `mapstructure:"http_timeout"`
	MaxPagesDefault  int           `mapstructure:"max_pages_default"`
	KeywordDefault   string        `mapstructure:"keyword_default"`
	StopGracePeriod  time.Duration `mapstructure:"stop_grace_period"`
	ProgressInterval int           `mapstructure:"progress_interval"`
	MaxContentLength int           `mapstructure:"max_content_length"`
	MinLikesCount    int           `mapstructure:"min_likes_count"`
	MinCommentsCount int           `mapstructure:"min_comments_count"`
}

// RetryConfig controls the retry middleware.
type RetryConfig struct {
	MaxTimes        int      `mapstructure:"max_times"`
	HTTPCodes       []int    `mapstructure:"http_codes"`
	PriorityAdjust  int      `mapstructure:"priority_adjust"`
	MinBodyLength   int      `mapstructure:"min_body_length"`
	BlockSignatures []string `mapstructure:"block_signatures"`
}

// IdentityConfig supplies the user-agent pool.
type IdentityConfig struct {
	UserAgents []string `mapstructure:"user_agents"`
}

// ProxyConfig supplies the outbound proxy pool.
type ProxyConfig struct {
	Enabled bool     `mapstructure:"enabled"`
	File    string   `mapstructure:"file"`
	List    []string `mapstructure:"list"`
}

// RenderConfig controls the headless render fallback.
type RenderConfig struct {
	Enabled        bool          `mapstructure:"enabled"`
	HostPatterns   []string      `mapstructure:"host_patterns"`
	NavTimeout     time.Duration `mapstructure:"nav_timeout"`
	SettleDelay    time.Duration `mapstructure:"settle_delay"`
	ReadySelectors []string      `mapstructure:"ready_selectors"`
	MaxParallel    int           `mapstructure:"max_parallel"`
	UserAgent      string        `mapstructure:"user_agent"`
}

// DedupConfig controls the shared admission store.
type DedupConfig struct {
	RedisAddr     string        `mapstructure:"redis_addr"`
	RedisPassword string        `mapstructure:"redis_password"`
	RedisDB       int           `mapstructure:"redis_db"`
	Key           string        `mapstructure:"key"`
	TTL           time.Duration `mapstructure:"ttl"`
}

// MediaConfig controls the content-addressed media store.
type MediaConfig struct {
	RootDir      string        `mapstructure:"root_dir"`
	FetchTimeout time.Duration `mapstructure:"fetch_timeout"`
	DefaultExt   string        `mapstructure:"default_ext"`
	GCSBucket    string        `mapstructure:"gcs_bucket"`
}

// ExportConfig controls feed exports.
type ExportConfig struct {
	Dir string `mapstructure:"dir"`
	CSV bool   `mapstructure:"csv"`
}

// DBConfig controls access to the relational database.
type DBConfig struct {
	DSN             string        `mapstructure:"dsn"`
	NotesTable      string        `mapstructure:"notes_table"`
	UsersTable      string        `mapstructure:"users_table"`
	CommentsTable   string        `mapstructure:"comments_table"`
	MaxConns        int32         `mapstructure:"max_conns"`
	MaxConnLifetime time.Duration `mapstructure:"max_conn_lifetime"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool   `mapstructure:"development"`
	Level       string `mapstructure:"level"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("CRAWLER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("crawl.concurrency", 16)
	v.SetDefault("crawl.per_host_max", 1)
	v.SetDefault("crawl.delay_min", "1s")
	v.SetDefault("crawl.delay_max", "3s")
	v.SetDefault("crawl.per_host_rps", 0.5)
	v.SetDefault("crawl.http_timeout", "30s")
	v.SetDefault("crawl.max_pages_default", 10)
	v.SetDefault("crawl.keyword_default", "美妆")
	v.SetDefault("crawl.stop_grace_period", "10s")
	v.SetDefault("crawl.progress_interval", 100)
	v.SetDefault("crawl.max_content_length", 50000)
	v.SetDefault("retry.max_times", 3)
	v.SetDefault("retry.http_codes", []int{500, 502, 503, 504, 522, 524, 408, 429})
	v.SetDefault("retry.priority_adjust", -1)
	v.SetDefault("retry.min_body_length", 100)
	v.SetDefault("retry.block_signatures", []string{
		"access denied",
		"blocked",
		"访问被拒绝",
		"系统繁忙",
		"too many requests",
	})
	v.SetDefault("render.enabled", false)
	v.SetDefault("render.host_patterns", []string{"xiaohongshu.com"})
	v.SetDefault("render.nav_timeout", "30s")
	v.SetDefault("render.settle_delay", "2s")
	v.SetDefault("render.ready_selectors", []string{".note-item", ".feeds-page", ".note-detail"})
	v.SetDefault("render.max_parallel", 1)
	v.SetDefault("dedup.key", "crawler:seen_items")
	v.SetDefault("dedup.ttl", "168h")
	v.SetDefault("media.root_dir", "./downloads/images")
	v.SetDefault("media.fetch_timeout", "30s")
	v.SetDefault("media.default_ext", ".jpg")
	v.SetDefault("export.dir", "./output")
	v.SetDefault("export.csv", true)
	v.SetDefault("db.notes_table", "xiaohongshu_notes")
	v.SetDefault("db.users_table", "xiaohongshu_users")
	v.SetDefault("db.comments_table", "xiaohongshu_comments")
	v.SetDefault("logging.development", true)
	v.SetDefault("logging.level", "info")
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	if c.Crawl.Concurrency <= 0 {
		return fmt.Errorf("crawl.concurrency must be > 0")
	}
	if c.Crawl.PerHostMax <= 0 {
		return fmt.Errorf("crawl.per_host_max must be > 0")
	}
	if c.Crawl.DelayMin < 0 || c.Crawl.DelayMax < c.Crawl.DelayMin {
		return fmt.Errorf("crawl delay range [%s,%s] is invalid", c.Crawl.DelayMin, c.Crawl.DelayMax)
	}
	if c.Retry.MaxTimes < 0 {
		return fmt.Errorf("retry.max_times must be >= 0")
	}
	if c.Render.Enabled && c.Render.MaxParallel <= 0 {
		return fmt.Errorf("render.max_parallel must be > 0 when render is enabled")
	}
	if c.Media.RootDir == "" {
		return fmt.Errorf("media.root_dir is required")
	}
	if c.Export.Dir == "" {
		return fmt.Errorf("export.dir is required")
	}
	return nil
}
