package config

import (
	"fmt"
	"time"

	yamlenv "github.com/ifuryst/go-yaml-env"

	"github.com/yasyarik/yaswine/pkg/logger"
)

type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Database  DatabaseConfig  `yaml:"database"`
	Logger    logger.Config   `yaml:"logger"`
	Scheduler SchedulerConfig `yaml:"scheduler"`
	Site      SiteConfig      `yaml:"site"`
	Generator GeneratorConfig `yaml:"generator"`
	Discovery DiscoveryConfig `yaml:"discovery"`
	Channels  ChannelsConfig  `yaml:"channels"`
	Auth      AuthConfig      `yaml:"auth"`
}

type ServerConfig struct {
	Port     int    `yaml:"port"`
	Host     string `yaml:"host"`
	Mode     string `yaml:"mode"`
	CertFile string `yaml:"cert_file"`
	KeyFile  string `yaml:"key_file"`
}

type DatabaseConfig struct {
	Type     string `yaml:"type"`
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	Database string `yaml:"database"`
	SSLMode  string `yaml:"ssl_mode"`
	TimeZone string `yaml:"timezone"`
	// Path is the database file for the sqlite dialect.
	Path string `yaml:"path"`
}

type SchedulerConfig struct {
	Disabled            bool             `yaml:"disabled"`
	TickInterval        time.Duration    `yaml:"tick_interval"`
	ChannelTimeout      time.Duration    `yaml:"channel_timeout"`
	ChannelPollInterval time.Duration    `yaml:"channel_poll_interval"`
	PostTimeout         time.Duration    `yaml:"post_timeout"`
	RunLogRetentionDays int              `yaml:"run_log_retention_days"`
	Reconciler          ReconcilerConfig `yaml:"reconciler"`
}

type ReconcilerConfig struct {
	StartupPostingTimeout    time.Duration `yaml:"startup_posting_timeout"`
	StartupGeneratingTimeout time.Duration `yaml:"startup_generating_timeout"`
	PollPostingTimeout       time.Duration `yaml:"poll_posting_timeout"`
	PollGeneratingTimeout    time.Duration `yaml:"poll_generating_timeout"`
}

type SiteConfig struct {
	BaseURL      string `yaml:"base_url"`
	ContentDir   string `yaml:"content_dir"`
	RepoURL      string `yaml:"repo_url"`
	Branch       string `yaml:"branch"`
	WorkspaceDir string `yaml:"workspace_dir"`
	GitUsername  string `yaml:"git_username"`
	GitEmail     string `yaml:"git_email"`
	AutoPush     bool   `yaml:"auto_push"`
}

type GeneratorConfig struct {
	Endpoint string        `yaml:"endpoint"`
	APIKey   string        `yaml:"api_key"`
	Timeout  time.Duration `yaml:"timeout"`
}

type DiscoveryConfig struct {
	Endpoint    string        `yaml:"endpoint"`
	APIKey      string        `yaml:"api_key"`
	Timeout     time.Duration `yaml:"timeout"`
	SiteContext string        `yaml:"site_context"`
	Subtopics   []string      `yaml:"subtopics"`
}

type ChannelsConfig struct {
	LinkedIn  LinkedInConfig  `yaml:"linkedin"`
	Telegram  TelegramConfig  `yaml:"telegram"`
	Microblog MicroblogConfig `yaml:"microblog"`
}

type LinkedInConfig struct {
	AccessToken string `yaml:"access_token"`
	AuthorURN   string `yaml:"author_urn"`
	APIVersion  string `yaml:"api_version"`
	BaseURL     string `yaml:"base_url"`
}

type TelegramConfig struct {
	BotToken string `yaml:"bot_token"`
	ChatID   string `yaml:"chat_id"`
	BaseURL  string `yaml:"base_url"`
}

type MicroblogConfig struct {
	BearerToken string `yaml:"bearer_token"`
	BaseURL     string `yaml:"base_url"`
	MaxPosts    int    `yaml:"max_posts"`
}

type AuthConfig struct {
	Enabled    bool          `yaml:"enabled"`
	TOTPSecret string        `yaml:"totp_secret"`
	SessionTTL time.Duration `yaml:"session_ttl"`
}

func LoadConfig(configPath string) (*Config, error) {
	cfg, err := yamlenv.LoadConfig[Config](configPath)
	if err != nil {
		return nil, err
	}
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ApplyDefaults fills every unset value.
func (cfg *Config) ApplyDefaults() {
	if cfg.Server.Host == "" {
		cfg.Server.Host = "localhost"
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 5334
	}
	if cfg.Server.Mode == "" {
		cfg.Server.Mode = "debug"
	}

	if cfg.Database.Type == "" {
		cfg.Database.Type = "postgres"
	}
	if cfg.Database.Host == "" {
		cfg.Database.Host = "localhost"
	}
	if cfg.Database.Port == 0 {
		switch cfg.Database.Type {
		case "mysql":
			cfg.Database.Port = 3306
		default:
			cfg.Database.Port = 5432
		}
	}
	if cfg.Database.SSLMode == "" {
		cfg.Database.SSLMode = "disable"
	}
	if cfg.Database.TimeZone == "" {
		cfg.Database.TimeZone = "UTC"
	}
	if cfg.Database.Path == "" {
		cfg.Database.Path = "data/factory.db"
	}

	s := &cfg.Scheduler
	if s.TickInterval <= 0 {
		s.TickInterval = 30 * time.Second
	}
	if s.ChannelTimeout <= 0 {
		s.ChannelTimeout = 240 * time.Second
	}
	if s.ChannelPollInterval <= 0 {
		s.ChannelPollInterval = 2 * time.Second
	}
	if s.PostTimeout <= 0 {
		s.PostTimeout = 3 * time.Minute
	}
	if s.RunLogRetentionDays <= 0 {
		s.RunLogRetentionDays = 90
	}
	r := &s.Reconciler
	if r.StartupPostingTimeout <= 0 {
		r.StartupPostingTimeout = 30 * time.Minute
	}
	if r.StartupGeneratingTimeout <= 0 {
		r.StartupGeneratingTimeout = 45 * time.Minute
	}
	if r.PollPostingTimeout <= 0 {
		r.PollPostingTimeout = 12 * time.Minute
	}
	if r.PollGeneratingTimeout <= 0 {
		r.PollGeneratingTimeout = 60 * time.Minute
	}

	if cfg.Site.BaseURL == "" {
		cfg.Site.BaseURL = "http://localhost:8080"
	}
	if cfg.Site.ContentDir == "" {
		cfg.Site.ContentDir = "site"
	}
	if cfg.Site.Branch == "" {
		cfg.Site.Branch = "main"
	}
	if cfg.Site.WorkspaceDir == "" {
		cfg.Site.WorkspaceDir = "workspace"
	}

	if cfg.Generator.Timeout <= 0 {
		cfg.Generator.Timeout = 5 * time.Minute
	}
	if cfg.Discovery.Timeout <= 0 {
		cfg.Discovery.Timeout = 2 * time.Minute
	}
	if cfg.Discovery.SiteContext == "" {
		cfg.Discovery.SiteContext = "Wine blog"
	}

	if cfg.Channels.LinkedIn.APIVersion == "" {
		cfg.Channels.LinkedIn.APIVersion = "202401"
	}
	if cfg.Channels.LinkedIn.BaseURL == "" {
		cfg.Channels.LinkedIn.BaseURL = "https://api.linkedin.com"
	}
	if cfg.Channels.Telegram.BaseURL == "" {
		cfg.Channels.Telegram.BaseURL = "https://api.telegram.org"
	}
	if cfg.Channels.Microblog.BaseURL == "" {
		cfg.Channels.Microblog.BaseURL = "https://api.twitter.com"
	}
	if cfg.Channels.Microblog.MaxPosts <= 0 {
		cfg.Channels.Microblog.MaxPosts = 4
	}

	if cfg.Auth.SessionTTL <= 0 {
		cfg.Auth.SessionTTL = 24 * time.Hour
	}
}

// Validate rejects configurations the service cannot start with.
func (cfg *Config) Validate() error {
	switch cfg.Database.Type {
	case "postgres", "mysql", "sqlite":
	default:
		return fmt.Errorf("unsupported database type %q", cfg.Database.Type)
	}
	if cfg.Auth.Enabled && cfg.Auth.TOTPSecret == "" {
		return fmt.Errorf("auth.totp_secret is required when auth is enabled")
	}
	return nil
}
