package config

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type Config struct {
	Postgres  PostgresConfig
	Relay     RelayConfig
	Solver    SolverConfig
	Telegram  TelegramConfig
	Archive   ArchiveConfig
	Scheduler SchedulerConfig
	Browser   BrowserConfig
	VPN       VPNConfig
	DBPath    string
	LogLevel  string
	Sources   map[string]*SourceConfig
}

type PostgresConfig struct {
	DBURL string
}

// RelayConfig drives the remote captcha-solve endpoint. AppURL is the
// externally reachable base used in the links sent to the operator's phone.
type RelayConfig struct {
	Addr   string
	AppURL string
}

type SolverConfig struct {
	APIKey  string
	BaseURL string
	Timeout time.Duration
}

type TelegramConfig struct {
	BotToken string
	ChatID   string
}

type ArchiveConfig struct {
	Bucket          string
	Region          string
	Endpoint        string
	AccessKeyID     string
	SecretAccessKey string
}

type SchedulerConfig struct {
	Interval time.Duration
	Cron     string
}

type BrowserConfig struct {
	Proxies     []string
	UserAgents  []string
	MaxAttempts int
	NavTimeout  time.Duration
}

type VPNConfig struct {
	AutoConnect bool
	Region      string
}

type SourceConfig struct {
	Tag      string `yaml:"tag"`
	Name     string `yaml:"name"`
	EntryURL string `yaml:"entry_url"`
	// IndexURL is the paginated results URL with a %d page placeholder.
	IndexURL   string        `yaml:"index_url"`
	MinDelay   time.Duration `yaml:"min_delay"`
	MaxDelay   time.Duration `yaml:"max_delay"`
	StaleAfter time.Duration `yaml:"stale_after"`
	// Selectors drive the generic extractor; keys are documented there.
	Selectors map[string]string `yaml:"selectors"`
}

func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		Postgres: PostgresConfig{
			DBURL: os.Getenv("DATABASE_URL"),
		},
		Relay: RelayConfig{
			Addr:   getEnv("RELAY_ADDR", ":8090"),
			AppURL: strings.TrimRight(os.Getenv("APP_URL"), "/"),
		},
		Solver: SolverConfig{
			APIKey:  os.Getenv("SOLVER_API_KEY"),
			BaseURL: getEnv("SOLVER_BASE_URL", "https://2captcha.com"),
			Timeout: getEnvDuration("SOLVER_TIMEOUT", 2*time.Minute),
		},
		Telegram: TelegramConfig{
			BotToken: os.Getenv("TELEGRAM_BOT_TOKEN"),
			ChatID:   os.Getenv("TELEGRAM_CHAT_ID"),
		},
		Archive: ArchiveConfig{
			Bucket:          os.Getenv("ARCHIVE_BUCKET"),
			Region:          getEnv("ARCHIVE_REGION", "us-east-1"),
			Endpoint:        os.Getenv("ARCHIVE_ENDPOINT"),
			AccessKeyID:     os.Getenv("ARCHIVE_ACCESS_KEY_ID"),
			SecretAccessKey: os.Getenv("ARCHIVE_SECRET_ACCESS_KEY"),
		},
		Scheduler: SchedulerConfig{
			Cron: os.Getenv("CRAWL_CRON"),
		},
		Browser: BrowserConfig{
			Proxies:     splitList(os.Getenv("PROXY_LIST")),
			UserAgents:  splitList(os.Getenv("USER_AGENTS")),
			MaxAttempts: getEnvInt("NAV_MAX_ATTEMPTS", 3),
			NavTimeout:  getEnvDuration("NAV_TIMEOUT", 60*time.Second),
		},
		VPN: VPNConfig{
			AutoConnect: os.Getenv("VPN_AUTOCONNECT") == "true",
			Region:      getEnv("VPN_REGION", "smart"),
		},
		DBPath:   getEnv("DB_PATH", "carwatch.db"),
		LogLevel: getEnv("LOG_LEVEL", "info"),
		Sources:  make(map[string]*SourceConfig),
	}

	if interval := os.Getenv("CRAWL_INTERVAL"); interval != "" {
		if d, err := time.ParseDuration(interval); err == nil {
			cfg.Scheduler.Interval = d
		}
	}

	if err := cfg.loadSourceConfigs(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *Config) loadSourceConfigs() error {
	configDir := "config/sources"
	entries, err := os.ReadDir(configDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}

	for _, entry := range entries {
		if entry.IsDir() || filepath.Ext(entry.Name()) != ".yaml" {
			continue
		}

		path := filepath.Join(configDir, entry.Name())
		data, err := os.ReadFile(path)
		if err != nil {
			return err
		}

		var src SourceConfig
		if err := yaml.Unmarshal(data, &src); err != nil {
			return err
		}
		if src.MinDelay == 0 {
			src.MinDelay = 3 * time.Second
		}
		if src.MaxDelay == 0 {
			src.MaxDelay = 8 * time.Second
		}
		if src.StaleAfter == 0 {
			src.StaleAfter = 7 * 24 * time.Hour
		}

		c.Sources[src.Tag] = &src
	}

	return nil
}

func splitList(s string) []string {
	if s == "" {
		return nil
	}
	var out []string
	for _, part := range strings.Split(s, ",") {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	if val := os.Getenv(key); val != "" {
		if i, err := strconv.Atoi(val); err == nil {
			return i
		}
	}
	return defaultVal
}

func getEnvDuration(key string, defaultVal time.Duration) time.Duration {
	if val := os.Getenv(key); val != "" {
		if d, err := time.ParseDuration(val); err == nil {
			return d
		}
	}
	return defaultVal
}
