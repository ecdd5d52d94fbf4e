package config

import (
	"fmt"
	"os"

	"github.com/nfvorch/vimworker/internal/database"
	"github.com/spf13/viper"
)

// ServerConfig configures the admin HTTP surface (health + control).
type ServerConfig struct {
	Address         string `mapstructure:"address"`
	Port            int    `mapstructure:"port"`
	ReadTimeout     int    `mapstructure:"read_timeout"`
	WriteTimeout    int    `mapstructure:"write_timeout"`
	ShutdownTimeout int    `mapstructure:"shutdown_timeout"`
}

// RedisConfig configures the optional cache-aside layer in front of the
// dependency resolver's storage-fallback lookups.
type RedisConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// WorkerConfig tunes the per-tenant worker loop and its two passes.
type WorkerConfig struct {
	IdleSleepMillis    int `mapstructure:"idle_sleep_millis"`
	RefreshBuildSecs   int `mapstructure:"refresh_build_secs"`
	RefreshActiveSecs  int `mapstructure:"refresh_active_secs"`
	CreateBatchCap     int `mapstructure:"create_batch_cap"`
	RefreshBatchCap    int `mapstructure:"refresh_batch_cap"`
	MaxDependencyTries int `mapstructure:"max_dependency_tries"`
	LoaderPageSize     int `mapstructure:"loader_page_size"`
	InboxSize          int `mapstructure:"inbox_size"`
}

// TenantConfig is one configured VIM tenant: which driver to use and how
// to reach it, plus an optional SDN overlay and WIM account.
type TenantConfig struct {
	DatacenterTenantID string            `mapstructure:"datacenter_tenant_id"`
	VIMType            string            `mapstructure:"vim_type"`
	VIMURL             string            `mapstructure:"vim_url"`
	VIMAdminURL        string            `mapstructure:"vim_admin_url"`
	TenantName         string            `mapstructure:"tenant_name"`
	TenantID           string            `mapstructure:"tenant_id"`
	User               string            `mapstructure:"user"`
	Password           string            `mapstructure:"password"`
	Extra              map[string]string `mapstructure:"extra"`
	SDNOverlay         *SDNOverlayConfig `mapstructure:"sdn_overlay"`
	WIMAccount         *WIMAccountConfig `mapstructure:"wim_account"`
	RateLimitPerSec    float64           `mapstructure:"rate_limit_per_sec"`
}

// SDNOverlayConfig configures the SDN overlay (OVIM) HTTP client.
type SDNOverlayConfig struct {
	Enabled    bool   `mapstructure:"enabled"`
	URL        string `mapstructure:"url"`
	User       string `mapstructure:"user"`
	Password   string `mapstructure:"password"`
	TimeoutSec int    `mapstructure:"timeout_sec"`
}

// WIMAccountConfig configures the WIM connector used for this tenant's
// external ports.
type WIMAccountConfig struct {
	Name       string `mapstructure:"name"`
	Transport  string `mapstructure:"transport"` // "ssh" or "http"
	Host       string `mapstructure:"host"`
	Port       int    `mapstructure:"port"`
	User       string `mapstructure:"user"`
	Password   string `mapstructure:"password"`
	PrivateKey string `mapstructure:"private_key_path"`
	KnownHosts string `mapstructure:"known_hosts_path"`
	Network    string `mapstructure:"network"`
}

// LoggingConfig controls the ambient leveled logger.
type LoggingConfig struct {
	Level string `mapstructure:"level"`
}

// Config is the root configuration for the engine process.
type Config struct {
	Version  string          `mapstructure:"version"`
	Server   ServerConfig    `mapstructure:"server"`
	Database database.Config `mapstructure:"database"`
	Redis    RedisConfig     `mapstructure:"redis"`
	Worker   WorkerConfig    `mapstructure:"worker"`
	Tenants  []TenantConfig  `mapstructure:"tenants"`
	Logging  LoggingConfig   `mapstructure:"logging"`
}

// Load loads configuration from file and environment variables, applying
// defaults first and validating the result before returning it.
func Load() (*Config, error) {
	setDefaults()

	if configPath := findConfigFile(); configPath != "" {
		viper.SetConfigFile(configPath)
	} else {
		viper.SetConfigName("config")
		viper.SetConfigType("yaml")
		viper.AddConfigPath("./config/")
		viper.AddConfigPath("./")
		viper.AddConfigPath("/etc/vimworker/")
	}

	viper.AutomaticEnv()
	viper.SetEnvPrefix("VIMENGINE")

	viper.BindEnv("database.password", "VIMENGINE_DATABASE_PASSWORD")
	viper.BindEnv("database.host", "VIMENGINE_DATABASE_HOST")
	viper.BindEnv("database.port", "VIMENGINE_DATABASE_PORT")
	viper.BindEnv("database.user", "VIMENGINE_DATABASE_USER")
	viper.BindEnv("database.dbname", "VIMENGINE_DATABASE_NAME")
	viper.BindEnv("redis.password", "VIMENGINE_REDIS_PASSWORD")
	viper.BindEnv("redis.host", "VIMENGINE_REDIS_HOST")
	viper.BindEnv("redis.port", "VIMENGINE_REDIS_PORT")

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %v", err)
		}
		fmt.Println("no config file found, using defaults and environment variables")
	} else {
		fmt.Printf("using config file: %s\n", viper.ConfigFileUsed())
	}

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %v", err)
	}

	if err := validateConfig(&cfg); err != nil {
		return nil, fmt.Errorf("config validation failed: %v", err)
	}

	return &cfg, nil
}

func setDefaults() {
	viper.SetDefault("version", "1.0.0")

	viper.SetDefault("server.address", "0.0.0.0")
	viper.SetDefault("server.port", 8090)
	viper.SetDefault("server.read_timeout", 30)
	viper.SetDefault("server.write_timeout", 30)
	viper.SetDefault("server.shutdown_timeout", 30)

	viper.SetDefault("database.host", "localhost")
	viper.SetDefault("database.port", 5432)
	viper.SetDefault("database.user", "vimengine")
	viper.SetDefault("database.dbname", "vimengine")
	viper.SetDefault("database.sslmode", "disable")

	viper.SetDefault("redis.host", "localhost")
	viper.SetDefault("redis.port", 6379)
	viper.SetDefault("redis.db", 0)
	viper.SetDefault("redis.enabled", false)

	viper.SetDefault("worker.idle_sleep_millis", 1000)
	viper.SetDefault("worker.refresh_build_secs", 5)
	viper.SetDefault("worker.refresh_active_secs", 60)
	viper.SetDefault("worker.create_batch_cap", 10)
	viper.SetDefault("worker.refresh_batch_cap", 10)
	viper.SetDefault("worker.max_dependency_tries", 3)
	viper.SetDefault("worker.loader_page_size", 200)
	viper.SetDefault("worker.inbox_size", 2000)

	viper.SetDefault("logging.level", "info")
}

func findConfigFile() string {
	if configPath := os.Getenv("VIMENGINE_CONFIG"); configPath != "" {
		if _, err := os.Stat(configPath); err == nil {
			return configPath
		}
	}

	locations := []string{
		"./config/config.yaml",
		"./config.yaml",
		"/etc/vimworker/config.yaml",
	}
	for _, location := range locations {
		if expanded := os.ExpandEnv(location); expanded != location || location == expanded {
			if _, err := os.Stat(expanded); err == nil {
				return expanded
			}
		}
	}
	return ""
}

func validateConfig(cfg *Config) error {
	if cfg.Version == "" {
		return fmt.Errorf("version is required")
	}
	if cfg.Server.Port < 1 || cfg.Server.Port > 65535 {
		return fmt.Errorf("server port must be between 1 and 65535")
	}
	if cfg.Database.Host == "" {
		return fmt.Errorf("database host is required")
	}
	if cfg.Database.DBName == "" {
		return fmt.Errorf("database name is required")
	}
	if cfg.Redis.Enabled {
		if cfg.Redis.Host == "" {
			return fmt.Errorf("redis host is required when redis is enabled")
		}
		if cfg.Redis.Port < 1 || cfg.Redis.Port > 65535 {
			return fmt.Errorf("redis port must be between 1 and 65535")
		}
	}
	if cfg.Worker.MaxDependencyTries < 1 {
		return fmt.Errorf("max dependency tries must be positive")
	}
	if cfg.Worker.LoaderPageSize < 1 {
		return fmt.Errorf("loader page size must be positive")
	}
	if cfg.Worker.InboxSize < 1 {
		return fmt.Errorf("inbox size must be positive")
	}

	seen := make(map[string]bool, len(cfg.Tenants))
	for _, t := range cfg.Tenants {
		if t.DatacenterTenantID == "" {
			return fmt.Errorf("tenant entry is missing datacenter_tenant_id")
		}
		if seen[t.DatacenterTenantID] {
			return fmt.Errorf("duplicate tenant entry: %s", t.DatacenterTenantID)
		}
		seen[t.DatacenterTenantID] = true
		if t.VIMType == "" {
			return fmt.Errorf("tenant %s is missing vim_type", t.DatacenterTenantID)
		}
	}

	return nil
}
