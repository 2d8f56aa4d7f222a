// Package config loads portal-pilot settings from a YAML file, environment
// variables and defaults.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/mj1618/portal-pilot/internal/agent"
	"github.com/mj1618/portal-pilot/internal/dispatch"
	"github.com/mj1618/portal-pilot/internal/platform"
	"github.com/mj1618/portal-pilot/internal/vision"
	"github.com/mj1618/portal-pilot/internal/wait"
)

// EnvPrefix prefixes every environment override, e.g. PORTAL_PILOT_VISION_URL.
const EnvPrefix = "PORTAL_PILOT"

// Config is the root configuration.
type Config struct {
	Log      LogConfig       `mapstructure:"log"`
	Vision   VisionConfig    `mapstructure:"vision"`
	Decision DecisionConfig  `mapstructure:"decision"`
	Dispatch dispatch.Config `mapstructure:"dispatch"`
	Loop     agent.Config    `mapstructure:"loop"`
	Wait     wait.Options    `mapstructure:"wait"`
	Halt     HaltConfig      `mapstructure:"halt"`
	Capture  CaptureConfig   `mapstructure:"capture"`
	Server   ServerConfig    `mapstructure:"server"`
	MCP      MCPConfig       `mapstructure:"mcp"`
	Redis    RedisConfig     `mapstructure:"redis"`
	Store    StoreConfig     `mapstructure:"store"`
	Audit    AuditConfig     `mapstructure:"audit"`
	Watch    WatchConfig     `mapstructure:"watch"`
}

// LogConfig configures zap and file rotation.
type LogConfig struct {
	Level      string `mapstructure:"level"`
	Format     string `mapstructure:"format"`
	File       string `mapstructure:"file"`
	MaxSize    int    `mapstructure:"max_size"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAge     int    `mapstructure:"max_age"`
	Compress   bool   `mapstructure:"compress"`
}

// VisionConfig locates the vision service and tunes the parser.
type VisionConfig struct {
	URL           string        `mapstructure:"url"`
	APIKey        string        `mapstructure:"api_key"`
	Timeout       time.Duration `mapstructure:"timeout"`
	vision.Config `mapstructure:",squash"`
}

// DecisionConfig locates the decision service.
type DecisionConfig struct {
	URL     string        `mapstructure:"url"`
	Timeout time.Duration `mapstructure:"timeout"`
}

// HaltConfig tunes cooperative cancellation.
type HaltConfig struct {
	Slice time.Duration `mapstructure:"slice"`
}

// CaptureConfig holds default screen sampling options.
type CaptureConfig struct {
	Upscale  float64          `mapstructure:"upscale"`
	Contrast float64          `mapstructure:"contrast"`
	Region   *platform.Bounds `mapstructure:"region"`
}

// ServerConfig configures the HTTP API.
type ServerConfig struct {
	Addr         string        `mapstructure:"addr"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
}

// MCPConfig configures the MCP tool server.
type MCPConfig struct {
	Enabled   bool          `mapstructure:"enabled"`
	Transport string        `mapstructure:"transport"`
	Addr      string        `mapstructure:"addr"`
	CacheTTL  time.Duration `mapstructure:"cache_ttl"`
}

// RedisConfig configures the remote stop channel.
type RedisConfig struct {
	Enabled     bool   `mapstructure:"enabled"`
	Addr        string `mapstructure:"addr"`
	Password    string `mapstructure:"password"`
	DB          int    `mapstructure:"db"`
	StopChannel string `mapstructure:"stop_channel"`
}

// StoreConfig configures the run history database.
type StoreConfig struct {
	Path string `mapstructure:"path"`
}

// AuditConfig configures step screenshot storage. Empty Dir disables it.
type AuditConfig struct {
	Dir string `mapstructure:"dir"`
}

// ObstacleConfig describes a known modal and how to dismiss it.
type ObstacleConfig struct {
	wait.Signature `mapstructure:",squash"`
	// Action is "click" (default) or "key".
	Action string `mapstructure:"action"`
	Key    string `mapstructure:"key"`
}

// WatchConfig configures the background tasks.
type WatchConfig struct {
	ModalInterval time.Duration    `mapstructure:"modal_interval"`
	Obstacles     []ObstacleConfig `mapstructure:"obstacles"`
	IdleSchedule  string           `mapstructure:"idle_schedule"`
	IdleText      string           `mapstructure:"idle_text"`
}

// Load reads path when given, otherwise portal-pilot.yaml from the working
// directory or ./configs. A missing default file is not an error.
func Load(path string) (*Config, error) {
	v := viper.New()
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("portal-pilot")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./configs")
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unable to decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Default returns the configuration used when nothing is overridden.
func Default() *Config {
	cfg, err := Load("")
	if err != nil {
		// defaults alone always decode
		panic(err)
	}
	return cfg
}

// Validate rejects settings the components cannot work with.
func (c *Config) Validate() error {
	var errs []error
	if c.Vision.URL == "" {
		errs = append(errs, errors.New("vision.url is required"))
	}
	if c.Vision.MaxRetries < 1 {
		errs = append(errs, fmt.Errorf("vision.max_retries must be >= 1, got %d", c.Vision.MaxRetries))
	}
	if c.Loop.MaxSteps < 1 {
		errs = append(errs, fmt.Errorf("loop.max_steps must be >= 1, got %d", c.Loop.MaxSteps))
	}
	if c.Halt.Slice <= 0 {
		errs = append(errs, errors.New("halt.slice must be positive"))
	}
	switch c.MCP.Transport {
	case "stdio", "streamable-http":
	default:
		errs = append(errs, fmt.Errorf("mcp.transport must be stdio or streamable-http, got %q", c.MCP.Transport))
	}
	switch c.Log.Format {
	case "console", "json":
	default:
		errs = append(errs, fmt.Errorf("log.format must be console or json, got %q", c.Log.Format))
	}
	for i, o := range c.Watch.Obstacles {
		switch o.Action {
		case "", "click":
		case "key":
			if o.Key == "" {
				errs = append(errs, fmt.Errorf("watch.obstacles[%d]: key action needs a key", i))
			}
		default:
			errs = append(errs, fmt.Errorf("watch.obstacles[%d]: unknown action %q", i, o.Action))
		}
	}
	return errors.Join(errs...)
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "console")
	v.SetDefault("log.file", "")
	v.SetDefault("log.max_size", 50)
	v.SetDefault("log.max_backups", 5)
	v.SetDefault("log.max_age", 14)
	v.SetDefault("log.compress", true)

	vd := vision.DefaultConfig()
	v.SetDefault("vision.url", "http://127.0.0.1:7861/parse")
	v.SetDefault("vision.api_key", "")
	v.SetDefault("vision.timeout", 60*time.Second)
	v.SetDefault("vision.max_retries", vd.MaxRetries)
	v.SetDefault("vision.retry_delay", vd.RetryDelay)
	v.SetDefault("vision.rate_limit_base", vd.RateLimitBase)
	v.SetDefault("vision.model", vd.Model)
	v.SetDefault("vision.image_size", vd.ImageSize)
	v.SetDefault("vision.box_threshold", vd.BoxThreshold)
	v.SetDefault("vision.iou_threshold", vd.IoUThreshold)
	v.SetDefault("vision.requests_per_second", vd.RequestsPerSecond)
	v.SetDefault("vision.breaker.max_requests", vd.Breaker.MaxRequests)
	v.SetDefault("vision.breaker.interval", vd.Breaker.Interval)
	v.SetDefault("vision.breaker.timeout", vd.Breaker.Timeout)
	v.SetDefault("vision.breaker.consecutive_failures", vd.Breaker.ConsecutiveFailures)

	v.SetDefault("decision.url", "http://127.0.0.1:8090/decide")
	v.SetDefault("decision.timeout", 120*time.Second)

	dd := dispatch.DefaultConfig()
	v.SetDefault("dispatch.settle_delay", dd.SettleDelay)
	v.SetDefault("dispatch.move_settle", dd.MoveSettle)
	v.SetDefault("dispatch.paste_settle", dd.PasteSettle)
	v.SetDefault("dispatch.batch_pause", dd.BatchPause)
	v.SetDefault("dispatch.paste_modifier", dd.PasteModifier)
	v.SetDefault("dispatch.clipboard_typing", dd.ClipboardTyping)
	v.SetDefault("dispatch.force_char_keys", []string{})
	v.SetDefault("dispatch.type_delay_ms", 0)

	ld := agent.DefaultConfig()
	v.SetDefault("loop.max_steps", ld.MaxSteps)
	v.SetDefault("loop.step_delay", ld.StepDelay)
	v.SetDefault("loop.history_window", ld.HistoryWindow)

	wd := wait.DefaultOptions()
	v.SetDefault("wait.timeout", wd.Timeout)
	v.SetDefault("wait.poll_interval", wd.PollInterval)
	v.SetDefault("wait.confirm_delay", wd.ConfirmDelay)

	v.SetDefault("halt.slice", 100*time.Millisecond)

	v.SetDefault("capture.upscale", 1.0)
	v.SetDefault("capture.contrast", 1.0)

	v.SetDefault("server.addr", "127.0.0.1:8088")
	v.SetDefault("server.read_timeout", 10*time.Second)
	v.SetDefault("server.write_timeout", 30*time.Second)

	v.SetDefault("mcp.enabled", false)
	v.SetDefault("mcp.transport", "streamable-http")
	v.SetDefault("mcp.addr", "127.0.0.1:8089")
	v.SetDefault("mcp.cache_ttl", 2*time.Second)

	v.SetDefault("redis.enabled", false)
	v.SetDefault("redis.addr", "127.0.0.1:6379")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.stop_channel", "portal-pilot:stop")

	v.SetDefault("store.path", "portal-pilot.db")
	v.SetDefault("audit.dir", "")

	v.SetDefault("watch.modal_interval", 5*time.Second)
	v.SetDefault("watch.obstacles", []ObstacleConfig{})
	v.SetDefault("watch.idle_schedule", "@every 1m")
	v.SetDefault("watch.idle_text", "")
}
