package config

import (
	"net/url"
	"os"
	"path"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/pkg/errors"
	"github.com/spf13/cast"
	"gopkg.in/yaml.v3"
)

// SysConfig system configuration
type SysConfig struct {
	Appid    string `yaml:"appid"`
	Location string `yaml:"location"`
	Workdir  string `yaml:"workdir"`
	Debug    bool   `yaml:"debug"`
}

// WebConfig local state API listener
type WebConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

// ApiConfig backend endpoints
type ApiConfig struct {
	BaseURL string        `yaml:"base_url"`
	WsURL   string        `yaml:"ws_url"`
	WsPath  string        `yaml:"ws_path"`
	Token   string        `yaml:"token"`
	Timeout time.Duration `yaml:"timeout"`
}

// SocketConfig push channel reconnect policy
type SocketConfig struct {
	MaxReconnectAttempts int           `yaml:"max_reconnect_attempts"`
	ReconnectDelay       time.Duration `yaml:"reconnect_delay"`
	ReconnectDelayMax    time.Duration `yaml:"reconnect_delay_max"`
	ReconnectMultiplier  float64       `yaml:"reconnect_multiplier"`
	DialTimeout          time.Duration `yaml:"dial_timeout"`
	WriteWait            time.Duration `yaml:"write_wait"`
}

// SyncConfig periodic resync and local buffers
type SyncConfig struct {
	ResyncSpec  string `yaml:"resync_spec"`
	Workers     int    `yaml:"workers"`
	LogCapacity int    `yaml:"log_capacity"`
}

type LogConfig struct {
	Mode       string `yaml:"mode"`
	FileEnable bool   `yaml:"file_enable"`
	Filename   string `yaml:"filename"`
}

type AppConfig struct {
	System SysConfig    `yaml:"system"`
	Web    WebConfig    `yaml:"web"`
	Api    ApiConfig    `yaml:"api"`
	Socket SocketConfig `yaml:"socket"`
	Sync   SyncConfig   `yaml:"sync"`
	Logger LogConfig    `yaml:"logger"`
}

// GetLogDir returns the log directory under workdir.
func (c *AppConfig) GetLogDir() string {
	return path.Join(c.System.Workdir, "logs")
}

// SocketURL derives the push channel URL. The ws URL wins over the base
// URL; http schemes map to ws schemes and ws_path is added when the URL
// carries no path of its own.
func (c ApiConfig) SocketURL() string {
	raw := c.WsURL
	if raw == "" {
		raw = c.BaseURL
	}
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return raw
	}
	switch u.Scheme {
	case "https", "wss":
		u.Scheme = "wss"
	default:
		u.Scheme = "ws"
	}
	if u.Path == "" || u.Path == "/" {
		p := c.WsPath
		if p == "" {
			p = "/ws"
		}
		if !strings.HasPrefix(p, "/") {
			p = "/" + p
		}
		u.Path = p
	}
	return u.String()
}

var DefaultAppConfig = &AppConfig{
	System: SysConfig{
		Appid:    "GreenHub",
		Location: "America/Sao_Paulo",
		Workdir:  "/var/greenhub",
		Debug:    true,
	},
	Web: WebConfig{
		Host: "127.0.0.1",
		Port: 1818,
	},
	Api: ApiConfig{
		BaseURL: "http://localhost:3001",
		WsPath:  "/ws",
		Timeout: 30 * time.Second,
	},
	Socket: SocketConfig{
		MaxReconnectAttempts: 5,
		ReconnectDelay:       time.Second,
		ReconnectDelayMax:    5 * time.Second,
		ReconnectMultiplier:  2.0,
		DialTimeout:          20 * time.Second,
		WriteWait:            10 * time.Second,
	},
	Sync: SyncConfig{
		ResyncSpec:  "@every 60s",
		Workers:     4,
		LogCapacity: 100,
	},
	Logger: LogConfig{
		Mode:       "development",
		FileEnable: false,
		Filename:   "/var/greenhub/greenhub.log",
	},
}

func defaults() *AppConfig {
	cfg := *DefaultAppConfig
	return &cfg
}

// LoadConfig reads the YAML file when one is given, then applies .env and
// environment overrides. An empty path yields defaults plus environment.
func LoadConfig(cfile string) (*AppConfig, error) {
	cfg := defaults()
	if cfile != "" {
		data, err := os.ReadFile(cfile)
		if err != nil {
			return nil, errors.Wrapf(err, "read config %s", cfile)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, errors.Wrapf(err, "parse config %s", cfile)
		}
	}
	_ = godotenv.Load()
	applyEnv(cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func setEnvValue(name string, val *string) {
	if v := os.Getenv(name); v != "" {
		*val = v
	}
}

func setEnvInt(name string, val *int) {
	if v := os.Getenv(name); v != "" {
		if n, err := cast.ToIntE(v); err == nil {
			*val = n
		}
	}
}

func setEnvDuration(name string, val *time.Duration) {
	v := os.Getenv(name)
	if v == "" {
		return
	}
	// bare numbers are milliseconds, matching the backend client convention
	if n, err := cast.ToInt64E(v); err == nil {
		*val = time.Duration(n) * time.Millisecond
		return
	}
	if d, err := cast.ToDurationE(v); err == nil {
		*val = d
	}
}

func setEnvBool(name string, val *bool) {
	if v := os.Getenv(name); v != "" {
		if b, err := cast.ToBoolE(v); err == nil {
			*val = b
		}
	}
}

func applyEnv(cfg *AppConfig) {
	setEnvValue("GREENHUB_WORKDIR", &cfg.System.Workdir)
	setEnvValue("GREENHUB_LOCATION", &cfg.System.Location)
	setEnvBool("GREENHUB_DEBUG", &cfg.System.Debug)
	setEnvValue("GREENHUB_WEB_HOST", &cfg.Web.Host)
	setEnvInt("GREENHUB_WEB_PORT", &cfg.Web.Port)
	setEnvValue("GREENHUB_API_URL", &cfg.Api.BaseURL)
	setEnvValue("GREENHUB_WS_URL", &cfg.Api.WsURL)
	setEnvValue("GREENHUB_API_TOKEN", &cfg.Api.Token)
	setEnvDuration("GREENHUB_API_TIMEOUT", &cfg.Api.Timeout)
	setEnvInt("GREENHUB_MAX_RECONNECT_ATTEMPTS", &cfg.Socket.MaxReconnectAttempts)
	setEnvValue("GREENHUB_RESYNC_SPEC", &cfg.Sync.ResyncSpec)
	setEnvValue("GREENHUB_LOGGER_MODE", &cfg.Logger.Mode)
	setEnvBool("GREENHUB_LOGGER_FILE_ENABLE", &cfg.Logger.FileEnable)
}

// Validate rejects settings the components cannot run with.
func (c *AppConfig) Validate() error {
	if c.Api.BaseURL == "" {
		return errors.New("api.base_url is required")
	}
	if c.Api.Timeout <= 0 {
		return errors.Errorf("api.timeout must be positive, got %s", c.Api.Timeout)
	}
	if c.Socket.MaxReconnectAttempts <= 0 {
		return errors.Errorf("socket.max_reconnect_attempts must be positive, got %d", c.Socket.MaxReconnectAttempts)
	}
	if c.Socket.ReconnectDelay <= 0 || c.Socket.ReconnectDelayMax < c.Socket.ReconnectDelay {
		return errors.Errorf("socket reconnect delays invalid: %s..%s", c.Socket.ReconnectDelay, c.Socket.ReconnectDelayMax)
	}
	if c.Sync.Workers <= 0 {
		c.Sync.Workers = 1
	}
	if c.Sync.LogCapacity <= 0 {
		c.Sync.LogCapacity = 100
	}
	return nil
}
