// Package config loads rpcserver settings from a YAML file, a .env file and
// JSONRPC_* environment variables, in increasing order of precedence.
package config

import (
	"encoding/base64"
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// EnvPrefix prefixes every environment override, e.g. JSONRPC_HTTP_ADDRESS.
const EnvPrefix = "JSONRPC"

type Config struct {
	HTTP    HTTP    `mapstructure:"http"`
	RPC     RPC     `mapstructure:"rpc"`
	Log     Log     `mapstructure:"log"`
	Lua     Lua     `mapstructure:"lua"`
	KV      KV      `mapstructure:"kv"`
	Auth    Auth    `mapstructure:"auth"`
	Session Session `mapstructure:"session"`
}

type HTTP struct {
	Address      string        `mapstructure:"address"`
	Path         string        `mapstructure:"path"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	MaxBody      int64         `mapstructure:"max_body"`
	CORSOrigins  []string      `mapstructure:"cors_origins"`
	// MaxConns caps simultaneous connections; 0 means unlimited.
	MaxConns int `mapstructure:"max_conns"`
}

type RPC struct {
	MaxBatch         int  `mapstructure:"max_batch"`
	BatchConcurrency int  `mapstructure:"batch_concurrency"`
	StrictNames      bool `mapstructure:"strict_names"`
	// EasyErrors is the code for plain Go errors; 0 disables the mode.
	EasyErrors int  `mapstructure:"easy_errors"`
	Docs       bool `mapstructure:"docs"`
}

type Log struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
	Output string `mapstructure:"output"`
}

type Lua struct {
	// Dir holds *.lua method scripts. Empty disables scripting.
	Dir string `mapstructure:"dir"`
}

type KV struct {
	// DSN is a SQLite path or URI. Empty disables the kv.* methods.
	DSN string `mapstructure:"dsn"`
}

type Auth struct {
	// Issuer enables bearer token authentication when set.
	Issuer   string `mapstructure:"issuer"`
	ClientID string `mapstructure:"client_id"`
	// Required rejects requests without a token instead of serving them
	// anonymously.
	Required bool `mapstructure:"required"`
}

type Session struct {
	KeyID string `mapstructure:"key_id"`
	// Keys are "id=base64url" pairs. Sessions are enabled when non-empty.
	Keys   []string      `mapstructure:"keys"`
	Period time.Duration `mapstructure:"period"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("http.address", ":8080")
	v.SetDefault("http.path", "/rpc")
	v.SetDefault("http.read_timeout", "10s")
	v.SetDefault("http.write_timeout", "30s")
	v.SetDefault("http.max_body", 1<<20)
	v.SetDefault("http.cors_origins", []string{})
	v.SetDefault("http.max_conns", 0)
	v.SetDefault("rpc.max_batch", 100)
	v.SetDefault("rpc.batch_concurrency", 8)
	v.SetDefault("rpc.strict_names", false)
	v.SetDefault("rpc.easy_errors", 0)
	v.SetDefault("rpc.docs", false)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("log.output", "stderr")
	v.SetDefault("lua.dir", "")
	v.SetDefault("kv.dsn", "")
	v.SetDefault("auth.issuer", "")
	v.SetDefault("auth.client_id", "")
	v.SetDefault("auth.required", false)
	v.SetDefault("session.key_id", "")
	v.SetDefault("session.keys", []string{})
	v.SetDefault("session.period", "24h")
}

// Load reads the configuration. A missing .env file is ignored; a missing
// YAML file at an explicit path is not. An empty path skips the file.
func Load(path string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("config: .env: %w", err)
	}

	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("config: reading %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate reports settings that cannot work together.
func (c *Config) Validate() error {
	if !strings.HasPrefix(c.HTTP.Path, "/") {
		return fmt.Errorf("config: http.path %q must start with /", c.HTTP.Path)
	}
	if c.HTTP.MaxConns < 0 {
		return fmt.Errorf("config: http.max_conns must not be negative")
	}
	if c.Auth.Issuer != "" && c.Auth.ClientID == "" {
		return fmt.Errorf("config: auth.client_id is required with auth.issuer")
	}
	if len(c.Session.Keys) > 0 {
		keys, err := c.Session.DecodeKeys()
		if err != nil {
			return err
		}
		if _, ok := keys[c.Session.KeyID]; !ok {
			return fmt.Errorf("config: session.key_id %q not among session.keys", c.Session.KeyID)
		}
	}
	return nil
}

// DecodeKeys parses Keys into a key id to key map.
func (s Session) DecodeKeys() (map[string][]byte, error) {
	keys := make(map[string][]byte, len(s.Keys))
	for _, kv := range s.Keys {
		id, enc, ok := strings.Cut(strings.TrimSpace(kv), "=")
		if !ok || id == "" {
			return nil, fmt.Errorf("config: session key %q is not id=base64url", kv)
		}
		key, err := base64.RawURLEncoding.DecodeString(strings.TrimRight(enc, "="))
		if err != nil {
			return nil, fmt.Errorf("config: session key %q: %w", id, err)
		}
		keys[id] = key
	}
	return keys, nil
}
