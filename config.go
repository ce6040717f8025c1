package codex

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"
	"golang.org/x/xerrors"
)

// Config holds connection settings for Connect.
type Config struct {
	Hosts    []string // first entry is primary, the rest are fallbacks
	Port     int
	User     string
	Password string
	Database string
	Schema   string // optional search_path schema
	MaxConns int32
}

// LoadConfig reads settings from an optional config file plus CODEX_*
// environment overrides (CODEX_HOSTS, CODEX_USER, ...). A missing file is
// fine; env and defaults still apply. Pass "" to skip the file entirely.
func LoadConfig(path string) (Config, error) {
	v := viper.New()
	v.SetDefault("hosts", []string{"127.0.0.1"})
	v.SetDefault("port", 5432)
	v.SetDefault("user", "postgres")
	v.SetDefault("password", "")
	v.SetDefault("database", "codex")
	v.SetDefault("schema", "")
	v.SetDefault("max_conns", 8)

	v.SetEnvPrefix("CODEX")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, xerrors.Errorf("read config %s: %w", path, err)
		}
	}

	return Config{
		Hosts:    v.GetStringSlice("hosts"),
		Port:     v.GetInt("port"),
		User:     v.GetString("user"),
		Password: v.GetString("password"),
		Database: v.GetString("database"),
		Schema:   v.GetString("schema"),
		MaxConns: int32(v.GetInt("max_conns")),
	}, nil
}

// connString renders the keyword/value form pgx parses. Only set keys are
// emitted.
func (c Config) connString() string {
	var b strings.Builder
	pairs := []struct{ k, v string }{
		{"user", c.User},
		{"password", c.Password},
		{"dbname", c.Database},
	}
	if len(c.Hosts) > 0 {
		pairs = append(pairs, struct{ k, v string }{"host", c.Hosts[0]})
	}
	if c.Port > 0 {
		pairs = append(pairs, struct{ k, v string }{"port", fmt.Sprintf("%d", c.Port)})
	}
	if c.MaxConns > 0 {
		pairs = append(pairs, struct{ k, v string }{"pool_max_conns", fmt.Sprintf("%d", c.MaxConns)})
	}
	if c.Schema != "" {
		pairs = append(pairs, struct{ k, v string }{"search_path", c.Schema})
	}
	for _, p := range pairs {
		if p.v == "" {
			continue
		}
		if b.Len() > 0 {
			b.WriteByte(' ')
		}
		b.WriteString(p.k + "=" + p.v)
	}
	return b.String()
}
