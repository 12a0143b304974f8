// Package config reads environment defaults for the CLI. Flags override them.
package config

import (
	"fmt"
	"net/url"

	"github.com/andresmejia3/vidproc/internal/utils"
	"github.com/caarlos0/env/v11"
)

type Config struct {
	FFmpegPath  string `env:"VIDPROC_FFMPEG"       envDefault:"ffmpeg"`
	FFprobePath string `env:"VIDPROC_FFPROBE"      envDefault:"ffprobe"`
	Codec       string `env:"VIDPROC_CODEC"        envDefault:"libx264"`
	Workers     int    `env:"VIDPROC_WORKERS"      envDefault:"1"`
	LogLevel    string `env:"VIDPROC_LOG_LEVEL"    envDefault:"info"`
	MetricsAddr string `env:"VIDPROC_METRICS_ADDR"`

	Postgres Postgres
}

// Postgres holds the ledger connection settings. An empty Host disables the ledger.
type Postgres struct {
	Host     string `env:"POSTGRES_HOST"`
	Port     int    `env:"POSTGRES_PORT"     envDefault:"5432"`
	User     string `env:"POSTGRES_USER"`
	Password string `env:"POSTGRES_PASSWORD"`
	DB       string `env:"POSTGRES_DB"       envDefault:"vidproc"`
	SSLMode  string `env:"POSTGRES_SSLMODE"`
}

func Load() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Tools points the ffmpeg helpers at the configured binaries.
func (c *Config) Tools() utils.Tools {
	return utils.Tools{FFmpeg: c.FFmpegPath, FFprobe: c.FFprobePath}
}

// URL builds a connection string, or returns "" when no host is configured.
func (p Postgres) URL() string {
	if p.Host == "" {
		return ""
	}
	u := &url.URL{
		Scheme: "postgres",
		Host:   fmt.Sprintf("%s:%d", p.Host, p.Port),
		Path:   "/" + p.DB,
	}
	if p.User != "" {
		if p.Password != "" {
			u.User = url.UserPassword(p.User, p.Password)
		} else {
			u.User = url.User(p.User)
		}
	}
	if p.SSLMode != "" {
		u.RawQuery = url.Values{"sslmode": {p.SSLMode}}.Encode()
	}
	return u.String()
}
