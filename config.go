package main

import (
	"fmt"
	"time"

	"github.com/migadu/listserv/config"
	"github.com/migadu/listserv/db"
)

// DatabaseConfig holds database configuration.
type DatabaseConfig struct {
	Host            string `toml:"host"`
	Port            string `toml:"port"`
	User            string `toml:"user"`
	Password        string `toml:"password"`
	Name            string `toml:"name"`
	TLSMode         bool   `toml:"tls"`
	MaxConns        int32  `toml:"max_conns"`
	MinConns        int32  `toml:"min_conns"`
	MaxConnLifetime string `toml:"max_conn_lifetime"`
	MaxConnIdleTime string `toml:"max_conn_idle_time"`
}

// PoolConfig converts the TOML pool settings into db.PoolConfig.
func (c *DatabaseConfig) PoolConfig() (*db.PoolConfig, error) {
	pool := &db.PoolConfig{
		MaxConns: c.MaxConns,
		MinConns: c.MinConns,
	}
	if c.MaxConnLifetime != "" {
		d, err := time.ParseDuration(c.MaxConnLifetime)
		if err != nil {
			return nil, fmt.Errorf("invalid max_conn_lifetime: %w", err)
		}
		pool.MaxConnLifetime = d
	}
	if c.MaxConnIdleTime != "" {
		d, err := time.ParseDuration(c.MaxConnIdleTime)
		if err != nil {
			return nil, fmt.Errorf("invalid max_conn_idle_time: %w", err)
		}
		pool.MaxConnIdleTime = d
	}
	return pool, nil
}

// IMAPSourceConfig holds the connection settings of the polled inbox.
type IMAPSourceConfig struct {
	Host      string `toml:"host"`
	Port      int    `toml:"port"`
	Username  string `toml:"username"`
	Password  string `toml:"password"`
	TLS       bool   `toml:"tls"`
	TLSVerify bool   `toml:"tls_verify"`
}

// SMTPConfig holds the smarthost used for all outgoing mail.
type SMTPConfig struct {
	Host        string `toml:"host"` // host:port
	Username    string `toml:"username"`
	Password    string `toml:"password"`
	FromName    string `toml:"from_name"`
	FromAddress string `toml:"from_address"`
	TLS         bool   `toml:"tls"`
	StartTLS    bool   `toml:"starttls"`
	TLSVerify   bool   `toml:"tls_verify"`
}

// HTTPAPIConfig holds the HTTP API server configuration.
type HTTPAPIConfig struct {
	Addr         string   `toml:"addr"`
	APIKey       string   `toml:"api_key"`
	AllowedHosts []string `toml:"allowed_hosts"`
	TLS          bool     `toml:"tls"`
	TLSCertFile  string   `toml:"tls_cert_file"`
	TLSKeyFile   string   `toml:"tls_key_file"`
}

// Config is the top-level application configuration.
type Config struct {
	// PublicBaseURL is the externally reachable base of the HTTP API,
	// used to build moderation and unsubscribe links.
	PublicBaseURL string               `toml:"public_base_url"`
	Debug         bool                 `toml:"debug"`
	Database      DatabaseConfig       `toml:"database"`
	IMAP          IMAPSourceConfig     `toml:"imap"`
	SMTP          SMTPConfig           `toml:"smtp"`
	HTTPAPI       HTTPAPIConfig        `toml:"http_api"`
	Logging       config.LoggingConfig `toml:"logging"`
}

// newDefaultConfig creates a Config struct with default values.
func newDefaultConfig() Config {
	return Config{
		PublicBaseURL: "http://localhost:8080",
		Database: DatabaseConfig{
			Host:     "localhost",
			Port:     "5432",
			User:     "postgres",
			Name:     "listserv",
			MaxConns: 10,
			MinConns: 2,
		},
		IMAP: IMAPSourceConfig{
			Port:      993,
			TLS:       true,
			TLSVerify: true,
		},
		SMTP: SMTPConfig{
			TLS:       true,
			TLSVerify: true,
		},
		HTTPAPI: HTTPAPIConfig{
			Addr: ":8080",
		},
		Logging: config.LoggingConfig{
			Output: "stderr",
			Format: "console",
			Level:  "info",
		},
	}
}
