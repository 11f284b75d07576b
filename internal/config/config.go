// Package config loads server configuration from the environment.
package config

import (
	"fmt"

	"github.com/kelseyhightower/envconfig"
)

// Config is the full server configuration. Values come from KEYSERVER_*
// environment variables, e.g. KEYSERVER_SERVER_PORT, KEYSERVER_MONGO_URI.
type Config struct {
	Server    Server
	Mongo     Mongo
	Email     Email
	PublicKey PublicKey `envconfig:"PUBLICKEY"`
	Purify    Purify
	Syslog    Syslog
	Debug     bool `default:"false"`
}

type Server struct {
	Host     string `default:"0.0.0.0"`
	Port     int    `default:"8888"`
	Cors     bool   `default:"true"`
	Security bool   `default:"true"`
	Csp      bool   `default:"true"`
}

type Mongo struct {
	URI      string `default:"localhost/keyserver"`
	User     string
	Pass     string
	Database string `default:"keyserver"`
}

type Email struct {
	Host     string `default:"localhost"`
	Port     int    `default:"465"`
	User     string
	Pass     string
	Auth     bool   `default:"true"`
	TLS      bool   `default:"true"`
	StartTLS bool   `default:"false"`
	PGP      bool   `default:"true"`
	Sender   string `default:"OpenPGP Key Server <noreply@localhost>"`
}

type PublicKey struct {
	PurgeTimeInDays int `split_words:"true" default:"14"`
	UploadRateLimit int `split_words:"true" default:"10"`
}

type Purify struct {
	PurifyKey       bool `split_words:"true" default:"true"`
	MaxNumUserEmail int  `split_words:"true" default:"20"`
	MaxNumSubkey    int  `split_words:"true" default:"20"`
	MaxNumCert      int  `split_words:"true" default:"10"`
	MaxSizeUserID   int  `split_words:"true" default:"1024"`
	MaxSizePacket   int  `split_words:"true" default:"8192"`
	MaxSizeKey      int  `split_words:"true" default:"32768"`
}

type Syslog struct {
	Host string
	Port int `default:"514"`
}

// Load reads the configuration from the environment.
func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("keyserver", &cfg); err != nil {
		return nil, fmt.Errorf("failed to process environment config: %w", err)
	}
	if cfg.Email.TLS && cfg.Email.StartTLS {
		return nil, fmt.Errorf("email.tls and email.starttls are mutually exclusive")
	}
	return &cfg, nil
}
