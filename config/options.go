// Package config normalizes user-facing pool options: a plain struct, a JSON
// config file, or a connection URL all produce the same Options value.
package config

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"net"
	"os"
	"time"

	"github.com/pkg/errors"

	"github.com/bravo1goingdark/mailpool/logger"
	"github.com/bravo1goingdark/mailpool/wellknown"
)

const (
	DefaultMaxConnections = 5
	DefaultMaxMessages    = 100
)

// Auth carries credentials. XOAuth2 wins over Pass when both are set.
type Auth struct {
	User    string `json:"user"`
	Pass    string `json:"pass,omitempty"`
	XOAuth2 string `json:"xoauth2,omitempty"`
}

// Options is the full option surface of the pool. Zero values mean "use the
// default".
type Options struct {
	Host         string `json:"host,omitempty"`
	Port         int    `json:"port,omitempty"`
	Secure       bool   `json:"secure,omitempty"`
	IgnoreTLS    bool   `json:"ignore_tls,omitempty"`
	Name         string `json:"name,omitempty"`
	LocalAddress string `json:"local_address,omitempty"`

	Auth       *Auth  `json:"auth,omitempty"`
	AuthMethod string `json:"auth_method,omitempty"`

	ConnectionTimeout time.Duration `json:"connection_timeout,omitempty"`
	GreetingTimeout   time.Duration `json:"greeting_timeout,omitempty"`
	SocketTimeout     time.Duration `json:"socket_timeout,omitempty"`

	Service string `json:"service,omitempty"`
	Debug   bool   `json:"debug,omitempty"`

	MaxConnections int `json:"max_connections,omitempty"`
	MaxMessages    int `json:"max_messages,omitempty"`
	RateLimit      int `json:"rate_limit,omitempty"`

	TLS    *tls.Config                                                     `json:"-"`
	Dial   func(ctx context.Context, network, addr string) (net.Conn, error) `json:"-"`
	Logger logger.Logger                                                   `json:"-"`
}

// Normalize resolves the service shortcut and fills in defaults. Explicit
// values always win over well-known service values.
func (o *Options) Normalize() {
	if o.Service != "" {
		if svc, ok := wellknown.Lookup(o.Service); ok {
			if o.Host == "" {
				o.Host = svc.Host
			}
			if o.Port == 0 {
				o.Port = svc.Port
				if !o.Secure {
					o.Secure = svc.Secure
				}
			}
		}
	}
	if o.Host == "" {
		o.Host = "localhost"
	}
	if o.Port == 0 {
		if o.Secure {
			o.Port = 465
		} else {
			o.Port = 25
		}
	}
	if o.MaxConnections <= 0 {
		o.MaxConnections = DefaultMaxConnections
	}
	if o.MaxMessages <= 0 {
		o.MaxMessages = DefaultMaxMessages
	}
}

// Validate checks option sanity after Normalize.
func (o *Options) Validate() error {
	if o.Port < 1 || o.Port > 65535 {
		return errors.Errorf("port must be between 1 and 65535, got %d", o.Port)
	}
	if o.RateLimit < 0 {
		return errors.New("rate_limit cannot be negative")
	}
	if o.MaxConnections < 1 {
		return errors.New("max_connections must be at least 1")
	}
	if o.MaxMessages < 1 {
		return errors.New("max_messages must be at least 1")
	}
	return nil
}

// Load reads options from a JSON file, then normalizes and validates them.
// It never terminates the process; callers handle returned errors.
func Load(path string) (*Options, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrapf(err, "open config %q", path)
	}
	defer func() { _ = file.Close() }()

	var opts Options
	if err := json.NewDecoder(file).Decode(&opts); err != nil {
		return nil, errors.Wrap(err, "decode config JSON")
	}
	opts.Normalize()
	if err := opts.Validate(); err != nil {
		return nil, errors.Wrap(err, "validate config")
	}
	return &opts, nil
}
