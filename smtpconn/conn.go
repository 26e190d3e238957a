// Package smtpconn implements the SMTP client session the pool drives:
// connect, optional STARTTLS and authentication, message submission, and
// teardown. One Client owns exactly one TCP connection.
package smtpconn

import (
	"context"
	"crypto/tls"
	"io"
	"net"
	"net/smtp"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"

	"github.com/bravo1goingdark/mailpool/logger"
	"github.com/bravo1goingdark/mailpool/message"
)

// Version identifies the connection package, surfaced through the pool's
// version string.
const Version = "1.2.0"

const (
	defaultConnectionTimeout = 2 * time.Minute
	defaultGreetingTimeout   = 30 * time.Second
	defaultSocketTimeout     = 10 * time.Minute
)

// AuthConfig carries login credentials. XOAuth2 takes precedence over Pass
// when both are set.
type AuthConfig struct {
	User    string
	Pass    string
	XOAuth2 string
}

// DialFunc lets callers supply their own socket, e.g. through a proxy.
type DialFunc func(ctx context.Context, network, address string) (net.Conn, error)

// Config controls a single SMTP session.
type Config struct {
	Host         string
	Port         int
	Secure       bool // implicit TLS on connect
	IgnoreTLS    bool // never upgrade via STARTTLS
	Name         string
	LocalAddress string

	ConnectionTimeout time.Duration
	GreetingTimeout   time.Duration
	SocketTimeout     time.Duration

	TLS        *tls.Config
	Auth       *AuthConfig
	AuthMethod string

	Debug bool
	Log   logger.Logger
	Dial  DialFunc
}

func (c *Config) withDefaults() Config {
	out := *c
	if out.Host == "" {
		out.Host = "localhost"
	}
	if out.Port == 0 {
		if out.Secure {
			out.Port = 465
		} else {
			out.Port = 25
		}
	}
	if out.ConnectionTimeout <= 0 {
		out.ConnectionTimeout = defaultConnectionTimeout
	}
	if out.GreetingTimeout <= 0 {
		out.GreetingTimeout = defaultGreetingTimeout
	}
	if out.SocketTimeout <= 0 {
		out.SocketTimeout = defaultSocketTimeout
	}
	if out.Log == nil {
		out.Log = logger.Nop()
	}
	return out
}

// Client is one SMTP session. Methods are not safe for concurrent use; the
// pool serializes sends per resource.
type Client struct {
	cfg  Config
	tc   *timeoutConn
	smtp *smtp.Client
}

// New returns an unconnected client.
func New(cfg Config) *Client {
	return &Client{cfg: cfg.withDefaults()}
}

// Connect dials the server, reads the greeting, sends EHLO and upgrades to
// TLS when the server offers STARTTLS.
func (c *Client) Connect(ctx context.Context) error {
	addr := net.JoinHostPort(c.cfg.Host, strconv.Itoa(c.cfg.Port))

	dial := c.cfg.Dial
	if dial == nil {
		d := &net.Dialer{Timeout: c.cfg.ConnectionTimeout}
		if c.cfg.LocalAddress != "" {
			d.LocalAddr = &net.TCPAddr{IP: net.ParseIP(c.cfg.LocalAddress)}
		}
		dial = d.DialContext
	}

	conn, err := dial(ctx, "tcp", addr)
	if err != nil {
		return errors.Wrapf(err, "SMTP dial %s", addr)
	}

	if c.cfg.Secure {
		tlsConn := tls.Client(conn, c.tlsConfig())
		if err := tlsConn.HandshakeContext(ctx); err != nil {
			_ = conn.Close()
			return errors.Wrap(err, "TLS handshake")
		}
		conn = tlsConn
	}

	if c.cfg.Debug {
		conn = &debugConn{Conn: conn, log: c.cfg.Log}
	}

	// Only the server greeting is read under the greeting timeout; from
	// EHLO on, the inactivity timeout takes over.
	c.tc = &timeoutConn{Conn: conn, timeout: c.cfg.GreetingTimeout}

	client, err := smtp.NewClient(c.tc, c.cfg.Host)
	if err != nil {
		_ = conn.Close()
		return errors.Wrap(err, "SMTP greeting")
	}
	c.smtp = client
	c.tc.setTimeout(c.cfg.SocketTimeout)

	if ctx.Err() != nil {
		c.Close()
		return ctx.Err()
	}

	if c.cfg.Name != "" {
		if err := client.Hello(c.cfg.Name); err != nil {
			c.Close()
			return errors.Wrap(err, "EHLO")
		}
	}

	if !c.cfg.Secure && !c.cfg.IgnoreTLS {
		if ok, _ := client.Extension("STARTTLS"); ok {
			if err := client.StartTLS(c.tlsConfig()); err != nil {
				c.Close()
				return errors.Wrap(err, "STARTTLS")
			}
		}
	}

	return nil
}

func (c *Client) tlsConfig() *tls.Config {
	cfg := &tls.Config{ServerName: c.cfg.Host, MinVersion: tls.VersionTLS12}
	if c.cfg.TLS != nil {
		cfg = c.cfg.TLS.Clone()
		if cfg.ServerName == "" {
			cfg.ServerName = c.cfg.Host
		}
	}
	return cfg
}

// Login authenticates when credentials are configured. A server that does
// not advertise AUTH fails the login rather than silently skipping it.
func (c *Client) Login(ctx context.Context) error {
	if c.cfg.Auth == nil {
		return nil
	}
	if ctx.Err() != nil {
		return ctx.Err()
	}

	ok, mechs := c.smtp.Extension("AUTH")
	if !ok {
		return errors.New("SMTP auth: server does not support authentication")
	}

	auth, err := c.pickAuth(mechs)
	if err != nil {
		return err
	}
	if err := c.smtp.Auth(auth); err != nil {
		return errors.Wrap(err, "SMTP auth")
	}
	return nil
}

func (c *Client) pickAuth(advertised string) (smtp.Auth, error) {
	a := c.cfg.Auth
	method := strings.ToUpper(c.cfg.AuthMethod)
	if method == "" {
		if a.XOAuth2 != "" {
			method = "XOAUTH2"
		} else {
			method = preferredMech(advertised)
		}
	}

	switch method {
	case "PLAIN":
		return smtp.PlainAuth("", a.User, a.Pass, c.cfg.Host), nil
	case "LOGIN":
		return &loginAuth{user: a.User, pass: a.Pass}, nil
	case "CRAM-MD5":
		return smtp.CRAMMD5Auth(a.User, a.Pass), nil
	case "XOAUTH2":
		return &xoauth2Auth{user: a.User, token: a.XOAuth2}, nil
	}
	return nil, errors.Errorf("SMTP auth: unsupported mechanism %q", method)
}

func preferredMech(advertised string) string {
	offered := make(map[string]bool)
	for _, m := range strings.Fields(strings.ToUpper(advertised)) {
		offered[m] = true
	}
	for _, m := range []string{"PLAIN", "LOGIN", "CRAM-MD5"} {
		if offered[m] {
			return m
		}
	}
	return "PLAIN"
}

// Send runs one MAIL/RCPT/DATA transaction. The body is copied through the
// data writer, which applies dot-stuffing and CRLF line endings.
func (c *Client) Send(ctx context.Context, env message.Envelope, body io.Reader) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}
	if err := c.smtp.Mail(env.From); err != nil {
		return errors.Wrapf(err, "MAIL FROM %s", env.From)
	}
	for _, rcpt := range env.To {
		if err := c.smtp.Rcpt(rcpt); err != nil {
			return errors.Wrapf(err, "RCPT TO %s", rcpt)
		}
	}
	w, err := c.smtp.Data()
	if err != nil {
		return errors.Wrap(err, "DATA")
	}
	if _, err := io.Copy(w, body); err != nil {
		_ = w.Close()
		return errors.Wrap(err, "DATA copy")
	}
	if err := w.Close(); err != nil {
		return errors.Wrap(err, "DATA close")
	}
	return nil
}

// Noop probes liveness of the session.
func (c *Client) Noop() error {
	return c.smtp.Noop()
}

// Quit ends the session politely.
func (c *Client) Quit() error {
	return c.smtp.Quit()
}

// Close drops the connection. Safe on a half-initialized or already-closed
// client.
func (c *Client) Close() {
	if c.smtp != nil {
		_ = c.smtp.Close()
		c.smtp = nil
		return
	}
	if c.tc != nil {
		_ = c.tc.Close()
	}
}
