package smtpconn

import (
	"net"
	"strings"
	"time"

	"github.com/bravo1goingdark/mailpool/logger"
)

// timeoutConn refreshes the socket deadline before every read and write, so
// the timeout measures inactivity rather than total session length.
type timeoutConn struct {
	net.Conn
	timeout time.Duration
}

func (c *timeoutConn) setTimeout(d time.Duration) {
	c.timeout = d
}

func (c *timeoutConn) Read(p []byte) (int, error) {
	if c.timeout > 0 {
		_ = c.Conn.SetReadDeadline(time.Now().Add(c.timeout))
	}
	return c.Conn.Read(p)
}

func (c *timeoutConn) Write(p []byte) (int, error) {
	if c.timeout > 0 {
		_ = c.Conn.SetWriteDeadline(time.Now().Add(c.timeout))
	}
	return c.Conn.Write(p)
}

// debugConn mirrors wire traffic to the logger at debug level.
type debugConn struct {
	net.Conn
	log logger.Logger
}

func (c *debugConn) Read(p []byte) (int, error) {
	n, err := c.Conn.Read(p)
	if n > 0 {
		for _, line := range wireLines(p[:n]) {
			c.log.Debugf("S: %s", line)
		}
	}
	return n, err
}

func (c *debugConn) Write(p []byte) (int, error) {
	n, err := c.Conn.Write(p)
	if n > 0 {
		for _, line := range wireLines(p[:n]) {
			c.log.Debugf("C: %s", line)
		}
	}
	return n, err
}

func wireLines(p []byte) []string {
	s := strings.TrimRight(string(p), "\r\n")
	if s == "" {
		return nil
	}
	lines := strings.Split(s, "\r\n")
	for i, l := range lines {
		lines[i] = strings.TrimRight(l, "\r")
	}
	return lines
}
