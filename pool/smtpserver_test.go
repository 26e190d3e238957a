package pool

import (
	"bufio"
	"bytes"
	"encoding/base64"
	"fmt"
	"net"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// fakeSession records what one client connection did.
type fakeSession struct {
	msgs int
}

// fakeServer is a scripted SMTP server for failure injection: sender
// rejection, stalled recipients, auth checks and forced socket kills.
type fakeServer struct {
	t  *testing.T
	ln net.Listener
	wg sync.WaitGroup

	mu               sync.Mutex
	done             chan struct{}
	authUser         string
	authPass         string
	closeAfterBanner bool
	conns            map[net.Conn]struct{}
	sessions         []*fakeSession
	bodies           []string
	rejectFrom       map[string]bool
	stallRcpt        map[string]bool
}

func newFakeServer(t *testing.T) *fakeServer {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	s := &fakeServer{
		t:          t,
		ln:         ln,
		done:       make(chan struct{}),
		conns:      make(map[net.Conn]struct{}),
		rejectFrom: make(map[string]bool),
		stallRcpt:  make(map[string]bool),
	}
	s.wg.Add(1)
	go s.acceptLoop()
	t.Cleanup(s.stop)
	return s
}

func (s *fakeServer) port() int {
	return s.ln.Addr().(*net.TCPAddr).Port
}

func (s *fakeServer) setAuth(user, pass string) {
	s.mu.Lock()
	s.authUser, s.authPass = user, pass
	s.mu.Unlock()
}

func (s *fakeServer) setCloseAfterBanner() {
	s.mu.Lock()
	s.closeAfterBanner = true
	s.mu.Unlock()
}

func (s *fakeServer) setRejectFrom(addr string) {
	s.mu.Lock()
	s.rejectFrom[addr] = true
	s.mu.Unlock()
}

func (s *fakeServer) setStallRcpt(addr string) {
	s.mu.Lock()
	s.stallRcpt[addr] = true
	s.mu.Unlock()
}

func (s *fakeServer) stop() {
	s.mu.Lock()
	select {
	case <-s.done:
	default:
		close(s.done)
	}
	s.mu.Unlock()
	_ = s.ln.Close()
	s.killConns()
	s.wg.Wait()
}

// killConns force-closes every live client socket, simulating a server-side
// connection purge.
func (s *fakeServer) killConns() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for c := range s.conns {
		_ = c.Close()
	}
}

func (s *fakeServer) sessionCounts() []int {
	s.mu.Lock()
	defer s.mu.Unlock()
	counts := make([]int, 0, len(s.sessions))
	for _, sess := range s.sessions {
		counts = append(counts, sess.msgs)
	}
	return counts
}

func (s *fakeServer) totalMessages() int {
	total := 0
	for _, c := range s.sessionCounts() {
		total += c
	}
	return total
}

func (s *fakeServer) allBodies() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.bodies...)
}

func (s *fakeServer) acceptLoop() {
	defer s.wg.Done()
	for {
		conn, err := s.ln.Accept()
		if err != nil {
			return
		}
		s.mu.Lock()
		s.conns[conn] = struct{}{}
		sess := &fakeSession{}
		s.sessions = append(s.sessions, sess)
		s.mu.Unlock()

		s.wg.Add(1)
		go s.handle(conn, sess)
	}
}

func (s *fakeServer) handle(conn net.Conn, sess *fakeSession) {
	defer s.wg.Done()
	defer func() {
		s.mu.Lock()
		delete(s.conns, conn)
		s.mu.Unlock()
		_ = conn.Close()
	}()

	s.mu.Lock()
	authUser, authPass := s.authUser, s.authPass
	closeAfterBanner := s.closeAfterBanner
	s.mu.Unlock()

	r := bufio.NewReader(conn)
	w := bufio.NewWriter(conn)
	reply := func(line string) bool {
		_, err := w.WriteString(line + "\r\n")
		if err != nil {
			return false
		}
		return w.Flush() == nil
	}

	if !reply("220 fake ESMTP ready") {
		return
	}
	if closeAfterBanner {
		return
	}

	for {
		line, err := r.ReadString('\n')
		if err != nil {
			return
		}
		cmd := strings.TrimRight(line, "\r\n")
		upper := strings.ToUpper(cmd)

		switch {
		case strings.HasPrefix(upper, "EHLO"), strings.HasPrefix(upper, "HELO"):
			if authUser != "" {
				if !reply("250-fake") || !reply("250 AUTH PLAIN LOGIN") {
					return
				}
			} else {
				if !reply("250-fake") || !reply("250 8BITMIME") {
					return
				}
			}

		case strings.HasPrefix(upper, "AUTH PLAIN"):
			payload := strings.TrimSpace(cmd[len("AUTH PLAIN"):])
			decoded, err := base64.StdEncoding.DecodeString(payload)
			parts := bytes.Split(decoded, []byte{0})
			if err == nil && len(parts) == 3 &&
				string(parts[1]) == authUser && string(parts[2]) == authPass {
				if !reply("235 2.7.0 authentication successful") {
					return
				}
			} else {
				if !reply("535 5.7.8 authentication failed") {
					return
				}
			}

		case strings.HasPrefix(upper, "MAIL FROM:"):
			addr := extractAddr(cmd)
			s.mu.Lock()
			rejected := s.rejectFrom[addr]
			s.mu.Unlock()
			if rejected {
				if !reply(fmt.Sprintf("550 5.1.0 sender %s rejected", addr)) {
					return
				}
			} else if !reply("250 OK") {
				return
			}

		case strings.HasPrefix(upper, "RCPT TO:"):
			addr := extractAddr(cmd)
			s.mu.Lock()
			stalled := s.stallRcpt[addr]
			s.mu.Unlock()
			if stalled {
				// Never acknowledge; hold the line until the client gives
				// up or the server shuts down.
				select {
				case <-s.done:
					return
				case <-time.After(5 * time.Second):
					return
				}
			}
			if !reply("250 OK") {
				return
			}

		case upper == "DATA":
			if !reply("354 end data with <CRLF>.<CRLF>") {
				return
			}
			var body strings.Builder
			for {
				l, err := r.ReadString('\n')
				if err != nil {
					return
				}
				if l == ".\r\n" {
					break
				}
				body.WriteString(l)
			}
			s.mu.Lock()
			s.bodies = append(s.bodies, body.String())
			sess.msgs++
			s.mu.Unlock()
			if !reply("250 2.0.0 queued") {
				return
			}

		case upper == "NOOP":
			if !reply("250 OK") {
				return
			}

		case upper == "RSET":
			if !reply("250 OK") {
				return
			}

		case upper == "QUIT":
			reply("221 bye")
			return

		default:
			if !reply("250 OK") {
				return
			}
		}
	}
}

func extractAddr(cmd string) string {
	start := strings.Index(cmd, "<")
	end := strings.Index(cmd, ">")
	if start < 0 || end < start {
		return ""
	}
	return cmd[start+1 : end]
}
