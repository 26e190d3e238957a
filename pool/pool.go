// Package pool implements a pooled SMTP sender: an unbounded stream of mail
// submissions multiplexed over a bounded set of authenticated connections,
// with a per-connection message budget and an optional per-second rate cap.
//
// The pool is a single logical actor: the queue, the resource set and the
// closed flag are only mutated under one mutex. Connection I/O runs in
// per-send goroutines and reports back through the pool's handlers.
package pool

import (
	"context"
	"sync"
	"time"

	"github.com/pkg/errors"

	"github.com/bravo1goingdark/mailpool/config"
	"github.com/bravo1goingdark/mailpool/logger"
	"github.com/bravo1goingdark/mailpool/message"
	"github.com/bravo1goingdark/mailpool/smtpconn"
)

// Name identifies the transport.
const Name = "SMTP (pool)"

// version of the pool package itself; Version() combines it with the
// connection package version.
const version = "1.2.0"

// redrainDelay spaces out dispatch retries after a resource error so a dead
// server does not trigger a reconnect storm.
const redrainDelay = 100 * time.Millisecond

// Version reports the pool and connection versions as one string.
func Version() string {
	return version + "[client:" + smtpconn.Version + "]"
}

// SendInfo is the success payload delivered to a submission's callback.
type SendInfo struct {
	Envelope  message.Envelope
	MessageID string
}

// SendCallback receives the outcome of one submission. It is invoked exactly
// once, with either info or a non-nil error.
type SendCallback func(info *SendInfo, err error)

type submission struct {
	msg  *message.Message
	done SendCallback
}

// Pool multiplexes submissions over pooled SMTP connections.
type Pool struct {
	opts config.Options
	log  logger.Logger
	rl   *rateLimiter

	mu                sync.Mutex
	closed            bool
	connectionCounter int
	resources         []*resource
	queue             []*submission
	redrainTimer      *time.Timer

	idleCh chan struct{}
}

// New builds a pool from options. The options are normalized and validated;
// the first connection is not opened until the first send.
func New(opts *config.Options) (*Pool, error) {
	o := *opts
	o.Normalize()
	if err := o.Validate(); err != nil {
		return nil, err
	}

	log := o.Logger
	if log == nil {
		if o.Debug {
			log = logger.NewDebug("smtp-pool")
		} else {
			log = logger.New("smtp-pool")
		}
	}

	return &Pool{
		opts:   o,
		log:    log,
		rl:     newRateLimiter(o.RateLimit),
		idleCh: make(chan struct{}, 1),
	}, nil
}

// NewFromURL builds a pool from a connection URL.
func NewFromURL(raw string) (*Pool, error) {
	opts, err := config.FromURL(raw)
	if err != nil {
		return nil, err
	}
	return New(opts)
}

// Send enqueues one message. done is invoked exactly once with the outcome;
// it may be called from a pool goroutine and may itself call Send.
func (p *Pool) Send(msg *message.Message, done SendCallback) {
	sub := &submission{msg: msg, done: onceCallback(done)}

	p.mu.Lock()
	p.queue = append(p.queue, sub)
	p.drainLocked()
	p.mu.Unlock()
}

// SendContext submits msg and blocks until it completes or ctx is done. The
// submission itself is not cancelled by ctx; the pool reports its outcome to
// nobody once the caller gives up.
func (p *Pool) SendContext(ctx context.Context, msg *message.Message) (*SendInfo, error) {
	type outcome struct {
		info *SendInfo
		err  error
	}
	ch := make(chan outcome, 1)
	p.Send(msg, func(info *SendInfo, err error) {
		ch <- outcome{info: info, err: err}
	})
	select {
	case out := <-ch:
		return out.info, out.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Verify opens a throwaway connection, authenticates and tears it down. The
// pool itself is not touched. The connection is closed on every path.
func (p *Pool) Verify(ctx context.Context) error {
	conn := smtpconn.New(p.connConfig())
	if err := conn.Connect(ctx); err != nil {
		return err
	}
	defer conn.Close()
	if err := conn.Login(ctx); err != nil {
		return err
	}
	_ = conn.Quit()
	return nil
}

// IsIdle reports whether a send issued right now would dispatch immediately:
// a resource is available, or there is room to create one.
func (p *Pool) IsIdle() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.isIdleLocked()
}

func (p *Pool) isIdleLocked() bool {
	if p.closed {
		return false
	}
	for _, r := range p.resources {
		if r.available {
			return true
		}
	}
	return len(p.resources) < p.opts.MaxConnections
}

// Idle delivers a coalesced signal each time a resource is re-admitted or
// removed and the pool is then in a state where a send would dispatch
// immediately. Whether the pool was already in that state is not checked.
func (p *Pool) Idle() <-chan struct{} {
	return p.idleCh
}

// Close shuts the pool down: no further dispatch happens, the rate window is
// cancelled, every available resource is closed, and submissions still
// queued are failed with ErrPoolClosed. In-flight resources close themselves
// on completion. Idempotent; re-running drains anything queued since.
func (p *Pool) Close() {
	p.mu.Lock()
	first := !p.closed
	p.closed = true
	if p.redrainTimer != nil {
		p.redrainTimer.Stop()
		p.redrainTimer = nil
	}

	var toClose []*resource
	var keep []*resource
	for _, r := range p.resources {
		if r.available {
			toClose = append(toClose, r)
		} else {
			keep = append(keep, r)
		}
	}
	p.resources = keep

	pending := p.queue
	p.queue = nil
	p.mu.Unlock()

	p.rl.stop()

	for _, r := range toClose {
		r.closeConn()
		p.logEvent(logger.EventClose, "closing idle resource #%d", r.id)
	}
	for _, sub := range pending {
		sub.done(nil, errors.WithMessage(ErrPoolClosed, "message not sent"))
	}
	if first {
		p.logEvent(logger.EventClose, "connection pool closed")
	}
}

// --- dispatcher ---

// drainLocked binds queued submissions to available resources, creating
// resources up to MaxConnections. Idempotent; safe to call on every state
// change. Caller holds p.mu.
func (p *Pool) drainLocked() {
	if p.closed {
		return
	}
	for len(p.queue) > 0 {
		r := p.firstAvailableLocked()
		if r == nil {
			if len(p.resources) >= p.opts.MaxConnections {
				return
			}
			r = p.createResourceLocked()
		}
		sub := p.queue[0]
		p.queue = p.queue[1:]
		r.available = false
		p.rl.charge()
		go r.process(sub)
	}
}

func (p *Pool) firstAvailableLocked() *resource {
	for _, r := range p.resources {
		if r.available {
			return r
		}
	}
	return nil
}

func (p *Pool) createResourceLocked() *resource {
	p.connectionCounter++
	r := &resource{pool: p, id: p.connectionCounter}
	p.resources = append(p.resources, r)
	p.logEvent(logger.EventCreated, "created resource #%d", r.id)
	return r
}

func (p *Pool) removeResourceLocked(r *resource) {
	for i, x := range p.resources {
		if x == r {
			p.resources = append(p.resources[:i], p.resources[i+1:]...)
			return
		}
	}
}

// --- resource handlers ---

// sendFinished completes one submission on a healthy resource. The callback
// runs before re-admission so a late teardown can never re-report to the
// same caller.
func (p *Pool) sendFinished(r *resource, sub *submission, info *SendInfo, err error) {
	p.mu.Lock()
	exhausted := r.messages >= p.opts.MaxMessages
	if exhausted {
		p.removeResourceLocked(r)
	}
	p.mu.Unlock()

	if err != nil {
		p.logEvent(logger.EventError, "send failed on resource #%d: %v", r.id, err)
	} else {
		p.logEvent(logger.EventMessage, "message %s delivered by resource #%d", info.MessageID, r.id)
	}
	sub.done(info, err)

	if exhausted {
		p.logEvent(logger.EventError, "resource #%d: %v", r.id, errExhausted)
		r.closeConn()
		p.logEvent(logger.EventClose, "closing exhausted resource #%d after %d messages", r.id, r.messages)
		p.afterRemoval()
		return
	}

	p.rl.run(func() { p.readmit(r) })
}

// resourceFailed tears a resource down after a connect, login or send error
// and routes the error to the exact caller whose message was in flight.
func (p *Pool) resourceFailed(r *resource, sub *submission, err error) {
	p.mu.Lock()
	p.removeResourceLocked(r)
	closed := p.closed
	if !closed && p.redrainTimer == nil {
		p.redrainTimer = time.AfterFunc(redrainDelay, p.redrain)
	}
	p.mu.Unlock()

	r.closeConn()
	p.logEvent(logger.EventError, "resource #%d failed: %v", r.id, err)
	sub.done(nil, err)

	if closed {
		p.Close()
		return
	}
	p.notifyIdle()
}

// resourceStale retires a resource whose connection died while idle. The
// submission goes back to the head of the queue; no caller sees the error.
func (p *Pool) resourceStale(r *resource, sub *submission, err error) {
	p.logEvent(logger.EventClose, "resource #%d went stale while idle: %v", r.id, err)

	p.mu.Lock()
	p.removeResourceLocked(r)
	p.queue = append([]*submission{sub}, p.queue...)
	closed := p.closed
	if !closed {
		p.drainLocked()
	}
	p.mu.Unlock()

	r.closeConn()
	if closed {
		p.Close()
	}
}

// redrain fires after redrainDelay once a resource error removed capacity.
func (p *Pool) redrain() {
	p.mu.Lock()
	p.redrainTimer = nil
	p.drainLocked()
	p.mu.Unlock()
}

// readmit marks a resource available again after rate-limit clearance. An
// availability signal on a closed pool turns into a close request.
func (p *Pool) readmit(r *resource) {
	p.mu.Lock()
	if p.closed {
		p.removeResourceLocked(r)
		p.mu.Unlock()
		r.closeConn()
		p.Close()
		return
	}
	r.available = true
	p.drainLocked()
	p.mu.Unlock()

	p.logEvent(logger.EventAvailable, "resource #%d is available", r.id)
	p.notifyIdle()
}

// afterRemoval re-evaluates dispatch and idleness once capacity was freed.
func (p *Pool) afterRemoval() {
	p.mu.Lock()
	if !p.closed {
		p.drainLocked()
	}
	closed := p.closed
	p.mu.Unlock()
	if closed {
		p.Close()
		return
	}
	p.notifyIdle()
}

// notifyIdle coalesces idle-edge notifications into the buffered channel.
func (p *Pool) notifyIdle() {
	p.mu.Lock()
	idle := p.isIdleLocked()
	p.mu.Unlock()
	if !idle {
		return
	}
	select {
	case p.idleCh <- struct{}{}:
	default:
	}
}

// --- plumbing ---

func (p *Pool) connConfig() smtpconn.Config {
	cfg := smtpconn.Config{
		Host:              p.opts.Host,
		Port:              p.opts.Port,
		Secure:            p.opts.Secure,
		IgnoreTLS:         p.opts.IgnoreTLS,
		Name:              p.opts.Name,
		LocalAddress:      p.opts.LocalAddress,
		ConnectionTimeout: p.opts.ConnectionTimeout,
		GreetingTimeout:   p.opts.GreetingTimeout,
		SocketTimeout:     p.opts.SocketTimeout,
		TLS:               p.opts.TLS,
		AuthMethod:        p.opts.AuthMethod,
		Debug:             p.opts.Debug,
		Log:               p.log,
	}
	if p.opts.Auth != nil {
		cfg.Auth = &smtpconn.AuthConfig{
			User:    p.opts.Auth.User,
			Pass:    p.opts.Auth.Pass,
			XOAuth2: p.opts.Auth.XOAuth2,
		}
	}
	if p.opts.Dial != nil {
		cfg.Dial = smtpconn.DialFunc(p.opts.Dial)
	}
	return cfg
}

func (p *Pool) logEvent(event, format string, args ...any) {
	p.log.Infof("["+event+"] "+format, args...)
}

func onceCallback(cb SendCallback) SendCallback {
	if cb == nil {
		cb = func(*SendInfo, error) {}
	}
	var once sync.Once
	return func(info *SendInfo, err error) {
		once.Do(func() { cb(info, err) })
	}
}
