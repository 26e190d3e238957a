package pool

import (
	"context"

	"github.com/bravo1goingdark/mailpool/smtpconn"
)

// resource is one pooled slot: it owns at most one SMTP connection and
// carries at most one submission at a time. The dispatcher mutates
// available and pool membership under the pool mutex; the fields below the
// connection are only touched by the single in-flight goroutine.
type resource struct {
	pool *Pool
	id   int

	available bool

	connected bool
	messages  int
	conn      *smtpconn.Client
}

// process drives one submission through the resource: lazy connect and
// login, a liveness probe on reused connections, then the send itself.
// Runs in its own goroutine; the dispatcher has already marked the resource
// unavailable and charged the rate limiter.
func (r *resource) process(sub *submission) {
	ctx := context.Background()

	if !r.connected {
		conn := smtpconn.New(r.pool.connConfig())
		if err := conn.Connect(ctx); err != nil {
			r.pool.resourceFailed(r, sub, err)
			return
		}
		if err := conn.Login(ctx); err != nil {
			conn.Close()
			r.pool.resourceFailed(r, sub, err)
			return
		}
		r.conn = conn
		r.connected = true
	} else if r.messages > 0 {
		// A connection that died while the resource sat idle must not
		// fail the submission: retire the slot and requeue the mail.
		if err := r.conn.Noop(); err != nil {
			r.pool.resourceStale(r, sub, err)
			return
		}
	}

	env, err := sub.msg.Envelope()
	if err != nil {
		// Bad message, healthy connection: report to the caller and put
		// the resource back into rotation.
		r.pool.sendFinished(r, sub, nil, err)
		return
	}

	if err := r.conn.Send(ctx, env, sub.msg.NewReader()); err != nil {
		r.messages++
		r.pool.resourceFailed(r, sub, err)
		return
	}
	r.messages++

	info := &SendInfo{Envelope: env, MessageID: sub.msg.MessageID()}
	r.pool.sendFinished(r, sub, info, nil)
}

// closeConn tears down the owned connection. Idempotent.
func (r *resource) closeConn() {
	if r.conn != nil {
		_ = r.conn.Quit()
		r.conn.Close()
		r.conn = nil
	}
	r.connected = false
}
