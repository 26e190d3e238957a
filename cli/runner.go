package cli

import (
	"context"
	"encoding/json"
	"time"

	"github.com/pkg/errors"

	"github.com/bravo1goingdark/mailpool/config"
	"github.com/bravo1goingdark/mailpool/database"
	"github.com/bravo1goingdark/mailpool/logger"
	"github.com/bravo1goingdark/mailpool/message"
	"github.com/bravo1goingdark/mailpool/pool"
	"github.com/bravo1goingdark/mailpool/scheduler"
)

// sendPayload is the JSON body persisted for scheduled jobs.
type sendPayload struct {
	To      string `json:"to"`
	From    string `json:"from"`
	Subject string `json:"subject"`
	Text    string `json:"text"`
}

// Runner executes one CLI invocation.
type Runner struct {
	log logger.Logger
}

// NewRunner returns a runner logging through log.
func NewRunner(log logger.Logger) *Runner {
	return &Runner{log: log}
}

// Run dispatches the invocation: verify, direct send, or scheduler work.
func (r *Runner) Run(ctx context.Context, args Args) error {
	opts, err := r.buildOptions(args)
	if err != nil {
		return err
	}

	p, err := pool.New(opts)
	if err != nil {
		return err
	}
	defer p.Close()

	switch {
	case args.Verify:
		if err := p.Verify(ctx); err != nil {
			return errors.Wrap(err, "verification failed")
		}
		r.log.Infof("connection to %s:%d verified", opts.Host, opts.Port)
		return nil

	case args.CancelJobID != "", args.ListJobs,
		args.ScheduleAt != "", args.Interval != "", args.CronExpr != "":
		return r.runScheduler(ctx, p, args)

	default:
		return r.sendOne(ctx, p, sendPayload{
			To:      args.To,
			From:    args.From,
			Subject: args.Subject,
			Text:    args.Text,
		})
	}
}

func (r *Runner) buildOptions(args Args) (*config.Options, error) {
	var opts *config.Options
	var err error
	switch {
	case args.URL != "":
		opts, err = config.FromURL(args.URL)
	case args.ConfigPath != "":
		opts, err = config.Load(args.ConfigPath)
	default:
		return nil, errors.New("either --config or --url is required")
	}
	if err != nil {
		return nil, err
	}
	if args.Debug {
		opts.Debug = true
	}
	opts.Logger = r.log
	return opts, nil
}

func (r *Runner) sendOne(ctx context.Context, p *pool.Pool, payload sendPayload) error {
	if payload.To == "" || payload.From == "" {
		return errors.New("--to and --from are required to send")
	}
	msg := message.Compose(payload.From, []string{payload.To}, payload.Subject, payload.Text)
	info, err := p.SendContext(ctx, msg)
	if err != nil {
		return errors.Wrapf(err, "send to %s", payload.To)
	}
	r.log.Infof("sent %s to %s", info.MessageID, payload.To)
	return nil
}

func (r *Runner) runScheduler(ctx context.Context, p *pool.Pool, args Args) error {
	store, err := database.Open(args.JobsDB)
	if err != nil {
		return err
	}
	defer func() { _ = store.Close() }()

	sched := scheduler.New(store, r.log, func(job database.Job) error {
		var payload sendPayload
		if err := json.Unmarshal(job.Payload, &payload); err != nil {
			return errors.Wrapf(err, "decode payload of job %s", job.ID)
		}
		return r.sendOne(ctx, p, payload)
	})
	defer sched.Close()

	switch {
	case args.CancelJobID != "":
		if err := sched.Cancel(args.CancelJobID); err != nil {
			return err
		}
		r.log.Infof("cancelled job %s", args.CancelJobID)
		return nil

	case args.ListJobs:
		jobs := sched.List()
		if len(jobs) == 0 {
			r.log.Infof("no scheduled jobs")
			return nil
		}
		for _, j := range jobs {
			r.log.Infof("job %s: next run %s (cron=%q interval=%s)",
				j.ID, j.NextRunAt.Format(time.RFC3339), j.CronExpr, j.Interval)
		}
		return nil
	}

	payload, err := json.Marshal(sendPayload{
		To:      args.To,
		From:    args.From,
		Subject: args.Subject,
		Text:    args.Text,
	})
	if err != nil {
		return errors.Wrap(err, "encode job payload")
	}

	var id string
	switch {
	case args.ScheduleAt != "":
		runAt, err := time.Parse(time.RFC3339, args.ScheduleAt)
		if err != nil {
			return errors.Wrapf(err, "invalid --at value %q", args.ScheduleAt)
		}
		id, err = sched.ScheduleAt(runAt, payload)
		if err != nil {
			return err
		}
	case args.Interval != "":
		every, err := time.ParseDuration(args.Interval)
		if err != nil {
			return errors.Wrapf(err, "invalid --every value %q", args.Interval)
		}
		id, err = sched.ScheduleEvery(every, payload)
		if err != nil {
			return err
		}
	case args.CronExpr != "":
		id, err = sched.ScheduleCron(args.CronExpr, payload)
		if err != nil {
			return err
		}
	}

	r.log.Infof("scheduled job %s; waiting (interrupt to stop)", id)
	<-ctx.Done()
	return nil
}
