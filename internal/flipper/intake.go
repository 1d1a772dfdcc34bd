package flipper

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/rovshanmuradov/katz-bot/internal/domain"
)

type intakeJob struct {
	token domain.TokenCandidate
	done  chan error
}

// intake runs accepted tokens one at a time. The spacing between jobs grows
// with the backlog so bursts of discoveries do not flood the tx queue.
type intake struct {
	cfg     IntakeConfig
	limiter *rate.Limiter
	logger  *zap.Logger

	mu     sync.Mutex
	jobs   []*intakeJob
	closed bool
	signal chan struct{}
}

func newIntake(cfg IntakeConfig, logger *zap.Logger) *intake {
	return &intake{
		cfg:     cfg,
		limiter: rate.NewLimiter(rate.Every(cfg.Interval(0)), 1),
		logger:  logger,
		signal:  make(chan struct{}, 1),
	}
}

func (in *intake) add(token domain.TokenCandidate) (*intakeJob, error) {
	in.mu.Lock()
	defer in.mu.Unlock()
	if in.closed {
		return nil, domain.ErrEngineStopped
	}
	job := &intakeJob{token: token, done: make(chan error, 1)}
	in.jobs = append(in.jobs, job)
	in.adjustLocked()

	select {
	case in.signal <- struct{}{}:
	default:
	}
	return job, nil
}

func (in *intake) adjustLocked() {
	interval := in.cfg.Interval(len(in.jobs))
	if in.limiter.Limit() != rate.Every(interval) {
		in.limiter.SetLimit(rate.Every(interval))
		in.logger.Debug("Adjusted intake interval",
			zap.Duration("interval", interval),
			zap.Int("queued", len(in.jobs)))
	}
}

// interval reports the current spacing.
func (in *intake) interval() time.Duration {
	in.mu.Lock()
	defer in.mu.Unlock()
	return in.cfg.Interval(len(in.jobs))
}

func (in *intake) size() int {
	in.mu.Lock()
	defer in.mu.Unlock()
	return len(in.jobs)
}

func (in *intake) next() (*intakeJob, bool) {
	in.mu.Lock()
	defer in.mu.Unlock()
	if in.closed || len(in.jobs) == 0 {
		return nil, in.closed
	}
	job := in.jobs[0]
	in.jobs[0] = nil
	in.jobs = in.jobs[1:]
	in.adjustLocked()
	return job, false
}

func (in *intake) isClosed() bool {
	in.mu.Lock()
	defer in.mu.Unlock()
	return in.closed
}

// run handles jobs until the intake is cleared or ctx ends.
func (in *intake) run(ctx context.Context, handle func(context.Context, domain.TokenCandidate) error) {
	for {
		job, closed := in.next()
		if closed {
			return
		}
		if job == nil {
			select {
			case <-in.signal:
				continue
			case <-ctx.Done():
				in.clear(domain.ErrEngineStopped)
				return
			}
		}

		if err := in.limiter.Wait(ctx); err != nil {
			job.done <- domain.ErrEngineStopped
			in.clear(domain.ErrEngineStopped)
			return
		}
		if in.isClosed() {
			job.done <- domain.ErrEngineStopped
			return
		}
		job.done <- handle(ctx, job.token)
	}
}

// clear rejects queued jobs with err and stops accepting new ones. A job
// already being handled finishes normally.
func (in *intake) clear(err error) int {
	in.mu.Lock()
	jobs := in.jobs
	in.jobs = nil
	in.closed = true
	in.mu.Unlock()

	for _, job := range jobs {
		job.done <- err
	}
	select {
	case in.signal <- struct{}{}:
	default:
	}
	return len(jobs)
}
