package tank

import (
	"context"
	"fmt"
	"io"
	"sync"

	"github.com/deixis/tankbridge/internal/runner"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/semaphore"
)

// CommandRunner executes a child process and waits for it.
// Implemented by runner.Runner.
type CommandRunner interface {
	Run(ctx context.Context, argv []string) (*runner.Result, error)
}

// Callback receives the outcome of a background execution. It runs on a
// goroutine owned by the Bridge, never on the caller of ExecuteAsync.
type Callback func(retcode int, out, errText string)

// Bridge runs tank commands. A Bridge is safe for concurrent use; every
// call owns its own child process and buffers.
type Bridge struct {
	runner CommandRunner
	log    logrus.FieldLogger
	sem    *semaphore.Weighted // nil when background executions are unbounded
	wg     sync.WaitGroup
}

// Option configures a Bridge.
type Option func(*Bridge)

// WithLogger sets the logger used for bridge diagnostics.
func WithLogger(l logrus.FieldLogger) Option {
	return func(b *Bridge) {
		b.log = l
	}
}

// WithAsyncLimit bounds the number of background executions running at
// once. Extra executions wait for a slot; ExecuteAsync still returns
// immediately. n <= 0 means unbounded.
func WithAsyncLimit(n int) Option {
	return func(b *Bridge) {
		if n > 0 {
			b.sem = semaphore.NewWeighted(int64(n))
		} else {
			b.sem = nil
		}
	}
}

// New creates a Bridge backed by r.
func New(r CommandRunner, opts ...Option) *Bridge {
	discard := logrus.New()
	discard.SetOutput(io.Discard)

	b := &Bridge{runner: r, log: discard}
	for _, o := range opts {
		o(b)
	}
	return b
}

// Execute validates req, runs the tank script and returns its outcome.
// It never fails: validation errors, launch errors and panics are all
// reported as a Result with SentinelExitCode and the error text in Stderr.
func (b *Bridge) Execute(ctx context.Context, host Host, req Request) (res Result) {
	log := b.log.WithFields(logrus.Fields{
		"config_path": req.ConfigPath,
		"command":     req.Command,
	})

	defer func() {
		if p := recover(); p != nil {
			log.WithField("panic", p).Error("tank execution panicked")
			res = faultResult(fmt.Errorf("tank execution panicked: %v", p))
		}
	}()

	notifyHost(log, host)

	res, err := b.execute(ctx, req)
	if err != nil {
		log.WithError(err).Warn("tank execution failed")
		return faultResult(err)
	}
	log.WithField("retcode", res.ExitCode).Debug("tank execution finished")
	return res
}

func (b *Bridge) execute(ctx context.Context, req Request) (Result, error) {
	if err := Verify(req.ConfigPath, req.Command); err != nil {
		return Result{}, err
	}

	argv := req.argv()
	out, err := b.runner.Run(ctx, argv)
	if err != nil {
		return Result{}, &ExecutionFaultError{Script: argv[0], Err: err}
	}
	return Result{
		ExitCode: out.ExitCode,
		Stdout:   out.Stdout,
		Stderr:   out.Stderr,
	}, nil
}

// ExecuteAsync validates req on the calling goroutine and returns the
// *InvalidArgumentError if it fails; cb is then never invoked. Otherwise it
// schedules Execute on a new goroutine and returns immediately. cb is
// invoked exactly once with the unpacked Result. A nil cb discards it.
func (b *Bridge) ExecuteAsync(ctx context.Context, host Host, req Request, cb Callback) error {
	if err := Verify(req.ConfigPath, req.Command); err != nil {
		return err
	}

	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		res := b.executeScheduled(ctx, host, req)
		b.deliver(req, cb, res)
	}()
	return nil
}

// executeScheduled waits for a free slot when the bridge is bounded.
func (b *Bridge) executeScheduled(ctx context.Context, host Host, req Request) Result {
	if b.sem != nil {
		if err := b.sem.Acquire(ctx, 1); err != nil {
			return faultResult(fmt.Errorf("waiting for an execution slot: %w", err))
		}
		defer b.sem.Release(1)
	}
	return b.Execute(ctx, host, req)
}

func (b *Bridge) deliver(req Request, cb Callback, res Result) {
	if cb == nil {
		return
	}
	defer func() {
		if p := recover(); p != nil {
			b.log.WithFields(logrus.Fields{
				"command": req.Command,
				"panic":   p,
			}).Error("tank callback panicked")
		}
	}()
	cb(res.ExitCode, res.Stdout, res.Stderr)
}

// Wait blocks until every execution scheduled by ExecuteAsync has finished
// and its callback has returned.
func (b *Bridge) Wait() {
	b.wg.Wait()
}

func notifyHost(log logrus.FieldLogger, host Host) {
	if host == nil {
		return
	}
	defer func() {
		if p := recover(); p != nil {
			log.WithField("panic", p).Warn("host log failed")
		}
	}()
	host.Log(HostLogMessage)
}
