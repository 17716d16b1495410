// Package device hosts the reminder engine on the server: background
// wake-ups on a cron, local notifications as dispatch records, device state
// in Redis and positions pushed by the app.
package device

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ahmetcoskunkizilkaya/restroom-backend/internal/reminder"
	"github.com/getsentry/sentry-go"
	"github.com/robfig/cron/v3"
)

type backgroundKey struct{}

// WithBackground marks ctx as running inside a background wake-up.
func WithBackground(ctx context.Context) context.Context {
	return context.WithValue(ctx, backgroundKey{}, true)
}

func IsBackground(ctx context.Context) bool {
	v, _ := ctx.Value(backgroundKey{}).(bool)
	return v
}

// cronLogger adapts slog to cron.Logger.
type cronLogger struct {
	log *slog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.log.Debug("cron: "+msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.log.Error("cron: "+msg, append(keysAndValues, "error", err)...)
}

// CronHost runs per-install wake-up tasks. Each run gets a context bounded by
// the background budget and overlapping runs of one install are skipped.
type CronHost struct {
	cron   *cron.Cron
	budget time.Duration
	logger cron.Logger

	mu      sync.Mutex
	entries map[string]cron.EntryID
}

func NewCronHost(loc *time.Location, budget time.Duration) *CronHost {
	if loc == nil {
		loc = time.Local
	}
	logger := cronLogger{log: slog.Default()}
	return &CronHost{
		cron:    cron.New(cron.WithLocation(loc), cron.WithLogger(logger)),
		budget:  budget,
		logger:  logger,
		entries: make(map[string]cron.EntryID),
	}
}

func (h *CronHost) Start() {
	h.cron.Start()
}

// Stop halts scheduling and waits for running tasks until ctx expires.
func (h *CronHost) Stop(ctx context.Context) error {
	stopped := h.cron.Stop()
	select {
	case <-stopped.Done():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// AddFunc registers an unmanaged job on the host's cron, e.g. housekeeping.
func (h *CronHost) AddFunc(spec string, fn func()) (cron.EntryID, error) {
	return h.cron.AddFunc(spec, fn)
}

// Registered reports whether installID has a wake-up entry.
func (h *CronHost) Registered(installID string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	_, ok := h.entries[installID]
	return ok
}

// For returns the BackgroundRegistrar of one install.
func (h *CronHost) For(installID string) reminder.BackgroundRegistrar {
	return &installRegistrar{host: h, installID: installID}
}

func (h *CronHost) remove(installID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if id, ok := h.entries[installID]; ok {
		h.cron.Remove(id)
		delete(h.entries, installID)
	}
}

// run executes one wake-up. done cancels the run's context; it is also
// called when the task returns without calling it.
func (h *CronHost) run(installID string, task func(ctx context.Context, done func())) {
	ctx, cancel := context.WithTimeout(WithBackground(context.Background()), h.budget)
	var once sync.Once
	var signalled atomic.Bool
	done := func() {
		once.Do(func() {
			signalled.Store(true)
			cancel()
		})
	}
	defer func() {
		if r := recover(); r != nil {
			hub := sentry.CurrentHub().Clone()
			hub.Scope().SetTag("install_id", installID)
			hub.Recover(r)
			slog.Error("background task panicked", "install_id", installID, "panic", fmt.Sprint(r))
		}
		if !signalled.Load() {
			slog.Warn("background task returned without signalling completion", "install_id", installID)
		}
		once.Do(cancel)
	}()

	task(ctx, done)
}

type installRegistrar struct {
	host      *CronHost
	installID string
}

func (r *installRegistrar) Configure(_ context.Context, minInterval time.Duration, task func(ctx context.Context, done func())) error {
	if minInterval <= 0 {
		return fmt.Errorf("invalid wake interval %s", minInterval)
	}
	r.host.remove(r.installID)

	job := cron.NewChain(cron.SkipIfStillRunning(r.host.logger)).Then(cron.FuncJob(func() {
		r.host.run(r.installID, task)
	}))
	id, err := r.host.cron.AddJob("@every "+minInterval.String(), job)
	if err != nil {
		return fmt.Errorf("register wake-up: %w", err)
	}

	r.host.mu.Lock()
	r.host.entries[r.installID] = id
	r.host.mu.Unlock()
	return nil
}

func (r *installRegistrar) Stop(context.Context) error {
	r.host.remove(r.installID)
	return nil
}
