package device

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/ahmetcoskunkizilkaya/restroom-backend/internal/reminder"
)

// highAccuracyMeters is the worst reported accuracy a high-accuracy read accepts.
const highAccuracyMeters = 100

var ErrPositionUnavailable = errors.New("no recent position reported")

// PositionReport is what the app pushes about its location.
type PositionReport struct {
	Lat        float64
	Lng        float64
	Accuracy   float64
	Permission reminder.PermissionLevel
	At         time.Time
}

// PositionCache serves reminder.PositionProvider from reports the app pushes.
// A read waits for a fresh report up to the foreground or background timeout.
type PositionCache struct {
	maxAge            time.Duration
	foregroundTimeout time.Duration
	backgroundTimeout time.Duration
	now               func() time.Time

	mu       sync.Mutex
	reports  map[string]PositionReport
	waiters  map[string][]chan struct{}
	watchers map[string]map[int]func(reminder.Position)
	nextSub  int
}

func NewPositionCache(maxAge, foregroundTimeout, backgroundTimeout time.Duration) *PositionCache {
	return &PositionCache{
		maxAge:            maxAge,
		foregroundTimeout: foregroundTimeout,
		backgroundTimeout: backgroundTimeout,
		now:               time.Now,
		reports:           make(map[string]PositionReport),
		waiters:           make(map[string][]chan struct{}),
		watchers:          make(map[string]map[int]func(reminder.Position)),
	}
}

// Report records the latest position of an install and wakes pending reads.
func (c *PositionCache) Report(installID string, r PositionReport) {
	if r.At.IsZero() {
		r.At = c.now()
	}
	c.mu.Lock()
	if prev, ok := c.reports[installID]; ok && r.Permission == "" {
		r.Permission = prev.Permission
	}
	c.reports[installID] = r
	waiters := c.waiters[installID]
	delete(c.waiters, installID)
	var watchers []func(reminder.Position)
	for _, fn := range c.watchers[installID] {
		watchers = append(watchers, fn)
	}
	c.mu.Unlock()

	for _, w := range waiters {
		close(w)
	}
	pos := toPosition(r)
	for _, fn := range watchers {
		fn(pos)
	}
}

func toPosition(r PositionReport) reminder.Position {
	return reminder.Position{Lat: r.Lat, Lng: r.Lng, Accuracy: r.Accuracy, At: r.At}
}

func (c *PositionCache) For(installID string) reminder.PositionProvider {
	return &installPositions{cache: c, installID: installID}
}

// lookup returns a usable report, or a wait channel closed on the next report.
func (c *PositionCache) lookup(installID string, accuracy reminder.Accuracy) (reminder.Position, <-chan struct{}, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	r, ok := c.reports[installID]
	if ok && r.Permission == reminder.PermissionDenied {
		return reminder.Position{}, nil, reminder.ErrPermissionDenied
	}
	fresh := ok && c.now().Sub(r.At) <= c.maxAge
	precise := accuracy != reminder.AccuracyHigh || r.Accuracy <= highAccuracyMeters
	if fresh && precise {
		return toPosition(r), nil, nil
	}
	ch := make(chan struct{})
	c.waiters[installID] = append(c.waiters[installID], ch)
	return reminder.Position{}, ch, nil
}

// dropWaiter forgets a wait channel whose read gave up before a report came.
func (c *PositionCache) dropWaiter(installID string, ch <-chan struct{}) {
	c.mu.Lock()
	defer c.mu.Unlock()
	waiters := c.waiters[installID]
	for i, w := range waiters {
		if w == ch {
			waiters = append(waiters[:i], waiters[i+1:]...)
			break
		}
	}
	if len(waiters) == 0 {
		delete(c.waiters, installID)
		return
	}
	c.waiters[installID] = waiters
}

func (c *PositionCache) pendingReads(installID string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.waiters[installID])
}

type installPositions struct {
	cache     *PositionCache
	installID string
}

func (p *installPositions) CurrentPosition(ctx context.Context, accuracy reminder.Accuracy) (reminder.Position, error) {
	timeout := p.cache.foregroundTimeout
	if IsBackground(ctx) {
		timeout = p.cache.backgroundTimeout
	}
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	for {
		pos, wait, err := p.cache.lookup(p.installID, accuracy)
		if err != nil || wait == nil {
			return pos, err
		}
		select {
		case <-wait:
		case <-timer.C:
			p.cache.dropWaiter(p.installID, wait)
			return reminder.Position{}, ErrPositionUnavailable
		case <-ctx.Done():
			p.cache.dropWaiter(p.installID, wait)
			return reminder.Position{}, ctx.Err()
		}
	}
}

func (p *installPositions) CheckPermission(context.Context) (reminder.PermissionLevel, error) {
	p.cache.mu.Lock()
	defer p.cache.mu.Unlock()
	r, ok := p.cache.reports[p.installID]
	if !ok || r.Permission == "" {
		return reminder.PermissionPrompt, nil
	}
	return r.Permission, nil
}

type subscription struct {
	once sync.Once
	stop func()
}

func (s *subscription) Unsubscribe() {
	s.once.Do(s.stop)
}

func (p *installPositions) Watch(ctx context.Context, fn func(reminder.Position)) (reminder.Subscription, error) {
	c := p.cache
	c.mu.Lock()
	c.nextSub++
	id := c.nextSub
	if c.watchers[p.installID] == nil {
		c.watchers[p.installID] = make(map[int]func(reminder.Position))
	}
	c.watchers[p.installID][id] = fn
	c.mu.Unlock()

	stopped := make(chan struct{})
	sub := &subscription{stop: func() {
		c.mu.Lock()
		delete(c.watchers[p.installID], id)
		c.mu.Unlock()
		close(stopped)
	}}
	go func() {
		select {
		case <-ctx.Done():
			sub.Unsubscribe()
		case <-stopped:
		}
	}()
	return sub, nil
}
