package device

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"sync"
	"time"

	"github.com/ahmetcoskunkizilkaya/restroom-backend/internal/models"
	"github.com/ahmetcoskunkizilkaya/restroom-backend/internal/reminder"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

var (
	ErrInvalidInstall = errors.New("invalid install id")
	ErrUnknownInstall = errors.New("install has not been configured")
)

var installIDPattern = regexp.MustCompile(`^[A-Za-z0-9_-]{8,64}$`)

// ToiletLookup resolves content for detail-view reminders.
type ToiletLookup interface {
	Get(ctx context.Context, id uuid.UUID) (*models.Toilet, error)
}

// ReviewLookup reports whether a user has already reviewed content.
type ReviewLookup interface {
	HasReviewed(ctx context.Context, userID, toiletID uuid.UUID) (bool, error)
}

type RegistryDeps struct {
	Hub       *NotificationHub
	Host      *CronHost
	Positions *PositionCache
	// Redis holds device state; nil keeps it in memory.
	Redis    *redis.Client
	Content  reminder.ContentFinder
	Messages reminder.Messages
	Toilets  ToiletLookup
	Reviews  ReviewLookup
	Config   reminder.Config
}

// Registry owns one reminder.Scheduler per install and is the entry point for
// the device HTTP endpoints.
type Registry struct {
	deps RegistryDeps

	mu       sync.Mutex
	installs map[string]*install
}

type install struct {
	userID uuid.UUID
	sched  *reminder.Scheduler
}

func NewRegistry(deps RegistryDeps) *Registry {
	return &Registry{deps: deps, installs: make(map[string]*install)}
}

// bind returns the install's scheduler, rebuilding it when the install now
// belongs to a different user.
func (r *Registry) bind(installID string, userID uuid.UUID) (*reminder.Scheduler, error) {
	if !installIDPattern.MatchString(installID) {
		return nil, ErrInvalidInstall
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if in, ok := r.installs[installID]; ok {
		if in.userID == userID {
			return in.sched, nil
		}
		r.deps.Hub.CancelAll(installID)
		r.deps.Host.remove(installID)
		slog.Info("install changed account", "install_id", installID, "user_id", userID.String())
	}

	var state reminder.StateStore
	if r.deps.Redis != nil {
		state = NewRedisStateStore(r.deps.Redis, installID)
	} else {
		state = reminder.NewMemoryStateStore(reminder.DeviceGeoState{})
	}

	sched := reminder.New(reminder.Deps{
		Local:      r.deps.Hub.For(installID, userID),
		Background: r.deps.Host.For(installID),
		Positions:  r.deps.Positions.For(installID),
		State:      state,
		Content:    r.deps.Content,
		Messages:   r.deps.Messages,
		Logger:     slog.Default().With("install_id", installID, "user_id", userID.String()),
	}, r.deps.Config)
	r.installs[installID] = &install{userID: userID, sched: sched}
	return sched, nil
}

func (r *Registry) lookup(installID string, userID uuid.UUID) (*reminder.Scheduler, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	in, ok := r.installs[installID]
	if !ok || in.userID != userID {
		return nil, ErrUnknownInstall
	}
	return in.sched, nil
}

// Configure applies the user's reminder preference on an install.
func (r *Registry) Configure(ctx context.Context, installID string, userID uuid.UUID, enabled bool) (reminder.Mode, error) {
	sched, err := r.bind(installID, userID)
	if err != nil {
		return "", err
	}
	return sched.Configure(ctx, enabled)
}

// ReportPosition stores a position pushed by the app.
func (r *Registry) ReportPosition(installID string, userID uuid.UUID, report PositionReport) error {
	if _, err := r.bind(installID, userID); err != nil {
		return err
	}
	r.deps.Positions.Report(installID, report)
	return nil
}

// DetailView schedules the review reminder after a content detail visit.
func (r *Registry) DetailView(ctx context.Context, installID string, user *models.User, toiletID uuid.UUID, dwell time.Duration) (bool, error) {
	sched, err := r.lookup(installID, user.ID)
	if err != nil {
		return false, err
	}
	toilet, err := r.deps.Toilets.Get(ctx, toiletID)
	if err != nil {
		return false, err
	}
	reviewed, err := r.deps.Reviews.HasReviewed(ctx, user.ID, toiletID)
	if err != nil {
		return false, fmt.Errorf("check existing review: %w", err)
	}
	return sched.ScheduleReviewReminder(ctx, reminder.ReviewView{
		ToiletID:        toiletID.String(),
		ToiletName:      toilet.Name,
		IsOwner:         toilet.OwnerID == user.ID,
		AlreadyReviewed: reviewed,
		Dwell:           dwell,
	})
}

// CancelReviewReminder cancels the pending reminder on every install of the
// user.
func (r *Registry) CancelReviewReminder(ctx context.Context, userID, toiletID uuid.UUID) error {
	r.mu.Lock()
	var scheds []*reminder.Scheduler
	for _, in := range r.installs {
		if in.userID == userID {
			scheds = append(scheds, in.sched)
		}
	}
	r.mu.Unlock()

	var errs []error
	for _, s := range scheds {
		if err := s.CancelReviewReminder(ctx, toiletID.String()); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Wake runs one install's checks immediately.
func (r *Registry) Wake(ctx context.Context, installID string, userID uuid.UUID) (reminder.WakeReport, error) {
	sched, err := r.lookup(installID, userID)
	if err != nil {
		return reminder.WakeReport{}, err
	}
	return sched.Wake(ctx), nil
}
