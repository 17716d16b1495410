package reminder

import (
	"context"
	"errors"
	"time"
)

// ErrPermissionDenied is returned by a PositionProvider when the user has
// refused location access.
var ErrPermissionDenied = errors.New("location permission denied")

type Accuracy int

const (
	AccuracyCoarse Accuracy = iota
	AccuracyHigh
)

type PermissionLevel string

const (
	PermissionAlways  PermissionLevel = "always"
	PermissionGranted PermissionLevel = "granted"
	PermissionPrompt  PermissionLevel = "prompt"
	PermissionDenied  PermissionLevel = "denied"
)

// Tracks reports whether the level allows background position reads.
func (p PermissionLevel) Tracks() bool {
	return p == PermissionAlways || p == PermissionGranted
}

type Position struct {
	Lat      float64   `json:"lat"`
	Lng      float64   `json:"lng"`
	Accuracy float64   `json:"accuracy"`
	At       time.Time `json:"at"`
}

type Subscription interface {
	Unsubscribe()
}

type Recurrence int

const (
	Once Recurrence = iota
	Weekly
)

// LocalNotification is a notification the device shows by itself at FireAt.
// Scheduling an ID that is already pending replaces it.
type LocalNotification struct {
	ID      int
	Title   string
	Body    string
	FireAt  time.Time
	Every   Recurrence
	Channel string
	Extra   map[string]string
}

type Channel struct {
	ID          string
	Name        string
	Description string
	Importance  int
}

type LocalScheduler interface {
	Schedule(ctx context.Context, n LocalNotification) error
	Cancel(ctx context.Context, id int) error
	CreateChannel(ctx context.Context, ch Channel) error
}

// BackgroundRegistrar runs task at most every minInterval. The task must call
// done when it finishes, including on failure.
type BackgroundRegistrar interface {
	Configure(ctx context.Context, minInterval time.Duration, task func(ctx context.Context, done func())) error
	Stop(ctx context.Context) error
}

type PositionProvider interface {
	CurrentPosition(ctx context.Context, accuracy Accuracy) (Position, error)
	CheckPermission(ctx context.Context) (PermissionLevel, error)
	Watch(ctx context.Context, fn func(Position)) (Subscription, error)
}

// StateStore persists DeviceGeoState. Update applies fn atomically; an error
// from fn aborts the write.
type StateStore interface {
	Load(ctx context.Context) (DeviceGeoState, error)
	Update(ctx context.Context, fn func(*DeviceGeoState) error) error
}

type ContentFinder interface {
	CreatedNearSince(ctx context.Context, lat, lng, radiusKm float64, since time.Time) (int, error)
}

// Messages resolves configurable texts and numbers with fallbacks.
type Messages interface {
	Text(ctx context.Context, key, fallback string) string
	Float(ctx context.Context, key string, fallback float64) float64
}

// Rand picks the fixed reminder weekday. *math/rand.Rand satisfies it.
type Rand interface {
	Intn(n int) int
}
