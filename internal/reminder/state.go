package reminder

import (
	"context"
	"sync"
	"time"
)

type Mode string

const (
	ModeDisabled Mode = "disabled"
	ModeFixed    Mode = "fixed"
	ModeSmart    Mode = "smart"
)

type Fix struct {
	Lat float64   `json:"lat"`
	Lng float64   `json:"lng"`
	At  time.Time `json:"at"`
}

// DeviceGeoState is the small per-install state that survives wake-ups.
// Dates are local calendar days formatted as 2006-01-02.
type DeviceGeoState struct {
	LastKnown            *Fix   `json:"last_known,omitempty"`
	LastNightlifeDate    string `json:"last_nightlife_date,omitempty"`
	LastNearbyCheckDate  string `json:"last_nearby_check_date,omitempty"`
	FixedReminderWeekday int    `json:"fixed_reminder_weekday,omitempty"`
	Mode                 Mode   `json:"mode,omitempty"`
	// Degraded is set while the fixed reminder stands in for smart mode after
	// a failed position read.
	Degraded bool `json:"degraded,omitempty"`
}

func (s DeviceGeoState) clone() DeviceGeoState {
	if s.LastKnown != nil {
		fix := *s.LastKnown
		s.LastKnown = &fix
	}
	return s
}

// MemoryStateStore keeps state in process memory.
type MemoryStateStore struct {
	mu    sync.Mutex
	state DeviceGeoState
}

func NewMemoryStateStore(initial DeviceGeoState) *MemoryStateStore {
	return &MemoryStateStore{state: initial.clone()}
}

func (m *MemoryStateStore) Load(_ context.Context) (DeviceGeoState, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state.clone(), nil
}

func (m *MemoryStateStore) Update(_ context.Context, fn func(*DeviceGeoState) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	next := m.state.clone()
	if err := fn(&next); err != nil {
		return err
	}
	m.state = next
	return nil
}
