package device

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/ahmetcoskunkizilkaya/restroom-backend/internal/models"
	"github.com/ahmetcoskunkizilkaya/restroom-backend/internal/reminder"
	"github.com/ahmetcoskunkizilkaya/restroom-backend/internal/services"
	"github.com/google/uuid"
	"github.com/robfig/cron/v3"
)

const deliverTimeout = 10 * time.Second

// Deliverer turns a due local notification into something the user sees.
type Deliverer interface {
	Deliver(ctx context.Context, userID uuid.UUID, n reminder.LocalNotification) error
}

// RecordDeliverer stores a due notification as a dispatch record and
// dispatches it.
type RecordDeliverer struct {
	Notifier *services.NotificationService
}

var kindTypes = map[string]string{
	reminder.KindReviewReminder: models.NotifyReviewReminder,
	reminder.KindSmartNightlife: models.NotifySmartNightlife,
	reminder.KindFixedNightlife: models.NotifyFixedNightlife,
	reminder.KindNearbyContent:  models.NotifyNearbyToilet,
}

func (d RecordDeliverer) Deliver(ctx context.Context, userID uuid.UUID, n reminder.LocalNotification) error {
	typ, ok := kindTypes[n.Extra["type"]]
	if !ok {
		typ = models.NotifyAdminMessage
	}
	data := make(map[string]string, len(n.Extra)+2)
	for k, v := range n.Extra {
		data[k] = v
	}
	data["channel"] = n.Channel
	data["local_id"] = strconv.Itoa(n.ID)

	rec, err := d.Notifier.Create(ctx, typ, userID, n.Title, n.Body, data)
	if err != nil {
		return err
	}
	_, err = d.Notifier.Dispatch(ctx, rec.ID)
	return err
}

// NotificationHub implements reminder.LocalScheduler for every install.
// One-shot notifications fire from timers, weekly ones from cron entries.
type NotificationHub struct {
	cron    *cron.Cron
	loc     *time.Location
	deliver Deliverer
	now     func() time.Time

	mu       sync.Mutex
	pending  map[string]*hubEntry
	channels map[string]reminder.Channel
}

type hubEntry struct {
	installID string
	userID    uuid.UUID
	n         reminder.LocalNotification
	timer     *time.Timer
	cronID    cron.EntryID
}

func NewNotificationHub(loc *time.Location, deliver Deliverer) *NotificationHub {
	if loc == nil {
		loc = time.Local
	}
	return &NotificationHub{
		cron:     cron.New(cron.WithLocation(loc), cron.WithLogger(cronLogger{log: slog.Default()})),
		loc:      loc,
		deliver:  deliver,
		now:      time.Now,
		pending:  make(map[string]*hubEntry),
		channels: make(map[string]reminder.Channel),
	}
}

func (h *NotificationHub) Start() {
	h.cron.Start()
}

// Stop halts weekly entries and pending timers.
func (h *NotificationHub) Stop(ctx context.Context) error {
	h.mu.Lock()
	for _, e := range h.pending {
		if e.timer != nil {
			e.timer.Stop()
		}
	}
	h.mu.Unlock()

	select {
	case <-h.cron.Stop().Done():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// For returns the LocalScheduler of one install signed in as userID.
func (h *NotificationHub) For(installID string, userID uuid.UUID) reminder.LocalScheduler {
	return &installNotifications{hub: h, installID: installID, userID: userID}
}

// Pending lists an install's scheduled notifications ordered by id.
func (h *NotificationHub) Pending(installID string) []reminder.LocalNotification {
	h.mu.Lock()
	defer h.mu.Unlock()
	var out []reminder.LocalNotification
	for _, e := range h.pending {
		if e.installID == installID {
			out = append(out, e.n)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// CancelAll drops every pending notification of an install.
func (h *NotificationHub) CancelAll(installID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for key, e := range h.pending {
		if e.installID == installID {
			h.dropLocked(key, e)
		}
	}
}

func hubKey(installID string, id int) string {
	return installID + "#" + strconv.Itoa(id)
}

func (h *NotificationHub) schedule(installID string, userID uuid.UUID, n reminder.LocalNotification) error {
	key := hubKey(installID, n.ID)
	e := &hubEntry{installID: installID, userID: userID, n: n}

	h.mu.Lock()
	defer h.mu.Unlock()
	if old, ok := h.pending[key]; ok {
		h.dropLocked(key, old)
	}

	switch n.Every {
	case reminder.Weekly:
		at := n.FireAt.In(h.loc)
		spec := fmt.Sprintf("%d %d * * %d", at.Minute(), at.Hour(), int(at.Weekday()))
		id, err := h.cron.AddFunc(spec, func() { h.fire(e) })
		if err != nil {
			return fmt.Errorf("schedule weekly notification: %w", err)
		}
		e.cronID = id
	default:
		delay := n.FireAt.Sub(h.now())
		if delay < 0 {
			delay = 0
		}
		e.timer = time.AfterFunc(delay, func() {
			h.mu.Lock()
			current, ok := h.pending[key]
			if ok && current == e {
				delete(h.pending, key)
			}
			h.mu.Unlock()
			if ok && current == e {
				h.fire(e)
			}
		})
	}
	h.pending[key] = e
	return nil
}

func (h *NotificationHub) dropLocked(key string, e *hubEntry) {
	if e.timer != nil {
		e.timer.Stop()
	}
	if e.cronID != 0 {
		h.cron.Remove(e.cronID)
	}
	delete(h.pending, key)
}

func (h *NotificationHub) fire(e *hubEntry) {
	ctx, cancel := context.WithTimeout(context.Background(), deliverTimeout)
	defer cancel()
	if err := h.deliver.Deliver(ctx, e.userID, e.n); err != nil {
		slog.Error("local notification delivery failed",
			"install_id", e.installID, "user_id", e.userID.String(), "notification_id", e.n.ID, "error", err)
		return
	}
	slog.Info("local notification delivered", "install_id", e.installID, "notification_id", e.n.ID, "type", e.n.Extra["type"])
}

type installNotifications struct {
	hub       *NotificationHub
	installID string
	userID    uuid.UUID
}

func (i *installNotifications) Schedule(_ context.Context, n reminder.LocalNotification) error {
	return i.hub.schedule(i.installID, i.userID, n)
}

func (i *installNotifications) Cancel(_ context.Context, id int) error {
	key := hubKey(i.installID, id)
	i.hub.mu.Lock()
	defer i.hub.mu.Unlock()
	if e, ok := i.hub.pending[key]; ok {
		i.hub.dropLocked(key, e)
	}
	return nil
}

func (i *installNotifications) CreateChannel(_ context.Context, ch reminder.Channel) error {
	i.hub.mu.Lock()
	i.hub.channels[ch.ID] = ch
	i.hub.mu.Unlock()
	return nil
}
