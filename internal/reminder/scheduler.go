// Package reminder decides when an install should show local reminders: the
// evening movement nudge, the daily new-content digest, the weekly fixed
// fallback and the per-content review reminder.
package reminder

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand"
	"strconv"
	"strings"
	"sync/atomic"
	"time"
)

// FixedReminderID is the identity of the weekly fallback notification.
const FixedReminderID = 99999

// Notification kinds carried in LocalNotification.Extra["type"].
const (
	KindReviewReminder = "review_reminder"
	KindSmartNightlife = "smart_nightlife"
	KindFixedNightlife = "fixed_nightlife"
	KindNearbyContent  = "nearby_toilet_check"
)

const (
	ChannelReminders = "reminders"
	ChannelMessages  = "messages"
	ChannelDefault   = "default"
)

// Channels are created on every Configure.
var Channels = []Channel{
	{ID: ChannelReminders, Name: "활동 알림", Description: "화장실 리뷰 요청 및 활동 알림", Importance: 4},
	{ID: ChannelMessages, Name: "메시지 및 공지", Description: "관리자 메시지 및 중요 공지사항", Importance: 5},
	{ID: ChannelDefault, Name: "기타 알림", Description: "기타 시스템 알림", Importance: 3},
}

const (
	keyNewContentRadius = "new_toilet_radius"
	keyNewContentMsg    = "msg_new_toilet_nearby"
	keyReviewMsg        = "msg_review_reminder"

	defaultSmartMsg      = "주변 화장실 비밀번호 공유하고 크래딧 받으세요!"
	defaultNewContentMsg = "내 주변 [radius]km 내에 [count]개의 새로운 화장실이 등록되었어요!"
	defaultReviewMsg     = "방금 이용하신 화장실은 어떠셨나요? 1분 만에 리뷰 남기고 크래딧 받으세요! 📝"
)

var dayMessageKeys = [7]string{
	"msg_nightlife_sun", "msg_nightlife_mon", "msg_nightlife_tue", "msg_nightlife_wed",
	"msg_nightlife_thu", "msg_nightlife_fri", "msg_nightlife_sat",
}

var fixedDayMessages = [6]string{
	"",
	"월요병 치유! 🍻 오늘 술자리 화장실은?",
	"화끈한 화요일! 🔥 화장실 비밀번호 확인하셨나요?",
	"수요일엔 술이 술술~ 🍷 화장실 위치 봐두세요!",
	"목요일은 목마르니까 🍺 화장실 꿀팁 챙기세요!",
	"불금 시작! 🔥 오늘 가시는 곳의 화장실 비밀번호, 챙기셨나요?",
}

var (
	errAlreadyClaimed = errors.New("already claimed today")
	errPosition       = errors.New("position unavailable")
)

// Deps are the ports a Scheduler drives.
type Deps struct {
	Local      LocalScheduler
	Background BackgroundRegistrar
	Positions  PositionProvider
	State      StateStore
	Content    ContentFinder
	Messages   Messages
	Rand       Rand
	Logger     *slog.Logger
}

// WakeReport summarises one background wake-up.
type WakeReport struct {
	// Skipped names the mode when the install is not in smart mode and no
	// check ran.
	Skipped     Mode             `json:"skipped,omitempty"`
	Movement    MovementDecision `json:"movement"`
	NearbyCount int              `json:"nearby_count"`
	Degraded    bool             `json:"degraded"`
	Errors      []string         `json:"errors,omitempty"`
}

// Scheduler is the per-install reminder engine.
type Scheduler struct {
	deps Deps
	cfg  Config
	log  *slog.Logger
	now  func() time.Time

	fixes atomic.Int64
}

type randFunc func(int) int

func (f randFunc) Intn(n int) int { return f(n) }

func New(deps Deps, cfg Config) *Scheduler {
	if cfg.Location == nil {
		cfg.Location = time.Local
	}
	if deps.Rand == nil {
		deps.Rand = randFunc(rand.Intn)
	}
	log := deps.Logger
	if log == nil {
		log = slog.Default()
	}
	return &Scheduler{deps: deps, cfg: cfg, log: log, now: time.Now}
}

func (s *Scheduler) localNow() time.Time {
	return s.now().In(s.cfg.Location)
}

// Configure applies the user's preference and the current location
// permission, and returns the resulting mode.
func (s *Scheduler) Configure(ctx context.Context, enabled bool) (Mode, error) {
	for _, ch := range Channels {
		if err := s.deps.Local.CreateChannel(ctx, ch); err != nil {
			return "", fmt.Errorf("create channel %s: %w", ch.ID, err)
		}
	}

	if !enabled {
		if err := s.deps.Local.Cancel(ctx, FixedReminderID); err != nil {
			return "", err
		}
		if err := s.deps.Background.Stop(ctx); err != nil {
			return "", err
		}
		return ModeDisabled, s.setMode(ctx, ModeDisabled)
	}

	perm, err := s.deps.Positions.CheckPermission(ctx)
	if err != nil {
		s.log.Warn("permission check failed, using fixed reminder", "error", err)
		perm = PermissionDenied
	}

	if perm.Tracks() {
		if err := s.deps.Local.Cancel(ctx, FixedReminderID); err != nil {
			return "", err
		}
		err := s.deps.Background.Configure(ctx, s.cfg.WakeInterval, func(ctx context.Context, done func()) {
			defer done()
			s.Wake(ctx)
		})
		if err == nil {
			s.log.Info("smart reminder mode", "interval", s.cfg.WakeInterval.String())
			return ModeSmart, s.setMode(ctx, ModeSmart)
		}
		s.log.Warn("background registration failed, using fixed reminder", "error", err)
	}

	if err := s.deps.Background.Stop(ctx); err != nil {
		return "", err
	}
	if err := s.scheduleFixed(ctx, false); err != nil {
		return "", err
	}
	return ModeFixed, s.setMode(ctx, ModeFixed)
}

func (s *Scheduler) setMode(ctx context.Context, mode Mode) error {
	return s.deps.State.Update(ctx, func(st *DeviceGeoState) error {
		st.Mode = mode
		if mode != ModeSmart {
			st.Degraded = false
		}
		return nil
	})
}

// scheduleFixed registers the weekly fallback on the persisted weekday,
// choosing one in Mon..Fri on first use.
func (s *Scheduler) scheduleFixed(ctx context.Context, degraded bool) error {
	var day int
	err := s.deps.State.Update(ctx, func(st *DeviceGeoState) error {
		if st.FixedReminderWeekday < 1 || st.FixedReminderWeekday > 5 {
			st.FixedReminderWeekday = s.deps.Rand.Intn(5) + 1
		}
		day = st.FixedReminderWeekday
		if degraded {
			st.Degraded = true
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("persist fixed weekday: %w", err)
	}

	body := s.deps.Messages.Text(ctx, dayMessageKeys[day], fixedDayMessages[day])
	fireAt := NextWeekday(s.localNow(), time.Weekday(day), s.cfg.FixedHour)
	if err := s.deps.Local.Schedule(ctx, LocalNotification{
		ID:      FixedReminderID,
		Title:   "오늘의 화장실 꿀팁",
		Body:    body,
		FireAt:  fireAt,
		Every:   Weekly,
		Channel: ChannelReminders,
		Extra:   map[string]string{"type": KindFixedNightlife},
	}); err != nil {
		return fmt.Errorf("schedule fixed reminder: %w", err)
	}
	s.log.Info("fixed reminder scheduled", "weekday", day, "fire_at", fireAt.Format(time.RFC3339), "degraded", degraded)
	return nil
}

// Wake runs the movement and nearby checks of a smart-mode install. It never
// panics and never returns an error; failures are reported in the WakeReport.
func (s *Scheduler) Wake(ctx context.Context) (report WakeReport) {
	defer func() {
		if r := recover(); r != nil {
			s.log.Error("reminder wake panicked", "panic", fmt.Sprint(r))
			report.Errors = append(report.Errors, fmt.Sprintf("panic: %v", r))
		}
	}()

	st, err := s.deps.State.Load(ctx)
	if err != nil {
		s.log.Warn("reminder state unavailable", "error", err)
		report.Errors = append(report.Errors, "state: "+err.Error())
		return report
	}
	if st.Mode != ModeSmart {
		report.Skipped = st.Mode
		if report.Skipped == "" {
			report.Skipped = ModeDisabled
		}
		return report
	}

	fixesBefore := s.fixes.Load()
	positionFailed := false
	note := func(check string, err error) {
		if errors.Is(err, errPosition) {
			positionFailed = true
		}
		s.log.Warn("reminder check failed", "check", check, "error", err)
		report.Errors = append(report.Errors, check+": "+err.Error())
	}

	decision, err := s.CheckMovement(ctx)
	report.Movement = decision
	if err != nil {
		note("movement", err)
	}
	count, err := s.CheckNearby(ctx)
	report.NearbyCount = count
	if err != nil {
		note("nearby", err)
	}

	if positionFailed {
		report.Degraded = true
		if err := s.scheduleFixed(ctx, true); err != nil {
			report.Errors = append(report.Errors, "degrade: "+err.Error())
		}
		return report
	}
	if s.fixes.Load() > fixesBefore {
		s.restoreSmart(ctx)
	}
	return report
}

// restoreSmart drops the stand-in fixed reminder once positions work again.
func (s *Scheduler) restoreSmart(ctx context.Context) {
	st, err := s.deps.State.Load(ctx)
	if err != nil || !st.Degraded || st.Mode != ModeSmart {
		return
	}
	if err := s.deps.Local.Cancel(ctx, FixedReminderID); err != nil {
		s.log.Warn("failed to cancel stand-in fixed reminder", "error", err)
		return
	}
	err = s.deps.State.Update(ctx, func(st *DeviceGeoState) error {
		st.Degraded = false
		return nil
	})
	if err != nil {
		s.log.Error("failed to clear degraded flag", "error", err)
	}
}

func (s *Scheduler) position(ctx context.Context, accuracy Accuracy) (Position, error) {
	pos, err := s.deps.Positions.CurrentPosition(ctx, accuracy)
	if err != nil {
		return Position{}, fmt.Errorf("%w: %w", errPosition, err)
	}
	s.fixes.Add(1)
	return pos, nil
}

// CheckMovement fires the evening nudge when the device moved a walking
// distance since the previous wake-up. The baseline is refreshed on every
// successful read.
func (s *Scheduler) CheckMovement(ctx context.Context) (MovementDecision, error) {
	now := s.localNow()
	st, err := s.deps.State.Load(ctx)
	if err != nil {
		return MovementDecision{}, err
	}
	if ok, reason := MovementEligible(st, now, s.cfg); !ok {
		return MovementDecision{Reason: reason}, nil
	}

	fix, err := s.position(ctx, AccuracyHigh)
	if err != nil {
		return MovementDecision{}, err
	}

	today := DateKey(now)
	var decision MovementDecision
	var previousDate string
	err = s.deps.State.Update(ctx, func(st *DeviceGeoState) error {
		decision = DecideMovement(*st, fix, now, s.cfg)
		if decision.Fire {
			previousDate = st.LastNightlifeDate
			st.LastNightlifeDate = today
		}
		st.LastKnown = &Fix{Lat: fix.Lat, Lng: fix.Lng, At: now}
		return nil
	})
	if err != nil {
		return MovementDecision{}, err
	}
	if !decision.Fire {
		return decision, nil
	}

	body := s.deps.Messages.Text(ctx, dayMessageKeys[now.Weekday()], defaultSmartMsg)
	err = s.deps.Local.Schedule(ctx, LocalNotification{
		ID:      100000 + s.deps.Rand.Intn(100000),
		Title:   "주변 화장실 찾기",
		Body:    body,
		FireAt:  now.Add(time.Second),
		Channel: ChannelReminders,
		Extra:   map[string]string{"type": KindSmartNightlife},
	})
	if err != nil {
		s.release(ctx, func(st *DeviceGeoState) {
			if st.LastNightlifeDate == today {
				st.LastNightlifeDate = previousDate
			}
		})
		decision.Fire = false
		return decision, fmt.Errorf("schedule movement reminder: %w", err)
	}

	s.log.Info("movement reminder fired", "displacement_km", decision.DisplacementKm, "since_last_fix", decision.SinceLastFix.String())
	return decision, nil
}

// CheckNearby announces content created near the device in the last day. It
// runs at most once per local calendar day.
func (s *Scheduler) CheckNearby(ctx context.Context) (int, error) {
	now := s.localNow()
	today := DateKey(now)
	st, err := s.deps.State.Load(ctx)
	if err != nil {
		return 0, err
	}
	if st.LastNearbyCheckDate == today {
		return 0, nil
	}

	pos, err := s.position(ctx, AccuracyCoarse)
	if err != nil {
		return 0, err
	}

	var previousDate string
	err = s.deps.State.Update(ctx, func(st *DeviceGeoState) error {
		if st.LastNearbyCheckDate == today {
			return errAlreadyClaimed
		}
		previousDate = st.LastNearbyCheckDate
		st.LastNearbyCheckDate = today
		return nil
	})
	if errors.Is(err, errAlreadyClaimed) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	undo := func() {
		s.release(ctx, func(st *DeviceGeoState) {
			if st.LastNearbyCheckDate == today {
				st.LastNearbyCheckDate = previousDate
			}
		})
	}

	radius := s.deps.Messages.Float(ctx, keyNewContentRadius, s.cfg.DefaultRadiusKm)
	if radius <= 0 {
		radius = s.cfg.DefaultRadiusKm
	}
	count, err := s.deps.Content.CreatedNearSince(ctx, pos.Lat, pos.Lng, radius, now.Add(-s.cfg.NewContentWindow))
	if err != nil {
		undo()
		return 0, fmt.Errorf("find new content: %w", err)
	}
	if count == 0 {
		return 0, nil
	}

	tpl := s.deps.Messages.Text(ctx, keyNewContentMsg, defaultNewContentMsg)
	err = s.deps.Local.Schedule(ctx, LocalNotification{
		ID:      200000 + s.deps.Rand.Intn(100000),
		Title:   "신규 화장실 알림",
		Body:    fill(tpl, strconv.FormatFloat(radius, 'f', -1, 64), strconv.Itoa(count)),
		FireAt:  now.Add(time.Second),
		Channel: ChannelReminders,
		Extra:   map[string]string{"type": KindNearbyContent, "count": strconv.Itoa(count)},
	})
	if err != nil {
		undo()
		return 0, fmt.Errorf("schedule nearby reminder: %w", err)
	}
	return count, nil
}

func (s *Scheduler) release(ctx context.Context, fn func(*DeviceGeoState)) {
	err := s.deps.State.Update(context.WithoutCancel(ctx), func(st *DeviceGeoState) error {
		fn(st)
		return nil
	})
	if err != nil {
		s.log.Error("failed to release reminder claim", "error", err)
	}
}

// ReviewView describes a foreground visit to a content detail screen.
type ReviewView struct {
	ToiletID        string
	ToiletName      string
	IsOwner         bool
	AlreadyReviewed bool
	Dwell           time.Duration
}

// ScheduleReviewReminder nudges the viewer to review after ReviewDelay.
// Re-scheduling the same content replaces the pending reminder.
func (s *Scheduler) ScheduleReviewReminder(ctx context.Context, v ReviewView) (bool, error) {
	if v.IsOwner || v.AlreadyReviewed || v.Dwell < s.cfg.MinDwell {
		return false, nil
	}
	body := s.deps.Messages.Text(ctx, keyReviewMsg, defaultReviewMsg)
	err := s.deps.Local.Schedule(ctx, LocalNotification{
		ID:      Hash(v.ToiletID),
		Title:   "리뷰 남기기",
		Body:    body,
		FireAt:  s.localNow().Add(s.cfg.ReviewDelay),
		Channel: ChannelReminders,
		Extra:   map[string]string{"toiletId": v.ToiletID, "type": KindReviewReminder},
	})
	if err != nil {
		return false, fmt.Errorf("schedule review reminder: %w", err)
	}
	s.log.Info("review reminder scheduled", "toilet_id", v.ToiletID, "toilet_name", v.ToiletName)
	return true, nil
}

func (s *Scheduler) CancelReviewReminder(ctx context.Context, toiletID string) error {
	return s.deps.Local.Cancel(ctx, Hash(toiletID))
}

func fill(tpl, radius, count string) string {
	return strings.NewReplacer("[radius]", radius, "[count]", count).Replace(tpl)
}
