// Package abuse implements the content and rate rules applied before any
// user-generated text is written.
package abuse

import (
	"fmt"
	"strings"
	"time"
	"unicode"
	"unicode/utf8"

	"github.com/dlclark/regexp2"
)

// Kind selects the per-action limits.
type Kind string

const (
	KindReview Kind = "review"
	KindReport Kind = "report"
)

type Reason string

const (
	ReasonTooShort           Reason = "too_short"
	ReasonSpamPattern        Reason = "spam_pattern"
	ReasonExcessiveLaughter  Reason = "excessive_laughter"
	ReasonLowMeaningDensity  Reason = "low_meaning_density"
	ReasonInappropriate      Reason = "inappropriate_language"
	ReasonPasteNotAllowed    Reason = "paste_not_allowed"
	ReasonTooFast            Reason = "too_fast"
	ReasonDailyLimit         Reason = "daily_limit"
	ReasonDuplicateRecent    Reason = "duplicate_recent"
	ReasonMissingRequirement Reason = "missing_requirement"
)

var messages = map[Reason]string{
	ReasonTooShort:           "조금만 더 자세히 적어주시면 큰 도움이 돼요! (%d자 이상)",
	ReasonSpamPattern:        "의미 있는 내용으로 작성해주시면 더 많은 분들께 도움이 됩니다.",
	ReasonExcessiveLaughter:  "너무 반복되는 표현은 피해주세요. 내용이 조금만 더 있으면 좋겠습니다 :)",
	ReasonLowMeaningDensity:  "글자 수에 비해 내용이 부족해요. 실제 이용 경험을 적어주세요.",
	ReasonInappropriate:      "이곳은 서로 돕는 공간이에요. 모두가 편하게 볼 수 있도록 표현을 조금만 바꿔주세요.",
	ReasonPasteNotAllowed:    "복사/붙여넣기는 사용할 수 없어요. 직접 작성해주세요.",
	ReasonTooFast:            "조금 더 천천히 작성해주세요.",
	ReasonDailyLimit:         "오늘 작성할 수 있는 횟수를 모두 사용했어요. 내일 다시 시도해주세요.",
	ReasonDuplicateRecent:    "이미 최근에 작성한 내역이 있어요.",
	ReasonMissingRequirement: "필수 항목을 입력해주세요.",
}

// Violation is returned when a rule rejects an action.
type Violation struct {
	Reason  Reason
	Message string
}

func (v *Violation) Error() string {
	return string(v.Reason) + ": " + v.Message
}

// Result is the outcome of ValidateContent.
type Result struct {
	Valid   bool   `json:"valid"`
	Reason  Reason `json:"reason,omitempty"`
	Message string `json:"message,omitempty"`
}

// Err returns the violation for an invalid result and nil otherwise.
func (r Result) Err() error {
	if r.Valid {
		return nil
	}
	return &Violation{Reason: r.Reason, Message: r.Message}
}

// Limits holds the tunable thresholds.
type Limits struct {
	DailyReviewLimit   int
	DailyReportLimit   int
	MinContentLength   int
	MinReviewWriteTime time.Duration
	MinReportWriteTime time.Duration
	DuplicateWindow    time.Duration
}

func DefaultLimits() Limits {
	return Limits{
		DailyReviewLimit:   5,
		DailyReportLimit:   3,
		MinContentLength:   10,
		MinReviewWriteTime: 10 * time.Second,
		MinReportWriteTime: 3 * time.Second,
		DuplicateWindow:    24 * time.Hour,
	}
}

var spamPatterns = []string{
	`(.)\1{4,}`,
	`([0-9]{2,})\1{2,}`,
	`([ㄱ-ㅎㅏ-ㅣ])\1{4,}`,
	`^[ㄱ-ㅎㅏ-ㅣ\s]+$`,
	`^[0-9\s]+$`,
	`([a-z])\1{4,}`,
}

var badWords = []string{
	"시발", "씨발", "병신", "개새끼", "지랄", "존나", "좆", "씹", "창녀", "미친", "엠창", "애미", "애비", "느금마", "느개비",
	"섹스", "자위", "보지", "자지", "강간", "콘돔",
	"살인", "자살", "칼빵",
}

// Guard applies the content, input, dwell, quota and duplicate rules. It is
// safe for concurrent use.
type Guard struct {
	limits   Limits
	patterns []*regexp2.Regexp
	denylist []string
}

func NewGuard(limits Limits) *Guard {
	g := &Guard{limits: limits, denylist: badWords}
	for _, p := range spamPatterns {
		g.patterns = append(g.patterns, regexp2.MustCompile(p, regexp2.None))
	}
	return g
}

func (g *Guard) Limits() Limits {
	return g.limits
}

// Message returns the user-facing text for a reason.
func (g *Guard) Message(reason Reason) string {
	msg, ok := messages[reason]
	if !ok {
		return string(reason)
	}
	if reason == ReasonTooShort {
		return fmt.Sprintf(msg, g.limits.MinContentLength)
	}
	return msg
}

func (g *Guard) reject(reason Reason) Result {
	return Result{Valid: false, Reason: reason, Message: g.Message(reason)}
}

func (g *Guard) violation(reason Reason) error {
	return &Violation{Reason: reason, Message: g.Message(reason)}
}

// ValidateContent checks free text. The first failing rule wins.
func (g *Guard) ValidateContent(text string) Result {
	if utf8.RuneCountInString(StripSpace(text)) < g.limits.MinContentLength {
		return g.reject(ReasonTooShort)
	}

	for _, re := range g.patterns {
		// regexp2 only errors on match timeouts, which are not configured.
		if ok, _ := re.MatchString(text); ok {
			return g.reject(ReasonSpamPattern)
		}
	}

	length := utf8.RuneCountInString(text)
	var laughs, meaningful int
	for _, r := range text {
		switch {
		case r == 'ㅋ' || r == 'ㅎ':
			laughs++
		case (r >= '가' && r <= '힣') || (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z'):
			meaningful++
		}
	}
	if length > 20 && float64(laughs) > float64(length)*0.5 {
		return g.reject(ReasonExcessiveLaughter)
	}
	if length >= 10 && float64(meaningful)/float64(length) < 0.4 {
		return g.reject(ReasonLowMeaningDensity)
	}

	for _, word := range g.denylist {
		if strings.Contains(text, word) {
			return g.reject(ReasonInappropriate)
		}
	}

	return Result{Valid: true}
}

// CheckInput rejects pasted input.
func (g *Guard) CheckInput(pasted bool) error {
	if pasted {
		return g.violation(ReasonPasteNotAllowed)
	}
	return nil
}

// CheckDwell rejects an action submitted sooner than the minimum composing
// time after startedAt.
func (g *Guard) CheckDwell(kind Kind, startedAt, now time.Time) error {
	min := g.limits.MinReviewWriteTime
	if kind == KindReport {
		min = g.limits.MinReportWriteTime
	}
	if startedAt.IsZero() || now.Sub(startedAt) < min {
		return g.violation(ReasonTooFast)
	}
	return nil
}

// CheckDailyQuota rejects once countToday reaches the daily limit. Privileged
// users are exempt.
func (g *Guard) CheckDailyQuota(kind Kind, privileged bool, countToday int64) error {
	if privileged {
		return nil
	}
	limit := g.limits.DailyReviewLimit
	if kind == KindReport {
		limit = g.limits.DailyReportLimit
	}
	if countToday >= int64(limit) {
		return g.violation(ReasonDailyLimit)
	}
	return nil
}

// CheckRecentDuplicate rejects when the actor already acted on the same
// target inside the duplicate window. Edits are exempt.
func (g *Guard) CheckRecentDuplicate(found, isEdit bool) error {
	if found && !isEdit {
		return g.violation(ReasonDuplicateRecent)
	}
	return nil
}

// DuplicateSince is the lower bound of the duplicate window.
func (g *Guard) DuplicateSince(now time.Time) time.Time {
	return now.Add(-g.limits.DuplicateWindow)
}

// StartOfLocalDay returns local midnight of the day containing now.
func StartOfLocalDay(now time.Time, loc *time.Location) time.Time {
	if loc == nil {
		loc = time.UTC
	}
	local := now.In(loc)
	return time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, loc)
}

// StripSpace removes every Unicode whitespace rune from s.
func StripSpace(s string) string {
	return strings.Map(func(r rune) rune {
		if unicode.IsSpace(r) {
			return -1
		}
		return r
	}, s)
}
