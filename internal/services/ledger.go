package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/ahmetcoskunkizilkaya/restroom-backend/internal/models"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// NotableAwardThreshold is the smallest admin award that notifies the user.
const NotableAwardThreshold = 5

// Entry describes one credit movement.
type Entry struct {
	UserID        uuid.UUID
	Amount        int
	Type          string
	ReferenceType string
	ReferenceID   string
	Description   string
	// RequireFunds rejects a debit larger than the current balance instead of
	// clamping it.
	RequireFunds bool
}

// Reconciliation compares the cached balance with a replay of the history.
type Reconciliation struct {
	UserID   uuid.UUID `json:"user_id"`
	Stored   int       `json:"stored"`
	Replayed int       `json:"replayed"`
	Sum      int       `json:"sum"`
	Entries  int       `json:"entries"`
	Drift    bool      `json:"drift"`
}

// Ledger is the only writer of User.Credits. Every movement is recorded as an
// append-only CreditTransaction in the same database transaction as the
// balance update.
type Ledger struct {
	db       *gorm.DB
	notifier *NotificationService
	settings *SettingsService
	now      func() time.Time
}

func NewLedger(db *gorm.DB, notifier *NotificationService, settings *SettingsService) *Ledger {
	return &Ledger{db: db, notifier: notifier, settings: settings, now: time.Now}
}

// ClampedBalance applies amount to balance without going below zero.
func ClampedBalance(balance, amount int) int {
	if next := balance + amount; next > 0 {
		return next
	}
	return 0
}

// ReplayBalance folds amounts in order with the same clamp Apply uses.
func ReplayBalance(amounts []int) int {
	balance := 0
	for _, a := range amounts {
		balance = ClampedBalance(balance, a)
	}
	return balance
}

// Apply records e in its own database transaction and returns the new entry id.
func (l *Ledger) Apply(ctx context.Context, e Entry) (uuid.UUID, error) {
	var id uuid.UUID
	err := l.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		txn, err := l.ApplyTx(tx, e)
		if err != nil {
			return err
		}
		id = txn.ID
		return nil
	})
	return id, err
}

// ApplyTx records e inside the caller's transaction so the movement commits
// or rolls back together with the caller's other writes.
func (l *Ledger) ApplyTx(tx *gorm.DB, e Entry) (*models.CreditTransaction, error) {
	if !models.ValidTransactionType(e.Type) {
		return nil, fmt.Errorf("unknown transaction type %q", e.Type)
	}

	var user models.User
	if err := lockRows(tx).Unscoped().First(&user, "id = ?", e.UserID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("user %s: %w", e.UserID, ErrNotFound)
		}
		return nil, fmt.Errorf("load user for ledger: %w", err)
	}
	if user.IsTerminal() {
		return nil, fmt.Errorf("user %s: %w", e.UserID, ErrTerminalUser)
	}
	if e.RequireFunds && e.Amount < 0 && user.Credits+e.Amount < 0 {
		return nil, ErrInsufficientBalance
	}

	// The user row is locked, so the next sequence number cannot be taken twice.
	var last int64
	if err := tx.Model(&models.CreditTransaction{}).Where("user_id = ?", user.ID).
		Select("COALESCE(MAX(seq), 0)").Scan(&last).Error; err != nil {
		return nil, fmt.Errorf("next ledger sequence: %w", err)
	}

	balance := ClampedBalance(user.Credits, e.Amount)
	txn := models.CreditTransaction{
		UserID:        user.ID,
		Seq:           last + 1,
		Amount:        e.Amount,
		BalanceAfter:  balance,
		Type:          e.Type,
		ReferenceType: e.ReferenceType,
		ReferenceID:   e.ReferenceID,
		Description:   e.Description,
		CreatedAt:     l.now(),
	}
	if err := tx.Create(&txn).Error; err != nil {
		return nil, fmt.Errorf("append credit transaction: %w", err)
	}

	if balance != user.Credits {
		if err := tx.Model(&models.User{}).Unscoped().Where("id = ?", user.ID).
			Update("credits", balance).Error; err != nil {
			return nil, fmt.Errorf("update cached balance: %w", err)
		}
	}

	if balance != user.Credits+e.Amount {
		slog.Warn("ledger debit clamped at zero",
			"user_id", user.ID.String(), "amount", e.Amount, "balance_before", user.Credits, "type", e.Type)
	}
	return &txn, nil
}

// Balance returns the cached balance.
func (l *Ledger) Balance(ctx context.Context, userID uuid.UUID) (int, error) {
	var user models.User
	if err := l.db.WithContext(ctx).Unscoped().Select("credits").First(&user, "id = ?", userID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return 0, ErrNotFound
		}
		return 0, err
	}
	return user.Credits, nil
}

// History lists a user's entries, newest first.
func (l *Ledger) History(ctx context.Context, userID uuid.UUID, limit, offset int) ([]models.CreditTransaction, int64, error) {
	var entries []models.CreditTransaction
	var total int64

	query := l.db.WithContext(ctx).Model(&models.CreditTransaction{}).Where("user_id = ?", userID)
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}
	if err := query.Order("seq DESC").Limit(limit).Offset(offset).Find(&entries).Error; err != nil {
		return nil, 0, err
	}
	return entries, total, nil
}

// AdminAdjust records a manual adjustment. Awards of at least
// NotableAwardThreshold notify the user after the entry commits.
func (l *Ledger) AdminAdjust(ctx context.Context, adminID, userID uuid.UUID, amount int, reason string) (uuid.UUID, error) {
	if amount == 0 {
		return uuid.Nil, fmt.Errorf("%w: amount must be non-zero", ErrValidation)
	}
	id, err := l.Apply(ctx, Entry{
		UserID:        userID,
		Amount:        amount,
		Type:          models.TxAdminAdjust,
		ReferenceType: "admin",
		ReferenceID:   adminID.String(),
		Description:   reason,
	})
	if err != nil {
		return uuid.Nil, err
	}

	slog.Info("admin credit adjustment", "user_id", userID.String(), "admin_id", adminID.String(), "amount", amount)

	if amount >= NotableAwardThreshold && l.notifier != nil {
		tpl := settingDefaults[SettingMsgPointGift].value
		if l.settings != nil {
			tpl = l.settings.Text(ctx, SettingMsgPointGift, tpl)
		}
		msg := Template(tpl, map[string]string{"amount": strconv.Itoa(amount), "reason": reason})
		l.notifier.Notify(ctx, models.NotifyPointGift, userID, "포인트 선물 도착", msg, map[string]string{
			"amount": strconv.Itoa(amount),
		})
	}
	return id, nil
}

// Reconcile replays the user's history and compares it with the cached balance.
func (l *Ledger) Reconcile(ctx context.Context, userID uuid.UUID) (*Reconciliation, error) {
	stored, err := l.Balance(ctx, userID)
	if err != nil {
		return nil, err
	}

	var amounts []int
	if err := l.db.WithContext(ctx).Model(&models.CreditTransaction{}).
		Where("user_id = ?", userID).
		Order("seq ASC").
		Pluck("amount", &amounts).Error; err != nil {
		return nil, err
	}

	sum := 0
	for _, a := range amounts {
		sum += a
	}
	replayed := ReplayBalance(amounts)
	return &Reconciliation{
		UserID:   userID,
		Stored:   stored,
		Replayed: replayed,
		Sum:      sum,
		Entries:  len(amounts),
		Drift:    replayed != stored,
	}, nil
}

// ReconcileAll reconciles every user with a bounded number of workers and
// returns only the users whose balance drifted.
func (l *Ledger) ReconcileAll(ctx context.Context, workers int) ([]Reconciliation, error) {
	var ids []uuid.UUID
	if err := l.db.WithContext(ctx).Model(&models.User{}).Unscoped().Pluck("id", &ids).Error; err != nil {
		return nil, err
	}
	if workers < 1 {
		workers = 1
	}

	results := make([]*Reconciliation, len(ids))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for i, id := range ids {
		g.Go(func() error {
			r, err := l.Reconcile(gctx, id)
			if err != nil {
				return fmt.Errorf("reconcile %s: %w", id, err)
			}
			results[i] = r
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	var drifted []Reconciliation
	for _, r := range results {
		if r != nil && r.Drift {
			drifted = append(drifted, *r)
		}
	}
	return drifted, nil
}

// lockRows adds SELECT ... FOR UPDATE on dialects that support it.
func lockRows(tx *gorm.DB) *gorm.DB {
	if tx.Dialector.Name() == "postgres" {
		return tx.Clauses(clause.Locking{Strength: "UPDATE"})
	}
	return tx
}

// lockActor locks the acting user's row so quota and duplicate checks stay
// valid until the caller's insert commits.
func lockActor(tx *gorm.DB, userID uuid.UUID) error {
	var u models.User
	err := lockRows(tx).Unscoped().Select("id").First(&u, "id = ?", userID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return fmt.Errorf("user %s: %w", userID, ErrNotFound)
	}
	return err
}
