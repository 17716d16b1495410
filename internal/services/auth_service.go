package services

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/ahmetcoskunkizilkaya/restroom-backend/internal/config"
	"github.com/ahmetcoskunkizilkaya/restroom-backend/internal/dto"
	"github.com/ahmetcoskunkizilkaya/restroom-backend/internal/models"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"
)

var (
	ErrEmailTaken         = errors.New("email already registered")
	ErrInvalidCredentials = errors.New("invalid email or password")
	ErrInvalidToken       = errors.New("invalid or expired refresh token")
	ErrUserNotFound       = errors.New("user not found")
)

type AuthService struct {
	db       *gorm.DB
	cfg      *config.Config
	ledger   *Ledger
	policy   *PolicyService
	activity *ActivityService
	now      func() time.Time
}

func NewAuthService(db *gorm.DB, cfg *config.Config, ledger *Ledger, policy *PolicyService, activity *ActivityService) *AuthService {
	return &AuthService{db: db, cfg: cfg, ledger: ledger, policy: policy, activity: activity, now: time.Now}
}

// Register creates an account and pays the signup bonus. A referral code is
// the referrer's user id.
func (s *AuthService) Register(ctx context.Context, req *dto.RegisterRequest) (*dto.AuthResponse, error) {
	email := strings.ToLower(strings.TrimSpace(req.Email))
	if len(email) == 0 || len(req.Password) < 8 {
		return nil, fmt.Errorf("%w: email required and password must be at least 8 characters", ErrValidation)
	}

	var referrerID *uuid.UUID
	if code := strings.TrimSpace(req.ReferralCode); code != "" {
		id, err := uuid.Parse(code)
		if err != nil {
			return nil, fmt.Errorf("%w: unknown referral code", ErrValidation)
		}
		referrerID = &id
	}

	var existing models.User
	if err := s.db.WithContext(ctx).Unscoped().Where("email = ?", email).First(&existing).Error; err == nil {
		return nil, ErrEmailTaken
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
	if err != nil {
		return nil, fmt.Errorf("failed to hash password: %w", err)
	}

	nickname := strings.TrimSpace(req.Nickname)
	if nickname == "" {
		nickname = strings.Split(email, "@")[0]
	}

	policy := s.policy.Get(ctx)
	user := models.User{
		Email:               email,
		Password:            string(hash),
		Nickname:            nickname,
		Role:                s.roleFor(email),
		Status:              models.StatusActive,
		NotificationEnabled: true,
	}

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if referrerID != nil {
			var referrer models.User
			if err := tx.First(&referrer, "id = ?", *referrerID).Error; err != nil {
				if errors.Is(err, gorm.ErrRecordNotFound) {
					return fmt.Errorf("%w: unknown referral code", ErrValidation)
				}
				return err
			}
			if referrer.Email == email {
				return ErrSelfReferral
			}
			user.ReferrerID = referrerID
		}

		if err := tx.Create(&user).Error; err != nil {
			return fmt.Errorf("failed to create user: %w", err)
		}
		bonus, err := s.ledger.ApplyTx(tx, Entry{
			UserID:        user.ID,
			Amount:        policy.Signup,
			Type:          models.TxSignup,
			ReferenceType: "user",
			ReferenceID:   user.ID.String(),
			Description:   "회원가입 보상",
		})
		if err != nil {
			return err
		}
		user.Credits = bonus.BalanceAfter
		if referrerID == nil {
			return nil
		}
		_, err = s.ledger.ApplyTx(tx, Entry{
			UserID:        *referrerID,
			Amount:        policy.ReferralReward,
			Type:          models.TxReferral,
			ReferenceType: "user",
			ReferenceID:   user.ID.String(),
			Description:   "친구 추천 보상",
		})
		if errors.Is(err, ErrTerminalUser) {
			return nil
		}
		return err
	})
	if err != nil {
		return nil, err
	}

	if referrerID != nil {
		s.activity.recordActivity(ctx, *referrerID, ScoreReferral, "referral")
	}
	slog.Info("user registered", "user_id", user.ID.String(), "referred", referrerID != nil)

	return s.generateTokenPair(ctx, &user)
}

func (s *AuthService) Login(ctx context.Context, req *dto.LoginRequest) (*dto.AuthResponse, error) {
	var user models.User
	email := strings.ToLower(strings.TrimSpace(req.Email))
	if err := s.db.WithContext(ctx).Where("email = ?", email).First(&user).Error; err != nil {
		return nil, ErrInvalidCredentials
	}

	if err := bcrypt.CompareHashAndPassword([]byte(user.Password), []byte(req.Password)); err != nil {
		return nil, ErrInvalidCredentials
	}
	if user.IsTerminal() {
		return nil, ErrTerminalUser
	}

	return s.generateTokenPair(ctx, &user)
}

func (s *AuthService) Refresh(ctx context.Context, req *dto.RefreshRequest) (*dto.AuthResponse, error) {
	tokenHash := hashToken(req.RefreshToken)
	db := s.db.WithContext(ctx)

	var stored models.RefreshToken
	if err := db.Where("token_hash = ? AND revoked = ?", tokenHash, false).First(&stored).Error; err != nil {
		return nil, ErrInvalidToken
	}

	db.Model(&stored).Update("revoked", true)
	if s.now().After(stored.ExpiresAt) {
		return nil, ErrInvalidToken
	}

	var user models.User
	if err := db.First(&user, "id = ?", stored.UserID).Error; err != nil {
		return nil, ErrInvalidToken
	}
	if user.IsTerminal() {
		return nil, ErrTerminalUser
	}

	return s.generateTokenPair(ctx, &user)
}

func (s *AuthService) Logout(ctx context.Context, req *dto.LogoutRequest) error {
	tokenHash := hashToken(req.RefreshToken)
	return s.db.WithContext(ctx).Model(&models.RefreshToken{}).
		Where("token_hash = ?", tokenHash).
		Update("revoked", true).Error
}

// GetUser loads an active account.
func (s *AuthService) GetUser(ctx context.Context, userID uuid.UUID) (*models.User, error) {
	var user models.User
	if err := s.db.WithContext(ctx).First(&user, "id = ?", userID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrUserNotFound
		}
		return nil, err
	}
	return &user, nil
}

// Withdraw closes the user's own account. The ledger history stays.
func (s *AuthService) Withdraw(ctx context.Context, userID uuid.UUID, password, reason string) error {
	user, err := s.GetUser(ctx, userID)
	if err != nil {
		return err
	}
	if password == "" {
		return fmt.Errorf("%w: password is required", ErrValidation)
	}
	if err := bcrypt.CompareHashAndPassword([]byte(user.Password), []byte(password)); err != nil {
		return ErrInvalidCredentials
	}

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Model(&models.RefreshToken{}).Where("user_id = ?", userID).Update("revoked", true).Error; err != nil {
			return err
		}
		if err := tx.Model(user).Updates(map[string]interface{}{
			"status":        models.StatusWithdrawn,
			"status_reason": reason,
			"push_token":    nil,
		}).Error; err != nil {
			return err
		}
		return tx.Delete(user).Error
	})
	if err != nil {
		return err
	}
	slog.Info("user withdrew", "user_id", userID.String())
	return nil
}

// Ban closes an account by admin decision.
func (s *AuthService) Ban(ctx context.Context, adminID, userID uuid.UUID, reason string) error {
	if adminID == userID {
		return fmt.Errorf("%w: cannot ban yourself", ErrValidation)
	}
	user, err := s.GetUser(ctx, userID)
	if err != nil {
		return err
	}
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Model(&models.RefreshToken{}).Where("user_id = ?", userID).Update("revoked", true).Error; err != nil {
			return err
		}
		return tx.Model(user).Updates(map[string]interface{}{
			"status":        models.StatusBanned,
			"status_reason": reason,
		}).Error
	})
	if err != nil {
		return err
	}
	slog.Warn("user banned", "user_id", userID.String(), "admin_id", adminID.String(), "reason", reason)
	return nil
}

// UpdatePushSettings stores the device token and the notification opt-in.
// An empty token clears it.
func (s *AuthService) UpdatePushSettings(ctx context.Context, userID uuid.UUID, token *string, enabled bool) error {
	updates := map[string]interface{}{"notification_enabled": enabled}
	if token != nil {
		if t := strings.TrimSpace(*token); t != "" {
			updates["push_token"] = t
		} else {
			updates["push_token"] = nil
		}
	}
	res := s.db.WithContext(ctx).Model(&models.User{}).Where("id = ?", userID).Updates(updates)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrUserNotFound
	}
	return nil
}

func (s *AuthService) roleFor(email string) string {
	for _, e := range strings.Split(s.cfg.AdminEmails, ",") {
		if strings.EqualFold(strings.TrimSpace(e), email) && email != "" {
			return models.RoleAdmin
		}
	}
	return models.RoleUser
}

func (s *AuthService) generateTokenPair(ctx context.Context, user *models.User) (*dto.AuthResponse, error) {
	accessToken, err := s.generateAccessToken(user)
	if err != nil {
		return nil, err
	}

	refreshToken, err := s.generateRefreshToken(ctx, user)
	if err != nil {
		return nil, err
	}

	return &dto.AuthResponse{
		AccessToken:  accessToken,
		RefreshToken: refreshToken,
		User:         dto.NewUserResponse(user),
	}, nil
}

func (s *AuthService) generateAccessToken(user *models.User) (string, error) {
	now := s.now()
	claims := jwt.MapClaims{
		"sub":   user.ID.String(),
		"email": user.Email,
		"role":  user.Role,
		"iat":   now.Unix(),
		"exp":   now.Add(s.cfg.JWTAccessExpiry).Unix(),
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString([]byte(s.cfg.JWTSecret))
}

func (s *AuthService) generateRefreshToken(ctx context.Context, user *models.User) (string, error) {
	rawBytes := make([]byte, 32)
	if _, err := rand.Read(rawBytes); err != nil {
		return "", fmt.Errorf("failed to generate random bytes: %w", err)
	}

	rawToken := base64.URLEncoding.EncodeToString(rawBytes)
	record := models.RefreshToken{
		UserID:    user.ID,
		TokenHash: hashToken(rawToken),
		ExpiresAt: s.now().Add(s.cfg.JWTRefreshExpiry),
	}

	if err := s.db.WithContext(ctx).Create(&record).Error; err != nil {
		return "", fmt.Errorf("failed to store refresh token: %w", err)
	}

	return rawToken, nil
}

func hashToken(token string) string {
	h := sha256.Sum256([]byte(token))
	return fmt.Sprintf("%x", h)
}
