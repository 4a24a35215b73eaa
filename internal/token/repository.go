package token

import (
	"context"
	"errors"
	"time"

	"school-gateway/internal/models"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// AccountRepository resolves accounts for the login path.
type AccountRepository interface {
	FindByEmail(ctx context.Context, email string) (*models.Account, error)
	FindByID(ctx context.Context, id string) (*models.Account, error)
	UpdateLastLogin(ctx context.Context, id string, at time.Time) error
}

// RefreshTokenRepository stores the durable record behind refresh credentials.
type RefreshTokenRepository interface {
	Create(ctx context.Context, record *models.RefreshToken) error
	FindByToken(ctx context.Context, tokenString string) (*models.RefreshToken, error)
	DeleteByToken(ctx context.Context, tokenString string) error
	DeleteByAccount(ctx context.Context, accountID string) error
}

var ErrRecordNotFound = errors.New("record not found")

type accountRepository struct {
	db *gorm.DB
}

func NewAccountRepository(db *gorm.DB) AccountRepository {
	return &accountRepository{db: db}
}

func (r *accountRepository) FindByEmail(ctx context.Context, email string) (*models.Account, error) {
	var account models.Account
	err := r.db.WithContext(ctx).First(&account, "email = ?", email).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrRecordNotFound
	}
	return &account, err
}

func (r *accountRepository) FindByID(ctx context.Context, id string) (*models.Account, error) {
	var account models.Account
	err := r.db.WithContext(ctx).First(&account, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrRecordNotFound
	}
	return &account, err
}

func (r *accountRepository) UpdateLastLogin(ctx context.Context, id string, at time.Time) error {
	return r.db.WithContext(ctx).Model(&models.Account{}).
		Where("id = ?", id).
		Update("last_login", at).Error
}

type refreshTokenRepository struct {
	db *gorm.DB
}

func NewRefreshTokenRepository(db *gorm.DB) RefreshTokenRepository {
	return &refreshTokenRepository{db: db}
}

func (r *refreshTokenRepository) Create(ctx context.Context, record *models.RefreshToken) error {
	if record.ID == "" {
		record.ID = uuid.New().String()
	}
	return r.db.WithContext(ctx).Create(record).Error
}

func (r *refreshTokenRepository) FindByToken(ctx context.Context, tokenString string) (*models.RefreshToken, error) {
	var record models.RefreshToken
	err := r.db.WithContext(ctx).First(&record, "token = ?", tokenString).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrRecordNotFound
	}
	return &record, err
}

func (r *refreshTokenRepository) DeleteByToken(ctx context.Context, tokenString string) error {
	return r.db.WithContext(ctx).Delete(&models.RefreshToken{}, "token = ?", tokenString).Error
}

func (r *refreshTokenRepository) DeleteByAccount(ctx context.Context, accountID string) error {
	return r.db.WithContext(ctx).Delete(&models.RefreshToken{}, "account_id = ?", accountID).Error
}
