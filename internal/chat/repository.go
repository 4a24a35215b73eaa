package chat

import (
	"context"
	"errors"
	"time"

	"school-gateway/internal/models"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var ErrRoomNotFound = errors.New("room not found")
var ErrMessageNotFound = errors.New("message not found")

// Repository owns the durable chat state: rooms and messages.
type Repository interface {
	// FindOrCreateRoom returns the unique room for the unordered account
	// pair, creating it lazily on first use.
	FindOrCreateRoom(ctx context.Context, a, b string) (*models.Room, error)

	// RoomFor returns the room for the pair, or ErrRoomNotFound.
	RoomFor(ctx context.Context, a, b string) (*models.Room, error)

	RoomByID(ctx context.Context, id string) (*models.Room, error)

	CreateMessage(ctx context.Context, msg *models.Message) error
	FindMessageByID(ctx context.Context, id string) (*models.Message, error)

	// PageBefore returns up to limit messages strictly older than before
	// (all of the newest when before is nil), ordered newest first.
	PageBefore(ctx context.Context, roomID string, before *time.Time, limit int) ([]models.Message, error)

	// MarkRead flips the read flag on every unread message in the room
	// authored by authorID, returning how many changed.
	MarkRead(ctx context.Context, roomID, authorID string) (int64, error)

	CountUnread(ctx context.Context, roomID, authorID string) (int64, error)

	UpdateContent(ctx context.Context, id, content string, editedAt time.Time) error

	RoomsFor(ctx context.Context, accountID string) ([]models.Room, error)
	LastMessage(ctx context.Context, roomID string) (*models.Message, error)
}

type gormRepository struct {
	db *gorm.DB
}

func NewRepository(db *gorm.DB) Repository {
	return &gormRepository{db: db}
}

// pairKey normalizes an unordered account pair to (low, high).
func pairKey(a, b string) (string, string) {
	if a < b {
		return a, b
	}
	return b, a
}

func (r *gormRepository) FindOrCreateRoom(ctx context.Context, a, b string) (*models.Room, error) {
	low, high := pairKey(a, b)

	room := models.Room{
		ID:       uuid.New().String(),
		UserLow:  low,
		UserHigh: high,
	}
	// Race-safe against a concurrent first message for the same pair.
	err := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "user_low"}, {Name: "user_high"}},
			DoNothing: true,
		}).
		Create(&room).Error
	if err != nil {
		return nil, err
	}

	return r.RoomFor(ctx, a, b)
}

func (r *gormRepository) RoomFor(ctx context.Context, a, b string) (*models.Room, error) {
	low, high := pairKey(a, b)
	var room models.Room
	err := r.db.WithContext(ctx).
		First(&room, "user_low = ? AND user_high = ?", low, high).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrRoomNotFound
	}
	if err != nil {
		return nil, err
	}
	return &room, nil
}

func (r *gormRepository) RoomByID(ctx context.Context, id string) (*models.Room, error) {
	var room models.Room
	err := r.db.WithContext(ctx).First(&room, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrRoomNotFound
	}
	if err != nil {
		return nil, err
	}
	return &room, nil
}

func (r *gormRepository) CreateMessage(ctx context.Context, msg *models.Message) error {
	return r.db.WithContext(ctx).Create(msg).Error
}

func (r *gormRepository) FindMessageByID(ctx context.Context, id string) (*models.Message, error) {
	var msg models.Message
	err := r.db.WithContext(ctx).First(&msg, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrMessageNotFound
	}
	if err != nil {
		return nil, err
	}
	return &msg, nil
}

func (r *gormRepository) PageBefore(ctx context.Context, roomID string, before *time.Time, limit int) ([]models.Message, error) {
	q := r.db.WithContext(ctx).
		Where("room_id = ?", roomID).
		Order("created_at DESC").
		Limit(limit)
	if before != nil {
		q = q.Where("created_at < ?", *before)
	}

	var messages []models.Message
	if err := q.Find(&messages).Error; err != nil {
		return nil, err
	}
	return messages, nil
}

func (r *gormRepository) MarkRead(ctx context.Context, roomID, authorID string) (int64, error) {
	res := r.db.WithContext(ctx).Model(&models.Message{}).
		Where("room_id = ? AND author_id = ? AND read = ?", roomID, authorID, false).
		Update("read", true)
	return res.RowsAffected, res.Error
}

func (r *gormRepository) CountUnread(ctx context.Context, roomID, authorID string) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&models.Message{}).
		Where("room_id = ? AND author_id = ? AND read = ?", roomID, authorID, false).
		Count(&count).Error
	return count, err
}

func (r *gormRepository) UpdateContent(ctx context.Context, id, content string, editedAt time.Time) error {
	return r.db.WithContext(ctx).Model(&models.Message{}).
		Where("id = ?", id).
		Updates(map[string]any{"content": content, "edited_at": editedAt}).Error
}

func (r *gormRepository) RoomsFor(ctx context.Context, accountID string) ([]models.Room, error) {
	var rooms []models.Room
	err := r.db.WithContext(ctx).
		Where("user_low = ? OR user_high = ?", accountID, accountID).
		Order("created_at DESC").
		Find(&rooms).Error
	return rooms, err
}

func (r *gormRepository) LastMessage(ctx context.Context, roomID string) (*models.Message, error) {
	var msg models.Message
	err := r.db.WithContext(ctx).
		Where("room_id = ?", roomID).
		Order("created_at DESC").
		First(&msg).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrMessageNotFound
	}
	if err != nil {
		return nil, err
	}
	return &msg, nil
}
