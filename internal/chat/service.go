package chat

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"
	"time"

	"school-gateway/internal/models"
	"school-gateway/internal/registry"

	"github.com/google/uuid"
)

const (
	// PageSize is the fixed history page length.
	PageSize = 20

	maxContentLen = 2000

	// editWindow bounds how long after creation a message may be edited.
	editWindow = 5 * time.Minute
)

var (
	ErrEmptyContent   = errors.New("message content is empty")
	ErrContentTooLong = errors.New("message content exceeds maximum length")
	ErrNotAuthor      = errors.New("only the author may edit a message")
	ErrEditExpired    = errors.New("edit window has closed")
	ErrSelfMessage    = errors.New("cannot message yourself")
)

// HistoryPage is one chronological page of a room's messages.
type HistoryPage struct {
	Messages []models.Message
	// NextCursor is the timestamp of the oldest returned message, zero when
	// the page came back short of PageSize (history exhausted).
	NextCursor time.Time
}

// RoomSummary is the reconnect-time reconciliation view of one room.
type RoomSummary struct {
	Room        models.Room
	Other       string
	LastMessage *models.Message
	UnreadCount int64
}

// Service owns chat-room identity, message persistence, pagination, read
// receipts and unread bookkeeping. Real-time delivery rides the registry;
// anything dropped there is recovered by re-reading state on reconnect.
type Service struct {
	repo     Repository
	registry *registry.Registry
	logger   *slog.Logger
	now      func() time.Time
}

func NewService(repo Repository, reg *registry.Registry, logger *slog.Logger) *Service {
	return &Service{
		repo:     repo,
		registry: reg,
		logger:   logger,
		now:      time.Now,
	}
}

// Send persists a message for the sender/recipient pair, creating their room
// on first contact, and pushes the created message to the recipient. The
// sender gets the message back in the handler reply, not via push.
func (s *Service) Send(ctx context.Context, sender, recipient, content string) (*models.Message, error) {
	content, err := validateContent(content)
	if err != nil {
		return nil, err
	}
	if sender == recipient {
		return nil, ErrSelfMessage
	}

	room, err := s.repo.FindOrCreateRoom(ctx, sender, recipient)
	if err != nil {
		return nil, err
	}

	msg := &models.Message{
		ID:        uuid.New().String(),
		RoomID:    room.ID,
		AuthorID:  sender,
		Content:   content,
		CreatedAt: s.now().UTC(),
	}
	if err := s.repo.CreateMessage(ctx, msg); err != nil {
		return nil, err
	}

	s.push(ctx, recipient, newMessageEvent(msg))
	return msg, nil
}

// History returns the requester's next page of the shared room, newest page
// first when no cursor is given, each page in chronological order. As a side
// effect every unread message authored by other becomes read, and other is
// pushed a read receipt with their updated unread count for the room.
func (s *Service) History(ctx context.Context, requester, other string, cursor *time.Time) (*HistoryPage, error) {
	room, err := s.repo.RoomFor(ctx, requester, other)
	if errors.Is(err, ErrRoomNotFound) {
		return &HistoryPage{}, nil
	}
	if err != nil {
		return nil, err
	}

	page, err := s.repo.PageBefore(ctx, room.ID, cursor, PageSize)
	if err != nil {
		return nil, err
	}

	marked, err := s.repo.MarkRead(ctx, room.ID, other)
	if err != nil {
		return nil, err
	}
	if marked > 0 {
		// The receipt carries other's own unread count so their client can
		// reconcile without another round trip.
		unread, cerr := s.repo.CountUnread(ctx, room.ID, requester)
		if cerr != nil {
			s.logger.Warn("unread recount failed", "roomID", room.ID, "error", cerr)
			unread = 0
		}
		s.push(ctx, other, readReceiptEvent(room.ID, requester, unread))
	}

	// Reverse newest-first into chronological order for display.
	for i, j := 0, len(page)-1; i < j; i, j = i+1, j-1 {
		page[i], page[j] = page[j], page[i]
	}

	result := &HistoryPage{Messages: page}
	if len(page) == PageSize {
		result.NextCursor = page[0].CreatedAt
	}
	return result, nil
}

// UnreadCount counts unread messages authored by other in the shared room.
func (s *Service) UnreadCount(ctx context.Context, identity, other string) (int64, error) {
	room, err := s.repo.RoomFor(ctx, identity, other)
	if errors.Is(err, ErrRoomNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return s.repo.CountUnread(ctx, room.ID, other)
}

// Edit rewrites a message's content within the edit window. Only the author
// may edit; the other participant is pushed the edited message.
func (s *Service) Edit(ctx context.Context, requester, messageID, content string) (*models.Message, error) {
	content, err := validateContent(content)
	if err != nil {
		return nil, err
	}

	msg, err := s.repo.FindMessageByID(ctx, messageID)
	if err != nil {
		return nil, err
	}
	if msg.AuthorID != requester {
		return nil, ErrNotAuthor
	}

	now := s.now().UTC()
	if now.Sub(msg.CreatedAt) > editWindow {
		return nil, ErrEditExpired
	}

	if err := s.repo.UpdateContent(ctx, msg.ID, content, now); err != nil {
		return nil, err
	}
	msg.Content = content
	msg.EditedAt = &now

	if room, rerr := s.repo.RoomByID(ctx, msg.RoomID); rerr == nil {
		s.push(ctx, room.Other(requester), messageEditedEvent(msg))
	}

	return msg, nil
}

// Rooms lists every room the account participates in, with the last message
// and the account's unread count per room.
func (s *Service) Rooms(ctx context.Context, accountID string) ([]RoomSummary, error) {
	rooms, err := s.repo.RoomsFor(ctx, accountID)
	if err != nil {
		return nil, err
	}

	summaries := make([]RoomSummary, 0, len(rooms))
	for _, room := range rooms {
		other := room.Other(accountID)
		summary := RoomSummary{Room: room, Other: other}

		if last, lerr := s.repo.LastMessage(ctx, room.ID); lerr == nil {
			summary.LastMessage = last
		}
		if unread, uerr := s.repo.CountUnread(ctx, room.ID, other); uerr == nil {
			summary.UnreadCount = unread
		}
		summaries = append(summaries, summary)
	}
	return summaries, nil
}

// push delivers an event best-effort. A failure here is the registry's
// at-most-once policy at work, not an error for the caller.
func (s *Service) push(ctx context.Context, recipient string, event map[string]any) {
	payload, err := json.Marshal(event)
	if err != nil {
		s.logger.Error("failed to marshal chat event", "error", err)
		return
	}
	s.registry.Send(ctx, recipient, payload)
}

func validateContent(content string) (string, error) {
	content = strings.TrimSpace(content)
	if content == "" {
		return "", ErrEmptyContent
	}
	if len(content) > maxContentLen {
		return "", ErrContentTooLong
	}
	return content, nil
}
