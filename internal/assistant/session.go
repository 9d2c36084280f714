package assistant

import (
	"context"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"tripplan-go/internal/apierr"
	"tripplan-go/internal/model"
)

// SessionStore owns ChatSession/Message persistence: ownership-checked
// session resolution, bounded history loads, and the single-transaction
// turn append (spec §4.K steps 1 and 7). Adapted from the teacher's Redis
// conversation-history idiom, rebuilt over GORM rows instead of a JSON
// blob so ownership is checked against the session row's user_id.
type SessionStore interface {
	EnsureSession(ctx context.Context, userID uint, sessionID string, tripID *uint) (model.ChatSession, error)
	LoadHistory(ctx context.Context, sessionID string, maxRounds int) ([]model.Message, error)
	AppendTurn(ctx context.Context, sessionID string, userMsg, assistantMsg *model.Message) error
	AppendUserOnly(ctx context.Context, sessionID string, userMsg *model.Message) error
}

type gormSessionStore struct {
	db *gorm.DB
}

// NewSessionStore builds the GORM-backed SessionStore.
func NewSessionStore(db *gorm.DB) SessionStore {
	return &gormSessionStore{db: db}
}

func (s *gormSessionStore) EnsureSession(ctx context.Context, userID uint, sessionID string, tripID *uint) (model.ChatSession, error) {
	if sessionID != "" {
		var existing model.ChatSession
		err := s.db.WithContext(ctx).Where("id = ?", sessionID).First(&existing).Error
		if err == nil {
			if existing.UserID != userID {
				return model.ChatSession{}, apierr.New(apierr.KindNotAuthorized, "session does not belong to requesting user")
			}
			return existing, nil
		}
		if err != gorm.ErrRecordNotFound {
			return model.ChatSession{}, apierr.Wrap(apierr.KindPersistenceFailed, "session lookup failed", err)
		}
	} else {
		sessionID = uuid.NewString()
	}

	created := model.ChatSession{ID: sessionID, UserID: userID, TripID: tripID}
	if err := s.db.WithContext(ctx).Create(&created).Error; err != nil {
		return model.ChatSession{}, apierr.Wrap(apierr.KindPersistenceFailed, "session create failed", err)
	}
	return created, nil
}

func (s *gormSessionStore) LoadHistory(ctx context.Context, sessionID string, maxRounds int) ([]model.Message, error) {
	if maxRounds <= 0 {
		maxRounds = 1
	}
	limit := maxRounds * 2

	var recent []model.Message
	err := s.db.WithContext(ctx).
		Where("session_id = ?", sessionID).
		Order("created_at DESC, id DESC").
		Limit(limit).
		Find(&recent).Error
	if err != nil {
		return nil, apierr.Wrap(apierr.KindPersistenceFailed, "history load failed", err)
	}

	for i, j := 0, len(recent)-1; i < j; i, j = i+1, j-1 {
		recent[i], recent[j] = recent[j], recent[i]
	}
	return recent, nil
}

func (s *gormSessionStore) AppendTurn(ctx context.Context, sessionID string, userMsg, assistantMsg *model.Message) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		userMsg.SessionID = sessionID
		userMsg.Role = model.RoleUserMsg
		if err := tx.Create(userMsg).Error; err != nil {
			return apierr.Wrap(apierr.KindPersistenceFailed, "user message persist failed", err)
		}
		assistantMsg.SessionID = sessionID
		assistantMsg.Role = model.RoleAssistantMsg
		if err := tx.Create(assistantMsg).Error; err != nil {
			return apierr.Wrap(apierr.KindPersistenceFailed, "assistant message persist failed", err)
		}
		return nil
	})
}

func (s *gormSessionStore) AppendUserOnly(ctx context.Context, sessionID string, userMsg *model.Message) error {
	userMsg.SessionID = sessionID
	userMsg.Role = model.RoleUserMsg
	if err := s.db.WithContext(ctx).Create(userMsg).Error; err != nil {
		return apierr.Wrap(apierr.KindPersistenceFailed, "user message persist failed", err)
	}
	return nil
}
