package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	"gorm.io/gorm"

	"github.com/eduzayn/conversa-insights-dash-sub001/internal/adapters/botconversa"
	"github.com/eduzayn/conversa-insights-dash-sub001/internal/models"
)

// MessageSyncer merges remote message batches into local storage. The remote
// message id is the dedup key, so a full history replay inserts nothing new.
type MessageSyncer struct {
	db *gorm.DB
}

// NewMessageSyncer creates a MessageSyncer.
func NewMessageSyncer(gdb *gorm.DB) (*MessageSyncer, error) {
	if gdb == nil {
		return nil, fmt.Errorf("database instance cannot be nil")
	}
	return &MessageSyncer{db: gdb}, nil
}

// SyncMessages inserts every remote message not yet stored for the
// conversation and returns the number of new rows. Platform-reported
// timestamps are preserved so ordering reflects platform time, not arrival
// time. The conversation's last-message timestamp rolls forward to the
// maximum seen, and a conversation closed only by staleness is reactivated.
func (s *MessageSyncer) SyncMessages(ctx context.Context, conversationID uint, remote []InboundMessage) (int, error) {
	var conversation models.Conversation
	if err := s.db.WithContext(ctx).First(&conversation, conversationID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return 0, fmt.Errorf("conversation %d not found", conversationID)
		}
		return 0, fmt.Errorf("error loading conversation %d: %w", conversationID, err)
	}

	if len(remote) == 0 {
		return 0, nil
	}

	existing, err := s.existingRemoteIDs(ctx, conversationID)
	if err != nil {
		return 0, err
	}

	inserted := 0
	var maxTimestamp time.Time
	if conversation.LastMessageAt != nil {
		maxTimestamp = *conversation.LastMessageAt
	}

	for _, rm := range remote {
		if rm.RemoteID == "" {
			log.Warn().Uint("conversationID", conversationID).Msg("Remote message without id, skipped")
			continue
		}
		if rm.Timestamp.After(maxTimestamp) {
			maxTimestamp = rm.Timestamp
		}
		if existing[rm.RemoteID] {
			continue
		}

		msg := models.Message{
			ConversationID: conversationID,
			RemoteID:       rm.RemoteID,
			SenderKind:     senderKindFor(rm.Direction),
			Content:        rm.Content,
			ContentType:    contentTypeFor(rm.Type),
			Timestamp:      rm.Timestamp,
		}
		if err := s.db.WithContext(ctx).Create(&msg).Error; err != nil {
			return inserted, fmt.Errorf("error inserting message %s: %w", rm.RemoteID, err)
		}
		existing[rm.RemoteID] = true
		inserted++
	}

	if inserted == 0 {
		return 0, nil
	}

	updates := map[string]interface{}{"last_message_at": maxTimestamp}
	// Only staleness closes are undone by new traffic; an agent close stays.
	if conversation.Status == models.ConversationStatusClosed && conversation.CloseReason == models.CloseReasonStale {
		updates["status"] = models.ConversationStatusActive
		updates["close_reason"] = ""
	}
	if err := s.db.WithContext(ctx).Model(&conversation).Updates(updates).Error; err != nil {
		return inserted, fmt.Errorf("error updating conversation %d after sync: %w", conversationID, err)
	}

	log.Info().
		Uint("conversationID", conversationID).
		Int("inserted", inserted).
		Int("batchSize", len(remote)).
		Time("lastMessageAt", maxTimestamp).
		Msg("Synced messages")
	return inserted, nil
}

// CloseStale closes active conversations whose last message is older than
// the cutoff, marking them stale so renewed traffic reopens them.
func (s *MessageSyncer) CloseStale(ctx context.Context, olderThan time.Duration) (int64, error) {
	cutoff := time.Now().Add(-olderThan)
	res := s.db.WithContext(ctx).
		Model(&models.Conversation{}).
		Where("status = ? AND last_message_at IS NOT NULL AND last_message_at < ?", models.ConversationStatusActive, cutoff).
		Updates(map[string]interface{}{
			"status":       models.ConversationStatusClosed,
			"close_reason": models.CloseReasonStale,
		})
	if res.Error != nil {
		return 0, fmt.Errorf("error closing stale conversations: %w", res.Error)
	}
	if res.RowsAffected > 0 {
		log.Info().Int64("closed", res.RowsAffected).Time("cutoff", cutoff).Msg("Closed stale conversations")
	}
	return res.RowsAffected, nil
}

func (s *MessageSyncer) existingRemoteIDs(ctx context.Context, conversationID uint) (map[string]bool, error) {
	var ids []string
	err := s.db.WithContext(ctx).
		Model(&models.Message{}).
		Where("conversation_id = ?", conversationID).
		Pluck("remote_id", &ids).Error
	if err != nil {
		return nil, fmt.Errorf("error loading stored message ids for conversation %d: %w", conversationID, err)
	}
	existing := make(map[string]bool, len(ids))
	for _, id := range ids {
		existing[id] = true
	}
	return existing, nil
}

func senderKindFor(direction string) string {
	switch direction {
	case botconversa.DirectionIncoming:
		return models.SenderCustomer
	case botconversa.DirectionOutgoing:
		return models.SenderAttendant
	default:
		return models.SenderSystem
	}
}

func contentTypeFor(remoteType string) string {
	switch remoteType {
	case models.ContentTypeText, models.ContentTypeAudio, models.ContentTypeImage, models.ContentTypeDocument:
		return remoteType
	default:
		return models.ContentTypeText
	}
}
