package services

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"
	"gorm.io/gorm"

	"github.com/eduzayn/conversa-insights-dash-sub001/config"
	"github.com/eduzayn/conversa-insights-dash-sub001/internal/models"
)

// CRMStatusField is the BotConversa custom field that mirrors the lead status.
const CRMStatusField = "crm_status"

// StatusSyncService keeps lead status and platform tags consistent in both
// directions: tag events drive status updates, and status updates are pushed
// back to the platform as tags plus a custom field.
//
// Push-back is driven only by webhook-path changes. The periodic sync calls
// in with pushBack disabled so its read-backs can never feed a write loop.
type StatusSyncService struct {
	db     *gorm.DB
	rules  []config.StatusRule
	remote TagPusher
}

// NewStatusSyncService creates a StatusSyncService. remote may be nil when
// push-back is not configured; status mapping still works locally.
func NewStatusSyncService(gdb *gorm.DB, rules []config.StatusRule, remote TagPusher) (*StatusSyncService, error) {
	if gdb == nil {
		return nil, fmt.Errorf("database instance cannot be nil")
	}
	return &StatusSyncService{db: gdb, rules: rules, remote: remote}, nil
}

// StatusForTag returns the lead status mapped to a tag, if any.
func (s *StatusSyncService) StatusForTag(tag string) (string, bool) {
	for _, rule := range s.rules {
		if rule.Tag == tag {
			return rule.Status, true
		}
	}
	return "", false
}

func (s *StatusSyncService) tagForStatus(status string) (string, bool) {
	for _, rule := range s.rules {
		if rule.Status == status {
			return rule.Tag, true
		}
	}
	return "", false
}

// ApplyTag handles a tag_added event: when the tag has a status mapping, the
// lead moves to that status. Unmapped tags are a no-op, not an error.
func (s *StatusSyncService) ApplyTag(ctx context.Context, lead *models.Lead, tag string, pushBack bool) error {
	status, ok := s.StatusForTag(tag)
	if !ok {
		log.Debug().Str("tag", tag).Uint("leadID", lead.ID).Msg("Tag has no status mapping, ignored")
		return nil
	}
	return s.setStatus(ctx, lead, status, pushBack)
}

// ApplyFirstMatch applies the status mapped to the first tag that has one.
// Used on subscriber_created, where the full tag set arrives at once.
func (s *StatusSyncService) ApplyFirstMatch(ctx context.Context, lead *models.Lead, tags []string, pushBack bool) error {
	for _, tag := range tags {
		if status, ok := s.StatusForTag(tag); ok {
			return s.setStatus(ctx, lead, status, pushBack)
		}
	}
	return nil
}

// ReapplyAfterRemoval handles a tag_removed event. If the removed tag was
// the one that produced the lead's current status, the status is re-derived
// from the remaining tags, first match wins. When nothing remains mapped the
// status is left as is.
func (s *StatusSyncService) ReapplyAfterRemoval(ctx context.Context, lead *models.Lead, removedTag string, remaining []string, pushBack bool) error {
	removedStatus, ok := s.StatusForTag(removedTag)
	if !ok || lead.Status != removedStatus {
		return nil
	}
	for _, tag := range remaining {
		if status, ok := s.StatusForTag(tag); ok {
			return s.setStatus(ctx, lead, status, pushBack)
		}
	}
	return nil
}

func (s *StatusSyncService) setStatus(ctx context.Context, lead *models.Lead, status string, pushBack bool) error {
	if lead.Status == status {
		return nil
	}
	previous := lead.Status

	if err := s.db.WithContext(ctx).Model(lead).Update("status", status).Error; err != nil {
		return fmt.Errorf("error updating lead %d status: %w", lead.ID, err)
	}
	lead.Status = status
	log.Info().
		Uint("leadID", lead.ID).
		Str("from", previous).
		Str("to", status).
		Msg("Lead status updated")

	if !pushBack || s.remote == nil {
		return nil
	}
	return s.pushBack(ctx, lead, previous, status)
}

// pushBack mirrors the local status change onto the platform. It runs with
// no phone lock held, so a slow remote call never stalls ingestion.
func (s *StatusSyncService) pushBack(ctx context.Context, lead *models.Lead, previous, current string) error {
	sub, err := s.remote.GetSubscriberByPhone(ctx, lead.Phone)
	if err != nil {
		return fmt.Errorf("push-back lookup for lead %d: %w", lead.ID, err)
	}

	if tag, ok := s.tagForStatus(current); ok {
		if !hasTag(sub.Tags, tag) {
			if err := s.remote.AddTag(ctx, sub.ID, tag); err != nil {
				return fmt.Errorf("push-back add tag %q for lead %d: %w", tag, lead.ID, err)
			}
		}
	}
	if tag, ok := s.tagForStatus(previous); ok && hasTag(sub.Tags, tag) {
		if err := s.remote.RemoveTag(ctx, sub.ID, tag); err != nil {
			return fmt.Errorf("push-back remove tag %q for lead %d: %w", tag, lead.ID, err)
		}
	}
	if err := s.remote.SetCustomField(ctx, sub.ID, CRMStatusField, current); err != nil {
		return fmt.Errorf("push-back custom field for lead %d: %w", lead.ID, err)
	}

	log.Info().
		Uint("leadID", lead.ID).
		Int64("subscriberID", sub.ID).
		Str("status", current).
		Msg("Pushed status back to BotConversa")
	return nil
}

func hasTag(tags []string, tag string) bool {
	for _, t := range tags {
		if t == tag {
			return true
		}
	}
	return false
}
