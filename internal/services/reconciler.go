package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/rs/zerolog/log"
	"gorm.io/gorm"

	"github.com/eduzayn/conversa-insights-dash-sub001/internal/adapters/botconversa"
	"github.com/eduzayn/conversa-insights-dash-sub001/internal/models"
	"github.com/eduzayn/conversa-insights-dash-sub001/internal/routing"
)

// ErrReconciliationConflict means more than one active conversation exists
// for a phone number. That state should be impossible under the per-phone
// lock; it is surfaced as a data-integrity alert, never merged silently.
var ErrReconciliationConflict = errors.New("duplicate active conversation for phone")

// ReconcileResult is the lead/conversation pair a subscriber resolved to.
type ReconcileResult struct {
	Lead                *models.Lead
	Conversation        *models.Conversation
	CreatedLead         bool
	CreatedConversation bool
}

// Reconciler maps a remote subscriber identity to local lead and conversation
// records, creating them on first contact. Reconcile is idempotent: repeated
// calls with unchanged state resolve to the same record ids.
type Reconciler struct {
	db     *gorm.DB
	router *routing.Engine
	locks  *KeyedMutex
}

// NewReconciler creates a Reconciler.
func NewReconciler(gdb *gorm.DB, router *routing.Engine, locks *KeyedMutex) (*Reconciler, error) {
	if gdb == nil {
		return nil, fmt.Errorf("database instance cannot be nil")
	}
	if router == nil {
		return nil, fmt.Errorf("routing engine cannot be nil")
	}
	if locks == nil {
		return nil, fmt.Errorf("keyed mutex cannot be nil")
	}
	return &Reconciler{db: gdb, router: router, locks: locks}, nil
}

// Reconcile finds or creates the lead and active conversation for the given
// subscriber. The read-check-create sequence runs under the per-phone lock;
// no remote calls happen inside it.
//
// A lead in terminal lost status is never resurrected: renewed contact from
// the same phone creates a fresh lead instead.
func (r *Reconciler) Reconcile(ctx context.Context, contact Contact) (*ReconcileResult, error) {
	phone, err := botconversa.NormalizePhone(contact.Phone)
	if err != nil {
		return nil, err
	}

	department := r.router.RouteDepartment(contact.Tags)
	team := department

	unlock := r.locks.Lock(phone)
	defer unlock()

	result := &ReconcileResult{}

	// 1. Lead within the team scope, skipping terminal leads.
	var lead models.Lead
	err = r.db.WithContext(ctx).
		Where("phone = ? AND team = ? AND status <> ?", phone, team, models.LeadStatusLost).
		Order("id").
		First(&lead).Error
	switch {
	case err == nil:
		result.Lead = &lead
	case errors.Is(err, gorm.ErrRecordNotFound):
		created, createErr := r.createLead(ctx, contact, phone, department, team)
		if createErr != nil {
			return nil, createErr
		}
		result.Lead = created
		result.CreatedLead = true
	default:
		return nil, fmt.Errorf("error querying lead for %s: %w", phone, err)
	}

	// 2. Active conversation for the phone. A closed conversation is never
	// reused; a missing active one is created.
	var conversations []models.Conversation
	err = r.db.WithContext(ctx).
		Where("customer_phone = ? AND status = ?", phone, models.ConversationStatusActive).
		Order("id").
		Find(&conversations).Error
	if err != nil {
		return nil, fmt.Errorf("error querying active conversation for %s: %w", phone, err)
	}

	switch len(conversations) {
	case 0:
		conversation := &models.Conversation{
			LeadID:        result.Lead.ID,
			AttendantID:   result.Lead.AttendantID,
			CustomerName:  contact.Name,
			CustomerPhone: phone,
			Status:        models.ConversationStatusActive,
		}
		if err := r.db.WithContext(ctx).Create(conversation).Error; err != nil {
			return nil, fmt.Errorf("error creating conversation for %s: %w", phone, err)
		}
		log.Info().
			Uint("conversationID", conversation.ID).
			Uint("leadID", result.Lead.ID).
			Str("phone", phone).
			Msg("Created conversation")
		result.Conversation = conversation
		result.CreatedConversation = true
	case 1:
		result.Conversation = &conversations[0]
	default:
		log.Error().
			Str("phone", phone).
			Int("activeConversations", len(conversations)).
			Str("alert", "data-integrity").
			Msg("Duplicate active conversations detected")
		return nil, fmt.Errorf("%w: phone %s has %d", ErrReconciliationConflict, phone, len(conversations))
	}

	return result, nil
}

func (r *Reconciler) createLead(ctx context.Context, contact Contact, phone, department, team string) (*models.Lead, error) {
	attendant, err := r.router.FindAttendant(ctx, department)
	if err != nil {
		return nil, err
	}

	lead := &models.Lead{
		Name:   contact.Name,
		Phone:  phone,
		Email:  contact.Email,
		Source: models.SourceBotConversa,
		Status: models.LeadStatusNew,
		Team:   team,
	}
	if attendant != nil {
		lead.AttendantID = &attendant.ID
	}
	if len(contact.CustomFields) > 0 {
		raw, err := json.Marshal(contact.CustomFields)
		if err != nil {
			return nil, fmt.Errorf("error encoding custom fields for %s: %w", phone, err)
		}
		lead.CustomFields = string(raw)
	}

	if err := r.db.WithContext(ctx).Create(lead).Error; err != nil {
		return nil, fmt.Errorf("error creating lead for %s: %w", phone, err)
	}
	log.Info().
		Uint("leadID", lead.ID).
		Str("phone", phone).
		Str("team", team).
		Msg("Created lead")
	return lead, nil
}

// UpdateLeadContact refreshes a lead's name and email from a
// subscriber_updated event. Status, team and attendant are left untouched.
func (r *Reconciler) UpdateLeadContact(ctx context.Context, phone, name, email string) error {
	normalized, err := botconversa.NormalizePhone(phone)
	if err != nil {
		return err
	}

	unlock := r.locks.Lock(normalized)
	defer unlock()

	updates := map[string]interface{}{}
	if name != "" {
		updates["name"] = name
	}
	if email != "" {
		updates["email"] = email
	}
	if len(updates) == 0 {
		return nil
	}

	res := r.db.WithContext(ctx).
		Model(&models.Lead{}).
		Where("phone = ? AND status <> ?", normalized, models.LeadStatusLost).
		Updates(updates)
	if res.Error != nil {
		return fmt.Errorf("error refreshing lead contact for %s: %w", normalized, res.Error)
	}
	if res.RowsAffected == 0 {
		log.Debug().Str("phone", normalized).Msg("subscriber_updated for unknown lead, ignored")
	}
	return nil
}
