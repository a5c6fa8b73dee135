package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/patrickmn/go-cache"
	"github.com/rs/zerolog/log"

	"github.com/eduzayn/conversa-insights-dash-sub001/internal/adapters/botconversa"
	"github.com/eduzayn/conversa-insights-dash-sub001/internal/events"
	"github.com/eduzayn/conversa-insights-dash-sub001/internal/services"
)

// WebhookHandler validates and routes inbound BotConversa webhook events.
// Delivery is at least once: every branch tolerates being invoked twice for
// the same logical event, and a short-lived webhook_id cache short-circuits
// byte-identical redeliveries.
type WebhookHandler struct {
	reconciler *services.Reconciler
	syncer     *services.MessageSyncer
	statusSync *services.StatusSyncService
	publisher  *events.Publisher

	seen      *cache.Cache
	rate      *cache.Cache
	rateLimit int
}

// NewWebhookHandler creates a WebhookHandler.
func NewWebhookHandler(
	reconciler *services.Reconciler,
	syncer *services.MessageSyncer,
	statusSync *services.StatusSyncService,
	publisher *events.Publisher,
	rateLimit int,
	rateWindow time.Duration,
) (*WebhookHandler, error) {
	if reconciler == nil {
		return nil, fmt.Errorf("reconciler cannot be nil")
	}
	if syncer == nil {
		return nil, fmt.Errorf("message syncer cannot be nil")
	}
	if statusSync == nil {
		return nil, fmt.Errorf("status sync cannot be nil")
	}
	if publisher == nil {
		return nil, fmt.Errorf("event publisher cannot be nil")
	}
	return &WebhookHandler{
		reconciler: reconciler,
		syncer:     syncer,
		statusSync: statusSync,
		publisher:  publisher,
		seen:       cache.New(10*time.Minute, 20*time.Minute),
		rate:       cache.New(rateWindow, 2*rateWindow),
		rateLimit:  rateLimit,
	}, nil
}

// Handle processes one webhook delivery. One bad event never blocks the
// next: handler errors are logged with full context and acknowledged with
// 200 so the platform does not redeliver what we cannot process anyway.
func (h *WebhookHandler) Handle(w http.ResponseWriter, r *http.Request) {
	var payload botconversa.WebhookPayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		log.Error().Err(err).Msg("Failed to decode webhook payload")
		http.Error(w, "invalid JSON payload", http.StatusBadRequest)
		return
	}

	if payload.EventType == "" || payload.Subscriber == nil {
		log.Warn().Str("webhookID", payload.WebhookID).Msg("Webhook without event_type or subscriber")
		http.Error(w, "missing event_type or subscriber", http.StatusBadRequest)
		return
	}

	phone, err := botconversa.NormalizePhone(payload.Subscriber.Phone)
	if err != nil {
		log.Warn().Err(err).Str("webhookID", payload.WebhookID).Msg("Webhook with malformed phone")
		http.Error(w, "invalid phone", http.StatusBadRequest)
		return
	}

	if payload.WebhookID != "" {
		if _, dup := h.seen.Get(payload.WebhookID); dup {
			log.Debug().Str("webhookID", payload.WebhookID).Msg("Duplicate webhook delivery, skipped")
			w.WriteHeader(http.StatusOK)
			return
		}
	}

	if !h.allowPhone(phone) {
		log.Warn().Str("phone", phone).Str("webhookID", payload.WebhookID).Msg("Per-phone webhook rate limit hit")
		http.Error(w, "rate limited", http.StatusTooManyRequests)
		return
	}

	logger := log.With().
		Str("eventType", payload.EventType).
		Str("phone", phone).
		Str("webhookID", payload.WebhookID).
		Logger()

	if err := h.dispatch(r, phone, &payload); err != nil {
		// Per-event error boundary: log, acknowledge, move on. The webhook_id
		// stays unrecorded so a platform redelivery gets to retry; the
		// periodic sync backfills whatever never arrives again.
		logger.Error().Err(err).Msg("Webhook event processing failed")
		w.WriteHeader(http.StatusOK)
		return
	}
	if payload.WebhookID != "" {
		h.seen.SetDefault(payload.WebhookID, true)
	}

	raw, _ := json.Marshal(payload)
	h.publisher.Publish(payload.EventType, payload.CompanyID, raw)

	logger.Info().Msg("Webhook event processed")
	w.WriteHeader(http.StatusOK)
}

func (h *WebhookHandler) dispatch(r *http.Request, phone string, payload *botconversa.WebhookPayload) error {
	ctx := r.Context()
	contact := services.Contact{
		Phone:        phone,
		Name:         payload.Subscriber.Name,
		Email:        payload.Subscriber.Email,
		Tags:         payload.Subscriber.Tags,
		CustomFields: payload.Subscriber.CustomFields,
	}

	switch payload.EventType {
	case botconversa.EventNewMessage:
		if payload.Message == nil {
			return errors.New("new_message event without message block")
		}
		result, err := h.reconciler.Reconcile(ctx, contact)
		if err != nil {
			return err
		}
		// One-element batch through the same dedup path as a full replay, so
		// a redelivered message id is a no-op.
		_, err = h.syncer.SyncMessages(ctx, result.Conversation.ID, []services.InboundMessage{{
			RemoteID:  payload.Message.ID,
			Content:   payload.Message.Content,
			Type:      payload.Message.Type,
			Direction: payload.Message.Direction,
			Timestamp: payload.Message.Timestamp,
		}})
		return err

	case botconversa.EventSubscriberCreated:
		result, err := h.reconciler.Reconcile(ctx, contact)
		if err != nil {
			return err
		}
		// Tags arrived from the platform, so there is nothing to push back.
		return h.statusSync.ApplyFirstMatch(ctx, result.Lead, payload.Subscriber.Tags, false)

	case botconversa.EventSubscriberUpdated:
		return h.reconciler.UpdateLeadContact(ctx, phone, payload.Subscriber.Name, payload.Subscriber.Email)

	case botconversa.EventTagAdded:
		result, err := h.reconciler.Reconcile(ctx, contact)
		if err != nil {
			return err
		}
		return h.statusSync.ApplyTag(ctx, result.Lead, h.eventTag(payload), true)

	case botconversa.EventTagRemoved:
		result, err := h.reconciler.Reconcile(ctx, contact)
		if err != nil {
			return err
		}
		return h.statusSync.ReapplyAfterRemoval(ctx, result.Lead, h.eventTag(payload), payload.Subscriber.Tags, true)

	default:
		log.Warn().Str("eventType", payload.EventType).Msg("Unknown webhook event type, ignored")
		return nil
	}
}

// eventTag returns the tag a tag_added/tag_removed event refers to. Older
// platform payloads omit the tag field and only reorder the subscriber's tag
// list; the most recently applied tag is then the last one.
func (h *WebhookHandler) eventTag(payload *botconversa.WebhookPayload) string {
	if payload.Tag != "" {
		return payload.Tag
	}
	if n := len(payload.Subscriber.Tags); n > 0 {
		return payload.Subscriber.Tags[n-1]
	}
	return ""
}

// allowPhone enforces a coarse per-phone delivery cap within the configured
// window. Counters expire with the window, so state stays bounded.
func (h *WebhookHandler) allowPhone(phone string) bool {
	if h.rateLimit <= 0 {
		return true
	}
	if err := h.rate.Add(phone, 1, cache.DefaultExpiration); err == nil {
		return true
	}
	n, err := h.rate.IncrementInt(phone, 1)
	if err != nil {
		// Entry expired between Add and Increment; start a fresh window.
		_ = h.rate.Add(phone, 1, cache.DefaultExpiration)
		return true
	}
	return n <= h.rateLimit
}
