package services

import (
	"context"
	"time"

	"github.com/eduzayn/conversa-insights-dash-sub001/internal/adapters/botconversa"
)

// Contact is the remote subscriber identity the reconciler works from,
// normalized away from the wire shapes (webhook payload vs. API response).
type Contact struct {
	Phone        string
	Name         string
	Email        string
	Tags         []string
	CustomFields map[string]string
}

// InboundMessage is one platform message handed to the syncer, either from a
// webhook delivery (one-element batch) or from a full history replay.
type InboundMessage struct {
	RemoteID  string
	Content   string
	Type      string
	Direction string
	Timestamp time.Time
}

// TagPusher is the slice of the BotConversa client the status sync needs to
// reflect CRM-side status back as tags and custom fields.
type TagPusher interface {
	GetSubscriberByPhone(ctx context.Context, phone string) (*botconversa.Subscriber, error)
	AddTag(ctx context.Context, subscriberID int64, tag string) error
	RemoveTag(ctx context.Context, subscriberID int64, tag string) error
	SetCustomField(ctx context.Context, subscriberID int64, field, value string) error
}
