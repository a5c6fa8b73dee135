package botconversa

import "time"

// Subscriber is a contact record owned by BotConversa, identified by phone.
type Subscriber struct {
	ID           int64             `json:"id"`
	Phone        string            `json:"phone"`
	FullName     string            `json:"full_name"`
	Email        string            `json:"email,omitempty"`
	Tags         []string          `json:"tags"`
	CustomFields map[string]string `json:"custom_fields,omitempty"`
}

// SubscriberPayload creates a subscriber on the platform.
type SubscriberPayload struct {
	Phone     string `json:"phone"`
	FirstName string `json:"first_name,omitempty"`
	LastName  string `json:"last_name,omitempty"`
	Email     string `json:"email,omitempty"`
}

// Message directions as reported by the platform.
const (
	DirectionIncoming = "incoming"
	DirectionOutgoing = "outgoing"
)

// RemoteMessage is one message from a subscriber's history.
type RemoteMessage struct {
	ID        string    `json:"id"`
	Content   string    `json:"content"`
	Type      string    `json:"type"`
	Direction string    `json:"direction"`
	Timestamp time.Time `json:"timestamp"`
}

// messagePage is one page of a subscriber's message history, newest first.
type messagePage struct {
	Results []RemoteMessage `json:"results"`
	Next    string          `json:"next"`
}

// subscriberPage is one page of an account's subscriber list.
type subscriberPage struct {
	Results []Subscriber `json:"results"`
	Next    string       `json:"next"`
}

// customFieldPayload sets a custom field value on a subscriber.
type customFieldPayload struct {
	Value string `json:"value"`
}

// WebhookSubscriber is the subscriber block of a webhook delivery.
type WebhookSubscriber struct {
	Phone        string            `json:"phone"`
	Name         string            `json:"name"`
	Email        string            `json:"email,omitempty"`
	Tags         []string          `json:"tags"`
	CustomFields map[string]string `json:"custom_fields,omitempty"`
}

// WebhookMessage is the optional message block of a webhook delivery.
type WebhookMessage struct {
	ID        string    `json:"id"`
	Content   string    `json:"content"`
	Type      string    `json:"type"`
	Direction string    `json:"direction"`
	Timestamp time.Time `json:"timestamp"`
}

// WebhookPayload is an inbound webhook delivery from BotConversa.
type WebhookPayload struct {
	EventType  string             `json:"event_type"`
	Subscriber *WebhookSubscriber `json:"subscriber"`
	Message    *WebhookMessage    `json:"message,omitempty"`
	Tag        string             `json:"tag,omitempty"`
	WebhookID  string             `json:"webhook_id"`
	CompanyID  string             `json:"company_id"`
	Timestamp  time.Time          `json:"timestamp"`
}

// Webhook event kinds handled by the dispatcher.
const (
	EventNewMessage        = "new_message"
	EventSubscriberCreated = "subscriber_created"
	EventSubscriberUpdated = "subscriber_updated"
	EventTagAdded          = "tag_added"
	EventTagRemoved        = "tag_removed"
)
