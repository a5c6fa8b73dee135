package models

import (
	"time"
)

// Lead statuses. Tag-driven updates may only move a lead between these.
const (
	LeadStatusNew       = "new"
	LeadStatusContacted = "contacted"
	LeadStatusQualified = "qualified"
	LeadStatusProposal  = "proposal"
	LeadStatusWon       = "won"
	LeadStatusLost      = "lost"
)

// Conversation statuses and close reasons.
const (
	ConversationStatusActive = "active"
	ConversationStatusClosed = "closed"

	CloseReasonAgent = "agent"
	CloseReasonStale = "stale"
)

// Message sender kinds and content types.
const (
	SenderCustomer  = "customer"
	SenderAttendant = "attendant"
	SenderSystem    = "system"

	ContentTypeText     = "text"
	ContentTypeAudio    = "audio"
	ContentTypeImage    = "image"
	ContentTypeDocument = "document"
)

// SourceBotConversa labels leads created from BotConversa subscribers.
const SourceBotConversa = "botconversa"

// User is a CRM attendant. The routing engine resolves department contact
// emails against this directory.
type User struct {
	ID        uint      `gorm:"primaryKey"`
	Name      string    `gorm:"comment:Attendant display name"`
	Email     string    `gorm:"uniqueIndex;comment:Login email, used by routing to resolve attendants"`
	Team      string    `gorm:"index;comment:Team/department the attendant belongs to"`
	Active    bool      `gorm:"index;comment:Inactive users are never routed to"`
	CreatedAt time.Time `gorm:"autoCreateTime"`
	UpdatedAt time.Time `gorm:"autoUpdateTime"`
}

// Lead is the CRM record derived from a BotConversa subscriber. At most one
// non-lost lead should exist per (phone, team) pair; the reconciler guards
// this under the per-phone lock.
type Lead struct {
	ID           uint      `gorm:"primaryKey"`
	Name         string    `gorm:"comment:Subscriber display name at creation time"`
	Phone        string    `gorm:"index:idx_leads_phone_team;comment:Normalized digit-only phone"`
	Email        string    `gorm:"comment:Contact email, refreshed on subscriber_updated"`
	Source       string    `gorm:"comment:Origin label, e.g. botconversa"`
	Status       string    `gorm:"index;comment:new, contacted, qualified, proposal, won or lost"`
	Team         string    `gorm:"index:idx_leads_phone_team;comment:Owning team, derived from tag routing"`
	AttendantID  *uint     `gorm:"index;comment:Assigned attendant, nil when unassigned"`
	CustomFields string    `gorm:"type:text;comment:JSON bag of subscriber custom fields"`
	CreatedAt    time.Time `gorm:"autoCreateTime"`
	UpdatedAt    time.Time `gorm:"autoUpdateTime"`
}

// Conversation is an interaction thread for one phone number. Exactly one
// active conversation may exist per phone at any time.
type Conversation struct {
	ID            uint       `gorm:"primaryKey"`
	LeadID        uint       `gorm:"index;comment:Owning lead"`
	AttendantID   *uint      `gorm:"index;comment:Assigned attendant, nil when unassigned"`
	CustomerName  string     `gorm:"comment:Customer name snapshot at creation time"`
	CustomerPhone string     `gorm:"index;comment:Normalized digit-only phone"`
	Status        string     `gorm:"index;comment:active or closed"`
	CloseReason   string     `gorm:"comment:agent or stale; empty while active"`
	LastMessageAt *time.Time `gorm:"comment:Platform-reported timestamp of the newest synced message"`
	CreatedAt     time.Time  `gorm:"autoCreateTime"`
	UpdatedAt     time.Time  `gorm:"autoUpdateTime"`
}

// Message is one synced platform message. RemoteID is the dedup key: the
// same remote id is never stored twice within a conversation.
type Message struct {
	ID             uint      `gorm:"primaryKey"`
	ConversationID uint      `gorm:"uniqueIndex:idx_messages_conv_remote;comment:Owning conversation"`
	RemoteID       string    `gorm:"uniqueIndex:idx_messages_conv_remote;comment:Platform message id, dedup key"`
	SenderKind     string    `gorm:"comment:customer, attendant or system"`
	Content        string    `gorm:"type:text"`
	ContentType    string    `gorm:"comment:text, audio, image or document"`
	Timestamp      time.Time `gorm:"index;comment:Platform-reported time, not ingestion time"`
	CreatedAt      time.Time `gorm:"autoCreateTime"`
}
