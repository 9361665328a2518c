package models

import "time"

// Contact is a customer identity derived from the project records.
type Contact struct {
	Email     string `json:"email"`
	Name      string `json:"name,omitempty"`
	Phone     string `json:"phone,omitempty"`
	ProjectID string `json:"projectId,omitempty"`
}

// DisplayName returns the contact's name, falling back to the address.
func (c Contact) DisplayName() string {
	if c.Name != "" {
		return c.Name
	}
	return c.Email
}

// Thread is the derived per-contact view of the message log.
type Thread struct {
	ContactEmail string   `json:"contactEmail"`
	LastMessage  *Message `json:"lastMessage"`
	UnreadCount  int      `json:"unreadCount"`
	Contact      *Contact `json:"contact,omitempty"`
}

// OutboxStatus tracks a notification intent through delivery.
type OutboxStatus string

const (
	OutboxPending     OutboxStatus = "pending"
	OutboxDispatching OutboxStatus = "dispatching"
	OutboxDone        OutboxStatus = "done"
	OutboxFailed      OutboxStatus = "failed"
)

// OutboxEntry records the intent to notify a customer about a step change.
// It is written together with the step index so the notification survives
// a crash between the two.
type OutboxEntry struct {
	ID              string       `json:"id" bson:"id"`
	ProjectID       string       `json:"projectId" bson:"projectId"`
	TargetStepIndex int          `json:"targetStepIndex" bson:"targetStepIndex"`
	Status          OutboxStatus `json:"status" bson:"status"`
	Error           string       `json:"error,omitempty" bson:"error,omitempty"`
	CreatedAt       time.Time    `json:"createdAt" bson:"createdAt"`
	CompletedAt     *time.Time   `json:"completedAt,omitempty" bson:"completedAt,omitempty"`
}
