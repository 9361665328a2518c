package models

import (
	"strings"
	"time"

	perrors "github.com/p-blackswan/project-hub/internal/errors"
)

// ContactMethod is the customer's preferred notification channel.
type ContactMethod string

const (
	ContactSMS   ContactMethod = "sms"
	ContactEmail ContactMethod = "email"
	ContactBoth  ContactMethod = "both"
)

// Valid reports whether m is a known contact method. The empty method is
// accepted and treated as ContactBoth.
func (m ContactMethod) Valid() bool {
	switch m {
	case "", ContactSMS, ContactEmail, ContactBoth:
		return true
	}
	return false
}

// Email reports whether email notifications are enabled for m.
func (m ContactMethod) Email() bool { return m == ContactEmail || m == ContactBoth || m == "" }

// SMS reports whether SMS notifications are enabled for m.
func (m ContactMethod) SMS() bool { return m == ContactSMS || m == ContactBoth || m == "" }

// Project is a home-repair job advanced through an ordered list of steps.
type Project struct {
	ID               string        `json:"id" bson:"_id"`
	Name             string        `json:"name" bson:"name"`
	Email            string        `json:"email,omitempty" bson:"email,omitempty"`
	Phone            string        `json:"phone,omitempty" bson:"phone,omitempty"`
	ContactMethod    ContactMethod `json:"contactMethod" bson:"contactMethod"`
	FixType          string        `json:"fixType,omitempty" bson:"fixType,omitempty"`
	ProjectType      string        `json:"projectType,omitempty" bson:"projectType,omitempty"`
	Description      string        `json:"description,omitempty" bson:"description,omitempty"`
	SelectedSteps    []string      `json:"selectedSteps" bson:"selectedSteps"`
	CurrentStepIndex int           `json:"currentStepIndex" bson:"currentStepIndex"`
	TrackingLinkID   string        `json:"trackingLinkId" bson:"trackingLinkId"`
	InternalNotes    string        `json:"internalNotes,omitempty" bson:"internalNotes,omitempty"`
	StartDate        *time.Time    `json:"startDate,omitempty" bson:"startDate,omitempty"`
	CreatedAt        time.Time     `json:"createdAt" bson:"createdAt"`
	UpdatedAt        time.Time     `json:"updatedAt" bson:"updatedAt"`
}

// IsComplete reports whether every step has been passed.
func (p *Project) IsComplete() bool {
	return p.CurrentStepIndex >= len(p.SelectedSteps)
}

// StepName returns the name of step i, or "" when i is out of range.
func (p *Project) StepName(i int) string {
	if i < 0 || i >= len(p.SelectedSteps) {
		return ""
	}
	return p.SelectedSteps[i]
}

// CurrentStep returns the active step name, or "" once complete.
func (p *Project) CurrentStep() string {
	return p.StepName(p.CurrentStepIndex)
}

// ContactKey is the address that identifies the customer's conversation
// thread. Projects without an email fall back to the phone number.
func (p *Project) ContactKey() string {
	if p.Email != "" {
		return NormalizeEmail(p.Email)
	}
	return NormalizePhone(p.Phone)
}

// Clone returns a deep copy of p.
func (p *Project) Clone() *Project {
	if p == nil {
		return nil
	}
	c := *p
	c.SelectedSteps = append([]string(nil), p.SelectedSteps...)
	if p.StartDate != nil {
		sd := *p.StartDate
		c.StartDate = &sd
	}
	return &c
}

// Validate checks the record shape enforced at the store boundary.
func (p *Project) Validate() error {
	if strings.TrimSpace(p.Name) == "" {
		return perrors.NewValidationError("name", "is required")
	}
	if !p.ContactMethod.Valid() {
		return perrors.NewValidationError("contactMethod", "must be one of sms, email, both")
	}
	if p.Email == "" && p.Phone == "" {
		return perrors.NewValidationError("email", "an email or phone number is required")
	}
	if p.ContactMethod == ContactEmail && p.Email == "" {
		return perrors.NewValidationError("email", "is required when contactMethod is email")
	}
	if p.ContactMethod == ContactSMS && p.Phone == "" {
		return perrors.NewValidationError("phone", "is required when contactMethod is sms")
	}
	if p.CurrentStepIndex < 0 || p.CurrentStepIndex > len(p.SelectedSteps) {
		return perrors.NewValidationError("currentStepIndex", "out of range")
	}
	return nil
}

// ProjectUpdate holds the fields editable outside of step transitions.
type ProjectUpdate struct {
	InternalNotes *string    `json:"internalNotes,omitempty"`
	StartDate     *time.Time `json:"startDate,omitempty"`
}

// ProjectFilter narrows project listings.
type ProjectFilter struct {
	// Query matches name, fix type or tracking id, case-insensitively.
	Query string
	Limit int
}

// Matches reports whether p satisfies the text query.
func (f ProjectFilter) Matches(p *Project) bool {
	q := strings.ToLower(strings.TrimSpace(f.Query))
	if q == "" {
		return true
	}
	return strings.Contains(strings.ToLower(p.Name), q) ||
		strings.Contains(strings.ToLower(p.FixType), q) ||
		strings.Contains(strings.ToLower(p.TrackingLinkID), q)
}
