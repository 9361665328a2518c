package models

import (
	"sort"
	"strings"
	"time"
)

// Source is the channel a message travelled over.
type Source string

const (
	SourceEmail Source = "email"
	SourceSMS   Source = "sms"
)

// Message statuses written by the hub. Provider lifecycle states
// (queued, delivered, undelivered...) are stored verbatim.
const (
	StatusSent     = "sent"
	StatusError    = "error"
	StatusReceived = "received"
	StatusLogged   = "logged"
	StatusSkipped  = "skipped"
)

// TypeProjectUpdate marks system-generated step notifications.
const TypeProjectUpdate = "project_update"

// Message is one entry of the append-only conversation log.
type Message struct {
	ID                string     `json:"id" bson:"_id"`
	From              string     `json:"from" bson:"from"`
	To                string     `json:"to" bson:"to"`
	Phone             string     `json:"phone,omitempty" bson:"phone,omitempty"`
	Subject           string     `json:"subject,omitempty" bson:"subject,omitempty"`
	Text              string     `json:"text" bson:"text"`
	Timestamp         time.Time  `json:"timestamp" bson:"timestamp"`
	Read              bool       `json:"read" bson:"read"`
	Source            Source     `json:"source" bson:"source"`
	Status            string     `json:"status,omitempty" bson:"status,omitempty"`
	Type              string     `json:"type,omitempty" bson:"type,omitempty"`
	ProjectID         string     `json:"projectId,omitempty" bson:"projectId,omitempty"`
	ProviderMessageID string     `json:"twilioMessageId,omitempty" bson:"twilioMessageId,omitempty"`
	Error             string     `json:"error,omitempty" bson:"error,omitempty"`
	ContactEmailPair  []string   `json:"contactEmailPair" bson:"contactEmailPair"`
	UpdatedAt         *time.Time `json:"updatedAt,omitempty" bson:"updatedAt,omitempty"`

	// Seq is the store-assigned insertion sequence used to break timestamp ties.
	Seq int64 `json:"-" bson:"seq"`
}

// Contact returns whichever side of the message is not the operator.
func (m *Message) Contact(operator string) string {
	if strings.EqualFold(m.From, operator) {
		return m.To
	}
	return m.From
}

// Inbound reports whether the message was addressed to the operator.
func (m *Message) Inbound(operator string) bool {
	return strings.EqualFold(m.To, operator)
}

// Cursor returns the pagination position of m.
func (m *Message) Cursor() Cursor {
	return Cursor{Timestamp: m.Timestamp, Seq: m.Seq}
}

// Clone returns a deep copy of m.
func (m *Message) Clone() *Message {
	if m == nil {
		return nil
	}
	c := *m
	c.ContactEmailPair = append([]string(nil), m.ContactEmailPair...)
	if m.UpdatedAt != nil {
		u := *m.UpdatedAt
		c.UpdatedAt = &u
	}
	return &c
}

// Cursor is a position in the newest-first message order.
type Cursor struct {
	Timestamp time.Time `json:"timestamp"`
	Seq       int64     `json:"seq"`
}

// After reports whether m sorts strictly older than the cursor, i.e. whether
// it belongs to the page that follows c.
func (c Cursor) After(m *Message) bool {
	if m.Timestamp.Before(c.Timestamp) {
		return true
	}
	return m.Timestamp.Equal(c.Timestamp) && m.Seq < c.Seq
}

// ContactPair returns the sorted two-element thread key for a conversation
// between the operator and contact.
func ContactPair(operator, contact string) []string {
	pair := []string{operator, contact}
	sort.Strings(pair)
	return pair
}

// PairContains reports whether the thread key includes addr.
func PairContains(pair []string, addr string) bool {
	for _, p := range pair {
		if p == addr {
			return true
		}
	}
	return false
}

// NewestFirst orders messages by timestamp descending, newest insert first on ties.
func NewestFirst(msgs []*Message) {
	sort.SliceStable(msgs, func(i, j int) bool {
		if !msgs[i].Timestamp.Equal(msgs[j].Timestamp) {
			return msgs[i].Timestamp.After(msgs[j].Timestamp)
		}
		return msgs[i].Seq > msgs[j].Seq
	})
}

// NormalizeEmail lowercases and trims an address.
func NormalizeEmail(addr string) string {
	return strings.ToLower(strings.TrimSpace(addr))
}

// NormalizeAddress normalizes an email address or phone number used as a
// conversation endpoint.
func NormalizeAddress(addr string) string {
	if strings.Contains(addr, "@") {
		return NormalizeEmail(addr)
	}
	return NormalizePhone(addr)
}

// NormalizePhone keeps a leading '+' and digits only.
func NormalizePhone(phone string) string {
	phone = strings.TrimSpace(phone)
	var b strings.Builder
	for i, r := range phone {
		if r == '+' && i == 0 {
			b.WriteRune(r)
			continue
		}
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// SamePhone compares two numbers ignoring formatting and a leading
// North American country code.
func SamePhone(a, b string) bool {
	da, db := phoneDigits(a), phoneDigits(b)
	return da != "" && da == db
}

func phoneDigits(p string) string {
	d := strings.TrimPrefix(NormalizePhone(p), "+")
	if len(d) == 11 && d[0] == '1' {
		d = d[1:]
	}
	return d
}
