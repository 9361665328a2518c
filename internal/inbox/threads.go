// Package inbox groups the message log into per-contact threads and serves
// the operator's conversation view.
package inbox

import (
	"sort"

	"github.com/p-blackswan/project-hub/internal/models"
)

// BuildThreads groups msgs into one thread per contact, newest thread first.
// Exact timestamp ties are broken by storage order: the later insert wins.
func BuildThreads(operator string, msgs []*models.Message) []*models.Thread {
	operator = models.NormalizeEmail(operator)
	byContact := make(map[string]*models.Thread)
	order := make([]*models.Thread, 0)

	for _, m := range msgs {
		contact := m.Contact(operator)
		if contact == "" {
			continue
		}
		th, ok := byContact[contact]
		if !ok {
			th = &models.Thread{ContactEmail: contact, LastMessage: m}
			byContact[contact] = th
			order = append(order, th)
		} else if newer(m, th.LastMessage) {
			th.LastMessage = m
		}
		if m.Inbound(operator) && !m.Read {
			th.UnreadCount++
		}
	}

	sort.SliceStable(order, func(i, j int) bool {
		a, b := order[i].LastMessage, order[j].LastMessage
		if !a.Timestamp.Equal(b.Timestamp) {
			return a.Timestamp.After(b.Timestamp)
		}
		return a.Seq > b.Seq
	})
	return order
}

// newer reports whether a should replace b as a thread's last message.
// Without store sequence numbers, a tie goes to a, the later of the two in
// the input.
func newer(a, b *models.Message) bool {
	if !a.Timestamp.Equal(b.Timestamp) {
		return a.Timestamp.After(b.Timestamp)
	}
	return a.Seq >= b.Seq
}
