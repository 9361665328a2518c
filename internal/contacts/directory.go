// Package contacts derives customer identities from project records.
package contacts

import (
	"context"
	"strings"

	"github.com/rs/zerolog"

	"github.com/p-blackswan/project-hub/internal/models"
)

// Contact is re-exported for callers that only deal with the directory.
type Contact = models.Contact

// ProjectLister is the slice of the project store the directory reads.
type ProjectLister interface {
	ListProjects(ctx context.Context, f models.ProjectFilter) ([]*models.Project, error)
}

// Directory resolves thread keys and phone numbers to contacts. Lookups are
// served from an LRU; a miss rescans the projects once and caches the answer.
type Directory struct {
	projects ProjectLister
	cache    *cache
	logger   zerolog.Logger
}

// NewDirectory creates a directory caching up to size lookups.
func NewDirectory(projects ProjectLister, size int, logger zerolog.Logger) *Directory {
	return &Directory{
		projects: projects,
		cache:    newCache(size),
		logger:   logger.With().Str("component", "contacts").Logger(),
	}
}

// Lookup returns the contact for a thread key (an email, or a phone number
// for customers without one).
func (d *Directory) Lookup(ctx context.Context, key string) (Contact, bool, error) {
	key = models.NormalizeAddress(key)
	if key == "" {
		return Contact{}, false, nil
	}
	if e, ok := d.cache.get("key:" + key); ok {
		return e.contact, e.found, nil
	}

	all, err := d.All(ctx)
	if err != nil {
		return Contact{}, false, err
	}
	for _, c := range all {
		if c.Email == key {
			d.cache.put("key:"+key, entry{contact: c, found: true})
			return c, true, nil
		}
	}
	d.cache.put("key:"+key, entry{})
	return Contact{}, false, nil
}

// ResolvePhone maps an inbound phone number to the thread key of the
// customer it belongs to. Unknown numbers resolve to themselves.
func (d *Directory) ResolvePhone(ctx context.Context, phone string) (Contact, error) {
	norm := models.NormalizePhone(phone)
	if e, ok := d.cache.get("phone:" + norm); ok {
		return e.contact, nil
	}

	all, err := d.All(ctx)
	if err != nil {
		return Contact{}, err
	}
	c := Contact{Email: norm, Phone: norm}
	for _, candidate := range all {
		if models.SamePhone(candidate.Phone, phone) {
			c = candidate
			break
		}
	}
	d.cache.put("phone:"+norm, entry{contact: c, found: true})
	return c, nil
}

// All derives one contact per thread key, newest project first. The Email
// field holds the thread key.
func (d *Directory) All(ctx context.Context) ([]Contact, error) {
	projects, err := d.projects.ListProjects(ctx, models.ProjectFilter{})
	if err != nil {
		return nil, err
	}
	seen := make(map[string]bool, len(projects))
	out := make([]Contact, 0, len(projects))
	for _, p := range projects {
		key := p.ContactKey()
		if key == "" || seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, Contact{
			Email:     key,
			Name:      strings.TrimSpace(p.Name),
			Phone:     p.Phone,
			ProjectID: p.ID,
		})
	}
	return out, nil
}

// Invalidate drops cached lookups. Call it after projects change.
func (d *Directory) Invalidate() {
	d.cache.clear()
	d.logger.Debug().Msg("contact cache cleared")
}
