// Package memory holds in-process repository implementations used by tests
// and by the memory storage mode.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/euvatease/api/internal/services/alert"
)

var _ alert.Repository = (*AlertRepository)(nil)

// AlertRepository implements alert.Repository in memory.
type AlertRepository struct {
	mu     sync.Mutex
	alerts map[uuid.UUID]alert.Alert
}

// NewAlertRepository returns an empty AlertRepository.
func NewAlertRepository() *AlertRepository {
	return &AlertRepository{alerts: make(map[uuid.UUID]alert.Alert)}
}

func (r *AlertRepository) CreateIfAbsent(_ context.Context, a alert.Alert) (alert.Alert, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, existing := range r.alerts {
		if existing.ShopID == a.ShopID && existing.Type == a.Type &&
			existing.Subject == a.Subject && existing.Active() {
			return existing, false, nil
		}
	}
	r.alerts[a.ID] = a
	return a, true, nil
}

func (r *AlertRepository) Get(_ context.Context, shopID, id uuid.UUID) (alert.Alert, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	a, ok := r.alerts[id]
	if !ok || a.ShopID != shopID {
		return alert.Alert{}, alert.ErrNotFound
	}
	return a, nil
}

func (r *AlertRepository) Latest(_ context.Context, shopID uuid.UUID, typ alert.Type, subject string) (alert.Alert, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var (
		latest alert.Alert
		found  bool
	)
	for _, a := range r.alerts {
		if a.ShopID != shopID || a.Type != typ || a.Subject != subject {
			continue
		}
		if !found || a.CreatedAt.After(latest.CreatedAt) {
			latest, found = a, true
		}
	}
	if !found {
		return alert.Alert{}, alert.ErrNotFound
	}
	return latest, nil
}

func (r *AlertRepository) List(_ context.Context, shopID uuid.UUID, f alert.Filter) ([]alert.Alert, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var out []alert.Alert
	for _, a := range r.alerts {
		if a.ShopID != shopID {
			continue
		}
		if f.Resolved != nil && *f.Resolved == a.Active() {
			continue
		}
		if f.Severity != "" && a.Severity != f.Severity {
			continue
		}
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].ID.String() < out[j].ID.String()
	})
	return out, nil
}

func (r *AlertRepository) Close(_ context.Context, shopID, id uuid.UUID, status alert.Status, at time.Time) (alert.Alert, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	a, ok := r.alerts[id]
	if !ok || a.ShopID != shopID {
		return alert.Alert{}, alert.ErrNotFound
	}
	if !a.Active() {
		return alert.Alert{}, alert.ErrClosed
	}
	a.Status = status
	a.ResolvedAt = &at
	r.alerts[id] = a
	return a, nil
}

func (r *AlertRepository) MarkAllRead(_ context.Context, shopID uuid.UUID) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	n := 0
	for id, a := range r.alerts {
		if a.ShopID == shopID && !a.Read {
			a.Read = true
			r.alerts[id] = a
			n++
		}
	}
	return n, nil
}
