package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/google/uuid"

	"github.com/euvatease/api/internal/services/validation"
)

var _ validation.Repository = (*ValidationRepository)(nil)

// ValidationRepository implements validation.Repository in memory. Records
// are kept in append order.
type ValidationRepository struct {
	mu      sync.RWMutex
	records []validation.Record
}

// NewValidationRepository returns an empty ValidationRepository.
func NewValidationRepository() *ValidationRepository {
	return &ValidationRepository{}
}

func (r *ValidationRepository) Append(_ context.Context, rec validation.Record) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.records = append(r.records, rec)
	return nil
}

func (r *ValidationRepository) latest(shopID uuid.UUID, vatNumber string, accept func(validation.Record) bool) (validation.Record, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for i := len(r.records) - 1; i >= 0; i-- {
		rec := r.records[i]
		if rec.ShopID == shopID && rec.VATNumber == vatNumber && accept(rec) {
			return rec, nil
		}
	}
	return validation.Record{}, validation.ErrNotFound
}

func (r *ValidationRepository) Latest(_ context.Context, shopID uuid.UUID, vatNumber string) (validation.Record, error) {
	return r.latest(shopID, vatNumber, func(validation.Record) bool { return true })
}

func (r *ValidationRepository) LatestDefinitive(_ context.Context, shopID uuid.UUID, vatNumber string) (validation.Record, error) {
	return r.latest(shopID, vatNumber, func(rec validation.Record) bool { return rec.Status.Definitive() })
}

func (r *ValidationRepository) History(_ context.Context, shopID uuid.UUID, page, size int) ([]validation.Record, int, error) {
	r.mu.RLock()
	var matched []validation.Record
	for i := len(r.records) - 1; i >= 0; i-- {
		if r.records[i].ShopID == shopID {
			matched = append(matched, r.records[i])
		}
	}
	r.mu.RUnlock()

	total := len(matched)
	start := (page - 1) * size
	if start >= total || start < 0 {
		return []validation.Record{}, total, nil
	}
	return matched[start:min(start+size, total)], total, nil
}

func (r *ValidationRepository) ListUnavailable(_ context.Context, shopID uuid.UUID) ([]string, error) {
	r.mu.RLock()
	newest := make(map[string]validation.Status)
	for _, rec := range r.records {
		if rec.ShopID == shopID {
			newest[rec.VATNumber] = rec.Status
		}
	}
	r.mu.RUnlock()

	var out []string
	for number, status := range newest {
		if status == validation.StatusUnavailable {
			out = append(out, number)
		}
	}
	sort.Strings(out)
	return out, nil
}
