package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/euvatease/api/internal/services/order"
)

var _ order.Repository = (*OrderRepository)(nil)

// OrderRepository implements order.Repository in memory.
type OrderRepository struct {
	mu     sync.RWMutex
	orders map[uuid.UUID]order.Order
}

// NewOrderRepository returns an empty OrderRepository.
func NewOrderRepository() *OrderRepository {
	return &OrderRepository{orders: make(map[uuid.UUID]order.Order)}
}

func (r *OrderRepository) Get(_ context.Context, shopID, id uuid.UUID) (order.Order, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	o, ok := r.orders[id]
	if !ok || o.ShopID != shopID {
		return order.Order{}, order.ErrNotFound
	}
	return o, nil
}

func (r *OrderRepository) GetByExternalID(_ context.Context, shopID uuid.UUID, externalID string) (order.Order, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, o := range r.orders {
		if o.ShopID == shopID && o.ExternalID != "" && o.ExternalID == externalID {
			return o, nil
		}
	}
	return order.Order{}, order.ErrNotFound
}

func (r *OrderRepository) Save(_ context.Context, o order.Order) (order.Order, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	now := time.Now().UTC()
	if existing, ok := r.orders[o.ID]; ok {
		o.CreatedAt = existing.CreatedAt
	} else {
		o.CreatedAt = now
	}
	o.UpdatedAt = now
	r.orders[o.ID] = o
	return o, nil
}

func (r *OrderRepository) List(_ context.Context, shopID uuid.UUID, f order.ListFilter) ([]order.Order, int, error) {
	r.mu.RLock()
	var matched []order.Order
	for _, o := range r.orders {
		if o.ShopID != shopID {
			continue
		}
		if f.HasErrors != nil && o.HasError != *f.HasErrors {
			continue
		}
		matched = append(matched, o)
	}
	r.mu.RUnlock()

	sort.Slice(matched, func(i, j int) bool {
		if !matched[i].OrderedAt.Equal(matched[j].OrderedAt) {
			return matched[i].OrderedAt.After(matched[j].OrderedAt)
		}
		return matched[i].ID.String() > matched[j].ID.String()
	})

	total := len(matched)
	start := (f.Page - 1) * f.Size
	if start >= total {
		return []order.Order{}, total, nil
	}
	end := min(start+f.Size, total)
	return matched[start:end], total, nil
}

func (r *OrderRepository) ListRange(_ context.Context, shopID uuid.UUID, from, to time.Time) ([]order.Order, error) {
	r.mu.RLock()
	var out []order.Order
	for _, o := range r.orders {
		if o.ShopID == shopID && !o.OrderedAt.Before(from) && o.OrderedAt.Before(to) {
			out = append(out, o)
		}
	}
	r.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if !out[i].OrderedAt.Equal(out[j].OrderedAt) {
			return out[i].OrderedAt.Before(out[j].OrderedAt)
		}
		return out[i].ID.String() < out[j].ID.String()
	})
	return out, nil
}

func (r *OrderRepository) Stats(_ context.Context, shopID uuid.UUID) (order.Stats, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	st := order.Stats{ByDiscrepancy: make(map[order.Discrepancy]int)}
	for _, o := range r.orders {
		if o.ShopID != shopID {
			continue
		}
		st.Total++
		if o.Audited() {
			st.Audited++
		}
		if o.HasError {
			st.WithErrors++
			st.ByDiscrepancy[o.Discrepancy]++
		}
	}
	return st, nil
}
