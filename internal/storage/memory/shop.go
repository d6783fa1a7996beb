package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/euvatease/api/internal/services/shop"
)

var _ shop.Repository = (*ShopRepository)(nil)

// ShopRepository implements shop.Repository in memory.
type ShopRepository struct {
	mu    sync.RWMutex
	shops map[uuid.UUID]shop.Shop
}

// NewShopRepository returns a ShopRepository seeded with the given shops.
func NewShopRepository(seed ...shop.Shop) *ShopRepository {
	r := &ShopRepository{shops: make(map[uuid.UUID]shop.Shop)}
	for _, s := range seed {
		r.shops[s.ID] = s
	}
	return r
}

func (r *ShopRepository) Get(_ context.Context, id uuid.UUID) (shop.Shop, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.shops[id]
	if !ok {
		return shop.Shop{}, shop.ErrNotFound
	}
	return s, nil
}

func (r *ShopRepository) Upsert(_ context.Context, s shop.Shop) (shop.Shop, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	now := time.Now().UTC()
	if existing, ok := r.shops[s.ID]; ok {
		s.CreatedAt = existing.CreatedAt
	} else {
		s.CreatedAt = now
	}
	s.UpdatedAt = now
	r.shops[s.ID] = s
	return s, nil
}

func (r *ShopRepository) ListActive(context.Context) ([]shop.Shop, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []shop.Shop
	for _, s := range r.shops {
		if s.Active {
			out = append(out, s)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID.String() < out[j].ID.String() })
	return out, nil
}
