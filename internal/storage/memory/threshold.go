package memory

import (
	"context"
	"sync"

	"github.com/google/uuid"

	"github.com/euvatease/api/internal/services/threshold"
)

var _ threshold.Repository = (*ThresholdRepository)(nil)

type thresholdKey struct {
	shopID uuid.UUID
	year   int
}

type contributionKey struct {
	shopID  uuid.UUID
	orderID uuid.UUID
}

// ThresholdRepository implements threshold.Repository in memory.
type ThresholdRepository struct {
	mu            sync.Mutex
	states        map[thresholdKey]threshold.State
	contributions map[contributionKey]threshold.Contribution
}

// NewThresholdRepository returns an empty ThresholdRepository.
func NewThresholdRepository() *ThresholdRepository {
	return &ThresholdRepository{
		states:        make(map[thresholdKey]threshold.State),
		contributions: make(map[contributionKey]threshold.Contribution),
	}
}

func (r *ThresholdRepository) Get(_ context.Context, shopID uuid.UUID, year int) (threshold.State, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	st, ok := r.states[thresholdKey{shopID, year}]
	if !ok {
		return threshold.State{}, threshold.ErrNotFound
	}
	return st, nil
}

func (r *ThresholdRepository) Save(_ context.Context, st threshold.State) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.states[thresholdKey{st.ShopID, st.Year}] = st
	return nil
}

func (r *ThresholdRepository) GetContribution(_ context.Context, shopID, orderID uuid.UUID) (threshold.Contribution, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.contributions[contributionKey{shopID, orderID}]
	if !ok {
		return threshold.Contribution{}, threshold.ErrNotFound
	}
	return c, nil
}

func (r *ThresholdRepository) SaveContribution(_ context.Context, shopID uuid.UUID, c threshold.Contribution) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.contributions[contributionKey{shopID, c.OrderID}] = c
	return nil
}
