package order

import (
	"context"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Page limits.
const (
	DefaultPageSize = 20
	MaxPageSize     = 250
)

// Service provides read access to audited orders.
type Service struct {
	repo   Repository
	logger *zap.Logger
}

// NewService creates a new order service.
func NewService(repo Repository, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{repo: repo, logger: logger}
}

// Get returns a single order by ID.
func (s *Service) Get(ctx context.Context, shopID, id uuid.UUID) (Order, error) {
	return s.repo.Get(ctx, shopID, id)
}

// List returns paginated orders with an optional error filter.
// It returns the order slice and the total count.
func (s *Service) List(ctx context.Context, shopID uuid.UUID, f ListFilter) ([]Order, int, error) {
	f.Page, f.Size = NormalizePage(f.Page, f.Size)
	return s.repo.List(ctx, shopID, f)
}

// ErrorSummary returns the number of orders per error classification,
// including zero counts.
func (s *Service) ErrorSummary(ctx context.Context, shopID uuid.UUID) (Stats, error) {
	st, err := s.repo.Stats(ctx, shopID)
	if err != nil {
		return Stats{}, err
	}
	if st.ByDiscrepancy == nil {
		st.ByDiscrepancy = make(map[Discrepancy]int, len(Discrepancies))
	}
	for _, d := range Discrepancies {
		if _, ok := st.ByDiscrepancy[d]; !ok {
			st.ByDiscrepancy[d] = 0
		}
	}
	return st, nil
}

// NormalizePage clamps page and size to sane values.
func NormalizePage(page, size int) (int, int) {
	if page < 1 {
		page = 1
	}
	if size < 1 {
		size = DefaultPageSize
	}
	if size > MaxPageSize {
		size = MaxPageSize
	}
	return page, size
}
