package memory

import (
	"context"
	"slices"
	"sort"
	"sync"

	"github.com/google/uuid"

	"github.com/euvatease/api/internal/services/report"
)

var _ report.Repository = (*ReportRepository)(nil)

// ReportRepository implements report.Repository in memory.
type ReportRepository struct {
	mu      sync.RWMutex
	reports map[uuid.UUID]report.Report
}

// NewReportRepository returns an empty ReportRepository.
func NewReportRepository() *ReportRepository {
	return &ReportRepository{reports: make(map[uuid.UUID]report.Report)}
}

func cloneReport(r report.Report) report.Report {
	r.Lines = slices.Clone(r.Lines)
	return r
}

func (r *ReportRepository) Get(_ context.Context, shopID, id uuid.UUID) (report.Report, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rep, ok := r.reports[id]
	if !ok || rep.ShopID != shopID {
		return report.Report{}, report.ErrNotFound
	}
	return cloneReport(rep), nil
}

func (r *ReportRepository) FindByPeriod(_ context.Context, shopID uuid.UUID, year, quarter int) (report.Report, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, rep := range r.reports {
		if rep.ShopID == shopID && rep.Year == year && rep.Quarter == quarter {
			return cloneReport(rep), nil
		}
	}
	return report.Report{}, report.ErrNotFound
}

func (r *ReportRepository) Create(_ context.Context, rep report.Report) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, existing := range r.reports {
		if existing.ShopID == rep.ShopID && existing.Year == rep.Year && existing.Quarter == rep.Quarter {
			return report.ErrConcurrentModification
		}
	}
	r.reports[rep.ID] = cloneReport(rep)
	return nil
}

func (r *ReportRepository) Update(_ context.Context, rep report.Report, expectedVersion int) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	existing, ok := r.reports[rep.ID]
	if !ok || existing.ShopID != rep.ShopID {
		return report.ErrNotFound
	}
	if existing.Version != expectedVersion {
		return report.ErrConcurrentModification
	}
	r.reports[rep.ID] = cloneReport(rep)
	return nil
}

func (r *ReportRepository) List(_ context.Context, shopID uuid.UUID) ([]report.Report, error) {
	r.mu.RLock()
	var out []report.Report
	for _, rep := range r.reports {
		if rep.ShopID == shopID {
			out = append(out, cloneReport(rep))
		}
	}
	r.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].Year != out[j].Year {
			return out[i].Year > out[j].Year
		}
		return out[i].Quarter > out[j].Quarter
	})
	return out, nil
}
