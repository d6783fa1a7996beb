// Package shop holds the tenant configuration every compliance computation
// is scoped by.
package shop

import (
	"context"
	"regexp"
	"strings"
	"time"

	"github.com/go-faster/errors"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

var (
	// ErrNotFound is returned when a shop does not exist.
	ErrNotFound = errors.New("shop not found")
	// ErrInvalid is returned for shop settings that fail validation.
	ErrInvalid = errors.New("invalid shop settings")
)

var countryCode = regexp.MustCompile(`^[A-Z]{2}$`)

// Shop is a merchant tenant.
type Shop struct {
	ID            uuid.UUID
	Name          string
	HomeCountry   string
	OSSRegistered bool
	Active        bool
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// CrossBorder reports whether shipping to destination leaves the home country.
func (s Shop) CrossBorder(destination string) bool {
	return destination != s.HomeCountry
}

// Repository stores shops.
type Repository interface {
	Get(ctx context.Context, id uuid.UUID) (Shop, error)
	Upsert(ctx context.Context, s Shop) (Shop, error)
	ListActive(ctx context.Context) ([]Shop, error)
}

// Service provides shop configuration.
type Service struct {
	repo   Repository
	logger *zap.Logger
}

// NewService creates a shop service.
func NewService(repo Repository, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{repo: repo, logger: logger}
}

// Get returns a shop by id.
func (s *Service) Get(ctx context.Context, id uuid.UUID) (Shop, error) {
	return s.repo.Get(ctx, id)
}

// ListActive returns every active shop, used by the scheduled jobs.
func (s *Service) ListActive(ctx context.Context) ([]Shop, error) {
	return s.repo.ListActive(ctx)
}

// Save validates and stores shop configuration.
func (s *Service) Save(ctx context.Context, sh Shop) (Shop, error) {
	sh.HomeCountry = strings.ToUpper(strings.TrimSpace(sh.HomeCountry))
	sh.Name = strings.TrimSpace(sh.Name)
	if sh.ID == uuid.Nil {
		return Shop{}, errors.Wrap(ErrInvalid, "shop id is required")
	}
	if !countryCode.MatchString(sh.HomeCountry) {
		return Shop{}, errors.Wrapf(ErrInvalid, "home country %q is not an ISO-2 code", sh.HomeCountry)
	}

	saved, err := s.repo.Upsert(ctx, sh)
	if err != nil {
		return Shop{}, errors.Wrap(err, "save shop")
	}
	s.logger.Info("Shop configuration saved",
		zap.String("shop_id", saved.ID.String()),
		zap.String("home_country", saved.HomeCountry),
		zap.Bool("oss_registered", saved.OSSRegistered),
	)
	return saved, nil
}
