package vat

import (
	"context"
	"os"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// RateStore persists the rate table.
type RateStore interface {
	LoadRates(ctx context.Context) ([]VATRate, error)
	ReplaceRates(ctx context.Context, rates []VATRate) error
}

// RateSyncer keeps the rate table and the resolver overrides up to date. The
// rate file (or the embedded table when no file is configured) is the
// primary source; the store is written on change and used as the fallback
// when the file cannot be read.
type RateSyncer struct {
	store    RateStore
	file     string
	table    *RateTable
	resolver *Resolver
	logger   *zap.Logger
}

// NewRateSyncer creates a RateSyncer. store may be nil.
func NewRateSyncer(store RateStore, file string, resolver *Resolver, logger *zap.Logger) *RateSyncer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RateSyncer{
		store:    store,
		file:     file,
		table:    resolver.Table(),
		resolver: resolver,
		logger:   logger,
	}
}

// Sync reloads the rate table.
func (s *RateSyncer) Sync(ctx context.Context) SyncResult {
	now := time.Now().UTC()

	set, source, err := s.readRuleSet()
	if err != nil {
		s.logger.Warn("Rate file unavailable, loading from store", zap.Error(err))
		return s.loadFromStore(ctx, now, err)
	}

	var changes []RateChange
	if s.store != nil {
		existing, loadErr := s.store.LoadRates(ctx)
		if loadErr != nil {
			s.logger.Warn("Could not load stored rates for change detection", zap.Error(loadErr))
		}
		changes = detectChanges(existing, set.Rates)
		if len(changes) > 0 || len(existing) != len(set.Rates) {
			for _, ch := range changes {
				s.logger.Info("VAT rate changed",
					zap.String("country", ch.CountryCode),
					zap.String("rate_type", ch.RateType),
					zap.Time("valid_from", ch.ValidFrom),
					zap.String("old_rate", ch.OldRate.String()),
					zap.String("new_rate", ch.NewRate.String()),
				)
			}
			if err := s.store.ReplaceRates(ctx, set.Rates); err != nil {
				s.logger.Error("Failed to persist VAT rates", zap.Error(err))
			}
		}
	}

	s.table.Load(set.Rates)
	s.resolver.SetOverrides(set.Overrides)
	s.logger.Info("VAT rate table loaded",
		zap.String("source", source),
		zap.Int("countries", s.table.CountryCount()),
		zap.Int("rates", s.table.RateCount()),
		zap.Int("overrides", len(set.Overrides)),
	)

	return SyncResult{
		Source:       source,
		RatesLoaded:  len(set.Rates),
		RatesChanged: len(changes),
		SyncedAt:     now,
	}
}

func (s *RateSyncer) readRuleSet() (RuleSet, string, error) {
	if s.file == "" {
		set, err := EmbeddedRuleSet()
		return set, SourceEmbedded, err
	}
	data, err := os.ReadFile(s.file)
	if err != nil {
		return RuleSet{}, SourceFile, errors.Wrap(err, "read rate file")
	}
	set, err := ParseRuleSet(data, SourceFile)
	return set, SourceFile, err
}

func (s *RateSyncer) loadFromStore(ctx context.Context, now time.Time, cause error) SyncResult {
	if s.store == nil {
		return SyncResult{Source: SourceDatabase, SyncedAt: now, Error: cause}
	}
	rates, err := s.store.LoadRates(ctx)
	if err == nil && len(rates) == 0 {
		err = errors.New("no stored rates")
	}
	if err != nil {
		return SyncResult{
			Source:   SourceDatabase,
			SyncedAt: now,
			Error:    errors.Wrapf(err, "all rate sources failed (file: %v)", cause),
		}
	}

	s.table.Load(rates)
	s.logger.Info("VAT rate table loaded from store",
		zap.Int("countries", s.table.CountryCount()),
		zap.Int("rates", s.table.RateCount()),
	)
	return SyncResult{Source: SourceDatabase, RatesLoaded: len(rates), SyncedAt: now}
}

// detectChanges compares stored and freshly read rates keyed by
// country, rate type and start date.
func detectChanges(old, fresh []VATRate) []RateChange {
	key := func(r VATRate) string {
		return r.CountryCode + ":" + r.RateType + ":" + r.ValidFrom.Format(time.DateOnly)
	}
	oldMap := make(map[string]decimal.Decimal, len(old))
	for _, r := range old {
		oldMap[key(r)] = r.Rate
	}

	var changes []RateChange
	for _, r := range fresh {
		oldRate, existed := oldMap[key(r)]
		if existed && oldRate.Equal(r.Rate) {
			continue
		}
		changes = append(changes, RateChange{
			CountryCode: r.CountryCode,
			RateType:    r.RateType,
			ValidFrom:   r.ValidFrom,
			OldRate:     oldRate,
			NewRate:     r.Rate,
		})
	}
	return changes
}
