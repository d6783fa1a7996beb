package audit_test

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/euvatease/api/internal/services/alert"
	"github.com/euvatease/api/internal/services/audit"
	"github.com/euvatease/api/internal/services/order"
	"github.com/euvatease/api/internal/services/shop"
	"github.com/euvatease/api/internal/services/threshold"
	"github.com/euvatease/api/internal/shoplock"
	"github.com/euvatease/api/internal/storage/memory"
	"github.com/euvatease/api/internal/vat"
)

type staticValidations map[string]bool

func (v staticValidations) IsValidated(_ context.Context, _ uuid.UUID, n string) (bool, error) {
	return v[n], nil
}

// hookLocker runs before once, right before the lock is taken.
type hookLocker struct {
	shoplock.Locker
	before func()
}

func (l *hookLocker) Lock(ctx context.Context, shopID uuid.UUID) (func(), error) {
	if hook := l.before; hook != nil {
		l.before = nil
		hook()
	}
	return l.Locker.Lock(ctx, shopID)
}

type fixture struct {
	svc     *audit.Service
	orders  *memory.OrderRepository
	alerts  *alert.Service
	tracker *threshold.Tracker
	locker  *hookLocker
	shop    shop.Shop
}

func newFixture(t *testing.T, validations staticValidations) *fixture {
	t.Helper()
	sh := shop.Shop{ID: uuid.New(), Name: "Acme", HomeCountry: "DE", Active: true}
	shops := shop.NewService(memory.NewShopRepository(sh), nil)
	alerts := alert.NewService(memory.NewAlertRepository(), nil)
	tracker := threshold.NewTracker(memory.NewThresholdRepository(), alerts, threshold.DefaultConfig(), nil)
	orders := memory.NewOrderRepository()
	if validations == nil {
		validations = staticValidations{}
	}

	locker := &hookLocker{Locker: shoplock.NewLocal()}
	svc := audit.NewService(audit.NewAuditor(embeddedResolver(t)), orders, shops, validations, tracker, alerts, locker, nil)
	return &fixture{svc: svc, orders: orders, alerts: alerts, tracker: tracker, locker: locker, shop: sh}
}

func (f *fixture) alertsOfType(t *testing.T, typ alert.Type) []alert.Alert {
	t.Helper()
	all, err := f.alerts.List(context.Background(), f.shop.ID, alert.Filter{})
	require.NoError(t, err)
	var out []alert.Alert
	for _, a := range all {
		if a.Type == typ {
			out = append(out, a)
		}
	}
	return out
}

func (f *fixture) order(dest string, subtotal, tax, rate string) order.Order {
	o := newOrder(dest, vat.BuyerB2C, subtotal, tax, rate)
	o.ID = uuid.Nil
	o.ShopID = f.shop.ID
	return o
}

func TestIngest_AuditsPersistsAndCounts(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	in, err := f.svc.Ingest(ctx, f.order("FR", "100", "20", "20"))
	require.NoError(t, err)
	assert.NotEqual(t, uuid.Nil, in.Order.ID)
	assert.True(t, in.Order.Audited())
	assert.False(t, in.Order.HasError)
	require.NotNil(t, in.Order.ExpectedRate)
	assert.True(t, decimal.NewFromInt(20).Equal(*in.Order.ExpectedRate))
	assert.True(t, decimal.NewFromInt(100).Equal(in.Threshold.TotalEUR))

	stored, err := f.orders.Get(ctx, f.shop.ID, in.Order.ID)
	require.NoError(t, err)
	assert.Equal(t, vat.TreatmentStandard, stored.Treatment)
}

func TestIngest_RaisesDeduplicatedAlert(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	o := f.order("FR", "100", "0", "0")
	o.ExternalID = "shop-1001"
	first, err := f.svc.Ingest(ctx, o)
	require.NoError(t, err)
	assert.Equal(t, order.DiscrepancyVATMissing, first.Order.Discrepancy)

	// Re-ingesting the same external order replaces it and keeps one alert.
	second, err := f.svc.Ingest(ctx, o)
	require.NoError(t, err)
	assert.Equal(t, first.Order.ID, second.Order.ID)
	_, err = f.svc.Reaudit(ctx, f.shop.ID, first.Order.ID)
	require.NoError(t, err)

	alerts := f.alertsOfType(t, alert.TypeVATMissing)
	require.Len(t, alerts, 1)
	require.NotNil(t, alerts[0].OrderID)
	assert.Equal(t, first.Order.ID, *alerts[0].OrderID)
	assert.Equal(t, "order:"+first.Order.ID.String(), alerts[0].Subject)

	// Counted once for the threshold.
	st, err := f.tracker.Current(ctx, f.shop.ID, 2023)
	require.NoError(t, err)
	assert.True(t, decimal.NewFromInt(100).Equal(st.TotalEUR))
}

func TestIngest_UnsupportedJurisdictionIsExplicit(t *testing.T) {
	f := newFixture(t, nil)

	in, err := f.svc.Ingest(context.Background(), f.order("CH", "100", "0", "0"))
	require.NoError(t, err)
	assert.True(t, in.Order.HasError)
	assert.Equal(t, order.DiscrepancyUnsupportedJurisdiction, in.Order.Discrepancy)
	assert.Nil(t, in.Order.ExpectedRate)
	assert.True(t, in.Threshold.TotalEUR.IsZero())
	assert.Len(t, f.alertsOfType(t, alert.TypeUnsupportedJurisdiction), 1)
}

func TestIngest_ReverseCharge(t *testing.T) {
	f := newFixture(t, staticValidations{"FR12345678901": true})

	o := f.order("FR", "100", "20", "20")
	o.BuyerType = vat.BuyerB2B
	o.VATNumber = "FR12345678901"
	in, err := f.svc.Ingest(context.Background(), o)
	require.NoError(t, err)
	assert.Equal(t, vat.TreatmentReverseCharge, in.Order.Treatment)
	assert.Equal(t, order.DiscrepancyB2BVATCharged, in.Order.Discrepancy)
	assert.True(t, in.Threshold.TotalEUR.IsZero(), "reverse charge does not count towards OSS")
	assert.Len(t, f.alertsOfType(t, alert.TypeB2BVATCharged), 1)
}

func TestIngest_RejectsInvalidOrUnknownShop(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	bad := f.order("FR", "100", "20", "20")
	bad.Currency = "USD"
	_, err := f.svc.Ingest(ctx, bad)
	assert.ErrorIs(t, err, order.ErrInvalid)

	unknown := f.order("FR", "100", "20", "20")
	unknown.ShopID = uuid.New()
	_, err = f.svc.Ingest(ctx, unknown)
	assert.ErrorIs(t, err, shop.ErrNotFound)
}

func TestReaudit_AfterCorrection(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	in, err := f.svc.Ingest(ctx, f.order("FR", "100", "19", "19"))
	require.NoError(t, err)
	assert.Equal(t, order.DiscrepancyRateMismatch, in.Order.Discrepancy)

	corrected := in.Order
	corrected.TaxAmount = decimal.NewFromInt(20)
	corrected.AppliedRate = decimal.NewFromInt(20)
	_, err = f.orders.Save(ctx, corrected)
	require.NoError(t, err)

	re, err := f.svc.Reaudit(ctx, f.shop.ID, in.Order.ID)
	require.NoError(t, err)
	assert.False(t, re.HasError)
	assert.Equal(t, order.DiscrepancyNone, re.Discrepancy)

	_, err = f.svc.Reaudit(ctx, uuid.New(), in.Order.ID)
	assert.Error(t, err)
}

func TestAnalyze(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	raw := []order.Order{
		f.order("FR", "100", "20", "20"),
		f.order("IT", "100", "0", "0"),
		f.order("US", "100", "0", "0"),
		f.order("ES", "100", "20", "20"),
	}
	for i, o := range raw {
		o.ID = uuid.New()
		o.OrderedAt = o.OrderedAt.Add(time.Duration(i) * time.Minute)
		_, err := f.orders.Save(ctx, o)
		require.NoError(t, err)
	}

	sum, err := f.svc.Analyze(ctx, f.shop.ID)
	require.NoError(t, err)
	assert.Equal(t, audit.Summary{Audited: 4, WithErrors: 3, Unsupported: 1}, sum)

	again, err := f.svc.Analyze(ctx, f.shop.ID)
	require.NoError(t, err)
	assert.Equal(t, sum, again)
	assert.Len(t, f.alertsOfType(t, alert.TypeVATMissing), 1)

	st, err := f.tracker.Current(ctx, f.shop.ID, 2023)
	require.NoError(t, err)
	assert.True(t, decimal.NewFromInt(300).Equal(st.TotalEUR))
}

func TestAnalyze_KeepsCorrectionSavedWhileAuditing(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	o := f.order("FR", "100", "20", "20")
	o.ID = uuid.New()
	stored, err := f.orders.Save(ctx, o)
	require.NoError(t, err)

	f.locker.before = func() {
		corrected := stored
		corrected.Subtotal = decimal.NewFromInt(200)
		corrected.TaxAmount = decimal.NewFromInt(40)
		_, err := f.orders.Save(ctx, corrected)
		require.NoError(t, err)
	}

	sum, err := f.svc.Analyze(ctx, f.shop.ID)
	require.NoError(t, err)
	assert.Equal(t, audit.Summary{Audited: 1}, sum)

	got, err := f.orders.Get(ctx, f.shop.ID, o.ID)
	require.NoError(t, err)
	assert.True(t, decimal.NewFromInt(200).Equal(got.Subtotal), "got %s", got.Subtotal)
	assert.True(t, got.Audited())
	assert.False(t, got.HasError)

	st, err := f.tracker.Current(ctx, f.shop.ID, 2023)
	require.NoError(t, err)
	assert.True(t, decimal.NewFromInt(200).Equal(st.TotalEUR))
}

func TestReaudit_ReadsOrderUnderLock(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	in, err := f.svc.Ingest(ctx, f.order("FR", "100", "19", "19"))
	require.NoError(t, err)
	require.Equal(t, order.DiscrepancyRateMismatch, in.Order.Discrepancy)

	f.locker.before = func() {
		corrected := in.Order
		corrected.TaxAmount = decimal.NewFromInt(20)
		corrected.AppliedRate = decimal.NewFromInt(20)
		_, err := f.orders.Save(ctx, corrected)
		require.NoError(t, err)
	}

	re, err := f.svc.Reaudit(ctx, f.shop.ID, in.Order.ID)
	require.NoError(t, err)
	assert.Equal(t, order.DiscrepancyNone, re.Discrepancy)
	assert.True(t, decimal.NewFromInt(20).Equal(re.TaxAmount))
}

func TestReaudit_DoesNotReopenDismissedAlert(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	in, err := f.svc.Ingest(ctx, f.order("FR", "100", "0", "0"))
	require.NoError(t, err)
	active := f.alertsOfType(t, alert.TypeVATMissing)
	require.Len(t, active, 1)
	_, err = f.alerts.Dismiss(ctx, f.shop.ID, active[0].ID)
	require.NoError(t, err)

	_, err = f.svc.Analyze(ctx, f.shop.ID)
	require.NoError(t, err)
	_, err = f.svc.Reaudit(ctx, f.shop.ID, in.Order.ID)
	require.NoError(t, err)

	missing := f.alertsOfType(t, alert.TypeVATMissing)
	require.Len(t, missing, 1)
	assert.Equal(t, alert.StatusDismissed, missing[0].Status)

	// A different problem on the same order is raised.
	stored, err := f.orders.Get(ctx, f.shop.ID, in.Order.ID)
	require.NoError(t, err)
	stored.TaxAmount = decimal.NewFromInt(19)
	stored.AppliedRate = decimal.NewFromInt(19)
	_, err = f.orders.Save(ctx, stored)
	require.NoError(t, err)
	_, err = f.svc.Reaudit(ctx, f.shop.ID, in.Order.ID)
	require.NoError(t, err)
	assert.Len(t, f.alertsOfType(t, alert.TypeVATRateError), 1)
}
