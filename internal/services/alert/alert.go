// Package alert is the alert engine: deduplicated raise, and the terminal
// resolve and dismiss transitions.
package alert

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/google/uuid"
)

var (
	// ErrNotFound is returned when an alert does not exist in the shop.
	ErrNotFound = errors.New("alert not found")
	// ErrClosed is returned when resolving or dismissing an alert that is no longer active.
	ErrClosed = errors.New("alert already closed")
)

// Type is the closed set of alert kinds.
type Type string

const (
	TypeVATRateError            Type = "VAT_RATE_ERROR"
	TypeVATMissing              Type = "VAT_MISSING"
	TypeB2BVATCharged           Type = "B2B_VAT_CHARGED"
	TypeOSSThresholdWarning     Type = "OSS_THRESHOLD_WARNING"
	TypeOSSThresholdExceeded    Type = "OSS_THRESHOLD_EXCEEDED"
	TypeOSSDeadline             Type = "OSS_DEADLINE"
	TypeVIESFailure             Type = "VIES_FAILURE"
	TypeUnsupportedJurisdiction Type = "UNSUPPORTED_JURISDICTION"
	TypeConfigError             Type = "CONFIG_ERROR"
	TypeSubscriptionExpiring    Type = "SUBSCRIPTION_EXPIRING"
)

var knownTypes = map[Type]bool{
	TypeVATRateError: true, TypeVATMissing: true, TypeB2BVATCharged: true,
	TypeOSSThresholdWarning: true, TypeOSSThresholdExceeded: true, TypeOSSDeadline: true,
	TypeVIESFailure: true, TypeUnsupportedJurisdiction: true, TypeConfigError: true,
	TypeSubscriptionExpiring: true,
}

// Valid reports whether t is one of the known alert types.
func (t Type) Valid() bool { return knownTypes[t] }

// Severity of an alert.
type Severity string

const (
	SeverityInfo     Severity = "INFO"
	SeverityWarning  Severity = "WARNING"
	SeverityCritical Severity = "CRITICAL"
)

// Valid reports whether s is a known severity.
func (s Severity) Valid() bool {
	return s == SeverityInfo || s == SeverityWarning || s == SeverityCritical
}

// Status of an alert. RESOLVED and DISMISSED are terminal.
type Status string

const (
	StatusActive    Status = "ACTIVE"
	StatusResolved  Status = "RESOLVED"
	StatusDismissed Status = "DISMISSED"
)

// Alert is a compliance finding shown to the shop. Alerts are never deleted.
type Alert struct {
	ID             uuid.UUID
	ShopID         uuid.UUID
	Type           Type
	Severity       Severity
	Status         Status
	Subject        string
	OrderID        *uuid.UUID
	CountryCode    string
	Title          string
	Message        string
	ActionRequired string
	Read           bool
	CreatedAt      time.Time
	ResolvedAt     *time.Time
}

// Active reports whether the alert is still open.
func (a Alert) Active() bool { return a.Status == StatusActive }

// Filter narrows List. Nil fields match everything.
type Filter struct {
	Resolved *bool
	Severity Severity
}

// Repository stores alerts of a shop.
type Repository interface {
	// CreateIfAbsent inserts a unless an active alert with the same
	// (shop, type, subject) exists; in that case the existing alert is
	// returned with created=false.
	CreateIfAbsent(ctx context.Context, a Alert) (stored Alert, created bool, err error)
	Get(ctx context.Context, shopID, id uuid.UUID) (Alert, error)
	// Latest returns the newest alert for (shop, type, subject) in any
	// status, or ErrNotFound.
	Latest(ctx context.Context, shopID uuid.UUID, typ Type, subject string) (Alert, error)
	List(ctx context.Context, shopID uuid.UUID, f Filter) ([]Alert, error)
	// Close moves an active alert to a terminal status. Alerts that are not
	// active yield ErrClosed.
	Close(ctx context.Context, shopID, id uuid.UUID, status Status, at time.Time) (Alert, error)
	MarkAllRead(ctx context.Context, shopID uuid.UUID) (int, error)
}
