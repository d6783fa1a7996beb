// Package validation validates customer VAT numbers against VIES and keeps
// the append-only history that serves as legal proof.
package validation

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/google/uuid"
)

var (
	// ErrServiceUnavailable is returned when VIES could not give an answer
	// after all attempts.
	ErrServiceUnavailable = errors.New("VIES service unavailable")
	// ErrNotFound is returned when no record exists for a number.
	ErrNotFound = errors.New("validation record not found")
)

// Status of a validation record.
type Status string

const (
	StatusValid       Status = "VALID"
	StatusInvalid     Status = "INVALID"
	StatusUnavailable Status = "UNAVAILABLE"
)

// Definitive reports whether the status is an answer from the registry.
func (s Status) Definitive() bool {
	return s == StatusValid || s == StatusInvalid
}

// Record is one immutable validation attempt sequence. Company data and the
// proof id are present only when valid; the failure reason only otherwise.
type Record struct {
	ID             uuid.UUID
	ShopID         uuid.UUID
	VATNumber      string
	CountryCode    string
	Valid          bool
	Status         Status
	CompanyName    string
	CompanyAddress string
	ValidatedAt    time.Time
	ProofID        string
	FailureReason  string
	Attempts       int
}

// Repository stores validation records. Records are never updated.
type Repository interface {
	Append(ctx context.Context, r Record) error
	// Latest returns the newest record for the number.
	Latest(ctx context.Context, shopID uuid.UUID, vatNumber string) (Record, error)
	// LatestDefinitive returns the newest VALID or INVALID record.
	LatestDefinitive(ctx context.Context, shopID uuid.UUID, vatNumber string) (Record, error)
	// History returns a page of records newest first and the total count.
	History(ctx context.Context, shopID uuid.UUID, page, size int) ([]Record, int, error)
	// ListUnavailable returns the numbers whose newest record is UNAVAILABLE.
	ListUnavailable(ctx context.Context, shopID uuid.UUID) ([]string, error)
}

// Outcome is the answer to a validate call.
type Outcome struct {
	RecordID       uuid.UUID
	VATNumber      string
	CountryCode    string
	Valid          bool
	Status         Status
	CompanyName    string
	CompanyAddress string
	ProofID        string
	ErrorMessage   string
	ValidatedAt    time.Time
	Reused         bool
}

func outcomeFrom(r Record, reused bool) Outcome {
	return Outcome{
		RecordID:       r.ID,
		VATNumber:      r.VATNumber,
		CountryCode:    r.CountryCode,
		Valid:          r.Valid,
		Status:         r.Status,
		CompanyName:    r.CompanyName,
		CompanyAddress: r.CompanyAddress,
		ProofID:        r.ProofID,
		ErrorMessage:   r.FailureReason,
		ValidatedAt:    r.ValidatedAt,
		Reused:         reused,
	}
}

// RetrySummary counts the outcomes of a retry sweep.
type RetrySummary struct {
	Attempted   int
	Valid       int
	Invalid     int
	Unavailable int
}
