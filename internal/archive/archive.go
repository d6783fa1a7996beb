package archive

import (
	"bytes"
	"context"
	"fmt"
	"time"

	"github.com/go-faster/errors"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/euvatease/api/internal/export"
	"github.com/euvatease/api/internal/services/report"
	"github.com/euvatease/api/internal/services/shop"
)

// Formats are the renderings kept for every submitted report.
var Formats = []export.Format{export.FormatCSV, export.FormatPDF}

// ShopReader loads the shop a report belongs to.
type ShopReader interface {
	Get(ctx context.Context, id uuid.UUID) (shop.Shop, error)
}

// Link is a downloadable archived file.
type Link struct {
	Format export.Format
	Key    string
	URL    string
}

// Archiver renders submitted reports and writes them to a Storage.
type Archiver struct {
	store   Storage
	shops   ShopReader
	linkTTL time.Duration
	logger  *zap.Logger
}

// New creates an Archiver. linkTTL bounds presigned links.
func New(store Storage, shops ShopReader, linkTTL time.Duration, logger *zap.Logger) *Archiver {
	if logger == nil {
		logger = zap.NewNop()
	}
	if linkTTL <= 0 {
		linkTTL = 15 * time.Minute
	}
	return &Archiver{store: store, shops: shops, linkTTL: linkTTL, logger: logger}
}

// Key returns the object key of a report rendering.
func Key(r report.Report, f export.Format) string {
	return fmt.Sprintf("reports/%s/%s/%s.%s", r.ShopID, r.Period(), r.ID, f)
}

// Archive writes every rendering of r and returns their keys. Files written
// before a failure are removed again.
func (a *Archiver) Archive(ctx context.Context, r report.Report) ([]string, error) {
	sh, err := a.shops.Get(ctx, r.ShopID)
	if err != nil {
		return nil, errors.Wrap(err, "load shop")
	}
	doc := export.Document{Report: r, Shop: sh}

	keys := make([]string, 0, len(Formats))
	for _, f := range Formats {
		body, err := export.Render(f, doc)
		if err == nil {
			key := Key(r, f)
			_, err = a.store.Put(ctx, key, bytes.NewReader(body), f.ContentType())
			if err == nil {
				keys = append(keys, key)
				continue
			}
		}

		for _, k := range keys {
			if derr := a.store.Delete(ctx, k); derr != nil {
				a.logger.Warn("Failed to remove partial archive", zap.String("key", k), zap.Error(derr))
			}
		}
		return nil, errors.Wrapf(err, "archive %s", f)
	}
	return keys, nil
}

// Links returns download links of the archived renderings of a submitted
// report.
func (a *Archiver) Links(ctx context.Context, r report.Report) ([]Link, error) {
	if r.Status != report.StatusSubmitted {
		return nil, report.ErrNotFound
	}
	links := make([]Link, 0, len(Formats))
	for _, f := range Formats {
		key := Key(r, f)
		u, err := a.store.URL(ctx, key, a.linkTTL)
		if err != nil {
			return nil, errors.Wrapf(err, "link %s", f)
		}
		links = append(links, Link{Format: f, Key: key, URL: u})
	}
	return links, nil
}
