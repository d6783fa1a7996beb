// Package export renders OSS reports as CSV, PDF and XLSX documents.
package export

import (
	"bytes"
	"fmt"
	"time"

	"github.com/go-faster/errors"

	"github.com/euvatease/api/internal/services/report"
	"github.com/euvatease/api/internal/services/shop"
)

// ErrUnknownFormat is returned for a format Render does not support.
var ErrUnknownFormat = errors.New("unknown export format")

// Format of an exported document.
type Format string

const (
	FormatCSV  Format = "csv"
	FormatPDF  Format = "pdf"
	FormatXLSX Format = "xlsx"
)

// ContentType returns the MIME type of the format.
func (f Format) ContentType() string {
	switch f {
	case FormatCSV:
		return "text/csv; charset=utf-8"
	case FormatPDF:
		return "application/pdf"
	case FormatXLSX:
		return "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
	default:
		return "application/octet-stream"
	}
}

// Document is a report together with the shop it was filed for.
type Document struct {
	Report report.Report
	Shop   shop.Shop
}

// Filename returns the download name of the document in the given format.
func (d Document) Filename(f Format) string {
	return fmt.Sprintf("oss-report-%s.%s", d.Report.Period(), f)
}

// Render renders the document in the given format.
func Render(f Format, d Document) ([]byte, error) {
	switch f {
	case FormatCSV:
		var buf bytes.Buffer
		if err := WriteCSV(&buf, d); err != nil {
			return nil, err
		}
		return buf.Bytes(), nil
	case FormatPDF:
		return RenderPDF(d)
	case FormatXLSX:
		return RenderXLSX(d)
	default:
		return nil, errors.Wrapf(ErrUnknownFormat, "%q", f)
	}
}

func generatedAt(r report.Report) string {
	if r.GeneratedAt == nil {
		return "-"
	}
	return r.GeneratedAt.UTC().Format(time.RFC3339)
}
