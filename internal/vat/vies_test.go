package vat

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/go-faster/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSanitizeVATNumber(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{"already clean", "DE123456789", "DE123456789"},
		{"lowercase", "de123456789", "DE123456789"},
		{"spaces", "DE 123 456 789", "DE123456789"},
		{"punctuation", "FR-12.345/678-901", "FR12345678901"},
		{"tabs and newlines", "\tNL123456789B01\n", "NL123456789B01"},
		{"empty", "", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, sanitizeVATNumber(tt.input))
		})
	}
}

func TestNormalizeVATNumber(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		prefix  string
		country string
		number  string
	}{
		{"german", "de 123 456 789", "DE", "DE", "123456789"},
		{"austrian", "ATU12345678", "AT", "AT", "U12345678"},
		{"dutch", "nl123456789b01", "NL", "NL", "123456789B01"},
		{"french with letters", "FRAB123456789", "FR", "FR", "AB123456789"},
		{"greek EL", "EL123456789", "EL", "GR", "123456789"},
		{"greek GR alias", "GR 123456789", "EL", "GR", "123456789"},
		{"irish", "IE1234567WA", "IE", "IE", "1234567WA"},
		{"swedish", "SE123456789001", "SE", "SE", "123456789001"},
		{"northern ireland", "XI123456789", "XI", "XI", "123456789"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			n, err := NormalizeVATNumber(tt.input)
			require.NoError(t, err)
			assert.Equal(t, tt.prefix, n.Prefix)
			assert.Equal(t, tt.country, n.Country)
			assert.Equal(t, tt.number, n.Number)
			assert.Equal(t, tt.prefix+tt.number, n.String())
		})
	}
}

func TestNormalizeVATNumber_InvalidFormat(t *testing.T) {
	for _, input := range []string{
		"",
		"DE",
		"123456789",
		"US123456789",
		"DE12345678",
		"DE1234567890",
		"ATX12345678",
		"NL123456789A01",
		"SE123456789002",
	} {
		t.Run(input, func(t *testing.T) {
			_, err := NormalizeVATNumber(input)
			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrInvalidFormat))
		})
	}
}

const viesValidResponse = `<?xml version="1.0" encoding="UTF-8"?>
<env:Envelope xmlns:env="http://schemas.xmlsoap.org/soap/envelope/">
  <env:Body>
    <ns2:checkVatResponse xmlns:ns2="urn:ec.europa.eu:taxud:vies:services:checkVat:types">
      <ns2:countryCode>DE</ns2:countryCode>
      <ns2:vatNumber>123456789</ns2:vatNumber>
      <ns2:requestDate>2024-03-01+01:00</ns2:requestDate>
      <ns2:valid>true</ns2:valid>
      <ns2:name>  Muster GmbH </ns2:name>
      <ns2:address>Hauptstr. 1, Berlin</ns2:address>
    </ns2:checkVatResponse>
  </env:Body>
</env:Envelope>`

const viesInvalidResponse = `<?xml version="1.0" encoding="UTF-8"?>
<env:Envelope xmlns:env="http://schemas.xmlsoap.org/soap/envelope/">
  <env:Body>
    <ns2:checkVatResponse xmlns:ns2="urn:ec.europa.eu:taxud:vies:services:checkVat:types">
      <ns2:countryCode>DE</ns2:countryCode>
      <ns2:vatNumber>123456789</ns2:vatNumber>
      <ns2:requestDate>2024-03-01+01:00</ns2:requestDate>
      <ns2:valid>false</ns2:valid>
      <ns2:name>---</ns2:name>
      <ns2:address>---</ns2:address>
    </ns2:checkVatResponse>
  </env:Body>
</env:Envelope>`

func viesFault(code string) string {
	return `<?xml version="1.0" encoding="UTF-8"?>
<env:Envelope xmlns:env="http://schemas.xmlsoap.org/soap/envelope/">
  <env:Body>
    <env:Fault>
      <faultcode>env:Server</faultcode>
      <faultstring>` + code + `</faultstring>
    </env:Fault>
  </env:Body>
</env:Envelope>`
}

func newVIESStub(t *testing.T, status int, body string) (*VIESClient, *atomic.Int32) {
	t.Helper()
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		payload, _ := io.ReadAll(r.Body)
		assert.Contains(t, string(payload), "<urn:countryCode>DE</urn:countryCode>")
		assert.Contains(t, string(payload), "<urn:vatNumber>123456789</urn:vatNumber>")
		w.Header().Set("Content-Type", "text/xml")
		w.WriteHeader(status)
		_, _ = io.WriteString(w, body)
	}))
	t.Cleanup(srv.Close)
	return NewVIESClient(srv.URL, 2*time.Second, nil), &calls
}

func mustNormalize(t *testing.T, raw string) VATNumber {
	t.Helper()
	n, err := NormalizeVATNumber(raw)
	require.NoError(t, err)
	return n
}

func TestVIESClient_Valid(t *testing.T) {
	client, calls := newVIESStub(t, http.StatusOK, viesValidResponse)

	res, err := client.Check(context.Background(), mustNormalize(t, "DE123456789"))
	require.NoError(t, err)
	assert.True(t, res.Valid)
	assert.Equal(t, "Muster GmbH", res.CompanyName)
	assert.Equal(t, "Hauptstr. 1, Berlin", res.CompanyAddress)
	assert.Equal(t, "DE", res.CountryCode)
	assert.Equal(t, "DE123456789", res.VATNumber)
	assert.Equal(t, "2024-03-01+01:00", res.RequestDate)
	assert.Equal(t, int32(1), calls.Load())
}

func TestVIESClient_Invalid(t *testing.T) {
	client, _ := newVIESStub(t, http.StatusOK, viesInvalidResponse)

	res, err := client.Check(context.Background(), mustNormalize(t, "DE123456789"))
	require.NoError(t, err)
	assert.False(t, res.Valid)
	assert.Empty(t, res.CompanyName)
	assert.Empty(t, res.CompanyAddress)
}

func TestVIESClient_InvalidInputFault(t *testing.T) {
	client, _ := newVIESStub(t, http.StatusInternalServerError, viesFault("INVALID_INPUT"))

	res, err := client.Check(context.Background(), mustNormalize(t, "DE123456789"))
	require.NoError(t, err)
	assert.False(t, res.Valid)
}

func TestVIESClient_Unavailable(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
	}{
		{"member state unavailable", http.StatusInternalServerError, viesFault("MS_UNAVAILABLE")},
		{"busy", http.StatusInternalServerError, viesFault("GLOBAL_MAX_CONCURRENT_REQ")},
		{"unknown fault", http.StatusInternalServerError, viesFault("SOMETHING_NEW")},
		{"gateway error", http.StatusBadGateway, "<html>bad gateway</html>"},
		{"empty envelope", http.StatusOK, `<Envelope><Body></Body></Envelope>`},
		{"server error with envelope", http.StatusServiceUnavailable, viesValidResponse},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client, _ := newVIESStub(t, tt.status, tt.body)

			_, err := client.Check(context.Background(), mustNormalize(t, "DE123456789"))
			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrVIESUnavailable), "got %v", err)
		})
	}
}

func TestVIESClient_NetworkError(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	endpoint := srv.URL
	srv.Close()

	client := NewVIESClient(endpoint, time.Second, nil)
	_, err := client.Check(context.Background(), mustNormalize(t, "DE123456789"))
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrVIESUnavailable))
}

func TestVIESClient_Timeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	}))
	defer srv.Close()

	client := NewVIESClient(srv.URL, 50*time.Millisecond, nil)
	_, err := client.Check(context.Background(), mustNormalize(t, "DE123456789"))
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrVIESUnavailable))
}

func TestCleanVIESField(t *testing.T) {
	assert.Equal(t, "", cleanVIESField(" --- "))
	assert.Equal(t, "ACME", cleanVIESField("\nACME "))
	assert.False(t, strings.Contains(cleanVIESField(" a "), " "))
}
