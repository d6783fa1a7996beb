package vat

import (
	"bytes"
	"context"
	"encoding/xml"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/go-faster/errors"
	"go.uber.org/zap"

	"github.com/euvatease/api/internal/logger"
)

// DefaultVIESEndpoint is the EC VIES SOAP service.
const DefaultVIESEndpoint = "https://ec.europa.eu/taxation_customs/vies/services/checkVatService"

// VIESClient performs single checkVat calls against the VIES SOAP service.
// It makes no retries; callers decide what to do with ErrVIESUnavailable.
type VIESClient struct {
	client   *http.Client
	endpoint string
	logger   *zap.Logger
}

// NewVIESClient creates a new VIES client. timeout bounds a single request.
func NewVIESClient(endpoint string, timeout time.Duration, logger *zap.Logger) *VIESClient {
	if endpoint == "" {
		endpoint = DefaultVIESEndpoint
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &VIESClient{
		client:   &http.Client{Timeout: timeout},
		endpoint: endpoint,
		logger:   logger,
	}
}

// viesSOAPEnvelope is the SOAP request template for VIES VAT number validation.
const viesSOAPEnvelope = `<?xml version="1.0" encoding="UTF-8"?>
<soapenv:Envelope xmlns:soapenv="http://schemas.xmlsoap.org/soap/envelope/"
                  xmlns:urn="urn:ec.europa.eu:taxud:vies:services:checkVat:types">
  <soapenv:Body>
    <urn:checkVat>
      <urn:countryCode>%s</urn:countryCode>
      <urn:vatNumber>%s</urn:vatNumber>
    </urn:checkVat>
  </soapenv:Body>
</soapenv:Envelope>`

// viesSOAPResponse represents the XML structure of the VIES SOAP response.
type viesSOAPResponse struct {
	XMLName xml.Name `xml:"Envelope"`
	Body    struct {
		CheckVatResponse *struct {
			CountryCode string `xml:"countryCode"`
			VATNumber   string `xml:"vatNumber"`
			RequestDate string `xml:"requestDate"`
			Valid       bool   `xml:"valid"`
			Name        string `xml:"name"`
			Address     string `xml:"address"`
		} `xml:"checkVatResponse"`
		Fault *struct {
			Code   string `xml:"faultcode"`
			String string `xml:"faultstring"`
		} `xml:"Fault"`
	} `xml:"Body"`
}

// transientFaults are VIES fault strings that mean "try again later".
var transientFaults = map[string]bool{
	"SERVICE_UNAVAILABLE":       true,
	"MS_UNAVAILABLE":            true,
	"TIMEOUT":                   true,
	"SERVER_BUSY":               true,
	"MS_MAX_CONCURRENT_REQ":     true,
	"GLOBAL_MAX_CONCURRENT_REQ": true,
}

// Check looks up a normalized VAT number. A definitive answer (valid or not)
// returns a nil error; anything that does not allow a conclusion wraps
// ErrVIESUnavailable.
func (c *VIESClient) Check(ctx context.Context, number VATNumber) (VIESResult, error) {
	soapBody := fmt.Sprintf(viesSOAPEnvelope, number.Prefix, number.Number)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, strings.NewReader(soapBody))
	if err != nil {
		return VIESResult{}, errors.Wrap(err, "create VIES request")
	}
	req.Header.Set("Content-Type", "text/xml; charset=utf-8")
	req.Header.Set("SOAPAction", "")

	start := time.Now()
	resp, err := c.client.Do(req)
	if err != nil {
		return VIESResult{}, errors.Wrapf(ErrVIESUnavailable, "call VIES: %v", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return VIESResult{}, errors.Wrapf(ErrVIESUnavailable, "read VIES response: %v", err)
	}

	c.logger.Debug("VIES response",
		zap.String("vat_number", logger.MaskVATNumber(number.Complete)),
		zap.Int("status", resp.StatusCode),
		zap.Duration("took", time.Since(start)),
	)

	var soapResp viesSOAPResponse
	if xmlErr := xml.Unmarshal(bytes.TrimSpace(body), &soapResp); xmlErr != nil {
		return VIESResult{}, errors.Wrapf(ErrVIESUnavailable, "VIES returned HTTP %d with unparsable body: %v", resp.StatusCode, xmlErr)
	}

	if fault := soapResp.Body.Fault; fault != nil {
		code := strings.TrimSpace(fault.String)
		if code == "INVALID_INPUT" {
			return VIESResult{
				Valid:       false,
				CountryCode: number.Prefix,
				VATNumber:   number.Complete,
			}, nil
		}
		if !transientFaults[code] {
			c.logger.Warn("Unknown VIES fault treated as unavailable", zap.String("fault", code))
		}
		return VIESResult{}, errors.Wrapf(ErrVIESUnavailable, "VIES fault %s", code)
	}

	if resp.StatusCode != http.StatusOK {
		return VIESResult{}, errors.Wrapf(ErrVIESUnavailable, "VIES returned HTTP %d", resp.StatusCode)
	}

	data := soapResp.Body.CheckVatResponse
	if data == nil {
		return VIESResult{}, errors.Wrap(ErrVIESUnavailable, "VIES response has no checkVatResponse")
	}

	result := VIESResult{
		Valid:       data.Valid,
		CountryCode: number.Prefix,
		VATNumber:   number.Complete,
		RequestDate: strings.TrimSpace(data.RequestDate),
	}
	if data.Valid {
		result.CompanyName = cleanVIESField(data.Name)
		result.CompanyAddress = cleanVIESField(data.Address)
	}
	return result, nil
}

// cleanVIESField trims whitespace and the "---" placeholder some member
// states return for undisclosed data.
func cleanVIESField(s string) string {
	s = strings.TrimSpace(s)
	if s == "---" {
		return ""
	}
	return s
}
