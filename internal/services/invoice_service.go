package services

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"
)

// InvoiceService talks to the hosted-invoice payment gateway. The gateway
// returns a hosted payment page URL and later reports the outcome through the
// webhook endpoint; nothing here blocks on payment completion.
type InvoiceService interface {
	CreateInvoice(ctx context.Context, req *CreateInvoiceRequest) (*Invoice, error)
}

type CreateInvoiceRequest struct {
	ExternalID         string  `json:"external_id"`
	Amount             float64 `json:"amount"`
	PayerEmail         string  `json:"payer_email"`
	Description        string  `json:"description"`
	SuccessRedirectURL string  `json:"success_redirect_url,omitempty"`
	FailureRedirectURL string  `json:"failure_redirect_url,omitempty"`
	Currency           string  `json:"currency,omitempty"`
}

type Invoice struct {
	ID         string `json:"id"`
	ExternalID string `json:"external_id"`
	Status     string `json:"status"`
	InvoiceURL string `json:"invoice_url"`
}

// GatewayError carries the gateway's own rejection status and body. Callers
// distinguish it from ErrGatewayUnreachable (request sent, no usable response)
// and from plain local errors, since only unreachable calls are worth retrying.
type GatewayError struct {
	StatusCode int
	Body       string
}

func (e *GatewayError) Error() string {
	return fmt.Sprintf("payment gateway rejected request: status %d: %s", e.StatusCode, e.Body)
}

// ErrGatewayUnreachable means the request went out but no response came back.
var ErrGatewayUnreachable = errors.New("no response from payment provider")

type invoiceService struct {
	apiKey  string
	baseURL string
	http    *http.Client
}

// NewInvoiceService creates an invoice gateway client. The timeout bounds the
// whole request; a timed-out invoice creation is treated as unreachable.
func NewInvoiceService(apiKey, baseURL string) InvoiceService {
	return &invoiceService{
		apiKey:  apiKey,
		baseURL: baseURL,
		http:    &http.Client{Timeout: 15 * time.Second},
	}
}

func (s *invoiceService) CreateInvoice(ctx context.Context, req *CreateInvoiceRequest) (*Invoice, error) {
	if req.ExternalID == "" {
		return nil, fmt.Errorf("external_id is required")
	}
	if req.Amount <= 0 {
		return nil, fmt.Errorf("amount must be positive, got %v", req.Amount)
	}

	payload, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to encode invoice request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, s.baseURL+"/v2/invoices", bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("failed to build invoice request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.SetBasicAuth(s.apiKey, "")

	resp, err := s.http.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrGatewayUnreachable, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrGatewayUnreachable, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &GatewayError{StatusCode: resp.StatusCode, Body: string(body)}
	}

	invoice := &Invoice{}
	if err := json.Unmarshal(body, invoice); err != nil {
		return nil, fmt.Errorf("failed to decode invoice response: %w", err)
	}
	if invoice.InvoiceURL == "" {
		return nil, fmt.Errorf("gateway response missing invoice_url")
	}
	return invoice, nil
}
