package payment

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

type LinkStatus string

const (
	LinkPaid    LinkStatus = "paid"
	LinkPending LinkStatus = "pending"
	LinkFailed  LinkStatus = "failed"
)

type PaymentLink struct {
	ID       string
	ShortURL string
}

// Provider is the external payment-link collaborator.
type Provider interface {
	CreatePaymentLink(ctx context.Context, amountMinor int64, currency, description, customerRef string) (*PaymentLink, error)
	CheckPaymentStatus(ctx context.Context, linkID string) (LinkStatus, error)
}

// RazorpayClient talks to the Razorpay payment-links REST API with basic
// auth. Amounts are in minor units (paise).
type RazorpayClient struct {
	baseURL   string
	keyID     string
	keySecret string
	http      *http.Client
}

func NewRazorpayClient(baseURL, keyID, keySecret string) *RazorpayClient {
	return &RazorpayClient{
		baseURL:   baseURL,
		keyID:     keyID,
		keySecret: keySecret,
		http:      &http.Client{Timeout: 10 * time.Second},
	}
}

type createLinkRequest struct {
	Amount      int64             `json:"amount"`
	Currency    string            `json:"currency"`
	Description string            `json:"description"`
	Customer    map[string]string `json:"customer"`
	Notify      map[string]bool   `json:"notify"`
}

type linkResponse struct {
	ID       string `json:"id"`
	ShortURL string `json:"short_url"`
	Status   string `json:"status"`
}

func (c *RazorpayClient) CreatePaymentLink(ctx context.Context, amountMinor int64, currency, description, customerRef string) (*PaymentLink, error) {
	body, err := json.Marshal(createLinkRequest{
		Amount:      amountMinor,
		Currency:    currency,
		Description: description,
		Customer:    map[string]string{"name": customerRef},
		Notify:      map[string]bool{"sms": false, "email": false},
	})
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/payment_links", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.SetBasicAuth(c.keyID, c.keySecret)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("payment link request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("payment link request returned %d", resp.StatusCode)
	}

	var link linkResponse
	if err := json.NewDecoder(resp.Body).Decode(&link); err != nil {
		return nil, fmt.Errorf("failed to decode payment link response: %w", err)
	}
	return &PaymentLink{ID: link.ID, ShortURL: link.ShortURL}, nil
}

func (c *RazorpayClient) CheckPaymentStatus(ctx context.Context, linkID string) (LinkStatus, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/payment_links/"+linkID, nil)
	if err != nil {
		return "", err
	}
	req.SetBasicAuth(c.keyID, c.keySecret)

	resp, err := c.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("payment status request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("payment status request returned %d", resp.StatusCode)
	}

	var link linkResponse
	if err := json.NewDecoder(resp.Body).Decode(&link); err != nil {
		return "", fmt.Errorf("failed to decode payment status response: %w", err)
	}

	switch link.Status {
	case "paid":
		return LinkPaid, nil
	case "cancelled", "expired":
		return LinkFailed, nil
	default:
		return LinkPending, nil
	}
}
