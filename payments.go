package main

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha512"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

const nowPaymentsAPIBase = "https://api.nowpayments.io/v1"

// PaymentStatusUpdate is the NOWPayments IPN callback body.
type PaymentStatusUpdate struct {
	PaymentID        int64   `json:"payment_id"`
	InvoiceID        *string `json:"invoice_id,omitempty"`
	PaymentStatus    string  `json:"payment_status"`
	PayAddress       string  `json:"pay_address"`
	PriceAmount      float64 `json:"price_amount"`
	PriceCurrency    string  `json:"price_currency"`
	PayAmount        float64 `json:"pay_amount"`
	ActuallyPaid     float64 `json:"actually_paid"`
	PayCurrency      string  `json:"pay_currency"`
	OrderID          string  `json:"order_id,omitempty"`
	OrderDescription string  `json:"order_description,omitempty"`
	PurchaseID       string  `json:"purchase_id"`
	OutcomeAmount    float64 `json:"outcome_amount"`
	OutcomeCurrency  string  `json:"outcome_currency"`
}

// InvoiceRequest is the invoice-creation payload sent to NOWPayments.
type InvoiceRequest struct {
	PriceAmount      float64 `json:"price_amount"`
	PriceCurrency    string  `json:"price_currency"`
	OrderID          string  `json:"order_id"`
	OrderDescription string  `json:"order_description"`
	IPNCallbackURL   string  `json:"ipn_callback_url"`
	SuccessURL       string  `json:"success_url"`
	CancelURL        string  `json:"cancel_url"`
	IsFeePaidByUser  bool    `json:"is_fee_paid_by_user"`
}

// npSignatureCheck verifies the x-nowpayments-sig header: HMAC-SHA512 of the
// body re-serialized with sorted keys and no whitespace, hex-encoded.
func npSignatureCheck(ipnKey, signature string, body []byte) bool {
	var payload map[string]interface{}
	if err := json.Unmarshal(body, &payload); err != nil {
		return false
	}
	// encoding/json sorts map keys and emits compact output
	sorted, err := json.Marshal(payload)
	if err != nil {
		return false
	}

	mac := hmac.New(sha512.New, []byte(ipnKey))
	mac.Write(sorted)
	expected := hex.EncodeToString(mac.Sum(nil))

	return hmac.Equal([]byte(expected), []byte(signature))
}

// NowPaymentsClient talks to the NOWPayments invoice API.
type NowPaymentsClient struct {
	apiKey  string
	baseURL string
	http    *http.Client
}

func NewNowPaymentsClient(apiKey string) *NowPaymentsClient {
	return &NowPaymentsClient{
		apiKey:  apiKey,
		baseURL: nowPaymentsAPIBase,
		http:    &http.Client{Timeout: 30 * time.Second},
	}
}

// CreateInvoice posts an invoice request and returns the raw invoice fields.
func (c *NowPaymentsClient) CreateInvoice(ctx context.Context, inv InvoiceRequest) (map[string]interface{}, error) {
	body, err := json.Marshal(inv)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/invoice", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("x-api-key", c.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, err
	}

	if resp.StatusCode != http.StatusOK {
		logger.WithFields(map[string]interface{}{
			"status": resp.StatusCode,
			"body":   string(respBody),
		}).Error("invoice creation failed")
		return nil, fmt.Errorf("nowpayments: invoice creation returned status %d", resp.StatusCode)
	}

	var invoice map[string]interface{}
	if err := json.Unmarshal(respBody, &invoice); err != nil {
		return nil, fmt.Errorf("nowpayments: decoding invoice response: %w", err)
	}
	return invoice, nil
}
