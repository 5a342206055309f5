package gateway

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

const defaultMercadoPagoAPIBaseURL = "https://api.mercadopago.com"

// MercadoPagoClient reads payments from the MercadoPago API.
type MercadoPagoClient struct {
	AccessToken string
	APIBaseURL  string

	HTTPClient *http.Client
}

// NewMercadoPagoClient builds a client for the given access token.
func NewMercadoPagoClient(accessToken string) *MercadoPagoClient {
	return &MercadoPagoClient{
		AccessToken: strings.TrimSpace(accessToken),
		APIBaseURL:  defaultMercadoPagoAPIBaseURL,
		HTTPClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

type mpPayment struct {
	ID                int64   `json:"id"`
	Status            string  `json:"status"`
	ExternalReference string  `json:"external_reference"`
	TransactionAmount float64 `json:"transaction_amount"`
	CurrencyID        string  `json:"currency_id"`
	DateCreated       string  `json:"date_created"`
}

// SearchPayments streams payments created since the given time through fn,
// newest page first, following offset pagination.
func (c *MercadoPagoClient) SearchPayments(ctx context.Context, since time.Time, fn func(PaymentPayload) error) error {
	const pageSize = 50
	offset := 0
	for {
		q := url.Values{}
		q.Set("sort", "date_created")
		q.Set("criteria", "desc")
		q.Set("range", "date_created")
		q.Set("begin_date", since.UTC().Format(time.RFC3339))
		q.Set("end_date", time.Now().UTC().Format(time.RFC3339))
		q.Set("limit", strconv.Itoa(pageSize))
		q.Set("offset", strconv.Itoa(offset))

		var out struct {
			Paging struct {
				Total  int `json:"total"`
				Limit  int `json:"limit"`
				Offset int `json:"offset"`
			} `json:"paging"`
			Results []mpPayment `json:"results"`
		}
		if err := c.get(ctx, "/v1/payments/search?"+q.Encode(), &out); err != nil {
			return err
		}

		for _, p := range out.Results {
			if err := fn(mapMercadoPagoPayment(p)); err != nil {
				return err
			}
		}

		offset += len(out.Results)
		if len(out.Results) == 0 || offset >= out.Paging.Total {
			return nil
		}
	}
}

// GetPayment fetches one payment by id (used by webhook notifications, which
// only carry the id).
func (c *MercadoPagoClient) GetPayment(ctx context.Context, id string) (PaymentPayload, error) {
	var p mpPayment
	if err := c.get(ctx, "/v1/payments/"+url.PathEscape(id), &p); err != nil {
		return PaymentPayload{}, err
	}
	return mapMercadoPagoPayment(p), nil
}

func (c *MercadoPagoClient) get(ctx context.Context, path string, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, strings.TrimRight(c.APIBaseURL, "/")+path, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+c.AccessToken)
	req.Header.Set("Accept", "application/json")

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(io.LimitReader(resp.Body, 2<<20))
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("mercadopago request failed: status=%d body=%s", resp.StatusCode, string(body))
	}
	return json.Unmarshal(body, out)
}

func mapMercadoPagoPayment(p mpPayment) PaymentPayload {
	out := PaymentPayload{
		ID:                strconv.FormatInt(p.ID, 10),
		Status:            p.Status,
		ExternalReference: p.ExternalReference,
		Amount:            p.TransactionAmount,
		Currency:          strings.ToLower(p.CurrencyID),
	}
	if t, err := time.Parse(time.RFC3339, p.DateCreated); err == nil {
		out.CreatedAt = &t
	}
	return out
}

// VerifyMercadoPagoWebhookSignature checks the x-signature header, which
// carries "ts=...,v1=..." where v1 is an HMAC-SHA256 over the manifest
// "id:<data.id>;request-id:<x-request-id>;ts:<ts>;".
func VerifyMercadoPagoWebhookSignature(signatureHeader, requestID, dataID, secret string) bool {
	if strings.TrimSpace(signatureHeader) == "" || strings.TrimSpace(secret) == "" {
		return false
	}

	var ts, v1 string
	for _, part := range strings.Split(signatureHeader, ",") {
		kv := strings.SplitN(strings.TrimSpace(part), "=", 2)
		if len(kv) != 2 {
			continue
		}
		switch kv[0] {
		case "ts":
			ts = kv[1]
		case "v1":
			v1 = kv[1]
		}
	}
	if ts == "" || v1 == "" {
		return false
	}

	manifest := fmt.Sprintf("id:%s;request-id:%s;ts:%s;", dataID, requestID, ts)
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(manifest))
	expected, err := hex.DecodeString(strings.ToLower(v1))
	if err != nil {
		return false
	}
	return hmac.Equal(mac.Sum(nil), expected)
}
