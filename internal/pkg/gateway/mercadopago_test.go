package gateway

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mpSignature(dataID, requestID, ts, secret string) string {
	manifest := fmt.Sprintf("id:%s;request-id:%s;ts:%s;", dataID, requestID, ts)
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(manifest))
	return fmt.Sprintf("ts=%s,v1=%s", ts, hex.EncodeToString(mac.Sum(nil)))
}

func TestVerifyMercadoPagoWebhookSignature(t *testing.T) {
	secret := "supersecret"
	header := mpSignature("12345", "req-1", "1717000000", secret)

	assert.True(t, VerifyMercadoPagoWebhookSignature(header, "req-1", "12345", secret))
	assert.False(t, VerifyMercadoPagoWebhookSignature(header, "req-2", "12345", secret))
	assert.False(t, VerifyMercadoPagoWebhookSignature(header, "req-1", "99999", secret))
	assert.False(t, VerifyMercadoPagoWebhookSignature(header, "req-1", "12345", "wrong"))
	assert.False(t, VerifyMercadoPagoWebhookSignature("", "req-1", "12345", secret))
	assert.False(t, VerifyMercadoPagoWebhookSignature("ts=1,v1=nothex", "req-1", "12345", secret))
	assert.False(t, VerifyMercadoPagoWebhookSignature(header, "req-1", "12345", ""))
}

func TestMercadoPagoGetPayment(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/payments/42", r.URL.Path)
		assert.Equal(t, "Bearer tok", r.Header.Get("Authorization"))
		w.Write([]byte(`{
			"id": 42,
			"status": "approved",
			"external_reference": "in_1ABC",
			"transaction_amount": 99.5,
			"currency_id": "ARS",
			"date_created": "2025-06-01T10:00:00Z"
		}`))
	}))
	defer ts.Close()

	client := NewMercadoPagoClient("tok")
	client.APIBaseURL = ts.URL

	p, err := client.GetPayment(context.Background(), "42")
	require.NoError(t, err)
	assert.Equal(t, "42", p.ID)
	assert.Equal(t, "approved", p.Status)
	assert.Equal(t, "in_1ABC", p.ExternalReference)
	assert.Equal(t, 99.5, p.Amount)
	assert.Equal(t, "ars", p.Currency)
	require.NotNil(t, p.CreatedAt)
}

func TestMercadoPagoSearchPaymentsPagination(t *testing.T) {
	var offsets []string
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		offset := r.URL.Query().Get("offset")
		offsets = append(offsets, offset)
		if offset == "0" {
			w.Write([]byte(`{"paging":{"total":3,"limit":50,"offset":0},"results":[{"id":1,"status":"approved"},{"id":2,"status":"rejected"}]}`))
			return
		}
		w.Write([]byte(`{"paging":{"total":3,"limit":50,"offset":2},"results":[{"id":3,"status":"approved"}]}`))
	}))
	defer ts.Close()

	client := NewMercadoPagoClient("tok")
	client.APIBaseURL = ts.URL

	var seen []string
	err := client.SearchPayments(context.Background(), time.Now().Add(-24*time.Hour), func(p PaymentPayload) error {
		seen = append(seen, p.ID)
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"1", "2", "3"}, seen)
	assert.Equal(t, []string{"0", "2"}, offsets)
}
