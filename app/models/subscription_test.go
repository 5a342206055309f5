package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestSubscriptionHosting(t *testing.T) {
	tests := []struct {
		name    string
		data    map[string]interface{}
		want    HostingInfo
		present bool
	}{
		{
			"full metadata",
			map[string]interface{}{"server": "srv1.example.com", "user": "acme", "domain": "acme.com"},
			HostingInfo{Server: "srv1.example.com", User: "acme", Domain: "acme.com"},
			true,
		},
		{
			"missing user",
			map[string]interface{}{"server": "srv1.example.com"},
			HostingInfo{Server: "srv1.example.com"},
			false,
		},
		{
			"whitespace trimmed",
			map[string]interface{}{"server": " srv1.example.com ", "user": " acme "},
			HostingInfo{Server: "srv1.example.com", User: "acme"},
			true,
		},
		{"nil data", nil, HostingInfo{}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sub := &Subscription{Data: tt.data}
			info, ok := sub.Hosting()
			assert.Equal(t, tt.present, ok)
			assert.Equal(t, tt.want, info)
		})
	}
}

func TestSubscriptionAutoSuspend(t *testing.T) {
	tests := []struct {
		name string
		val  interface{}
		want bool
	}{
		{"bool true", true, true},
		{"bool false", false, false},
		{"string true", "true", true},
		{"string yes", "yes", true},
		{"string one", "1", true},
		{"string no", "no", false},
		{"number one", float64(1), true},
		{"number zero", float64(0), false},
		{"garbage", []string{"x"}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sub := &Subscription{Data: map[string]interface{}{DataKeyAutoSuspend: tt.val}}
			assert.Equal(t, tt.want, sub.AutoSuspend())
		})
	}

	t.Run("absent means no", func(t *testing.T) {
		assert.False(t, (&Subscription{}).AutoSuspend())
		assert.False(t, (&Subscription{Data: map[string]interface{}{}}).AutoSuspend())
	})
}

func TestSubscriptionIsManaged(t *testing.T) {
	assert.True(t, (&Subscription{StripeID: "sub_1NXhz"}).IsManaged())
	assert.False(t, (&Subscription{StripeID: "manual-acme-2024"}).IsManaged())
	assert.False(t, (&Subscription{StripeID: ""}).IsManaged())
}

func TestInvoiceIsUnpaid(t *testing.T) {
	now := time.Now()
	tests := []struct {
		name string
		inv  Invoice
		want bool
	}{
		{"open unpaid", Invoice{Status: InvoiceStatusOpen, ExternalCreatedAt: &now}, true},
		{"open but paid", Invoice{Status: InvoiceStatusOpen, Paid: true, ExternalCreatedAt: &now}, false},
		{"void", Invoice{Status: InvoiceStatusVoid, ExternalCreatedAt: &now}, false},
		{"draft", Invoice{Status: InvoiceStatusDraft, ExternalCreatedAt: &now}, false},
		{"no timestamp", Invoice{Status: InvoiceStatusOpen}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.inv.IsUnpaid())
		})
	}
}
