package gateway

import (
	"context"
	"net"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestWHMClient(t *testing.T, handler http.HandlerFunc) (*WHMClient, string) {
	t.Helper()
	ts := httptest.NewTLSServer(handler)
	t.Cleanup(ts.Close)

	u, err := url.Parse(ts.URL)
	require.NoError(t, err)
	host, port, err := net.SplitHostPort(u.Host)
	require.NoError(t, err)

	client := &WHMClient{
		Username:   "root",
		APIToken:   "token123",
		Port:       port,
		HTTPClient: ts.Client(),
	}
	return client, host
}

func TestWHMSuspendAccount(t *testing.T) {
	var gotPath, gotAuth, gotUser, gotReason string
	client, host := newTestWHMClient(t, func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotAuth = r.Header.Get("Authorization")
		gotUser = r.URL.Query().Get("user")
		gotReason = r.URL.Query().Get("reason")
		w.Write([]byte(`{"metadata":{"result":1,"reason":"OK"}}`))
	})

	err := client.SuspendAccount(context.Background(), host, "acme", "unpaid invoices")
	require.NoError(t, err)
	assert.Equal(t, "/json-api/suspendacct", gotPath)
	assert.Equal(t, "whm root:token123", gotAuth)
	assert.Equal(t, "acme", gotUser)
	assert.Equal(t, "unpaid invoices", gotReason)
}

func TestWHMUnsuspendAccount(t *testing.T) {
	var gotPath string
	client, host := newTestWHMClient(t, func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		w.Write([]byte(`{"metadata":{"result":1,"reason":"OK"}}`))
	})

	err := client.UnsuspendAccount(context.Background(), host, "acme")
	require.NoError(t, err)
	assert.Equal(t, "/json-api/unsuspendacct", gotPath)
}

func TestWHMRejectedOperation(t *testing.T) {
	client, host := newTestWHMClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"metadata":{"result":0,"reason":"Account does not exist"}}`))
	})

	err := client.SuspendAccount(context.Background(), host, "ghost", "unpaid")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Account does not exist")
}

func TestWHMHTTPError(t *testing.T) {
	client, host := newTestWHMClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	})

	err := client.SuspendAccount(context.Background(), host, "acme", "unpaid")
	require.Error(t, err)
}

func TestWHMRequiresConfiguration(t *testing.T) {
	client := &WHMClient{HTTPClient: http.DefaultClient}
	err := client.SuspendAccount(context.Background(), "srv1.example.com", "acme", "unpaid")
	require.Error(t, err)

	client.APIToken = "tok"
	err = client.SuspendAccount(context.Background(), "", "acme", "unpaid")
	require.Error(t, err)
}
