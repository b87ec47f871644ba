package nodepool

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/chuckpreslar/emission"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func jsonServer(status int, body string) *httptest.Server {
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(status)
		_, _ = w.Write([]byte(body))
	}))
}

func TestKeyManagerCheckHealth(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
		want   bool
	}{
		{"data field present", http.StatusOK, `{"data":{}}`, true},
		{"message field present", http.StatusOK, `{"message":"not found"}`, true},
		{"neither field present", http.StatusOK, `{}`, false},
		{"invalid json", http.StatusOK, `not-json`, false},
		{"unauthorized", http.StatusUnauthorized, `{"data":{}}`, false},
		{"forbidden", http.StatusForbidden, `{"data":{}}`, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := jsonServer(tt.status, tt.body)
			defer server.Close()

			pool := NewKeyManagerPool(discardLogger(), nil, emission.NewEmitter(), time.Second)

			got := pool.checkHealth(context.Background(), KeyManagerEndpoint{URL: server.URL, BearerToken: "tok"})
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestKeyManagerProbeOneEmitsOnTransition(t *testing.T) {
	server := jsonServer(http.StatusOK, `{"data":{}}`)
	defer server.Close()

	broker := emission.NewEmitter()

	var events []bool

	broker.On(TopicKeyManagerHealthChanged, func(endpoint string, healthy bool) {
		events = append(events, healthy)
	})

	endpoint := KeyManagerEndpoint{URL: server.URL}
	pool := NewKeyManagerPool(discardLogger(), []KeyManagerEndpoint{endpoint}, broker, time.Second)

	pool.probeOne(context.Background(), endpoint)
	pool.probeOne(context.Background(), endpoint)

	assert.Len(t, events, 1)
	assert.True(t, events[0])
	assert.Equal(t, []KeyManagerEndpoint{endpoint}, pool.Healthy())
}

func TestExtractManagedPubkey(t *testing.T) {
	tests := []struct {
		name  string
		body  string
		want  string
		found bool
	}{
		{"validating_pubkey wins", `{"validating_pubkey":"0xaaa","pubkey":"0xbbb"}`, "0xaaa", true},
		{"falls back to pubkey", `{"pubkey":"0xbbb"}`, "0xbbb", true},
		{"empty validating_pubkey falls back", `{"validating_pubkey":"","pubkey":"0xbbb"}`, "0xbbb", true},
		{"neither field present", `{"other":"value"}`, "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var entry map[string]json.RawMessage
			require.NoError(t, json.Unmarshal([]byte(tt.body), &entry))

			got, ok := extractManagedPubkey(entry)
			assert.Equal(t, tt.found, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}

// pathRoutingServer dispatches by request path, so a single server can stand
// in for both a /eth/v1/keystores and /eth/v1/remotekeys endpoint. Any other
// path, including the feerecipient healthcheck, gets a 404 with a "message"
// body, which is what a validator client answers for an unknown pubkey.
func pathRoutingServer(t *testing.T, routes map[string]struct {
	status int
	body   string
}) *httptest.Server {
	t.Helper()

	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		route, ok := routes[r.URL.Path]
		if !ok {
			w.WriteHeader(http.StatusNotFound)
			_, _ = w.Write([]byte(`{"message":"not found"}`))

			return
		}

		w.WriteHeader(route.status)
		_, _ = w.Write([]byte(route.body))
	}))
}

func TestFetchKeystoresUnionsKeystoresAndRemoteKeys(t *testing.T) {
	server := pathRoutingServer(t, map[string]struct {
		status int
		body   string
	}{
		keystoresEndpoint:  {http.StatusOK, `{"data":[{"validating_pubkey":"0xaaa"},{"validating_pubkey":"0xbbb"}]}`},
		remoteKeysEndpoint: {http.StatusOK, `{"data":[{"pubkey":"0xbbb"},{"pubkey":"0xccc"}]}`},
	})
	defer server.Close()

	broker := emission.NewEmitter()
	endpoint := KeyManagerEndpoint{URL: server.URL}
	pool := NewKeyManagerPool(discardLogger(), []KeyManagerEndpoint{endpoint}, broker, time.Second)

	pool.probeOne(context.Background(), endpoint)
	require.Equal(t, []KeyManagerEndpoint{endpoint}, pool.Healthy())

	got := pool.FetchKeystores(context.Background())
	assert.ElementsMatch(t, []string{"0xaaa", "0xbbb", "0xccc"}, got)
}

func TestFetchKeystoresTreatsRemoteKeys500AsEmpty(t *testing.T) {
	server := pathRoutingServer(t, map[string]struct {
		status int
		body   string
	}{
		keystoresEndpoint:  {http.StatusOK, `{"data":[{"validating_pubkey":"0xaaa"}]}`},
		remoteKeysEndpoint: {http.StatusInternalServerError, `{"message":"no remote keys"}`},
	})
	defer server.Close()

	broker := emission.NewEmitter()
	endpoint := KeyManagerEndpoint{URL: server.URL}
	pool := NewKeyManagerPool(discardLogger(), []KeyManagerEndpoint{endpoint}, broker, time.Second)

	pool.probeOne(context.Background(), endpoint)

	got := pool.FetchKeystores(context.Background())
	assert.Equal(t, []string{"0xaaa"}, got)
}

func TestFetchKeystoresSkipsUnhealthyEndpoints(t *testing.T) {
	server := pathRoutingServer(t, map[string]struct {
		status int
		body   string
	}{
		keystoresEndpoint:  {http.StatusOK, `{"data":[{"validating_pubkey":"0xaaa"}]}`},
		remoteKeysEndpoint: {http.StatusOK, `{"data":[]}`},
	})
	defer server.Close()

	broker := emission.NewEmitter()
	endpoint := KeyManagerEndpoint{URL: server.URL}
	pool := NewKeyManagerPool(discardLogger(), []KeyManagerEndpoint{endpoint}, broker, time.Second)

	// No probe: endpoint never transitions to healthy.
	got := pool.FetchKeystores(context.Background())
	assert.Empty(t, got)
}

func TestFetchManagedKeysFailureStatusReturnsNil(t *testing.T) {
	server := jsonServer(http.StatusBadGateway, `{}`)
	defer server.Close()

	pool := NewKeyManagerPool(discardLogger(), nil, emission.NewEmitter(), time.Second)

	got := pool.fetchManagedKeys(context.Background(), KeyManagerEndpoint{URL: server.URL}, keystoresEndpoint)
	assert.Nil(t, got)
}
