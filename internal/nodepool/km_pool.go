package nodepool

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/chuckpreslar/emission"
	"github.com/go-co-op/gocron"
	"github.com/sirupsen/logrus"
)

// TopicKeyManagerHealthChanged is emitted whenever a key-manager endpoint's
// health transitions, so interested components can react without polling.
const TopicKeyManagerHealthChanged = "keymanager.health_changed"

// knownFeeRecipientPubkey is an arbitrary, fixed validator pubkey used only
// to exercise the feerecipient endpoint as a healthcheck; its value is
// irrelevant to the response, which is accepted as healthy whenever it
// carries a "data" or "message" field.
const knownFeeRecipientPubkey = "0x000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000"

// keystoresEndpoint lists validators managed locally by the validator client.
const keystoresEndpoint = "/eth/v1/keystores"

// remoteKeysEndpoint lists validators delegated to an external remote signer.
const remoteKeysEndpoint = "/eth/v1/remotekeys"

// validatingPubkeyField and pubkeyField are the two key-manager response
// shapes for a managed key: keystores entries carry validating_pubkey,
// remotekeys entries carry pubkey.
const (
	validatingPubkeyField = "validating_pubkey"
	pubkeyField           = "pubkey"
)

// KeyManagerEndpoint is one `<URL>;<BEARER>` validator key-manager target.
type KeyManagerEndpoint struct {
	URL         string
	BearerToken string
}

// KeyManagerPool probes a set of validator key-manager endpoints on an
// interval and publishes which ones are currently healthy.
type KeyManagerPool struct {
	endpoints []KeyManagerEndpoint
	client    *http.Client
	broker    *emission.Emitter
	log       logrus.FieldLogger

	mu      sync.RWMutex
	healthy map[string]bool

	scheduler *gocron.Scheduler
}

// NewKeyManagerPool builds a pool over the configured key-manager endpoints.
func NewKeyManagerPool(log logrus.FieldLogger, endpoints []KeyManagerEndpoint, broker *emission.Emitter, requestTimeout time.Duration) *KeyManagerPool {
	healthy := make(map[string]bool, len(endpoints))
	for _, e := range endpoints {
		healthy[e.URL] = false
	}

	return &KeyManagerPool{
		endpoints: endpoints,
		client:    &http.Client{Timeout: requestTimeout},
		broker:    broker,
		log:       log.WithField("module", "nodepool.keymanager"),
		healthy:   healthy,
		scheduler: gocron.NewScheduler(time.Local),
	}
}

// Start schedules the periodic probe every interval until ctx is cancelled.
func (p *KeyManagerPool) Start(ctx context.Context, interval time.Duration) error {
	if len(p.endpoints) == 0 {
		return nil
	}

	p.probeAll(ctx)

	if _, err := p.scheduler.Every(interval.String()).Do(func() { p.probeAll(ctx) }); err != nil {
		return err
	}

	p.scheduler.StartAsync()

	go func() {
		<-ctx.Done()
		p.scheduler.Stop()
	}()

	return nil
}

// Healthy returns a snapshot of currently-healthy key-manager endpoints.
func (p *KeyManagerPool) Healthy() []KeyManagerEndpoint {
	p.mu.RLock()
	defer p.mu.RUnlock()

	out := make([]KeyManagerEndpoint, 0, len(p.endpoints))

	for _, e := range p.endpoints {
		if p.healthy[e.URL] {
			out = append(out, e)
		}
	}

	return out
}

// FetchKeystores queries every currently-healthy key-manager endpoint for
// its local keystores and remote-signer keys, and returns the union of
// validating pubkeys across all of them (spec.md §4.4's interval refresh,
// "re-fetch keystores from all healthy KM endpoints"). A validator-client
// variant's 500 response from the remote-keys endpoint is a known quirk
// meaning "this endpoint manages no remote keys", treated as an empty
// result rather than a failure.
func (p *KeyManagerPool) FetchKeystores(ctx context.Context) []string {
	seen := make(map[string]struct{})

	var pubkeys []string

	add := func(keys []string) {
		for _, key := range keys {
			if _, ok := seen[key]; ok {
				continue
			}

			seen[key] = struct{}{}

			pubkeys = append(pubkeys, key)
		}
	}

	for _, endpoint := range p.Healthy() {
		add(p.fetchManagedKeys(ctx, endpoint, keystoresEndpoint))
		add(p.fetchManagedKeys(ctx, endpoint, remoteKeysEndpoint))
	}

	return pubkeys
}

// fetchManagedKeys performs a single keystores/remotekeys GET and extracts
// the validating pubkey from every row of its "data" array.
func (p *KeyManagerPool) fetchManagedKeys(ctx context.Context, endpoint KeyManagerEndpoint, path string) []string {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint.URL+path, nil)
	if err != nil {
		return nil
	}

	req.Header.Set("Accept", "application/json")
	req.Header.Set("Authorization", "Bearer "+endpoint.BearerToken)

	rsp, err := p.client.Do(req)
	if err != nil {
		p.log.WithField("endpoint", endpoint.URL).WithField("path", path).Debug("key manager keystore request unreachable")

		return nil
	}
	defer rsp.Body.Close()

	if path == remoteKeysEndpoint && rsp.StatusCode == http.StatusInternalServerError {
		p.log.WithField("endpoint", endpoint.URL).Debug("remote-keys endpoint returned 500, treating as no remote keys")

		return nil
	}

	if rsp.StatusCode != http.StatusOK {
		p.log.WithField("endpoint", endpoint.URL).WithField("path", path).WithField("status", rsp.StatusCode).Warn("key manager keystore request failed")

		return nil
	}

	var body struct {
		Data []map[string]json.RawMessage `json:"data"`
	}

	if err := json.NewDecoder(rsp.Body).Decode(&body); err != nil {
		return nil
	}

	out := make([]string, 0, len(body.Data))

	for _, entry := range body.Data {
		if pubkey, ok := extractManagedPubkey(entry); ok {
			out = append(out, pubkey)
		}
	}

	return out
}

// extractManagedPubkey reads validating_pubkey (keystores) or, failing that,
// pubkey (remotekeys) from a single key-manager response row.
func extractManagedPubkey(entry map[string]json.RawMessage) (string, bool) {
	for _, field := range []string{validatingPubkeyField, pubkeyField} {
		raw, ok := entry[field]
		if !ok {
			continue
		}

		var pubkey string
		if err := json.Unmarshal(raw, &pubkey); err == nil && pubkey != "" {
			return pubkey, true
		}
	}

	return "", false
}

func (p *KeyManagerPool) probeAll(ctx context.Context) {
	for _, endpoint := range p.endpoints {
		p.probeOne(ctx, endpoint)
	}
}

func (p *KeyManagerPool) probeOne(ctx context.Context, endpoint KeyManagerEndpoint) {
	healthy := p.checkHealth(ctx, endpoint)

	p.mu.Lock()
	transitioned := p.healthy[endpoint.URL] != healthy
	p.healthy[endpoint.URL] = healthy
	p.mu.Unlock()

	if transitioned {
		p.broker.Emit(TopicKeyManagerHealthChanged, endpoint.URL, healthy)
	}
}

func (p *KeyManagerPool) checkHealth(ctx context.Context, endpoint KeyManagerEndpoint) bool {
	url := endpoint.URL + "/eth/v1/validator/" + knownFeeRecipientPubkey + "/feerecipient"

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return false
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Authorization", "Bearer "+endpoint.BearerToken)

	rsp, err := p.client.Do(req)
	if err != nil {
		p.log.WithField("endpoint", endpoint.URL).Debug("key manager endpoint unreachable")

		return false
	}
	defer rsp.Body.Close()

	if rsp.StatusCode == http.StatusUnauthorized || rsp.StatusCode == http.StatusForbidden {
		p.log.WithField("endpoint", endpoint.URL).Warn("key manager auth failed")

		return false
	}

	var body map[string]json.RawMessage
	if err := json.NewDecoder(rsp.Body).Decode(&body); err != nil {
		return false
	}

	_, hasData := body["data"]
	_, hasMessage := body["message"]

	return hasData || hasMessage
}
