// Package nodepool selects a healthy beacon node from a configured list and
// tracks the health of validator key-manager endpoints (spec.md C2).
package nodepool

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/chuckpreslar/emission"
	"github.com/rs/zerolog"
	"github.com/sirupsen/logrus"
)

const (
	healthEndpoint = "/eth/v1/node/health"

	usedNodeLogInterval    = 2 * time.Minute
	primaryDownLogInterval = 5 * time.Second
)

// TopicBeaconNodeHealthChanged is emitted whenever a configured beacon
// node's health transitions, mirroring TopicKeyManagerHealthChanged.
const TopicBeaconNodeHealthChanged = "nodepool.beacon_health_changed"

// BeaconPool fails over between configured beacon nodes; it does not spread
// load, every call goes to the first healthy node.
// The first node is primary; the rest are backups consulted in order.
type BeaconPool struct {
	nodes  []string
	client *http.Client
	broker *emission.Emitter
	log    logrus.FieldLogger
	diag   zerolog.Logger

	mu              sync.Mutex
	anyHealthy      bool
	lastHealthy     map[string]bool
	lastUsedNode    string
	lastUsedNodeLog time.Time
	lastPrimaryDown time.Time
}

// NewBeaconPool builds a pool over nodes, the first of which is primary.
func NewBeaconPool(log logrus.FieldLogger, nodes []string, requestTimeout time.Duration) *BeaconPool {
	return NewBeaconPoolWithBroker(log, nodes, requestTimeout, nil)
}

// NewBeaconPoolWithBroker builds a pool that also publishes per-node health
// transitions on broker, for components (e.g. metrics) that want to observe
// them without polling SelectHealthy themselves.
func NewBeaconPoolWithBroker(log logrus.FieldLogger, nodes []string, requestTimeout time.Duration, broker *emission.Emitter) *BeaconPool {
	return &BeaconPool{
		nodes:       nodes,
		client:      &http.Client{Timeout: requestTimeout},
		broker:      broker,
		log:         log.WithField("module", "nodepool"),
		diag:        newProbeDiagnostics(log),
		anyHealthy:  true,
		lastHealthy: make(map[string]bool, len(nodes)),
	}
}

// Primary returns the configured primary beacon node URL.
func (p *BeaconPool) Primary() string {
	return p.nodes[0]
}

// SelectHealthy returns the first node whose /eth/v1/node/health responds
// 200 within the request timeout. If none responds it logs "no healthy
// node" and returns the primary anyway so callers can still attempt a call
// and surface a stale-data warning.
func (p *BeaconPool) SelectHealthy(ctx context.Context) string {
	now := time.Now()

	for i, node := range p.nodes {
		if p.isHealthy(ctx, node) {
			p.logUsedNode(now, node)

			return node
		}

		if i == 0 {
			p.logPrimaryDown(now, node)
		}

		if i == len(p.nodes)-1 {
			p.mu.Lock()
			p.anyHealthy = false
			p.mu.Unlock()
			p.log.Error("no healthy beacon node available; continuing with primary")
		}
	}

	return p.Primary()
}

func (p *BeaconPool) isHealthy(ctx context.Context, node string) bool {
	healthy := p.probeHealth(ctx, node)

	p.mu.Lock()
	transitioned := p.lastHealthy[node] != healthy
	p.lastHealthy[node] = healthy
	p.mu.Unlock()

	if transitioned && p.broker != nil {
		p.broker.Emit(TopicBeaconNodeHealthChanged, node, healthy)
	}

	return healthy
}

func (p *BeaconPool) probeHealth(ctx context.Context, node string) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, node+healthEndpoint, nil)
	if err != nil {
		p.diag.Debug().Str("node", node).Err(err).Msg("build health request failed")

		return false
	}

	rsp, err := p.client.Do(req)
	if err != nil {
		p.diag.Debug().Str("node", node).Err(err).Msg("health probe unreachable")

		return false
	}
	defer rsp.Body.Close()

	healthy := rsp.StatusCode == http.StatusOK
	p.diag.Debug().Str("node", node).Int("status", rsp.StatusCode).Bool("healthy", healthy).Msg("health probe complete")

	return healthy
}

func (p *BeaconPool) logUsedNode(now time.Time, node string) {
	p.mu.Lock()
	defer p.mu.Unlock()

	changed := node != p.lastUsedNode
	wasUnhealthy := !p.anyHealthy

	if changed || wasUnhealthy || now.Sub(p.lastUsedNodeLog) > usedNodeLogInterval {
		p.log.WithField("node", node).Info("using beacon node")
		p.lastUsedNodeLog = now
	}

	p.anyHealthy = true
	p.lastUsedNode = node
}

func (p *BeaconPool) logPrimaryDown(now time.Time, node string) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if now.Sub(p.lastPrimaryDown) <= primaryDownLogInterval {
		return
	}

	p.lastPrimaryDown = now
	p.log.WithField("node", node).Warn("primary beacon node down")

	if len(p.nodes) > 1 {
		p.log.Info("trying backup beacon nodes")
	}
}
