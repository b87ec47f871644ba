package registry

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"sync"

	"github.com/attestantio/go-eth2-client/spec/phase0"
	"github.com/chuckpreslar/emission"
	"github.com/sirupsen/logrus"
)

// TopicIdentifiersUpdated is emitted on the registry's broker whenever a new
// snapshot is published, so the duty fetcher knows to invalidate its caches
// on its next cycle instead of polling a shared boolean.
const TopicIdentifiersUpdated = "identifiers.updated"

// activeStatuses is the set of on-chain validator statuses eligible to carry duties.
var activeStatuses = map[string]struct{}{
	"active_ongoing": {},
	"active_exiting": {},
	"active_slashed": {},
}

// IsActiveStatus reports whether status qualifies a validator for duty tracking.
func IsActiveStatus(status string) bool {
	_, ok := activeStatuses[status]

	return ok
}

// Identifier is the canonical, post-resolution validator identifier:
// both Index and Pubkey are populated and the validator is active.
type Identifier struct {
	Index  phase0.ValidatorIndex
	Pubkey string
	Alias  string
}

// ValidatorState is one row of the beacon node's validator-state response,
// as surfaced by the request layer after chunking/retry.
type ValidatorState struct {
	Index  phase0.ValidatorIndex
	Pubkey string
	Status string
}

// StateFetcher resolves a set of raw index-or-pubkey tokens against the
// beacon node's validator state. Implemented by internal/beaconapi.
type StateFetcher interface {
	FetchValidatorStates(ctx context.Context, idsOrPubkeys []string) ([]ValidatorState, error)
}

// Registry is the process-wide, read-mostly map of active validator
// identifiers. A single owner mutates it; all other components only ever
// observe whole-map snapshots (Design Notes §9: atomic pointer swap, not
// process-global shared memory).
type Registry struct {
	mu     sync.RWMutex
	active map[phase0.ValidatorIndex]*Identifier

	fetcher StateFetcher
	broker  *emission.Emitter
	log     logrus.FieldLogger
}

// New creates an empty Registry.
func New(log logrus.FieldLogger, fetcher StateFetcher, broker *emission.Emitter) *Registry {
	return &Registry{
		active:  map[phase0.ValidatorIndex]*Identifier{},
		fetcher: fetcher,
		broker:  broker,
		log:     log.WithField("module", "registry"),
	}
}

// Snapshot returns a copy of the current active-identifier map, keyed by
// canonical index. Cheap enough to call per-read; callers never see a
// partially-updated map.
func (r *Registry) Snapshot() map[phase0.ValidatorIndex]*Identifier {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make(map[phase0.ValidatorIndex]*Identifier, len(r.active))
	for k, v := range r.active {
		cp := *v
		out[k] = &cp
	}

	return out
}

// SnapshotWithAlias returns the subset of the snapshot that carries a display alias.
func (r *Registry) SnapshotWithAlias() map[phase0.ValidatorIndex]*Identifier {
	snap := r.Snapshot()
	for k, v := range snap {
		if v.Alias == "" {
			delete(snap, k)
		}
	}

	return snap
}

// Size returns the number of active identifiers in the current snapshot.
func (r *Registry) Size() int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return len(r.active)
}

// Refresh re-resolves the registry against rawTokens (the union of CLI/file
// input and any freshly-fetched key-manager identifiers) and republishes
// the snapshot atomically. It is the producer side of the interval refresh
// (spec.md §4.4) and is also used by the initial startup resolution.
func (r *Registry) Refresh(ctx context.Context, rawTokens []RawIdentifier) error {
	resolved, err := r.resolve(ctx, rawTokens)
	if err != nil {
		return fmt.Errorf("resolve identifiers: %w", err)
	}

	r.publish(resolved)

	return nil
}

// Add parses and resolves additional raw tokens, unions them into the
// current snapshot and republishes (REST POST /validator/identifier).
// It returns the newly-added canonical identifiers. If every supplied token
// is malformed, ok is false and no mutation happens.
func (r *Registry) Add(ctx context.Context, tokens []string) (added []*Identifier, ok bool) {
	raws, wellFormed := parseTokens(r.log, tokens, false)
	if !wellFormed {
		return nil, false
	}

	resolved, err := r.resolve(ctx, raws)
	if err != nil {
		r.log.WithError(err).Error("failed to resolve added identifiers")

		return nil, false
	}

	r.mu.Lock()
	merged := make(map[phase0.ValidatorIndex]*Identifier, len(r.active)+len(resolved))
	for k, v := range r.active {
		merged[k] = v
	}

	for k, v := range resolved {
		if _, exists := merged[k]; !exists {
			added = append(added, v)
		}

		merged[k] = v
	}

	r.active = merged
	r.mu.Unlock()

	r.broker.Emit(TopicIdentifiersUpdated)

	return added, true
}

// Remove drops any entry whose index or pubkey matches a supplied token and
// republishes (REST DELETE /validator/identifier). Returns the removed
// identifiers; ok is false if every token was malformed.
func (r *Registry) Remove(tokens []string) (removed []*Identifier, ok bool) {
	raws, wellFormed := parseTokens(r.log, tokens, false)
	if !wellFormed {
		return nil, false
	}

	match := make(map[string]struct{}, len(raws))
	for _, raw := range raws {
		match[raw.IndexOrPubkey] = struct{}{}
	}

	r.mu.Lock()
	kept := make(map[phase0.ValidatorIndex]*Identifier, len(r.active))

	for k, v := range r.active {
		_, byIndex := match[strconv.FormatUint(uint64(k), 10)]
		_, byPubkey := match[v.Pubkey]

		if byIndex || byPubkey {
			removed = append(removed, v)

			continue
		}

		kept[k] = v
	}

	r.active = kept
	r.mu.Unlock()

	if len(removed) > 0 {
		r.broker.Emit(TopicIdentifiersUpdated)
	}

	return removed, true
}

// publish atomically replaces the active snapshot and signals the fetcher.
func (r *Registry) publish(next map[phase0.ValidatorIndex]*Identifier) {
	r.mu.Lock()
	r.active = next
	r.mu.Unlock()

	r.broker.Emit(TopicIdentifiersUpdated)
}

// resolve fetches validator states for the supplied raw tokens and
// materialises canonical, active-only identifiers, preferring the
// index-keyed alias over the pubkey-keyed one when both are present.
func (r *Registry) resolve(ctx context.Context, raws []RawIdentifier) (map[phase0.ValidatorIndex]*Identifier, error) {
	tokens := make([]string, 0, len(raws))
	aliasByToken := make(map[string]string, len(raws))

	for _, raw := range raws {
		tokens = append(tokens, raw.IndexOrPubkey)
		if raw.Alias != "" {
			aliasByToken[raw.IndexOrPubkey] = raw.Alias
		}
	}

	states, err := r.fetcher.FetchValidatorStates(ctx, tokens)
	if err != nil {
		return nil, err
	}

	resolved := make(map[phase0.ValidatorIndex]*Identifier, len(states))
	resolvedTokens := make([]string, 0, len(states)*2)

	for _, state := range states {
		if !IsActiveStatus(state.Status) {
			continue
		}

		indexToken := strconv.FormatUint(uint64(state.Index), 10)
		resolvedTokens = append(resolvedTokens, indexToken, state.Pubkey)

		alias := aliasByToken[state.Pubkey]
		if indexAlias, ok := aliasByToken[indexToken]; ok {
			alias = indexAlias // index-keyed alias wins when both are supplied.
		}

		resolved[state.Index] = &Identifier{
			Index:  state.Index,
			Pubkey: state.Pubkey,
			Alias:  alias,
		}
	}

	r.logDuplicates(tokens, resolved)
	r.logInactive(tokens, resolvedTokens)

	return resolved, nil
}

// logDuplicates warns when the user supplied both an index and a pubkey for
// the same validator.
func (r *Registry) logDuplicates(tokens []string, resolved map[phase0.ValidatorIndex]*Identifier) {
	supplied := make(map[string]struct{}, len(tokens))
	for _, t := range tokens {
		supplied[t] = struct{}{}
	}

	var duplicateIndices []phase0.ValidatorIndex

	for index, id := range resolved {
		_, indexSupplied := supplied[strconv.FormatUint(uint64(index), 10)]
		_, pubkeySupplied := supplied[id.Pubkey]

		if indexSupplied && pubkeySupplied {
			duplicateIndices = append(duplicateIndices, index)
		}
	}

	if len(duplicateIndices) > 0 {
		sort.Slice(duplicateIndices, func(i, j int) bool { return duplicateIndices[i] < duplicateIndices[j] })
		r.log.WithField("indices", duplicateIndices).Warn("duplicates filtered: both index and pubkey supplied for the same validator")
	}
}

// logInactive warns about supplied tokens that resolved to no active validator.
func (r *Registry) logInactive(tokens, resolvedTokens []string) {
	resolvedSet := make(map[string]struct{}, len(resolvedTokens))
	for _, t := range resolvedTokens {
		resolvedSet[t] = struct{}{}
	}

	var inactive []string

	for _, t := range tokens {
		if _, ok := resolvedSet[t]; !ok {
			inactive = append(inactive, t)
		}
	}

	if len(inactive) > 0 {
		r.log.WithField("identifiers", inactive).Warn("inactive or unknown validator identifiers")
	}
}

// parseTokens parses every raw token, logging (when isLogged) and dropping
// malformed ones. ok is false only when every token was malformed.
func parseTokens(log logrus.FieldLogger, tokens []string, isLogged bool) (raws []RawIdentifier, ok bool) {
	for _, token := range tokens {
		raw, valid := ParseRaw(log, token, isLogged)
		if valid {
			raws = append(raws, raw)
		}
	}

	return raws, len(raws) > 0
}

// ParseTokens parses every raw token without logging and returns the parsed
// identifiers together with the malformed/rejected subset. The startup and
// interval refresh in cmd/eth-duties-console call it.
func ParseTokens(log logrus.FieldLogger, tokens []string) (raws []RawIdentifier, malformed []string) {
	for _, token := range tokens {
		raw, valid := ParseRaw(log, token, false)
		if valid {
			raws = append(raws, raw)
		} else {
			malformed = append(malformed, token)
		}
	}

	return raws, malformed
}
