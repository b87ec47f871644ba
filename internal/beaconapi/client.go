// Package beaconapi implements the chunked, retrying request layer
// (spec.md C3) that the registry, duty fetcher and slot clock use to talk to
// the consensus-layer beacon HTTP API. It sends no Authorization header;
// authenticated key-manager calls live in internal/nodepool.
package beaconapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/attestantio/go-eth2-client/spec/phase0"
	"github.com/sirupsen/logrus"

	"github.com/ethduties/duty-console/internal/duty"
	"github.com/ethduties/duty-console/internal/nodepool"
	"github.com/ethduties/duty-console/internal/registry"
)

// CalldataKind is the shape of the data a beacon endpoint expects.
type CalldataKind int

const (
	// CalldataNone is a bare GET with no parameters.
	CalldataNone CalldataKind = iota
	// CalldataParameters is a GET with a comma-joined "id=v1,v2,..." query parameter.
	CalldataParameters
	// CalldataRequestData is a POST with a JSON array body.
	CalldataRequestData
)

const (
	chunkSize = 1000

	beaconMaxAttempts           = 1000
	beaconConnectionErrorSleep  = 2 * time.Second
	beaconReadTimeoutSleep      = 5 * time.Second

	dataField    = "data"
	messageField = "message"
)

// Client is the chunked/retrying HTTP client for the consensus-layer beacon API.
type Client struct {
	pool    *nodepool.BeaconPool
	http    *http.Client
	log     logrus.FieldLogger
	headers map[string]string
}

// NewClient builds a request-layer client over the given node pool.
func NewClient(log logrus.FieldLogger, pool *nodepool.BeaconPool, requestTimeout time.Duration) *Client {
	return &Client{
		pool: pool,
		http: &http.Client{Timeout: requestTimeout},
		log:  log.WithField("module", "beaconapi"),
		headers: map[string]string{
			"Content-Type": "application/json",
			"Accept":       "application/json",
		},
	}
}

// FetchGenesisTime implements slotclock.GenesisFetcher.
func (c *Client) FetchGenesisTime(ctx context.Context) (time.Time, error) {
	rows, err := c.dispatch(ctx, "/eth/v1/beacon/genesis", CalldataNone, nil, true)
	if err != nil {
		return time.Time{}, err
	}

	if len(rows) != 1 {
		return time.Time{}, fmt.Errorf("unexpected genesis response shape")
	}

	var body struct {
		GenesisTime string `json:"genesis_time"`
	}
	if err := json.Unmarshal(rows[0], &body); err != nil {
		return time.Time{}, fmt.Errorf("decode genesis response: %w", err)
	}

	seconds, err := strconv.ParseInt(body.GenesisTime, 10, 64)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse genesis_time: %w", err)
	}

	return time.Unix(seconds, 0).UTC(), nil
}

// FetchValidatorStates implements registry.StateFetcher.
func (c *Client) FetchValidatorStates(ctx context.Context, idsOrPubkeys []string) ([]registry.ValidatorState, error) {
	var out []registry.ValidatorState

	for _, chunk := range chunks(idsOrPubkeys, chunkSize) {
		rows, err := c.dispatch(ctx, "/eth/v1/beacon/states/head/validators", CalldataParameters, chunk, false)
		if err != nil {
			return nil, err
		}

		for _, row := range rows {
			var v struct {
				Index     string `json:"index"`
				Status    string `json:"status"`
				Validator struct {
					Pubkey string `json:"pubkey"`
				} `json:"validator"`
			}

			if err := json.Unmarshal(row, &v); err != nil {
				continue
			}

			index, err := strconv.ParseUint(v.Index, 10, 64)
			if err != nil {
				continue
			}

			out = append(out, registry.ValidatorState{
				Index:  phase0.ValidatorIndex(index),
				Pubkey: v.Validator.Pubkey,
				Status: v.Status,
			})
		}
	}

	return out, nil
}

// FetchAttesterDuties implements duty.AttesterDutiesFetcher.
func (c *Client) FetchAttesterDuties(ctx context.Context, epoch phase0.Epoch, validatorIndices []string) ([]duty.AttesterDutyRow, error) {
	var out []duty.AttesterDutyRow

	endpoint := fmt.Sprintf("/eth/v1/validator/duties/attester/%d", epoch)

	for _, chunk := range chunks(validatorIndices, chunkSize) {
		rows, err := c.dispatch(ctx, endpoint, CalldataRequestData, chunk, false)
		if err != nil {
			return nil, err
		}

		for _, row := range rows {
			var d struct {
				Pubkey         string `json:"pubkey"`
				ValidatorIndex string `json:"validator_index"`
				Slot           string `json:"slot"`
			}

			if err := json.Unmarshal(row, &d); err != nil {
				continue
			}

			out = append(out, duty.AttesterDutyRow{
				Pubkey:         d.Pubkey,
				ValidatorIndex: parseIndex(d.ValidatorIndex),
				Slot:           parseSlot(d.Slot),
			})
		}
	}

	return out, nil
}

// FetchProposerDuties implements duty.ProposerDutiesFetcher.
func (c *Client) FetchProposerDuties(ctx context.Context, epoch phase0.Epoch) ([]duty.ProposerDutyRow, error) {
	endpoint := fmt.Sprintf("/eth/v1/validator/duties/proposer/%d", epoch)

	rows, err := c.dispatch(ctx, endpoint, CalldataNone, nil, false)
	if err != nil {
		return nil, err
	}

	out := make([]duty.ProposerDutyRow, 0, len(rows))

	for _, row := range rows {
		var d struct {
			Pubkey         string `json:"pubkey"`
			ValidatorIndex string `json:"validator_index"`
			Slot           string `json:"slot"`
		}

		if err := json.Unmarshal(row, &d); err != nil {
			continue
		}

		out = append(out, duty.ProposerDutyRow{
			Pubkey:         d.Pubkey,
			ValidatorIndex: parseIndex(d.ValidatorIndex),
			Slot:           parseSlot(d.Slot),
		})
	}

	return out, nil
}

// FetchSyncCommitteeDuties implements duty.SyncCommitteeDutiesFetcher.
func (c *Client) FetchSyncCommitteeDuties(ctx context.Context, epoch phase0.Epoch, validatorIndices []string) ([]duty.SyncCommitteeDutyRow, error) {
	var out []duty.SyncCommitteeDutyRow

	endpoint := fmt.Sprintf("/eth/v1/validator/duties/sync/%d", epoch)

	for _, chunk := range chunks(validatorIndices, chunkSize) {
		rows, err := c.dispatch(ctx, endpoint, CalldataRequestData, chunk, false)
		if err != nil {
			return nil, err
		}

		for _, row := range rows {
			var d struct {
				Pubkey                        string   `json:"pubkey"`
				ValidatorIndex                string   `json:"validator_index"`
				ValidatorSyncCommitteeIndices []string `json:"validator_sync_committee_indices"`
			}

			if err := json.Unmarshal(row, &d); err != nil {
				continue
			}

			indices := make([]uint64, 0, len(d.ValidatorSyncCommitteeIndices))
			for _, raw := range d.ValidatorSyncCommitteeIndices {
				if n, err := strconv.ParseUint(raw, 10, 64); err == nil {
					indices = append(indices, n)
				}
			}

			out = append(out, duty.SyncCommitteeDutyRow{
				Pubkey:                        d.Pubkey,
				ValidatorIndex:                parseIndex(d.ValidatorIndex),
				ValidatorSyncCommitteeIndices: indices,
			})
		}
	}

	return out, nil
}

// dispatch sends a single chunk's request, retrying per spec.md §4.3, and
// returns the unmarshalled elements of the response's "data" array. When
// flattenSingle is true the endpoint's "data" field is an object rather than
// an array (e.g. genesis), and that object is returned as the sole "row".
func (c *Client) dispatch(ctx context.Context, endpoint string, kind CalldataKind, ids []string, flattenSingle bool) ([]json.RawMessage, error) {
	for attempt := 0; attempt < beaconMaxAttempts; attempt++ {
		node := c.pool.SelectHealthy(ctx)

		rows, retry, err := c.attempt(ctx, node, endpoint, kind, ids, flattenSingle)
		if err == nil {
			return rows, nil
		}

		if !retry {
			return nil, err
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(sleepFor(err)):
		}
	}

	return nil, fmt.Errorf("exhausted %d attempts against %s", beaconMaxAttempts, endpoint)
}

// connectionError and readTimeoutError distinguish the two transient
// failure classes that dictate the backoff per spec.md §4.3/§7.
type connectionError struct{ error }

type readTimeoutError struct{ error }

func sleepFor(err error) time.Duration {
	switch err.(type) {
	case connectionError:
		return beaconConnectionErrorSleep
	default:
		return beaconReadTimeoutSleep
	}
}

// attempt performs one HTTP round-trip. retry is true for transient
// failures the caller should back off and re-attempt.
func (c *Client) attempt(ctx context.Context, node, endpoint string, kind CalldataKind, ids []string, flattenSingle bool) (rows []json.RawMessage, retry bool, err error) {
	req, err := c.buildRequest(ctx, node, endpoint, kind, ids)
	if err != nil {
		return nil, false, err
	}

	rsp, err := c.http.Do(req)
	if err != nil {
		return nil, true, connectionError{err}
	}
	defer rsp.Body.Close()

	body, err := io.ReadAll(rsp.Body)
	if err != nil {
		return nil, true, readTimeoutError{err}
	}

	if len(body) == 0 {
		return nil, true, readTimeoutError{fmt.Errorf("empty response body")}
	}

	var envelope map[string]json.RawMessage
	if err := json.Unmarshal(body, &envelope); err != nil {
		return nil, true, readTimeoutError{fmt.Errorf("decode response: %w", err)}
	}

	if _, ok := envelope[dataField]; !ok {
		if _, hasMessage := envelope[messageField]; hasMessage {
			// Known limitation of a specific validator client: a message-only
			// body with no data is a non-retryable empty result, not an error.
			c.log.WithField("endpoint", endpoint).Debug("no data field; validator client limitation, returning empty")

			return nil, false, nil
		}

		return nil, true, readTimeoutError{fmt.Errorf("no data field in response")}
	}

	if flattenSingle {
		return []json.RawMessage{envelope[dataField]}, false, nil
	}

	var dataArray []json.RawMessage
	if err := json.Unmarshal(envelope[dataField], &dataArray); err != nil {
		return nil, true, readTimeoutError{fmt.Errorf("decode data array: %w", err)}
	}

	return dataArray, false, nil
}

func (c *Client) buildRequest(ctx context.Context, node, endpoint string, kind CalldataKind, ids []string) (*http.Request, error) {
	var req *http.Request

	var err error

	switch kind {
	case CalldataNone:
		req, err = http.NewRequestWithContext(ctx, http.MethodGet, node+endpoint, nil)
	case CalldataParameters:
		url := node + endpoint
		if len(ids) > 0 {
			url += "?id=" + strings.Join(ids, ",")
		}

		req, err = http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	case CalldataRequestData:
		payload, marshalErr := json.Marshal(ids)
		if marshalErr != nil {
			return nil, marshalErr
		}

		req, err = http.NewRequestWithContext(ctx, http.MethodPost, node+endpoint, bytes.NewReader(payload))
	default:
		return nil, fmt.Errorf("unknown calldata kind %d", kind)
	}

	if err != nil {
		return nil, err
	}

	for k, v := range c.headers {
		req.Header.Set(k, v)
	}

	return req, nil
}

func chunks(in []string, size int) [][]string {
	if len(in) == 0 {
		return [][]string{{}}
	}

	var out [][]string

	for i := 0; i < len(in); i += size {
		end := i + size
		if end > len(in) {
			end = len(in)
		}

		out = append(out, in[i:end])
	}

	return out
}

func parseIndex(s string) phase0.ValidatorIndex {
	n, _ := strconv.ParseUint(s, 10, 64)

	return phase0.ValidatorIndex(n)
}

func parseSlot(s string) phase0.Slot {
	n, _ := strconv.ParseUint(s, 10, 64)

	return phase0.Slot(n)
}
