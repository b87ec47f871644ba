// Package duty holds the duty data model and the fetcher/store/staleness
// logic that keeps the three duty tables coherent against the slot clock.
package duty

import "github.com/attestantio/go-eth2-client/spec/phase0"

// Type identifies the kind of consensus-layer duty.
type Type int

const (
	// TypeNone is the zero value, never published.
	TypeNone Type = iota
	// TypeAttestation is an attestation duty.
	TypeAttestation
	// TypeProposing is a block-proposal duty.
	TypeProposing
	// TypeSyncCommittee is a sync-committee duty.
	TypeSyncCommittee
)

// String renders the duty type the way the logger prints it. JSON encoding
// of a Duty carries the numeric Type value, not this string.
func (t Type) String() string {
	switch t {
	case TypeAttestation:
		return "ATTESTATION"
	case TypeProposing:
		return "PROPOSING"
	case TypeSyncCommittee:
		return "SYNC_COMMITTEE"
	default:
		return "NONE"
	}
}

// Duty is a single scheduled validator obligation.
type Duty struct {
	Pubkey                       string               `json:"pubkey"`
	ValidatorIndex               phase0.ValidatorIndex `json:"validator_index"`
	Type                         Type                  `json:"type"`
	Epoch                        phase0.Epoch          `json:"epoch"`
	Slot                         phase0.Slot           `json:"slot"`
	ValidatorSyncCommitteeIndices []uint64             `json:"validator_sync_committee_indices"`

	// SecondsToDuty is derived on every render, never persisted between cycles.
	SecondsToDuty float64 `json:"seconds_to_duty"`
}

// Table is a snapshot of duties keyed by validator index, as owned by the fetcher.
type Table map[phase0.ValidatorIndex]*Duty

// Values returns the table's duties as a slice, unordered.
func (t Table) Values() []*Duty {
	out := make([]*Duty, 0, len(t))
	for _, d := range t {
		out = append(out, d)
	}

	return out
}
