package duty

import (
	"context"

	"github.com/attestantio/go-eth2-client/spec/phase0"
)

// AttesterDutyRow is one decoded row of a beacon node's attester-duties response.
type AttesterDutyRow struct {
	Pubkey         string
	ValidatorIndex phase0.ValidatorIndex
	Slot           phase0.Slot
}

// ProposerDutyRow is one decoded row of a beacon node's proposer-duties response.
type ProposerDutyRow struct {
	Pubkey         string
	ValidatorIndex phase0.ValidatorIndex
	Slot           phase0.Slot
}

// SyncCommitteeDutyRow is one decoded row of a beacon node's sync-committee-duties response.
type SyncCommitteeDutyRow struct {
	Pubkey                        string
	ValidatorIndex                phase0.ValidatorIndex
	ValidatorSyncCommitteeIndices []uint64
}

// AttesterDutiesFetcher resolves attester duties for an epoch. Implemented by internal/beaconapi.
type AttesterDutiesFetcher interface {
	FetchAttesterDuties(ctx context.Context, epoch phase0.Epoch, validatorIndices []string) ([]AttesterDutyRow, error)
}

// ProposerDutiesFetcher resolves proposer duties for an epoch. Implemented by internal/beaconapi.
type ProposerDutiesFetcher interface {
	FetchProposerDuties(ctx context.Context, epoch phase0.Epoch) ([]ProposerDutyRow, error)
}

// SyncCommitteeDutiesFetcher resolves sync-committee duties for an epoch. Implemented by internal/beaconapi.
type SyncCommitteeDutiesFetcher interface {
	FetchSyncCommitteeDuties(ctx context.Context, epoch phase0.Epoch, validatorIndices []string) ([]SyncCommitteeDutyRow, error)
}
