package duty

import (
	"context"
	"sort"
	"strconv"

	"github.com/attestantio/go-eth2-client/spec/phase0"
	"github.com/sirupsen/logrus"

	"github.com/ethduties/duty-console/internal/registry"
	"github.com/ethduties/duty-console/internal/slotclock"
)

// Fetcher builds the merged, sorted duty list on each main-loop cycle
// (spec.md §4.5), pulling the active validator set from the registry and
// the slot clock for epoch/slot arithmetic.
type Fetcher struct {
	registry *registry.Registry
	clock    *slotclock.Clock

	attestationFetcher     AttesterDutiesFetcher
	proposerFetcher        ProposerDutiesFetcher
	syncCommitteeFetcher   SyncCommitteeDutiesFetcher
	attestationDisabled    bool
	maxAttestationDutyLogs int

	log logrus.FieldLogger
}

// Options configures a Fetcher at construction time.
type Options struct {
	DisableAttestationDuties bool
	MaxAttestationDutyLogs   int
}

// New builds a Fetcher over the given registry, slot clock and the three
// row-level fetchers implemented by internal/beaconapi.
func New(
	log logrus.FieldLogger,
	reg *registry.Registry,
	clock *slotclock.Clock,
	attestation AttesterDutiesFetcher,
	proposer ProposerDutiesFetcher,
	syncCommittee SyncCommitteeDutiesFetcher,
	opts Options,
) *Fetcher {
	return &Fetcher{
		registry:               reg,
		clock:                  clock,
		attestationFetcher:     attestation,
		proposerFetcher:        proposer,
		syncCommitteeFetcher:   syncCommittee,
		attestationDisabled:    opts.DisableAttestationDuties,
		maxAttestationDutyLogs: opts.MaxAttestationDutyLogs,
		log:                    log.WithField("module", "duty.fetcher"),
	}
}

// Clock returns the slot clock this fetcher resolves epochs/slots against.
func (f *Fetcher) Clock() *slotclock.Clock {
	return f.clock
}

// FetchAll builds the attestation, proposing and sync-committee tables and
// returns their concatenation sorted by slot (sync-committee entries, with
// slot 0, lead), per spec.md §4.5's merge rule.
func (f *Fetcher) FetchAll(ctx context.Context) ([]*Duty, error) {
	identifiers := f.registry.Snapshot()

	tokens := indexTokens(identifiers)

	attestations, err := f.fetchAttestationDuties(ctx, identifiers, tokens)
	if err != nil {
		return nil, err
	}

	proposing, err := f.fetchProposingDuties(ctx, identifiers)
	if err != nil {
		return nil, err
	}

	syncCommittee, err := f.fetchSyncCommitteeDuties(ctx, identifiers, tokens)
	if err != nil {
		return nil, err
	}

	all := make([]*Duty, 0, len(attestations)+len(proposing)+len(syncCommittee))
	all = append(all, attestations...)
	all = append(all, proposing...)
	all = append(all, syncCommittee...)

	sort.SliceStable(all, func(i, j int) bool { return all[i].Slot < all[j].Slot })

	return all, nil
}

// fetchAttestationDuties implements spec.md §4.5's "Attestation duties" paragraph.
func (f *Fetcher) fetchAttestationDuties(ctx context.Context, identifiers map[phase0.ValidatorIndex]*registry.Identifier, tokens []string) ([]*Duty, error) {
	if f.attestationDisabled {
		return nil, nil
	}

	if f.maxAttestationDutyLogs > 0 && len(identifiers) > f.maxAttestationDutyLogs {
		f.log.WithField("active_validators", len(identifiers)).Info("skipping attestation duties: over max_attestation_duty_logs")

		return nil, nil
	}

	pending := make(map[phase0.ValidatorIndex]*Duty, len(identifiers))
	for idx, id := range identifiers {
		pending[idx] = &Duty{Pubkey: id.Pubkey, ValidatorIndex: idx, Type: TypeAttestation}
	}

	currentSlot := phase0.Slot(f.clock.CurrentSlot())
	epoch := phase0.Epoch(f.clock.CurrentEpoch())

	for {
		rows, err := f.attestationFetcher.FetchAttesterDuties(ctx, epoch, tokens)
		if err != nil {
			return nil, err
		}

		remaining := false

		for _, row := range rows {
			d, ok := pending[row.ValidatorIndex]
			if !ok || d.Slot != 0 {
				continue
			}

			if row.Slot <= currentSlot {
				continue // already past; keep the slot-0 placeholder, retry next epoch.
			}

			d.Slot = row.Slot
			d.Epoch = epoch
		}

		for _, d := range pending {
			if d.Slot == 0 {
				remaining = true

				break
			}
		}

		if !remaining {
			break
		}

		epoch++
	}

	out := make([]*Duty, 0, len(pending))
	for _, d := range pending {
		out = append(out, d)
	}

	return out, nil
}

// fetchProposingDuties implements spec.md §4.5's "Proposing duties" paragraph.
func (f *Fetcher) fetchProposingDuties(ctx context.Context, identifiers map[phase0.ValidatorIndex]*registry.Identifier) ([]*Duty, error) {
	currentEpoch := phase0.Epoch(f.clock.CurrentEpoch())
	currentSlot := phase0.Slot(f.clock.CurrentSlot())

	recorded := make(map[phase0.ValidatorIndex]*Duty)

	for _, epoch := range []phase0.Epoch{currentEpoch, currentEpoch + 1} {
		rows, err := f.proposerFetcher.FetchProposerDuties(ctx, epoch)
		if err != nil {
			return nil, err
		}

		for _, row := range rows {
			id, active := identifiers[row.ValidatorIndex]
			if !active {
				continue
			}

			if _, already := recorded[row.ValidatorIndex]; already {
				continue
			}

			recorded[row.ValidatorIndex] = &Duty{
				Pubkey:         id.Pubkey,
				ValidatorIndex: row.ValidatorIndex,
				Type:           TypeProposing,
				Epoch:          epoch,
				Slot:           row.Slot,
			}
		}
	}

	out := make([]*Duty, 0, len(recorded))

	for _, d := range recorded {
		if d.Slot <= currentSlot {
			continue
		}

		out = append(out, d)
	}

	return out, nil
}

// fetchSyncCommitteeDuties implements spec.md §4.5's "Sync-committee duties" paragraph.
func (f *Fetcher) fetchSyncCommitteeDuties(ctx context.Context, identifiers map[phase0.ValidatorIndex]*registry.Identifier, tokens []string) ([]*Duty, error) {
	currentEpoch := f.clock.CurrentEpoch()

	_, _, nextPeriodStart := slotclock.SyncCommitteePeriodBoundaries(currentEpoch)

	currentRows, err := f.syncCommitteeFetcher.FetchSyncCommitteeDuties(ctx, phase0.Epoch(currentEpoch), tokens)
	if err != nil {
		return nil, err
	}

	nextRows, err := f.syncCommitteeFetcher.FetchSyncCommitteeDuties(ctx, phase0.Epoch(nextPeriodStart), tokens)
	if err != nil {
		return nil, err
	}

	inCurrentPeriod := make(map[phase0.ValidatorIndex]SyncCommitteeDutyRow, len(currentRows))
	for _, row := range currentRows {
		inCurrentPeriod[row.ValidatorIndex] = row
	}

	out := make([]*Duty, 0, len(currentRows)+len(nextRows))

	for _, row := range currentRows {
		id, active := identifiers[row.ValidatorIndex]
		if !active {
			continue
		}

		out = append(out, &Duty{
			Pubkey:                        id.Pubkey,
			ValidatorIndex:                row.ValidatorIndex,
			Type:                          TypeSyncCommittee,
			Epoch:                         phase0.Epoch(currentEpoch),
			Slot:                          0,
			ValidatorSyncCommitteeIndices: row.ValidatorSyncCommitteeIndices,
		})
	}

	for _, row := range nextRows {
		if _, alreadyCurrent := inCurrentPeriod[row.ValidatorIndex]; alreadyCurrent {
			continue
		}

		id, active := identifiers[row.ValidatorIndex]
		if !active {
			continue
		}

		out = append(out, &Duty{
			Pubkey:                        id.Pubkey,
			ValidatorIndex:                row.ValidatorIndex,
			Type:                          TypeSyncCommittee,
			Epoch:                         phase0.Epoch(nextPeriodStart),
			Slot:                          0,
			ValidatorSyncCommitteeIndices: row.ValidatorSyncCommitteeIndices,
		})
	}

	return out, nil
}

// SecondsToDuty computes spec.md §4.5's "Time-to-duty computation" for d,
// given genesis time and the current wall-clock slot/epoch. It is applied
// on every render rather than stored.
func SecondsToDuty(d *Duty, clock *slotclock.Clock) float64 {
	switch d.Type {
	case TypeSyncCommittee:
		currentEpoch := clock.CurrentEpoch()

		_, _, nextPeriodStart := slotclock.SyncCommitteePeriodBoundaries(currentEpoch)
		if uint64(d.Epoch) == currentEpoch || d.Epoch < phase0.Epoch(nextPeriodStart) {
			return 0
		}

		return clock.SecondsUntilEpoch(uint64(d.Epoch))
	default:
		return clock.SecondsUntilSlot(uint64(d.Slot))
	}
}

// SecondsLeftInSyncCommittee is the auxiliary "time left in committee" figure
// the logger renders alongside a current-period sync-committee duty.
func SecondsLeftInSyncCommittee(clock *slotclock.Clock) float64 {
	_, _, nextPeriodStart := slotclock.SyncCommitteePeriodBoundaries(clock.CurrentEpoch())

	return clock.SecondsUntilEpoch(nextPeriodStart)
}

func indexTokens(identifiers map[phase0.ValidatorIndex]*registry.Identifier) []string {
	tokens := make([]string, 0, len(identifiers))
	for idx := range identifiers {
		tokens = append(tokens, strconv.FormatUint(uint64(idx), 10))
	}

	return tokens
}
