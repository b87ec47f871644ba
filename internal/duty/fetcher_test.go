package duty_test

import (
	"context"
	"testing"

	"github.com/attestantio/go-eth2-client/spec/phase0"
	"github.com/chuckpreslar/emission"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ethduties/duty-console/internal/duty"
	"github.com/ethduties/duty-console/internal/registry"
)

type fakeStateFetcher struct {
	states []registry.ValidatorState
}

func (f *fakeStateFetcher) FetchValidatorStates(_ context.Context, _ []string) ([]registry.ValidatorState, error) {
	return f.states, nil
}

type fakeAttesterFetcher struct {
	slot phase0.Slot
}

func (f *fakeAttesterFetcher) FetchAttesterDuties(_ context.Context, epoch phase0.Epoch, indices []string) ([]duty.AttesterDutyRow, error) {
	rows := make([]duty.AttesterDutyRow, 0, len(indices))

	for _, idx := range indices {
		rows = append(rows, duty.AttesterDutyRow{ValidatorIndex: mustIndex(idx), Slot: f.slot})
	}

	return rows, nil
}

type fakeProposerFetcher struct {
	byEpoch map[phase0.Epoch][]duty.ProposerDutyRow
}

func (f *fakeProposerFetcher) FetchProposerDuties(_ context.Context, epoch phase0.Epoch) ([]duty.ProposerDutyRow, error) {
	return f.byEpoch[epoch], nil
}

type fakeSyncCommitteeFetcher struct {
	rows []duty.SyncCommitteeDutyRow
}

func (f *fakeSyncCommitteeFetcher) FetchSyncCommitteeDuties(_ context.Context, _ phase0.Epoch, _ []string) ([]duty.SyncCommitteeDutyRow, error) {
	return f.rows, nil
}

func mustIndex(s string) phase0.ValidatorIndex {
	var out uint64
	for _, r := range s {
		out = out*10 + uint64(r-'0')
	}

	return phase0.ValidatorIndex(out)
}

func newTestRegistry(t *testing.T, states []registry.ValidatorState) *registry.Registry {
	t.Helper()

	reg := registry.New(discardLogger(), &fakeStateFetcher{states: states}, emission.NewEmitter())
	require.NoError(t, reg.Refresh(context.Background(), []registry.RawIdentifier{{IndexOrPubkey: "1"}}))

	return reg
}

func TestFetchAllMergesAndSortsBySlot(t *testing.T) {
	clock := newClockAtSlot(t, 100) // epoch 3

	reg := newTestRegistry(t, []registry.ValidatorState{
		{Index: 1, Pubkey: "0xaaa", Status: "active_ongoing"},
	})

	attester := &fakeAttesterFetcher{slot: 200}
	proposer := &fakeProposerFetcher{byEpoch: map[phase0.Epoch][]duty.ProposerDutyRow{
		3: {{ValidatorIndex: 1, Slot: 150}},
	}}
	syncCommittee := &fakeSyncCommitteeFetcher{}

	fetcher := duty.New(discardLogger(), reg, clock, attester, proposer, syncCommittee, duty.Options{})

	all, err := fetcher.FetchAll(context.Background())
	require.NoError(t, err)
	require.Len(t, all, 2)

	assert.Equal(t, phase0.Slot(150), all[0].Slot)
	assert.Equal(t, duty.TypeProposing, all[0].Type)
	assert.Equal(t, phase0.Slot(200), all[1].Slot)
	assert.Equal(t, duty.TypeAttestation, all[1].Type)
}

func TestFetchAllOmitsAttestationDutiesWhenDisabled(t *testing.T) {
	clock := newClockAtSlot(t, 100)

	reg := newTestRegistry(t, []registry.ValidatorState{
		{Index: 1, Pubkey: "0xaaa", Status: "active_ongoing"},
	})

	attester := &fakeAttesterFetcher{slot: 200}
	proposer := &fakeProposerFetcher{byEpoch: map[phase0.Epoch][]duty.ProposerDutyRow{}}
	syncCommittee := &fakeSyncCommitteeFetcher{}

	fetcher := duty.New(discardLogger(), reg, clock, attester, proposer, syncCommittee, duty.Options{
		DisableAttestationDuties: true,
	})

	all, err := fetcher.FetchAll(context.Background())
	require.NoError(t, err)
	assert.Empty(t, all)
}

func TestFetchAllOmitsAttestationDutiesOverMaxLogs(t *testing.T) {
	clock := newClockAtSlot(t, 100)

	reg := newTestRegistry(t, []registry.ValidatorState{
		{Index: 1, Pubkey: "0xaaa", Status: "active_ongoing"},
		{Index: 2, Pubkey: "0xbbb", Status: "active_ongoing"},
	})

	attester := &fakeAttesterFetcher{slot: 200}
	proposer := &fakeProposerFetcher{byEpoch: map[phase0.Epoch][]duty.ProposerDutyRow{}}
	syncCommittee := &fakeSyncCommitteeFetcher{}

	fetcherLimited := duty.New(discardLogger(), reg, clock, attester, proposer, syncCommittee, duty.Options{
		MaxAttestationDutyLogs: 1,
	})

	all, err := fetcherLimited.FetchAll(context.Background())
	require.NoError(t, err)
	assert.Empty(t, all, "two active validators is over the max-1 threshold")
}

func TestSecondsToDutyAttestation(t *testing.T) {
	clock := newClockAtSlot(t, 100)

	d := &duty.Duty{Type: duty.TypeAttestation, Slot: 105}
	assert.Greater(t, duty.SecondsToDuty(d, clock), 0.0)
}

func TestSecondsToDutySyncCommitteeCurrentPeriodIsZero(t *testing.T) {
	clock := newClockAtSlot(t, 64) // epoch 2, period [0,255]

	d := &duty.Duty{Type: duty.TypeSyncCommittee, Epoch: 2}
	assert.Equal(t, 0.0, duty.SecondsToDuty(d, clock))
}
