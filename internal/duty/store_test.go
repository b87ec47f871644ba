package duty_test

import (
	"context"
	"io"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ethduties/duty-console/internal/duty"
	"github.com/ethduties/duty-console/internal/slotclock"
)

type fakeGenesisFetcher struct{ genesis time.Time }

func (f *fakeGenesisFetcher) FetchGenesisTime(_ context.Context) (time.Time, error) {
	return f.genesis, nil
}

func discardLogger() logrus.FieldLogger {
	log := logrus.New()
	log.SetOutput(io.Discard)

	return log
}

func newClockAtSlot(t *testing.T, slot uint64) *slotclock.Clock {
	t.Helper()

	genesis := time.Now().Add(-time.Duration(slot) * slotclock.SlotTime).Add(-time.Second)

	clock, err := slotclock.New(context.Background(), discardLogger(), &fakeGenesisFetcher{genesis: genesis})
	require.NoError(t, err)

	return clock
}

func TestStoreIsFreshEmpty(t *testing.T) {
	store := duty.NewStore(newClockAtSlot(t, 10))

	assert.True(t, store.IsFresh(nil))
}

func TestStoreIsFreshBeforeFirstDutySlot(t *testing.T) {
	clock := newClockAtSlot(t, 10)
	store := duty.NewStore(clock)

	duties := []*duty.Duty{{Type: duty.TypeAttestation, Slot: 20}}

	assert.True(t, store.IsFresh(duties))
}

func TestStoreIsStaleOncePastFirstDutySlot(t *testing.T) {
	clock := newClockAtSlot(t, 10)
	store := duty.NewStore(clock)

	duties := []*duty.Duty{{Type: duty.TypeAttestation, Slot: 5}}

	assert.False(t, store.IsFresh(duties))
}

func TestStoreIsStaleAfterIdentifiersUpdated(t *testing.T) {
	clock := newClockAtSlot(t, 10)
	store := duty.NewStore(clock)

	duties := []*duty.Duty{{Type: duty.TypeAttestation, Slot: 20}}
	require.True(t, store.IsFresh(duties))

	store.MarkIdentifiersUpdated()
	assert.False(t, store.IsFresh(duties))
}

func TestStoreConsumeUpdateFlagOnlyOnce(t *testing.T) {
	store := duty.NewStore(newClockAtSlot(t, 0))

	store.MarkIdentifiersUpdated()
	assert.True(t, store.ConsumeUpdateFlag())
	assert.False(t, store.ConsumeUpdateFlag())
}

func TestStoreSetGetRoundTrip(t *testing.T) {
	store := duty.NewStore(newClockAtSlot(t, 0))

	duties := []*duty.Duty{{Type: duty.TypeProposing, Slot: 1}}
	store.Set(duties)

	got := store.Get()
	require.Len(t, got, 1)
	assert.Equal(t, duties[0], got[0])
}

func TestStoreSyncCommitteeFreshnessUsesEpoch(t *testing.T) {
	clock := newClockAtSlot(t, 64) // epoch 2
	store := duty.NewStore(clock)

	fresh := []*duty.Duty{{Type: duty.TypeSyncCommittee, Epoch: 2}}
	assert.True(t, store.IsFresh(fresh))

	stale := []*duty.Duty{{Type: duty.TypeSyncCommittee, Epoch: 1}}
	assert.False(t, store.IsFresh(stale))
}

func TestStoreIsStaleWhenNonSyncDutyElapsedBehindLeadingSyncDuty(t *testing.T) {
	clock := newClockAtSlot(t, 64) // epoch 2
	store := duty.NewStore(clock)

	// Sync-committee duties always sort first at slot 0; a fresh leading sync
	// duty must not mask an already-elapsed attestation duty further down.
	duties := []*duty.Duty{
		{Type: duty.TypeSyncCommittee, Epoch: 2, Slot: 0},
		{Type: duty.TypeAttestation, Slot: 5},
	}

	assert.False(t, store.IsFresh(duties))
}
