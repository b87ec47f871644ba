package slotclock_test

import (
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ethduties/duty-console/internal/slotclock"
)

type fakeGenesisFetcher struct {
	genesis time.Time
	err     error
}

func (f *fakeGenesisFetcher) FetchGenesisTime(_ context.Context) (time.Time, error) {
	return f.genesis, f.err
}

func discardLogger() logrus.FieldLogger {
	log := logrus.New()
	log.SetOutput(io.Discard)

	return log
}

func newClockAtElapsed(t *testing.T, elapsed time.Duration) *slotclock.Clock {
	t.Helper()

	clock, err := slotclock.New(context.Background(), discardLogger(), &fakeGenesisFetcher{genesis: time.Now().Add(-elapsed)})
	require.NoError(t, err)

	return clock
}

func TestNewPropagatesFetchError(t *testing.T) {
	_, err := slotclock.New(context.Background(), discardLogger(), &fakeGenesisFetcher{err: errors.New("boom")})
	require.Error(t, err)
}

func TestCurrentSlotAndEpoch(t *testing.T) {
	tests := []struct {
		name      string
		elapsed   time.Duration
		wantSlot  uint64
		wantEpoch uint64
	}{
		{"genesis not yet reached", -5 * time.Second, 0, 0},
		{"mid first slot", 3 * time.Second, 0, 0},
		{"fifth slot", 5 * slotclock.SlotTime, 5, 0},
		{"first slot of second epoch", slotclock.SlotsPerEpoch * slotclock.SlotTime, 32, 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clock := newClockAtElapsed(t, tt.elapsed)

			assert.Equal(t, tt.wantSlot, clock.CurrentSlot())
			assert.Equal(t, tt.wantEpoch, clock.CurrentEpoch())
		})
	}
}

func TestSecondsUntilSlotIsNegativeForPastSlot(t *testing.T) {
	clock := newClockAtElapsed(t, 10*slotclock.SlotTime)

	assert.Negative(t, clock.SecondsUntilSlot(0))
	assert.Positive(t, clock.SecondsUntilSlot(20))
}

func TestSyncCommitteePeriodBoundaries(t *testing.T) {
	tests := []struct {
		name          string
		epoch         uint64
		wantFloor     uint64
		wantLast      uint64
		wantNextStart uint64
	}{
		{"first epoch of period zero", 0, 0, 255, 256},
		{"mid period zero", 100, 0, 255, 256},
		{"last epoch of period zero", 255, 0, 255, 256},
		{"first epoch of period one", 256, 256, 511, 512},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			floor, last, next := slotclock.SyncCommitteePeriodBoundaries(tt.epoch)

			assert.Equal(t, tt.wantFloor, floor)
			assert.Equal(t, tt.wantLast, last)
			assert.Equal(t, tt.wantNextStart, next)
		})
	}
}
