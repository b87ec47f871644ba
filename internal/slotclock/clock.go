// Package slotclock derives the current consensus-layer slot and epoch from
// a fixed genesis time.
package slotclock

import (
	"context"
	"fmt"
	"time"

	"github.com/ethpandaops/ethwallclock"
	"github.com/sirupsen/logrus"
)

// SlotTime is the fixed consensus-layer slot duration.
const SlotTime = 12 * time.Second

// SlotsPerEpoch is the fixed number of slots in an epoch.
const SlotsPerEpoch = 32

// EpochsPerSyncCommitteePeriod is the fixed number of epochs in a sync-committee period.
const EpochsPerSyncCommitteePeriod = 256

// GenesisFetcher fetches the genesis time from a beacon node.
type GenesisFetcher interface {
	FetchGenesisTime(ctx context.Context) (time.Time, error)
}

// Clock derives the current slot/epoch from an immutable genesis time using
// the wall clock. NTP skew at the scale of a few seconds is tolerated:
// duty granularity is a 12s slot.
type Clock struct {
	genesis   time.Time
	wallclock *ethwallclock.EthereumBeaconChain
	log       logrus.FieldLogger
}

// New fetches genesis once (retrying per fetcher semantics) and builds a Clock.
// Failure to obtain genesis is fatal: the caller should treat a non-nil error
// as a startup error and terminate the process.
func New(ctx context.Context, log logrus.FieldLogger, fetcher GenesisFetcher) (*Clock, error) {
	genesis, err := fetcher.FetchGenesisTime(ctx)
	if err != nil {
		return nil, fmt.Errorf("fetch genesis time: %w", err)
	}

	return &Clock{
		genesis:   genesis,
		wallclock: ethwallclock.NewEthereumBeaconChain(genesis, SlotTime, SlotsPerEpoch),
		log:       log.WithField("module", "slotclock"),
	}, nil
}

// Genesis returns the process-scoped genesis time.
func (c *Clock) Genesis() time.Time {
	return c.genesis
}

// CurrentSlot returns the wallclock's current slot number.
func (c *Clock) CurrentSlot() uint64 {
	slot, _, err := c.wallclock.Now()
	if err != nil {
		return 0
	}

	return slot.Number()
}

// CurrentEpoch returns the wallclock's current epoch number.
func (c *Clock) CurrentEpoch() uint64 {
	_, epoch, err := c.wallclock.Now()
	if err != nil {
		return 0
	}

	return epoch.Number()
}

// SecondsUntilSlot returns the number of seconds (possibly negative, if the
// slot is already past) until the start of the given slot.
func (c *Clock) SecondsUntilSlot(slot uint64) float64 {
	slotStart := c.genesis.Add(time.Duration(slot) * SlotTime)

	return time.Until(slotStart).Seconds()
}

// SecondsUntilEpoch returns the number of seconds until the first slot of the given epoch.
func (c *Clock) SecondsUntilEpoch(epoch uint64) float64 {
	return c.SecondsUntilSlot(epoch * SlotsPerEpoch)
}

// SyncCommitteePeriodBoundaries returns the inclusive [floor, ceil-1] epoch
// range of the sync-committee period containing epoch, and the first epoch
// of the following period (== the exclusive ceiling).
func SyncCommitteePeriodBoundaries(epoch uint64) (floor, lastOfPeriod, nextPeriodStart uint64) {
	floor = (epoch / EpochsPerSyncCommitteePeriod) * EpochsPerSyncCommitteePeriod
	nextPeriodStart = floor + EpochsPerSyncCommitteePeriod
	lastOfPeriod = nextPeriodStart - 1

	return floor, lastOfPeriod, nextPeriodStart
}
