// Package logging renders the merged duty list to the console on every
// main-loop cycle (spec.md §4.7), colourising lines by urgency the way the
// original printer module does with colorama.
package logging

import (
	"fmt"
	"time"

	"github.com/attestantio/go-eth2-client/spec/phase0"
	"github.com/fatih/color"
	"github.com/sirupsen/logrus"

	"github.com/ethduties/duty-console/internal/duty"
	"github.com/ethduties/duty-console/internal/registry"
	"github.com/ethduties/duty-console/internal/slotclock"
)

// Thresholds configures the RGB colour cutoffs for duty urgency (spec.md §4.7).
type Thresholds struct {
	CriticalSeconds float64
	WarningSeconds  float64
}

// DefaultThresholds mirrors the original printer's RED/YELLOW cutoffs.
var DefaultThresholds = Thresholds{CriticalSeconds: 60, WarningSeconds: 120}

// Renderer prints the current duty table to a logrus logger.
type Renderer struct {
	log        logrus.FieldLogger
	clock      *slotclock.Clock
	thresholds Thresholds
	logPubkeys bool

	critical *color.Color
	warning  *color.Color
	proposer *color.Color
}

// New builds a Renderer. logPubkeys controls the identifier fallback when no
// alias is configured for a validator (spec.md §4.7).
func New(log logrus.FieldLogger, clock *slotclock.Clock, thresholds Thresholds, logPubkeys bool) *Renderer {
	return &Renderer{
		log:        log.WithField("module", "logging"),
		clock:      clock,
		thresholds: thresholds,
		logPubkeys: logPubkeys,
		critical:   color.New(color.BgRed, color.FgBlack),
		warning:    color.New(color.BgYellow, color.FgBlack),
		proposer:   color.New(color.BgGreen, color.FgBlack),
	}
}

// Render prints one line per duty in duties (already sorted by slot, see
// duty.Fetcher.FetchAll), then the trailing "X% of all duties" summary line.
func (r *Renderer) Render(duties []*duty.Duty, identifiers map[phase0.ValidatorIndex]*registry.Identifier) {
	if len(duties) == 0 {
		r.log.Info("no upcoming duties")

		return
	}

	pastWarningThreshold := 0

	for _, d := range duties {
		seconds := duty.SecondsToDuty(d, r.clock)
		if seconds >= r.thresholds.WarningSeconds {
			pastWarningThreshold++
		}

		r.log.Info(r.line(d, seconds, identifiers))
	}

	percent := float64(pastWarningThreshold) / float64(len(duties)) * 100

	r.log.Infof("%.2f%% of all duties will be executed in >= %.0f sec", percent, r.thresholds.WarningSeconds)
}

func (r *Renderer) line(d *duty.Duty, seconds float64, identifiers map[phase0.ValidatorIndex]*registry.Identifier) string {
	ident := r.identifier(d, identifiers)

	if d.Type == duty.TypeSyncCommittee {
		return r.syncCommitteeLine(d, ident)
	}

	if seconds < 0 {
		return fmt.Sprintf("upcoming %s duty for validator %s outdated; will refetch", d.Type, ident)
	}

	paint := r.paint(d, seconds)
	rendered := formatClock(seconds)

	return paint(fmt.Sprintf("validator %s has next %s duty in: %s (slot: %d)", ident, d.Type, rendered, d.Slot))
}

func (r *Renderer) syncCommitteeLine(d *duty.Duty, ident string) string {
	currentEpoch := r.clock.CurrentEpoch()

	_, _, nextPeriodStart := slotclock.SyncCommitteePeriodBoundaries(currentEpoch)

	if uint64(d.Epoch) == currentEpoch {
		left := formatLongClock(duty.SecondsLeftInSyncCommittee(r.clock))

		return r.critical.Sprintf("validator %s is in current sync committee (next sync committee starts at epoch %d, in %s)", ident, nextPeriodStart, left)
	}

	until := formatLongClock(r.clock.SecondsUntilEpoch(uint64(d.Epoch)))

	return r.warning.Sprintf("validator %s will be in sync committee starting at epoch %d, in %s", ident, d.Epoch, until)
}

func (r *Renderer) paint(d *duty.Duty, seconds float64) func(format string, a ...interface{}) string {
	switch {
	case seconds <= r.thresholds.CriticalSeconds:
		return r.critical.Sprintf
	case seconds <= r.thresholds.WarningSeconds:
		return r.warning.Sprintf
	case d.Type == duty.TypeProposing:
		return r.proposer.Sprintf
	default:
		return fmt.Sprintf
	}
}

func (r *Renderer) identifier(d *duty.Duty, identifiers map[phase0.ValidatorIndex]*registry.Identifier) string {
	if id, ok := identifiers[d.ValidatorIndex]; ok && id.Alias != "" {
		return id.Alias
	}

	if r.logPubkeys {
		return d.Pubkey
	}

	return fmt.Sprintf("%d", d.ValidatorIndex)
}

// formatClock renders MM:SS for sub-hour durations and HH:MM:SS beyond that,
// matching the original printer's strftime-based formatting.
func formatClock(seconds float64) string {
	d := time.Duration(seconds) * time.Second

	hours := int(d.Hours())
	minutes := int(d.Minutes()) % 60
	secs := int(d.Seconds()) % 60

	if hours > 0 {
		return fmt.Sprintf("%02d:%02d:%02d", hours, minutes, secs)
	}

	return fmt.Sprintf("%02d:%02d", minutes, secs)
}

// formatLongClock always renders HH:MM:SS, used for sync-committee time-to-duty.
func formatLongClock(seconds float64) string {
	if seconds < 0 {
		seconds = 0
	}

	d := time.Duration(seconds) * time.Second

	hours := int(d.Hours())
	minutes := int(d.Minutes()) % 60
	secs := int(d.Seconds()) % 60

	return fmt.Sprintf("%02d:%02d:%02d", hours, minutes, secs)
}
