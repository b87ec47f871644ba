// Package config resolves the CLI flag surface (spec.md §6) into a
// validated Config. Config is plain data; defaults come from the flag
// definitions in flags.go, and invalid input is reported as an error.
package config

import (
	"time"

	"github.com/ethduties/duty-console/internal/cicd"
	"github.com/ethduties/duty-console/internal/logging"
)

// Config is the fully validated, resolved configuration for one run.
type Config struct {
	BeaconNodes []string
	Interval    time.Duration
	LogLevel    string
	LogPubkeys  bool

	Colors     Colors
	Thresholds logging.Thresholds

	MaxAttestationDutyLogs   int
	OmitAttestationDuties    bool

	Mode                      cicd.Mode
	ModeCICDWaitingTime       time.Duration
	ModeCICDAttestationTime   float64
	ModeCICDAttestationProp   float64

	RESTRequested bool
	RESTEnabled   bool
	RESTHost      string
	RESTPort      int

	Validators     []string
	ValidatorNodes []ValidatorNode

	ValidatorUpdateInterval time.Duration
}

// Colors holds the parsed --log-color-* values. The duty renderer does not
// read them: it paints with fixed red, yellow and green backgrounds.
type Colors struct {
	Warning  RGB
	Critical RGB
	Proposer RGB
}

// RGB is one 0-255 background colour component triple.
type RGB struct {
	R, G, B uint8
}

// ValidatorNode is one parsed `<URL>;<BEARER>` key-manager line.
type ValidatorNode struct {
	URL         string
	BearerToken string
}

// MaxWaitingIterations implements the floor(max_waiting_time/interval)
// computation spec.md §4.9 requires for cicd-wait mode.
func (c *Config) MaxWaitingIterations() int {
	if c.Interval <= 0 {
		return 0
	}

	return int(c.ModeCICDWaitingTime / c.Interval)
}
