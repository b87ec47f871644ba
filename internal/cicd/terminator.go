// Package cicd implements the CI/CD termination gate (spec.md §4.9): once
// per main-loop iteration it decides whether the process should exit based
// on the configured mode and the freshly fetched duty list.
package cicd

import (
	"os"

	"github.com/sirupsen/logrus"

	"github.com/ethduties/duty-console/internal/duty"
)

// Mode selects the CI/CD termination behaviour.
type Mode int

const (
	// ModeLog runs forever, just logging (the interactive default).
	ModeLog Mode = iota
	// ModeNoLog runs forever without logging duties.
	ModeNoLog
	// ModeForceGracefulExit exits 0 after the first iteration, regardless of duties.
	ModeForceGracefulExit
	// ModeExit exits 0 if there are no relevant upcoming duties, else 1.
	ModeExit
	// ModeWait waits up to a configured number of iterations for duties to clear.
	ModeWait
)

// Terminator owns the CI/CD iteration counter and exit decision.
type Terminator struct {
	mode                       Mode
	maxWaitingIterations       int
	attestationTimeSeconds     float64
	attestationProportion      float64
	iteration                  int
	log                        logrus.FieldLogger
	exit                       func(code int)
}

// Options configures a Terminator (spec.md §4.9 and §6 flags).
type Options struct {
	Mode                     Mode
	MaxWaitingIterations     int
	AttestationTimeSeconds   float64
	AttestationProportion    float64
}

// New builds a Terminator. Tests may override exit to observe the decision
// instead of actually calling os.Exit.
func New(log logrus.FieldLogger, opts Options) *Terminator {
	return &Terminator{
		mode:                   opts.Mode,
		maxWaitingIterations:   opts.MaxWaitingIterations,
		attestationTimeSeconds: opts.AttestationTimeSeconds,
		attestationProportion:  opts.AttestationProportion,
		log:                    log.WithField("module", "cicd"),
		exit:                   os.Exit,
	}
}

// Check inspects duties (already merged/sorted for this cycle) and exits the
// process if the configured mode dictates it. It must run after logging.
func (t *Terminator) Check(duties []*duty.Duty) {
	defer func() { t.iteration++ }()

	switch t.mode {
	case ModeLog, ModeNoLog:
		return
	case ModeForceGracefulExit:
		t.log.Info("cicd-force-graceful-exit: exiting after first iteration")
		t.exit(0)
	case ModeExit:
		if t.relevant(duties) {
			t.exit(1)

			return
		}

		t.exit(0)
	case ModeWait:
		if !t.relevant(duties) {
			t.exit(0)

			return
		}

		if t.iteration >= t.maxWaitingIterations {
			t.exit(1)
		}
	}
}

// relevant implements spec.md §4.9's "Relevant upcoming duties" definition.
func (t *Terminator) relevant(duties []*duty.Duty) bool {
	if len(duties) == 0 {
		return false
	}

	allAttestations := true

	for _, d := range duties {
		if d.Type != duty.TypeAttestation {
			allAttestations = false

			break
		}
	}

	if !allAttestations {
		return true
	}

	beyondHorizon := 0

	for _, d := range duties {
		if d.SecondsToDuty >= t.attestationTimeSeconds {
			beyondHorizon++
		}
	}

	fraction := float64(beyondHorizon) / float64(len(duties))

	return fraction < t.attestationProportion
}
