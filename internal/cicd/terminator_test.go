package cicd

import (
	"io"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"

	"github.com/ethduties/duty-console/internal/duty"
)

func discardLogger() logrus.FieldLogger {
	log := logrus.New()
	log.SetOutput(io.Discard)

	return log
}

func TestRelevantNonAttestationDutyIsAlwaysRelevant(t *testing.T) {
	term := New(discardLogger(), Options{AttestationTimeSeconds: 60, AttestationProportion: 0.5})

	duties := []*duty.Duty{{Type: duty.TypeProposing, SecondsToDuty: 1000}}

	assert.True(t, term.relevant(duties))
}

func TestRelevantEmptyDutiesIsNotRelevant(t *testing.T) {
	term := New(discardLogger(), Options{})

	assert.False(t, term.relevant(nil))
}

func TestRelevantAttestationOnlyProportion(t *testing.T) {
	tests := []struct {
		name         string
		proportion   float64
		horizon      float64
		secondsToDuty []float64
		want         bool
	}{
		{
			name:          "all duties within horizon: relevant",
			proportion:    0.5,
			horizon:       60,
			secondsToDuty: []float64{10, 20, 30},
			want:          true,
		},
		{
			name:          "all duties beyond horizon: not relevant",
			proportion:    0.5,
			horizon:       60,
			secondsToDuty: []float64{100, 200, 300},
			want:          false,
		},
		{
			name:          "half beyond horizon, exactly at proportion threshold: not relevant",
			proportion:    0.5,
			horizon:       60,
			secondsToDuty: []float64{100, 100, 10, 10},
			want:          false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			term := New(discardLogger(), Options{AttestationTimeSeconds: tt.horizon, AttestationProportion: tt.proportion})

			duties := make([]*duty.Duty, 0, len(tt.secondsToDuty))
			for _, s := range tt.secondsToDuty {
				duties = append(duties, &duty.Duty{Type: duty.TypeAttestation, SecondsToDuty: s})
			}

			assert.Equal(t, tt.want, term.relevant(duties))
		})
	}
}

func TestCheckModeLogNeverExits(t *testing.T) {
	exited := false
	term := New(discardLogger(), Options{Mode: ModeLog})
	term.exit = func(int) { exited = true }

	term.Check(nil)
	assert.False(t, exited)
}

func TestCheckModeForceGracefulExitExitsZero(t *testing.T) {
	var code int
	exited := false
	term := New(discardLogger(), Options{Mode: ModeForceGracefulExit})
	term.exit = func(c int) { exited = true; code = c }

	term.Check(nil)
	assert.True(t, exited)
	assert.Equal(t, 0, code)
}

func TestCheckModeExitExitsOneWhenRelevant(t *testing.T) {
	var codes []int
	term := New(discardLogger(), Options{Mode: ModeExit, AttestationTimeSeconds: 60, AttestationProportion: 0.5})
	term.exit = func(c int) { codes = append(codes, c) }

	term.Check([]*duty.Duty{{Type: duty.TypeProposing, SecondsToDuty: 10}})
	assert.Equal(t, []int{1}, codes)
}

func TestCheckModeExitExitsZeroWhenNotRelevant(t *testing.T) {
	var codes []int
	term := New(discardLogger(), Options{Mode: ModeExit})
	term.exit = func(c int) { codes = append(codes, c) }

	term.Check(nil)
	assert.Equal(t, []int{0}, codes)
}

func TestCheckModeWaitExitsZeroOnceClear(t *testing.T) {
	var codes []int
	term := New(discardLogger(), Options{Mode: ModeWait, MaxWaitingIterations: 5})
	term.exit = func(c int) { codes = append(codes, c) }

	term.Check(nil)
	assert.Equal(t, []int{0}, codes)
}

func TestCheckModeWaitExitsOneAfterMaxIterations(t *testing.T) {
	var codes []int
	term := New(discardLogger(), Options{Mode: ModeWait, MaxWaitingIterations: 2, AttestationTimeSeconds: 60, AttestationProportion: 0.5})
	term.exit = func(c int) { codes = append(codes, c) }

	relevantDuties := []*duty.Duty{{Type: duty.TypeProposing, SecondsToDuty: 10}}

	term.Check(relevantDuties)
	term.Check(relevantDuties)
	term.Check(relevantDuties)

	assert.Equal(t, []int{1}, codes)
}
