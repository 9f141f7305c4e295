package mapreduce

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidateCommandFlagsUnknownRoot(t *testing.T) {
	warnings := ValidateCommand(Command{Shell: "echo ${item.id} ${bogus.field}"})
	require.Len(t, warnings, 1)
	assert.Contains(t, warnings[0].Message, `"bogus"`)
}

func TestValidateCommandAcceptsKnownRoots(t *testing.T) {
	warnings := ValidateCommand(Command{Shell: "echo ${item.id} ${map.results.0.output} ${setup.branch}"})
	assert.Empty(t, warnings)
}

func TestDryRunWarningsCoversAllPhases(t *testing.T) {
	job := &Job{
		Setup:  &SetupConfig{Commands: []Command{{Shell: "echo ${nope.x}"}}},
		Map:    &MapConfig{AgentCommands: []Command{{Shell: "echo ${item.id}"}}},
		Reduce: &ReduceConfig{Commands: []Command{{Shell: "echo ${also.bad}"}}},
	}

	warnings := DryRunWarnings(job, nil)
	require.Len(t, warnings, 2)
}
