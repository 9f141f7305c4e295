package prodigyconfig

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/oklog/ulid/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

func TestLoadSettingsDefaults(t *testing.T) {
	dir := t.TempDir()
	wd, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(dir))
	defer func() { _ = os.Chdir(wd) }()

	settings, err := LoadSettings("")
	require.NoError(t, err)
	assert.Equal(t, ".prodigy/state", settings.StorageRoot)
	assert.False(t, settings.Debug)
	assert.Equal(t, "prodigy/", settings.BranchPrefix)
}

func TestLoadSettingsFromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "settings.yaml")
	require.NoError(t, os.WriteFile(path, []byte("storage_root: /tmp/custom\ndebug: true\n"), 0o644))

	settings, err := LoadSettings(path)
	require.NoError(t, err)
	assert.Equal(t, "/tmp/custom", settings.StorageRoot)
	assert.True(t, settings.Debug)
}

func TestJobSpecToJobAppliesPolicyOverrides(t *testing.T) {
	spec := JobSpec{ID: "job-1"}
	spec.Map.Input = `[{"id":"1"}]`
	spec.Map.AgentCommands = []CommandSpec{{Shell: "echo hi"}}
	spec.Policy.MaxFailures = 10
	spec.Policy.OnItemFailure = "skip"

	job := spec.ToJob()
	require.NotNil(t, job.Map)
	assert.Equal(t, "job-1", job.ID)
	assert.Equal(t, 10, job.Policy.MaxFailures)
	assert.Equal(t, "skip", string(job.Policy.OnItemFailure))
	// unspecified fields fall back to errorpolicy.DefaultPolicy
	assert.True(t, job.Policy.ContinueOnFailure)
}

func TestJobSpecToJobGeneratesULIDWhenIDOmitted(t *testing.T) {
	spec := JobSpec{}
	spec.Map.Input = `[{"id":"1"}]`
	spec.Map.AgentCommands = []CommandSpec{{Shell: "echo hi"}}

	job := spec.ToJob()
	require.NotEmpty(t, job.ID)
	_, err := ulid.ParseStrict(job.ID)
	assert.NoError(t, err)
}

func TestJobSpecUnmarshalFullYAML(t *testing.T) {
	raw := `
id: job-3
working_dir: /repo
base_ref: main
setup:
  commands:
    - shell: "generate-work-items"
map:
  input: work-items.json
  filter: "priority >= 2"
  sort: "priority DESC"
  max_parallel: 4
  agent_template:
    - shell: "echo ${item.id}"
      commit_required: true
reduce:
  commands:
    - shell: "echo done"
error_policy:
  max_failures: 5
  on_item_failure: dlq
`
	var spec JobSpec
	require.NoError(t, yaml.Unmarshal([]byte(raw), &spec))

	job := spec.ToJob()
	assert.Equal(t, "job-3", job.ID)
	assert.Equal(t, "main", job.BaseRef)
	require.NotNil(t, job.Setup)
	assert.Len(t, job.Setup.Commands, 1)
	assert.Equal(t, 4, job.Map.MaxParallel)
	require.Len(t, job.Map.AgentCommands, 1)
	assert.True(t, job.Map.AgentCommands[0].CommitRequired)
	require.NotNil(t, job.Reduce)
	assert.Len(t, job.Reduce.Commands, 1)
	assert.Equal(t, 5, job.Policy.MaxFailures)
}
