// Package prodigyconfig loads the job configuration cmd/prodigy needs to
// build an internal/mapreduce.Job: a YAML job spec plus viper-bound
// environment overrides for the ambient settings (storage root, debug
// logging, telemetry) that station's internal/config.Load reads the
// same way.
package prodigyconfig

import (
	"crypto/rand"
	"fmt"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/spf13/viper"

	"github.com/iepathos/prodigy-sub010/internal/mapreduce"
	"github.com/iepathos/prodigy-sub010/internal/mapreduce/errorpolicy"
)

var (
	idEntropyMu sync.Mutex
	idEntropy   = ulid.Monotonic(rand.Reader, 0)
)

// generateJobID mints a lexically sortable job id for job files that
// omit one (spec section 3's job_id is a ULID, not a user-chosen
// string).
func generateJobID() string {
	idEntropyMu.Lock()
	defer idEntropyMu.Unlock()
	return ulid.MustNew(ulid.Timestamp(time.Now()), idEntropy).String()
}

// Settings are the ambient, environment-overridable knobs that are not
// part of a job's own YAML definition (spec section 8's configuration
// layer). Field names mirror station's internal/config.Config shape:
// a flat struct populated from viper with PRODIGY_-prefixed env vars.
type Settings struct {
	StorageRoot   string `mapstructure:"storage_root"`
	Debug         bool   `mapstructure:"debug"`
	TelemetryOn   bool   `mapstructure:"telemetry_enabled"`
	WorktreesDir  string `mapstructure:"worktrees_dir"`
	BranchPrefix  string `mapstructure:"branch_prefix"`
	DockerImage   string `mapstructure:"docker_image"`
}

// LoadSettings reads ambient settings from an optional config file plus
// PRODIGY_-prefixed environment variables, the same AutomaticEnv +
// SetEnvPrefix idiom station's initConfig uses.
func LoadSettings(cfgFile string) (Settings, error) {
	v := viper.New()
	v.SetEnvPrefix("PRODIGY")
	v.AutomaticEnv()

	v.SetDefault("storage_root", ".prodigy/state")
	v.SetDefault("debug", false)
	v.SetDefault("telemetry_enabled", false)
	v.SetDefault("worktrees_dir", ".prodigy/worktrees")
	v.SetDefault("branch_prefix", "prodigy/")
	v.SetDefault("docker_image", "")

	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
		if err := v.ReadInConfig(); err != nil {
			return Settings{}, fmt.Errorf("read config file %s: %w", cfgFile, err)
		}
	} else {
		v.SetConfigName("prodigy")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		// Missing config in the default search path is not an error;
		// env vars and defaults alone are a valid configuration.
		_ = v.ReadInConfig()
	}

	var s Settings
	if err := v.Unmarshal(&s); err != nil {
		return Settings{}, fmt.Errorf("unmarshal settings: %w", err)
	}
	return s, nil
}

// JobSpec is the YAML shape a job file is written in (spec sections
// 4.2-4.5). cmd/prodigy unmarshals a file into this, then ToJob builds
// the internal/mapreduce.Job the coordinator actually runs.
type JobSpec struct {
	ID         string `mapstructure:"id" yaml:"id"`
	WorkingDir string `mapstructure:"working_dir" yaml:"working_dir"`
	BaseRef    string `mapstructure:"base_ref" yaml:"base_ref"`

	Setup *struct {
		Commands []CommandSpec `mapstructure:"commands" yaml:"commands"`
		Timeout  time.Duration `mapstructure:"timeout" yaml:"timeout"`
	} `mapstructure:"setup" yaml:"setup"`

	Map struct {
		Input          string        `mapstructure:"input" yaml:"input"`
		JSONPath       string        `mapstructure:"json_path" yaml:"json_path"`
		Filter         string        `mapstructure:"filter" yaml:"filter"`
		Sort           string        `mapstructure:"sort" yaml:"sort"`
		DistinctBy     string        `mapstructure:"distinct_by" yaml:"distinct_by"`
		Offset         int           `mapstructure:"offset" yaml:"offset"`
		MaxItems       int           `mapstructure:"max_items" yaml:"max_items"`
		RequiredFields []string      `mapstructure:"required_fields" yaml:"required_fields"`
		AgentCommands  []CommandSpec `mapstructure:"agent_template" yaml:"agent_template"`
		MaxParallel    int           `mapstructure:"max_parallel" yaml:"max_parallel"`
		AgentTimeout   time.Duration `mapstructure:"agent_timeout" yaml:"agent_timeout"`
	} `mapstructure:"map" yaml:"map"`

	Reduce *struct {
		Commands []CommandSpec `mapstructure:"commands" yaml:"commands"`
	} `mapstructure:"reduce" yaml:"reduce"`

	Policy PolicySpec `mapstructure:"error_policy" yaml:"error_policy"`
}

// CommandSpec mirrors mapreduce.Command in a YAML-friendly shape.
type CommandSpec struct {
	Shell          string        `mapstructure:"shell" yaml:"shell"`
	Timeout        time.Duration `mapstructure:"timeout" yaml:"timeout"`
	CommitRequired bool          `mapstructure:"commit_required" yaml:"commit_required"`
	OnFailure      string        `mapstructure:"on_failure" yaml:"on_failure"`
}

// PolicySpec mirrors errorpolicy.Policy in a YAML-friendly shape; zero
// values fall back to errorpolicy.DefaultPolicy's fields.
type PolicySpec struct {
	ContinueOnFailure *bool   `mapstructure:"continue_on_failure" yaml:"continue_on_failure"`
	MaxFailures       int     `mapstructure:"max_failures" yaml:"max_failures"`
	FailureThreshold  float64 `mapstructure:"failure_rate_threshold" yaml:"failure_rate_threshold"`
	MinSampleSize     int     `mapstructure:"min_sample_size" yaml:"min_sample_size"`
	OnItemFailure     string  `mapstructure:"on_item_failure" yaml:"on_item_failure"`
	MaxRetries        int     `mapstructure:"max_retries" yaml:"max_retries"`
}

// ToJob builds the mapreduce.Job the coordinator consumes, applying
// PolicySpec overrides on top of errorpolicy.DefaultPolicy.
func (spec JobSpec) ToJob() *mapreduce.Job {
	id := spec.ID
	if id == "" {
		id = generateJobID()
	}
	job := &mapreduce.Job{
		ID:         id,
		WorkingDir: spec.WorkingDir,
		BaseRef:    spec.BaseRef,
		Map: &mapreduce.MapConfig{
			Input:          spec.Map.Input,
			JSONPath:       spec.Map.JSONPath,
			Filter:         spec.Map.Filter,
			Sort:           spec.Map.Sort,
			DistinctBy:     spec.Map.DistinctBy,
			Offset:         spec.Map.Offset,
			MaxItems:       spec.Map.MaxItems,
			RequiredFields: spec.Map.RequiredFields,
			AgentCommands:  toCommands(spec.Map.AgentCommands),
			MaxParallel:    spec.Map.MaxParallel,
			AgentTimeout:   spec.Map.AgentTimeout,
		},
		Policy: spec.Policy.toPolicy(),
	}

	if spec.Setup != nil {
		job.Setup = &mapreduce.SetupConfig{
			Commands: toCommands(spec.Setup.Commands),
			Timeout:  spec.Setup.Timeout,
		}
	}
	if spec.Reduce != nil {
		job.Reduce = &mapreduce.ReduceConfig{Commands: toCommands(spec.Reduce.Commands)}
	} else {
		job.Reduce = &mapreduce.ReduceConfig{}
	}
	return job
}

func toCommands(specs []CommandSpec) []mapreduce.Command {
	cmds := make([]mapreduce.Command, 0, len(specs))
	for _, s := range specs {
		cmd := mapreduce.Command{
			Shell:          s.Shell,
			Timeout:        s.Timeout,
			CommitRequired: s.CommitRequired,
		}
		if s.OnFailure != "" {
			cmd.OnFailure = &mapreduce.OnFailureHandler{Shell: s.OnFailure}
		}
		cmds = append(cmds, cmd)
	}
	return cmds
}

func (p PolicySpec) toPolicy() errorpolicy.Policy {
	policy := errorpolicy.DefaultPolicy()
	if p.ContinueOnFailure != nil {
		policy.ContinueOnFailure = *p.ContinueOnFailure
	}
	if p.MaxFailures > 0 {
		policy.MaxFailures = p.MaxFailures
	}
	if p.FailureThreshold > 0 {
		policy.FailureThreshold = p.FailureThreshold
	}
	if p.MinSampleSize > 0 {
		policy.MinSampleSize = p.MinSampleSize
	}
	if p.OnItemFailure != "" {
		policy.OnItemFailure = errorpolicy.ActionKind(p.OnItemFailure)
	}
	if p.MaxRetries > 0 {
		policy.Retry.MaxAttempts = p.MaxRetries
	}
	return policy
}
