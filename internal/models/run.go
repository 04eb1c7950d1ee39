package models

// RunConfig represents the parsed run.yaml configuration.
type RunConfig struct {
	Name            *string         `yaml:"name,omitempty" json:"name,omitempty"`
	RunsDir         string          `yaml:"runs_dir" json:"runs_dir"`
	LogLevel        string          `yaml:"log_level,omitempty" json:"log_level,omitempty"`
	Workers         int             `yaml:"workers" json:"workers"`
	ObjectsPerTrial int             `yaml:"objects_per_trial" json:"objects_per_trial"`
	Seeds           SeedConfig      `yaml:"seeds" json:"seeds"`
	Server          ServerConfig    `yaml:"server" json:"server"`
	Simulator       SimulatorConfig `yaml:"simulator" json:"simulator"`
	Episode         EpisodeConfig   `yaml:"episode" json:"episode"`
	Benchmarks      []BenchmarkRef  `yaml:"benchmarks" json:"benchmarks"`
	Store           StoreConfig     `yaml:"store" json:"store"`
}

// SeedConfig selects the seeds each task is evaluated with. The first set
// source wins: File, then List, then Random, then Count.
type SeedConfig struct {
	Count      int     `yaml:"count" json:"count"`
	Start      int64   `yaml:"start" json:"start"`
	List       []int64 `yaml:"list,omitempty" json:"list,omitempty"`
	File       string  `yaml:"file,omitempty" json:"file,omitempty"`
	Random     bool    `yaml:"random,omitempty" json:"random,omitempty"`
	MasterSeed int64   `yaml:"master_seed,omitempty" json:"master_seed,omitempty"`
}

type ServerConfig struct {
	Host              string      `yaml:"host" json:"host"`
	Port              int         `yaml:"port" json:"port"`
	TimeoutSec        float64     `yaml:"timeout_sec" json:"timeout_sec"`
	RequestTimeoutSec float64     `yaml:"request_timeout_sec" json:"request_timeout_sec"`
	MaxInflight       int         `yaml:"max_inflight" json:"max_inflight"`
	HealthAttempts    int         `yaml:"health_attempts" json:"health_attempts"`
	HealthIntervalMs  int         `yaml:"health_interval_ms" json:"health_interval_ms"`
	Retry             RetryConfig `yaml:"retry,omitempty" json:"retry,omitempty"`
}

type RetryConfig struct {
	MaxAttempts    int     `yaml:"max_attempts" json:"max_attempts"`
	InitialDelayMs int     `yaml:"initial_delay_ms" json:"initial_delay_ms"`
	MaxDelayMs     int     `yaml:"max_delay_ms" json:"max_delay_ms"`
	Multiplier     float64 `yaml:"multiplier" json:"multiplier"`
}

// SimulatorConfig selects the simulation backend. For docker, Command
// overrides the docker binary and Args follow the image name.
type SimulatorConfig struct {
	Type    string            `yaml:"type" json:"type"`
	Command string            `yaml:"command,omitempty" json:"command,omitempty"`
	Args    []string          `yaml:"args,omitempty" json:"args,omitempty"`
	Env     map[string]string `yaml:"env,omitempty" json:"env,omitempty"`
	Image   string            `yaml:"image,omitempty" json:"image,omitempty"`
	CPUs    string            `yaml:"cpus,omitempty" json:"cpus,omitempty"`
	Memory  string            `yaml:"memory,omitempty" json:"memory,omitempty"`
}

// ActionMode controls how returned poses are interpreted.
type ActionMode string

const (
	ActionAbsolute ActionMode = "absolute"
	ActionDelta    ActionMode = "delta"
)

type EpisodeConfig struct {
	ActionMode          ActionMode `yaml:"action_mode" json:"action_mode"`
	GripTransitionSteps int        `yaml:"grip_transition_steps" json:"grip_transition_steps"`
	InvertGripper       bool       `yaml:"invert_gripper" json:"invert_gripper"`
	ProprioHistory      int        `yaml:"proprio_history" json:"proprio_history"`
	TrialTimeoutSec     float64    `yaml:"trial_timeout_sec,omitempty" json:"trial_timeout_sec,omitempty"`
}

// BenchmarkRef points at a suite: a local directory, a directory inside a
// git repository (Path is then relative to the repository root), or a named
// entry in a registry.json index. Name, when set, overrides the suite name
// derived from the directory.
type BenchmarkRef struct {
	Path        string `yaml:"path,omitempty" json:"path,omitempty"`
	MaxTasks    int    `yaml:"max_tasks,omitempty" json:"max_tasks,omitempty"`
	Name        string `yaml:"name,omitempty" json:"name,omitempty"`
	GitURL      string `yaml:"git_url,omitempty" json:"git_url,omitempty"`
	GitCommitID string `yaml:"git_commit_id,omitempty" json:"git_commit_id,omitempty"`
	Registry    string `yaml:"registry,omitempty" json:"registry,omitempty"`
	Version     string `yaml:"version,omitempty" json:"version,omitempty"`
}

// StoreConfig selects the outcome store. An empty sqlite path means
// outcomes.db inside the run directory.
type StoreConfig struct {
	Type        string `yaml:"type" json:"type"`
	Path        string `yaml:"path,omitempty" json:"path,omitempty"`
	Compression string `yaml:"compression,omitempty" json:"compression,omitempty"`
}
