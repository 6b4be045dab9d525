package config

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Workdir       string        `yaml:"workdir"`
	BenchmarksDir string        `yaml:"benchmarks_dir"`
	LogFile       string        `yaml:"log_file"`
	Log           LogConfig     `yaml:"log"`
	GitHub        GitHubConfig  `yaml:"github"`
	Git           GitConfig     `yaml:"git"`
	IFlow         IFlowConfig   `yaml:"iflow"`
	Quality       QualityConfig `yaml:"quality"`
	Bench         BenchConfig   `yaml:"bench"`
}

type LogConfig struct {
	Level string `yaml:"level"`
}

type GitHubConfig struct {
	APIURL            string        `yaml:"api_url"`
	CloneBase         string        `yaml:"clone_base"`
	TokenEnv          string        `yaml:"token_env"`
	RequestsPerSecond float64       `yaml:"requests_per_second"`
	Burst             int           `yaml:"burst"`
	Timeout           time.Duration `yaml:"-"`
	RawTimeout        string        `yaml:"timeout"`
}

type GitConfig struct {
	CloneDepth      int   `yaml:"clone_depth"`
	PRFetchDepth    int   `yaml:"pr_fetch_depth"`
	InsecureSkipTLS *bool `yaml:"insecure_skip_tls,omitempty"`
}

type IFlowConfig struct {
	Binary        string            `yaml:"binary"`
	Strategy      string            `yaml:"strategy"`
	InsecureTLS   *bool             `yaml:"insecure_tls,omitempty"`
	ExtraEnv      map[string]string `yaml:"extra_env"`
	EscalateAfter int               `yaml:"escalate_after"`
	Retry         RetryConfig       `yaml:"retry"`
	PTY           PTYConfig         `yaml:"pty"`

	VersionTimeout     time.Duration `yaml:"-"`
	RawVersionTimeout  string        `yaml:"version_timeout"`
	InitialTimeout     time.Duration `yaml:"-"`
	RawInitialTimeout  string        `yaml:"initial_timeout"`
	QuestionTimeout    time.Duration `yaml:"-"`
	RawQuestionTimeout string        `yaml:"question_timeout"`
	ProbeTimeout       time.Duration `yaml:"-"`
	RawProbeTimeout    string        `yaml:"probe_timeout"`
}

type RetryConfig struct {
	MaxAttempts    int           `yaml:"max_attempts"`
	Backoff        time.Duration `yaml:"-"`
	RawBackoff     string        `yaml:"backoff"`
	PoorBackoff    time.Duration `yaml:"-"`
	RawPoorBackoff string        `yaml:"poor_backoff"`
}

type PTYConfig struct {
	Boundary     string `yaml:"boundary"`
	ReadyPattern string `yaml:"ready_pattern"`
	Transcript   string `yaml:"transcript"`
	Rows         uint16 `yaml:"rows"`
	Cols         uint16 `yaml:"cols"`

	ReadyTimeout    time.Duration `yaml:"-"`
	RawReadyTimeout string        `yaml:"ready_timeout"`
	IdleTimeout     time.Duration `yaml:"-"`
	RawIdleTimeout  string        `yaml:"idle_timeout"`
	CloseTimeout    time.Duration `yaml:"-"`
	RawCloseTimeout string        `yaml:"close_timeout"`
}

type QualityConfig struct {
	MinLength         int      `yaml:"min_length"`
	SubstantialLength int      `yaml:"substantial_length"`
	ErrorPrefix       string   `yaml:"error_prefix"`
	Boilerplate       []string `yaml:"boilerplate"`
	MemoryLoss        []string `yaml:"memory_loss"`
}

type BenchConfig struct {
	MaxQuestions           int           `yaml:"max_questions"`
	MemoryCheckInterval    int           `yaml:"memory_check_interval"`
	ContextRefreshInterval int           `yaml:"context_refresh_interval"`
	FrameQuestions         bool          `yaml:"frame_questions"`
	Store                  string        `yaml:"store"`
	MetricsFile            string        `yaml:"metrics_file"`
	MaxPromptFiles         int           `yaml:"max_prompt_files"`
	Pause                  time.Duration `yaml:"-"`
	RawPause               string        `yaml:"pause"`
}

const (
	StrategyDirect = "direct"
	StrategyPTY    = "pty"
	StrategyHybrid = "hybrid"
)

const (
	DefaultBoundary     = `(?s)<Execution Info>.*?(?:</Execution Info>|\})`
	DefaultReadyPattern = `(?i)iflow|>\s*$|what can i help you with`
)

// Load reads the YAML file at path. An empty path yields the defaults.
func Load(path string) (*Config, error) {
	var cfg Config
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	if err := cfg.setDefaults(); err != nil {
		return nil, err
	}

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	return &cfg, nil
}

// Default returns a fully defaulted config.
func Default() *Config {
	cfg, err := Load("")
	if err != nil {
		panic(err)
	}
	return cfg
}

func (c *Config) setDefaults() error {
	if c.Workdir == "" {
		c.Workdir = "pr_workspace"
	}
	if c.BenchmarksDir == "" {
		c.BenchmarksDir = "benchmarks"
	}
	if c.LogFile == "" {
		c.LogFile = filepath.Join(c.BenchmarksDir, "logs", "prbench.log")
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}

	if c.GitHub.APIURL == "" {
		c.GitHub.APIURL = "https://api.github.com/"
	}
	if c.GitHub.CloneBase == "" {
		c.GitHub.CloneBase = "https://github.com"
	}
	if c.GitHub.TokenEnv == "" {
		c.GitHub.TokenEnv = "GITHUB_TOKEN"
	}
	if c.GitHub.RequestsPerSecond == 0 {
		c.GitHub.RequestsPerSecond = 1
	}
	if c.GitHub.Burst == 0 {
		c.GitHub.Burst = 5
	}

	if c.Git.CloneDepth == 0 {
		c.Git.CloneDepth = 1
	}
	if c.Git.PRFetchDepth == 0 {
		c.Git.PRFetchDepth = 50
	}
	if c.Git.InsecureSkipTLS == nil {
		defaultTrue := true
		c.Git.InsecureSkipTLS = &defaultTrue
	}

	if c.IFlow.Binary == "" {
		c.IFlow.Binary = "iflow"
	}
	if c.IFlow.Strategy == "" {
		c.IFlow.Strategy = StrategyDirect
	}
	if c.IFlow.InsecureTLS == nil {
		defaultTrue := true
		c.IFlow.InsecureTLS = &defaultTrue
	}
	if c.IFlow.EscalateAfter == 0 {
		c.IFlow.EscalateAfter = 2
	}
	if c.IFlow.Retry.MaxAttempts == 0 {
		c.IFlow.Retry.MaxAttempts = 2
	}
	if c.IFlow.PTY.Boundary == "" {
		c.IFlow.PTY.Boundary = DefaultBoundary
	}
	if c.IFlow.PTY.ReadyPattern == "" {
		c.IFlow.PTY.ReadyPattern = DefaultReadyPattern
	}
	if c.IFlow.PTY.Rows == 0 {
		c.IFlow.PTY.Rows = 50
	}
	if c.IFlow.PTY.Cols == 0 {
		c.IFlow.PTY.Cols = 200
	}

	if c.Quality.MinLength == 0 {
		c.Quality.MinLength = 20
	}
	if c.Quality.SubstantialLength == 0 {
		c.Quality.SubstantialLength = 150
	}
	if c.Quality.ErrorPrefix == "" {
		c.Quality.ErrorPrefix = "ERROR:"
	}
	if c.Quality.Boilerplate == nil {
		c.Quality.Boilerplate = []string{
			"I need to read",
			"Let me examine",
			"I'll look at",
			"I need to analyze",
			"Let me check",
			"I need to understand",
		}
	}
	if c.Quality.MemoryLoss == nil {
		c.Quality.MemoryLoss = []string{"I don't have any record"}
	}

	if c.Bench.Store == "" {
		c.Bench.Store = filepath.Join(c.BenchmarksDir, "prbench.db")
	}
	if c.Bench.MaxPromptFiles == 0 {
		c.Bench.MaxPromptFiles = 10
	}

	durations := []struct {
		name string
		raw  *string
		def  string
		dst  *time.Duration
	}{
		{"github.timeout", &c.GitHub.RawTimeout, "30s", &c.GitHub.Timeout},
		{"iflow.version_timeout", &c.IFlow.RawVersionTimeout, "10s", &c.IFlow.VersionTimeout},
		{"iflow.initial_timeout", &c.IFlow.RawInitialTimeout, "180s", &c.IFlow.InitialTimeout},
		{"iflow.question_timeout", &c.IFlow.RawQuestionTimeout, "180s", &c.IFlow.QuestionTimeout},
		{"iflow.probe_timeout", &c.IFlow.RawProbeTimeout, "60s", &c.IFlow.ProbeTimeout},
		{"iflow.retry.backoff", &c.IFlow.Retry.RawBackoff, "3s", &c.IFlow.Retry.Backoff},
		{"iflow.retry.poor_backoff", &c.IFlow.Retry.RawPoorBackoff, "2s", &c.IFlow.Retry.PoorBackoff},
		{"iflow.pty.ready_timeout", &c.IFlow.PTY.RawReadyTimeout, "30s", &c.IFlow.PTY.ReadyTimeout},
		{"iflow.pty.idle_timeout", &c.IFlow.PTY.RawIdleTimeout, "45s", &c.IFlow.PTY.IdleTimeout},
		{"iflow.pty.close_timeout", &c.IFlow.PTY.RawCloseTimeout, "5s", &c.IFlow.PTY.CloseTimeout},
		{"bench.pause", &c.Bench.RawPause, "0s", &c.Bench.Pause},
	}
	for _, d := range durations {
		if *d.raw == "" {
			*d.raw = d.def
		}
		v, err := time.ParseDuration(*d.raw)
		if err != nil {
			return fmt.Errorf("parse %s %q: %w", d.name, *d.raw, err)
		}
		*d.dst = v
	}

	return nil
}

func (c *Config) validate() error {
	switch c.Log.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("log.level: invalid value %q (debug|info|warn|error)", c.Log.Level)
	}
	switch c.IFlow.Strategy {
	case StrategyDirect, StrategyPTY, StrategyHybrid:
	default:
		return fmt.Errorf("iflow.strategy: invalid value %q (direct|pty|hybrid)", c.IFlow.Strategy)
	}
	if c.GitHub.RequestsPerSecond < 0 {
		return fmt.Errorf("github.requests_per_second must not be negative")
	}
	if c.Git.CloneDepth < 0 || c.Git.PRFetchDepth < 0 {
		return fmt.Errorf("git: depths must not be negative")
	}
	if c.IFlow.Retry.MaxAttempts < 1 {
		return fmt.Errorf("iflow.retry.max_attempts must be at least 1, got %d", c.IFlow.Retry.MaxAttempts)
	}
	if c.IFlow.EscalateAfter < 1 {
		return fmt.Errorf("iflow.escalate_after must be at least 1, got %d", c.IFlow.EscalateAfter)
	}
	timeouts := []struct {
		name string
		d    time.Duration
	}{
		{"iflow.version_timeout", c.IFlow.VersionTimeout},
		{"iflow.initial_timeout", c.IFlow.InitialTimeout},
		{"iflow.question_timeout", c.IFlow.QuestionTimeout},
		{"iflow.probe_timeout", c.IFlow.ProbeTimeout},
		{"iflow.pty.ready_timeout", c.IFlow.PTY.ReadyTimeout},
		{"iflow.pty.idle_timeout", c.IFlow.PTY.IdleTimeout},
		{"iflow.pty.close_timeout", c.IFlow.PTY.CloseTimeout},
	}
	for _, t := range timeouts {
		if t.d <= 0 {
			return fmt.Errorf("%s must be positive", t.name)
		}
	}
	if _, err := regexp.Compile(c.IFlow.PTY.Boundary); err != nil {
		return fmt.Errorf("iflow.pty.boundary: %w", err)
	}
	if _, err := regexp.Compile(c.IFlow.PTY.ReadyPattern); err != nil {
		return fmt.Errorf("iflow.pty.ready_pattern: %w", err)
	}
	if c.Quality.MinLength < 1 {
		return fmt.Errorf("quality.min_length must be at least 1")
	}
	if c.Quality.SubstantialLength < c.Quality.MinLength {
		return fmt.Errorf("quality.substantial_length (%d) below min_length (%d)", c.Quality.SubstantialLength, c.Quality.MinLength)
	}
	if c.Bench.MaxQuestions < 0 {
		return fmt.Errorf("bench.max_questions must not be negative")
	}
	if c.Bench.MemoryCheckInterval < 0 || c.Bench.ContextRefreshInterval < 0 {
		return fmt.Errorf("bench: intervals must not be negative")
	}
	if c.Bench.MaxPromptFiles < 1 {
		return fmt.Errorf("bench.max_prompt_files must be at least 1")
	}
	return nil
}

// Env returns the extra environment entries for iflow subprocesses.
func (c IFlowConfig) Env() []string {
	var env []string
	if c.InsecureTLS != nil && *c.InsecureTLS {
		env = append(env, "NODE_TLS_REJECT_UNAUTHORIZED=0")
	}
	for k, v := range c.ExtraEnv {
		env = append(env, k+"="+v)
	}
	return env
}
