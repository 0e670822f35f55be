package config

import (
	_ "embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/pelletier/go-toml/v2"

	"typeset/internal/services"
)

//go:embed sample_config.toml
var sampleConfig string

// Config is the daemon configuration loaded from TOML.
type Config struct {
	Paths     PathsConfig     `toml:"paths"`
	Logging   LoggingConfig   `toml:"logging"`
	Workflow  WorkflowConfig  `toml:"workflow"`
	Tagging   TaggingConfig   `toml:"tagging"`
	Render    RenderConfig    `toml:"render"`
	Transfer  TransferConfig  `toml:"transfer"`
	Retention RetentionConfig `toml:"retention"`
	Projects  ProjectsConfig  `toml:"projects"`
}

// PathsConfig holds filesystem locations and the API bind address.
type PathsConfig struct {
	ProjectDir string `toml:"project_dir"`
	WorkDir    string `toml:"work_dir"`
	OutputDir  string `toml:"output_dir"`
	LogDir     string `toml:"log_dir"`
	APIBind    string `toml:"api_bind"`
}

// LoggingConfig controls log verbosity and output format.
type LoggingConfig struct {
	Level  string `toml:"level"`
	Format string `toml:"format"`
}

// WorkflowConfig controls the per-job polling cadence.
type WorkflowConfig struct {
	PollIntervalSec int `toml:"poll_interval_sec"`
}

// TaggingConfig describes the remote text transform service.
type TaggingConfig struct {
	Endpoint   string `toml:"endpoint"`
	TimeoutSec int    `toml:"timeout_sec"`
}

// RenderConfig describes the render worker fleet and its stage budget.
type RenderConfig struct {
	TimeoutSec int            `toml:"timeout_sec"`
	Workers    []WorkerConfig `toml:"workers"`
}

// WorkerConfig names one render worker slot and its endpoint.
type WorkerConfig struct {
	Name     string `toml:"name"`
	Endpoint string `toml:"endpoint"`
}

// TransferConfig describes where job input bundles are fetched from.
// When Bucket is empty, inputs are copied from LocalDir instead.
type TransferConfig struct {
	Bucket          string `toml:"bucket"`
	Endpoint        string `toml:"endpoint"`
	Region          string `toml:"region"`
	AccessKeyID     string `toml:"access_key_id"`
	SecretAccessKey string `toml:"secret_access_key"`
	LocalDir        string `toml:"local_dir"`
}

// RetentionConfig bounds how long finished jobs and their preview files
// are kept before the reaper removes them.
type RetentionConfig struct {
	MaxAgeSec int `toml:"max_age_sec"`
}

// ProjectsConfig controls how often the project inventory is refreshed.
type ProjectsConfig struct {
	CheckIntervalSec int `toml:"check_interval_sec"`
}

// Default returns a configuration with every field set to its default.
func Default() *Config {
	return &Config{
		Paths: PathsConfig{
			ProjectDir: "~/typeset/projects",
			WorkDir:    "~/typeset/work",
			OutputDir:  "~/typeset/output",
			LogDir:     "~/typeset/logs",
			APIBind:    "127.0.0.1:7474",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "console",
		},
		Workflow: WorkflowConfig{
			PollIntervalSec: 5,
		},
		Tagging: TaggingConfig{
			Endpoint:   "http://127.0.0.1:8090",
			TimeoutSec: 300,
		},
		Render: RenderConfig{
			TimeoutSec: 300,
			Workers: []WorkerConfig{
				{Name: "render-1", Endpoint: "http://127.0.0.1:8091"},
			},
		},
		Transfer: TransferConfig{
			Region:   "auto",
			LocalDir: "~/typeset/inbox",
		},
		Retention: RetentionConfig{
			MaxAgeSec: 600,
		},
		Projects: ProjectsConfig{
			CheckIntervalSec: 60,
		},
	}
}

// Load reads the configuration file at path, applies defaults for any
// missing fields, normalizes paths, and validates the result.
func Load(path string) (*Config, error) {
	expanded, err := ExpandPath(path)
	if err != nil {
		return nil, err
	}

	data, err := os.ReadFile(expanded)
	if err != nil {
		return nil, services.Wrap(services.ErrConfiguration, "", "load", fmt.Sprintf("read %s", expanded), err)
	}

	cfg := Default()
	if err := toml.Unmarshal(data, cfg); err != nil {
		return nil, services.Wrap(services.ErrConfiguration, "", "load", fmt.Sprintf("parse %s", expanded), err)
	}

	if err := cfg.normalize(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadOrDefault behaves like Load but falls back to defaults when the
// file does not exist.
func LoadOrDefault(path string) (*Config, error) {
	expanded, err := ExpandPath(path)
	if err != nil {
		return nil, err
	}
	if _, statErr := os.Stat(expanded); statErr != nil {
		if errors.Is(statErr, os.ErrNotExist) {
			cfg := Default()
			if err := cfg.normalize(); err != nil {
				return nil, err
			}
			if err := cfg.Validate(); err != nil {
				return nil, err
			}
			return cfg, nil
		}
		return nil, services.Wrap(services.ErrConfiguration, "", "load", fmt.Sprintf("stat %s", expanded), statErr)
	}
	return Load(expanded)
}

// WriteSample writes the annotated sample configuration to path,
// refusing to overwrite an existing file.
func WriteSample(path string) error {
	expanded, err := ExpandPath(path)
	if err != nil {
		return err
	}
	if _, statErr := os.Stat(expanded); statErr == nil {
		return services.Wrap(services.ErrConfiguration, "", "init", fmt.Sprintf("%s already exists", expanded), nil)
	}
	if err := os.MkdirAll(filepath.Dir(expanded), 0o755); err != nil {
		return services.Wrap(services.ErrConfiguration, "", "init", "create config directory", err)
	}
	if err := os.WriteFile(expanded, []byte(sampleConfig), 0o644); err != nil {
		return services.Wrap(services.ErrConfiguration, "", "init", fmt.Sprintf("write %s", expanded), err)
	}
	return nil
}

// DefaultConfigPath returns the conventional config file location.
func DefaultConfigPath() string {
	return "~/.config/typeset/config.toml"
}

// ExpandPath resolves a leading ~ against the current user's home
// directory and returns an absolute path.
func ExpandPath(path string) (string, error) {
	trimmed := strings.TrimSpace(path)
	if trimmed == "" {
		return "", services.Wrap(services.ErrConfiguration, "", "expand", "empty path", nil)
	}
	if trimmed == "~" || strings.HasPrefix(trimmed, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", services.Wrap(services.ErrConfiguration, "", "expand", "resolve home directory", err)
		}
		if trimmed == "~" {
			trimmed = home
		} else {
			trimmed = filepath.Join(home, trimmed[2:])
		}
	}
	abs, err := filepath.Abs(trimmed)
	if err != nil {
		return "", services.Wrap(services.ErrConfiguration, "", "expand", fmt.Sprintf("resolve %s", trimmed), err)
	}
	return abs, nil
}

// EnsureDirectories creates the working directories the daemon needs.
func (c *Config) EnsureDirectories() error {
	for _, dir := range []string{c.Paths.ProjectDir, c.Paths.WorkDir, c.Paths.OutputDir, c.Paths.LogDir} {
		if dir == "" {
			continue
		}
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return services.Wrap(services.ErrConfiguration, "", "ensure", fmt.Sprintf("create %s", dir), err)
		}
	}
	return nil
}

func (c *Config) normalize() error {
	var err error
	if c.Paths.ProjectDir, err = ExpandPath(c.Paths.ProjectDir); err != nil {
		return err
	}
	if c.Paths.WorkDir, err = ExpandPath(c.Paths.WorkDir); err != nil {
		return err
	}
	if c.Paths.OutputDir, err = ExpandPath(c.Paths.OutputDir); err != nil {
		return err
	}
	if c.Paths.LogDir, err = ExpandPath(c.Paths.LogDir); err != nil {
		return err
	}
	if c.Transfer.LocalDir != "" {
		if c.Transfer.LocalDir, err = ExpandPath(c.Transfer.LocalDir); err != nil {
			return err
		}
	}

	c.Logging.Level = strings.ToLower(strings.TrimSpace(c.Logging.Level))
	c.Logging.Format = strings.ToLower(strings.TrimSpace(c.Logging.Format))
	c.Tagging.Endpoint = strings.TrimRight(strings.TrimSpace(c.Tagging.Endpoint), "/")
	for i := range c.Render.Workers {
		c.Render.Workers[i].Name = strings.TrimSpace(c.Render.Workers[i].Name)
		c.Render.Workers[i].Endpoint = strings.TrimRight(strings.TrimSpace(c.Render.Workers[i].Endpoint), "/")
	}
	return nil
}

// Validate rejects configurations the daemon cannot run with.
func (c *Config) Validate() error {
	var problems []string

	if c.Paths.APIBind == "" {
		problems = append(problems, "paths.api_bind must not be empty")
	}
	if c.Workflow.PollIntervalSec <= 0 {
		problems = append(problems, "workflow.poll_interval_sec must be positive")
	}
	if c.Tagging.Endpoint == "" {
		problems = append(problems, "tagging.endpoint must not be empty")
	}
	if c.Tagging.TimeoutSec <= 0 {
		problems = append(problems, "tagging.timeout_sec must be positive")
	}
	if c.Render.TimeoutSec <= 0 {
		problems = append(problems, "render.timeout_sec must be positive")
	}
	if len(c.Render.Workers) == 0 {
		problems = append(problems, "render.workers must declare at least one worker")
	}
	seen := map[string]struct{}{}
	for i, worker := range c.Render.Workers {
		if worker.Name == "" {
			problems = append(problems, fmt.Sprintf("render.workers[%d].name must not be empty", i))
			continue
		}
		if worker.Endpoint == "" {
			problems = append(problems, fmt.Sprintf("render.workers[%d].endpoint must not be empty", i))
		}
		if _, dup := seen[worker.Name]; dup {
			problems = append(problems, fmt.Sprintf("render.workers[%d].name %q duplicates another worker", i, worker.Name))
		}
		seen[worker.Name] = struct{}{}
	}
	if c.Retention.MaxAgeSec <= 0 {
		problems = append(problems, "retention.max_age_sec must be positive")
	}
	if c.Projects.CheckIntervalSec <= 0 {
		problems = append(problems, "projects.check_interval_sec must be positive")
	}
	if c.Transfer.Bucket != "" {
		if c.Transfer.AccessKeyID == "" || c.Transfer.SecretAccessKey == "" {
			problems = append(problems, "transfer.access_key_id and transfer.secret_access_key are required when transfer.bucket is set")
		}
	} else if c.Transfer.LocalDir == "" {
		problems = append(problems, "transfer.local_dir is required when transfer.bucket is unset")
	}

	if len(problems) > 0 {
		return services.Wrap(services.ErrConfiguration, "", "validate", strings.Join(problems, "; "), nil)
	}
	return nil
}

// DatabasePath returns the job store location under the work directory.
func (c *Config) DatabasePath() string {
	return filepath.Join(c.Paths.WorkDir, "typeset.db")
}
