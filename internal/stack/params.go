package stack

import (
	"fmt"
	"os"
	"slices"
	"time"

	"github.com/stratus-io/stratus/internal/errdefs"
	"github.com/stratus-io/stratus/internal/state"
	"gopkg.in/yaml.v3"
)

// DefaultParamsFile is where LoadParams looks when no path is given.
const DefaultParamsFile = "stratus.yaml"

// Build modes for the image node.
const (
	BuildModeDocker = "docker"
	BuildModeTask   = "task"
)

// Params are the deployment knobs read from stratus.yaml. Everything has
// a default; an empty file (or no file at all) deploys the full stack.
type Params struct {
	// Name prefixes every resource name, so two stacks with different
	// names coexist in one account.
	Name        string `yaml:"name"`
	Region      string `yaml:"region"`
	Parallelism int    `yaml:"parallelism"`

	Service ServiceParams `yaml:"service"`
	Build   BuildParams   `yaml:"build"`
	Secret  SecretParams  `yaml:"secret"`

	// Disabled lists stack nodes to leave out of the deployment. A node
	// disabled after it was created is destroyed on the next deploy.
	Disabled []string `yaml:"disabled"`

	// Backend overrides where state is stored. Nil means a local file.
	Backend *state.BackendConfig `yaml:"backend"`
}

type ServiceParams struct {
	Port   int    `yaml:"port"`
	CPU    string `yaml:"cpu"`
	Memory string `yaml:"memory"`
}

type BuildParams struct {
	// Mode selects how the image is produced: "docker" builds and pushes
	// through the daemon API, "task" runs a user-supplied command.
	Mode       string            `yaml:"mode"`
	Context    string            `yaml:"context"`
	Dockerfile string            `yaml:"dockerfile"`
	Tag        string            `yaml:"tag"`
	Platform   string            `yaml:"platform"`
	Command    []string          `yaml:"command"`
	Env        map[string]string `yaml:"env"`
	RunOnce    bool              `yaml:"run_once"`
	Timeout    Duration          `yaml:"timeout"`
}

type SecretParams struct {
	// ValueFrom names the environment variable holding the API key. The
	// value itself never appears in parameters, state or logs.
	ValueFrom string `yaml:"value_from"`
}

// Duration parses yaml values like "15m" or "1h30m".
type Duration time.Duration

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	*d = Duration(parsed)
	return nil
}

func (d Duration) MarshalYAML() (any, error) {
	return time.Duration(d).String(), nil
}

func DefaultParams() *Params {
	return &Params{
		Name: "weather",
		Service: ServiceParams{
			Port:   8080,
			CPU:    "1024",
			Memory: "2048",
		},
		Build: BuildParams{
			Mode:     BuildModeDocker,
			Context:  ".",
			Tag:      "latest",
			Platform: "linux/amd64",
			Timeout:  Duration(15 * time.Minute),
		},
		Secret: SecretParams{
			ValueFrom: "OPENWEATHER_API_KEY",
		},
	}
}

// LoadParams reads a parameters file over the defaults. With an empty
// path the default file is optional; a path given explicitly must exist.
func LoadParams(path string) (*Params, error) {
	params := DefaultParams()

	explicit := path != ""
	if !explicit {
		path = DefaultParamsFile
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) && !explicit {
			return params, nil
		}
		return nil, fmt.Errorf("failed to read parameters file: %w", err)
	}

	if err := yaml.Unmarshal(data, params); err != nil {
		return nil, errdefs.New(errdefs.ValidationError, "failed to parse %s: %v", path, err)
	}
	if err := params.Validate(); err != nil {
		return nil, err
	}
	return params, nil
}

func (p *Params) Validate() error {
	if p.Name == "" {
		return errdefs.New(errdefs.ValidationError, "stack name must not be empty")
	}
	if p.Service.Port <= 0 || p.Service.Port > 65535 {
		return errdefs.New(errdefs.ValidationError, "service port %d out of range", p.Service.Port)
	}
	if p.Parallelism < 0 {
		return errdefs.New(errdefs.ValidationError, "parallelism must not be negative")
	}
	switch p.Build.Mode {
	case BuildModeDocker:
	case BuildModeTask:
		if len(p.Build.Command) == 0 {
			return errdefs.New(errdefs.ValidationError, "build.command is required when build.mode is %q", BuildModeTask)
		}
	default:
		return errdefs.New(errdefs.ValidationError, "unknown build.mode %q, want %q or %q", p.Build.Mode, BuildModeDocker, BuildModeTask)
	}
	for _, node := range p.Disabled {
		if !slices.Contains(nodeNames, node) {
			return errdefs.New(errdefs.ValidationError, "unknown node %q in disabled list, valid nodes: %v", node, nodeNames)
		}
	}
	return nil
}

// NodeEnabled reports whether the named stack node is deployed.
func (p *Params) NodeEnabled(node string) bool {
	return !slices.Contains(p.Disabled, node)
}
