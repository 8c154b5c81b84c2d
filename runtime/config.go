package runtime

import (
	"fmt"
	"net"
	"os"
	"regexp"
	"strings"

	"github.com/creasty/defaults"
	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// Package-level validator instance shared by all config preparation.
var validate *validator.Validate

func init() {
	validate = validator.New()

	// hostname_port validates "host:port" with a numeric port.
	validate.RegisterValidation("hostname_port", func(fl validator.FieldLevel) bool {
		addr := fl.Field().String()
		host, port, err := net.SplitHostPort(addr)
		if err != nil || host == "" || port == "" {
			return false
		}
		_, err = net.LookupPort("tcp", port)
		return err == nil
	})
}

// Limits bounds runaway or generated specifications. Zero values fall back to
// defaults so a zero Limits is always usable.
type Limits struct {
	// MaxActions caps the length of any single action sequence.
	MaxActions int `yaml:"max_actions" default:"1000" validate:"gte=1"`
	// MaxParallel caps parallel fan-out and batch window size.
	MaxParallel int `yaml:"max_parallel" default:"50" validate:"gte=1"`
	// MaxIterations caps flow_while loops.
	MaxIterations int `yaml:"max_iterations" default:"10000" validate:"gte=1"`
	// MaxFlowDepth caps call_flow recursion.
	MaxFlowDepth int `yaml:"max_flow_depth" default:"32" validate:"gte=1"`
}

func (l Limits) withDefaults() Limits {
	out := l
	if out.MaxActions <= 0 {
		out.MaxActions = 1000
	}
	if out.MaxParallel <= 0 {
		out.MaxParallel = 50
	}
	if out.MaxIterations <= 0 {
		out.MaxIterations = 10000
	}
	if out.MaxFlowDepth <= 0 {
		out.MaxFlowDepth = 32
	}
	return out
}

// ServerConfig configures the HTTP dispatch surface.
type ServerConfig struct {
	Addr string `yaml:"addr" default:"localhost:8080" validate:"hostname_port"`
}

// StateConfig selects and configures the state manager backend.
type StateConfig struct {
	Backend string `yaml:"backend" default:"memory" validate:"oneof=memory bolt"`
	// Path is the bolt database file; required when backend is bolt.
	Path string `yaml:"path"`
}

// AppConfig is the full engine configuration loaded at startup.
type AppConfig struct {
	SpecDir  string       `yaml:"spec_dir" default:"botspecs"`
	LogLevel string       `yaml:"log_level" default:"info" validate:"oneof=debug info warn error"`
	Limits   Limits       `yaml:"limits"`
	Server   ServerConfig `yaml:"server"`
	State    StateConfig  `yaml:"state"`
}

// LoadAppConfig reads the optional YAML config file, resolves ${ENV} property
// references, applies struct-tag defaults, and validates the result. A
// missing file yields the pure-defaults configuration.
func LoadAppConfig(path string) (*AppConfig, error) {
	cfg := &AppConfig{}

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case os.IsNotExist(err):
			// Defaults only.
		case err != nil:
			return nil, fmt.Errorf("error reading config file: %w", err)
		default:
			var raw map[string]any
			if err := yaml.Unmarshal(data, &raw); err != nil {
				return nil, fmt.Errorf("error unmarshalling config: %w", err)
			}
			resolved, err := resolveEnvVars(raw)
			if err != nil {
				return nil, err
			}
			normalized, err := yaml.Marshal(resolved)
			if err != nil {
				return nil, fmt.Errorf("error normalizing config: %w", err)
			}
			if err := yaml.Unmarshal(normalized, cfg); err != nil {
				return nil, fmt.Errorf("error decoding config: %w", err)
			}
		}
	}

	if err := PrepareConfig(cfg); err != nil {
		return nil, err
	}
	if cfg.State.Backend == "bolt" && cfg.State.Path == "" {
		return nil, fmt.Errorf("state.path is required when state.backend is bolt")
	}
	return cfg, nil
}

// PrepareConfig applies struct-tag defaults and validates. It is also the
// entry point handler packages use for their own config structs.
func PrepareConfig(config any) error {
	if config == nil {
		return fmt.Errorf("config cannot be nil")
	}
	if err := defaults.Set(config); err != nil {
		return fmt.Errorf("failed to apply default values: %w", err)
	}
	return validateConfig(config)
}

func validateConfig(config any) error {
	err := validate.Struct(config)
	if err == nil {
		return nil
	}

	if validationErrors, ok := err.(validator.ValidationErrors); ok {
		var messages []string
		for _, fieldErr := range validationErrors {
			messages = append(messages, fmt.Sprintf(
				"field '%s' failed validation (rule: %s)", fieldErr.Field(), fieldErr.Tag()))
		}
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(messages, "\n  - "))
	}
	return fmt.Errorf("config validation failed: %w", err)
}

// envVarPattern matches ${VAR} and ${VAR:default} values.
var envVarPattern = regexp.MustCompile(`^\$\{([A-Z_][A-Z0-9_]*)(:[^}]*)?\}$`)

// resolveEnvVars walks a decoded config tree replacing ${VAR} string values
// with the environment value or the declared default. An unset variable with
// no default is an error rather than a silent empty string.
func resolveEnvVars(v any) (any, error) {
	switch val := v.(type) {
	case string:
		return resolveEnvVar(val)
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, item := range val {
			resolved, err := resolveEnvVars(item)
			if err != nil {
				return nil, err
			}
			out[k] = resolved
		}
		return out, nil
	case []any:
		out := make([]any, len(val))
		for i, item := range val {
			resolved, err := resolveEnvVars(item)
			if err != nil {
				return nil, err
			}
			out[i] = resolved
		}
		return out, nil
	default:
		return v, nil
	}
}

func resolveEnvVar(value string) (any, error) {
	matches := envVarPattern.FindStringSubmatch(value)
	if matches == nil {
		return value, nil
	}

	varName := matches[1]
	defaultPart := matches[2]

	if envValue, exists := os.LookupEnv(varName); exists {
		return envValue, nil
	}
	if defaultPart != "" {
		return strings.TrimPrefix(defaultPart, ":"), nil
	}
	return nil, fmt.Errorf("required environment variable not set: %s", varName)
}
