package config

import (
	"bytes"
	"encoding/json"
	"os"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/go-playground/validator/v10"
	"github.com/invopop/jsonschema"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/wippyai/ffi-runtime/errors"
)

// validate is shared; building a validator is expensive.
var validate = validator.New()

// Config is the ffirun configuration file.
type Config struct {
	Runtime   RuntimeConfig   `toml:"runtime" json:"runtime"`
	Callbacks CallbackConfig  `toml:"callbacks" json:"callbacks"`
	Calls     CallConfig      `toml:"calls" json:"calls"`
	Logging   LoggingConfig   `toml:"logging" json:"logging"`
	Libraries []LibraryConfig `toml:"libraries,omitempty" json:"libraries,omitempty" validate:"dive"`
}

// RuntimeConfig selects where marshalled values live.
type RuntimeConfig struct {
	// Allocator is "libc" (malloc family) or "arena" (one mmap region).
	Allocator string `toml:"allocator" json:"allocator" validate:"oneof=libc arena" jsonschema:"enum=libc,enum=arena"`
	ArenaSize int    `toml:"arena_size" json:"arena_size" validate:"gte=4096,lte=1073741824"`
	// ZeroCopyBytes decodes byte arrays as views of native memory.
	ZeroCopyBytes bool `toml:"zero_copy_bytes" json:"zero_copy_bytes"`
}

type CallbackConfig struct {
	QueueSize int `toml:"queue_size" json:"queue_size" validate:"gte=1,lte=1048576"`
}

type CallConfig struct {
	// Concurrency bounds CallAll batches.
	Concurrency  int  `toml:"concurrency" json:"concurrency" validate:"gte=1,lte=1024"`
	CaptureErrno bool `toml:"capture_errno" json:"capture_errno"`
}

type LoggingConfig struct {
	Level       string `toml:"level" json:"level" validate:"oneof=debug info warn error" jsonschema:"enum=debug,enum=info,enum=warn,enum=error"`
	Format      string `toml:"format" json:"format" validate:"oneof=console json" jsonschema:"enum=console,enum=json"`
	Development bool   `toml:"development" json:"development"`
}

// LibraryConfig names a shared library to open at startup. An empty Path
// opens the running process.
type LibraryConfig struct {
	Name      string                    `toml:"name" json:"name" validate:"required"`
	Path      string                    `toml:"path,omitempty" json:"path,omitempty"`
	Functions map[string]FunctionConfig `toml:"functions,omitempty" json:"functions,omitempty" validate:"dive"`
}

// FunctionConfig is a signature written with descriptor documents, e.g.
// params = ["cstring", "i32"] and return = "i64".
type FunctionConfig struct {
	Params []any `toml:"params,omitempty" json:"params,omitempty"`
	Return any   `toml:"return,omitempty" json:"return,omitempty"`
	// Fixed marks a variadic function and counts its named parameters.
	Fixed *int `toml:"fixed,omitempty" json:"fixed,omitempty" validate:"omitempty,gte=0"`
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	return &Config{
		Runtime: RuntimeConfig{
			Allocator: "libc",
			ArenaSize: 1 << 20,
		},
		Callbacks: CallbackConfig{QueueSize: 1024},
		Calls: CallConfig{
			Concurrency:  8,
			CaptureErrno: true,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "console",
		},
	}
}

// Load reads a TOML file over the defaults and validates the result.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(errors.PhaseConfig, errors.KindExternal, err, "read "+path)
	}
	cfg, err := Parse(data)
	if err != nil {
		return nil, errors.Wrap(errors.PhaseConfig, errors.KindInvalidInput, err, path)
	}
	return cfg, nil
}

// Parse decodes TOML over the defaults and validates the result.
// Unknown keys are rejected.
func Parse(data []byte) (*Config, error) {
	cfg := Default()
	meta, err := toml.NewDecoder(bytes.NewReader(data)).Decode(cfg)
	if err != nil {
		return nil, errors.Wrap(errors.PhaseConfig, errors.KindInvalidData, err, "failed to parse TOML")
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, len(undecoded))
		for i, k := range undecoded {
			keys[i] = k.String()
		}
		return nil, errors.InvalidInput(errors.PhaseConfig, "unknown keys: "+strings.Join(keys, ", "))
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks field constraints and library name uniqueness.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return errors.Wrap(errors.PhaseConfig, errors.KindInvalidInput, err, "config validation failed")
	}
	seen := make(map[string]struct{}, len(c.Libraries))
	for _, lib := range c.Libraries {
		if _, dup := seen[lib.Name]; dup {
			return errors.New(errors.PhaseConfig, errors.KindInvalidInput).
				Path("libraries", lib.Name).
				Detail("duplicate library name").
				Build()
		}
		seen[lib.Name] = struct{}{}
		for name, fn := range lib.Functions {
			if fn.Fixed != nil && *fn.Fixed > len(fn.Params) {
				return errors.New(errors.PhaseConfig, errors.KindInvalidInput).
					Path("libraries", lib.Name, "functions", name).
					Detail("fixed = %d exceeds %d params", *fn.Fixed, len(fn.Params)).
					Build()
			}
		}
	}
	return nil
}

// Encode writes c as TOML.
func (c *Config) Encode() ([]byte, error) {
	var buf bytes.Buffer
	if err := toml.NewEncoder(&buf).Encode(c); err != nil {
		return nil, errors.Wrap(errors.PhaseConfig, errors.KindExternal, err, "encode TOML")
	}
	return buf.Bytes(), nil
}

// Schema returns the JSON Schema of the configuration file.
func Schema() ([]byte, error) {
	reflector := jsonschema.Reflector{
		ExpandedStruct: true,
	}
	schema := reflector.Reflect(&Config{})

	out, err := json.MarshalIndent(schema, "", "  ")
	if err != nil {
		return nil, errors.Wrap(errors.PhaseConfig, errors.KindExternal, err, "failed to marshal schema")
	}
	return out, nil
}

// Logger builds a zap logger for the logging section.
func (l LoggingConfig) Logger() (*zap.Logger, error) {
	level, err := zapcore.ParseLevel(l.Level)
	if err != nil {
		return nil, errors.Wrap(errors.PhaseConfig, errors.KindInvalidInput, err, "logging.level")
	}
	zc := zap.NewProductionConfig()
	if l.Development {
		zc = zap.NewDevelopmentConfig()
	}
	zc.Level = zap.NewAtomicLevelAt(level)
	zc.Encoding = l.Format
	if l.Format == "console" {
		zc.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	}
	zc.OutputPaths = []string{"stderr"}
	return zc.Build()
}
