package models

import (
	"os"
	"reflect"
	"strconv"
	"strings"

	"github.com/mitchellh/mapstructure"
	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"

	"github.com/lunixbochs/tracecorn/go/logging"
)

// AddrRange is a half-open interval [Start, End).
type AddrRange struct {
	Start uint32 `mapstructure:"start"`
	End   uint32 `mapstructure:"end"`
}

// SymbolConfig binds a name to a function, a memory address, or a memory range when Size is set.
type SymbolConfig struct {
	Name string `mapstructure:"name"`
	Addr uint32 `mapstructure:"addr"`
	Size uint32 `mapstructure:"size"`
	Kind string `mapstructure:"kind"`
}

type Config struct {
	// Color enables ANSI colors in trace dumps
	Color    bool   `mapstructure:"color"`
	LogLevel string `mapstructure:"log_level"`

	TraceFlow      bool        `mapstructure:"trace_flow"`
	TraceMem       bool        `mapstructure:"trace_mem"`
	TraceMemReads  bool        `mapstructure:"trace_mem_reads"`
	TraceMemRanges []AddrRange `mapstructure:"trace_mem_ranges"`
	TraceExec      bool        `mapstructure:"trace_exec"`
	TraceReg       bool        `mapstructure:"trace_reg"`
	TraceOut       string      `mapstructure:"trace_out"`
	// TraceName labels the summary slice of each call session
	TraceName string `mapstructure:"trace_name"`

	// CallBudget is the default cycle budget for call sessions
	CallBudget uint64 `mapstructure:"call_budget"`

	Symbols []SymbolConfig `mapstructure:"symbols"`
}

func DefaultConfig() *Config {
	return &Config{
		LogLevel:   "info",
		TraceFlow:  true,
		TraceMem:   true,
		TraceName:  "session",
		CallBudget: 1000000,
	}
}

// hexHook lets addresses be written as "0x2000" strings as well as YAML integers.
func hexHook(from, to reflect.Type, data interface{}) (interface{}, error) {
	if from.Kind() != reflect.String {
		return data, nil
	}
	switch to.Kind() {
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
	default:
		return data, nil
	}
	s := strings.ReplaceAll(strings.TrimSpace(data.(string)), "_", "")
	n, err := strconv.ParseUint(s, 0, to.Bits())
	if err != nil {
		return nil, errors.Wrapf(err, "bad number %q", data)
	}
	return n, nil
}

// ParseConfig decodes YAML over the defaults. Unknown keys are an error.
func ParseConfig(data []byte) (*Config, error) {
	var raw map[string]interface{}
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, errors.Wrap(err, "config: yaml")
	}
	cfg := DefaultConfig()
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		DecodeHook:  mapstructure.DecodeHookFuncType(hexHook),
		ErrorUnused: true,
		Result:      cfg,
	})
	if err != nil {
		return nil, errors.Wrap(err, "config")
	}
	if err := dec.Decode(raw); err != nil {
		return nil, errors.Wrap(err, "config")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "config")
	}
	cfg, err := ParseConfig(data)
	return cfg, errors.Wrap(err, path)
}

func (c *Config) Validate() error {
	if _, err := logging.ParseLevel(c.LogLevel); err != nil {
		return errors.Wrap(err, "config")
	}
	for _, r := range c.TraceMemRanges {
		if r.End <= r.Start {
			return errors.Errorf("config: empty memory trace range %#x-%#x", r.Start, r.End)
		}
	}
	for _, s := range c.Symbols {
		switch s.Kind {
		case "", "func", "mem":
		default:
			return errors.Errorf("config: symbol %q has unknown kind %q", s.Name, s.Kind)
		}
		if s.Name == "" {
			return errors.Errorf("config: unnamed symbol at %#x", s.Addr)
		}
	}
	return nil
}

// LoadSymbols registers the configured names. A symbol without a kind is a function.
func (c *Config) LoadSymbols(s *Symbols) error {
	for _, sym := range c.Symbols {
		switch {
		case sym.Kind == "mem" && sym.Size > 0:
			if err := s.AddMemoryRange(sym.Addr, sym.Size, sym.Name); err != nil {
				return err
			}
		case sym.Kind == "mem":
			s.AddMemory(sym.Addr, sym.Name)
		default:
			s.AddFunction(sym.Addr, sym.Name)
		}
	}
	return nil
}
