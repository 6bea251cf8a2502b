package log

import (
	"fmt"

	"github.com/spf13/pflag"
)

// Options contains configuration settings for the logger.
type Options struct {
	// Name is an optional name for the root logger.
	Name string `json:"name,omitempty" mapstructure:"name"`

	// Level is the minimum log level: debug, info, warn or error.
	// It can be changed at runtime through a config reload.
	Level string `json:"level,omitempty" mapstructure:"level"`

	// Format is either json or console.
	Format string `json:"format,omitempty" mapstructure:"format"`

	// EnableColor colorizes levels in console format.
	EnableColor bool `json:"enable-color,omitempty" mapstructure:"enable-color"`

	// DisableCaller drops the caller file:line annotation.
	DisableCaller bool `json:"disable-caller,omitempty" mapstructure:"disable-caller"`

	// CallerSkip increases the number of callers skipped by caller annotation.
	CallerSkip int `json:"caller-skip,omitempty" mapstructure:"caller-skip"`

	// OutputPaths lists log sinks; "stdout" and "stderr" are accepted.
	OutputPaths []string `json:"output-paths,omitempty" mapstructure:"output-paths"`
}

// NewOptions creates Options with defaults suitable for an interactive terminal.
func NewOptions() *Options {
	return &Options{
		Name:        "drone-gateway",
		Level:       "info",
		Format:      "console",
		EnableColor: true,
		CallerSkip:  2, // package-level helpers plus the zapLogger method
		OutputPaths: []string{"stdout"},
	}
}

// Validate checks the format value; other fields have safe fallbacks.
func (o *Options) Validate() []error {
	var errs []error
	if o.Format != "console" && o.Format != "json" {
		errs = append(errs, fmt.Errorf("--log.format must be 'console' or 'json', got %q", o.Format))
	}
	return errs
}

// AddFlags binds command-line flags to the Options fields.
func (o *Options) AddFlags(fs *pflag.FlagSet) {
	fs.StringVar(&o.Name, "log.name", o.Name, "An optional name for the logger.")
	fs.StringVar(&o.Format, "log.format", o.Format, "The log output format ('json' or 'console').")
	fs.BoolVar(&o.EnableColor, "log.enable-color", o.EnableColor, "Enable colorized output for the console format.")
	fs.IntVar(&o.CallerSkip, "log.caller-skip", o.CallerSkip, "The number of caller frames to skip.")
	fs.StringVar(&o.Level, "log.level", o.Level, "The minimum log level to output (e.g., 'debug', 'info', 'warn', 'error').")
	fs.BoolVar(&o.DisableCaller, "log.disable-caller", o.DisableCaller, "Disable the caller field in logs (file and line number).")
	fs.StringSliceVar(&o.OutputPaths, "log.output-paths", o.OutputPaths, "A list of log output paths (e.g., 'stdout', '/var/log/gateway.log').")
}
