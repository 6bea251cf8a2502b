// Package app builds cobra commands from an option tree. Flags, an optional
// config file and environment variables all feed the same options, in that
// order of precedence.
package app

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	cliflag "k8s.io/component-base/cli/flag"
	"k8s.io/component-base/term"

	"github.com/tanay1904/Drone/pkg/log"
)

// RunFunc is the body of the command, called once options are loaded and valid.
type RunFunc func() error

// ReloadFunc is called after the config file changed and the options were
// reloaded and validated.
type ReloadFunc func()

type App struct {
	name             string
	shortDescription string
	description      string
	options          NamedFlagSetOptions
	logOptions       *log.Options
	runFunc          RunFunc
	reloadFunc       ReloadFunc
	silence          bool
	noConfig         bool
	args             cobra.PositionalArgs
	commands         []*cobra.Command

	cmd *cobra.Command
	v   *viper.Viper
}

type Option func(*App)

func WithOptions(opts NamedFlagSetOptions) Option {
	return func(a *App) { a.options = opts }
}

// WithLogOptions initializes the global logger from opts before the run
// function is called.
func WithLogOptions(opts *log.Options) Option {
	return func(a *App) { a.logOptions = opts }
}

func WithRunFunc(run RunFunc) Option {
	return func(a *App) { a.runFunc = run }
}

// WithReloadFunc watches the config file and calls fn after every change.
func WithReloadFunc(fn ReloadFunc) Option {
	return func(a *App) { a.reloadFunc = fn }
}

func WithDescription(desc string) Option {
	return func(a *App) { a.description = desc }
}

// WithSilence suppresses the startup log lines.
func WithSilence() Option {
	return func(a *App) { a.silence = true }
}

// WithNoConfig drops the --config flag.
func WithNoConfig() Option {
	return func(a *App) { a.noConfig = true }
}

func WithValidArgs(args cobra.PositionalArgs) Option {
	return func(a *App) { a.args = args }
}

// WithDefaultValidArgs rejects any positional argument.
func WithDefaultValidArgs() Option {
	return func(a *App) {
		a.args = func(cmd *cobra.Command, args []string) error {
			for _, arg := range args {
				if len(arg) > 0 {
					return fmt.Errorf("%q does not take any arguments, got %q", cmd.CommandPath(), args)
				}
			}
			return nil
		}
	}
}

// WithCommands adds subcommands.
func WithCommands(cmds ...*cobra.Command) Option {
	return func(a *App) { a.commands = append(a.commands, cmds...) }
}

func NewApp(name, shortDescription string, opts ...Option) *App {
	a := &App{
		name:             name,
		shortDescription: shortDescription,
		v:                viper.New(),
	}
	for _, o := range opts {
		o(a)
	}
	a.buildCommand()
	return a
}

// Command returns the root command.
func (a *App) Command() *cobra.Command {
	return a.cmd
}

// Run executes the root command and exits the process on failure.
func (a *App) Run() {
	if err := a.cmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		os.Exit(1)
	}
}

func (a *App) buildCommand() {
	cmd := &cobra.Command{
		Use:           a.name,
		Short:         a.shortDescription,
		Long:          a.description,
		SilenceUsage:  true,
		SilenceErrors: true,
		Args:          a.args,
	}
	cmd.SetOut(os.Stdout)
	cmd.SetErr(os.Stderr)
	cmd.Flags().SortFlags = true

	var fss cliflag.NamedFlagSets
	if a.options != nil {
		fss = a.options.Flags()
	}
	if !a.noConfig {
		addConfigFlag(a.name, fss.FlagSet("global"))
	}
	fss.FlagSet("global").BoolP("help", "h", false, fmt.Sprintf("Help for %s.", a.name))

	fs := cmd.Flags()
	for _, f := range fss.FlagSets {
		fs.AddFlagSet(f)
	}

	cols, _, _ := term.TerminalSize(cmd.OutOrStdout())
	cliflag.SetUsageAndHelpFunc(cmd, fss, cols)

	if a.runFunc != nil {
		cmd.RunE = func(cmd *cobra.Command, _ []string) error {
			return a.runCommand(cmd)
		}
	}
	cmd.AddCommand(a.commands...)

	a.cmd = cmd
}

func (a *App) runCommand(cmd *cobra.Command) error {
	if !a.noConfig {
		if err := a.loadConfig(cmd.Flags()); err != nil {
			return err
		}
	}

	if a.options != nil {
		if err := a.options.Complete(); err != nil {
			return fmt.Errorf("failed to complete options: %w", err)
		}
		if err := a.options.Validate(); err != nil {
			return err
		}
	}

	if a.logOptions != nil {
		log.Init(a.logOptions)
	}

	if !a.silence {
		log.Info("Starting application", "name", a.name)
		if file := a.v.ConfigFileUsed(); file != "" {
			log.Info("Loaded config file", "file", file)
		}
	}

	if a.reloadFunc != nil && !a.noConfig {
		a.watchConfig()
	}

	return a.runFunc()
}
