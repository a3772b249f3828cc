// Package app provides the cobra/viper command bootstrap shared by the
// reconciliation core's binaries, in the shape implied by the call sites
// the teacher repository left behind (see DESIGN.md).
package app

import (
	"context"
	"fmt"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	cliflag "k8s.io/component-base/cli/flag"
)

// RunFunc is the function executed once options have been parsed and
// validated.
type RunFunc func() error

// NamedFlagSetOptions is implemented by a binary's aggregate Options type.
// Each sub-options struct is expected to implement the same shape
// (Flags/Validate), composed here the way the teacher's per-binary
// Options structs do.
type NamedFlagSetOptions interface {
	Flags() cliflag.NamedFlagSets
	Validate() []error
}

// App wraps a cobra.Command with the conventions used by every binary in
// this module: flags bound through viper, validated before Run, errors
// surfaced as plain command failures.
type App struct {
	name        string
	shortDesc   string
	longDesc    string
	options     NamedFlagSetOptions
	runFunc     RunFunc
	validArgs   cobra.PositionalArgs
	ctxExtract  map[string]func(context.Context) string
	cmd         *cobra.Command
	viperPrefix string
	configFile  func() string
	onChange    func(*viper.Viper)
	viper       *viper.Viper
}

// Option configures an App.
type Option func(*App)

// WithDescription sets the long description shown in --help.
func WithDescription(desc string) Option {
	return func(a *App) { a.longDesc = desc }
}

// WithOptions attaches the binary's aggregate options object.
func WithOptions(opts NamedFlagSetOptions) Option {
	return func(a *App) { a.options = opts }
}

// WithRunFunc sets the function executed after flags are parsed and
// validated.
func WithRunFunc(run RunFunc) Option {
	return func(a *App) { a.runFunc = run }
}

// WithDefaultValidArgs accepts any positional arguments (the teacher's
// binaries take none; this keeps cobra from rejecting stray args passed by
// process supervisors).
func WithDefaultValidArgs() Option {
	return func(a *App) { a.validArgs = cobra.ArbitraryArgs }
}

// WithConfigFile points the App's viper instance at a config file in
// addition to flags and environment variables, resolved lazily via path
// (called after flags are parsed, so it can read a --config flag's bound
// field) rather than a literal string. An empty result disables file-based
// configuration entirely.
func WithConfigFile(path func() string) Option {
	return func(a *App) { a.configFile = path }
}

// WithOnConfigChange registers a callback invoked whenever the config file
// set by WithConfigFile changes on disk, watched via fsnotify the way
// viper's WatchConfig does it. Has no effect unless a config file is also
// set; used for options that may be tuned without a restart, such as the
// scheduler's auto-reconcile flag.
func WithOnConfigChange(fn func(*viper.Viper)) Option {
	return func(a *App) { a.onChange = fn }
}

// WithLoggerContextExtractor is accepted for API compatibility with the
// teacher's call sites; this module's logger does not need context-keyed
// extraction, so the map is stored but unused beyond documenting intent.
func WithLoggerContextExtractor(extractors map[string]func(context.Context) string) Option {
	return func(a *App) { a.ctxExtract = extractors }
}

// NewApp builds an App from the given name/short-description and options.
func NewApp(name, shortDesc string, opts ...Option) *App {
	a := &App{name: name, shortDesc: shortDesc, viperPrefix: name}
	for _, opt := range opts {
		opt(a)
	}
	a.buildCommand()
	return a
}

func (a *App) buildCommand() {
	cmd := &cobra.Command{
		Use:          a.name,
		Short:        a.shortDesc,
		Long:         a.longDesc,
		Args:         a.validArgs,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			a.setupConfigWatch()
			if a.options != nil {
				if errs := a.options.Validate(); len(errs) > 0 {
					return fmt.Errorf("invalid options: %v", errs)
				}
			}
			if a.runFunc == nil {
				return fmt.Errorf("%s: no run function configured", a.name)
			}
			return a.runFunc()
		},
	}

	if a.options != nil {
		fss := a.options.Flags()
		for _, fs := range fss.FlagSets {
			cmd.Flags().AddFlagSet(fs)
		}
		cliflag.SetUsageAndHelpFunc(cmd, fss, 80)
	}

	v := viper.New()
	v.SetEnvPrefix(a.viperPrefix)
	v.AutomaticEnv()
	bindFlags(v, cmd.Flags())
	a.viper = v

	a.cmd = cmd
}

// setupConfigWatch wires the config file, if one was requested, into a.viper
// and starts the fsnotify watch. Called from RunE, after cobra has parsed
// flags, so a.configFile (bound to a --config flag) reflects the user's
// choice rather than its zero-value default.
func (a *App) setupConfigWatch() {
	if a.configFile == nil {
		return
	}
	path := a.configFile()
	if path == "" {
		return
	}
	a.viper.SetConfigFile(path)
	// A read error, whether the file is missing or malformed, is ignored;
	// flags and env still apply.
	_ = a.viper.ReadInConfig()
	if a.onChange != nil {
		a.viper.OnConfigChange(func(fsnotify.Event) { a.onChange(a.viper) })
		a.viper.WatchConfig()
	}
}

func bindFlags(v *viper.Viper, fs *pflag.FlagSet) {
	fs.VisitAll(func(f *pflag.Flag) {
		_ = v.BindPFlag(f.Name, f)
	})
}

// Run executes the underlying cobra command.
func (a *App) Run() error {
	return a.cmd.Execute()
}

// Command exposes the underlying *cobra.Command, mainly for tests.
func (a *App) Command() *cobra.Command {
	return a.cmd
}

// Viper exposes the App's bound viper instance so a RunFunc can read
// options that may change after WithOnConfigChange fires.
func (a *App) Viper() *viper.Viper {
	return a.viper
}
