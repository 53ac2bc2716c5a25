// main.go bootstraps scatter: it builds the root Cobra command, binds config/env, and executes with signal-aware contexts.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/fabiosantoscode/scatterbrain-deployments/internal/deployment"
	"github.com/fabiosantoscode/scatterbrain-deployments/internal/jsonsafe"
	"github.com/fabiosantoscode/scatterbrain-deployments/internal/logging"
	"github.com/fabiosantoscode/scatterbrain-deployments/internal/state"
	"github.com/go-logr/logr"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	rootCmd := newRootCommand()
	err := rootCmd.ExecuteContext(ctx)
	handleError(os.Stderr, err)
	if err != nil {
		os.Exit(1)
	}
}

// rootOptions holds the persistent flags shared by every subcommand.
type rootOptions struct {
	logLevel  string
	statePath string
	colorMode string

	log logr.Logger
}

func newRootCommand() *cobra.Command {
	opts := &rootOptions{
		logLevel:  "info",
		statePath: state.DefaultPath,
		colorMode: "auto",
		log:       logr.Discard(),
	}
	var applyConfig func() error
	cmd := &cobra.Command{
		Use:           "scatter",
		Short:         "Declare named resources and deploy them concurrently",
		Long:          "scatter collects deployables from a declaration file, deploys every one of them at once and lets each wait only on the deployables it references.",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if err := applyConfig(); err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			log, err := logging.New(opts.logLevel)
			if err != nil {
				return err
			}
			opts.log = log.WithName("scatter")
			return nil
		},
	}
	cmd.PersistentFlags().StringVar(&opts.logLevel, "log-level", opts.logLevel, "Log level for scatter output (debug, info, warn, error)")
	cmd.PersistentFlags().StringVar(&opts.statePath, "state", opts.statePath, "Path to the sqlite state store")
	cmd.PersistentFlags().StringVar(&opts.colorMode, "color", opts.colorMode, "Colorize output (auto, always, never)")

	upCmd := newUpCommand(opts)
	planCmd := newPlanCommand(opts)
	graphCmd := newGraphCommand(opts)
	validateCmd := newValidateCommand(opts)
	statusCmd := newStatusCommand(opts)
	cmd.AddCommand(
		upCmd,
		planCmd,
		graphCmd,
		validateCmd,
		statusCmd,
		newVersionCommand(),
	)
	cmd.Example = `  # Deploy a declaration file and serve it until Ctrl-C
  scatter up -f scatter.yaml

  # Show what would be deployed and how deployables reference each other
  scatter plan -f scatter.yaml
  scatter graph -f scatter.yaml --format mermaid

  # Inspect the most recent run
  scatter status`
	applyConfig = bindViper(cmd, upCmd, planCmd, graphCmd, validateCmd, statusCmd)
	return cmd
}

// bindViper fills flags the user did not set from SCATTER_* environment
// variables and the optional config file. The returned func runs once flags
// are parsed.
func bindViper(commands ...*cobra.Command) func() error {
	v := viper.New()
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.SetEnvPrefix("SCATTER")
	v.AutomaticEnv()
	configFile := os.Getenv("SCATTER_CONFIG")
	configureConfigFile(v, configFile)

	return func() error {
		for _, cmd := range commands {
			if err := v.BindPFlags(cmd.Flags()); err != nil {
				return err
			}
			if err := v.BindPFlags(cmd.PersistentFlags()); err != nil {
				return err
			}
		}
		if err := readConfigFile(v, configFile != ""); err != nil {
			return err
		}
		for _, cmd := range commands {
			flagSets := []*pflag.FlagSet{cmd.Flags(), cmd.PersistentFlags()}
			for _, fs := range flagSets {
				fs.VisitAll(func(f *pflag.Flag) {
					if f.Changed {
						return
					}
					if !v.IsSet(f.Name) {
						return
					}
					val := fmt.Sprintf("%v", v.Get(f.Name))
					if val != "" {
						_ = f.Value.Set(val)
					}
				})
			}
		}
		return nil
	}
}

func configureConfigFile(v *viper.Viper, explicitPath string) {
	if explicitPath != "" {
		v.SetConfigFile(explicitPath)
		return
	}
	v.SetConfigName("config")
	for _, dir := range configSearchDirs() {
		v.AddConfigPath(dir)
	}
}

func readConfigFile(v *viper.Viper, strict bool) error {
	if err := v.ReadInConfig(); err != nil {
		var cfgErr viper.ConfigFileNotFoundError
		if errors.As(err, &cfgErr) && !strict {
			return nil
		}
		return err
	}
	return nil
}

func configSearchDirs() []string {
	added := make(map[string]struct{})
	var dirs []string
	add := func(path string) {
		if path == "" {
			return
		}
		if _, ok := added[path]; ok {
			return
		}
		added[path] = struct{}{}
		dirs = append(dirs, path)
	}
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		add(filepath.Join(xdg, "scatter"))
	}
	if home, err := os.UserHomeDir(); err == nil && home != "" {
		add(filepath.Join(home, ".config", "scatter"))
		add(filepath.Join(home, ".scatter"))
	}
	return dirs
}

func handleError(w io.Writer, err error) {
	if err == nil || errors.Is(err, pflag.ErrHelp) {
		return
	}
	message := err.Error()
	var (
		unknownType *deployment.UnknownTypeError
		unknownRef  *deployment.UnknownDeployableError
		cycle       *deployment.CycleError
		notJSON     *jsonsafe.ValidationError
	)
	switch {
	case errors.Is(err, state.ErrNoRuns):
		message = fmt.Sprintf("%s\nHint: nothing has been deployed with this state store yet. Run 'scatter up -f FILE' first.", err)
	case errors.As(err, &unknownType):
		message = fmt.Sprintf("%s\nHint: 'scatter plan' lists the declared types; built-in types are endpoint, fn and kv.", err)
	case errors.As(err, &unknownRef):
		message = fmt.Sprintf("%s\nHint: run 'scatter validate -f FILE' to find references to undeclared names.", err)
	case errors.As(err, &cycle):
		message = fmt.Sprintf("%s\nHint: deployables waiting on each other can never finish. 'scatter graph' shows the references.", err)
	case errors.As(err, &notJSON):
		message = fmt.Sprintf("%s\nHint: options and deployed state must be plain JSON data.", err)
	}
	fmt.Fprintf(w, "Error: %s\n", message)
}
