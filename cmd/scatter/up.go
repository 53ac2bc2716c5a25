// File: cmd/scatter/up.go
// Brief: CLI command wiring and implementation for 'up'.

package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/fabiosantoscode/scatterbrain-deployments/internal/console"
	"github.com/fabiosantoscode/scatterbrain-deployments/internal/deployment"
	"github.com/fabiosantoscode/scatterbrain-deployments/internal/manifest"
	"github.com/fabiosantoscode/scatterbrain-deployments/internal/metrics"
	"github.com/fabiosantoscode/scatterbrain-deployments/internal/plugins/builtin"
	"github.com/fabiosantoscode/scatterbrain-deployments/internal/state"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
)

type upOptions struct {
	file        string
	metricsAddr string
	once        bool
	verbose     bool
}

func newUpCommand(root *rootOptions) *cobra.Command {
	var o upOptions
	cmd := &cobra.Command{
		Use:   "up",
		Short: "Deploy a declaration file and keep it running until interrupted",
		Long: `Deploy every deployable in the file concurrently, record the result in the
state store, then wait for SIGINT/SIGTERM and undeploy everything again.

If any deployable fails, the ones that did deploy are undeployed and the
command exits non-zero.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runUp(cmd.Context(), cmd.OutOrStdout(), root, o)
		},
	}
	addFileFlag(cmd, &o.file)
	cmd.Flags().StringVar(&o.metricsAddr, "metrics-addr", "", "Serve Prometheus metrics on this address while running (e.g. 127.0.0.1:9464)")
	cmd.Flags().BoolVar(&o.once, "once", false, "Undeploy right after a successful deploy instead of waiting for a signal")
	cmd.Flags().BoolVarP(&o.verbose, "verbose", "v", false, "Also print queued and waiting tasks")
	return cmd
}

func addFileFlag(cmd *cobra.Command, file *string) {
	cmd.Flags().StringVarP(file, "file", "f", "", "Declaration file (YAML or JSON)")
}

func loadDeclarations(root *rootOptions, file string) (*deployment.Registry, deployment.Deployment, error) {
	if strings.TrimSpace(file) == "" {
		return nil, nil, fmt.Errorf("--file is required")
	}
	reg := builtin.Registry(root.log)
	d, err := manifest.Load(reg, file)
	if err != nil {
		return nil, nil, err
	}
	return reg, d, nil
}

func runUp(ctx context.Context, out io.Writer, root *rootOptions, o upOptions) error {
	reg, d, err := loadDeclarations(root, o.file)
	if err != nil {
		return err
	}
	colored, err := console.ColorEnabled(root.colorMode, out)
	if err != nil {
		return err
	}

	store, err := state.Open(root.statePath)
	if err != nil {
		return err
	}
	defer store.Close()

	// Persistence and teardown must still happen after the signal that
	// cancelled ctx.
	bg := context.WithoutCancel(ctx)
	runID := deployment.NewRunID(time.Now())
	if err := store.CreateRun(bg, runID, "up", d); err != nil {
		return err
	}
	log := root.log.WithValues("runID", runID)

	observers := []deployment.EventObserver{
		console.NewPrinter(out, console.PrinterOptions{Color: colored, Verbose: o.verbose}),
		store.Observer(bg, log),
	}
	if o.metricsAddr != "" {
		promReg := prometheus.NewRegistry()
		promReg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
		obs, err := metrics.NewObserver(promReg)
		if err != nil {
			return err
		}
		observers = append(observers, obs)
		metricsCtx, stopMetrics := context.WithCancel(bg)
		defer stopMetrics()
		go func() {
			if err := metrics.Serve(metricsCtx, o.metricsAddr, promReg, log); err != nil {
				log.Error(err, "metrics listener failed", "addr", o.metricsAddr)
			}
		}()
	}

	engine := deployment.NewEngine(reg, deployment.Options{RunID: runID, Logger: log, Observers: observers})
	live, deployErr := engine.Deploy(ctx, d)
	if err := store.SaveLive(bg, runID, live); err != nil {
		deployErr = errors.Join(deployErr, err)
	}
	if deployErr != nil {
		if err := engine.Undeploy(bg, live); err != nil {
			log.Error(err, "undeploy after failed deploy")
		}
		_ = store.FinishRun(bg, runID, state.StatusFailed)
		return deployErr
	}
	if err := store.FinishRun(bg, runID, state.StatusDeployed); err != nil {
		return err
	}
	printAddresses(out, live)

	if !o.once {
		fmt.Fprintln(out, "Press Ctrl-C to undeploy.")
		<-ctx.Done()
	}
	if err := engine.Undeploy(bg, live); err != nil {
		_ = store.FinishRun(bg, runID, state.StatusFailed)
		return err
	}
	if err := store.FinishRun(bg, runID, state.StatusUndeployed); err != nil {
		return err
	}
	return store.Checkpoint(bg)
}

func printAddresses(out io.Writer, live deployment.LiveDeployment) {
	for _, entry := range live.Entries() {
		current, ok := entry.Current.(map[string]any)
		if !ok {
			continue
		}
		if addr, ok := current["address"].(string); ok && addr != "" {
			fmt.Fprintf(out, "%s: %s\n", entry.Name, addr)
		}
	}
}
