// Package main is the entry point for the apcore-example binary: a thin
// cobra-based CLI that discovers modules from a directory, runs one call
// through the Executor, and prints the resulting trace — plus a /metrics
// HTTP server exposing the runtime's MetricsCollector.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/apcore/apcore-go/pkg/acl"
	"github.com/apcore/apcore-go/pkg/apcore"
	"github.com/apcore/apcore-go/pkg/config"
	"github.com/apcore/apcore-go/pkg/executor"
	"github.com/apcore/apcore-go/pkg/logging"
	"github.com/apcore/apcore-go/pkg/observability"
	"github.com/apcore/apcore-go/pkg/registry"
	"github.com/apcore/apcore-go/pkg/schema"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "apcore-example",
		Short: "Example harness for the apcore module execution runtime",
		Long: `apcore-example discovers modules from a directory of
*.module.yaml descriptors, wires up the Executor with ACL, schema, tracing,
metrics and logging middlewares, then either runs a single call or serves
a /metrics endpoint.

Example:
  apcore-example call --modules ./modules --module greet.hello --input '{"name":"ada"}'`,
	}

	root.PersistentFlags().String("config", "", "path to a YAML config file")
	root.PersistentFlags().String("log-level", "info", "log level (debug, info, warn, error)")

	root.AddCommand(newCallCmd(), newServeCmd())
	return root
}

func setupLogging(level string) {
	logging.Setup(logging.Config{Level: level, Pretty: true})
}

func buildRuntime(cmd *cobra.Command, modulesDir string) (*executor.Executor, *observability.MetricsCollector, error) {
	configPath, _ := cmd.Flags().GetString("config")

	var cfg *config.Config
	if configPath != "" {
		loaded, err := config.Load(configPath)
		if err != nil {
			return nil, nil, err
		}
		cfg = loaded
	} else {
		cfg = config.New(nil)
	}

	reg := registry.New(registry.Options{
		ExtensionRoots: []registry.ExtensionRoot{{Root: modulesDir}},
	})
	if modulesDir != "" {
		if _, err := reg.Discover(); err != nil {
			return nil, nil, fmt.Errorf("module discovery failed: %w", err)
		}
	}

	var aclEngine *acl.ACL
	if aclPath := cfg.GetString("acl.file", ""); aclPath != "" {
		loaded, err := acl.LoadFromFile(aclPath)
		if err != nil {
			return nil, nil, err
		}
		aclEngine = loaded
	} else {
		aclEngine = acl.New(nil, acl.EffectAllow)
	}

	schemaLoader := schema.NewLoader(cfg.GetString("schema.dir", ""), schema.StrategyYAMLFirst)

	metrics := observability.NewMetricsCollector(nil)
	logger := observability.NewContextLogger("apcore-example")
	tracer, err := observability.NewTracingMiddleware(
		observability.NewStdoutExporter(os.Stdout),
		1.0,
		observability.SamplingFull,
	)
	if err != nil {
		return nil, nil, err
	}

	exec := executor.New(reg, executor.Options{
		ACL:             aclEngine,
		SchemaLoader:    schemaLoader,
		MaxCallDepth:    cfg.GetInt("executor.max_call_depth", 0),
		MaxModuleRepeat: cfg.GetInt("executor.max_module_repeat", 0),
		DefaultTimeout:  cfg.GetDuration("executor.default_timeout", 0),
		Middlewares: []executor.NamedMiddleware{
			{Name: "tracing", Middleware: tracer},
			{Name: "metrics", Middleware: observability.NewMetricsMiddleware(metrics)},
			{Name: "logging", Middleware: observability.NewObsLoggingMiddleware(logger)},
		},
	})

	return exec, metrics, nil
}

func newCallCmd() *cobra.Command {
	var modulesDir, moduleID, inputJSON string

	cmd := &cobra.Command{
		Use:   "call",
		Short: "Discover modules and run a single call",
		RunE: func(cmd *cobra.Command, args []string) error {
			level, _ := cmd.Flags().GetString("log-level")
			setupLogging(level)

			exec, _, err := buildRuntime(cmd, modulesDir)
			if err != nil {
				return err
			}

			var input map[string]any
			if inputJSON != "" {
				if err := json.Unmarshal([]byte(inputJSON), &input); err != nil {
					return fmt.Errorf("invalid --input JSON: %w", err)
				}
			}

			ctx := apcore.New(nil)
			output, err := exec.Call(moduleID, input, ctx)
			if err != nil {
				return fmt.Errorf("call failed: %w", err)
			}

			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(map[string]any{
				"trace_id": ctx.TraceID,
				"module":   moduleID,
				"output":   output,
			})
		},
	}

	cmd.Flags().StringVar(&modulesDir, "modules", "", "directory of *.module.yaml descriptors to discover")
	cmd.Flags().StringVar(&moduleID, "module", "", "module ID to call")
	cmd.Flags().StringVar(&inputJSON, "input", "{}", "JSON-encoded input map")
	cmd.MarkFlagRequired("module")

	return cmd
}

func newServeCmd() *cobra.Command {
	var modulesDir, addr string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Discover modules and expose a /metrics endpoint",
		RunE: func(cmd *cobra.Command, args []string) error {
			level, _ := cmd.Flags().GetString("log-level")
			setupLogging(level)

			_, metrics, err := buildRuntime(cmd, modulesDir)
			if err != nil {
				return err
			}

			reg := prometheus.NewRegistry()
			if err := reg.Register(observability.NewPrometheusCollector(metrics)); err != nil {
				return err
			}

			mux := http.NewServeMux()
			mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))

			srv := &http.Server{Addr: addr, Handler: mux}
			errCh := make(chan error, 1)
			go func() { errCh <- srv.ListenAndServe() }()

			sigCh := make(chan os.Signal, 1)
			signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

			select {
			case err := <-errCh:
				if err != nil && err != http.ErrServerClosed {
					return err
				}
			case <-sigCh:
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
				defer cancel()
				return srv.Shutdown(shutdownCtx)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&modulesDir, "modules", "", "directory of *.module.yaml descriptors to discover")
	cmd.Flags().StringVar(&addr, "addr", ":9090", "address to serve /metrics on")

	return cmd
}
