// Command cadgated runs the CAD command gateway daemon.
package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/victoralfred/cadgate"
	"github.com/victoralfred/cadgate/config"
	"github.com/victoralfred/cadgate/server"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "cadgated",
		Short:         "Policy-gated remote command gateway for a CAD host",
		Version:       cadgate.Version(),
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(newServeCmd(), newValidateCmd(), newPolicyCmd())
	return root
}

func newServeCmd() *cobra.Command {
	var (
		configPath string
		addr       string
		production bool
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the gateway server",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := config.DevelopmentConfig()
			if production {
				cfg = config.ProductionConfig()
			}
			if configPath != "" {
				loaded, err := config.Load(configPath)
				if err != nil {
					return err
				}
				cfg = loaded
			}
			if addr != "" {
				cfg.Server.Addr = addr
			}

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			gw, err := cadgate.NewFromConfig(ctx, cfg)
			if err != nil {
				return err
			}
			defer func() {
				if err := gw.Shutdown(context.Background()); err != nil {
					log.Printf("shutdown: %v", err)
				}
			}()

			srv := server.New(cfg.Server, gw)
			log.Printf("cadgated %s listening on %s", cadgate.Version(), cfg.Server.Addr)
			return srv.ListenAndServe(ctx)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "", "path to YAML configuration file")
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (overrides config)")
	cmd.Flags().BoolVar(&production, "production", false, "use production defaults")
	return cmd
}

func newValidateCmd() *cobra.Command {
	var policyPath string

	cmd := &cobra.Command{
		Use:   "validate [file]",
		Short: "Validate a macro file against the policy without executing it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			pol := cadgate.DefaultPolicy()
			if policyPath != "" {
				loader, err := cadgate.LoadPolicyFromPath(policyPath)
				if err != nil {
					return err
				}
				pol, err = loader.Load(cmd.Context())
				if err != nil {
					return err
				}
			}

			source, err := os.ReadFile(args[0])
			if err != nil {
				return fmt.Errorf("reading macro: %w", err)
			}

			verdict := cadgate.Validate(pol, string(source))
			if verdict.OK() {
				fmt.Println("accepted")
				return nil
			}
			for _, viol := range verdict.Violations() {
				fmt.Printf("%s:%d:%d: [%s] %s\n", args[0], viol.Line, viol.Col, viol.Phase, viol.Message)
			}
			return fmt.Errorf("rejected: %d violation(s)", len(verdict.Violations()))
		},
	}

	cmd.Flags().StringVarP(&policyPath, "policy", "p", "", "path to policy YAML (default: built-in policy)")
	return cmd
}

func newPolicyCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "policy",
		Short: "Inspect policy configuration",
	}

	example := &cobra.Command{
		Use:   "example",
		Short: "Print an example policy YAML",
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := yaml.Marshal(cadgate.ExamplePolicy())
			if err != nil {
				return err
			}
			fmt.Print(string(data))
			return nil
		},
	}

	show := &cobra.Command{
		Use:   "show [file]",
		Short: "Load a policy file and print the compiled allow-list",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			loader, err := cadgate.LoadPolicyFromPath(args[0])
			if err != nil {
				return err
			}
			pol, err := loader.Load(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Printf("version: %s\n", pol.Version())
			fmt.Printf("hash:    %s\n", pol.Hash())
			fmt.Printf("allowed modules:\n")
			for _, m := range pol.AllowedModules() {
				fmt.Printf("  - %s\n", m)
			}
			return nil
		},
	}

	cmd.AddCommand(example, show)
	return cmd
}
