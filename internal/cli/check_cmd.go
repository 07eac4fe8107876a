package cli

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/xela07ax/remote-command-gateway/internal/domain"
	"github.com/xela07ax/remote-command-gateway/internal/engine"
	"github.com/xela07ax/remote-command-gateway/internal/infra"
)

func newCheckCmd(configPath *string) *cobra.Command {
	var ping bool

	cmd := &cobra.Command{
		Use:   "check",
		Short: "Validate config and prove every action has a policy rule and a handler",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := infra.LoadConfig(*configPath)
			if err != nil {
				return err
			}

			c, err := buildCore(cfg, zap.NewNop(), engine.NewMetrics(nil), stores{})
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "config OK: %d actions routed\n", len(domain.ActionKinds()))
			fmt.Fprintf(out, "  allowed identities: %d\n", len(cfg.Gateway.AllowedIdentities))
			fmt.Fprintf(out, "  destructive: %s\n", actionList(c.destructive))
			fmt.Fprintf(out, "  token-gated: %s\n", actionList(c.tokenGated))
			fmt.Fprintf(out, "  audit driver: %s\n", cfg.Audit.Driver)
			if cfg.Memory.DSN == "" {
				fmt.Fprintln(out, "  memory: disabled")
			}
			if cfg.Handlers.Sandbox {
				fmt.Fprintln(out, "  mode: sandbox")
			}

			if !engine.NewTokenGate(cfg.Gateway.CommandToken, cfg.Gateway.CommandTokenHash).Configured() && len(c.tokenGated) > 0 {
				fmt.Fprintln(out, "  warning: command token is not set, token-gated actions are unreachable")
			}
			if !engine.NewTokenGate(cfg.Server.APIKey, cfg.Server.APIKeyHash).Configured() {
				fmt.Fprintln(out, "  warning: server.api_key is not set, the HTTP API is closed")
			}

			if ping {
				ctx, cancel := context.WithTimeout(cmd.Context(), 5*time.Second)
				defer cancel()
				if !c.ollama.Available(ctx) {
					return fmt.Errorf("language model at %s is not reachable", cfg.Interpreter.BaseURL)
				}
				fmt.Fprintf(out, "  model %s: reachable\n", cfg.Interpreter.Model)
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&ping, "ping", false, "Also check that the language model endpoint answers")

	return cmd
}

func actionList(set map[domain.ActionKind]struct{}) string {
	if len(set) == 0 {
		return "none"
	}
	var names []string
	// ActionKinds задает стабильный порядок
	for _, a := range domain.ActionKinds() {
		if _, ok := set[a]; ok {
			names = append(names, a.String())
		}
	}
	return fmt.Sprint(names)
}
