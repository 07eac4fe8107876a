package cli

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/xela07ax/remote-command-gateway/internal/audit"
	"github.com/xela07ax/remote-command-gateway/internal/infra"
)

func newAuditCmd(configPath *string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "audit",
		Short: "Inspect the audit log",
	}
	cmd.AddCommand(newAuditTailCmd(configPath), newAuditVerifyCmd(configPath))
	return cmd
}

func newAuditTailCmd(configPath *string) *cobra.Command {
	var (
		n      int
		asJSON bool
	)

	cmd := &cobra.Command{
		Use:   "tail",
		Short: "Print the latest audit records",
		RunE: func(cmd *cobra.Command, args []string) error {
			if n <= 0 {
				return fmt.Errorf("-n must be positive")
			}
			cfg, err := infra.LoadConfig(*configPath)
			if err != nil {
				return err
			}
			store, err := openAuditStore(cmd.Context(), cfg.Audit)
			if err != nil {
				return err
			}
			defer store.Close()

			records, err := store.Tail(cmd.Context(), n)
			if err != nil {
				return err
			}
			if asJSON {
				enc := json.NewEncoder(cmd.OutOrStdout())
				for _, r := range records {
					if err := enc.Encode(r); err != nil {
						return err
					}
				}
				return nil
			}
			printRecords(cmd.OutOrStdout(), records)
			return nil
		},
	}

	cmd.Flags().IntVarP(&n, "lines", "n", 20, "Number of records to show")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print records as JSON lines")

	return cmd
}

func newAuditVerifyCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "verify",
		Short: "Verify the audit hash chain",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := infra.LoadConfig(*configPath)
			if err != nil {
				return err
			}
			store, err := openAuditStore(cmd.Context(), cfg.Audit)
			if err != nil {
				return err
			}
			defer store.Close()

			records, err := store.ReadAll(cmd.Context())
			if err != nil {
				return err
			}
			if err := audit.VerifyChain(records); err != nil {
				return fmt.Errorf("audit chain is broken: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "audit chain OK: %d records\n", len(records))
			return nil
		},
	}
}

func printRecords(w io.Writer, records []audit.Record) {
	for _, r := range records {
		action := r.Action
		if action == "" {
			action = "-"
		}
		fmt.Fprintf(w, "#%d %s %s %s %s %s",
			r.Seq, r.Timestamp.UTC().Format("2006-01-02T15:04:05.000Z"), r.Identity, r.Decision, action, r.Outcome)
		if r.IntentSummary != "" {
			fmt.Fprintf(w, " [%s]", r.IntentSummary)
		}
		if r.Reason != "" {
			fmt.Fprintf(w, " reason=%q", r.Reason)
		}
		fmt.Fprintln(w)
	}
}
