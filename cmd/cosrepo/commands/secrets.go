package commands

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/systmms/cosrepo/internal/config"
	"github.com/systmms/cosrepo/internal/secrets"
)

func NewSecretsCommand(cfg *config.Config) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "secrets",
		Short: "Inspect and refresh account secrets",
	}

	cmd.AddCommand(
		newSecretsSourcesCommand(cfg),
		newSecretsRefreshCommand(cfg),
	)

	return cmd
}

func newSecretsSourcesCommand(cfg *config.Config) *cobra.Command {
	return &cobra.Command{
		Use:   "sources",
		Short: "List supported and configured secret source types",
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			registry := sourceRegistry()

			_, _ = fmt.Fprintf(out, "Supported types: %s\n", strings.Join(registry.GetSupportedTypes(), ", "))

			if err := cfg.Load(); err != nil {
				return err
			}
			names := cfg.SecretSourceNames()
			if len(names) == 0 {
				_, _ = fmt.Fprintln(out, "No secret sources configured")
				return nil
			}
			for _, name := range names {
				src, err := cfg.GetSecretSource(name)
				if err != nil {
					return err
				}
				status := "configured"
				if !registry.IsSupported(src.Type) {
					status = "unsupported"
				}
				_, _ = fmt.Fprintf(out, "  %s (%s, timeout %s): %s\n", name, src.Type, src.GetTimeout(), status)
			}
			return nil
		},
	}
}

func newSecretsRefreshCommand(cfg *config.Config) *cobra.Command {
	var timeout time.Duration

	cmd := &cobra.Command{
		Use:   "refresh",
		Short: "Reload every secret source and report account changes",
		Long: `Load the secure settings, then reload them together with every configured
secret source and swap the result in as one snapshot. Reports which accounts
were added, removed or changed relative to the secure settings alone.

A failing source aborts the refresh; the previous snapshot stays in place.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			if timeout > 0 {
				var cancel func()
				ctx, cancel = context.WithTimeout(ctx, timeout)
				defer cancel()
			}

			svc, err := loadService(ctx, cfg, false)
			if err != nil {
				return err
			}
			defer func() { _ = svc.Close() }()

			entries, err := loadSecrets(ctx, cfg)
			if err != nil {
				return fmt.Errorf("refresh aborted: %w", err)
			}

			prev, err := svc.RefreshSecrets(entries)
			if err != nil {
				cfg.Logger.Warn("Some clients failed to shut down: %v", err)
			}

			added, removed, changed := secrets.Diff(prev, entries)
			out := cmd.OutOrStdout()
			_, _ = fmt.Fprintf(out, "Accounts: %d\n", len(entries))
			printAccounts(out, "added", added)
			printAccounts(out, "removed", removed)
			printAccounts(out, "changed", changed)
			return nil
		},
	}

	cmd.Flags().DurationVar(&timeout, "timeout", 0, "Overall time limit for loading sources (0 uses per-source timeouts only)")

	return cmd
}

func printAccounts(out io.Writer, label string, accounts []string) {
	if len(accounts) == 0 {
		_, _ = fmt.Fprintf(out, "  %s: none\n", label)
		return
	}
	_, _ = fmt.Fprintf(out, "  %s: %s\n", label, strings.Join(accounts, ", "))
}
