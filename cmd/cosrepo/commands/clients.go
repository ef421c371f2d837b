package commands

import (
	"context"
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"github.com/systmms/cosrepo/internal/config"
	"github.com/systmms/cosrepo/internal/profiles"
)

func NewClientsCommand(cfg *config.Config) *cobra.Command {
	var withSources bool

	cmd := &cobra.Command{
		Use:   "clients",
		Short: "List configured COS client profiles",
		Long: `Display the static client profiles read from cos.client.* settings and
the accounts known to the secret store.

Secrets are never printed; only whether they are set.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, err := loadService(context.Background(), cfg, withSources)
			if err != nil {
				return err
			}
			defer func() { _ = svc.Close() }()

			out := cmd.OutOrStdout()
			all := svc.Profiles()

			_, _ = fmt.Fprintln(out, "Client Profiles:")
			_, _ = fmt.Fprintln(out, "================")
			w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
			_, _ = fmt.Fprintf(w, "NAME\tREGION\tEND_POINT\tACCESS_KEY_ID\tACCESS_KEY_SECRET\n")
			_, _ = fmt.Fprintf(w, "----\t------\t---------\t-------------\t-----------------\n")
			for _, name := range profiles.SortedNames(all) {
				p := all[name]
				_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n",
					name, orDash(p.Region), orDash(p.Endpoint), orDash(p.AccessKeyID), presence(p.AccessKeySecret))
			}
			_ = w.Flush()

			_, _ = fmt.Fprintln(out, "\nAccounts:")
			_, _ = fmt.Fprintln(out, "=========")
			accounts := svc.Accounts()
			if len(accounts) == 0 {
				_, _ = fmt.Fprintln(out, "No accounts configured")
			}
			for _, account := range accounts {
				_, _ = fmt.Fprintf(out, "  %s\n", account)
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&withSources, "sources", false, "Also load accounts from configured secret sources")

	return cmd
}
