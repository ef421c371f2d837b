package commands

import (
	"context"
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"github.com/systmms/cosrepo/internal/config"
	"github.com/systmms/cosrepo/internal/cosclient"
	"github.com/systmms/cosrepo/internal/repository"
	"github.com/systmms/cosrepo/internal/resolve"
)

func NewResolveCommand(cfg *config.Config) *cobra.Command {
	var withSources bool

	cmd := &cobra.Command{
		Use:   "resolve <repository>",
		Short: "Show the effective client settings for a repository",
		Long: `Layer the client profile, repository overrides and account secrets for
one configured repository and print the result. No connection is made.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, err := loadService(context.Background(), cfg, withSources)
			if err != nil {
				return err
			}
			defer func() { _ = svc.Close() }()

			md, err := cfg.GetRepository(args[0])
			if err != nil {
				return err
			}
			repoSettings, err := repository.ParseSettings(md, cfg.Logger)
			if err != nil {
				return err
			}
			es, err := svc.EffectiveSettings(md)
			if err != nil {
				return err
			}
			endpoint, err := cosclient.Endpoint(es.Region, es.Endpoint)
			if err != nil {
				return err
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
			_, _ = fmt.Fprintf(w, "repository\t%s\n", md.Name)
			_, _ = fmt.Fprintf(w, "client\t%s\n", resolve.ProfileName(md))
			_, _ = fmt.Fprintf(w, "access_key_id\t%s\n", es.AccessKeyID)
			_, _ = fmt.Fprintf(w, "access_key_secret\t%s\n", presence(es.AccessKeySecret))
			_, _ = fmt.Fprintf(w, "region\t%s\n", es.Region)
			_, _ = fmt.Fprintf(w, "end_point\t%s\n", endpoint)
			_, _ = fmt.Fprintf(w, "bucket\t%s\n", repoSettings.Bucket)
			_, _ = fmt.Fprintf(w, "base_path\t%s\n", orDash(repoSettings.BasePath))
			_, _ = fmt.Fprintf(w, "compress\t%t\n", repoSettings.Compress)
			_, _ = fmt.Fprintf(w, "chunk_size\t%d\n", repoSettings.ChunkSize)
			_, _ = fmt.Fprintf(w, "cache_key\t%s\n", es.CacheKey().Redacted())
			return w.Flush()
		},
	}

	cmd.Flags().BoolVar(&withSources, "sources", false, "Also load accounts from configured secret sources")

	return cmd
}
