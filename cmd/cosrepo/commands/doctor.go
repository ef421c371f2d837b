package commands

import (
	"context"
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/spf13/cobra"

	"github.com/systmms/cosrepo/internal/config"
	"github.com/systmms/cosrepo/internal/repository"
	"github.com/systmms/cosrepo/internal/resolve"
	"github.com/systmms/cosrepo/internal/service"
)

// bucketChecker is implemented by clients that can verify bucket access.
type bucketChecker interface {
	HeadBucket(ctx context.Context, bucket string) error
}

// RepositoryHealth is the doctor result for one repository.
type RepositoryHealth struct {
	Name   string
	Client string
	Status string
	Detail string
}

func NewDoctorCommand(cfg *config.Config) *cobra.Command {
	var (
		offline bool
		timeout time.Duration
	)

	cmd := &cobra.Command{
		Use:   "doctor",
		Short: "Check every repository resolves and can reach its bucket",
		Long: `Verify that repositories are properly configured and accessible.

This command checks:
- Configuration file validity
- Secret source connectivity
- Effective settings for every repository
- Client construction and bucket access (skipped with --offline)`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
			defer cancel()

			cfg.Logger.Info("Checking cosrepo configuration...")
			svc, err := loadService(ctx, cfg, true)
			if err != nil {
				cfg.Logger.Error("Configuration error: %v", err)
				return fmt.Errorf("failed to load config: %w", err)
			}
			defer func() { _ = svc.Close() }()
			cfg.Logger.Info("✓ Configuration and secret sources loaded")

			results, err := checkRepositories(ctx, cfg, svc, offline)
			displayHealthResults(cmd, results)
			if err != nil {
				return err
			}

			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "\nAll %d repositories healthy\n", len(results))
			return nil
		},
	}

	cmd.Flags().BoolVar(&offline, "offline", false, "Resolve settings and build clients without contacting COS")
	cmd.Flags().DurationVar(&timeout, "timeout", 30*time.Second, "Overall time limit for the checks")

	return cmd
}

// checkRepositories checks each repository and aggregates every failure.
func checkRepositories(ctx context.Context, cfg *config.Config, svc *service.Service, offline bool) ([]RepositoryHealth, error) {
	var (
		results []RepositoryHealth
		result  *multierror.Error
	)

	for _, name := range cfg.RepositoryNames() {
		health := RepositoryHealth{Name: name, Status: "healthy"}
		fail := func(err error) {
			health.Status = "error"
			health.Detail = err.Error()
			result = multierror.Append(result, err)
		}

		md, err := cfg.GetRepository(name)
		if err != nil {
			fail(err)
			results = append(results, health)
			continue
		}
		health.Client = resolve.ProfileName(md)

		repo, err := repository.New(md, svc, cfg.Logger)
		if err != nil {
			fail(err)
			results = append(results, health)
			continue
		}

		h, err := svc.ResolveAndGetClient(ctx, md)
		switch {
		case err != nil:
			fail(err)
		case offline:
			health.Detail = "client built"
		default:
			checker, ok := h.(bucketChecker)
			if !ok {
				health.Detail = "client built; bucket check unsupported"
				break
			}
			if err := checker.HeadBucket(ctx, repo.Settings().Bucket); err != nil {
				fail(fmt.Errorf("[%s] %w", name, err))
				break
			}
			health.Detail = "bucket " + repo.Settings().Bucket + " reachable"
		}
		results = append(results, health)
	}

	return results, result.ErrorOrNil()
}

func displayHealthResults(cmd *cobra.Command, results []RepositoryHealth) {
	out := cmd.OutOrStdout()
	if len(results) == 0 {
		_, _ = fmt.Fprintln(out, "No repositories configured")
		return
	}

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintf(w, "REPOSITORY\tCLIENT\tSTATUS\tDETAIL\n")
	_, _ = fmt.Fprintf(w, "----------\t------\t------\t------\n")
	for _, r := range results {
		icon := "✓"
		if r.Status != "healthy" {
			icon = "✗"
		}
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s %s\t%s\n", r.Name, orDash(r.Client), icon, r.Status, r.Detail)
	}
	_ = w.Flush()
}
