package commands

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/systmms/cosrepo/internal/clientcache"
	"github.com/systmms/cosrepo/internal/config"
	"github.com/systmms/cosrepo/internal/metrics"
	"github.com/systmms/cosrepo/internal/service"
)

func NewServeCommand(cfg *config.Config, defaultMetricsAddr string) *cobra.Command {
	var (
		metricsAddr string
		noWarm      bool
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Keep clients warm, serve metrics and reload secrets on SIGHUP",
		Long: `Build the client service, construct a client for every configured repository
and serve Prometheus metrics and /health until interrupted.

On SIGHUP the configuration file is re-read: client settings are reloaded and
every secret source is refreshed, after which all cached clients are rebuilt
on next use. SIGINT or SIGTERM shuts every client down and exits.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			cache := clientcache.New(
				clientcache.WithLogger(cfg.Logger),
				clientcache.WithMetrics(clientcache.DefaultMetrics()),
			)
			svc, err := loadService(ctx, cfg, true, service.WithCache(cache))
			if err != nil {
				return err
			}

			var closed atomic.Bool
			defer func() {
				closed.Store(true)
				if err := svc.Close(); err != nil {
					cfg.Logger.Warn("Client shutdown: %v", err)
				}
			}()

			if !noWarm {
				warm(ctx, cfg, svc)
			}

			mcfg := metrics.DefaultServerConfig()
			mcfg.Addr = metricsAddr
			mcfg.Health = func() error {
				if closed.Load() {
					return errors.New("shutting down")
				}
				return nil
			}
			server := metrics.NewServer(mcfg, cfg.Logger)
			if err := server.Start(); err != nil {
				return err
			}
			defer func() {
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				_ = server.Stop(shutdownCtx)
			}()

			hup := make(chan os.Signal, 1)
			signal.Notify(hup, syscall.SIGHUP)
			defer signal.Stop(hup)

			for {
				select {
				case <-ctx.Done():
					cfg.Logger.Info("Shutting down")
					return nil
				case <-hup:
					if err := reload(ctx, cfg, svc); err != nil {
						cfg.Logger.Error("Reload failed, keeping previous settings: %v", err)
						continue
					}
					if !noWarm {
						warm(ctx, cfg, svc)
					}
				}
			}
		},
	}

	cmd.Flags().StringVar(&metricsAddr, "metrics-addr", defaultMetricsAddr, "Address to serve /metrics and /health on")
	cmd.Flags().BoolVar(&noWarm, "no-warm", false, "Do not build clients for every repository at start")

	return cmd
}

// warm builds the client for every repository. Failures are logged only.
func warm(ctx context.Context, cfg *config.Config, svc *service.Service) {
	for _, name := range cfg.RepositoryNames() {
		md, err := cfg.GetRepository(name)
		if err != nil {
			cfg.Logger.Warn("Repository %s: %v", name, err)
			continue
		}
		if _, err := svc.ResolveAndGetClient(ctx, md); err != nil {
			cfg.Logger.Warn("Repository %s: %v", name, err)
			continue
		}
		cfg.Logger.Debug("Client ready for repository %s", name)
	}
	cfg.Logger.Info("%d client(s) ready", len(svc.CachedClients()))
}

// reload re-reads the configuration file and swaps in its settings and secrets.
// The new file is only committed to cfg once its secrets have loaded, so a
// broken file or a failing source leaves both cfg and the service untouched.
func reload(ctx context.Context, cfg *config.Config, svc *service.Service) error {
	def, err := cfg.Read()
	if err != nil {
		return err
	}
	next := *cfg
	next.Definition = def

	entries, err := loadSecrets(ctx, &next)
	if err != nil {
		return err
	}

	if err := svc.Reload(next.GlobalSettings(), entries); err != nil {
		cfg.Logger.Warn("Client shutdown during reload: %v", err)
	}
	cfg.Definition = def
	return nil
}
