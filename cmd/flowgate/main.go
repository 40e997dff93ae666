// Command flowgate runs the download broker: a qBittorrent-compatible HTTP
// surface backed by the AllDebrid Debrid Gateway and a memory-bounded
// streaming downloader.
//
// Grounded on decypharr's main.go + cmd/decypharr/start.go (flag-parsed
// config path, signal.NotifyContext shutdown, panic-recovered service
// goroutines), restructured behind a cobra root command since the rest of
// the teacher's stack (gocron, cron/v3) is wired through cobra-style CLI
// tooling elsewhere in the pack.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"runtime/debug"
	"sync"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/ratelimit"

	"github.com/jbrannan/flowgate/internal/config"
	"github.com/jbrannan/flowgate/internal/logger"
	"github.com/jbrannan/flowgate/pkg/api"
	"github.com/jbrannan/flowgate/pkg/downloader"
	"github.com/jbrannan/flowgate/pkg/gateway/alldebrid"
	"github.com/jbrannan/flowgate/pkg/job"
	"github.com/jbrannan/flowgate/pkg/metrics"
	"github.com/jbrannan/flowgate/pkg/persistence"
	"github.com/jbrannan/flowgate/pkg/server"
	"github.com/jbrannan/flowgate/pkg/storageprobe"
)

func main() {
	defer func() {
		if r := recover(); r != nil {
			fmt.Fprintf(os.Stderr, "FATAL: recovered from panic in main: %v\n%s\n", r, debug.Stack())
			os.Exit(1)
		}
	}()

	var configPath string
	root := &cobra.Command{
		Use:   "flowgate",
		Short: "qBittorrent-compatible download broker fronting AllDebrid",
		RunE: func(cmd *cobra.Command, args []string) error {
			config.SetConfigPath(filepath.Join(configPath, "config.json"))
			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return run(ctx)
		},
	}
	root.Flags().StringVar(&configPath, "config", "/config", "path to the state directory")

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(ctx context.Context) error {
	cfg := config.Get()
	log := logger.Default()
	log.Info().Str("download_path", cfg.DownloadPath).Str("state_path", cfg.StatePath).Msg("flowgate: starting")

	profile := storageprobe.Probe(cfg.DownloadPath)

	store, err := persistence.Open[*job.Record](filepath.Join(cfg.StatePath, "jobs.json"))
	if err != nil {
		return fmt.Errorf("opening job store: %w", err)
	}

	// 4 req/s sustained, burst of 8 (spec §4.3).
	rl := ratelimit.New(4, ratelimit.WithSlack(4))
	gw := alldebrid.New(cfg.DebridAPIKey, cfg.DebridBaseURL, rl)
	dl := downloader.New()

	mgr := job.New(store, gw, dl, profile)
	mgr.SetReconcileInterval(cfg.ReconcileInterval)
	mx := metrics.New()
	mgr.SetMetrics(mx)
	mgr.Start(ctx)
	defer mgr.Shutdown()

	adapter := api.New(mgr, cfg.DownloadPath, profile.ConcurrentLarge+profile.ConcurrentSmall, cfg.SecretKey())
	handlers := map[string]http.Handler{
		"/api/v2":       adapter.Routes(),
		"/metrics":      mx.JSONHandler(),
		"/metrics/prom": mx.Handler(),
	}
	srv := server.New(cfg.APIBind, handlers)

	var wg sync.WaitGroup
	errCh := make(chan error, 1)
	wg.Add(1)
	go func() {
		defer wg.Done()
		defer recoverInto(errCh)
		if err := srv.Start(ctx); err != nil {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		wg.Wait()
		return nil
	case err := <-errCh:
		wg.Wait()
		return err
	}
}

func recoverInto(errCh chan<- error) {
	if r := recover(); r != nil {
		errCh <- fmt.Errorf("panic: %v\n%s", r, debug.Stack())
	}
}
