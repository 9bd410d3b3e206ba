package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/choropleth/internal/api"
	"github.com/sells-group/choropleth/internal/monitoring"
	"github.com/sells-group/choropleth/internal/refdata"
	"github.com/sells-group/choropleth/internal/service"
)

var servePort int

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Load reference data and serve the map API",
	Long:  "Loads reference data before listening; a failed load aborts startup. SIGHUP reloads the data without downtime.",
	RunE: func(cmd *cobra.Command, args []string) error {
		if servePort != 0 {
			cfg.Server.Port = servePort
		}
		if err := cfg.Validate("serve"); err != nil {
			return err
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		metrics := monitoring.NewMetrics(nil)
		cache := service.NewResultCache(cfg.Cache.MaxEntries, cfg.Cache.TTL(), nil)
		svc := service.New(service.WithCache(cache), service.WithMetrics(metrics))

		reloader := service.NewReloader(svc, func(ctx context.Context) (*refdata.Dataset, error) {
			return loadDataset(ctx, cfg)
		}, nil)
		if err := reloader.Reload(ctx); err != nil {
			return eris.Wrap(err, "serve: initial load")
		}

		hup := make(chan os.Signal, 1)
		signal.Notify(hup, syscall.SIGHUP)
		defer signal.Stop(hup)
		go reloader.Run(ctx, cfg.Data.ReloadInterval(), relay(ctx, hup))

		srv := api.NewServer(svc, metrics, api.Options{
			Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
			CORSOrigins:  cfg.Server.CORSOrigins,
			RateRPS:      cfg.Server.RateRPS,
			RateBurst:    cfg.Server.RateBurst,
			ReadTimeout:  15 * time.Second,
			WriteTimeout: 60 * time.Second,
		})

		errc := make(chan error, 1)
		go func() { errc <- srv.Start() }()

		select {
		case err := <-errc:
			if err != nil && !errors.Is(err, http.ErrServerClosed) {
				return eris.Wrap(err, "server listen")
			}
			return nil
		case <-ctx.Done():
		}

		zap.L().Info("shutting down server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout())
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return eris.Wrap(err, "server shutdown")
		}
		return nil
	},
}

// relay turns received signals into reload triggers until ctx ends.
func relay(ctx context.Context, sig <-chan os.Signal) <-chan struct{} {
	out := make(chan struct{}, 1)
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case s := <-sig:
				zap.L().Info("reload requested", zap.String("signal", s.String()))
				select {
				case out <- struct{}{}:
				default:
				}
			}
		}
	}()
	return out
}

func init() {
	serveCmd.Flags().IntVar(&servePort, "port", 0, "server port (default from config)")
	rootCmd.AddCommand(serveCmd)
}
