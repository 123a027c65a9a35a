package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/pricesync/internal/schedule"
	"github.com/sells-group/pricesync/internal/store"
)

var servePort int

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the scheduler and status server",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		env, err := initEnv(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		sched := schedule.New()
		defer sched.StopAll()

		if cfg.Schedule.Enabled {
			trigger, err := buildTrigger()
			if err != nil {
				return err
			}
			sched.StartJob("price-check", trigger, func(jobCtx context.Context) error {
				_, err := env.Worker.CheckAllPrices(jobCtx)
				return err
			})
		} else {
			zap.L().Info("scheduler disabled by config")
		}

		port := servePort
		if port == 0 {
			port = cfg.Server.Port
		}
		srv := &http.Server{
			Addr:    fmt.Sprintf(":%d", port),
			Handler: newStatusMux(env),
		}

		g, gctx := errgroup.WithContext(ctx)
		g.Go(func() error {
			zap.L().Info("starting status server", zap.Int("port", port))
			if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				return eris.Wrap(err, "server listen")
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			zap.L().Info("shutting down")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		})

		return g.Wait()
	},
}

func buildTrigger() (schedule.Trigger, error) {
	switch cfg.Schedule.Mode {
	case "daily":
		return schedule.ParseDailyAt(cfg.Schedule.DailyAt, cfg.Schedule.UTCOffsetHours)
	case "interval", "":
		return schedule.Every(time.Duration(cfg.Schedule.IntervalMins) * time.Minute), nil
	default:
		return nil, eris.Errorf("unknown schedule mode %q", cfg.Schedule.Mode)
	}
}

func newStatusMux(env *env) *http.ServeMux {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	mux.HandleFunc("GET /status", func(w http.ResponseWriter, r *http.Request) {
		stats, err := env.Store.GetStats(r.Context())
		if err != nil {
			writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "stats unavailable"})
			return
		}
		count, err := env.Store.CountProducts(r.Context())
		if err != nil {
			writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "stats unavailable"})
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"products":            count,
			"last_price_check":    stats.LastPriceCheck,
			"total_checks":        stats.TotalChecks,
			"total_discrepancies": stats.TotalDiscrepancies,
		})
	})

	mux.HandleFunc("GET /progress/{type}", func(w http.ResponseWriter, r *http.Request) {
		syncType := r.PathValue("type")
		p, err := env.Tracker.Get(r.Context(), syncType)
		if err != nil {
			if eris.Is(err, store.ErrNotFound) {
				writeJSON(w, http.StatusNotFound, map[string]string{"error": "no progress for type"})
				return
			}
			writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "progress unavailable"})
			return
		}
		writeJSON(w, http.StatusOK, p)
	})

	return mux
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func init() {
	serveCmd.Flags().IntVar(&servePort, "port", 0, "server port (default from config)")
	rootCmd.AddCommand(serveCmd)
}
