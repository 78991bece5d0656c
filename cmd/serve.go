package main

import (
	"context"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/thotem-cli/internal/export"
	"github.com/sells-group/thotem-cli/internal/monitoring"
	"github.com/sells-group/thotem-cli/internal/normalize"
	"github.com/sells-group/thotem-cli/internal/store"
)

var servePort int

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the stored contacts over HTTP",
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := cfg.Validate("serve"); err != nil {
			return err
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		backend, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer backend.Close() //nolint:errcheck

		if cfg.Monitoring.Enabled {
			go newChecker(backend).Run(ctx)
		}

		port := servePort
		if port == 0 {
			port = cfg.Server.Port
		}

		srv := &http.Server{
			Addr:              fmt.Sprintf(":%d", port),
			Handler:           newRouter(backend),
			ReadHeaderTimeout: 10 * time.Second,
		}

		go func() {
			<-ctx.Done()
			zap.L().Info("shutting down server")
			shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
			defer cancel()
			_ = srv.Shutdown(shutdownCtx)
		}()

		zap.L().Info("starting server", zap.Int("port", port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return eris.Wrap(err, "server listen")
		}
		return nil
	},
}

// newRouter exposes the contact table read-only.
func newRouter(table store.Table) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{http.MethodGet, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Content-Type"},
		MaxAge:         300,
	}))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Get("/contacts", func(w http.ResponseWriter, r *http.Request) {
		records, err := table.Scan(r.Context())
		if err != nil {
			serverError(w, "scan", err)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		if err := export.WriteJSON(w, export.Contacts(records)); err != nil {
			zap.L().Warn("write contacts response", zap.Error(err))
		}
	})

	r.Get("/contacts.csv", func(w http.ResponseWriter, r *http.Request) {
		records, err := table.Scan(r.Context())
		if err != nil {
			serverError(w, "scan", err)
			return
		}
		w.Header().Set("Content-Type", "text/csv")
		w.Header().Set("Content-Disposition", `attachment; filename="contacts.csv"`)
		if err := export.WriteCSV(w, export.Contacts(records)); err != nil {
			zap.L().Warn("write contacts csv", zap.Error(err))
		}
	})

	r.Get("/contacts/{phone}", func(w http.ResponseWriter, r *http.Request) {
		phone := normalize.Phone(chi.URLParam(r, "phone"))
		if phone == "" {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "phone is required"})
			return
		}
		rec, err := table.FindByPhone(r.Context(), phone)
		if err != nil {
			serverError(w, "find by phone", err)
			return
		}
		if rec == nil {
			writeJSON(w, http.StatusNotFound, map[string]string{"error": "not found"})
			return
		}
		writeJSON(w, http.StatusOK, rec)
	})

	return r
}

func newChecker(src monitoring.Source) *monitoring.Checker {
	return monitoring.NewChecker(
		monitoring.NewCollector(src),
		monitoring.NewAlerter(cfg.Monitoring),
		cfg.Monitoring,
	)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = export.EncodeJSON(w, v)
}

func serverError(w http.ResponseWriter, op string, err error) {
	zap.L().Error("request failed", zap.String("op", op), zap.Error(err))
	writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal error"})
}

func init() {
	serveCmd.Flags().IntVar(&servePort, "port", 0, "server port (default from config)")
	rootCmd.AddCommand(serveCmd)
}
