package workers

import (
	"context"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/go-chi/chi"
	"github.com/go-chi/chi/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"gowrapportal/workers/handlers"
)

// NewRouter mounts the API, the metrics endpoint and the static app.
func NewRouter(api *handlers.API) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Logger, preflight)

	api.Routes(r)
	r.Handle("/metrics", promhttp.Handler())

	// a bit of logic to prevent directory listing
	r.Get("/*", func(w http.ResponseWriter, r *http.Request) {
		workDir, _ := os.Getwd()
		filesDir := filepath.Join(workDir, "app")
		filePath := filepath.Join(filesDir, filepath.Clean("/"+r.URL.Path))

		fileInfo, err := os.Stat(filePath)
		if err != nil || fileInfo.IsDir() {
			filePath = filepath.Join(filesDir, "index.html")
			if fileInfo, err = os.Stat(filePath); err != nil {
				http.NotFound(w, r)
				return
			}
		}

		file, err := os.Open(filePath)
		if err != nil {
			http.Error(w, "unable to open", http.StatusInternalServerError)
			return
		}
		defer file.Close()

		http.ServeContent(w, r, file.Name(), fileInfo.ModTime(), file)
	})
	return r
}

// Worker_HTTP serves the API on listen until ctx is done.
func Worker_HTTP(ctx context.Context, listen string, api *handlers.API) error {
	log.Info().Str("listen", listen).Msg("Starting HTTP service")

	server := &http.Server{
		Addr:              listen,
		Handler:           NewRouter(api),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errc := make(chan error, 1)
	go func() {
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errc <- err
		}
		close(errc)
	}()
	log.Info().Msg("HTTP service started")

	select {
	case err := <-errc:
		if err != nil {
			log.Error().Err(err).Msg("error listening")
		}
		return err
	case <-ctx.Done():
	}
	log.Info().Msg("HTTP service stopped")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("HTTP service shutdown error")
		return err
	}
	log.Info().Msg("HTTP service shutdown normal")
	return nil
}

// preflight answers every OPTIONS request before routing.
func preflight(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodOptions {
			CORSHeaders(w, r)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func CORSHeaders(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.Header().Set("Access-Control-Allow-Methods", "POST, GET, OPTIONS, PUT, DELETE")
	w.Header().Set("Access-Control-Allow-Headers", "Accept, Content-Type, Content-Length, Accept-Encoding, X-CSRF-Token, Authorization, Origin, X-Requested-With")
}
