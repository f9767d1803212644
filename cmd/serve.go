package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/evidence-cli/internal/fetcher"
	"github.com/sells-group/evidence-cli/internal/model"
	"github.com/sells-group/evidence-cli/internal/telemetry"
)

var servePort int

// proxyHeaderAllowlist names the only request headers forwarded to portals.
var proxyHeaderAllowlist = map[string]bool{
	"accept":                true,
	"accept-language":       true,
	"x-app-token":           true,
	"x-esri-authorization":  true,
	"if-none-match":         true,
	"if-modified-since":     true,
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the egress-filtering proxy server",
	Long:  "Exposes the single outbound chokepoint: POST /api/open-data/fetch forwards a portal request through the egress policy, rate limiter, and retry budget, and returns the upstream status, headers, and body unchanged.",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		if err := cfg.Validate("serve"); err != nil {
			return err
		}

		client := newFetcher()
		router := newServeRouter(client, recorder, cfg.Server.AllowedOrigins)

		port := servePort
		if port == 0 {
			port = cfg.Server.Port
		}

		srv := &http.Server{
			Addr:              fmt.Sprintf(":%d", port),
			Handler:           router,
			ReadHeaderTimeout: 10 * time.Second,
		}

		// Graceful shutdown
		go func() {
			<-ctx.Done()
			zap.L().Info("shutting down server")
			srv.Shutdown(ctx)
		}()

		zap.L().Info("starting server", zap.Int("port", port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return eris.Wrap(err, "server listen")
		}

		return nil
	},
}

type proxyRequest struct {
	URL        string            `json:"url"`
	Headers    map[string]string `json:"headers,omitempty"`
	PortalType string            `json:"portalType,omitempty"`
	PortalURL  string            `json:"portalUrl,omitempty"`
}

func newServeRouter(client *fetcher.Client, rec *telemetry.Recorder, origins []string) chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Content-Type"},
	}))

	r.Get("/health", func(w http.ResponseWriter, req *http.Request) {
		writeJSONResponse(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Get("/api/telemetry", func(w http.ResponseWriter, req *http.Request) {
		writeJSONResponse(w, http.StatusOK, rec.Snapshot())
	})

	r.Post("/api/open-data/fetch", func(w http.ResponseWriter, req *http.Request) {
		var body proxyRequest
		if err := json.NewDecoder(req.Body).Decode(&body); err != nil {
			writeJSONResponse(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
			return
		}
		if body.URL == "" {
			writeJSONResponse(w, http.StatusBadRequest, map[string]string{"error": "url is required"})
			return
		}

		portalType := model.PortalType(body.PortalType)
		rc := fetcher.RequestContext{
			PortalType:  portalType,
			PortalURL:   body.PortalURL,
			MinInterval: fetcher.RateInterval(portalType, false),
		}

		resp, err := client.Get(req.Context(), body.URL, sanitizeProxyHeaders(body.Headers), rc)
		if err != nil {
			status := http.StatusBadGateway
			if errors.Is(err, fetcher.ErrEgressBlocked) {
				status = http.StatusForbidden
				zap.L().Warn("proxy egress rejected",
					zap.String("url", body.URL),
					zap.Error(err),
				)
			}
			writeJSONResponse(w, status, map[string]string{"error": err.Error()})
			return
		}

		for k, values := range resp.Header {
			for _, v := range values {
				w.Header().Add(k, v)
			}
		}
		w.WriteHeader(resp.Status)
		w.Write(resp.Body)
	})

	return r
}

// sanitizeProxyHeaders drops everything outside the allow-list.
func sanitizeProxyHeaders(headers map[string]string) map[string]string {
	if len(headers) == 0 {
		return nil
	}
	out := make(map[string]string, len(headers))
	for k, v := range headers {
		v = strings.TrimSpace(v)
		if v == "" || !proxyHeaderAllowlist[strings.ToLower(k)] {
			continue
		}
		out[k] = v
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

func writeJSONResponse(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func init() {
	serveCmd.Flags().IntVar(&servePort, "port", 0, "server port (default from config)")
	rootCmd.AddCommand(serveCmd)
}
