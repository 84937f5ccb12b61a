package httpapi

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"danmud/internal/envstore"
	"danmud/internal/manager"
	"danmud/internal/variant"
	"danmud/pkg/types"
)

// AdminPrefix is the path under which the supervisor's own API lives.
// Everything else is forwarded to the serving worker generation.
const AdminPrefix = "/_danmud"

// Service defines the methods required by the HTTP API layer.
type Service interface {
	Route(ctx context.Context, req types.Request) (types.Response, error)
	Ready() bool
	Status() types.StatusResponse
	Env() (envstore.Snapshot, uint64)
	ReplaceEnv(ctx context.Context, env map[string]string) (uint64, error)
	Variant() variant.Variant
	Installed() ([]variant.Kind, error)
	SwitchVariant(ctx context.Context, kind variant.Kind) error
	Reload(reason string) bool
}

func NewMux(svc Service) http.Handler {
	r := chi.NewRouter()
	// Basic middlewares: request id, real ip, recoverer
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(MetricsMiddleware)
	if corsEnabled {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins:   corsAllowedOrigins,
			AllowedMethods:   corsAllowedMethods,
			AllowedHeaders:   corsAllowedHeaders,
			AllowCredentials: false,
			MaxAge:           300,
		}))
	}

	r.Group(func(r chi.Router) {
		r.Use(InflightMiddleware)
		r.Route(AdminPrefix, func(r chi.Router) { mountAdmin(r, svc) })
		r.Handle("/*", forwardHandler(svc))
	})
	return r
}

func mountAdmin(r chi.Router, svc Service) {
	// Compression for JSON endpoints
	r.Use(middleware.Compress(5))
	// Security headers
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("X-Content-Type-Options", "nosniff")
			next.ServeHTTP(w, r)
		})
	})

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	r.Get("/readyz", func(w http.ResponseWriter, r *http.Request) {
		if svc.Ready() {
			w.WriteHeader(http.StatusOK)
			_, _ = w.Write([]byte("ready"))
			return
		}
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte("loading"))
	})

	r.Get("/status", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, svc.Status())
	})

	// Prometheus metrics endpoint
	r.Get("/metrics", promhttp.Handler().ServeHTTP)

	r.Get("/env", func(w http.ResponseWriter, r *http.Request) {
		snap, version := svc.Env()
		writeJSON(w, http.StatusOK, types.EnvResponse{Env: snap.Map(), Version: version})
	})

	r.Get("/variant", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, variantResponse(svc))
	})

	MountSwagger(r)

	r.Group(func(r chi.Router) {
		r.Use(requireAdmin)

		r.Put("/env", func(w http.ResponseWriter, r *http.Request) {
			var req types.EnvResponse
			if !decodeJSON(w, r, &req) {
				return
			}
			if req.Env == nil {
				writeJSONError(w, http.StatusBadRequest, "env is required")
				return
			}
			for k := range req.Env {
				if strings.TrimSpace(k) == "" || strings.ContainsAny(k, "=\n") {
					writeJSONError(w, http.StatusBadRequest, "invalid env key "+strconv.Quote(k))
					return
				}
			}
			version, err := svc.ReplaceEnv(r.Context(), req.Env)
			if err != nil {
				writeServiceError(w, err)
				return
			}
			snap, _ := svc.Env()
			writeJSON(w, http.StatusOK, types.EnvResponse{Env: snap.Map(), Version: version})
		})

		r.Put("/variant", func(w http.ResponseWriter, r *http.Request) {
			var req types.VariantRequest
			if !decodeJSON(w, r, &req) {
				return
			}
			kind := variant.Kind(strings.ToLower(strings.TrimSpace(req.Variant)))
			if !kind.Valid() {
				writeJSONError(w, http.StatusBadRequest, "variant must be one of stable, dev, custom")
				return
			}
			if err := svc.SwitchVariant(r.Context(), kind); err != nil {
				writeServiceError(w, err)
				return
			}
			writeJSON(w, http.StatusOK, variantResponse(svc))
		})

		r.Post("/reload", func(w http.ResponseWriter, r *http.Request) {
			if !svc.Reload(manager.ReasonManual) {
				writeJSONError(w, http.StatusServiceUnavailable, manager.ErrClosed.Error())
				return
			}
			writeJSON(w, http.StatusAccepted, types.ReloadResponse{Accepted: true})
		})
	})
}

func variantResponse(svc Service) types.VariantResponse {
	v := svc.Variant()
	resp := types.VariantResponse{Variant: v.Kind.String(), BaseDir: v.BaseDir, Entry: v.Entry, Installed: []string{}}
	if kinds, err := svc.Installed(); err == nil {
		for _, k := range kinds {
			resp.Installed = append(resp.Installed, k.String())
		}
	}
	return resp
}

// requireAdmin rejects requests without the configured bearer token.
func requireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if adminToken != "" {
			got, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
			if !ok || subtle.ConstantTimeCompare([]byte(got), []byte(adminToken)) != 1 {
				w.Header().Set("WWW-Authenticate", `Bearer realm="danmud"`)
				writeJSONError(w, http.StatusUnauthorized, "admin token required")
				return
			}
		}
		next.ServeHTTP(w, r)
	})
}

// decodeJSON reads a size-limited JSON body into v, writing a 4xx on failure.
func decodeJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	ct := r.Header.Get("Content-Type")
	if ct != "" && !strings.HasPrefix(strings.ToLower(ct), "application/json") {
		writeJSONError(w, http.StatusUnsupportedMediaType, "Content-Type must be application/json")
		return false
	}
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		var mbe *http.MaxBytesError
		if errors.As(err, &mbe) {
			writeJSONError(w, http.StatusRequestEntityTooLarge, "request body too large")
			return false
		}
		writeJSONError(w, http.StatusBadRequest, "invalid JSON body")
		return false
	}
	return true
}

func writeServiceError(w http.ResponseWriter, err error) {
	status := statusFor(err)
	if errors.Is(err, manager.ErrClosed) {
		status = http.StatusServiceUnavailable
	}
	writeJSONError(w, status, err.Error())
}
