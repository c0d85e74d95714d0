package httpapi

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"reconstructd/pkg/types"
)

// Service defines the methods required by the HTTP API layer.
type Service interface {
	RegisterSession(id string, images []string) (types.SessionSnapshot, error)
	StartProcessing(id string, req types.ProcessRequest) error
	Cancel(id string) error
	Cleanup(id string) error
	GetStatus(id string) (types.SessionSnapshot, error)
	GetResults(id string) (*types.OutputManifest, error)
	DaemonStatus() types.StatusResponse
	Ready() bool
}

func NewMux(svc Service) http.Handler {
	r := chi.NewRouter()
	// Basic middlewares: request id, real ip, recoverer
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	// Compression for JSON endpoints
	r.Use(middleware.Compress(5))
	// Security headers
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("X-Content-Type-Options", "nosniff")
			next.ServeHTTP(w, r)
		})
	})
	if corsEnabled {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins: corsAllowedOrigins,
			AllowedMethods: corsAllowedMethods,
			AllowedHeaders: corsAllowedHeaders,
		}))
	}
	r.Use(MetricsMiddleware)

	r.Post("/sessions", func(w http.ResponseWriter, r *http.Request) {
		var req types.CreateSessionRequest
		if !decodeJSONBody(w, r, &req, false) {
			return
		}
		if len(req.Images) == 0 {
			writeJSONError(w, http.StatusBadRequest, "at least one input image is required")
			return
		}
		snap, err := svc.RegisterSession(req.SessionID, req.Images)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		logEvent(r, "session registered", map[string]string{"session": snap.SessionID})
		writeJSON(w, http.StatusCreated, types.CreateSessionResponse{
			SessionID:  snap.SessionID,
			ImageCount: snap.ImageCount,
		})
	})

	r.Route("/sessions/{id}", func(r chi.Router) {
		r.Post("/process", func(w http.ResponseWriter, r *http.Request) {
			id := chi.URLParam(r, "id")
			var req types.ProcessRequest
			if !decodeJSONBody(w, r, &req, true) {
				return
			}
			if err := svc.StartProcessing(id, req); err != nil {
				writeServiceError(w, err)
				return
			}
			snap, err := svc.GetStatus(id)
			if err != nil {
				writeServiceError(w, err)
				return
			}
			logEvent(r, "processing accepted", map[string]string{"session": id})
			writeJSON(w, http.StatusAccepted, snap)
		})

		r.Get("/status", func(w http.ResponseWriter, r *http.Request) {
			snap, err := svc.GetStatus(chi.URLParam(r, "id"))
			if err != nil {
				writeServiceError(w, err)
				return
			}
			writeJSON(w, http.StatusOK, snap)
		})

		r.Get("/results", func(w http.ResponseWriter, r *http.Request) {
			man, err := svc.GetResults(chi.URLParam(r, "id"))
			if err != nil {
				writeServiceError(w, err)
				return
			}
			writeJSON(w, http.StatusOK, man)
		})

		r.Post("/cancel", func(w http.ResponseWriter, r *http.Request) {
			id := chi.URLParam(r, "id")
			if err := svc.Cancel(id); err != nil {
				writeServiceError(w, err)
				return
			}
			logEvent(r, "cancellation accepted", map[string]string{"session": id})
			writeJSON(w, http.StatusAccepted, map[string]string{"session_id": id, "status": "cancelling"})
		})

		r.Delete("/", func(w http.ResponseWriter, r *http.Request) {
			id := chi.URLParam(r, "id")
			if err := svc.Cleanup(id); err != nil {
				writeServiceError(w, err)
				return
			}
			logEvent(r, "session cleaned up", map[string]string{"session": id})
			writeJSON(w, http.StatusOK, map[string]string{"session_id": id, "status": "removed"})
		})
	})

	r.Get("/status", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, svc.DaemonStatus())
	})

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})

	r.Get("/readyz", func(w http.ResponseWriter, r *http.Request) {
		if svc.Ready() {
			w.WriteHeader(http.StatusOK)
			w.Write([]byte("ready"))
			return
		}
		w.WriteHeader(http.StatusServiceUnavailable)
		w.Write([]byte("starting"))
	})

	// Prometheus metrics endpoint
	r.Get("/metrics", promhttp.Handler().ServeHTTP)

	MountSwagger(r)

	return r
}

// decodeJSONBody enforces the content type and body size limits, then decodes
// into dst. optional allows an empty body (defaults apply). Returns false when
// a response was already written.
func decodeJSONBody(w http.ResponseWriter, r *http.Request, dst any, optional bool) bool {
	if r.Body == nil || r.ContentLength == 0 {
		if optional {
			return true
		}
		writeJSONError(w, http.StatusBadRequest, "request body is required")
		return false
	}
	ct := r.Header.Get("Content-Type")
	if ct == "" || !strings.HasPrefix(strings.ToLower(ct), "application/json") {
		writeJSONError(w, http.StatusUnsupportedMediaType, "Content-Type must be application/json")
		return false
	}
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid JSON body")
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil && zlog != nil {
		zlog.Error().Err(err).Msg("failed to encode response")
	}
}
