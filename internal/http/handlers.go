package httpapi

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/example/ride-dispatch/internal/dispatch"
	"github.com/example/ride-dispatch/internal/importer"
	"github.com/example/ride-dispatch/internal/models"
	"github.com/example/ride-dispatch/internal/normalize"
)

// Importer is what the admin API needs from *importer.Importer.
type Importer interface {
	Run(ctx context.Context, opts importer.Options) (models.ImportStats, error)
	LastRun(ctx context.Context) (models.Fields, bool, error)
}

type Server struct {
	Importer   Importer
	WSReg      *dispatch.WSRegistry
	adminToken string
	logger     *slog.Logger
	mux        *mux.Router
}

func NewServer(imp Importer, ws *dispatch.WSRegistry, adminToken string, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{Importer: imp, WSReg: ws, adminToken: adminToken, logger: logger, mux: mux.NewRouter()}
	s.registerMiddleware()
	s.routes()
	return s
}

func (s *Server) routes() {
	s.mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(200); w.Write([]byte("ok")) }).Methods("GET")
	s.mux.Handle("/metrics", promhttp.Handler())
	s.mux.HandleFunc("/ws/{driver}", s.handleWS)

	admin := s.mux.PathPrefix("/admin").Subrouter()
	admin.Use(s.adminMiddleware)
	admin.HandleFunc("/drop-daily", s.handleDropDaily).Methods("POST")
	admin.HandleFunc("/drop-daily/last", s.handleLastRun).Methods("GET")
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) { s.mux.ServeHTTP(w, r) }

type dropDailyResponse struct {
	OK     bool               `json:"ok"`
	DryRun bool               `json:"dryRun"`
	Stats  models.ImportStats `json:"stats"`
}

func (s *Server) handleDropDaily(w http.ResponseWriter, r *http.Request) {
	dryRun := false
	if v := r.URL.Query().Get("dryRun"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			writeError(w, http.StatusBadRequest, "dryRun must be a boolean")
			return
		}
		dryRun = b
	}
	stats, err := s.Importer.Run(r.Context(), importer.Options{Trigger: "manual", DryRun: dryRun})
	if err != nil {
		s.logger.Error("manual drop-daily failed", "error", err, "request_id", requestIDFromContext(r.Context()))
		writeError(w, http.StatusInternalServerError, "import failed")
		return
	}
	writeJSON(w, http.StatusOK, dropDailyResponse{OK: true, DryRun: dryRun, Stats: stats})
}

func (s *Server) handleLastRun(w http.ResponseWriter, r *http.Request) {
	last, ok, err := s.Importer.LastRun(r.Context())
	if err != nil {
		s.logger.Error("read last drop-daily failed", "error", err)
		writeError(w, http.StatusInternalServerError, "read failed")
		return
	}
	if !ok {
		writeError(w, http.StatusNotFound, "no run recorded")
		return
	}
	writeJSON(w, http.StatusOK, last)
}

var upgrader = websocket.Upgrader{}

// handleWS registers a live session keyed by the driver's normalized email.
func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	key, ok := normalize.Email(mux.Vars(r)["driver"])
	if !ok {
		http.Error(w, "driver must be an email", 400)
		return
	}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("ws upgrade failed", "driver", key, "error", err)
		return
	}
	s.WSReg.Add(key, conn)
	go func() {
		defer s.WSReg.Release(key, conn)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]any{"ok": false, "error": msg})
}
