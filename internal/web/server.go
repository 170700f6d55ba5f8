package web

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"sync"
	"time"

	"image-squeeze-go/internal/backend"
	"image-squeeze-go/internal/bridge"
	"image-squeeze-go/internal/config"
	"image-squeeze-go/internal/imagestore"
	"image-squeeze-go/internal/orchestrator"
	"image-squeeze-go/internal/progress"
	"image-squeeze-go/internal/settings"
	"image-squeeze-go/internal/telemetry"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
)

type Server struct {
	cfg        *config.Config
	log        *logrus.Logger
	router     *mux.Router
	httpServer *http.Server
	wsUpgrader websocket.Upgrader
	wsClients  map[*websocket.Conn]bool
	wsMutex    sync.RWMutex

	images    *imagestore.Store
	settings  *settings.Store
	estimator *progress.Estimator
	orch      *orchestrator.Orchestrator
	bridge    *bridge.Bridge
	stats     *telemetry.Store
}

type APIResponse struct {
	Success bool        `json:"success"`
	Message string      `json:"message,omitempty"`
	Data    interface{} `json:"data,omitempty"`
	Error   string      `json:"error,omitempty"`
}

type AddImagesRequest struct {
	Paths []string `json:"paths"`
}

type WSMessage struct {
	Type string      `json:"type"`
	Data interface{} `json:"data"`
}

// NewServer wires the full compression pipeline behind an HTTP and
// websocket interface. stats may be nil when telemetry is disabled.
func NewServer(cfg *config.Config, log *logrus.Logger, compressor backend.Compressor, emitter *backend.Emitter, stats *telemetry.Store, toolVersion string) *Server {
	s := &Server{
		cfg:       cfg,
		log:       log,
		router:    mux.NewRouter(),
		wsClients: make(map[*websocket.Conn]bool),
		wsUpgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true // Allow all origins in development
			},
		},
		images: imagestore.NewStore(log),
		settings: settings.NewStore(settings.Settings{
			Quality:      cfg.Compression.Quality,
			OutputFormat: settings.OutputFormat(cfg.Compression.OutputFormat),
			Level:        settings.Level(cfg.Compression.Level),
		}),
		estimator: progress.NewEstimator(time.Duration(cfg.Progress.TickIntervalMs)*time.Millisecond, log),
		stats:     stats,
	}

	var recorder telemetry.Recorder
	if stats != nil {
		recorder = stats
	}

	s.orch = orchestrator.New(
		s.images, s.settings, compressor, s.estimator, recorder, log,
		orchestrator.WithOutputDir(cfg.OutputDirectory),
		orchestrator.WithToolVersion(toolVersion),
		orchestrator.WithProgressHook(func(imageID string, percent int) {
			s.broadcastWSMessage("progress", map[string]interface{}{
				"image_id": imageID,
				"progress": percent,
			})
		}),
		orchestrator.WithNotifyHook(func(level, message string) {
			s.broadcastWSMessage("notification", map[string]interface{}{
				"level":   level,
				"message": message,
			})
		}),
	)

	s.bridge = bridge.New(s.images, emitter, log, func(ev backend.ProgressEvent, percent int) {
		s.broadcastWSMessage("backend_progress", map[string]interface{}{
			"image_id": ev.ImageID,
			"stage":    string(ev.Stage),
			"progress": percent,
		})
	})

	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	// API routes
	api := s.router.PathPrefix("/api").Subrouter()
	api.HandleFunc("/status", s.handleStatus).Methods("GET")
	api.HandleFunc("/images", s.handleListImages).Methods("GET")
	api.HandleFunc("/images", s.handleAddImages).Methods("POST")
	api.HandleFunc("/images/{id}", s.handleRemoveImage).Methods("DELETE")
	api.HandleFunc("/settings", s.handleGetSettings).Methods("GET")
	api.HandleFunc("/settings", s.handleUpdateSettings).Methods("PUT")
	api.HandleFunc("/compress", s.handleCompress).Methods("POST")
	api.HandleFunc("/estimate", s.handleEstimate).Methods("GET")
	api.HandleFunc("/stats", s.handleGetStats).Methods("GET")
	api.HandleFunc("/stats/reset", s.handleResetStats).Methods("POST")

	// WebSocket endpoint
	s.router.HandleFunc("/ws", s.handleWebSocket)

	// Static files
	s.router.PathPrefix("/static/").Handler(
		http.StripPrefix("/static/", http.FileServer(http.Dir("web/static/"))),
	)

	// Main page
	s.router.HandleFunc("/", s.handleIndex).Methods("GET")
}

func (s *Server) Start(port int) error {
	// Without the bridge the UI still shows simulated progress, so a
	// failed subscription never blocks startup.
	s.bridge.Subscribe()

	addr := fmt.Sprintf(":%d", port)
	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	s.log.Infof("Starting web server on http://localhost%s", addr)
	return s.httpServer.ListenAndServe()
}

func (s *Server) Stop(ctx context.Context) error {
	s.bridge.Close()
	s.estimator.Stop()
	if s.httpServer != nil {
		return s.httpServer.Shutdown(ctx)
	}
	return nil
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	http.ServeFile(w, r, "web/templates/index.html")
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, APIResponse{
		Success: true,
		Data: map[string]interface{}{
			"running": s.orch.Running(),
			"summary": s.images.Summarize(),
		},
	})
}

func (s *Server) handleListImages(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, APIResponse{
		Success: true,
		Data:    s.images.List(),
	})
}

func (s *Server) handleAddImages(w http.ResponseWriter, r *http.Request) {
	var req AddImagesRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	if len(req.Paths) == 0 {
		s.writeError(w, "At least one path is required", http.StatusBadRequest)
		return
	}

	added := s.images.Add(req.Paths)
	s.broadcastWSMessage("images_added", added)

	s.writeJSON(w, APIResponse{
		Success: true,
		Message: fmt.Sprintf("%d images added", len(added)),
		Data:    added,
	})
}

func (s *Server) handleRemoveImage(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	if !s.images.Remove(id) {
		s.writeError(w, "Image not found", http.StatusNotFound)
		return
	}

	s.broadcastWSMessage("image_removed", map[string]interface{}{"image_id": id})
	s.writeJSON(w, APIResponse{Success: true, Message: "Image removed"})
}

func (s *Server) handleGetSettings(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, APIResponse{
		Success: true,
		Data:    s.settings.Get(),
	})
}

func (s *Server) handleUpdateSettings(w http.ResponseWriter, r *http.Request) {
	var req settings.Settings
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	if err := s.settings.Set(req); err != nil {
		s.writeError(w, err.Error(), http.StatusBadRequest)
		return
	}

	s.writeJSON(w, APIResponse{Success: true, Message: "Settings updated"})
}

func (s *Server) handleCompress(w http.ResponseWriter, r *http.Request) {
	if s.orch.Running() {
		// Run is an idempotent no-op while running anyway; report it.
		s.writeJSON(w, APIResponse{Success: true, Message: "Compression already in progress"})
		return
	}

	go s.runCompressionAsync()

	s.writeJSON(w, APIResponse{Success: true, Message: "Compression started"})
}

func (s *Server) runCompressionAsync() {
	s.broadcastWSMessage("run_started", map[string]interface{}{
		"summary": s.images.Summarize(),
	})

	s.orch.Run(context.Background())

	s.broadcastWSMessage("run_completed", map[string]interface{}{
		"summary": s.images.Summarize(),
	})
}

func (s *Server) handleEstimate(w http.ResponseWriter, r *http.Request) {
	if s.stats == nil {
		s.writeError(w, "Telemetry is disabled", http.StatusServiceUnavailable)
		return
	}

	query := telemetry.EstimationQuery{
		InputFormat:  r.URL.Query().Get("input_format"),
		OutputFormat: r.URL.Query().Get("output_format"),
	}
	query.OriginalSize, _ = strconv.ParseInt(r.URL.Query().Get("original_size"), 10, 64)
	query.Quality, _ = strconv.Atoi(r.URL.Query().Get("quality"))
	query.Lossy = r.URL.Query().Get("lossy") == "true"

	if query.InputFormat == "" || query.OutputFormat == "" {
		s.writeError(w, "input_format and output_format are required", http.StatusBadRequest)
		return
	}
	if query.Quality == 0 {
		query.Quality = 80
	}

	est, err := s.stats.Estimate(r.Context(), query)
	if err != nil {
		s.writeError(w, fmt.Sprintf("Estimation failed: %v", err), http.StatusInternalServerError)
		return
	}

	s.writeJSON(w, APIResponse{Success: true, Data: est})
}

func (s *Server) handleGetStats(w http.ResponseWriter, r *http.Request) {
	if s.stats == nil {
		s.writeJSON(w, APIResponse{Success: true, Data: nil})
		return
	}

	count, err := s.stats.Count(r.Context())
	if err != nil {
		s.writeError(w, fmt.Sprintf("Failed to read stats: %v", err), http.StatusInternalServerError)
		return
	}

	s.writeJSON(w, APIResponse{
		Success: true,
		Data: map[string]interface{}{
			"total_compressions": count,
		},
	})
}

func (s *Server) handleResetStats(w http.ResponseWriter, r *http.Request) {
	if s.stats == nil {
		s.writeError(w, "Telemetry is disabled", http.StatusServiceUnavailable)
		return
	}

	if err := s.stats.Clear(r.Context()); err != nil {
		s.writeError(w, fmt.Sprintf("Failed to reset stats: %v", err), http.StatusInternalServerError)
		return
	}

	s.writeJSON(w, APIResponse{Success: true, Message: "Statistics reset"})
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.wsUpgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Errorf("WebSocket upgrade failed: %v", err)
		return
	}
	defer conn.Close()

	s.wsMutex.Lock()
	s.wsClients[conn] = true
	s.wsMutex.Unlock()

	s.log.Debug("WebSocket client connected")

	// Remove client on disconnect
	defer func() {
		s.wsMutex.Lock()
		delete(s.wsClients, conn)
		s.wsMutex.Unlock()
		s.log.Debug("WebSocket client disconnected")
	}()

	// Keep connection alive
	for {
		_, _, err := conn.ReadMessage()
		if err != nil {
			break
		}
	}
}

func (s *Server) broadcastWSMessage(messageType string, data interface{}) {
	message := WSMessage{
		Type: messageType,
		Data: data,
	}

	msgBytes, err := json.Marshal(message)
	if err != nil {
		s.log.Errorf("Failed to marshal WebSocket message: %v", err)
		return
	}

	s.wsMutex.RLock()
	defer s.wsMutex.RUnlock()

	for conn := range s.wsClients {
		err := conn.WriteMessage(websocket.TextMessage, msgBytes)
		if err != nil {
			s.log.Errorf("Failed to write WebSocket message: %v", err)
			// Remove failed connection
			go func(c *websocket.Conn) {
				s.wsMutex.Lock()
				delete(s.wsClients, c)
				s.wsMutex.Unlock()
				c.Close()
			}(conn)
		}
	}
}

func (s *Server) writeJSON(w http.ResponseWriter, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(data)
}

func (s *Server) writeError(w http.ResponseWriter, message string, statusCode int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(APIResponse{
		Success: false,
		Error:   message,
	})
}
