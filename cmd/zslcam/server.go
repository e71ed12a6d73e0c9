package main

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"mime/multipart"
	"net"
	"net/http"
	"net/textproto"
	"strconv"
	"time"

	"github.com/coder/websocket"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/e7canasta/orion-frameshare/modules/capturelog"
	"github.com/e7canasta/orion-frameshare/modules/command"
	"github.com/e7canasta/orion-frameshare/modules/framebus"
	"github.com/e7canasta/orion-frameshare/modules/imagesaver"
	"github.com/e7canasta/orion-frameshare/modules/lrupool"
	"github.com/e7canasta/orion-frameshare/modules/sensor"
	"github.com/e7canasta/orion-frameshare/modules/sharedreader"
	"github.com/e7canasta/orion-frameshare/modules/telemetry"
)

const (
	defaultRecentCaptures = 20
	maxRecentCaptures     = 500
	shutdownTimeout       = 5 * time.Second
)

// adminServer is the HTTP surface: metrics, stats, captures and preview.
type adminServer struct {
	addr    string
	p       *pipeline
	logger  *slog.Logger
	metrics http.Handler
	server  *http.Server
}

func newAdminServer(addr string, p *pipeline, logger *slog.Logger) (*adminServer, error) {
	metrics, err := telemetry.Handler(telemetry.NewCollector(p.sources()))
	if err != nil {
		return nil, err
	}
	return &adminServer{
		addr:    addr,
		p:       p,
		logger:  logger.With("component", "http"),
		metrics: metrics,
	}, nil
}

// buildRouter constructs the chi mux with all routes wired.
func (s *adminServer) buildRouter() http.Handler {
	r := chi.NewRouter()

	r.Get("/health", s.handleHealth)
	r.Handle("/metrics", s.metrics)
	r.Get("/stats", s.handleStats)

	r.Route("/captures", func(r chi.Router) {
		r.Get("/", s.handleRecentCaptures)
		r.Post("/", s.handleCapture)
	})

	r.Route("/preview", func(r chi.Router) {
		r.Get("/ws", s.handlePreviewWebSocket)
		r.Get("/mjpeg", s.handlePreviewMJPEG)
		r.Post("/restart", s.handlePreviewRestart)
	})

	return r
}

// Start listens and serves in the background.
func (s *adminServer) Start() error {
	s.server = &http.Server{
		Addr:              s.addr,
		Handler:           s.buildRouter(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	var lc net.ListenConfig
	ln, err := lc.Listen(context.Background(), "tcp", s.addr)
	if err != nil {
		return errors.New("http: listen failed: " + err.Error())
	}

	go func() {
		s.logger.Info("admin server listening", "addr", ln.Addr().String())
		if err := s.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("admin server error", "error", err)
		}
	}()
	return nil
}

// Stop shuts the server down gracefully.
func (s *adminServer) Stop(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, shutdownTimeout)
	defer cancel()

	s.logger.Info("admin server shutting down")
	return s.server.Shutdown(ctx)
}

func (s *adminServer) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// statsResponse is the body of GET /stats.
type statsResponse struct {
	Uptime   string               `json:"uptime"`
	Sensor   sensor.Stats         `json:"sensor"`
	Reader   sharedreader.Stats   `json:"reader"`
	Executor command.Stats        `json:"executor"`
	Buffers  lrupool.Stats        `json:"buffer_pool"`
	Saver    imagesaver.DiskStats `json:"saver"`
	Preview  framebus.BusStats    `json:"preview"`
	DropRate float64              `json:"preview_drop_rate"`
}

func (s *adminServer) handleStats(w http.ResponseWriter, _ *http.Request) {
	src := s.p.sources()
	preview := src.Preview()
	writeJSON(w, http.StatusOK, statsResponse{
		Uptime:   time.Since(s.p.startedAt).Truncate(time.Second).String(),
		Sensor:   src.Sensor(),
		Reader:   src.Reader(),
		Executor: src.Executor(),
		Buffers:  src.Buffers(),
		Saver:    src.Saver(),
		Preview:  preview,
		DropRate: framebus.CalculateDropRate(preview),
	})
}

func (s *adminServer) handleRecentCaptures(w http.ResponseWriter, r *http.Request) {
	if s.p.captures == nil {
		writeError(w, http.StatusNotFound, "capture log disabled")
		return
	}

	limit := defaultRecentCaptures
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 || n > maxRecentCaptures {
			writeError(w, http.StatusBadRequest, "limit must be 1-"+strconv.Itoa(maxRecentCaptures))
			return
		}
		limit = n
	}

	entries, err := s.p.captures.Recent(r.Context(), limit)
	if err != nil {
		s.logger.Error("reading capture log failed", "error", err)
		writeError(w, http.StatusInternalServerError, "capture log unavailable")
		return
	}
	if entries == nil {
		entries = []capturelog.Entry{}
	}
	writeJSON(w, http.StatusOK, entries)
}

// captureResponse is the body of POST /captures.
type captureResponse struct {
	CommandID string `json:"command_id"`
	Session   string `json:"session"`
	Timestamp int64  `json:"timestamp"`
	Image     string `json:"image"`
	Thumbnail string `json:"thumbnail,omitempty"`
	Sidecar   string `json:"sidecar"`
}

func (s *adminServer) handleCapture(w http.ResponseWriter, r *http.Request) {
	c := s.p.Capture("http")

	res, err := c.Wait(r.Context())
	if err != nil {
		status := http.StatusInternalServerError
		if command.IsExpected(err) || errors.Is(err, errNoFrame) || errors.Is(err, command.ErrExecutorClosed) {
			status = http.StatusServiceUnavailable
		}
		writeError(w, status, err.Error())
		return
	}

	writeJSON(w, http.StatusCreated, captureResponse{
		CommandID: c.handle.ID.String(),
		Session:   res.Session.Name,
		Timestamp: res.Timestamp,
		Image:     res.ImagePath,
		Thumbnail: res.ThumbnailPath,
		Sidecar:   res.SidecarPath,
	})
}

func (s *adminServer) handlePreviewRestart(w http.ResponseWriter, _ *http.Request) {
	if !s.p.RestartPreview() {
		writeError(w, http.StatusNotFound, "preview disabled")
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

// handlePreviewWebSocket streams the latest preview frame as binary
// messages. Slow viewers skip frames.
func (s *adminServer) handlePreviewWebSocket(w http.ResponseWriter, r *http.Request) {
	id := "ws-" + uuid.NewString()
	rx, err := s.p.preview.SubscribeDropOld(id)
	if err != nil {
		writeError(w, http.StatusServiceUnavailable, err.Error())
		return
	}
	defer func() { _ = s.p.preview.Unsubscribe(id) }()

	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		s.logger.Error("websocket accept failed", "error", err)
		return
	}
	defer func() {
		_ = conn.Close(websocket.StatusGoingAway, "preview ended")
	}()

	// Viewers never send; CloseRead cancels ctx when they disconnect.
	ctx := conn.CloseRead(r.Context())
	s.logger.Debug("preview viewer connected", "id", id)

	for {
		frame, err := rx.Receive(ctx)
		if err != nil {
			s.logger.Debug("preview viewer gone", "id", id, "reason", err)
			return
		}
		if err := conn.Write(ctx, websocket.MessageBinary, frame.Data); err != nil {
			s.logger.Debug("preview write failed", "id", id, "error", err)
			return
		}
	}
}

// handlePreviewMJPEG streams preview frames as multipart/x-mixed-replace.
// Frames arriving while the viewer's queue is full are dropped.
func (s *adminServer) handlePreviewMJPEG(w http.ResponseWriter, r *http.Request) {
	id := "mjpeg-" + uuid.NewString()
	frames := make(chan framebus.Frame, s.p.cfg.Preview.ViewerQueue)
	if err := s.p.preview.Subscribe(id, frames); err != nil {
		writeError(w, http.StatusServiceUnavailable, err.Error())
		return
	}
	defer func() { _ = s.p.preview.Unsubscribe(id) }()

	mw := multipart.NewWriter(w)
	w.Header().Set("Content-Type", "multipart/x-mixed-replace; boundary="+mw.Boundary())
	w.WriteHeader(http.StatusOK)
	rc := http.NewResponseController(w)

	for {
		select {
		case <-r.Context().Done():
			return
		case frame := <-frames:
			part, err := mw.CreatePart(textproto.MIMEHeader{
				"Content-Type":   {frame.ContentType},
				"Content-Length": {strconv.Itoa(len(frame.Data))},
			})
			if err != nil {
				return
			}
			if _, err := part.Write(frame.Data); err != nil {
				return
			}
			if err := rc.Flush(); err != nil {
				return
			}
		}
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
