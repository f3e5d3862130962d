// Package gateway is the HTTP boundary: mesh message intake, the web
// adventure API, broadcast polling and the operational surfaces.
package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"os"
	"runtime"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/disk"
	"github.com/shirou/gopsutil/v3/mem"

	"github.com/bowerhall/meshtale/internal/backup"
	"github.com/bowerhall/meshtale/internal/broadcast"
	"github.com/bowerhall/meshtale/internal/chunk"
	"github.com/bowerhall/meshtale/internal/engine"
	"github.com/bowerhall/meshtale/internal/guard"
	"github.com/bowerhall/meshtale/internal/logger"
	"github.com/bowerhall/meshtale/internal/metrics"
	"github.com/bowerhall/meshtale/internal/story"
)

// Options tunes the HTTP surface. Backup is optional; when set, the
// status endpoint reports whether the object store answers.
type Options struct {
	Version        string
	FrameLen       int
	MetricsEnabled bool
	Backup         *backup.Client
}

type Server struct {
	engine   *engine.Engine
	queue    *broadcast.Queue
	version  string
	frameLen int
	metrics  bool
	backup   *backup.Client
	started  time.Time
}

func New(eng *engine.Engine, queue *broadcast.Queue, opts Options) *Server {
	if opts.Version == "" {
		opts.Version = "dev"
	}
	if opts.FrameLen <= 0 {
		opts.FrameLen = chunk.DefaultMax
	}

	return &Server{
		engine:   eng,
		queue:    queue,
		version:  opts.Version,
		frameLen: opts.FrameLen,
		metrics:  opts.MetricsEnabled,
		backup:   opts.Backup,
		started:  time.Now(),
	}
}

// Routes builds the router. Mounted by the HTTP server in main and by
// httptest in tests.
func (s *Server) Routes() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Post("/api/message", s.handleMessage)
	r.Get("/api/health", s.handleHealth)
	r.Get("/api/status", s.handleStatus)
	r.Get("/api/themes", s.handleThemes)
	r.Get("/api/broadcast", s.handleBroadcastPoll)
	r.Post("/api/broadcast", s.handleBroadcastPush)

	r.Route("/api/adventure", func(r chi.Router) {
		r.Post("/start", s.handleAdventureStart)
		r.Post("/choice", s.handleAdventureChoice)
		r.Get("/status", s.handleAdventureStatus)
		r.Post("/quit", s.handleAdventureQuit)
	})

	if s.metrics {
		r.Handle("/metrics", metrics.Handler())
	}

	return r
}

type messageRequest struct {
	Sender     string `json:"sender"`
	ChannelIdx int    `json:"channel_idx"`
	Content    string `json:"content"`
	Timestamp  int64  `json:"timestamp,omitempty"`
}

// handleMessage is the mesh intake. The engine call is detached from
// the request context: a gateway that drops the connection mid-story
// loses the reply, not the transition.
func (s *Server) handleMessage(w http.ResponseWriter, r *http.Request) {
	var req messageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		WriteJSON(w, http.StatusBadRequest, map[string]any{"error": "invalid JSON body"})
		return
	}

	reply, err := s.engine.Handle(context.WithoutCancel(r.Context()), req.Sender, req.ChannelIdx, req.Content)
	switch {
	case errors.Is(err, engine.ErrInvalid):
		WriteJSON(w, http.StatusBadRequest, map[string]any{"error": err.Error()})
	case errors.Is(err, engine.ErrBusy), errors.Is(err, engine.ErrRateLimited):
		WriteJSON(w, http.StatusTooManyRequests, map[string]any{
			"error":    err.Error(),
			"response": reply.Text,
		})
	case err != nil:
		logger.Error("message handling failed", "sender", req.Sender, "error", err)
		WriteJSON(w, http.StatusInternalServerError, map[string]any{"error": "internal error"})
	default:
		// Long replies travel as frame-sized parts; the radio gateway
		// splits on the separator and transmits each one.
		response := chunk.Join(chunk.Split(reply.Text, s.frameLen))
		WriteJSON(w, http.StatusOK, map[string]any{
			"response":    response,
			"state":       reply.State,
			"session_key": reply.Key,
		})
	}
}

// handleHealth answers immediately and performs no session work.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	WriteJSON(w, http.StatusOK, map[string]any{
		"status":         "ok",
		"mode":           "http",
		"version":        s.version,
		"uptime_seconds": time.Since(s.started).Seconds(),
	})
}

// handleStatus reads aggregate snapshots only, never a per-session
// lock.
func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	counts, err := s.engine.Store().Counts()
	if err != nil {
		logger.Error("status snapshot failed", "error", err)
		WriteJSON(w, http.StatusInternalServerError, map[string]any{"error": "status unavailable"})
		return
	}

	total := 0
	for _, n := range counts {
		total += n
	}

	active, err := s.engine.Store().ListActive()
	if err != nil {
		logger.Error("status snapshot failed", "error", err)
		WriteJSON(w, http.StatusInternalServerError, map[string]any{"error": "status unavailable"})
		return
	}

	summaries := make([]map[string]any, 0, len(active))
	for _, sess := range active {
		summaries = append(summaries, map[string]any{
			"key":          sess.Key,
			"state":        sess.State,
			"theme":        sess.Theme,
			"channel_idx":  sess.ChannelIdx,
			"idle_seconds": int(time.Since(sess.LastActiveAt).Seconds()),
		})
	}

	payload := map[string]any{
		"uptime_seconds": time.Since(s.started).Seconds(),
		"version":        s.version,
		"sessions": map[string]any{
			"total":    total,
			"by_state": counts,
			"active":   summaries,
		},
		"broadcast_queue": s.queue.Len(),
		"system":          systemInfo(),
	}

	if s.backup != nil {
		hctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		payload["backup"] = map[string]any{"healthy": s.backup.Healthy(hctx)}
		cancel()
	}

	WriteJSON(w, http.StatusOK, payload)
}

func (s *Server) handleThemes(w http.ResponseWriter, r *http.Request) {
	WriteJSON(w, http.StatusOK, map[string]any{"themes": story.Themes()})
}

// handleBroadcastPoll hands the oldest queued announcement to the
// polling gateway, or an empty object when the queue is drained.
func (s *Server) handleBroadcastPoll(w http.ResponseWriter, r *http.Request) {
	msg, ok := s.queue.Pop()
	if !ok {
		WriteJSON(w, http.StatusOK, map[string]any{})
		return
	}

	WriteJSON(w, http.StatusOK, msg)
}

type broadcastRequest struct {
	Message    string `json:"message"`
	ChannelIdx int    `json:"channel_idx"`
}

func (s *Server) handleBroadcastPush(w http.ResponseWriter, r *http.Request) {
	var req broadcastRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		WriteJSON(w, http.StatusBadRequest, map[string]any{"error": "invalid JSON body"})
		return
	}

	if req.Message == "" {
		WriteJSON(w, http.StatusBadRequest, map[string]any{"error": "message required"})
		return
	}
	if req.ChannelIdx < 0 || req.ChannelIdx > guard.MaxChannelIdx {
		WriteJSON(w, http.StatusBadRequest, map[string]any{"error": "channel index out of range"})
		return
	}

	msg := s.queue.Push(guard.SanitizeMessage(req.Message), req.ChannelIdx)
	metrics.BroadcastsQueued.Inc()
	logger.Info("broadcast queued", "id", msg.ID, "channel", msg.ChannelIdx)

	WriteJSON(w, http.StatusOK, map[string]any{"queued": true, "id": msg.ID})
}

func systemInfo() map[string]any {
	hostname, _ := os.Hostname()

	cpuUsage := 0.0
	if percents, err := cpu.Percent(0, false); err == nil && len(percents) > 0 {
		cpuUsage = percents[0]
	}

	info := map[string]any{
		"hostname": hostname,
		"os":       runtime.GOOS,
		"arch":     runtime.GOARCH,
		"cpu_pct":  cpuUsage,
	}

	if memInfo, err := mem.VirtualMemory(); err == nil {
		info["mem_total_bytes"] = memInfo.Total
		info["mem_used_pct"] = memInfo.UsedPercent
	}
	if diskInfo, err := disk.Usage("/"); err == nil {
		info["disk_free_bytes"] = diskInfo.Free
		info["disk_used_pct"] = diskInfo.UsedPercent
	}

	return info
}

// WriteJSON writes data as a JSON response with the given status.
func WriteJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		logger.Error("response encoding failed", "error", err)
	}
}
