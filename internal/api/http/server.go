package apihttp

import (
	"log/slog"
	"net/http"
	"os/exec"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"streamgate/internal/resource"
	"streamgate/internal/session"
	"streamgate/internal/transcode"
	"streamgate/internal/usecase"
)

// Server is the HTTP surface over the stream gateway. Handlers translate
// requests into registry/usecase operations and never own state themselves.
type Server struct {
	streams   *usecase.Streams
	registry  *session.Registry
	probe     *resource.Probe
	scheduler *transcode.Scheduler

	ffmpegPath  string
	ffprobePath string
	ytdlpPath   string

	allowedOrigins []string
	logger         *slog.Logger
	handler        http.Handler
	wsHub          *wsHub
	startedAt      time.Time
}

type ServerOption func(*Server)

func WithResourceProbe(p *resource.Probe) ServerOption {
	return func(s *Server) { s.probe = p }
}

func WithScheduler(sched *transcode.Scheduler) ServerOption {
	return func(s *Server) { s.scheduler = sched }
}

func WithTools(ffmpeg, ffprobe, ytdlp string) ServerOption {
	return func(s *Server) {
		s.ffmpegPath = ffmpeg
		s.ffprobePath = ffprobe
		s.ytdlpPath = ytdlp
	}
}

// WithAllowedOrigins configures the CORS allowed origins whitelist.
// When empty (default), any origin is permitted (development mode).
func WithAllowedOrigins(origins []string) ServerOption {
	return func(s *Server) { s.allowedOrigins = origins }
}

func WithLogger(logger *slog.Logger) ServerOption {
	return func(s *Server) { s.logger = logger }
}

func NewServer(streams *usecase.Streams, registry *session.Registry, opts ...ServerOption) *Server {
	s := &Server{
		streams:     streams,
		registry:    registry,
		ffmpegPath:  "ffmpeg",
		ffprobePath: "ffprobe",
		ytdlpPath:   "yt-dlp",
		startedAt:   time.Now(),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}

	s.wsHub = newWSHub(s.logger)
	go s.wsHub.run()

	mux := http.NewServeMux()
	mux.HandleFunc("/stream", s.handleCreateStream)
	mux.HandleFunc("/stream-yt", s.handleCreateURLStream)
	mux.HandleFunc("/stream/", s.handleStreamByID)
	mux.HandleFunc("/status/", s.handleStatus)
	mux.HandleFunc("/hls/", s.handleHLS)
	mux.HandleFunc("/seek/", s.handleSeek)
	mux.HandleFunc("/seek-info/", s.handleSeekInfo)
	mux.HandleFunc("/subtitles-list/", s.handleSubtitlesList)
	mux.HandleFunc("/subtitles/", s.handleSubtitleFile)
	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/resources", s.handleResources)
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/ws", s.handleWS)

	traced := otelhttp.NewHandler(loggingMiddleware(s.logger, mux), "streamgate",
		otelhttp.WithFilter(func(r *http.Request) bool {
			p := r.URL.Path
			return p != "/metrics" && p != "/health" && !strings.HasPrefix(p, "/hls/")
		}),
	)
	s.handler = recoveryMiddleware(s.logger, rateLimitMiddleware(100, 200, metricsMiddleware(corsMiddleware(s.allowedOrigins, traced))))
	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.handler.ServeHTTP(w, r)
}

// Close disconnects all WebSocket clients.
func (s *Server) Close() {
	if s.wsHub != nil {
		s.wsHub.Close()
	}
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := wsUpgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Error("ws upgrade failed", slog.String("error", err.Error()))
		return
	}
	client := &wsClient{
		hub:  s.wsHub,
		conn: conn,
		send: make(chan []byte, 256),
	}
	s.wsHub.register <- client
	go client.writePump()
	go client.readPump()
}

// BroadcastStatus pushes every live session's status snapshot to all
// WebSocket clients. Called on a timer from main.
func (s *Server) BroadcastStatus() {
	if s.wsHub.clientCount() == 0 {
		return
	}
	statuses := s.collectStatuses()
	s.wsHub.Broadcast("status", statuses)
}

func toolOnPath(binary string) bool {
	_, err := exec.LookPath(binary)
	return err == nil
}
