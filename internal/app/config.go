package app

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	HTTPAddr           string
	LogLevel           string
	LogFormat          string
	StreamBaseDir      string
	TorrentDataDir     string
	FFMPEGPath         string
	FFProbePath        string
	YTDLPPath          string
	CORSAllowedOrigins []string

	MinSegmentSeconds       int
	MaxSegmentSeconds       int
	TargetStreamsPerSegment int
	MaxStreamStorageBytes   int64
	KeepSegments            int
	MaxConcurrentFFMPEG     int // 0 = computed from resources
	FFMPEGThreads           int // 0 = computed from resources

	SegmentMonitorInterval time.Duration
	ResourceWatchInterval  time.Duration
	RetentionInterval      time.Duration
	SessionIdleTimeout     time.Duration // 0 = disabled
}

func LoadConfig() Config {
	port := getEnv("PORT", "3000")
	return Config{
		HTTPAddr:           ":" + strings.TrimPrefix(port, ":"),
		LogLevel:           strings.ToLower(getEnv("LOG_LEVEL", "info")),
		LogFormat:          strings.ToLower(getEnv("LOG_FORMAT", "text")),
		StreamBaseDir:      getEnv("STREAM_BASE_DIR", os.TempDir()),
		TorrentDataDir:     getEnv("TORRENT_DATA_DIR", filepath.Join(os.TempDir(), "streamgate-torrents")),
		FFMPEGPath:         getEnv("FFMPEG_PATH", "ffmpeg"),
		FFProbePath:        getEnv("FFPROBE_PATH", "ffprobe"),
		YTDLPPath:          getEnv("YTDLP_PATH", "yt-dlp"),
		CORSAllowedOrigins: splitCommaList(getEnv("CORS_ALLOWED_ORIGINS", "")),

		MinSegmentSeconds:       int(getEnvInt64("MIN_SEGMENT_SECONDS", 4)),
		MaxSegmentSeconds:       int(getEnvInt64("MAX_SEGMENT_SECONDS", 10)),
		TargetStreamsPerSegment: int(getEnvInt64("TARGET_STREAMS_PER_SEGMENT", 10)),
		MaxStreamStorageBytes:   getEnvInt64("MAX_STREAM_STORAGE_BYTES", 2_000_000_000),
		KeepSegments:            int(getEnvInt64("KEEP_SEGMENTS", 5)),
		MaxConcurrentFFMPEG:     int(getEnvInt64("MAX_CONCURRENT_FFMPEG", 0)),
		FFMPEGThreads:           int(getEnvInt64("FFMPEG_THREADS", 0)),

		SegmentMonitorInterval: getEnvMillis("SEGMENT_MONITOR_INTERVAL_MS", 5000),
		ResourceWatchInterval:  getEnvMillis("RESOURCE_WATCH_INTERVAL_MS", 15000),
		RetentionInterval:      getEnvMillis("RETENTION_INTERVAL_MS", 15000),
		SessionIdleTimeout:     time.Duration(getEnvInt64("SESSION_IDLE_TIMEOUT_MINUTES", 0)) * time.Minute,
	}
}

func getEnv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

func getEnvInt64(key string, fallback int64) int64 {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return fallback
	}
	parsed, err := strconv.ParseInt(value, 10, 64)
	if err != nil {
		return fallback
	}
	if parsed < 0 {
		return fallback
	}
	return parsed
}

func getEnvMillis(key string, fallback int64) time.Duration {
	return time.Duration(getEnvInt64(key, fallback)) * time.Millisecond
}

func splitCommaList(value string) []string {
	if strings.TrimSpace(value) == "" {
		return nil
	}
	parts := strings.Split(value, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		if item := strings.TrimSpace(part); item != "" {
			out = append(out, item)
		}
	}
	return out
}
