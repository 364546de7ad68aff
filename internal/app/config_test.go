package app

import (
	"testing"
	"time"
)

func TestLoadConfigDefaults(t *testing.T) {
	cfg := LoadConfig()

	if cfg.HTTPAddr != ":3000" {
		t.Errorf("HTTPAddr = %q, want :3000", cfg.HTTPAddr)
	}
	if cfg.MinSegmentSeconds != 4 || cfg.MaxSegmentSeconds != 10 {
		t.Errorf("segment bounds = %d/%d, want 4/10", cfg.MinSegmentSeconds, cfg.MaxSegmentSeconds)
	}
	if cfg.TargetStreamsPerSegment != 10 {
		t.Errorf("TargetStreamsPerSegment = %d, want 10", cfg.TargetStreamsPerSegment)
	}
	if cfg.MaxStreamStorageBytes != 2_000_000_000 {
		t.Errorf("MaxStreamStorageBytes = %d, want 2e9", cfg.MaxStreamStorageBytes)
	}
	if cfg.KeepSegments != 5 {
		t.Errorf("KeepSegments = %d, want 5", cfg.KeepSegments)
	}
	if cfg.ResourceWatchInterval != 15*time.Second {
		t.Errorf("ResourceWatchInterval = %v, want 15s", cfg.ResourceWatchInterval)
	}
	if cfg.SessionIdleTimeout != 0 {
		t.Errorf("SessionIdleTimeout = %v, want 0 (disabled)", cfg.SessionIdleTimeout)
	}
}

func TestLoadConfigOverrides(t *testing.T) {
	t.Setenv("PORT", "8090")
	t.Setenv("MIN_SEGMENT_SECONDS", "6")
	t.Setenv("MAX_STREAM_STORAGE_BYTES", "10000000")
	t.Setenv("MAX_CONCURRENT_FFMPEG", "3")
	t.Setenv("CORS_ALLOWED_ORIGINS", "http://a.example, http://b.example")

	cfg := LoadConfig()

	if cfg.HTTPAddr != ":8090" {
		t.Errorf("HTTPAddr = %q, want :8090", cfg.HTTPAddr)
	}
	if cfg.MinSegmentSeconds != 6 {
		t.Errorf("MinSegmentSeconds = %d, want 6", cfg.MinSegmentSeconds)
	}
	if cfg.MaxStreamStorageBytes != 10_000_000 {
		t.Errorf("MaxStreamStorageBytes = %d, want 1e7", cfg.MaxStreamStorageBytes)
	}
	if cfg.MaxConcurrentFFMPEG != 3 {
		t.Errorf("MaxConcurrentFFMPEG = %d, want 3", cfg.MaxConcurrentFFMPEG)
	}
	if len(cfg.CORSAllowedOrigins) != 2 || cfg.CORSAllowedOrigins[1] != "http://b.example" {
		t.Errorf("CORSAllowedOrigins = %v", cfg.CORSAllowedOrigins)
	}
}

func TestGetEnvInt64RejectsGarbage(t *testing.T) {
	t.Setenv("KEEP_SEGMENTS", "not-a-number")
	if cfg := LoadConfig(); cfg.KeepSegments != 5 {
		t.Errorf("KeepSegments = %d, want fallback 5", cfg.KeepSegments)
	}
	t.Setenv("KEEP_SEGMENTS", "-2")
	if cfg := LoadConfig(); cfg.KeepSegments != 5 {
		t.Errorf("KeepSegments = %d, want fallback 5 for negative", cfg.KeepSegments)
	}
}
