package resource

// Tuning is the set of transcoder knobs derived from detected resources.
type Tuning struct {
	PerFFMPEGMB   int64 `json:"perFfmpegMB"`
	MaxConcurrent int   `json:"maxConcurrent"`
	Threads       int   `json:"threads"`
}

// Tune derives transcoder limits from the resource envelope. A non-zero
// override pins the corresponding knob regardless of detected resources.
func Tune(limits Limits, maxConcurrentOverride, threadsOverride int) Tuning {
	memMB := limits.MemoryMB
	cpus := limits.CPUCount
	if cpus < 1 {
		cpus = 1
	}

	var perFFMPEG int64
	switch {
	case memMB < 700:
		perFFMPEG = 256
	case memMB < 1500:
		perFFMPEG = 512
	default:
		perFFMPEG = 800
	}

	byMemory := int(float64(memMB) / (float64(perFFMPEG) * 1.2))
	byCPU := cpus / 2
	maxConcurrent := byMemory
	if byCPU < maxConcurrent {
		maxConcurrent = byCPU
	}
	if maxConcurrent < 1 {
		maxConcurrent = 1
	}
	if maxConcurrentOverride > 0 {
		maxConcurrent = maxConcurrentOverride
	}

	threads := 1
	if memMB >= 1024 {
		threads = cpus / 2
		if threads < 1 {
			threads = 1
		}
	}
	if threadsOverride > 0 {
		threads = threadsOverride
	}

	return Tuning{
		PerFFMPEGMB:   perFFMPEG,
		MaxConcurrent: maxConcurrent,
		Threads:       threads,
	}
}

// SegmentDuration picks the HLS segment length for a new session based on
// current load. More active sessions mean longer segments, clamped to the
// configured bounds.
func SegmentDuration(activeSessions, minSeconds, maxSeconds, targetPerSegment int) int {
	if minSeconds < 1 {
		minSeconds = 1
	}
	if maxSeconds < minSeconds {
		maxSeconds = minSeconds
	}
	if targetPerSegment < 1 {
		targetPerSegment = 1
	}
	if activeSessions < 1 {
		activeSessions = 1
	}

	scale := (activeSessions + targetPerSegment - 1) / targetPerSegment
	duration := scale * minSeconds
	if duration < minSeconds {
		duration = minSeconds
	}
	if duration > maxSeconds {
		duration = maxSeconds
	}
	return duration
}
