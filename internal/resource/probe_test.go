package resource

import (
	"os"
	"path/filepath"
	"testing"
)

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
}

func TestProbeCgroupV2(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "memory.max"), "2147483648\n")
	writeFile(t, filepath.Join(root, "cpu.max"), "400000 100000\n")

	p := newProbeWithRoot(root, nil)
	limits := p.Current()
	if limits.MemoryMB != 2048 {
		t.Errorf("MemoryMB = %d, want 2048", limits.MemoryMB)
	}
	if limits.CPUCount != 4 {
		t.Errorf("CPUCount = %d, want 4", limits.CPUCount)
	}
}

func TestProbeCgroupV2Unlimited(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "memory.max"), "max\n")
	writeFile(t, filepath.Join(root, "cpu.max"), "max 100000\n")

	p := newProbeWithRoot(root, nil)
	limits := p.Current()
	// "max" means no cgroup limit; the probe falls back to the OS view.
	if limits.MemoryMB <= 0 {
		t.Errorf("MemoryMB = %d, want OS fallback > 0", limits.MemoryMB)
	}
	if limits.CPUCount <= 0 {
		t.Errorf("CPUCount = %d, want OS fallback > 0", limits.CPUCount)
	}
}

func TestProbeCgroupV1(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "memory", "memory.limit_in_bytes"), "1073741824\n")
	writeFile(t, filepath.Join(root, "cpu", "cpu.cfs_quota_us"), "150000\n")
	writeFile(t, filepath.Join(root, "cpu", "cpu.cfs_period_us"), "100000\n")

	p := newProbeWithRoot(root, nil)
	limits := p.Current()
	if limits.MemoryMB != 1024 {
		t.Errorf("MemoryMB = %d, want 1024", limits.MemoryMB)
	}
	// 1.5 CPUs truncates to 1.
	if limits.CPUCount != 1 {
		t.Errorf("CPUCount = %d, want 1", limits.CPUCount)
	}
}

func TestProbeCgroupV1NoLimitSentinel(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "memory", "memory.limit_in_bytes"), "9223372036854771712\n")

	p := newProbeWithRoot(root, nil)
	if limits := p.Current(); limits.MemoryMB <= 0 {
		t.Errorf("MemoryMB = %d, want OS fallback for v1 no-limit sentinel", limits.MemoryMB)
	}
}

func TestProbeOSFallback(t *testing.T) {
	p := newProbeWithRoot(t.TempDir(), nil)
	limits := p.Current()
	if limits.MemoryMB <= 0 {
		t.Errorf("MemoryMB = %d, want > 0 from OS", limits.MemoryMB)
	}
	if limits.CPUCount <= 0 {
		t.Errorf("CPUCount = %d, want > 0 from OS", limits.CPUCount)
	}
}
