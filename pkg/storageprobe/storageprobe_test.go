package storageprobe

import (
	"os"
	"testing"

	"github.com/jbrannan/flowgate/internal/config"
)

func fakeConfig() *config.Config {
	cfg := &config.Config{}
	cfg.LargeThresholdBytes = 21474836480
	return cfg
}

func TestBenchmarkIOPS(t *testing.T) {
	dir := t.TempDir()
	iops, err := benchmarkIOPS(dir)
	if err != nil {
		t.Fatalf("benchmarkIOPS failed: %v", err)
	}
	if iops <= 0 {
		t.Errorf("expected positive IOPS, got %d", iops)
	}
	if _, err := os.Stat(dir + "/.flowgate-probe"); err == nil {
		t.Error("scratch file should be removed after benchmarking")
	}
}

func TestHDDProfile_Thresholds(t *testing.T) {
	p := hddProfile(fakeConfig())
	if p.MaxConnectionsPerJob != 1 {
		t.Errorf("hdd profile should use 1 connection per job, got %d", p.MaxConnectionsPerJob)
	}
	if !p.PreallocateFile {
		t.Error("hdd profile should pre-allocate files")
	}
}

func TestSSDProfile_Thresholds(t *testing.T) {
	p := ssdProfile(fakeConfig())
	if p.MaxConnectionsPerJob != 4 {
		t.Errorf("ssd profile should use 4 connections per job, got %d", p.MaxConnectionsPerJob)
	}
	if p.PreallocateFile {
		t.Error("ssd profile should not pre-allocate files")
	}
}
