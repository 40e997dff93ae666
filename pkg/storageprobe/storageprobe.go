// Package storageprobe classifies a save path as rotational (hdd) or
// solid-state (ssd) and returns the matching tuning profile from the
// Downloader's operating table.
package storageprobe

import (
	"fmt"
	"math/rand"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
	"time"

	"github.com/jbrannan/flowgate/internal/config"
	"github.com/jbrannan/flowgate/internal/logger"
	"github.com/shirou/gopsutil/v4/disk"
)

// Kind mirrors config.StorageKind but is the probe's own output type so the
// probe package has no forced-value ambiguity with the config override.
type Kind string

const (
	HDD Kind = "hdd"
	SSD Kind = "ssd"
)

// Profile is the tuning table a classified path yields (spec §4.1).
type Profile struct {
	Kind                 Kind
	MaxConnectionsPerJob int
	ConcurrentLarge      int
	ConcurrentSmall      int
	LargeThresholdBytes  int64
	DiskBufferBytes      int64
	FlushInterval        time.Duration
	PreallocateFile      bool
}

func hddProfile(cfg *config.Config) Profile {
	return Profile{
		Kind:                 HDD,
		MaxConnectionsPerJob: 1,
		ConcurrentLarge:      1,
		ConcurrentSmall:      3,
		LargeThresholdBytes:  cfg.LargeThresholdBytes,
		DiskBufferBytes:      67108864,
		FlushInterval:        5 * time.Second,
		PreallocateFile:      true,
	}
}

func ssdProfile(cfg *config.Config) Profile {
	return Profile{
		Kind:                 SSD,
		MaxConnectionsPerJob: 4,
		ConcurrentLarge:      3,
		ConcurrentSmall:      5,
		LargeThresholdBytes:  cfg.LargeThresholdBytes,
		DiskBufferBytes:      8388608,
		FlushInterval:        1 * time.Second,
		PreallocateFile:      false,
	}
}

// iopsThreshold is the achieved-IOPS cutoff the micro-benchmark classifies
// against when sysfs/gopsutil can't answer directly.
const iopsThreshold = 400

// Probe classifies savePath, honoring a config.StorageType override of
// hdd/ssd, and falling back to sysfs, then gopsutil, then a micro-benchmark.
func Probe(savePath string) Profile {
	cfg := config.Get()
	log := logger.New("storageprobe")

	switch cfg.StorageType {
	case config.StorageHDD:
		log.Info().Str("save_path", savePath).Msg("storage type forced to hdd")
		return hddProfile(cfg)
	case config.StorageSSD:
		log.Info().Str("save_path", savePath).Msg("storage type forced to ssd")
		return ssdProfile(cfg)
	}

	if rotational, ok := rotationalFromSysfs(savePath); ok {
		if rotational {
			log.Info().Str("save_path", savePath).Msg("classified hdd via sysfs rotational flag")
			return hddProfile(cfg)
		}
		log.Info().Str("save_path", savePath).Msg("classified ssd via sysfs rotational flag")
		return ssdProfile(cfg)
	}

	if rotational, ok := rotationalFromGopsutil(savePath); ok {
		if rotational {
			log.Info().Str("save_path", savePath).Msg("classified hdd via gopsutil")
			return hddProfile(cfg)
		}
		log.Info().Str("save_path", savePath).Msg("classified ssd via gopsutil")
		return ssdProfile(cfg)
	}

	iops, err := benchmarkIOPS(savePath)
	if err != nil {
		log.Warn().Err(err).Str("save_path", savePath).Msg("IOPS benchmark failed, defaulting to hdd profile")
		return hddProfile(cfg)
	}
	log.Info().Str("save_path", savePath).Int("iops", iops).Msg("classified via IOPS micro-benchmark")
	if iops >= iopsThreshold {
		return ssdProfile(cfg)
	}
	return hddProfile(cfg)
}

// rotationalFromSysfs reads /sys/block/<dev>/queue/rotational for the block
// device backing savePath. Linux-only; returns ok=false elsewhere or on any
// lookup failure so the caller falls through to the next method.
func rotationalFromSysfs(savePath string) (rotational bool, ok bool) {
	if runtime.GOOS != "linux" {
		return false, false
	}
	dev, err := blockDeviceFor(savePath)
	if err != nil || dev == "" {
		return false, false
	}
	data, err := os.ReadFile(filepath.Join("/sys/block", dev, "queue", "rotational"))
	if err != nil {
		return false, false
	}
	val := strings.TrimSpace(string(data))
	n, err := strconv.Atoi(val)
	if err != nil {
		return false, false
	}
	return n == 1, true
}

// blockDeviceFor maps a path to its underlying block device name by walking
// /proc/self/mountinfo for the longest matching mount point. Partition
// devices (e.g. sda1) are reduced to their parent disk (sda).
func blockDeviceFor(savePath string) (string, error) {
	abs, err := filepath.Abs(savePath)
	if err != nil {
		return "", err
	}
	partitions, err := disk.Partitions(true)
	if err != nil {
		return "", err
	}
	best := ""
	bestLen := -1
	for _, p := range partitions {
		if strings.HasPrefix(abs, p.Mountpoint) && len(p.Mountpoint) > bestLen {
			best = p.Device
			bestLen = len(p.Mountpoint)
		}
	}
	if best == "" {
		return "", fmt.Errorf("no mount found for %s", abs)
	}
	name := filepath.Base(best)
	name = strings.TrimRight(name, "0123456789")
	if strings.HasPrefix(name, "nvme") {
		if i := strings.Index(name, "p"); i != -1 {
			name = name[:i]
		}
	}
	return name, nil
}

// rotationalIOTimeMillisThreshold is the average-milliseconds-per-IO cutoff
// (cumulative IoTime / completed read+write ops) gopsutil's counters are
// classified against: solid-state devices service random small IOs in
// sub-millisecond time, rotational disks in the tens of milliseconds once
// seeks are involved.
const rotationalIOTimeMillisThreshold = 8.0

// rotationalFromGopsutil asks gopsutil for IO counters keyed by device name,
// used on platforms where /sys/block (rotationalFromSysfs) doesn't exist.
// gopsutil has no direct rotational flag, so this classifies on average
// per-op service time instead; ok is false whenever there's no live sample
// to judge that average from (device not found, or zero completed ops),
// leaving classification to the micro-benchmark.
func rotationalFromGopsutil(savePath string) (rotational bool, ok bool) {
	dev, err := blockDeviceFor(savePath)
	if err != nil || dev == "" {
		return false, false
	}
	counters, err := disk.IOCounters(dev)
	if err != nil {
		return false, false
	}
	stat, found := counters[dev]
	if !found || stat.Name == "" {
		return false, false
	}
	ops := stat.ReadCount + stat.WriteCount
	if ops == 0 {
		return false, false
	}
	avgIOMillis := float64(stat.IoTime) / float64(ops)
	return avgIOMillis >= rotationalIOTimeMillisThreshold, true
}

// benchmarkIOPS performs 4 KiB random reads over a scratch file for a short
// window and returns the achieved IOPS.
func benchmarkIOPS(savePath string) (int, error) {
	if err := os.MkdirAll(savePath, 0o755); err != nil {
		return 0, err
	}
	scratch := filepath.Join(savePath, ".flowgate-probe")
	const fileSize = 16 * 1024 * 1024
	const blockSize = 4096

	f, err := os.OpenFile(scratch, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0o600)
	if err != nil {
		return 0, err
	}
	defer func() {
		f.Close()
		os.Remove(scratch)
	}()

	buf := make([]byte, blockSize)
	if _, err := rand.Read(buf); err != nil {
		return 0, err
	}
	for off := int64(0); off < fileSize; off += blockSize {
		if _, err := f.WriteAt(buf, off); err != nil {
			return 0, err
		}
	}
	if err := f.Sync(); err != nil {
		return 0, err
	}

	readBuf := make([]byte, blockSize)
	const window = 200 * time.Millisecond
	deadline := time.Now().Add(window)
	reads := 0
	for time.Now().Before(deadline) {
		off := rand.Int63n(fileSize / blockSize) * blockSize
		if _, err := f.ReadAt(readBuf, off); err != nil {
			return 0, err
		}
		reads++
	}
	iops := int(float64(reads) / window.Seconds())
	return iops, nil
}
