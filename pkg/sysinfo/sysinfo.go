// Package sysinfo reports disk, memory, process and host information in
// the shape of df, free, ps and uname.
package sysinfo

import (
	"context"
	"sort"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/pkg/errors"
	"github.com/shirou/gopsutil/v4/cpu"
	"github.com/shirou/gopsutil/v4/disk"
	"github.com/shirou/gopsutil/v4/host"
	"github.com/shirou/gopsutil/v4/load"
	"github.com/shirou/gopsutil/v4/mem"
	"github.com/shirou/gopsutil/v4/process"

	"github.com/jingkaihe/skillbox/pkg/logger"
)

// pseudoFilesystems never hold user data and are hidden from Disks.
var pseudoFilesystems = map[string]bool{
	"proc": true, "sysfs": true, "devpts": true, "devtmpfs": true,
	"cgroup": true, "cgroup2": true, "mqueue": true, "debugfs": true,
	"tracefs": true, "securityfs": true, "pstore": true, "bpf": true,
	"autofs": true, "configfs": true, "fusectl": true, "hugetlbfs": true,
	"binfmt_misc": true, "nsfs": true, "rpc_pipefs": true, "squashfs": true,
}

// Disk is one mounted filesystem.
type Disk struct {
	Device      string  `json:"device"`
	Mountpoint  string  `json:"mountpoint"`
	Fstype      string  `json:"fstype"`
	Total       uint64  `json:"total"`
	Used        uint64  `json:"used"`
	Free        uint64  `json:"free"`
	UsedPercent float64 `json:"used_percent"`
}

// Memory is physical and swap usage.
type Memory struct {
	Total       uint64  `json:"total"`
	Used        uint64  `json:"used"`
	Free        uint64  `json:"free"`
	Available   uint64  `json:"available"`
	Cached      uint64  `json:"cached"`
	UsedPercent float64 `json:"used_percent"`
	SwapTotal   uint64  `json:"swap_total"`
	SwapUsed    uint64  `json:"swap_used"`
	SwapFree    uint64  `json:"swap_free"`
}

// Process is one running process.
type Process struct {
	PID        int32   `json:"pid"`
	Name       string  `json:"name"`
	User       string  `json:"user,omitempty"`
	CPUPercent float64 `json:"cpu_percent"`
	MemPercent float32 `json:"mem_percent"`
	RSS        uint64  `json:"rss"`
	Command    string  `json:"command,omitempty"`
}

// Host describes the machine.
type Host struct {
	Hostname        string        `json:"hostname"`
	OS              string        `json:"os"`
	Platform        string        `json:"platform"`
	PlatformVersion string        `json:"platform_version"`
	KernelVersion   string        `json:"kernel_version"`
	Arch            string        `json:"arch"`
	Virtualization  string        `json:"virtualization,omitempty"`
	Uptime          time.Duration `json:"uptime"`
	BootTime        time.Time     `json:"boot_time"`
	Procs           uint64        `json:"procs"`
	CPUs            int           `json:"cpus"`
	Load1           float64       `json:"load1"`
	Load5           float64       `json:"load5"`
	Load15          float64       `json:"load15"`
}

// Disks lists real filesystems, one entry per mountpoint.
func Disks(ctx context.Context) ([]Disk, error) {
	parts, err := disk.PartitionsWithContext(ctx, false)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list partitions")
	}

	seen := map[string]bool{}
	disks := []Disk{}
	for _, p := range parts {
		if pseudoFilesystems[p.Fstype] || seen[p.Mountpoint] {
			continue
		}
		seen[p.Mountpoint] = true

		usage, err := disk.UsageWithContext(ctx, p.Mountpoint)
		if err != nil {
			logger.G(ctx).WithError(err).WithField("mountpoint", p.Mountpoint).Debug("skipping filesystem")
			continue
		}
		if usage.Total == 0 {
			continue
		}
		disks = append(disks, Disk{
			Device:      p.Device,
			Mountpoint:  p.Mountpoint,
			Fstype:      p.Fstype,
			Total:       usage.Total,
			Used:        usage.Used,
			Free:        usage.Free,
			UsedPercent: usage.UsedPercent,
		})
	}
	sort.Slice(disks, func(i, j int) bool { return disks[i].Mountpoint < disks[j].Mountpoint })
	return disks, nil
}

// GetMemory reads physical and swap memory usage.
func GetMemory(ctx context.Context) (*Memory, error) {
	vm, err := mem.VirtualMemoryWithContext(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "failed to read memory")
	}
	m := &Memory{
		Total:       vm.Total,
		Used:        vm.Used,
		Free:        vm.Free,
		Available:   vm.Available,
		Cached:      vm.Cached,
		UsedPercent: vm.UsedPercent,
	}
	// swap is absent on many containers
	if swap, err := mem.SwapMemoryWithContext(ctx); err == nil {
		m.SwapTotal = swap.Total
		m.SwapUsed = swap.Used
		m.SwapFree = swap.Free
	}
	return m, nil
}

// Sort keys accepted by Processes.
const (
	SortCPU  = "cpu"
	SortMem  = "mem"
	SortPID  = "pid"
	SortName = "name"
)

// Processes lists running processes sorted by sortBy, keeping the first n
// when n is positive. Processes that exit while being read are skipped.
func Processes(ctx context.Context, sortBy string, n int) ([]Process, error) {
	if sortBy == "" {
		sortBy = SortCPU
	}
	switch sortBy {
	case SortCPU, SortMem, SortPID, SortName:
	default:
		return nil, errors.Errorf("unknown sort key %q, expected cpu, mem, pid or name", sortBy)
	}

	procs, err := process.ProcessesWithContext(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list processes")
	}

	out := make([]Process, 0, len(procs))
	for _, p := range procs {
		name, err := p.NameWithContext(ctx)
		if err != nil {
			continue
		}
		entry := Process{PID: p.Pid, Name: name}
		entry.User, _ = p.UsernameWithContext(ctx)
		entry.CPUPercent, _ = p.CPUPercentWithContext(ctx)
		entry.MemPercent, _ = p.MemoryPercentWithContext(ctx)
		if info, err := p.MemoryInfoWithContext(ctx); err == nil {
			entry.RSS = info.RSS
		}
		entry.Command, _ = p.CmdlineWithContext(ctx)
		out = append(out, entry)
	}

	SortProcesses(out, sortBy)
	if n > 0 && len(out) > n {
		out = out[:n]
	}
	return out, nil
}

// SortProcesses orders procs in place. cpu and mem sort descending, pid and
// name ascending; ties fall back to pid.
func SortProcesses(procs []Process, sortBy string) {
	sort.SliceStable(procs, func(i, j int) bool {
		a, b := procs[i], procs[j]
		switch sortBy {
		case SortMem:
			if a.MemPercent != b.MemPercent {
				return a.MemPercent > b.MemPercent
			}
		case SortName:
			if an, bn := strings.ToLower(a.Name), strings.ToLower(b.Name); an != bn {
				return an < bn
			}
		case SortCPU:
			if a.CPUPercent != b.CPUPercent {
				return a.CPUPercent > b.CPUPercent
			}
		}
		return a.PID < b.PID
	})
}

// GetHost reads host identity, uptime and load.
func GetHost(ctx context.Context) (*Host, error) {
	info, err := host.InfoWithContext(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "failed to read host info")
	}
	h := &Host{
		Hostname:        info.Hostname,
		OS:              info.OS,
		Platform:        info.Platform,
		PlatformVersion: info.PlatformVersion,
		KernelVersion:   info.KernelVersion,
		Arch:            info.KernelArch,
		Virtualization:  info.VirtualizationSystem,
		Uptime:          time.Duration(info.Uptime) * time.Second,
		BootTime:        time.Unix(int64(info.BootTime), 0),
		Procs:           info.Procs,
	}
	if n, err := cpu.CountsWithContext(ctx, true); err == nil {
		h.CPUs = n
	}
	if avg, err := load.AvgWithContext(ctx); err == nil {
		h.Load1, h.Load5, h.Load15 = avg.Load1, avg.Load5, avg.Load15
	}
	return h, nil
}

// Bytes formats a byte count the way free -h and df -h do.
func Bytes(n uint64) string {
	return humanize.IBytes(n)
}
