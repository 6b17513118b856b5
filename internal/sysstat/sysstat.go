// Package sysstat samples the control unit's own CPU, memory and disk usage.
package sysstat

import (
	"slices"
	"sync"

	"codeberg.org/mutker/otnpmon/internal/errors"
	"github.com/prometheus/procfs"
	"github.com/samber/lo"
	"golang.org/x/sys/unix"
)

const (
	ErrReadStat = errors.ErrorCode("sysstat_read_failed")
)

// Memory is one memory usage sample in bytes.
type Memory struct {
	Total     uint64
	Used      uint64
	Available uint64
	Percent   float64
}

// CoreUsage is the share of one core's time per state since the previous
// sample, in percent.
type CoreUsage struct {
	Total  float64
	User   float64
	Kernel float64
	Nice   float64
	Idle   float64
	Wait   float64
}

// Reader is what the CU and chassis behaviours sample.
type Reader interface {
	// CPUPercent is the aggregate utilisation since the previous sample; 0
	// until a second sample exists.
	CPUPercent() float64
	// Cores is the per-core breakdown since the previous call; nil on the
	// first call.
	Cores() []CoreUsage
	Memory() (Memory, error)
	DiskPercent(path string) (float64, error)
}

// Host reads the running system through procfs and statfs.
type Host struct {
	fs    procfs.FS
	fsErr error

	mu          sync.Mutex
	prevTotal   *procfs.CPUStat
	prevCores   []procfs.CPUStat
	lastPercent float64
}

// minSampleSeconds is the aggregate cpu time that must pass before
// CPUPercent takes a new sample. Calls in quick succession share one.
const minSampleSeconds = 1.0

// NewHost returns a Reader for the local machine.
func NewHost() *Host {
	return NewHostAt(procfs.DefaultMountPoint)
}

// NewHostAt reads proc files below root instead of /proc.
func NewHostAt(root string) *Host {
	fs, err := procfs.NewFS(root)
	return &Host{fs: fs, fsErr: err}
}

// readStat returns the aggregate cpu line and the per-core lines ordered
// by core number.
func (h *Host) readStat() (procfs.CPUStat, []procfs.CPUStat, error) {
	if h.fsErr != nil {
		return procfs.CPUStat{}, nil, h.fsErr
	}
	stat, err := h.fs.Stat()
	if err != nil {
		return procfs.CPUStat{}, nil, err
	}

	ids := lo.Keys(stat.CPU)
	slices.Sort(ids)
	cores := lo.Map(ids, func(id int64, _ int) procfs.CPUStat {
		return stat.CPU[id]
	})
	return stat.CPUTotal, cores, nil
}

func cpuTime(c procfs.CPUStat) float64 {
	return c.User + c.Nice + c.System + c.Idle + c.Iowait + c.IRQ + c.SoftIRQ + c.Steal
}

func percent(part, whole float64) float64 {
	if whole <= 0 {
		return 0
	}
	return part / whole * 100
}

func delta(previous, current procfs.CPUStat) CoreUsage {
	whole := cpuTime(current) - cpuTime(previous)
	idle := current.Idle - previous.Idle

	return CoreUsage{
		Total:  percent(whole-idle, whole),
		User:   percent(current.User-previous.User, whole),
		Kernel: percent(current.System-previous.System, whole),
		Nice:   percent(current.Nice-previous.Nice, whole),
		Idle:   percent(idle, whole),
		Wait:   percent(current.Iowait-previous.Iowait, whole),
	}
}

func (h *Host) CPUPercent() float64 {
	current, _, err := h.readStat()
	if err != nil {
		return 0
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	previous := h.prevTotal
	if previous != nil && cpuTime(current) < cpuTime(*previous)+minSampleSeconds {
		return h.lastPercent
	}
	h.prevTotal = &current
	if previous == nil {
		return 0
	}
	h.lastPercent = delta(*previous, current).Total
	return h.lastPercent
}

func (h *Host) Cores() []CoreUsage {
	_, cores, err := h.readStat()
	if err != nil {
		return nil
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	previous := h.prevCores
	h.prevCores = cores
	if len(previous) != len(cores) {
		return nil
	}

	usage := make([]CoreUsage, len(cores))
	for i := range cores {
		if cpuTime(cores[i]) <= cpuTime(previous[i]) {
			continue
		}
		usage[i] = delta(previous[i], cores[i])
	}
	return usage
}

// Memory reports usage the way free(1) does: used = total - available.
// Falls back to sysinfo(2) when /proc/meminfo is unreadable.
func (h *Host) Memory() (Memory, error) {
	total, available, err := h.readMeminfo()
	if err != nil {
		var info unix.Sysinfo_t
		if sysErr := unix.Sysinfo(&info); sysErr != nil {
			return Memory{}, errors.New().Wrap(ErrReadStat, sysErr)
		}
		unit := uint64(info.Unit)
		total = uint64(info.Totalram) * unit
		available = (uint64(info.Freeram) + uint64(info.Bufferram)) * unit
	}

	if available > total {
		available = total
	}
	used := total - available

	return Memory{
		Total:     total,
		Used:      used,
		Available: available,
		Percent:   percent(float64(used), float64(total)),
	}, nil
}

func (h *Host) readMeminfo() (total, available uint64, err error) {
	if h.fsErr != nil {
		return 0, 0, h.fsErr
	}
	info, err := h.fs.Meminfo()
	if err != nil {
		return 0, 0, err
	}
	if info.MemTotal == nil || info.MemAvailable == nil {
		return 0, 0, errors.New().WithMessage(ErrReadStat, "meminfo lacks MemTotal or MemAvailable")
	}

	return *info.MemTotal * 1024, *info.MemAvailable * 1024, nil
}

// DiskPercent reports the used share of the filesystem holding path, as
// df(1) does: blocks reserved for root count as neither used nor free.
func (*Host) DiskPercent(path string) (float64, error) {
	var stat unix.Statfs_t
	if err := unix.Statfs(path, &stat); err != nil {
		return 0, errors.New().Wrap(ErrReadStat, err)
	}

	used := (stat.Blocks - stat.Bfree) * uint64(stat.Bsize)
	avail := stat.Bavail * uint64(stat.Bsize)
	return percent(float64(used), float64(used+avail)), nil
}
