// Package process 提供进程与系统资源信息
package process

import (
	"context"
	"fmt"
	"os"
	"runtime"
	"time"

	"github.com/shirou/gopsutil/v4/mem"
	"github.com/shirou/gopsutil/v4/process"
)

// ResourceUsage 当前进程的资源占用
type ResourceUsage struct {
	PID        int     `json:"pid"`
	RSSBytes   uint64  `json:"rss_bytes"`
	CPUPercent float64 `json:"cpu_percent"`
	Threads    int     `json:"threads"`
	Goroutines int     `json:"goroutines"`
	// 系统内存
	SystemMemoryTotal       uint64  `json:"system_memory_total"`
	SystemMemoryUsedPercent float64 `json:"system_memory_used_percent"`
}

// RSSMB 常驻内存 (MB)
func (r *ResourceUsage) RSSMB() float64 {
	return float64(r.RSSBytes) / (1 << 20)
}

// String 一行摘要，用于日志
func (r *ResourceUsage) String() string {
	return fmt.Sprintf("pid=%d rss=%.1fMB cpu=%.1f%% threads=%d goroutines=%d sysmem=%.1f%%",
		r.PID, r.RSSMB(), r.CPUPercent, r.Threads, r.Goroutines, r.SystemMemoryUsedPercent)
}

// Snapshot 采集当前进程资源占用
func Snapshot() (*ResourceUsage, error) {
	return SnapshotWithContext(context.Background())
}

// SnapshotWithContext 采集当前进程资源占用
// 单项指标读取失败时保留零值，只有进程本身无法访问时返回错误
func SnapshotWithContext(ctx context.Context) (*ResourceUsage, error) {
	pid := os.Getpid()
	proc, err := process.NewProcessWithContext(ctx, int32(pid))
	if err != nil {
		return nil, fmt.Errorf("无法访问当前进程: %w", err)
	}

	usage := &ResourceUsage{
		PID:        pid,
		Goroutines: runtime.NumGoroutine(),
	}

	if mi, err := proc.MemoryInfoWithContext(ctx); err == nil && mi != nil {
		usage.RSSBytes = mi.RSS
	}
	if cpu, err := proc.CPUPercentWithContext(ctx); err == nil {
		usage.CPUPercent = cpu
	}
	if n, err := proc.NumThreadsWithContext(ctx); err == nil {
		usage.Threads = int(n)
	}
	if vm, err := mem.VirtualMemoryWithContext(ctx); err == nil && vm != nil {
		usage.SystemMemoryTotal = vm.Total
		usage.SystemMemoryUsedPercent = vm.UsedPercent
	}

	return usage, nil
}

// Identity 当前进程的身份信息，随状态查询一起上报
type Identity struct {
	PID       int       `json:"pid"`
	Name      string    `json:"name"`
	Exe       string    `json:"exe"`
	StartedAt time.Time `json:"started_at"`
	Uptime    string    `json:"uptime"`
}

// Self 读取当前进程的名称、可执行文件路径与启动时间
// 名称或路径不可读时留空
func Self(ctx context.Context) (*Identity, error) {
	pid := os.Getpid()
	proc, err := process.NewProcessWithContext(ctx, int32(pid))
	if err != nil {
		return nil, fmt.Errorf("无法访问当前进程: %w", err)
	}

	id := &Identity{PID: pid}
	id.Name, _ = proc.NameWithContext(ctx)
	id.Exe, _ = proc.ExeWithContext(ctx)
	if ms, err := proc.CreateTimeWithContext(ctx); err == nil && ms > 0 {
		id.StartedAt = time.UnixMilli(ms)
		id.Uptime = time.Since(id.StartedAt).Truncate(time.Second).String()
	}
	return id, nil
}
