// Package environment describes the host a training process runs on. The
// Environment is built once at start-up and passed to the components that
// need it.
package environment

import (
	"context"
	"fmt"
	"os"
	"runtime"
	"slices"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"
)

// Environment holds process-wide host facts.
type Environment struct {
	Hostname      string   `json:"hostname"`
	OS            string   `json:"os"`
	Arch          string   `json:"arch"`
	CPUModel      string   `json:"cpu_model"`
	LogicalCPUs   int      `json:"logical_cpus"`
	PhysicalCPUs  int      `json:"physical_cpus"`
	TotalMemoryMB uint64   `json:"total_memory_mb"`
	GPUs          []string `json:"gpus,omitempty"`
}

// Detect inspects the host. gpus are devices configured by the operator.
// Failing probes leave their fields at fallback values.
func Detect(ctx context.Context, gpus []string) Environment {
	env := Environment{
		OS:          runtime.GOOS,
		Arch:        runtime.GOARCH,
		LogicalCPUs: runtime.NumCPU(),
		GPUs:        slices.Clone(gpus),
	}
	if h, err := os.Hostname(); err == nil {
		env.Hostname = h
	}
	if n, err := cpu.CountsWithContext(ctx, true); err == nil && n > 0 {
		env.LogicalCPUs = n
	}
	if n, err := cpu.CountsWithContext(ctx, false); err == nil && n > 0 {
		env.PhysicalCPUs = n
	}
	if infos, err := cpu.InfoWithContext(ctx); err == nil && len(infos) > 0 {
		env.CPUModel = infos[0].ModelName
	}
	if vm, err := mem.VirtualMemoryWithContext(ctx); err == nil {
		env.TotalMemoryMB = vm.Total / (1 << 20)
	}
	return env
}

// Devices lists the devices a run may select: "cpu" followed by the GPUs.
func (e Environment) Devices() []string {
	return append([]string{"cpu"}, e.GPUs...)
}

// HasDevice reports whether name is a selectable device. An empty name means
// the default device.
func (e Environment) HasDevice(name string) bool {
	return name == "" || slices.Contains(e.Devices(), name)
}

// CPUSummary is the short CPU description recorded with each parameter row.
func (e Environment) CPUSummary() string {
	model := e.CPUModel
	if model == "" {
		model = e.Arch
	}
	return fmt.Sprintf("%s (%d logical / %d physical)", model, e.LogicalCPUs, e.PhysicalCPUs)
}

// Load samples the current CPU and memory utilisation in percent.
func Load(ctx context.Context) (cpuPercent, memPercent float64) {
	if p, err := cpu.PercentWithContext(ctx, 0, false); err == nil && len(p) > 0 {
		cpuPercent = p[0]
	}
	if vm, err := mem.VirtualMemoryWithContext(ctx); err == nil {
		memPercent = vm.UsedPercent
	}
	return cpuPercent, memPercent
}
