// Package guard provides admission checks for report generation based on
// system metrics. Chart rendering is memory heavy, so the server can be
// configured to shed generation requests under resource pressure instead
// of pushing workers into the per-request timeout.
package guard

import (
	"fmt"

	"github.com/shirou/gopsutil/v4/cpu"
	"github.com/shirou/gopsutil/v4/mem"
)

// Limits sets rejection thresholds in percent; 0 disables a check.
type Limits struct {
	MemoryBelow int // reject when memory usage is at or above this
	CPUBelow    int // reject when CPU usage is at or above this
}

// Enabled reports whether any check is configured.
func (l Limits) Enabled() bool { return l.MemoryBelow > 0 || l.CPUBelow > 0 }

// Check verifies all configured limits. Returns true when admission is
// allowed, false with a reason otherwise.
func Check(limits Limits) (bool, string) {
	if limits.MemoryBelow > 0 {
		if ok, reason := checkMemory(limits.MemoryBelow); !ok {
			return false, reason
		}
	}
	if limits.CPUBelow > 0 {
		if ok, reason := checkCPU(limits.CPUBelow); !ok {
			return false, reason
		}
	}
	return true, ""
}

// checkMemory checks if memory usage is below threshold
func checkMemory(threshold int) (bool, string) {
	v, err := mem.VirtualMemory()
	if err != nil {
		return false, fmt.Sprintf("failed to get memory: %v", err)
	}
	current := int(v.UsedPercent)
	if current >= threshold {
		return false, fmt.Sprintf("memory at %d%%, threshold %d%%", current, threshold)
	}
	return true, ""
}

// checkCPU checks if CPU usage is below threshold. Zero interval uses the
// delta since the previous call so the check doesn't block the request.
func checkCPU(threshold int) (bool, string) {
	cpuPercent, err := cpu.Percent(0, false)
	if err != nil {
		return false, fmt.Sprintf("failed to get CPU: %v", err)
	}
	if len(cpuPercent) == 0 {
		return false, "no CPU data available"
	}
	current := int(cpuPercent[0])
	if current >= threshold {
		return false, fmt.Sprintf("CPU at %d%%, threshold %d%%", current, threshold)
	}
	return true, ""
}
