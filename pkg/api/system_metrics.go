package api

import (
	"context"
	"os"
	"runtime"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/host"
	"github.com/shirou/gopsutil/v3/mem"
	"github.com/shirou/gopsutil/v3/process"
)

type systemMetrics struct {
	CPUPercent    float64
	MemUsed       uint64
	MemTotal      uint64
	MemPercent    float64
	TemperatureC  float64
	temperatureOK bool
}

// collectSystemMetrics samples process CPU and memory for the status
// endpoint. Sensor data is best-effort; containers rarely expose it.
func collectSystemMetrics(ctx context.Context) systemMetrics {
	var metrics systemMetrics

	proc, err := process.NewProcessWithContext(ctx, int32(os.Getpid()))
	if err == nil {
		// Per-core percentage, normalized to 0-100 across all CPUs
		if cpuPercent, err := proc.PercentWithContext(ctx, 250*time.Millisecond); err == nil {
			if n := runtime.NumCPU(); n > 0 {
				metrics.CPUPercent = cpuPercent / float64(n)
			} else {
				metrics.CPUPercent = cpuPercent
			}
		} else if percents, err := cpu.PercentWithContext(ctx, 250*time.Millisecond, false); err == nil && len(percents) > 0 {
			metrics.CPUPercent = percents[0]
		}

		if memInfo, err := proc.MemoryInfoWithContext(ctx); err == nil {
			metrics.MemUsed = memInfo.RSS
		}
	}

	if vm, err := mem.VirtualMemoryWithContext(ctx); err == nil {
		metrics.MemTotal = vm.Total
		if metrics.MemTotal > 0 && metrics.MemUsed > 0 {
			metrics.MemPercent = (float64(metrics.MemUsed) / float64(metrics.MemTotal)) * 100
		}
	}

	if temps, err := host.SensorsTemperaturesWithContext(ctx); err == nil {
		for _, sensor := range temps {
			if sensor.Temperature > 0 {
				metrics.TemperatureC = sensor.Temperature
				metrics.temperatureOK = true
				break
			}
		}
	}

	return metrics
}
