package handlers

import (
	"net/http"
	"runtime"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/mantonx/captiond/internal/config"
	"github.com/shirou/gopsutil/v4/cpu"
	"github.com/shirou/gopsutil/v4/disk"
	"github.com/shirou/gopsutil/v4/load"
	"github.com/shirou/gopsutil/v4/mem"
)

var processStart = time.Now()

// HandleSystemStatus reports host resource usage alongside Go runtime
// numbers. Operators use this to judge whether the box can absorb a bulk
// generation run before starting one.
func HandleSystemStatus(c *gin.Context) {
	ctx := c.Request.Context()

	response := gin.H{
		"timestamp":      time.Now().UTC(),
		"uptime_seconds": int64(time.Since(processStart).Seconds()),
	}

	// CPU utilization over a short sampling window. Interval zero would
	// compare against the previous call, which is meaningless for a
	// stateless handler.
	cpuInfo := gin.H{"cores": runtime.NumCPU()}
	if percents, err := cpu.PercentWithContext(ctx, 250*time.Millisecond, false); err == nil && len(percents) > 0 {
		cpuInfo["usage_percent"] = percents[0]
	} else if err != nil {
		cpuInfo["error"] = err.Error()
	}

	if times, err := cpu.TimesWithContext(ctx, false); err == nil && len(times) > 0 {
		total := times[0].User + times[0].System + times[0].Idle + times[0].Iowait
		if total > 0 {
			cpuInfo["iowait_percent"] = (times[0].Iowait / total) * 100
		}
	}
	response["cpu"] = cpuInfo

	if memStats, err := mem.VirtualMemoryWithContext(ctx); err == nil {
		response["memory"] = gin.H{
			"total_mb":     memStats.Total / (1024 * 1024),
			"used_mb":      memStats.Used / (1024 * 1024),
			"available_mb": memStats.Available / (1024 * 1024),
			"used_percent": memStats.UsedPercent,
		}
	} else {
		response["memory"] = gin.H{"error": err.Error()}
	}

	if loadStats, err := load.AvgWithContext(ctx); err == nil {
		response["load"] = gin.H{
			"load1":  loadStats.Load1,
			"load5":  loadStats.Load5,
			"load15": loadStats.Load15,
		}
	}

	// Disk usage for the media root, where the scanned images live. A full
	// volume here is the usual reason scans start failing.
	mediaRoot := config.Get().Scanner.MediaRoot
	if usage, err := disk.UsageWithContext(ctx, mediaRoot); err == nil {
		response["disk"] = gin.H{
			"path":         mediaRoot,
			"total_gb":     float64(usage.Total) / (1024 * 1024 * 1024),
			"free_gb":      float64(usage.Free) / (1024 * 1024 * 1024),
			"used_percent": usage.UsedPercent,
		}
	} else {
		response["disk"] = gin.H{"path": mediaRoot, "error": err.Error()}
	}

	var memStats runtime.MemStats
	runtime.ReadMemStats(&memStats)
	response["runtime"] = gin.H{
		"go_version":    runtime.Version(),
		"goroutines":    runtime.NumGoroutine(),
		"heap_alloc_mb": memStats.HeapAlloc / (1024 * 1024),
		"gc_cycles":     memStats.NumGC,
	}

	c.JSON(http.StatusOK, response)
}
