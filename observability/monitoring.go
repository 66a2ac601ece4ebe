package observability

import (
	"chat-relay/domain"
	"context"
	"fmt"
	"log/slog"
	"os"
	"runtime"
	"time"

	"github.com/shirou/gopsutil/process"
)

const defaultMetricInterval = 5 * time.Second

type StatsSource interface {
	Stats() domain.RegistryStats
}

// HealthMonitoringWorker samples the relay process and the registry every
// metricInterval and publishes the result on the board read by /health.
type HealthMonitoringWorker struct {
	log            *slog.Logger
	board          *domain.HealthBoard
	stats          StatsSource
	metricInterval time.Duration
	pid            int32
}

func NewHealthMonitoringWorker(log *slog.Logger, board *domain.HealthBoard, stats StatsSource,
	metricInterval time.Duration) *HealthMonitoringWorker {
	if metricInterval <= 0 {
		metricInterval = defaultMetricInterval
	}
	return &HealthMonitoringWorker{
		log:            log,
		board:          board,
		stats:          stats,
		metricInterval: metricInterval,
		pid:            int32(os.Getpid()),
	}
}

func (w *HealthMonitoringWorker) Run(ctx context.Context) error {
	proc, err := process.NewProcess(w.pid)
	if err != nil {
		return fmt.Errorf("monitoring pid %d: %w", w.pid, err)
	}
	ticker := time.NewTicker(w.metricInterval)
	defer ticker.Stop()

	w.sample(proc)
	for {
		select {
		case <-ctx.Done():
			w.log.Debug("Context done, stopping health monitoring")
			return nil
		case <-ticker.C:
			w.sample(proc)
		}
	}
}

// sample never fails: a metric that cannot be read is left at zero.
func (w *HealthMonitoringWorker) sample(proc *process.Process) {
	node := domain.NodeHealth{
		PID:        w.pid,
		Goroutines: runtime.NumGoroutine(),
	}
	if w.stats != nil {
		node.Registry = w.stats.Stats()
	}
	if cpu, err := proc.CPUPercent(); err == nil {
		node.CPU = cpu
	} else {
		w.log.Debug("Error while finding process cpu usage", "error", err)
	}
	if ram, err := proc.MemoryPercent(); err == nil {
		node.RAM = ram
	} else {
		w.log.Debug("Error while finding process ram usage", "error", err)
	}
	if mem, err := proc.MemoryInfo(); err == nil {
		node.RSS = mem.RSS
	}
	w.board.Update(node)
	w.log.Debug("Health sampled",
		"cpu", node.CPU,
		"ram", node.RAM,
		"goroutines", node.Goroutines,
		"connections", node.Registry.Connections,
		"subscriptions", node.Registry.Subscriptions)
}
