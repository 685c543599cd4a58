package app

import (
	"context"
	"os"
	"time"

	"github.com/pkg/errors"
	"github.com/robfig/cron/v3"
	"github.com/shirou/gopsutil/v4/cpu"
	"github.com/shirou/gopsutil/v4/mem"
	"github.com/shirou/gopsutil/v4/process"
	"go.uber.org/zap"

	"github.com/Paulofn1/green-connect-hub/internal/domain"
)

var cronParser = cron.NewParser(
	cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor,
)

func (a *Application) initJob() error {
	loc, _ := time.LoadLocation(a.appConfig.System.Location)
	if loc == nil {
		loc = time.Local
	}
	a.sched = cron.New(cron.WithLocation(loc), cron.WithParser(cronParser))

	if _, err := a.sched.AddFunc(a.appConfig.Sync.ResyncSpec, a.SchedResyncTask); err != nil {
		return errors.Wrapf(err, "init resync job %q", a.appConfig.Sync.ResyncSpec)
	}

	if _, err := a.sched.AddFunc("@every 30s", func() {
		go a.SchedSystemMonitorTask()
		go a.SchedProcessMonitorTask()
	}); err != nil {
		zap.S().Errorf("init job error %s", err.Error())
	}

	if _, err := a.sched.AddFunc("@every 5m", a.SchedSummaryTask); err != nil {
		zap.S().Errorf("init job error %s", err.Error())
	}
	return nil
}

// SchedSystemMonitorTask system monitor
func (a *Application) SchedSystemMonitorTask() {
	defer func() {
		if err := recover(); err != nil {
			zap.S().Error(err)
		}
	}()

	fields := make([]zap.Field, 0, 2)
	if cpuuse, err := cpu.Percent(0, false); err == nil && len(cpuuse) > 0 {
		fields = append(fields, zap.Float64("cpu_percent", cpuuse[0]))
	}
	if meminfo, err := mem.VirtualMemory(); err == nil {
		fields = append(fields, zap.Uint64("mem_used_mb", meminfo.Used/1024/1024))
	}
	zap.L().Debug("app: system stats", fields...)
}

// SchedProcessMonitorTask app process monitor
func (a *Application) SchedProcessMonitorTask() {
	defer func() {
		if err := recover(); err != nil {
			zap.S().Error(err)
		}
	}()

	p, err := process.NewProcess(int32(os.Getpid())) //nolint:gosec // G115: PID is always within int32 range
	if err != nil {
		zap.L().Warn("app: process lookup failed", zap.Error(err))
		return
	}

	fields := make([]zap.Field, 0, 3)
	if cpuuse, err := p.CPUPercent(); err == nil {
		fields = append(fields, zap.Float64("cpu_percent", cpuuse))
	}
	if meminfo, err := p.MemoryInfo(); err == nil {
		fields = append(fields, zap.Uint64("rss_mb", meminfo.RSS/1024/1024))
	}
	if n, err := p.NumThreads(); err == nil {
		fields = append(fields, zap.Int32("threads", n))
	}
	zap.L().Info("app: process stats", fields...)
}

// SchedResyncTask pulls the account list and every status so changes
// missed while the channel was down are picked up.
func (a *Application) SchedResyncTask() {
	defer func() {
		if err := recover(); err != nil {
			zap.S().Error(err)
		}
	}()
	timeout := a.appConfig.Api.Timeout * 2
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	if err := a.Resync(ctx); err != nil {
		zap.L().Warn("app: scheduled resync failed", zap.Error(err))
	}
}

// SchedSummaryTask logs how many accounts sit in each status.
func (a *Application) SchedSummaryTask() {
	defer func() {
		if err := recover(); err != nil {
			zap.S().Error(err)
		}
	}()
	counts := make(map[domain.ConnectionStatus]int, len(domain.Statuses))
	for _, acc := range a.session.Accounts() {
		counts[acc.Status]++
	}
	fields := []zap.Field{zap.Bool("channel_connected", a.session.SocketConnected())}
	for _, s := range domain.Statuses {
		fields = append(fields, zap.Int(string(s), counts[s]))
	}
	zap.L().Info("app: session summary", fields...)
}
