package logger

import (
	"context"
	"runtime"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/disk"
	"github.com/shirou/gopsutil/v3/mem"
	gnet "github.com/shirou/gopsutil/v3/net"

	"github.com/aws/aws-sdk-go-v2/aws"
	cwtypes "github.com/aws/aws-sdk-go-v2/service/cloudwatch/types"
)

type channelStat struct {
	messages int64
	bytes    int64
}

var (
	errorsEngine     int64
	errorsPersist    int64
	warnsEngine      int64
	warnsPersist     int64
	ticksIngested    int64
	candlesFinalized int64
	signalsEmitted   int64
	lateTicks        int64
	persistWrites    int64
	channels         sync.Map // map[string]*channelStat
)

func recordWarn(component string) {
	if strings.Contains(component, "engine") || strings.Contains(component, "worker") {
		atomic.AddInt64(&warnsEngine, 1)
	} else if strings.Contains(component, "persist") || strings.Contains(component, "storage") {
		atomic.AddInt64(&warnsPersist, 1)
	}
}

func recordError(component string) {
	if strings.Contains(component, "engine") || strings.Contains(component, "worker") {
		atomic.AddInt64(&errorsEngine, 1)
	} else if strings.Contains(component, "persist") || strings.Contains(component, "storage") {
		atomic.AddInt64(&errorsPersist, 1)
	}
}

func IncrementTickIngested() {
	atomic.AddInt64(&ticksIngested, 1)
	recordChannel("ticks", 1)
}

func IncrementCandleFinalized() {
	atomic.AddInt64(&candlesFinalized, 1)
	recordChannel("candles", 1)
}

func IncrementSignalEmitted() {
	atomic.AddInt64(&signalsEmitted, 1)
	recordChannel("signals", 1)
}

func IncrementLateTick() {
	atomic.AddInt64(&lateTicks, 1)
	recordChannel("late", 1)
}

func IncrementPersistWrite(rows int) {
	atomic.AddInt64(&persistWrites, 1)
	recordChannel("persist", rows)
}

func RecordChannelMessage(name string, size int) {
	recordChannel(name, size)
}

func recordChannel(name string, size int) {
	v, _ := channels.LoadOrStore(name, &channelStat{})
	cs := v.(*channelStat)
	atomic.AddInt64(&cs.messages, 1)
	atomic.AddInt64(&cs.bytes, int64(size))
}

func startReport(ctx context.Context, log *Log, interval time.Duration) {
	ticker := time.NewTicker(interval)
	go func() {
		for {
			select {
			case <-ctx.Done():
				ticker.Stop()
				return
			case <-ticker.C:
				logReport(ctx, log)
			}
		}
	}()
}

// StartReport begins periodic logging of system and pipeline statistics.
func StartReport(ctx context.Context, log *Log, interval time.Duration) {
	startReport(ctx, log, interval)
}

func logReport(ctx context.Context, log *Log) {
	cpuPercent, _ := cpu.Percent(0, false)
	memStats, _ := mem.VirtualMemory()
	diskStats, _ := disk.Usage("/")
	netStats, _ := gnet.IOCounters(false)
	channelData := map[string]map[string]int64{}
	channels.Range(func(k, v any) bool {
		name := k.(string)
		cs := v.(*channelStat)
		channelData[name] = map[string]int64{
			"messages": atomic.LoadInt64(&cs.messages),
			"bytes":    atomic.LoadInt64(&cs.bytes),
		}
		return true
	})

	cpuPct := 0.0
	if len(cpuPercent) > 0 {
		cpuPct = cpuPercent[0]
	}

	bytesSent := uint64(0)
	bytesRecv := uint64(0)
	if len(netStats) > 0 {
		bytesSent = netStats[0].BytesSent
		bytesRecv = netStats[0].BytesRecv
	}

	fields := Fields{
		"errors_engine":     atomic.LoadInt64(&errorsEngine),
		"errors_persist":    atomic.LoadInt64(&errorsPersist),
		"warns_engine":      atomic.LoadInt64(&warnsEngine),
		"warns_persist":     atomic.LoadInt64(&warnsPersist),
		"ticks_ingested":    atomic.LoadInt64(&ticksIngested),
		"candles_finalized": atomic.LoadInt64(&candlesFinalized),
		"signals_emitted":   atomic.LoadInt64(&signalsEmitted),
		"late_ticks":        atomic.LoadInt64(&lateTicks),
		"persist_writes":    atomic.LoadInt64(&persistWrites),
		"goroutines":        runtime.NumGoroutine(),
		"cpu_percent":       cpuPct,
		"memory_mb":         int64(memStats.Used) / 1024 / 1024,
		"disk_mb":           int64(diskStats.Used) / 1024 / 1024,
		"channels":          channelData,
		"net_bytes_sent":    int64(bytesSent),
		"net_bytes_recv":    int64(bytesRecv),
	}

	log.WithComponent("report").WithFields(fields).Info("runtime report")

	var data []cwtypes.MetricDatum
	data = append(data,
		cwtypes.MetricDatum{MetricName: aws.String("CPUPercent"), Unit: cwtypes.StandardUnitPercent, Value: aws.Float64(cpuPct)},
		cwtypes.MetricDatum{MetricName: aws.String("MemoryMB"), Unit: cwtypes.StandardUnitMegabytes, Value: aws.Float64(float64(memStats.Used) / 1024 / 1024)},
		cwtypes.MetricDatum{MetricName: aws.String("TicksIngested"), Unit: cwtypes.StandardUnitCount, Value: aws.Float64(float64(atomic.LoadInt64(&ticksIngested)))},
		cwtypes.MetricDatum{MetricName: aws.String("CandlesFinalized"), Unit: cwtypes.StandardUnitCount, Value: aws.Float64(float64(atomic.LoadInt64(&candlesFinalized)))},
		cwtypes.MetricDatum{MetricName: aws.String("SignalsEmitted"), Unit: cwtypes.StandardUnitCount, Value: aws.Float64(float64(atomic.LoadInt64(&signalsEmitted)))},
		cwtypes.MetricDatum{MetricName: aws.String("LateTicks"), Unit: cwtypes.StandardUnitCount, Value: aws.Float64(float64(atomic.LoadInt64(&lateTicks)))},
		cwtypes.MetricDatum{MetricName: aws.String("PersistWrites"), Unit: cwtypes.StandardUnitCount, Value: aws.Float64(float64(atomic.LoadInt64(&persistWrites)))},
		cwtypes.MetricDatum{MetricName: aws.String("PersistErrors"), Unit: cwtypes.StandardUnitCount, Value: aws.Float64(float64(atomic.LoadInt64(&errorsPersist)))},
		cwtypes.MetricDatum{MetricName: aws.String("EngineErrors"), Unit: cwtypes.StandardUnitCount, Value: aws.Float64(float64(atomic.LoadInt64(&errorsEngine)))},
		cwtypes.MetricDatum{MetricName: aws.String("NetBytesSent"), Unit: cwtypes.StandardUnitBytes, Value: aws.Float64(float64(bytesSent))},
		cwtypes.MetricDatum{MetricName: aws.String("NetBytesRecv"), Unit: cwtypes.StandardUnitBytes, Value: aws.Float64(float64(bytesRecv))},
	)

	for name, stats := range channelData {
		data = append(data,
			cwtypes.MetricDatum{
				MetricName: aws.String("ChannelMessages"),
				Unit:       cwtypes.StandardUnitCount,
				Dimensions: []cwtypes.Dimension{{Name: aws.String("Channel"), Value: aws.String(name)}},
				Value:      aws.Float64(float64(stats["messages"])),
			},
			cwtypes.MetricDatum{
				MetricName: aws.String("ChannelBytes"),
				Unit:       cwtypes.StandardUnitBytes,
				Dimensions: []cwtypes.Dimension{{Name: aws.String("Channel"), Value: aws.String(name)}},
				Value:      aws.Float64(float64(stats["bytes"])),
			},
		)
	}

	publishMetrics(ctx, data)
}
