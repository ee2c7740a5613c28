// Command flowprobe wires the capture engine, output queue, and periodic
// maintenance (idle sweep, stats merge) together and runs them against a
// live interface until interrupted. Grounded on heplify's own command
// entry point style: flag-populated config struct, logp for all logging,
// a buffered output queue drained by a separate goroutine.
package main

import (
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/gopacket/layers"
	"github.com/negbie/logp"

	"github.com/flowprobe/flowprobe/capture"
	"github.com/flowprobe/flowprobe/outqueue"
	"github.com/flowprobe/flowprobe/stats"
)

func main() {
	parseFlags()

	out := outqueue.New(Cfg.QueueCapacity)
	cfg := capture.DefaultConfig(layers.LinkTypeEthernet)
	cfg.IdleTimeout = Cfg.IdleTimeout
	cfg.Dedup = Cfg.Dedup

	// No TLS/QUIC record parser is wired by default: fingerprinting is an
	// out-of-scope collaborator (handshake.Provider) and flowprobe runs
	// fully functional flow tracking without one.
	engine := capture.NewEngine(cfg, out, nil)

	source, err := capture.NewAFPacketSource(Cfg.Iface, Cfg.Snaplen, uint16(Cfg.FanoutGroup))
	if err != nil {
		logp.Err("flowprobe: failed to open %s: %v", Cfg.Iface, err)
		os.Exit(1)
	}
	defer source.Close()

	merger := &stats.Merger{}

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, syscall.SIGINT, syscall.SIGTERM)

	done := make(chan struct{})
	go captureLoop(engine, source, done)
	go maintenanceLoop(engine, merger, source, shutdown, done)
	go drainQueue(out)

	<-done
	logp.Info("flowprobe: flushing remaining flows before exit")
	engine.FlushAll()
}

func captureLoop(e *capture.Engine, source *capture.AFPacketSource, done <-chan struct{}) {
	for {
		select {
		case <-done:
			return
		default:
		}
		data, ci, err := source.ReadPacket()
		if err != nil {
			logp.Warn("flowprobe: read error: %v", err)
			continue
		}
		e.Process(data, ci)
	}
}

func maintenanceLoop(e *capture.Engine, merger *stats.Merger, provider stats.CaptureStatsProvider, shutdown <-chan os.Signal, done chan<- struct{}) {
	sweepTicker := time.NewTicker(Cfg.SweepInterval)
	defer sweepTicker.Stop()
	statsTicker := time.NewTicker(Cfg.StatsInterval)
	defer statsTicker.Stop()

	for {
		select {
		case <-shutdown:
			close(done)
			return
		case now := <-sweepTicker.C:
			e.IdleSweep(now)
		case <-statsTicker.C:
			counters := e.ResetCounters()
			merger.Merge(&counters)
			rec := merger.Snapshot(provider)
			if b, err := stats.Encode(rec); err == nil {
				logp.Info("flowprobe: stats %s", b)
			}
		}
	}
}

func drainQueue(out *outqueue.Queue) {
	for range out.Drain() {
		// The downstream sink (file, socket, database) is an out-of-scope
		// collaborator, same as outqueue.Rotator and handshake.Provider;
		// this default drain only prevents the queue from filling up when
		// nothing else is wired in.
	}
}
