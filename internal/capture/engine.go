// Package capture implements the hot path of the daemon: the packet source,
// the per-worker interval tracking and interim writers, and the lifecycle of
// one capture process.
package capture

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"ChronoCap/internal/api"
	"ChronoCap/internal/config"
	"ChronoCap/internal/merge"
	"ChronoCap/internal/model"
	"ChronoCap/internal/naming"
	"ChronoCap/internal/notify"
	"ChronoCap/internal/stats"
)

// haltPollInterval paces the main goroutine's sleep-poll on the halt flag.
const haltPollInterval = time.Millisecond

// Run executes one capture process until it is halted by a signal, a reload
// drain, an unrecoverable error or source exhaustion. It owns the full
// lifecycle: pidfile, coordination channel, merger, workers and teardown.
func Run(cfg *config.Config, log *zap.SugaredLogger) error {
	tmpl := naming.New(cfg.Output)
	life := NewLifecycle(cfg.Capture.Threads)
	status := model.NewStatus()

	// Write our pid so the supervisor can signal us.
	if err := writePidFile(cfg.PidFile); err != nil {
		return err
	}

	var notifier *notify.Publisher
	if cfg.Notify.Enabled {
		var err error
		if notifier, err = notify.NewPublisher(cfg.Notify); err != nil {
			return err
		}
		defer notifier.Close()
	}

	var sink *stats.ClickHouseSink
	if cfg.ClickHouse.Enabled {
		var err error
		if sink, err = stats.NewClickHouseSink(cfg.ClickHouse); err != nil {
			return err
		}
		defer sink.Close()
	}

	var apiSrv *api.Server
	if cfg.API.Enabled {
		apiSrv = api.NewServer(cfg.API.Listen, status, log)
		apiSrv.Start()
		defer apiSrv.Shutdown()
	}

	// The merger must be consuming before any producer can push, so the
	// coordination channel never backs up into the hot path at startup.
	coord := make(chan model.CoordinationRecord, cfg.Capture.SizeOfCoordChannel)
	merger := merge.NewMerger(merge.Config{
		Workers:    cfg.Capture.Threads,
		SnapLen:    uint32(cfg.Capture.SnapLen),
		WriteStats: cfg.Capture.WriteStats,
	}, tmpl, coord, status, notifier, sink, log)
	go merger.Run()

	source, err := NewLiveSource(cfg.Capture.Input, cfg.Capture.SnapLen,
		cfg.Capture.Promiscuous, cfg.Capture.Threads)
	if err != nil {
		coord <- model.CoordinationRecord{Type: model.RecordStop}
		<-merger.Done()
		return err
	}

	wcfg := WorkerConfig{
		Interval:   cfg.Capture.Interval,
		SnapLen:    uint32(cfg.Capture.SnapLen),
		StripVLANs: cfg.Capture.StripVLANs,
		WriteStats: cfg.Capture.WriteStats,
	}
	// Worker state lives in this central slice so interim files can still
	// be released after the source goroutines have been joined.
	workers := make([]*Worker, cfg.Capture.Threads)
	for i := range workers {
		workers[i] = NewWorker(i, wcfg, tmpl, source, coord, life,
			cfg.Capture.SizeOfWriteQueue, log)
	}

	// Signal handling is installed after init and before capture starts;
	// the Go runtime routes all signals to this channel regardless of
	// which goroutine they interrupt.
	sigc := make(chan os.Signal, 4)
	signal.Notify(sigc, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)
	signal.Ignore(syscall.SIGPIPE)
	defer signal.Stop(sigc)
	go func() {
		for sig := range sigc {
			if sig == syscall.SIGHUP {
				life.RequestReload()
			} else {
				life.RequestHalt()
			}
		}
	}()

	if err := source.Start(
		func(id int, rec model.PacketRecord) { workers[id].HandlePacket(rec) },
		func(id int, st model.CaptureStats) { workers[id].HandleTick(st) },
	); err != nil {
		coord <- model.CoordinationRecord{Type: model.RecordStop}
		<-merger.Done()
		return fmt.Errorf("failed to start packet source %s: %w", cfg.Capture.Input, err)
	}
	log.Infof("successfully started capture on %s with %d workers",
		cfg.Capture.Input, cfg.Capture.Threads)

	for !life.Halted() {
		if source.Exhausted() {
			break
		}
		time.Sleep(haltPollInterval)
	}

	// Stop the source and join the workers before telling the merger to
	// drain; IntervalDone records already queued are still consumed.
	source.Stop()
	source.Wait()

	coord <- model.CoordinationRecord{Type: model.RecordStop}
	<-merger.Done()
	log.Infof("all threads have joined, exiting")

	// Workers halted mid-interval have interim files with no IntervalDone;
	// release their descriptors and leave the files for the operator.
	for _, w := range workers {
		w.CloseInterim()
	}

	return nil
}

func writePidFile(path string) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("error opening pidfile '%s': %w", path, err)
	}
	defer f.Close()
	if _, err := fmt.Fprintf(f, "%d\n", os.Getpid()); err != nil {
		return fmt.Errorf("error writing pidfile '%s': %w", path, err)
	}
	return nil
}
