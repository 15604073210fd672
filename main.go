// SPDX-License-Identifier: MIT
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/HSKCTA/Resonance/cmd"
	"github.com/HSKCTA/Resonance/internal/audio"
	"github.com/HSKCTA/Resonance/internal/config"
	applog "github.com/HSKCTA/Resonance/internal/log"
	"github.com/HSKCTA/Resonance/internal/metrics"
	"github.com/HSKCTA/Resonance/internal/transport"
	"github.com/HSKCTA/Resonance/internal/transport/mqtt"
	"github.com/HSKCTA/Resonance/internal/transport/udp"
	"github.com/HSKCTA/Resonance/internal/transport/zmq"
	"github.com/HSKCTA/Resonance/internal/tui"
	"github.com/HSKCTA/Resonance/pkg/build"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
)

// shutdownTimeout bounds how long the processing loop gets to notice
// cancellation before the process exits anyway.
const shutdownTimeout = 2 * time.Second

// main is the entry point for the sensing node.
// The program flow is divided into three distinct phases:
//
// 1. Startup Phase (Cold Path):
//   - Initialize build information
//   - Parse command line arguments and load configuration
//   - Execute one-off commands if requested
//   - Open transports, metrics and the recorder
//   - Open the sample source
//
// 2. Concurrent Phase (Hot Path):
//   - Start the sample source
//   - Run the processing loop on its own OS thread
//
// 3. Shutdown Phase (Cold Path):
//   - Handle termination signals or end of input
//   - Stop the source, then the loop
//   - Clean up resources
func main() {
	// ==================== STARTUP PHASE (Cold Path) ====================

	// Initialize build information including version, commit hash, and build time
	if err := build.Initialize(); err != nil {
		applog.Fatal(err)
	}

	// Parse command line arguments and build configuration
	inv, err := cmd.ParseArgs()
	if err != nil {
		applog.Fatal(err)
	}
	if inv == nil {
		return // --help or --version
	}
	cfg := inv.Config
	configureLogging(cfg)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Handle one-off commands (e.g., device listing) that don't require
	// the processing loop to be running
	if cfg.Command != "" {
		if err := executeCommand(ctx, inv); err != nil {
			applog.Fatal(err)
		}
		return
	}

	if err := runNode(ctx, cfg); err != nil {
		applog.Fatal(err)
	}
}

func configureLogging(cfg *config.Config) {
	if cfg.Debug {
		applog.SetLevel(applog.LevelDebug)
		return
	}
	if err := applog.SetLevelString(cfg.LogLevel); err != nil {
		applog.Warnf("Main: %v, using %s", err, applog.GetLevel())
	}
}

// executeCommand handles one-off commands that don't require the processing
// loop, such as listing audio devices or monitoring another node.
func executeCommand(ctx context.Context, inv *cmd.Invocation) error {
	switch inv.Config.Command {
	case cmd.CommandVersion:
		fmt.Println(build.GetBuildFlags())
		return nil

	case cmd.CommandList:
		if err := audio.Initialize(); err != nil {
			return err
		}
		defer audio.Terminate()

		if !inv.Interactive {
			return audio.ListDevices(os.Stdout)
		}
		device, rate, ok, err := tui.PickDevice(audio.HostDevices)
		if err != nil || !ok {
			return err
		}
		fmt.Printf("Selected %q. Run with: %s -d %d -s %.0f\n",
			device.Name, build.GetBuildFlags().Name, device.ID, rate)
		return nil

	case cmd.CommandMonitor:
		sub, err := zmq.NewSubscriber(ctx, inv.Endpoint)
		if err != nil {
			return err
		}
		defer sub.Close()
		// Logging would draw over the terminal UI.
		applog.SetOutput(io.Discard)
		return tui.RunMonitor(inv.Endpoint, sub.Receive)

	default:
		return fmt.Errorf("unknown command %q", inv.Config.Command)
	}
}

// runNode wires every configured component around the processing loop and
// blocks until ctx is cancelled or a non-looping input file is exhausted.
func runNode(ctx context.Context, cfg *config.Config) error {
	nodeID := uuid.NewString()
	applog.Infof("Main: Starting %s (node %s)", build.GetBuildFlags(), nodeID)

	queue := audio.NewCaptureQueue(cfg.Audio.QueueCapacity)

	// Components opened so far; closed in reverse on a startup failure.
	var opened []interface{ Close() error }
	fail := func(err error) error {
		for i := len(opened) - 1; i >= 0; i-- {
			if cerr := opened[i].Close(); cerr != nil {
				applog.Warnf("Main: Cleanup after failed startup: %v", cerr)
			}
		}
		return err
	}

	var opts []audio.Option
	opts = append(opts, audio.WithNodeID(nodeID))

	// Tensor broadcast
	if cfg.Broadcast.Enabled {
		pub, err := zmq.NewPublisher(ctx, cfg.Broadcast.Endpoint, cfg.Broadcast.HighWaterMark)
		if err != nil {
			return fail(err)
		}
		opened = append(opened, pub)
		opts = append(opts, audio.WithPublisher(pub))
	} else {
		applog.Infof("Main: Broadcast disabled, tensors are only logged")
	}

	// Status and alarms over WebSocket. The engine is assigned before the
	// server starts accepting commands.
	var engine *audio.Engine
	var statusServer *transport.StatusServer
	var alarmSinks []transport.Transport
	if cfg.Transport.WebSocketEnabled {
		statusServer = transport.NewStatusServer(cfg.Transport.WebSocketAddress, func(command string) {
			switch command {
			case "reset":
				engine.RequestSafetyReset()
			default:
				applog.Warnf("Main: Unknown client command %q", command)
			}
		})
		opened = append(opened, statusServer)
		opts = append(opts, audio.WithStatusSinks(statusServer))
		alarmSinks = append(alarmSinks, statusServer)
	}

	// Latest-frame UDP feed
	var feed *udp.UDPPublisher
	if cfg.Transport.UDPEnabled {
		sender, err := udp.NewUDPSender(cfg.Transport.UDPTargetAddress)
		if err != nil {
			return fail(err)
		}
		feed, err = udp.NewUDPPublisher(cfg.Transport.UDPSendInterval, sender, cfg.Spectral.Bins)
		if err != nil {
			sender.Close()
			return fail(err)
		}
		opened = append(opened, feed)
		opts = append(opts, audio.WithFrameSink(feed))
	}

	// Safety alarms over MQTT
	if cfg.MQTT.Enabled {
		notifier, err := mqtt.NewNotifier(mqtt.Config{
			Broker:   cfg.MQTT.Broker,
			Topic:    cfg.MQTT.Topic,
			ClientID: cfg.MQTT.ClientID,
			Username: cfg.MQTT.Username,
			Password: cfg.MQTT.Password,
			QoS:      byte(cfg.MQTT.QoS),
			NodeID:   nodeID,
		})
		if err != nil {
			return fail(err)
		}
		opened = append(opened, notifier)
		alarmSinks = append(alarmSinks, notifier)
	}
	if len(alarmSinks) > 0 {
		opts = append(opts, audio.WithAlarmSinks(alarmSinks...))
	}

	// Prometheus
	var metricsServer *metrics.Server
	if cfg.Metrics.Enabled {
		m, err := metrics.NewNodeMetrics(prometheus.NewRegistry())
		if err != nil {
			return fail(err)
		}
		metricsServer, err = metrics.Serve(cfg.Metrics.Address, m)
		if err != nil {
			return fail(err)
		}
		opened = append(opened, metricsServer)
		opts = append(opts, audio.WithMetrics(m))
	}

	// Raw capture recording
	var rec *audio.Recorder
	if cfg.Recording.Enabled {
		var err error
		rec, err = audio.NewRecorder(cfg.Recording.OutputDir, int(cfg.Audio.SampleRate), cfg.Recording.BitDepth)
		if err != nil {
			return fail(err)
		}
		opened = append(opened, rec)
		opts = append(opts, audio.WithRecorder(rec))
	}

	engine, err := audio.NewEngine(cfg, queue, opts...)
	if err != nil {
		return fail(err)
	}

	src, err := openSource(cfg, queue)
	if err != nil {
		return fail(err)
	}
	defer src.Close()

	if statusServer != nil {
		if err := statusServer.Start(); err != nil {
			return fail(err)
		}
	}
	if feed != nil {
		feed.Start()
	}

	// ==================== CONCURRENT PHASE (Hot Path) ====================

	runCtx, cancelRun := context.WithCancel(ctx)
	defer cancelRun()
	runDone := make(chan error, 1)
	go func() {
		runDone <- engine.Run(runCtx)
	}()

	// CRITICAL: Start of real-time audio processing
	// Starting the source begins delivery into the capture queue,
	// marking the start of the hot path
	if err := src.Start(); err != nil {
		cancelRun()
		<-runDone
		engine.Close()
		if metricsServer != nil {
			metricsServer.Close()
		}
		return err
	}

	var inputDone <-chan struct{}
	if ws, ok := src.(*audio.WAVSource); ok {
		inputDone = ws.Done()
	}

	// Block until termination signal is received or the file ends
	select {
	case <-ctx.Done():
		applog.Infof("Main: Shutdown requested")
	case <-inputDone:
		applog.Infof("Main: Input file finished, draining queue")
		drainQueue(ctx, queue)
	}

	// ==================== SHUTDOWN PHASE (Cold Path) ====================

	if err := src.Stop(); err != nil {
		applog.Warnf("Main: Error stopping source: %v", err)
	}

	cancelRun()
	select {
	case err := <-runDone:
		if err != nil {
			applog.Errorf("Main: Processing loop: %v", err)
		}
	case <-time.After(shutdownTimeout):
		return errors.New("processing loop did not stop")
	}

	final := engine.Status()
	applog.Infof("Main: Processed %d samples, published %d tensors (%d errors, %d dropped)",
		final.SamplesProcessed, final.FramesPublished, final.PublishErrors, final.SamplesDropped)

	// Clean up the engine and everything it owns
	if err := engine.Close(); err != nil {
		applog.Warnf("Main: Error closing engine: %v", err)
	}
	if metricsServer != nil {
		if err := metricsServer.Close(); err != nil {
			applog.Warnf("Main: Error closing metrics server: %v", err)
		}
	}

	if rec != nil {
		applog.Infof("Main: Recording saved to %s (%d samples)", rec.Path(), rec.Samples())
	}
	return nil
}

// openSource opens the WAV replay source when an input file is configured
// and the capture device otherwise.
func openSource(cfg *config.Config, queue *audio.CaptureQueue) (audio.Source, error) {
	if cfg.Audio.InputFile != "" {
		return audio.NewWAVSource(cfg.Audio.InputFile, cfg.Audio.SampleRate, queue, audio.WAVOptions{
			Realtime:        cfg.Audio.Realtime,
			FramesPerBuffer: cfg.Audio.FramesPerBuffer,
			Loop:            cfg.Audio.Loop,
		})
	}

	// Initialize PortAudio subsystem
	if err := audio.Initialize(); err != nil {
		return nil, err
	}
	device, err := audio.InputDevice(cfg.Audio.InputDevice, cfg.Audio.DeviceHint)
	if err != nil {
		audio.Terminate()
		return nil, err
	}
	stream, err := audio.NewStream(device, cfg.Audio, queue)
	if err != nil {
		audio.Terminate()
		return nil, err
	}
	return &deviceSource{Stream: stream}, nil
}

// deviceSource terminates PortAudio after the stream is closed.
type deviceSource struct {
	*audio.Stream
}

func (d *deviceSource) Close() error {
	return errors.Join(d.Stream.Close(), audio.Terminate())
}

// drainQueue waits for the loop to consume what the source already
// delivered.
func drainQueue(ctx context.Context, queue *audio.CaptureQueue) {
	deadline := time.Now().Add(shutdownTimeout)
	for queue.Len() > 0 && time.Now().Before(deadline) {
		select {
		case <-ctx.Done():
			return
		case <-time.After(time.Millisecond):
		}
	}
}
