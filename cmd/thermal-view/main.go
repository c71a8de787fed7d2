package main

import (
	"context"
	"fmt"
	"image"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/go-faster/errors"
	logging "github.com/ipfs/go-log/v2"
	"github.com/spf13/pflag"

	"thermal-view-go/internal/config"
	"thermal-view-go/internal/ingest"
	"thermal-view-go/internal/output"
	"thermal-view-go/internal/pipeline"
	"thermal-view-go/internal/server"
	"thermal-view-go/internal/simulator"
	"thermal-view-go/internal/types"
	"thermal-view-go/internal/window"
)

var log = logging.Logger("thermal-view")

func main() {
	cfg, err := config.Load(os.Args[1:])
	if errors.Is(err, pflag.ErrHelp) {
		return
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "thermal-view: %v\n", err)
		os.Exit(2)
	}
	if err := logging.SetLogLevel("*", cfg.LogLevel); err != nil {
		fmt.Fprintf(os.Stderr, "thermal-view: %v\n", err)
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if cfg.Display != "window" {
		if err := run(ctx, cfg, nil); err != nil {
			log.Errorw("viewer stopped", "error", err)
			stop()
			os.Exit(1)
		}
		return
	}

	// The native window owns the main goroutine; the loop runs beside it.
	win, err := window.New(window.Options{
		Title:  cfg.WindowTitle,
		Width:  cfg.Width,
		Height: cfg.Height,
		Scale:  cfg.WindowScale,
	})
	if err != nil {
		log.Errorw("cannot open window", "error", err)
		stop()
		os.Exit(1)
	}
	done := make(chan error, 1)
	go func() {
		done <- run(ctx, cfg, win)
		_ = win.Close()
	}()
	winErr := win.Run()
	stop()
	runErr := <-done
	if winErr != nil {
		log.Errorw("window failed", "error", winErr)
		os.Exit(1)
	}
	if runErr != nil {
		log.Errorw("viewer stopped", "error", runErr)
		os.Exit(1)
	}
}

func run(parent context.Context, cfg config.AppConfig, win *window.Window) error {
	// A failing display cancels the loop with its error as the cause.
	ctx, cancel := context.WithCancelCause(parent)
	defer cancel(nil)

	source, err := openSource(ctx, cfg)
	if err != nil {
		return err
	}
	defer source.Close()

	sinks, err := openSinks(cfg)
	defer func() {
		for _, sink := range sinks {
			if err := sink.Close(); err != nil {
				log.Warnw("sink close failed", "sink", sink.Name(), "error", err)
			}
		}
	}()
	if err != nil {
		return err
	}

	var viewer *pipeline.Viewer
	var srv *server.Server
	var display pipeline.Display
	switch cfg.Display {
	case "window":
		display = win
	case "web":
		srv = server.New(cfg, func() map[string]any {
			return status(cfg, viewer)
		})
		if err := srv.Bind(); err != nil {
			return err
		}
		display = srv
	default:
		display = pipeline.Headless{}
	}
	defer display.Close()

	viewer = pipeline.New(pipeline.Config{
		Camera:        cfg.Camera(),
		ByteOrder:     types.ByteOrder(cfg.ByteOrder),
		SkipMalformed: cfg.SkipMalformed,
		LogEvery:      cfg.IngestLogEvery,
		Options:       cfg.ProcessingOptions(),
	}, source, display, output.NewSamplePrinter(os.Stdout), sinks...)

	if srv != nil {
		srv.CenterFrom(func() image.Point {
			return viewer.Options().Center
		})
		go func() {
			if err := srv.Run(ctx); err != nil {
				cancel(errors.Wrap(err, "web display"))
			}
		}()
	}
	go viewer.Metrics().LogStats(ctx, 30*time.Second)

	if cfg.ConfigFile != "" {
		if err := watchConfig(ctx, cfg, viewer); err != nil {
			log.Warnw("config hot reload disabled", "error", err)
		}
	}

	log.Infow("viewer started",
		"source", sourceName(cfg),
		"display", cfg.Display,
		"center_x", cfg.CenterX,
		"center_y", cfg.CenterY,
	)
	err = viewer.Run(ctx)
	if errors.Is(err, context.Canceled) {
		if cause := context.Cause(ctx); !errors.Is(cause, context.Canceled) {
			return cause
		}
		return nil
	}
	return err
}

func openSource(ctx context.Context, cfg config.AppConfig) (ingest.Source, error) {
	camera := cfg.Camera()
	if cfg.Debug {
		frames := simulator.Stream(ctx, camera, cfg.DebugFPS, types.ByteOrder(cfg.ByteOrder))
		return ingest.NewChannelSource("simulator", frames), nil
	}
	switch cfg.Source {
	case "zmq":
		src, err := ingest.StreamZMQ(ctx, cfg.Endpoint, camera, cfg.IngestLogEvery)
		if err != nil {
			return nil, err
		}
		return src, nil
	default:
		src, err := ingest.Listen(cfg.ListenAddress(), camera.FrameBytes())
		if err != nil {
			return nil, err
		}
		return src, nil
	}
}

func openSinks(cfg config.AppConfig) ([]output.Sink, error) {
	var sinks []output.Sink
	if cfg.MQTTBroker != "" {
		sink, err := output.DialMQTT(cfg.MQTTBroker, cfg.MQTTClientID, cfg.MQTTTopic)
		if err != nil {
			return sinks, err
		}
		sinks = append(sinks, sink)
	}
	if cfg.DDPTarget != "" {
		sink, err := output.DialDDP(cfg.DDPTarget)
		if err != nil {
			return sinks, err
		}
		sinks = append(sinks, sink)
	}
	return sinks, nil
}

// watchConfig applies marker and range edits to the running loop. Anything
// else needs a restart.
func watchConfig(ctx context.Context, cfg config.AppConfig, viewer *pipeline.Viewer) error {
	var mu sync.Mutex
	current := cfg
	return config.Watch(ctx, cfg.ConfigFile, func() {
		next, err := config.Load(os.Args[1:])
		if err != nil {
			log.Warnw("ignoring config change", "error", err)
			return
		}
		mu.Lock()
		defer mu.Unlock()
		if !config.Reloadable(current, next) {
			log.Warnw("config change needs a restart; applying marker and range only", "path", cfg.ConfigFile)
		}
		viewer.SetOptions(next.ProcessingOptions())
		current.CenterX, current.CenterY = next.CenterX, next.CenterY
		current.MarkerRadius, current.MarkerValue = next.MarkerRadius, next.MarkerValue
		current.RangeMin, current.RangeMax = next.RangeMin, next.RangeMax
		log.Infow("config reloaded", "center_x", next.CenterX, "center_y", next.CenterY)
	})
}

func status(cfg config.AppConfig, viewer *pipeline.Viewer) map[string]any {
	payload := map[string]any{
		"source":  sourceName(cfg),
		"display": cfg.Display,
	}
	if viewer == nil {
		return payload
	}
	payload["metrics"] = viewer.Metrics().Snapshot()
	if sample, stats, ok := viewer.Latest(); ok {
		payload["temperature_c"] = sample.Celsius
		payload["last_seq"] = sample.Sequence
		payload["image_stats"] = map[string]float64{
			"min":  stats.Min,
			"max":  stats.Max,
			"mean": stats.Mean,
		}
	}
	return payload
}

func sourceName(cfg config.AppConfig) string {
	switch {
	case cfg.Debug:
		return "simulator"
	case cfg.Source == "zmq":
		return cfg.Endpoint
	default:
		return "udp://" + cfg.ListenAddress()
	}
}
