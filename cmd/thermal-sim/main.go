package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	logging "github.com/ipfs/go-log/v2"
	"github.com/spf13/pflag"

	"thermal-view-go/internal/config"
	"thermal-view-go/internal/simulator"
	"thermal-view-go/internal/types"
)

var log = logging.Logger("thermal-sim")

func main() {
	var (
		target    = pflag.String("target", fmt.Sprintf("127.0.0.1:%d", config.DefaultListenPort), "UDP address of the viewer")
		zmqBind   = pflag.String("zmq-bind", "", "Bind a ZMQ PUSH socket instead of sending UDP (e.g. tcp://*:31001)")
		fps       = pflag.Float64("fps", config.DefaultFPS, "Frames per second")
		width     = pflag.Int("width", config.DefaultWidth, "Frame width")
		height    = pflag.Int("height", config.DefaultHeight, "Frame height")
		byteOrder = pflag.String("byte-order", string(types.LittleEndian), "Pixel byte order for UDP: little or big")
		logLevel  = pflag.String("log-level", "info", "Log level")
	)
	pflag.Parse()

	if err := logging.SetLogLevel("*", *logLevel); err != nil {
		fmt.Fprintf(os.Stderr, "thermal-sim: %v\n", err)
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	camera := types.Camera{Width: *width, Height: *height, Rate: int(*fps)}
	order := types.ByteOrder(*byteOrder)
	if *zmqBind != "" {
		// The envelope tags its own byte order.
		order = types.LittleEndian
	}
	frames := simulator.Stream(ctx, camera, *fps, order)

	var err error
	if *zmqBind != "" {
		err = simulator.Push(ctx, *zmqBind, camera, frames)
	} else {
		err = simulator.Send(ctx, *target, frames)
	}
	if err != nil {
		log.Errorw("simulator failed", "error", err)
		stop()
		os.Exit(1)
	}
}
