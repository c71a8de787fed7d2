package config

import (
	"fmt"
	"image"
	"os"
	"strconv"
	"strings"

	"github.com/go-faster/errors"
	"github.com/joho/godotenv"
	"github.com/spf13/pflag"
	"gopkg.in/yaml.v3"

	"thermal-view-go/internal/processing"
	"thermal-view-go/internal/types"
)

// Lepton 3.x defaults.
const (
	DefaultListenAddr = "0.0.0.0"
	DefaultListenPort = 8088
	DefaultWidth      = 160
	DefaultHeight     = 120
	DefaultFPS        = 9
	DefaultTitle      = "Thermal Img"
)

type AppConfig struct {
	ListenAddr     string  `yaml:"listen_addr"`
	ListenPort     int     `yaml:"listen_port"`
	Source         string  `yaml:"source"`
	Endpoint       string  `yaml:"endpoint"`
	Width          int     `yaml:"width"`
	Height         int     `yaml:"height"`
	FPS            int     `yaml:"fps"`
	ByteOrder      string  `yaml:"byte_order"`
	CenterX        int     `yaml:"center_x"`
	CenterY        int     `yaml:"center_y"`
	MarkerRadius   int     `yaml:"marker_radius"`
	MarkerValue    int     `yaml:"marker_value"`
	RangeMin       int     `yaml:"range_min"`
	RangeMax       int     `yaml:"range_max"`
	Display        string  `yaml:"display"`
	WindowTitle    string  `yaml:"window_title"`
	WindowScale    int     `yaml:"window_scale"`
	Port           int     `yaml:"port"`
	Debug          bool    `yaml:"debug"`
	DebugFPS       float64 `yaml:"debug_fps"`
	SkipMalformed  bool    `yaml:"skip_malformed"`
	IngestLogEvery int     `yaml:"ingest_log_every"`
	MQTTBroker     string  `yaml:"mqtt_broker"`
	MQTTTopic      string  `yaml:"mqtt_topic"`
	MQTTClientID   string  `yaml:"mqtt_client_id"`
	DDPTarget      string  `yaml:"ddp_target"`
	LogLevel       string  `yaml:"log_level"`

	ConfigFile string `yaml:"-"`
	EnvFile    string `yaml:"-"`
}

// Default listens on 0.0.0.0:8088 for 160x120 frames and samples the centre pixel.
func Default() AppConfig {
	return AppConfig{
		ListenAddr:     DefaultListenAddr,
		ListenPort:     DefaultListenPort,
		Source:         "udp",
		Endpoint:       "tcp://localhost:31001",
		Width:          DefaultWidth,
		Height:         DefaultHeight,
		FPS:            DefaultFPS,
		ByteOrder:      "little",
		CenterX:        DefaultWidth / 2,
		CenterY:        DefaultHeight / 2,
		MarkerRadius:   1,
		MarkerValue:    0,
		Display:        "window",
		WindowTitle:    DefaultTitle,
		WindowScale:    4,
		Port:           8888,
		DebugFPS:       9,
		IngestLogEvery: 100,
		MQTTTopic:      "thermal/temperature",
		MQTTClientID:   "thermal-view",
		LogLevel:       "info",
	}
}

// Load layers defaults, the optional YAML file, the environment and finally
// command-line flags, then validates the result.
func Load(args []string) (AppConfig, error) {
	probe := Default()
	if err := NewFlagSet(&probe).Parse(args); err != nil {
		return AppConfig{}, err
	}

	cfg := Default()
	if probe.ConfigFile != "" {
		if err := cfg.MergeFile(probe.ConfigFile); err != nil {
			return AppConfig{}, err
		}
	}
	if err := cfg.ApplyEnv(probe.EnvFile); err != nil {
		return AppConfig{}, err
	}
	if err := NewFlagSet(&cfg).Parse(args); err != nil {
		return AppConfig{}, err
	}
	return cfg, cfg.Validate()
}

func NewFlagSet(cfg *AppConfig) *pflag.FlagSet {
	fs := pflag.NewFlagSet("thermal-view", pflag.ContinueOnError)
	fs.StringVar(&cfg.ConfigFile, "config", cfg.ConfigFile, "YAML config file (watched for changes)")
	fs.StringVar(&cfg.EnvFile, "env-file", cfg.EnvFile, "dotenv file with THERMAL_* variables (default .env)")
	fs.StringVar(&cfg.ListenAddr, "listen-addr", cfg.ListenAddr, "UDP address to bind")
	fs.IntVar(&cfg.ListenPort, "listen-port", cfg.ListenPort, "UDP port to bind")
	fs.StringVar(&cfg.Source, "source", cfg.Source, "Frame source: udp or zmq")
	fs.StringVar(&cfg.Endpoint, "endpoint", cfg.Endpoint, "ZMQ endpoint (source=zmq)")
	fs.IntVar(&cfg.Width, "width", cfg.Width, "Frame width in pixels")
	fs.IntVar(&cfg.Height, "height", cfg.Height, "Frame height in pixels")
	fs.IntVar(&cfg.FPS, "fps", cfg.FPS, "Nominal camera frame rate")
	fs.StringVar(&cfg.ByteOrder, "byte-order", cfg.ByteOrder, "Pixel byte order: little or big")
	fs.IntVar(&cfg.CenterX, "center-x", cfg.CenterX, "Sampled pixel column")
	fs.IntVar(&cfg.CenterY, "center-y", cfg.CenterY, "Sampled pixel row")
	fs.IntVar(&cfg.MarkerRadius, "marker-radius", cfg.MarkerRadius, "Marker circle radius")
	fs.IntVar(&cfg.MarkerValue, "marker-value", cfg.MarkerValue, "Marker grey level (0-255)")
	fs.IntVar(&cfg.RangeMin, "mintemp", cfg.RangeMin, "Fixed lower scaling bound in centi-Kelvin (0 = auto)")
	fs.IntVar(&cfg.RangeMax, "maxtemp", cfg.RangeMax, "Fixed upper scaling bound in centi-Kelvin (0 = auto)")
	fs.StringVar(&cfg.Display, "display", cfg.Display, "Display: window, web or none")
	fs.StringVar(&cfg.WindowTitle, "window-title", cfg.WindowTitle, "Window title")
	fs.IntVar(&cfg.WindowScale, "window-scale", cfg.WindowScale, "Window scale factor")
	fs.IntVar(&cfg.Port, "port", cfg.Port, "HTTP port for the web viewer")
	fs.BoolVar(&cfg.Debug, "debug", cfg.Debug, "Run with simulated frames")
	fs.Float64Var(&cfg.DebugFPS, "debug-fps", cfg.DebugFPS, "Simulated frame rate")
	fs.BoolVar(&cfg.SkipMalformed, "skip-malformed", cfg.SkipMalformed, "Drop malformed datagrams instead of exiting")
	fs.IntVar(&cfg.IngestLogEvery, "ingest-log-every", cfg.IngestLogEvery, "Log every Nth dropped datagram")
	fs.StringVar(&cfg.MQTTBroker, "mqtt-broker", cfg.MQTTBroker, "MQTT broker host:port for temperature samples")
	fs.StringVar(&cfg.MQTTTopic, "mqtt-topic", cfg.MQTTTopic, "MQTT topic for temperature samples")
	fs.StringVar(&cfg.MQTTClientID, "mqtt-client-id", cfg.MQTTClientID, "MQTT client id")
	fs.StringVar(&cfg.DDPTarget, "ddp-target", cfg.DDPTarget, "DDP display host:port to mirror frames to")
	fs.StringVar(&cfg.LogLevel, "log-level", cfg.LogLevel, "Log level: debug, info, warn, error")
	return fs
}

func (c *AppConfig) MergeFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return errors.Wrap(err, "read config")
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return errors.Wrapf(err, "parse config %s", path)
	}
	return nil
}

// ApplyEnv loads the dotenv file (missing files are ignored) and applies any
// THERMAL_* variables.
func (c *AppConfig) ApplyEnv(envFile string) error {
	if envFile == "" {
		envFile = ".env"
	}
	if err := godotenv.Load(envFile); err != nil && !errors.Is(err, os.ErrNotExist) {
		return errors.Wrapf(err, "load %s", envFile)
	}

	strs := map[string]*string{
		"THERMAL_LISTEN_ADDR": &c.ListenAddr,
		"THERMAL_SOURCE":      &c.Source,
		"THERMAL_ENDPOINT":    &c.Endpoint,
		"THERMAL_BYTE_ORDER":  &c.ByteOrder,
		"THERMAL_DISPLAY":     &c.Display,
		"THERMAL_MQTT_BROKER": &c.MQTTBroker,
		"THERMAL_MQTT_TOPIC":  &c.MQTTTopic,
		"THERMAL_DDP_TARGET":  &c.DDPTarget,
		"THERMAL_LOG_LEVEL":   &c.LogLevel,
	}
	for key, dst := range strs {
		if v, ok := os.LookupEnv(key); ok {
			*dst = v
		}
	}

	ints := map[string]*int{
		"THERMAL_LISTEN_PORT": &c.ListenPort,
		"THERMAL_WIDTH":       &c.Width,
		"THERMAL_HEIGHT":      &c.Height,
		"THERMAL_CENTER_X":    &c.CenterX,
		"THERMAL_CENTER_Y":    &c.CenterY,
		"THERMAL_MINTEMP":     &c.RangeMin,
		"THERMAL_MAXTEMP":     &c.RangeMax,
		"THERMAL_PORT":        &c.Port,
	}
	for key, dst := range ints {
		v, ok := os.LookupEnv(key)
		if !ok {
			continue
		}
		n, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil {
			return errors.Wrapf(err, "parse %s", key)
		}
		*dst = n
	}

	if v, ok := os.LookupEnv("THERMAL_SKIP_MALFORMED"); ok {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return errors.Wrap(err, "parse THERMAL_SKIP_MALFORMED")
		}
		c.SkipMalformed = b
	}
	return nil
}

func (c AppConfig) Validate() error {
	if c.ListenPort < 0 || c.ListenPort > 65535 {
		return errors.Errorf("listen port %d out of range", c.ListenPort)
	}
	if c.Port < 1 || c.Port > 65535 {
		return errors.Errorf("http port %d out of range", c.Port)
	}
	if c.Width < 1 || c.Height < 1 {
		return errors.Errorf("invalid frame size %dx%d", c.Width, c.Height)
	}
	if c.Width*c.Height*2 > 65507 {
		return errors.Errorf("frame size %dx%d does not fit in one UDP datagram", c.Width, c.Height)
	}
	if !c.Center().In(image.Rect(0, 0, c.Width, c.Height)) {
		return errors.Errorf("center (%d,%d) outside %dx%d frame", c.CenterX, c.CenterY, c.Width, c.Height)
	}
	if c.MarkerRadius < 0 {
		return errors.Errorf("negative marker radius %d", c.MarkerRadius)
	}
	if c.MarkerValue < 0 || c.MarkerValue > 255 {
		return errors.Errorf("marker value %d out of range", c.MarkerValue)
	}
	if c.RangeMin < 0 || c.RangeMin > 65535 || c.RangeMax < 0 || c.RangeMax > 65535 {
		return errors.Errorf("temperature range must be within 0-65535")
	}
	if c.RangeMin != 0 && c.RangeMax != 0 && c.RangeMin >= c.RangeMax {
		return errors.Errorf("mintemp %d must be below maxtemp %d", c.RangeMin, c.RangeMax)
	}
	switch c.Source {
	case "udp", "zmq":
	default:
		return errors.Errorf("unknown source %q", c.Source)
	}
	switch c.ByteOrder {
	case "little", "big":
	default:
		return errors.Errorf("unknown byte order %q", c.ByteOrder)
	}
	switch c.Display {
	case "window", "web", "none":
	default:
		return errors.Errorf("unknown display %q", c.Display)
	}
	if c.WindowScale < 1 {
		return errors.Errorf("window scale must be at least 1")
	}
	if c.Debug && c.DebugFPS <= 0 {
		return errors.Errorf("debug fps must be positive")
	}
	return nil
}

// Center is the single point used both to sample the temperature (row Y,
// column X) and to place the marker (x, y).
func (c AppConfig) Center() image.Point {
	return image.Point{X: c.CenterX, Y: c.CenterY}
}

func (c AppConfig) Camera() types.Camera {
	return types.Camera{Width: c.Width, Height: c.Height, Rate: c.FPS}
}

func (c AppConfig) ListenAddress() string {
	return fmt.Sprintf("%s:%d", c.ListenAddr, c.ListenPort)
}

func (c AppConfig) ProcessingOptions() processing.Options {
	return processing.Options{
		Center:       c.Center(),
		MarkerRadius: c.MarkerRadius,
		MarkerValue:  uint8(c.MarkerValue),
		Range: processing.Range{
			Min: uint16(c.RangeMin),
			Max: uint16(c.RangeMax),
		},
	}
}

// Reloadable reports whether two configs differ only in fields that can be
// applied between frames.
func Reloadable(old, next AppConfig) bool {
	old.CenterX, old.CenterY = next.CenterX, next.CenterY
	old.MarkerRadius, old.MarkerValue = next.MarkerRadius, next.MarkerValue
	old.RangeMin, old.RangeMax = next.RangeMin, next.RangeMax
	return old == next
}
