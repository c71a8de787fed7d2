package output

import (
	"encoding/json"
	"fmt"
	"strconv"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/go-faster/errors"

	"thermal-view-go/internal/types"
)

type samplePayload struct {
	Temperature float64 `json:"temperature_c"`
	Raw         uint16  `json:"raw"`
	X           int     `json:"x"`
	Y           int     `json:"y"`
	Sequence    uint64  `json:"seq"`
	Timestamp   string  `json:"timestamp"`
}

// MQTTSink publishes temperature samples.
type MQTTSink struct {
	client mqtt.Client
	topic  string

	mu        sync.Mutex
	connected bool
	published uint64
	errors    uint64
}

func DialMQTT(broker, clientID, topic string) (*MQTTSink, error) {
	s := &MQTTSink{topic: topic}

	opts := mqtt.NewClientOptions()
	opts.AddBroker(fmt.Sprintf("tcp://%s", broker))
	opts.SetClientID(clientID)
	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectRetryInterval(2 * time.Second)
	opts.SetMaxReconnectInterval(30 * time.Second)
	opts.OnConnect = func(mqtt.Client) {
		s.setConnected(true)
		log.Infow("mqtt connection established", "broker", broker, "client_id", clientID)
	}
	opts.OnConnectionLost = func(_ mqtt.Client, err error) {
		s.setConnected(false)
		log.Warnw("mqtt connection lost, will auto-reconnect", "broker", broker, "error", err)
	}

	s.client = mqtt.NewClient(opts)
	token := s.client.Connect()
	if !token.WaitTimeout(5 * time.Second) {
		// Connect keeps retrying in the background; samples are dropped until
		// OnConnect fires.
		log.Warnw("mqtt broker not reachable yet", "broker", broker)
		return s, nil
	}
	if err := token.Error(); err != nil {
		s.client.Disconnect(0)
		return nil, errors.Wrap(err, "mqtt connect")
	}
	s.setConnected(true)
	return s, nil
}

func (s *MQTTSink) Name() string {
	return "mqtt"
}

func (s *MQTTSink) Emit(result types.Result) error {
	s.mu.Lock()
	connected := s.connected
	s.mu.Unlock()
	if !connected {
		s.countError()
		return errors.New("mqtt not connected")
	}

	payload, err := json.Marshal(newSamplePayload(result))
	if err != nil {
		s.countError()
		return errors.Wrap(err, "marshal sample")
	}
	token := s.client.Publish(s.topic, 0, false, payload)
	if !token.WaitTimeout(2 * time.Second) {
		s.countError()
		return errors.New("mqtt publish timeout")
	}
	if err := token.Error(); err != nil {
		s.countError()
		return errors.Wrap(err, "mqtt publish")
	}
	s.mu.Lock()
	s.published++
	s.mu.Unlock()
	return nil
}

func (s *MQTTSink) Close() error {
	s.client.Disconnect(250)
	return nil
}

func (s *MQTTSink) setConnected(v bool) {
	s.mu.Lock()
	s.connected = v
	s.mu.Unlock()
}

func (s *MQTTSink) countError() {
	s.mu.Lock()
	s.errors++
	s.mu.Unlock()
}

func newSamplePayload(result types.Result) samplePayload {
	ts := result.Received
	if ts.IsZero() {
		ts = time.Now()
	}
	return samplePayload{
		Temperature: roundCenti(result.Sample.Celsius),
		Raw:         result.Sample.Raw,
		X:           result.Sample.Point.X,
		Y:           result.Sample.Point.Y,
		Sequence:    result.Sample.Sequence,
		Timestamp:   ts.UTC().Format(time.RFC3339Nano),
	}
}

func roundCenti(v float64) float64 {
	out, _ := strconv.ParseFloat(FormatTemperature(v), 64)
	return out
}
