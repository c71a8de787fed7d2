package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"image"
	"image/jpeg"
	"image/png"
	"mime/multipart"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"thermal-view-go/internal/config"
	"thermal-view-go/internal/pipeline"
	"thermal-view-go/internal/types"
)

func testResult() types.Result {
	img := image.NewGray(image.Rect(0, 0, 4, 3))
	for i := range img.Pix {
		img.Pix[i] = uint8(i * 10)
	}
	return types.Result{
		Display: img,
		Sample:  types.Sample{Point: image.Point{X: 2, Y: 1}, Raw: 29815, Celsius: 25, Sequence: 7},
	}
}

func TestHandleConfig(t *testing.T) {
	srv := New(config.AppConfig{
		WindowTitle: "Thermal Img",
		Width:       160,
		Height:      120,
		CenterX:     80,
		CenterY:     60,
		Port:        9999,
	}, nil)

	req := httptest.NewRequest("GET", "/config", nil)
	rec := httptest.NewRecorder()
	srv.handleConfig(rec, req)

	if rec.Code != 200 {
		t.Fatalf("unexpected status: %d", rec.Code)
	}

	var payload map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &payload); err != nil {
		t.Fatalf("decode response: %v", err)
	}

	if payload["width"].(float64) != 160 {
		t.Fatalf("unexpected width: %v", payload["width"])
	}
	if payload["center_y"].(float64) != 60 {
		t.Fatalf("unexpected center_y: %v", payload["center_y"])
	}
	if payload["port"].(float64) != 9999 {
		t.Fatalf("unexpected port: %v", payload["port"])
	}
}

func TestHandleStatusAddsClientCount(t *testing.T) {
	srv := New(config.AppConfig{}, func() map[string]any {
		return map[string]any{"metrics": map[string]any{"datagrams_total": 3}}
	})

	rec := httptest.NewRecorder()
	srv.handleStatus(rec, httptest.NewRequest("GET", "/status", nil))

	var payload struct {
		Metrics map[string]float64 `json:"metrics"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &payload); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if payload.Metrics["datagrams_total"] != 3 {
		t.Fatalf("unexpected metrics: %v", payload.Metrics)
	}
	if _, ok := payload.Metrics["ws_clients"]; !ok {
		t.Fatalf("ws_clients missing: %v", payload.Metrics)
	}
}

func TestFrameBeforeAndAfterShow(t *testing.T) {
	srv := New(config.AppConfig{}, nil)

	rec := httptest.NewRecorder()
	srv.handleFrame(rec, httptest.NewRequest("GET", "/frame.png", nil))
	if rec.Code != 503 {
		t.Fatalf("expected 503 before first frame, got %d", rec.Code)
	}

	if err := srv.Show(testResult()); err != nil {
		t.Fatalf("Show error: %v", err)
	}

	rec = httptest.NewRecorder()
	srv.handleFrame(rec, httptest.NewRequest("GET", "/frame.png", nil))
	if rec.Code != 200 {
		t.Fatalf("unexpected status: %d", rec.Code)
	}
	img, err := png.Decode(bytes.NewReader(rec.Body.Bytes()))
	if err != nil {
		t.Fatalf("decode png: %v", err)
	}
	gray, ok := img.(*image.Gray)
	if !ok {
		t.Fatalf("expected grayscale png, got %T", img)
	}
	if gray.GrayAt(1, 0).Y != 10 {
		t.Fatalf("unexpected pixel: %d", gray.GrayAt(1, 0).Y)
	}
}

func TestPollKeyWithoutInput(t *testing.T) {
	srv := New(config.AppConfig{}, nil)
	if key := srv.PollKey(); key != pipeline.NoKey {
		t.Fatalf("expected NoKey, got %d", key)
	}
}

func TestWebsocketKeyReachesPollKey(t *testing.T) {
	srv := New(config.AppConfig{WindowTitle: "Thermal Img"}, nil)
	handler, err := srv.Handler()
	if err != nil {
		t.Fatalf("Handler error: %v", err)
	}
	ts := httptest.NewServer(handler)
	defer ts.Close()

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	var cfg types.UIConfig
	if err := conn.ReadJSON(&cfg); err != nil {
		t.Fatalf("read config: %v", err)
	}
	if cfg.Type != "config" || cfg.Title != "Thermal Img" {
		t.Fatalf("unexpected config message: %+v", cfg)
	}

	if err := conn.WriteJSON(map[string]any{"type": "key", "code": 'q'}); err != nil {
		t.Fatalf("write key: %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if key := srv.PollKey(); key != pipeline.NoKey {
			if !pipeline.IsQuitKey(key) {
				t.Fatalf("unexpected key %d", key)
			}
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("key never arrived")
}

func TestIndexIsServed(t *testing.T) {
	srv := New(config.AppConfig{}, nil)
	handler, err := srv.Handler()
	if err != nil {
		t.Fatalf("Handler error: %v", err)
	}
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest("GET", "/", nil))
	if rec.Code != 200 || !strings.Contains(rec.Body.String(), "Thermal Img") {
		t.Fatalf("unexpected index response: %d", rec.Code)
	}
}

func startServer(t *testing.T, cfg config.AppConfig) (*Server, string) {
	t.Helper()
	srv := New(cfg, nil)
	if err := srv.Bind(); err != nil {
		t.Fatalf("Bind error: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- srv.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		if err := <-done; err != nil {
			t.Errorf("Run error: %v", err)
		}
	})
	return srv, fmt.Sprintf("127.0.0.1:%d", srv.Addr().(*net.TCPAddr).Port)
}

func TestWebsocketReceivesSampleThenFrame(t *testing.T) {
	srv, addr := startServer(t, config.AppConfig{WindowTitle: "Thermal Img"})

	conn, _, err := websocket.DefaultDialer.Dial("ws://"+addr+"/ws", nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()
	_ = conn.SetReadDeadline(time.Now().Add(3 * time.Second))

	var cfg types.UIConfig
	if err := conn.ReadJSON(&cfg); err != nil {
		t.Fatalf("read config: %v", err)
	}

	if err := srv.Show(testResult()); err != nil {
		t.Fatalf("Show error: %v", err)
	}

	messageType, payload, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read sample: %v", err)
	}
	if messageType != websocket.TextMessage {
		t.Fatalf("expected text sample first, got type %d", messageType)
	}
	var sample types.UISample
	if err := json.Unmarshal(payload, &sample); err != nil {
		t.Fatalf("decode sample: %v", err)
	}
	if sample.Type != "sample" || sample.Text != "25.00" || sample.Sequence != 7 {
		t.Fatalf("unexpected sample %+v", sample)
	}

	messageType, payload, err = conn.ReadMessage()
	if err != nil {
		t.Fatalf("read frame: %v", err)
	}
	if messageType != websocket.BinaryMessage {
		t.Fatalf("expected binary frame, got type %d", messageType)
	}
	img, err := png.Decode(bytes.NewReader(payload))
	if err != nil {
		t.Fatalf("decode png: %v", err)
	}
	if img.Bounds() != image.Rect(0, 0, 4, 3) {
		t.Fatalf("unexpected frame bounds %v", img.Bounds())
	}
}

func TestStreamServesJPEGParts(t *testing.T) {
	srv, addr := startServer(t, config.AppConfig{})

	resp, err := http.Get("http://" + addr + "/stream")
	if err != nil {
		t.Fatalf("get stream: %v", err)
	}
	defer resp.Body.Close()
	if ct := resp.Header.Get("Content-Type"); !strings.HasPrefix(ct, "multipart/x-mixed-replace") {
		t.Fatalf("unexpected content type %q", ct)
	}

	if err := srv.Show(testResult()); err != nil {
		t.Fatalf("Show error: %v", err)
	}

	part, err := multipart.NewReader(resp.Body, "frame").NextPart()
	if err != nil {
		t.Fatalf("read part: %v", err)
	}
	if ct := part.Header.Get("Content-Type"); ct != "image/jpeg" {
		t.Fatalf("unexpected part type %q", ct)
	}
	img, err := jpeg.Decode(part)
	if err != nil {
		t.Fatalf("decode jpeg: %v", err)
	}
	if img.Bounds() != image.Rect(0, 0, 4, 3) {
		t.Fatalf("unexpected frame bounds %v", img.Bounds())
	}
}

func TestBindFailsWhenPortTaken(t *testing.T) {
	ln, err := net.Listen("tcp", ":0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer ln.Close()

	srv := New(config.AppConfig{Port: ln.Addr().(*net.TCPAddr).Port}, nil)
	if err := srv.Bind(); err == nil {
		t.Fatal("expected bind error for a port in use")
	}
}

func TestConfigReportsLiveCenter(t *testing.T) {
	srv := New(config.AppConfig{CenterX: 80, CenterY: 60}, nil)
	center := image.Point{X: 80, Y: 60}
	srv.CenterFrom(func() image.Point { return center })
	center = image.Point{X: 5, Y: 7}

	rec := httptest.NewRecorder()
	srv.handleConfig(rec, httptest.NewRequest("GET", "/config", nil))

	var payload map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &payload); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if payload["center_x"].(float64) != 5 || payload["center_y"].(float64) != 7 {
		t.Fatalf("config did not follow the live center: %v", payload)
	}
	if cfg := srv.uiConfig(); cfg.CenterX != 5 || cfg.CenterY != 7 {
		t.Fatalf("websocket config did not follow the live center: %+v", cfg)
	}
}
