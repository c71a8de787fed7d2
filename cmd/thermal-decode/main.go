package main

import (
	"fmt"
	"image/png"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/go-faster/errors"
	logging "github.com/ipfs/go-log/v2"
	"github.com/spf13/pflag"

	"thermal-view-go/internal/config"
	"thermal-view-go/internal/ingest"
	"thermal-view-go/internal/output"
	"thermal-view-go/internal/processing"
	"thermal-view-go/internal/types"
)

var log = logging.Logger("thermal-decode")

func main() {
	path := pflag.String("path", "", "Captured datagram (.raw/.bin) or CBOR envelope (.cbor), or a directory of them")
	pngDir := pflag.String("png-dir", "", "Write the rendered frame for each file into this directory")
	width := pflag.Int("width", config.DefaultWidth, "Frame width")
	height := pflag.Int("height", config.DefaultHeight, "Frame height")
	byteOrder := pflag.String("byte-order", string(types.LittleEndian), "Byte order of raw captures")
	pflag.Parse()

	if *path == "" {
		fmt.Fprintln(os.Stderr, "thermal-decode: missing --path")
		os.Exit(2)
	}

	files, err := listFiles(*path)
	if err != nil {
		log.Fatalf("list files: %v", err)
	}
	if *pngDir != "" {
		if err := os.MkdirAll(*pngDir, 0o755); err != nil {
			log.Fatalf("create png dir: %v", err)
		}
	}

	camera := types.Camera{Width: *width, Height: *height}
	opts := processing.Options{
		Center:       processing.DefaultCenter(camera),
		MarkerRadius: 1,
	}

	var ok, failed int
	for _, file := range files {
		result, err := decodeFile(file, camera, types.ByteOrder(*byteOrder), opts)
		if err != nil {
			failed++
			log.Warnw("decode failed", "file", file, "error", err)
			continue
		}
		ok++
		stats := processing.Stats(result.Frame)
		fmt.Printf("%s: %s (min %.2f max %.2f mean %.2f)\n",
			file, output.FormatTemperature(result.Sample.Celsius), stats.Min, stats.Max, stats.Mean)

		if *pngDir != "" {
			name := strings.TrimSuffix(filepath.Base(file), filepath.Ext(file)) + ".png"
			if err := writePNG(filepath.Join(*pngDir, name), result); err != nil {
				log.Warnw("png write failed", "file", name, "error", err)
			}
		}
	}

	fmt.Printf("summary: decoded=%d failed=%d\n", ok, failed)
}

func decodeFile(file string, camera types.Camera, order types.ByteOrder, opts processing.Options) (types.Result, error) {
	data, err := os.ReadFile(file)
	if err != nil {
		return types.Result{}, err
	}
	d := types.Datagram{Payload: data, From: file}
	if filepath.Ext(file) == ".cbor" {
		d, err = ingest.DecodeEnvelope(data, camera)
		if err != nil {
			return types.Result{}, err
		}
	}
	frame, err := ingest.Decode(d, camera, order)
	if err != nil {
		return types.Result{}, err
	}
	return processing.Process(frame, opts)
}

func writePNG(path string, result types.Result) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := png.Encode(f, result.Display); err != nil {
		f.Close()
		return errors.Wrap(err, "encode png")
	}
	return f.Close()
}

func listFiles(path string) ([]string, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, err
	}
	if !info.IsDir() {
		return []string{path}, nil
	}

	entries, err := os.ReadDir(path)
	if err != nil {
		return nil, err
	}
	var files []string
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		switch filepath.Ext(entry.Name()) {
		case ".raw", ".bin", ".cbor":
			files = append(files, filepath.Join(path, entry.Name()))
		}
	}
	sort.Strings(files)
	return files, nil
}
