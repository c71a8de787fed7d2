package ingest

import (
	"bytes"
	"testing"

	"github.com/fxamacker/cbor/v2"

	"thermal-view-go/internal/types"
)

func TestDecodeMultiDimArrayUint16(t *testing.T) {
	value := cbor.Tag{
		Number: tagMultiDimArray,
		Content: []any{
			[]any{1, 2},
			cbor.Tag{
				Number:  tagUint16BE,
				Content: []byte{0x74, 0x77, 0x00, 0x01},
			},
		},
	}

	rows, cols, data, order, err := decodeMultiDimArray(value)
	if err != nil {
		t.Fatalf("decodeMultiDimArray error: %v", err)
	}
	if rows != 1 || cols != 2 {
		t.Fatalf("unexpected shape %dx%d", rows, cols)
	}
	if order != types.BigEndian {
		t.Fatalf("unexpected byte order %q", order)
	}
	if !bytes.Equal(data, []byte{0x74, 0x77, 0x00, 0x01}) {
		t.Fatalf("unexpected data %v", data)
	}
}

func TestDecodeMultiDimArrayRejectsShortData(t *testing.T) {
	value := cbor.Tag{
		Number: tagMultiDimArray,
		Content: []any{
			[]any{2, 2},
			cbor.Tag{Number: tagUint16LE, Content: []byte{1, 2, 3}},
		},
	}
	if _, _, _, _, err := decodeMultiDimArray(value); !IsMalformed(err) {
		t.Fatalf("expected malformed error, got %v", err)
	}
}

func TestEnvelopeRoundTrip(t *testing.T) {
	camera := types.Camera{Width: 4, Height: 2}
	pix := [][]uint16{
		{29815, 29816, 29817, 29818},
		{30000, 30001, 30002, 30003},
	}
	msg, err := EncodeEnvelope(Encode(pix, types.LittleEndian), camera)
	if err != nil {
		t.Fatalf("EncodeEnvelope error: %v", err)
	}

	d, err := DecodeEnvelope(msg, camera)
	if err != nil {
		t.Fatalf("DecodeEnvelope error: %v", err)
	}
	frame, err := Decode(d, camera, types.BigEndian)
	if err != nil {
		t.Fatalf("Decode error: %v", err)
	}
	if frame.Pix[1][2] != 30002 {
		t.Fatalf("envelope byte order not honoured: %d", frame.Pix[1][2])
	}
}

func TestDecodeEnvelopeShapeMismatch(t *testing.T) {
	msg, err := EncodeEnvelope(make([]byte, 8), types.Camera{Width: 2, Height: 2})
	if err != nil {
		t.Fatalf("EncodeEnvelope error: %v", err)
	}
	if _, err := DecodeEnvelope(msg, types.Camera{Width: 4, Height: 1}); err == nil {
		t.Fatalf("expected shape mismatch error")
	}
}

func TestDecodeEnvelopeWrongType(t *testing.T) {
	msg, err := cbor.Marshal(map[string]any{"type": "start"})
	if err != nil {
		t.Fatalf("marshal error: %v", err)
	}
	if _, err := DecodeEnvelope(msg, types.Camera{Width: 1, Height: 1}); err == nil {
		t.Fatalf("expected error for non-image message")
	}
}
