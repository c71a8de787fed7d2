package ingest

import (
	"github.com/fxamacker/cbor/v2"
	"github.com/go-faster/errors"

	"thermal-view-go/internal/types"
)

// RFC 8746 tags.
const (
	tagMultiDimArray = 40
	tagUint16BE      = 65
	tagUint16LE      = 69
)

// DecodeEnvelope unpacks a CBOR message shaped like
// { "type": "image", "data": 40([rows, cols], 69(bytes)) }
// into a datagram carrying the raw pixel bytes and their byte order.
func DecodeEnvelope(msg []byte, camera types.Camera) (types.Datagram, error) {
	var payload map[string]any
	if err := cbor.Unmarshal(msg, &payload); err != nil {
		return types.Datagram{}, errors.Wrap(err, "cbor decode")
	}
	msgType, _ := payload["type"].(string)
	if msgType != "image" {
		return types.Datagram{}, errors.Errorf("unexpected message type %q", msgType)
	}
	rows, cols, data, order, err := decodeMultiDimArray(payload["data"])
	if err != nil {
		return types.Datagram{}, err
	}
	if rows != camera.Height || cols != camera.Width {
		return types.Datagram{}, errors.Errorf("frame shape %dx%d does not match camera %dx%d", cols, rows, camera.Width, camera.Height)
	}
	return types.Datagram{Payload: data, Order: order}, nil
}

// EncodeEnvelope wraps little-endian pixel bytes in the CBOR image envelope.
func EncodeEnvelope(data []byte, camera types.Camera) ([]byte, error) {
	return cbor.Marshal(map[string]any{
		"type": "image",
		"data": cbor.Tag{
			Number: tagMultiDimArray,
			Content: []any{
				[]any{camera.Height, camera.Width},
				cbor.Tag{Number: tagUint16LE, Content: data},
			},
		},
	})
}

func decodeMultiDimArray(value any) (int, int, []byte, types.ByteOrder, error) {
	tag, ok := value.(cbor.Tag)
	if !ok || tag.Number != tagMultiDimArray {
		return 0, 0, nil, "", errors.Errorf("expected multidim tag 40")
	}

	items, ok := tag.Content.([]any)
	if !ok || len(items) != 2 {
		return 0, 0, nil, "", errors.Errorf("invalid multidim array content")
	}

	dimsRaw, ok := items[0].([]any)
	if !ok || len(dimsRaw) != 2 {
		return 0, 0, nil, "", errors.Errorf("invalid multidim dimensions")
	}

	rows, err := toInt(dimsRaw[0])
	if err != nil {
		return 0, 0, nil, "", err
	}
	cols, err := toInt(dimsRaw[1])
	if err != nil {
		return 0, 0, nil, "", err
	}

	data, order, err := decodeTypedArray(items[1])
	if err != nil {
		return 0, 0, nil, "", err
	}
	if len(data) != rows*cols*2 {
		return 0, 0, nil, "", errors.Wrapf(ErrShortDatagram, "typed array has %d bytes for %dx%d", len(data), cols, rows)
	}
	return rows, cols, data, order, nil
}

func decodeTypedArray(value any) ([]byte, types.ByteOrder, error) {
	tag, ok := value.(cbor.Tag)
	if !ok {
		return nil, "", errors.Errorf("expected typed array tag")
	}
	data, ok := tag.Content.([]byte)
	if !ok {
		return nil, "", errors.Errorf("unsupported typed array content %T", tag.Content)
	}

	switch tag.Number {
	case tagUint16LE:
		return data, types.LittleEndian, nil
	case tagUint16BE:
		return data, types.BigEndian, nil
	default:
		return nil, "", errors.Errorf("unsupported typed array tag %d", tag.Number)
	}
}

func toInt(v any) (int, error) {
	switch n := v.(type) {
	case int:
		return n, nil
	case int64:
		return int(n), nil
	case uint64:
		return int(n), nil
	case uint32:
		return int(n), nil
	case float64:
		return int(n), nil
	default:
		return 0, errors.Errorf("unsupported int type %T", v)
	}
}
