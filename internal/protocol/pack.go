package protocol

import (
	"errors"
	"fmt"

	"github.com/klauspost/compress/zstd"
	"github.com/vmihailenco/msgpack/v5"
)

// Snapshot frames are one flag byte followed by the msgpack body, raw or
// zstd-compressed.
const (
	frameRaw  byte = 'M'
	frameZstd byte = 'Z'

	maxFrameBytes = 16 << 20
)

var ErrFrame = errors.New("protocol: bad snapshot frame")

var (
	zenc, _ = zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedFastest), zstd.WithEncoderConcurrency(1))
	zdec, _ = zstd.NewReader(nil, zstd.WithDecoderMaxMemory(maxFrameBytes), zstd.WithDecoderConcurrency(1))
)

// PackSnapshot encodes msg. Bodies of at least minCompress bytes are zstd
// compressed; minCompress <= 0 disables compression.
func PackSnapshot(msg *SnapshotMsg, minCompress int) ([]byte, error) {
	body, err := msgpack.Marshal(msg)
	if err != nil {
		return nil, fmt.Errorf("pack snapshot: %w", err)
	}
	if minCompress > 0 && len(body) >= minCompress {
		out := make([]byte, 1, len(body)/2+1)
		out[0] = frameZstd
		return zenc.EncodeAll(body, out), nil
	}
	out := make([]byte, 0, len(body)+1)
	out = append(out, frameRaw)
	return append(out, body...), nil
}

func UnpackSnapshot(frame []byte) (SnapshotMsg, error) {
	var msg SnapshotMsg
	if len(frame) < 2 {
		return msg, ErrFrame
	}
	body := frame[1:]
	switch frame[0] {
	case frameRaw:
	case frameZstd:
		var err error
		body, err = zdec.DecodeAll(body, nil)
		if err != nil {
			return msg, fmt.Errorf("%w: %v", ErrFrame, err)
		}
	default:
		return msg, fmt.Errorf("%w: flag %q", ErrFrame, frame[0])
	}
	if err := msgpack.Unmarshal(body, &msg); err != nil {
		return msg, fmt.Errorf("%w: %v", ErrFrame, err)
	}
	return msg, nil
}

// Compressed reports whether a packed frame carries a zstd body.
func Compressed(frame []byte) bool { return len(frame) > 0 && frame[0] == frameZstd }
