package local

import (
	"encoding/binary"
	"math"
	"sort"
	"time"

	"github.com/klauspost/compress/zstd"
	"github.com/pkg/errors"

	"github.com/bookingcom/inputkit/pkg/history"
)

// codec turns a block of points into compressed bytes.
//
// Points are sorted by start. Each is written as the varint delta of its start
// from the previous one in milliseconds, its duration in milliseconds, a format
// byte and the value.
type codec struct {
	encoder *zstd.Encoder
	decoder *zstd.Decoder
}

func newCodec(level int) (*codec, error) {
	encLevel := zstd.SpeedDefault
	switch level {
	case 1:
		encLevel = zstd.SpeedFastest
	case 2:
		encLevel = zstd.SpeedDefault
	case 3:
		encLevel = zstd.SpeedBetterCompression
	case 4:
		encLevel = zstd.SpeedBestCompression
	}

	encoder, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(encLevel))
	if err != nil {
		return nil, errors.Wrap(err, "failed to create encoder")
	}

	decoder, err := zstd.NewReader(nil)
	if err != nil {
		return nil, errors.Wrap(err, "failed to create decoder")
	}

	return &codec{encoder: encoder, decoder: decoder}, nil
}

func (c *codec) close() {
	c.encoder.Close()
	c.decoder.Close()
}

func (c *codec) encode(points []history.DataPoint) []byte {
	sort.SliceStable(points, func(i, j int) bool { return points[i].Start.Before(points[j].Start) })

	buf := binary.AppendUvarint(nil, uint64(len(points)))
	var prev int64
	for i, p := range points {
		start := p.Start.UnixMilli()
		if i == 0 {
			buf = binary.AppendVarint(buf, start)
		} else {
			buf = binary.AppendVarint(buf, start-prev)
		}
		prev = start
		buf = binary.AppendVarint(buf, p.End.UnixMilli()-start)

		v := p.First()
		buf = append(buf, byte(v.Format))
		switch v.Format {
		case history.FormatInt:
			buf = binary.AppendVarint(buf, v.Int)
		case history.FormatFloat:
			buf = binary.LittleEndian.AppendUint64(buf, math.Float64bits(v.Float))
		case history.FormatString:
			buf = binary.AppendUvarint(buf, uint64(len(v.Str)))
			buf = append(buf, v.Str...)
		}
	}

	return c.encoder.EncodeAll(buf, make([]byte, 0, len(buf)))
}

var errCorrupt = errors.New("corrupt block")

func (c *codec) decode(data []byte) ([]history.DataPoint, error) {
	buf, err := c.decoder.DecodeAll(data, nil)
	if err != nil {
		return nil, errors.Wrap(err, "failed to decompress block")
	}

	r := reader{buf: buf}
	n := r.uvarint()
	if r.err != nil || n > uint64(len(buf)) {
		return nil, errCorrupt
	}

	points := make([]history.DataPoint, 0, n)
	var start int64
	for i := uint64(0); i < n; i++ {
		start += r.varint()
		end := start + r.varint()

		var v history.Value
		switch history.Format(r.u8()) {
		case history.FormatUnset:
		case history.FormatInt:
			v = history.IntValue(r.varint())
		case history.FormatFloat:
			v = history.FloatValue(math.Float64frombits(r.u64()))
		case history.FormatString:
			v = history.StringValue(string(r.raw(int(r.uvarint()))))
		default:
			return nil, errCorrupt
		}
		if r.err != nil {
			return nil, r.err
		}

		points = append(points, history.NewDataPoint(time.UnixMilli(start).UTC(), time.UnixMilli(end).UTC(), v))
	}

	return points, nil
}

// reader reads a decompressed block, remembering the first error.
type reader struct {
	buf []byte
	err error
}

func (r *reader) fail() {
	if r.err == nil {
		r.err = errCorrupt
	}
	r.buf = nil
}

func (r *reader) varint() int64 {
	v, n := binary.Varint(r.buf)
	if n <= 0 {
		r.fail()
		return 0
	}
	r.buf = r.buf[n:]
	return v
}

func (r *reader) uvarint() uint64 {
	v, n := binary.Uvarint(r.buf)
	if n <= 0 {
		r.fail()
		return 0
	}
	r.buf = r.buf[n:]
	return v
}

func (r *reader) u8() byte {
	if len(r.buf) < 1 {
		r.fail()
		return 0
	}
	b := r.buf[0]
	r.buf = r.buf[1:]
	return b
}

func (r *reader) u64() uint64 {
	if len(r.buf) < 8 {
		r.fail()
		return 0
	}
	v := binary.LittleEndian.Uint64(r.buf)
	r.buf = r.buf[8:]
	return v
}

func (r *reader) raw(n int) []byte {
	if n < 0 || len(r.buf) < n {
		r.fail()
		return nil
	}
	b := r.buf[:n]
	r.buf = r.buf[n:]
	return b
}
