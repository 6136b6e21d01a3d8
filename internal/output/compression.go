package output

import (
	"bytes"
	"compress/gzip"
	"fmt"
	"io"

	"github.com/golang/snappy"
)

// Codec compresses archive object bodies
type Codec struct {
	// Extension is appended to object keys
	Extension string

	// ContentEncoding is sent with each object; empty for none
	ContentEncoding string

	Encode func(data []byte) ([]byte, error)
	Decode func(data []byte) ([]byte, error)
}

func identity(data []byte) ([]byte, error) { return data, nil }

var codecs = map[CompressionType]Codec{
	CompressionNone: {Encode: identity, Decode: identity},
	CompressionGzip: {
		Extension:       ".gz",
		ContentEncoding: "gzip",
		Encode:          gzipEncode,
		Decode:          gzipDecode,
	},
	CompressionSnappy: {
		Extension:       ".snappy",
		ContentEncoding: "snappy",
		Encode:          func(data []byte) ([]byte, error) { return snappy.Encode(nil, data), nil },
		Decode:          func(data []byte) ([]byte, error) { return snappy.Decode(nil, data) },
	},
}

// CodecFor returns the codec for t; empty means none
func CodecFor(t CompressionType) (Codec, error) {
	if t == "" {
		t = CompressionNone
	}
	c, ok := codecs[t]
	if !ok {
		return Codec{}, fmt.Errorf("unsupported compression type: %s", t)
	}
	return c, nil
}

func gzipEncode(data []byte) ([]byte, error) {
	var buf bytes.Buffer
	w := gzip.NewWriter(&buf)
	if _, err := w.Write(data); err != nil {
		return nil, fmt.Errorf("gzip write failed: %w", err)
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("gzip close failed: %w", err)
	}
	return buf.Bytes(), nil
}

func gzipDecode(data []byte) ([]byte, error) {
	r, err := gzip.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("gzip reader creation failed: %w", err)
	}
	defer r.Close()
	return io.ReadAll(r)
}
