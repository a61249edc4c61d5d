package utils

import (
	"bytes"
	"compress/gzip"
	"compress/zlib"
	"fmt"
	"io"
	"sync"

	"github.com/klauspost/compress/zstd"
)

// CompressionAlgorithm names the codec used for an index artifact body
type CompressionAlgorithm string

const (
	CompressionNone CompressionAlgorithm = "none"
	CompressionGzip CompressionAlgorithm = "gzip"
	CompressionZlib CompressionAlgorithm = "zlib"
	CompressionZstd CompressionAlgorithm = "zstd"
)

// Bodies smaller than this are stored raw
const minCompressSize = 512

type streamCodec struct {
	writer func(io.Writer) io.WriteCloser
	reader func(io.Reader) (io.ReadCloser, error)
}

var streamCodecs = map[CompressionAlgorithm]streamCodec{
	CompressionGzip: {
		writer: func(w io.Writer) io.WriteCloser { return gzip.NewWriter(w) },
		reader: func(r io.Reader) (io.ReadCloser, error) { return gzip.NewReader(r) },
	},
	CompressionZlib: {
		writer: func(w io.Writer) io.WriteCloser { return zlib.NewWriter(w) },
		reader: zlib.NewReader,
	},
}

// EncodeAll and DecodeAll are safe for concurrent use, so one encoder and
// one decoder serve every class.
var (
	zstdOnce    sync.Once
	zstdEncoder *zstd.Encoder
	zstdDecoder *zstd.Decoder
	zstdErr     error
)

func zstdCoders() (*zstd.Encoder, *zstd.Decoder, error) {
	zstdOnce.Do(func() {
		zstdEncoder, zstdErr = zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
		if zstdErr != nil {
			return
		}
		zstdDecoder, zstdErr = zstd.NewReader(nil)
	})
	return zstdEncoder, zstdDecoder, zstdErr
}

// CompressData encodes data with the given algorithm
func CompressData(data []byte, algorithm CompressionAlgorithm) ([]byte, error) {
	if len(data) == 0 || algorithm == CompressionNone {
		return data, nil
	}

	if algorithm == CompressionZstd {
		enc, _, err := zstdCoders()
		if err != nil {
			return nil, fmt.Errorf("zstd encoder: %w", err)
		}
		return enc.EncodeAll(data, make([]byte, 0, len(data)/2)), nil
	}

	codec, ok := streamCodecs[algorithm]
	if !ok {
		return nil, fmt.Errorf("unsupported compression algorithm: %s", algorithm)
	}
	var buf bytes.Buffer
	w := codec.writer(&buf)
	if _, err := w.Write(data); err != nil {
		return nil, fmt.Errorf("%s write: %w", algorithm, err)
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("%s close: %w", algorithm, err)
	}
	return buf.Bytes(), nil
}

// DecompressData reverses CompressData
func DecompressData(compressed []byte, algorithm CompressionAlgorithm) ([]byte, error) {
	if len(compressed) == 0 || algorithm == CompressionNone {
		return compressed, nil
	}

	if algorithm == CompressionZstd {
		_, dec, err := zstdCoders()
		if err != nil {
			return nil, fmt.Errorf("zstd decoder: %w", err)
		}
		data, err := dec.DecodeAll(compressed, nil)
		if err != nil {
			return nil, fmt.Errorf("zstd decode: %w", err)
		}
		return data, nil
	}

	codec, ok := streamCodecs[algorithm]
	if !ok {
		return nil, fmt.Errorf("unsupported compression algorithm: %s", algorithm)
	}
	r, err := codec.reader(bytes.NewReader(compressed))
	if err != nil {
		return nil, fmt.Errorf("%s reader: %w", algorithm, err)
	}
	defer r.Close()

	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("%s read: %w", algorithm, err)
	}
	return data, nil
}

// ChooseCompression picks an algorithm for a payload of n bytes
func ChooseCompression(n int) CompressionAlgorithm {
	if n < minCompressSize {
		return CompressionNone
	}
	return CompressionZstd
}
