// Package codec serializes cache values for the distributed tier.
//
// Scalars (strings, booleans, numbers, nil) are stored as compact JSON text
// behind a "json:" tag; everything else is gob-encoded behind a "gob:" tag.
// The tag is written at encode time so decode never has to guess the format.
// Payloads larger than the configured threshold are gzip-compressed and
// prefixed with the "compressed:" marker.
package codec

import (
	"bytes"
	"compress/gzip"
	"encoding/gob"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/BaSui01/lookupcache/stats"
)

// ErrDecode marks payloads that cannot be decoded. Decode failures are hard
// errors: a corrupt value must not silently become an empty result.
var ErrDecode = errors.New("codec: cannot decode payload")

const (
	compressionMarker = "compressed:"
	tagScalar         = "json:"
	tagComposite      = "gob:"
)

func init() {
	// Common composite shapes round-trip out of the box. Callers storing
	// their own struct types register them with gob.Register themselves.
	gob.Register(map[string]any{})
	gob.Register([]any{})
	gob.Register(map[string]string{})
}

// Config controls conditional compression.
type Config struct {
	CompressionEnabled   bool `yaml:"compression_enabled" json:"compression_enabled"`
	CompressionThreshold int  `yaml:"compression_threshold" json:"compression_threshold"`
}

// DefaultConfig compresses payloads above 1KB.
func DefaultConfig() Config {
	return Config{
		CompressionEnabled:   true,
		CompressionThreshold: 1024,
	}
}

// Codec encodes and decodes cache values. The stats recorder may be nil.
type Codec struct {
	config Config
	rec    *stats.Recorder
}

// New creates a Codec.
func New(config Config, rec *stats.Recorder) *Codec {
	if config.CompressionThreshold <= 0 {
		config.CompressionThreshold = 1024
	}
	return &Codec{config: config, rec: rec}
}

// Encode serializes a value, compressing it when it exceeds the threshold.
func (c *Codec) Encode(value any) ([]byte, error) {
	var payload []byte

	if isScalar(value) {
		data, err := json.Marshal(value)
		if err != nil {
			return nil, fmt.Errorf("codec: marshal scalar: %w", err)
		}
		payload = append([]byte(tagScalar), data...)
	} else {
		var buf bytes.Buffer
		buf.WriteString(tagComposite)
		if err := gob.NewEncoder(&buf).Encode(&value); err != nil {
			return nil, fmt.Errorf("codec: encode composite: %w", err)
		}
		payload = buf.Bytes()
	}

	if c.config.CompressionEnabled && len(payload) > c.config.CompressionThreshold {
		var buf bytes.Buffer
		buf.WriteString(compressionMarker)
		zw := gzip.NewWriter(&buf)
		if _, err := zw.Write(payload); err != nil {
			return nil, fmt.Errorf("codec: compress: %w", err)
		}
		if err := zw.Close(); err != nil {
			return nil, fmt.Errorf("codec: compress: %w", err)
		}
		if c.rec != nil {
			c.rec.RecordCompressionSave()
		}
		return buf.Bytes(), nil
	}

	return payload, nil
}

// Decode reverses Encode. Unknown tags and corrupt payloads return errors
// wrapping ErrDecode.
func (c *Codec) Decode(data []byte) (any, error) {
	if bytes.HasPrefix(data, []byte(compressionMarker)) {
		zr, err := gzip.NewReader(bytes.NewReader(data[len(compressionMarker):]))
		if err != nil {
			return nil, fmt.Errorf("%w: gzip: %v", ErrDecode, err)
		}
		decompressed, err := io.ReadAll(zr)
		if err != nil {
			return nil, fmt.Errorf("%w: gzip: %v", ErrDecode, err)
		}
		if err := zr.Close(); err != nil {
			return nil, fmt.Errorf("%w: gzip: %v", ErrDecode, err)
		}
		data = decompressed
	}

	switch {
	case bytes.HasPrefix(data, []byte(tagScalar)):
		return decodeScalar(data[len(tagScalar):])
	case bytes.HasPrefix(data, []byte(tagComposite)):
		var value any
		dec := gob.NewDecoder(bytes.NewReader(data[len(tagComposite):]))
		if err := dec.Decode(&value); err != nil {
			return nil, fmt.Errorf("%w: gob: %v", ErrDecode, err)
		}
		return value, nil
	default:
		return nil, fmt.Errorf("%w: unknown format tag", ErrDecode)
	}
}

// decodeScalar preserves integers: JSON numbers that fit int64 come back as
// int64, everything else as float64.
func decodeScalar(data []byte) (any, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()

	var value any
	if err := dec.Decode(&value); err != nil {
		return nil, fmt.Errorf("%w: json: %v", ErrDecode, err)
	}

	if num, ok := value.(json.Number); ok {
		if i, err := num.Int64(); err == nil {
			return i, nil
		}
		f, err := num.Float64()
		if err != nil {
			return nil, fmt.Errorf("%w: json number: %v", ErrDecode, err)
		}
		return f, nil
	}
	return value, nil
}

func isScalar(value any) bool {
	switch value.(type) {
	case nil, string, bool,
		int, int8, int16, int32, int64,
		uint, uint8, uint16, uint32, uint64,
		float32, float64:
		return true
	default:
		return false
	}
}
