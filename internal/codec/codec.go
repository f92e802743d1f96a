// Package codec encodes captured subtrees for trash entries and snapshots.
//
// Payloads are JSON. Decoding uses json.Number so integer columns come back
// as int64 rather than float64, matching what the SQLite driver returns.
// Snapshot blobs are additionally compressed with zstd.
package codec

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/klauspost/compress/zstd"

	"github.com/mesh-intelligence/lorevault/pkg/types"
)

// maxDecodedSize bounds decompression of a single snapshot blob.
const maxDecodedSize = 1 << 30

// EncodePayload serializes p, stamping the current payload version.
func EncodePayload(p *types.Payload) ([]byte, error) {
	p.Version = types.PayloadVersion
	data, err := json.Marshal(p)
	if err != nil {
		return nil, fmt.Errorf("%w: encoding payload: %w", types.ErrSerialization, err)
	}
	return data, nil
}

// DecodePayload parses data produced by EncodePayload and checks that it is
// structurally usable: known version, known kinds, and a root entity.
func DecodePayload(data []byte) (*types.Payload, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()

	var p types.Payload
	if err := dec.Decode(&p); err != nil {
		return nil, fmt.Errorf("%w: decoding payload: %w", types.ErrSerialization, err)
	}
	if p.Version < 1 || p.Version > types.PayloadVersion {
		return nil, fmt.Errorf("%w: unsupported payload version %d", types.ErrSerialization, p.Version)
	}
	if len(p.Entities) == 0 {
		return nil, fmt.Errorf("%w: payload has no entities", types.ErrSerialization)
	}
	if err := p.Root.Validate(); err != nil {
		return nil, fmt.Errorf("%w: payload root: %w", types.ErrSerialization, err)
	}
	if p.Entities[0].Ref() != p.Root {
		return nil, fmt.Errorf("%w: payload root %s is not first", types.ErrSerialization, p.Root)
	}
	for i := range p.Entities {
		e := &p.Entities[i]
		if err := e.Ref().Validate(); err != nil {
			return nil, fmt.Errorf("%w: entity %d: %w", types.ErrSerialization, i, err)
		}
		if e.Fields == nil {
			e.Fields = map[string]any{}
		}
		for k, v := range e.Fields {
			e.Fields[k] = normalize(v)
		}
	}
	return &p, nil
}

// normalize converts json.Number into int64 when it is integral and
// float64 otherwise.
func normalize(v any) any {
	n, ok := v.(json.Number)
	if !ok {
		return v
	}
	if i, err := n.Int64(); err == nil {
		return i
	}
	if f, err := n.Float64(); err == nil {
		return f
	}
	return n.String()
}

// EncodeDetails serializes an audit details map. A nil map encodes as {}.
func EncodeDetails(details map[string]any) (string, error) {
	if details == nil {
		return "{}", nil
	}
	data, err := json.Marshal(details)
	if err != nil {
		return "", fmt.Errorf("%w: encoding details: %w", types.ErrSerialization, err)
	}
	return string(data), nil
}

// DecodeDetails parses an audit details column.
func DecodeDetails(s string) (map[string]any, error) {
	if s == "" {
		return map[string]any{}, nil
	}
	dec := json.NewDecoder(bytes.NewReader([]byte(s)))
	dec.UseNumber()
	var out map[string]any
	if err := dec.Decode(&out); err != nil {
		return nil, fmt.Errorf("%w: decoding details: %w", types.ErrSerialization, err)
	}
	for k, v := range out {
		out[k] = normalize(v)
	}
	return out, nil
}

var (
	decoderOnce sync.Once
	decoder     *zstd.Decoder
	decoderErr  error
)

func sharedDecoder() (*zstd.Decoder, error) {
	decoderOnce.Do(func() {
		decoder, decoderErr = zstd.NewReader(nil,
			zstd.WithDecoderConcurrency(1),
			zstd.WithDecoderMaxMemory(maxDecodedSize))
	})
	return decoder, decoderErr
}

// Compress compresses data with zstd at level 1 (fastest) through 4
// (best). Zero selects the library default.
func Compress(data []byte, level int) ([]byte, error) {
	opts := []zstd.EOption{zstd.WithEncoderConcurrency(1)}
	if level > 0 {
		opts = append(opts, zstd.WithEncoderLevel(zstd.EncoderLevel(level)))
	}
	enc, err := zstd.NewWriter(nil, opts...)
	if err != nil {
		return nil, fmt.Errorf("%w: creating encoder: %w", types.ErrSerialization, err)
	}
	defer enc.Close()
	return enc.EncodeAll(data, make([]byte, 0, len(data)/2)), nil
}

// Decompress reverses Compress.
func Decompress(data []byte) ([]byte, error) {
	dec, err := sharedDecoder()
	if err != nil {
		return nil, fmt.Errorf("%w: creating decoder: %w", types.ErrSerialization, err)
	}
	out, err := dec.DecodeAll(data, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: decompressing: %w", types.ErrSerialization, err)
	}
	return out, nil
}
