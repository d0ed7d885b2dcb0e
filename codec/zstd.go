package codec

import (
	"sync"

	"github.com/klauspost/compress/zstd"
)

var (
	zOnce sync.Once
	zEnc  *zstd.Encoder
	zDec  *zstd.Decoder
	zErr  error
)

// EncodeAll/DecodeAll on a shared encoder/decoder are safe for concurrent use.
func zstdCoders() (*zstd.Encoder, *zstd.Decoder, error) {
	zOnce.Do(func() {
		zEnc, zErr = zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedFastest))
		if zErr != nil {
			return
		}
		zDec, zErr = zstd.NewReader(nil, zstd.WithDecoderConcurrency(0))
	})
	return zEnc, zDec, zErr
}

// Compress returns b compressed with zstd.
func Compress(b []byte) ([]byte, error) {
	enc, _, err := zstdCoders()
	if err != nil {
		return nil, err
	}
	return enc.EncodeAll(b, make([]byte, 0, len(b)/2+16)), nil
}

// Decompress reverses Compress.
func Decompress(b []byte) ([]byte, error) {
	_, dec, err := zstdCoders()
	if err != nil {
		return nil, err
	}
	return dec.DecodeAll(b, nil)
}

// Zstd compresses the output of Inner.
type Zstd[V any] struct {
	Inner Codec[V]
}

func (c Zstd[V]) Encode(v V) ([]byte, error) {
	b, err := c.Inner.Encode(v)
	if err != nil {
		return nil, err
	}
	return Compress(b)
}

func (c Zstd[V]) Decode(b []byte) (V, error) {
	raw, err := Decompress(b)
	if err != nil {
		var zero V
		return zero, err
	}
	return c.Inner.Decode(raw)
}
