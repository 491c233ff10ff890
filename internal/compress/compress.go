// Package compress implements the chunked zstd codec used for build logs,
// diffoscope output, and attestation blobs. Compression and decompression
// both process the input in bounded chunks and yield to the scheduler
// between chunks so a multi-megabyte log does not monopolize a worker
// goroutine while other requests are waiting on it.
package compress

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"runtime"

	"github.com/klauspost/compress/zstd"
)

// chunkSize bounds how much input is fed to the encoder/decoder before
// yielding, per spec: chunks are at most 128 KiB.
const chunkSize = 128 * 1024

// zstdMagic is the four-byte zstd frame magic number.
var zstdMagic = []byte{0x28, 0xB5, 0x2F, 0xFD}

// IsCompressed reports whether b is already a zstd frame.
func IsCompressed(b []byte) bool {
	return bytes.HasPrefix(b, zstdMagic)
}

// Compress zstd-frames b at level 11 (SpeedBestCompression), favoring size
// over CPU. It is idempotent: already-compressed input is returned as-is.
func Compress(ctx context.Context, b []byte) ([]byte, error) {
	if IsCompressed(b) {
		return b, nil
	}

	var buf bytes.Buffer
	enc, err := zstd.NewWriter(&buf, zstd.WithEncoderLevel(zstd.SpeedBestCompression))
	if err != nil {
		return nil, fmt.Errorf("create zstd encoder: %w", err)
	}

	for offset := 0; offset < len(b); offset += chunkSize {
		if err := ctx.Err(); err != nil {
			enc.Close()
			return nil, err
		}
		end := offset + chunkSize
		if end > len(b) {
			end = len(b)
		}
		if _, err := enc.Write(b[offset:end]); err != nil {
			enc.Close()
			return nil, fmt.Errorf("zstd write: %w", err)
		}
		runtime.Gosched()
	}
	if err := enc.Close(); err != nil {
		return nil, fmt.Errorf("zstd close: %w", err)
	}
	return buf.Bytes(), nil
}

// Decompress reverses Compress. Input that is not zstd-framed is returned
// as-is (blobs are stored either raw or zstd-framed, never double-encoded).
func Decompress(ctx context.Context, b []byte) ([]byte, error) {
	if !IsCompressed(b) {
		return b, nil
	}

	dec, err := zstd.NewReader(bytes.NewReader(b))
	if err != nil {
		return nil, fmt.Errorf("create zstd decoder: %w", err)
	}
	defer dec.Close()

	var out bytes.Buffer
	chunk := make([]byte, chunkSize)
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		n, err := dec.Read(chunk)
		if n > 0 {
			out.Write(chunk[:n])
		}
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("zstd read: %w", err)
		}
		runtime.Gosched()
	}

	return out.Bytes(), nil
}
