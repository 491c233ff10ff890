package api

import (
	"context"
	"net/http"
	"strings"

	"github.com/r3e-network/rebuildverify/internal/compress"
)

// writeBlob serves a stored log/diffoscope/attestation blob with the
// content negotiation spec.md §4.8 requires: a zstd blob is passed through
// when the caller's Accept-Encoding includes zstd and decompressed
// otherwise, an uncompressed blob is returned as stored (never compressed
// here), and every response carries the restrictive blob-response headers.
func writeBlob(ctx context.Context, w http.ResponseWriter, r *http.Request, content []byte) {
	w.Header().Set("X-Content-Type-Options", "nosniff")
	w.Header().Set("Content-Security-Policy", "default-src 'none'; sandbox")

	compressed := compress.IsCompressed(content)
	wantsZstd := acceptsZstd(r)

	switch {
	case compressed && wantsZstd:
		w.Header().Set("Content-Encoding", "zstd")
		w.Header().Set("Content-Type", "application/octet-stream")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write(content)
	case compressed && !wantsZstd:
		raw, err := compress.Decompress(ctx, content)
		if err != nil {
			writeError(w, err)
			return
		}
		w.Header().Set("Content-Type", "application/octet-stream")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write(raw)
	default:
		w.Header().Set("Content-Type", "application/octet-stream")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write(content)
	}
}

func acceptsZstd(r *http.Request) bool {
	for _, enc := range strings.Split(r.Header.Get("Accept-Encoding"), ",") {
		if strings.TrimSpace(strings.SplitN(enc, ";", 2)[0]) == "zstd" {
			return true
		}
	}
	return false
}
