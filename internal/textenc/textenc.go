// Package textenc converts binary payloads to and from the text-safe
// transport encoding (standard base64) and formats byte counts for humans.
package textenc

import (
	"encoding/base64"
	"fmt"
	"io"
	"strings"
)

// chunkSize is the read size used by EncodeReader. It is a multiple of 3 so
// that every full chunk encodes without padding.
const chunkSize = 0x8000 - 0x8000%3

// Encode returns the transport encoding of b. Empty input encodes to "".
func Encode(b []byte) string {
	return base64.StdEncoding.EncodeToString(b)
}

// Decode reverses Encode.
func Decode(s string) ([]byte, error) {
	b, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("textenc: %w", err)
	}
	return b, nil
}

// EncodeReader streams r through the encoder in fixed-size chunks so large
// files are never held twice in memory as raw bytes and text.
func EncodeReader(r io.Reader) (string, int64, error) {
	var sb strings.Builder
	enc := base64.NewEncoder(base64.StdEncoding, &sb)
	buf := make([]byte, chunkSize)
	var n int64
	for {
		k, err := io.ReadFull(r, buf)
		if k > 0 {
			n += int64(k)
			if _, werr := enc.Write(buf[:k]); werr != nil {
				return "", n, werr
			}
		}
		if err == io.EOF || err == io.ErrUnexpectedEOF {
			break
		}
		if err != nil {
			return "", n, fmt.Errorf("textenc: read: %w", err)
		}
	}
	if err := enc.Close(); err != nil {
		return "", n, err
	}
	return sb.String(), n, nil
}

var units = []string{"KB", "MB", "GB", "TB"}

// FormatBytes renders n with 1024-based units and one decimal:
// 512 → "512 B", 1536 → "1.5 KB", 1048576 → "1.0 MB".
func FormatBytes(n int64) string {
	if n < 1024 {
		return fmt.Sprintf("%d B", n)
	}
	v := float64(n)
	u := -1
	for {
		v /= 1024
		u++
		if v < 1024 || u == len(units)-1 {
			break
		}
	}
	return fmt.Sprintf("%.1f %s", v, units[u])
}
