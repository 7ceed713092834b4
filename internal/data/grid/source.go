package grid

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/andybalholm/brotli"
	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
)

// FileSource reads grid files from a directory. For each (layer, month) it
// looks for the plain file first and then for a pre-compressed sibling
// (.br, .zst, .gz), decompressing transparently.
type FileSource struct {
	Dir string
	// Pattern is a fmt pattern taking the layer name and month,
	// "%s_%d.bin" when empty.
	Pattern string

	decoder *zstd.Decoder
}

// NewFileSource creates a file source rooted at dir.
func NewFileSource(dir, pattern string) (*FileSource, error) {
	decoder, err := zstd.NewReader(nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create zstd decoder: %w", err)
	}
	if pattern == "" {
		pattern = "%s_%d.bin"
	}
	return &FileSource{Dir: dir, Pattern: pattern, decoder: decoder}, nil
}

// Close releases the zstd decoder.
func (s *FileSource) Close() {
	s.decoder.Close()
}

var compressedSuffixes = []string{"", ".br", ".zst", ".gz"}

// Fetch implements Source.
func (s *FileSource) Fetch(ctx context.Context, layer Layer, month int) ([]byte, error) {
	base := filepath.Join(s.Dir, fmt.Sprintf(s.Pattern, layer, month))
	for _, suffix := range compressedSuffixes {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		path := base + suffix
		data, err := os.ReadFile(path)
		if errors.Is(err, fs.ErrNotExist) {
			continue
		}
		if err != nil {
			return nil, err
		}
		return s.decompress(path, data)
	}
	return nil, fmt.Errorf("grid file not found: %s", base)
}

func (s *FileSource) decompress(path string, data []byte) ([]byte, error) {
	switch {
	case strings.HasSuffix(path, ".br"):
		out, err := io.ReadAll(brotli.NewReader(bytes.NewReader(data)))
		if err != nil {
			return nil, fmt.Errorf("brotli decompress %s failed: %w", path, err)
		}
		return out, nil
	case strings.HasSuffix(path, ".zst"):
		out, err := s.decoder.DecodeAll(data, nil)
		if err != nil {
			return nil, fmt.Errorf("zstd decompress %s failed: %w", path, err)
		}
		return out, nil
	case strings.HasSuffix(path, ".gz"):
		zr, err := gzip.NewReader(bytes.NewReader(data))
		if err != nil {
			return nil, fmt.Errorf("gzip open %s failed: %w", path, err)
		}
		defer zr.Close()
		out, err := io.ReadAll(zr)
		if err != nil {
			return nil, fmt.Errorf("gzip decompress %s failed: %w", path, err)
		}
		return out, nil
	default:
		return data, nil
	}
}

// Compress encodes data with the named codec ("br", "zst", "gz" or "none")
// and returns it with the matching file suffix.
func Compress(codec string, data []byte) ([]byte, string, error) {
	var buf bytes.Buffer
	switch codec {
	case "", "none":
		return data, "", nil
	case "br":
		w := brotli.NewWriterLevel(&buf, brotli.BestCompression)
		if _, err := w.Write(data); err != nil {
			return nil, "", err
		}
		if err := w.Close(); err != nil {
			return nil, "", err
		}
		return buf.Bytes(), ".br", nil
	case "zst":
		enc, err := zstd.NewWriter(nil)
		if err != nil {
			return nil, "", err
		}
		defer enc.Close()
		return enc.EncodeAll(data, nil), ".zst", nil
	case "gz":
		w := gzip.NewWriter(&buf)
		if _, err := w.Write(data); err != nil {
			return nil, "", err
		}
		if err := w.Close(); err != nil {
			return nil, "", err
		}
		return buf.Bytes(), ".gz", nil
	default:
		return nil, "", fmt.Errorf("unknown compression codec: %q", codec)
	}
}
