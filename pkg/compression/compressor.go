// Package compression gzips artifact payloads before upload and inflates them on download.
//
// Artifacts are JSONL documents compressed with gzip. Downloads may or may not be
// compressed depending on who produced them, so Decompress sniffs the gzip magic
// bytes and passes plain payloads through unchanged.
//
//	comp := compression.NewGzip(compression.Default)
//	compressed, err := comp.Compress(lines)
package compression

import (
	"bytes"
	"fmt"
	"io"
	"sync"

	"github.com/klauspost/compress/gzip"
)

// Level represents compression level, controlling the trade-off between
// compression speed and compression ratio.
type Level int

const (
	// Fastest prioritizes speed over compression ratio.
	Fastest Level = gzip.BestSpeed
	// Default balances speed and compression.
	Default Level = gzip.DefaultCompression
	// Best maximizes compression ratio.
	Best Level = gzip.BestCompression
)

var gzipMagic = []byte{0x1f, 0x8b}

// Gzip compresses and decompresses gzip streams. It is safe for concurrent use.
type Gzip struct {
	level   Level
	writers sync.Pool
	buffers sync.Pool
}

// NewGzip creates a gzip compressor with the given level
func NewGzip(level Level) *Gzip {
	g := &Gzip{level: level}
	g.writers.New = func() interface{} {
		w, err := gzip.NewWriterLevel(nil, int(level))
		if err != nil {
			w = gzip.NewWriter(nil)
		}
		return w
	}
	g.buffers.New = func() interface{} {
		return new(bytes.Buffer)
	}
	return g
}

// Level returns the compression level configured
func (g *Gzip) Level() Level {
	return g.level
}

// Compress compresses data and returns the compressed bytes.
func (g *Gzip) Compress(data []byte) ([]byte, error) {
	buf := g.buffers.Get().(*bytes.Buffer)
	buf.Reset()
	defer g.buffers.Put(buf)

	if err := g.CompressStream(buf, bytes.NewReader(data)); err != nil {
		return nil, err
	}

	out := make([]byte, buf.Len())
	copy(out, buf.Bytes())
	return out, nil
}

// CompressStream compresses from reader to writer.
func (g *Gzip) CompressStream(dst io.Writer, src io.Reader) error {
	w := g.writers.Get().(*gzip.Writer)
	defer g.writers.Put(w)
	w.Reset(dst)

	if _, err := io.Copy(w, src); err != nil {
		return fmt.Errorf("gzip compression failed: %w", err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("gzip close failed: %w", err)
	}
	return nil
}

// Decompress inflates gzip data. Data without the gzip header is returned as is.
func (g *Gzip) Decompress(data []byte) ([]byte, error) {
	if !IsGzip(data) {
		return data, nil
	}

	r, err := gzip.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("gzip reader creation failed: %w", err)
	}
	defer r.Close()

	out, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("gzip decompression failed: %w", err)
	}
	return out, nil
}

// IsGzip reports whether data starts with the gzip magic bytes
func IsGzip(data []byte) bool {
	return bytes.HasPrefix(data, gzipMagic)
}
