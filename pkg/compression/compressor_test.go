package compression

import (
	"bytes"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGzipRoundTrip(t *testing.T) {
	data := []byte(strings.Repeat(`{"id":"1","title":"issue"}`+"\n", 200))

	for _, level := range []Level{Fastest, Default, Best} {
		g := NewGzip(level)
		compressed, err := g.Compress(data)
		require.NoError(t, err)
		assert.True(t, IsGzip(compressed))
		assert.Less(t, len(compressed), len(data))

		out, err := g.Decompress(compressed)
		require.NoError(t, err)
		assert.Equal(t, data, out)
	}
}

func TestDecompressPassesPlainDataThrough(t *testing.T) {
	plain := []byte(`{"id":"1"}`)
	out, err := NewGzip(Default).Decompress(plain)
	require.NoError(t, err)
	assert.Equal(t, plain, out)
}

func TestDecompressRejectsCorruptGzip(t *testing.T) {
	_, err := NewGzip(Default).Decompress([]byte{0x1f, 0x8b, 0x00, 0x01})
	assert.Error(t, err)
}

func TestStreams(t *testing.T) {
	g := NewGzip(Default)
	var compressed bytes.Buffer

	require.NoError(t, g.CompressStream(&compressed, strings.NewReader("hello stream")))
	assert.True(t, IsGzip(compressed.Bytes()))
	restored, err := g.Decompress(compressed.Bytes())
	require.NoError(t, err)
	assert.Equal(t, "hello stream", string(restored))
}

func TestConcurrentCompress(t *testing.T) {
	g := NewGzip(Fastest)
	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			data := bytes.Repeat([]byte{byte('a' + i)}, 4096)
			compressed, err := g.Compress(data)
			assert.NoError(t, err)
			out, err := g.Decompress(compressed)
			assert.NoError(t, err)
			assert.Equal(t, data, out)
		}(i)
	}
	wg.Wait()
}
