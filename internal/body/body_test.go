package body

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecideMode(t *testing.T) {
	p := Policy{MaxLogBodySize: 100, MaxPartialLogSize: 10}

	assert.Equal(t, ModeBuffer, DecideMode(50, p))
	assert.Equal(t, ModeBuffer, DecideMode(100, p))
	assert.Equal(t, ModeStream, DecideMode(101, p))
	assert.Equal(t, ModeStream, DecideMode(-1, p))
}

func TestBufferAndExcerptSmallTextBody(t *testing.T) {
	p := Policy{MaxLogBodySize: 1024, MaxPartialLogSize: 1024}
	data, ex, err := BufferAndExcerpt(strings.NewReader("hello world"), p)
	require.NoError(t, err)
	assert.Equal(t, []byte("hello world"), data)
	assert.Equal(t, "hello world", ex.Text)
	assert.False(t, ex.Truncated)
	assert.False(t, ex.Binary)
	assert.Equal(t, int64(11), ex.ByteCount)
}

func TestBufferAndExcerptTruncatesExcerptNotBuffer(t *testing.T) {
	p := Policy{MaxLogBodySize: 1 << 20, MaxPartialLogSize: 5}
	data, ex, err := BufferAndExcerpt(strings.NewReader("hello world"), p)
	require.NoError(t, err)
	assert.Equal(t, "hello world", string(data), "the full body must still be buffered for re-emission")
	assert.Equal(t, "hello", ex.Text)
	assert.True(t, ex.Truncated)
	assert.Equal(t, int64(11), ex.ByteCount)
}

func TestStreamAndExcerptPreservesBytesToDst(t *testing.T) {
	p := Policy{MaxLogBodySize: 10, MaxPartialLogSize: 4}
	src := strings.NewReader("the quick brown fox")
	var dst bytes.Buffer

	written, ex, err := StreamAndExcerpt(&dst, src, p)
	require.NoError(t, err)
	assert.Equal(t, "the quick brown fox", dst.String(), "streaming must preserve all bytes to the client regardless of the excerpt cap")
	assert.Equal(t, int64(len("the quick brown fox")), written)
	assert.Equal(t, "the ", ex.Text)
	assert.True(t, ex.Truncated)
}

func TestExcerptBinaryBodySummarized(t *testing.T) {
	p := Policy{MaxLogBodySize: 1024, MaxPartialLogSize: 1024}
	binary := []byte{0x00, 0xff, 0xfe, 0x01, 0x02}
	_, ex, err := BufferAndExcerpt(bytes.NewReader(binary), p)
	require.NoError(t, err)
	assert.True(t, ex.Binary)
	assert.Equal(t, "[binary, 5 bytes]", ex.String())
}
