package ftio

import (
	"bytes"
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBinaryRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	w := NewWriter(&buf)
	require.NoError(t, w.WriteInt32(-42))
	require.NoError(t, w.WriteInt64(1<<40))
	require.NoError(t, w.WriteFloat32(1.5))
	require.NoError(t, w.WriteFloat64(-2.25))
	require.NoError(t, w.WriteBool(true))
	require.NoError(t, w.WriteBool(false))
	require.NoError(t, w.WriteString("한국어 word"))
	require.NoError(t, w.WriteFloat32s([]float32{1, 2, 3}))
	require.NoError(t, w.Flush())

	r := NewReader(&buf)
	i32, err := r.ReadInt32()
	require.NoError(t, err)
	assert.Equal(t, int32(-42), i32)
	i64, err := r.ReadInt64()
	require.NoError(t, err)
	assert.Equal(t, int64(1<<40), i64)
	f32, err := r.ReadFloat32()
	require.NoError(t, err)
	assert.Equal(t, float32(1.5), f32)
	f64, err := r.ReadFloat64()
	require.NoError(t, err)
	assert.Equal(t, -2.25, f64)
	b, err := r.ReadBool()
	require.NoError(t, err)
	assert.True(t, b)
	b, err = r.ReadBool()
	require.NoError(t, err)
	assert.False(t, b)
	s, err := r.ReadString()
	require.NoError(t, err)
	assert.Equal(t, "한국어 word", s)
	dst := make([]float32, 3)
	require.NoError(t, r.ReadFloat32s(dst))
	assert.Equal(t, []float32{1, 2, 3}, dst)
}

func TestLittleEndianLayout(t *testing.T) {
	var buf bytes.Buffer
	w := NewWriter(&buf)
	require.NoError(t, w.WriteInt32(1))
	require.NoError(t, w.Flush())
	assert.Equal(t, []byte{1, 0, 0, 0}, buf.Bytes())
}

func TestWordReaderTokens(t *testing.T) {
	r := NewWordReader(strings.NewReader("hello  world\nfoo\tbar\n"))
	var tokens []string
	for {
		tok, err := r.NextWord()
		if err == io.EOF {
			break
		}
		require.NoError(t, err)
		tokens = append(tokens, tok)
	}
	assert.Equal(t, []string{"hello", "world", EOS, "foo", "bar", EOS}, tokens)
}

func TestWordReaderNoTrailingNewline(t *testing.T) {
	r := NewWordReader(strings.NewReader("one two"))
	tok, err := r.NextWord()
	require.NoError(t, err)
	assert.Equal(t, "one", tok)
	tok, err = r.NextWord()
	require.NoError(t, err)
	assert.Equal(t, "two", tok)
	_, err = r.NextWord()
	assert.Equal(t, io.EOF, err)
	assert.True(t, r.End())
}

func TestSeekableReaderSeekAndRewind(t *testing.T) {
	sr := NewSeekableReader(strings.NewReader("aaa bbb ccc"))
	require.NoError(t, sr.Seek(4))
	tok, err := sr.NextWord()
	require.NoError(t, err)
	assert.Equal(t, "bbb", tok)

	// drain, then rewind back to the start
	for {
		if _, err := sr.NextWord(); err == io.EOF {
			break
		}
	}
	require.NoError(t, sr.Rewind())
	tok, err = sr.NextWord()
	require.NoError(t, err)
	assert.Equal(t, "aaa", tok)
}

func TestRewindBeforeEOFIsNoop(t *testing.T) {
	sr := NewSeekableReader(strings.NewReader("x y"))
	tok, err := sr.NextWord()
	require.NoError(t, err)
	assert.Equal(t, "x", tok)
	require.NoError(t, sr.Rewind())
	tok, err = sr.NextWord()
	require.NoError(t, err)
	assert.Equal(t, "y", tok)
}

func TestFormatFloat(t *testing.T) {
	assert.Equal(t, "1.25", FormatFloat(1.25))
	assert.Equal(t, "1", FormatFloat(1))
	assert.Equal(t, "0", FormatFloat(0))
	assert.Equal(t, "-0.5", FormatFloat(-0.5))
	assert.Equal(t, "0.0001", FormatFloat(0.0001))
	assert.Equal(t, "1.2346e+07", FormatFloat(12345678))
}
