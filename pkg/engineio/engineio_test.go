package engineio

import (
	"bytes"
	"context"
	"errors"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLineReader_ReadsLinesInOrder(t *testing.T) {
	r := NewLineReader(strings.NewReader("{\"a\":1}\n{\"b\":2}\n"), 0)
	ctx := context.Background()

	line, err := r.ReadLine(ctx)
	require.NoError(t, err)
	assert.Equal(t, `{"a":1}`, string(line))

	line, err = r.ReadLine(ctx)
	require.NoError(t, err)
	assert.Equal(t, `{"b":2}`, string(line))

	_, err = r.ReadLine(ctx)
	assert.ErrorIs(t, err, ErrClosed)

	// stays closed
	_, err = r.ReadLine(ctx)
	assert.ErrorIs(t, err, ErrClosed)
}

func TestLineReader_CancelDoesNotLoseLine(t *testing.T) {
	pr, pw := io.Pipe()
	defer pw.Close()
	r := NewLineReader(pr, 0)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := r.ReadLine(ctx)
	require.ErrorIs(t, err, context.DeadlineExceeded)

	go func() {
		_, _ = pw.Write([]byte("first\nsecond\n"))
	}()

	line, err := r.ReadLine(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "first", string(line))

	line, err = r.ReadLine(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "second", string(line))
}

func TestLineReader_LineTooLongSkipsToNextLine(t *testing.T) {
	in := strings.Repeat("x", 100) + "\n" + `{"turnInfo":[2]}` + "\n"
	r := NewLineReader(strings.NewReader(in), 16)
	ctx := context.Background()

	_, err := r.ReadLine(ctx)
	require.ErrorIs(t, err, ErrLineTooLong)
	assert.ErrorContains(t, err, "101 bytes, limit 16")
	assert.False(t, errors.Is(err, ErrClosed))

	line, err := r.ReadLine(ctx)
	require.NoError(t, err)
	assert.Equal(t, `{"turnInfo":[2]}`, string(line))

	_, err = r.ReadLine(ctx)
	assert.ErrorIs(t, err, ErrClosed)
}

func TestLineReader_LimitIsInclusive(t *testing.T) {
	r := NewLineReader(strings.NewReader(strings.Repeat("y", 16)+"\r\n"+strings.Repeat("z", 17)), 16)
	ctx := context.Background()

	line, err := r.ReadLine(ctx)
	require.NoError(t, err)
	assert.Equal(t, strings.Repeat("y", 16), string(line))

	_, err = r.ReadLine(ctx)
	assert.ErrorIs(t, err, ErrLineTooLong)

	_, err = r.ReadLine(ctx)
	assert.ErrorIs(t, err, ErrClosed)
}

func TestLineReader_UnterminatedLastLine(t *testing.T) {
	r := NewLineReader(strings.NewReader("first\nlast"), 0)
	ctx := context.Background()

	for _, want := range []string{"first", "last"} {
		line, err := r.ReadLine(ctx)
		require.NoError(t, err)
		assert.Equal(t, want, string(line))
	}
	_, err := r.ReadLine(ctx)
	assert.ErrorIs(t, err, ErrClosed)
}

type failingReader struct{ calls int }

func (f *failingReader) Read([]byte) (int, error) {
	f.calls++
	return 0, errors.New("pipe broken")
}

func TestLineReader_ReadErrorIsSticky(t *testing.T) {
	src := &failingReader{}
	r := NewLineReader(src, 0)
	ctx := context.Background()

	_, err := r.ReadLine(ctx)
	assert.ErrorContains(t, err, "pipe broken")
	_, err = r.ReadLine(ctx)
	assert.ErrorContains(t, err, "pipe broken")
	assert.Equal(t, 1, src.calls)
}

func TestLineWriter_WritesAndFlushesEachLine(t *testing.T) {
	var buf bytes.Buffer
	w := NewLineWriter(&buf)

	require.NoError(t, w.WriteLine(""))
	assert.Equal(t, "\n", buf.String())

	require.NoError(t, w.WriteLine(`[["PI",13,0]]`))
	assert.Equal(t, "\n[[\"PI\",13,0]]\n", buf.String())
}

func TestLineWriter_RejectsLineBreaks(t *testing.T) {
	var buf bytes.Buffer
	w := NewLineWriter(&buf)

	assert.Error(t, w.WriteLine("a\nb"))
	assert.Empty(t, buf.String())
}
