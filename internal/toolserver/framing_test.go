package toolserver

import (
	"bytes"
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Muvon/octomind-sub000/pkg/types"
)

func TestFraming_RoundTrip(t *testing.T) {
	payloads := []string{`{"a":1}`, `{"text":"line one\nline two"}`, `{}`}
	for _, framing := range []types.Framing{types.FramingNewline, types.FramingLength} {
		t.Run(string(framing), func(t *testing.T) {
			var buf bytes.Buffer
			for _, p := range payloads {
				buf.Write(encodeFrame(framing, []byte(p)))
			}
			fr := newFrameReader(&buf, framing)
			for _, want := range payloads {
				got, err := fr.Next()
				require.NoError(t, err)
				assert.Equal(t, want, string(got))
			}
			_, err := fr.Next()
			assert.ErrorIs(t, err, io.EOF)
		})
	}
}

func TestFraming_LengthHeader(t *testing.T) {
	frame := encodeFrame(types.FramingLength, []byte(`{"x":true}`))
	assert.Equal(t, "Content-Length: 10\r\n\r\n{\"x\":true}", string(frame))
}

func TestFraming_NewlineSkipsBlankLines(t *testing.T) {
	fr := newFrameReader(strings.NewReader("\n\n  \n{\"a\":1}\n\n"), types.FramingNewline)
	got, err := fr.Next()
	require.NoError(t, err)
	assert.Equal(t, `{"a":1}`, string(got))
	_, err = fr.Next()
	assert.ErrorIs(t, err, io.EOF)
}

func TestFraming_LengthErrors(t *testing.T) {
	tests := []struct {
		name  string
		input string
	}{
		{name: "malformed header", input: "garbage\r\n\r\n{}"},
		{name: "bad length", input: "Content-Length: abc\r\n\r\n{}"},
		{name: "negative length", input: "Content-Length: -1\r\n\r\n{}"},
		{name: "truncated body", input: "Content-Length: 20\r\n\r\n{}"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fr := newFrameReader(strings.NewReader(tt.input), types.FramingLength)
			_, err := fr.Next()
			require.Error(t, err)
			assert.NotErrorIs(t, err, io.EOF)
		})
	}
}

func TestFraming_LengthIgnoresExtraHeaders(t *testing.T) {
	input := "Content-Type: application/json\r\ncontent-length: 2\r\n\r\n{}"
	fr := newFrameReader(strings.NewReader(input), types.FramingLength)
	got, err := fr.Next()
	require.NoError(t, err)
	assert.Equal(t, "{}", string(got))
}
