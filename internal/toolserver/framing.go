package toolserver

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/Muvon/octomind-sub000/pkg/types"
)

const contentLengthHeader = "Content-Length"

// maxFrameSize bounds a single length-framed message.
const maxFrameSize = 64 * 1024 * 1024

// encodeFrame returns payload framed for the wire.
func encodeFrame(framing types.Framing, payload []byte) []byte {
	if framing == types.FramingLength {
		var buf bytes.Buffer
		fmt.Fprintf(&buf, "%s: %d\r\n\r\n", contentLengthHeader, len(payload))
		buf.Write(payload)
		return buf.Bytes()
	}
	out := make([]byte, 0, len(payload)+1)
	out = append(out, payload...)
	return append(out, '\n')
}

// frameReader splits a byte stream into frames.
type frameReader struct {
	r       *bufio.Reader
	framing types.Framing
}

func newFrameReader(r io.Reader, framing types.Framing) *frameReader {
	return &frameReader{r: bufio.NewReaderSize(r, 64*1024), framing: framing}
}

// Next returns the next frame payload. Blank newline frames are skipped.
func (fr *frameReader) Next() ([]byte, error) {
	if fr.framing == types.FramingLength {
		return fr.nextLength()
	}
	for {
		line, err := fr.r.ReadBytes('\n')
		line = bytes.TrimSpace(line)
		if len(line) > 0 {
			return line, nil
		}
		if err != nil {
			return nil, err
		}
	}
}

func (fr *frameReader) nextLength() ([]byte, error) {
	length := -1
	for {
		line, err := fr.r.ReadString('\n')
		if err != nil {
			if err == io.EOF && strings.TrimSpace(line) != "" {
				return nil, io.ErrUnexpectedEOF
			}
			return nil, err
		}
		line = strings.TrimRight(line, "\r\n")
		if line == "" {
			if length < 0 {
				continue
			}
			break
		}
		name, value, ok := strings.Cut(line, ":")
		if !ok {
			return nil, fmt.Errorf("malformed frame header %q", line)
		}
		if strings.EqualFold(strings.TrimSpace(name), contentLengthHeader) {
			n, err := strconv.Atoi(strings.TrimSpace(value))
			if err != nil || n < 0 || n > maxFrameSize {
				return nil, fmt.Errorf("invalid %s %q", contentLengthHeader, value)
			}
			length = n
		}
	}
	buf := make([]byte, length)
	if _, err := io.ReadFull(fr.r, buf); err != nil {
		return nil, err
	}
	return buf, nil
}
