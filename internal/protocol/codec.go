// Package protocol implements the line-delimited JSON framing used between
// chat clients and the broadcast hub: one envelope per '\n'-terminated line.
package protocol

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sync"

	"studychat/internal/models"
)

// DefaultMaxLine bounds a single line; a base64 file chunk of the default
// client chunk size fits comfortably.
const DefaultMaxLine = 8 << 20

var ErrMalformed = errors.New("malformed envelope line")

// Encode serializes env as a single newline-terminated JSON line.
func Encode(env models.Envelope) ([]byte, error) {
	body, err := json.Marshal(env)
	if err != nil {
		return nil, fmt.Errorf("encode envelope: %w", err)
	}
	if bytes.IndexByte(body, '\n') >= 0 {
		return nil, fmt.Errorf("encode envelope: raw newline in payload")
	}
	return append(body, '\n'), nil
}

// Decode parses one line (with or without its terminator) into an Envelope.
func Decode(line []byte) (models.Envelope, error) {
	line = TrimLine(line)
	if len(line) == 0 {
		return models.Envelope{}, fmt.Errorf("%w: empty line", ErrMalformed)
	}
	var env models.Envelope
	if err := json.Unmarshal(line, &env); err != nil {
		return models.Envelope{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if !env.Type.Valid() {
		return models.Envelope{}, fmt.Errorf("%w: unknown type %q", ErrMalformed, env.Type)
	}
	return env, nil
}

// TrimLine strips a trailing "\n" or "\r\n".
func TrimLine(line []byte) []byte {
	line = bytes.TrimSuffix(line, []byte{'\n'})
	return bytes.TrimSuffix(line, []byte{'\r'})
}

// NewScanner returns a line scanner over r. maxLine <= 0 selects DefaultMaxLine.
func NewScanner(r io.Reader, maxLine int) *bufio.Scanner {
	if maxLine <= 0 {
		maxLine = DefaultMaxLine
	}
	sc := bufio.NewScanner(r)
	initial := 64 << 10
	if initial > maxLine {
		initial = maxLine
	}
	sc.Buffer(make([]byte, 0, initial), maxLine)
	return sc
}

// Writer serializes whole lines onto an underlying stream. Each WriteLine is
// atomic with respect to other WriteLine calls on the same Writer.
type Writer struct {
	mu sync.Mutex
	bw *bufio.Writer
}

func NewWriter(w io.Writer) *Writer {
	return &Writer{bw: bufio.NewWriter(w)}
}

// WriteLine writes line, appending '\n' when missing, and flushes.
func (w *Writer) WriteLine(line []byte) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if _, err := w.bw.Write(line); err != nil {
		return err
	}
	if len(line) == 0 || line[len(line)-1] != '\n' {
		if err := w.bw.WriteByte('\n'); err != nil {
			return err
		}
	}
	return w.bw.Flush()
}

// WriteEnvelope encodes env and writes it as one line.
func (w *Writer) WriteEnvelope(env models.Envelope) error {
	line, err := Encode(env)
	if err != nil {
		return err
	}
	return w.WriteLine(line)
}
