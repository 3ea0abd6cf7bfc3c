package mcp

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
)

// Framing is strict newline-delimited JSON: one object per line, no embedded
// newlines. This is deliberately unambiguous, unlike framing schemes that try
// to detect object boundaries by counting braces in the byte stream.

// Decoder reads newline-delimited request frames from a connection.
type Decoder struct {
	scanner *bufio.Scanner
}

// NewDecoder wraps r with a line scanner sized for MaxLineBytes frames.
func NewDecoder(r io.Reader) *Decoder {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), MaxLineBytes)
	return &Decoder{scanner: scanner}
}

// Next returns the raw bytes of the next frame.
//
// io.EOF means the peer closed the connection cleanly; any other error is a
// connection fault. Empty lines are skipped so interactive clients can send
// stray newlines without poisoning the stream.
func (d *Decoder) Next() ([]byte, error) {
	for d.scanner.Scan() {
		line := d.scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		return line, nil
	}

	if err := d.scanner.Err(); err != nil {
		return nil, fmt.Errorf("read frame: %w", err)
	}
	return nil, io.EOF
}

// ParseRequest decodes one frame into a Request.
//
// A decode failure here is a client error (MalformedRequest), not a
// connection fault: the caller should respond with CodeInvalidJSON and keep
// reading.
func ParseRequest(frame []byte) (*Request, error) {
	var req Request
	if err := json.Unmarshal(frame, &req); err != nil {
		return nil, fmt.Errorf("unmarshal request: %w", err)
	}
	if req.Params == nil {
		req.Params = map[string]any{}
	}
	return &req, nil
}

// Encoder writes newline-delimited response frames to a connection.
type Encoder struct {
	w *bufio.Writer
}

func NewEncoder(w io.Writer) *Encoder {
	return &Encoder{w: bufio.NewWriter(w)}
}

// Encode marshals resp, appends the frame delimiter and flushes. A marshal
// failure is reported to the caller so it can substitute an error response; a
// write failure is a connection fault.
func (e *Encoder) Encode(resp *Response) error {
	data, err := json.Marshal(resp)
	if err != nil {
		return fmt.Errorf("marshal response: %w", err)
	}

	if _, err := e.w.Write(data); err != nil {
		return fmt.Errorf("write response: %w", err)
	}
	if err := e.w.WriteByte('\n'); err != nil {
		return fmt.Errorf("write delimiter: %w", err)
	}
	return e.w.Flush()
}
