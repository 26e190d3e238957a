package message

import (
	"bufio"
	"io"
)

// NormalizeReader wraps r so that bare LF bytes come out as CRLF pairs.
// Existing CRLF sequences pass through untouched, which makes the transform
// idempotent when the SMTP data writer applies its own conversion.
func NormalizeReader(r io.Reader) io.Reader {
	return &crlfReader{src: bufio.NewReader(r)}
}

type crlfReader struct {
	src       *bufio.Reader
	prev      byte
	pendingLF bool
}

func (r *crlfReader) Read(p []byte) (int, error) {
	n := 0
	for n < len(p) {
		if r.pendingLF {
			p[n] = '\n'
			n++
			r.pendingLF = false
			r.prev = '\n'
			continue
		}
		b, err := r.src.ReadByte()
		if err != nil {
			if n > 0 {
				return n, nil
			}
			return 0, err
		}
		if b == '\n' && r.prev != '\r' {
			p[n] = '\r'
			n++
			r.pendingLF = true
			r.prev = '\r'
			continue
		}
		p[n] = b
		n++
		r.prev = b
	}
	return n, nil
}
