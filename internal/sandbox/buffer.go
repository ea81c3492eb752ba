package sandbox

import (
	"bytes"
	"strings"
)

const (
	// maxOutputBytes caps stdout/stderr to prevent memory exhaustion.
	maxOutputBytes = 64 * 1024 // 64 KB

	outputTruncatedMsg = "\n... output truncated (64 KB limit) ..."
)

// limitedBuffer stops accepting writes after a limit but keeps reporting success,
// so the child never blocks on a full pipe.
type limitedBuffer struct {
	buf       bytes.Buffer
	limit     int
	truncated bool
}

func newLimitedBuffer(limit int) *limitedBuffer {
	return &limitedBuffer{limit: limit}
}

func (lb *limitedBuffer) Write(p []byte) (int, error) {
	n := len(p)
	if lb.truncated {
		return n, nil
	}
	remaining := lb.limit - lb.buf.Len()
	if len(p) > remaining {
		lb.truncated = true
		p = p[:max(remaining, 0)]
	}
	lb.buf.Write(p)
	return n, nil
}

// Text returns the trimmed contents, with a notice when output was cut off.
func (lb *limitedBuffer) Text() string {
	s := strings.TrimSpace(lb.buf.String())
	if lb.truncated {
		return s + outputTruncatedMsg
	}
	return s
}
