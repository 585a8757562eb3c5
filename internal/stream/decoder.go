package stream

import (
	"bufio"
	"io"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
)

// dataMarker prefixes the significant lines of the stream. Lines without it
// (blank keep-alives, comments) are padding and skipped.
const dataMarker = "data:"

// Decoder splits the raw response stream into frames. A frame may straddle
// two reads; the bufio layer carries the partial tail across chunk
// boundaries. The sequence is finite and non-restartable: after Next
// returns io.EOF the decoder is exhausted.
type Decoder struct {
	r       *bufio.Reader
	log     *slog.Logger
	dropped int
}

// NewDecoder creates a decoder over the raw byte stream.
func NewDecoder(r io.Reader, log *slog.Logger) *Decoder {
	if log == nil {
		log = slog.Default()
	}
	return &Decoder{
		r:   bufio.NewReader(r),
		log: log,
	}
}

// Next returns the next frame in arrival order, or io.EOF when the
// transport signals end-of-stream. A line that fails to parse is dropped
// and logged, never fatal; decoding continues with the next line. Any
// undecoded trailing buffer at end-of-stream is discarded.
func (d *Decoder) Next() (Frame, error) {
	for {
		line, err := d.r.ReadString('\n')
		if err != nil {
			if err == io.EOF {
				if rest := strings.TrimSpace(line); rest != "" {
					d.log.Debug("discarding unterminated trailing buffer", "bytes", len(rest))
				}
				return Frame{}, io.EOF
			}
			return Frame{}, err
		}

		line = strings.TrimSpace(line)
		if !strings.HasPrefix(line, dataMarker) {
			continue
		}
		payload := strings.TrimSpace(strings.TrimPrefix(line, dataMarker))
		if payload == "" {
			continue
		}

		frame, perr := parseFrame([]byte(payload))
		if perr != nil {
			d.dropped++
			d.log.Warn("dropping malformed frame", "error", perr, "dropped_total", d.dropped)
			continue
		}
		return frame, nil
	}
}

// Dropped returns how many malformed frames were discarded so far.
func (d *Decoder) Dropped() int {
	return d.dropped
}

// NotifyReader wraps a reader, counts bytes, and invokes fn exactly once
// on the first successfully read byte. The exchange manager uses it to
// swap the connection watchdog for the liveness watchdog.
type NotifyReader struct {
	r    io.Reader
	once sync.Once
	fn   func()
	n    atomic.Int64
}

// NewNotifyReader wraps r with a first-byte callback.
func NewNotifyReader(r io.Reader, fn func()) *NotifyReader {
	return &NotifyReader{r: r, fn: fn}
}

func (n *NotifyReader) Read(p []byte) (int, error) {
	read, err := n.r.Read(p)
	if read > 0 {
		n.n.Add(int64(read))
		n.once.Do(n.fn)
	}
	return read, err
}

// Bytes returns how many bytes were read so far.
func (n *NotifyReader) Bytes() int64 {
	return n.n.Load()
}
