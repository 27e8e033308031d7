package sse

import "bytes"

// Decoder parses a byte stream that arrives in arbitrary pieces. It keeps
// the incomplete tail between calls to Feed.
type Decoder struct {
	buf []byte
}

// Feed appends chunk to the pending input and returns every record whose
// terminating blank line has been seen.
func (d *Decoder) Feed(chunk []byte) []Record {
	d.buf = append(d.buf, chunk...)
	end := completeLen(d.buf)
	if end == 0 {
		return nil
	}
	records := Parse(d.buf[:end])
	d.buf = append(d.buf[:0], d.buf[end:]...)
	return records
}

// Flush returns whatever is left once the input has ended.
func (d *Decoder) Flush() []Record {
	records := Parse(d.buf)
	d.buf = nil
	return records
}

// Buffered returns the number of bytes waiting for a frame terminator.
func (d *Decoder) Buffered() int {
	return len(d.buf)
}

// completeLen returns the length of the prefix of b that ends right after
// the last blank line.
func completeLen(b []byte) int {
	end := 0
	start := 0
	for {
		i := bytes.IndexByte(b[start:], '\n')
		if i < 0 {
			return end
		}
		line := bytes.TrimSuffix(b[start:start+i], []byte("\r"))
		start += i + 1
		if len(line) == 0 {
			end = start
		}
	}
}
