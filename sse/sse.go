// Package sse reads and writes Server-Sent-Event style records.
//
// The framing is the subset used by LLM providers and by the canonical
// event stream: "id:", "event:" and "data:" lines terminated by a blank line.
package sse

import (
	"bytes"
	"strings"
)

// DoneData is the data payload providers send to mark the end of content.
const DoneData = "[DONE]"

// Record is one SSE frame. Empty fields are omitted when encoding.
type Record struct {
	ID    string
	Event string
	Data  string
}

// IsDone reports whether r is the "[DONE]" sentinel: no event and the
// literal data "[DONE]". Callers must check it before decoding Data as JSON.
func (r Record) IsDone() bool {
	return r.Event == "" && r.Data == DoneData
}

func (r Record) empty() bool {
	return r.ID == "" && r.Event == "" && r.Data == ""
}

// Parse splits text into records. It accepts LF and CRLF line endings,
// joins repeated data lines with "\n", skips comments and unknown fields,
// and returns a trailing record even if its terminating blank line is missing.
func Parse(text []byte) []Record {
	var (
		records []Record
		cur     record
	)
	for len(text) > 0 {
		var line []byte
		if i := bytes.IndexByte(text, '\n'); i >= 0 {
			line, text = text[:i], text[i+1:]
		} else {
			line, text = text, nil
		}
		line = bytes.TrimSuffix(line, []byte("\r"))
		if len(line) == 0 {
			if r, ok := cur.finish(); ok {
				records = append(records, r)
			}
			continue
		}
		cur.field(line)
	}
	if r, ok := cur.finish(); ok {
		records = append(records, r)
	}
	return records
}

var lineBreaks = strings.NewReplacer("\r\n", "\n", "\r", "\n")

// Encode renders r in wire form, terminated by a blank line. Data is split
// into one "data:" line per line of text; CRLF and CR line breaks come back
// from Parse as "\n". Parse(Encode(r)) returns r for data without CR.
func Encode(r Record) []byte {
	var b bytes.Buffer
	if r.ID != "" {
		writeField(&b, "id", r.ID)
	}
	if r.Event != "" {
		writeField(&b, "event", r.Event)
	}
	if r.Data != "" {
		for _, line := range strings.Split(lineBreaks.Replace(r.Data), "\n") {
			writeField(&b, "data", line)
		}
	}
	b.WriteByte('\n')
	return b.Bytes()
}

func writeField(b *bytes.Buffer, name, value string) {
	b.WriteString(name)
	b.WriteByte(':')
	// Parse strips one leading space, so keep it from eating the value's own.
	if strings.HasPrefix(value, " ") {
		b.WriteByte(' ')
	}
	b.WriteString(value)
	b.WriteByte('\n')
}

// record accumulates fields of the frame being parsed.
type record struct {
	Record
	data    []string
	hasData bool
}

func (r *record) field(line []byte) {
	if line[0] == ':' {
		return
	}
	name, value, _ := bytes.Cut(line, []byte(":"))
	value = bytes.TrimPrefix(value, []byte(" "))
	switch string(name) {
	case "id":
		r.ID = string(value)
	case "event":
		r.Event = string(value)
	case "data":
		r.data = append(r.data, string(value))
		r.hasData = true
	}
}

func (r *record) finish() (Record, bool) {
	out := r.Record
	if r.hasData {
		out.Data = strings.Join(r.data, "\n")
	}
	*r = record{}
	if out.empty() {
		return Record{}, false
	}
	return out, true
}
