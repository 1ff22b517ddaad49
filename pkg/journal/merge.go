package journal

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"strings"
)

var errNotObject = errors.New("journal: record is not a JSON object")

// Merge appends to stored every timestamp segment of incoming that stored
// does not already contain verbatim, and returns the new text with the
// number of segments appended. Stored content is never reordered or removed.
//
// Lines of incoming that are not JSON objects carrying "event" and
// "timestamp" are dropped. When commander is set, the commander name in
// Commander and LoadGame records is rewritten to it first.
func Merge(stored, incoming, commander string) (string, int) {
	text := stored
	appended := 0
	for _, seg := range Segments(incoming, commander) {
		if containsSegment(text, seg) {
			continue
		}
		if text != "" && !strings.HasSuffix(text, "\n") {
			text += "\n"
		}
		text += seg
		appended++
	}
	return text, appended
}

// Segments splits raw journal text into runs of consecutive valid records
// sharing one timestamp. Each segment is newline terminated.
func Segments(raw, commander string) []string {
	var (
		segments []string
		current  strings.Builder
		lastTS   string
	)
	flush := func() {
		if current.Len() > 0 {
			segments = append(segments, current.String())
			current.Reset()
		}
	}

	for line := range strings.SplitSeq(raw, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		rec, ts, err := normalizeRecord(line, commander)
		if err != nil {
			continue
		}
		if ts != lastTS {
			flush()
			lastTS = ts
		}
		current.WriteString(rec)
		current.WriteByte('\n')
	}
	flush()
	return segments
}

// containsSegment reports whether seg appears in text starting at a line
// boundary.
func containsSegment(text, seg string) bool {
	return strings.HasPrefix(text, seg) || strings.Contains(text, "\n"+seg)
}

type field struct {
	key   string
	value json.RawMessage
}

// normalizeRecord validates one journal line and returns it, rewritten when
// needed, together with its timestamp.
func normalizeRecord(line, commander string) (string, string, error) {
	fields, err := decodeObject(line)
	if err != nil {
		return "", "", err
	}

	var event, timestamp string
	var hasEvent, hasTimestamp bool
	for _, f := range fields {
		switch f.key {
		case "event":
			hasEvent = json.Unmarshal(f.value, &event) == nil
		case "timestamp":
			hasTimestamp = true
			if json.Unmarshal(f.value, &timestamp) != nil {
				timestamp = string(f.value)
			}
		}
	}
	if !hasEvent || !hasTimestamp {
		return "", "", errNotObject
	}

	var target string
	switch event {
	case "Commander":
		target = "Name"
	case "LoadGame":
		target = "Commander"
	}
	if target == "" || commander == "" {
		return line, timestamp, nil
	}

	name, err := json.Marshal(commander)
	if err != nil {
		return "", "", err
	}
	replaced := false
	for i := range fields {
		if fields[i].key == target {
			fields[i].value = name
			replaced = true
		}
	}
	if !replaced {
		fields = append(fields, field{key: target, value: name})
	}
	return encodeObject(fields), timestamp, nil
}

// decodeObject reads a single JSON object keeping its key order.
func decodeObject(line string) ([]field, error) {
	dec := json.NewDecoder(strings.NewReader(line))
	dec.UseNumber()

	tok, err := dec.Token()
	if err != nil {
		return nil, err
	}
	if d, ok := tok.(json.Delim); !ok || d != '{' {
		return nil, errNotObject
	}

	var fields []field
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return nil, err
		}
		key, ok := tok.(string)
		if !ok {
			return nil, errNotObject
		}
		var value json.RawMessage
		if err := dec.Decode(&value); err != nil {
			return nil, err
		}
		fields = append(fields, field{key: key, value: value})
	}
	if _, err := dec.Token(); err != nil {
		return nil, err
	}
	if _, err := dec.Token(); !errors.Is(err, io.EOF) {
		return nil, errNotObject
	}
	return fields, nil
}

// encodeObject writes fields back in the journal's own layout.
func encodeObject(fields []field) string {
	var buf bytes.Buffer
	buf.WriteString("{ ")
	for i, f := range fields {
		if i > 0 {
			buf.WriteString(", ")
		}
		key, _ := json.Marshal(f.key)
		buf.Write(key)
		buf.WriteString(":")
		if err := json.Compact(&buf, f.value); err != nil {
			buf.Write(f.value)
		}
	}
	buf.WriteString(" }")
	return buf.String()
}
