package audit

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
)

// ContentType is the media type served for an export format
func (f ExportFormat) ContentType() string {
	if f == ExportFormatNDJSON {
		return "application/x-ndjson"
	}
	return "application/json"
}

// WriteEvents encodes events to w. NDJSON writes one event per line so
// archives can be concatenated; JSON writes a single indented array.
func WriteEvents(w io.Writer, events []*AuditEvent, format ExportFormat) error {
	if format != ExportFormatNDJSON {
		if events == nil {
			events = []*AuditEvent{}
		}
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(events)
	}

	enc := json.NewEncoder(w)
	for _, event := range events {
		if err := enc.Encode(event); err != nil {
			return fmt.Errorf("failed to encode audit event %d: %w", event.ID, err)
		}
	}
	return nil
}

func encodeEvents(events []*AuditEvent, format ExportFormat) ([]byte, error) {
	var buf bytes.Buffer
	if err := WriteEvents(&buf, events, format); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
