package ndjson

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/bishoku/autopilot-codex/internal/protocol"
)

// MaxMessageSize is the maximum NDJSON message size (256 KiB)
const MaxMessageSize = 256 * 1024

// MaxAgentLineSize bounds a single line of agent output. Command output
// items can be much larger than the messages autopilot writes itself.
const MaxAgentLineSize = 8 * 1024 * 1024

// Encoder writes NDJSON messages to an output stream
type Encoder struct {
	writer *bufio.Writer
	logger *slog.Logger
	limit  int
}

// NewEncoder creates a new NDJSON encoder bounded by MaxMessageSize
func NewEncoder(w io.Writer, logger *slog.Logger) *Encoder {
	return NewEncoderSize(w, logger, MaxMessageSize)
}

// NewEncoderSize creates an encoder that writes lines up to limit bytes
func NewEncoderSize(w io.Writer, logger *slog.Logger, limit int) *Encoder {
	return &Encoder{
		writer: bufio.NewWriter(w),
		logger: logger,
		limit:  limit,
	}
}

// Encode writes a message as a single JSON line
func (e *Encoder) Encode(v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to marshal message: %w", err)
	}

	if len(data) > e.limit {
		e.logger.Error("message exceeds size limit",
			"size", len(data),
			"limit", e.limit,
			"overflow", len(data)-e.limit)
		return fmt.Errorf("message size %d exceeds limit %d", len(data), e.limit)
	}

	if _, err := e.writer.Write(data); err != nil {
		return fmt.Errorf("failed to write message: %w", err)
	}
	if err := e.writer.WriteByte('\n'); err != nil {
		return fmt.Errorf("failed to write newline: %w", err)
	}

	// Flush immediately so readers see each line as it happens
	if err := e.writer.Flush(); err != nil {
		return fmt.Errorf("failed to flush output: %w", err)
	}

	return nil
}

// Decoder reads NDJSON messages from an input stream
type Decoder struct {
	scanner *bufio.Scanner
	logger  *slog.Logger
	limit   int
	lineNum int
	now     func() time.Time
}

// NewDecoder creates a decoder bounded by MaxMessageSize
func NewDecoder(r io.Reader, logger *slog.Logger) *Decoder {
	return NewDecoderSize(r, logger, MaxMessageSize)
}

// NewDecoderSize creates a decoder that accepts lines up to limit bytes
func NewDecoderSize(r io.Reader, logger *slog.Logger, limit int) *Decoder {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), limit)

	return &Decoder{
		scanner: scanner,
		logger:  logger,
		limit:   limit,
		now:     time.Now,
	}
}

// SetClock overrides the timestamp source used by DecodeEvent
func (d *Decoder) SetClock(now func() time.Time) {
	d.now = now
}

// Line returns the number of the last line read
func (d *Decoder) Line() int {
	return d.lineNum
}

// Next returns the next non-empty line. The returned slice is only valid
// until the following call.
func (d *Decoder) Next() ([]byte, error) {
	for {
		if !d.scanner.Scan() {
			if err := d.scanner.Err(); err != nil {
				return nil, fmt.Errorf("scanner error at line %d: %w", d.lineNum+1, err)
			}
			return nil, io.EOF
		}

		d.lineNum++
		data := d.scanner.Bytes()
		if len(data) == 0 {
			continue
		}
		return data, nil
	}
}

// Decode reads the next NDJSON message into v
func (d *Decoder) Decode(v any) error {
	data, err := d.Next()
	if err != nil {
		return err
	}

	if err := json.Unmarshal(data, v); err != nil {
		d.logger.Error("failed to unmarshal JSON",
			"line", d.lineNum,
			"error", err,
			"data", string(data[:min(100, len(data))]))
		return fmt.Errorf("failed to unmarshal line %d: %w", d.lineNum, err)
	}

	return nil
}

// DecodeEvent reads the next line of agent output. JSON object lines
// become events of their own type; anything else is wrapped as a log event
// so that no output is lost.
func (d *Decoder) DecodeEvent() (protocol.Event, error) {
	data, err := d.Next()
	if err != nil {
		return protocol.Event{}, err
	}

	var raw map[string]any
	if err := json.Unmarshal(data, &raw); err != nil || raw == nil {
		return LineEvent(protocol.EventLog, string(data), d.now()), nil
	}
	return EventFromRaw(raw, d.now()), nil
}

// EventFromRaw builds an event from a decoded agent JSON line
func EventFromRaw(raw map[string]any, ts time.Time) protocol.Event {
	evt := protocol.Event{TS: ts, Type: "event", Raw: raw}
	if t, ok := raw["type"].(string); ok && t != "" {
		evt.Type = t
	}
	if item, ok := raw["item"].(map[string]any); ok {
		if it, ok := item["type"].(string); ok {
			evt.ItemType = it
		}
	}
	if msg, ok := raw["message"].(string); ok {
		evt.Message = msg
	}
	return evt
}

// LineEvent wraps a plain text line as an event of the given type
func LineEvent(eventType, line string, ts time.Time) protocol.Event {
	return protocol.Event{
		TS:      ts,
		Type:    eventType,
		Message: line,
		Raw:     map[string]any{"line": line},
	}
}
