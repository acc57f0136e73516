package relay

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"strings"
)

// Wire event names, client-facing and terminology-neutral.
const (
	EventModelInfo       = "model_info"
	EventChunk           = "chunk"
	EventRagQueryFound   = "rag_query_detected"
	EventRagResultsFound = "rag_results_found"
	EventError           = "error"
	EventEndOfStream     = "end_of_stream"
)

// Frame is one server-to-client event with a JSON payload. Frames are
// encoded/decoded here, independent of the transport that carries them.
type Frame struct {
	Event string
	Data  any
}

// Sink receives frames in send order. The HTTP adapter implements it over an
// SSE response; tests implement it over a slice.
type Sink interface {
	Send(Frame) error
}

func ModelInfo(modelUsed string) Frame {
	return Frame{Event: EventModelInfo, Data: struct {
		ModelUsed string `json:"model_used"`
	}{modelUsed}}
}

func Chunk(text string) Frame {
	return Frame{Event: EventChunk, Data: struct {
		Chunk string `json:"chunk"`
	}{text}}
}

func RagQueryDetected(query string) Frame {
	return Frame{Event: EventRagQueryFound, Data: struct {
		Query string `json:"query"`
	}{query}}
}

func RagResultsFound(count int) Frame {
	return Frame{Event: EventRagResultsFound, Data: struct {
		Count int `json:"count"`
	}{count}}
}

func ErrorFrame(message string) Frame {
	return Frame{Event: EventError, Data: struct {
		Error string `json:"error"`
	}{message}}
}

func EndOfStream(fullResponse string) Frame {
	return Frame{Event: EventEndOfStream, Data: struct {
		FullResponse string `json:"full_response"`
	}{fullResponse}}
}

// MarshalSSE encodes the frame as one server-sent event.
func (f Frame) MarshalSSE() ([]byte, error) {
	payload, err := json.Marshal(f.Data)
	if err != nil {
		return nil, fmt.Errorf("encoding %s payload: %w", f.Event, err)
	}
	return []byte("event: " + f.Event + "\ndata: " + string(payload) + "\n\n"), nil
}

// DecodedFrame is the receiving side of Frame: the payload stays raw until
// the caller knows the event type.
type DecodedFrame struct {
	Event string
	Data  json.RawMessage
}

// Decoder reads frames from line-delimited SSE input. It is a small explicit
// state machine: field lines accumulate into the pending frame, a blank line
// emits it.
type Decoder struct {
	scanner *bufio.Scanner
}

func NewDecoder(r io.Reader) *Decoder {
	s := bufio.NewScanner(r)
	s.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	return &Decoder{scanner: s}
}

// Next returns the next complete frame, or io.EOF when the input ends.
func (d *Decoder) Next() (DecodedFrame, error) {
	var (
		frame   DecodedFrame
		pending bool
	)
	for d.scanner.Scan() {
		line := d.scanner.Text()
		switch {
		case line == "":
			if pending {
				return frame, nil
			}
		case strings.HasPrefix(line, "event:"):
			frame.Event = strings.TrimSpace(strings.TrimPrefix(line, "event:"))
			pending = true
		case strings.HasPrefix(line, "data:"):
			frame.Data = json.RawMessage(strings.TrimSpace(strings.TrimPrefix(line, "data:")))
			pending = true
		default:
			// Comment or unknown field, ignored.
		}
	}
	if err := d.scanner.Err(); err != nil {
		return DecodedFrame{}, err
	}
	if pending {
		return frame, nil
	}
	return DecodedFrame{}, io.EOF
}
