package httpadapter

import (
	"fmt"
	"net/http"

	"github.com/hjwen/counsel-agent/internal/app/relay"
)

// sseSink writes relay frames to an SSE response, flushing after each frame
// so the client sees tokens as they arrive.
type sseSink struct {
	w       http.ResponseWriter
	flusher http.Flusher
}

var _ relay.Sink = (*sseSink)(nil)

func newSSESink(w http.ResponseWriter) (*sseSink, error) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		return nil, fmt.Errorf("response writer does not support streaming")
	}
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	return &sseSink{w: w, flusher: flusher}, nil
}

func (s *sseSink) Send(f relay.Frame) error {
	payload, err := f.MarshalSSE()
	if err != nil {
		return err
	}
	if _, err := s.w.Write(payload); err != nil {
		return err
	}
	s.flusher.Flush()
	return nil
}
