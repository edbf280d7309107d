package api

import (
	"encoding/json"
	"fmt"
	"net/http"
)

// eventStream writes server-sent events. Headers go out with the first event,
// so a request that fails early can still answer with a plain status code.
type eventStream struct {
	w       http.ResponseWriter
	flusher http.Flusher
	opened  bool
}

func newEventStream(w http.ResponseWriter, flusher http.Flusher) *eventStream {
	return &eventStream{w: w, flusher: flusher}
}

func (s *eventStream) started() bool {
	return s.opened
}

func (s *eventStream) open() {
	h := s.w.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	h.Set("X-Accel-Buffering", "no")
	s.w.WriteHeader(http.StatusOK)
	s.opened = true
}

func (s *eventStream) send(event string, payload interface{}) error {
	var data []byte
	switch v := payload.(type) {
	case string:
		data = []byte(v)
	default:
		var err error
		data, err = json.Marshal(v)
		if err != nil {
			return err
		}
	}
	if !s.opened {
		s.open()
	}
	if event != "" {
		if _, err := fmt.Fprintf(s.w, "event: %s\n", event); err != nil {
			return err
		}
	}
	if _, err := fmt.Fprintf(s.w, "data: %s\n\n", data); err != nil {
		return err
	}
	s.flusher.Flush()
	return nil
}
