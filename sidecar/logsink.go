package sidecar

import (
	"bufio"
	"encoding/json"
	"io"

	"github.com/vfxforge/bidd/sidecar/rpc"
)

// maxEventLine bounds how large a single stderr line may grow. Event
// payloads are small; diagnostic dumps can be less disciplined.
const maxEventLine = 1024 * 1024

// readEvents consumes the worker's stderr for the lifetime of the process,
// classifying each line as either a structured progress event or a plain
// diagnostic line. Malformed input is diagnostic text, never a failure. The
// goroutine exits when the pipe closes and holds no locks.
func (s *Sidecar) readEvents(stderr io.Reader) {
	log := s.log.Named("worker")

	scanner := bufio.NewScanner(stderr)
	scanner.Buffer(make([]byte, 64*1024), maxEventLine)
	for scanner.Scan() {
		line := scanner.Text()
		if line == "" {
			continue
		}

		var ev rpc.ProgressEvent
		if err := json.Unmarshal([]byte(line), &ev); err == nil && ev.Event != "" {
			log.Infow("progress event", "Event", ev.Event)
			if s.eventHandler != nil {
				s.eventHandler(ev)
			}
			continue
		}

		log.Debugw("stderr", "Line", line)
	}
	if err := scanner.Err(); err != nil {
		log.Debugw("stderr reader stopped", "Error", err)
	}
}
