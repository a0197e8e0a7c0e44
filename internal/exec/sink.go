package exec

import (
	"bytes"
	"strings"
	"time"
)

// progressSink forwards runner output lines to the execution's progress
// stream while the run is in the EXECUTING stage. Lines naming a test show
// up as the current entity.
type progressSink struct {
	execution *Execution
	broadcast *broadcaster
	partial   bytes.Buffer
}

func (s *progressSink) Write(p []byte) (int, error) {
	s.partial.Write(p)

	for {
		line, rest, found := bytes.Cut(s.partial.Bytes(), []byte("\n"))
		if !found {
			break
		}

		s.forward(string(line))

		remaining := append([]byte(nil), rest...)
		s.partial.Reset()
		s.partial.Write(remaining)
	}

	return len(p), nil
}

func (s *progressSink) forward(line string) {
	line = strings.TrimSpace(line)
	if line == "" {
		return
	}

	msg := Progress{
		Stage:   StageExecuting,
		Percent: 30,
		TS:      time.Now().UTC(),
	}

	if strings.Contains(line, "::") {
		msg.CurrentEntity = strings.Fields(line)[0]
	}

	s.broadcast.publish(msg)
}
