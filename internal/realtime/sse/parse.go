package sse

import (
	"bufio"
	"errors"
	"io"
	"strings"
)

// frame is one dispatched server-sent event.
type frame struct {
	id    string
	event string
	data  string
}

// readFrames parses an event stream, calling onFrame for each complete event.
// Comment lines (heartbeats) are skipped.
func readFrames(r io.Reader, onFrame func(f frame) error) error {
	br := bufio.NewReader(r)
	var (
		cur       frame
		dataLines []string
	)

	flush := func() error {
		if len(dataLines) == 0 {
			cur = frame{}
			return nil
		}
		cur.data = strings.Join(dataLines, "\n")
		f := cur
		cur, dataLines = frame{}, nil
		return onFrame(f)
	}

	for {
		line, err := br.ReadString('\n')
		if err != nil {
			if errors.Is(err, io.EOF) {
				_ = flush()
				return io.EOF
			}
			return err
		}
		line = strings.TrimRight(line, "\r\n")

		switch {
		case line == "":
			if err := flush(); err != nil {
				return err
			}
		case strings.HasPrefix(line, ":"):
		case strings.HasPrefix(line, "event:"):
			cur.event = strings.TrimSpace(strings.TrimPrefix(line, "event:"))
		case strings.HasPrefix(line, "id:"):
			cur.id = strings.TrimSpace(strings.TrimPrefix(line, "id:"))
		case strings.HasPrefix(line, "data:"):
			dataLines = append(dataLines, strings.TrimSpace(strings.TrimPrefix(line, "data:")))
		}
	}
}
