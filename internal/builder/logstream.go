package builder

import (
	"bytes"

	"github.com/ScottyLabs/kennel/internal/bus"
)

// LogLine is published on EventBuildLog for each line the build tool emits,
// so a websocket client can tail a build without polling the log file.
type LogLine struct {
	BuildID string
	Item    string
	Line    string
}

// lineBroadcaster is an io.Writer that splits writes on newlines and
// publishes each complete line to the event bus. It wraps no other writer;
// invokeBuildTool pairs it with the on-disk log file through io.MultiWriter.
type lineBroadcaster struct {
	bus     *bus.Bus
	buildID string
	item    string
	buf     bytes.Buffer
}

func newLineBroadcaster(eventBus *bus.Bus, buildID, item string) *lineBroadcaster {
	return &lineBroadcaster{bus: eventBus, buildID: buildID, item: item}
}

func (w *lineBroadcaster) Write(p []byte) (int, error) {
	w.buf.Write(p)
	for {
		data := w.buf.Bytes()
		idx := bytes.IndexByte(data, '\n')
		if idx < 0 {
			break
		}
		line := string(bytes.TrimRight(data[:idx], "\r"))
		w.bus.Publish(bus.EventBuildLog, LogLine{BuildID: w.buildID, Item: w.item, Line: line})
		w.buf.Next(idx + 1)
	}
	return len(p), nil
}
