package media

import (
	"github.com/1ureka/multipc/internal/rtc"
	"github.com/1ureka/multipc/internal/util"
)

// Sink renders a stream: the local preview or one leg's remote preview.
type Sink interface {
	Attach(stream rtc.StreamHandle)
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(stream rtc.StreamHandle)

func (f SinkFunc) Attach(stream rtc.StreamHandle) { f(stream) }

// LogSink reports attachments through the logger in place of a video element.
type LogSink struct {
	Name string
}

func (s LogSink) Attach(stream rtc.StreamHandle) {
	util.LogInfo("%s: now rendering stream %s", s.Name, stream.ID)
}

// Discard ignores every attachment.
var Discard Sink = SinkFunc(func(rtc.StreamHandle) {})
