// Package parser provides the plumbing that drains backend stdout/stderr.
//
// The backend must never block on a full pipe because the launcher is slow
// to log or render. Two layers keep that guarantee:
//
//	Layer 1 (Reader):   PipeReader scans lines and hands each to its sinks
//	                    synchronously. Sinks must be fast (readiness latch)
//	                    or non-blocking (Pipeline).
//	Layer 2 (Pipeline): bounded channel drained by a LineParser at its own
//	                    pace; lines are dropped, not queued, when it is full.
package parser

import (
	"sync"
	"sync/atomic"
)

// LineParser consumes one line of output.
type LineParser interface {
	ParseLine(line string)
}

// LineParserFunc adapts a function to LineParser.
type LineParserFunc func(line string)

// ParseLine calls f(line).
func (f LineParserFunc) ParseLine(line string) { f(line) }

// Pipeline is a lossy, bounded hand-off between a reader and a slow parser.
type Pipeline struct {
	streamType string // "stdout" or "stderr"
	bufferSize int

	lineChan  chan string
	closeOnce sync.Once

	linesRead    int64
	linesDropped int64
	linesParsed  int64

	dropThreshold float64
}

// NewPipeline creates a lossy pipeline.
//
// Parameters:
//   - streamType: "stdout" or "stderr" for identification
//   - bufferSize: channel buffer size (lines)
//   - dropThreshold: fraction (0.0-1.0) above which the pipeline is degraded
func NewPipeline(streamType string, bufferSize int, dropThreshold float64) *Pipeline {
	if bufferSize < 1 {
		bufferSize = 1000
	}
	if dropThreshold <= 0 {
		dropThreshold = 0.01
	}

	return &Pipeline{
		streamType:    streamType,
		bufferSize:    bufferSize,
		lineChan:      make(chan string, bufferSize),
		dropThreshold: dropThreshold,
	}
}

// FeedLine queues a line. Returns false if it was dropped because the
// channel was full. Never blocks.
func (p *Pipeline) FeedLine(line string) bool {
	atomic.AddInt64(&p.linesRead, 1)

	select {
	case p.lineChan <- line:
		return true
	default:
		atomic.AddInt64(&p.linesDropped, 1)
		return false
	}
}

// ParseLine lets a Pipeline act as a PipeReader sink.
func (p *Pipeline) ParseLine(line string) {
	p.FeedLine(line)
}

// CloseChannel closes the line channel, which ends RunParser.
// The data source must call it once it is exhausted. Idempotent.
func (p *Pipeline) CloseChannel() {
	p.closeOnce.Do(func() {
		close(p.lineChan)
	})
}

// RunParser drains the channel into parser. Blocks until CloseChannel.
func (p *Pipeline) RunParser(parser LineParser) {
	for line := range p.lineChan {
		parser.ParseLine(line)
		atomic.AddInt64(&p.linesParsed, 1)
	}
}

// Stats returns lines read, dropped and parsed.
func (p *Pipeline) Stats() (read, dropped, parsed int64) {
	return atomic.LoadInt64(&p.linesRead),
		atomic.LoadInt64(&p.linesDropped),
		atomic.LoadInt64(&p.linesParsed)
}

// DropRate returns the current drop rate as a fraction (0.0 to 1.0).
func (p *Pipeline) DropRate() float64 {
	read := atomic.LoadInt64(&p.linesRead)
	if read == 0 {
		return 0
	}
	dropped := atomic.LoadInt64(&p.linesDropped)
	return float64(dropped) / float64(read)
}

// IsDegraded returns true if the drop rate exceeds the configured threshold.
func (p *Pipeline) IsDegraded() bool {
	return p.DropRate() > p.dropThreshold
}

// StreamType returns "stdout" or "stderr".
func (p *Pipeline) StreamType() string {
	return p.streamType
}

// NoopParser discards every line.
type NoopParser struct{}

// ParseLine does nothing.
func (NoopParser) ParseLine(string) {}

var (
	_ LineParser = (*Pipeline)(nil)
	_ LineParser = LineParserFunc(nil)
	_ LineParser = NoopParser{}
)
