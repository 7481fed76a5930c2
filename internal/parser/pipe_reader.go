package parser

import (
	"bufio"
	"io"
	"sync/atomic"
)

// MaxLineSize is the longest line PipeReader accepts. Longer lines are split.
const MaxLineSize = 1024 * 1024

// PipeReader reads lines from a backend stdout or stderr pipe and hands each
// one to its sinks in order.
type PipeReader struct {
	reader io.Reader
	sinks  []LineParser
	done   chan struct{}

	bytesRead atomic.Int64
	linesRead atomic.Int64
}

// NewPipeReader creates a reader for r, typically cmd.StdoutPipe() or
// cmd.StderrPipe().
func NewPipeReader(r io.Reader, sinks ...LineParser) *PipeReader {
	return &PipeReader{
		reader: r,
		sinks:  sinks,
		done:   make(chan struct{}),
	}
}

// Run reads lines until EOF or a read error. Blocks; run it in a goroutine.
// Done is closed when Run returns.
func (p *PipeReader) Run() {
	defer close(p.done)

	scanner := bufio.NewScanner(p.reader)
	scanner.Buffer(make([]byte, 64*1024), MaxLineSize)
	scanner.Split(scanLinesOrFull)

	for scanner.Scan() {
		line := scanner.Text()
		p.bytesRead.Add(int64(len(line) + 1))
		p.linesRead.Add(1)
		for _, s := range p.sinks {
			s.ParseLine(line)
		}
	}
}

// Done is closed once the pipe is exhausted.
func (p *PipeReader) Done() <-chan struct{} {
	return p.done
}

// Stats returns (bytesRead, linesRead).
func (p *PipeReader) Stats() (bytesRead int64, linesRead int64) {
	return p.bytesRead.Load(), p.linesRead.Load()
}

// scanLinesOrFull behaves like bufio.ScanLines but emits an over-long line in
// MaxLineSize pieces instead of failing with bufio.ErrTooLong. The pipe must
// be drained until EOF.
func scanLinesOrFull(data []byte, atEOF bool) (advance int, token []byte, err error) {
	advance, token, err = bufio.ScanLines(data, atEOF)
	if advance == 0 && token == nil && err == nil && len(data) >= MaxLineSize {
		return MaxLineSize, data[:MaxLineSize], nil
	}
	return advance, token, err
}
