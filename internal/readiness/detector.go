// Package readiness detects "service started" markers in backend output.
package readiness

import (
	"errors"
	"strings"
	"sync"
)

// DefaultBufferSize is the number of trailing output bytes kept for matching.
const DefaultBufferSize = 8 * 1024

// Marker matches when every one of its substrings is present in the buffered
// output. Matching is case-sensitive.
type Marker struct {
	All []string
}

// Matches reports whether text contains every substring of the marker.
// An empty marker never matches.
func (m Marker) Matches(text string) bool {
	if len(m.All) == 0 {
		return false
	}
	for _, s := range m.All {
		if !strings.Contains(text, s) {
			return false
		}
	}
	return true
}

// String renders the marker in the same syntax ParseMarker accepts.
func (m Marker) String() string {
	return strings.Join(m.All, " && ")
}

// ParseMarker parses "Started && Application" into a Marker.
func ParseMarker(s string) (Marker, error) {
	var parts []string
	for _, p := range strings.Split(s, "&&") {
		p = strings.TrimSpace(p)
		if p != "" {
			parts = append(parts, p)
		}
	}
	if len(parts) == 0 {
		return Marker{}, errors.New("empty readiness marker")
	}
	return Marker{All: parts}, nil
}

// DefaultMarkers are the Spring Boot / Tomcat startup phrases.
func DefaultMarkers() []Marker {
	return []Marker{
		{All: []string{"Started", "Application"}},
		{All: []string{"Tomcat started"}},
		{All: []string{"JVM running"}},
		{All: []string{"Spring Boot"}},
	}
}

// Detector is a one-shot latch fed with output chunks.
//
// Chunks are appended to a bounded rolling buffer so that a marker split
// across two chunks is still detected. Once the latch fires it stays set and
// the buffer is released.
type Detector struct {
	markers []Marker
	maxSize int

	mu     sync.Mutex
	buf    string
	fired  bool
	marker Marker
}

// NewDetector creates a detector for the given markers. A bufferSize <= 0
// selects DefaultBufferSize; nil markers select DefaultMarkers.
func NewDetector(markers []Marker, bufferSize int) *Detector {
	if markers == nil {
		markers = DefaultMarkers()
	}
	if bufferSize <= 0 {
		bufferSize = DefaultBufferSize
	}
	return &Detector{
		markers: markers,
		maxSize: bufferSize,
	}
}

// Feed adds a chunk of output. It returns true only on the call that fires
// the latch; every later call returns false.
func (d *Detector) Feed(chunk string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.fired {
		return false
	}

	d.buf += chunk
	if len(d.buf) > d.maxSize {
		d.buf = d.buf[len(d.buf)-d.maxSize:]
	}

	for _, m := range d.markers {
		if m.Matches(d.buf) {
			d.fired = true
			d.marker = m
			d.buf = ""
			return true
		}
	}
	return false
}

// Fired reports whether the latch has fired.
func (d *Detector) Fired() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.fired
}

// Matched returns the marker that fired the latch, if any.
func (d *Detector) Matched() (Marker, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.marker, d.fired
}
