// Package buffer keeps the rolling window of recently captured segment files.
package buffer

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"go.uber.org/multierr"
)

// NameLayout is the time layout used for segment and artifact file names.
const NameLayout = "2006-01-02_15-04-05"

// Segment is one successfully captured, fixed-duration clip on local disk.
type Segment struct {
	Path    string
	Created time.Time
}

// Ring is a bounded FIFO of segments, oldest first. Every segment it holds
// is owned by the ring until it is evicted, drained or cleared.
type Ring struct {
	mu       sync.Mutex
	capacity int
	segments []Segment
}

// New creates a Ring holding at most capacity segments. Capacities below
// one are raised to one.
func New(capacity int) *Ring {
	if capacity < 1 {
		capacity = 1
	}
	return &Ring{
		capacity: capacity,
		segments: make([]Segment, 0, capacity+1),
	}
}

// Cap returns the maximum number of retained segments.
func (r *Ring) Cap() int { return r.capacity }

// Len returns the number of segments currently held.
func (r *Ring) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.segments)
}

// Segments returns a copy of the held segments in order.
func (r *Ring) Segments() []Segment {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Segment, len(r.segments))
	copy(out, r.segments)
	return out
}

// Append adds seg at the tail. If that pushes the ring past capacity the
// head is dropped and its file deleted; the dropped segment is returned.
// A delete error is reported but the head leaves the ring regardless.
func (r *Ring) Append(seg Segment) (*Segment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.segments = append(r.segments, seg)
	if len(r.segments) <= r.capacity {
		return nil, nil
	}

	head := r.segments[0]
	r.segments[0] = Segment{}
	r.segments = r.segments[1:]

	if err := removeFile(head.Path); err != nil {
		return &head, fmt.Errorf("evict %s: %w", head.Path, err)
	}
	return &head, nil
}

// DrainAll hands back every held segment in order and empties the ring.
// The caller becomes the sole owner of the returned files.
func (r *Ring) DrainAll() []Segment {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := r.segments
	r.segments = make([]Segment, 0, r.capacity+1)
	return out
}

// Clear deletes every held file and empties the ring.
func (r *Ring) Clear() error {
	var errs error
	for _, seg := range r.DrainAll() {
		errs = multierr.Append(errs, removeFile(seg.Path))
	}
	return errs
}

// SegmentPath returns a fresh segment path in dir named after t. If a file
// with that name already exists a numeric suffix is added.
func SegmentPath(dir string, t time.Time) string {
	return uniquePath(dir, t.Format(NameLayout), ".mp4")
}

// ArtifactPath returns a fresh path in dir for a file named kind_<time>ext,
// e.g. crash_2026-10-14_09-30-05.mp4.
func ArtifactPath(dir, kind string, t time.Time, ext string) string {
	return uniquePath(dir, kind+"_"+t.Format(NameLayout), ext)
}

func uniquePath(dir, base, ext string) string {
	p := filepath.Join(dir, base+ext)
	for n := 1; ; n++ {
		if _, err := os.Stat(p); errors.Is(err, os.ErrNotExist) {
			return p
		}
		p = filepath.Join(dir, fmt.Sprintf("%s_%d%s", base, n, ext))
	}
}

// RemoveSegmentFiles deletes every *.mp4 left in dir, returning the number
// removed. Used on shutdown to leave the buffer directory empty.
func RemoveSegmentFiles(dir string) (int, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return 0, nil
		}
		return 0, err
	}
	var errs error
	removed := 0
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".mp4") {
			continue
		}
		if err := removeFile(filepath.Join(dir, e.Name())); err != nil {
			errs = multierr.Append(errs, err)
			continue
		}
		removed++
	}
	return removed, errs
}

func removeFile(path string) error {
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return nil
}
