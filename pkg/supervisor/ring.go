package supervisor

import "sync"

// lineRing is a bounded buffer of the most recent output lines of one
// subprocess. The pump goroutine is the only writer; any number of
// readers may snapshot concurrently.
type lineRing struct {
	mu    sync.Mutex
	lines []string
	max   int
	total int
}

func newLineRing(max int) *lineRing {
	if max <= 0 {
		max = DefaultRingSize
	}
	return &lineRing{max: max}
}

func (r *lineRing) Append(line string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.lines = append(r.lines, line)
	r.total++
	if len(r.lines) > r.max {
		r.lines = r.lines[len(r.lines)-r.max:]
	}
}

// Last returns up to n of the most recent lines, oldest first.
func (r *lineRing) Last(n int) []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	if n <= 0 || n > len(r.lines) {
		n = len(r.lines)
	}
	out := make([]string, n)
	copy(out, r.lines[len(r.lines)-n:])
	return out
}

// Total returns how many lines have ever been appended, so scanners can
// tell whether anything new arrived since their last look.
func (r *lineRing) Total() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.total
}
