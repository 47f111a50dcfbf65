package breaker

// window is a fixed-size ring of the most recent call results.
type window struct {
	results  []bool // true = failure
	next     int
	count    int
	failures int
}

func newWindow(size int) *window {
	return &window{results: make([]bool, size)}
}

func (w *window) add(failed bool) {
	if w.count == len(w.results) {
		if w.results[w.next] {
			w.failures--
		}
	} else {
		w.count++
	}
	w.results[w.next] = failed
	if failed {
		w.failures++
	}
	w.next = (w.next + 1) % len(w.results)
}

func (w *window) ratio() float64 {
	if w.count == 0 {
		return 0
	}
	return float64(w.failures) / float64(w.count)
}

func (w *window) reset() {
	for i := range w.results {
		w.results[i] = false
	}
	w.next, w.count, w.failures = 0, 0, 0
}
