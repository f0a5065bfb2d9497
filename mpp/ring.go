package mpp

// ring is a fixed length history of step directions
type ring struct {
	buf  []int
	head int
	n    int
}

func newRing(size int) *ring {
	return &ring{buf: make([]int, size)}
}

func (r *ring) push(v int) {
	r.buf[r.head] = v
	r.head = (r.head + 1) % len(r.buf)
	if r.n < len(r.buf) {
		r.n++
	}
}

func (r *ring) full() bool {
	return r.n == len(r.buf)
}

func (r *ring) sum() int {
	var s int
	for i := 0; i < r.n; i++ {
		s += r.buf[i]
	}
	return s
}

func (r *ring) reset() {
	r.head = 0
	r.n = 0
}

// values returns the contents oldest first
func (r *ring) values() []int {
	out := make([]int, 0, r.n)
	start := r.head - r.n
	if start < 0 {
		start += len(r.buf)
	}
	for i := 0; i < r.n; i++ {
		out = append(out, r.buf[(start+i)%len(r.buf)])
	}
	return out
}
