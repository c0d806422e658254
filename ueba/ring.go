package ueba

// ring is a fixed-capacity FIFO. Pushing onto a full ring overwrites the
// oldest element. Not safe for concurrent use.
type ring[T any] struct {
	items []T
	start int
	size  int
}

func newRing[T any](capacity int) *ring[T] {
	if capacity < 1 {
		capacity = 1
	}
	return &ring[T]{items: make([]T, capacity)}
}

// push appends v and reports whether an element was evicted
func (r *ring[T]) push(v T) bool {
	if r.size < len(r.items) {
		r.items[(r.start+r.size)%len(r.items)] = v
		r.size++
		return false
	}
	r.items[r.start] = v
	r.start = (r.start + 1) % len(r.items)
	return true
}

func (r *ring[T]) len() int {
	return r.size
}

// newestFirst calls fn from the newest element backwards until fn returns false
func (r *ring[T]) newestFirst(fn func(T) bool) {
	for i := r.size - 1; i >= 0; i-- {
		if !fn(r.items[(r.start+i)%len(r.items)]) {
			return
		}
	}
}

// slice returns the elements oldest first
func (r *ring[T]) slice() []T {
	out := make([]T, 0, r.size)
	for i := 0; i < r.size; i++ {
		out = append(out, r.items[(r.start+i)%len(r.items)])
	}
	return out
}
