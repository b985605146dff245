package expiry

// record is one key's deadline. index is its position in the heap,
// maintained by deadlines so Fix/Remove run in O(log n).
type record[K comparable] struct {
	key   K
	at    int64 // absolute deadline, UnixNano
	gen   uint64
	index int
}

// deadlines is a min-heap of records ordered by deadline, then by
// registration order so equal deadlines expire first-registered first.
// It implements container/heap.Interface.
type deadlines[K comparable] []*record[K]

func (d deadlines[K]) Len() int { return len(d) }

func (d deadlines[K]) Less(i, j int) bool {
	if d[i].at != d[j].at {
		return d[i].at < d[j].at
	}
	return d[i].gen < d[j].gen
}

func (d deadlines[K]) Swap(i, j int) {
	d[i], d[j] = d[j], d[i]
	d[i].index = i
	d[j].index = j
}

func (d *deadlines[K]) Push(x any) {
	r := x.(*record[K])
	r.index = len(*d)
	*d = append(*d, r)
}

func (d *deadlines[K]) Pop() any {
	old := *d
	n := len(old)
	r := old[n-1]
	old[n-1] = nil
	r.index = -1
	*d = old[:n-1]
	return r
}
