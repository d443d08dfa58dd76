package ann

import "sort"

type distEntry struct {
	id   string
	dist float32
}

// distQueue doubles as a min-heap (frontier during beam search) and as a
// small ascending-ordered result list.
type distQueue []distEntry

func (q distQueue) Len() int           { return len(q) }
func (q distQueue) Less(i, j int) bool { return q[i].dist < q[j].dist }
func (q distQueue) Swap(i, j int)      { q[i], q[j] = q[j], q[i] }

func (q *distQueue) Push(x any) {
	*q = append(*q, x.(distEntry))
}

func (q *distQueue) Pop() any {
	old := *q
	n := len(old)
	entry := old[n-1]
	*q = old[:n-1]
	return entry
}

// worst returns the largest distance currently held. The queue must be kept
// in ascending order by insertBounded for this to be O(1).
func (q distQueue) worst() float32 {
	if len(q) == 0 {
		return 0
	}
	return q[len(q)-1].dist
}

// insertBounded inserts the entry keeping ascending order, then trims the
// queue to at most bound entries.
func (q *distQueue) insertBounded(e distEntry, bound int) {
	pos := sort.Search(len(*q), func(i int) bool { return (*q)[i].dist > e.dist })
	*q = append(*q, distEntry{})
	copy((*q)[pos+1:], (*q)[pos:])
	(*q)[pos] = e
	if len(*q) > bound {
		*q = (*q)[:bound]
	}
}

// orderedIDs returns the ids sorted by ascending distance.
func (q distQueue) orderedIDs() []string {
	sorted := make(distQueue, len(q))
	copy(sorted, q)
	sort.Stable(sorted)

	ids := make([]string, len(sorted))
	for i, e := range sorted {
		ids[i] = e.id
	}
	return ids
}
