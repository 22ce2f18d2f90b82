package store

// lruNode is one memory-tier entry in the recency list.
type lruNode struct {
	key   string
	entry Entry
	prev  *lruNode
	next  *lruNode
}

// lru is the memory tier: a count-bounded, strictly least-recently-used map.
// head.next is the most recently used entry, tail.prev the least.
// It is not safe for concurrent use; Cache serializes access with its mutex.
type lru struct {
	capacity int
	items    map[string]*lruNode
	head     *lruNode
	tail     *lruNode
}

func newLRU(capacity int) *lru {
	if capacity <= 0 {
		capacity = 1
	}
	l := &lru{
		capacity: capacity,
		items:    make(map[string]*lruNode, capacity),
		head:     &lruNode{},
		tail:     &lruNode{},
	}
	l.head.next = l.tail
	l.tail.prev = l.head
	return l
}

// get returns the entry and marks it most recently used.
func (l *lru) get(key string) (Entry, bool) {
	node, ok := l.items[key]
	if !ok {
		return Entry{}, false
	}
	l.moveToFront(node)
	return node.entry, true
}

// add inserts or replaces an entry and returns the keys evicted to stay
// within capacity.
func (l *lru) add(key string, e Entry) []string {
	if node, ok := l.items[key]; ok {
		node.entry = e
		l.moveToFront(node)
		return nil
	}

	node := &lruNode{key: key, entry: e}
	l.addToFront(node)
	l.items[key] = node

	var evicted []string
	for len(l.items) > l.capacity {
		evicted = append(evicted, l.evictOldest())
	}
	return evicted
}

func (l *lru) remove(key string) bool {
	node, ok := l.items[key]
	if !ok {
		return false
	}
	l.unlink(node)
	delete(l.items, key)
	return true
}

// removeFunc drops every entry whose key satisfies match.
func (l *lru) removeFunc(match func(key string) bool) int {
	n := 0
	for key, node := range l.items {
		if match(key) {
			l.unlink(node)
			delete(l.items, key)
			n++
		}
	}
	return n
}

func (l *lru) clear() {
	l.items = make(map[string]*lruNode, l.capacity)
	l.head.next = l.tail
	l.tail.prev = l.head
}

func (l *lru) len() int { return len(l.items) }

// keys returns keys from most to least recently used.
func (l *lru) keys() []string {
	out := make([]string, 0, len(l.items))
	for n := l.head.next; n != l.tail; n = n.next {
		out = append(out, n.key)
	}
	return out
}

func (l *lru) addToFront(node *lruNode) {
	node.prev = l.head
	node.next = l.head.next
	l.head.next.prev = node
	l.head.next = node
}

func (l *lru) unlink(node *lruNode) {
	node.prev.next = node.next
	node.next.prev = node.prev
	node.prev = nil
	node.next = nil
}

func (l *lru) moveToFront(node *lruNode) {
	l.unlink(node)
	l.addToFront(node)
}

func (l *lru) evictOldest() string {
	oldest := l.tail.prev
	if oldest == l.head {
		return ""
	}
	l.unlink(oldest)
	delete(l.items, oldest.key)
	return oldest.key
}
