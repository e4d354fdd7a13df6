package cache

// lruNode is a node of the recency list. The node pointer is what the key index stores, so moving an item within
// the list never requires a lookup.
type lruNode[V any] struct {
	prev, next *lruNode[V]
	it         *item[V]
}

// lruList keeps items in recency order: the most recently used item at the front, the eviction victim at the
// back. List order is the tie breaker the eviction policy relies on, so all mutations preserve it exactly.
type lruList[V any] struct {
	head, tail *lruNode[V]
	size       int
}

// len returns the number of items in the list.
func (l *lruList[V]) len() int {
	return l.size
}

// back returns the least recently used node, or nil when the list is empty.
func (l *lruList[V]) back() *lruNode[V] {
	return l.tail
}

// pushFront inserts an item as the most recently used one and returns its node.
func (l *lruList[V]) pushFront(it *item[V]) *lruNode[V] {
	n := &lruNode[V]{it: it, next: l.head}
	if l.head != nil {
		l.head.prev = n
	} else { // List was empty.
		l.tail = n
	}
	l.head = n
	l.size++
	return n
}

// remove unlinks a node from the list.
func (l *lruList[V]) remove(n *lruNode[V]) {
	if n.prev != nil {
		n.prev.next = n.next
	} else { // Node is the head.
		l.head = n.next
	}
	if n.next != nil {
		n.next.prev = n.prev
	} else { // Node is the tail.
		l.tail = n.prev
	}
	n.next = nil
	n.prev = nil
	l.size--
}

// moveToFront marks a node as the most recently used one.
func (l *lruList[V]) moveToFront(n *lruNode[V]) {
	if l.head == n {
		return
	}
	l.remove(n)
	n.next = l.head
	if l.head != nil {
		l.head.prev = n
	} else {
		l.tail = n
	}
	l.head = n
	l.size++
}
