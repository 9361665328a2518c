package contacts

import "sync"

// entry is a cached lookup. A miss is cached too so that unknown senders
// do not trigger a project scan on every inbound message.
type entry struct {
	contact Contact
	found   bool
}

type node struct {
	key        string
	val        entry
	prev, next *node
}

// cache is a thread-safe LRU keyed by normalized address.
type cache struct {
	mu       sync.Mutex
	capacity int
	items    map[string]*node
	head     *node // most recently used (sentinel)
	tail     *node // least recently used (sentinel)
}

func newCache(capacity int) *cache {
	if capacity < 1 {
		capacity = 1
	}
	head, tail := &node{}, &node{}
	head.next = tail
	tail.prev = head
	return &cache{
		capacity: capacity,
		items:    make(map[string]*node, capacity),
		head:     head,
		tail:     tail,
	}
}

func (c *cache) get(key string) (entry, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	n, ok := c.items[key]
	if !ok {
		return entry{}, false
	}
	c.unlink(n)
	c.pushFront(n)
	return n.val, true
}

func (c *cache) put(key string, val entry) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if n, ok := c.items[key]; ok {
		n.val = val
		c.unlink(n)
		c.pushFront(n)
		return
	}
	if len(c.items) >= c.capacity {
		victim := c.tail.prev
		c.unlink(victim)
		delete(c.items, victim.key)
	}
	n := &node{key: key, val: val}
	c.items[key] = n
	c.pushFront(n)
}

func (c *cache) len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.items)
}

func (c *cache) clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.head.next = c.tail
	c.tail.prev = c.head
	c.items = make(map[string]*node, c.capacity)
}

// caller must hold lock
func (c *cache) unlink(n *node) {
	n.prev.next = n.next
	n.next.prev = n.prev
	n.prev, n.next = nil, nil
}

// caller must hold lock
func (c *cache) pushFront(n *node) {
	n.next = c.head.next
	n.prev = c.head
	c.head.next.prev = n
	c.head.next = n
}
