package vm

// MethodCache is the global (class, selector) -> method cache.
//
// The cache is never a source of truth: a miss falls back to the cold
// superclass walk, and every mutation that could change a lookup result
// invalidates the affected class and all of its subclasses. With verify
// set, every hit is compared against a cold lookup.
type MethodCache struct {
	entries map[*Class]map[uint32]Method
	epoch   uint64
	verify  bool

	Hits          uint64
	Misses        uint64
	Invalidations uint64
}

// NewMethodCache creates an empty cache.
func NewMethodCache(verify bool) *MethodCache {
	return &MethodCache{
		entries: make(map[*Class]map[uint32]Method),
		epoch:   1,
		verify:  verify,
	}
}

// Epoch changes whenever any entry is invalidated. Send-site caches compare
// it to decide whether their contents are still valid.
func (mc *MethodCache) Epoch() uint64 { return mc.epoch }

// Lookup resolves selector for instances of class. nil means the receiver
// does not understand the message.
func (mc *MethodCache) Lookup(class *Class, selector uint32) Method {
	if bucket := mc.entries[class]; bucket != nil {
		if m, ok := bucket[selector]; ok {
			mc.Hits++
			mc.check(class, selector, m)
			return m
		}
	}
	mc.Misses++
	m := class.lookup(selector)
	if m == nil {
		return nil
	}
	bucket := mc.entries[class]
	if bucket == nil {
		bucket = make(map[uint32]Method)
		mc.entries[class] = bucket
	}
	bucket[selector] = m
	return m
}

// check compares a cached answer with a cold lookup when verification is
// enabled. A mismatch means an invalidation was missed.
func (mc *MethodCache) check(class *Class, selector uint32, m Method) {
	if !mc.verify {
		return
	}
	if cold := class.lookup(selector); cold != m {
		fatal(FatalInterpreter, "method cache returned %v for %s #%d, cold lookup finds %v",
			m, class.Name, selector, cold)
	}
}

// InvalidateSubtree drops every entry for class and its subclasses. For a
// non-meta class the metaclass subtree is dropped as well.
func (mc *MethodCache) InvalidateSubtree(class *Class) {
	for _, c := range class.withAllSubclasses() {
		delete(mc.entries, c)
		if c.Meta != nil {
			for _, m := range c.Meta.withAllSubclasses() {
				delete(mc.entries, m)
			}
		}
	}
	mc.epoch++
	mc.Invalidations++
}

// Flush empties the whole cache.
func (mc *MethodCache) Flush() {
	mc.entries = make(map[*Class]map[uint32]Method)
	mc.epoch++
	mc.Invalidations++
}

// Len returns the number of cached entries.
func (mc *MethodCache) Len() int {
	n := 0
	for _, bucket := range mc.entries {
		n += len(bucket)
	}
	return n
}
