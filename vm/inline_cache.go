package vm

// Inline caching for send sites.
//
// Most send sites see a single receiver class, some see a handful, a few see
// many. Each site caches its recent (class, method) pairs and moves through
// empty -> monomorphic -> polymorphic -> megamorphic.
//
// Every cache is stamped with the method cache epoch it was filled under.
// Any invalidation bumps the epoch, so a site filled before a method was
// installed or removed always misses and refills from a fresh lookup.

// CacheState is the state of one send-site cache.
type CacheState uint8

const (
	CacheEmpty CacheState = iota
	CacheMonomorphic
	CachePolymorphic
	CacheMegamorphic
)

func (s CacheState) String() string {
	switch s {
	case CacheMonomorphic:
		return "monomorphic"
	case CachePolymorphic:
		return "polymorphic"
	case CacheMegamorphic:
		return "megamorphic"
	}
	return "empty"
}

// MaxPICEntries is the capacity of a polymorphic cache.
const MaxPICEntries = 6

// InlineCacheEntry is one cached lookup.
type InlineCacheEntry struct {
	Class  *Class
	Method Method
}

// InlineCache is the cache of one send site.
type InlineCache struct {
	State   CacheState
	Entries [MaxPICEntries]InlineCacheEntry
	Count   int
	Epoch   uint64

	Hits   uint64
	Misses uint64
}

// Lookup returns the cached method for class, or nil. A cache filled under
// an older epoch is reset first.
func (ic *InlineCache) Lookup(class *Class, epoch uint64) Method {
	if ic.Epoch != epoch {
		ic.clear()
		ic.Epoch = epoch
	}
	switch ic.State {
	case CacheMonomorphic, CachePolymorphic:
		for i := 0; i < ic.Count; i++ {
			if ic.Entries[i].Class == class {
				ic.Hits++
				return ic.Entries[i].Method
			}
		}
	}
	ic.Misses++
	return nil
}

// Update records a resolved lookup.
func (ic *InlineCache) Update(class *Class, method Method, epoch uint64) {
	if method == nil {
		return
	}
	if ic.Epoch != epoch {
		ic.clear()
		ic.Epoch = epoch
	}
	switch ic.State {
	case CacheEmpty:
		ic.State = CacheMonomorphic
		ic.Entries[0] = InlineCacheEntry{Class: class, Method: method}
		ic.Count = 1

	case CacheMonomorphic, CachePolymorphic:
		for i := 0; i < ic.Count; i++ {
			if ic.Entries[i].Class == class {
				ic.Entries[i].Method = method
				return
			}
		}
		if ic.Count < MaxPICEntries {
			ic.Entries[ic.Count] = InlineCacheEntry{Class: class, Method: method}
			ic.Count++
			ic.State = CachePolymorphic
			return
		}
		ic.State = CacheMegamorphic
		for i := range ic.Entries {
			ic.Entries[i] = InlineCacheEntry{}
		}
		ic.Count = 0

	case CacheMegamorphic:
	}
}

func (ic *InlineCache) clear() {
	ic.State = CacheEmpty
	ic.Count = 0
	for i := range ic.Entries {
		ic.Entries[i] = InlineCacheEntry{}
	}
}

// Reset empties the cache and its counters.
func (ic *InlineCache) Reset() {
	ic.clear()
	ic.Hits = 0
	ic.Misses = 0
}

// InlineCacheTable holds the caches of one code unit keyed by send pc.
type InlineCacheTable struct {
	caches map[int]*InlineCache
}

// NewInlineCacheTable creates an empty table.
func NewInlineCacheTable() *InlineCacheTable {
	return &InlineCacheTable{caches: make(map[int]*InlineCache)}
}

// GetOrCreate returns the cache for the send at pc.
func (t *InlineCacheTable) GetOrCreate(pc int) *InlineCache {
	if ic := t.caches[pc]; ic != nil {
		return ic
	}
	ic := &InlineCache{}
	t.caches[pc] = ic
	return ic
}

// Get returns the cache at pc, or nil.
func (t *InlineCacheTable) Get(pc int) *InlineCache {
	return t.caches[pc]
}

// Stats aggregates the table's caches.
func (t *InlineCacheTable) Stats() (s ICStats) {
	for _, ic := range t.caches {
		s.add(ic)
	}
	return s
}

// ICStats aggregates send-site cache statistics.
type ICStats struct {
	CallSites   int
	Monomorphic int
	Polymorphic int
	Megamorphic int
	Empty       int
	Hits        uint64
	Misses      uint64
}

func (s *ICStats) add(ic *InlineCache) {
	s.CallSites++
	switch ic.State {
	case CacheMonomorphic:
		s.Monomorphic++
	case CachePolymorphic:
		s.Polymorphic++
	case CacheMegamorphic:
		s.Megamorphic++
	default:
		s.Empty++
	}
	s.Hits += ic.Hits
	s.Misses += ic.Misses
}

// HitRate returns hits as a percentage of lookups.
func (s ICStats) HitRate() float64 {
	total := s.Hits + s.Misses
	if total == 0 {
		return 0
	}
	return float64(s.Hits) * 100 / float64(total)
}

// collectICStats gathers send-site statistics from every installed method.
func collectICStats(ct *ClassTable) ICStats {
	var stats ICStats
	ct.each(func(c *Class) {
		c.Methods.Each(func(_ uint32, m Method) {
			cm, ok := m.(*CompiledMethod)
			if !ok {
				return
			}
			if cm.caches != nil {
				for _, ic := range cm.caches.caches {
					stats.add(ic)
				}
			}
			for _, b := range cm.Blocks {
				if b.caches != nil {
					for _, ic := range b.caches.caches {
						stats.add(ic)
					}
				}
			}
		})
	})
	return stats
}
