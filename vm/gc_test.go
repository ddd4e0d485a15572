package vm

import (
	"testing"
)

// ---------------------------------------------------------------------------
// Reachability
// ---------------------------------------------------------------------------

func TestUnreferencedInstanceIsReclaimed(t *testing.T) {
	vm := NewVMWithOptions(Options{VerifyHeap: true})
	thing := mustDefine(t, vm, "Thing", nil, "a")
	v := mustNew(t, vm, thing)

	vm.Collect()
	if vm.IsLive(v) {
		t.Error("instance with no roots survived a full collection")
	}
}

func TestRootedInstanceSurvives(t *testing.T) {
	vm := NewVMWithOptions(Options{VerifyHeap: true})
	thing := mustDefine(t, vm, "Thing", nil, "a")
	v := mustNew(t, vm, thing)
	if err := vm.Store(v, 0, FromSmallInt(5)); err != nil {
		t.Fatal(err)
	}
	id := vm.AddRoot(v)

	vm.CollectYoung()
	vm.Collect()
	if !vm.IsLive(v) {
		t.Fatal("rooted instance was reclaimed")
	}
	got, err := vm.Fetch(v, 0)
	if err != nil {
		t.Fatal(err)
	}
	wantInt(t, got, 5)

	vm.RemoveRoot(id)
	vm.Collect()
	if vm.IsLive(v) {
		t.Error("instance survived after its root was removed")
	}
}

func TestLiveContextKeepsInstanceAlive(t *testing.T) {
	vm := NewVMWithOptions(Options{VerifyHeap: true})
	thing := mustDefine(t, vm, "Thing", nil)

	// keep  | t | t := Thing new. Smalltalk garbageCollect. ^t
	v := mustDoIt(t, vm, 1, func(m *CompiledMethodBuilder, b *BytecodeBuilder) {
		pushGlobal(vm, m, b, "Thing")
		emitSend(vm, m, b, "new")
		b.EmitByte(OpStoreTemp, 0)
		b.Emit(OpPOP)
		pushGlobal(vm, m, b, "Smalltalk")
		emitSend(vm, m, b, "garbageCollect")
		b.Emit(OpPOP)
		b.EmitByte(OpPushTemp, 0)
		b.Emit(OpReturnTop)
	})
	if !vm.IsLive(v) {
		t.Fatal("instance held in a temp was reclaimed while the method ran")
	}
	if vm.ClassOf(v) != thing {
		t.Errorf("class = %v, want Thing", vm.ClassOf(v))
	}
}

// ---------------------------------------------------------------------------
// Generations
// ---------------------------------------------------------------------------

func TestSurvivorsAreTenured(t *testing.T) {
	vm := NewVMWithOptions(Options{TenureAge: 2, VerifyHeap: true})
	thing := mustDefine(t, vm, "Thing", nil)
	v := mustNew(t, vm, thing)
	vm.AddRoot(v)

	if vm.IsOld(v) {
		t.Fatal("new instance should be young")
	}
	before := vm.GCStats()
	vm.CollectYoung()
	vm.CollectYoung()
	if !vm.IsOld(v) {
		t.Error("instance surviving TenureAge minor collections should be old")
	}
	s := vm.GCStats()
	if s.Promoted <= before.Promoted || s.MinorCollections != before.MinorCollections+2 {
		t.Errorf("stats = %+v, before %+v", s, before)
	}
}

func TestAllocationPressureTriggersCollection(t *testing.T) {
	vm := NewVMWithOptions(Options{YoungWords: 4096, VerifyHeap: true})
	keep := vm.NewArray(FromSmallInt(1), FromSmallInt(2))
	vm.AddRoot(keep)

	// 1000 timesRepeat: [Array new: 8]
	mustDoIt(t, vm, 0, func(m *CompiledMethodBuilder, b *BytecodeBuilder) {
		b.EmitPushInt(1000)
		block(m, b, 0, 0, func(bb *BytecodeBuilder) {
			bb.EmitUint16(OpPushGlobal, m.AddSymbol(vm.Symbols, "Array"))
			bb.EmitInt8(OpPushInt8, 8)
			bb.EmitSend(OpSendKeyword, m.AddSymbol(vm.Symbols, "new:"), 1)
		})
		emitSend(vm, m, b, "timesRepeat:")
		b.Emit(OpReturnNil)
	})
	s := vm.GCStats()
	if s.MinorCollections == 0 {
		t.Error("allocating far more than the young space should collect")
	}
	if s.Reclaimed == 0 {
		t.Error("garbage arrays were not reclaimed")
	}
	got, _ := vm.Fetch(keep, 1)
	wantInt(t, got, 2)
	if err := vm.VerifyHeap(); err != nil {
		t.Errorf("VerifyHeap: %v", err)
	}
}

func TestMajorCollectionCompactsOldGeneration(t *testing.T) {
	vm := NewVMWithOptions(Options{VerifyHeap: true})
	var kept, dropped []Value
	for k := 0; k < 50; k++ {
		v := vm.NewArray(FromSmallInt(int64(k)))
		if k%2 == 0 {
			vm.AddRoot(v)
			kept = append(kept, v)
		} else {
			dropped = append(dropped, v)
		}
	}
	vm.Collect()
	before := vm.GCStats().OldWordsUsed
	for k, v := range kept {
		if !vm.IsOld(v) {
			t.Errorf("survivor %d not tenured by the full collection", k)
		}
		got, err := vm.Fetch(v, 0)
		if err != nil {
			t.Fatal(err)
		}
		wantInt(t, got, int64(2*k))
	}
	for _, v := range dropped {
		if vm.IsLive(v) {
			t.Fatal("unrooted array survived")
		}
	}
	vm.Collect()
	if after := vm.GCStats().OldWordsUsed; after > before {
		t.Errorf("old words grew across an idle collection: %d -> %d", before, after)
	}
}

func TestCyclicGarbageIsReclaimed(t *testing.T) {
	vm := NewVM()
	node := mustDefine(t, vm, "Node", nil, "next")
	a := mustNew(t, vm, node)
	b := mustNew(t, vm, node)
	vm.Store(a, 0, b)
	vm.Store(b, 0, a)

	vm.Collect()
	if vm.IsLive(a) || vm.IsLive(b) {
		t.Error("unreachable cycle survived")
	}
}

func TestVerifyHeapAfterWorkload(t *testing.T) {
	vm := NewVMWithOptions(Options{YoungWords: 2048, TenureAge: 1})
	node := mustDefine(t, vm, "Node", nil, "next")
	head := mustNew(t, vm, node)
	vm.AddRoot(head)
	prev := head
	for k := 0; k < 200; k++ {
		n := mustNew(t, vm, node)
		vm.Store(prev, 0, n)
		prev = n
		if k%50 == 0 {
			vm.CollectYoung()
		}
	}
	vm.Collect()
	if err := vm.VerifyHeap(); err != nil {
		t.Fatalf("VerifyHeap: %v", err)
	}
	count := 0
	for cur := head; cur != Nil; count++ {
		cur, _ = vm.Fetch(cur, 0)
	}
	if count != 201 {
		t.Errorf("list length = %d, want 201", count)
	}
}

func TestOutOfMemoryIsFatal(t *testing.T) {
	vm := NewVMWithOptions(Options{OldWords: 1 << 14, MaxOldWords: 1 << 14, YoungWords: 1 << 10})
	wantFatal(t, FatalOutOfMemory, func() {
		vm.Instantiate(vm.ArrayClass, 1<<15)
	})
}
