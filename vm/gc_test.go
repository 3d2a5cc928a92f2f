package vm

import (
	"errors"
	"testing"
)

type countedObject struct {
	Object
	destroyed *int
}

func (c *countedObject) Destroy() { *c.destroyed++ }

type allocatingObject struct {
	Object
}

func (a *allocatingObject) Serialize(ar Archive) {
	a.Object.Serialize(ar)
	if ar.Flags()&(ArLoading|ArSaving) == 0 {
		a.rt.NewObject(a.class, a.outer, "", 0, nil)
	}
}

func TestCollectKeepsReachable(t *testing.T) {
	f := newGameFixture(t)
	rt := f.rt

	moss, err := rt.NewObject(f.texture, f.lib, "Moss", 0, nil)
	mustNoErr(t, err)
	sidekick, err := rt.NewObject(f.widget, f.game, "Sidekick", FlagStandalone, nil)
	mustNoErr(t, err)
	sidekick.Base().Props().SetObject("Skin", 0, moss)

	junk, err := rt.NewObject(f.widget, f.game, "Junk", 0, nil)
	mustNoErr(t, err)
	junk.Base().Props().SetObject("Skin", 0, f.stone)
	junkRef := rt.RefOf(junk)
	before := rt.NumObjects()

	stats, err := rt.CollectGarbage(DefaultGCOptions())
	mustNoErr(t, err)

	if stats.Swept != 1 {
		t.Errorf("swept: got %d, want 1", stats.Swept)
	}
	if rt.NumObjects() != before-1 {
		t.Errorf("live objects: got %d, want %d", rt.NumObjects(), before-1)
	}
	if rt.Resolve(junkRef) != nil {
		t.Error("reference to a swept object still resolves")
	}
	if rt.FindObject(f.game, "Junk") != nil {
		t.Error("swept object is still findable by name")
	}
	for _, o := range []Obj{f.hero, f.stone, moss, sidekick, f.widget, f.widget.Default, f.lib, f.game} {
		b := o.Base()
		if b.Index() < 0 {
			t.Errorf("%s was swept", b.PathName())
		}
		if b.Flags().Any(epochFlags) {
			t.Errorf("%s still carries trace flags %s", b.PathName(), b.Flags())
		}
	}
	if got := f.hero.Base().Props().GetObject("Skin", 0); got != f.stone {
		t.Error("Hero lost its Skin reference")
	}
}

func TestCollectReusesSlots(t *testing.T) {
	f := newGameFixture(t)
	rt := f.rt

	junk, err := rt.NewObject(f.widget, f.game, "Junk", 0, nil)
	mustNoErr(t, err)
	ref := rt.RefOf(junk)

	_, err = rt.CollectGarbage(DefaultGCOptions())
	mustNoErr(t, err)

	fresh, err := rt.NewObject(f.widget, f.game, "Fresh", 0, nil)
	mustNoErr(t, err)
	if uint32(fresh.Base().Index())+1 != ref.Slot {
		t.Errorf("new object took slot %d, want freed slot %d", fresh.Base().Index()+1, ref.Slot)
	}
	if rt.Resolve(ref) != nil {
		t.Error("old reference resolves to the slot's new occupant")
	}
	if rt.Resolve(rt.RefOf(fresh)) != fresh {
		t.Error("fresh reference does not resolve")
	}
}

func TestCollectPurgesNames(t *testing.T) {
	f := newGameFixture(t)
	f.rt.Names.Intern("Ephemeral")

	_, err := f.rt.CollectGarbage(DefaultGCOptions())
	mustNoErr(t, err)

	if _, ok := f.rt.Names.Lookup("Ephemeral"); ok {
		t.Error("unreferenced name survived the collection")
	}
	for _, name := range []string{"Hero", "Health", "Widget", "Default__Widget", "Int"} {
		if _, ok := f.rt.Names.Lookup(name); !ok {
			t.Errorf("name %q was purged", name)
		}
	}
}

func TestCollectRunsDestroyHooks(t *testing.T) {
	rt, _ := newTestRuntime(t)
	destroyed := 0
	c, err := rt.RegisterClass(ClassSpec{
		Name: "Counted",
		New:  func() Obj { return &countedObject{destroyed: &destroyed} },
	})
	mustNoErr(t, err)
	pkg, err := rt.NewPackage("Scratch")
	mustNoErr(t, err)
	_, err = rt.NewObject(c, pkg, "Temp", 0, nil)
	mustNoErr(t, err)

	_, err = rt.CollectGarbage(DefaultGCOptions())
	mustNoErr(t, err)
	if destroyed != 1 {
		t.Errorf("destroy hook ran %d times, want 1", destroyed)
	}
}

func TestCollectKeepsProtected(t *testing.T) {
	rt, _ := newTestRuntime(t)
	before := rt.NumObjects()

	// With no root requirement met, only protected objects survive.
	_, err := rt.CollectGarbage(GCOptions{Required: FlagRootSet | FlagStandalone})
	mustNoErr(t, err)
	if rt.NumObjects() != before {
		t.Errorf("core objects were swept: %d left of %d", rt.NumObjects(), before)
	}

	stats := rt.Shutdown()
	if rt.NumObjects() != 0 {
		t.Errorf("shutdown left %d objects", rt.NumObjects())
	}
	if stats.Swept != before {
		t.Errorf("shutdown swept %d, want %d", stats.Swept, before)
	}
}

func TestCollectRefusedWhileBusy(t *testing.T) {
	rt, _ := newTestRuntime(t)

	txn, err := rt.BeginTransaction("edit")
	mustNoErr(t, err)
	if _, err := rt.CollectGarbage(DefaultGCOptions()); !errors.Is(err, ErrCollectorBusy) {
		t.Errorf("during a transaction: got %v, want ErrCollectorBusy", err)
	}
	txn.End()

	rt.BeginLoad()
	if _, err := rt.CollectGarbage(DefaultGCOptions()); !errors.Is(err, ErrCollectorBusy) {
		t.Errorf("during a load: got %v, want ErrCollectorBusy", err)
	}
	mustNoErr(t, rt.EndLoad())

	if _, err := rt.CollectGarbage(DefaultGCOptions()); err != nil {
		t.Errorf("after load: %v", err)
	}
}

func TestAllocationDuringTraceIsFatal(t *testing.T) {
	rt, _ := newTestRuntime(t)
	c, err := rt.RegisterClass(ClassSpec{
		Name: "Allocating",
		New:  func() Obj { return &allocatingObject{} },
	})
	mustNoErr(t, err)
	pkg, err := rt.NewPackage("Scratch")
	mustNoErr(t, err)
	_, err = rt.NewObject(c, pkg, "Spawner", FlagStandalone, nil)
	mustNoErr(t, err)

	defer func() {
		if _, ok := recover().(*FatalError); !ok {
			t.Fatal("expected a fatal error")
		}
		if rt.tracing {
			t.Error("tracing flag left set")
		}
	}()
	rt.CollectGarbage(DefaultGCOptions())
}

func TestIsReferenced(t *testing.T) {
	f := newGameFixture(t)
	rt := f.rt

	loner, err := rt.NewObject(f.texture, f.lib, "Loner", FlagStandalone, nil)
	mustNoErr(t, err)
	rt.AddToRoot(loner)

	if ref, err := rt.IsReferenced(f.stone, DefaultGCOptions()); err != nil || !ref {
		t.Errorf("Stone: got %v, %v, want referenced by Hero", ref, err)
	}
	if ref, err := rt.IsReferenced(loner, DefaultGCOptions()); err != nil || ref {
		t.Errorf("Loner: got %v, %v, want kept only by its own root status", ref, err)
	}
	if !loner.Base().HasFlags(FlagRootSet) {
		t.Error("IsReferenced dropped the root pin")
	}

	n := rt.NumObjects()
	rt.ForEachObject(func(o Obj) bool {
		if o.Base().Flags().Any(epochFlags) {
			t.Errorf("%s still carries trace flags", o.Base().PathName())
		}
		return true
	})
	if rt.NumObjects() != n {
		t.Error("IsReferenced changed the object count")
	}
}

func TestIsReferencedRefusedWhileBusy(t *testing.T) {
	f := newGameFixture(t)
	rt := f.rt
	junk, err := rt.NewObject(f.texture, f.lib, "Junk", 0, nil)
	mustNoErr(t, err)

	txn, err := rt.BeginTransaction("edit")
	mustNoErr(t, err)
	ref, err := rt.IsReferenced(junk, DefaultGCOptions())
	if !errors.Is(err, ErrCollectorBusy) {
		t.Errorf("during a transaction: got %v, want ErrCollectorBusy", err)
	}
	if !ref {
		t.Error("a refused query must not report the object as free")
	}
	if junk.Base().Flags().Any(epochFlags) {
		t.Error("refused query left trace flags behind")
	}
	txn.End()

	rt.BeginLoad()
	if _, err := rt.IsReferenced(junk, DefaultGCOptions()); !errors.Is(err, ErrCollectorBusy) {
		t.Errorf("during a load: got %v, want ErrCollectorBusy", err)
	}
	mustNoErr(t, rt.EndLoad())

	if ref, err := rt.IsReferenced(junk, DefaultGCOptions()); err != nil || ref {
		t.Errorf("after the load: got %v, %v, want unreferenced", ref, err)
	}
}

func TestCollectLongChain(t *testing.T) {
	const length = 100000
	rt := NewRuntime(Options{})
	pkg, err := rt.NewPackage("Chain")
	mustNoErr(t, err)
	link, err := rt.NewClass(pkg, ClassSpec{
		Name:       "Link",
		Properties: []PropertySpec{{Name: "Next", Kind: KindObject}},
	})
	mustNoErr(t, err)

	head, err := rt.NewObject(link, pkg, "Head", FlagStandalone, nil)
	mustNoErr(t, err)
	chain := make([]Obj, 0, length)
	prev := head
	for i := 0; i < length; i++ {
		o, err := rt.NewObject(link, pkg, "", 0, nil)
		mustNoErr(t, err)
		prev.Base().Props().SetObject("Next", 0, o)
		chain = append(chain, o)
		prev = o
	}

	stats, err := rt.CollectGarbage(DefaultGCOptions())
	mustNoErr(t, err)
	if stats.Swept != 0 {
		t.Fatalf("swept %d objects of a fully reachable chain", stats.Swept)
	}
	for _, o := range []Obj{chain[0], chain[length/2], chain[length-1]} {
		if o.Base().Index() < 0 {
			t.Fatalf("%s was swept", o.Base().PathName())
		}
	}

	// Cutting the middle link orphans the tail.
	cut := length / 2
	tail := rt.RefOf(chain[length-1])
	chain[cut-1].Base().Props().SetObject("Next", 0, nil)
	stats, err = rt.CollectGarbage(DefaultGCOptions())
	mustNoErr(t, err)
	if stats.Swept != length-cut {
		t.Errorf("swept: got %d, want %d", stats.Swept, length-cut)
	}
	if chain[cut-1].Base().Index() < 0 {
		t.Error("the last reachable link was swept")
	}
	if rt.Resolve(tail) != nil {
		t.Error("the tail of the chain survived")
	}
}
