package vm

import (
	"bytes"
	"fmt"
	"testing"
)

// mapStore is an in-memory PackageStore for tests.
type mapStore struct {
	data  map[string][]byte
	saves int
}

func newMapStore() *mapStore {
	return &mapStore{data: make(map[string][]byte)}
}

func (s *mapStore) Open(name string) ([]byte, error) {
	d, ok := s.data[nameKey(name)]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrPackageNotFound, name)
	}
	return bytes.Clone(d), nil
}

func (s *mapStore) Save(name string, data []byte) error {
	s.data[nameKey(name)] = bytes.Clone(data)
	s.saves++
	return nil
}

func newTestRuntime(t testing.TB) (*Runtime, *mapStore) {
	t.Helper()
	store := newMapStore()
	rt := NewRuntime(Options{Store: store, GC: DefaultGCOptions()})
	return rt, store
}

func mustNoErr(t testing.TB, err error) {
	t.Helper()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

// gameFixture is a two-package world: Lib holds a public Texture instance,
// Game holds a script class Widget and an instance Hero referencing it.
type gameFixture struct {
	rt    *Runtime
	store *mapStore

	lib     *Package
	texture *Class
	stone   Obj

	game   *Package
	widget *Class
	hero   Obj
}

func newGameFixture(t testing.TB) *gameFixture {
	t.Helper()
	rt, store := newTestRuntime(t)
	f := &gameFixture{rt: rt, store: store}

	var err error
	f.lib, err = rt.NewPackage("Lib")
	mustNoErr(t, err)
	f.texture, err = rt.NewClass(f.lib, ClassSpec{
		Name:       "Texture",
		Properties: []PropertySpec{{Name: "Path", Kind: KindStr}},
	})
	mustNoErr(t, err)
	f.stone, err = rt.NewObject(f.texture, f.lib, "Stone", FlagPublic|FlagStandalone, nil)
	mustNoErr(t, err)
	f.stone.Base().Props().SetString("Path", 0, "textures/stone.png")

	f.game, err = rt.NewPackage("Game")
	mustNoErr(t, err)
	f.widget, err = rt.NewClass(f.game, ClassSpec{
		Name: "Widget",
		Properties: []PropertySpec{
			{Name: "Health", Kind: KindInt},
			{Name: "Skin", Kind: KindObject},
			{Name: "Title", Kind: KindStr},
			{Name: "Visible", Kind: KindBool},
			{Name: "Scores", Kind: KindInt, ArrayDim: 3},
		},
		Defaults: func(v Value) {
			v.SetInt("Health", 0, 100)
			v.SetBool("Visible", true)
		},
	})
	mustNoErr(t, err)
	f.hero, err = rt.NewObject(f.widget, f.game, "Hero", FlagStandalone, nil)
	mustNoErr(t, err)

	v := f.hero.Base().Props()
	v.SetInt("Health", 0, 75)
	v.SetObject("Skin", 0, f.stone)
	v.SetString("Title", 0, "Sir Ünïcode")
	v.SetInt("Scores", 2, 9)
	return f
}
