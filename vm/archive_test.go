package vm

import (
	"errors"
	"testing"
)

func TestSerializeStringEncodings(t *testing.T) {
	tests := []struct {
		text string
		size int
	}{
		{"", 1},
		{"café", 1 + 5},
		{"日本", 1 + 2*3},
		{"Ωmega", 1 + 2*6},
	}
	for _, tt := range tests {
		w := NewMemoryWriter(nil, ArPersistent)
		s := tt.text
		SerializeString(w, &s)
		if got := len(w.Bytes()); got != tt.size {
			t.Errorf("%q: got %d bytes, want %d", tt.text, got, tt.size)
		}

		var back string
		r := NewMemoryReader(nil, w.Bytes(), ArPersistent)
		SerializeString(r, &back)
		if r.Err() != nil {
			t.Errorf("%q: %v", tt.text, r.Err())
			continue
		}
		if back != tt.text {
			t.Errorf("round trip: got %q, want %q", back, tt.text)
		}
	}
}

func TestSerializeStringTruncated(t *testing.T) {
	w := NewMemoryWriter(nil, ArPersistent)
	s := "a longer piece of text"
	SerializeString(w, &s)
	data := w.Bytes()

	var back string
	r := NewMemoryReader(nil, data[:len(data)-4], ArPersistent)
	SerializeString(r, &back)
	if !errors.Is(r.Err(), ErrCorruptData) {
		t.Errorf("got %v, want ErrCorruptData", r.Err())
	}
	if back != "" {
		t.Errorf("truncated text decoded to %q", back)
	}
}

func TestSerializeStringRejectsLossyText(t *testing.T) {
	for _, text := range []string{"nul\x00inside", "bad \xff byte"} {
		w := NewMemoryWriter(nil, ArPersistent)
		s := text
		SerializeString(w, &s)
		if !errors.Is(w.Err(), ErrInvalidText) {
			t.Errorf("%q: got %v, want ErrInvalidText", text, w.Err())
		}
	}

	f := newGameFixture(t)
	f.hero.Base().Props().SetString("Title", 0, "Sir\x00Nobody")
	if err := f.rt.SavePackage(f.game, SaveOptions{}); !errors.Is(err, ErrInvalidText) {
		t.Errorf("saving a title with a zero: got %v, want ErrInvalidText", err)
	}
	if _, err := f.store.Open("Game"); !errors.Is(err, ErrPackageNotFound) {
		t.Error("a failed save reached the store")
	}
}

func TestCountingArchive(t *testing.T) {
	rt := NewRuntime(Options{})
	w := NewMemoryWriter(rt, ArPersistent)
	c := NewCountingArchive(rt, w)

	s := "café"
	SerializeString(c, &s)
	n := rt.Names.Intern("Counted")
	c.SerializeName(&n)
	var o Obj = rt.CorePackage()
	c.SerializeObject(&o)

	if got := c.Count(); got != 6+4+8 {
		t.Errorf("counted %d bytes, want %d", got, 6+4+8)
	}
	if len(w.Bytes()) != 0 {
		t.Error("counting wrote to its parent")
	}
	if c.Flags().Has(ArSaving) || c.Flags().Has(ArLoading) {
		t.Errorf("counting archive flags %b claim a direction", c.Flags())
	}
}

func TestChecksumIgnoresNameCase(t *testing.T) {
	build := func(weapon, motto string) uint64 {
		rt := NewRuntime(Options{})
		pkg, err := rt.NewPackage("Armory")
		mustNoErr(t, err)
		c, err := rt.NewClass(pkg, ClassSpec{
			Name: "Rack",
			Properties: []PropertySpec{
				{Name: "Weapon", Kind: KindName},
				{Name: "Motto", Kind: KindStr},
			},
		})
		mustNoErr(t, err)
		o, err := rt.NewObject(c, pkg, "Main", FlagStandalone, nil)
		mustNoErr(t, err)
		v := o.Base().Props()
		v.SetName("Weapon", 0, rt.Names.Intern(weapon))
		v.SetString("Motto", 0, motto)
		return rt.Checksum(o)
	}

	a := build("Sword", "steel")
	if b := build("SWORD", "steel"); a != b {
		t.Errorf("name case changed the checksum: %x vs %x", a, b)
	}
	if b := build("Sword", "Steel"); a == b {
		t.Error("text case did not change the checksum")
	}
	if b := build("Axe", "steel"); a == b {
		t.Error("a different name kept the checksum")
	}
}
