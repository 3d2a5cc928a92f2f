package vm

import (
	"errors"
	"testing"
)

func TestLinkBoolAfterSuper(t *testing.T) {
	rt := NewRuntime(Options{})
	base, err := rt.RegisterStruct(StructSpec{
		Name:       "Base",
		Properties: []PropertySpec{{Name: "Count", Kind: KindInt}},
	})
	mustNoErr(t, err)
	widget, err := rt.RegisterStruct(StructSpec{
		Name:       "Widget",
		Super:      base,
		Properties: []PropertySpec{{Name: "Enabled", Kind: KindBool}},
	})
	mustNoErr(t, err)

	if base.PropertiesSize != 4 {
		t.Errorf("Base size: got %d, want 4", base.PropertiesSize)
	}
	if widget.PropertiesSize != 8 {
		t.Errorf("Widget size: got %d, want 8", widget.PropertiesSize)
	}
	enabled := widget.Props[0]
	if enabled.Offset != 4 {
		t.Errorf("Enabled offset: got %d, want 4", enabled.Offset)
	}
	if enabled.BitMask != 1 {
		t.Errorf("Enabled mask: got %#x, want 0x1", enabled.BitMask)
	}
	if got := len(widget.PropertyLink()); got != 2 {
		t.Errorf("property link length: got %d, want 2", got)
	}
}

func TestLinkPacksAdjacentBools(t *testing.T) {
	rt := NewRuntime(Options{})
	s, err := rt.RegisterStruct(StructSpec{
		Name: "Flags",
		Properties: []PropertySpec{
			{Name: "A", Kind: KindBool},
			{Name: "B", Kind: KindBool},
			{Name: "N", Kind: KindByte},
			{Name: "C", Kind: KindBool},
		},
	})
	mustNoErr(t, err)

	a, b, n, c := s.Props[0], s.Props[1], s.Props[2], s.Props[3]
	if a.Offset != b.Offset || b.BitMask != a.BitMask<<1 {
		t.Errorf("A and B should share a word: A at %d mask %#x, B at %d mask %#x", a.Offset, a.BitMask, b.Offset, b.BitMask)
	}
	if n.Offset != 4 {
		t.Errorf("N offset: got %d, want 4", n.Offset)
	}
	// A non-bool ends the run, so C starts a fresh word.
	if c.Offset != 8 || c.BitMask != 1 {
		t.Errorf("C: got offset %d mask %#x, want 8 and 0x1", c.Offset, c.BitMask)
	}
	if s.PropertiesSize != 12 {
		t.Errorf("size: got %d, want 12", s.PropertiesSize)
	}
}

func TestLinkAlignsNestedStructs(t *testing.T) {
	rt := NewRuntime(Options{})
	plane, err := rt.RegisterStruct(StructSpec{
		Name: "Plane",
		Properties: []PropertySpec{
			{Name: "X", Kind: KindFloat},
			{Name: "Y", Kind: KindFloat},
			{Name: "Z", Kind: KindFloat},
			{Name: "W", Kind: KindFloat},
		},
	})
	mustNoErr(t, err)
	if plane.MinAlign != 16 || plane.PropertiesSize != 16 {
		t.Fatalf("Plane: got size %d align %d, want 16 and 16", plane.PropertiesSize, plane.MinAlign)
	}

	holder, err := rt.RegisterStruct(StructSpec{
		Name: "Holder",
		Properties: []PropertySpec{
			{Name: "Tag", Kind: KindByte},
			{Name: "Clip", Kind: KindStruct, Struct: plane, ArrayDim: 2},
		},
	})
	mustNoErr(t, err)
	clip := holder.Props[1]
	if clip.Offset != 16 {
		t.Errorf("Clip offset: got %d, want 16", clip.Offset)
	}
	if clip.Size() != 32 {
		t.Errorf("Clip size: got %d, want 32", clip.Size())
	}
	if holder.PropertiesSize != 48 {
		t.Errorf("Holder size: got %d, want 48", holder.PropertiesSize)
	}
}

func TestLinkIsDeterministic(t *testing.T) {
	layout := func() []int {
		rt := NewRuntime(Options{})
		s, err := rt.RegisterStruct(StructSpec{
			Name: "Mixed",
			Properties: []PropertySpec{
				{Name: "B", Kind: KindByte},
				{Name: "Ok", Kind: KindBool},
				{Name: "Label", Kind: KindStr},
				{Name: "Target", Kind: KindObject},
				{Name: "Tag", Kind: KindName, ArrayDim: 2},
			},
		})
		mustNoErr(t, err)
		var out []int
		for _, p := range s.Props {
			out = append(out, p.Offset, int(p.BitMask))
		}
		return append(out, s.PropertiesSize)
	}

	first, second := layout(), layout()
	if len(first) != len(second) {
		t.Fatalf("layouts differ in length: %v vs %v", first, second)
	}
	for i := range first {
		if first[i] != second[i] {
			t.Fatalf("layouts differ: %v vs %v", first, second)
		}
	}
}

func TestRelinkKeepsOffsets(t *testing.T) {
	rt := NewRuntime(Options{})
	s, err := rt.RegisterStruct(StructSpec{
		Name: "Keep",
		Properties: []PropertySpec{
			{Name: "A", Kind: KindInt},
			{Name: "B", Kind: KindByte},
		},
	})
	mustNoErr(t, err)
	offA, offB := s.Props[0].Offset, s.Props[1].Offset

	s.Link(false)
	if s.Props[0].Offset != offA || s.Props[1].Offset != offB {
		t.Errorf("offsets moved: got %d,%d want %d,%d", s.Props[0].Offset, s.Props[1].Offset, offA, offB)
	}
	if s.PropertiesSize != 8 {
		t.Errorf("size: got %d, want 8", s.PropertiesSize)
	}
}

func TestStructPropertyNeedsLinkedType(t *testing.T) {
	rt := NewRuntime(Options{})
	unlinked := &Struct{}
	_, err := rt.RegisterStruct(StructSpec{
		Name:       "Bad",
		Properties: []PropertySpec{{Name: "Inner", Kind: KindStruct, Struct: unlinked}},
	})
	if !errors.Is(err, ErrNotLinked) {
		t.Fatalf("got %v, want ErrNotLinked", err)
	}
}

func TestLinkBoolArrayIsFatal(t *testing.T) {
	rt := NewRuntime(Options{})
	defer func() {
		r := recover()
		if _, ok := r.(*FatalError); !ok {
			t.Fatalf("got panic %v, want *FatalError", r)
		}
	}()
	rt.RegisterStruct(StructSpec{
		Name:       "BoolArray",
		Properties: []PropertySpec{{Name: "Bits", Kind: KindBool, ArrayDim: 4}},
	})
}

func TestValueAccessors(t *testing.T) {
	rt := NewRuntime(Options{})
	point, err := rt.RegisterStruct(StructSpec{
		Name: "Point",
		Properties: []PropertySpec{
			{Name: "X", Kind: KindFloat},
			{Name: "Y", Kind: KindFloat},
		},
	})
	mustNoErr(t, err)
	c, err := rt.RegisterClass(ClassSpec{
		Name: "Marker",
		Properties: []PropertySpec{
			{Name: "Label", Kind: KindStr},
			{Name: "Kind", Kind: KindName},
			{Name: "At", Kind: KindStruct, Struct: point},
			{Name: "Shown", Kind: KindBool},
			{Name: "Level", Kind: KindByte},
		},
		Defaults: func(v Value) {
			v.SetString("Label", 0, "unnamed")
			v.SetBool("Shown", true)
		},
	})
	mustNoErr(t, err)

	pkg, err := rt.NewPackage("Map")
	mustNoErr(t, err)
	o, err := rt.NewObject(c, pkg, "M1", 0, nil)
	mustNoErr(t, err)
	v := o.Base().Props()

	if got := v.GetString("Label", 0); got != "unnamed" {
		t.Errorf("default Label: got %q, want %q", got, "unnamed")
	}
	if !v.GetBool("Shown") {
		t.Error("default Shown: got false, want true")
	}

	v.SetName("Kind", 0, rt.Names.Intern("Waypoint"))
	v.StructAt("At", 0).SetFloat("Y", 0, 2.5)
	v.SetByte("Level", 0, 3)

	if got := rt.Names.String(v.GetName("Kind", 0)); got != "Waypoint" {
		t.Errorf("Kind: got %q", got)
	}
	if got := v.StructAt("At", 0).GetFloat("Y", 0); got != 2.5 {
		t.Errorf("At.Y: got %v, want 2.5", got)
	}
	if got := v.GetByte("Level", 0); got != 3 {
		t.Errorf("Level: got %d, want 3", got)
	}

	// The default object keeps its own copy of the text.
	v.SetString("Label", 0, "changed")
	if got := c.Default.Base().Props().GetString("Label", 0); got != "unnamed" {
		t.Errorf("class default Label: got %q, want %q", got, "unnamed")
	}
}

func TestValueWrongKindPanics(t *testing.T) {
	rt := NewRuntime(Options{})
	c, err := rt.RegisterClass(ClassSpec{
		Name:       "Counter",
		Properties: []PropertySpec{{Name: "N", Kind: KindInt}},
	})
	mustNoErr(t, err)

	defer func() {
		if recover() == nil {
			t.Fatal("expected a panic reading an int as a string")
		}
	}()
	c.Default.Base().Props().GetString("N", 0)
}
