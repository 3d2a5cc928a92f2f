package vm

import (
	"errors"
	"testing"
)

func TestScriptSurvivesSave(t *testing.T) {
	f := newGameFixture(t)
	combo, err := f.rt.NewStruct(f.game, StructSpec{
		Name:       "Combo",
		Properties: []PropertySpec{{Name: "Hits", Kind: KindInt}},
	})
	mustNoErr(t, err)
	combo.Script = []Instr{
		{Op: OpPushInt, Int: -300},
		{Op: OpPushFloat, Float: 2.5},
		{Op: OpPushName, Name: f.rt.Names.Intern("Attack")},
		{Op: OpPushObject, Obj: f.stone},
		{Op: OpCall, Name: f.rt.Names.Intern("Strike")},
		{Op: OpJump, Int: 0},
		{Op: OpReturn},
	}
	mustNoErr(t, f.rt.SavePackage(f.lib, SaveOptions{}))
	mustNoErr(t, f.rt.SavePackage(f.game, SaveOptions{}))

	rt := NewRuntime(Options{Store: f.store})
	_, err = rt.LoadPackage("Game")
	mustNoErr(t, err)
	loaded, ok := rt.FindPath("Game.Combo").(*Struct)
	if !ok {
		t.Fatal("Game.Combo did not load as a struct")
	}
	got := loaded.Script
	if len(got) != len(combo.Script) {
		t.Fatalf("instructions: got %d, want %d", len(got), len(combo.Script))
	}
	if got[0].Int != -300 || got[1].Float != 2.5 || got[5].Op != OpJump || got[6].Op != OpReturn {
		t.Errorf("operands changed: %+v", got)
	}
	if rt.Names.String(got[2].Name) != "Attack" || rt.Names.String(got[4].Name) != "Strike" {
		t.Errorf("name operands: got %q and %q", rt.Names.String(got[2].Name), rt.Names.String(got[4].Name))
	}
	if got[3].Obj != rt.FindPath("Lib.Stone") || got[3].Obj == nil {
		t.Error("object operand did not resolve to Lib.Stone")
	}
}

func TestScriptRejectsUnknownOpcode(t *testing.T) {
	rt := NewRuntime(Options{})
	w := NewMemoryWriter(rt, ArPersistent)
	script := []Instr{{Op: OpNop}, {Op: OpReturn}}
	serializeScript(w, &script)
	data := w.Bytes()
	data[len(data)-1] = byte(opCount)

	var back []Instr
	r := NewMemoryReader(rt, data, ArPersistent)
	serializeScript(r, &back)
	if !errors.Is(r.Err(), ErrCorruptData) {
		t.Errorf("got %v, want ErrCorruptData", r.Err())
	}
}

func TestOpString(t *testing.T) {
	if OpPushObject.String() != "pushobject" {
		t.Errorf("got %q", OpPushObject.String())
	}
	if got := Op(200).String(); got != "op(200)" {
		t.Errorf("got %q", got)
	}
}
