package vm

import "fmt"

// ---------------------------------------------------------------------------
// Script instructions
// ---------------------------------------------------------------------------

// Op is a script opcode. Only the serialization of scripts is defined here;
// executing them is up to the embedder.
type Op uint8

const (
	OpNop Op = iota
	OpPushInt
	OpPushFloat
	OpPushName
	OpPushObject
	OpCall
	OpJump
	OpReturn

	opCount
)

var opNames = [...]string{
	OpNop:        "nop",
	OpPushInt:    "pushint",
	OpPushFloat:  "pushfloat",
	OpPushName:   "pushname",
	OpPushObject: "pushobject",
	OpCall:       "call",
	OpJump:       "jump",
	OpReturn:     "return",
}

func (op Op) String() string {
	if op < opCount {
		return opNames[op]
	}
	return fmt.Sprintf("op(%d)", op)
}

// Instr is one script instruction. Operands live in typed fields instead of
// being packed into the opcode stream, so object and name operands can be
// walked like any other reference.
type Instr struct {
	Op    Op
	Int   int32   // PushInt value, Jump target
	Float float32 // PushFloat value
	Name  Name    // PushName value, Call target
	Obj   Obj     // PushObject value
}

func serializeInstr(ar Archive, in *Instr) {
	op := byte(in.Op)
	SerializeByte(ar, &op)
	if isLoading(ar) {
		*in = Instr{Op: Op(op)}
		if in.Op >= opCount {
			ar.SetErr(fmt.Errorf("%w: unknown opcode %d", ErrCorruptData, op))
			return
		}
	}

	switch in.Op {
	case OpPushInt, OpJump:
		SerializeCompact(ar, &in.Int)
	case OpPushFloat:
		SerializeFloat32(ar, &in.Float)
	case OpPushName, OpCall:
		ar.SerializeName(&in.Name)
	case OpPushObject:
		ar.SerializeObject(&in.Obj)
	}
}

// serializeScript transfers an instruction list as a count, the byte length
// of the encoded instructions, then the instructions. A length that does not
// match on load is logged; decoding trusts the instructions themselves.
func serializeScript(ar Archive, script *[]Instr) {
	loading := isLoading(ar)

	count := int32(len(*script))
	SerializeCompact(ar, &count)

	var size int32
	if !loading {
		c := NewCountingArchive(ar.Runtime(), ar)
		for i := range *script {
			serializeInstr(c, &(*script)[i])
		}
		size = int32(c.Count())
	}
	SerializeInt32(ar, &size)

	if loading {
		if ar.Err() != nil {
			return
		}
		if count < 0 || size < 0 {
			ar.SetErr(fmt.Errorf("%w: script count %d size %d", ErrCorruptData, count, size))
			return
		}
		// Every instruction takes at least one byte.
		if rem := remaining(ar); rem >= 0 && int64(count) > rem {
			ar.SetErr(fmt.Errorf("%w: script of %d instructions exceeds %d remaining bytes", ErrCorruptData, count, rem))
			return
		}
		*script = nil
		if count > 0 {
			*script = make([]Instr, count)
		}
	}

	start := ar.Tell()
	for i := range *script {
		serializeInstr(ar, &(*script)[i])
		if ar.Err() != nil {
			return
		}
	}

	if loading {
		if got := ar.Tell() - start; got != int64(size) {
			if rt := ar.Runtime(); rt != nil {
				rt.log.Warningf("script length mismatch: header says %d bytes, decoded %d", size, got)
			}
		}
	}
}
