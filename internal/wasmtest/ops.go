package wasmtest

const (
	opUnreachable = 0x00
	opBlock       = 0x02
	opLoop        = 0x03
	opIf          = 0x04
	opEnd         = 0x0b
	opBr          = 0x0c
	opBrIf        = 0x0d
	opCall        = 0x10
	opDrop        = 0x1a
	opLocalGet    = 0x20
	opLocalSet    = 0x21
	opI32Load     = 0x28
	opI32Load8U   = 0x2d
	opI32Store    = 0x36
	opI32Store8   = 0x3a
	opI32Const    = 0x41
	opI32Eqz      = 0x45
	opI32GeU      = 0x4f
	opI32Add      = 0x6a

	blockEmpty = 0x40
)

// Instruction helpers. Each returns the encoded bytes of one instruction.

func Unreachable() []byte { return []byte{opUnreachable} }
func Drop() []byte { return []byte{opDrop} }
func End() []byte { return []byte{opEnd} }
func I32Add() []byte { return []byte{opI32Add} }
func I32Eqz() []byte { return []byte{opI32Eqz} }
func I32GeU() []byte { return []byte{opI32GeU} }
func Block() []byte { return []byte{opBlock, blockEmpty} }
func Loop() []byte { return []byte{opLoop, blockEmpty} }
func If() []byte { return []byte{opIf, blockEmpty} }

func I32Const(v int32) []byte { return append([]byte{opI32Const}, sleb(int64(v))...) }
func Call(fn uint32) []byte { return append([]byte{opCall}, uleb(uint64(fn))...) }
func Br(depth uint32) []byte { return append([]byte{opBr}, uleb(uint64(depth))...) }
func BrIf(depth uint32) []byte { return append([]byte{opBrIf}, uleb(uint64(depth))...) }
func LocalGet(idx uint32) []byte { return append([]byte{opLocalGet}, uleb(uint64(idx))...) }
func LocalSet(idx uint32) []byte { return append([]byte{opLocalSet}, uleb(uint64(idx))...) }
func I32Load() []byte { return []byte{opI32Load, 0x02, 0x00} }
func I32Load8U() []byte { return []byte{opI32Load8U, 0x00, 0x00} }
func I32Store() []byte { return []byte{opI32Store, 0x02, 0x00} }
func I32Store8() []byte { return []byte{opI32Store8, 0x00, 0x00} }
