package wasmtest

import (
	"bytes"
	"context"
	"testing"

	"github.com/tetratelabs/wazero"
)

func TestLEB128(t *testing.T) {
	tests := []struct {
		name string
		got  []byte
		want []byte
	}{
		{"uleb zero", uleb(0), []byte{0x00}},
		{"uleb 127", uleb(127), []byte{0x7f}},
		{"uleb 128", uleb(128), []byte{0x80, 0x01}},
		{"uleb 624485", uleb(624485), []byte{0xe5, 0x8e, 0x26}},
		{"sleb 0", sleb(0), []byte{0x00}},
		{"sleb 63", sleb(63), []byte{0x3f}},
		{"sleb 64", sleb(64), []byte{0xc0, 0x00}},
		{"sleb -1", sleb(-1), []byte{0x7f}},
		{"sleb -123456", sleb(-123456), []byte{0xc0, 0xbb, 0x78}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if !bytes.Equal(tt.got, tt.want) {
				t.Errorf("got % x, want % x", tt.got, tt.want)
			}
		})
	}
}

func TestPreamble(t *testing.T) {
	bin := Empty()
	want := []byte{0x00, 0x61, 0x73, 0x6d, 0x01, 0x00, 0x00, 0x00}
	if !bytes.HasPrefix(bin, want) {
		t.Fatalf("missing preamble: % x", bin[:8])
	}
}

func TestFixturesCompile(t *testing.T) {
	ctx := context.Background()
	rt := wazero.NewRuntimeWithConfig(ctx, wazero.NewRuntimeConfigInterpreter())
	defer rt.Close(ctx)

	for name, bin := range Standard() {
		t.Run(name, func(t *testing.T) {
			compiled, err := rt.CompileModule(ctx, bin)
			if name == "corrupt" {
				if err == nil {
					t.Fatal("expected corrupt fixture to fail compilation")
				}
				return
			}
			if err != nil {
				t.Fatalf("compile: %v", err)
			}
			compiled.Close(ctx)
		})
	}
}

func TestImportsBeforeFuncs(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Error("expected panic when importing after defining a function")
		}
	}()
	m := NewModule()
	m.Func(nil, nil, nil)
	m.ImportFunc("env", "late", nil, nil)
}
