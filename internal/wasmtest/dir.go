package wasmtest

import (
	"fmt"
	"os"
	"path/filepath"
	"testing"
)

// Dir writes each guest to <name>.wasm in a fresh temporary directory and
// returns the directory.
func Dir(tb testing.TB, guests map[string][]byte) string {
	tb.Helper()
	dir := tb.TempDir()
	if err := WriteDir(dir, guests); err != nil {
		tb.Fatal(err)
	}
	return dir
}

// WriteDir writes each guest to dir/<name>.wasm. It is for callers without
// a testing.TB, such as TestMain.
func WriteDir(dir string, guests map[string][]byte) error {
	for name, bin := range guests {
		if err := os.WriteFile(filepath.Join(dir, name+".wasm"), bin, 0o644); err != nil {
			return fmt.Errorf("write guest %s: %w", name, err)
		}
	}
	return nil
}

// Standard returns the fixture set most tests start from, keyed by module
// identifier.
func Standard() map[string][]byte {
	return map[string][]byte{
		"echo":          Echo(),
		"hello":         Write([]byte("hello\n")),
		"empty":         Empty(),
		"trap":          Trap(),
		"oob":           OutOfBounds(),
		"spin":          Spin(),
		"noentry":       NoEntry(),
		"badentry":      BadEntry(),
		"unknownimport": UnknownImport(),
		"badimport":     MismatchedImport(),
		"importglobal":  ImportGlobal(),
		"importtable":   ImportTable(),
		"importmemory":  ImportMemory(),
		"starttrap":     StartTrap(),
		"binary":        Write([]byte{0xff, 0xfe, 0x00, 0x80}),
		"stderr":        WriteTo(2, []byte("noise\n")),
		"exit0":         WriteAndExit([]byte("bye\n"), 0),
		"exit3":         WriteAndExit([]byte("partial\n"), 3),
		"corrupt":       {0x00, 0x61, 0x73, 0x6d, 0x01, 0x00, 0x00, 0x00, 0x01, 0xff},
	}
}
