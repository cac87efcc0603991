// Package loader resolves module identifiers to WebAssembly bytecode.
//
// A [Dir] maps an identifier such as "echo" to the file "echo.wasm" inside a
// module directory. Every call re-reads and re-validates the file: nothing is
// cached between calls, so replacing a module on disk takes effect on the
// next request.
//
//	l := loader.New("/srv/modules")
//	guest, err := l.Load(ctx, "echo")
//	if errors.Is(err, loader.ErrNotFound) {
//	    // 404
//	}
package loader

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
)

// Extension is appended to a module identifier to form its file name.
const Extension = ".wasm"

// DefaultMaxModuleSize bounds the size of a module file.
const DefaultMaxModuleSize = 64 << 20

const maxIDLength = 128

var (
	ErrInvalidID     = errors.New("invalid module identifier")
	ErrNotFound      = errors.New("module not found")
	ErrTooLarge      = errors.New("module too large")
	ErrInvalidBinary = errors.New("not a WebAssembly binary")
)

var (
	idPattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._-]*$`)
	preamble  = []byte{0x00, 0x61, 0x73, 0x6d, 0x01, 0x00, 0x00, 0x00}
)

// Guest is a resolved module ready to be compiled.
type Guest struct {
	ID     string
	Path   string
	Bytes  []byte
	Digest string // hex sha256 of Bytes
}

// Dir loads modules from a filesystem.
type Dir struct {
	fsys    fs.FS
	root    string
	maxSize int64
}

// Option configures a Dir.
type Option func(*Dir)

// WithMaxModuleSize sets the largest accepted module file in bytes.
func WithMaxModuleSize(n int64) Option {
	return func(d *Dir) {
		if n > 0 {
			d.maxSize = n
		}
	}
}

// New returns a Dir reading modules from the host directory dir.
func New(dir string, opts ...Option) *Dir {
	d := NewFS(os.DirFS(dir), opts...)
	d.root = dir
	return d
}

// NewFS returns a Dir reading modules from fsys.
func NewFS(fsys fs.FS, opts ...Option) *Dir {
	d := &Dir{fsys: fsys, maxSize: DefaultMaxModuleSize}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Load resolves id to a Guest. Errors wrap ErrInvalidID, ErrNotFound,
// ErrTooLarge or ErrInvalidBinary.
func (d *Dir) Load(ctx context.Context, id string) (*Guest, error) {
	if err := ValidateID(id); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	name := id + Extension
	f, err := d.fsys.Open(name)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
		}
		return nil, fmt.Errorf("open %s: %w", name, err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, fmt.Errorf("stat %s: %w", name, err)
	}
	if !info.Mode().IsRegular() {
		return nil, fmt.Errorf("%w: %s is not a regular file", ErrNotFound, id)
	}
	if info.Size() > d.maxSize {
		return nil, fmt.Errorf("%w: %s is %d bytes, limit %d", ErrTooLarge, id, info.Size(), d.maxSize)
	}

	// The file may grow between Stat and Read.
	data, err := io.ReadAll(io.LimitReader(f, d.maxSize+1))
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", name, err)
	}
	if int64(len(data)) > d.maxSize {
		return nil, fmt.Errorf("%w: %s exceeds %d bytes", ErrTooLarge, id, d.maxSize)
	}
	if !bytes.HasPrefix(data, preamble) {
		return nil, fmt.Errorf("%w: %s", ErrInvalidBinary, id)
	}

	sum := sha256.Sum256(data)
	path := name
	if d.root != "" {
		path = filepath.Join(d.root, name)
	}
	return &Guest{
		ID:     id,
		Path:   path,
		Bytes:  data,
		Digest: hex.EncodeToString(sum[:]),
	}, nil
}

// ValidateID reports whether id can name a module file. Identifiers may not
// contain path separators or start with a dot.
func ValidateID(id string) error {
	if id == "" || len(id) > maxIDLength || !idPattern.MatchString(id) {
		return fmt.Errorf("%w: %q", ErrInvalidID, id)
	}
	return nil
}
