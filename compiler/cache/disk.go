// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package cache

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/fxamacker/cbor/v2"

	"github.com/gogpu/gpuhal/compiler"
)

// formatVersion changes whenever the entry layout or key derivation does.
const formatVersion = 1

// entry is the on-disk form of a cached program.
type entry struct {
	Version int              `cbor:"v"`
	Key     uint64           `cbor:"k"`
	Program compiler.Program `cbor:"p"`
}

// disk stores one cbor file per program under dir.
type disk struct {
	dir string
}

func (d *disk) path(key uint64) string {
	return filepath.Join(d.dir, fmt.Sprintf("%016x.cbor", key))
}

// load returns the program stored under key. A missing file, a file from
// another format version and a file for a different key all report a miss.
func (d *disk) load(key uint64) (*compiler.Program, bool, error) {
	f, err := os.Open(d.path(key))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	defer f.Close()

	var e entry
	if err := cbor.NewDecoder(f).Decode(&e); err != nil {
		return nil, false, fmt.Errorf("decode %s: %w", f.Name(), err)
	}
	if e.Version != formatVersion || e.Key != key {
		return nil, false, nil
	}
	return &e.Program, true, nil
}

// store writes the program through a temporary file renamed into place,
// so concurrent readers never see a partial entry.
func (d *disk) store(key uint64, prog *compiler.Program) error {
	if err := os.MkdirAll(d.dir, 0o755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(d.dir, ".entry-*")
	if err != nil {
		return err
	}
	e := entry{Version: formatVersion, Key: key, Program: *prog}
	if err := cbor.NewEncoder(tmp).Encode(&e); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("encode entry: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return err
	}
	if err := os.Rename(tmp.Name(), d.path(key)); err != nil {
		os.Remove(tmp.Name())
		return err
	}
	return nil
}

// clear removes every entry file.
func (d *disk) clear() error {
	matches, err := filepath.Glob(filepath.Join(d.dir, "*.cbor"))
	if err != nil {
		return err
	}
	var errs []error
	for _, m := range matches {
		if err := os.Remove(m); err != nil && !errors.Is(err, fs.ErrNotExist) {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
