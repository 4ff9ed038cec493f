// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package compiler

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path"
	"sync"
)

// Session holds the state shared by compilations: an ordered list of
// source trees searched for modules and a set of global macros applied
// to every compilation.
//
// Source trees are fs.FS values, so shader sources embedded in a binary
// with embed.FS are searched the same way as directories on disk.
//
// Session is safe for concurrent use.
type Session struct {
	mu      sync.RWMutex
	sources []fs.FS
	names   []string
	macros  []Macro
}

// SessionOption configures a Session.
type SessionOption func(*Session)

// WithSearchPath adds a directory to the search list.
func WithSearchPath(dir string) SessionOption {
	return func(s *Session) {
		s.addSource(dir, os.DirFS(dir))
	}
}

// WithSource adds a source tree to the search list.
func WithSource(name string, fsys fs.FS) SessionOption {
	return func(s *Session) {
		s.addSource(name, fsys)
	}
}

// WithMacro defines a global macro.
func WithMacro(name, value string) SessionOption {
	return func(s *Session) {
		s.setMacro(name, value)
	}
}

// NewSession creates a session. Sources are searched in the order given.
func NewSession(opts ...SessionOption) *Session {
	s := &Session{}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// AddSearchPath appends a directory to the search list.
func (s *Session) AddSearchPath(dir string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.addSource(dir, os.DirFS(dir))
}

// AddSource appends a source tree to the search list.
func (s *Session) AddSource(name string, fsys fs.FS) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.addSource(name, fsys)
}

// SetMacro defines or replaces a global macro.
func (s *Session) SetMacro(name, value string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.setMacro(name, value)
}

// Macros returns a copy of the global macros in definition order.
func (s *Session) Macros() []Macro {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]Macro(nil), s.macros...)
}

// SearchPaths returns the names of the source trees in search order.
func (s *Session) SearchPaths() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]string(nil), s.names...)
}

// ReadFile returns the contents of the first file named name found in the
// search list. The error wraps ErrModuleNotFound if no tree contains it.
func (s *Session) ReadFile(name string) ([]byte, error) {
	name = path.Clean(name)
	s.mu.RLock()
	sources := append([]fs.FS(nil), s.sources...)
	s.mu.RUnlock()

	for _, fsys := range sources {
		data, err := fs.ReadFile(fsys, name)
		if err == nil {
			return data, nil
		}
		if !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("compiler: read %s: %w", name, err)
		}
	}
	return nil, fmt.Errorf("%w: %s", ErrModuleNotFound, name)
}

func (s *Session) addSource(name string, fsys fs.FS) {
	s.sources = append(s.sources, fsys)
	s.names = append(s.names, name)
}

func (s *Session) setMacro(name, value string) {
	for i := range s.macros {
		if s.macros[i].Name == name {
			s.macros[i].Value = value
			return
		}
	}
	s.macros = append(s.macros, Macro{Name: name, Value: value})
}
