// Copyright (C) 2020-2026, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package wrappers holds small, dependency-free helpers shared by every
// afscore subsystem: an error accumulator for multi-step startup
// sequences and a big-endian byte packer/unpacker for store entry
// records.
package wrappers

import (
	"errors"
	"fmt"
	"strings"
	"sync"
)

// Errs is a collection of errors accumulated across several fallible
// steps (e.g. opening the bloom filters, the backend, the file index)
// that should all be attempted before the caller gives up.
type Errs struct {
	mu   sync.RWMutex
	errs []error
}

// Add adds an error to the collection. A nil error is a no-op.
func (e *Errs) Add(err error) {
	if err == nil {
		return
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	e.errs = append(e.errs, err)
}

// Errored returns true if any errors have been added.
func (e *Errs) Errored() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.errs) > 0
}

// Err returns the errors as a single error, or nil if none were added.
func (e *Errs) Err() error {
	e.mu.RLock()
	defer e.mu.RUnlock()

	switch len(e.errs) {
	case 0:
		return nil
	case 1:
		return e.errs[0]
	default:
		return errors.New(e.string())
	}
}

func (e *Errs) string() string {
	if len(e.errs) == 0 {
		return ""
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("%d error", len(e.errs)))
	if len(e.errs) != 1 {
		sb.WriteString("s")
	}
	sb.WriteString(" occurred:")

	for _, err := range e.errs {
		sb.WriteString("\n\t* ")
		sb.WriteString(err.Error())
	}

	return sb.String()
}

// Len returns the number of errors added.
func (e *Errs) Len() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.errs)
}
