// Copyright (C) 2020-2026, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package bloom

import (
	"fmt"
	"path/filepath"

	"github.com/luxfi/afscore/blocktype"
	"github.com/luxfi/afscore/hash160"
)

const (
	contentFileName = "content_bloomfilter"
	superFileName   = "keyword_bloomfilter"
)

// Pair bundles the content filter and the SUPER filter, routing
// inserts, removals, and tests to the correct one by block type.
type Pair struct {
	Content *Filter
	Super   *Filter
}

// Open loads (or creates) both filters from dataDir, validating the
// persisted quota against configuredQuotaKB.
func Open(dataDir string, configuredQuotaKB uint32) (*Pair, error) {
	content, err := Load(filepath.Join(dataDir, contentFileName), configuredQuotaKB)
	if err != nil {
		return nil, fmt.Errorf("bloom: content filter: %w", err)
	}
	super, err := Load(filepath.Join(dataDir, superFileName), configuredQuotaKB)
	if err != nil {
		return nil, fmt.Errorf("bloom: super filter: %w", err)
	}
	return &Pair{Content: content, Super: super}, nil
}

// Save persists both filters to dataDir.
func (p *Pair) Save(dataDir string) error {
	if err := p.Content.Save(filepath.Join(dataDir, contentFileName)); err != nil {
		return err
	}
	return p.Super.Save(filepath.Join(dataDir, superFileName))
}

// filterFor routes a block type to the filter it belongs in. CHKS
// (an indexed CHK) shares the content filter's namespace with CHK;
// it is never tested or added directly because indexed content is
// looked up through the file-index table instead, matching the
// original bf_deleteEntryCallback's silent no-op for CHKS.
func (p *Pair) filterFor(t blocktype.Type) *Filter {
	if t == blocktype.Super {
		return p.Super
	}
	return p.Content
}

// Add registers key as present for block type t. CHKS is a no-op.
func (p *Pair) Add(t blocktype.Type, key hash160.Hash) {
	if t == blocktype.CHKS {
		return
	}
	p.filterFor(t).Add(key)
}

// Remove is the eviction delete-callback: it inspects the evicted
// block's type and decrements the correct filter.
func (p *Pair) Remove(t blocktype.Type, key hash160.Hash) {
	if t == blocktype.CHKS {
		return
	}
	p.filterFor(t).Remove(key)
}

// Test reports whether key may be present for block type t (or, for
// a query with an unknown type, whether the content filter might
// hold it — callers test both filters explicitly when the type is
// genuinely ambiguous).
func (p *Pair) Test(t blocktype.Type, key hash160.Hash) bool {
	return p.filterFor(t).Test(key)
}
