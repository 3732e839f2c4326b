package sites

import (
	"context"
	"errors"
	"fmt"
	"sort"
)

// ChangeSet aggregates unit upserts and deletions.
type ChangeSet struct {
	Upserts   []Revision `json:"upserts"`
	Deletions []string   `json:"deletions"`
}

// Merge combines another change set into the receiver.
func (c *ChangeSet) Merge(other ChangeSet) {
	if len(other.Upserts) > 0 {
		c.Upserts = append(c.Upserts, other.Upserts...)
	}
	if len(other.Deletions) > 0 {
		c.Deletions = append(c.Deletions, other.Deletions...)
	}
}

// IsEmpty reports whether there are no recorded changes.
func (c ChangeSet) IsEmpty() bool {
	return len(c.Upserts) == 0 && len(c.Deletions) == 0
}

// ChangeTarget consumes unit change notifications.
type ChangeTarget interface {
	ApplyChanges(ctx context.Context, changes ChangeSet) error
}

// InventoryDiff describes how the unit root moved between two scans.
type InventoryDiff struct {
	// Changed holds units that are new or whose state, file or mtime moved.
	Changed []Unit
	// Removed holds identifiers no longer present.
	Removed []string
}

// IsEmpty reports whether the two inventories matched.
func (d InventoryDiff) IsEmpty() bool {
	return len(d.Changed) == 0 && len(d.Removed) == 0
}

// DiffInventories compares two unit listings by identifier.
func DiffInventories(prev, next []Unit) InventoryDiff {
	before := make(map[string]Unit, len(prev))
	for _, u := range prev {
		before[u.Identifier] = u
	}

	var diff InventoryDiff
	for _, u := range next {
		old, ok := before[u.Identifier]
		delete(before, u.Identifier)
		if ok && old.State == u.State && old.File == u.File && old.LastModified.Equal(u.LastModified) {
			continue
		}
		diff.Changed = append(diff.Changed, u)
	}
	for id := range before {
		diff.Removed = append(diff.Removed, id)
	}
	sort.Strings(diff.Removed)
	return diff
}

// Dispatcher fans change sets out to every registered target.
type Dispatcher struct {
	targets []ChangeTarget
}

// Register adds a target; nil targets are ignored.
func (d *Dispatcher) Register(target ChangeTarget) {
	if target == nil {
		return
	}
	d.targets = append(d.targets, target)
}

// Len reports how many targets are registered.
func (d *Dispatcher) Len() int {
	return len(d.targets)
}

// ApplyChanges delivers changes to every target and joins their errors.
func (d *Dispatcher) ApplyChanges(ctx context.Context, changes ChangeSet) error {
	if changes.IsEmpty() {
		return nil
	}
	var errs []error
	for i, target := range d.targets {
		if err := target.ApplyChanges(ctx, changes); err != nil {
			errs = append(errs, fmt.Errorf("target %d (%T): %w", i, target, err))
		}
	}
	return errors.Join(errs...)
}
