package treesync

import (
	"context"
	"fmt"

	mapset "github.com/deckarep/golang-set/v2"
)

// diffChildren compares a directory's fresh source listing with the child
// ids the target knows under it. Children that moved in, moved out or changed
// are queued for their own diff; ids that went missing become potential
// deletions until the pass proves they did not just move elsewhere.
func (d *DiffEngine) diffChildren(ctx context.Context, tgt, src *Entry) error {
	children, err := d.source.Children(ctx, *src)
	if err != nil {
		return fmt.Errorf("list %s children of %s: %w", d.authoritative, src.Path, err)
	}
	knownIDs, err := d.target.ChildIDs(ctx, *tgt)
	if err != nil {
		return fmt.Errorf("list %s child ids of %s: %w", d.authoritative.Opposite(), tgt.Path, err)
	}

	known := mapset.NewThreadUnsafeSet(knownIDs...)
	listed := mapset.NewThreadUnsafeSet[string]()

	for _, c := range children {
		child := c
		if child.ID == "" {
			d.push(nil, &child)
			continue
		}
		listed.Add(child.ID)

		counterpart, err := d.target.ByID(ctx, child.ID)
		if err != nil {
			return fmt.Errorf("lookup %s by id: %w", d.authoritative.Opposite(), err)
		}

		if known.Contains(child.ID) {
			if counterpart != nil && d.differs(counterpart, &child) {
				d.push(counterpart, &child)
			}
			continue
		}

		// added here, possibly moved in from another directory
		d.potentialDeletions.Remove(child.ID)
		d.push(counterpart, &child)
	}

	for _, id := range knownIDs {
		if listed.Contains(id) || d.matched.Contains(id) {
			continue
		}
		d.potentialDeletions.Add(id)

		// already known to live elsewhere in the snapshot
		moved, err := d.source.ByID(ctx, id)
		if err != nil {
			return fmt.Errorf("lookup %s by id: %w", d.authoritative, err)
		}
		if moved == nil {
			continue
		}
		counterpart, err := d.target.ByID(ctx, id)
		if err != nil {
			return fmt.Errorf("lookup %s by id: %w", d.authoritative.Opposite(), err)
		}
		d.push(counterpart, moved)
	}
	return nil
}
