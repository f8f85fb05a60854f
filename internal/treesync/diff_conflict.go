package treesync

import "log/slog"

// verdict is what conflict detection decides for the rest of a pair.
type verdict uint8

const (
	verdictContinue verdict = iota
	verdictHalt
)

// staleConflict names a target that changed after the source snapshot was
// taken, from the point of view of the authoritative side.
func (d *DiffEngine) staleConflict() ActionType {
	if d.authoritative == SideRemote {
		return ConflictLocalIsNewer
	}
	return ConflictRemoteIsNewer
}

// checkConflicts emits every conflict found for a pair, then decides whether
// diffing the pair may go on. Staleness only counts when the pair would
// otherwise produce an action, so an unchanged pair stays silent.
func (d *DiffEngine) checkConflicts(tgt, src *Entry) verdict {
	var found []ActionType

	if d.differs(tgt, src) &&
		!tgt.LastModified.IsZero() && !src.LastModified.IsZero() &&
		tgt.LastModified.After(src.LastModified) {
		found = append(found, d.staleConflict())
	}
	if tgt.ID != "" && src.ID != "" && tgt.ID != src.ID {
		found = append(found, ConflictDifferentIDs)
	}
	if tgt.IsDir() != src.IsDir() {
		found = append(found, ConflictIncompatibleTypes)
	}

	if len(found) == 0 {
		return verdictContinue
	}
	for _, t := range found {
		slog.Debug("diff conflict", "type", t, "path", src.Path)
		d.emit(t, tgt, src)
	}
	if d.opts.ContinueAfterConflict {
		return verdictContinue
	}
	return verdictHalt
}
