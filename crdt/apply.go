package crdt

import "errors"

// ErrMissingDeps is returned when an operation's deps are not a subset of
// the applied set.
var ErrMissingDeps = errors.New("crdt: operation deps not satisfied")

// ErrStructuralMismatch is returned when the cursor or mutation cannot be
// applied against the current shape of the tree (e.g. walking through a
// non-Map node, editing a missing or tombstoned key).
var ErrStructuralMismatch = errors.New("crdt: structural mismatch")

// Apply applies op to root, given the set of already-applied operation
// ids. On success, op.Id is inserted into applied and nil is returned. On
// failure, root and applied are left untouched and the returned error names
// the reason (ErrMissingDeps or ErrStructuralMismatch).
//
// The convergence argument: two replicas that have applied the same set of
// operations hold identical trees, because operations with disjoint
// cursors commute, and concurrent New/Edit operations on the same key
// resolve by the total order on LamportTimestamp — the operation with the
// greater (counter, replicaId) always ends up as the last write to that
// key, whichever order causal delivery presents them in. Delete dominates a
// concurrent Edit because a later Edit against a tombstoned key fails.
func Apply(root *JsonNode, op Operation, applied map[LamportTimestamp]struct{}) error {
	for _, dep := range op.Deps {
		if _, ok := applied[dep]; !ok {
			return ErrMissingDeps
		}
	}

	// Walk the existing part of the cursor without touching the tree; the
	// absent segments (rest) are auto-created only once the op is known to
	// succeed, so a failing op leaves root unchanged.
	target := root
	var rest []string
	for i, segment := range op.Cursor {
		if !target.IsMap() {
			return ErrStructuralMismatch
		}
		child, ok := target.Map[segment]
		if !ok {
			rest = op.Cursor[i:]
			break
		}
		target = child
	}
	if !target.IsMap() {
		return ErrStructuralMismatch
	}
	if len(rest) > 0 && op.Mutation.Kind != MutationNew && op.Mutation.Kind != MutationDelete {
		// An Edit (or unknown kind) under a freshly created Map cannot succeed.
		return ErrStructuralMismatch
	}
	for _, segment := range rest {
		child := NewMapNode()
		target.Map[segment] = child
		target = child
	}

	switch op.Mutation.Kind {
	case MutationNew:
		// Existing child, including a Tombstone, is overwritten: New is
		// last-writer-by-causal-order within the subtree.
		target.Map[op.Mutation.Key] = op.Mutation.Value
	case MutationEdit:
		existing, ok := target.Map[op.Mutation.Key]
		if !ok || existing.IsTombstone() {
			return ErrStructuralMismatch
		}
		target.Map[op.Mutation.Key] = op.Mutation.Value
	case MutationDelete:
		// Deleting an absent key is a no-op success: replacing nothing
		// with Tombstone at the cursor's terminal node is structurally
		// valid, it just creates a fresh tombstone entry.
		target.Map[op.Mutation.Key] = Tombstone
	default:
		return ErrStructuralMismatch
	}

	applied[op.Id] = struct{}{}
	return nil
}
