package predicate

// Combine merges a permission-derived predicate with a caller-supplied
// one into a single conjunction. The permission side is never dropped:
//
//   - a nil (always-true) permission returns the caller predicate
//     unchanged, possibly nil, meaning "no filter";
//   - a nil caller predicate returns the permission predicate;
//   - otherwise the result is the conjunction of both, caller first.
//
// Combining the same permission predicate again is idempotent: the
// clause is not duplicated.
func Combine(perm, caller P) P {
	if perm == nil {
		return caller
	}
	if caller == nil {
		return perm
	}
	if contains(caller, perm) {
		return caller
	}
	return &AndP{Xs: []P{caller, perm}}
}

// contains reports whether p already carries clause as a top-level
// conjunct.
func contains(p, clause P) bool {
	if Equal(p, clause) {
		return true
	}
	and, ok := p.(*AndP)
	if !ok {
		return false
	}
	for _, x := range and.Xs {
		if Equal(x, clause) {
			return true
		}
	}
	return false
}
