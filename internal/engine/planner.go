package engine

import "github.com/roach88/corpussync/internal/doi"

// Plan returns the identities present in canonical but not in local.
func Plan(canonical, local doi.Set) doi.Set {
	return canonical.Difference(local)
}
