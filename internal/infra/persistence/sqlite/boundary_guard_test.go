package sqlite

import (
	"testing"

	"entitycore/testutil"
)

// TestBoundaryGuards enforces that the driver never depends on the session
// layer, which wires drivers in and must stay on top of them.
func TestBoundaryGuards(t *testing.T) {
	testutil.AssertNoDirectImports(t, ".", testutil.CoreImportForbidden,
		"drivers do not import the session layer")
	testutil.AssertNoTransitiveDependency(t, ".", testutil.CoreImportForbidden,
		"drivers do not pull in the session layer")
}
