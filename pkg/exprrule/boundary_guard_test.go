package exprrule

import (
	"testing"

	"entitycore/testutil"
)

// TestBoundaryGuards enforces that declarative rules layer on the entity
// runtime alone and never reach into the session or infrastructure layers.
func TestBoundaryGuards(t *testing.T) {
	testutil.AssertNoDirectImports(t, ".", testutil.RuntimeOnlyImportForbidden,
		"the runtime is the only module-local import")
	testutil.AssertNoTransitiveDependency(t, ".", func(p string) bool {
		// The listing includes this package itself.
		return p != "entitycore/pkg/exprrule" && testutil.RuntimeOnlyImportForbidden(p)
	}, "the runtime is the only module-local dependency")
}
