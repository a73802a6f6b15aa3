package core

import (
	"go/types"
	"testing"

	"golang.org/x/tools/go/packages"
)

// TestRepositoryImplementationsHardening ensures only sanctioned persistence
// packages provide concrete implementations of the entity.Repository
// interface. This guards architectural drift from introducing additional
// backends outside the vetted locations (memory + sqlite + postgres) without
// an explicit test update.
func TestRepositoryImplementationsHardening(t *testing.T) {
	cfg := &packages.Config{Mode: packages.NeedName | packages.NeedTypes, Tests: true}
	pkgs, err := packages.Load(cfg, "entitycore/...")
	if err != nil {
		t.Fatalf("load packages: %v", err)
	}

	var repository *types.Interface
	for _, p := range pkgs {
		if p.PkgPath == "entitycore/pkg/entity" {
			obj := p.Types.Scope().Lookup("Repository")
			if obj == nil {
				t.Fatalf("entity.Repository not found")
			}
			iface, ok := obj.Type().Underlying().(*types.Interface)
			if !ok {
				t.Fatalf("entity.Repository is not an interface")
			}
			repository = iface
		}
	}
	if repository == nil {
		t.Fatalf("failed to resolve Repository interface")
	}

	allowed := map[string]struct{}{
		"entitycore/internal/infra/persistence/memory":   {},
		"entitycore/internal/infra/persistence/sqlite":   {},
		"entitycore/internal/infra/persistence/postgres": {},
		"entitycore/internal/core":                       {}, // in-package test doubles
	}
	var unexpected []string
	for _, p := range pkgs {
		if p.Types == nil || p.Types.Scope() == nil {
			continue
		}
		for _, name := range p.Types.Scope().Names() {
			obj := p.Types.Scope().Lookup(name)
			named, ok := obj.Type().(*types.Named)
			if !ok {
				continue
			}
			if _, ok := named.Underlying().(*types.Struct); !ok {
				continue
			}
			if types.Implements(types.NewPointer(named), repository) {
				if _, ok := allowed[p.PkgPath]; !ok {
					unexpected = append(unexpected, p.PkgPath+"."+name)
				}
			}
		}
	}
	if len(unexpected) > 0 {
		t.Fatalf("unexpected Repository implementations (update the allowed list intentionally when adding a backend):\n%v", unexpected)
	}
}
