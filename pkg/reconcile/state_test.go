// SPDX-License-Identifier: MPL-2.0

package reconcile

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"gitpkg/pkg/expose"
	"gitpkg/pkg/manifest"
	"gitpkg/pkg/submodule"
)

func TestProbe(t *testing.T) {
	root := t.TempDir()
	gw := newFakeGateway(root)
	linker := expose.NewLinker(root)
	registry := expose.NewRegistry()

	d := manifest.Declaration{
		Name: "mylib", Remote: "https://example.com/mylib.git",
		Ref: "main", Destination: "vendor/mylib",
	}
	storePath := submodule.StorePathFor("mylib")
	if _, err := gw.AddSubmodule(context.Background(), "mylib", d.Remote, storePath, "main"); err != nil {
		t.Fatal(err)
	}
	if _, err := linker.Create(storePath, "vendor/mylib", expose.Marker{Package: "mylib"}, manifest.InstallLink); err != nil {
		t.Fatal(err)
	}

	prober := NewProber(gw, linker, registry)
	state, err := prober.Probe([]manifest.Declaration{d})
	if err != nil {
		t.Fatalf("Probe() error = %v", err)
	}

	rec, ok := state.Submodules["mylib"]
	if !ok || !rec.Initialized {
		t.Fatalf("Submodules = %+v", state.Submodules)
	}
	link, ok := state.Links["vendor/mylib"]
	if !ok {
		t.Fatalf("Links = %+v", state.Links)
	}
	if manifest.NormalizePath(link.Target) != storePath {
		t.Errorf("link target = %q, want %q", link.Target, storePath)
	}
	if len(state.Warnings) != 0 {
		t.Errorf("Warnings = %v", state.Warnings)
	}
}

func TestProbeFindsRegistryOnlyDestinations(t *testing.T) {
	// A destination the manifest no longer mentions is still inspected
	// when the registry remembers it, so orphaned exposures get cleaned up.
	root := t.TempDir()
	gw := newFakeGateway(root)
	linker := expose.NewLinker(root)

	storePath := submodule.StorePathFor("ghost")
	if err := os.MkdirAll(filepath.Join(root, storePath), 0o755); err != nil {
		t.Fatal(err)
	}
	if _, err := linker.Create(storePath, "vendor/ghost", expose.Marker{Package: "ghost"}, manifest.InstallLink); err != nil {
		t.Fatal(err)
	}

	registry := expose.NewRegistry()
	registry.Exposures["ghost"] = "vendor/ghost"

	prober := NewProber(gw, linker, registry)
	state, err := prober.Probe(nil)
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := state.Links["vendor/ghost"]; !ok {
		t.Errorf("registry-known destination not probed: %+v", state.Links)
	}
}

func TestProbeFlagsStaleCopies(t *testing.T) {
	root := t.TempDir()
	gw := newFakeGateway(root)
	linker := expose.NewLinker(root)

	d := manifest.Declaration{
		Name: "mylib", Remote: "https://example.com/mylib.git",
		Ref: "main", Destination: "vendor/mylib", Install: manifest.InstallCopy,
	}
	storePath := submodule.StorePathFor("mylib")
	if _, err := gw.AddSubmodule(context.Background(), "mylib", d.Remote, storePath, "main"); err != nil {
		t.Fatal(err)
	}
	if _, err := linker.Create(storePath, "vendor/mylib",
		expose.Marker{Package: "mylib", Target: storePath}, manifest.InstallCopy); err != nil {
		t.Fatal(err)
	}

	// Advance the store, as an update would.
	if err := os.WriteFile(filepath.Join(root, storePath, "content.txt"), []byte("newer"), 0o644); err != nil {
		t.Fatal(err)
	}

	prober := NewProber(gw, linker, expose.NewRegistry())
	state, err := prober.Probe([]manifest.Declaration{d})
	if err != nil {
		t.Fatal(err)
	}
	link := state.Links["vendor/mylib"]
	if !link.Copied || !link.Stale {
		t.Errorf("link = %+v, want stale copy", link)
	}
}

func TestProbeWarnsOnUnmanaged(t *testing.T) {
	root := t.TempDir()
	gw := newFakeGateway(root)
	linker := expose.NewLinker(root)

	d := manifest.Declaration{
		Name: "mylib", Remote: "https://example.com/mylib.git",
		Ref: "main", Destination: "vendor/mylib",
	}
	if err := os.MkdirAll(filepath.Join(root, "vendor/mylib"), 0o755); err != nil {
		t.Fatal(err)
	}

	prober := NewProber(gw, linker, expose.NewRegistry())
	state, err := prober.Probe([]manifest.Declaration{d})
	if err != nil {
		t.Fatal(err)
	}
	if !state.Unmanaged["vendor/mylib"] {
		t.Error("unmanaged destination not flagged")
	}
	if len(state.Warnings) != 1 {
		t.Errorf("Warnings = %v, want one", state.Warnings)
	}
}
