// SPDX-License-Identifier: MPL-2.0

package reconcile

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"gitpkg/internal/testutil"
	"gitpkg/pkg/expose"
	"gitpkg/pkg/manifest"
)

func testEngine(t *testing.T) (*Context, *fakeGateway) {
	t.Helper()
	root := t.TempDir()
	gw := newFakeGateway(root)
	return &Context{
		Root:     root,
		Manifest: manifest.New(),
		Gateway:  gw,
		Linker:   expose.NewLinker(root),
		Registry: expose.NewRegistry(),
	}, gw
}

func TestPlanSyncValidatesBeforeProbing(t *testing.T) {
	engine, gw := testEngine(t)
	engine.Manifest.Packages["a"] = manifest.Declaration{Name: "a", Remote: "r1", Destination: "vendor/lib"}
	engine.Manifest.Packages["b"] = manifest.Declaration{Name: "b", Remote: "r2", Destination: "vendor/lib"}

	_, err := engine.PlanSync(context.Background())
	if err == nil {
		t.Fatal("expected manifest error")
	}
	var merr *manifest.Error
	if !errors.As(err, &merr) {
		t.Fatalf("error type = %T, want *manifest.Error", err)
	}
	if len(gw.calls) != 0 {
		t.Errorf("repository was probed despite invalid manifest: %v", gw.calls)
	}
}

func TestSyncIsIdempotent(t *testing.T) {
	engine, _ := testEngine(t)
	if err := engine.Manifest.Add(manifest.Declaration{
		Name: "mylib", Remote: "https://example.com/mylib.git",
		Ref: "main", Destination: "vendor/mylib",
	}); err != nil {
		t.Fatal(err)
	}

	result, err := engine.Sync(context.Background())
	if err != nil {
		t.Fatalf("Sync() error = %v", err)
	}
	if result.Err != nil {
		t.Fatalf("Sync() result error = %v", result.Err)
	}
	if result.Applied() != 2 {
		t.Fatalf("Applied() = %d, want 2", result.Applied())
	}

	// Second run over converged state does nothing.
	again, err := engine.Sync(context.Background())
	if err != nil {
		t.Fatalf("second Sync() error = %v", err)
	}
	if len(again.Results) != 0 {
		t.Errorf("second sync applied %d operations", len(again.Results))
	}
}

func TestSyncConvergesAfterFailure(t *testing.T) {
	engine, gw := testEngine(t)
	for _, name := range []string{"alpha", "beta"} {
		if err := engine.Manifest.Add(manifest.Declaration{
			Name: name, Remote: "https://example.com/" + name + ".git",
			Ref: "main", Destination: "vendor/" + name,
		}); err != nil {
			t.Fatal(err)
		}
	}

	gw.failOn = "add:beta"
	result, err := engine.Sync(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if result.Err == nil {
		t.Fatal("expected first sync to fail")
	}

	// The failure is cleared; the next sync picks up where it stopped.
	gw.failOn = ""
	retry, err := engine.Sync(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if retry.Err != nil {
		t.Fatalf("retry error = %v", retry.Err)
	}

	for _, dest := range []string{"vendor/alpha", "vendor/beta"} {
		if _, err := os.Stat(filepath.Join(engine.Root, dest, "content.txt")); err != nil {
			t.Errorf("%s not installed after retry: %v", dest, err)
		}
	}
}

func TestSyncRemovesPackage(t *testing.T) {
	engine, _ := testEngine(t)
	if err := engine.Manifest.Add(manifest.Declaration{
		Name: "mylib", Remote: "https://example.com/mylib.git",
		Ref: "main", Destination: "vendor/mylib",
	}); err != nil {
		t.Fatal(err)
	}
	if _, err := engine.Sync(context.Background()); err != nil {
		t.Fatal(err)
	}

	if err := engine.Manifest.Remove("mylib"); err != nil {
		t.Fatal(err)
	}
	result, err := engine.Sync(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if result.Err != nil {
		t.Fatalf("sync error = %v", result.Err)
	}

	if _, err := os.Lstat(filepath.Join(engine.Root, "vendor/mylib")); !os.IsNotExist(err) {
		t.Error("exposure still present after removal")
	}
	if len(engine.Registry.Exposures) != 0 {
		t.Errorf("registry still holds %v", engine.Registry.Exposures)
	}
}

func TestUpdateSelection(t *testing.T) {
	engine, gw := testEngine(t)
	add := func(name, ref string, disabled bool) {
		t.Helper()
		if err := engine.Manifest.Add(manifest.Declaration{
			Name: name, Remote: "https://example.com/" + name + ".git",
			Ref: ref, Destination: "vendor/" + name, UpdatesDisabled: disabled,
		}); err != nil {
			t.Fatal(err)
		}
	}
	add("tracked", "main", false)
	add("frozen", "main", true)
	add("pinned", "aaaa000000000000000000000000000000000000", false)

	if _, err := engine.Sync(context.Background()); err != nil {
		t.Fatal(err)
	}

	gw.calls = nil
	result, err := engine.Update(context.Background(), nil)
	if err != nil {
		t.Fatalf("Update() error = %v", err)
	}
	if result.Err != nil {
		t.Fatalf("Update() result error = %v", result.Err)
	}

	var checkouts []string
	for _, call := range gw.calls {
		if call == "checkout:tracked" || call == "checkout:frozen" || call == "checkout:pinned" {
			checkouts = append(checkouts, call)
		}
	}
	if len(checkouts) != 1 || checkouts[0] != "checkout:tracked" {
		t.Errorf("checkouts = %v, want only tracked", checkouts)
	}
}

// realEngine wires a Context over an actual git repository, with an upstream
// carrying two tagged commits.
func realEngine(t *testing.T) (*Context, *testutil.GitComposer) {
	t.Helper()
	dir := t.TempDir()

	upstream := testutil.NewGitComposer(t, filepath.Join(dir, "upstream"))
	upstream.WriteFile("lib.go", "package lib // v1\n")
	upstream.Commit("first")
	upstream.Tag("v1")
	upstream.WriteFile("lib.go", "package lib // v2\n")
	upstream.Commit("second")
	upstream.Tag("v2")

	hostPath := filepath.Join(dir, "host")
	testutil.NewGitComposer(t, hostPath)

	engine, err := NewContext(hostPath)
	if err != nil {
		t.Fatalf("NewContext() error = %v", err)
	}
	return engine, upstream
}

func TestSyncConvergesAcrossRefChange(t *testing.T) {
	engine, upstream := realEngine(t)
	if err := engine.Manifest.Add(manifest.Declaration{
		Name: "lib", Remote: upstream.Path, Ref: "v1", Destination: "vendor/lib",
	}); err != nil {
		t.Fatal(err)
	}

	result, err := engine.Sync(context.Background())
	if err != nil {
		t.Fatalf("initial Sync() error = %v", err)
	}
	if result.Err != nil {
		t.Fatalf("initial sync failed: %v", result.Err)
	}

	decl, _ := engine.Manifest.Get("lib")
	decl.Ref = "v2"
	if err := engine.Manifest.Set(decl); err != nil {
		t.Fatal(err)
	}

	result, err = engine.Sync(context.Background())
	if err != nil {
		t.Fatalf("Sync() after ref change error = %v", err)
	}
	if result.Err != nil {
		t.Fatalf("sync after ref change failed: %v", result.Err)
	}
	if result.Applied() == 0 {
		t.Fatal("ref change applied nothing")
	}

	content, err := os.ReadFile(filepath.Join(engine.Root, "vendor/lib", "lib.go"))
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(content), "v2") {
		t.Errorf("exposed content = %q, want new tag version", content)
	}

	// Converged: the next run over an unchanged manifest plans nothing.
	plan, err := engine.PlanSync(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if !plan.Empty() {
		t.Errorf("plan after converging sync has %d operations: %v", len(plan.Operations), plan.Operations)
	}
}

func TestUpdateUnknownPackage(t *testing.T) {
	engine, _ := testEngine(t)
	_, err := engine.Update(context.Background(), []string{"nope"})
	if err == nil {
		t.Fatal("expected error for unknown package")
	}
	var merr *manifest.Error
	if !errors.As(err, &merr) {
		t.Fatalf("error type = %T, want *manifest.Error", err)
	}
}
