// SPDX-License-Identifier: MPL-2.0

package submodule

import (
	"regexp"
	"testing"
)

func TestIdent(t *testing.T) {
	ident := Ident("mylib")
	if len(ident) != 32 {
		t.Fatalf("len(Ident()) = %d, want 32", len(ident))
	}
	if !regexp.MustCompile(`^[0-9a-f]{32}$`).MatchString(ident) {
		t.Errorf("Ident() = %q, want lowercase hex", ident)
	}

	// Deterministic, and distinct per name.
	if Ident("mylib") != ident {
		t.Error("Ident() is not deterministic")
	}
	if Ident("otherlib") == ident {
		t.Error("distinct names produced the same ident")
	}
}

func TestStorePathFor(t *testing.T) {
	p := StorePathFor("mylib")
	if p != StoreDir+"/"+Ident("mylib") {
		t.Errorf("StorePathFor() = %q", p)
	}
	if !IsStorePath(p) {
		t.Errorf("IsStorePath(%q) = false", p)
	}
}

func TestIsStorePath(t *testing.T) {
	tests := []struct {
		path string
		want bool
	}{
		{".gitpkgs", true},
		{".gitpkgs/abc123", true},
		{".gitpkgs/abc123/sub/dir", true},
		{"vendor/mylib", false},
		{".gitpkgs-other/abc", false},
		{"", false},
	}

	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			if got := IsStorePath(tt.path); got != tt.want {
				t.Errorf("IsStorePath(%q) = %v, want %v", tt.path, got, tt.want)
			}
		})
	}
}

func TestIsCommitHash(t *testing.T) {
	tests := []struct {
		ref  string
		want bool
	}{
		{"aaaa000000000000000000000000000000000000", true},
		{"abc1234", true},
		{"abc123", false}, // too short to treat as a hash
		{"main", false},
		{"v1.0.0", false},
		{"deadbeef", true},
		{"DEADBEEF1", false}, // uppercase is not a normalized hash
		{"", false},
	}

	for _, tt := range tests {
		t.Run(tt.ref, func(t *testing.T) {
			if got := IsCommitHash(tt.ref); got != tt.want {
				t.Errorf("IsCommitHash(%q) = %v, want %v", tt.ref, got, tt.want)
			}
		})
	}
}
