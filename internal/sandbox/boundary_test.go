package sandbox

import (
	"errors"
	"path/filepath"
	"strings"
	"testing"
)

func TestResolveWithin(t *testing.T) {
	root := filepath.FromSlash("/cache/session-1")
	work := filepath.Join(root, "src")

	tests := []struct {
		name    string
		workDir string
		rel     string
		want    string
		wantErr bool
	}{
		{
			name: "simple_child",
			rel:  "out",
			want: filepath.Join(root, "src", "out"),
		},
		{
			name: "dot",
			rel:  ".",
			want: filepath.Join(root, "src"),
		},
		{
			name: "up_to_root",
			rel:  "..",
			want: root,
		},
		{
			name:    "escape_above_root",
			rel:     "../..",
			wantErr: true,
		},
		{
			name:    "deep_traversal",
			rel:     "../../../../etc/passwd",
			wantErr: true,
		},
		{
			name:    "traversal_hidden_mid_path",
			rel:     "a/b/../../../../c",
			wantErr: true,
		},
		{
			name: "traversal_that_stays_inside",
			rel:  "a/b/../c",
			want: filepath.Join(root, "src", "a", "c"),
		},
		{
			name: "absolute_reinterpreted_under_root",
			rel:  "/output/result.txt",
			want: filepath.Join(root, "output", "result.txt"),
		},
		{
			name:    "empty_work_dir_defaults_to_root",
			workDir: "-",
			rel:     "x",
			want:    filepath.Join(root, "x"),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			wd := work
			if tt.workDir == "-" {
				wd = ""
			}
			got, err := ResolveWithin(root, wd, tt.rel)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("ResolveWithin(%q) = %q, want boundary violation", tt.rel, got)
				}
				if !errors.Is(err, ErrBoundaryViolation) {
					t.Errorf("error = %v, want ErrBoundaryViolation", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("ResolveWithin(%q) failed: %v", tt.rel, err)
			}
			if got != tt.want {
				t.Errorf("ResolveWithin(%q) = %q, want %q", tt.rel, got, tt.want)
			}
		})
	}
}

// Resolution must never produce a path outside the root, no matter how the
// traversal segments are arranged.
func TestResolveWithinNeverEscapes(t *testing.T) {
	root := filepath.FromSlash("/cache/session-x")
	hostile := []string{
		"..", "../", "../../", "../../../../../../..",
		"a/../../b", "....//....//etc", "./../.",
		"../..", "a/b/c/../../../../d",
	}
	for _, rel := range hostile {
		got, err := ResolveWithin(root, root, rel)
		if err != nil {
			continue
		}
		if !Contains(root, got) {
			t.Errorf("ResolveWithin(%q) = %q escaped root %q", rel, got, root)
		}
	}
}

func TestContains(t *testing.T) {
	root := filepath.FromSlash("/cache/s1")
	if !Contains(root, root) {
		t.Error("root should contain itself")
	}
	if !Contains(root, filepath.Join(root, "a", "b")) {
		t.Error("root should contain descendant")
	}
	if Contains(root, filepath.FromSlash("/cache/s1-other")) {
		t.Error("sibling with shared prefix must not be contained")
	}
	if Contains(root, filepath.FromSlash("/cache")) {
		t.Error("parent must not be contained")
	}
}

func TestDisplayPath(t *testing.T) {
	root := filepath.FromSlash("/cache/s1")

	if got := DisplayPath(root, root); got != "/" {
		t.Errorf("DisplayPath(root) = %q, want %q", got, "/")
	}
	got := DisplayPath(root, filepath.Join(root, "src", "main.go"))
	if got != "/src/main.go" {
		t.Errorf("DisplayPath = %q, want /src/main.go", got)
	}
	if got := DisplayPath(root, filepath.FromSlash("/etc/passwd")); got != OutsideSentinel {
		t.Errorf("outside path rendered %q, want sentinel", got)
	}
	if strings.Contains(DisplayPath(root, filepath.FromSlash("/home/user/secret")), "home") {
		t.Error("external path leaked into display output")
	}
}
