//go:build unit

package transform

import (
	"os"
	"path/filepath"
	"testing"
)

func TestDefaultLabels(t *testing.T) {
	labels := DefaultLabels()

	if labels.Len() != 80 {
		t.Fatalf("expected 80 COCO labels, got %d", labels.Len())
	}
	if got := labels.Name(0); got != "person" {
		t.Errorf("Name(0) = %q, expected person", got)
	}
	if got := labels.Name(79); got != "toothbrush" {
		t.Errorf("Name(79) = %q, expected toothbrush", got)
	}
}

func TestLabelsOutOfRange(t *testing.T) {
	labels := DefaultLabels()

	for _, id := range []int{-1, 80, 1000} {
		if got := labels.Name(id); got != UnknownLabel {
			t.Errorf("Name(%d) = %q, expected %q", id, got, UnknownLabel)
		}
	}

	var nilLabels *Labels
	if got := nilLabels.Name(0); got != UnknownLabel {
		t.Errorf("nil labels Name(0) = %q, expected %q", got, UnknownLabel)
	}
}

func TestLoadLabels(t *testing.T) {
	path := filepath.Join(t.TempDir(), "labels.txt")
	if err := os.WriteFile(path, []byte("cat\n\n dog \nbird\n"), 0644); err != nil {
		t.Fatalf("failed to write labels: %v", err)
	}

	labels, err := LoadLabels(path)
	if err != nil {
		t.Fatalf("LoadLabels: %v", err)
	}
	if labels.Len() != 3 {
		t.Fatalf("expected 3 labels, got %d", labels.Len())
	}
	if got := labels.Name(1); got != "dog" {
		t.Errorf("Name(1) = %q, expected dog", got)
	}
}

func TestLoadLabelsErrors(t *testing.T) {
	if _, err := LoadLabels(filepath.Join(t.TempDir(), "missing.txt")); err == nil {
		t.Error("expected error for missing file")
	}

	empty := filepath.Join(t.TempDir(), "empty.txt")
	os.WriteFile(empty, []byte("\n\n"), 0644)
	if _, err := LoadLabels(empty); err == nil {
		t.Error("expected error for empty file")
	}
}
