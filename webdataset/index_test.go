package webdataset

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

// writeIndex writes raw index file content to a temp file and returns its path.
func writeIndex(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("failed to write index %s: %v", path, err)
	}
	return path
}

func TestParseIndexFile(t *testing.T) {
	tmp := t.TempDir()
	path := writeIndex(t, tmp, "shard.idx",
		"v1.2 2\n"+
			"jpg 0 1000 cls 1024 4\n"+
			"png 1536 77\n")

	samples, components, err := ParseIndexFile(path)
	if err != nil {
		t.Fatalf("ParseIndexFile failed: %v", err)
	}
	if len(samples) != 2 {
		t.Fatalf("expected 2 samples, got %d", len(samples))
	}
	if len(components) != 3 {
		t.Fatalf("expected 3 components, got %d", len(components))
	}
	if samples[0].NumComponents() != 2 || samples[1].NumComponents() != 1 {
		t.Fatalf("unexpected component counts: %d and %d",
			samples[0].NumComponents(), samples[1].NumComponents())
	}
	if samples[0].LineNumber() != 1 || samples[1].LineNumber() != 2 {
		t.Fatalf("unexpected line numbers: %d and %d",
			samples[0].LineNumber(), samples[1].LineNumber())
	}

	want := []ComponentDesc{
		{Ext: "jpg", Offset: 0, Size: 1000},
		{Ext: "cls", Offset: 1024, Size: 4},
		{Ext: "png", Offset: 1536, Size: 77},
	}
	for i, w := range want {
		got := components[i]
		if got.Ext != w.Ext || got.Offset != w.Offset || got.Size != w.Size {
			t.Fatalf("component %d mismatch: got %+v want %+v", i, got, w)
		}
	}
}

func TestParseIndexFileErrors(t *testing.T) {
	cases := []struct {
		name    string
		content string
		want    string
	}{
		{"empty file", "", "no version signature found"},
		{"wrong version", "v0.1 1\njpg 0 10\n", "does not match the expected version"},
		{"missing count", "v1.2\n", "no sample count found"},
		{"garbage count", "v1.2 lots\n", "no sample count found"},
		{"zero count", "v1.2 0\n", "sample count must be positive"},
		{"negative count", "v1.2 -4\n", "sample count must be positive"},
		{"missing size", "v1.2 1\njpg 512\n", "size or offset corresponding to the extension not found"},
		{"garbage offset", "v1.2 1\njpg zero 10\n", "size or offset corresponding to the extension not found"},
		{"misaligned offset", "v1.2 1\njpg 513 10\n", "not a multiple of tar block size"},
		{"negative size", "v1.2 1\njpg 0 -4\n", "must be non-negative"},
		{"negative offset", "v1.2 1\njpg -512 4\n", "must be non-negative"},
		{"blank sample line", "v1.2 1\n\n", "no extensions provided for the sample"},
		{"truncated file", "v1.2 2\njpg 0 10\n", "no extensions provided for the sample"},
	}

	tmp := t.TempDir()
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			path := writeIndex(t, tmp, "bad.idx", tc.content)
			_, _, err := ParseIndexFile(path)
			if err == nil {
				t.Fatalf("expected error containing %q, got nil", tc.want)
			}
			if !strings.Contains(err.Error(), tc.want) {
				t.Fatalf("error %q does not contain %q", err, tc.want)
			}
			if !strings.Contains(err.Error(), path) {
				t.Fatalf("error %q does not name the index path %q", err, path)
			}
		})
	}
}

func TestParseIndexFileErrorNamesLine(t *testing.T) {
	tmp := t.TempDir()
	path := writeIndex(t, tmp, "shard.idx",
		"v1.2 2\n"+
			"jpg 0 10\n"+
			"jpg 513 10\n")
	_, _, err := ParseIndexFile(path)
	if err == nil || !strings.Contains(err.Error(), "line 2") {
		t.Fatalf("expected error citing line 2, got %v", err)
	}
}
