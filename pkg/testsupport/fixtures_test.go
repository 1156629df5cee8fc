package testsupport

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
)

func TestLoadFixture(t *testing.T) {
	tmpDir := t.TempDir()
	testFile := filepath.Join(tmpDir, "test.txt")
	testContent := []byte("test fixture content")

	if err := os.WriteFile(testFile, testContent, 0644); err != nil {
		t.Fatalf("failed to create test file: %v", err)
	}

	result := LoadFixture(t, testFile)
	if string(result) != string(testContent) {
		t.Errorf("expected %q, got %q", testContent, result)
	}
}

func TestLoadFixtureJSON(t *testing.T) {
	tmpDir := t.TempDir()
	testFile := filepath.Join(tmpDir, "test.json")

	jsonData, err := json.Marshal(map[string]any{"name": "test", "value": 42})
	if err != nil {
		t.Fatalf("failed to marshal test data: %v", err)
	}
	if err := os.WriteFile(testFile, jsonData, 0644); err != nil {
		t.Fatalf("failed to create test file: %v", err)
	}

	var result map[string]any
	LoadFixtureJSON(t, testFile, &result)

	if result["name"] != "test" {
		t.Errorf("expected name=test, got %v", result["name"])
	}
	if result["value"] != float64(42) {
		t.Errorf("expected value=42, got %v", result["value"])
	}
}

func TestSeedFixture(t *testing.T) {
	backend := StartFakeBackend(t)

	ids := SeedFixture(t, backend, "leads", FixturePath("leads.json"))

	if len(ids) != 3 {
		t.Fatalf("expected 3 ids, got %d", len(ids))
	}
	if ids[0] != "lead-1" {
		t.Errorf("expected fixture id to be kept, got %q", ids[0])
	}
	if ids[2] == "" {
		t.Error("expected generated id for record without one")
	}
	if n := backend.Len("leads"); n != 3 {
		t.Errorf("expected 3 stored leads, got %d", n)
	}
}

func TestWriteGolden(t *testing.T) {
	goldenFile := filepath.Join(t.TempDir(), "subdir", "test.golden")
	testContent := []byte("test golden content")

	WriteGolden(t, goldenFile, testContent)

	result, err := os.ReadFile(goldenFile)
	if err != nil {
		t.Fatalf("failed to read written golden file: %v", err)
	}
	if string(result) != string(testContent) {
		t.Errorf("expected %q, got %q", testContent, result)
	}
}

func TestCompareWithGolden(t *testing.T) {
	goldenFile := filepath.Join(t.TempDir(), "test.golden")
	testContent := []byte("test content")

	// first call creates the file, second compares against it
	CompareWithGolden(t, goldenFile, testContent)
	CompareWithGolden(t, goldenFile, testContent)

	result, err := os.ReadFile(goldenFile)
	if err != nil {
		t.Fatalf("failed to read created golden file: %v", err)
	}
	if string(result) != string(testContent) {
		t.Errorf("expected %q, got %q", testContent, result)
	}
}

func TestPaths(t *testing.T) {
	if got, want := FixturePath("test.json"), filepath.Join("testdata", "test.json"); got != want {
		t.Errorf("expected %q, got %q", want, got)
	}
	if got, want := GoldenPath("output.txt"), filepath.Join("testdata", "golden", "output.txt"); got != want {
		t.Errorf("expected %q, got %q", want, got)
	}
}
