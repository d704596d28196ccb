package main

import (
	"os"
	"path/filepath"
	"testing"
)

func writeFile(t *testing.T, path, contents string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(contents), 0644); err != nil {
		t.Fatalf("writing %s: %v", path, err)
	}
}

func TestCollectYAMLFiles_FindsYamlAndYml(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "a.yaml"), "rules: []\n")
	writeFile(t, filepath.Join(dir, "b.yml"), "rules: []\n")
	writeFile(t, filepath.Join(dir, "readme.md"), "ignore me\n")

	files, err := collectYAMLFiles(dir)
	if err != nil {
		t.Fatalf("collectYAMLFiles: %v", err)
	}
	if len(files) != 2 {
		t.Fatalf("expected 2 yaml files, got %d: %v", len(files), files)
	}
}

func TestValidateFile_ValidRuleFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "good.yaml")
	writeFile(t, path, `
rules:
  - name: temp_exec
    enabled: true
    type: path
    patterns: ["*\\temp\\*"]
    risk_points: 15
    action: alert
`)

	ok, skipped := validateFile(path, false)
	if !ok {
		t.Error("expected a well-formed rule file to validate")
	}
	if skipped != 0 {
		t.Errorf("expected no skipped rules, got %d", skipped)
	}
}

func TestValidateFile_SkipsInvalidRulesButStillValid(t *testing.T) {
	path := filepath.Join(t.TempDir(), "mixed.yaml")
	writeFile(t, path, `
rules:
  - name: good_rule
    enabled: true
    type: registry
    patterns: ["*\\run\\*"]
    risk_points: 20
    action: escalate
  - name: no_patterns
    enabled: true
    type: path
`)

	ok, skipped := validateFile(path, false)
	if !ok {
		t.Error("a file with one valid rule should still validate")
	}
	if skipped != 1 {
		t.Errorf("expected 1 skipped rule, got %d", skipped)
	}
}

func TestValidateFile_MalformedYAMLFails(t *testing.T) {
	path := filepath.Join(t.TempDir(), "broken.yaml")
	writeFile(t, path, "rules: [this is not valid yaml\n")

	ok, _ := validateFile(path, false)
	if ok {
		t.Error("expected malformed YAML to fail validation")
	}
}

func TestValidateFile_MissingFileFails(t *testing.T) {
	ok, _ := validateFile(filepath.Join(t.TempDir(), "missing.yaml"), false)
	if ok {
		t.Error("expected a missing file to fail validation")
	}
}

func TestRunValidate_ReturnsNonZeroOnInvalidFile(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "bad.yaml"), "rules: [unterminated\n")

	if code := runValidate([]string{dir}, false); code == 0 {
		t.Error("expected a non-zero exit code when a rule file is invalid")
	}
}

func TestRunValidate_ReturnsZeroWhenAllValid(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "ok.yaml"), `
rules:
  - name: ok_rule
    enabled: true
    type: network
    patterns: ["*"]
    risk_points: 10
    action: log
`)

	if code := runValidate([]string{dir}, false); code != 0 {
		t.Errorf("expected exit code 0, got %d", code)
	}
}

func TestRunList_DoesNotErrorOnEmptyDirectory(t *testing.T) {
	dir := t.TempDir()
	if code := runList([]string{dir}); code != 0 {
		t.Errorf("expected exit code 0 for an empty directory, got %d", code)
	}
}
