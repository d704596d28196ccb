// Package main provides a CLI tool for validating and listing EDR agent
// YAML rule files, directly grounded on the teacher's
// cmd/siem-rules/main.go subcommand structure (manual os.Args[1]
// dispatch, flag.NewFlagSet per subcommand, directory-walking YAML
// collection), adapted to call rules.ParseRules instead of
// correlation.ParseRules.
package main

import (
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"edr-agent/internal/rules"
)

var version = "dev"

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	switch os.Args[1] {
	case "validate":
		runValidateCmd(os.Args[2:])
	case "list":
		runListCmd(os.Args[2:])
	case "-version", "--version", "-v":
		fmt.Printf("edr-rules %s\n", version)
	default:
		fmt.Fprintf(os.Stderr, "Unknown subcommand: %s\n", os.Args[1])
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Fprintf(os.Stderr, "Usage: edr-rules <command> [flags] [args]\n\n")
	fmt.Fprintf(os.Stderr, "Commands:\n")
	fmt.Fprintf(os.Stderr, "  validate  Validate YAML rule files or directories\n")
	fmt.Fprintf(os.Stderr, "  list      List rules found in files or directories\n\n")
	fmt.Fprintf(os.Stderr, "Flags:\n")
	fmt.Fprintf(os.Stderr, "  -version  Show version and exit\n")
}

func runValidateCmd(args []string) {
	fs := flag.NewFlagSet("validate", flag.ExitOnError)
	verbose := fs.Bool("verbose", false, "Show detailed rule information")
	fs.Parse(args)

	paths := fs.Args()
	if len(paths) == 0 {
		fmt.Fprintf(os.Stderr, "Error: at least one path is required\n")
		fmt.Fprintf(os.Stderr, "Usage: edr-rules validate [--verbose] <path> [<path>...]\n")
		os.Exit(1)
	}

	os.Exit(runValidate(paths, *verbose))
}

func runListCmd(args []string) {
	fs := flag.NewFlagSet("list", flag.ExitOnError)
	fs.Parse(args)

	paths := fs.Args()
	if len(paths) == 0 {
		paths = []string{"rules"}
	}

	os.Exit(runList(paths))
}

func runValidate(paths []string, verbose bool) int {
	var totalFiles, validFiles, invalidFiles, skippedRules int

	for _, path := range paths {
		info, err := os.Stat(path)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %s: %v\n", path, err)
			invalidFiles++
			continue
		}

		if info.IsDir() {
			files, err := collectYAMLFiles(path)
			if err != nil {
				fmt.Fprintf(os.Stderr, "Error reading directory %s: %v\n", path, err)
				invalidFiles++
				continue
			}
			for _, f := range files {
				totalFiles++
				ok, skipped := validateFile(f, verbose)
				skippedRules += skipped
				if ok {
					validFiles++
				} else {
					invalidFiles++
				}
			}
		} else {
			totalFiles++
			ok, skipped := validateFile(path, verbose)
			skippedRules += skipped
			if ok {
				validFiles++
			} else {
				invalidFiles++
			}
		}
	}

	fmt.Printf("\nResults: %d files checked, %d valid, %d invalid, %d rule(s) skipped\n",
		totalFiles, validFiles, invalidFiles, skippedRules)

	if invalidFiles > 0 {
		return 1
	}
	return 0
}

// validateFile parses one rule file and reports whether it is
// well-formed YAML. A file that parses but skips some entries still
// counts as valid — per-rule validation failures are reported, not
// treated as a parse error, matching rules.ParseRules's own tolerance.
func validateFile(path string, verbose bool) (ok bool, skippedCount int) {
	data, err := os.ReadFile(path)
	if err != nil {
		fmt.Printf("  FAIL  %s: %v\n", path, err)
		return false, 0
	}

	result, err := rules.ParseRules(data)
	if err != nil {
		fmt.Printf("  FAIL  %s: %v\n", path, err)
		return false, 0
	}

	fmt.Printf("  OK    %s (%d rule(s), %d skipped)\n", path, len(result.Rules), len(result.Skipped))

	if verbose {
		for _, rule := range result.Rules {
			fmt.Printf("        - %s (type=%s, points=%d, action=%s, enabled=%t)\n",
				rule.Name, rule.Kind, rule.Points, rule.Action, rule.Enabled)
			fmt.Printf("          patterns: %s\n", strings.Join(rule.Patterns, ", "))
		}
		for _, skipped := range result.Skipped {
			fmt.Printf("        ! skipped rule #%d %q: %s\n", skipped.Index, skipped.Name, skipped.Reason)
		}
	}

	return true, len(result.Skipped)
}

func runList(paths []string) int {
	for _, path := range paths {
		files, err := collectYAMLFiles(path)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error reading %s: %v\n", path, err)
			continue
		}

		for _, f := range files {
			data, err := os.ReadFile(f)
			if err != nil {
				continue
			}
			result, err := rules.ParseRules(data)
			if err != nil {
				continue
			}
			for _, rule := range result.Rules {
				fmt.Printf("%-40s  %-10s  points=%-3d  action=%-9s  %s\n",
					rule.Name, rule.Kind, rule.Points, rule.Action, f)
			}
		}
	}
	return 0
}

func collectYAMLFiles(dir string) ([]string, error) {
	var files []string
	err := filepath.Walk(dir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() {
			return nil
		}
		ext := strings.ToLower(filepath.Ext(path))
		if ext == ".yaml" || ext == ".yml" {
			files = append(files, path)
		}
		return nil
	})
	return files, err
}
