// Command archcheck fails when a package crosses a layer boundary.
package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/exec"
	"slices"
	"strings"
)

const modulePrefix = "github.com/bloomdevelop/weasel/"

type listedPackage struct {
	ImportPath   string
	Imports      []string
	TestImports  []string
	XTestImports []string
}

// layerRule forbids packages under importer from importing anything under
// forbidden. allowed carves exceptions out of forbidden.
type layerRule struct {
	importer  string
	forbidden string
	allowed   []string
	reason    string
}

var layerRules = []layerRule{
	{importer: "pkg/", forbidden: "internal/", reason: "public packages must not import internal/*"},
	{importer: "pkg/pluginapi", forbidden: "pkg/weasel", reason: "plugin api must stay independent of the bot contracts"},
	{importer: "internal/kernel", forbidden: "internal/driver", reason: "kernel must not import drivers"},
	{importer: "internal/kernel", forbidden: "internal/plugin", reason: "kernel must not import the plugin engine"},
	{importer: "internal/plugin", forbidden: "internal/driver", reason: "plugin engine must not import drivers"},
	{importer: "internal/catalog", forbidden: "internal/plugin", reason: "catalog store is generic over its values"},
	{importer: "modules/", forbidden: "internal/", reason: "modules/* must not import internal/*"},
	{
		importer:  "plugins/",
		forbidden: "",
		allowed:   []string{"pkg/pluginapi"},
		reason:    "plugins may only import pkg/pluginapi",
	},
}

func main() {
	os.Exit(run(os.Stdout, os.Stderr))
}

func run(stdout, stderr io.Writer) int {
	var violations []string
	err := eachPackage(stderr, func(pkg listedPackage) {
		violations = append(violations, packageViolations(pkg)...)
	})
	if err != nil {
		fmt.Fprintf(stderr, "arch-check: %v\n", err)
		return 1
	}

	slices.Sort(violations)
	violations = slices.Compact(violations)
	if len(violations) == 0 {
		fmt.Fprintln(stdout, "arch-check: passed")
		return 0
	}

	fmt.Fprintf(stdout, "arch-check: %d layer violations:\n", len(violations))
	for _, violation := range violations {
		fmt.Fprintf(stdout, "  - %s\n", violation)
	}

	return 1
}

// eachPackage streams go list output, test variants included.
func eachPackage(stderr io.Writer, visit func(listedPackage)) error {
	cmd := exec.Command("go", "list", "-json", "-test", "./...")
	cmd.Stderr = stderr
	pipe, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("go list pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("start go list: %w", err)
	}

	decoder := json.NewDecoder(pipe)
	for decoder.More() {
		var pkg listedPackage
		if err := decoder.Decode(&pkg); err != nil {
			_ = cmd.Wait()
			return fmt.Errorf("decode go list output: %w", err)
		}
		if pkg.ImportPath != "" {
			visit(pkg)
		}
	}

	if err := cmd.Wait(); err != nil {
		return fmt.Errorf("go list -json -test ./...: %w", err)
	}

	return nil
}

func packageViolations(pkg listedPackage) []string {
	importer, ok := localPath(pkg.ImportPath)
	if !ok {
		return nil
	}

	var found []string
	for _, imported := range slices.Concat(pkg.Imports, pkg.TestImports, pkg.XTestImports) {
		target, ok := localPath(imported)
		if !ok {
			continue
		}
		if reason := violationReason(importer, target); reason != "" {
			found = append(found, fmt.Sprintf("%s -> %s (%s)", pkg.ImportPath, imported, reason))
		}
	}

	return found
}

// localPath strips the module prefix and any " [pkg.test]" suffix go list adds
// to test variants.
func localPath(importPath string) (string, bool) {
	importPath, _, _ = strings.Cut(importPath, " ")
	return strings.CutPrefix(importPath, modulePrefix)
}

func violationReason(importer, imported string) string {
	for _, rule := range layerRules {
		if !strings.HasPrefix(importer, rule.importer) || !strings.HasPrefix(imported, rule.forbidden) {
			continue
		}
		if strings.HasPrefix(imported, rule.importer) || allowedBy(rule, imported) {
			continue
		}

		return rule.reason
	}

	return ""
}

func allowedBy(rule layerRule, imported string) bool {
	return slices.ContainsFunc(rule.allowed, func(prefix string) bool {
		return strings.HasPrefix(imported, prefix)
	})
}
