package main

import (
	"fmt"
	"go/parser"
	"go/token"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

const (
	moduleRoot  = "scholarshipboard"
	serviceRoot = "contexts/scholarship-fund/distribution-batch-service"
)

// edgeRule lists what one package subtree of the batch service may import.
// Service patterns are relative to serviceRoot, shared patterns to moduleRoot.
// A pattern ending in "/..." matches the whole subtree, otherwise it names one
// package. A nil thirdParty list means any third-party import is allowed.
type edgeRule struct {
	pkg        string
	service    []string
	shared     []string
	thirdParty []string
}

var (
	decimalOnly = []string{"github.com/shopspring/decimal/..."}

	// The rule with the longest matching pkg wins.
	edgeRules = []edgeRule{
		{pkg: "domain/errors", thirdParty: []string{}},
		{pkg: "domain/entities", service: []string{"domain/errors"}, thirdParty: []string{
			"github.com/shopspring/decimal/...",
			"github.com/zeebo/blake3/...",
		}},
		{pkg: "ports", service: []string{"domain/..."}, shared: []string{"contracts/gen/events/..."}, thirdParty: decimalOnly},
		{pkg: "application", service: []string{"application", "domain/...", "ports"}, thirdParty: decimalOnly},
		{pkg: "transport/http", thirdParty: decimalOnly},
		{pkg: "adapters", service: []string{"domain/...", "ports"}, shared: []string{"internal/shared/..."}},
		{pkg: "adapters/http", service: []string{
			"application/commands",
			"application/queries",
			"domain/...",
			"ports",
			"transport/http",
		}, thirdParty: decimalOnly},
		{pkg: "adapters/pollclient", service: []string{"domain/entities", "transport/http"}},
		{pkg: "", service: []string{
			"adapters/http",
			"adapters/memory",
			"application/commands",
			"application/queries",
			"domain/...",
			"ports",
		}},
	}

	// Nothing inside the service reaches back into the process wiring.
	forbiddenShared = []string{"cmd/...", "internal/app/...", "internal/platform/...", "scripts/..."}
)

type violation struct {
	File   string
	Line   int
	Import string
	Rule   string
}

func main() {
	violations := collectViolations("contexts")
	if len(violations) == 0 {
		fmt.Println("boundary checks passed")
		return
	}

	sort.Slice(violations, func(i, j int) bool {
		if violations[i].File == violations[j].File {
			if violations[i].Line == violations[j].Line {
				return violations[i].Import < violations[j].Import
			}
			return violations[i].Line < violations[j].Line
		}
		return violations[i].File < violations[j].File
	})

	fmt.Println("boundary violations found:")
	for _, v := range violations {
		fmt.Printf("- %s:%d imports %q (%s)\n", v.File, v.Line, v.Import, v.Rule)
	}
	os.Exit(1)
}

func collectViolations(root string) []violation {
	var violations []violation

	_ = filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() || !strings.HasSuffix(path, ".go") || strings.HasSuffix(path, "_test.go") {
			return nil
		}
		normalized := filepath.ToSlash(path)
		if !hasPrefix(normalized, "contexts") {
			return nil
		}
		violations = append(violations, validateFile(path, normalized)...)
		return nil
	})

	return violations
}

func validateFile(path string, normalizedPath string) []violation {
	fset := token.NewFileSet()
	file, err := parser.ParseFile(fset, path, nil, parser.ImportsOnly)
	if err != nil {
		return []violation{{File: normalizedPath, Line: 1, Rule: "file must parse"}}
	}

	if !hasPrefix(normalizedPath, serviceRoot) {
		return []violation{{File: normalizedPath, Line: 1, Rule: "unknown service, add it to serviceRoot rules"}}
	}
	pkg := strings.TrimPrefix(strings.TrimPrefix(filepath.ToSlash(filepath.Dir(normalizedPath)), serviceRoot), "/")
	rule := ruleFor(pkg)

	var violations []violation
	for _, imp := range file.Imports {
		importPath := strings.Trim(imp.Path.Value, "\"")
		if reason := checkEdge(rule, importPath); reason != "" {
			violations = append(violations, violation{
				File:   normalizedPath,
				Line:   fset.Position(imp.Pos()).Line,
				Import: importPath,
				Rule:   reason,
			})
		}
	}
	return violations
}

func ruleFor(pkg string) edgeRule {
	best := edgeRule{}
	for _, rule := range edgeRules {
		if rule.pkg != "" && !hasPrefix(pkg, rule.pkg) {
			continue
		}
		if len(rule.pkg) >= len(best.pkg) {
			best = rule
		}
	}
	return best
}

func checkEdge(rule edgeRule, importPath string) string {
	name := rule.pkg
	if name == "" {
		name = "service root"
	}
	if isStdlib(importPath) {
		return ""
	}

	if !hasPrefix(importPath, moduleRoot) {
		if rule.thirdParty == nil || matchesAny(importPath, rule.thirdParty) {
			return ""
		}
		return name + " may not depend on " + importPath
	}

	local := strings.TrimPrefix(strings.TrimPrefix(importPath, moduleRoot), "/")
	if hasPrefix(local, "contexts") {
		if !hasPrefix(local, serviceRoot) {
			return "cross-service imports are forbidden"
		}
		target := strings.TrimPrefix(strings.TrimPrefix(local, serviceRoot), "/")
		if target == rule.pkg || matchesAny(target, rule.service) {
			return ""
		}
		return fmt.Sprintf("%s may not import %s", name, target)
	}
	if matchesAny(local, forbiddenShared) {
		return name + " may not import process wiring"
	}
	if matchesAny(local, rule.shared) {
		return ""
	}
	return fmt.Sprintf("%s may not import %s", name, local)
}

func hasPrefix(path string, prefix string) bool {
	return path == prefix || strings.HasPrefix(path, prefix+"/")
}

func matchesAny(importPath string, patterns []string) bool {
	for _, pattern := range patterns {
		if tree, ok := strings.CutSuffix(pattern, "/..."); ok {
			if hasPrefix(importPath, tree) {
				return true
			}
			continue
		}
		if importPath == pattern {
			return true
		}
	}
	return false
}

func isStdlib(importPath string) bool {
	if hasPrefix(importPath, moduleRoot) {
		return false
	}
	first := importPath
	if idx := strings.Index(first, "/"); idx != -1 {
		first = first[:idx]
	}
	return !strings.Contains(first, ".")
}
