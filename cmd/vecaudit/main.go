// Command vecaudit is a static-analysis dev tool, in the spirit of
// biscuit/scripts/features.go and misc/depgraph/main.go: it loads the
// module's packages with golang.org/x/tools/go/packages and walks
// their syntax trees looking for more than one call-site registering
// the same interrupt vector or syscall number. Any call of a method
// named Register with a constant first argument counts, and all such
// calls share one key space, so an interrupt vector and a syscall
// number of equal value are reported as duplicates of each other.
//
// spec.md §9's open question ("several call sites overwrite existing
// interrupt handlers without diagnostic... whether this is
// intentional is unclear") is left unresolved by design: Register
// itself never rejects a second registration at the same vector. This
// tool gives a developer the diagnostic the runtime doesn't, without
// changing Register's own no-duplicate-check behavior.
package main

import (
	"fmt"
	"go/ast"
	"go/constant"
	"go/token"
	"os"
	"sort"

	"golang.org/x/tools/go/packages"
)

// registration records one call site that registers a vector/number.
type registration struct {
	pos token.Position
}

func main() {
	pattern := "./..."
	if len(os.Args) > 1 {
		pattern = os.Args[1]
	}

	cfg := &packages.Config{
		Mode: packages.NeedSyntax | packages.NeedTypes | packages.NeedTypesInfo | packages.NeedFiles,
	}
	pkgs, err := packages.Load(cfg, pattern)
	if err != nil {
		fmt.Fprintf(os.Stderr, "vecaudit: load failed: %v\n", err)
		os.Exit(1)
	}
	if packages.PrintErrors(pkgs) > 0 {
		os.Exit(1)
	}

	byValue := map[int64][]registration{}
	for _, pkg := range pkgs {
		for _, file := range pkg.Syntax {
			collectRegistrations(pkg, file, byValue)
		}
	}

	dup := false
	for _, value := range sortedKeys(byValue) {
		sites := byValue[value]
		if len(sites) < 2 {
			continue
		}
		dup = true
		fmt.Printf("vector/number %d registered %d times:\n", value, len(sites))
		for _, s := range sites {
			fmt.Printf("  %s\n", s.pos)
		}
	}
	if !dup {
		fmt.Println("vecaudit: no duplicate vector/number registrations found")
	}
}

// collectRegistrations walks file looking for calls of the shape
// x.Register(N, ...) where N is a constant integer, recording one
// registration per call site keyed by N's value.
func collectRegistrations(pkg *packages.Package, file *ast.File, byValue map[int64][]registration) {
	ast.Inspect(file, func(n ast.Node) bool {
		call, ok := n.(*ast.CallExpr)
		if !ok {
			return true
		}
		sel, ok := call.Fun.(*ast.SelectorExpr)
		if !ok || sel.Sel.Name != "Register" || len(call.Args) == 0 {
			return true
		}
		tv, ok := pkg.TypesInfo.Types[call.Args[0]]
		if !ok || tv.Value == nil || tv.Value.Kind() != constant.Int {
			return true
		}
		value, exact := constant.Int64Val(tv.Value)
		if !exact {
			return true
		}
		pos := pkg.Fset.Position(call.Pos())
		byValue[value] = append(byValue[value], registration{pos: pos})
		return true
	})
}

func sortedKeys(m map[int64][]registration) []int64 {
	keys := make([]int64, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })
	return keys
}
