package arch_test

import (
	"go/ast"
	"go/parser"
	"go/token"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"testing"
)

const internalPfx = "github.com/papapumpkin/corona/internal/"

// repoRoot walks up from the test's working directory to the directory
// holding go.mod.
func repoRoot(t *testing.T) string {
	t.Helper()

	dir, err := filepath.Abs(".")
	if err != nil {
		t.Fatal(err)
	}
	for {
		if _, err := os.Stat(filepath.Join(dir, "go.mod")); err == nil {
			return dir
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			t.Fatal("could not find go.mod in any parent directory")
		}
		dir = parent
	}
}

func internalDirPath(t *testing.T) string {
	t.Helper()
	return filepath.Join(repoRoot(t), "internal")
}

// internalPackages returns the package directories under internal/ that hold
// Go code, excluding arch_test.
func internalPackages(t *testing.T) []string {
	t.Helper()

	dir := internalDirPath(t)
	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("reading %s: %v", dir, err)
	}
	var pkgs []string
	for _, e := range entries {
		if !e.IsDir() || e.Name() == "arch_test" {
			continue
		}
		if len(goFilesIn(t, filepath.Join(dir, e.Name()))) > 0 {
			pkgs = append(pkgs, e.Name())
		}
	}
	slices.Sort(pkgs)
	return pkgs
}

// goFilesIn returns the non-test .go files in dir, sorted.
func goFilesIn(t *testing.T, dir string) []string {
	t.Helper()

	var files []string
	for _, f := range allGoFilesIn(t, dir) {
		if !strings.HasSuffix(f, "_test.go") {
			files = append(files, f)
		}
	}
	return files
}

// importsOf returns the internal packages imported by the non-test files in
// pkgDir, by first path element after internal/.
func importsOf(t *testing.T, pkgDir string) []string {
	t.Helper()

	var out []string
	fset := token.NewFileSet()
	for _, f := range goFilesIn(t, pkgDir) {
		node, err := parser.ParseFile(fset, f, nil, parser.ImportsOnly)
		if err != nil {
			t.Fatalf("parsing imports in %s: %v", f, err)
		}
		for _, imp := range node.Imports {
			rel, ok := strings.CutPrefix(strings.Trim(imp.Path.Value, `"`), internalPfx)
			if !ok {
				continue
			}
			rel, _, _ = strings.Cut(rel, "/")
			if !slices.Contains(out, rel) {
				out = append(out, rel)
			}
		}
	}
	slices.Sort(out)
	return out
}

// lineCount counts lines, including a final line with no trailing newline.
func lineCount(t *testing.T, filePath string) int {
	t.Helper()

	data, err := os.ReadFile(filePath)
	if err != nil {
		t.Fatalf("reading %s: %v", filePath, err)
	}
	n := strings.Count(string(data), "\n")
	if len(data) > 0 && data[len(data)-1] != '\n' {
		n++
	}
	return n
}

// docText returns the text of the first non-nil comment group.
func docText(groups ...*ast.CommentGroup) string {
	for _, g := range groups {
		if g != nil {
			return g.Text()
		}
	}
	return ""
}

func TestHelpers(t *testing.T) {
	t.Parallel()

	pkgs := internalPackages(t)
	for _, want := range []string{"app", "config", "enhance", "scope", "state"} {
		if !slices.Contains(pkgs, want) {
			t.Errorf("internalPackages missing %q: %v", want, pkgs)
		}
	}
	if slices.Contains(pkgs, "arch_test") {
		t.Error("internalPackages includes arch_test")
	}

	stateDir := filepath.Join(internalDirPath(t), "state")
	for _, f := range goFilesIn(t, stateDir) {
		if strings.HasSuffix(f, "_test.go") {
			t.Errorf("goFilesIn returned test file %s", f)
		}
	}
	if imports := importsOf(t, stateDir); !slices.Contains(imports, "scope") {
		t.Errorf("importsOf(state) = %v, want scope", imports)
	}

	ifaces := interfaceDecls(t, filepath.Join(stateDir, "coordinator.go"))
	i := slices.IndexFunc(ifaces, func(d interfaceDecl) bool { return d.Name == "Subscriber" })
	if i < 0 || len(ifaces[i].Methods) == 0 {
		t.Errorf("interfaceDecls(coordinator.go) did not find Subscriber with methods: %+v", ifaces)
	}
}
