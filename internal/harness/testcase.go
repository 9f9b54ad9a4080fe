package harness

import (
	"fmt"
	"io/fs"
	"path/filepath"
	"sort"
	"strings"
)

// TestCase is one source file and the build outputs derived from it.
type TestCase struct {
	Name           string `json:"name"`
	SourcePath     string `json:"source"`
	ArtifactPath   string `json:"artifact,omitempty"`
	ExecutablePath string `json:"executable"`
}

// NewTestCase derives output paths for a source file under the given name.
func (p Pipeline) NewTestCase(sourcePath, name string) TestCase {
	tc := TestCase{
		Name:           name,
		SourcePath:     sourcePath,
		ExecutablePath: localPath(filepath.Join(p.TargetDir, name+p.ExecutableExt)),
	}
	if p.Mode != ModeDirect {
		tc.ArtifactPath = filepath.Join(p.TargetDir, name+p.ArtifactExt)
	}
	return tc
}

// localPath keeps a path in the current directory from being looked up on
// PATH when it is executed.
func localPath(path string) string {
	if filepath.IsAbs(path) || strings.ContainsRune(path, filepath.Separator) || strings.ContainsRune(path, '/') {
		return path
	}
	return "." + string(filepath.Separator) + path
}

// CaseForName returns the test case for a fixed test name, the way the
// single-test runner addresses tests.
func (p Pipeline) CaseForName(name string) TestCase {
	return p.NewTestCase(filepath.Join(p.TestsDir, name+p.SourceExt), name)
}

// CaseName strips directory and extension from a source path.
func CaseName(sourcePath string) string {
	base := filepath.Base(sourcePath)
	return strings.TrimSuffix(base, filepath.Ext(base))
}

// Discover finds every source file under TestsDir with SourceExt, sorted by
// path. filter is an optional glob matched against the case name.
//
// Names are unique within the result: a base name seen again in another
// subdirectory gets a "-2", "-3", ... suffix so no two cases share build
// outputs.
func (p Pipeline) Discover(filter string) ([]TestCase, error) {
	if filter != "" {
		if _, err := filepath.Match(filter, ""); err != nil {
			return nil, fmt.Errorf("invalid filter pattern: %w", err)
		}
	}

	var sources []string
	err := filepath.WalkDir(p.TestsDir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		if p.SourceExt != "" && filepath.Ext(path) != p.SourceExt {
			return nil
		}
		if filter != "" {
			matched, _ := filepath.Match(filter, CaseName(path))
			if !matched {
				return nil
			}
		}
		sources = append(sources, path)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("discover tests in %s: %w", p.TestsDir, err)
	}

	sort.Strings(sources)

	seen := make(map[string]int, len(sources))
	cases := make([]TestCase, 0, len(sources))
	for _, src := range sources {
		name := CaseName(src)
		seen[name]++
		if n := seen[name]; n > 1 {
			name = fmt.Sprintf("%s-%d", name, n)
			for seen[name] > 0 {
				n++
				name = fmt.Sprintf("%s-%d", CaseName(src), n)
			}
			seen[name]++
		}
		cases = append(cases, p.NewTestCase(src, name))
	}

	return cases, nil
}
