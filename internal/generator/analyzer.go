package generator

import (
	"context"
	"encoding/json"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"daily-quiz-bot/internal/domain"
	"golang.org/x/mod/modfile"
)

const (
	structureDepth   = 3
	structureLines   = 50
	sampleFiles      = 20
	dependencyLimit  = 25
	recentCommits    = 10
	diffCommits      = 3
	diffLinesPerFile = 60
)

var skipDirs = map[string]bool{
	".git": true, "node_modules": true, "vendor": true, "dist": true,
	"build": true, "coverage": true, "__pycache__": true, ".idea": true,
}

var sourceExts = map[string]bool{
	".go": true, ".ts": true, ".tsx": true, ".vue": true, ".js": true,
	".jsx": true, ".py": true, ".java": true, ".kt": true, ".rs": true,
}

// RepoAnalyzer reads a local git checkout and describes it for one quiz type.
type RepoAnalyzer struct {
	path   string
	name   string
	pull   bool
	runner Runner
	log    *slog.Logger
}

// NewRepoAnalyzer analyzes the checkout at path. When pull is set the
// checkout is fast-forwarded before codebase and recent_change analysis.
func NewRepoAnalyzer(path, name string, pull bool, runner Runner, log *slog.Logger) *RepoAnalyzer {
	if runner == nil {
		runner = ExecRunner{}
	}
	if log == nil {
		log = slog.Default()
	}
	if name == "" {
		name = filepath.Base(path)
	}
	return &RepoAnalyzer{path: path, name: name, pull: pull, runner: runner, log: log}
}

// LoadContext returns the repository facts a quiz of quizType is written from.
func (a *RepoAnalyzer) LoadContext(ctx context.Context, quizType domain.QuizType) (string, error) {
	switch quizType {
	case domain.QuizTypeCodebase:
		a.gitPull(ctx)
		return a.codebaseContext()
	case domain.QuizTypeLibrary:
		return a.libraryContext()
	case domain.QuizTypeRecentChange:
		a.gitPull(ctx)
		return a.recentChangeContext(ctx)
	default:
		return "", fmt.Errorf("unsupported quiz type %q", quizType)
	}
}

func (a *RepoAnalyzer) gitPull(ctx context.Context) {
	if !a.pull {
		return
	}
	out, err := a.runner.Run(ctx, a.path, "git", "pull", "--ff-only")
	if err != nil {
		a.log.Warn("git pull failed, using local checkout", "error", err)
		return
	}
	a.log.Info("git pull", "output", strings.TrimSpace(string(out)))
}

func (a *RepoAnalyzer) codebaseContext() (string, error) {
	structure, err := a.structure()
	if err != nil {
		return "", err
	}
	files, err := a.sourceFiles(sampleFiles)
	if err != nil {
		return "", err
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Project: %s\n\nDirectory structure:\n%s\n", a.name, structure)
	if len(files) > 0 {
		b.WriteString("\nSample source files:\n")
		for _, f := range files {
			fmt.Fprintf(&b, "- %s\n", f)
		}
	}
	if pkg, ok := a.packageJSON(); ok && len(pkg.Scripts) > 0 {
		fmt.Fprintf(&b, "\nnpm scripts: %s\n", strings.Join(sortedKeys(pkg.Scripts, 10), ", "))
	}
	return b.String(), nil
}

func (a *RepoAnalyzer) structure() (string, error) {
	var lines []string
	var walk func(dir, prefix string, depth int) error
	walk = func(dir, prefix string, depth int) error {
		if depth > structureDepth || len(lines) >= structureLines {
			return nil
		}
		entries, err := os.ReadDir(dir)
		if err != nil {
			return err
		}
		var dirs []fs.DirEntry
		for _, e := range entries {
			if e.IsDir() && !skipDirs[e.Name()] {
				dirs = append(dirs, e)
			}
		}
		for i, d := range dirs {
			last := i == len(dirs)-1
			connector, indent := "├── ", "│   "
			if last {
				connector, indent = "└── ", "    "
			}
			lines = append(lines, prefix+connector+d.Name()+"/")
			if err := walk(filepath.Join(dir, d.Name()), prefix+indent, depth+1); err != nil {
				return err
			}
		}
		return nil
	}
	if err := walk(a.path, "", 0); err != nil {
		return "", fmt.Errorf("read repository structure: %w", err)
	}
	if len(lines) > structureLines {
		lines = lines[:structureLines]
	}
	return strings.Join(lines, "\n"), nil
}

func (a *RepoAnalyzer) sourceFiles(limit int) ([]string, error) {
	var files []string
	err := filepath.WalkDir(a.path, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if skipDirs[d.Name()] {
				return filepath.SkipDir
			}
			return nil
		}
		if !sourceExts[filepath.Ext(path)] || strings.HasSuffix(path, "_test.go") {
			return nil
		}
		rel, err := filepath.Rel(a.path, path)
		if err != nil {
			return err
		}
		files = append(files, filepath.ToSlash(rel))
		if len(files) >= limit {
			return fs.SkipAll
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("list source files: %w", err)
	}
	return files, nil
}

type packageManifest struct {
	Name            string            `json:"name"`
	Scripts         map[string]string `json:"scripts"`
	Dependencies    map[string]string `json:"dependencies"`
	DevDependencies map[string]string `json:"devDependencies"`
}

func (a *RepoAnalyzer) packageJSON() (packageManifest, bool) {
	raw, err := os.ReadFile(filepath.Join(a.path, "package.json"))
	if err != nil {
		return packageManifest{}, false
	}
	var pkg packageManifest
	if err := json.Unmarshal(raw, &pkg); err != nil {
		a.log.Warn("failed to parse package.json", "error", err)
		return packageManifest{}, false
	}
	return pkg, true
}

func (a *RepoAnalyzer) libraryContext() (string, error) {
	var deps []string

	if raw, err := os.ReadFile(filepath.Join(a.path, "go.mod")); err == nil {
		mf, err := modfile.Parse("go.mod", raw, nil)
		if err != nil {
			return "", fmt.Errorf("parse go.mod: %w", err)
		}
		for _, req := range mf.Require {
			if req.Indirect {
				continue
			}
			deps = append(deps, fmt.Sprintf("%s %s (Go module)", req.Mod.Path, req.Mod.Version))
		}
	}
	if pkg, ok := a.packageJSON(); ok {
		for _, name := range sortedKeys(pkg.Dependencies, 0) {
			deps = append(deps, fmt.Sprintf("%s %s (npm)", name, pkg.Dependencies[name]))
		}
		for _, name := range sortedKeys(pkg.DevDependencies, 0) {
			deps = append(deps, fmt.Sprintf("%s %s (npm, dev)", name, pkg.DevDependencies[name]))
		}
	}
	if len(deps) == 0 {
		return "", fmt.Errorf("no go.mod or package.json dependencies found in %s", a.path)
	}
	if len(deps) > dependencyLimit {
		deps = deps[:dependencyLimit]
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Project: %s\n\nDirect dependencies:\n", a.name)
	for _, d := range deps {
		fmt.Fprintf(&b, "- %s\n", d)
	}
	return b.String(), nil
}

type commit struct {
	sha, subject, author, date string
}

func (a *RepoAnalyzer) recentChangeContext(ctx context.Context) (string, error) {
	out, err := a.runner.Run(ctx, a.path, "git", "log", fmt.Sprintf("-%d", recentCommits), "--no-merges", "--format=%H|%s|%an|%ad", "--date=short")
	if err != nil {
		return "", fmt.Errorf("git log: %w", err)
	}
	commits := parseLog(string(out))
	if len(commits) == 0 {
		return "", fmt.Errorf("no commits found in %s", a.path)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Project: %s\n\nRecent commits:\n", a.name)
	for _, c := range commits {
		fmt.Fprintf(&b, "- %s %s (%s, %s)\n", shortSHA(c.sha), c.subject, c.author, c.date)
	}

	for _, c := range commits[:min(diffCommits, len(commits))] {
		diff, err := a.runner.Run(ctx, a.path, "git", "show", "--format=", "--patch", "--stat", c.sha)
		if err != nil {
			a.log.Warn("git show failed", "sha", c.sha, "error", err)
			continue
		}
		fmt.Fprintf(&b, "\nCommit %s (%s) diff:\n%s\n", shortSHA(c.sha), c.subject, boundLines(string(diff), diffLinesPerFile))
	}
	return b.String(), nil
}

func parseLog(out string) []commit {
	var commits []commit
	for _, line := range strings.Split(strings.TrimSpace(out), "\n") {
		parts := strings.SplitN(line, "|", 4)
		if len(parts) < 4 {
			continue
		}
		commits = append(commits, commit{sha: parts[0], subject: parts[1], author: parts[2], date: parts[3]})
	}
	return commits
}

func boundLines(s string, n int) string {
	lines := strings.Split(strings.TrimRight(s, "\n"), "\n")
	if len(lines) <= n {
		return strings.Join(lines, "\n")
	}
	return strings.Join(lines[:n], "\n") + fmt.Sprintf("\n... (%d more lines)", len(lines)-n)
}

func shortSHA(sha string) string {
	if len(sha) > 7 {
		return sha[:7]
	}
	return sha
}

func sortedKeys(m map[string]string, limit int) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	if limit > 0 && len(keys) > limit {
		keys = keys[:limit]
	}
	return keys
}
