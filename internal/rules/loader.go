package rules

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// LoadRules merges built-in Go rules, the embedded defaults, user rules and
// project rules, in that order of increasing precedence. A later tier
// replaces an earlier rule with the same ID. The result is sorted by ID.
func LoadRules(userDir, projectDir string) ([]Rule, error) {
	defaults, err := DefaultRules()
	if err != nil {
		return nil, fmt.Errorf("loading default rules: %w", err)
	}

	merged := indexByID(Builtins())
	for _, r := range defaults {
		merged[r.ID] = r
	}

	userRules, err := loadDir(userDir)
	if err != nil {
		return nil, fmt.Errorf("loading user rules from %s: %w", userDir, err)
	}
	for _, r := range userRules {
		merged[r.ID] = r
	}

	projectRules, err := loadDir(projectDir)
	if err != nil {
		return nil, fmt.Errorf("loading project rules from %s: %w", projectDir, err)
	}
	for _, r := range projectRules {
		merged[r.ID] = r
	}

	result := make([]Rule, 0, len(merged))
	for _, r := range merged {
		result = append(result, r)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ID < result[j].ID })
	return result, nil
}

func loadDir(dir string) ([]Rule, error) {
	if dir == "" {
		return nil, nil
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("reading directory %s: %w", dir, err)
	}

	var allRules []Rule
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		ext := strings.ToLower(filepath.Ext(entry.Name()))
		if ext != ".yaml" && ext != ".yml" {
			continue
		}

		data, err := os.ReadFile(filepath.Join(dir, entry.Name()))
		if err != nil {
			return nil, fmt.Errorf("reading %s: %w", entry.Name(), err)
		}

		rf, err := ParseRuleFile(data)
		if err != nil {
			return nil, fmt.Errorf("parsing %s: %w", entry.Name(), err)
		}

		allRules = append(allRules, rf.Rules...)
	}
	return allRules, nil
}

// UserRulesDir returns ~/.config/callsite/rules, or "" if the home directory
// is unknown.
func UserRulesDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".config", "callsite", "rules")
}

// ProjectRulesDir returns the rules directory of a project rooted at root.
func ProjectRulesDir(root string) string {
	return filepath.Join(root, ".callsite", "rules")
}

func indexByID(rules []Rule) map[string]Rule {
	m := make(map[string]Rule, len(rules))
	for _, r := range rules {
		m[r.ID] = r
	}
	return m
}
