package router

import (
	"slices"
	"strings"

	"github.com/seantiz/foundry/internal/model"
)

// CategoryKeywords associates a category with the keywords that select it.
type CategoryKeywords struct {
	Category string   `yaml:"category"`
	Keywords []string `yaml:"keywords"`
}

// DefaultKeywords is the classification table. Order matters: when a task
// matches several categories the earliest entry wins.
var DefaultKeywords = []CategoryKeywords{
	{
		Category: model.CategoryPrototyping,
		Keywords: []string{
			"prototype", "from scratch", "scaffold", "create new", "new feature",
			"proof of concept", "mvp", "bootstrap", "greenfield",
		},
	},
	{
		Category: model.CategoryRefactoring,
		Keywords: []string{
			"refactor", "restructure", "clean up", "cleanup", "simplify",
			"reorganize", "extract", "rename", "decouple", "technical debt",
		},
	},
	{
		Category: model.CategoryTesting,
		Keywords: []string{
			"test", "coverage", "assert", "fixture", "regression",
		},
	},
	{
		Category: model.CategoryDocumentation,
		Keywords: []string{
			"document", "readme", "docstring", "comment", "tutorial", "changelog",
		},
	},
}

// Classifier assigns tasks to categories using an ordered keyword table.
type Classifier struct {
	table []CategoryKeywords
}

// NewClassifier creates a classifier over table. Keywords are matched
// case-insensitively. A nil table uses DefaultKeywords.
func NewClassifier(table []CategoryKeywords) *Classifier {
	if table == nil {
		table = DefaultKeywords
	}
	cp := make([]CategoryKeywords, len(table))
	for i, entry := range table {
		kws := make([]string, 0, len(entry.Keywords))
		for _, kw := range entry.Keywords {
			if kw = strings.ToLower(strings.TrimSpace(kw)); kw != "" {
				kws = append(kws, kw)
			}
		}
		cp[i] = CategoryKeywords{Category: strings.ToLower(entry.Category), Keywords: kws}
	}
	return &Classifier{table: cp}
}

// Classify returns the task's category. An explicit type hint naming a known
// category wins; otherwise the first table entry with a keyword found in the
// description or acceptance criteria wins; otherwise CategoryGeneral.
func (c *Classifier) Classify(task model.Task) string {
	if hint := strings.ToLower(strings.TrimSpace(task.Type)); hint != "" && c.known(hint) {
		return hint
	}

	text := strings.ToLower(task.Description + "\n" + strings.Join(task.AcceptanceCriteria, "\n"))
	for _, entry := range c.table {
		for _, kw := range entry.Keywords {
			if strings.Contains(text, kw) {
				return entry.Category
			}
		}
	}
	return model.CategoryGeneral
}

// known reports whether category is either a built-in category or present in
// the classifier's table.
func (c *Classifier) known(category string) bool {
	if slices.Contains(model.Categories, category) {
		return true
	}
	for _, entry := range c.table {
		if entry.Category == category {
			return true
		}
	}
	return false
}
