// Package chef reads Chef provisioning documents and extracts their run lists.
//
// A run list is an ordered array of role and recipe identifiers, written as
// role[NAME], recipe[NAME] or a bare recipe name such as "Foo::Bar". The
// parser keeps the original array position of every item so roles and
// recipes can be split into separate collections without losing ordering.
package chef

import (
	"strings"

	"github.com/tidwall/gjson"
	"go.uber.org/zap"
)

const (
	// RoleSearchTerm identifies a Chef role in a run list item.
	RoleSearchTerm = "role["
	// RecipeSearchTerm identifies a Chef recipe in a run list item.
	RecipeSearchTerm = "recipe["

	// RunListField is the top-level member holding the run list.
	RunListField = "run_list"
)

// asciiSpace is the C-locale isspace set. Unicode spaces such as U+00A0 are
// part of the item.
const asciiSpace = " \t\n\v\f\r"

// Kind distinguishes the two classes of run list items.
type Kind string

const (
	KindRole   Kind = "role"
	KindRecipe Kind = "recipe"
)

// RunListItem is a single classified run list entry.
type RunListItem struct {
	Name  string `json:"name"`
	SeqNo uint   `json:"seq_no"` // zero-based index in the original array
}

// RunList holds the roles and recipes of a run list, each in array order.
type RunList struct {
	Roles   []RunListItem `json:"roles"`
	Recipes []RunListItem `json:"recipes"`
}

// Len returns the number of classified items.
func (rl RunList) Len() int {
	return len(rl.Roles) + len(rl.Recipes)
}

// Empty reports whether no items were classified.
func (rl RunList) Empty() bool {
	return rl.Len() == 0
}

// IsRole reports whether item is a role and extracts its name.
// The final character is dropped without checking that it is ']'.
func IsRole(item string) (string, bool) {
	if !strings.HasPrefix(item, RoleSearchTerm) {
		return "", false
	}
	return stripTerm(item, RoleSearchTerm), true
}

// IsRecipe reports whether item is a recipe and extracts its name.
// Anything that is not a role is treated as a bare recipe name.
func IsRecipe(item string) (string, bool) {
	if strings.HasPrefix(item, RecipeSearchTerm) {
		return stripTerm(item, RecipeSearchTerm), true
	}
	if !strings.HasPrefix(item, RoleSearchTerm) {
		return item, true
	}
	return "", false
}

// stripTerm removes the search term and the trailing character.
func stripTerm(item, term string) string {
	if len(item) <= len(term) {
		return ""
	}
	return item[len(term) : len(item)-1]
}

// Parser turns first-boot documents into run lists.
type Parser struct {
	// Strict drops bracketed items that are not closed with ']' or have an
	// empty name, and bare names containing brackets. The default (false)
	// keeps the lenient classification of IsRole and IsRecipe.
	Strict bool

	logger *zap.Logger
}

// NewParser returns a lenient parser that reports warnings to logger.
// A nil logger discards warnings.
func NewParser(logger *zap.Logger) *Parser {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Parser{logger: logger}
}

// ParseRunList is shorthand for a lenient parse of doc.
func ParseRunList(doc gjson.Result, logger *zap.Logger) RunList {
	return NewParser(logger).Parse(doc)
}

// ParseBytes parses raw JSON. Content that is not valid JSON yields an empty
// run list.
func (p *Parser) ParseBytes(content []byte) RunList {
	if !gjson.ValidBytes(content) {
		p.logger.Debug("first-boot content is not valid JSON", zap.Int("bytes", len(content)))
		return RunList{}
	}
	return p.Parse(gjson.ParseBytes(content))
}

// Parse extracts the run list from a parsed document.
func (p *Parser) Parse(doc gjson.Result) RunList {
	var rl RunList

	if !doc.IsObject() {
		return rl
	}
	field := doc.Get(RunListField)
	if !field.Exists() {
		return rl
	}
	if !field.IsArray() {
		p.logger.Warn("Did not get array type for 'run_list' field of 'first-boot.json'")
		return rl
	}

	for i, elem := range field.Array() {
		seq := uint(i)
		if elem.Type != gjson.String {
			p.logger.Warn("Did not get string type for Chef run_list member",
				zap.Uint("index", seq))
			continue
		}

		item := strings.Trim(elem.Str, asciiSpace)
		if name, ok := p.role(item); ok {
			rl.Roles = append(rl.Roles, RunListItem{Name: name, SeqNo: seq})
		} else if name, ok := p.recipe(item); ok {
			rl.Recipes = append(rl.Recipes, RunListItem{Name: name, SeqNo: seq})
		}
	}

	return rl
}

func (p *Parser) role(item string) (string, bool) {
	name, ok := IsRole(item)
	if !ok || !p.Strict {
		return name, ok
	}
	if !wellFormed(item, RoleSearchTerm) {
		p.logger.Warn("Dropping malformed Chef role", zap.String("item", item))
		return "", false
	}
	return name, true
}

func (p *Parser) recipe(item string) (string, bool) {
	name, ok := IsRecipe(item)
	if !ok || !p.Strict {
		return name, ok
	}
	if strings.HasPrefix(item, RecipeSearchTerm) {
		if !wellFormed(item, RecipeSearchTerm) {
			p.logger.Warn("Dropping malformed Chef recipe", zap.String("item", item))
			return "", false
		}
		return name, true
	}
	if name == "" || strings.ContainsAny(name, "[]") {
		p.logger.Warn("Dropping unclassifiable run_list item", zap.String("item", item))
		return "", false
	}
	return name, true
}

// wellFormed reports whether item is term + non-empty name + ']'.
func wellFormed(item, term string) bool {
	if !strings.HasSuffix(item, "]") || len(item) <= len(term)+1 {
		return false
	}
	return !strings.ContainsAny(item[len(term):len(item)-1], "[]")
}
