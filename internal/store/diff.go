package store

import (
	"fmt"
	"strings"

	"chefq/internal/chef"
)

// Diff lists names added to or removed from a run list between two snapshots.
// Position changes of a name that is present in both are reported as Moved.
type Diff struct {
	AddedRoles     []string `json:"added_roles,omitempty"`
	RemovedRoles   []string `json:"removed_roles,omitempty"`
	AddedRecipes   []string `json:"added_recipes,omitempty"`
	RemovedRecipes []string `json:"removed_recipes,omitempty"`
	Moved          []string `json:"moved,omitempty"`
}

// Empty reports whether the two run lists were identical.
func (d Diff) Empty() bool {
	return len(d.AddedRoles)+len(d.RemovedRoles)+len(d.AddedRecipes)+len(d.RemovedRecipes)+len(d.Moved) == 0
}

// String renders the diff one change per line.
func (d Diff) String() string {
	if d.Empty() {
		return "no changes"
	}
	var b strings.Builder
	write := func(prefix, kind string, names []string) {
		for _, n := range names {
			fmt.Fprintf(&b, "%s %s[%s]\n", prefix, kind, n)
		}
	}
	write("+", "role", d.AddedRoles)
	write("-", "role", d.RemovedRoles)
	write("+", "recipe", d.AddedRecipes)
	write("-", "recipe", d.RemovedRecipes)
	for _, m := range d.Moved {
		fmt.Fprintf(&b, "~ %s\n", m)
	}
	return strings.TrimSuffix(b.String(), "\n")
}

// DiffRunLists compares two run lists.
func DiffRunLists(old, new chef.RunList) Diff {
	var d Diff
	d.AddedRoles, d.RemovedRoles = diffNames(old.Roles, new.Roles)
	d.AddedRecipes, d.RemovedRecipes = diffNames(old.Recipes, new.Recipes)
	d.Moved = append(moved("role", old.Roles, new.Roles), moved("recipe", old.Recipes, new.Recipes)...)
	return d
}

func diffNames(old, new []chef.RunListItem) (added, removed []string) {
	oldSet := make(map[string]bool, len(old))
	for _, item := range old {
		oldSet[item.Name] = true
	}
	newSet := make(map[string]bool, len(new))
	for _, item := range new {
		if newSet[item.Name] {
			continue
		}
		newSet[item.Name] = true
		if !oldSet[item.Name] {
			added = append(added, item.Name)
		}
	}
	reported := make(map[string]bool)
	for _, item := range old {
		if newSet[item.Name] || reported[item.Name] {
			continue
		}
		reported[item.Name] = true
		removed = append(removed, item.Name)
	}
	return added, removed
}

func moved(kind string, old, new []chef.RunListItem) []string {
	oldPos := make(map[string]uint, len(old))
	for _, item := range old {
		if _, seen := oldPos[item.Name]; !seen {
			oldPos[item.Name] = item.SeqNo
		}
	}
	var out []string
	seen := make(map[string]bool, len(new))
	for _, item := range new {
		if seen[item.Name] {
			continue
		}
		seen[item.Name] = true
		if pos, ok := oldPos[item.Name]; ok && pos != item.SeqNo {
			out = append(out, fmt.Sprintf("%s[%s] %d -> %d", kind, item.Name, pos, item.SeqNo))
		}
	}
	return out
}
