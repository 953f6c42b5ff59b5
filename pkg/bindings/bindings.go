// Package bindings models the read-only category and repository
// configuration the reconciliation engine consumes: which template paths a
// category owns, and which category each target repository subscribes to.
// Bindings are an explicit immutable value passed into the engine at
// construction; the engine never reads them from ambient state, so
// multiple engines can run with different bindings side by side.
package bindings

import (
	"os"
	"slices"
	"sort"

	"github.com/goccy/go-yaml"

	"github.com/agentstation/teleporter/pkg/errors"
)

// Category is a named set of template paths shared by repositories with
// the same requirements.
type Category struct {
	// Description is free-form operator documentation.
	Description string `yaml:"description,omitempty"`

	// Paths are the template file paths the category owns.
	Paths []string `yaml:"files"`
}

// file is the on-disk layout, matching the master configuration shape:
// categories keyed by name, repositories mapped to a single category.
type file struct {
	Categories   map[string]Category `yaml:"categories"`
	Repositories map[string]string   `yaml:"repositories"`
}

// Bindings is the immutable category/repository mapping.
type Bindings struct {
	categories   map[string]Category
	repositories map[string]string
}

// New creates Bindings from explicit maps and validates them.
func New(categories map[string]Category, repositories map[string]string) (*Bindings, error) {
	b := &Bindings{
		categories:   make(map[string]Category, len(categories)),
		repositories: make(map[string]string, len(repositories)),
	}
	for name, category := range categories {
		if name == "" {
			return nil, &errors.ValidationError{Field: "categories", Message: "category name cannot be empty"}
		}
		b.categories[name] = Category{
			Description: category.Description,
			Paths:       slices.Clone(category.Paths),
		}
	}
	for repository, category := range repositories {
		if _, ok := b.categories[category]; !ok {
			return nil, errors.NewConfigError("bindings",
				"repository "+repository+" references unknown category "+category, nil)
		}
		b.repositories[repository] = category
	}
	return b, nil
}

// Load reads bindings from a YAML file.
func Load(path string) (*Bindings, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.WrapIO("read", path, err)
	}
	return Parse(data)
}

// Parse decodes bindings from YAML bytes.
func Parse(data []byte) (*Bindings, error) {
	var f file
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, errors.NewConfigError("bindings", "invalid YAML", err)
	}
	return New(f.Categories, f.Repositories)
}

// Categories returns all category names, sorted.
func (b *Bindings) Categories() []string {
	names := make([]string, 0, len(b.categories))
	for name := range b.categories {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// HasCategory reports whether a category is defined.
func (b *Bindings) HasCategory(category string) bool {
	_, ok := b.categories[category]
	return ok
}

// PathsFor returns the template paths a category owns, or
// ErrCategoryNotFound if the category is not defined.
func (b *Bindings) PathsFor(category string) ([]string, error) {
	c, ok := b.categories[category]
	if !ok {
		return nil, errors.NewNotFoundError("category", category)
	}
	return slices.Clone(c.Paths), nil
}

// OwnsPath reports whether a category owns a template path.
func (b *Bindings) OwnsPath(category, path string) bool {
	c, ok := b.categories[category]
	return ok && slices.Contains(c.Paths, path)
}

// RepositoriesFor returns the repositories subscribed to a category,
// sorted, or ErrCategoryNotFound if the category is not defined.
func (b *Bindings) RepositoriesFor(category string) ([]string, error) {
	if !b.HasCategory(category) {
		return nil, errors.NewNotFoundError("category", category)
	}
	var repos []string
	for repository, c := range b.repositories {
		if c == category {
			repos = append(repos, repository)
		}
	}
	sort.Strings(repos)
	return repos, nil
}

// CategoryOf returns the category a repository subscribes to.
func (b *Bindings) CategoryOf(repository string) (string, bool) {
	category, ok := b.repositories[repository]
	return category, ok
}
