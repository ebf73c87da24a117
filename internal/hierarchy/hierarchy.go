// Package hierarchy describes which taggers apply to each image of a family.
// Images inherit the taggers of every ancestor, root first.
package hierarchy

import (
	_ "embed"
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/samber/lo"
	"gopkg.in/yaml.v3"
)

//go:embed default.yaml
var defaultHierarchy []byte

var (
	ErrUnknownImage = errors.New("unknown image")
	ErrCycle        = errors.New("image hierarchy has a cycle")
)

// Node is one image in the hierarchy.
type Node struct {
	Parent  string   `yaml:"parent"`
	Taggers []string `yaml:"taggers"`
}

// Hierarchy maps image names to their node.
type Hierarchy map[string]Node

// Default returns the embedded notebook family hierarchy.
func Default() Hierarchy {
	h, err := Parse(defaultHierarchy)
	if err != nil {
		panic("hierarchy: embedded default is invalid: " + err.Error())
	}
	return h
}

// Parse decodes a YAML hierarchy document.
func Parse(b []byte) (Hierarchy, error) {
	h := Hierarchy{}
	if err := yaml.Unmarshal(b, &h); err != nil {
		return nil, fmt.Errorf("parse hierarchy: %w", err)
	}
	for name, n := range h {
		if n.Parent != "" {
			if _, ok := h[n.Parent]; !ok {
				return nil, fmt.Errorf("%s: parent %q: %w", name, n.Parent, ErrUnknownImage)
			}
		}
	}
	return h, nil
}

// Load reads a hierarchy file, or returns the default when path is empty.
func Load(path string) (Hierarchy, error) {
	if path == "" {
		return Default(), nil
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return Parse(b)
}

// Lineage returns the image's ancestors root first, ending with image.
func (h Hierarchy) Lineage(image string) ([]string, error) {
	var chain []string
	seen := map[string]bool{}
	for cur := image; cur != ""; {
		n, ok := h[cur]
		if !ok {
			return nil, fmt.Errorf("%w: %q", ErrUnknownImage, cur)
		}
		if seen[cur] {
			return nil, fmt.Errorf("%w: %s", ErrCycle, strings.Join(append(chain, cur), " -> "))
		}
		seen[cur] = true
		chain = append(chain, cur)
		cur = n.Parent
	}
	return lo.Reverse(chain), nil
}

// TaggersFor returns the tagger names applying to image, root ancestor first,
// without duplicates.
func (h Hierarchy) TaggersFor(image string) ([]string, error) {
	lineage, err := h.Lineage(image)
	if err != nil {
		return nil, err
	}
	names := lo.FlatMap(lineage, func(img string, _ int) []string { return h[img].Taggers })
	return lo.Uniq(names), nil
}

// Validate reports every tagger name that known rejects.
func (h Hierarchy) Validate(known func(string) bool) error {
	var errs []error
	for _, img := range h.Images() {
		for _, t := range h[img].Taggers {
			if !known(t) {
				errs = append(errs, fmt.Errorf("%s: unknown tagger %q", img, t))
			}
		}
	}
	return errors.Join(errs...)
}

// Images returns the image names, sorted.
func (h Hierarchy) Images() []string {
	names := lo.Keys(h)
	sort.Strings(names)
	return names
}
