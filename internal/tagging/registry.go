package tagging

import (
	"fmt"
	"sort"

	"github.com/samber/lo"
)

var registry = map[string]Tagger{}

func register(name string, value valueFunc) {
	if _, dup := registry[name]; dup {
		panic("tagging: duplicate tagger " + name)
	}
	registry[name] = strategy{name: name, value: value}
}

func init() {
	register("sha", shaTag)
	register("date", dateTag)
	register("ubuntu-version", ubuntuVersionTag)
	register("python-version", pythonVersionTag)
	register("python-major-minor-version", pythonMajorMinorVersionTag)
	register("jupyter-notebook-version", prefixedProgramVersion("notebook-", "jupyter-notebook"))
	register("jupyter-lab-version", prefixedProgramVersion("lab-", "jupyter-lab"))
	register("jupyterhub-version", prefixedProgramVersion("hub-", "jupyterhub"))
	// token positions differ per banner: "R version 4.3.1 ...", "julia version 1.9.3",
	// "Python 3.11.4", "openjdk 17.0.8 2023-07-18"
	register("r-version", prefixedVersionToken("r-", "R", 2))
	register("tensorflow-version", tensorflowVersionTag)
	register("pytorch-version", pytorchVersionTag)
	register("julia-version", prefixedVersionToken("julia-", "julia", 2))
	register("spark-version", sparkVersionTag)
	register("java-version", prefixedVersionToken("java-", "java", 1))
}

// Lookup returns the tagger registered under name.
func Lookup(name string) (Tagger, error) {
	t, ok := registry[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownTagger, name)
	}
	return t, nil
}

// LookupAll resolves names in order, failing on the first unknown one.
func LookupAll(names []string) ([]Tagger, error) {
	out := make([]Tagger, 0, len(names))
	for _, n := range names {
		t, err := Lookup(n)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, nil
}

// Has reports whether name is registered.
func Has(name string) bool {
	_, ok := registry[name]
	return ok
}

// Names returns all registered tagger names, sorted.
func Names() []string {
	names := lo.Keys(registry)
	sort.Strings(names)
	return names
}
