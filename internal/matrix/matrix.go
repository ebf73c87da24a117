// Package matrix builds the GitHub Actions build matrix for a directory of
// *.dockerfile recipes.
package matrix

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/samber/lo"
)

// ErrOwnerMissing is returned when the repository owner is not known.
var ErrOwnerMissing = errors.New("REPOSITORY_OWNER is not set")

var (
	DefaultRunsOn  = []string{"ubuntu-24.04", "ubuntu-22.04-arm"}
	DefaultExclude = []Exclusion{{Dockerfile: "oracledb.dockerfile", RunsOn: "ubuntu-22.04-arm"}}
)

// Exclusion removes one dockerfile/runner combination from the matrix.
type Exclusion struct {
	Dockerfile string `json:"dockerfile"`
	RunsOn     string `json:"runs-on"`
}

// Matrix is the strategy.matrix object. Field order is the output key order.
type Matrix struct {
	Dockerfile []string    `json:"dockerfile"`
	RunsOn     []string    `json:"runs-on"`
	Exclude    []Exclusion `json:"exclude"`
}

// Options tunes Generate. Zero values select the defaults.
type Options struct {
	// Owner falls back to the REPOSITORY_OWNER environment variable.
	Owner   string
	RunsOn  []string
	Exclude []Exclusion
}

// Generate lists the *.dockerfile files in dir and builds the matrix.
func Generate(dir string, opts Options) (Matrix, error) {
	owner := opts.Owner
	if owner == "" {
		owner = os.Getenv("REPOSITORY_OWNER")
	}
	if owner == "" {
		return Matrix{}, ErrOwnerMissing
	}
	paths, err := filepath.Glob(filepath.Join(dir, "*.dockerfile"))
	if err != nil {
		return Matrix{}, fmt.Errorf("list dockerfiles: %w", err)
	}
	files := lo.Map(paths, func(p string, _ int) string { return filepath.Base(p) })
	sort.Strings(files)

	m := Matrix{
		Dockerfile: files,
		RunsOn:     opts.RunsOn,
		Exclude:    opts.Exclude,
	}
	if len(m.RunsOn) == 0 {
		m.RunsOn = DefaultRunsOn
	}
	if m.Exclude == nil {
		m.Exclude = DefaultExclude
	}
	return m, nil
}

// ExclusionsFromMaps converts config-style exclusion maps.
func ExclusionsFromMaps(in []map[string]string) []Exclusion {
	if in == nil {
		return nil
	}
	return lo.Map(in, func(m map[string]string, _ int) Exclusion {
		return Exclusion{Dockerfile: m["dockerfile"], RunsOn: m["runs-on"]}
	})
}

// JSON renders the matrix as compact JSON.
func (m Matrix) JSON() (string, error) {
	if m.Dockerfile == nil {
		m.Dockerfile = []string{}
	}
	b, err := json.Marshal(m)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// Output renders the matrix as a GITHUB_OUTPUT line: matrix=<json>
func (m Matrix) Output() (string, error) {
	s, err := m.JSON()
	if err != nil {
		return "", err
	}
	return "matrix=" + s, nil
}
