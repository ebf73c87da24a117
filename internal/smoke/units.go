// Package smoke runs small Python scripts ("units") inside an image to check
// that its main packages import and work.
package smoke

import (
	"embed"
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"
)

//go:embed units
var builtin embed.FS

const unitGlob = "unit_*.py"

// Unit is one Python script run as `python -c <Script>`.
type Unit struct {
	Name   string
	Script string
	// SkipOnGPU units are not run in containers that expose NVIDIA devices.
	SkipOnGPU bool
}

func newUnit(file string, script []byte) Unit {
	s := string(script)
	return Unit{
		Name:      strings.TrimSuffix(filepath.Base(file), ".py"),
		Script:    s,
		SkipOnGPU: strings.Contains(s, "import tensorflow"),
	}
}

// BuiltinUnits returns the embedded units for image, sorted by name.
func BuiltinUnits(image string) ([]Unit, error) {
	matches, err := fs.Glob(builtin, path.Join("units", image, unitGlob))
	if err != nil {
		return nil, err
	}
	sort.Strings(matches)
	units := make([]Unit, 0, len(matches))
	for _, m := range matches {
		b, err := builtin.ReadFile(m)
		if err != nil {
			return nil, err
		}
		units = append(units, newUnit(m, b))
	}
	return units, nil
}

// LoadUnits reads the unit_*.py files in dir, sorted by name.
func LoadUnits(dir string) ([]Unit, error) {
	matches, err := filepath.Glob(filepath.Join(dir, unitGlob))
	if err != nil {
		return nil, fmt.Errorf("list units in %s: %w", dir, err)
	}
	sort.Strings(matches)
	units := make([]Unit, 0, len(matches))
	for _, m := range matches {
		b, err := os.ReadFile(m)
		if err != nil {
			return nil, fmt.Errorf("read unit %s: %w", m, err)
		}
		units = append(units, newUnit(m, b))
	}
	return units, nil
}
