// Package tagfile persists the image references produced by a tagging run so
// that later CI steps (push, manifest merge) can pick them up.
package tagfile

import (
	"bufio"
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/samber/lo"
)

var mu sync.Mutex

// Store addresses tags files under Dir for one build variant.
type Store struct {
	Dir     string
	Variant string
}

// Path returns <Dir>/<Variant>-<image>.txt
func (s Store) Path(image string) string {
	return filepath.Join(s.Dir, fmt.Sprintf("%s-%s.txt", s.Variant, image))
}

// readUnlocked reads the file WITHOUT acquiring the package mutex. A missing
// file reads as empty.
func (s Store) readUnlocked(image string) ([]string, error) {
	data, err := os.ReadFile(s.Path(image))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read tags file: %w", err)
	}
	var refs []string
	sc := bufio.NewScanner(bytes.NewReader(data))
	for sc.Scan() {
		if line := strings.TrimSpace(sc.Text()); line != "" {
			refs = append(refs, line)
		}
	}
	return refs, sc.Err()
}

// writeUnlocked replaces the file WITHOUT acquiring the package mutex.
func (s Store) writeUnlocked(image string, refs []string) error {
	p := s.Path(image)
	if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
		return fmt.Errorf("mkdir tags dir: %w", err)
	}
	var b strings.Builder
	for _, r := range refs {
		b.WriteString(r)
		b.WriteByte('\n')
	}
	tmp := p + ".tmp"
	if err := os.WriteFile(tmp, []byte(b.String()), 0o644); err != nil {
		return fmt.Errorf("write tags file: %w", err)
	}
	if err := os.Rename(tmp, p); err != nil {
		return fmt.Errorf("replace tags file: %w", err)
	}
	return nil
}

// Write replaces the tags file for image with refs.
func (s Store) Write(image string, refs []string) error {
	mu.Lock()
	defer mu.Unlock()
	return s.writeUnlocked(image, lo.Uniq(refs))
}

// Append adds refs that are not yet recorded, keeping the existing order.
// The package mutex is held for the whole read-modify-write cycle.
func (s Store) Append(image string, refs []string) error {
	mu.Lock()
	defer mu.Unlock()
	cur, err := s.readUnlocked(image)
	if err != nil {
		return err
	}
	return s.writeUnlocked(image, lo.Uniq(append(cur, refs...)))
}

// Read returns the recorded references for image.
func (s Store) Read(image string) ([]string, error) {
	mu.Lock()
	defer mu.Unlock()
	return s.readUnlocked(image)
}
