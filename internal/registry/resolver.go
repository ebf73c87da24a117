// Package registry looks up tags already published for an image.
package registry

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	mvc "github.com/Masterminds/semver/v3"
	"github.com/google/go-containerregistry/pkg/authn"
	"github.com/google/go-containerregistry/pkg/name"
	"github.com/google/go-containerregistry/pkg/v1/remote"
)

// ErrNoMatch is returned when no published tag matches the query.
var ErrNoMatch = errors.New("no matching tag")

type lister func(ctx context.Context, repo name.Repository) ([]string, error)

type Resolver struct {
	// relies on the standard docker config (~/.docker/config.json)
	keychain authn.Keychain
	list     lister
}

func NewResolver() *Resolver {
	r := &Resolver{keychain: authn.DefaultKeychain}
	r.list = r.remoteList
	return r
}

func (r *Resolver) remoteList(ctx context.Context, repo name.Repository) ([]string, error) {
	return remote.List(repo, remote.WithAuthFromKeychain(r.keychain), remote.WithContext(ctx))
}

// Query selects tags of the form <Prefix><version>. An optional Constraint
// (e.g. "~3.11" or "3.x") narrows the versions considered.
type Query struct {
	Prefix     string
	Constraint string
}

// Latest returns the full reference of the highest version tag of image
// matching q. image: "quay.io/jupyter/scipy-notebook", prefix "python-"
// returns e.g. "quay.io/jupyter/scipy-notebook:python-3.11.6".
func (r *Resolver) Latest(ctx context.Context, image string, q Query) (string, error) {
	repo, err := parseRepo(image)
	if err != nil {
		return "", err
	}
	var c *mvc.Constraints
	if q.Constraint != "" {
		if c, err = mvc.NewConstraint(q.Constraint); err != nil {
			return "", fmt.Errorf("invalid version constraint %q: %w", q.Constraint, err)
		}
	}
	tags, err := r.list(ctx, repo)
	if err != nil {
		return "", fmt.Errorf("failed to list tags for %s: %w", repo.Name(), err)
	}
	tag, err := selectHighestTag(tags, q.Prefix, c)
	if err != nil {
		return "", fmt.Errorf("%s: %w", repo.Name(), err)
	}
	return fmt.Sprintf("%s:%s", repo.Name(), tag), nil
}

func parseRepo(image string) (name.Repository, error) {
	ref, err := name.ParseReference(image)
	if err != nil {
		return name.Repository{}, fmt.Errorf("invalid image reference %q: %w", image, err)
	}
	return ref.Context(), nil
}

type candidate struct {
	tag string
	v   *mvc.Version
}

// selectHighestTag picks the tag whose remainder after prefix is the highest
// version. Among equal versions the most specific spelling wins
// ("3.11.0" over "3.11").
func selectHighestTag(tags []string, prefix string, c *mvc.Constraints) (string, error) {
	var cands []candidate
	for _, t := range tags {
		rest, ok := strings.CutPrefix(t, prefix)
		if !ok || rest == "" {
			continue
		}
		v, err := mvc.NewVersion(rest)
		if err != nil {
			continue // skip non-version tags (e.g. "latest", a commit sha)
		}
		if c != nil && !c.Check(v) {
			continue
		}
		cands = append(cands, candidate{tag: t, v: v})
	}
	if len(cands) == 0 {
		return "", fmt.Errorf("%w for prefix %q", ErrNoMatch, prefix)
	}
	sort.SliceStable(cands, func(i, j int) bool {
		if cmp := cands[i].v.Compare(cands[j].v); cmp != 0 {
			return cmp < 0
		}
		return len(cands[i].tag) < len(cands[j].tag)
	})
	return cands[len(cands)-1].tag, nil
}
