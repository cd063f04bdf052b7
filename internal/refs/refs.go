package refs

import (
	"fmt"
	"sort"
	"strings"

	"github.com/Masterminds/semver/v3"
)

// Kind distinguishes the default branch from release tags.
type Kind int

const (
	KindBranch Kind = iota
	KindTag
)

// Ref names a branch or tag of the upstream repository.
type Ref struct {
	Name string
	Kind Kind
}

// IsTag reports whether the ref is a release tag.
func (r Ref) IsTag() bool {
	return r.Kind == KindTag
}

// TrackingBranch derives the auxiliary branch name that carries a tag's
// mirrored content. Branch refs track themselves.
func (r Ref) TrackingBranch(prefix string) string {
	if r.Kind == KindBranch {
		return r.Name
	}
	return prefix + r.Name
}

// Catalog is the upstream repository's full ref listing.
type Catalog struct {
	DefaultBranch string
	Tags          []string
}

// Options controls which tags are selected for mirroring.
type Options struct {
	// TagPrefix is the naming pattern release tags must match (e.g. "v").
	TagPrefix string
	// MinVersion, when set, drops tags below this version. Known-unsupported
	// legacy releases are cut off here instead of growing the exclude list.
	MinVersion string
	// Exclude lists tag names that are never mirrored, pattern match or not.
	Exclude []string
}

// Enumerate produces the set of refs to mirror: the default branch first,
// then every tag that matches the naming pattern, parses as a semantic
// version, satisfies the minimum-version cutoff and is not excluded.
// The result is deterministic for a given catalog: tags are ordered
// ascending by version. An empty tag catalog still yields the default branch.
func Enumerate(cat Catalog, opts Options) ([]Ref, error) {
	if cat.DefaultBranch == "" {
		return nil, fmt.Errorf("catalog has no default branch")
	}

	var min *semver.Constraints
	if opts.MinVersion != "" {
		c, err := semver.NewConstraint(">= " + opts.MinVersion)
		if err != nil {
			return nil, fmt.Errorf("invalid minimum version %q: %w", opts.MinVersion, err)
		}
		min = c
	}

	excluded := make(map[string]bool, len(opts.Exclude))
	for _, name := range opts.Exclude {
		excluded[name] = true
	}

	type candidate struct {
		name    string
		version *semver.Version
	}

	var selected []candidate
	for _, tag := range cat.Tags {
		if opts.TagPrefix != "" && !strings.HasPrefix(tag, opts.TagPrefix) {
			continue
		}
		if excluded[tag] {
			continue
		}

		v, err := semver.NewVersion(tag)
		if err != nil {
			// Not a release tag, skip it.
			continue
		}
		if min != nil && !min.Check(v) {
			continue
		}

		selected = append(selected, candidate{name: tag, version: v})
	}

	sort.Slice(selected, func(i, j int) bool {
		return selected[i].version.LessThan(selected[j].version)
	})

	result := make([]Ref, 0, len(selected)+1)
	result = append(result, Ref{Name: cat.DefaultBranch, Kind: KindBranch})
	for _, c := range selected {
		result = append(result, Ref{Name: c.name, Kind: KindTag})
	}

	return result, nil
}

// Names returns the ref names in enumeration order.
func Names(list []Ref) []string {
	names := make([]string, len(list))
	for i, r := range list {
		names[i] = r.Name
	}
	return names
}
