// Package refs models catalog references: a branch or tag name, optionally
// pinned to a commit hash.
package refs

import (
	"errors"
	"fmt"
	"strings"

	jsoniter "github.com/json-iterator/go"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// ErrInvalidRef is returned when a string cannot be parsed as a catalog ref.
var ErrInvalidRef = errors.New("invalid ref")

// RefKind is the variant of a catalog ref.
type RefKind string

const (
	// Branch is a writable line of commits.
	Branch RefKind = "BRANCH"

	// Tag is a named, fixed commit.
	Tag RefKind = "TAG"

	// Detached is a bare commit hash that is not reached through a name.
	Detached RefKind = "DETACHED"
)

// CatalogRef identifies a catalog snapshot.
type CatalogRef struct {
	Name string
	Kind RefKind
	Hash string
}

// NewBranch returns a branch ref. hash may be empty.
func NewBranch(name, hash string) CatalogRef {
	return CatalogRef{Name: name, Kind: Branch, Hash: hash}
}

// NewTag returns a tag ref. hash may be empty.
func NewTag(name, hash string) CatalogRef {
	return CatalogRef{Name: name, Kind: Tag, Hash: hash}
}

// String returns "name", "name@hash" or "@hash" for detached refs.
func (r CatalogRef) String() string {
	if r.Hash == "" {
		return r.Name
	}
	return r.Name + "@" + r.Hash
}

// Pinned reports whether the ref carries a commit hash. Pinned refs point at
// immutable catalog content.
func (r CatalogRef) Pinned() bool {
	return r.Hash != ""
}

// Equal reports whether name, kind and hash all match.
func (r CatalogRef) Equal(other CatalogRef) bool {
	return r.Name == other.Name && r.Kind == other.Kind && r.Hash == other.Hash
}

// Parse parses "name", "name@hash" or "@hash". Named refs are treated as
// branches; use ParseKind when the variant is known from context.
func Parse(s string) (CatalogRef, error) {
	return ParseKind(s, Branch)
}

// ParseKind parses s and assigns kind to named refs. A string of the form
// "@hash" always yields a detached ref.
func ParseKind(s string, kind RefKind) (CatalogRef, error) {
	name, hash, found := strings.Cut(s, "@")
	switch {
	case s == "":
		return CatalogRef{}, fmt.Errorf("%w: empty string", ErrInvalidRef)
	case found && hash == "":
		return CatalogRef{}, fmt.Errorf("%w: %q has an empty hash", ErrInvalidRef, s)
	case strings.Contains(hash, "@"):
		return CatalogRef{}, fmt.Errorf("%w: %q has more than one '@'", ErrInvalidRef, s)
	case name == "":
		return CatalogRef{Kind: Detached, Hash: hash}, nil
	}

	if kind == Detached {
		return CatalogRef{}, fmt.Errorf("%w: detached ref %q must not have a name", ErrInvalidRef, s)
	}
	return CatalogRef{Name: name, Kind: kind, Hash: hash}, nil
}

type wireRef struct {
	Type RefKind `json:"type"`
	Name string  `json:"name,omitempty"`
	Hash string  `json:"hash,omitempty"`
}

// MarshalJSON encodes the ref in the API's tagged form.
func (r CatalogRef) MarshalJSON() ([]byte, error) {
	return json.Marshal(wireRef{Type: r.Kind, Name: r.Name, Hash: r.Hash})
}

// UnmarshalJSON accepts either the tagged object form
// ({"type":"BRANCH","name":"main","hash":"abc"}) or a plain ref string.
func (r *CatalogRef) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		return nil
	}
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		parsed, err := Parse(s)
		if err != nil {
			return err
		}
		*r = parsed
		return nil
	}

	var w wireRef
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	switch w.Type {
	case Branch, Tag, Detached:
	default:
		return fmt.Errorf("%w: unknown ref type %q", ErrInvalidRef, w.Type)
	}
	*r = CatalogRef{Name: w.Name, Kind: w.Type, Hash: w.Hash}
	return nil
}
