package model

import (
	"fmt"
	"slices"
)

// ObjectType names the kind of an entity that can own config, concerns and actions.
type ObjectType string

const (
	TypeADCM      ObjectType = "adcm"
	TypeCluster   ObjectType = "cluster"
	TypeService   ObjectType = "service"
	TypeComponent ObjectType = "component"
	TypeProvider  ObjectType = "provider"
	TypeHost      ObjectType = "host"
)

// Validate checks if the object type is known.
func (t ObjectType) Validate() error {
	switch t {
	case TypeADCM, TypeCluster, TypeService, TypeComponent, TypeProvider, TypeHost:
		return nil
	default:
		return fmt.Errorf("invalid object type: %s", t)
	}
}

// IsClusterSpace reports whether objects of this type live under a cluster root.
func (t ObjectType) IsClusterSpace() bool {
	return t == TypeCluster || t == TypeService || t == TypeComponent
}

// Ref identifies a single entity.
type Ref struct {
	Type ObjectType `json:"type"`
	ID   int64      `json:"id"`
}

// NewRef builds a reference.
func NewRef(t ObjectType, id int64) Ref {
	return Ref{Type: t, ID: id}
}

// IsZero reports whether the reference is unset.
func (r Ref) IsZero() bool {
	return r.Type == "" && r.ID == 0
}

func (r Ref) String() string {
	return fmt.Sprintf("%s %d", r.Type, r.ID)
}

// RefSet is an insertion-ordered set of references.
type RefSet struct {
	order []Ref
	seen  map[Ref]struct{}
}

// Add inserts refs that are not yet present.
func (s *RefSet) Add(refs ...Ref) {
	if s.seen == nil {
		s.seen = make(map[Ref]struct{})
	}
	for _, r := range refs {
		if _, ok := s.seen[r]; ok {
			continue
		}
		s.seen[r] = struct{}{}
		s.order = append(s.order, r)
	}
}

// Has reports membership.
func (s *RefSet) Has(r Ref) bool {
	_, ok := s.seen[r]
	return ok
}

// Len returns the number of refs.
func (s *RefSet) Len() int {
	return len(s.order)
}

// Items returns the refs in insertion order.
func (s *RefSet) Items() []Ref {
	return slices.Clone(s.order)
}
