// Copyright 2025 PeopleFlow
// SPDX-License-Identifier: Apache-2.0

// Package types holds small shared value types used across PeopleFlow
// engine packages.
package types

import (
	"fmt"
	"strings"
)

// SubjectRef is a polymorphic reference to a domain entity owned by an
// external system (an employee record, an expense report, a document).
// The workflow engine stores and returns SubjectRefs but never
// dereferences them; resolution is the consuming application's job.
type SubjectRef struct {
	// Kind is the entity type, e.g. "employee", "payroll", "document".
	Kind string `json:"kind"`

	// ID is the entity identifier within its kind.
	ID string `json:"id"`
}

// NewSubjectRef builds a SubjectRef from kind and id.
func NewSubjectRef(kind, id string) SubjectRef {
	return SubjectRef{Kind: kind, ID: id}
}

// Valid reports whether both kind and id are set.
func (s SubjectRef) Valid() bool {
	return s.Kind != "" && s.ID != ""
}

// String returns the canonical "kind:id" form.
func (s SubjectRef) String() string {
	return s.Kind + ":" + s.ID
}

// ParseSubjectRef parses the canonical "kind:id" form.
func ParseSubjectRef(ref string) (SubjectRef, error) {
	kind, id, ok := strings.Cut(ref, ":")
	if !ok || kind == "" || id == "" {
		return SubjectRef{}, fmt.Errorf("invalid subject reference %q, expected \"kind:id\"", ref)
	}
	return SubjectRef{Kind: kind, ID: id}, nil
}
