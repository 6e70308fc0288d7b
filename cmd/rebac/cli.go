package main

import (
	"strings"

	"github.com/pkg/errors"

	"github.com/nexus-rebac/rebac/ketoapi"
)

// parseEntity parses the CLI's "type:id" shorthand into an Entity.
func parseEntity(s string) (ketoapi.Entity, error) {
	typ, id, ok := strings.Cut(s, ":")
	if !ok || typ == "" || id == "" {
		return ketoapi.Entity{}, errors.Errorf("cli: %q is not in type:id form", s)
	}
	return ketoapi.Entity{Type: typ, ID: id}, nil
}

// parseSubject parses "type:id" or the userset form "type:id#relation".
func parseSubject(s string) (ketoapi.Subject, error) {
	base, relation, _ := strings.Cut(s, "#")
	entity, err := parseEntity(base)
	if err != nil {
		return ketoapi.Subject{}, err
	}
	return ketoapi.Subject{Entity: entity, Relation: relation}, nil
}
