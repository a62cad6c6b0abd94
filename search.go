package main

import (
	"context"

	"github.com/openstandia/goldap/message"
)

const (
	scopeBaseObject   = 0
	scopeSingleLevel  = 1
	scopeWholeSubtree = 2
)

// Walk traverses the tree from base according to the search scope,
// calling emit for every entry that matches the filter. The walk is
// synchronous: all entries are emitted before Walk returns, so the
// caller can write the search-done message afterwards without any
// ordering hazard.
//
// Matching and recursion are independent: a whole-subtree walk
// descends into children that do not match the filter themselves.
func Walk(ctx context.Context, sm *SchemaMap, base Entry, scope int, principal *Principal,
	filter message.Filter, emit func(Entry) error) error {

	if scope == scopeBaseObject || scope == scopeWholeSubtree {
		if matchFilter(sm, filter, base) {
			if err := emit(base); err != nil {
				return err
			}
		}
	}
	if scope == scopeBaseObject {
		return nil
	}

	children, err := base.Children(ctx, principal)
	if err != nil {
		return err
	}
	for _, child := range children {
		switch scope {
		case scopeSingleLevel:
			if matchFilter(sm, filter, child) {
				if err := emit(child); err != nil {
					return err
				}
			}
		case scopeWholeSubtree:
			if err := Walk(ctx, sm, child, scope, principal, filter, emit); err != nil {
				return err
			}
		}
	}
	return nil
}
