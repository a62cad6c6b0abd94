package main

import (
	"context"
	"log"
	"strings"

	"golang.org/x/xerrors"
)

// The DIT layout is fixed. Branch DNs are spelled out once here; the
// RDN encoders in the repo files must stay bit-exact with them.
const (
	domainDNStr           = "dc=de"
	organizationDNStr     = "dc=cde-ev,dc=de"
	subschemaDNStr        = "cn=subschema"
	duasDNStr             = "ou=duas,dc=cde-ev,dc=de"
	usersDNStr            = "ou=users,dc=cde-ev,dc=de"
	groupsDNStr           = "ou=groups,dc=cde-ev,dc=de"
	statusGroupsDNStr     = "ou=status,ou=groups,dc=cde-ev,dc=de"
	presiderGroupsDNStr   = "ou=assembly-presiders,ou=groups,dc=cde-ev,dc=de"
	orgaGroupsDNStr       = "ou=event-orgas,ou=groups,dc=cde-ev,dc=de"
	moderatorGroupsDNStr  = "ou=ml-moderators,ou=groups,dc=cde-ev,dc=de"
	subscriberGroupsDNStr = "ou=ml-subscribers,ou=groups,dc=cde-ev,dc=de"
)

// memberDN renders a uniqueMember value pointing into the users branch.
func memberDN(personaID int64) string {
	return encodeUserRDN(personaID) + "," + usersDNStr
}

// Entry is one node of the synthesized tree. Entries are built fresh
// for every request and discarded afterwards, nothing is cached.
type Entry interface {
	DN() *DN

	// Attributes returns the full attribute map, including internal
	// values like userPassword that must never reach the wire.
	Attributes() map[string][]string

	// Children enumerates the direct children visible to the bound
	// principal. The coarse access check happens here, before any SQL
	// is issued: a principal that could never see a branch gets an
	// empty answer without a query.
	Children(ctx context.Context, principal *Principal) ([]Entry, error)
}

// EntryTree wires the static spine of the DIT to the SQL projections.
type EntryTree struct {
	sm     *SchemaMap
	repo   Repository
	policy *AccessPolicy

	root *StaticEntry
	byDN map[string]*StaticEntry
}

// StaticEntry is a fixed branch of the DIT: hardcoded DN and
// attributes, static children, and optionally one dynamic child kind.
type StaticEntry struct {
	tree     *EntryTree
	dn       *DN
	attrs    map[string][]string
	children []*StaticEntry
	dynamic  bool
	kind     EntryKind
}

func (e *StaticEntry) DN() *DN {
	return e.dn
}

func (e *StaticEntry) Attributes() map[string][]string {
	return e.attrs
}

func (e *StaticEntry) Children(ctx context.Context, principal *Principal) ([]Entry, error) {
	out := make([]Entry, 0, len(e.children))
	for _, c := range e.children {
		out = append(out, c)
	}
	if !e.dynamic {
		return out, nil
	}

	if !e.tree.policy.CanEnumerate(principal, e.kind) {
		log.Printf("debug: Skipping %s listing for principal %s", e.kind, principal.Name())
		return out, nil
	}

	rdns, err := e.tree.repo.List(ctx, e.kind)
	if err != nil {
		return nil, err
	}

	dns := make([]*DN, 0, len(rdns))
	for _, rdn := range rdns {
		dn, err := ParseDN(e.tree.sm, rdn+","+e.dn.DNOrigStr())
		if err != nil {
			log.Printf("warn: Skipping unparsable RDN from listing. kind: %s, rdn: %s, err: %v", e.kind, rdn, err)
			continue
		}
		dns = append(dns, dn)
	}

	// One batched fetch per branch per level, never one per entry.
	fetched, err := e.tree.repo.Fetch(ctx, e.kind, dns)
	if err != nil {
		return nil, err
	}

	for _, dn := range dns {
		attrs, ok := fetched[dn.DNNormStr()]
		if !ok {
			// Listed a moment ago, gone now. A live view over the
			// database may observe this, just drop the entry.
			continue
		}
		out = append(out, &LeafEntry{dn: dn, attrs: attrs, kind: e.kind})
	}
	return out, nil
}

// LeafEntry is a dynamic entry synthesized from one relational row. It
// never has children.
type LeafEntry struct {
	dn    *DN
	attrs map[string][]string
	kind  EntryKind
}

func (e *LeafEntry) DN() *DN {
	return e.dn
}

func (e *LeafEntry) Attributes() map[string][]string {
	return e.attrs
}

func (e *LeafEntry) Children(ctx context.Context, principal *Principal) ([]Entry, error) {
	return nil, nil
}

func (e *LeafEntry) Kind() EntryKind {
	return e.kind
}

// Bind verifies a simple-bind password against the entry's stored
// hashes. Every candidate value is tried before failing.
func (e *LeafEntry) Bind(password string) error {
	if !e.kind.IsBindable() {
		return NewInvalidCredentials()
	}
	ok := false
	for _, hash := range e.attrs["userPassword"] {
		if validateCred(password, hash) {
			ok = true
		}
	}
	if !ok {
		return NewInvalidCredentials()
	}
	return nil
}

// NewEntryTree builds the static spine. The schema map must already be
// initialized because the subschema entry serves its dump.
func NewEntryTree(sm *SchemaMap, repo Repository, policy *AccessPolicy) (*EntryTree, error) {
	t := &EntryTree{
		sm:     sm,
		repo:   repo,
		policy: policy,
		byDN:   map[string]*StaticEntry{},
	}

	node := func(dnStr string, attrs map[string][]string, children ...*StaticEntry) (*StaticEntry, error) {
		dn, err := NormalizeDN(sm, dnStr)
		if err != nil {
			return nil, xerrors.Errorf("invalid static DN: %s: %w", dnStr, err)
		}
		e := &StaticEntry{
			tree:     t,
			dn:       dn,
			attrs:    attrs,
			children: children,
		}
		t.byDN[dn.DNNormStr()] = e
		return e, nil
	}
	branch := func(dnStr string, kind EntryKind, description string) (*StaticEntry, error) {
		ou := strings.TrimPrefix(strings.SplitN(dnStr, ",", 2)[0], "ou=")
		e, err := node(dnStr, map[string][]string{
			"objectClass": {"organizationalUnit"},
			"ou":          {ou},
			"description": {description},
		})
		if err != nil {
			return nil, err
		}
		e.dynamic = true
		e.kind = kind
		return e, nil
	}

	duas, err := branch(duasDNStr, KindDUA, "Directory user agents")
	if err != nil {
		return nil, err
	}
	users, err := branch(usersDNStr, KindUser, "Users")
	if err != nil {
		return nil, err
	}
	status, err := branch(statusGroupsDNStr, KindStatusGroup, "Status groups")
	if err != nil {
		return nil, err
	}
	presiders, err := branch(presiderGroupsDNStr, KindPresiderGroup, "Assembly presiders")
	if err != nil {
		return nil, err
	}
	orgas, err := branch(orgaGroupsDNStr, KindOrgaGroup, "Event orgas")
	if err != nil {
		return nil, err
	}
	moderators, err := branch(moderatorGroupsDNStr, KindModeratorGroup, "Mailinglist moderators")
	if err != nil {
		return nil, err
	}
	subscribers, err := branch(subscriberGroupsDNStr, KindSubscriberGroup, "Mailinglist subscribers")
	if err != nil {
		return nil, err
	}

	groups, err := node(groupsDNStr, map[string][]string{
		"objectClass": {"organizationalUnit"},
		"ou":          {"groups"},
	}, status, presiders, orgas, moderators, subscribers)
	if err != nil {
		return nil, err
	}

	organization, err := node(organizationDNStr, map[string][]string{
		"objectClass": {"dcObject", "organization"},
		"dc":          {"cde-ev"},
		"o":           {"CdE e.V."},
	}, duas, users, groups)
	if err != nil {
		return nil, err
	}

	domain, err := node(domainDNStr, map[string][]string{
		"objectClass": {"dcObject", "organization"},
		"dc":          {"de"},
		"o":           {"de"},
	}, organization)
	if err != nil {
		return nil, err
	}

	subschema, err := node(subschemaDNStr, subschemaAttributes(sm))
	if err != nil {
		return nil, err
	}

	root, err := node("", map[string][]string{
		"objectClass":       {"top"},
		"subschemaSubentry": {subschemaDNStr},
	}, domain, subschema)
	if err != nil {
		return nil, err
	}
	t.root = root

	return t, nil
}

func (t *EntryTree) Root() *StaticEntry {
	return t.root
}

// Lookup resolves an arbitrary DN to its entry. Static nodes answer
// directly; a DN one level below a dynamic branch is resolved with a
// single-DN batch fetch. Everything else is noSuchObject.
func (t *EntryTree) Lookup(ctx context.Context, target *DN) (Entry, error) {
	if e, ok := t.byDN[target.DNNormStr()]; ok {
		return e, nil
	}

	parent := target.ParentDN()
	if parent == nil {
		return nil, NewNoSuchObject()
	}
	pe, ok := t.byDN[parent.DNNormStr()]
	if !ok || !pe.dynamic {
		return nil, NewNoSuchObject()
	}

	fetched, err := t.repo.Fetch(ctx, pe.kind, []*DN{target})
	if err != nil {
		return nil, err
	}
	attrs, ok := fetched[target.DNNormStr()]
	if !ok {
		return nil, NewNoSuchObject()
	}
	return &LeafEntry{dn: target, attrs: attrs, kind: pe.kind}, nil
}

func subschemaAttributes(sm *SchemaMap) map[string][]string {
	attrs := map[string][]string{
		"objectClass": {"top", "subentry", "subschema", "extensibleObject"},
		"cn":          {"subschema"},
	}
	for _, line := range strings.Split(sm.Dump(), "\n") {
		name, value, ok := strings.Cut(line, ": ")
		if !ok {
			continue
		}
		attrs[name] = append(attrs[name], value)
	}
	return attrs
}
