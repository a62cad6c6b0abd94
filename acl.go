package main

import (
	"golang.org/x/xerrors"
)

// Principal identifies a bound connection. A nil *Principal is the
// anonymous principal, every method works on the nil receiver.
type Principal struct {
	DN      *DN
	UserID  int64  // set for user binds
	DUAName string // set for DUA binds
}

func (p *Principal) IsAnonymous() bool {
	return p == nil
}

func (p *Principal) IsUser() bool {
	return p != nil && p.UserID > 0
}

func (p *Principal) IsDUA() bool {
	return p != nil && p.DUAName != ""
}

// Name renders the principal for log lines.
func (p *Principal) Name() string {
	if p == nil {
		return "anonymous"
	}
	return p.DN.DNNormStr()
}

// AccessPolicy decides what a principal may see. Denied entries are
// indistinguishable from absent ones, the policy never produces
// insufficientAccessRights on read paths.
type AccessPolicy struct {
	adminDNNorm  string
	fanoutDNNorm string

	usersDN  *DN
	duasDN   *DN
	groupsDN *DN
}

// NewAccessPolicy resolves the privileged DUA names against the duas
// branch. Unknown names simply never match a bound principal.
func NewAccessPolicy(sm *SchemaMap, adminDUA, fanoutDUA string) (*AccessPolicy, error) {
	p := &AccessPolicy{}

	var err error
	if p.usersDN, err = NormalizeDN(sm, usersDNStr); err != nil {
		return nil, xerrors.Errorf("failed to parse users DN: %w", err)
	}
	if p.duasDN, err = NormalizeDN(sm, duasDNStr); err != nil {
		return nil, xerrors.Errorf("failed to parse duas DN: %w", err)
	}
	if p.groupsDN, err = NormalizeDN(sm, groupsDNStr); err != nil {
		return nil, xerrors.Errorf("failed to parse groups DN: %w", err)
	}

	if adminDUA != "" {
		dn, err := NormalizeDN(sm, encodeDUARDN(adminDUA)+","+duasDNStr)
		if err != nil {
			return nil, xerrors.Errorf("failed to parse admin DUA DN: %w", err)
		}
		p.adminDNNorm = dn.DNNormStr()
	}
	if fanoutDUA != "" {
		dn, err := NormalizeDN(sm, encodeDUARDN(fanoutDUA)+","+duasDNStr)
		if err != nil {
			return nil, xerrors.Errorf("failed to parse fanout DUA DN: %w", err)
		}
		p.fanoutDNNorm = dn.DNNormStr()
	}
	return p, nil
}

func (a *AccessPolicy) isAdmin(p *Principal) bool {
	return p.IsDUA() && a.adminDNNorm != "" && p.DN.DNNormStr() == a.adminDNNorm
}

func (a *AccessPolicy) isFanout(p *Principal) bool {
	if a.isAdmin(p) {
		return true
	}
	return p.IsDUA() && a.fanoutDNNorm != "" && p.DN.DNNormStr() == a.fanoutDNNorm
}

// CanEnumerate is the coarse check: may the principal list a dynamic
// branch at all? Called before the branch query is issued.
func (a *AccessPolicy) CanEnumerate(p *Principal, kind EntryKind) bool {
	if a.isAdmin(p) {
		return true
	}
	switch kind {
	case KindUser:
		return p.IsUser()
	case KindDUA:
		return p.IsDUA()
	case KindStatusGroup, KindPresiderGroup, KindOrgaGroup,
		KindModeratorGroup, KindSubscriberGroup:
		return a.isFanout(p)
	default:
		return false
	}
}

// CanRead is the fine per-entry check applied to every entry before it
// is emitted or compared against.
func (a *AccessPolicy) CanRead(p *Principal, dn *DN) bool {
	if p.IsAnonymous() {
		// Anonymous connections may read the root DSE and the schema,
		// nothing below dc=de.
		return dn.IsRoot() || dn.DNNormStr() == subschemaDNStr
	}
	if a.isAdmin(p) {
		return true
	}
	if a.groupsDN.Contains(dn) {
		return a.isFanout(p)
	}
	if a.duasDN.Contains(dn) {
		if !p.IsDUA() {
			return false
		}
		return dn.Equal(a.duasDN) || dn.Equal(p.DN)
	}
	if a.usersDN.Contains(dn) && !dn.Equal(a.usersDN) {
		return p.IsUser() && dn.Equal(p.DN)
	}
	// The static spine (root, dc=de, the organization, the container
	// ou entries and the subschema) is readable by every authenticated
	// principal.
	return true
}
