package main

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"
	"golang.org/x/xerrors"
)

// EntryKind tags the dynamic branches of the tree. Every kind maps to
// one listing query and one batched fetch query.
type EntryKind int

const (
	KindUser EntryKind = iota
	KindDUA
	KindStatusGroup
	KindPresiderGroup
	KindOrgaGroup
	KindModeratorGroup
	KindSubscriberGroup
)

func (k EntryKind) String() string {
	switch k {
	case KindUser:
		return "user"
	case KindDUA:
		return "dua"
	case KindStatusGroup:
		return "status-group"
	case KindPresiderGroup:
		return "presider-group"
	case KindOrgaGroup:
		return "orga-group"
	case KindModeratorGroup:
		return "moderator-group"
	case KindSubscriberGroup:
		return "subscriber-group"
	default:
		return "unknown"
	}
}

// IsBindable reports whether leaves of this kind accept a simple bind.
func (k EntryKind) IsBindable() bool {
	return k == KindUser || k == KindDUA
}

// Repository projects batches of DNs into SQL queries and back into
// attribute maps. All methods are read-only; each call is one snapshot
// of the backing store, no ordering is guaranteed across calls.
type Repository interface {
	// List returns the RDN of every live entry under the branch of the
	// given kind, e.g. "uid=42" or "cn=presiders-7". No particular
	// order.
	List(ctx context.Context, kind EntryKind) ([]string, error)

	// Fetch resolves a batch of DNs of one kind into attribute maps,
	// keyed by normalized DN string. DNs whose RDN does not decode and
	// keys missing from the database are silently dropped; only a
	// database failure is an error.
	Fetch(ctx context.Context, kind EntryKind, dns []*DN) (map[string]map[string][]string, error)
}

type SQLRepository struct {
	db *sqlx.DB
}

func NewRepository(c *ServerConfig) (*SQLRepository, error) {
	db, err := sqlx.Connect("postgres", fmt.Sprintf("host=%s port=%d user=%s dbname=%s password=%s sslmode=disable",
		c.DBHostName, c.DBPort, c.DBUser, c.DBName, c.DBPassword))
	if err != nil {
		return nil, xerrors.Errorf("failed to connect to database: %w", err)
	}
	db.SetMaxOpenConns(c.DBMaxOpenConns)
	db.SetMaxIdleConns(c.DBMaxIdleConns)

	return &SQLRepository{
		db: db,
	}, nil
}

func (r *SQLRepository) List(ctx context.Context, kind EntryKind) ([]string, error) {
	switch kind {
	case KindUser:
		return r.listUsers(ctx)
	case KindDUA:
		return r.listDUAs(ctx)
	case KindStatusGroup:
		return r.listStatusGroups(ctx)
	case KindPresiderGroup:
		return r.listPresiderGroups(ctx)
	case KindOrgaGroup:
		return r.listOrgaGroups(ctx)
	case KindModeratorGroup:
		return r.listModeratorGroups(ctx)
	case KindSubscriberGroup:
		return r.listSubscriberGroups(ctx)
	default:
		return nil, xerrors.Errorf("unknown entry kind: %d", kind)
	}
}

func (r *SQLRepository) Fetch(ctx context.Context, kind EntryKind, dns []*DN) (map[string]map[string][]string, error) {
	if len(dns) == 0 {
		return map[string]map[string][]string{}, nil
	}

	switch kind {
	case KindUser:
		return r.fetchUsers(ctx, dns)
	case KindDUA:
		return r.fetchDUAs(ctx, dns)
	case KindStatusGroup:
		return r.fetchStatusGroups(ctx, dns)
	case KindPresiderGroup:
		return r.fetchPresiderGroups(ctx, dns)
	case KindOrgaGroup:
		return r.fetchOrgaGroups(ctx, dns)
	case KindModeratorGroup:
		return r.fetchModeratorGroups(ctx, dns)
	case KindSubscriberGroup:
		return r.fetchSubscriberGroups(ctx, dns)
	default:
		return nil, xerrors.Errorf("unknown entry kind: %d", kind)
	}
}
