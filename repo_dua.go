package main

import (
	"context"
	"log"
	"strings"

	"github.com/jsimonetti/pwscheme/ssha512"
	"github.com/lib/pq"
	"golang.org/x/xerrors"
)

// DUAs (directory user agents) are the trusted system-level clients of
// this directory. They live in their own table, apart from personas.

func encodeDUARDN(name string) string {
	return "cn=" + name
}

func decodeDUAName(value string) (string, error) {
	name := strings.ToLower(strings.TrimSpace(value))
	if name == "" {
		return "", xerrors.New("empty dua name")
	}
	return name, nil
}

const listDUAsQuery = `
	SELECT cn FROM ldap.duas`

const fetchDUAsQuery = `
	SELECT cn, password_hash FROM ldap.duas WHERE cn = ANY($1)`

type fetchedDUA struct {
	CN           string `db:"cn"`
	PasswordHash string `db:"password_hash"`
}

func (r *SQLRepository) listDUAs(ctx context.Context) ([]string, error) {
	var names []string
	if err := r.db.SelectContext(ctx, &names, listDUAsQuery); err != nil {
		return nil, xerrors.Errorf("failed to list duas: %w", err)
	}

	rdns := make([]string, len(names))
	for i, name := range names {
		rdns[i] = encodeDUARDN(name)
	}
	return rdns, nil
}

func (r *SQLRepository) fetchDUAs(ctx context.Context, dns []*DN) (map[string]map[string][]string, error) {
	names := make([]string, 0, len(dns))
	byName := make(map[string]*DN, len(dns))
	for _, dn := range dns {
		v, ok := dn.FirstRDNValue("cn")
		if !ok {
			log.Printf("debug: Dropping DN without cn RDN. dn: %s", dn.DNNormStr())
			continue
		}
		name, err := decodeDUAName(v)
		if err != nil {
			log.Printf("debug: Dropping undecodable dua RDN. dn: %s, err: %v", dn.DNNormStr(), err)
			continue
		}
		if _, ok := byName[name]; ok {
			continue
		}
		names = append(names, name)
		byName[name] = dn
	}

	result := make(map[string]map[string][]string, len(names))
	if len(names) == 0 {
		return result, nil
	}

	var rows []fetchedDUA
	if err := r.db.SelectContext(ctx, &rows, fetchDUAsQuery, pq.Array(names)); err != nil {
		return nil, xerrors.Errorf("failed to fetch duas: %w", err)
	}

	for _, d := range rows {
		dn := byName[strings.ToLower(d.CN)]
		if dn == nil {
			continue
		}
		attrs := map[string][]string{
			"objectClass": {"person", "simpleSecurityObject"},
			"cn":          {d.CN},
			"sn":          {d.CN},
		}
		if d.PasswordHash != "" {
			attrs["userPassword"] = []string{d.PasswordHash}
		}
		result[dn.DNNormStr()] = attrs
	}
	return result, nil
}

const upsertDUAQuery = `
	INSERT INTO ldap.duas (cn, password_hash) VALUES ($1, $2)
	ON CONFLICT (cn) DO UPDATE SET password_hash = EXCLUDED.password_hash`

const pruneDUAsQuery = `
	DELETE FROM ldap.duas WHERE NOT (cn = ANY($1))`

// ReconcileDUAs aligns the dua table with the secrets file at startup.
// This is the only write this process ever performs and it happens
// before the listener is up; the LDAP surface itself stays read-only.
func (r *SQLRepository) ReconcileDUAs(ctx context.Context, passwords map[string]string) error {
	names := make([]string, 0, len(passwords))
	for name, password := range passwords {
		name = strings.ToLower(name)
		hashed, err := ssha512.Generate(password, 20)
		if err != nil {
			return xerrors.Errorf("failed to hash dua password. dua: %s: %w", name, err)
		}
		if _, err := r.db.ExecContext(ctx, upsertDUAQuery, name, hashed); err != nil {
			return xerrors.Errorf("failed to upsert dua. dua: %s: %w", name, err)
		}
		names = append(names, name)
	}

	res, err := r.db.ExecContext(ctx, pruneDUAsQuery, pq.Array(names))
	if err != nil {
		return xerrors.Errorf("failed to prune stale duas: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n > 0 {
		log.Printf("info: Pruned %d stale duas", n)
	}
	return nil
}
