package main

import (
	"context"
	"database/sql"
	"log"
	"strconv"
	"strings"

	"github.com/lib/pq"
	"golang.org/x/xerrors"
)

// encodeUserRDN builds the RDN of a persona entry. The decimal encoding
// and decodeUserID must stay exact inverses, a broken pair would hand
// out the wrong entry.
func encodeUserRDN(personaID int64) string {
	return "uid=" + strconv.FormatInt(personaID, 10)
}

func decodeUserID(value string) (int64, error) {
	return decodeDecimalID(value)
}

// decodeDecimalID accepts only the canonical decimal form, anything
// else (leading zeros, signs, spaces) is a malformed RDN.
func decodeDecimalID(value string) (int64, error) {
	id, err := strconv.ParseInt(value, 10, 64)
	if err != nil {
		return 0, xerrors.Errorf("not a numeric id: %s", value)
	}
	if id <= 0 || strconv.FormatInt(id, 10) != value {
		return 0, xerrors.Errorf("not a canonical id: %s", value)
	}
	return id, nil
}

const listUsersQuery = `
	SELECT id FROM core.personas WHERE NOT is_archived`

const fetchUsersQuery = `
	SELECT id, given_names, family_name, display_name, username, password_hash
	  FROM core.personas
	 WHERE NOT is_archived AND id = ANY($1)`

type fetchedPersona struct {
	ID           int64          `db:"id"`
	GivenNames   string         `db:"given_names"`
	FamilyName   string         `db:"family_name"`
	DisplayName  sql.NullString `db:"display_name"`
	Username     sql.NullString `db:"username"`
	PasswordHash string         `db:"password_hash"`
}

func (r *SQLRepository) listUsers(ctx context.Context) ([]string, error) {
	var ids []int64
	if err := r.db.SelectContext(ctx, &ids, listUsersQuery); err != nil {
		return nil, xerrors.Errorf("failed to list personas: %w", err)
	}

	rdns := make([]string, len(ids))
	for i, id := range ids {
		rdns[i] = encodeUserRDN(id)
	}
	return rdns, nil
}

func (r *SQLRepository) fetchUsers(ctx context.Context, dns []*DN) (map[string]map[string][]string, error) {
	ids := make([]int64, 0, len(dns))
	byID := make(map[int64]*DN, len(dns))
	for _, dn := range dns {
		v, ok := dn.FirstRDNValue("uid")
		if !ok {
			log.Printf("debug: Dropping DN without uid RDN. dn: %s", dn.DNNormStr())
			continue
		}
		id, err := decodeUserID(v)
		if err != nil {
			log.Printf("debug: Dropping undecodable user RDN. dn: %s, err: %v", dn.DNNormStr(), err)
			continue
		}
		if _, ok := byID[id]; ok {
			continue
		}
		ids = append(ids, id)
		byID[id] = dn
	}

	result := make(map[string]map[string][]string, len(ids))
	if len(ids) == 0 {
		return result, nil
	}

	var rows []fetchedPersona
	if err := r.db.SelectContext(ctx, &rows, fetchUsersQuery, pq.Array(ids)); err != nil {
		return nil, xerrors.Errorf("failed to fetch personas: %w", err)
	}

	for _, p := range rows {
		dn := byID[p.ID]
		if dn == nil {
			continue
		}
		result[dn.DNNormStr()] = userAttributes(p)
	}
	return result, nil
}

func userAttributes(p fetchedPersona) map[string][]string {
	attrs := map[string][]string{
		// The full superclass chain, so that filters on any of the
		// abstract classes match as well.
		"objectClass": {"inetOrgPerson", "organizationalPerson", "person", "top"},
		"cn":          {p.GivenNames + " " + p.FamilyName},
		"sn":          {p.FamilyName},
		"givenName":   {p.GivenNames},
		"displayName": {displayName(p.GivenNames, p.DisplayName.String)},
		"uid":         {strconv.FormatInt(p.ID, 10)},
	}
	if p.Username.Valid && p.Username.String != "" {
		attrs["mail"] = []string{p.Username.String}
	}
	if p.PasswordHash != "" {
		// Internal only, stripped before any result reaches the wire.
		attrs["userPassword"] = []string{p.PasswordHash}
	}
	return attrs
}

// displayName follows the web frontend's composition rule: the chosen
// display name wins only if it occurs within the given names.
func displayName(givenNames, display string) string {
	if display != "" && strings.Contains(givenNames, display) {
		return display
	}
	return givenNames
}
