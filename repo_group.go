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

// statusGroupDescriptions is the closed list of persona flags served as
// status groups, keyed by flag name. The keys double as SQL column
// names, so lookups against this map are what keeps RDN values out of
// query strings.
var statusGroupDescriptions = map[string]string{
	"is_active":         "Users that are allowed to login",
	"is_member":         "Users that are currently members",
	"is_searchable":     "Members that are searchable via the member directory",
	"is_ml_realm":       "Users of the mailinglist realm",
	"is_event_realm":    "Users of the event realm",
	"is_assembly_realm": "Users of the assembly realm",
	"is_cde_realm":      "Users of the cde realm",
	"is_core_admin":     "Core administrators",
	"is_cde_admin":      "CdE administrators",
	"is_finance_admin":  "Finance administrators",
	"is_event_admin":    "Event administrators",
	"is_ml_admin":       "Mailinglist administrators",
	"is_assembly_admin": "Assembly administrators",
	"is_cdelokal_admin": "CdELokal administrators",
}

func decodeStatusFlag(value string) (string, error) {
	flag := strings.ToLower(strings.TrimSpace(value))
	if _, ok := statusGroupDescriptions[flag]; !ok {
		return "", xerrors.Errorf("unknown status flag: %s", value)
	}
	return flag, nil
}

func encodePresiderRDN(assemblyID int64) string {
	return "cn=presiders-" + strconv.FormatInt(assemblyID, 10)
}

func decodePresiderAssemblyID(value string) (int64, error) {
	rest, ok := strings.CutPrefix(value, "presiders-")
	if !ok {
		return 0, xerrors.Errorf("not a presider group name: %s", value)
	}
	return decodeDecimalID(rest)
}

func encodeOrgaRDN(eventID int64) string {
	return "cn=orgas-" + strconv.FormatInt(eventID, 10)
}

func decodeOrgaEventID(value string) (int64, error) {
	rest, ok := strings.CutPrefix(value, "orgas-")
	if !ok {
		return 0, xerrors.Errorf("not an orga group name: %s", value)
	}
	return decodeDecimalID(rest)
}

// encodeModeratorRDN derives the owner address of a mailing list.
// Addresses are lowercased first so encode and decode stay exact
// inverses regardless of how the list address is cased in the
// database. List addresses whose local part already ends in -owner
// are outside the valid domain of the codec and are rejected.
func encodeModeratorRDN(address string) (string, error) {
	address = strings.ToLower(address)
	i := strings.LastIndex(address, "@")
	if i <= 0 || i == len(address)-1 {
		return "", xerrors.Errorf("not a mail address: %s", address)
	}
	local, domain := address[:i], address[i+1:]
	if strings.HasSuffix(local, "-owner") {
		return "", xerrors.Errorf("list address collides with owner naming: %s", address)
	}
	return "cn=" + local + "-owner@" + domain, nil
}

func decodeModeratorAddress(value string) (string, error) {
	value = strings.ToLower(value)
	i := strings.LastIndex(value, "@")
	if i <= 0 || i == len(value)-1 {
		return "", xerrors.Errorf("not a mail address: %s", value)
	}
	local, ok := strings.CutSuffix(value[:i], "-owner")
	if !ok || local == "" {
		return "", xerrors.Errorf("not an owner address: %s", value)
	}
	return local + "@" + value[i+1:], nil
}

func encodeSubscriberRDN(address string) string {
	return "cn=" + strings.ToLower(address)
}

func decodeSubscriberAddress(value string) (string, error) {
	address := strings.ToLower(strings.TrimSpace(value))
	if !strings.Contains(address, "@") {
		return "", xerrors.Errorf("not a mail address: %s", value)
	}
	return address, nil
}

// Subscribing states of the mailinglist subsystem: subscribed,
// subscription override, implicit.
var subscribingStates = []int64{1, 10, 30}

const fetchStatusGroupsQuery = `
	SELECT id, is_active, is_member, is_searchable, is_ml_realm, is_event_realm,
	       is_assembly_realm, is_cde_realm, is_core_admin, is_cde_admin,
	       is_finance_admin, is_event_admin, is_ml_admin, is_assembly_admin,
	       is_cdelokal_admin
	  FROM core.personas
	 WHERE NOT is_archived`

const listAssembliesQuery = `
	SELECT id FROM assembly.assemblies`

const fetchPresiderGroupsQuery = `
	SELECT a.id, a.title, p.persona_id
	  FROM assembly.assemblies a
	  LEFT OUTER JOIN assembly.presiders p ON p.assembly_id = a.id
	 WHERE a.id = ANY($1)`

const listEventsQuery = `
	SELECT id FROM event.events`

const fetchOrgaGroupsQuery = `
	SELECT e.id, e.title, o.persona_id
	  FROM event.events e
	  LEFT OUTER JOIN event.orgas o ON o.event_id = e.id
	 WHERE e.id = ANY($1)`

const listMailinglistsQuery = `
	SELECT address FROM ml.mailinglists WHERE is_active`

const fetchModeratorGroupsQuery = `
	SELECT m.id, m.address, m.title, md.persona_id
	  FROM ml.mailinglists m
	  LEFT OUTER JOIN ml.moderators md ON md.mailinglist_id = m.id
	 WHERE m.is_active AND lower(m.address) = ANY($1)`

const fetchSubscriberGroupsQuery = `
	SELECT m.id, m.address, m.title, ss.persona_id
	  FROM ml.mailinglists m
	  LEFT OUTER JOIN ml.subscription_states ss
	    ON ss.mailinglist_id = m.id AND ss.subscription_state = ANY($2)
	 WHERE m.is_active AND lower(m.address) = ANY($1)`

type fetchedStatusRow struct {
	ID              int64 `db:"id"`
	IsActive        bool  `db:"is_active"`
	IsMember        bool  `db:"is_member"`
	IsSearchable    bool  `db:"is_searchable"`
	IsMlRealm       bool  `db:"is_ml_realm"`
	IsEventRealm    bool  `db:"is_event_realm"`
	IsAssemblyRealm bool  `db:"is_assembly_realm"`
	IsCdeRealm      bool  `db:"is_cde_realm"`
	IsCoreAdmin     bool  `db:"is_core_admin"`
	IsCdeAdmin      bool  `db:"is_cde_admin"`
	IsFinanceAdmin  bool  `db:"is_finance_admin"`
	IsEventAdmin    bool  `db:"is_event_admin"`
	IsMlAdmin       bool  `db:"is_ml_admin"`
	IsAssemblyAdmin bool  `db:"is_assembly_admin"`
	IsCdelokalAdmin bool  `db:"is_cdelokal_admin"`
}

func (f *fetchedStatusRow) flagSet(flag string) bool {
	switch flag {
	case "is_active":
		return f.IsActive
	case "is_member":
		return f.IsMember
	case "is_searchable":
		return f.IsSearchable
	case "is_ml_realm":
		return f.IsMlRealm
	case "is_event_realm":
		return f.IsEventRealm
	case "is_assembly_realm":
		return f.IsAssemblyRealm
	case "is_cde_realm":
		return f.IsCdeRealm
	case "is_core_admin":
		return f.IsCoreAdmin
	case "is_cde_admin":
		return f.IsCdeAdmin
	case "is_finance_admin":
		return f.IsFinanceAdmin
	case "is_event_admin":
		return f.IsEventAdmin
	case "is_ml_admin":
		return f.IsMlAdmin
	case "is_assembly_admin":
		return f.IsAssemblyAdmin
	case "is_cdelokal_admin":
		return f.IsCdelokalAdmin
	default:
		return false
	}
}

type fetchedGroupRow struct {
	ID        int64         `db:"id"`
	Title     string        `db:"title"`
	Address   string        `db:"address"`
	PersonaID sql.NullInt64 `db:"persona_id"`
}

func (r *SQLRepository) listStatusGroups(ctx context.Context) ([]string, error) {
	// The status groups are a closed list, no query needed.
	rdns := make([]string, 0, len(statusGroupDescriptions))
	for flag := range statusGroupDescriptions {
		rdns = append(rdns, "cn="+flag)
	}
	return rdns, nil
}

func (r *SQLRepository) fetchStatusGroups(ctx context.Context, dns []*DN) (map[string]map[string][]string, error) {
	flags := make([]string, 0, len(dns))
	byFlag := make(map[string]*DN, len(dns))
	for _, dn := range dns {
		v, ok := dn.FirstRDNValue("cn")
		if !ok {
			log.Printf("debug: Dropping DN without cn RDN. dn: %s", dn.DNNormStr())
			continue
		}
		flag, err := decodeStatusFlag(v)
		if err != nil {
			log.Printf("debug: Dropping undecodable status group RDN. dn: %s, err: %v", dn.DNNormStr(), err)
			continue
		}
		if _, ok := byFlag[flag]; ok {
			continue
		}
		flags = append(flags, flag)
		byFlag[flag] = dn
	}

	result := make(map[string]map[string][]string, len(flags))
	if len(flags) == 0 {
		return result, nil
	}

	var rows []fetchedStatusRow
	if err := r.db.SelectContext(ctx, &rows, fetchStatusGroupsQuery); err != nil {
		return nil, xerrors.Errorf("failed to fetch status group members: %w", err)
	}

	for _, flag := range flags {
		var members []string
		for _, row := range rows {
			if row.flagSet(flag) {
				members = append(members, memberDN(row.ID))
			}
		}
		result[byFlag[flag].DNNormStr()] = groupAttributes(flag, statusGroupDescriptions[flag], members)
	}
	return result, nil
}

func (r *SQLRepository) listPresiderGroups(ctx context.Context) ([]string, error) {
	var ids []int64
	if err := r.db.SelectContext(ctx, &ids, listAssembliesQuery); err != nil {
		return nil, xerrors.Errorf("failed to list assemblies: %w", err)
	}

	rdns := make([]string, len(ids))
	for i, id := range ids {
		rdns[i] = encodePresiderRDN(id)
	}
	return rdns, nil
}

func (r *SQLRepository) fetchPresiderGroups(ctx context.Context, dns []*DN) (map[string]map[string][]string, error) {
	return r.fetchIDGroups(ctx, dns, fetchPresiderGroupsQuery, decodePresiderAssemblyID,
		func(id int64, title string) (string, string) {
			return "presiders-" + strconv.FormatInt(id, 10), "Presiders of " + title
		})
}

func (r *SQLRepository) listOrgaGroups(ctx context.Context) ([]string, error) {
	var ids []int64
	if err := r.db.SelectContext(ctx, &ids, listEventsQuery); err != nil {
		return nil, xerrors.Errorf("failed to list events: %w", err)
	}

	rdns := make([]string, len(ids))
	for i, id := range ids {
		rdns[i] = encodeOrgaRDN(id)
	}
	return rdns, nil
}

func (r *SQLRepository) fetchOrgaGroups(ctx context.Context, dns []*DN) (map[string]map[string][]string, error) {
	return r.fetchIDGroups(ctx, dns, fetchOrgaGroupsQuery, decodeOrgaEventID,
		func(id int64, title string) (string, string) {
			return "orgas-" + strconv.FormatInt(id, 10), "Orgas of " + title
		})
}

// fetchIDGroups covers the two group kinds keyed by a numeric id
// (assembly presiders, event orgas): one batched query joining the
// group table against its membership table.
func (r *SQLRepository) fetchIDGroups(ctx context.Context, dns []*DN, query string,
	decode func(string) (int64, error), naming func(int64, string) (string, string)) (map[string]map[string][]string, error) {

	ids := make([]int64, 0, len(dns))
	byID := make(map[int64]*DN, len(dns))
	for _, dn := range dns {
		v, ok := dn.FirstRDNValue("cn")
		if !ok {
			log.Printf("debug: Dropping DN without cn RDN. dn: %s", dn.DNNormStr())
			continue
		}
		id, err := decode(v)
		if err != nil {
			log.Printf("debug: Dropping undecodable group RDN. dn: %s, err: %v", dn.DNNormStr(), err)
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

	var rows []fetchedGroupRow
	if err := r.db.SelectContext(ctx, &rows, query, pq.Array(ids)); err != nil {
		return nil, xerrors.Errorf("failed to fetch groups: %w", err)
	}

	members := map[int64][]string{}
	titles := map[int64]string{}
	for _, row := range rows {
		titles[row.ID] = row.Title
		if row.PersonaID.Valid {
			members[row.ID] = append(members[row.ID], memberDN(row.PersonaID.Int64))
		}
	}

	for id, title := range titles {
		dn := byID[id]
		if dn == nil {
			continue
		}
		cn, description := naming(id, title)
		result[dn.DNNormStr()] = groupAttributes(cn, description, members[id])
	}
	return result, nil
}

func (r *SQLRepository) listModeratorGroups(ctx context.Context) ([]string, error) {
	var addresses []string
	if err := r.db.SelectContext(ctx, &addresses, listMailinglistsQuery); err != nil {
		return nil, xerrors.Errorf("failed to list mailinglists: %w", err)
	}

	rdns := make([]string, 0, len(addresses))
	for _, address := range addresses {
		rdn, err := encodeModeratorRDN(address)
		if err != nil {
			log.Printf("warn: Skipping mailinglist without owner address. err: %v", err)
			continue
		}
		rdns = append(rdns, rdn)
	}
	return rdns, nil
}

func (r *SQLRepository) fetchModeratorGroups(ctx context.Context, dns []*DN) (map[string]map[string][]string, error) {
	return r.fetchAddressGroups(ctx, dns, fetchModeratorGroupsQuery, decodeModeratorAddress, nil,
		func(address, title string) (string, string) {
			owner, _ := encodeModeratorRDN(address)
			return strings.TrimPrefix(owner, "cn="), "Moderators of " + title
		})
}

func (r *SQLRepository) listSubscriberGroups(ctx context.Context) ([]string, error) {
	var addresses []string
	if err := r.db.SelectContext(ctx, &addresses, listMailinglistsQuery); err != nil {
		return nil, xerrors.Errorf("failed to list mailinglists: %w", err)
	}

	rdns := make([]string, len(addresses))
	for i, address := range addresses {
		rdns[i] = encodeSubscriberRDN(address)
	}
	return rdns, nil
}

func (r *SQLRepository) fetchSubscriberGroups(ctx context.Context, dns []*DN) (map[string]map[string][]string, error) {
	return r.fetchAddressGroups(ctx, dns, fetchSubscriberGroupsQuery, decodeSubscriberAddress, pq.Array(subscribingStates),
		func(address, title string) (string, string) {
			return address, "Subscribers of " + title
		})
}

// fetchAddressGroups covers the two group kinds keyed by a mailing list
// address (moderators, subscribers).
func (r *SQLRepository) fetchAddressGroups(ctx context.Context, dns []*DN, query string,
	decode func(string) (string, error), extraArg interface{},
	naming func(string, string) (string, string)) (map[string]map[string][]string, error) {

	addresses := make([]string, 0, len(dns))
	byAddress := make(map[string]*DN, len(dns))
	for _, dn := range dns {
		v, ok := dn.FirstRDNValue("cn")
		if !ok {
			log.Printf("debug: Dropping DN without cn RDN. dn: %s", dn.DNNormStr())
			continue
		}
		address, err := decode(v)
		if err != nil {
			log.Printf("debug: Dropping undecodable group RDN. dn: %s, err: %v", dn.DNNormStr(), err)
			continue
		}
		if _, ok := byAddress[address]; ok {
			continue
		}
		addresses = append(addresses, address)
		byAddress[address] = dn
	}

	result := make(map[string]map[string][]string, len(addresses))
	if len(addresses) == 0 {
		return result, nil
	}

	args := []interface{}{pq.Array(addresses)}
	if extraArg != nil {
		args = append(args, extraArg)
	}

	var rows []fetchedGroupRow
	if err := r.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, xerrors.Errorf("failed to fetch groups: %w", err)
	}

	members := map[string][]string{}
	titles := map[string]string{}
	for _, row := range rows {
		address := strings.ToLower(row.Address)
		titles[address] = row.Title
		if row.PersonaID.Valid {
			members[address] = append(members[address], memberDN(row.PersonaID.Int64))
		}
	}

	for address, title := range titles {
		dn := byAddress[address]
		if dn == nil {
			continue
		}
		cn, description := naming(address, title)
		result[dn.DNNormStr()] = groupAttributes(cn, description, members[address])
	}
	return result, nil
}

func groupAttributes(cn, description string, members []string) map[string][]string {
	attrs := map[string][]string{
		"objectClass": {"groupOfUniqueNames"},
		"cn":          {cn},
		"description": {description},
	}
	if len(members) > 0 {
		attrs["uniqueMember"] = members
	}
	return attrs
}
