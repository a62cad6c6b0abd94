package main

import (
	"context"
	"log"

	"github.com/google/uuid"
	ldap "github.com/openstandia/ldapserver"
	"golang.org/x/xerrors"
)

// errSearchAbandoned aborts a search walk once the client gave up on the
// request. No done response is written for an abandoned search.
var errSearchAbandoned = xerrors.New("search abandoned")

func handleSearch(s *Server, w ldap.ResponseWriter, m *ldap.Message) {
	ctx := context.Background()

	r := m.GetSearchRequest()
	principal := getAuthSession(m).Principal

	// Trace id to correlate the log lines of one search.
	tid := uuid.New().String()

	log.Printf("info: handleSearch. tid: %s, baseDN: %s, scope: %d, filter: %s, attrs: %s, principal: %s",
		tid, r.BaseObject(), r.Scope(), r.FilterString(), r.Attributes(), principal.Name())

	// Handle Stop Signal (server stop / client disconnected / Abandoned request....)
	select {
	case <-m.Done:
		log.Printf("info: Leaving handleSearch... tid: %s", tid)
		return
	default:
	}

	baseDN, err := NormalizeDN(schemaMap, string(r.BaseObject()))
	if err != nil {
		log.Printf("info: Invalid baseDN. tid: %s, baseDN: %s", tid, r.BaseObject())
		res := ldap.NewSearchResultDoneResponse(ldap.LDAPResultInvalidDNSyntax)
		w.Write(res)
		return
	}

	base, err := s.tree.Lookup(ctx, baseDN)
	if err != nil {
		writeSearchError(w, tid, baseDN, err)
		return
	}

	// A base the principal may not read does not exist for them. The
	// static spine above it may still be searchable, but starting
	// below the line yields nothing.
	if !s.policy.CanRead(principal, baseDN) {
		log.Printf("info: Search base denied. tid: %s, baseDN: %s, principal: %s",
			tid, baseDN.DNNormStr(), principal.Name())
		res := ldap.NewSearchResultDoneResponse(ldap.LDAPResultNoSuchObject)
		w.Write(res)
		return
	}

	count := 0
	err = Walk(ctx, schemaMap, base, int(r.Scope()), principal, r.Filter(), func(entry Entry) error {
		// Re-check the stop signal per entry so an abandoned or
		// disconnected search does not keep driving SQL round trips.
		select {
		case <-m.Done:
			return errSearchAbandoned
		default:
		}
		if !s.policy.CanRead(principal, entry.DN()) {
			return nil
		}
		writeSearchEntry(w, r, entry.DN(), entry.Attributes())
		count++
		return nil
	})
	if err != nil {
		if xerrors.Is(err, errSearchAbandoned) {
			log.Printf("info: Leaving handleSearch - abandoned mid-walk. tid: %s", tid)
			return
		}
		writeSearchError(w, tid, baseDN, err)
		return
	}

	log.Printf("info: Search finished. tid: %s, count: %d", tid, count)

	// All entries are on the wire by now, the done message is last.
	res := ldap.NewSearchResultDoneResponse(ldap.LDAPResultSuccess)
	w.Write(res)
}

func writeSearchError(w ldap.ResponseWriter, tid string, baseDN *DN, err error) {
	var lerr *LDAPError
	if xerrors.As(err, &lerr) {
		if !lerr.IsNoSuchObject() {
			log.Printf("error: Search failed - LDAP error. tid: %s, baseDN: %s, err: %+v",
				tid, baseDN.DNNormStr(), err)
		}
		res := ldap.NewSearchResultDoneResponse(lerr.Code)
		res.SetDiagnosticMessage(lerr.Msg)
		w.Write(res)
		return
	}

	log.Printf("error: Search failed - System error. tid: %s, baseDN: %s, err: %+v",
		tid, baseDN.DNNormStr(), err)
	res := ldap.NewSearchResultDoneResponse(ldap.LDAPResultUnavailable)
	w.Write(res)
}
