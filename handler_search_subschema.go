package main

import (
	"log"

	ldap "github.com/openstandia/ldapserver"
)

// The subschema entry is readable by every principal, anonymous
// included, so that clients can discover syntaxes before binding.
func handleSearchSubschema(s *Server, w ldap.ResponseWriter, m *ldap.Message) {
	r := m.GetSearchRequest()

	log.Printf("info: handleSearchSubschema")
	log.Printf("info: Request BaseDn=%s", r.BaseObject())
	log.Printf("info: Request Filter=%s", r.Filter())
	log.Printf("info: Request Attributes=%s", r.Attributes())

	select {
	case <-m.Done:
		log.Print("info: Leaving handleSearchSubschema...")
		return
	default:
	}

	dn, err := NormalizeDN(schemaMap, subschemaDNStr)
	if err != nil {
		log.Printf("error: Failed to build subschema DN. err: %+v", err)
		w.Write(ldap.NewSearchResultDoneResponse(ldap.LDAPResultUnavailable))
		return
	}

	writeSearchEntry(w, r, dn, subschemaAttributes(schemaMap))

	w.Write(ldap.NewSearchResultDoneResponse(ldap.LDAPResultSuccess))
}
