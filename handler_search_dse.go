package main

import (
	"log"

	ldap "github.com/openstandia/ldapserver"
)

// The root DSE is served to every principal, bound or not. It only
// advertises server capabilities, nothing about directory content.
func handleSearchDSE(s *Server, w ldap.ResponseWriter, m *ldap.Message) {
	r := m.GetSearchRequest()

	log.Printf("info: handleSearchDSE")
	log.Printf("info: Request BaseDn=%s", r.BaseObject())
	log.Printf("info: Request Filter=%s", r.Filter())
	log.Printf("info: Request Attributes=%s", r.Attributes())

	dn, err := NormalizeDN(schemaMap, "")
	if err != nil {
		log.Printf("error: Failed to build root DSE DN. err: %+v", err)
		w.Write(ldap.NewSearchResultDoneResponse(ldap.LDAPResultUnavailable))
		return
	}

	writeSearchEntry(w, r, dn, map[string][]string{
		"objectClass":          {"top"},
		"subschemaSubentry":    {subschemaDNStr},
		"namingContexts":       {organizationDNStr},
		"supportedLDAPVersion": {"3"},
		"vendorName":           {"CdE e.V."},
	})

	w.Write(ldap.NewSearchResultDoneResponse(ldap.LDAPResultSuccess))
}
