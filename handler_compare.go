package main

import (
	"context"
	"log"
	"strings"

	ldap "github.com/openstandia/ldapserver"
	"golang.org/x/xerrors"
)

func handleCompare(s *Server, w ldap.ResponseWriter, m *ldap.Message) {
	ctx := context.Background()

	r := m.GetCompareRequest()
	principal := getAuthSession(m).Principal

	if principal.IsAnonymous() {
		res := ldap.NewCompareResponse(ldap.LDAPResultUnwillingToPerform)
		res.SetDiagnosticMessage("authentication required")
		w.Write(res)
		return
	}

	dn, err := NormalizeDN(schemaMap, string(r.Entry()))
	if err != nil {
		log.Printf("info: Compare failed - Invalid DN syntax. dn_orig: %s", r.Entry())
		res := ldap.NewCompareResponse(ldap.LDAPResultInvalidDNSyntax)
		res.SetDiagnosticMessage("invalid DN")
		w.Write(res)
		return
	}

	attrName := string(r.Ava().AttributeDesc())
	assertion := string(r.Ava().AssertionValue())

	log.Printf("info: Compare entry. dn_norm: %s, attr: %s, principal: %s",
		dn.DNNormStr(), attrName, principal.Name())

	// The password hash never takes part in any comparison, the same
	// way it never appears in search results.
	if strings.EqualFold(attrName, "userPassword") {
		res := ldap.NewCompareResponse(ldap.LDAPResultUnwillingToPerform)
		res.SetDiagnosticMessage("userPassword comparison is not supported")
		w.Write(res)
		return
	}

	entry, err := s.tree.Lookup(ctx, dn)
	if err != nil {
		var lerr *LDAPError
		if xerrors.As(err, &lerr) {
			res := ldap.NewCompareResponse(lerr.Code)
			res.SetDiagnosticMessage(lerr.Msg)
			w.Write(res)
			return
		}
		log.Printf("error: Compare failed - System error. dn_norm: %s, err: %+v", dn.DNNormStr(), err)
		res := ldap.NewCompareResponse(ldap.LDAPResultUnavailable)
		w.Write(res)
		return
	}

	// A denied entry answers exactly like an absent one.
	if !s.policy.CanRead(principal, dn) {
		res := ldap.NewCompareResponse(ldap.LDAPResultNoSuchObject)
		w.Write(res)
		return
	}

	if matchEquality(schemaMap, entry, attrName, assertion) {
		w.Write(ldap.NewCompareResponse(ldap.LDAPResultCompareTrue))
		return
	}
	w.Write(ldap.NewCompareResponse(ldap.LDAPResultCompareFalse))
}
