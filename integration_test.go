//go:build integration

package main

import (
	"os"
	"testing"

	"github.com/go-ldap/ldap/v3"
)

var testServer *Server

func TestMain(m *testing.M) {
	os.Exit(IntegrationTestRunner(m))
}

func TestRootDSE(t *testing.T) {
	runTestCases(t, []Command{
		Conn{},
		// The root DSE is the one entry served to everyone, bound or not.
		// Its interesting attributes are all operational.
		Search{
			baseDN: "",
			scope:  ldap.ScopeBaseObject,
			filter: "(objectclass=*)",
			attrs:  []string{"*", "+"},
			assert: &AssertAttrs{
				dn: "",
				attrs: map[string][]string{
					"namingContexts":       {"dc=cde-ev,dc=de"},
					"subschemaSubentry":    {"cn=subschema"},
					"supportedLDAPVersion": {"3"},
				},
			},
		},
		Search{
			baseDN: "cn=subschema",
			scope:  ldap.ScopeBaseObject,
			filter: "(objectclass=*)",
			assert: &AssertDNs{dns: []string{"cn=subschema"}},
		},
	})
}

func TestAnonymousVisibility(t *testing.T) {
	runTestCases(t, []Command{
		Conn{},
		// A subtree walk from the root yields the DSE and the subschema,
		// nothing below the naming context.
		Search{
			baseDN: "",
			scope:  ldap.ScopeWholeSubtree,
			filter: "(objectclass=*)",
			assert: &AssertDNs{dns: []string{"", "cn=subschema"}},
		},
		// A denied base answers exactly like an absent one.
		Search{
			baseDN: "dc=cde-ev,dc=de",
			scope:  ldap.ScopeWholeSubtree,
			filter: "(objectclass=*)",
			assert: &AssertSearchError{expect: ldap.LDAPResultNoSuchObject},
		},
		Search{
			baseDN: "uid=1,ou=users,dc=cde-ev,dc=de",
			scope:  ldap.ScopeBaseObject,
			filter: "(objectclass=*)",
			assert: &AssertSearchError{expect: ldap.LDAPResultNoSuchObject},
		},
	})
}

func TestBind(t *testing.T) {
	runTestCases(t, []Command{
		Conn{},
		Bind{"uid=1,ou=users,dc=cde-ev,dc=de", "anton-secret", &AssertResponse{}},
		Bind{"uid=1,ou=users,dc=cde-ev,dc=de", "wrong", &AssertResponse{ldap.LDAPResultInvalidCredentials}},
		// Nonexistent and denied entries answer the same as a bad password.
		Bind{"uid=99,ou=users,dc=cde-ev,dc=de", "anton-secret", &AssertResponse{ldap.LDAPResultInvalidCredentials}},
		// Archived personas cannot authenticate.
		Bind{"uid=3,ou=users,dc=cde-ev,dc=de", "hades-secret", &AssertResponse{ldap.LDAPResultInvalidCredentials}},
		Bind{"cn=admin,ou=duas,dc=cde-ev,dc=de", "admin-secret", &AssertResponse{}},
		Bind{"cn=cloud,ou=duas,dc=cde-ev,dc=de", "cloud-secret", &AssertResponse{}},
		Bind{"cn=cloud,ou=duas,dc=cde-ev,dc=de", "admin-secret", &AssertResponse{ldap.LDAPResultInvalidCredentials}},
		Bind{"not-a-dn", "x", &AssertResponse{ldap.LDAPResultInvalidDNSyntax}},
		// A container is not a bindable entry.
		Bind{"ou=users,dc=cde-ev,dc=de", "x", &AssertResponse{ldap.LDAPResultInvalidCredentials}},
	})
}

func TestFailedRebindResetsPrincipal(t *testing.T) {
	runTestCases(t, []Command{
		Conn{},
		Bind{"uid=1,ou=users,dc=cde-ev,dc=de", "anton-secret", &AssertResponse{}},
		Search{
			baseDN: "uid=1,ou=users,dc=cde-ev,dc=de",
			scope:  ldap.ScopeBaseObject,
			filter: "(objectclass=*)",
			assert: &AssertDNs{dns: []string{"uid=1,ou=users,dc=cde-ev,dc=de"}},
		},
		// A failed rebind drops the previous authentication, the
		// connection is anonymous afterwards.
		Bind{"uid=1,ou=users,dc=cde-ev,dc=de", "wrong", &AssertResponse{ldap.LDAPResultInvalidCredentials}},
		Search{
			baseDN: "uid=1,ou=users,dc=cde-ev,dc=de",
			scope:  ldap.ScopeBaseObject,
			filter: "(objectclass=*)",
			assert: &AssertSearchError{expect: ldap.LDAPResultNoSuchObject},
		},
	})
}

func TestUserVisibility(t *testing.T) {
	runTestCases(t, []Command{
		Conn{},
		Bind{"uid=2,ou=users,dc=cde-ev,dc=de", "berta-secret", &AssertResponse{}},
		// A user sees the static spine plus their own entry, no other
		// personas, no duas, no groups.
		Search{
			baseDN: "",
			scope:  ldap.ScopeWholeSubtree,
			filter: "(objectclass=*)",
			assert: &AssertDNs{dns: []string{
				"",
				"cn=subschema",
				"dc=de",
				"dc=cde-ev,dc=de",
				"ou=users,dc=cde-ev,dc=de",
				"uid=2,ou=users,dc=cde-ev,dc=de",
			}},
		},
		Search{
			baseDN: "uid=2,ou=users,dc=cde-ev,dc=de",
			scope:  ldap.ScopeBaseObject,
			filter: "(objectclass=*)",
			assert: &AssertAttrs{
				dn: "uid=2,ou=users,dc=cde-ev,dc=de",
				attrs: map[string][]string{
					"cn":          {"Bertålotta Beispiel"},
					"sn":          {"Beispiel"},
					"givenName":   {"Bertålotta"},
					"displayName": {"Bertå"},
					"mail":        {"berta@example.cde"},
					"uid":         {"2"},
				},
			},
		},
		// The sibling's entry is indistinguishable from a missing one.
		Search{
			baseDN: "uid=1,ou=users,dc=cde-ev,dc=de",
			scope:  ldap.ScopeBaseObject,
			filter: "(objectclass=*)",
			assert: &AssertSearchError{expect: ldap.LDAPResultNoSuchObject},
		},
		Search{
			baseDN: "ou=groups,dc=cde-ev,dc=de",
			scope:  ldap.ScopeWholeSubtree,
			filter: "(objectclass=*)",
			assert: &AssertSearchError{expect: ldap.LDAPResultNoSuchObject},
		},
	})
}

func TestDUAVisibility(t *testing.T) {
	runTestCases(t, []Command{
		Conn{},
		Bind{"cn=sync,ou=duas,dc=cde-ev,dc=de", "sync-secret", &AssertResponse{}},
		// A plain DUA sees the duas container and its own entry only.
		Search{
			baseDN: "ou=duas,dc=cde-ev,dc=de",
			scope:  ldap.ScopeWholeSubtree,
			filter: "(objectclass=*)",
			assert: &AssertDNs{dns: []string{
				"ou=duas,dc=cde-ev,dc=de",
				"cn=sync,ou=duas,dc=cde-ev,dc=de",
			}},
		},
		// Not being the fanout DUA, the groups branch stays invisible.
		Search{
			baseDN: "ou=groups,dc=cde-ev,dc=de",
			scope:  ldap.ScopeWholeSubtree,
			filter: "(objectclass=*)",
			assert: &AssertSearchError{expect: ldap.LDAPResultNoSuchObject},
		},
		Search{
			baseDN: "uid=1,ou=users,dc=cde-ev,dc=de",
			scope:  ldap.ScopeBaseObject,
			filter: "(objectclass=*)",
			assert: &AssertSearchError{expect: ldap.LDAPResultNoSuchObject},
		},
	})
}

func TestFanoutVisibility(t *testing.T) {
	runTestCases(t, []Command{
		Conn{},
		Bind{"cn=cloud,ou=duas,dc=cde-ev,dc=de", "cloud-secret", &AssertResponse{}},
		Search{
			baseDN: "ou=groups,dc=cde-ev,dc=de",
			scope:  ldap.ScopeSingleLevel,
			filter: "(objectclass=*)",
			assert: &AssertDNs{dns: []string{
				"ou=status,ou=groups,dc=cde-ev,dc=de",
				"ou=assembly-presiders,ou=groups,dc=cde-ev,dc=de",
				"ou=event-orgas,ou=groups,dc=cde-ev,dc=de",
				"ou=ml-moderators,ou=groups,dc=cde-ev,dc=de",
				"ou=ml-subscribers,ou=groups,dc=cde-ev,dc=de",
			}},
		},
		Search{
			baseDN: "cn=is_member,ou=status,ou=groups,dc=cde-ev,dc=de",
			scope:  ldap.ScopeBaseObject,
			filter: "(objectclass=*)",
			assert: &AssertAttrs{
				dn: "cn=is_member,ou=status,ou=groups,dc=cde-ev,dc=de",
				attrs: map[string][]string{
					"cn":          {"is_member"},
					"description": {"Users that are currently members"},
					"uniqueMember": {
						"uid=1,ou=users,dc=cde-ev,dc=de",
						"uid=2,ou=users,dc=cde-ev,dc=de",
					},
				},
			},
		},
		// Subscriber groups carry only the subscribing states, persona 3
		// holds an unsubscribed state on the same list.
		Search{
			baseDN: "cn=announce@lists.cde-ev.de,ou=ml-subscribers,ou=groups,dc=cde-ev,dc=de",
			scope:  ldap.ScopeBaseObject,
			filter: "(objectclass=*)",
			assert: &AssertAttrs{
				dn: "cn=announce@lists.cde-ev.de,ou=ml-subscribers,ou=groups,dc=cde-ev,dc=de",
				attrs: map[string][]string{
					"description": {"Subscribers of Announcements"},
					"uniqueMember": {
						"uid=1,ou=users,dc=cde-ev,dc=de",
						"uid=2,ou=users,dc=cde-ev,dc=de",
					},
				},
			},
		},
		Search{
			baseDN: "cn=announce-owner@lists.cde-ev.de,ou=ml-moderators,ou=groups,dc=cde-ev,dc=de",
			scope:  ldap.ScopeBaseObject,
			filter: "(objectclass=*)",
			assert: &AssertAttrs{
				dn: "cn=announce-owner@lists.cde-ev.de,ou=ml-moderators,ou=groups,dc=cde-ev,dc=de",
				attrs: map[string][]string{
					"cn":           {"announce-owner@lists.cde-ev.de"},
					"uniqueMember": {"uid=1,ou=users,dc=cde-ev,dc=de"},
				},
			},
		},
		// Deactivated lists have no groups; mixed-case list addresses
		// are served in their lowercase canonical form.
		Search{
			baseDN: "ou=ml-subscribers,ou=groups,dc=cde-ev,dc=de",
			scope:  ldap.ScopeSingleLevel,
			filter: "(objectclass=*)",
			assert: &AssertDNs{dns: []string{
				"cn=announce@lists.cde-ev.de,ou=ml-subscribers,ou=groups,dc=cde-ev,dc=de",
				"cn=mitglieder@lists.cde-ev.de,ou=ml-subscribers,ou=groups,dc=cde-ev,dc=de",
			}},
		},
		Search{
			baseDN: "cn=mitglieder-owner@lists.cde-ev.de,ou=ml-moderators,ou=groups,dc=cde-ev,dc=de",
			scope:  ldap.ScopeBaseObject,
			filter: "(objectclass=*)",
			assert: &AssertAttrs{
				dn: "cn=mitglieder-owner@lists.cde-ev.de,ou=ml-moderators,ou=groups,dc=cde-ev,dc=de",
				attrs: map[string][]string{
					"cn":           {"mitglieder-owner@lists.cde-ev.de"},
					"uniqueMember": {"uid=2,ou=users,dc=cde-ev,dc=de"},
				},
			},
		},
		Search{
			baseDN: "cn=dead@lists.cde-ev.de,ou=ml-subscribers,ou=groups,dc=cde-ev,dc=de",
			scope:  ldap.ScopeBaseObject,
			filter: "(objectclass=*)",
			assert: &AssertSearchError{expect: ldap.LDAPResultNoSuchObject},
		},
		// The fanout DUA holds no user read, the users branch behaves as
		// for any other DUA.
		Search{
			baseDN: "uid=1,ou=users,dc=cde-ev,dc=de",
			scope:  ldap.ScopeBaseObject,
			filter: "(objectclass=*)",
			assert: &AssertSearchError{expect: ldap.LDAPResultNoSuchObject},
		},
	})
}

func TestAdminVisibility(t *testing.T) {
	runTestCases(t, []Command{
		Conn{},
		Bind{"cn=admin,ou=duas,dc=cde-ev,dc=de", "admin-secret", &AssertResponse{}},
		Search{
			baseDN: "dc=cde-ev,dc=de",
			scope:  ldap.ScopeSingleLevel,
			filter: "(objectclass=*)",
			assert: &AssertDNs{dns: []string{
				"ou=duas,dc=cde-ev,dc=de",
				"ou=users,dc=cde-ev,dc=de",
				"ou=groups,dc=cde-ev,dc=de",
			}},
		},
		Search{
			baseDN: "ou=users,dc=cde-ev,dc=de",
			scope:  ldap.ScopeWholeSubtree,
			filter: "(objectClass=inetOrgPerson)",
			assert: &AssertDNs{dns: []string{
				"uid=1,ou=users,dc=cde-ev,dc=de",
				"uid=2,ou=users,dc=cde-ev,dc=de",
			}},
		},
		Search{
			baseDN: "assembly.presiders",
			scope:  ldap.ScopeBaseObject,
			filter: "(objectclass=*)",
			assert: &AssertSearchError{expect: ldap.LDAPResultInvalidDNSyntax},
		},
		Search{
			baseDN: "ou=groups,dc=cde-ev,dc=de",
			scope:  ldap.ScopeWholeSubtree,
			filter: "(cn=presiders-1)",
			assert: &AssertDNs{dns: []string{
				"cn=presiders-1,ou=assembly-presiders,ou=groups,dc=cde-ev,dc=de",
			}},
		},
		Search{
			baseDN: "ou=duas,dc=cde-ev,dc=de",
			scope:  ldap.ScopeSingleLevel,
			filter: "(objectclass=*)",
			assert: &AssertDNs{dns: []string{
				"cn=admin,ou=duas,dc=cde-ev,dc=de",
				"cn=cloud,ou=duas,dc=cde-ev,dc=de",
				"cn=sync,ou=duas,dc=cde-ev,dc=de",
			}},
		},
	})
}

func TestSearchFilters(t *testing.T) {
	runTestCases(t, []Command{
		Conn{},
		Bind{"cn=admin,ou=duas,dc=cde-ev,dc=de", "admin-secret", &AssertResponse{}},
		Search{
			baseDN: "ou=users,dc=cde-ev,dc=de",
			scope:  ldap.ScopeWholeSubtree,
			filter: "(mail=ANTON@example.cde)",
			assert: &AssertDNs{dns: []string{"uid=1,ou=users,dc=cde-ev,dc=de"}},
		},
		Search{
			baseDN: "ou=users,dc=cde-ev,dc=de",
			scope:  ldap.ScopeWholeSubtree,
			filter: "(cn=Anton*)",
			assert: &AssertDNs{dns: []string{"uid=1,ou=users,dc=cde-ev,dc=de"}},
		},
		Search{
			baseDN: "ou=users,dc=cde-ev,dc=de",
			scope:  ldap.ScopeWholeSubtree,
			filter: "(&(objectClass=inetOrgPerson)(!(uid=1)))",
			assert: &AssertDNs{dns: []string{"uid=2,ou=users,dc=cde-ev,dc=de"}},
		},
		Search{
			baseDN: "ou=users,dc=cde-ev,dc=de",
			scope:  ldap.ScopeWholeSubtree,
			filter: "(uid>=2)",
			assert: &AssertDNs{dns: []string{"uid=2,ou=users,dc=cde-ev,dc=de"}},
		},
		Search{
			baseDN: "ou=users,dc=cde-ev,dc=de",
			scope:  ldap.ScopeWholeSubtree,
			filter: "(mail=nobody@example.cde)",
			assert: &AssertDNs{dns: []string{}},
		},
	})
}

func TestPasswordNeverOnWire(t *testing.T) {
	runTestCases(t, []Command{
		Conn{},
		Bind{"cn=admin,ou=duas,dc=cde-ev,dc=de", "admin-secret", &AssertResponse{}},
		// Even an explicit request by the admin returns nothing.
		Search{
			baseDN: "uid=1,ou=users,dc=cde-ev,dc=de",
			scope:  ldap.ScopeBaseObject,
			filter: "(objectclass=*)",
			attrs:  []string{"userPassword", "*", "+"},
			assert: &AssertAttrs{
				dn:    "uid=1,ou=users,dc=cde-ev,dc=de",
				attrs: map[string][]string{"uid": {"1"}},
			},
		},
		Search{
			baseDN: "cn=admin,ou=duas,dc=cde-ev,dc=de",
			scope:  ldap.ScopeBaseObject,
			filter: "(objectclass=*)",
			attrs:  []string{"userPassword"},
			assert: &AssertAttrs{
				dn:    "cn=admin,ou=duas,dc=cde-ev,dc=de",
				attrs: map[string][]string{},
			},
		},
	})
}

func TestCompare(t *testing.T) {
	runTestCases(t, []Command{
		Conn{},
		Compare{"uid=2,ou=users,dc=cde-ev,dc=de", "sn", "Beispiel",
			&AssertCompare{expectCode: ldap.LDAPResultUnwillingToPerform}},
		Bind{"uid=2,ou=users,dc=cde-ev,dc=de", "berta-secret", &AssertResponse{}},
		Compare{"uid=2,ou=users,dc=cde-ev,dc=de", "sn", "Beispiel",
			&AssertCompare{expectMatch: true}},
		Compare{"uid=2,ou=users,dc=cde-ev,dc=de", "sn", "beispiel",
			&AssertCompare{expectMatch: true}},
		Compare{"uid=2,ou=users,dc=cde-ev,dc=de", "sn", "Mustermann",
			&AssertCompare{expectMatch: false}},
		// Password comparison is refused outright.
		Compare{"uid=2,ou=users,dc=cde-ev,dc=de", "userPassword", "berta-secret",
			&AssertCompare{expectCode: ldap.LDAPResultUnwillingToPerform}},
		// A denied entry answers exactly like an absent one.
		Compare{"uid=1,ou=users,dc=cde-ev,dc=de", "sn", "Administrator",
			&AssertCompare{expectCode: ldap.LDAPResultNoSuchObject}},
		Compare{"uid=99,ou=users,dc=cde-ev,dc=de", "sn", "Nobody",
			&AssertCompare{expectCode: ldap.LDAPResultNoSuchObject}},
	})
}

func TestWriteOperationsRefused(t *testing.T) {
	runTestCases(t, []Command{
		Conn{},
		Bind{"cn=admin,ou=duas,dc=cde-ev,dc=de", "admin-secret", &AssertResponse{}},
		// Read-only all the way down, even for the admin DUA.
		Add{
			dn: "uid=100,ou=users,dc=cde-ev,dc=de",
			attrs: map[string][]string{
				"objectClass": {"inetOrgPerson"},
				"cn":          {"New User"},
				"sn":          {"User"},
			},
			assert: &AssertResponse{ldap.LDAPResultUnwillingToPerform},
		},
		ModifyReplace{
			dn:     "uid=1,ou=users,dc=cde-ev,dc=de",
			attrs:  map[string][]string{"sn": {"Changed"}},
			assert: &AssertResponse{ldap.LDAPResultUnwillingToPerform},
		},
		ModifyDN{
			dn:     "uid=1,ou=users,dc=cde-ev,dc=de",
			newRDN: "uid=200",
			assert: &AssertResponse{ldap.LDAPResultUnwillingToPerform},
		},
		Delete{
			dn:     "uid=1,ou=users,dc=cde-ev,dc=de",
			assert: &AssertResponse{ldap.LDAPResultUnwillingToPerform},
		},
	})
}
