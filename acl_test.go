//go:build !integration

package main

import (
	"testing"
)

func TestCanEnumerate(t *testing.T) {
	policy, err := NewAccessPolicy(schemaMap, "admin", "cloud")
	if err != nil {
		t.Fatalf("Failed to build access policy: %v", err)
	}

	anon := (*Principal)(nil)
	user := userPrincipal(t, 7)
	admin := duaPrincipal(t, "admin")
	cloud := duaPrincipal(t, "cloud")
	other := duaPrincipal(t, "other")

	groupKinds := []EntryKind{
		KindStatusGroup, KindPresiderGroup, KindOrgaGroup,
		KindModeratorGroup, KindSubscriberGroup,
	}

	testcases := []struct {
		label     string
		principal *Principal
		kind      EntryKind
		expected  bool
	}{
		{"anonymous/users", anon, KindUser, false},
		{"anonymous/duas", anon, KindDUA, false},
		{"user/users", user, KindUser, true},
		{"user/duas", user, KindDUA, false},
		{"dua/users", other, KindUser, false},
		{"dua/duas", other, KindDUA, true},
		{"admin/users", admin, KindUser, true},
		{"admin/duas", admin, KindDUA, true},
	}
	for _, tc := range testcases {
		if got := policy.CanEnumerate(tc.principal, tc.kind); got != tc.expected {
			t.Errorf("%s: CanEnumerate = %v, expected %v", tc.label, got, tc.expected)
		}
	}

	// The groups branches are the fanout DUA's territory. The admin DUA
	// sees them too, nobody else does.
	for _, kind := range groupKinds {
		if !policy.CanEnumerate(cloud, kind) {
			t.Errorf("cloud should enumerate %s", kind)
		}
		if !policy.CanEnumerate(admin, kind) {
			t.Errorf("admin should enumerate %s", kind)
		}
		for _, p := range []*Principal{anon, user, other} {
			if policy.CanEnumerate(p, kind) {
				t.Errorf("%s should not enumerate %s", p.Name(), kind)
			}
		}
	}
}

func TestCanRead(t *testing.T) {
	policy, err := NewAccessPolicy(schemaMap, "admin", "cloud")
	if err != nil {
		t.Fatalf("Failed to build access policy: %v", err)
	}

	anon := (*Principal)(nil)
	user := userPrincipal(t, 7)
	admin := duaPrincipal(t, "admin")
	cloud := duaPrincipal(t, "cloud")
	other := duaPrincipal(t, "other")

	testcases := []struct {
		label     string
		principal *Principal
		dn        string
		expected  bool
	}{
		{"anonymous/root", anon, "", true},
		{"anonymous/subschema", anon, subschemaDNStr, true},
		{"anonymous/domain", anon, domainDNStr, false},
		{"anonymous/user", anon, "uid=7," + usersDNStr, false},

		{"user/own entry", user, "uid=7," + usersDNStr, true},
		{"user/other entry", user, "uid=8," + usersDNStr, false},
		{"user/users container", user, usersDNStr, true},
		{"user/groups", user, groupsDNStr, false},
		{"user/group entry", user, "cn=is_member," + statusGroupsDNStr, false},
		{"user/duas", user, duasDNStr, false},
		{"user/dua entry", user, "cn=admin," + duasDNStr, false},
		{"user/spine", user, organizationDNStr, true},

		{"dua/own entry", other, "cn=other," + duasDNStr, true},
		{"dua/other dua", other, "cn=admin," + duasDNStr, false},
		{"dua/duas container", other, duasDNStr, true},
		{"dua/users container", other, usersDNStr, true},
		{"dua/user entry", other, "uid=7," + usersDNStr, false},
		{"dua/groups", other, groupsDNStr, false},

		{"cloud/groups", cloud, groupsDNStr, true},
		{"cloud/status group", cloud, "cn=is_member," + statusGroupsDNStr, true},
		{"cloud/subscriber group", cloud, "cn=liste@lists.cde-ev.de," + subscriberGroupsDNStr, true},
		{"cloud/user entry", cloud, "uid=7," + usersDNStr, false},

		{"admin/user entry", admin, "uid=7," + usersDNStr, true},
		{"admin/other dua", admin, "cn=other," + duasDNStr, true},
		{"admin/group entry", admin, "cn=is_member," + statusGroupsDNStr, true},
	}

	for _, tc := range testcases {
		if got := policy.CanRead(tc.principal, mustDN(t, tc.dn)); got != tc.expected {
			t.Errorf("%s: CanRead(%s) = %v, expected %v", tc.label, tc.dn, got, tc.expected)
		}
	}
}
