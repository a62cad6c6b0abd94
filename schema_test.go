//go:build !integration

package main

import (
	"testing"
)

func TestNormalizeValue(t *testing.T) {
	testcases := []struct {
		Name         string
		Value        string
		ExpectedNorm string
	}{
		{
			"cn",
			"abc",
			"abc",
		},
		{
			"cn",
			"aBc",
			"abc",
		},
		{
			"cn",
			" a  B c ",
			"a b c",
		},
		{
			"mail",
			" Max.Mustermann@CDE-EV.de ",
			"max.mustermann@cde-ev.de",
		},
		{
			"vendorName",
			"  CdE  e.V. ",
			"CdE e.V.",
		},
		{
			"userPassword",
			" {SSHA512}AbC ",
			" {SSHA512}AbC ",
		},
	}

	for i, tc := range testcases {
		got := schemaMap.NormalizeValue(tc.Name, tc.Value)
		if got != tc.ExpectedNorm {
			t.Errorf("Unexpected result on %d:\nSchema: %s\n'%s' -> '%s' expected, got '%s'\n", i, tc.Name, tc.Value, tc.ExpectedNorm, got)
		}
	}
}

func TestAttributeTypeLookup(t *testing.T) {
	testcases := []struct {
		Key          string
		ExpectedName string
	}{
		{"cn", "cn"},
		{"CN", "cn"},
		{"commonName", "cn"},
		{"surname", "sn"},
		{"rfc822Mailbox", "mail"},
		{"userid", "uid"},
	}

	for i, tc := range testcases {
		at, ok := schemaMap.AttributeType(tc.Key)
		if !ok {
			t.Errorf("Unexpected miss on %d: %s", i, tc.Key)
			continue
		}
		if at.Name != tc.ExpectedName {
			t.Errorf("Unexpected name on %d: %s -> %s, expected %s", i, tc.Key, at.Name, tc.ExpectedName)
		}
	}

	if _, ok := schemaMap.AttributeType("nosuchattribute"); ok {
		t.Errorf("Expected miss for unknown attribute")
	}
}

func TestOperationalAttributes(t *testing.T) {
	testcases := []struct {
		Key         string
		Operational bool
	}{
		{"cn", false},
		{"mail", false},
		{"subschemaSubentry", true},
		{"namingContexts", true},
		{"vendorName", true},
		{"attributeTypes", true},
	}

	for i, tc := range testcases {
		at, ok := schemaMap.AttributeType(tc.Key)
		if !ok {
			t.Fatalf("Missing attribute type on %d: %s", i, tc.Key)
		}
		if at.IsOperationalAttribute() != tc.Operational {
			t.Errorf("Unexpected result on %d: IsOperationalAttribute(%s) = %v, expected %v", i, tc.Key, at.IsOperationalAttribute(), tc.Operational)
		}
	}
}

func TestObjectClassLookup(t *testing.T) {
	oc, ok := schemaMap.ObjectClass("inetOrgPerson")
	if !ok {
		t.Fatal("Missing objectClass: inetOrgPerson")
	}
	if !oc.Structural {
		t.Errorf("Expected inetOrgPerson to be structural")
	}

	oc, ok = schemaMap.ObjectClass("top")
	if !ok {
		t.Fatal("Missing objectClass: top")
	}
	if !oc.Abstract {
		t.Errorf("Expected top to be abstract")
	}
}
