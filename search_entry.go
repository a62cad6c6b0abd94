package main

import (
	"log"

	"github.com/openstandia/goldap/message"
	ldap "github.com/openstandia/ldapserver"
)

// SearchEntry pairs a DN with the attribute values to serve for it.
type SearchEntry struct {
	dn         *DN
	attributes map[string][]string
}

func NewSearchEntry(dn *DN, valuesOrig map[string][]string) *SearchEntry {
	return &SearchEntry{
		dn:         dn,
		attributes: valuesOrig,
	}
}

func (j *SearchEntry) GetDNOrig() string {
	return j.dn.DNOrigStr()
}

func (j *SearchEntry) GetAttrOrig(attrName string) (string, []string, bool) {
	s, ok := schemaMap.AttributeType(attrName)
	if !ok {
		return "", nil, false
	}

	v, ok := j.attributes[s.Name]
	if !ok {
		return "", nil, false
	}
	return s.Name, v, true
}

func (j *SearchEntry) GetAttrsOrigWithoutOperationalAttrs() map[string][]string {
	m := map[string][]string{}
	for k, v := range j.attributes {
		if s, ok := schemaMap.AttributeType(k); ok {
			if !s.IsOperationalAttribute() {
				m[k] = v
			}
		}
	}
	return m
}

func (j *SearchEntry) GetOperationalAttrsOrig() map[string][]string {
	m := map[string][]string{}
	for k, v := range j.attributes {
		if s, ok := schemaMap.AttributeType(k); ok {
			if s.IsOperationalAttribute() {
				m[k] = v
			}
		}
	}
	return m
}

// writeSearchEntry renders one result entry onto the wire, honoring the
// request's attribute selection. userPassword is dropped before
// anything else happens, no principal ever receives it, not even for
// their own entry.
func writeSearchEntry(w ldap.ResponseWriter, r message.SearchRequest, dn *DN, attrs map[string][]string) {
	if _, ok := attrs["userPassword"]; ok {
		stripped := make(map[string][]string, len(attrs))
		for k, v := range attrs {
			if k == "userPassword" {
				continue
			}
			stripped[k] = v
		}
		attrs = stripped
	}

	searchEntry := NewSearchEntry(dn, attrs)
	e := ldap.NewSearchResultEntry(searchEntry.GetDNOrig())

	sentAttrs := map[string]struct{}{}

	if isAllAttributesRequested(r) {
		for k, v := range searchEntry.GetAttrsOrigWithoutOperationalAttrs() {
			av := make([]message.AttributeValue, len(v))
			for i, vv := range v {
				av[i] = message.AttributeValue(vv)
			}
			e.AddAttribute(message.AttributeDescription(k), av...)

			sentAttrs[k] = struct{}{}
		}
	}

	for _, attr := range r.Attributes() {
		a := string(attr)
		if a == "*" || a == "+" {
			continue
		}

		k, values, ok := searchEntry.GetAttrOrig(a)
		if !ok {
			log.Printf("debug: No schema for requested attr, ignore. attr: %s", a)
			continue
		}
		if _, ok := sentAttrs[k]; ok {
			continue
		}

		av := make([]message.AttributeValue, len(values))
		for i, vv := range values {
			av[i] = message.AttributeValue(vv)
		}
		e.AddAttribute(message.AttributeDescription(k), av...)

		sentAttrs[k] = struct{}{}
	}

	if isOperationalAttributesRequested(r) {
		for k, v := range searchEntry.GetOperationalAttrsOrig() {
			if _, ok := sentAttrs[k]; !ok {
				for _, vv := range v {
					e.AddAttribute(message.AttributeDescription(k), message.AttributeValue(vv))
				}
			}
		}
	}

	w.Write(e)
}
