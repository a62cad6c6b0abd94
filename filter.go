package main

import (
	"log"
	"strconv"
	"strings"

	"github.com/openstandia/goldap/message"
)

// matchFilter evaluates a search filter against a synthesized entry in
// memory. Entries are built per request from a handful of relational
// rows, translating filters to SQL would buy nothing here.
func matchFilter(sm *SchemaMap, packet message.Filter, entry Entry) bool {
	switch f := packet.(type) {
	case message.FilterAnd:
		for _, child := range f {
			if !matchFilter(sm, child, entry) {
				return false
			}
		}
		return true
	case message.FilterOr:
		for _, child := range f {
			if matchFilter(sm, child, entry) {
				return true
			}
		}
		return false
	case message.FilterNot:
		return !matchFilter(sm, f.Filter, entry)
	case message.FilterEqualityMatch:
		return matchEquality(sm, entry, string(f.AttributeDesc()), string(f.AssertionValue()))
	case message.FilterPresent:
		_, ok := entryValues(sm, entry, string(f))
		return ok
	case message.FilterSubstrings:
		return matchSubstrings(sm, entry, f)
	case message.FilterGreaterOrEqual:
		return matchOrdering(sm, entry, string(f.AttributeDesc()), string(f.AssertionValue()), false)
	case message.FilterLessOrEqual:
		return matchOrdering(sm, entry, string(f.AttributeDesc()), string(f.AssertionValue()), true)
	case message.FilterApproxMatch:
		// No phonetic matching rules configured, approx degrades to
		// equality like OpenLDAP does by default.
		return matchEquality(sm, entry, string(f.AttributeDesc()), string(f.AssertionValue()))
	default:
		log.Printf("warn: Unsupported filter type: %T", packet)
		return false
	}
}

// entryValues resolves an attribute description against the entry,
// honoring schema aliases and case-insensitive attribute names.
func entryValues(sm *SchemaMap, entry Entry, attrName string) ([]string, bool) {
	at, ok := sm.AttributeType(attrName)
	if !ok {
		log.Printf("debug: Unsupported filter attribute: %s", attrName)
		return nil, false
	}
	attrs := entry.Attributes()
	if v, ok := attrs[at.Name]; ok {
		return v, true
	}
	for _, a := range at.AName {
		if v, ok := attrs[a]; ok {
			return v, true
		}
	}
	return nil, false
}

func matchEquality(sm *SchemaMap, entry Entry, attrName, assertion string) bool {
	values, ok := entryValues(sm, entry, attrName)
	if !ok {
		return false
	}
	want := sm.NormalizeValue(attrName, assertion)
	for _, v := range values {
		if sm.NormalizeValue(attrName, v) == want {
			return true
		}
	}
	return false
}

func matchSubstrings(sm *SchemaMap, entry Entry, f message.FilterSubstrings) bool {
	attrName := string(f.Type_())
	values, ok := entryValues(sm, entry, attrName)
	if !ok {
		return false
	}

	for _, value := range values {
		v := sm.NormalizeValue(attrName, value)
		ok := true
		for _, fs := range f.Substrings() {
			switch fsv := fs.(type) {
			case message.SubstringInitial:
				prefix := sm.NormalizeValue(attrName, string(fsv))
				if !strings.HasPrefix(v, prefix) {
					ok = false
					break
				}
				v = v[len(prefix):]
			case message.SubstringAny:
				part := sm.NormalizeValue(attrName, string(fsv))
				idx := strings.Index(v, part)
				if idx < 0 {
					ok = false
					break
				}
				v = v[idx+len(part):]
			case message.SubstringFinal:
				suffix := sm.NormalizeValue(attrName, string(fsv))
				if !strings.HasSuffix(v, suffix) {
					ok = false
					break
				}
				v = ""
			}
			if !ok {
				break
			}
		}
		if ok {
			return true
		}
	}
	return false
}

func matchOrdering(sm *SchemaMap, entry Entry, attrName, assertion string, lessOrEqual bool) bool {
	values, ok := entryValues(sm, entry, attrName)
	if !ok {
		return false
	}
	want := sm.NormalizeValue(attrName, assertion)
	wantNum, wantIsNum := parseNumber(want)

	for _, value := range values {
		got := sm.NormalizeValue(attrName, value)
		var cmp int
		if gotNum, ok := parseNumber(got); ok && wantIsNum {
			switch {
			case gotNum < wantNum:
				cmp = -1
			case gotNum > wantNum:
				cmp = 1
			}
		} else {
			cmp = strings.Compare(got, want)
		}
		if lessOrEqual && cmp <= 0 {
			return true
		}
		if !lessOrEqual && cmp >= 0 {
			return true
		}
	}
	return false
}

func parseNumber(s string) (int64, bool) {
	n, err := strconv.ParseInt(strings.TrimSpace(s), 10, 64)
	if err != nil {
		return 0, false
	}
	return n, true
}
