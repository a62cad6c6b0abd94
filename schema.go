package main

import (
	"regexp"
	"strings"

	"golang.org/x/xerrors"
)

// SchemaMap holds the parsed directory schema. It is assembled once at
// startup and never mutated afterwards.
type SchemaMap struct {
	attributeTypes map[string]*AttributeType
	objectClasses  map[string]*ObjectClass
	raw            string
}

type AttributeType struct {
	Oid                string
	Name               string
	AName              []string
	Equality           string
	Substr             string
	Syntax             string
	Usage              string
	SingleValue        bool
	NoUserModification bool
}

func (a *AttributeType) IsOperationalAttribute() bool {
	return a.Usage == "directoryOperation" || a.Usage == "dSAOperation"
}

func (a *AttributeType) IsCaseIgnore() bool {
	return strings.HasPrefix(a.Equality, "caseIgnore") ||
		a.Equality == "objectIdentifierMatch" ||
		a.Equality == "distinguishedNameMatch" ||
		a.Equality == "uniqueMemberMatch"
}

type ObjectClass struct {
	Oid        string
	Name       string
	Sup        string
	Structural bool
	Abstract   bool
	Auxiliary  bool
	Must       []string
	May        []string
}

func (s *SchemaMap) AttributeType(k string) (*AttributeType, bool) {
	schema, ok := s.attributeTypes[strings.ToLower(k)]
	return schema, ok
}

func (s *SchemaMap) PutAttributeType(attributeType *AttributeType) {
	s.attributeTypes[strings.ToLower(attributeType.Name)] = attributeType
	for _, a := range attributeType.AName {
		s.attributeTypes[strings.ToLower(a)] = attributeType
	}
}

func (s *SchemaMap) ObjectClass(k string) (*ObjectClass, bool) {
	schema, ok := s.objectClasses[strings.ToLower(k)]
	return schema, ok
}

func (s *SchemaMap) PutObjectClass(objectClass *ObjectClass) {
	s.objectClasses[strings.ToLower(objectClass.Name)] = objectClass
}

// NormalizeValue applies the attribute's equality matching rule. Unknown
// attribute types fall back to case-ignore string matching.
func (s *SchemaMap) NormalizeValue(attrName, value string) string {
	a, ok := s.AttributeType(attrName)
	if !ok {
		return strings.ToLower(normalizeSpace(value))
	}

	switch a.Equality {
	case "caseExactMatch", "caseExactIA5Match":
		return normalizeSpace(value)
	case "integerMatch":
		return strings.TrimSpace(value)
	case "numericStringMatch":
		return removeAllSpace(value)
	case "octetStringMatch":
		return value
	default:
		return strings.ToLower(normalizeSpace(value))
	}
}

// Dump returns the wire-ready schema definition lines served on the
// subschema entry.
func (s *SchemaMap) Dump() string {
	return s.raw
}

var (
	oidPattern       = regexp.MustCompile(`(^.*?): \( (.*?) `)
	namePattern      = regexp.MustCompile(`^.*?: \( .*? NAME '(.*?)' `)
	namesPattern     = regexp.MustCompile(`^.*?: \( .*? NAME \( (.*?) \) `)
	equalityPattern  = regexp.MustCompile(` EQUALITY (.*?) `)
	syntaxPattern    = regexp.MustCompile(` SYNTAX (.*?) `)
	substrPattern    = regexp.MustCompile(` SUBSTR (.*?) `)
	supPattern       = regexp.MustCompile(` SUP (.*?) `)
	usagePattern     = regexp.MustCompile(` USAGE (.*?) `)
	mustPattern      = regexp.MustCompile(` MUST (.*?) `)
	multiMustPattern = regexp.MustCompile(` MUST \( (.*?) \) `)
	mayPattern       = regexp.MustCompile(` MAY (.*?) `)
	multiMayPattern  = regexp.MustCompile(` MAY \( (.*?) \) `)
	spacePattern     = regexp.MustCompile(`\s+`)
)

func normalizeSpace(value string) string {
	str := spacePattern.ReplaceAllString(value, " ")
	str = strings.Trim(str, " ")
	return str
}

func removeAllSpace(value string) string {
	return spacePattern.ReplaceAllString(value, "")
}

// InitSchemaMap parses the static schema. Any malformed definition is
// fatal at startup, there is no runtime recovery.
func InitSchemaMap() *SchemaMap {
	m, err := parseSchemaDefinitions(schemaDefinitions)
	if err != nil {
		panic(err)
	}
	return m
}

func parseSchemaDefinitions(schemaDef string) (*SchemaMap, error) {
	m := &SchemaMap{
		attributeTypes: map[string]*AttributeType{},
		objectClasses:  map[string]*ObjectClass{},
		raw:            strings.TrimSpace(schemaDef),
	}

	for _, line := range strings.Split(strings.TrimSpace(schemaDef), "\n") {
		if line == "" {
			continue
		}
		og := oidPattern.FindStringSubmatch(line)
		if og == nil {
			return nil, xerrors.Errorf("malformed schema definition: %s", line)
		}
		stype := strings.ToLower(og[1])
		oid := og[2]

		switch stype {
		case "ldapsyntaxes", "matchingrules", "matchingruleuse":
			// Served verbatim on the subschema entry, nothing to index.
			continue
		case "attributetypes":
			name, err := parseSchemaName(line)
			if err != nil {
				return nil, err
			}

			a := &AttributeType{
				Oid:  oid,
				Name: name[0],
			}
			if len(name) > 1 {
				a.AName = name[1:]
			}
			if g := equalityPattern.FindStringSubmatch(line); g != nil {
				a.Equality = g[1]
			}
			if g := substrPattern.FindStringSubmatch(line); g != nil {
				a.Substr = g[1]
			}
			if g := syntaxPattern.FindStringSubmatch(line); g != nil {
				a.Syntax = g[1]
			}
			if g := usagePattern.FindStringSubmatch(line); g != nil {
				a.Usage = g[1]
			}
			if strings.Contains(line, "SINGLE-VALUE") {
				a.SingleValue = true
			}
			if strings.Contains(line, "NO-USER-MODIFICATION") {
				a.NoUserModification = true
			}

			m.PutAttributeType(a)
		case "objectclasses":
			name, err := parseSchemaName(line)
			if err != nil {
				return nil, err
			}

			oc := &ObjectClass{
				Oid:        oid,
				Name:       name[0],
				Structural: strings.Contains(line, " STRUCTURAL "),
				Abstract:   strings.Contains(line, " ABSTRACT "),
				Auxiliary:  strings.Contains(line, " AUXILIARY "),
			}
			if g := supPattern.FindStringSubmatch(line); g != nil {
				oc.Sup = g[1]
			}
			if g := multiMustPattern.FindStringSubmatch(line); g != nil {
				for _, v := range strings.Split(g[1], "$") {
					oc.Must = append(oc.Must, strings.TrimSpace(v))
				}
			} else if g := mustPattern.FindStringSubmatch(line); g != nil {
				oc.Must = append(oc.Must, g[1])
			}
			if g := multiMayPattern.FindStringSubmatch(line); g != nil {
				for _, v := range strings.Split(g[1], "$") {
					oc.May = append(oc.May, strings.TrimSpace(v))
				}
			} else if g := mayPattern.FindStringSubmatch(line); g != nil {
				oc.May = append(oc.May, g[1])
			}

			m.PutObjectClass(oc)
		default:
			return nil, xerrors.Errorf("unsupported schema definition type: %s", og[1])
		}
	}

	return m, nil
}

func parseSchemaName(line string) ([]string, error) {
	if g := namePattern.FindStringSubmatch(line); g != nil {
		return []string{g[1]}, nil
	}
	if g := namesPattern.FindStringSubmatch(line); g != nil {
		return strings.Split(strings.ReplaceAll(g[1], "'", ""), " "), nil
	}
	return nil, xerrors.Errorf("schema definition without NAME: %s", line)
}

// The subset of the OpenLDAP core schema backing the served tree. The
// object classes are closed, adding one means touching the projections
// too.
const schemaDefinitions = `
ldapSyntaxes: ( 1.3.6.1.4.1.1466.115.121.1.12 DESC 'DN' )
ldapSyntaxes: ( 1.3.6.1.4.1.1466.115.121.1.15 DESC 'Directory String' )
ldapSyntaxes: ( 1.3.6.1.4.1.1466.115.121.1.26 DESC 'IA5 String' )
ldapSyntaxes: ( 1.3.6.1.4.1.1466.115.121.1.27 DESC 'Integer' )
ldapSyntaxes: ( 1.3.6.1.4.1.1466.115.121.1.34 DESC 'Name And Optional UID' )
ldapSyntaxes: ( 1.3.6.1.4.1.1466.115.121.1.38 DESC 'OID' )
ldapSyntaxes: ( 1.3.6.1.4.1.1466.115.121.1.40 DESC 'Octet String' )
matchingRules: ( 2.5.13.0 NAME 'objectIdentifierMatch' SYNTAX 1.3.6.1.4.1.1466.115.121.1.38 )
matchingRules: ( 2.5.13.1 NAME 'distinguishedNameMatch' SYNTAX 1.3.6.1.4.1.1466.115.121.1.12 )
matchingRules: ( 2.5.13.2 NAME 'caseIgnoreMatch' SYNTAX 1.3.6.1.4.1.1466.115.121.1.15 )
matchingRules: ( 2.5.13.4 NAME 'caseIgnoreSubstringsMatch' SYNTAX 1.3.6.1.4.1.1466.115.121.1.58 )
matchingRules: ( 2.5.13.14 NAME 'integerMatch' SYNTAX 1.3.6.1.4.1.1466.115.121.1.27 )
matchingRules: ( 2.5.13.23 NAME 'uniqueMemberMatch' SYNTAX 1.3.6.1.4.1.1466.115.121.1.34 )
matchingRules: ( 1.3.6.1.4.1.1466.109.114.2 NAME 'caseIgnoreIA5Match' SYNTAX 1.3.6.1.4.1.1466.115.121.1.26 )
matchingRules: ( 1.3.6.1.4.1.1466.109.114.3 NAME 'caseIgnoreIA5SubstringsMatch' SYNTAX 1.3.6.1.4.1.1466.115.121.1.26 )
attributeTypes: ( 2.5.4.0 NAME 'objectClass' DESC 'RFC4512: object classes of the entity' EQUALITY objectIdentifierMatch SYNTAX 1.3.6.1.4.1.1466.115.121.1.38 )
attributeTypes: ( 2.5.4.41 NAME 'name' EQUALITY caseIgnoreMatch SUBSTR caseIgnoreSubstringsMatch SYNTAX 1.3.6.1.4.1.1466.115.121.1.15{32768} )
attributeTypes: ( 2.5.4.3 NAME ( 'cn' 'commonName' ) DESC 'RFC4519: common name(s) for which the entity is known by' EQUALITY caseIgnoreMatch SUBSTR caseIgnoreSubstringsMatch SYNTAX 1.3.6.1.4.1.1466.115.121.1.15 )
attributeTypes: ( 2.5.4.4 NAME ( 'sn' 'surname' ) DESC 'RFC4519: last (family) name(s) for which the entity is known by' EQUALITY caseIgnoreMatch SUBSTR caseIgnoreSubstringsMatch SYNTAX 1.3.6.1.4.1.1466.115.121.1.15 )
attributeTypes: ( 2.5.4.42 NAME 'givenName' DESC 'RFC4519: first name(s) for which the entity is known by' EQUALITY caseIgnoreMatch SUBSTR caseIgnoreSubstringsMatch SYNTAX 1.3.6.1.4.1.1466.115.121.1.15 )
attributeTypes: ( 2.16.840.1.113730.3.1.241 NAME 'displayName' DESC 'RFC2798: preferred name to be used when displaying entries' EQUALITY caseIgnoreMatch SUBSTR caseIgnoreSubstringsMatch SYNTAX 1.3.6.1.4.1.1466.115.121.1.15 SINGLE-VALUE )
attributeTypes: ( 0.9.2342.19200300.100.1.3 NAME ( 'mail' 'rfc822Mailbox' ) DESC 'RFC1274: RFC822 Mailbox' EQUALITY caseIgnoreIA5Match SUBSTR caseIgnoreIA5SubstringsMatch SYNTAX 1.3.6.1.4.1.1466.115.121.1.26{256} )
attributeTypes: ( 0.9.2342.19200300.100.1.1 NAME ( 'uid' 'userid' ) DESC 'RFC4519: user identifier' EQUALITY caseIgnoreMatch SUBSTR caseIgnoreSubstringsMatch SYNTAX 1.3.6.1.4.1.1466.115.121.1.15{256} )
attributeTypes: ( 2.5.4.35 NAME 'userPassword' DESC 'RFC4519/2307: password of user' EQUALITY octetStringMatch SYNTAX 1.3.6.1.4.1.1466.115.121.1.40{128} )
attributeTypes: ( 2.5.4.13 NAME 'description' DESC 'RFC4519: descriptive information' EQUALITY caseIgnoreMatch SUBSTR caseIgnoreSubstringsMatch SYNTAX 1.3.6.1.4.1.1466.115.121.1.15{1024} )
attributeTypes: ( 2.5.4.10 NAME ( 'o' 'organizationName' ) DESC 'RFC4519: organization this object belongs to' EQUALITY caseIgnoreMatch SUBSTR caseIgnoreSubstringsMatch SYNTAX 1.3.6.1.4.1.1466.115.121.1.15 )
attributeTypes: ( 2.5.4.11 NAME ( 'ou' 'organizationalUnitName' ) DESC 'RFC4519: organizational unit this object belongs to' EQUALITY caseIgnoreMatch SUBSTR caseIgnoreSubstringsMatch SYNTAX 1.3.6.1.4.1.1466.115.121.1.15 )
attributeTypes: ( 0.9.2342.19200300.100.1.25 NAME ( 'dc' 'domainComponent' ) DESC 'RFC1274/2247: domain component' EQUALITY caseIgnoreIA5Match SUBSTR caseIgnoreIA5SubstringsMatch SYNTAX 1.3.6.1.4.1.1466.115.121.1.26 SINGLE-VALUE )
attributeTypes: ( 2.5.4.50 NAME 'uniqueMember' DESC 'RFC4519: unique member of a group' EQUALITY uniqueMemberMatch SYNTAX 1.3.6.1.4.1.1466.115.121.1.34 )
attributeTypes: ( 2.5.18.10 NAME 'subschemaSubentry' DESC 'RFC4512: name of controlling subschema entry' EQUALITY distinguishedNameMatch SYNTAX 1.3.6.1.4.1.1466.115.121.1.12 SINGLE-VALUE NO-USER-MODIFICATION USAGE directoryOperation )
attributeTypes: ( 1.3.6.1.4.1.1466.101.120.5 NAME 'namingContexts' DESC 'RFC4512: naming contexts' SYNTAX 1.3.6.1.4.1.1466.115.121.1.12 USAGE dSAOperation )
attributeTypes: ( 1.3.6.1.4.1.1466.101.120.15 NAME 'supportedLDAPVersion' DESC 'RFC4512: supported LDAP versions' SYNTAX 1.3.6.1.4.1.1466.115.121.1.27 USAGE dSAOperation )
attributeTypes: ( 1.3.6.1.4.1.1466.101.120.13 NAME 'supportedControl' DESC 'RFC4512: supported controls' SYNTAX 1.3.6.1.4.1.1466.115.121.1.38 USAGE dSAOperation )
attributeTypes: ( 1.3.6.1.1.4 NAME 'vendorName' DESC 'RFC3045: name of implementation vendor' EQUALITY caseExactMatch SYNTAX 1.3.6.1.4.1.1466.115.121.1.15 SINGLE-VALUE NO-USER-MODIFICATION USAGE dSAOperation )
attributeTypes: ( 2.5.21.5 NAME 'attributeTypes' DESC 'RFC4512: attribute types' EQUALITY objectIdentifierFirstComponentMatch SYNTAX 1.3.6.1.4.1.1466.115.121.1.3 USAGE directoryOperation )
attributeTypes: ( 2.5.21.6 NAME 'objectClasses' DESC 'RFC4512: object classes' EQUALITY objectIdentifierFirstComponentMatch SYNTAX 1.3.6.1.4.1.1466.115.121.1.37 USAGE directoryOperation )
attributeTypes: ( 2.5.21.4 NAME 'matchingRules' DESC 'RFC4512: matching rules' EQUALITY objectIdentifierFirstComponentMatch SYNTAX 1.3.6.1.4.1.1466.115.121.1.30 USAGE directoryOperation )
attributeTypes: ( 1.3.6.1.4.1.1466.101.120.16 NAME 'ldapSyntaxes' DESC 'RFC4512: LDAP syntaxes' EQUALITY objectIdentifierFirstComponentMatch SYNTAX 1.3.6.1.4.1.1466.115.121.1.54 USAGE directoryOperation )
objectClasses: ( 2.5.6.0 NAME 'top' DESC 'top of the superclass chain' ABSTRACT MUST objectClass )
objectClasses: ( 1.3.6.1.4.1.1466.344 NAME 'dcObject' DESC 'RFC2247: domain component object' SUP top AUXILIARY MUST dc )
objectClasses: ( 2.5.6.4 NAME 'organization' DESC 'RFC4519: an organization' SUP top STRUCTURAL MUST o MAY description )
objectClasses: ( 2.5.6.5 NAME 'organizationalUnit' DESC 'RFC4519: an organizational unit' SUP top STRUCTURAL MUST ou MAY description )
objectClasses: ( 2.5.6.6 NAME 'person' DESC 'RFC4519: a person' SUP top STRUCTURAL MUST ( sn $ cn ) MAY ( userPassword $ description ) )
objectClasses: ( 2.5.6.7 NAME 'organizationalPerson' DESC 'RFC4519: an organizational person' SUP person STRUCTURAL MAY ou )
objectClasses: ( 2.16.840.1.113730.3.2.2 NAME 'inetOrgPerson' DESC 'RFC2798: Internet Organizational Person' SUP organizationalPerson STRUCTURAL MAY ( displayName $ givenName $ mail $ uid ) )
objectClasses: ( 2.5.6.17 NAME 'groupOfUniqueNames' DESC 'RFC4519: a group of unique names' SUP top STRUCTURAL MUST ( uniqueMember $ cn ) MAY ( o $ ou $ description ) )
objectClasses: ( 0.9.2342.19200300.100.4.19 NAME 'simpleSecurityObject' DESC 'RFC1274: simple security object' SUP top AUXILIARY MUST userPassword )
objectClasses: ( 2.5.17.0 NAME 'subentry' DESC 'RFC3672: subentry' SUP top STRUCTURAL MUST ( cn $ subtreeSpecification ) )
objectClasses: ( 2.5.20.1 NAME 'subschema' DESC 'RFC4512: controlling subschema' AUXILIARY MAY ( attributeTypes $ objectClasses $ matchingRules $ ldapSyntaxes ) )
objectClasses: ( 1.3.6.1.4.1.1466.101.120.111 NAME 'extensibleObject' DESC 'RFC4512: extensible object' SUP top AUXILIARY )
`
