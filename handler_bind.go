package main

import (
	"context"
	"log"
	"strings"

	"github.com/GehirnInc/crypt"
	_ "github.com/GehirnInc/crypt/sha512_crypt"
	"github.com/jsimonetti/pwscheme/ssha"
	"github.com/jsimonetti/pwscheme/ssha256"
	"github.com/jsimonetti/pwscheme/ssha512"
	ldap "github.com/openstandia/ldapserver"
	"golang.org/x/xerrors"
)

func handleBind(s *Server, w ldap.ResponseWriter, m *ldap.Message) {
	ctx := context.Background()

	r := m.GetBindRequest()
	res := ldap.NewBindResponse(ldap.LDAPResultSuccess)

	if r.AuthenticationChoice() != "simple" {
		saveAuthenticatedPrincipal(m, nil)
		res.SetResultCode(ldap.LDAPResultUnwillingToPerform)
		res.SetDiagnosticMessage("Authentication choice not supported")
		w.Write(res)
		return
	}

	name := string(r.Name())
	input := string(r.AuthenticationSimple())

	dn, err := NormalizeDN(schemaMap, name)
	if err != nil {
		log.Printf("info: Bind failed - Invalid DN syntax. dn_orig: %s", name)
		saveAuthenticatedPrincipal(m, nil)
		res.SetResultCode(ldap.LDAPResultInvalidDNSyntax)
		res.SetDiagnosticMessage("invalid DN")
		w.Write(res)
		return
	}

	// Anonymous
	if dn.IsAnonymous() {
		log.Printf("info: Bind anonymous user.")
		saveAuthenticatedPrincipal(m, nil)
		w.Write(res)
		return
	}

	principal, err := s.authenticate(ctx, dn, input)
	if err != nil {
		// A failed bind leaves the connection anonymous, whatever it
		// was bound as before.
		saveAuthenticatedPrincipal(m, nil)

		var lerr *LDAPError
		if ok := xerrors.As(err, &lerr); ok {
			if !lerr.IsInvalidCredentials() {
				log.Printf("error: Bind failed - LDAP error. dn_norm: %s, err: %+v", dn.DNNormStr(), err)
			} else {
				log.Printf("info: Bind failed - Invalid credentials. dn_norm: %s", dn.DNNormStr())
			}
			res.SetResultCode(lerr.Code)
			res.SetDiagnosticMessage(lerr.Msg)
			w.Write(res)
			return
		}

		log.Printf("error: Bind failed - System error. dn_norm: %s, err: %+v", dn.DNNormStr(), err)
		res.SetResultCode(ldap.LDAPResultUnavailable)
		w.Write(res)
		return
	}

	log.Printf("info: Bind ok. dn_norm: %s", dn.DNNormStr())

	saveAuthenticatedPrincipal(m, principal)
	w.Write(res)
}

// authenticate resolves the bind DN against the tree and verifies the
// password. Every failure maps to invalidCredentials so the response
// never reveals whether the DN exists.
func (s *Server) authenticate(ctx context.Context, dn *DN, password string) (*Principal, error) {
	entry, err := s.tree.Lookup(ctx, dn)
	if err != nil {
		var lerr *LDAPError
		if xerrors.As(err, &lerr) && lerr.IsNoSuchObject() {
			return nil, NewInvalidCredentials()
		}
		return nil, xerrors.Errorf("failed to resolve bind DN: %w", err)
	}

	leaf, ok := entry.(*LeafEntry)
	if !ok {
		return nil, NewInvalidCredentials()
	}
	if err := leaf.Bind(password); err != nil {
		return nil, err
	}

	switch leaf.Kind() {
	case KindUser:
		value, ok := dn.FirstRDNValue("uid")
		if !ok {
			return nil, NewInvalidCredentials()
		}
		id, err := decodeUserID(value)
		if err != nil {
			return nil, NewInvalidCredentials()
		}
		return &Principal{DN: dn, UserID: id}, nil
	case KindDUA:
		value, ok := dn.FirstRDNValue("cn")
		if !ok {
			return nil, NewInvalidCredentials()
		}
		name, err := decodeDUAName(value)
		if err != nil {
			return nil, NewInvalidCredentials()
		}
		return &Principal{DN: dn, DUAName: name}, nil
	default:
		return nil, NewInvalidCredentials()
	}
}

// validateCred verifies a password against one stored hash. Persona
// rows carry glibc crypt SHA-512 hashes shared with the web login,
// DUA rows carry the salted SHA schemes.
func validateCred(input, cred string) bool {
	var ok bool
	var err error
	if strings.HasPrefix(cred, "$6$") {
		err = crypt.SHA512.New().Verify(cred, []byte(input))
		ok = err == nil
		if err != nil && err != crypt.ErrKeyMismatch {
			log.Printf("error: Failed to verify crypt hash. err: %+v", err)
		}
		return ok

	} else if strings.HasPrefix(cred, "{CRYPT}$6$") {
		err = crypt.SHA512.New().Verify(strings.TrimPrefix(cred, "{CRYPT}"), []byte(input))
		return err == nil

	} else if len(cred) > 7 && cred[0:6] == "{SSHA}" {
		ok, err = ssha.Validate(input, cred)

	} else if len(cred) > 10 && cred[0:9] == "{SSHA256}" {
		ok, err = ssha256.Validate(input, cred)

	} else if len(cred) > 10 && cred[0:9] == "{SSHA512}" {
		ok, err = ssha512.Validate(input, cred)

	} else {
		// Unknown scheme, never matches. Plaintext comparison would be
		// a downgrade trap for mis-migrated rows.
		return false
	}

	if err != nil {
		if err.Error() == "hash does not match password" {
			log.Printf("info: Invalid bindDN/credential. err: %+v", err)
		} else {
			log.Printf("error: Failed to authenticate. err: %+v", err)
		}
	}

	return ok
}

func saveAuthenticatedPrincipal(m *ldap.Message, principal *Principal) {
	session := getAuthSession(m)
	if session.Principal != nil {
		log.Printf("info: Switching authenticated user: %s -> %s", session.Principal.Name(), principal.Name())
	}
	session.Principal = principal
}
