package main

import (
	"github.com/openstandia/goldap/message"
	ldap "github.com/openstandia/ldapserver"
)

// AuthSession is the per-connection bind state. A nil Principal means
// the connection is (still) anonymous.
type AuthSession struct {
	Principal *Principal
}

func getSession(m *ldap.Message) map[string]interface{} {
	store := m.Client.GetCustomData()
	if sessionMap, ok := store.(map[string]interface{}); ok {
		return sessionMap
	} else {
		sessionMap := map[string]interface{}{}
		m.Client.SetCustomData(sessionMap)
		return sessionMap
	}
}

func getAuthSession(m *ldap.Message) *AuthSession {
	session := getSession(m)
	if authSession, ok := session["auth"]; ok {
		return authSession.(*AuthSession)
	} else {
		authSession := &AuthSession{}
		session["auth"] = authSession
		return authSession
	}
}

func isOperationalAttributesRequested(r message.SearchRequest) bool {
	for _, attr := range r.Attributes() {
		if string(attr) == "+" {
			return true
		}
	}
	return false
}

func isAllAttributesRequested(r message.SearchRequest) bool {
	if len(r.Attributes()) == 0 {
		return true
	}
	for _, attr := range r.Attributes() {
		if string(attr) == "*" {
			return true
		}
	}
	return false
}
