package main

import (
	"fmt"
)

type LDAPError struct {
	Code int
	Msg  string
}

func (e *LDAPError) Error() string {
	return fmt.Sprintf("LDAPError: %d %s", e.Code, e.Msg)
}

func (e *LDAPError) IsNoSuchObject() bool {
	return e.Code == 32
}

func (e *LDAPError) IsInvalidCredentials() bool {
	return e.Code == 49
}

func NewNoSuchObject() *LDAPError {
	return &LDAPError{
		Code: 32,
	}
}

func NewInvalidDNSyntax() *LDAPError {
	return &LDAPError{
		Code: 34,
		Msg:  "invalid DN",
	}
}

func NewInvalidCredentials() *LDAPError {
	return &LDAPError{
		Code: 49,
		Msg:  "invalid credentials",
	}
}
