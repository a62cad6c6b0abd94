//go:build integration

package main

import (
	"fmt"
	"log"
	"os"
	"reflect"
	"sort"
	"testing"
	"time"

	"github.com/GehirnInc/crypt"
	_ "github.com/GehirnInc/crypt/sha512_crypt"
	"github.com/go-ldap/ldap/v3"
	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
)

const testBindAddress = "localhost:20389"

var testDB *sqlx.DB

func testEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func IntegrationTestRunner(m *testing.M) int {
	config := &ServerConfig{
		DBHostName:     testEnv("TEST_DB_HOST", "localhost"),
		DBPort:         5432,
		DBName:         testEnv("TEST_DB_NAME", "cdb_test"),
		DBUser:         testEnv("TEST_DB_USER", "cdb_admin"),
		DBPassword:     testEnv("TEST_DB_PASSWORD", "secret"),
		DBMaxOpenConns: 5,
		DBMaxIdleConns: 2,
		BindAddress:    testBindAddress,
		LogLevel:       "warn",
		AdminDUA:       "admin",
		FanoutDUA:      "cloud",
	}

	var err error
	testDB, err = sqlx.Connect("postgres",
		fmt.Sprintf("host=%s port=%d user=%s dbname=%s password=%s sslmode=disable",
			config.DBHostName, config.DBPort, config.DBUser, config.DBName, config.DBPassword))
	if err != nil {
		log.Fatalf("error: Failed to connect to the test database: %v", err)
	}

	setupTables()
	seedFixtures()

	secrets, err := os.CreateTemp("", "duas-*.yaml")
	if err != nil {
		log.Fatalf("error: Failed to create secrets file: %v", err)
	}
	defer os.Remove(secrets.Name())
	fmt.Fprint(secrets, "admin: admin-secret\ncloud: cloud-secret\nsync: sync-secret\n")
	secrets.Close()
	config.SecretsPath = secrets.Name()

	testServer = NewServer(config)
	go testServer.Start()

	i := 0
	for {
		if i > 10 {
			log.Fatalf("error: Failed to start test ldap server within 10 seconds.")
		}
		conn, err := ldap.Dial("tcp", testBindAddress)
		if err == nil {
			conn.Close()
			break
		}
		time.Sleep(1 * time.Second)
		i++
	}

	defer testServer.Stop()

	return m.Run()
}

func setupTables() {
	stmts := []string{
		`CREATE SCHEMA IF NOT EXISTS core`,
		`CREATE SCHEMA IF NOT EXISTS ldap`,
		`CREATE SCHEMA IF NOT EXISTS assembly`,
		`CREATE SCHEMA IF NOT EXISTS event`,
		`CREATE SCHEMA IF NOT EXISTS ml`,
		`CREATE TABLE IF NOT EXISTS core.personas (
			id bigint PRIMARY KEY,
			given_names text NOT NULL,
			family_name text NOT NULL,
			display_name text,
			username text,
			password_hash text NOT NULL,
			is_archived boolean NOT NULL DEFAULT false,
			is_active boolean NOT NULL DEFAULT false,
			is_member boolean NOT NULL DEFAULT false,
			is_searchable boolean NOT NULL DEFAULT false,
			is_ml_realm boolean NOT NULL DEFAULT false,
			is_event_realm boolean NOT NULL DEFAULT false,
			is_assembly_realm boolean NOT NULL DEFAULT false,
			is_cde_realm boolean NOT NULL DEFAULT false,
			is_core_admin boolean NOT NULL DEFAULT false,
			is_cde_admin boolean NOT NULL DEFAULT false,
			is_finance_admin boolean NOT NULL DEFAULT false,
			is_event_admin boolean NOT NULL DEFAULT false,
			is_ml_admin boolean NOT NULL DEFAULT false,
			is_assembly_admin boolean NOT NULL DEFAULT false,
			is_cdelokal_admin boolean NOT NULL DEFAULT false
		)`,
		`CREATE TABLE IF NOT EXISTS ldap.duas (
			cn text PRIMARY KEY,
			password_hash text NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS assembly.assemblies (
			id bigint PRIMARY KEY,
			title text NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS assembly.presiders (
			assembly_id bigint NOT NULL,
			persona_id bigint NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS event.events (
			id bigint PRIMARY KEY,
			title text NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS event.orgas (
			event_id bigint NOT NULL,
			persona_id bigint NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS ml.mailinglists (
			id bigint PRIMARY KEY,
			address text NOT NULL,
			title text NOT NULL,
			is_active boolean NOT NULL DEFAULT true
		)`,
		`CREATE TABLE IF NOT EXISTS ml.moderators (
			mailinglist_id bigint NOT NULL,
			persona_id bigint NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS ml.subscription_states (
			mailinglist_id bigint NOT NULL,
			persona_id bigint NOT NULL,
			subscription_state bigint NOT NULL
		)`,
	}
	for _, stmt := range stmts {
		testDB.MustExec(stmt)
	}
}

func cryptHash(password string) string {
	hash, err := crypt.SHA512.New().Generate([]byte(password), nil)
	if err != nil {
		log.Fatalf("error: Failed to generate crypt hash: %v", err)
	}
	return hash
}

func seedFixtures() {
	tables := []string{
		"core.personas", "ldap.duas", "assembly.assemblies", "assembly.presiders",
		"event.events", "event.orgas", "ml.mailinglists", "ml.moderators",
		"ml.subscription_states",
	}
	for _, table := range tables {
		testDB.MustExec("TRUNCATE TABLE " + table)
	}

	testDB.MustExec(`INSERT INTO core.personas
		(id, given_names, family_name, display_name, username, password_hash,
		 is_archived, is_active, is_member, is_searchable, is_cde_realm)
		VALUES
		(1, 'Anton Armin A.', 'Administrator', 'Anton', 'anton@example.cde', $1, false, true, true, true, true),
		(2, 'Bertålotta', 'Beispiel', 'Bertå', 'berta@example.cde', $2, false, true, true, true, true),
		(3, 'Hades', 'Hell', NULL, NULL, $3, true, false, false, false, false)`,
		cryptHash("anton-secret"), cryptHash("berta-secret"), cryptHash("hades-secret"))

	testDB.MustExec(`INSERT INTO assembly.assemblies (id, title) VALUES (1, 'Internationaler Kongress')`)
	testDB.MustExec(`INSERT INTO assembly.presiders (assembly_id, persona_id) VALUES (1, 1), (1, 2)`)

	testDB.MustExec(`INSERT INTO event.events (id, title) VALUES (1, 'Große Testakademie')`)
	testDB.MustExec(`INSERT INTO event.orgas (event_id, persona_id) VALUES (1, 2)`)

	testDB.MustExec(`INSERT INTO ml.mailinglists (id, address, title, is_active) VALUES
		(1, 'announce@lists.cde-ev.de', 'Announcements', true),
		(2, 'Mitglieder@Lists.CDE-EV.de', 'Mitglieder', true),
		(3, 'dead@lists.cde-ev.de', 'Graveyard', false)`)
	testDB.MustExec(`INSERT INTO ml.moderators (mailinglist_id, persona_id) VALUES (1, 1), (2, 2)`)
	testDB.MustExec(`INSERT INTO ml.subscription_states
		(mailinglist_id, persona_id, subscription_state) VALUES (1, 1, 1), (1, 2, 30), (1, 3, 2)`)
}

type Command interface {
	Run(t *testing.T, conn *ldap.Conn) (*ldap.Conn, error)
}

func runTestCases(t *testing.T, tcs []Command) {
	var conn *ldap.Conn
	var err error
	for i, tc := range tcs {
		conn, err = tc.Run(t, conn)
		if err != nil {
			t.Errorf("Unexpected error on testcase: %d %v, got error: %+v", i, tc, err)
			break
		}
	}
	if conn != nil {
		conn.Close()
	}
}

type Conn struct{}

func (c Conn) Run(t *testing.T, conn *ldap.Conn) (*ldap.Conn, error) {
	if conn != nil {
		conn.Close()
	}
	return ldap.Dial("tcp", testBindAddress)
}

type Bind struct {
	dn       string
	password string
	assert   *AssertResponse
}

func (c Bind) Run(t *testing.T, conn *ldap.Conn) (*ldap.Conn, error) {
	err := conn.Bind(c.dn, c.password)
	return conn, c.assert.AssertResponse(err)
}

type Search struct {
	baseDN string
	filter string
	scope  int
	attrs  []string
	assert Assert
}

func (s Search) Run(t *testing.T, conn *ldap.Conn) (*ldap.Conn, error) {
	search := ldap.NewSearchRequest(
		s.baseDN,
		s.scope,
		ldap.NeverDerefAliases,
		0, // Size Limit
		0, // Time Limit
		false,
		s.filter,
		s.attrs,
		nil,
	)
	sr, err := conn.Search(search)
	if s.assert != nil {
		return conn, s.assert.Assert(err, sr)
	}
	return conn, err
}

type Compare struct {
	dn     string
	attr   string
	value  string
	assert *AssertCompare
}

func (c Compare) Run(t *testing.T, conn *ldap.Conn) (*ldap.Conn, error) {
	matched, err := conn.Compare(c.dn, c.attr, c.value)
	return conn, c.assert.AssertCompare(matched, err)
}

type Add struct {
	dn     string
	attrs  map[string][]string
	assert *AssertResponse
}

func (a Add) Run(t *testing.T, conn *ldap.Conn) (*ldap.Conn, error) {
	add := ldap.NewAddRequest(a.dn, nil)
	for k, v := range a.attrs {
		add.Attribute(k, v)
	}
	return conn, a.assert.AssertResponse(conn.Add(add))
}

type Delete struct {
	dn     string
	assert *AssertResponse
}

func (d Delete) Run(t *testing.T, conn *ldap.Conn) (*ldap.Conn, error) {
	return conn, d.assert.AssertResponse(conn.Del(ldap.NewDelRequest(d.dn, nil)))
}

type ModifyReplace struct {
	dn     string
	attrs  map[string][]string
	assert *AssertResponse
}

func (m ModifyReplace) Run(t *testing.T, conn *ldap.Conn) (*ldap.Conn, error) {
	modify := ldap.NewModifyRequest(m.dn, nil)
	for k, v := range m.attrs {
		modify.Replace(k, v)
	}
	return conn, m.assert.AssertResponse(conn.Modify(modify))
}

type ModifyDN struct {
	dn     string
	newRDN string
	assert *AssertResponse
}

func (m ModifyDN) Run(t *testing.T, conn *ldap.Conn) (*ldap.Conn, error) {
	req := ldap.NewModifyDNRequest(m.dn, m.newRDN, true, "")
	return conn, m.assert.AssertResponse(conn.ModifyDN(req))
}

type Assert interface {
	Assert(err error, sr *ldap.SearchResult) error
}

// AssertResponse expects a specific LDAP result code, 0 for success.
type AssertResponse struct {
	expect uint16
}

func (a AssertResponse) AssertResponse(err error) error {
	if a.expect == 0 {
		return err
	}
	if err == nil {
		return fmt.Errorf("expected result code %d, got success", a.expect)
	}
	if !ldap.IsErrorWithCode(err, a.expect) {
		return fmt.Errorf("expected result code %d, got: %w", a.expect, err)
	}
	return nil
}

type AssertCompare struct {
	expectMatch bool
	expectCode  uint16
}

func (a AssertCompare) AssertCompare(matched bool, err error) error {
	if a.expectCode != 0 {
		if err == nil {
			return fmt.Errorf("expected result code %d, got success", a.expectCode)
		}
		if !ldap.IsErrorWithCode(err, a.expectCode) {
			return fmt.Errorf("expected result code %d, got: %w", a.expectCode, err)
		}
		return nil
	}
	if err != nil {
		return err
	}
	if matched != a.expectMatch {
		return fmt.Errorf("expected match=%v, got %v", a.expectMatch, matched)
	}
	return nil
}

// AssertDNs expects exactly the given DNs in the result, in any order.
type AssertDNs struct {
	dns []string
}

func (a AssertDNs) Assert(err error, sr *ldap.SearchResult) error {
	if err != nil {
		return err
	}
	got := make([]string, len(sr.Entries))
	for i, entry := range sr.Entries {
		got[i] = entry.DN
	}
	sort.Strings(got)
	expected := append([]string{}, a.dns...)
	sort.Strings(expected)
	if !reflect.DeepEqual(got, expected) {
		return fmt.Errorf("expected DNs %v, got %v", expected, got)
	}
	return nil
}

// AssertSearchError expects the search itself to fail.
type AssertSearchError struct {
	expect uint16
}

func (a AssertSearchError) Assert(err error, sr *ldap.SearchResult) error {
	if err == nil {
		return fmt.Errorf("expected result code %d, got %d entries", a.expect, len(sr.Entries))
	}
	if !ldap.IsErrorWithCode(err, a.expect) {
		return fmt.Errorf("expected result code %d, got: %w", a.expect, err)
	}
	return nil
}

// AssertAttrs expects a single entry carrying the given attribute
// values, and verifies userPassword is absent.
type AssertAttrs struct {
	dn    string
	attrs map[string][]string
}

func (a AssertAttrs) Assert(err error, sr *ldap.SearchResult) error {
	if err != nil {
		return err
	}
	if len(sr.Entries) != 1 {
		return fmt.Errorf("expected exactly one entry, got %d", len(sr.Entries))
	}
	entry := sr.Entries[0]
	if entry.DN != a.dn {
		return fmt.Errorf("expected DN %s, got %s", a.dn, entry.DN)
	}
	if v := entry.GetAttributeValues("userPassword"); len(v) > 0 {
		return fmt.Errorf("userPassword leaked for %s", entry.DN)
	}
	for k, expected := range a.attrs {
		got := entry.GetAttributeValues(k)
		sort.Strings(got)
		expectedSorted := append([]string{}, expected...)
		sort.Strings(expectedSorted)
		if !reflect.DeepEqual(got, expectedSorted) {
			return fmt.Errorf("attribute %s: expected %v, got %v", k, expectedSorted, got)
		}
	}
	return nil
}
