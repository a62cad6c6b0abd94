package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"runtime"
	"strings"
	"syscall"

	"net/http"
	_ "net/http/pprof"

	"github.com/comail/colog"
	_ "github.com/lib/pq"
	ldap "github.com/openstandia/ldapserver"
)

var schemaMap = InitSchemaMap()

type ServerConfig struct {
	DBHostName     string
	DBPort         int
	DBName         string
	DBUser         string
	DBPassword     string
	DBMaxOpenConns int
	DBMaxIdleConns int
	BindAddress    string
	LogLevel       string
	PProfServer    string
	GoMaxProcs     int
	SecretsPath    string
	AdminDUA       string
	FanoutDUA      string
}

type Server struct {
	config   *ServerConfig
	internal *ldap.Server
	repo     *SQLRepository
	tree     *EntryTree
	policy   *AccessPolicy
}

func NewServer(c *ServerConfig) *Server {
	return &Server{
		config: c,
	}
}

func (s *Server) Start() {
	// Init logging
	cl := colog.NewCoLog(os.Stdout, "worker ", log.LstdFlags)

	level := strings.ToUpper(s.config.LogLevel)
	if level == "ERROR" {
		cl.SetMinLevel(colog.LError)
		colog.SetMinLevel(colog.LError)
	} else if level == "WARN" {
		cl.SetMinLevel(colog.LWarning)
		colog.SetMinLevel(colog.LWarning)
	} else if level == "INFO" {
		cl.SetMinLevel(colog.LInfo)
		colog.SetMinLevel(colog.LInfo)
	} else if level == "DEBUG" {
		cl.SetMinLevel(colog.LDebug)
		colog.SetMinLevel(colog.LDebug)
	}
	cl.SetDefaultLevel(colog.LDebug)
	colog.SetDefaultLevel(colog.LDebug)
	cl.SetFormatter(&colog.StdFormatter{
		Colors: true,
		Flag:   log.Ldate | log.Ltime | log.Lshortfile,
	})
	colog.SetFormatter(&colog.StdFormatter{
		Colors: true,
		Flag:   log.Ldate | log.Ltime | log.Lshortfile,
	})
	colog.Register()

	if _, ok := ldap.Logger.(*log.Logger); ok {
		ldap.Logger = cl.NewLogger()
	}

	// Launch pprof
	if s.config.PProfServer != "" {
		go func() {
			log.Println(http.ListenAndServe(s.config.PProfServer, nil))
		}()
	}

	// Init GOMAXPROCS
	if s.config.GoMaxProcs > 0 {
		log.Printf("info: Setup GOMAXPROCS: %d. NumCPU: %d\n", s.config.GoMaxProcs, runtime.NumCPU())
		runtime.GOMAXPROCS(s.config.GoMaxProcs)
	} else {
		log.Printf("info: Setup GOMAXPROCS with NumCPU: %d\n", runtime.NumCPU())
		runtime.GOMAXPROCS(runtime.NumCPU())
	}

	// Init DB
	repo, err := NewRepository(s.config)
	if err != nil {
		log.Fatalf("alert: Failed to connect to the database: %+v", err)
	}
	s.repo = repo

	// Reconcile the DUA roster from the secrets file. The only write
	// the process ever performs, done once before listening.
	duaPasswords, err := LoadSecrets(s.config.SecretsPath)
	if err != nil {
		log.Fatalf("alert: Failed to load secrets: %+v", err)
	}
	if err := repo.ReconcileDUAs(context.Background(), duaPasswords); err != nil {
		log.Fatalf("alert: Failed to reconcile DUAs: %+v", err)
	}

	// Init access policy
	s.policy, err = NewAccessPolicy(schemaMap, s.config.AdminDUA, s.config.FanoutDUA)
	if err != nil {
		log.Fatalf("alert: Invalid access policy config: %+v", err)
	}

	// Init entry tree
	s.tree, err = NewEntryTree(schemaMap, repo, s.policy)
	if err != nil {
		log.Fatalf("alert: Failed to build entry tree: %+v", err)
	}

	//Create a new LDAP Server
	server := ldap.NewServer()
	s.internal = server

	//Create routes bindings
	routes := ldap.NewRouteMux()
	routes.NotFound(handleNotFound)
	routes.Abandon(handleAbandon)
	routes.Bind(NewHandler(s, handleBind))
	routes.Compare(NewHandler(s, handleCompare))
	routes.Add(handleUnwilling)
	routes.Delete(handleUnwilling)
	routes.Modify(handleUnwilling)
	routes.ModifyDN(handleUnwilling)
	routes.Extended(handleExtended).Label("Ext - Generic")

	routes.Search(NewHandler(s, handleSearchDSE)).
		BaseDn("").
		Scope(ldap.SearchRequestScopeBaseObject).
		Filter("(objectclass=*)").
		Label("Search - ROOT DSE")

	routes.Search(NewHandler(s, handleSearchSubschema)).
		BaseDn(subschemaDNStr).
		Scope(ldap.SearchRequestScopeBaseObject).
		Filter("(objectclass=*)").
		Label("Search - Subschema")

	routes.Search(NewHandler(s, handleSearch)).Label("Search - Generic")

	//Attach routes to server
	server.Handle(routes)

	log.Printf("info: Starting cdedb-ldap on %s", s.config.BindAddress)

	// listen and serve
	go server.ListenAndServe(s.config.BindAddress)

	// When CTRL+C, SIGINT and SIGTERM signal occurs
	// Then stop server gracefully
	ch := make(chan os.Signal, 1)
	signal.Notify(ch, syscall.SIGINT, syscall.SIGTERM)
	<-ch
	close(ch)

	server.Stop()
}

func (s *Server) Stop() {
	s.internal.Stop()
}

func NewHandler(s *Server, handler func(s *Server, w ldap.ResponseWriter, r *ldap.Message)) func(w ldap.ResponseWriter, r *ldap.Message) {
	return func(w ldap.ResponseWriter, r *ldap.Message) {
		handler(s, w, r)
	}
}

func handleNotFound(w ldap.ResponseWriter, r *ldap.Message) {
	res := ldap.NewResponse(ldap.LDAPResultUnwillingToPerform)
	res.SetDiagnosticMessage("Operation not implemented by server")
	w.Write(res)
}

func handleAbandon(w ldap.ResponseWriter, m *ldap.Message) {
	var req = m.GetAbandonRequest()
	// retrieve the request to abandon, and send a abort signal to it
	if requestToAbandon, ok := m.Client.GetMessageByID(int(req)); ok {
		requestToAbandon.Abandon()
		log.Printf("info: Abandon signal sent to request processor [messageID=%d]", int(req))
	}
}

// The directory is immutable through LDAP. Every mutating operation
// and every extended operation answers unwillingToPerform, regardless
// of who is bound.
func handleUnwilling(w ldap.ResponseWriter, m *ldap.Message) {
	log.Printf("info: Reject write operation. opType: %d", m.ProtocolOpType())

	switch m.ProtocolOpType() {
	case ldap.ApplicationAddRequest:
		res := ldap.NewAddResponse(ldap.LDAPResultUnwillingToPerform)
		res.SetDiagnosticMessage("this directory is read-only")
		w.Write(res)
	case ldap.ApplicationDelRequest:
		res := ldap.NewDeleteResponse(ldap.LDAPResultUnwillingToPerform)
		res.SetDiagnosticMessage("this directory is read-only")
		w.Write(res)
	case ldap.ApplicationModifyRequest:
		res := ldap.NewModifyResponse(ldap.LDAPResultUnwillingToPerform)
		res.SetDiagnosticMessage("this directory is read-only")
		w.Write(res)
	case ldap.ApplicationModifyDNRequest:
		res := ldap.NewModifyDNResponse(ldap.LDAPResultUnwillingToPerform)
		res.SetDiagnosticMessage("this directory is read-only")
		w.Write(res)
	default:
		res := ldap.NewResponse(ldap.LDAPResultUnwillingToPerform)
		res.SetDiagnosticMessage("this directory is read-only")
		w.Write(res)
	}
}

func handleExtended(w ldap.ResponseWriter, m *ldap.Message) {
	r := m.GetExtendedRequest()
	log.Printf("info: Reject extended request. name: %s", r.RequestName())
	res := ldap.NewExtendedResponse(ldap.LDAPResultUnwillingToPerform)
	res.SetDiagnosticMessage("this directory is read-only")
	w.Write(res)
}
