package main

import (
	"flag"
	"fmt"
	"os"
	"path/filepath"
)

var (
	fs         = flag.NewFlagSet(os.Args[0], flag.ExitOnError)
	dbHostName = fs.String(
		"h",
		"localhost",
		"DB Hostname",
	)
	dbPort = fs.Int(
		"p",
		5432,
		"DB Port",
	)
	dbName = fs.String(
		"d",
		"cdb",
		"DB Name",
	)
	dbUser = fs.String(
		"u",
		"cdb_admin",
		"DB User",
	)
	dbPassword = fs.String(
		"w",
		"",
		"DB Password",
	)
	dbMaxOpenConns = fs.Int(
		"db-max-open-conns",
		5,
		"DB max open connections",
	)
	dbMaxIdleConns = fs.Int(
		"db-max-idle-conns",
		2,
		"DB max idle connections",
	)
	bindAddress = fs.String(
		"b",
		"127.0.0.1:20389",
		"Bind address",
	)
	logLevel = fs.String(
		"log-level",
		"info",
		"Log level, on of: debug, info, warn, error, fatal",
	)
	pprofServer = fs.String(
		"pprof",
		"",
		"Bind address of pprof server (Don't start the server with default)",
	)
	gomaxprocs = fs.Int(
		"gomaxprocs",
		0,
		"GOMAXPROCS (Use CPU num with default)",
	)
	secretsPath = fs.String(
		"secrets",
		"",
		"Path to the YAML file with the DUA passwords",
	)
	adminDUA = fs.String(
		"admin-dua",
		"admin",
		"Name of the DUA with unrestricted read access",
	)
	fanoutDUA = fs.String(
		"fanout-dua",
		"cloud",
		"Name of the DUA allowed to read the groups branches",
	)
)

func main() {
	fs.Usage = func() {
		_, exe := filepath.Split(os.Args[0])
		fmt.Fprint(os.Stderr, "cdedb-ldap.\n\n")
		fmt.Fprintf(os.Stderr, "Usage:\n\n  %s [options]\n\nOptions:\n\n", exe)
		fs.PrintDefaults()
	}
	fs.Parse(os.Args[1:])

	if len(os.Args) == 1 {
		fs.Usage()
		return
	}

	NewServer(&ServerConfig{
		DBHostName:     *dbHostName,
		DBPort:         *dbPort,
		DBName:         *dbName,
		DBUser:         *dbUser,
		DBPassword:     *dbPassword,
		DBMaxOpenConns: *dbMaxOpenConns,
		DBMaxIdleConns: *dbMaxIdleConns,
		BindAddress:    *bindAddress,
		LogLevel:       *logLevel,
		PProfServer:    *pprofServer,
		GoMaxProcs:     *gomaxprocs,
		SecretsPath:    *secretsPath,
		AdminDUA:       *adminDUA,
		FanoutDUA:      *fanoutDUA,
	}).Start()
}
