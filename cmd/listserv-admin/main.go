package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"

	"github.com/BurntSushi/toml"

	"github.com/migadu/listserv/db"
)

// AdminConfig holds minimal configuration needed for admin operations
type AdminConfig struct {
	Database DatabaseConfig `toml:"database"`
}

// DatabaseConfig holds database configuration - copied from main config
type DatabaseConfig struct {
	Host     string `toml:"host"`
	Port     string `toml:"port"`
	User     string `toml:"user"`
	Password string `toml:"password"`
	Name     string `toml:"name"`
	TLSMode  bool   `toml:"tls"`
}

func newDefaultAdminConfig() AdminConfig {
	return AdminConfig{
		Database: DatabaseConfig{
			Host:     "localhost",
			Port:     "5432",
			User:     "postgres",
			Password: "",
			Name:     "listserv",
			TLSMode:  false,
		},
	}
}

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	ctx := context.Background()
	command := os.Args[1]

	switch command {
	case "create-list":
		handleCreateList(ctx)
	case "list-lists":
		handleListLists(ctx)
	case "delete-list":
		handleDeleteList(ctx)
	case "add-member":
		handleAddMember(ctx)
	case "list-members":
		handleListMembers(ctx)
	case "set-member-active":
		handleSetMemberActive(ctx)
	case "list-pending":
		handleListPending(ctx)
	case "help", "--help", "-h":
		printUsage()
	default:
		fmt.Printf("Unknown command: %s\n\n", command)
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Printf(`LISTSERV Admin Tool

Usage:
  listserv-admin <command> [options]

Commands:
  create-list        Create a new mailing list
  list-lists         Show all mailing lists
  delete-list        Delete a mailing list with all its members and held messages
  add-member         Add a member to a list
  list-members       Show the members of a list
  set-member-active  Activate or deactivate a member
  list-pending       Show held messages of a list
  help               Show this help message

Examples:
  listserv-admin create-list --name "Discuss" --address discuss@lists.example.com --mode members_only
  listserv-admin add-member --list 1 --address user@example.com --role member
  listserv-admin set-member-active --member 5 --active=false
  listserv-admin list-pending --list 1

Use 'listserv-admin <command> --help' for more information about a command.
`)
}

// dbFlags registers the shared database override flags on a command FlagSet.
func dbFlags(fs *flag.FlagSet) (host, port, user, password, name *string, tls *bool) {
	host = fs.String("dbhost", "", "Database host (overrides config)")
	port = fs.String("dbport", "", "Database port (overrides config)")
	user = fs.String("dbuser", "", "Database user (overrides config)")
	password = fs.String("dbpassword", "", "Database password (overrides config)")
	name = fs.String("dbname", "", "Database name (overrides config)")
	tls = fs.Bool("dbtls", false, "Enable TLS for database connection (overrides config)")
	return
}

// loadConfigAndConnect loads the admin configuration, applies flag overrides
// and opens the database connection.
func loadConfigAndConnect(ctx context.Context, fs *flag.FlagSet, configPath string, host, port, user, password, name *string, tls *bool) *db.Database {
	cfg := newDefaultAdminConfig()
	if _, err := toml.DecodeFile(configPath, &cfg); err != nil {
		if os.IsNotExist(err) {
			if isFlagSet(fs, "config") {
				log.Fatalf("ERROR: specified configuration file '%s' not found: %v", configPath, err)
			}
		} else {
			log.Fatalf("FATAL: error parsing configuration file '%s': %v", configPath, err)
		}
	}

	if isFlagSet(fs, "dbhost") {
		cfg.Database.Host = *host
	}
	if isFlagSet(fs, "dbport") {
		cfg.Database.Port = *port
	}
	if isFlagSet(fs, "dbuser") {
		cfg.Database.User = *user
	}
	if isFlagSet(fs, "dbpassword") {
		cfg.Database.Password = *password
	}
	if isFlagSet(fs, "dbname") {
		cfg.Database.Name = *name
	}
	if isFlagSet(fs, "dbtls") {
		cfg.Database.TLSMode = *tls
	}

	database, err := db.NewDatabase(ctx, cfg.Database.Host, cfg.Database.Port, cfg.Database.User,
		cfg.Database.Password, cfg.Database.Name, cfg.Database.TLSMode, nil)
	if err != nil {
		log.Fatalf("Failed to connect to the database: %v", err)
	}
	return database
}

// isFlagSet checks if a flag was explicitly set on the given FlagSet.
func isFlagSet(fs *flag.FlagSet, name string) bool {
	set := false
	fs.Visit(func(f *flag.Flag) {
		if f.Name == name {
			set = true
		}
	})
	return set
}
