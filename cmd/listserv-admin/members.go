package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"os"

	"github.com/google/uuid"

	"github.com/migadu/listserv/db"
)

func handleAddMember(ctx context.Context) {
	fs := flag.NewFlagSet("add-member", flag.ExitOnError)

	configPath := fs.String("config", "config.toml", "Path to TOML configuration file")
	listID := fs.Int64("list", 0, "ID of the list (required)")
	address := fs.String("address", "", "Email address of the member (required)")
	name := fs.String("name", "", "Display name of the member")
	role := fs.String("role", string(db.RoleMember), "Member role: admin or member")
	inactive := fs.Bool("inactive", false, "Create the member deactivated")
	dbHost, dbPort, dbUser, dbPassword, dbName, dbTLS := dbFlags(fs)

	fs.Usage = func() {
		fmt.Printf(`Add a member to a list

Usage:
  listserv-admin add-member [options]

Options:
  --list int        ID of the list (required)
  --address string  Email address of the member (required)
  --name string     Display name of the member
  --role string     admin or member (default: member)
  --inactive        Create the member deactivated
  --config string   Path to TOML configuration file (default: config.toml)

Examples:
  listserv-admin add-member --list 1 --address user@example.com
  listserv-admin add-member --list 1 --address boss@example.com --role admin
`)
	}

	if err := fs.Parse(os.Args[2:]); err != nil {
		log.Fatalf("Error parsing flags: %v", err)
	}

	if *listID == 0 || *address == "" {
		fmt.Printf("Error: --list and --address are required\n\n")
		fs.Usage()
		os.Exit(1)
	}
	if !db.ValidMemberRole(*role) {
		fmt.Printf("Error: --role must be one of: admin, member\n\n")
		fs.Usage()
		os.Exit(1)
	}

	database := loadConfigAndConnect(ctx, fs, *configPath, dbHost, dbPort, dbUser, dbPassword, dbName, dbTLS)
	defer database.Close()

	member, err := database.AddMember(ctx, *listID, *address, *name, db.MemberRole(*role), !*inactive, uuid.NewString())
	if err != nil {
		switch {
		case errors.Is(err, db.ErrListNotFound):
			log.Fatalf("List %d not found", *listID)
		case errors.Is(err, db.ErrDuplicateMember):
			log.Fatalf("%s is already a member of list %d", *address, *listID)
		default:
			log.Fatalf("Failed to add member: %v", err)
		}
	}

	fmt.Printf("Member added: id=%d address=%s role=%s active=%t\n", member.ID, member.Address, member.Role, member.Active)
}

func handleListMembers(ctx context.Context) {
	fs := flag.NewFlagSet("list-members", flag.ExitOnError)

	configPath := fs.String("config", "config.toml", "Path to TOML configuration file")
	listID := fs.Int64("list", 0, "ID of the list (required)")
	dbHost, dbPort, dbUser, dbPassword, dbName, dbTLS := dbFlags(fs)

	if err := fs.Parse(os.Args[2:]); err != nil {
		log.Fatalf("Error parsing flags: %v", err)
	}

	if *listID == 0 {
		fmt.Printf("Error: --list is required\n\n")
		fs.Usage()
		os.Exit(1)
	}

	database := loadConfigAndConnect(ctx, fs, *configPath, dbHost, dbPort, dbUser, dbPassword, dbName, dbTLS)
	defer database.Close()

	members, err := database.ListMembers(ctx, *listID)
	if err != nil {
		log.Fatalf("Failed to list members: %v", err)
	}
	if len(members) == 0 {
		fmt.Printf("No members in list %d\n", *listID)
		return
	}

	fmt.Printf("%-6s %-40s %-25s %-8s %-8s\n", "ID", "ADDRESS", "NAME", "ROLE", "ACTIVE")
	for _, member := range members {
		fmt.Printf("%-6d %-40s %-25s %-8s %-8t\n", member.ID, member.Address, member.Name, member.Role, member.Active)
	}
}

func handleSetMemberActive(ctx context.Context) {
	fs := flag.NewFlagSet("set-member-active", flag.ExitOnError)

	configPath := fs.String("config", "config.toml", "Path to TOML configuration file")
	memberID := fs.Int64("member", 0, "ID of the member (required)")
	active := fs.Bool("active", true, "Desired state: true activates, false deactivates")
	dbHost, dbPort, dbUser, dbPassword, dbName, dbTLS := dbFlags(fs)

	if err := fs.Parse(os.Args[2:]); err != nil {
		log.Fatalf("Error parsing flags: %v", err)
	}

	if *memberID == 0 {
		fmt.Printf("Error: --member is required\n\n")
		fs.Usage()
		os.Exit(1)
	}

	database := loadConfigAndConnect(ctx, fs, *configPath, dbHost, dbPort, dbUser, dbPassword, dbName, dbTLS)
	defer database.Close()

	if err := database.SetMemberActive(ctx, *memberID, *active); err != nil {
		if errors.Is(err, db.ErrMemberNotFound) {
			log.Fatalf("Member %d not found", *memberID)
		}
		log.Fatalf("Failed to update member: %v", err)
	}

	if *active {
		fmt.Printf("Member %d activated\n", *memberID)
	} else {
		fmt.Printf("Member %d deactivated\n", *memberID)
	}
}
