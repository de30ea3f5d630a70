package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"os"

	"github.com/migadu/listserv/db"
)

func handleCreateList(ctx context.Context) {
	fs := flag.NewFlagSet("create-list", flag.ExitOnError)

	configPath := fs.String("config", "config.toml", "Path to TOML configuration file")
	name := fs.String("name", "", "Display name of the list (required)")
	address := fs.String("address", "", "Contact address of the list (required)")
	mode := fs.String("mode", string(db.ListModeMembersOnly), "List mode: open, members_only or moderated")
	dbHost, dbPort, dbUser, dbPassword, dbName, dbTLS := dbFlags(fs)

	fs.Usage = func() {
		fmt.Printf(`Create a new mailing list

Usage:
  listserv-admin create-list [options]

Options:
  --name string     Display name of the list (required)
  --address string  Contact address mail is sent to (required)
  --mode string     open, members_only or moderated (default: members_only)
  --config string   Path to TOML configuration file (default: config.toml)

Examples:
  listserv-admin create-list --name "Discuss" --address discuss@lists.example.com
  listserv-admin create-list --name "Announce" --address announce@lists.example.com --mode moderated
`)
	}

	if err := fs.Parse(os.Args[2:]); err != nil {
		log.Fatalf("Error parsing flags: %v", err)
	}

	if *name == "" || *address == "" {
		fmt.Printf("Error: --name and --address are required\n\n")
		fs.Usage()
		os.Exit(1)
	}
	if !db.ValidListMode(*mode) {
		fmt.Printf("Error: --mode must be one of: open, members_only, moderated\n\n")
		fs.Usage()
		os.Exit(1)
	}

	database := loadConfigAndConnect(ctx, fs, *configPath, dbHost, dbPort, dbUser, dbPassword, dbName, dbTLS)
	defer database.Close()

	list, err := database.CreateList(ctx, *name, *address, db.ListMode(*mode))
	if err != nil {
		if errors.Is(err, db.ErrDuplicateList) {
			log.Fatalf("A list with address %s already exists", *address)
		}
		log.Fatalf("Failed to create list: %v", err)
	}

	fmt.Printf("List created: id=%d name=%q address=%s mode=%s\n", list.ID, list.Name, list.Address, list.Mode)
}

func handleListLists(ctx context.Context) {
	fs := flag.NewFlagSet("list-lists", flag.ExitOnError)

	configPath := fs.String("config", "config.toml", "Path to TOML configuration file")
	dbHost, dbPort, dbUser, dbPassword, dbName, dbTLS := dbFlags(fs)

	if err := fs.Parse(os.Args[2:]); err != nil {
		log.Fatalf("Error parsing flags: %v", err)
	}

	database := loadConfigAndConnect(ctx, fs, *configPath, dbHost, dbPort, dbUser, dbPassword, dbName, dbTLS)
	defer database.Close()

	lists, err := database.ListLists(ctx)
	if err != nil {
		log.Fatalf("Failed to list lists: %v", err)
	}
	if len(lists) == 0 {
		fmt.Println("No lists found")
		return
	}

	fmt.Printf("%-6s %-30s %-40s %-12s\n", "ID", "NAME", "ADDRESS", "MODE")
	for _, list := range lists {
		fmt.Printf("%-6d %-30s %-40s %-12s\n", list.ID, list.Name, list.Address, list.Mode)
	}
}

func handleDeleteList(ctx context.Context) {
	fs := flag.NewFlagSet("delete-list", flag.ExitOnError)

	configPath := fs.String("config", "config.toml", "Path to TOML configuration file")
	listID := fs.Int64("list", 0, "ID of the list to delete (required)")
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

	if err := database.DeleteList(ctx, *listID); err != nil {
		if errors.Is(err, db.ErrListNotFound) {
			log.Fatalf("List %d not found", *listID)
		}
		log.Fatalf("Failed to delete list: %v", err)
	}

	fmt.Printf("List %d deleted\n", *listID)
}

func handleListPending(ctx context.Context) {
	fs := flag.NewFlagSet("list-pending", flag.ExitOnError)

	configPath := fs.String("config", "config.toml", "Path to TOML configuration file")
	listID := fs.Int64("list", 0, "ID of the list (required)")
	status := fs.String("status", string(db.StatusPending), "Status filter: pending, approved or rejected")
	dbHost, dbPort, dbUser, dbPassword, dbName, dbTLS := dbFlags(fs)

	if err := fs.Parse(os.Args[2:]); err != nil {
		log.Fatalf("Error parsing flags: %v", err)
	}

	if *listID == 0 {
		fmt.Printf("Error: --list is required\n\n")
		fs.Usage()
		os.Exit(1)
	}
	switch db.PendingStatus(*status) {
	case db.StatusPending, db.StatusApproved, db.StatusRejected:
	default:
		fmt.Printf("Error: --status must be one of: pending, approved, rejected\n\n")
		fs.Usage()
		os.Exit(1)
	}

	database := loadConfigAndConnect(ctx, fs, *configPath, dbHost, dbPort, dbUser, dbPassword, dbName, dbTLS)
	defer database.Close()

	messages, err := database.ListPendingMessages(ctx, *listID, db.PendingStatus(*status))
	if err != nil {
		log.Fatalf("Failed to list held messages: %v", err)
	}
	if len(messages) == 0 {
		fmt.Printf("No %s messages for list %d\n", *status, *listID)
		return
	}

	fmt.Printf("%-22s %-30s %-40s %-20s\n", "ID", "FROM", "SUBJECT", "RECEIVED")
	for _, msg := range messages {
		fmt.Printf("%-22s %-30s %-40s %-20s\n", msg.ID, msg.FromAddress, msg.Subject, msg.CreatedAt.Format("2006-01-02 15:04:05"))
	}
}
