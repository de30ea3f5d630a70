package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/BurntSushi/toml"

	"github.com/migadu/listserv/db"
	"github.com/migadu/listserv/logger"
	"github.com/migadu/listserv/server/dispatch"
	"github.com/migadu/listserv/server/httpapi"
	"github.com/migadu/listserv/server/ingest"
	"github.com/migadu/listserv/server/moderation"
	"github.com/migadu/listserv/server/outbound"
)

func main() {
	// Initialize with application defaults
	cfg := newDefaultConfig()

	// --- Define Command-Line Flags ---
	// These flags will override values from the config file if set.

	configPath := flag.String("config", "config.toml", "Path to TOML configuration file")

	fLogOutput := flag.String("logoutput", cfg.Logging.Output, "Log output: 'stderr', 'stdout', 'syslog' or a file path (overrides config)")
	fLogLevel := flag.String("loglevel", cfg.Logging.Level, "Log level: debug, info, warn, error (overrides config)")
	fDebug := flag.Bool("debug", cfg.Debug, "Enable debug endpoints (overrides config)")
	fBaseURL := flag.String("baseurl", cfg.PublicBaseURL, "Public base URL for moderation and unsubscribe links (overrides config)")

	// Database flags
	fDbHost := flag.String("dbhost", cfg.Database.Host, "Database host (overrides config)")
	fDbPort := flag.String("dbport", cfg.Database.Port, "Database port (overrides config)")
	fDbUser := flag.String("dbuser", cfg.Database.User, "Database user (overrides config)")
	fDbPassword := flag.String("dbpassword", cfg.Database.Password, "Database password (overrides config)")
	fDbName := flag.String("dbname", cfg.Database.Name, "Database name (overrides config)")
	fDbTLS := flag.Bool("dbtls", cfg.Database.TLSMode, "Enable TLS for database connection (overrides config)")

	// IMAP source flags
	fImapHost := flag.String("imaphost", cfg.IMAP.Host, "IMAP host of the list inbox (overrides config)")
	fImapPort := flag.Int("imapport", cfg.IMAP.Port, "IMAP port (overrides config)")
	fImapUser := flag.String("imapuser", cfg.IMAP.Username, "IMAP username (overrides config)")
	fImapPassword := flag.String("imappassword", cfg.IMAP.Password, "IMAP password (overrides config)")
	fImapTLS := flag.Bool("imaptls", cfg.IMAP.TLS, "Connect to IMAP over TLS (overrides config)")

	// SMTP flags
	fSmtpHost := flag.String("smtphost", cfg.SMTP.Host, "SMTP smarthost as host:port (overrides config)")
	fSmtpUser := flag.String("smtpuser", cfg.SMTP.Username, "SMTP username (overrides config)")
	fSmtpPassword := flag.String("smtppassword", cfg.SMTP.Password, "SMTP password (overrides config)")
	fSmtpFrom := flag.String("smtpfrom", cfg.SMTP.FromAddress, "Sender address for outgoing mail (overrides config)")

	// HTTP API flags
	fHTTPAddr := flag.String("httpaddr", cfg.HTTPAPI.Addr, "HTTP API listen address (overrides config)")
	fAPIKey := flag.String("apikey", cfg.HTTPAPI.APIKey, "API key for the admin API (overrides config)")

	flag.Parse()

	// --- Load Configuration from TOML File ---
	// Values from the TOML file override the application defaults; explicit
	// command-line flags override both.
	if _, err := toml.DecodeFile(*configPath, &cfg); err != nil {
		if os.IsNotExist(err) {
			if isFlagSet("config") {
				log.Fatalf("Error: Specified configuration file '%s' not found: %v", *configPath, err)
			}
			log.Printf("WARNING: Default configuration file '%s' not found. Using application defaults and command-line flags.", *configPath)
		} else {
			log.Fatalf("Error parsing configuration file '%s': %v", *configPath, err)
		}
	} else {
		log.Printf("Loaded configuration from %s", *configPath)
	}

	if isFlagSet("logoutput") {
		cfg.Logging.Output = *fLogOutput
	}
	if isFlagSet("loglevel") {
		cfg.Logging.Level = *fLogLevel
	}
	if isFlagSet("debug") {
		cfg.Debug = *fDebug
	}
	if isFlagSet("baseurl") {
		cfg.PublicBaseURL = *fBaseURL
	}

	if isFlagSet("dbhost") {
		cfg.Database.Host = *fDbHost
	}
	if isFlagSet("dbport") {
		cfg.Database.Port = *fDbPort
	}
	if isFlagSet("dbuser") {
		cfg.Database.User = *fDbUser
	}
	if isFlagSet("dbpassword") {
		cfg.Database.Password = *fDbPassword
	}
	if isFlagSet("dbname") {
		cfg.Database.Name = *fDbName
	}
	if isFlagSet("dbtls") {
		cfg.Database.TLSMode = *fDbTLS
	}

	if isFlagSet("imaphost") {
		cfg.IMAP.Host = *fImapHost
	}
	if isFlagSet("imapport") {
		cfg.IMAP.Port = *fImapPort
	}
	if isFlagSet("imapuser") {
		cfg.IMAP.Username = *fImapUser
	}
	if isFlagSet("imappassword") {
		cfg.IMAP.Password = *fImapPassword
	}
	if isFlagSet("imaptls") {
		cfg.IMAP.TLS = *fImapTLS
	}

	if isFlagSet("smtphost") {
		cfg.SMTP.Host = *fSmtpHost
	}
	if isFlagSet("smtpuser") {
		cfg.SMTP.Username = *fSmtpUser
	}
	if isFlagSet("smtppassword") {
		cfg.SMTP.Password = *fSmtpPassword
	}
	if isFlagSet("smtpfrom") {
		cfg.SMTP.FromAddress = *fSmtpFrom
	}

	if isFlagSet("httpaddr") {
		cfg.HTTPAPI.Addr = *fHTTPAddr
	}
	if isFlagSet("apikey") {
		cfg.HTTPAPI.APIKey = *fAPIKey
	}

	// --- Initialize Logging ---
	logFile, err := logger.Initialize(cfg.Logging)
	if err != nil {
		log.Fatalf("Failed to initialize logging: %v", err)
	}
	if logFile != nil {
		defer logFile.Close()
	}

	// --- Validate required configuration ---
	if cfg.IMAP.Host == "" || cfg.IMAP.Username == "" || cfg.IMAP.Password == "" {
		log.Fatal("Missing IMAP source configuration. Ensure IMAP host, username and password are provided.")
	}
	if cfg.SMTP.Host == "" || cfg.SMTP.FromAddress == "" {
		log.Fatal("Missing SMTP configuration. Ensure SMTP host and from address are provided.")
	}
	if cfg.HTTPAPI.APIKey == "" {
		log.Fatal("Missing HTTP API key. The admin API cannot run without one.")
	}
	cfg.PublicBaseURL = strings.TrimRight(cfg.PublicBaseURL, "/")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Handle SIGINT and SIGTERM for graceful shutdown
	signalChan := make(chan os.Signal, 1)
	signal.Notify(signalChan, os.Interrupt, syscall.SIGTERM)
	go func() {
		sig := <-signalChan
		log.Printf("Received signal: %s, shutting down...", sig)
		cancel()
	}()

	// --- Initialize the database connection ---
	poolConfig, err := cfg.Database.PoolConfig()
	if err != nil {
		log.Fatalf("Invalid database pool configuration: %v", err)
	}
	database, err := db.NewDatabase(ctx, cfg.Database.Host, cfg.Database.Port, cfg.Database.User,
		cfg.Database.Password, cfg.Database.Name, cfg.Database.TLSMode, poolConfig)
	if err != nil {
		log.Fatalf("Failed to connect to the database: %v", err)
	}
	defer database.Close()
	database.StartPoolMetrics(ctx)

	// --- Wire up the pipeline ---
	sender := &outbound.SMTPSender{
		Host:        cfg.SMTP.Host,
		Username:    cfg.SMTP.Username,
		Password:    cfg.SMTP.Password,
		FromName:    cfg.SMTP.FromName,
		FromAddress: cfg.SMTP.FromAddress,
		UseTLS:      cfg.SMTP.TLS,
		UseStartTLS: cfg.SMTP.StartTLS,
		TLSVerify:   cfg.SMTP.TLSVerify,
	}

	dispatcher := dispatch.NewDispatcher(database, sender, cfg.PublicBaseURL)
	moderator := moderation.NewModerator(database, sender, dispatcher, cfg.PublicBaseURL)

	mailbox := &ingest.IMAPMailbox{
		Host:      cfg.IMAP.Host,
		Port:      cfg.IMAP.Port,
		Username:  cfg.IMAP.Username,
		Password:  cfg.IMAP.Password,
		UseTLS:    cfg.IMAP.TLS,
		TLSVerify: cfg.IMAP.TLSVerify,
	}
	worker := ingest.NewWorker(mailbox, database, dispatcher, moderator)
	worker.Start(ctx)
	defer worker.Stop()

	// --- Start the HTTP API ---
	options := httpapi.ServerOptions{
		Addr:         cfg.HTTPAPI.Addr,
		APIKey:       cfg.HTTPAPI.APIKey,
		AllowedHosts: cfg.HTTPAPI.AllowedHosts,
		TLS:          cfg.HTTPAPI.TLS,
		TLSCertFile:  cfg.HTTPAPI.TLSCertFile,
		TLSKeyFile:   cfg.HTTPAPI.TLSKeyFile,
	}
	if cfg.Debug {
		log.Println("WARNING: debug endpoints enabled; do not run like this in production")
		options.Inbox = mailbox
	}

	errChan := make(chan error, 1)
	go httpapi.Start(ctx, database, moderator, options, errChan)

	select {
	case <-ctx.Done():
		log.Println("Shutting down...")
	case err := <-errChan:
		log.Fatalf("Server error: %v", err)
	}
}

// isFlagSet reports whether a flag was explicitly provided on the command line.
func isFlagSet(name string) bool {
	set := false
	flag.Visit(func(f *flag.Flag) {
		if f.Name == name {
			set = true
		}
	})
	return set
}
