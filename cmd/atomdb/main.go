package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	"github.com/fatih/color"
	"github.com/olekukonko/tablewriter"
	"github.com/olekukonko/tablewriter/renderer"
	"github.com/olekukonko/tablewriter/tw"
	"go.uber.org/zap"

	"github.com/atomdb/atomdb/atomdb"
	"github.com/atomdb/atomdb/atomdb/db"
	"github.com/atomdb/atomdb/atomdb/storage"
)

func main() {
	var configPath string
	var dataPath string
	var backend string
	var verbose bool
	var list bool
	var create string
	var roots string
	var demo bool

	flag.StringVar(&configPath, "config", "", "YAML config file")
	flag.StringVar(&dataPath, "data", "", "data directory (overrides config)")
	flag.StringVar(&backend, "backend", "", "storage backend: memory, file, badger (overrides config)")
	flag.BoolVar(&verbose, "verbose", false, "verbose logging")
	flag.BoolVar(&list, "list", false, "list databases")
	flag.StringVar(&create, "create", "", "create a database and exit")
	flag.StringVar(&roots, "roots", "", "list the named roots of a database")
	flag.BoolVar(&demo, "demo", false, "run a small end-to-end demo")
	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: %s [options]\n\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "An embedded transactional object store.\n\n")
		fmt.Fprintf(os.Stderr, "Options:\n")
		flag.PrintDefaults()
		fmt.Fprintf(os.Stderr, "\nExamples:\n")
		fmt.Fprintf(os.Stderr, "  %s -data ./data -backend file -list\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "  %s -data ./data -backend badger -create inventory\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "  %s -data ./data -backend file -roots inventory\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "  %s -demo\n", os.Args[0])
	}
	flag.Parse()

	cfg := storage.DefaultConfig()
	if configPath != "" {
		loaded, err := storage.LoadConfig(configPath)
		if err != nil {
			log.Fatalf("Failed to load config: %v", err)
		}
		cfg = loaded
	}
	if dataPath != "" {
		cfg.Path = dataPath
	}
	if backend != "" {
		cfg.Backend = backend
	}

	logger := zap.NewNop()
	if verbose {
		var err error
		if logger, err = zap.NewDevelopment(); err != nil {
			log.Fatalf("Failed to build logger: %v", err)
		}
	}
	defer logger.Sync()

	store, err := storage.Open(cfg, storage.WithLogger(logger))
	if err != nil {
		log.Fatalf("Failed to open storage: %v", err)
	}
	defer store.Close()

	space := db.NewObjectSpace(store, db.WithLogger(logger))
	ctx := context.Background()

	switch {
	case create != "":
		if _, err := space.NewDatabase(ctx, create); err != nil {
			log.Fatalf("Failed to create database: %v", err)
		}
		color.Green("Created database %q", create)
	case list:
		if err := listDatabases(ctx, space); err != nil {
			log.Fatalf("Failed to list databases: %v", err)
		}
	case roots != "":
		if err := listRoots(ctx, space, roots); err != nil {
			log.Fatalf("Failed to list roots: %v", err)
		}
	case demo:
		if err := runDemo(ctx, space); err != nil {
			log.Fatalf("Demo failed: %v", err)
		}
	default:
		flag.Usage()
		os.Exit(1)
	}
}

func listDatabases(ctx context.Context, space *db.ObjectSpace) error {
	names, err := space.ListDatabases(ctx)
	if err != nil {
		return err
	}
	if len(names) == 0 {
		fmt.Println("No databases.")
		return nil
	}

	output := &strings.Builder{}
	table := tablewriter.NewTable(output,
		tablewriter.WithRenderer(renderer.NewMarkdown()),
		tablewriter.WithHeaderAutoFormat(tw.Off),
	)
	table.Header([]string{"database", "created"})
	for _, name := range names {
		database, err := space.OpenDatabase(ctx, name)
		if err != nil {
			return err
		}
		created := "-"
		if value, err := database.CreatedAt(ctx); err == nil {
			if t, ok := value.(time.Time); ok {
				created = t.Format(time.RFC3339)
			}
		}
		table.Append([]string{name, created})
	}
	table.Render()
	fmt.Print(output.String())
	return nil
}

func listRoots(ctx context.Context, space *db.ObjectSpace, name string) error {
	database, err := space.OpenDatabase(ctx, name)
	if err != nil {
		return err
	}
	tx, err := database.NewTransaction(ctx)
	if err != nil {
		return err
	}
	defer tx.Abort()

	names, err := tx.RootNames(ctx)
	if err != nil {
		return err
	}
	if len(names) == 0 {
		fmt.Printf("Database %q has no named roots.\n", name)
		return nil
	}
	for _, root := range names {
		fmt.Println(root)
	}
	return nil
}

// runDemo exercises the whole stack: create a database, store an object
// graph behind a mutable handle, reopen it in a second transaction, and
// show that updates replaced the snapshot.
func runDemo(ctx context.Context, space *db.ObjectSpace) error {
	database, err := space.NewDatabase(ctx, "demo")
	if err != nil {
		return err
	}

	tx, err := database.NewTransaction(ctx)
	if err != nil {
		return err
	}
	account, err := atomdb.NewDBObject(tx, map[string]atomdb.Value{
		"owner":   "ada",
		"balance": atomdb.Int(100),
		"opened":  time.Now().UTC(),
	})
	if err != nil {
		return err
	}
	handle, err := tx.NewMutable(ctx, account)
	if err != nil {
		return err
	}
	if err := tx.SetRootObject("account", handle); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return err
	}
	color.Green("Committed account for ada, slot %s", handle.HashKey())

	tx2, err := database.NewTransaction(ctx)
	if err != nil {
		return err
	}
	rootValue, err := tx2.GetRootObject(ctx, "account")
	if err != nil {
		return err
	}
	handle2, ok := rootValue.(*atomdb.MutableObject)
	if !ok {
		return fmt.Errorf("root %q is not a mutable handle", "account")
	}
	current, err := handle2.Get(ctx)
	if err != nil {
		return err
	}
	snapshot, ok := current.(*atomdb.DBObject)
	if !ok {
		return fmt.Errorf("slot does not hold an object")
	}
	balance, err := snapshot.Get(ctx, "balance")
	if err != nil {
		return err
	}
	fmt.Printf("Current balance: %v\n", balance)

	updated, err := snapshot.WithAttribute(ctx, "balance", atomdb.Int(150))
	if err != nil {
		return err
	}
	if err := handle2.Set(ctx, updated); err != nil {
		return err
	}
	if err := tx2.Commit(ctx); err != nil {
		return err
	}
	color.Green("Balance updated to 150; previous snapshot is untouched in storage")
	return nil
}
