// shunt-records inspects and maintains persisted sync records.
//
// It reads the same environment as the server (RECORD_STORE, DATABASE_URL,
// S3_*, DELTA_URL...), so it operates on the server's records.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/timkendrick/shunt/internal/config"
	"github.com/timkendrick/shunt/internal/logging"
	"github.com/timkendrick/shunt/internal/record"
	"github.com/timkendrick/shunt/internal/syncer"
	"github.com/timkendrick/shunt/pkg/client"
	"github.com/timkendrick/shunt/pkg/models"
	"github.com/timkendrick/shunt/pkg/tree"
)

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(2)
	}

	args := os.Args[2:]
	switch os.Args[1] {
	case "list":
		cmdList(args)
	case "show":
		cmdShow(args)
	case "json":
		cmdJSON(args)
	case "sync":
		cmdSync(args)
	case "clear":
		cmdClear(args)
	case "help", "-h", "--help":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", os.Args[1])
		printUsage()
		os.Exit(2)
	}
}

func printUsage() {
	fmt.Fprintln(os.Stderr, `Usage: shunt-records <command> [args]

Commands:
  list                 List stored app trees
  show <user/app>      Print a record summary and its tree
  json <user/app>      Print a record as JSON
  sync [-force] <user/app>
                       Pull pending deltas into a record
  clear <user/app>     Delete a record so the next sync starts over`)
}

func fatal(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "Error: "+format+"\n", args...)
	os.Exit(1)
}

func loadConfig() *config.Config {
	cfg, err := config.Load()
	if err != nil {
		fatal("%v", err)
	}
	if cfg.RecordStore == "memory" {
		fmt.Fprintln(os.Stderr, "Warning: RECORD_STORE=memory, records do not outlive this process")
	}
	if err := logging.Init(logging.Config{Level: "warn", Format: "console"}); err != nil {
		fatal("logging init: %v", err)
	}
	return cfg
}

func openStore(ctx context.Context, cfg *config.Config) record.Store {
	store, err := record.Open(ctx, cfg.RecordConfig())
	if err != nil {
		fatal("open record store: %v", err)
	}
	return store
}

// keyArg parses the single user/app argument of a subcommand.
func keyArg(fs *flag.FlagSet) models.AppKey {
	if fs.NArg() != 1 {
		fatal("%s takes exactly one user/app argument", fs.Name())
	}
	key, err := models.ParseAppKey(fs.Arg(0))
	if err != nil {
		fatal("%v", err)
	}
	return key
}

func getRecord(ctx context.Context, store record.Store, key models.AppKey) *models.SyncRecord {
	rec, err := store.Get(ctx, key)
	if err != nil {
		fatal("read %s: %v", key, err)
	}
	if rec == nil {
		fatal("no record for %s", key)
	}
	return rec
}

func cmdList(args []string) {
	fs := flag.NewFlagSet("list", flag.ExitOnError)
	fs.Parse(args)

	ctx := context.Background()
	cfg := loadConfig()
	store := openStore(ctx, cfg)
	defer store.Close()

	keys, err := store.List(ctx)
	if err != nil {
		fatal("list: %v", err)
	}
	if len(keys) == 0 {
		fmt.Println("No records.")
		return
	}

	fmt.Printf("%-32s  %8s  %-25s  %s\n", "APP", "NODES", "UPDATED", "CURSOR")
	for _, key := range keys {
		rec, err := store.Get(ctx, key)
		if err != nil || rec == nil {
			fmt.Printf("%-32s  %8s  %-25s  %v\n", key, "?", "?", err)
			continue
		}
		fmt.Printf("%-32s  %8d  %-25s  %s\n", key, tree.CountNodes(rec.Root),
			rec.UpdatedAt.Format(time.RFC3339), rec.Cursor)
	}
}

func cmdShow(args []string) {
	fs := flag.NewFlagSet("show", flag.ExitOnError)
	depth := fs.Int("depth", 0, "Maximum depth to print (0 = unlimited)")
	fs.Parse(args)
	key := keyArg(fs)

	ctx := context.Background()
	cfg := loadConfig()
	store := openStore(ctx, cfg)
	defer store.Close()

	rec := getRecord(ctx, store, key)
	age := time.Since(rec.UpdatedAt).Round(time.Second)
	fresh := "stale"
	if rec.Fresh(time.Now(), cfg.CacheTTL) {
		fresh = "fresh"
	}

	fmt.Printf("App:      %s\n", key)
	fmt.Printf("Cursor:   %s\n", rec.Cursor)
	fmt.Printf("Updated:  %s (%s ago, %s)\n", rec.UpdatedAt.Format(time.RFC3339), age, fresh)
	fmt.Printf("Nodes:    %d\n\n", tree.CountNodes(rec.Root))
	printTree(rec.Root, 0, *depth)
}

func printTree(node *models.FileNode, level, maxDepth int) {
	if node == nil || (maxDepth > 0 && level >= maxDepth) {
		return
	}
	name := node.Path
	if level > 0 {
		name = node.Name
	}
	if node.IsDir {
		fmt.Printf("%*s%s/\n", level*2, "", name)
	} else {
		fmt.Printf("%*s%s  (%d bytes)\n", level*2, "", name, node.Size)
	}
	for _, child := range node.Children {
		printTree(child, level+1, maxDepth)
	}
}

func cmdJSON(args []string) {
	fs := flag.NewFlagSet("json", flag.ExitOnError)
	fs.Parse(args)
	key := keyArg(fs)

	ctx := context.Background()
	store := openStore(ctx, loadConfig())
	defer store.Close()

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(getRecord(ctx, store, key)); err != nil {
		fatal("encode: %v", err)
	}
}

func cmdSync(args []string) {
	fs := flag.NewFlagSet("sync", flag.ExitOnError)
	force := fs.Bool("force", true, "Pull even if the record is still fresh")
	timeout := fs.Duration("timeout", 5*time.Minute, "Give up after this long")
	fs.Parse(args)
	key := keyArg(fs)

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	cfg := loadConfig()
	if cfg.Source != config.SourceRemote {
		fatal("sync needs SOURCE=%s", config.SourceRemote)
	}
	store := openStore(ctx, cfg)
	defer store.Close()

	s, err := syncer.New(syncer.Config{
		Fetcher: client.New(client.Config{
			BaseURL:        cfg.DeltaURL,
			Token:          cfg.DeltaToken,
			Timeout:        cfg.DeltaTimeout,
			CallsPerMinute: cfg.DeltaCallsPerMinute,
		}),
		Store:          store,
		TTL:            cfg.CacheTTL,
		MaxPages:       cfg.DeltaMaxPages,
		RefreshTimeout: *timeout,
	})
	if err != nil {
		fatal("%v", err)
	}

	sync := s.Sync
	if *force {
		sync = s.Refresh
	}
	res, err := sync(ctx, key, cfg.SitePrefix(key.User, key.App))
	if err != nil {
		fatal("sync %s: %v", key, err)
	}

	switch {
	case res.CacheHit:
		fmt.Printf("%s is fresh, nothing to do.\n", key)
	default:
		fmt.Printf("Synced %s: %d page(s), %d nodes, cursor %s\n",
			key, res.Pages, tree.CountNodes(res.Record.Root), res.Record.Cursor)
	}
}

func cmdClear(args []string) {
	fs := flag.NewFlagSet("clear", flag.ExitOnError)
	fs.Parse(args)
	key := keyArg(fs)

	ctx := context.Background()
	store := openStore(ctx, loadConfig())
	defer store.Close()

	if err := store.Delete(ctx, key); err != nil {
		fatal("delete %s: %v", key, err)
	}
	fmt.Printf("Cleared %s.\n", key)
}
