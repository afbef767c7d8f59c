package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	"go.uber.org/zap"

	"medbase/internal/config"
	"medbase/internal/fetch"
	"medbase/internal/logger"
	"medbase/internal/medbase"
	"medbase/internal/store"
	"medbase/internal/tabular"
)

func usage() {
	fmt.Fprintln(os.Stderr, `Usage: medbase <command> [flags]

Commands:
  ingest         Ingest a batch spreadsheet (local path or http(s) URL)
  export         Export a flattened wide table
  export-all     Export a grouped multi-sheet dump
  schema-export  Write the structure description workbook for manual curation
  schema-import  Read the curated structure description workbook back
  report         Print database status`)
	os.Exit(2)
}

func main() {
	if len(os.Args) < 2 {
		usage()
	}

	cfg := config.Load()
	zl, err := logger.New(cfg.Log.Level, cfg.Log.Format, "medbase")
	if err != nil {
		log.Fatalf("failed to build logger: %v", err)
	}
	defer zl.Sync()

	ctx := context.Background()

	switch os.Args[1] {
	case "ingest":
		fs := flag.NewFlagSet("ingest", flag.ExitOnError)
		path := fs.String("path", "", "Batch file path or http(s) URL")
		pk := fs.String("pk", "", "Primary key column name in the batch")
		noRegister := fs.Bool("no-register", false, "Skip parsing after ingestion")
		fs.Parse(os.Args[2:])
		if *path == "" {
			log.Fatal("-path is required")
		}

		db, st := openDB(ctx, cfg, zl)
		if _, err := db.Ingest(ctx, *path, *pk, !*noRegister); err != nil {
			log.Fatalf("ingest failed: %v", err)
		}
		saveDB(ctx, db, st)

	case "export":
		fs := flag.NewFlagSet("export", flag.ExitOnError)
		out := fs.String("out", "export.xlsx", "Output workbook path")
		groups := fs.String("groups", "root", "Comma-separated group names")
		noMask := fs.Bool("no-mask", false, "Disable anonymization masking")
		internalKey := fs.Bool("internal-key", false, "Include internal key column")
		fs.Parse(os.Args[2:])

		db, _ := openDB(ctx, cfg, zl)
		_, err := db.Export(*out, "*", splitGroups(*groups), 0, !*noMask, *internalKey)
		if err != nil {
			log.Fatalf("export failed: %v", err)
		}

	case "export-all":
		fs := flag.NewFlagSet("export-all", flag.ExitOnError)
		out := fs.String("out", "export_all.xlsx", "Output workbook path")
		groups := fs.String("groups", "*", "Comma-separated leaf group names, or *")
		noMask := fs.Bool("no-mask", false, "Disable anonymization masking")
		plain := fs.Bool("plain", false, "Disable the default column/sheet renames")
		fs.Parse(os.Args[2:])

		var groupList []string
		if *groups != "*" {
			groupList = splitGroups(*groups)
		}
		colRename, groupRename := medbase.DefaultColumnRenames, medbase.DefaultGroupRenames
		if *plain {
			colRename, groupRename = nil, nil
		}

		db, _ := openDB(ctx, cfg, zl)
		if err := db.ExportAll(*out, groupList, !*noMask, colRename, groupRename); err != nil {
			log.Fatalf("export-all failed: %v", err)
		}

	case "schema-export":
		db, _ := openDB(ctx, cfg, zl)
		if err := db.ExportStructureFile(); err != nil {
			log.Fatalf("schema export failed: %v", err)
		}

	case "schema-import":
		db, st := openDB(ctx, cfg, zl)
		if err := db.ImportStructureFile(); err != nil {
			log.Fatalf("schema import failed: %v", err)
		}
		saveDB(ctx, db, st)

	case "report":
		db, _ := openDB(ctx, cfg, zl)
		if err := db.Report(os.Stdout); err != nil {
			log.Fatalf("report failed: %v", err)
		}

	default:
		usage()
	}
}

// openDB 按配置打开或新建数据库
func openDB(ctx context.Context, cfg *config.Config, zl *zap.Logger) (*medbase.MedBase, medbase.StateStore) {
	backend := tabular.NewExcel()
	st := buildStore(cfg, zl)

	var db *medbase.MedBase
	var err error
	if stateExists(ctx, st, cfg.DBName) {
		db, err = medbase.Load(ctx, st, cfg.DBName, cfg.Root, backend, zl)
	} else {
		db, err = medbase.New(cfg.Root, cfg.DBName, backend, zl)
	}
	if err != nil {
		log.Fatalf("failed to open database: %v", err)
	}

	db.SetFetcher(fetch.NewClient(
		time.Duration(cfg.Fetch.TimeoutSeconds)*time.Second,
		cfg.Fetch.RetryCount, zl))
	return db, st
}

func buildStore(cfg *config.Config, zl *zap.Logger) medbase.StateStore {
	switch cfg.Store.Backend {
	case "postgres":
		st, err := store.NewPostgresStore(cfg.Database.GetDSN(), zl)
		if err != nil {
			log.Fatalf("failed to open postgres store: %v", err)
		}
		return st
	default:
		return store.NewFileStore(cfg.Root, zl)
	}
}

func stateExists(ctx context.Context, st medbase.StateStore, name string) bool {
	_, err := st.Load(ctx, name)
	return err == nil
}

func saveDB(ctx context.Context, db *medbase.MedBase, st medbase.StateStore) {
	if err := db.Save(ctx, st, true); err != nil {
		log.Fatalf("failed to save database: %v", err)
	}
}

func splitGroups(s string) []string {
	var out []string
	for _, g := range strings.Split(s, ",") {
		if g = strings.TrimSpace(g); g != "" {
			out = append(out, g)
		}
	}
	return out
}
