// Command importer loads an exported workbook into the configured record
// store, one sheet per ledger table.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"sort"
	"strings"
	"syscall"

	"github.com/joho/godotenv"

	"nexuserp/backend/internal/config"
	"nexuserp/backend/internal/importer"
	"nexuserp/backend/internal/logger"
	"nexuserp/backend/internal/store/backend"
)

func main() {
	file := flag.String("file", "", "path to the .xlsx workbook")
	tables := flag.String("tables", "", "comma separated tables to import (default: all recognised sheets)")
	flag.Parse()

	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "invalid configuration: %v\n", err)
		os.Exit(1)
	}
	logg := logger.New(logger.Options{
		ServiceName: "nexuserp-importer",
		Level:       logger.ParseLevel(cfg.LogLevel),
		Format:      cfg.LogFormat,
		WarnStack:   cfg.LogWarnStack,
	})

	if strings.TrimSpace(*file) == "" {
		flag.Usage()
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logg, *file, splitList(*tables)); err != nil {
		logg.Error(ctx, "import failed", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg config.Config, logg *logger.Logger, file string, tables []string) error {
	opened, err := backend.Open(ctx, cfg, logg, false)
	if err != nil {
		return err
	}
	defer opened.Close()

	result, err := importer.Import(ctx, file, opened.Store, importer.Options{Tables: tables, Logger: logg})
	if err != nil {
		return err
	}

	names := make([]string, 0, len(result.Rows))
	for name := range result.Rows {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		fmt.Printf("%-16s %d rows\n", name, result.Rows[name])
	}
	for _, sheet := range result.SkippedSheets {
		fmt.Printf("skipped sheet %q\n", sheet)
	}
	return nil
}

func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
