package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/atomicdeploy/dbf-export/pkg/config"
	"github.com/atomicdeploy/dbf-export/pkg/converter"
	"github.com/atomicdeploy/dbf-export/pkg/datasource"
	"github.com/atomicdeploy/dbf-export/pkg/dbase"
	"github.com/atomicdeploy/dbf-export/pkg/server"
	"github.com/atomicdeploy/dbf-export/pkg/watcher"
)

var (
	// Version information
	Version   = "1.0.0"
	BuildDate = "unknown"

	// Global flags
	outputDir      string
	verbose        bool
	memoFile       string
	snapshotMode   bool
	includeDeleted bool

	// Convert flags
	outputFormat    string
	watchMode       bool
	debounceString  string
	keyField        string
	skipPrefixes    []string
	groupFields     []string
	continueOnError bool
	markInvalid     bool

	// Color definitions
	successColor = color.New(color.FgGreen, color.Bold)
	errorColor   = color.New(color.FgRed, color.Bold)
	infoColor    = color.New(color.FgCyan)
	warningColor = color.New(color.FgYellow)
)

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		errorColor.Fprintf(os.Stderr, "❌ Error: %v\n", err)
		os.Exit(1)
	}

	if err := newRootCmd(cfg).Execute(); err != nil {
		errorColor.Fprintf(os.Stderr, "❌ Error: %v\n", err)
		os.Exit(1)
	}
}

func newRootCmd(cfg config.Config) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "dbf-export",
		Short: "📊 dBASE/FoxPro table converter",
		Long: `
╔═══════════════════════════════════════════════════════════╗
║            🎯 DBF Export - Table Converter                ║
║    Reads dBASE III/IV, FoxPro and Visual FoxPro tables    ║
║          with their .dbt and .fpt memo files              ║
╚═══════════════════════════════════════════════════════════╝

Reads .dbf tables and converts them to JSON or CSV format.
Serves tables over HTTP and streams changes over WebSocket.
Flag defaults can be set with DBF_EXPORT_* variables or a .env file.
`,
		Version: Version,
	}

	// Global flags
	rootCmd.PersistentFlags().StringVarP(&outputDir, "output", "o", cfg.OutputDir, "Output directory for converted files")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable verbose logging")
	rootCmd.PersistentFlags().StringVarP(&memoFile, "memo", "m", "", "Memo file to use instead of the one next to the table")
	rootCmd.PersistentFlags().BoolVar(&snapshotMode, "snapshot", false, "Read the table from a private copy (for tables in use by another program)")
	rootCmd.PersistentFlags().BoolVar(&includeDeleted, "deleted", false, "Include records flagged as deleted")

	// Convert command
	convertCmd := &cobra.Command{
		Use:   "convert [table.dbf]",
		Short: "🔄 Convert a dbf table to JSON or CSV",
		Args:  cobra.ExactArgs(1),
		Run:   runConvert,
	}
	convertCmd.Flags().StringVarP(&outputFormat, "format", "f", cfg.Format, "Output format (json or csv)")
	convertCmd.Flags().BoolVarP(&watchMode, "watch", "w", false, "Watch the table and its memo file for changes and auto-convert")
	convertCmd.Flags().StringVarP(&debounceString, "debounce", "d", cfg.Debounce.String(), "Debounce duration for watch mode (e.g., 0s, 500ms, 1s, 5s)")
	convertCmd.Flags().StringVarP(&keyField, "key", "k", cfg.KeyField, "Write a JSON object keyed by this field instead of an array")
	convertCmd.Flags().StringSliceVar(&skipPrefixes, "skip-prefix", nil, "Leave out fields whose names start with this prefix (repeatable)")
	convertCmd.Flags().StringSliceVar(&groupFields, "group", nil, "Combine numbered fields BASE1..BASEn into an array named BASE (repeatable)")
	convertCmd.Flags().BoolVar(&continueOnError, "continue", false, "Skip records whose fields fail to decode instead of stopping")
	convertCmd.Flags().BoolVar(&markInvalid, "mark-invalid", false, "Write null for fields that fail to decode and keep the record")

	// Info command
	infoCmd := &cobra.Command{
		Use:   "info [table.dbf]",
		Short: "ℹ️  Show header, memo and field information of a dbf table",
		Args:  cobra.ExactArgs(1),
		Run:   runInfo,
	}

	// Dump command
	dumpCmd := &cobra.Command{
		Use:   "dump [table.dbf]",
		Short: "🔎 Print the records of a dbf table",
		Args:  cobra.ExactArgs(1),
		Run:   runDump,
	}
	dumpCmd.Flags().IntP("limit", "n", 0, "Print at most this many records (0 for all)")
	dumpCmd.Flags().Bool("debug", false, "Dump decoded headers and values in full")

	// Serve command
	serveCmd := &cobra.Command{
		Use:   "serve [table.dbf|export.json]",
		Short: "🌐 Start REST API and WebSocket server",
		Args:  cobra.ExactArgs(1),
		Run:   runServe,
	}
	serveCmd.Flags().StringP("addr", "a", cfg.Addr, "Server address (e.g., :8080)")
	serveCmd.Flags().BoolP("watch", "w", true, "Watch the table for changes and broadcast updates")
	serveCmd.Flags().StringP("debounce", "d", cfg.Debounce.String(), "Debounce duration for watch mode (e.g., 0s, 500ms, 1s, 5s)")
	serveCmd.Flags().StringP("key", "k", cfg.KeyField, "Field identifying records in change sets")
	serveCmd.Flags().String("publish", cfg.Publish, "ZeroMQ endpoint to publish change sets on (e.g., tcp://*:7000)")

	rootCmd.AddCommand(convertCmd, infoCmd, dumpCmd, serveCmd, newUpdateCmd(cfg))
	return rootCmd
}

// tableConfig builds the decoder configuration from the global flags.
func tableConfig() dbase.Config {
	cfg := dbase.DefaultConfig()
	cfg.MemoPath = memoFile
	cfg.MemoCacheSize = 256
	if markInvalid {
		cfg.FieldErrors = dbase.MarkInvalid
	}
	return cfg
}

// sourceOptions builds the data source options from the flags.
func sourceOptions() datasource.Options {
	return datasource.Options{
		Table:    tableConfig(),
		Snapshot: snapshotMode,
		Export: converter.Options{
			KeyField:        keyField,
			SkipPrefixes:    skipPrefixes,
			GroupNumbered:   groupFields,
			IncludeDeleted:  includeDeleted,
			ContinueOnError: continueOnError,
			OnSkip: func(err error) {
				warningColor.Printf("⚠️  Skipped record: %v\n", err)
			},
		},
	}
}

// openTable opens a dbf table through a data source, so --snapshot and --memo apply.
func openTable(path string, opts datasource.Options) (*dbase.Table, func(), *datasource.DbfDataSource, error) {
	ds, err := datasource.NewDataSource(path, opts)
	if err != nil {
		return nil, nil, nil, err
	}
	dbf, ok := ds.(*datasource.DbfDataSource)
	if !ok {
		return nil, nil, nil, fmt.Errorf("%s is not a dbf table", filepath.Base(path))
	}
	tbl, done, err := dbf.Open()
	if err != nil {
		return nil, nil, nil, err
	}
	return tbl, done, dbf, nil
}

func runConvert(cmd *cobra.Command, args []string) {
	tableFile := args[0]

	format, err := converter.ParseFormat(outputFormat)
	if err != nil {
		errorColor.Printf("❌ %v\n", err)
		os.Exit(1)
	}

	// Create output directory if it doesn't exist
	if err := os.MkdirAll(outputDir, 0755); err != nil {
		errorColor.Printf("❌ Failed to create output directory: %v\n", err)
		os.Exit(1)
	}

	opts := sourceOptions()

	if !watchMode {
		if err := reportConvert(tableFile, format, opts); err != nil {
			os.Exit(1)
		}
		return
	}

	debounceDuration := parseDebounceDuration(debounceString)

	ds, err := datasource.NewDataSource(tableFile, opts)
	if err != nil {
		errorColor.Printf("❌ %v\n", err)
		os.Exit(1)
	}
	defer ds.Close()
	paths := ds.WatchPaths()
	group := watcher.Group{Table: paths[0]}
	if len(paths) > 1 {
		group.Memo = paths[1]
	}

	infoColor.Printf("👀 Watching table: %s\n", tableFile)
	if group.Memo != "" {
		infoColor.Printf("👀 Watching memo file: %s\n", group.Memo)
	}
	infoColor.Println("📝 Press Ctrl+C to stop watching")

	// Initial conversion
	reportConvert(tableFile, format, opts)

	tw, err := watcher.NewTableWatcher()
	if err != nil {
		errorColor.Printf("❌ Failed to create file watcher: %v\n", err)
		os.Exit(1)
	}
	defer tw.Close()

	if err := tw.Watch(group, func(g watcher.Group) {
		infoColor.Printf("🔄 Table changed: %s\n", filepath.Base(g.Table))
		reportConvert(tableFile, format, opts)
	}, debounceDuration); err != nil {
		errorColor.Printf("❌ Failed to watch table: %v\n", err)
		os.Exit(1)
	}

	tw.Start()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	<-ctx.Done()
	infoColor.Println("👋 Stopped watching")
}

// reportConvert converts one table and prints the outcome.
func reportConvert(tableFile string, format converter.ExportFormat, opts datasource.Options) error {
	infoColor.Printf("🔍 Opening table: %s\n", filepath.Base(tableFile))

	outputFile, stats, err := convertFile(tableFile, outputDir, format, opts)
	if err != nil {
		errorColor.Printf("❌ %v\n", err)
		return err
	}

	infoColor.Printf("📊 Exported %d records", stats.Written)
	if stats.Deleted > 0 {
		infoColor.Printf(", left out %d deleted", stats.Deleted)
	}
	if stats.Skipped > 0 {
		warningColor.Printf(", skipped %d unreadable", stats.Skipped)
	}
	fmt.Println()
	successColor.Printf("✅ Successfully exported to: %s\n", outputFile)
	return nil
}

// convertFile exports a table into dir as <name>.json or <name>.csv.
func convertFile(tableFile, dir string, format converter.ExportFormat, opts datasource.Options) (string, converter.Stats, error) {
	tbl, done, dbf, err := openTable(tableFile, opts)
	if err != nil {
		return "", converter.Stats{}, err
	}
	defer done()

	rows, err := tbl.Rows()
	if err != nil {
		return "", converter.Stats{}, fmt.Errorf("failed to read records: %w", err)
	}

	exp := dbf.Exporter()
	baseName := strings.TrimSuffix(filepath.Base(tableFile), filepath.Ext(tableFile))

	var outputFile string
	var stats converter.Stats
	switch format {
	case converter.FormatCSV:
		outputFile = filepath.Join(dir, baseName+".csv")
		stats, err = exp.ExportToCSV(rows, tbl.Schema(), outputFile)
		if err != nil {
			return "", stats, fmt.Errorf("failed to export to CSV: %w", err)
		}
	default:
		outputFile = filepath.Join(dir, baseName+".json")
		stats, err = exp.ExportToJSON(rows, outputFile)
		if err != nil {
			return "", stats, fmt.Errorf("failed to export to JSON: %w", err)
		}
	}

	return outputFile, stats, nil
}

func runInfo(cmd *cobra.Command, args []string) {
	tableFile := args[0]

	infoColor.Printf("🔍 Reading table: %s\n", filepath.Base(tableFile))

	tbl, done, _, err := openTable(tableFile, sourceOptions())
	if err != nil {
		errorColor.Printf("❌ Failed to open table: %v\n", err)
		os.Exit(1)
	}
	defer done()

	printInfo(tbl, tableFile)
}

func printInfo(tbl *dbase.Table, tableFile string) {
	info := datasource.Describe(tbl, tableFile)

	fmt.Println()
	successColor.Println("📋 Table Information")
	fmt.Println("━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━")
	infoColor.Printf("📁 File: %s\n", info.File)
	infoColor.Printf("🏷️  Version: %s\n", info.Version)
	if info.LastUpdate != "" {
		infoColor.Printf("📅 Last update: %s\n", info.LastUpdate)
	}
	infoColor.Printf("📊 Records: %d\n", info.NumRecords)
	infoColor.Printf("📝 Fields: %d\n", info.NumFields)
	infoColor.Printf("📐 Header length: %d, record length: %d\n", info.HeaderLen, info.RecordLen)
	if info.CodePage != "" {
		infoColor.Printf("🔤 Code page: %s\n", info.CodePage)
	}
	if tbl.Header().Encrypted {
		warningColor.Println("🔒 Table is flagged as encrypted")
	}
	if tbl.Header().Incomplete {
		warningColor.Println("⚠️  Table is flagged as having an incomplete transaction")
	}
	fmt.Println()

	if info.MemoType != dbase.MemoNone.String() {
		successColor.Println("🗒️  Memo File")
		fmt.Println("━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━")
		if mh, ok := tbl.MemoHeader(); ok {
			infoColor.Printf("📁 File: %s (%s)\n", info.MemoFile, info.MemoType)
			infoColor.Printf("📦 Block size: %d, next free block: %d\n", mh.BlockSize, mh.NextFree)
		} else {
			warningColor.Printf("⚠️  Memo file (%s) not found; memo fields will fail to decode\n", info.MemoType)
		}
		fmt.Println()
	}

	successColor.Println("🗂️  Field Definitions")
	fmt.Println("━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━")
	for i, field := range info.Fields {
		fmt.Printf("%2d. %-12s %s %-10s (size: %d", i+1, field.Name, field.Type, field.TypeName, field.Length)
		if field.Decimals > 0 {
			fmt.Printf(", decimals: %d", field.Decimals)
		}
		fmt.Printf(", offset: %d)\n", field.Offset)
	}
	fmt.Println()
}

// parseDebounceDuration parses and validates a debounce duration string
func parseDebounceDuration(durationStr string) time.Duration {
	duration, err := time.ParseDuration(durationStr)
	if err != nil {
		errorColor.Printf("❌ Invalid debounce duration '%s': %v\n", durationStr, err)
		errorColor.Println("💡 Valid examples: 0s, 500ms, 1s, 5s, 1m")
		os.Exit(1)
	}
	return duration
}

func init() {
	// Set up logging
	log.SetFlags(0)
	log.SetOutput(os.Stdout)
}

func runServe(cmd *cobra.Command, args []string) {
	tableFile := args[0]
	addr, _ := cmd.Flags().GetString("addr")
	watchFile, _ := cmd.Flags().GetBool("watch")
	debounceStr, _ := cmd.Flags().GetString("debounce")
	key, _ := cmd.Flags().GetString("key")
	publish, _ := cmd.Flags().GetString("publish")

	opts := sourceOptions()
	opts.Export.KeyField = key

	srv, err := server.NewServer(tableFile, server.Options{Source: opts, Publish: publish})
	if err != nil {
		errorColor.Printf("❌ Failed to create server: %v\n", err)
		os.Exit(1)
	}
	defer srv.Close()

	if watchFile {
		debounceDuration := parseDebounceDuration(debounceStr)

		if err := srv.StartWatching(debounceDuration); err != nil {
			errorColor.Printf("❌ Failed to start file watching: %v\n", err)
			os.Exit(1)
		}
	}

	successColor.Printf("🌐 Server running at http://localhost%s\n", addr)
	infoColor.Println("📝 Press Ctrl+C to stop the server")

	if err := srv.Start(addr); err != nil {
		errorColor.Printf("❌ Server error: %v\n", err)
		os.Exit(1)
	}
}
