// Command lexkb manages a legal knowledge base from the command line:
// registering sources, running extraction pipelines, backfilling
// embeddings, searching, and exporting coverage reports.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/ledongthuc/pdf"

	"github.com/brunobiangulo/lexkb"
)

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(2)
	}

	// Structured JSON logging.
	level := slog.LevelInfo
	if os.Getenv("LEXKB_DEBUG") != "" {
		level = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: level,
	})))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cmd := os.Args[1]
	args := os.Args[2:]

	var err error
	switch cmd {
	case "register":
		err = cmdRegister(ctx, args)
	case "ingest":
		err = cmdIngest(ctx, args)
	case "run":
		err = cmdRun(ctx, args)
	case "search":
		err = cmdSearch(ctx, args)
	case "embed":
		err = cmdEmbed(ctx, args)
	case "sources":
		err = cmdSources(ctx, args)
	case "status":
		err = cmdStatus(ctx, args)
	case "report":
		err = cmdReport(ctx, args)
	default:
		usage()
		os.Exit(2)
	}
	if err != nil {
		slog.Error("command failed", "command", cmd, "error", err)
		os.Exit(1)
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, `usage: lexkb <command> [flags]

commands:
  register  -file <path> [-name <name>]     register a source document
  ingest                                    run extraction over all pending sources
  run       -source <id>                    run extraction over one source
  search    -q <query> [-table <t>] [-k n]  hybrid search
  embed                                     backfill vector embeddings
  sources                                   list registered sources
  status    -source <id>                    show per-category run state
  report    [-xlsx <path>]                  coverage report (JSON or workbook)

common flags on every command:
  -config <path>   JSON config file
  -db <path>       database path override (or LEXKB_DB_PATH)`)
}

// loadConfig builds the engine config from defaults, an optional config
// file, environment variables, and flags, in that precedence order.
func loadConfig(configPath, dbPath string) (lexkb.Config, error) {
	cfg := lexkb.DefaultConfig()

	if configPath != "" {
		f, err := os.Open(configPath)
		if err != nil {
			return cfg, fmt.Errorf("opening config: %w", err)
		}
		defer f.Close()
		if err := json.NewDecoder(f).Decode(&cfg); err != nil {
			return cfg, fmt.Errorf("parsing config: %w", err)
		}
	}

	if v := os.Getenv("LEXKB_DB_PATH"); v != "" {
		cfg.DBPath = v
	}
	if v := os.Getenv("LEXKB_CHAT_BASE_URL"); v != "" {
		cfg.Chat.BaseURL = v
	}
	if v := os.Getenv("LEXKB_CHAT_API_KEY"); v != "" {
		cfg.Chat.APIKey = v
	}
	if v := os.Getenv("LEXKB_CHAT_MODEL"); v != "" {
		cfg.Chat.Model = v
	}
	if v := os.Getenv("LEXKB_EMBED_BASE_URL"); v != "" {
		cfg.Embedding.BaseURL = v
	}
	if v := os.Getenv("LEXKB_EMBED_API_KEY"); v != "" {
		cfg.Embedding.APIKey = v
	}
	if v := os.Getenv("LEXKB_EMBED_MODEL"); v != "" {
		cfg.Embedding.Model = v
		cfg.Embedding.EmbedModel = v
	}

	if dbPath != "" {
		cfg.DBPath = dbPath
	}
	return cfg, nil
}

func openKB(configPath, dbPath string) (*lexkb.KnowledgeBase, error) {
	cfg, err := loadConfig(configPath, dbPath)
	if err != nil {
		return nil, err
	}
	return lexkb.Open(cfg)
}

func cmdRegister(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("register", flag.ExitOnError)
	configPath := fs.String("config", "", "Path to config file (JSON)")
	dbPath := fs.String("db", "", "Database path override")
	file := fs.String("file", "", "Path to source document (.txt, .md, .pdf)")
	name := fs.String("name", "", "Source name (defaults to file name)")
	fs.Parse(args)

	if *file == "" {
		return fmt.Errorf("register: -file is required")
	}

	content, err := readSourceFile(*file)
	if err != nil {
		return err
	}
	srcName := *name
	if srcName == "" {
		srcName = filepath.Base(*file)
	}

	kb, err := openKB(*configPath, *dbPath)
	if err != nil {
		return err
	}
	defer kb.Close()

	src, err := kb.RegisterSource(ctx, srcName, content)
	if err != nil {
		if errors.Is(err, lexkb.ErrDuplicateContent) {
			fmt.Fprintf(os.Stderr, "already registered: %v\n", err)
			return nil
		}
		return err
	}

	fmt.Printf("registered %s (%d bytes) as %s\n", src.Name, src.Size, src.ID)
	return nil
}

func cmdIngest(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("ingest", flag.ExitOnError)
	configPath := fs.String("config", "", "Path to config file (JSON)")
	dbPath := fs.String("db", "", "Database path override")
	fs.Parse(args)

	kb, err := openKB(*configPath, *dbPath)
	if err != nil {
		return err
	}
	defer kb.Close()

	reports, err := kb.IngestAll(ctx)
	if err != nil {
		return err
	}
	for _, rep := range reports {
		printReport(rep.SourceID, rep.Completed, rep.EntityCount, rep.RelationshipCount, rep.Failures())
	}
	if len(reports) == 0 {
		fmt.Println("nothing to ingest")
	}
	return nil
}

func cmdRun(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("run", flag.ExitOnError)
	configPath := fs.String("config", "", "Path to config file (JSON)")
	dbPath := fs.String("db", "", "Database path override")
	sourceID := fs.String("source", "", "Source ID to extract")
	fs.Parse(args)

	if *sourceID == "" {
		return fmt.Errorf("run: -source is required")
	}

	kb, err := openKB(*configPath, *dbPath)
	if err != nil {
		return err
	}
	defer kb.Close()

	rep, err := kb.RunPipeline(ctx, *sourceID)
	if err != nil {
		return err
	}
	printReport(rep.SourceID, rep.Completed, rep.EntityCount, rep.RelationshipCount, rep.Failures())
	return nil
}

func cmdSearch(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("search", flag.ExitOnError)
	configPath := fs.String("config", "", "Path to config file (JSON)")
	dbPath := fs.String("db", "", "Database path override")
	query := fs.String("q", "", "Search query")
	table := fs.String("table", "", "Restrict to one content table")
	topK := fs.Int("k", 10, "Maximum results")
	asJSON := fs.Bool("json", false, "Emit results as JSON")
	fs.Parse(args)

	if *query == "" {
		return fmt.Errorf("search: -q is required")
	}

	kb, err := openKB(*configPath, *dbPath)
	if err != nil {
		return err
	}
	defer kb.Close()

	var results []lexkbResult
	if *table != "" {
		rs, trace, err := kb.SearchTable(ctx, *query, *table, *topK)
		if err != nil {
			return err
		}
		slog.Debug("search trace",
			"keyword_results", trace.KeywordResults,
			"vector_results", trace.VectorResults,
			"elapsed_ms", trace.ElapsedMs)
		for _, r := range rs {
			results = append(results, lexkbResult{r.Table, r.ID, r.SourceID, r.SectionPath, r.Score, r.Text})
		}
	} else {
		rs, err := kb.Search(ctx, *query, *topK)
		if err != nil {
			return err
		}
		for _, r := range rs {
			results = append(results, lexkbResult{r.Table, r.ID, r.SourceID, r.SectionPath, r.Score, r.Text})
		}
	}

	if *asJSON {
		return json.NewEncoder(os.Stdout).Encode(results)
	}
	for i, r := range results {
		fmt.Printf("%2d. [%.4f] %s / %s\n    %s\n    %s\n",
			i+1, r.Score, r.Table, r.SourceID, r.Section, firstLine(r.Text))
	}
	if len(results) == 0 {
		fmt.Println("no results")
	}
	return nil
}

type lexkbResult struct {
	Table    string  `json:"table"`
	ID       string  `json:"id"`
	SourceID string  `json:"source_id"`
	Section  string  `json:"section_path"`
	Score    float64 `json:"score"`
	Text     string  `json:"text"`
}

func cmdEmbed(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("embed", flag.ExitOnError)
	configPath := fs.String("config", "", "Path to config file (JSON)")
	dbPath := fs.String("db", "", "Database path override")
	fs.Parse(args)

	kb, err := openKB(*configPath, *dbPath)
	if err != nil {
		return err
	}
	defer kb.Close()

	stats, err := kb.SetupEmbeddings(ctx)
	if err != nil {
		return err
	}
	for _, st := range stats {
		fmt.Printf("%s: %d rows, %d embedded, %d failed batches\n",
			st.Table, st.Rows, st.Embedded, st.Failed)
	}
	return nil
}

func cmdSources(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("sources", flag.ExitOnError)
	configPath := fs.String("config", "", "Path to config file (JSON)")
	dbPath := fs.String("db", "", "Database path override")
	fs.Parse(args)

	kb, err := openKB(*configPath, *dbPath)
	if err != nil {
		return err
	}
	defer kb.Close()

	sources, err := kb.ListSources(ctx)
	if err != nil {
		return err
	}
	for _, src := range sources {
		fmt.Printf("%-30s %-14s %8d bytes  entities=%d relationships=%d  %s\n",
			src.ID, src.ExtractionStatus, src.Size, src.EntityCount, src.RelationshipCount, src.Name)
	}
	if len(sources) == 0 {
		fmt.Println("no sources registered")
	}
	return nil
}

func cmdStatus(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("status", flag.ExitOnError)
	configPath := fs.String("config", "", "Path to config file (JSON)")
	dbPath := fs.String("db", "", "Database path override")
	sourceID := fs.String("source", "", "Source ID")
	fs.Parse(args)

	if *sourceID == "" {
		return fmt.Errorf("status: -source is required")
	}

	kb, err := openKB(*configPath, *dbPath)
	if err != nil {
		return err
	}
	defer kb.Close()

	state, err := kb.RunState(ctx, *sourceID)
	if err != nil {
		return err
	}
	if len(state) == 0 {
		fmt.Println("no pipeline runs recorded")
		return nil
	}
	for category, progress := range state {
		line := fmt.Sprintf("%-22s %-12s %d/%d", category, progress.Status, progress.ItemsCompleted, progress.ItemsTotal)
		if progress.ErrorMessage != "" {
			line += "  " + progress.ErrorMessage
		}
		fmt.Println(line)
	}
	return nil
}

func cmdReport(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("report", flag.ExitOnError)
	configPath := fs.String("config", "", "Path to config file (JSON)")
	dbPath := fs.String("db", "", "Database path override")
	xlsxPath := fs.String("xlsx", "", "Write report as an XLSX workbook at this path")
	fs.Parse(args)

	kb, err := openKB(*configPath, *dbPath)
	if err != nil {
		return err
	}
	defer kb.Close()

	if *xlsxPath != "" {
		if err := kb.WriteCoverageXLSX(ctx, *xlsxPath); err != nil {
			return err
		}
		fmt.Printf("wrote %s\n", *xlsxPath)
		return nil
	}

	cov, err := kb.Coverage(ctx)
	if err != nil {
		return err
	}
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(cov)
}

func printReport(sourceID string, completed bool, entities, relationships int, failed []string) {
	status := "completed"
	if !completed {
		status = "degraded"
	}
	line := fmt.Sprintf("%s: %s, entities=%d relationships=%d", sourceID, status, entities, relationships)
	if len(failed) > 0 {
		line += " failed=[" + strings.Join(failed, ", ") + "]"
	}
	fmt.Println(line)
}

// readSourceFile loads a document as plain text. PDFs are converted
// with a text-layer extraction; scanned PDFs without a text layer come
// back empty and are rejected.
func readSourceFile(path string) ([]byte, error) {
	ext := strings.ToLower(filepath.Ext(path))
	if ext != ".pdf" {
		content, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading %s: %w", path, err)
		}
		return content, nil
	}

	f, r, err := pdf.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening PDF %s: %w", path, err)
	}
	defer f.Close()

	var sb strings.Builder
	totalPage := r.NumPage()
	for pageIndex := 1; pageIndex <= totalPage; pageIndex++ {
		p := r.Page(pageIndex)
		if p.V.IsNull() {
			continue
		}
		text, err := p.GetPlainText(nil)
		if err != nil {
			slog.Warn("skipping PDF page with unreadable text layer",
				"path", path, "page", pageIndex, "error", err)
			continue
		}
		sb.WriteString(text)
		sb.WriteString("\n")
	}

	if strings.TrimSpace(sb.String()) == "" {
		return nil, fmt.Errorf("no extractable text in PDF %s", path)
	}
	return []byte(sb.String()), nil
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = s[:i]
	}
	if len(s) > 160 {
		s = s[:160] + "..."
	}
	return s
}
