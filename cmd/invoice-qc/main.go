package main

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/peterbourgon/ff/v4"
	"github.com/peterbourgon/ff/v4/ffhelp"

	"github.com/zombor/invoice-qc/internal/extraction"
)

//go:embed VERSION.txt
var versionFile string

var version = strings.TrimSpace(versionFile)

// Exit codes
const (
	exitOK         = 0
	exitFailure    = 1
	exitNoInput    = 2
	exitBadInput   = 3
	exitHasInvalid = 4
)

// exitError carries a process exit code out of a command
type exitError struct {
	code int
	err  error
}

func (e *exitError) Error() string {
	if e.err == nil {
		return fmt.Sprintf("exit status %d", e.code)
	}
	return e.err.Error()
}

func (e *exitError) Unwrap() error {
	return e.err
}

func exitWith(code int, err error) error {
	return &exitError{code: code, err: err}
}

func main() {
	// Check for version flag before parsing other flags
	for _, arg := range os.Args[1:] {
		if arg == "--version" || arg == "-version" || arg == "-v" {
			fmt.Println(version)
			os.Exit(0)
		}
	}

	// A missing .env file is fine
	_ = godotenv.Load()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := run(ctx, os.Args[1:], os.Stdout, os.Stderr)
	stop()
	os.Exit(code)
}

// extractorConfig holds the root flags shared by every command
type extractorConfig struct {
	kind        *string
	geminiKey   *string
	geminiModel *string
	ollamaURL   *string
	ollamaModel *string
}

func (c extractorConfig) open() (extraction.Extractor, error) {
	switch *c.kind {
	case "heuristic":
		slog.Info("Initializing heuristic extractor...")
		return extraction.NewHeuristic(), nil
	case "gemini":
		// Get Gemini API key from flag or environment
		apiKey := *c.geminiKey
		if apiKey == "" {
			apiKey = os.Getenv("GEMINI_API_KEY")
		}
		if apiKey == "" {
			return nil, errors.New("gemini API key is required: set --gemini-key or GEMINI_API_KEY")
		}
		slog.Info("Initializing Gemini extractor...", "model", *c.geminiModel)
		return extraction.NewGemini(apiKey, *c.geminiModel)
	case "ollama":
		slog.Info("Initializing Ollama extractor...", "url", *c.ollamaURL, "model", *c.ollamaModel)
		return extraction.NewOllama(*c.ollamaURL, *c.ollamaModel)
	case "none":
		return extraction.Noop{}, nil
	}
	return nil, fmt.Errorf("invalid extractor type %q, valid: heuristic, gemini, ollama or none", *c.kind)
}

// run parses args, runs the selected command and returns the exit code
func run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	rootFlags := ff.NewFlagSet("invoice-qc")
	cfg := extractorConfig{
		kind:        rootFlags.StringLong("extractor", "heuristic", "Extractor type: 'heuristic', 'gemini', 'ollama' or 'none'"),
		geminiKey:   rootFlags.StringLong("gemini-key", "", "Google Gemini API key (or set GEMINI_API_KEY env var)"),
		geminiModel: rootFlags.StringLong("gemini-model", "gemini-2.5-pro", "Google Gemini model name"),
		ollamaURL:   rootFlags.StringLong("ollama-url", "http://localhost:11434", "Ollama API base URL"),
		ollamaModel: rootFlags.StringLong("ollama-model", "llava", "Ollama model name (e.g., llava, llava-phi3, qwen2-vl)"),
	}
	showVersion := rootFlags.BoolLong("version", "Show version information")

	root := &ff.Command{
		Name:      "invoice-qc",
		Usage:     "invoice-qc [FLAGS] <SUBCOMMAND> ...",
		ShortHelp: "extract and validate invoices",
		Flags:     rootFlags,
		Exec: func(ctx context.Context, args []string) error {
			if *showVersion {
				fmt.Fprintln(stdout, version)
				return nil
			}
			return ff.ErrHelp
		},
	}

	validateFlags := ff.NewFlagSet("validate").SetParent(rootFlags)
	var (
		validateInput  = validateFlags.StringLong("input", "output.json", "JSON file holding a list of invoices")
		validateReport = validateFlags.StringLong("report", "report.json", "Report output path")
		validateFormat = validateFlags.StringLong("format", "", "Report format: json, yaml or xlsx (default: from the report file extension)")
		validateDB     = validateFlags.StringLong("db", "", "Also keep the report in this database (optional)")
	)
	root.Subcommands = append(root.Subcommands, &ff.Command{
		Name:      "validate",
		Usage:     "invoice-qc validate [FLAGS]",
		ShortHelp: "validate extracted JSON",
		Flags:     validateFlags,
		Exec: func(ctx context.Context, args []string) error {
			return validateFile(stdout, *validateInput, *validateReport, *validateFormat, *validateDB)
		},
	})

	extractFlags := ff.NewFlagSet("extract").SetParent(rootFlags)
	var (
		extractDir    = extractFlags.StringLong("pdf-dir", "samplespdf", "Directory of invoice PDFs")
		extractOutput = extractFlags.StringLong("output", "output.json", "Output JSON path")
	)
	root.Subcommands = append(root.Subcommands, &ff.Command{
		Name:      "extract",
		Usage:     "invoice-qc extract [FLAGS]",
		ShortHelp: "run the PDF extractor",
		Flags:     extractFlags,
		Exec: func(ctx context.Context, args []string) error {
			if err := extractFolder(ctx, stdout, cfg, *extractDir, *extractOutput); err != nil {
				return exitWith(exitFailure, err)
			}
			return nil
		},
	})

	fullFlags := ff.NewFlagSet("full-run").SetParent(rootFlags)
	var (
		fullDir    = fullFlags.StringLong("pdf-dir", "samplespdf", "Directory of invoice PDFs")
		fullOutput = fullFlags.StringLong("output-json", "output.json", "Extracted JSON path")
		fullReport = fullFlags.StringLong("report", "report.json", "Report output path")
		fullFormat = fullFlags.StringLong("format", "", "Report format: json, yaml or xlsx (default: from the report file extension)")
		fullDB     = fullFlags.StringLong("db", "", "Also keep the report in this database (optional)")
	)
	root.Subcommands = append(root.Subcommands, &ff.Command{
		Name:      "full-run",
		Usage:     "invoice-qc full-run [FLAGS]",
		ShortHelp: "extract then validate",
		Flags:     fullFlags,
		Exec: func(ctx context.Context, args []string) error {
			if err := extractFolder(ctx, stdout, cfg, *fullDir, *fullOutput); err != nil {
				fmt.Fprintln(stdout, "Extractor step failed.")
				return exitWith(exitNoInput, err)
			}
			return validateFile(stdout, *fullOutput, *fullReport, *fullFormat, *fullDB)
		},
	})

	serveFlags := ff.NewFlagSet("serve").SetParent(rootFlags)
	var (
		servePort    = serveFlags.IntLong("port", 8080, "HTTP server port")
		serveDB      = serveFlags.StringLong("db", "invoice-qc.db", "Database file path")
		serveStorage = serveFlags.StringLong("storage", "./documents", "Storage directory path")
		authUser     = serveFlags.StringLong("auth-user", "", "Basic auth username (optional)")
		authPass     = serveFlags.StringLong("auth-pass", "", "Basic auth password (optional)")
	)
	root.Subcommands = append(root.Subcommands, &ff.Command{
		Name:      "serve",
		Usage:     "invoice-qc serve [FLAGS]",
		ShortHelp: "run the HTTP API",
		Flags:     serveFlags,
		Exec: func(ctx context.Context, args []string) error {
			return serve(ctx, cfg, serveOptions{
				port:        *servePort,
				dbPath:      *serveDB,
				storagePath: *serveStorage,
				authUser:    *authUser,
				authPass:    *authPass,
			})
		},
	})

	err := root.ParseAndRun(ctx, args, ff.WithEnvVarPrefix("INVOICE_QC"))
	if err == nil {
		return exitOK
	}

	selected := root.GetSelected()
	if selected == nil {
		selected = root
	}

	if errors.Is(err, ff.ErrHelp) {
		fmt.Fprintf(stderr, "%s\n", ffhelp.Command(selected))
		return exitOK
	}

	var ee *exitError
	if errors.As(err, &ee) {
		if ee.err != nil {
			slog.Error("Command failed", "error", ee.err)
		}
		return ee.code
	}

	fmt.Fprintf(stderr, "%s\n", ffhelp.Command(selected))
	fmt.Fprintf(stderr, "error: %v\n", err)
	return exitFailure
}
