package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/fatih/color"
	cfgPkg "github.com/xhad/assess/pkg/config"
)

const usage = `Usage: assess <command> [flags]

Commands:
  evaluate   Evaluate a document against AI-generated content for a topic
  ingest     Fetch, chunk, embed and store reference documents
  omr        Read the answers off an answer-sheet image
  serve      Run the HTTP and websocket server
`

func main() {
	if len(os.Args) < 2 {
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var err error
	switch cmd, args := os.Args[1], os.Args[2:]; cmd {
	case "evaluate":
		err = runEvaluate(ctx, args)
	case "ingest":
		err = runIngest(ctx, args)
	case "omr":
		err = runOMR(ctx, args)
	case "serve":
		err = runServe(ctx, args)
	case "help", "-h", "--help":
		fmt.Print(usage)
		return
	default:
		fmt.Fprintf(os.Stderr, "unknown command %q\n\n%s", cmd, usage)
		os.Exit(2)
	}

	if err != nil {
		color.Red("Error: %v", err)
		stop()
		os.Exit(1)
	}
}

// commonFlags are shared by every subcommand.
type commonFlags struct {
	configPath string
	ollamaURL  string
	dbURL      string
	model      string
	logLevel   string
}

func newFlagSet(name string, common *commonFlags) *flag.FlagSet {
	fs := flag.NewFlagSet(name, flag.ExitOnError)
	fs.StringVar(&common.configPath, "config", "", "Path to config file")
	fs.StringVar(&common.ollamaURL, "ollama-url", "", "Ollama server URL")
	fs.StringVar(&common.dbURL, "db-url", "", "PostgreSQL connection string")
	fs.StringVar(&common.model, "model", "", "LLM model to use")
	fs.StringVar(&common.logLevel, "log-level", "", "Log level (debug, info, warn, error)")
	return fs
}

// loadConfig reads the config file, applies flag overrides and validates.
func loadConfig(common commonFlags) (*cfgPkg.Config, error) {
	cfg, err := cfgPkg.LoadConfig(common.configPath)
	if err != nil {
		return nil, err
	}

	// Override config with command line flags if provided
	if common.ollamaURL != "" {
		cfg.LLM.BaseURL = common.ollamaURL
		cfg.Embedder.BaseURL = common.ollamaURL
	}
	if common.dbURL != "" {
		cfg.Database.URL = common.dbURL
	}
	if common.model != "" {
		cfg.LLM.Model = common.model
	}
	if common.logLevel != "" {
		cfg.Logging.Level = common.logLevel
	}

	if errs := cfg.Validate(); len(errs) > 0 {
		for _, e := range errs {
			color.Red("  %s", e.Error())
		}
		return nil, fmt.Errorf("invalid configuration (%d errors)", len(errs))
	}
	return cfg, nil
}
