package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/fatih/color"
	"github.com/xhad/assess/internal/models"
	"github.com/xhad/assess/internal/types"
	"github.com/xhad/assess/pkg/processor"
)

func runIngest(ctx context.Context, args []string) error {
	var common commonFlags
	var listPath string
	fs := newFlagSet("ingest", &common)
	fs.StringVar(&listPath, "file", "", "File with one document link per line")
	fs.Parse(args)

	links := fs.Args()
	if listPath != "" {
		more, err := readLinks(listPath)
		if err != nil {
			return err
		}
		links = append(links, more...)
	}
	if len(links) == 0 {
		return fmt.Errorf("no document links given")
	}

	cfg, err := loadConfig(common)
	if err != nil {
		return err
	}
	a, err := newApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	index, err := a.Index(ctx, true)
	if err != nil {
		return err
	}

	color.Blue("\nIngesting %d documents into %s\n", len(links), cfg.Database.TableName)
	chunks, err := ingest(ctx, a, index, links)
	if err != nil {
		return err
	}
	color.Green("\n✓ Stored %d chunks\n", chunks)
	return nil
}

// ingest fetches, chunks, embeds and stores links into index. Links that
// cannot be fetched are reported and skipped.
func ingest(ctx context.Context, a *app, index corpusIndex, links []string) (int, error) {
	embedder, err := a.Embedder(ctx)
	if err != nil {
		return 0, err
	}
	proc, err := newProcessor(a)
	if err != nil {
		return 0, err
	}

	// Fetch
	fetchBar := getProgressBar(len(links), "📄 Fetching documents...")
	docs := make([]models.Document, 0, len(links))
	for _, link := range links {
		doc, err := a.fetcher.FetchDocument(ctx, link)
		fetchBar.Add(1)
		if err != nil {
			if ctx.Err() != nil {
				return 0, ctx.Err()
			}
			color.Red("\n✗ %v", err)
			continue
		}
		docs = append(docs, doc)
	}
	fetchBar.Finish()
	if len(docs) == 0 {
		return 0, fmt.Errorf("no documents could be fetched")
	}

	processed, err := proc.Process(docs)
	if err != nil {
		return 0, fmt.Errorf("failed to process documents: %w", err)
	}

	total := 0
	for _, doc := range processed {
		total += len(doc.Chunks)
	}
	color.Green("\n✓ Processed %d documents into %d chunks\n", len(processed), total)

	// Embed
	embedBar := getProgressBar(total, "🧮 Embedding chunks...")
	startTime := time.Now()
	done := 0
	for i := range processed {
		vectors, err := embedder.EmbedChunks(ctx, processed[i].Chunks)
		if err != nil {
			return 0, fmt.Errorf("failed to embed %s: %w", processed[i].Source, err)
		}
		processed[i].Embedding = vectors
		done += len(vectors)
		embedBar.Add(len(vectors))

		rate := float64(done) / time.Since(startTime).Seconds()
		embedBar.Describe(color.BlueString("🧮 Embedding chunks... (%.1f chunks/sec)", rate))
	}
	embedBar.Finish()

	// Store
	storageBar := getProgressBar(len(processed), "💾 Storing in vector database...")
	batchSize := storeBatchSize(index, a.cfg.Database.BatchSize)
	for i := 0; i < len(processed); i += batchSize {
		end := i + batchSize
		if end > len(processed) {
			end = len(processed)
		}
		batch := processed[i:end]

		if err := index.Store(ctx, batch); err != nil {
			return 0, fmt.Errorf("failed to store batch: %w", err)
		}
		storageBar.Add(len(batch))
	}
	storageBar.Finish()

	a.logger.Info("ingest complete", "documents", len(processed), "chunks", total)
	return total, nil
}

func newProcessor(a *app) (types.Processor, error) {
	proc, err := processor.NewWithConfig(processor.ProcessorConfig{
		ChunkSize:       a.cfg.Processor.ChunkSize,
		ChunkOverlap:    a.cfg.Processor.ChunkOverlap,
		MinChunkLength:  a.cfg.Processor.MinChunkLength,
		Lowercase:       a.cfg.Processor.Lowercase,
		RemoveStopwords: a.cfg.Processor.RemoveStopwords,
		CustomStopwords: a.cfg.Processor.CustomStopwords,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize processor: %w", err)
	}
	return proc, nil
}

// storeBatchSize prefers the batch size the index was opened with.
func storeBatchSize(index corpusIndex, fallback int) int {
	if b, ok := index.(interface{ BatchSize() int }); ok && b.BatchSize() > 0 {
		return b.BatchSize()
	}
	if fallback <= 0 {
		return 100
	}
	return fallback
}

func readLinks(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("error reading link file: %w", err)
	}
	defer f.Close()

	var links []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		links = append(links, line)
	}
	return links, scanner.Err()
}
