package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/fatih/color"
	"github.com/xhad/assess/internal/models"
	"github.com/xhad/assess/pkg/fetcher"
	"github.com/xhad/assess/pkg/pipeline"
)

func runEvaluate(ctx context.Context, args []string) error {
	var common commonFlags
	var link, textFile, topic, corpus string
	var asJSON bool
	fs := newFlagSet("evaluate", &common)
	fs.StringVar(&link, "link", "", "Document link (Google Drive share links are accepted)")
	fs.StringVar(&textFile, "text-file", "", "Read the document text from a local file instead")
	fs.StringVar(&topic, "topic", "", "Topic to generate reference content for")
	fs.StringVar(&corpus, "corpus", "", "Comma-separated links to index before evaluating")
	fs.BoolVar(&asJSON, "json", false, "Print the result as JSON")
	fs.Parse(args)

	if (link == "") == (textFile == "") {
		return errors.New("exactly one of -link or -text-file is required")
	}
	if topic == "" {
		return errors.New("-topic is required")
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

	if err := seedCorpus(ctx, a, corpus); err != nil {
		return err
	}

	var text string
	if textFile != "" {
		raw, err := os.ReadFile(textFile)
		if err != nil {
			return fmt.Errorf("error reading document: %w", err)
		}
		text = fetcher.CleanText(string(raw))
	} else {
		spinner := getSpinner("📄 Fetching document...")
		text, err = a.fetcher.FetchText(ctx, link)
		spinner.Finish()
		fmt.Fprint(os.Stderr, "\r")
		if err != nil {
			return err
		}
	}

	p, err := a.Pipeline(ctx)
	if err != nil {
		return err
	}

	spinner := getSpinner("🤖 Evaluating...")
	result, err := p.RunObserved(ctx, pipeline.Request{DocumentText: text, Topic: topic}, func(state pipeline.State) {
		spinner.Describe(color.CyanString("🤖 %s...", state))
	})
	spinner.Finish()
	fmt.Fprint(os.Stderr, "\r")
	if err != nil {
		return err
	}

	if asJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(result)
	}
	printResult(result)
	return nil
}

// seedCorpus indexes comma-separated links when any are given.
func seedCorpus(ctx context.Context, a *app, corpus string) error {
	var links []string
	for _, l := range strings.Split(corpus, ",") {
		if l = strings.TrimSpace(l); l != "" {
			links = append(links, l)
		}
	}
	if len(links) == 0 {
		return nil
	}
	index, err := a.Index(ctx, false)
	if err != nil {
		return err
	}
	_, err = ingest(ctx, a, index, links)
	return err
}

func printResult(result *models.PipelineResult) {
	label := color.New(color.FgCyan, color.Bold).PrintfFunc()
	e := result.Evaluation

	label("\nTopic: ")
	fmt.Println(result.Topic)
	if result.RetrievalDegraded {
		color.Yellow("Retrieval degraded: generated without reference context")
	} else {
		label("Context snippets: ")
		fmt.Println(len(result.Context))
	}

	label("\nAI-generated content:\n")
	fmt.Println(result.GeneratedText)

	label("\nFeedback\n")
	relevance := color.GreenString(string(e.Relevance))
	switch e.Relevance {
	case models.RelevanceLow:
		relevance = color.RedString(string(e.Relevance))
	case models.RelevanceMedium:
		relevance = color.YellowString(string(e.Relevance))
	}
	fmt.Printf("  relevance:         %s\n", relevance)
	fmt.Printf("  evaluation score:  %d/100\n", e.EvaluationScore)
	fmt.Printf("  plagiarism:        %.2f\n", e.Plagiarism)
	fmt.Printf("  readability score: %.0f\n", e.ReadabilityScore)
	fmt.Printf("  cosine score:      %.2f\n", e.CosineScore)
	fmt.Printf("  jaccard index:     %.2f\n", e.JaccardIndex)
	fmt.Printf("  overall feedback:  %s\n", e.OverallFeedback)
	if e.AIText != "" {
		fmt.Printf("  ai text:           %s\n", e.AIText)
	}
}

func runOMR(ctx context.Context, args []string) error {
	var common commonFlags
	var link string
	var asJSON bool
	fs := newFlagSet("omr", &common)
	fs.StringVar(&link, "link", "", "Answer-sheet image link")
	fs.BoolVar(&asJSON, "json", false, "Print the answers as JSON")
	fs.Parse(args)

	if link == "" {
		return errors.New("-link is required")
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

	reader, err := a.OMR(ctx)
	if err != nil {
		return err
	}

	spinner := getSpinner("🔍 Reading answer sheet...")
	answers, err := reader.Read(ctx, link)
	spinner.Finish()
	fmt.Fprint(os.Stderr, "\r")
	if err != nil {
		return err
	}

	if asJSON {
		return json.NewEncoder(os.Stdout).Encode(answers)
	}
	for _, ans := range answers {
		fmt.Printf("%s  %s\n", color.CyanString("%4s", ans.Question), ans.Answer)
	}
	return nil
}
