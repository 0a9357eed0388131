package main

import (
	"context"

	"github.com/xhad/assess/server"
)

func runServe(ctx context.Context, args []string) error {
	var common commonFlags
	var addr, corpus string
	fs := newFlagSet("serve", &common)
	fs.StringVar(&addr, "addr", "", "Listen address (overrides server.addr)")
	fs.StringVar(&corpus, "corpus", "", "Comma-separated links to index at startup")
	fs.Parse(args)

	cfg, err := loadConfig(common)
	if err != nil {
		return err
	}
	if addr != "" {
		cfg.Server.Addr = addr
	}

	a, err := newApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	if err := seedCorpus(ctx, a, corpus); err != nil {
		return err
	}

	p, err := a.Pipeline(ctx)
	if err != nil {
		return err
	}
	reader, err := a.OMR(ctx)
	if err != nil {
		return err
	}

	srv := server.New(server.Config{
		AllowedOrigin:  cfg.Server.AllowedOrigin,
		MaxConcurrent:  cfg.Server.MaxConcurrent,
		RequestTimeout: cfg.Server.RequestTimeout,
	}, a.fetcher, p, reader, a.metrics, a.logger)

	return srv.ListenAndServe(ctx, cfg.Server.Addr)
}
