package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"github.com/lfelipegg/civitai-model-downloader-sub000/internal/catalog"
	"github.com/lfelipegg/civitai-model-downloader-sub000/internal/config"
	dlhttp "github.com/lfelipegg/civitai-model-downloader-sub000/internal/http"
	"github.com/lfelipegg/civitai-model-downloader-sub000/internal/progress"
)

func runResolve(args []string) int {
	fs := flag.NewFlagSet("resolve", flag.ExitOnError)

	configPath := fs.String("config", "", "Path to YAML config file")
	apiURL := fs.String("api-url", "", "Catalog API base URL (default: production API)")
	apiKey := fs.String("api-key", "", "API key for authenticated requests")

	fs.Usage = func() {
		fmt.Fprintln(os.Stderr, `Usage: civitai-dl resolve [options] <url-or-id> [<url-or-id>...]

Resolve model URLs or IDs to their downloadable file metadata without
downloading anything.

Options:`)
		fs.PrintDefaults()
	}

	if err := fs.Parse(args); err != nil {
		return ExitInvalidArgs
	}

	inputs := fs.Args()
	if len(inputs) == 0 {
		fmt.Fprintln(os.Stderr, "Error: at least one model URL or ID is required")
		fs.Usage()
		return ExitInvalidArgs
	}

	cfg, code := buildConfig(*configPath, func(override *config.Config) error {
		override.APIKey = *apiKey
		return nil
	})
	if code != ExitSuccess {
		return code
	}

	httpOpts := dlhttp.DefaultOptions()
	httpOpts.APIKey = cfg.APIKey
	resolver := catalog.NewClient(dlhttp.NewClient(httpOpts), *apiURL)

	ctx := context.Background()
	failed := false
	for _, input := range inputs {
		res, err := resolver.Resolve(ctx, input)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %s: %v\n", input, err)
			failed = true
			continue
		}

		fmt.Printf("%s\n", input)
		fmt.Printf("  model:    %s\n", res.ModelName)
		fmt.Printf("  version:  %s\n", res.VersionName)
		fmt.Printf("  file:     %s\n", res.Filename)
		fmt.Printf("  size:     %s\n", progress.FormatBytes(res.Size))
		if res.SHA256 != "" {
			fmt.Printf("  sha256:   %s\n", res.SHA256)
		}
		fmt.Printf("  url:      %s\n", res.URL)
	}

	if failed {
		return ExitResolveFailed
	}
	return ExitSuccess
}
