package main

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/lfelipegg/civitai-model-downloader-sub000/internal/catalog"
	"github.com/lfelipegg/civitai-model-downloader-sub000/internal/config"
	dlhttp "github.com/lfelipegg/civitai-model-downloader-sub000/internal/http"
)

func runVerify(args []string) int {
	fs := flag.NewFlagSet("verify", flag.ExitOnError)

	configPath := fs.String("config", "", "Path to YAML config file")
	apiURL := fs.String("api-url", "", "Catalog API base URL (default: production API)")
	apiKey := fs.String("api-key", "", "API key for authenticated requests")
	file := fs.String("file", "", "Local file to verify (required)")
	expected := fs.String("sha256", "", "Expected SHA256 hash")

	fs.Usage = func() {
		fmt.Fprintln(os.Stderr, `Usage: civitai-dl verify -file <path> [-sha256 <hex> | <url-or-id>]

Verify a local file against its expected SHA256 hash. The hash can be
given directly with -sha256, or looked up from the catalog by passing
a model URL or ID.

Options:`)
		fs.PrintDefaults()
	}

	if err := fs.Parse(args); err != nil {
		return ExitInvalidArgs
	}

	if *file == "" {
		fmt.Fprintln(os.Stderr, "Error: -file is required")
		fs.Usage()
		return ExitInvalidArgs
	}

	want := *expected
	if want == "" {
		inputs := fs.Args()
		if len(inputs) != 1 {
			fmt.Fprintln(os.Stderr, "Error: provide -sha256 or exactly one model URL or ID")
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

		res, err := resolver.Resolve(context.Background(), inputs[0])
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			return ExitResolveFailed
		}
		if res.SHA256 == "" {
			fmt.Fprintf(os.Stderr, "Error: no SHA256 hash published for %s\n", inputs[0])
			return ExitResolveFailed
		}
		want = res.SHA256
	}

	got, err := hashFile(*file)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return ExitGeneralError
	}

	if !strings.EqualFold(got, want) {
		fmt.Fprintf(os.Stderr, "[civitai-dl] Hash mismatch for %s\n  expected: %s\n  actual:   %s\n",
			*file, want, got)
		return ExitIntegrityFailed
	}

	fmt.Fprintf(os.Stderr, "[civitai-dl] Verified: %s\n", *file)
	return ExitSuccess
}

func hashFile(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", fmt.Errorf("hash %s: %w", path, err)
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}
