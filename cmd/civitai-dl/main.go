package main

import (
	"fmt"
	"os"
)

// Exit codes
const (
	ExitSuccess         = 0
	ExitGeneralError    = 1
	ExitInvalidArgs     = 2
	ExitResolveFailed   = 3
	ExitDownloadFailed  = 4
	ExitIntegrityFailed = 5
	ExitInterrupted     = 6
)

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	if len(args) == 0 {
		printUsage()
		return ExitInvalidArgs
	}

	command := args[0]
	cmdArgs := args[1:]

	switch command {
	case "download":
		return runDownload(cmdArgs)
	case "resolve":
		return runResolve(cmdArgs)
	case "verify":
		return runVerify(cmdArgs)
	case "help", "-h", "--help":
		printUsage()
		return ExitSuccess
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", command)
		printUsage()
		return ExitInvalidArgs
	}
}

func printUsage() {
	fmt.Fprintln(os.Stderr, `Usage: civitai-dl <command> [options]

Commands:
  download  Download model files from Civitai with resume and verification
  resolve   Resolve a model URL or ID to its downloadable file metadata
  verify    Check a local file against its expected SHA256 hash

Run 'civitai-dl <command> -h' for command-specific help.`)
}
