// Package cmd provides the CLI entry points for maestro.
//
// Commands:
//   - ask: one-shot question with streamed answer
//   - chat: interactive REPL sharing one conversation
//   - version: build information
//
// Logging goes to stderr so stdout stays clean for the streamed answer.
package cmd

import (
	"fmt"
	"os"
)

// Execute is the main entry point for the maestro CLI.
func Execute() error {
	if len(os.Args) < 2 {
		printHelp()
		return nil
	}

	switch os.Args[1] {
	case "ask":
		return runAsk(os.Args[2:])
	case "chat":
		return runChat(os.Args[2:])
	case "version", "--version", "-v":
		printVersionInfo()
		return nil
	case "help", "--help", "-h":
		printHelp()
		return nil
	default:
		return fmt.Errorf("unknown command: %s", os.Args[1])
	}
}

// printHelp displays the help message.
func printHelp() {
	fmt.Println("Maestro - AI assistant with retrieval and remote capabilities")
	fmt.Println()
	fmt.Println("Usage:")
	fmt.Println("  maestro ask [flags] <question>   Ask a one-shot question")
	fmt.Println("  maestro chat [flags]             Start an interactive conversation")
	fmt.Println("  maestro version                  Show version information")
	fmt.Println("  maestro help                     Show this help")
	fmt.Println()
	fmt.Println("Flags (ask and chat):")
	fmt.Println("  -source <id>     Attach a knowledge index for retrieval")
	fmt.Println("  -remote <ids>    Comma-separated remote connection IDs to enable")
	fmt.Println()
	fmt.Println("Environment Variables:")
	fmt.Println("  GEMINI_API_KEY   Gemini API key (gemini/googleai provider)")
	fmt.Println("  OPENAI_API_KEY   OpenAI API key (openai provider)")
	fmt.Println("  DATABASE_URL     Overrides postgres_* configuration values")
	fmt.Println()
	fmt.Println("Configuration file: ~/.maestro/config.yaml")
}
