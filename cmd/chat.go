package cmd

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/firebase/genkit/go/ai"

	"github.com/koopa0/maestro/internal/app"
	"github.com/koopa0/maestro/internal/config"
)

// runChat starts an interactive conversation. History accumulates across
// turns in memory; each turn still gets its own scope and capability set.
func runChat(args []string) error {
	fs := flag.NewFlagSet("chat", flag.ContinueOnError)
	source := fs.String("source", "", "knowledge index to attach for retrieval")
	remotes := fs.String("remote", "", "comma-separated remote connection IDs to enable")
	if err := fs.Parse(args); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("loading configuration: %w", err)
	}

	a, err := app.Setup(ctx, cfg)
	if err != nil {
		return fmt.Errorf("initializing application: %w", err)
	}
	defer func() {
		if err := a.Close(); err != nil {
			a.Logger.Warn("closing application", "error", err)
		}
	}()

	conv := newConversation(ctx, a, *source, *remotes)

	fmt.Println("Maestro interactive mode. /exit to quit, Ctrl+D also works.")
	scanner := bufio.NewScanner(os.Stdin)
	for {
		fmt.Print("> ")
		if !scanner.Scan() {
			fmt.Println()
			break
		}
		line := strings.TrimSpace(scanner.Text())
		switch {
		case line == "":
			continue
		case line == "/exit" || line == "/quit":
			return nil
		case line == "/clear":
			conv.History = nil
			fmt.Println("history cleared")
			continue
		}

		result, err := a.Orchestrator.Run(ctx, conv, line, printChunk)
		if err != nil {
			if errors.Is(err, context.Canceled) {
				return nil
			}
			fmt.Fprintf(os.Stderr, "error: %v\n", err)
			continue
		}
		printReferences(result)

		conv.History = append(conv.History,
			ai.NewUserMessage(ai.NewTextPart(line)),
			ai.NewModelMessage(ai.NewTextPart(result.FinalText)),
		)
	}
	return scanner.Err()
}
