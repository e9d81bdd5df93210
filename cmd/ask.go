package cmd

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/google/uuid"

	"github.com/koopa0/maestro/internal/app"
	"github.com/koopa0/maestro/internal/config"
	"github.com/koopa0/maestro/internal/orchestrator"
	"github.com/koopa0/maestro/internal/prompt"
	"github.com/koopa0/maestro/internal/turn"
)

// defaultSystemMessage is used when the prompt directory has no assistant
// template, so the binary works from any working directory.
const defaultSystemMessage = "You are Maestro, an AI assistant that answers questions " +
	"and operates connected capabilities on the user's behalf."

// runAsk executes one turn and prints the streamed answer to stdout.
func runAsk(args []string) error {
	fs := flag.NewFlagSet("ask", flag.ContinueOnError)
	source := fs.String("source", "", "knowledge index to attach for retrieval")
	remotes := fs.String("remote", "", "comma-separated remote connection IDs to enable")
	if err := fs.Parse(args); err != nil {
		return err
	}

	question := strings.TrimSpace(strings.Join(fs.Args(), " "))
	if question == "" {
		return fmt.Errorf("usage: maestro ask [flags] <question>")
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

	result, err := a.Orchestrator.Run(ctx, conv, question, printChunk)
	if err != nil {
		return fmt.Errorf("running turn: %w", err)
	}

	printReferences(result)
	return nil
}

// newConversation builds the per-turn conversation context. By default every
// configured remote connection is enabled; -remote narrows the set.
func newConversation(ctx context.Context, a *app.App, source, remotes string) *turn.ConversationContext {
	connections := a.Remotes.ConnectionIDs()
	if remotes != "" {
		connections = splitIDs(remotes)
	}

	return &turn.ConversationContext{
		SessionID:           uuid.New(),
		Provider:            a.Config.Provider,
		SystemMessage:       systemMessage(ctx, a),
		DataSourceID:        source,
		RemoteConnectionIDs: connections,
	}
}

// systemMessage renders the assistant template, falling back to a built-in
// message when the prompt directory is absent.
func systemMessage(ctx context.Context, a *app.App) string {
	text, err := prompt.New(a.Renderer).AddTemplate("assistant", nil).Compose(ctx)
	if err != nil || strings.TrimSpace(text) == "" {
		return defaultSystemMessage
	}
	return text
}

// printChunk streams deltas to stdout; the final chunk just terminates the line.
func printChunk(c orchestrator.Chunk) error {
	if c.FinalText != "" || c.FinishReason != "" {
		fmt.Println()
		return nil
	}
	fmt.Print(c.TextDelta)
	return nil
}

// printReferences lists the cited sources after the answer.
func printReferences(result *orchestrator.TurnResult) {
	if len(result.Citations) == 0 {
		return
	}
	fmt.Println()
	fmt.Println("Sources:")
	for _, c := range result.Citations {
		fmt.Printf("  [doc:%d] %s (%s)\n", c.Ordinal, c.Title, c.SourceType)
	}
}

func splitIDs(s string) []string {
	parts := strings.Split(s, ",")
	ids := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			ids = append(ids, p)
		}
	}
	return ids
}
