// NeuroClima - terminal chat client for the document-grounded QA service
package main

import (
	"bufio"
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/joho/godotenv"

	"github.com/kravishan/neuroclimabot-docker-sub001/internal/api"
	"github.com/kravishan/neuroclimabot-docker-sub001/internal/config"
	"github.com/kravishan/neuroclimabot-docker-sub001/internal/session"
	"github.com/kravishan/neuroclimabot-docker-sub001/internal/transcript"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelWarn,
	}))
	slog.SetDefault(logger)

	if err := godotenv.Load(); err != nil {
		slog.Info("No .env file found, using environment variables")
	}

	cfg, err := config.Load()
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}

	client := api.NewClient(cfg.APIBaseURL, cfg.RequestTimeout)

	var recorder session.Recorder
	if cfg.Transcript.Enabled {
		store, err := transcript.NewSQLite(cfg.Transcript.DBPath)
		if err != nil {
			slog.Error("Failed to initialize transcript store", "error", err)
			os.Exit(1)
		}
		defer func() {
			if closeErr := store.Close(); closeErr != nil {
				slog.Error("Failed to close transcript store", "error", closeErr)
			}
		}()
		recorder = store
	}

	manager := session.NewManager(client, recorder, session.Config{
		Thresholds: session.Thresholds{
			Warning:  cfg.WarningThreshold,
			Critical: cfg.CriticalThreshold,
		},
		ReconnectAttempts: cfg.ReconnectAttempts,
		ReconnectDelay:    cfg.ReconnectDelay,
		DebounceWindow:    cfg.DebounceWindow,
	})
	defer manager.Close()

	guard := session.NewUnloadGuard(manager, client)
	guard.Install()

	unsubStatus := manager.OnStatusUpdate(func(st session.CountdownStatus) {
		switch {
		case st.IsCritical:
			fmt.Fprintf(os.Stderr, "\n[!!] session expires in %dm%02ds\n", st.Minutes, st.Seconds)
		case st.IsWarning:
			fmt.Fprintf(os.Stderr, "\n[!] session expires in %dm%02ds\n", st.Minutes, st.Seconds)
		}
	})
	defer unsubStatus()

	unsubChunks := manager.OnStreamingChunk(func(chunk string) {
		fmt.Print(chunk)
	})
	defer unsubChunks()

	unsubExpired := manager.OnSessionExpired(func() {
		fmt.Fprintln(os.Stderr, "\nsession expired, ask a new question to start over")
	})
	defer unsubExpired()

	ctx := context.Background()
	fmt.Println("NeuroClima chat. Ask a question to start; /end closes the session; Ctrl-D quits.")

	scanner := bufio.NewScanner(os.Stdin)
	for {
		fmt.Print("> ")
		if !scanner.Scan() {
			break
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if line == "/end" {
			manager.EndSession(ctx)
			fmt.Println("session ended")
			continue
		}

		manager.OnUserActivity()

		var result *api.ConversationResult
		var convErr error
		if manager.HasActiveSession() {
			result, convErr = manager.ContinueConversation(ctx, line, cfg.Language, cfg.Difficulty)
		} else {
			result, convErr = manager.StartConversation(ctx, line, cfg.Language, cfg.Difficulty)
		}
		if convErr != nil {
			fmt.Fprintf(os.Stderr, "error: %v\n", convErr)
			continue
		}

		// Streamed chunks were already printed; finish the answer block.
		fmt.Println()
		if result.Response.Title != "" {
			fmt.Printf("-- %s --\n", result.Response.Title)
		}
		for _, src := range result.Sources {
			fmt.Printf("  source: %s (%s)\n", src.Title, src.URL)
		}
	}

	if err := scanner.Err(); err != nil {
		slog.Error("Input error", "error", err)
	}

	manager.EndSession(ctx)
	guard.Trigger()
}
