// Package main provides the knowledge engine binary: an MCP server over
// stdio plus operator commands for migration, reindexing, and session
// analysis.
//
// The serve command is designed to be spawned as a child process by an AI
// client and communicates via stdio using the Model Context Protocol; logs
// go to stderr.
//
// Exit codes: 0 success, 1 generic error, 2 configuration error, 3 storage
// unavailable.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"knowledge-engine/internal/analyzer"
	"knowledge-engine/internal/server"
	"knowledge-engine/internal/storage"
	"knowledge-engine/internal/types"
)

const (
	exitOK           = 0
	exitGenericError = 1
	exitConfigError  = 2
	exitStorageError = 3
)

// exitError carries a process exit code alongside the cause.
type exitError struct {
	code int
	err  error
}

func (e *exitError) Error() string { return e.err.Error() }
func (e *exitError) Unwrap() error { return e.err }

func main() {
	var configPath string

	root := &cobra.Command{
		Use:           "knowledge-engine",
		Short:         "Knowledge persistence and context assembly engine",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&configPath, "config", "", "path to JSON or TOML config file")

	root.AddCommand(serveCmd(&configPath))
	root.AddCommand(migrateCmd(&configPath))
	root.AddCommand(reindexCmd(&configPath))
	root.AddCommand(analyzeSessionCmd(&configPath))

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		var ee *exitError
		if errors.As(err, &ee) {
			os.Exit(ee.code)
		}
		os.Exit(exitGenericError)
	}
	os.Exit(exitOK)
}

func serveCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the MCP tool surface on stdio",
		RunE: func(cmd *cobra.Command, args []string) error {
			eng, err := newEngine(*configPath)
			if err != nil {
				return err
			}
			defer eng.close()

			// The default project exists before the first tool call.
			if _, err := eng.store.GetProjectByName(cmd.Context(), server.DefaultProjectName); err != nil {
				_, err = eng.store.PutProject(cmd.Context(), &types.Project{
					Name:        server.DefaultProjectName,
					DisplayName: "General",
					Type:        types.ProjectGeneral,
					Active:      true,
				})
				if err != nil {
					eng.logger.Warn("failed to ensure default project", zap.Error(err))
				}
			}

			mcpServer := mcp.NewServer(&mcp.Implementation{
				Name:    "knowledge-engine",
				Version: "1.0.0",
			}, nil)
			eng.server.RegisterTools(mcpServer)
			eng.logger.Info("registered tools",
				zap.Strings("tools", []string{
					"start_session", "end_session", "store_knowledge",
					"search_similar_knowledge", "get_contextual_knowledge",
					"get_technical_gotchas", "get_session_context", "record_validation",
				}))

			transport := &mcp.StdioTransport{}
			eng.logger.Info("starting MCP server on stdio")
			if err := mcpServer.Run(context.Background(), transport); err != nil {
				return fmt.Errorf("server error: %w", err)
			}
			return nil
		},
	}
}

func migrateCmd(configPath *string) *cobra.Command {
	var target int
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply schema migrations up to --to VERSION",
		RunE: func(cmd *cobra.Command, args []string) error {
			eng, err := newEngine(*configPath)
			if err != nil {
				return err
			}
			defer eng.close()

			if target == 0 {
				target = storage.LatestSchemaVersion
			}
			if err := eng.store.MigrateTo(cmd.Context(), target); err != nil {
				return &exitError{code: exitStorageError, err: err}
			}
			eng.logger.Info("migration complete", zap.Int("version", target))
			return nil
		},
	}
	cmd.Flags().IntVar(&target, "to", 0, "target schema version (default: latest)")
	return cmd
}

func reindexCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "reindex",
		Short: "Rebuild vector and full-text indexes from stored rows",
		RunE: func(cmd *cobra.Command, args []string) error {
			eng, err := newEngine(*configPath)
			if err != nil {
				return err
			}
			defer eng.close()

			if err := eng.store.Reindex(cmd.Context()); err != nil {
				return &exitError{code: exitStorageError, err: err}
			}
			// Warmed packets reference pre-reindex state.
			eng.warmer.Invalidate()
			eng.logger.Info("reindex complete")
			return nil
		},
	}
}

func analyzeSessionCmd(configPath *string) *cobra.Command {
	var transcriptPath string
	cmd := &cobra.Command{
		Use:   "analyze-session SESSION_ID",
		Short: "Run redirection analysis over a session transcript",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			eng, err := newEngine(*configPath)
			if err != nil {
				return err
			}
			defer eng.close()
			sessionID := args[0]

			var transcript []analyzer.Turn
			if transcriptPath != "" {
				data, err := os.ReadFile(transcriptPath)
				if err != nil {
					return fmt.Errorf("failed to read transcript: %w", err)
				}
				if err := json.Unmarshal(data, &transcript); err != nil {
					return fmt.Errorf("failed to parse transcript: %w", err)
				}
			} else {
				// Without a transcript file, the stored recent user turns
				// still allow a coarse pass.
				sess, err := eng.store.GetSession(cmd.Context(), sessionID)
				if err != nil {
					return err
				}
				for i, turn := range sess.RecentUserTurns {
					transcript = append(transcript,
						analyzer.Turn{Index: 2 * i, Speaker: analyzer.SpeakerAssistant, Text: ""},
						analyzer.Turn{Index: 2*i + 1, Speaker: analyzer.SpeakerUser, Text: turn},
					)
				}
			}

			an := analyzer.New(eng.cfg.Analyzer)
			records := an.Analyze(transcript)
			report := analyzer.BuildReport(sessionID, transcript, records)

			patternID, err := analyzer.Persist(cmd.Context(), eng.store, report, eng.logger)
			if err != nil {
				return err
			}

			out, _ := json.MarshalIndent(report, "", "  ")
			fmt.Println(string(out))
			eng.logger.Info("analysis persisted", zap.String("pattern_id", patternID))
			return nil
		},
	}
	cmd.Flags().StringVar(&transcriptPath, "transcript", "", "path to a JSON transcript file")
	return cmd
}
