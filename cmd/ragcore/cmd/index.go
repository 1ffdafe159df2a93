package cmd

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/attractor-desk/ragcore/internal/embed"
	"github.com/attractor-desk/ragcore/internal/index"
	"github.com/attractor-desk/ragcore/internal/retrieve"
	"github.com/attractor-desk/ragcore/internal/service"
	"github.com/attractor-desk/ragcore/internal/store"
)

// openService builds the composed core for CLI use. The CLI wires the
// deterministic static embedder; real deployments inject a remote
// embedder through the library API.
func openService() (*service.Service, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	return service.New(service.Options{
		Config:   cfg,
		Embedder: embed.NewCached(embed.NewStatic(0), 0),
	})
}

func newIndexCmd() *cobra.Command {
	var workspaceID string
	var sessionID string
	var sourceName string
	var embeddings bool

	cmd := &cobra.Command{
		Use:   "index [path...]",
		Short: "Index Markdown or text files into the local store",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, err := openService()
			if err != nil {
				return err
			}
			defer svc.Close()

			cfg, err := loadConfig()
			if err != nil {
				return err
			}

			for _, path := range args {
				data, err := os.ReadFile(path)
				if err != nil {
					return fmt.Errorf("read %s: %w", path, err)
				}
				name := sourceName
				if name == "" {
					name = filepath.Base(path)
				}

				model := ""
				if embeddings {
					model = embed.NewStatic(0).ModelName()
				}
				results, err := svc.Index(cmd.Context(), index.Request{
					WorkspaceID:       workspaceOrGlobal(workspaceID),
					SessionID:         sessionID,
					ArtifactEntryID:   path,
					SourceType:        sourceTypeFor(path),
					SourceName:        name,
					SourcePath:        path,
					Content:           string(data),
					ChunkSizeChars:    cfg.Chunking.SizeChars,
					ChunkOverlapChars: cfg.Chunking.OverlapChars,
					EmbeddingModel:    model,
					EmbeddingsEnabled: embeddings,
				})
				if err != nil {
					return err
				}
				result := <-results
				if !result.Success {
					fmt.Fprintf(cmd.OutOrStdout(), "✗ %s: %s\n", path, result.ErrorMessage)
					continue
				}
				status := fmt.Sprintf("%d chunks", result.ChunkCount)
				if result.Skipped {
					status = "unchanged, skipped"
				}
				fmt.Fprintf(cmd.OutOrStdout(), "✓ %s (%s)\n", path, status)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&workspaceID, "workspace", "", "Workspace id (default: global pool)")
	cmd.Flags().StringVar(&sessionID, "session", "", "Attach the document to a session")
	cmd.Flags().StringVar(&sourceName, "name", "", "Override the source display name")
	cmd.Flags().BoolVar(&embeddings, "embeddings", false, "Generate embeddings (static embedder)")
	return cmd
}

func newSearchCmd() *cobra.Command {
	var workspaceID string
	var sessionID string
	var scope string
	var limit int

	cmd := &cobra.Command{
		Use:   "search <query>",
		Short: "Run hybrid retrieval and print ranked passages",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, err := openService()
			if err != nil {
				return err
			}
			defer svc.Close()

			settings := retrieve.DefaultSettings()
			settings.Scope = store.Scope(scope)
			if limit > 0 {
				settings.MaxContextChunks = limit
			}

			result := svc.Retrieve(cmd.Context(), retrieve.Request{
				Query:       strings.Join(args, " "),
				Settings:    settings,
				WorkspaceID: workspaceOrGlobal(workspaceID),
				SessionID:   sessionID,
			})

			out := cmd.OutOrStdout()
			if !result.Grounded {
				fmt.Fprintln(out, "No results.")
				return nil
			}
			for i, citation := range result.Citations {
				header := citation.SourceName
				if citation.SectionTitle != "" {
					header += " | " + citation.SectionTitle
				}
				fmt.Fprintf(out, "[%d] %s (chunk %d)\n", i+1, header, citation.ChunkIndex)
			}
			fmt.Fprintln(out)
			fmt.Fprintln(out, result.Context)
			return nil
		},
	}

	cmd.Flags().StringVar(&workspaceID, "workspace", "", "Workspace id (default: global pool)")
	cmd.Flags().StringVar(&sessionID, "session", "", "Session id for session scope")
	cmd.Flags().StringVar(&scope, "scope", "global", "Scope: session, workspace, or global")
	cmd.Flags().IntVar(&limit, "limit", 0, "Max context chunks")
	return cmd
}

func workspaceOrGlobal(workspaceID string) string {
	if workspaceID == "" {
		return store.GlobalWorkspaceID
	}
	return workspaceID
}

func sourceTypeFor(path string) store.SourceType {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".md", ".markdown":
		return store.SourceTypeMarkdown
	case ".pdf":
		return store.SourceTypePDF
	default:
		return store.SourceTypeText
	}
}
