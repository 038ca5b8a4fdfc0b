package main

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/knoguchi/hybridkb/internal/auth"
	"github.com/knoguchi/hybridkb/internal/models"
)

func newCreateIndexCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "create-index",
		Short: "Create the configured index",
		RunE: func(cmd *cobra.Command, args []string) error {
			kb, store, err := buildKnowledgeBase(cmd.Context(), a.cfg, a.logger)
			if err != nil {
				return err
			}
			defer store.Close()
			return kb.CreateIndex(cmd.Context())
		},
	}
}

func newUpsertCmd(a *app) *cobra.Command {
	var (
		file      string
		namespace string
	)

	cmd := &cobra.Command{
		Use:   "upsert",
		Short: "Chunk, encode and store documents from a JSON or JSONL file",
		RunE: func(cmd *cobra.Command, args []string) error {
			var r io.Reader = cmd.InOrStdin()
			if file != "" && file != "-" {
				f, err := os.Open(file)
				if err != nil {
					return err
				}
				defer f.Close()
				r = f
			}

			docs, err := parseDocuments(r)
			if err != nil {
				return err
			}

			kb, store, err := buildKnowledgeBase(cmd.Context(), a.cfg, a.logger)
			if err != nil {
				return err
			}
			defer store.Close()

			n, err := kb.Upsert(cmd.Context(), namespace, docs)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "upserted %d chunks from %d documents\n", n, len(docs))
			return nil
		},
	}

	cmd.Flags().StringVarP(&file, "file", "f", "", "input file (default stdin)")
	cmd.Flags().StringVarP(&namespace, "namespace", "n", "", "target namespace")
	return cmd
}

func newQueryCmd(a *app) *cobra.Command {
	var (
		namespace string
		topK      int
		filters   []string
	)

	cmd := &cobra.Command{
		Use:   "query <text>...",
		Short: "Run one or more queries and print the results as JSON",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			filter, err := parseFilters(filters)
			if err != nil {
				return err
			}

			queries := make([]models.Query, len(args))
			for i, text := range args {
				queries[i] = models.Query{
					Text:           text,
					Namespace:      namespace,
					MetadataFilter: filter,
					TopK:           topK,
				}
			}

			kb, store, err := buildKnowledgeBase(cmd.Context(), a.cfg, a.logger)
			if err != nil {
				return err
			}
			defer store.Close()

			results, err := kb.Query(cmd.Context(), queries)
			if err != nil {
				return err
			}

			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(results)
		},
	}

	cmd.Flags().StringVarP(&namespace, "namespace", "n", "", "namespace to search")
	cmd.Flags().IntVarP(&topK, "top-k", "k", 0, "results per query (default from DEFAULT_TOP_K)")
	cmd.Flags().StringArrayVar(&filters, "filter", nil, "metadata equality filter key=value (repeatable)")
	return cmd
}

func newDeleteCmd(a *app) *cobra.Command {
	var namespace string

	cmd := &cobra.Command{
		Use:   "delete <document-id>...",
		Short: "Delete all chunks of the given documents",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			kb, store, err := buildKnowledgeBase(cmd.Context(), a.cfg, a.logger)
			if err != nil {
				return err
			}
			defer store.Close()
			return kb.Delete(cmd.Context(), namespace, args)
		},
	}

	cmd.Flags().StringVarP(&namespace, "namespace", "n", "", "namespace of the documents")
	return cmd
}

func newTokenCmd(a *app) *cobra.Command {
	var (
		subject    string
		namespaces []string
	)

	cmd := &cobra.Command{
		Use:   "token",
		Short: "Issue a signed API token",
		RunE: func(cmd *cobra.Command, args []string) error {
			if subject == "" {
				return fmt.Errorf("--subject is required")
			}
			token, err := auth.NewJWTManager(a.jwtConfig()).GenerateToken(subject, namespaces...)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}

	cmd.Flags().StringVar(&subject, "subject", "", "token subject")
	cmd.Flags().StringSliceVar(&namespaces, "namespace", nil, "namespaces the token may access (default all)")
	return cmd
}

// parseDocuments accepts either a JSON array of documents or one document
// per line.
func parseDocuments(r io.Reader) ([]models.Document, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return nil, fmt.Errorf("no documents in input")
	}

	if data[0] == '[' {
		var docs []models.Document
		if err := json.Unmarshal(data, &docs); err != nil {
			return nil, fmt.Errorf("invalid document array: %w", err)
		}
		return docs, nil
	}

	var docs []models.Document
	scanner := bufio.NewScanner(bytes.NewReader(data))
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	line := 0
	for scanner.Scan() {
		line++
		text := bytes.TrimSpace(scanner.Bytes())
		if len(text) == 0 {
			continue
		}
		var doc models.Document
		if err := json.Unmarshal(text, &doc); err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		docs = append(docs, doc)
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return docs, nil
}

func parseFilters(pairs []string) (map[string]string, error) {
	if len(pairs) == 0 {
		return nil, nil
	}
	filter := make(map[string]string, len(pairs))
	for _, p := range pairs {
		k, v, ok := strings.Cut(p, "=")
		if !ok || k == "" {
			return nil, fmt.Errorf("invalid filter %q, expected key=value", p)
		}
		filter[k] = v
	}
	return filter, nil
}
