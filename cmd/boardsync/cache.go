package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/url"
	"strings"
	"text/tabwriter"

	"github.com/hyperengineering/boardsync/internal/config"
	"github.com/hyperengineering/boardsync/internal/writecache"
	"github.com/spf13/cobra"
)

var (
	cacheDSNOverride string
	cacheJSONOutput  bool
)

var cacheCmd = &cobra.Command{
	Use:   "cache",
	Short: "Inspect the write-cache",
	Long:  "List, read, and export the persisted write-cache without running the server.",
}

var cacheListCmd = &cobra.Command{
	Use:   "list",
	Short: "List cached items",
	Args:  cobra.NoArgs,
	RunE:  runCacheList,
}

var cacheGetCmd = &cobra.Command{
	Use:   "get <item-id>",
	Short: "Show the last value written to one item",
	Args:  cobra.ExactArgs(1),
	RunE:  runCacheGet,
}

var cacheExportCmd = &cobra.Command{
	Use:   "export",
	Short: "Write the write-cache document to stdout",
	Args:  cobra.NoArgs,
	RunE:  runCacheExport,
}

func init() {
	cacheCmd.PersistentFlags().StringVar(&cacheDSNOverride, "dsn", "",
		"Write-cache DSN (overrides config and BOARDSYNC_STATE_DSN)")
	cacheCmd.PersistentFlags().BoolVar(&cacheJSONOutput, "json", false,
		"Output in JSON format")

	cacheCmd.AddCommand(cacheListCmd)
	cacheCmd.AddCommand(cacheGetCmd)
	cacheCmd.AddCommand(cacheExportCmd)
}

// resolveCache opens the write-cache named by --dsn, or by the configured DSN.
// Only the state section of the configuration is needed, so a partially
// configured environment is accepted.
func resolveCache(ctx context.Context) (*writecache.Cache, error) {
	dsn := cacheDSNOverride
	if dsn == "" {
		cfg, err := config.Load()
		if err != nil {
			return nil, fmt.Errorf("load config: %w (pass --dsn to skip)", err)
		}
		dsn = cfg.State.DSN
	}

	backend, err := writecache.NewBackend(dsn)
	if err != nil {
		return nil, err
	}
	return writecache.Open(ctx, backend), nil
}

func runCacheList(cmd *cobra.Command, args []string) error {
	cache, err := resolveCache(cmd.Context())
	if err != nil {
		return err
	}
	defer cache.Close()

	entries := cache.Entries()
	ids := cache.IDs()

	if cacheJSONOutput {
		items := make([]map[string]any, 0, len(ids))
		for _, id := range ids {
			items = append(items, map[string]any{
				"item_id":    id,
				"last_value": entries[id].LastValue,
				"written_at": entries[id].WrittenAt,
			})
		}
		return printJSON(cmd.OutOrStdout(), map[string]any{
			"items": items,
			"total": len(items),
		})
	}

	if len(ids) == 0 {
		fmt.Fprintln(cmd.OutOrStdout(), "No cached items.")
		return nil
	}

	w := newTabWriter(cmd.OutOrStdout())
	fmt.Fprintln(w, "ITEM\tLAST VALUE\tWRITTEN")
	for _, id := range ids {
		e := entries[id]
		fmt.Fprintf(w, "%s\t%s\t%s\n", id, e.LastValue, e.WrittenAt.Format("2006-01-02 15:04:05"))
	}
	return w.Flush()
}

func runCacheGet(cmd *cobra.Command, args []string) error {
	cache, err := resolveCache(cmd.Context())
	if err != nil {
		return err
	}
	defer cache.Close()

	itemID := strings.TrimSpace(args[0])
	entry, ok := cache.Entries()[itemID]
	if !ok {
		return fmt.Errorf("item %s: not in write-cache", itemID)
	}

	if cacheJSONOutput {
		return printJSON(cmd.OutOrStdout(), map[string]any{
			"item_id":    itemID,
			"last_value": entry.LastValue,
			"written_at": entry.WrittenAt,
		})
	}
	fmt.Fprintln(cmd.OutOrStdout(), entry.LastValue)
	return nil
}

func runCacheExport(cmd *cobra.Command, args []string) error {
	cache, err := resolveCache(cmd.Context())
	if err != nil {
		return err
	}
	defer cache.Close()

	return cache.Export(cmd.OutOrStdout())
}

// printJSON marshals v to JSON and writes to the given writer.
func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// newTabWriter returns a configured tabwriter for aligned columns.
func newTabWriter(w io.Writer) *tabwriter.Writer {
	return tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
}

// redactDSN hides the password of URL-shaped DSNs.
func redactDSN(dsn string) string {
	if !strings.Contains(dsn, "://") {
		return dsn
	}
	u, err := url.Parse(dsn)
	if err != nil {
		return "[unparsable dsn]"
	}
	return u.Redacted()
}
