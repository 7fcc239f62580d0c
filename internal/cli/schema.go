package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/malbeclabs/askdata/api/handlers"
	"github.com/malbeclabs/askdata/pkg/schema"
)

const adminRequestTimeout = 2 * time.Minute

func newSchemaCmd(opts *options) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "schema",
		Short: "Inspect or refresh the database schema",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := cmd.Help(); err != nil {
				return fmt.Errorf("failed to show help: %w", err)
			}
			return nil
		},
	}
	cmd.AddCommand(newSchemaShowCmd(opts), newSchemaRefreshCmd())
	return cmd
}

func newSchemaShowCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "show [table...]",
		Short: "Introspect the database and print its tables",
		RunE: func(cmd *cobra.Command, args []string) error {
			log := newLogger(opts.verbose)
			ctx := cmd.Context()

			a, err := newApp(ctx, log, opts)
			if err != nil {
				return err
			}
			defer a.Close()
			if !a.gateway.Configured() {
				return errors.New("database URL is required (set --database-url or DATABASE_URL)")
			}

			snap, err := a.schema.Refresh(ctx)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if len(args) == 0 {
				fmt.Fprint(out, schema.Summary(snap.Tables))
				fmt.Fprintf(out, "\n%d tables, %.1f KB of schema text\n", len(snap.Tables), snap.SizeKB())
				return nil
			}
			text, unknown := schema.Describe(snap.Tables, args)
			fmt.Fprint(out, text)
			if len(unknown) > 0 {
				return fmt.Errorf("unknown tables: %s", strings.Join(unknown, ", "))
			}
			return nil
		},
	}
}

func newSchemaRefreshCmd() *cobra.Command {
	var (
		url   string
		token string
	)

	cmd := &cobra.Command{
		Use:   "refresh",
		Short: "Ask a running server to rebuild its schema cache",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if token == "" {
				return errors.New("admin token is required (set --token or ASKDATA_ADMIN_TOKEN)")
			}
			info, err := refreshRemoteSchema(cmd, url, token)
			if err != nil {
				return err
			}
			printCacheInfo(cmd.OutOrStdout(), info)
			return nil
		},
	}

	flags := cmd.Flags()
	flags.StringVar(&url, "url", envString("ASKDATA_URL", "http://localhost"+defaultListenAddr), "base URL of the askdata server (or set ASKDATA_URL)")
	flags.StringVar(&token, "token", os.Getenv("ASKDATA_ADMIN_TOKEN"), "admin bearer token (or set ASKDATA_ADMIN_TOKEN)")
	return cmd
}

func refreshRemoteSchema(cmd *cobra.Command, baseURL, token string) (handlers.CacheInfo, error) {
	endpoint := strings.TrimRight(baseURL, "/") + "/admin/schema/refresh"
	req, err := http.NewRequestWithContext(cmd.Context(), http.MethodPost, endpoint, nil)
	if err != nil {
		return handlers.CacheInfo{}, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)

	client := &http.Client{Timeout: adminRequestTimeout}
	resp, err := client.Do(req)
	if err != nil {
		return handlers.CacheInfo{}, fmt.Errorf("failed to call %s: %w", endpoint, err)
	}
	defer resp.Body.Close()

	var body struct {
		Success bool               `json:"success"`
		Error   string             `json:"error"`
		Cache   handlers.CacheInfo `json:"cache"`
	}
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(&body); err != nil {
		return handlers.CacheInfo{}, fmt.Errorf("failed to decode response (status %d): %w", resp.StatusCode, err)
	}
	if resp.StatusCode != http.StatusOK || !body.Success {
		return handlers.CacheInfo{}, fmt.Errorf("schema refresh failed (status %d): %s", resp.StatusCode, body.Error)
	}
	return body.Cache, nil
}

func printCacheInfo(w io.Writer, info handlers.CacheInfo) {
	fmt.Fprintf(w, "Schema refreshed: %d tables, %.1f KB\n", info.Tables, info.SizeKB)
	fmt.Fprintf(w, "Updated %s\n", info.LastUpdated.Local().Format(time.DateTime))
	if info.PreviousUpdate != nil {
		fmt.Fprintf(w, "Previous refresh %s\n", humanize.RelTime(*info.PreviousUpdate, info.LastUpdated, "earlier", "later"))
	}
}
