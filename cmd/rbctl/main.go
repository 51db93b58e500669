// Package main implements the rbctl CLI for manual operations against the
// rulebankd HTTP server.
package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"time"

	"github.com/spf13/cobra"
)

var (
	// serverURL is the base URL for the rulebankd HTTP server
	serverURL string
	// version information
	version = "dev"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "rbctl",
	Short: "CLI for rulebankd HTTP server operations",
	Long: `rbctl is a command-line interface for interacting with the rulebankd
HTTP server. It provides commands for searching and adding experience
rules, triggering harvests, and exporting snapshots.`,
	Version: version,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&serverURL, "server", "http://localhost:8230", "rulebankd server URL")
	rootCmd.AddCommand(healthCmd)
	rootCmd.AddCommand(searchCmd)
	rootCmd.AddCommand(addCmd)
	rootCmd.AddCommand(harvestCmd)
	rootCmd.AddCommand(exportCmd)
}

// httpClient is shared by all commands.
var httpClient = &http.Client{Timeout: 30 * time.Second}

// getJSON issues a GET and decodes the JSON response into out.
func getJSON(path string, out any) error {
	resp, err := httpClient.Get(serverURL + path)
	if err != nil {
		return fmt.Errorf("failed to reach server: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("server returned status %d: %s", resp.StatusCode, string(body))
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

// postJSON issues a POST with a JSON body and decodes the response into out.
func postJSON(path string, body, out any) error {
	data, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("failed to marshal request: %w", err)
	}

	resp, err := httpClient.Post(serverURL+path, "application/json", bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("failed to reach server: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		respBody, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("server returned status %d: %s", resp.StatusCode, string(respBody))
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

// printJSON writes v to stdout as indented JSON.
func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

var healthCmd = &cobra.Command{
	Use:   "health",
	Short: "Check rulebankd server health",
	RunE: func(cmd *cobra.Command, args []string) error {
		var resp struct {
			Status string `json:"status"`
		}
		if err := getJSON("/health", &resp); err != nil {
			return err
		}
		fmt.Printf("Server is healthy: %s\n", resp.Status)
		return nil
	},
}

var (
	searchTag      string
	searchCategory string
	searchStatus   string
	searchLimit    int
)

var searchCmd = &cobra.Command{
	Use:   "search [query]",
	Short: "Search experience rules",
	Long: `Search experience rules by text, tag, category, and status.

Examples:
  # Full-text search
  rbctl search timeout

  # Filter drafts in a category
  rbctl search --status draft --category reflection`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		params := url.Values{}
		if len(args) > 0 {
			params.Set("q", args[0])
		}
		if searchTag != "" {
			params.Set("tag", searchTag)
		}
		if searchCategory != "" {
			params.Set("category", searchCategory)
		}
		if searchStatus != "" {
			params.Set("status", searchStatus)
		}
		params.Set("limit", strconv.Itoa(searchLimit))

		var resp json.RawMessage
		if err := getJSON("/api/v1/experience/rules?"+params.Encode(), &resp); err != nil {
			return err
		}
		return printJSON(resp)
	},
}

var (
	addContent    string
	addCategory   string
	addTags       []string
	addDraft      bool
	addConfidence float64
)

var addCmd = &cobra.Command{
	Use:   "add <title>",
	Short: "Add an experience rule",
	Long: `Add an experience rule with the given title and content.

Examples:
  rbctl add "Retry on timeout" --content "Use exponential backoff."
  rbctl add "Needs review" --content "..." --draft`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if addContent == "" {
			return fmt.Errorf("--content is required")
		}

		body := map[string]any{
			"title":      args[0],
			"content":    addContent,
			"category":   addCategory,
			"tags":       addTags,
			"confidence": addConfidence,
		}

		path := "/api/v1/experience/rules"
		if addDraft {
			path = "/api/v1/experience/candidates"
		}

		var resp json.RawMessage
		if err := postJSON(path, body, &resp); err != nil {
			return err
		}
		return printJSON(resp)
	},
}

var harvestCmd = &cobra.Command{
	Use:   "harvest",
	Short: "Trigger an auto-candidate harvest",
	RunE: func(cmd *cobra.Command, args []string) error {
		var resp struct {
			Created int    `json:"created"`
			Samples int    `json:"samples"`
			Skipped string `json:"skipped"`
		}
		if err := postJSON("/api/v1/experience/auto-candidates/harvest", struct{}{}, &resp); err != nil {
			return err
		}
		if resp.Skipped != "" {
			fmt.Printf("Harvest skipped (%s), samples: %d\n", resp.Skipped, resp.Samples)
			return nil
		}
		fmt.Printf("Harvest created %d candidate(s) from %d sample(s)\n", resp.Created, resp.Samples)
		return nil
	},
}

var exportVerbose bool

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Export the rule snapshot to stdout",
	RunE: func(cmd *cobra.Command, args []string) error {
		path := "/api/v1/experience/snapshot/export"
		if exportVerbose {
			path += "?compact=false"
		}
		var resp json.RawMessage
		if err := getJSON(path, &resp); err != nil {
			return err
		}
		return printJSON(resp)
	},
}

func init() {
	searchCmd.Flags().StringVar(&searchTag, "tag", "", "filter by tag substring")
	searchCmd.Flags().StringVar(&searchCategory, "category", "", "filter by category")
	searchCmd.Flags().StringVar(&searchStatus, "status", "", "filter by status (active, draft, deprecated)")
	searchCmd.Flags().IntVar(&searchLimit, "limit", 20, "maximum results")

	addCmd.Flags().StringVar(&addContent, "content", "", "rule content (required)")
	addCmd.Flags().StringVar(&addCategory, "category", "", "rule category")
	addCmd.Flags().StringSliceVar(&addTags, "tag", nil, "rule tags (repeatable)")
	addCmd.Flags().BoolVar(&addDraft, "draft", false, "submit as a draft candidate")
	addCmd.Flags().Float64Var(&addConfidence, "confidence", 0, "confidence score in [0,1]")

	exportCmd.Flags().BoolVar(&exportVerbose, "verbose", false, "export full field names instead of the compact shape")
}
