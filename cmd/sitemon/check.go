package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/JakeFAU/sitemap-monitor/internal/checker"
	"github.com/JakeFAU/sitemap-monitor/internal/hash/sha256"
	"github.com/JakeFAU/sitemap-monitor/internal/server"
)

func newValidateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate <url>",
		Short: "Fetch and parse one sitemap without following index children",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := resolveEnv(cmd.Context())
			if err != nil {
				return err
			}
			res := server.NewChecker(e.cfg, e.logger).Validate(cmd.Context(), args[0])
			if err := writeJSON(cmd, res); err != nil {
				return err
			}
			if !res.Valid {
				return errors.New("sitemap is not valid")
			}
			return nil
		},
	}
}

type checkSummary struct {
	URL            string                 `json:"url"`
	IsIndex        bool                   `json:"is_index"`
	URLCount       int                    `json:"url_count"`
	ChildCount     int                    `json:"child_sitemap_count"`
	Documents      int                    `json:"documents"`
	ContentHash    string                 `json:"content_hash"`
	FetchDuration  string                 `json:"fetch_duration"`
	ParseDuration  string                 `json:"parse_duration"`
	FailedChildren []checker.ChildFailure `json:"failed_children,omitempty"`
}

func newCheckCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "check <url>",
		Short: "Expand a sitemap or index fully and print the URL set digest",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := resolveEnv(cmd.Context())
			if err != nil {
				return err
			}
			res, err := server.NewChecker(e.cfg, e.logger).Check(cmd.Context(), args[0])
			if err != nil {
				return fmt.Errorf("check %s: %w", args[0], err)
			}
			urls := make([]string, len(res.Entries))
			for i, entry := range res.Entries {
				urls[i] = entry.URL
			}
			return writeJSON(cmd, checkSummary{
				URL:            res.RootURL,
				IsIndex:        res.IsIndex,
				URLCount:       res.URLCount,
				ChildCount:     res.ChildCount,
				Documents:      res.Documents,
				ContentHash:    sha256.New().URLSetDigest(urls),
				FetchDuration:  res.FetchDuration.Round(time.Millisecond).String(),
				ParseDuration:  res.ParseDuration.Round(time.Millisecond).String(),
				FailedChildren: res.FailedChildren,
			})
		},
	}
}

func writeJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("write output: %w", err)
	}
	return nil
}
