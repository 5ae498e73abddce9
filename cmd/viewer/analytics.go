package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/valbows/domo-webhooks/internal/models"
)

var analyticsJSON bool

var analyticsCmd = &cobra.Command{
	Use:   "analytics <demo-id>",
	Short: "Print a demo's analytics snapshot",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newAPIClient(serverURL).analytics(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		if analyticsJSON {
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(a)
		}
		printAnalytics(cmd.OutOrStdout(), a)
		return nil
	},
}

func init() {
	analyticsCmd.Flags().BoolVar(&analyticsJSON, "json", false, "Output as JSON")
}

type apiClient struct {
	baseURL string
	http    *http.Client
}

func newAPIClient(baseURL string) *apiClient {
	return &apiClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: 10 * time.Second},
	}
}

func (c *apiClient) analytics(ctx context.Context, demoID string) (models.DemoAnalytics, error) {
	u := c.baseURL + "/api/demos/" + url.PathEscape(demoID) + "/analytics"
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return models.DemoAnalytics{}, fmt.Errorf("build analytics request: %w", err)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return models.DemoAnalytics{}, fmt.Errorf("analytics request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return models.DemoAnalytics{}, fmt.Errorf("analytics returned %s", resp.Status)
	}

	var a models.DemoAnalytics
	if err := json.NewDecoder(resp.Body).Decode(&a); err != nil {
		return models.DemoAnalytics{}, fmt.Errorf("decode analytics: %w", err)
	}
	return a, nil
}

func printAnalytics(w io.Writer, a models.DemoAnalytics) {
	fmt.Fprintf(w, "analytics %s: conversations=%d completed=%d leads=%d cta_clicks=%d showcases=%d perception=%d\n",
		a.DemoID, a.Conversations, a.CompletedConversations, a.QualifiedLeads,
		a.CTAClicks, a.VideoShowcases, a.PerceptionAnalyses)
}
