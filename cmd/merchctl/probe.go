package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/onnwee/merchbot/campaign"
	"github.com/onnwee/merchbot/config"
	"github.com/onnwee/merchbot/poll"
	"github.com/onnwee/merchbot/tasks"
	"github.com/onnwee/merchbot/twitchapi"
)

var probeCmd = &cobra.Command{
	Use:   "probe SOURCE",
	Short: "Fetch one reading from a source",
	Long: `Fetch a single reading the way a scheduled task would.

For --kind campaign SOURCE is the campaign id. For --kind viewers SOURCE is
the channel login and TWITCH_CLIENT_ID / TWITCH_CLIENT_SECRET must be set.`,
	Example: "  merchctl probe --kind campaign summer-tour-tee\n  merchctl probe --kind viewers merchbot",
	Args:    cobra.ExactArgs(1),
	RunE:    runProbe,
}

func init() {
	rootCmd.AddCommand(probeCmd)
	probeCmd.Flags().String("kind", string(tasks.KindCampaign), "source kind: campaign or viewers")
	probeCmd.Flags().String("base-url", "", "campaign base URL (defaults to CAMPAIGN_BASE_URL or the public store)")
	probeCmd.Flags().Duration("timeout", 10*time.Second, "fetch timeout")
}

func runProbe(cmd *cobra.Command, args []string) error {
	kind, _ := cmd.Flags().GetString("kind")
	baseURL, _ := cmd.Flags().GetString("base-url")
	timeout, _ := cmd.Flags().GetDuration("timeout")

	cfg, err := config.Load()
	if err != nil {
		return err
	}
	var fetcher poll.Fetcher
	switch tasks.Kind(kind) {
	case tasks.KindCampaign:
		if baseURL == "" {
			baseURL = cfg.CampaignBaseURL
		}
		fetcher = &campaign.PageFetcher{BaseURL: baseURL, Timeout: timeout}
	case tasks.KindViewers:
		if !cfg.HelixEnabled() {
			return errors.New("viewers probe requires TWITCH_CLIENT_ID and TWITCH_CLIENT_SECRET")
		}
		ts := &twitchapi.TokenSource{ClientID: cfg.TwitchClientID, ClientSecret: cfg.TwitchClientSecret}
		fetcher = &twitchapi.ViewerFetcher{Client: &twitchapi.HelixClient{AppTokenSource: ts, ClientID: cfg.TwitchClientID}}
	default:
		return fmt.Errorf("unknown kind %q: want %q or %q", kind, tasks.KindCampaign, tasks.KindViewers)
	}

	ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
	defer cancel()
	r, err := fetcher.Fetch(ctx, args[0])
	if err != nil {
		return fmt.Errorf("probe %s: %w", args[0], err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "%s: %d (%s)\n", args[0], r.Value, r.Label)
	return nil
}
