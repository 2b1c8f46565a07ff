package main

import (
	"encoding/json"
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/startino/reletino/internal/tracking"
	"github.com/startino/reletino/pkg/notion"
)

var leadsLimit int

var leadsCmd = &cobra.Command{
	Use:   "leads",
	Short: "Inspect and export discovered leads",
}

var leadsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List recent leads",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		leads, err := st.ListLeads(ctx, leadsLimit)
		if err != nil {
			return err
		}

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(leads)
	},
}

var leadsExportCmd = &cobra.Command{
	Use:   "export",
	Short: "Mirror leads onto the Notion tracking board",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		if cfg.Notion.Token == "" || cfg.Notion.LeadDB == "" {
			return eris.New("notion token and lead database id are required (RELETINO_NOTION_TOKEN, RELETINO_NOTION_LEAD_DB)")
		}

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		leads, err := st.ListLeads(ctx, leadsLimit)
		if err != nil {
			return err
		}

		tracker := tracking.NewTracker(notion.NewClient(cfg.Notion.Token), cfg.Notion.LeadDB)
		summary, err := tracker.Export(ctx, leads)
		if err != nil {
			return err
		}

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(summary)
	},
}

func init() {
	leadsCmd.PersistentFlags().IntVar(&leadsLimit, "limit", 100, "maximum number of leads")
	leadsCmd.AddCommand(leadsListCmd)
	leadsCmd.AddCommand(leadsExportCmd)
	rootCmd.AddCommand(leadsCmd)
}
