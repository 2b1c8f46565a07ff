package main

import (
	"fmt"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/startino/reletino/internal/dataset"
)

var datasetCmd = &cobra.Command{
	Use:   "dataset",
	Short: "Manage the labeled classification dataset",
}

var datasetImportCmd = &cobra.Command{
	Use:   "import <file>",
	Short: "Import labeled examples from a CSV or XLSX file",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		if err := st.Migrate(ctx); err != nil {
			return eris.Wrap(err, "migrate store")
		}

		inserted, err := dataset.NewImporter(st).ImportFile(ctx, args[0])
		if err != nil {
			return err
		}
		fmt.Printf("imported %d records\n", inserted)
		return nil
	},
}

func init() {
	datasetCmd.AddCommand(datasetImportCmd)
	rootCmd.AddCommand(datasetCmd)
}
