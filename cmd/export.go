package main

import (
	"fmt"
	"os"

	"github.com/jszwec/csvutil"
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/platewise/leadscout/internal/model"
	"github.com/platewise/leadscout/internal/store"
)

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Export a job's leads as CSV",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		env, err := initEnv(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		jobID, _ := cmd.Flags().GetString("job")
		passedOnly, _ := cmd.Flags().GetBool("passed-only")
		outPath, _ := cmd.Flags().GetString("out")

		filter := store.LeadFilter{JobID: jobID}
		if passedOnly {
			filter.Progression = model.ProgressionPassed
		}
		leads, err := env.Store.ListLeads(ctx, filter)
		if err != nil {
			return eris.Wrap(err, "export")
		}

		data, err := csvutil.Marshal(exportRows(leads))
		if err != nil {
			return eris.Wrap(err, "export: marshal csv")
		}

		if outPath == "" || outPath == "-" {
			_, err = os.Stdout.Write(data)
			return err
		}
		if err := os.WriteFile(outPath, data, 0o644); err != nil {
			return eris.Wrap(err, "export: write file")
		}
		fmt.Fprintf(os.Stderr, "Wrote %d leads to %s\n", len(leads), outPath)
		return nil
	},
}

func init() {
	exportCmd.Flags().String("job", "", "job id to export")
	exportCmd.Flags().Bool("passed-only", false, "export only leads that passed their current step")
	exportCmd.Flags().StringP("out", "o", "", "output file (default stdout)")
	_ = exportCmd.MarkFlagRequired("job")
	rootCmd.AddCommand(exportCmd)
}

// exportRow is the operator-facing CSV shape of a lead.
type exportRow struct {
	ID          string   `csv:"id"`
	Name        string   `csv:"name"`
	SourceURL   string   `csv:"source_url"`
	Address     string   `csv:"address"`
	Locality    string   `csv:"locality"`
	Phone       string   `csv:"phone"`
	Email       string   `csv:"email"`
	Website     string   `csv:"website"`
	Cuisine     string   `csv:"cuisine"`
	Tags        string   `csv:"tags"`
	Rating      *float64 `csv:"rating"`
	ReviewCount *int     `csv:"review_count"`
	CurrentStep int      `csv:"current_step"`
	Progression string   `csv:"progression"`
	IsValid     bool     `csv:"is_valid"`
	IsDuplicate bool     `csv:"is_duplicate"`
	ConvertedTo string   `csv:"converted_to"`
	Error       string   `csv:"error"`
}

func exportRows(leads []model.Lead) []exportRow {
	rows := make([]exportRow, len(leads))
	for i, l := range leads {
		rows[i] = exportRow{
			ID:          l.ID,
			Name:        l.Name,
			SourceURL:   l.SourceURL,
			Address:     l.Address,
			Locality:    l.Locality,
			Phone:       l.Phone,
			Email:       l.Email,
			Website:     l.Website,
			Cuisine:     l.Cuisine,
			Tags:        l.Tags,
			Rating:      l.Rating,
			ReviewCount: l.ReviewCount,
			CurrentStep: l.CurrentStep,
			Progression: string(l.Progression),
			IsValid:     l.IsValid,
			IsDuplicate: l.IsDuplicate,
			ConvertedTo: l.ConvertedTo,
			Error:       l.Error,
		}
	}
	return rows
}
