package main

import (
	"fmt"
	"io"
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/platewise/leadscout/internal/pipeline"
)

var convertCmd = &cobra.Command{
	Use:   "convert <lead-id> ...",
	Short: "Promote passed leads into permanent place entities",
	Long:  "Converts each passed final-step lead into a place entity. Conversion is one-time: already-converted, duplicate, or invalid leads are refused individually.",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		env, err := initEnv(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		if env.Converter == nil {
			return eris.New("convert: place store not configured (LEADSCOUT_PLACES_KEY)")
		}

		by, _ := cmd.Flags().GetString("by")

		result, err := env.Converter.Convert(ctx, args, by)
		if err != nil {
			return eris.Wrap(err, "convert")
		}
		printConvertResult(os.Stdout, result)
		return nil
	},
}

func init() {
	convertCmd.Flags().String("by", "", "operator attribution recorded on the lead")
	_ = convertCmd.MarkFlagRequired("by")
	rootCmd.AddCommand(convertCmd)
}

func printConvertResult(out io.Writer, result *pipeline.ConvertResult) {
	fmt.Fprintf(out, "%d converted", len(result.Converted))
	if len(result.Failed) > 0 {
		fmt.Fprintf(out, ", %d refused:\n", len(result.Failed))
		for _, f := range result.Failed {
			fmt.Fprintf(out, "  %s: %s\n", f.ID, f.Error)
		}
		return
	}
	fmt.Fprintln(out)
}
