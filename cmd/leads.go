package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"text/tabwriter"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/platewise/leadscout/internal/model"
	"github.com/platewise/leadscout/internal/pipeline"
	"github.com/platewise/leadscout/internal/store"
)

var leadsCmd = &cobra.Command{
	Use:   "leads",
	Short: "Inspect and act on a job's leads",
	Long:  "Commands for listing, editing, passing, retrying, and deleting leads.",
}

// -- leads list --

var leadsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List leads for a job",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		env, err := initEnv(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		jobID, _ := cmd.Flags().GetString("job")
		step, _ := cmd.Flags().GetInt("step")
		progression, _ := cmd.Flags().GetString("progression")
		limit, _ := cmd.Flags().GetInt("limit")
		offset, _ := cmd.Flags().GetInt("offset")

		leads, err := env.Store.ListLeads(ctx, store.LeadFilter{
			JobID:       jobID,
			CurrentStep: step,
			Progression: model.Progression(progression),
			Limit:       limit,
			Offset:      offset,
		})
		if err != nil {
			return eris.Wrap(err, "leads list")
		}
		if len(leads) == 0 {
			fmt.Fprintln(os.Stderr, "No leads found.")
			return nil
		}

		formatLeadList(os.Stdout, leads)
		return nil
	},
}

// -- leads show --

var leadsShowCmd = &cobra.Command{
	Use:   "show <lead-id>",
	Short: "Show full details of a lead",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		env, err := initEnv(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		lead, err := env.Store.GetLead(ctx, args[0])
		if err != nil {
			return eris.Wrap(err, "leads show")
		}

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(lead)
	},
}

// -- leads edit --

var leadsEditCmd = &cobra.Command{
	Use:   "edit <lead-id> <field>=<value> ...",
	Short: "Edit a lead's fields and re-validate it",
	Args:  cobra.MinimumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		env, err := initEnv(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		fields := make(map[string]string, len(args)-1)
		for _, arg := range args[1:] {
			key, value, ok := strings.Cut(arg, "=")
			if !ok {
				return model.NewValidationError(arg, "expected <field>=<value>")
			}
			fields[key] = value
		}

		lead, err := editLead(ctx, env.Store, args[0], fields)
		if err != nil {
			return eris.Wrap(err, "leads edit")
		}

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(lead)
	},
}

// -- leads delete --

var leadsDeleteCmd = &cobra.Command{
	Use:   "delete <lead-id>",
	Short: "Delete a lead",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		env, err := initEnv(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		if err := env.Store.DeleteLead(ctx, args[0]); err != nil {
			return eris.Wrap(err, "leads delete")
		}
		fmt.Printf("Deleted lead %s\n", args[0])
		return nil
	},
}

// -- leads pass --

var leadsPassCmd = &cobra.Command{
	Use:   "pass <lead-id> ...",
	Short: "Approve processed leads on an action_required step",
	Args:  cobra.ArbitraryArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		env, err := initEnv(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		stepID, _ := cmd.Flags().GetString("step")
		all, _ := cmd.Flags().GetBool("all")

		ids := args
		if all {
			ids, err = leadsOnStep(ctx, env.Store, stepID, model.ProgressionProcessed)
			if err != nil {
				return err
			}
		}
		if len(ids) == 0 {
			return eris.New("leads pass: no lead ids given")
		}

		result, err := env.Orchestrator.PassLeads(ctx, stepID, ids)
		if err != nil {
			return eris.Wrap(err, "leads pass")
		}
		printBulkResult(os.Stdout, "passed", result)
		return nil
	},
}

// -- leads retry --

var leadsRetryCmd = &cobra.Command{
	Use:   "retry <lead-id> ...",
	Short: "Return failed leads to available and re-run their step",
	Args:  cobra.ArbitraryArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		env, err := initEnv(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		stepID, _ := cmd.Flags().GetString("step")
		all, _ := cmd.Flags().GetBool("all")

		ids := args
		if all {
			ids, err = leadsOnStep(ctx, env.Store, stepID, model.ProgressionFailed)
			if err != nil {
				return err
			}
		}
		if len(ids) == 0 {
			return eris.New("leads retry: no lead ids given")
		}

		result, err := env.Orchestrator.RetryLeads(ctx, stepID, ids)
		if err != nil {
			return eris.Wrap(err, "leads retry")
		}
		printBulkResult(os.Stdout, "retried", result)
		return nil
	},
}

func init() {
	leadsListCmd.Flags().String("job", "", "job id to list leads for")
	leadsListCmd.Flags().Int("step", 0, "filter by current step number")
	leadsListCmd.Flags().String("progression", "", "filter by progression (available, processing, processed, passed, failed)")
	leadsListCmd.Flags().Int("limit", 100, "max number of leads to display")
	leadsListCmd.Flags().Int("offset", 0, "pagination offset")
	_ = leadsListCmd.MarkFlagRequired("job")

	leadsPassCmd.Flags().String("step", "", "action_required step id")
	leadsPassCmd.Flags().Bool("all", false, "pass every processed lead on the step")
	_ = leadsPassCmd.MarkFlagRequired("step")

	leadsRetryCmd.Flags().String("step", "", "step id the leads failed on")
	leadsRetryCmd.Flags().Bool("all", false, "retry every failed lead on the step")
	_ = leadsRetryCmd.MarkFlagRequired("step")

	leadsCmd.AddCommand(leadsListCmd)
	leadsCmd.AddCommand(leadsShowCmd)
	leadsCmd.AddCommand(leadsEditCmd)
	leadsCmd.AddCommand(leadsDeleteCmd)
	leadsCmd.AddCommand(leadsPassCmd)
	leadsCmd.AddCommand(leadsRetryCmd)
	rootCmd.AddCommand(leadsCmd)
}

// editLead applies operator field edits to a lead and re-validates it
// against its current stage's rules. An edit can make an invalid lead valid
// again; it never moves the lead's progression by itself.
func editLead(ctx context.Context, st store.Store, leadID string, fields map[string]string) (*model.Lead, error) {
	lead, err := st.GetLead(ctx, leadID)
	if err != nil {
		return nil, err
	}

	update := model.LeadUpdate{}
	for key, value := range fields {
		value = pipeline.CleanField(value)
		switch key {
		case "name":
			lead.Name = value
			update.Name = &lead.Name
		case "address":
			lead.Address = value
			update.Address = &lead.Address
		case "locality":
			lead.Locality = value
			update.Locality = &lead.Locality
		case "phone":
			lead.Phone = value
			update.Phone = &lead.Phone
		case "email":
			lead.Email = value
			update.Email = &lead.Email
		case "website":
			lead.Website = value
			update.Website = &lead.Website
		case "cuisine":
			lead.Cuisine = value
			update.Cuisine = &lead.Cuisine
		case "tags":
			lead.Tags = value
			update.Tags = &lead.Tags
		case "rating":
			r, err := strconv.ParseFloat(value, 64)
			if err != nil {
				return nil, model.NewValidationError("rating", "must be a number")
			}
			lead.Rating = &r
			update.Rating = lead.Rating
		case "review_count":
			n, err := strconv.Atoi(value)
			if err != nil {
				return nil, model.NewValidationError("review_count", "must be an integer")
			}
			lead.ReviewCount = &n
			update.ReviewCount = lead.ReviewCount
		default:
			return nil, model.NewValidationError(key, "unknown or immutable field")
		}
	}

	job, err := st.GetJob(ctx, lead.JobID)
	if err != nil {
		return nil, err
	}
	template, err := pipeline.PlatformTemplate(job.Platform)
	if err != nil {
		return nil, err
	}
	stage, err := template.Stage(lead.CurrentStep)
	if err != nil {
		return nil, err
	}

	valid, fieldErrs := pipeline.Validate(stage, lead)
	update.IsValid = &valid
	update.ValidationErrors = &fieldErrs

	if err := st.UpdateLead(ctx, leadID, update); err != nil {
		return nil, err
	}
	return st.GetLead(ctx, leadID)
}

// leadsOnStep lists the ids of a step's leads in the given progression.
func leadsOnStep(ctx context.Context, st store.Store, stepID string, progression model.Progression) ([]string, error) {
	step, err := st.GetStep(ctx, stepID)
	if err != nil {
		return nil, eris.Wrap(err, "load step")
	}
	leads, err := st.ListLeads(ctx, store.LeadFilter{
		JobID:       step.JobID,
		CurrentStep: step.StepNumber,
		Progression: progression,
	})
	if err != nil {
		return nil, eris.Wrap(err, "list step leads")
	}
	ids := make([]string, len(leads))
	for i, l := range leads {
		ids[i] = l.ID
	}
	return ids, nil
}

// printBulkResult reports a per-id bulk outcome.
func printBulkResult(out io.Writer, verb string, result *store.BulkResult) {
	fmt.Fprintf(out, "%d %s", len(result.Updated), verb)
	if len(result.Failed) > 0 {
		fmt.Fprintf(out, ", %d refused:", len(result.Failed))
		fmt.Fprintln(out)
		for _, f := range result.Failed {
			fmt.Fprintf(out, "  %s: %s\n", f.ID, f.Reason)
		}
		return
	}
	fmt.Fprintln(out)
}

// formatLeadList writes a tabular list of leads to w.
func formatLeadList(out io.Writer, leads []model.Lead) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "ID\tNAME\tSTEP\tPROGRESSION\tVALID\tDUP\tCONVERTED\tERROR")
	_, _ = fmt.Fprintln(w, "--\t----\t----\t-----------\t-----\t---\t---------\t-----")

	for _, l := range leads {
		name := l.Name
		if len(name) > 30 {
			name = name[:27] + "..."
		}
		errMsg := l.Error
		if len(errMsg) > 40 {
			errMsg = errMsg[:37] + "..."
		}
		_, _ = fmt.Fprintf(w, "%s\t%s\t%d\t%s\t%t\t%t\t%s\t%s\n",
			truncateID(l.ID),
			name,
			l.CurrentStep,
			l.Progression,
			l.IsValid,
			l.IsDuplicate,
			truncateID(l.ConvertedTo),
			errMsg,
		)
	}
	_ = w.Flush()
}
