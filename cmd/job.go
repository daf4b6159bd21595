package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/platewise/leadscout/internal/model"
	"github.com/platewise/leadscout/internal/pipeline"
	"github.com/platewise/leadscout/internal/store"
)

var jobCmd = &cobra.Command{
	Use:   "job",
	Short: "Manage scrape jobs",
	Long:  "Commands for creating, starting, inspecting, and cancelling scrape jobs.",
}

// -- job create --

var jobCreateCmd = &cobra.Command{
	Use:   "create",
	Short: "Create a scrape job in draft",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		env, err := initEnv(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		platform, _ := cmd.Flags().GetString("platform")
		locality, _ := cmd.Flags().GetString("locality")
		category, _ := cmd.Flags().GetString("category")
		limit, _ := cmd.Flags().GetInt("limit")
		offset, _ := cmd.Flags().GetInt("offset")
		start, _ := cmd.Flags().GetBool("start")

		job, err := env.Orchestrator.CreateJob(ctx, model.JobConfig{
			Platform: platform,
			Locality: locality,
			Category: category,
			Limit:    limit,
			Offset:   offset,
		})
		if err != nil {
			return eris.Wrap(err, "job create")
		}
		fmt.Printf("Created job %s (%s, %s)\n", job.ID, job.Platform, job.Locality)

		if start {
			if err := env.Orchestrator.StartJob(ctx, job.ID); err != nil {
				return eris.Wrap(err, "job start")
			}
			return printJobSummary(ctx, os.Stdout, env.Store, job.ID)
		}
		return nil
	},
}

// -- job start --

var jobStartCmd = &cobra.Command{
	Use:   "start <job-id>",
	Short: "Start a draft job and run it until operator action is needed",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		env, err := initEnv(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		if err := env.Orchestrator.StartJob(ctx, args[0]); err != nil {
			return eris.Wrap(err, "job start")
		}
		return printJobSummary(ctx, os.Stdout, env.Store, args[0])
	},
}

// -- job cancel --

var jobCancelCmd = &cobra.Command{
	Use:   "cancel <job-id>",
	Short: "Cancel a running job",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		env, err := initEnv(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		if err := env.Orchestrator.CancelJob(ctx, args[0]); err != nil {
			return eris.Wrap(err, "job cancel")
		}
		fmt.Printf("Cancelled job %s\n", args[0])
		return nil
	},
}

// -- job list --

var jobListCmd = &cobra.Command{
	Use:   "list",
	Short: "List jobs",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		env, err := initEnv(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		status, _ := cmd.Flags().GetString("status")
		platform, _ := cmd.Flags().GetString("platform")
		limit, _ := cmd.Flags().GetInt("limit")

		jobs, err := env.Store.ListJobs(ctx, store.JobFilter{
			Status:   model.JobStatus(status),
			Platform: platform,
			Limit:    limit,
		})
		if err != nil {
			return eris.Wrap(err, "job list")
		}
		if len(jobs) == 0 {
			fmt.Fprintln(os.Stderr, "No jobs found.")
			return nil
		}

		formatJobList(os.Stdout, jobs)
		return nil
	},
}

// -- job show --

var jobShowCmd = &cobra.Command{
	Use:   "show <job-id>",
	Short: "Show a job with its steps",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		env, err := initEnv(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		job, err := env.Store.GetJob(ctx, args[0])
		if err != nil {
			return eris.Wrap(err, "job show")
		}
		steps, err := env.Store.ListSteps(ctx, args[0])
		if err != nil {
			return eris.Wrap(err, "job show")
		}

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(struct {
			*model.Job
			Steps []model.Step `json:"steps"`
		}{job, steps})
	},
}

// -- job delete --

var jobDeleteCmd = &cobra.Command{
	Use:   "delete <job-id>",
	Short: "Delete a job and all its leads",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		env, err := initEnv(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		if err := env.Orchestrator.DeleteJob(ctx, args[0]); err != nil {
			return eris.Wrap(err, "job delete")
		}
		fmt.Printf("Deleted job %s\n", args[0])
		return nil
	},
}

// -- job platforms --

var jobPlatformsCmd = &cobra.Command{
	Use:   "platforms",
	Short: "List supported listing platforms",
	RunE: func(cmd *cobra.Command, _ []string) error {
		fmt.Println(strings.Join(pipeline.Platforms(), "\n"))
		return nil
	},
}

func init() {
	jobCreateCmd.Flags().String("platform", "", "listing platform (ubereats, doordash, grubhub)")
	jobCreateCmd.Flags().String("locality", "", "city or area to search")
	jobCreateCmd.Flags().String("category", "", "cuisine or search category")
	jobCreateCmd.Flags().Int("limit", 50, "max listings to extract (1-999)")
	jobCreateCmd.Flags().Int("offset", 0, "pagination offset into search results")
	jobCreateCmd.Flags().Bool("start", false, "start the job immediately")
	_ = jobCreateCmd.MarkFlagRequired("platform")
	_ = jobCreateCmd.MarkFlagRequired("locality")

	jobListCmd.Flags().String("status", "", "filter by job status (draft, pending, in_progress, ...)")
	jobListCmd.Flags().String("platform", "", "filter by platform")
	jobListCmd.Flags().Int("limit", 50, "max number of jobs to display")

	jobCmd.AddCommand(jobCreateCmd)
	jobCmd.AddCommand(jobStartCmd)
	jobCmd.AddCommand(jobCancelCmd)
	jobCmd.AddCommand(jobListCmd)
	jobCmd.AddCommand(jobShowCmd)
	jobCmd.AddCommand(jobDeleteCmd)
	jobCmd.AddCommand(jobPlatformsCmd)
	rootCmd.AddCommand(jobCmd)
}

// printJobSummary writes the post-run state of a job and its steps.
func printJobSummary(ctx context.Context, out io.Writer, st store.Store, jobID string) error {
	job, err := st.GetJob(ctx, jobID)
	if err != nil {
		return eris.Wrap(err, "job summary")
	}
	steps, err := st.ListSteps(ctx, jobID)
	if err != nil {
		return eris.Wrap(err, "job summary")
	}

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintf(w, "Job:\t%s\n", job.ID)
	_, _ = fmt.Fprintf(w, "Status:\t%s\n", job.Status)
	_, _ = fmt.Fprintf(w, "Step:\t%d/%d\n", job.CurrentStep, job.TotalSteps)
	_, _ = fmt.Fprintf(w, "Extracted:\t%d\n", job.Extracted)
	_, _ = fmt.Fprintf(w, "Passed:\t%d\n", job.Passed)
	_, _ = fmt.Fprintf(w, "Failed:\t%d\n", job.Failed)
	_ = w.Flush()

	w = tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "\nSTEP\tNAME\tTYPE\tSTATUS\tRECEIVED\tPASSED\tFAILED")
	for _, s := range steps {
		_, _ = fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%d\t%d\t%d\n",
			s.StepNumber, s.Name, s.Type, s.Status, s.Received, s.Passed, s.Failed)
	}
	_ = w.Flush()
	return nil
}

// formatJobList writes a tabular list of jobs to w.
func formatJobList(out io.Writer, jobs []model.Job) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "ID\tPLATFORM\tLOCALITY\tSTATUS\tSTEP\tEXTRACTED\tPASSED\tFAILED\tCREATED")
	_, _ = fmt.Fprintln(w, "--\t--------\t--------\t------\t----\t---------\t------\t------\t-------")

	for _, j := range jobs {
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%d/%d\t%d\t%d\t%d\t%s\n",
			truncateID(j.ID),
			j.Platform,
			j.Locality,
			j.Status,
			j.CurrentStep, j.TotalSteps,
			j.Extracted,
			j.Passed,
			j.Failed,
			j.CreatedAt.Format("2006-01-02 15:04"),
		)
	}
	_ = w.Flush()
}

// truncateID returns the first 8 characters of a UUID for compact display.
func truncateID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
