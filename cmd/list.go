package cmd

import (
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/andresmejia3/vocalis/internal/report"
	"github.com/andresmejia3/vocalis/internal/store"
	"github.com/andresmejia3/vocalis/internal/types"
	"github.com/andresmejia3/vocalis/internal/utils"
)

var (
	listInput  string
	listReport string
	listRuns   bool
)

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List the speech clips of a recording (from the database) or of a report file",
	RunE: func(cmd *cobra.Command, args []string) error {
		if listReport != "" {
			clips, err := report.Load(listReport)
			if err != nil {
				return fmt.Errorf("failed to read report: %w", err)
			}
			printClips(os.Stdout, clips)
			return nil
		}

		if err := connectDB(cmd.Context(), true); err != nil {
			return err
		}
		recordingID, err := utils.GenerateRecordingID(listInput)
		if err != nil {
			return fmt.Errorf("failed to generate recording ID: %w", err)
		}

		if listRuns {
			runs, err := DB.ListRuns(cmd.Context(), recordingID)
			if err != nil {
				return fmt.Errorf("failed to list runs: %w", err)
			}
			printRuns(os.Stdout, runs)
			return nil
		}

		run, err := DB.LatestRun(cmd.Context(), recordingID)
		if store.IsNotFound(err) {
			fmt.Println("No runs found for this recording.")
			return nil
		}
		if err != nil {
			return fmt.Errorf("failed to find latest run: %w", err)
		}
		clips, err := DB.ListClips(cmd.Context(), run.ID)
		if err != nil {
			return fmt.Errorf("failed to list clips: %w", err)
		}
		fmt.Printf("Run %s (%s, %s)\n", run.ID, run.Status, run.StartedAt.Local().Format("2006-01-02 15:04"))
		printClips(os.Stdout, clips)
		return nil
	},
}

func init() {
	listCmd.Flags().StringVarP(&listInput, "input", "i", "", "Recording whose stored clips to list")
	listCmd.Flags().StringVar(&listReport, "report", "", "Read clips from a report file instead of the database")
	listCmd.Flags().BoolVar(&listRuns, "runs", false, "List the runs of the recording instead of its clips")
	listCmd.MarkFlagsOneRequired("input", "report")
	listCmd.MarkFlagsMutuallyExclusive("input", "report")
	rootCmd.AddCommand(listCmd)
}

func printClips(out io.Writer, clips []types.Clip) {
	if len(clips) == 0 {
		fmt.Fprintln(out, "No clips found.")
		return
	}

	w := tabwriter.NewWriter(out, 0, 0, 3, ' ', 0)
	fmt.Fprintln(w, "PERIOD\tCLIP\tSTART\tEND\tDURATION\tPATH")
	fmt.Fprintln(w, "------\t----\t-----\t---\t--------\t----")

	for _, c := range clips {
		fmt.Fprintf(w, "%d\t%d\t%s\t%s\t%.2fs\t%s\n", c.PeriodID, c.Index,
			report.FormatTime(c.AbsoluteStart), report.FormatTime(c.AbsoluteEnd), c.AbsoluteEnd-c.AbsoluteStart, c.Path)
	}
	w.Flush()
}

func printRuns(out io.Writer, runs []store.Run) {
	if len(runs) == 0 {
		fmt.Fprintln(out, "No runs found.")
		return
	}

	w := tabwriter.NewWriter(out, 0, 0, 3, ' ', 0)
	fmt.Fprintln(w, "RUN\tSTATUS\tCLIPS\tDISCARDED\tAGGRESSIVENESS\tSTARTED")
	fmt.Fprintln(w, "---\t------\t-----\t---------\t--------------\t-------")

	for _, r := range runs {
		fmt.Fprintf(w, "%s\t%s\t%d\t%d\t%d\t%s\n", r.ID, r.Status, r.Clips, r.Discards,
			r.Params.Aggressiveness, r.StartedAt.Local().Format("2006-01-02 15:04"))
	}
	w.Flush()
}
