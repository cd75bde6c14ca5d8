package main

import (
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"podbridge/internal/episode"
)

func newSubmitCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "submit <url>",
		Short: "Queue a video URL for audio download",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := ctx.client()
			if err != nil {
				return err
			}
			ep, created, err := client.Submit(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if created {
				fmt.Fprintf(out, "Queued episode %d (%s)\n", ep.ID, ep.SourceID)
			} else {
				fmt.Fprintf(out, "Episode %d already known (%s, status %s)\n", ep.ID, ep.SourceID, ep.Status)
			}
			return nil
		},
	}
}

func newListCommand(ctx *commandContext) *cobra.Command {
	var statusFilters []string

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List episodes",
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := ctx.client()
			if err != nil {
				return err
			}
			episodes, err := client.List(cmd.Context(), statusFilters...)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if len(episodes) == 0 {
				fmt.Fprintln(out, "No episodes")
				return nil
			}

			rows := make([][]string, 0, len(episodes))
			for _, ep := range episodes {
				rows = append(rows, []string{
					strconv.FormatInt(ep.ID, 10),
					truncate(displayTitle(ep), 40),
					string(ep.Status),
					pipelineCell(ep.TranslationStatus),
					pipelineCell(ep.TranscriptionStatus),
					pipelineCell(ep.GenerationStatus),
					formatDuration(ep.DurationSeconds),
				})
			}
			fmt.Fprintln(out, renderTable(
				[]string{"ID", "Title", "Status", "Translate", "Transcribe", "Generate", "Length"},
				rows,
				[]columnAlignment{alignRight, alignLeft, alignLeft, alignLeft, alignLeft, alignLeft, alignRight},
			))
			return nil
		},
	}

	cmd.Flags().StringSliceVar(&statusFilters, "status", nil, "Filter by status (pending, downloading, ready, failed)")
	return cmd
}

func newShowCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "show <id>",
		Short: "Show one episode in detail",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseEpisodeID(args[0])
			if err != nil {
				return err
			}
			client, err := ctx.client()
			if err != nil {
				return err
			}
			ep, err := client.Get(cmd.Context(), id)
			if err != nil {
				return err
			}
			printEpisode(cmd, ep)
			return nil
		},
	}
}

func newRemoveCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "remove <id>",
		Short: "Delete an episode record",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseEpisodeID(args[0])
			if err != nil {
				return err
			}
			client, err := ctx.client()
			if err != nil {
				return err
			}
			if err := client.Remove(cmd.Context(), id); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Removed episode %d\n", id)
			return nil
		},
	}
}

func newLogsCommand(ctx *commandContext) *cobra.Command {
	var task string

	cmd := &cobra.Command{
		Use:   "logs <id>",
		Short: "Show buffered task logs for an episode",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseEpisodeID(args[0])
			if err != nil {
				return err
			}
			client, err := ctx.client()
			if err != nil {
				return err
			}
			payload, err := client.Logs(cmd.Context(), id, task)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if len(payload.Entries) == 0 {
				fmt.Fprintf(out, "No buffered logs for %s\n", payload.Task)
				return nil
			}
			for _, entry := range payload.Entries {
				fmt.Fprintf(out, "%s [%s] %s\n", entry.Time.Local().Format(time.TimeOnly), strings.ToUpper(entry.Level), entry.Message)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&task, "task", "download", "Task to show (download, translation, transcription, generation)")
	return cmd
}

func newRetryCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "retry [id...]",
		Short: "Reset failed episodes back to pending",
		RunE: func(cmd *cobra.Command, args []string) error {
			ids := make([]int64, 0, len(args))
			for _, arg := range args {
				id, err := parseEpisodeID(arg)
				if err != nil {
					return err
				}
				ids = append(ids, id)
			}
			client, err := ctx.client()
			if err != nil {
				return err
			}
			affected, err := client.RetryFailed(cmd.Context(), ids)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Requeued %d episode(s)\n", affected)
			return nil
		},
	}
}

func newClearFailedCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "clear-failed",
		Short: "Remove all failed episodes",
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := ctx.client()
			if err != nil {
				return err
			}
			affected, err := client.ClearFailed(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Removed %d episode(s)\n", affected)
			return nil
		},
	}
}

func parseEpisodeID(value string) (int64, error) {
	id, err := strconv.ParseInt(strings.TrimSpace(value), 10, 64)
	if err != nil || id < 1 {
		return 0, fmt.Errorf("invalid episode id %q", value)
	}
	return id, nil
}

func displayTitle(ep *episode.Episode) string {
	if strings.TrimSpace(ep.Title) != "" {
		return ep.Title
	}
	return ep.SourceURL
}

func pipelineCell(status episode.PipelineStatus) string {
	if status == episode.PipelineNotStarted {
		return "-"
	}
	return string(status)
}

func truncate(value string, max int) string {
	runes := []rune(value)
	if len(runes) <= max {
		return value
	}
	if max <= 1 {
		return string(runes[:max])
	}
	return string(runes[:max-1]) + "…"
}

func formatDuration(seconds int64) string {
	if seconds <= 0 {
		return "-"
	}
	d := time.Duration(seconds) * time.Second
	if d >= time.Hour {
		return fmt.Sprintf("%d:%02d:%02d", int(d.Hours()), int(d.Minutes())%60, int(d.Seconds())%60)
	}
	return fmt.Sprintf("%d:%02d", int(d.Minutes()), int(d.Seconds())%60)
}

func printEpisode(cmd *cobra.Command, ep *episode.Episode) {
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Episode %d\n", ep.ID)
	fmt.Fprintf(out, "  Title:    %s\n", displayTitle(ep))
	if ep.Channel != "" {
		fmt.Fprintf(out, "  Channel:  %s\n", ep.Channel)
	}
	fmt.Fprintf(out, "  Source:   %s\n", ep.SourceURL)
	fmt.Fprintf(out, "  Status:   %s\n", ep.Status)
	if ep.ErrorMessage != "" {
		fmt.Fprintf(out, "  Error:    %s\n", ep.ErrorMessage)
	}
	if ep.MediaPath != "" {
		fmt.Fprintf(out, "  Media:    %s\n", ep.MediaPath)
	}
	if ep.DurationSeconds > 0 {
		fmt.Fprintf(out, "  Length:   %s\n", formatDuration(ep.DurationSeconds))
	}
	printPipelineDetail(out, "Translation", string(ep.TranslationStatus), ep.TranslationError, ep.TranslationPath)
	transcription := string(ep.TranscriptionStatus)
	if transcription != "" && ep.TranscriptionLanguage != "" {
		transcription += " (" + ep.TranscriptionLanguage + ")"
	}
	printPipelineDetail(out, "Transcription", transcription, ep.TranscriptionError, ep.TranscriptionPath)
	printPipelineDetail(out, "Generation", string(ep.GenerationStatus), ep.GenerationError, ep.GenerationScriptPath, ep.GenerationAudioPath)
}

func printPipelineDetail(out io.Writer, label, status, errMessage string, paths ...string) {
	if status == "" {
		return
	}
	fmt.Fprintf(out, "  %s: %s\n", label, status)
	if errMessage != "" {
		fmt.Fprintf(out, "    error: %s\n", errMessage)
	}
	for _, path := range paths {
		if path != "" {
			fmt.Fprintf(out, "    %s\n", path)
		}
	}
}
