package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

type pipelineAction struct {
	use    string
	short  string
	action string
	lang   bool
}

var pipelineActionDefs = []pipelineAction{
	{use: "translate <id>", short: "Translate a downloaded episode into Spanish audio", action: "translate"},
	{use: "transcribe <id>", short: "Transcribe a downloaded episode", action: "transcribe", lang: true},
	{use: "generate <id>", short: "Generate a podcast script and audio from a transcript", action: "generate"},
}

func newPipelineCommands(ctx *commandContext) []*cobra.Command {
	commands := make([]*cobra.Command, 0, len(pipelineActionDefs))
	for _, def := range pipelineActionDefs {
		commands = append(commands, newPipelineCommand(ctx, def))
	}
	return commands
}

func newPipelineCommand(ctx *commandContext, def pipelineAction) *cobra.Command {
	var force bool
	var wait bool
	var language string

	cmd := &cobra.Command{
		Use:   def.use,
		Short: def.short,
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
			ep, err := client.RunPipeline(cmd.Context(), id, def.action, force, language, wait)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if !wait {
				fmt.Fprintf(out, "Started %s for episode %d; follow progress with 'podbridged logs %d'\n", def.action, id, id)
				return nil
			}
			printEpisode(cmd, ep)
			return nil
		},
	}

	cmd.Flags().BoolVar(&force, "force", false, "Rerun even if this pipeline already completed")
	cmd.Flags().BoolVar(&wait, "wait", false, "Block until the pipeline finishes")
	if def.lang {
		cmd.Flags().StringVar(&language, "language", "", "Transcription language code (defaults to configuration)")
	}
	return cmd
}
