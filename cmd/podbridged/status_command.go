package main

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"

	"podbridge/internal/aiworker"
	"podbridge/internal/daemon"
)

type statusKind int

const (
	statusInfo statusKind = iota
	statusOK
	statusWarn
	statusError
)

const (
	ansiReset  = "\x1b[0m"
	ansiRed    = "\x1b[31m"
	ansiGreen  = "\x1b[32m"
	ansiYellow = "\x1b[33m"
	ansiBlue   = "\x1b[34m"
)

func newStatusCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show daemon status",
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := ctx.client()
			if err != nil {
				return err
			}
			status, err := client.Status(cmd.Context())
			if err != nil {
				return err
			}
			renderStatus(cmd.OutOrStdout(), status)
			return nil
		},
	}
}

func renderStatus(out io.Writer, status daemon.Status) {
	colorize := shouldColorize(out)

	daemonKind := statusOK
	daemonLabel := "running"
	if !status.Running {
		daemonKind = statusError
		daemonLabel = "stopped"
	}
	fmt.Fprintln(out, renderStatusLine("Daemon", daemonKind, daemonLabel, colorize))

	workerKind := statusOK
	switch status.WorkerState {
	case aiworker.StateReady:
	case aiworker.StateStarting:
		workerKind = statusWarn
	default:
		workerKind = statusError
	}
	fmt.Fprintln(out, renderStatusLine("AI worker", workerKind, string(status.WorkerState), colorize))

	episodes := status.Episodes
	fmt.Fprintln(out, renderStatusLine("Episodes", statusInfo,
		fmt.Sprintf("%d total, %d pending, %d downloading, %d ready, %d failed",
			episodes.Total, episodes.Pending, episodes.Downloading, episodes.Ready, episodes.Failed), colorize))
	fmt.Fprintln(out, renderStatusLine("Subscribers", statusInfo, fmt.Sprintf("%d", status.Subscribers), colorize))
	fmt.Fprintln(out, renderStatusLine("Database", statusInfo, status.DatabasePath, colorize))
	if status.APIBindAddress != "" {
		fmt.Fprintln(out, renderStatusLine("API", statusInfo, status.APIBindAddress, colorize))
	}
}

const (
	statusLabelWidth = 14
	statusIndent     = "  "
)

func renderStatusLine(label string, kind statusKind, message string, colorize bool) string {
	statusText := fmt.Sprintf("[%s]", statusKindLabel(kind))
	if message != "" {
		statusText += " " + message
	}
	base := fmt.Sprintf("%s%-*s %s", statusIndent, statusLabelWidth, label+":", statusText)
	if colorize {
		if color := statusKindColor(kind); color != "" {
			return color + base + ansiReset
		}
	}
	return base
}

func statusKindLabel(kind statusKind) string {
	switch kind {
	case statusOK:
		return "OK"
	case statusWarn:
		return "WARN"
	case statusError:
		return "ERROR"
	default:
		return "INFO"
	}
}

func statusKindColor(kind statusKind) string {
	switch kind {
	case statusOK:
		return ansiGreen
	case statusWarn:
		return ansiYellow
	case statusError:
		return ansiRed
	case statusInfo:
		return ansiBlue
	default:
		return ""
	}
}

func shouldColorize(writer io.Writer) bool {
	if strings.TrimSpace(os.Getenv("NO_COLOR")) != "" {
		return false
	}
	file, ok := writer.(*os.File)
	if !ok {
		return false
	}
	fd := file.Fd()
	return isatty.IsTerminal(fd) || isatty.IsCygwinTerminal(fd)
}
