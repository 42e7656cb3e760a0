package cli

import (
	"fmt"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"github.com/mgpai22/captioner/internal/transcribe"
)

func newModelsCommand() *cobra.Command {
	return &cobra.Command{
		Use:         "models",
		Short:       "List supported model sizes and recognizers",
		Args:        cobra.NoArgs,
		Annotations: map[string]string{skipConfigLoad: "true"},
		Run: func(cmd *cobra.Command, args []string) {
			out := cmd.OutOrStdout()
			fmt.Fprintln(out, renderList("Model", modelRows()))
			fmt.Fprintln(out, renderList("Engine", engineRows()))
		},
	}
}

func modelRows() [][2]string {
	var rows [][2]string
	for _, m := range transcribe.ModelSizes() {
		rows = append(rows, [2]string{string(m), defaultMark(m == transcribe.DefaultModel)})
	}
	return rows
}

func engineRows() [][2]string {
	var rows [][2]string
	for _, e := range transcribe.Engines() {
		rows = append(rows, [2]string{e, defaultMark(e == transcribe.DefaultEngine)})
	}
	return rows
}

func defaultMark(ok bool) string {
	if ok {
		return "yes"
	}
	return ""
}

func renderList(title string, rows [][2]string) string {
	tw := table.NewWriter()
	tw.SetStyle(table.StyleRounded)
	tw.AppendHeader(table.Row{title, "Default"})
	for _, r := range rows {
		tw.AppendRow(table.Row{r[0], r[1]})
	}
	return tw.Render()
}
