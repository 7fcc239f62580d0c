package cli

import (
	"io"
	"strconv"
	"strings"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"github.com/malbeclabs/askdata/pkg/classifier"
)

func newClassifyCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "classify <question>",
		Short: "Show how a question would be routed, without running it",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := opts.loadProfile()
			if err != nil {
				return err
			}

			c := classifier.New(classifier.Config{CannedQuestions: p.CannedQuestions, EntityKeywords: p.Entities})
			printClassification(cmd.OutOrStdout(), c.Classify(strings.Join(args, " ")))
			return nil
		},
	}
}

func printClassification(w io.Writer, res classifier.Result) {
	path := "multi-step agent"
	if res.UseFastPath {
		path = "fast path"
	}

	table := tablewriter.NewWriter(w)
	table.SetAutoWrapText(true)
	table.SetAutoFormatHeaders(false)
	table.SetAlignment(tablewriter.ALIGN_LEFT)
	table.SetBorder(true)
	table.AppendBulk([][]string{
		{"Complexity", string(res.Complexity)},
		{"Route", path},
		{"Score", strconv.FormatFloat(res.Score, 'f', 2, 64)},
		{"Confidence", strconv.FormatFloat(res.Confidence, 'f', 2, 64)},
		{"Estimated tables", strconv.Itoa(res.EstimatedTables)},
		{"Reason", res.Reason},
	})
	table.Render()
}
