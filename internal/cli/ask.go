package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"github.com/malbeclabs/askdata/api/handlers"
	"github.com/malbeclabs/askdata/pkg/agent"
	"github.com/malbeclabs/askdata/pkg/chart"
)

const maxPrintedRows = 50

func newAskCmd(opts *options) *cobra.Command {
	var (
		mode      string
		showTrace bool
		asJSON    bool
	)

	cmd := &cobra.Command{
		Use:   "ask <question>",
		Short: "Answer a question and print the insights and results",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			log := newLogger(opts.verbose)
			ctx := cmd.Context()

			req := handlers.QueryRequest{
				Question:     strings.Join(args, " "),
				ResponseMode: mode,
				IncludeTrace: showTrace,
			}
			if err := req.Validate(); err != nil {
				return err
			}

			a, err := newApp(ctx, log, opts)
			if err != nil {
				return err
			}
			defer a.Close()
			a.loadSchema(ctx)

			resp, _ := a.query.Answer(ctx, req)
			out := cmd.OutOrStdout()
			if asJSON {
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				return enc.Encode(resp)
			}
			printAnswer(out, resp)
			if !resp.Success {
				return errors.New("question could not be answered")
			}
			return nil
		},
	}

	flags := cmd.Flags()
	flags.StringVarP(&mode, "mode", "m", "quick", "response mode: quick or pro")
	flags.BoolVar(&showTrace, "trace", false, "print the agent trace")
	flags.BoolVar(&asJSON, "json", false, "print the raw response as JSON")
	return cmd
}

func printAnswer(w io.Writer, resp handlers.QueryResponse) {
	fmt.Fprintln(w, resp.Response)
	fmt.Fprintln(w)

	if resp.SQLQuery != nil {
		fmt.Fprintf(w, "SQL:\n  %s\n\n", *resp.SQLQuery)
	}
	if resp.QueryResults != nil && len(resp.QueryResults.Columns) > 0 {
		printResults(w, resp.QueryResults)
	}
	if len(resp.Trace) > 0 {
		printTrace(w, resp.Trace)
	}
	if m := resp.Metadata; m != nil {
		path := "agent"
		if m.UsedFastPath {
			path = "fast path"
		}
		fmt.Fprintf(w, "%s question, %s, %s ms\n", m.Complexity, path, humanize.Comma(m.ExecutionTimeMs))
	}
}

func printResults(w io.Writer, t *chart.Table) {
	table := tablewriter.NewWriter(w)
	table.SetAutoWrapText(false)
	table.SetHeaderAlignment(tablewriter.ALIGN_CENTER)
	table.SetAutoFormatHeaders(false)
	table.SetBorder(true)

	header := make([]string, len(t.Columns))
	for i, c := range t.Columns {
		header[i] = chart.FriendlyColumnName(c)
	}
	table.SetHeader(header)
	for _, row := range t.Head(maxPrintedRows).Rows {
		cells := make([]string, len(row))
		for i, c := range row {
			cells[i] = c.String()
		}
		table.Append(cells)
	}
	table.Render()

	if n := t.RowCount(); n > maxPrintedRows {
		fmt.Fprintf(w, "(%s of %s rows shown)\n", humanize.Comma(maxPrintedRows), humanize.Comma(int64(n)))
	}
	fmt.Fprintln(w)
}

func printTrace(w io.Writer, steps []agent.Step) {
	table := tablewriter.NewWriter(w)
	table.SetAutoWrapText(true)
	table.SetAutoFormatHeaders(false)
	table.SetRowLine(true)
	table.SetHeader([]string{"#", "State", "Detail", "ms"})
	for _, s := range steps {
		detail := s.Thought
		switch {
		case s.Error != "":
			detail = "error: " + s.Error
		case s.SQL != "":
			detail = s.SQL
		case len(s.Tables) > 0:
			detail = strings.Join(s.Tables, ", ")
		case s.Observation != "":
			detail = firstLine(s.Observation)
		}
		table.Append([]string{strconv.Itoa(s.Index), string(s.State), detail, strconv.FormatInt(s.DurationMs, 10)})
	}
	table.Render()
	fmt.Fprintln(w)
}

func firstLine(s string) string {
	line, _, _ := strings.Cut(strings.TrimSpace(s), "\n")
	return line
}
