package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/jsonschema-go/jsonschema"
	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/malbeclabs/askdata/api/handlers"
	"github.com/malbeclabs/askdata/pkg/classifier"
	"github.com/malbeclabs/askdata/pkg/metrics"
	"github.com/malbeclabs/askdata/pkg/schema"
)

const (
	askToolDescription = `
		Answer a business question about the connected database in plain English.
		The question is translated to a read-only SQL query, executed, and summarized.

		Use responseMode "pro" for a structured multi-section report. The default "quick"
		mode returns a single paragraph.

		The result includes the SQL that ran and up to the first rows of the result set.
	`
	classifyToolDescription = `
		Score how complex a question is and report whether it would take the fast path
		(a single SQL generation) or the multi-step agent. Nothing is executed.
	`
	schemaToolDescription = `
		Describe the tables available for questions. With no tables given, returns a
		one-line summary per table. With table names, returns their columns, types and
		sample values.
	`

	maxToolRows = 100
)

type AskInput struct {
	Question     string `json:"question" jsonschema:"the question to answer, at most 2000 characters"`
	ResponseMode string `json:"responseMode,omitempty" jsonschema:"quick (default) or pro"`
}

type AskOutput struct {
	Success      bool       `json:"success"`
	Response     string     `json:"response"`
	SQL          string     `json:"sql,omitempty"`
	Columns      []string   `json:"columns"`
	Rows         [][]string `json:"rows"`
	RowCount     int        `json:"rowCount"`
	ChartType    string     `json:"chartType,omitempty"`
	Error        string     `json:"error,omitempty"`
	Complexity   string     `json:"complexity"`
	UsedFastPath bool       `json:"usedFastPath"`
}

type ClassifyInput struct {
	Question string `json:"question" jsonschema:"the question to classify"`
}

type SchemaInput struct {
	Tables []string `json:"tables,omitempty" jsonschema:"table names to describe, all tables when empty"`
}

type SchemaOutput struct {
	Tables  []string `json:"tables"`
	Text    string   `json:"text"`
	Unknown []string `json:"unknown,omitempty"`
}

func RegisterAskTool(log *slog.Logger, server *mcp.Server, answerer Answerer) error {
	req, err := jsonschema.For[AskInput](nil)
	if err != nil {
		return fmt.Errorf("failed to create ask input schema: %w", err)
	}
	res, err := jsonschema.For[AskOutput](nil)
	if err != nil {
		return fmt.Errorf("failed to create ask output schema: %w", err)
	}

	mcp.AddTool(server, &mcp.Tool{
		Name:         "ask",
		Description:  askToolDescription,
		InputSchema:  req,
		OutputSchema: res,
	}, func(ctx context.Context, _ *mcp.CallToolRequest, in AskInput) (*mcp.CallToolResult, AskOutput, error) {
		start := time.Now()
		log.Debug("mcp/tool: handling ask", "question", in.Question)
		out, err := handleAsk(ctx, answerer, in)
		status := "success"
		switch {
		case err != nil:
			status = "error"
		case !out.Success:
			status = "failed"
		}
		observeTool("ask", status, start)
		if err != nil {
			return nil, AskOutput{}, err
		}
		return nil, out, nil
	})
	return nil
}

func handleAsk(ctx context.Context, answerer Answerer, in AskInput) (AskOutput, error) {
	req := handlers.QueryRequest{Question: in.Question, ResponseMode: in.ResponseMode}
	if err := req.Validate(); err != nil {
		return AskOutput{}, err
	}

	resp, _ := answerer.Answer(ctx, req)
	out := AskOutput{
		Success:  resp.Success,
		Response: resp.Response,
		Columns:  []string{},
		Rows:     [][]string{},
	}
	if resp.SQLQuery != nil {
		out.SQL = *resp.SQLQuery
	}
	if resp.Error != nil {
		out.Error = *resp.Error
	}
	if resp.Metadata != nil {
		out.Complexity = string(resp.Metadata.Complexity)
		out.UsedFastPath = resp.Metadata.UsedFastPath
	}
	if resp.ChartData != nil {
		out.ChartType = string(resp.ChartData.Type)
	}
	if t := resp.QueryResults; t != nil {
		out.Columns = append(out.Columns, t.Columns...)
		out.RowCount = t.RowCount()
		for _, row := range t.Head(maxToolRows).Rows {
			cells := make([]string, len(row))
			for i, c := range row {
				cells[i] = c.String()
			}
			out.Rows = append(out.Rows, cells)
		}
	}
	return out, nil
}

func RegisterClassifyTool(log *slog.Logger, server *mcp.Server, c *classifier.Classifier) error {
	req, err := jsonschema.For[ClassifyInput](nil)
	if err != nil {
		return fmt.Errorf("failed to create classify input schema: %w", err)
	}
	res, err := jsonschema.For[classifier.Result](nil)
	if err != nil {
		return fmt.Errorf("failed to create classify output schema: %w", err)
	}

	mcp.AddTool(server, &mcp.Tool{
		Name:         "classify",
		Description:  classifyToolDescription,
		InputSchema:  req,
		OutputSchema: res,
	}, func(_ context.Context, _ *mcp.CallToolRequest, in ClassifyInput) (*mcp.CallToolResult, classifier.Result, error) {
		start := time.Now()
		if strings.TrimSpace(in.Question) == "" {
			observeTool("classify", "error", start)
			return nil, classifier.Result{}, errors.New("question is required")
		}
		res := c.Classify(in.Question)
		log.Debug("mcp/tool: classified", "complexity", res.Complexity, "score", res.Score)
		observeTool("classify", "success", start)
		return nil, res, nil
	})
	return nil
}

func RegisterSchemaTool(log *slog.Logger, server *mcp.Server, source SchemaSource) error {
	req, err := jsonschema.For[SchemaInput](nil)
	if err != nil {
		return fmt.Errorf("failed to create schema input schema: %w", err)
	}
	res, err := jsonschema.For[SchemaOutput](nil)
	if err != nil {
		return fmt.Errorf("failed to create schema output schema: %w", err)
	}

	mcp.AddTool(server, &mcp.Tool{
		Name:         "schema",
		Description:  schemaToolDescription,
		InputSchema:  req,
		OutputSchema: res,
	}, func(ctx context.Context, _ *mcp.CallToolRequest, in SchemaInput) (*mcp.CallToolResult, SchemaOutput, error) {
		start := time.Now()
		tables, err := source.Tables(ctx)
		if err != nil {
			log.Error("mcp/tool: failed to load schema", "error", err)
			observeTool("schema", "error", start)
			return nil, SchemaOutput{}, fmt.Errorf("failed to load schema: %w", err)
		}
		out := SchemaOutput{Tables: schema.Names(tables)}
		if len(in.Tables) == 0 {
			out.Text = schema.Summary(tables)
		} else {
			out.Text, out.Unknown = schema.Describe(tables, in.Tables)
		}
		observeTool("schema", "success", start)
		return nil, out, nil
	})
	return nil
}

func observeTool(tool, status string, start time.Time) {
	metrics.MCPToolCallsTotal.WithLabelValues(tool, status).Inc()
	metrics.MCPToolCallDuration.WithLabelValues(tool).Observe(time.Since(start).Seconds())
}
