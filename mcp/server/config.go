package server

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/malbeclabs/askdata/api/handlers"
	"github.com/malbeclabs/askdata/pkg/classifier"
	"github.com/malbeclabs/askdata/pkg/schema"
)

const (
	defaultListenAddr        = ":8081"
	defaultReadHeaderTimeout = 5 * time.Second
	defaultShutdownTimeout   = 5 * time.Second
)

// Answerer runs the question pipeline. *handlers.QueryHandler satisfies it.
type Answerer interface {
	Answer(ctx context.Context, req handlers.QueryRequest) (handlers.QueryResponse, int)
}

// SchemaSource lists the cached tables. *schema.Cache satisfies it.
type SchemaSource interface {
	Tables(ctx context.Context) ([]schema.Table, error)
}

type Config struct {
	Logger *slog.Logger

	Answerer   Answerer
	Classifier *classifier.Classifier
	Schema     SchemaSource

	Name              string
	Version           string
	ListenAddr        string
	ReadHeaderTimeout time.Duration
	ShutdownTimeout   time.Duration
	AllowedTokens     []string // Bearer tokens allowed for MCP endpoint authentication
}

func (c *Config) Validate() error {
	if c.Logger == nil {
		return fmt.Errorf("logger is required")
	}
	if c.Answerer == nil {
		return fmt.Errorf("answerer is required")
	}
	if c.Classifier == nil {
		return fmt.Errorf("classifier is required")
	}
	if c.Schema == nil {
		return fmt.Errorf("schema source is required")
	}
	if c.Name == "" {
		c.Name = "askdata"
	}
	if c.Version == "" {
		c.Version = "dev"
	}
	if c.ListenAddr == "" {
		c.ListenAddr = defaultListenAddr
	}
	if c.ReadHeaderTimeout == 0 {
		c.ReadHeaderTimeout = defaultReadHeaderTimeout
	}
	if c.ShutdownTimeout == 0 {
		c.ShutdownTimeout = defaultShutdownTimeout
	}
	return nil
}
