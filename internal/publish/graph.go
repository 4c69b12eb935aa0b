package publish

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"

	"github.com/nao1215/darc/internal/model"
)

// SessionRunner abstracts neo4j.SessionWithContext.
type SessionRunner interface {
	ExecuteWrite(ctx context.Context, work neo4j.ManagedTransactionWork, configurers ...func(*neo4j.TransactionConfig)) (any, error)
	Close(ctx context.Context) error
}

// DriverSessioner abstracts neo4j.DriverWithContext.
type DriverSessioner interface {
	NewSession(ctx context.Context, config neo4j.SessionConfig) SessionRunner
	Close(ctx context.Context) error
}

type neo4jDriver struct {
	driver neo4j.DriverWithContext
}

func (d *neo4jDriver) NewSession(ctx context.Context, config neo4j.SessionConfig) SessionRunner {
	return d.driver.NewSession(ctx, config)
}

func (d *neo4jDriver) Close(ctx context.Context) error {
	return d.driver.Close(ctx)
}

// GraphSink records pages and the links between them in Neo4j.
type GraphSink struct {
	driver   DriverSessioner
	database string
	logger   *slog.Logger
}

// DialGraph connects to Neo4j at uri and verifies the connection.
func DialGraph(ctx context.Context, uri, user, password string, logger *slog.Logger) (*GraphSink, error) {
	driver, err := neo4j.NewDriverWithContext(uri, neo4j.BasicAuth(user, password, ""))
	if err != nil {
		return nil, fmt.Errorf("failed to create neo4j driver: %w", err)
	}
	if err := driver.VerifyConnectivity(ctx); err != nil {
		_ = driver.Close(ctx)
		return nil, fmt.Errorf("failed to connect to neo4j at %s: %w", uri, err)
	}
	return NewGraphSink(&neo4jDriver{driver: driver}, "", logger), nil
}

// NewGraphSink creates a sink on an existing driver. An empty database
// selects the server default.
func NewGraphSink(driver DriverSessioner, database string, logger *slog.Logger) *GraphSink {
	if logger == nil {
		logger = slog.Default()
	}
	return &GraphSink{driver: driver, database: database, logger: logger}
}

// Publish implements Sink. Only successful visits change the graph.
func (g *GraphSink) Publish(ctx context.Context, v *model.VisitOutcome) error {
	if !v.Kind.Successful() {
		return nil
	}
	query, params := buildPageQuery(v)

	session := g.driver.NewSession(ctx, neo4j.SessionConfig{
		AccessMode:   neo4j.AccessModeWrite,
		DatabaseName: g.database,
	})
	defer func() {
		if err := session.Close(ctx); err != nil {
			g.logger.Warn("neo4j session close error", "error", err)
		}
	}()

	_, err := session.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		_, err := tx.Run(ctx, query, params)
		return nil, err
	})
	if err != nil {
		return fmt.Errorf("failed to write graph for %s: %w", v.URL, err)
	}
	return nil
}

// Close closes the driver.
func (g *GraphSink) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return g.driver.Close(ctx)
}

func buildPageQuery(v *model.VisitOutcome) (string, map[string]any) {
	query := "MERGE (p:Page {url: $url}) " +
		"SET p.host = $host, p.kind = $kind, p.status_code = $status_code, p.rendered = $rendered, p.visited_at = $visited_at " +
		"WITH p " +
		"UNWIND $links AS link " +
		"MERGE (q:Page {url: link.url}) " +
		"ON CREATE SET q.host = link.host " +
		"MERGE (p)-[:LINKS_TO]->(q)"

	links := make([]map[string]any, 0, len(v.Links))
	for _, l := range v.Links {
		links = append(links, map[string]any{"url": l, "host": model.Host(l)})
	}
	params := map[string]any{
		"url":         v.URL,
		"host":        model.Host(v.URL),
		"kind":        string(v.Kind),
		"status_code": v.StatusCode,
		"rendered":    v.Rendered,
		"visited_at":  v.Timestamp.UTC(),
		"links":       links,
	}
	return query, params
}
