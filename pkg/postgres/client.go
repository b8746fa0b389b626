// Package postgres opens and pools the database/sql connection behind the
// durable key-value map store: collection versions, settings blobs, and
// reindex job state all live there.
package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/lib/pq"

	"github.com/tenantgrid/index-pipeline/pkg/config"
)

// connectTimeout bounds the startup ping so a wrong host fails fast instead
// of hanging service boot.
const connectTimeout = 5 * time.Second

// Client owns the pooled connection. DB is exported because the map store
// issues its statements directly.
type Client struct {
	DB *sql.DB
}

// New opens a pooled connection and verifies it with a ping before handing
// it out.
func New(cfg config.PostgresConfig) (*Client, error) {
	db, err := sql.Open("postgres", cfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("opening postgres connection: %w", err)
	}
	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)

	ctx, cancel := context.WithTimeout(context.Background(), connectTimeout)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("pinging postgres: %w", err)
	}
	return &Client{DB: db}, nil
}

// Ping reports whether the connection is still alive; health checks call it.
func (c *Client) Ping(ctx context.Context) error {
	return c.DB.PingContext(ctx)
}

func (c *Client) Close() error {
	return c.DB.Close()
}
