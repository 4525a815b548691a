// Package configsync implements the Gateway's periodic cloud config
// pull and ACK (§4.7).
package configsync

import (
	"context"
	"fmt"
	"time"

	"github.com/semit-takahashi/sast-gateway/internal/cloudclient"
	"github.com/semit-takahashi/sast-gateway/internal/frame"
	"github.com/semit-takahashi/sast-gateway/internal/store"
)

// Logger is the minimal logging surface ConfigSync needs.
type Logger interface {
	Printf(format string, v ...any)
}

// Store is the subset of *store.Store ConfigSync needs.
type Store interface {
	ApplyConfig(ctx context.Context, rows []store.Conf, cloudUpdatedAt time.Time) (store.ApplyResult, error)
}

// ConfigSync pulls the cloud config endpoint, applies it, and ACKs
// the outcome.
type ConfigSync struct {
	cloud *cloudclient.Client
	store Store
	log   Logger
}

// New builds a ConfigSync over an already-configured cloudclient.Client.
func New(cloud *cloudclient.Client, st Store, logger Logger) *ConfigSync {
	return &ConfigSync{cloud: cloud, store: st, log: logger}
}

// Sync runs one pull/apply/ack cycle (§4.7).
func (c *ConfigSync) Sync(ctx context.Context) error {
	updatedAt, rows, err := c.cloud.PullConfig(ctx)
	if err != nil {
		ackErr := c.cloud.Ack(ctx, fmt.Sprintf("config pull failed: %v", err))
		if ackErr != nil {
			c.log.Printf("configsync: ack after pull failure: %v", ackErr)
		}
		return fmt.Errorf("configsync: pull_config: %w", err)
	}

	confRows, err := toConf(rows)
	if err != nil {
		ackErr := c.cloud.Ack(ctx, fmt.Sprintf("config parse error: %v", err))
		if ackErr != nil {
			c.log.Printf("configsync: ack after parse failure: %v", ackErr)
		}
		return fmt.Errorf("configsync: parse rows: %w", err)
	}

	result, err := c.store.ApplyConfig(ctx, confRows, updatedAt)
	var mess string
	switch {
	case err != nil:
		mess = fmt.Sprintf("config apply error: %v", err)
	case result == store.ApplyUpdated:
		mess = "config updated"
	default:
		mess = "config unchanged"
	}
	if ackErr := c.cloud.Ack(ctx, mess); ackErr != nil {
		c.log.Printf("configsync: ack: %v", ackErr)
	}
	if err != nil {
		return fmt.Errorf("configsync: apply_config: %w", err)
	}
	return nil
}

func toConf(rows []cloudclient.ConfigRow) ([]store.Conf, error) {
	out := make([]store.Conf, 0, len(rows))
	for _, r := range rows {
		mac, err := frame.ParseMAC(r.MAC)
		if err != nil {
			return nil, fmt.Errorf("mac %q: %w", r.MAC, err)
		}
		warn, err := store.ParseThresholds(r.Warn)
		if err != nil {
			return nil, fmt.Errorf("warn for %q: %w", r.MAC, err)
		}
		out = append(out, store.Conf{
			MAC: mac, Name: r.Name, Node: r.Node, Use: r.Use, Warn: warn,
			AmbientConf: r.AmbientConf, DiscordToken: r.DiscordToken, Memo: r.Memo,
		})
	}
	return out, nil
}
