// Package hub pushes locally produced assets to a remote hub. It is a
// thin collaborator over the store's pending ledger: read pending, POST,
// mark synced. No retries; whatever fails stays pending for the next run.
package hub

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/charmbracelet/log"

	"github.com/evolab/helix/internal/asset"
	"github.com/evolab/helix/internal/store"
)

const requestTimeout = 30 * time.Second

// Client talks to one hub endpoint.
type Client struct {
	store   *store.Store
	baseURL string
	http    *http.Client
}

func New(st *store.Store, baseURL string) *Client {
	return &Client{
		store:   st,
		baseURL: baseURL,
		http:    &http.Client{Timeout: requestTimeout},
	}
}

// Report summarizes one push run.
type Report struct {
	Pushed int
	Failed int
}

// Push uploads every pending asset and marks the accepted ones synced.
// Individual upload failures are logged and counted, not fatal.
func (c *Client) Push(ctx context.Context) (Report, error) {
	var rep Report

	pending, err := c.store.ListPending()
	if err != nil {
		return rep, err
	}

	for _, p := range pending {
		record, err := c.loadRecord(p)
		if err != nil {
			log.Warn("skipping unpushable asset", "kind", p.AssetType, "id", p.LocalID, "error", err)
			rep.Failed++
			continue
		}
		if err := c.upload(ctx, p.AssetType, record); err != nil {
			log.Warn("push failed", "kind", p.AssetType, "id", p.LocalID, "error", err)
			rep.Failed++
			continue
		}
		if err := c.store.MarkSynced(p.AssetType, p.LocalID); err != nil {
			return rep, err
		}
		rep.Pushed++
	}
	return rep, nil
}

func (c *Client) loadRecord(p asset.SyncStatus) (any, error) {
	switch p.AssetType {
	case asset.KindGene:
		return c.store.GetGene(p.LocalID)
	case asset.KindCapsule:
		return c.store.GetCapsule(p.LocalID)
	default:
		return nil, fmt.Errorf("unsupported asset type %q", p.AssetType)
	}
}

func (c *Client) upload(ctx context.Context, kind asset.Kind, record any) error {
	body, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("encode record: %w", err)
	}

	url := fmt.Sprintf("%s/api/v1/assets/%s", c.baseURL, kind)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("hub returned %s", resp.Status)
	}
	return nil
}
