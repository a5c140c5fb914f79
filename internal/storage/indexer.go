package storage

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/instabets/marketd/internal/domain"
)

// Indexer is the node-discovery client. It asks the network indexer for
// healthy storage replicas and returns them in the indexer's preference
// order.
type Indexer struct {
	url        string
	httpClient *http.Client
}

// NewIndexer creates an indexer client for the given endpoint.
func NewIndexer(url string) *Indexer {
	return &Indexer{
		url: url,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// shardedNodes is the indexer's discovery response.
type shardedNodes struct {
	Trusted []struct {
		URL string `json:"url"`
	} `json:"trusted"`
}

// SelectNodes returns clients for up to n trusted replicas, preserving the
// indexer's ordering. It fails with domain.ErrNoStorageNodes when discovery
// returns an empty set.
func (ix *Indexer) SelectNodes(ctx context.Context, n int) ([]SegmentNode, error) {
	var discovered shardedNodes
	if err := rpcCall(ctx, ix.httpClient, ix.url, "indexer_getShardedNodes", nil, &discovered); err != nil {
		return nil, fmt.Errorf("storage/indexer: discover nodes: %w", err)
	}
	if len(discovered.Trusted) == 0 {
		return nil, fmt.Errorf("storage/indexer: %w", domain.ErrNoStorageNodes)
	}

	if n > len(discovered.Trusted) {
		n = len(discovered.Trusted)
	}
	nodes := make([]SegmentNode, 0, n)
	for _, t := range discovered.Trusted[:n] {
		nodes = append(nodes, NewNode(t.URL))
	}
	return nodes, nil
}

// StaticNodes wraps a fixed replica preference list, bypassing discovery.
func StaticNodes(urls []string) []SegmentNode {
	nodes := make([]SegmentNode, 0, len(urls))
	for _, u := range urls {
		nodes = append(nodes, NewNode(u))
	}
	return nodes
}
