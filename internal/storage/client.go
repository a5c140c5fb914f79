package storage

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/instabets/marketd/internal/domain"
)

// NodeSelector discovers storage replicas. The Indexer implements it; a
// static list or a test fake works too.
type NodeSelector interface {
	SelectNodes(ctx context.Context, n int) ([]SegmentNode, error)
}

// staticSelector returns a fixed replica list regardless of n.
type staticSelector struct{ nodes []SegmentNode }

func (s staticSelector) SelectNodes(ctx context.Context, n int) ([]SegmentNode, error) {
	if len(s.nodes) == 0 {
		return nil, domain.ErrNoStorageNodes
	}
	return s.nodes, nil
}

// FixedNodes is a NodeSelector over a fixed replica list, for deployments
// that pin their storage nodes instead of using indexer discovery.
func FixedNodes(nodes []SegmentNode) NodeSelector { return staticSelector{nodes: nodes} }

// Option configures a Client.
type Option func(*Client)

// WithReplicas sets how many replicas node discovery asks for.
func WithReplicas(n int) Option { return func(c *Client) { c.replicas = n } }

// WithPolling overrides the indexing/finalization polling schedule.
func WithPolling(attempts int, interval time.Duration) Option {
	return func(c *Client) {
		c.pollAttempts = attempts
		c.pollInterval = interval
	}
}

// WithTags sets the tag bytes attached to every flow submission.
func WithTags(tags []byte) Option { return func(c *Client) { c.tags = tags } }

// Client uploads payloads to the content-addressed storage network and
// retrieves them by root. It implements domain.ContentStore.
type Client struct {
	selector NodeSelector
	flow     Submitter
	logger   *slog.Logger

	replicas     int
	pollAttempts int
	pollInterval time.Duration
	tags         []byte
}

// NewClient wires a storage client over the given replica selector and flow
// submitter. Defaults: 4 replicas, 120 poll attempts at 1s.
func NewClient(selector NodeSelector, flow Submitter, logger *slog.Logger, opts ...Option) *Client {
	c := &Client{
		selector:     selector,
		flow:         flow,
		logger:       logger.With("component", "storage"),
		replicas:     4,
		pollAttempts: 120,
		pollInterval: time.Second,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Upload anchors the payload on the storage network and returns its content
// address. Byte-identical payloads always produce the same address; when the
// network already holds the object finalized, Upload returns without paying
// a second fee or sending a second transaction.
func (c *Client) Upload(ctx context.Context, payload []byte) (domain.ContentAddress, error) {
	tree := BuildTree(payload)
	root := tree.Root()

	nodes, err := c.selector.SelectNodes(ctx, c.replicas)
	if err != nil {
		return domain.ZeroContentAddress, fmt.Errorf("storage: select nodes: %w", err)
	}

	if c.alreadyFinalized(ctx, nodes, root) {
		c.logger.Info("upload deduplicated", "root", root.Hex())
		return root, nil
	}

	price, err := c.flow.PricePerSector(ctx)
	if err != nil {
		return domain.ZeroContentAddress, fmt.Errorf("storage: read sector price: %w", err)
	}
	fee := FeeForNodes(tree.Nodes(), price)

	txSeq, err := c.flow.Submit(ctx, SubmissionDescriptor{
		Length: tree.Size(),
		Tags:   c.tags,
		Nodes:  tree.Nodes(),
	}, fee)
	if err != nil {
		return domain.ZeroContentAddress, fmt.Errorf("storage: submit: %w", err)
	}
	c.logger.Info("submission accepted",
		"root", root.Hex(), "tx_seq", txSeq, "size", tree.Size(), "fee_wei", fee.String())

	ready, err := c.waitIndexed(ctx, nodes, txSeq)
	if err != nil {
		return domain.ZeroContentAddress, err
	}
	if err := c.uploadSegments(ctx, ready, tree, payload, txSeq); err != nil {
		return domain.ZeroContentAddress, err
	}
	if err := c.waitFinalized(ctx, nodes, root); err != nil {
		return domain.ZeroContentAddress, err
	}

	c.logger.Info("upload finalized", "root", root.Hex(), "tx_seq", txSeq)
	return root, nil
}

// alreadyFinalized reports whether any replica already holds the object in
// finalized state.
func (c *Client) alreadyFinalized(ctx context.Context, nodes []SegmentNode, root domain.ContentAddress) bool {
	for _, node := range nodes {
		info, err := node.FileInfo(ctx, root)
		if err != nil || info == nil {
			continue
		}
		if info.Finalized {
			return true
		}
	}
	return false
}

// waitIndexed polls until at least one replica has picked up the submission
// from the chain, and returns the replicas that have; only those are ready
// to accept segment data. A lagging replica is skipped rather than failing
// the whole upload.
func (c *Client) waitIndexed(ctx context.Context, nodes []SegmentNode, txSeq uint64) ([]SegmentNode, error) {
	for attempt := 0; attempt < c.pollAttempts; attempt++ {
		var ready []SegmentNode
		for _, node := range nodes {
			info, err := node.FileInfoByTxSeq(ctx, txSeq)
			if err == nil && info != nil {
				ready = append(ready, node)
			}
		}
		if len(ready) > 0 {
			return ready, nil
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(c.pollInterval):
		}
	}
	return nil, domain.ErrIndexingTimeout
}

// uploadSegments pushes every segment with its proof to the replicas, each
// segment to the first replica in preference order that accepts it.
func (c *Client) uploadSegments(ctx context.Context, nodes []SegmentNode, tree *Tree, payload []byte, txSeq uint64) error {
	rootHex := tree.Root().Hex()
	for i := 0; i < tree.NumSegments(); i++ {
		seg := SegmentWithProof{
			Root:     rootHex,
			Data:     tree.PaddedSegment(i, payload),
			Index:    i,
			Proof:    tree.ProofAt(i),
			FileSize: tree.Size(),
		}
		accepted := false
		for _, node := range nodes {
			if err := node.UploadSegment(ctx, seg, txSeq); err != nil {
				c.logger.Warn("segment upload refused",
					"node", node.URL(), "segment", i, "error", err)
				continue
			}
			accepted = true
			break
		}
		if !accepted {
			return fmt.Errorf("storage: segment %d: %w", i, domain.ErrSegmentRejected)
		}
	}
	return nil
}

// waitFinalized polls until some replica reports the object finalized.
func (c *Client) waitFinalized(ctx context.Context, nodes []SegmentNode, root domain.ContentAddress) error {
	for attempt := 0; attempt < c.pollAttempts; attempt++ {
		if c.alreadyFinalized(ctx, nodes, root) {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(c.pollInterval):
		}
	}
	return domain.ErrFinalizationTimeout
}

// Download retrieves the object at addr and verifies the bytes hash back to
// it. A mismatch is ErrCorrupt; an address the network has never seen is
// ErrNotFound.
func (c *Client) Download(ctx context.Context, addr domain.ContentAddress) ([]byte, error) {
	nodes, err := c.selector.SelectNodes(ctx, c.replicas)
	if err != nil {
		return nil, fmt.Errorf("storage: select nodes: %w", err)
	}

	var info *FileInfo
	for _, node := range nodes {
		fi, err := node.FileInfo(ctx, addr)
		if err != nil || fi == nil {
			continue
		}
		info = fi
		break
	}
	if info == nil {
		return nil, fmt.Errorf("storage: %s: %w", addr.Hex(), domain.ErrNotFound)
	}

	size := int(info.Tx.Size)
	numChunks := (size + ChunkSize - 1) / ChunkSize
	if numChunks == 0 {
		numChunks = 1
	}

	var buf bytes.Buffer
	for start := 0; start < numChunks; start += SegmentMaxChunks {
		end := min(start+SegmentMaxChunks, numChunks)
		data, err := c.downloadRange(ctx, nodes, addr, start, end)
		if err != nil {
			return nil, err
		}
		buf.Write(data)
	}

	payload := buf.Bytes()
	if len(payload) > size {
		payload = payload[:size]
	}
	if BuildTree(payload).Root() != addr {
		return nil, fmt.Errorf("storage: %s: %w", addr.Hex(), domain.ErrCorrupt)
	}
	return payload, nil
}

// downloadRange fetches a chunk range from the first replica that serves it.
func (c *Client) downloadRange(ctx context.Context, nodes []SegmentNode, addr domain.ContentAddress, startChunk, endChunk int) ([]byte, error) {
	var lastErr error
	for _, node := range nodes {
		data, err := node.DownloadSegment(ctx, addr, startChunk, endChunk)
		if err != nil {
			lastErr = err
			continue
		}
		return data, nil
	}
	return nil, fmt.Errorf("storage: chunks [%d,%d) of %s: %w", startChunk, endChunk, addr.Hex(), lastErr)
}

var _ domain.ContentStore = (*Client)(nil)
