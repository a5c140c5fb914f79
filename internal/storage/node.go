package storage

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/instabets/marketd/internal/domain"
)

// SegmentNode is the per-replica surface the upload/download paths need.
// *Node implements it against a real storage replica; tests substitute
// in-memory fakes.
type SegmentNode interface {
	URL() string
	Status(ctx context.Context) (NodeStatus, error)
	// FileInfo returns nil (and no error) when the network has no record
	// of the address.
	FileInfo(ctx context.Context, addr domain.ContentAddress) (*FileInfo, error)
	FileInfoByTxSeq(ctx context.Context, txSeq uint64) (*FileInfo, error)
	UploadSegment(ctx context.Context, seg SegmentWithProof, txSeq uint64) error
	// DownloadSegment fetches the chunks [startChunk, endChunk) of the
	// object at addr.
	DownloadSegment(ctx context.Context, addr domain.ContentAddress, startChunk, endChunk int) ([]byte, error)
}

// NodeStatus is the subset of a replica's status report the client uses:
// the flow contract address the replica follows.
type NodeStatus struct {
	NetworkIdentity struct {
		FlowAddress string `json:"flowAddress"`
	} `json:"networkIdentity"`
}

// FileInfo is a replica's view of one submitted object.
type FileInfo struct {
	Tx struct {
		Seq  uint64 `json:"seq"`
		Size uint64 `json:"size"`
	} `json:"tx"`
	Finalized bool `json:"finalized"`
}

// SegmentWithProof is the upload payload for one segment: the padded bytes,
// the segment's position, and its Merkle inclusion proof against the file
// root.
type SegmentWithProof struct {
	Root     string       `json:"root"` // file root, 0x hex
	Data     []byte       `json:"data"` // base64 on the wire
	Index    int          `json:"index"`
	Proof    SegmentProof `json:"proof"`
	FileSize int          `json:"fileSize"`
}

// Node is a JSON-RPC 2.0 client for a single storage replica.
type Node struct {
	url        string
	httpClient *http.Client
}

// NewNode creates a client for the replica at url.
func NewNode(url string) *Node {
	return &Node{
		url: url,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// URL returns the replica endpoint.
func (n *Node) URL() string { return n.url }

// Status fetches the replica's status report.
func (n *Node) Status(ctx context.Context) (NodeStatus, error) {
	var status NodeStatus
	if err := rpcCall(ctx, n.httpClient, n.url, "zgs_getStatus", nil, &status); err != nil {
		return NodeStatus{}, fmt.Errorf("storage/node: status: %w", err)
	}
	return status, nil
}

// FileInfo looks up an object by content address.
func (n *Node) FileInfo(ctx context.Context, addr domain.ContentAddress) (*FileInfo, error) {
	var info *FileInfo
	params := []any{addr.Hex(), true}
	if err := rpcCall(ctx, n.httpClient, n.url, "zgs_getFileInfo", params, &info); err != nil {
		return nil, fmt.Errorf("storage/node: file info %s: %w", addr, err)
	}
	return info, nil
}

// FileInfoByTxSeq looks up an object by its submission sequence number.
func (n *Node) FileInfoByTxSeq(ctx context.Context, txSeq uint64) (*FileInfo, error) {
	var info *FileInfo
	if err := rpcCall(ctx, n.httpClient, n.url, "zgs_getFileInfoByTxSeq", []any{txSeq}, &info); err != nil {
		return nil, fmt.Errorf("storage/node: file info by seq %d: %w", txSeq, err)
	}
	return info, nil
}

// UploadSegment pushes one segment with its proof, addressed by the
// submission sequence number. A non-nil error means the replica rejected the
// segment; the caller may try the next replica.
func (n *Node) UploadSegment(ctx context.Context, seg SegmentWithProof, txSeq uint64) error {
	if err := rpcCall(ctx, n.httpClient, n.url, "zgs_uploadSegmentByTxSeq", []any{seg, txSeq}, nil); err != nil {
		return fmt.Errorf("storage/node: upload segment %d: %w", seg.Index, err)
	}
	return nil
}

// DownloadSegment fetches the chunk range [startChunk, endChunk).
func (n *Node) DownloadSegment(ctx context.Context, addr domain.ContentAddress, startChunk, endChunk int) ([]byte, error) {
	var data []byte // JSON base64 decodes into []byte
	params := []any{addr.Hex(), startChunk, endChunk}
	if err := rpcCall(ctx, n.httpClient, n.url, "zgs_downloadSegment", params, &data); err != nil {
		return nil, fmt.Errorf("storage/node: download segment %s [%d,%d): %w", addr, startChunk, endChunk, err)
	}
	return data, nil
}

// ---------------------------------------------------------------------------
// JSON-RPC 2.0 plumbing shared by the node and indexer clients.
// ---------------------------------------------------------------------------

type rpcRequest struct {
	JSONRPC string `json:"jsonrpc"`
	ID      int    `json:"id"`
	Method  string `json:"method"`
	Params  []any  `json:"params"`
}

type rpcResponse struct {
	Result json.RawMessage `json:"result"`
	Error  *rpcError       `json:"error"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *rpcError) Error() string {
	return fmt.Sprintf("rpc error %d: %s", e.Code, e.Message)
}

// rpcCall performs a single JSON-RPC request and decodes the result into
// out. A nil out discards the result.
func rpcCall(ctx context.Context, client *http.Client, url, method string, params []any, out any) error {
	if params == nil {
		params = []any{}
	}
	body, err := json.Marshal(rpcRequest{
		JSONRPC: "2.0",
		ID:      1,
		Method:  method,
		Params:  params,
	})
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("%s: %w", method, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 64<<20))
	if err != nil {
		return fmt.Errorf("%s: read response: %w", method, err)
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%s: http %d: %s", method, resp.StatusCode, bytes.TrimSpace(raw))
	}

	var rpcResp rpcResponse
	if err := json.Unmarshal(raw, &rpcResp); err != nil {
		return fmt.Errorf("%s: decode response: %w", method, err)
	}
	if rpcResp.Error != nil {
		return fmt.Errorf("%s: %w", method, rpcResp.Error)
	}
	if out != nil && len(rpcResp.Result) > 0 {
		if err := json.Unmarshal(rpcResp.Result, out); err != nil {
			return fmt.Errorf("%s: decode result: %w", method, err)
		}
	}
	return nil
}
