package storage

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"math/big"
	"sync"
	"testing"
	"time"

	"github.com/instabets/marketd/internal/domain"
)

// fakeObject is one stored object on a fake replica.
type fakeObject struct {
	size      int
	total     int
	segments  map[int][]byte
	finalized bool
}

// fakeNode is an in-memory storage replica.
type fakeNode struct {
	url string

	mu            sync.Mutex
	objects       map[domain.ContentAddress]*fakeObject
	byTxSeq       map[uint64]domain.ContentAddress
	rejectUploads bool
	uploads       int
}

func newFakeNode(url string) *fakeNode {
	return &fakeNode{
		url:     url,
		objects: make(map[domain.ContentAddress]*fakeObject),
		byTxSeq: make(map[uint64]domain.ContentAddress),
	}
}

func (n *fakeNode) URL() string { return n.url }

func (n *fakeNode) Status(ctx context.Context) (NodeStatus, error) {
	return NodeStatus{}, nil
}

func (n *fakeNode) index(txSeq uint64, root domain.ContentAddress, size, totalSegments int) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if _, ok := n.objects[root]; !ok {
		n.objects[root] = &fakeObject{
			size:     size,
			total:    totalSegments,
			segments: make(map[int][]byte),
		}
	}
	n.byTxSeq[txSeq] = root
}

// seedFinalized stores a complete object, as if a prior upload finished.
func (n *fakeNode) seedFinalized(payload []byte) domain.ContentAddress {
	tree := BuildTree(payload)
	root := tree.Root()
	obj := &fakeObject{
		size:     tree.Size(),
		total:    tree.NumSegments(),
		segments: make(map[int][]byte),
	}
	for i := 0; i < tree.NumSegments(); i++ {
		obj.segments[i] = tree.PaddedSegment(i, payload)
	}
	obj.finalized = true
	n.mu.Lock()
	n.objects[root] = obj
	n.mu.Unlock()
	return root
}

func (n *fakeNode) FileInfo(ctx context.Context, addr domain.ContentAddress) (*FileInfo, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	obj, ok := n.objects[addr]
	if !ok {
		return nil, nil
	}
	info := &FileInfo{Finalized: obj.finalized}
	info.Tx.Size = uint64(obj.size)
	return info, nil
}

func (n *fakeNode) FileInfoByTxSeq(ctx context.Context, txSeq uint64) (*FileInfo, error) {
	n.mu.Lock()
	root, ok := n.byTxSeq[txSeq]
	n.mu.Unlock()
	if !ok {
		return nil, nil
	}
	return n.FileInfo(ctx, root)
}

func (n *fakeNode) UploadSegment(ctx context.Context, seg SegmentWithProof, txSeq uint64) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.rejectUploads {
		return errors.New("upload refused")
	}
	root, ok := n.byTxSeq[txSeq]
	if !ok {
		return errors.New("unknown tx seq")
	}
	obj := n.objects[root]
	obj.segments[seg.Index] = seg.Data
	n.uploads++
	if len(obj.segments) == obj.total {
		obj.finalized = true
	}
	return nil
}

func (n *fakeNode) DownloadSegment(ctx context.Context, addr domain.ContentAddress, startChunk, endChunk int) ([]byte, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	obj, ok := n.objects[addr]
	if !ok || !obj.finalized {
		return nil, errors.New("object not available")
	}
	data, ok := obj.segments[startChunk/SegmentMaxChunks]
	if !ok {
		return nil, errors.New("segment missing")
	}
	want := (endChunk - startChunk) * ChunkSize
	if len(data) < want {
		want = len(data)
	}
	return data[:want], nil
}

// fakeFlow simulates the flow contract: Submit assigns a sequence number and
// indexes the object on the attached replicas.
type fakeFlow struct {
	nodes []*fakeNode
	price *big.Int

	mu         sync.Mutex
	submits    int
	priceReads int
	lastFee    *big.Int
	nextSeq    uint64
}

func (f *fakeFlow) PricePerSector(ctx context.Context) (*big.Int, error) {
	f.mu.Lock()
	f.priceReads++
	f.mu.Unlock()
	return new(big.Int).Set(f.price), nil
}

func (f *fakeFlow) Submit(ctx context.Context, desc SubmissionDescriptor, fee *big.Int) (uint64, error) {
	f.mu.Lock()
	f.submits++
	f.lastFee = new(big.Int).Set(fee)
	f.nextSeq++
	seq := f.nextSeq
	f.mu.Unlock()

	root := common32(desc.Nodes)
	for _, n := range f.nodes {
		n.index(seq, root, desc.Length, len(desc.Nodes))
	}
	return seq, nil
}

// common32 recomputes the file root from the submitted segment nodes the
// same way the tree folds them, so the fake chain indexes under the address
// the client will poll for.
func common32(nodes []SubmissionNode) domain.ContentAddress {
	acc := nodes[0].Root
	for _, n := range nodes[1:] {
		acc = combine(acc, n.Root)
	}
	return domain.ContentAddress(acc)
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestClient(flow *fakeFlow, nodes ...*fakeNode) *Client {
	segNodes := make([]SegmentNode, len(nodes))
	for i, n := range nodes {
		segNodes[i] = n
	}
	return NewClient(FixedNodes(segNodes), flow, testLogger(),
		WithPolling(5, time.Millisecond))
}

func TestUploadDownloadRoundTrip(t *testing.T) {
	sizes := []int{0, 1, ChunkSize, ChunkSize + 1, 2*SegmentSize + 3*ChunkSize + 17}
	for _, size := range sizes {
		payload := patternBytes(size)
		node := newFakeNode("node-a")
		flow := &fakeFlow{nodes: []*fakeNode{node}, price: big.NewInt(3)}
		client := newTestClient(flow, node)

		addr, err := client.Upload(context.Background(), payload)
		if err != nil {
			t.Fatalf("size %d: upload: %v", size, err)
		}
		if want := BuildTree(payload).Root(); addr != want {
			t.Fatalf("size %d: address = %s, want %s", size, addr.Hex(), want.Hex())
		}

		got, err := client.Download(context.Background(), addr)
		if err != nil {
			t.Fatalf("size %d: download: %v", size, err)
		}
		if !bytes.Equal(got, payload) {
			t.Fatalf("size %d: downloaded %d bytes do not match payload", size, len(got))
		}
	}
}

func TestUploadChargesOracleFee(t *testing.T) {
	payload := patternBytes(SegmentSize + ChunkSize)
	node := newFakeNode("node-a")
	flow := &fakeFlow{nodes: []*fakeNode{node}, price: big.NewInt(7)}
	client := newTestClient(flow, node)

	if _, err := client.Upload(context.Background(), payload); err != nil {
		t.Fatalf("upload: %v", err)
	}
	if flow.priceReads != 1 {
		t.Fatalf("price reads = %d, want 1", flow.priceReads)
	}
	// one full segment (2^10 sectors) plus one single-chunk segment (2^0)
	if want := big.NewInt(7 * (1024 + 1)); flow.lastFee.Cmp(want) != 0 {
		t.Fatalf("fee = %s, want %s", flow.lastFee, want)
	}
}

func TestUploadDeduplicatesFinalized(t *testing.T) {
	payload := patternBytes(3 * ChunkSize)
	node := newFakeNode("node-a")
	root := node.seedFinalized(payload)
	flow := &fakeFlow{nodes: []*fakeNode{node}, price: big.NewInt(3)}
	client := newTestClient(flow, node)

	addr, err := client.Upload(context.Background(), payload)
	if err != nil {
		t.Fatalf("upload: %v", err)
	}
	if addr != root {
		t.Fatalf("address = %s, want %s", addr.Hex(), root.Hex())
	}
	if flow.submits != 0 {
		t.Fatalf("submits = %d, want 0 for deduplicated upload", flow.submits)
	}
	if flow.priceReads != 0 {
		t.Fatalf("price reads = %d, want 0 for deduplicated upload", flow.priceReads)
	}
}

func TestUploadFallsBackAcrossReplicas(t *testing.T) {
	payload := patternBytes(ChunkSize)
	refusing := newFakeNode("node-a")
	refusing.rejectUploads = true
	accepting := newFakeNode("node-b")
	flow := &fakeFlow{nodes: []*fakeNode{refusing, accepting}, price: big.NewInt(3)}
	client := newTestClient(flow, refusing, accepting)

	if _, err := client.Upload(context.Background(), payload); err != nil {
		t.Fatalf("upload: %v", err)
	}
	if refusing.uploads != 0 {
		t.Fatalf("refusing node accepted %d segments", refusing.uploads)
	}
	if accepting.uploads == 0 {
		t.Fatal("fallback node received no segments")
	}
}

func TestUploadAllReplicasReject(t *testing.T) {
	payload := patternBytes(ChunkSize)
	a := newFakeNode("node-a")
	a.rejectUploads = true
	b := newFakeNode("node-b")
	b.rejectUploads = true
	flow := &fakeFlow{nodes: []*fakeNode{a, b}, price: big.NewInt(3)}
	client := newTestClient(flow, a, b)

	_, err := client.Upload(context.Background(), payload)
	if !errors.Is(err, domain.ErrSegmentRejected) {
		t.Fatalf("error = %v, want ErrSegmentRejected", err)
	}
}

func TestUploadToleratesLaggingReplica(t *testing.T) {
	payload := patternBytes(2 * ChunkSize)
	lagging := newFakeNode("node-a")
	indexed := newFakeNode("node-b")
	// Only node-b is attached to the flow, so node-a never learns about the
	// submission. The upload must proceed with node-b alone.
	flow := &fakeFlow{nodes: []*fakeNode{indexed}, price: big.NewInt(3)}
	client := newTestClient(flow, lagging, indexed)

	addr, err := client.Upload(context.Background(), payload)
	if err != nil {
		t.Fatalf("upload: %v", err)
	}
	if want := BuildTree(payload).Root(); addr != want {
		t.Fatalf("address = %s, want %s", addr.Hex(), want.Hex())
	}
	if lagging.uploads != 0 {
		t.Fatalf("lagging node received %d segments", lagging.uploads)
	}
	if indexed.uploads == 0 {
		t.Fatal("indexed node received no segments")
	}
}

func TestUploadIndexingTimeout(t *testing.T) {
	payload := patternBytes(ChunkSize)
	// The node is attached to the client but not to the flow, so it never
	// learns about the submission.
	node := newFakeNode("node-a")
	flow := &fakeFlow{price: big.NewInt(3)}
	client := newTestClient(flow, node)

	_, err := client.Upload(context.Background(), payload)
	if !errors.Is(err, domain.ErrIndexingTimeout) {
		t.Fatalf("error = %v, want ErrIndexingTimeout", err)
	}
}

func TestDownloadUnknownAddress(t *testing.T) {
	node := newFakeNode("node-a")
	flow := &fakeFlow{nodes: []*fakeNode{node}, price: big.NewInt(3)}
	client := newTestClient(flow, node)

	_, err := client.Download(context.Background(), BuildTree(patternBytes(10)).Root())
	if !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("error = %v, want ErrNotFound", err)
	}
}

func TestDownloadDetectsCorruption(t *testing.T) {
	payload := patternBytes(3 * ChunkSize)
	node := newFakeNode("node-a")
	root := node.seedFinalized(payload)

	// Flip a byte in the stored copy after finalization.
	node.mu.Lock()
	node.objects[root].segments[0][0] ^= 0xff
	node.mu.Unlock()

	flow := &fakeFlow{nodes: []*fakeNode{node}, price: big.NewInt(3)}
	client := newTestClient(flow, node)

	_, err := client.Download(context.Background(), root)
	if !errors.Is(err, domain.ErrCorrupt) {
		t.Fatalf("error = %v, want ErrCorrupt", err)
	}
}

func TestFixedNodesEmpty(t *testing.T) {
	_, err := FixedNodes(nil).SelectNodes(context.Background(), 4)
	if !errors.Is(err, domain.ErrNoStorageNodes) {
		t.Fatalf("error = %v, want ErrNoStorageNodes", err)
	}
}
