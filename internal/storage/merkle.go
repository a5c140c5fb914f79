// Package storage implements the content-addressed storage client: payloads
// are chunked, Merkle-hashed, submitted through the flow contract, uploaded
// segment by segment to storage replicas, and polled to finalization. A
// payload's content address is the root of the Merkle tree built over its
// chunks; identical bytes always anchor at the same address.
package storage

import (
	"math/bits"

	"github.com/ethereum/go-ethereum/common"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"

	"github.com/instabets/marketd/internal/domain"
)

const (
	// ChunkSize is the fixed chunk (sector) size in bytes.
	ChunkSize = 256

	// SegmentMaxChunks is the maximum number of chunks per segment, the
	// unit of upload and proof.
	SegmentMaxChunks = 1024

	// SegmentSize is the maximum segment payload in bytes.
	SegmentSize = ChunkSize * SegmentMaxChunks
)

// SubmissionNode describes one segment in a submission: the root of the
// segment's chunk subtree and its height, where the segment spans 2^height
// sectors.
type SubmissionNode struct {
	Root   common.Hash
	Height uint64
}

// Tree is the Merkle tree over a payload's chunks, grouped into segments.
// The tree is fully deterministic in the payload bytes: a short final chunk
// is zero-padded to the chunk boundary and a short final segment is padded
// with zero chunks up to a power-of-two sector count, without altering the
// logical payload length.
type Tree struct {
	payloadLen int
	numChunks  int
	nodes      []SubmissionNode
	// accs[i] is the left-fold accumulator over segment roots 0..i; the
	// last accumulator is the file root.
	accs []common.Hash
}

// BuildTree constructs the Merkle tree for payload. A zero-length payload
// still occupies one zero chunk.
func BuildTree(payload []byte) *Tree {
	numChunks := (len(payload) + ChunkSize - 1) / ChunkSize
	if numChunks == 0 {
		numChunks = 1
	}

	// Hash every chunk, zero-padding the final short chunk.
	leaves := make([]common.Hash, numChunks)
	var chunk [ChunkSize]byte
	for i := 0; i < numChunks; i++ {
		chunk = [ChunkSize]byte{}
		start := i * ChunkSize
		if start < len(payload) {
			copy(chunk[:], payload[start:])
		}
		leaves[i] = common.Hash(ethcrypto.Keccak256Hash(chunk[:]))
	}

	// Build one subtree per segment.
	numSegments := (numChunks + SegmentMaxChunks - 1) / SegmentMaxChunks
	nodes := make([]SubmissionNode, 0, numSegments)
	for seg := 0; seg < numSegments; seg++ {
		start := seg * SegmentMaxChunks
		end := min(start+SegmentMaxChunks, numChunks)
		root, height := segmentSubtree(leaves[start:end])
		nodes = append(nodes, SubmissionNode{Root: root, Height: height})
	}

	// Fold segment roots left to right into the file root.
	accs := make([]common.Hash, len(nodes))
	accs[0] = nodes[0].Root
	for i := 1; i < len(nodes); i++ {
		accs[i] = combine(accs[i-1], nodes[i].Root)
	}

	return &Tree{
		payloadLen: len(payload),
		numChunks:  numChunks,
		nodes:      nodes,
		accs:       accs,
	}
}

// segmentSubtree builds a perfect binary tree over the given chunk hashes,
// padding with zero-chunk hashes up to the next power of two. It returns the
// subtree root and its height (2^height sectors).
func segmentSubtree(leaves []common.Hash) (common.Hash, uint64) {
	padded := nextPow2(len(leaves))
	level := make([]common.Hash, padded)
	copy(level, leaves)
	for i := len(leaves); i < padded; i++ {
		level[i] = zeroChunkHash
	}

	height := uint64(bits.TrailingZeros(uint(padded)))
	for len(level) > 1 {
		next := make([]common.Hash, len(level)/2)
		for i := range next {
			next[i] = combine(level[2*i], level[2*i+1])
		}
		level = next
	}
	return level[0], height
}

// zeroChunkHash is the leaf hash of an all-zero chunk, used for padding.
var zeroChunkHash = func() common.Hash {
	var chunk [ChunkSize]byte
	return common.Hash(ethcrypto.Keccak256Hash(chunk[:]))
}()

// combine hashes two child nodes into their parent.
func combine(left, right common.Hash) common.Hash {
	return common.Hash(ethcrypto.Keccak256Hash(left[:], right[:]))
}

func nextPow2(n int) int {
	if n <= 1 {
		return 1
	}
	return 1 << bits.Len(uint(n-1))
}

// Root returns the file's content address.
func (t *Tree) Root() domain.ContentAddress {
	return domain.ContentAddress(t.accs[len(t.accs)-1])
}

// Size returns the logical payload length in bytes.
func (t *Tree) Size() int { return t.payloadLen }

// NumChunks returns the number of occupied chunks.
func (t *Tree) NumChunks() int { return t.numChunks }

// NumSegments returns the number of segments.
func (t *Tree) NumSegments() int { return len(t.nodes) }

// Nodes returns one SubmissionNode per segment, in segment order.
func (t *Tree) Nodes() []SubmissionNode { return t.nodes }

// SegmentProof is the inclusion proof for one segment root against the file
// root. Lemma holds sibling values bottom-up; Path[i] is true when the
// running value is the left operand of the next combine.
type SegmentProof struct {
	Lemma []common.Hash `json:"lemma"`
	Path  []bool        `json:"path"`
}

// ProofAt returns the inclusion proof for segment index i.
func (t *Tree) ProofAt(i int) SegmentProof {
	var proof SegmentProof
	if len(t.nodes) == 1 {
		// Single-segment files prove against the root directly.
		proof.Lemma = []common.Hash{t.accs[0]}
		return proof
	}
	if i > 0 {
		// The fold accumulator over everything left of the segment.
		proof.Lemma = append(proof.Lemma, t.accs[i-1])
		proof.Path = append(proof.Path, false)
	}
	for j := i + 1; j < len(t.nodes); j++ {
		proof.Lemma = append(proof.Lemma, t.nodes[j].Root)
		proof.Path = append(proof.Path, true)
	}
	return proof
}

// VerifyProof checks a segment root against the file root using the proof
// produced by ProofAt.
func VerifyProof(root domain.ContentAddress, segRoot common.Hash, proof SegmentProof) bool {
	if len(proof.Path) == 0 {
		return len(proof.Lemma) == 1 && common.Hash(root) == proof.Lemma[0] && segRoot == proof.Lemma[0]
	}
	acc := segRoot
	for i, sibling := range proof.Lemma {
		if proof.Path[i] {
			acc = combine(acc, sibling)
		} else {
			acc = combine(sibling, acc)
		}
	}
	return acc == common.Hash(root)
}

// PaddedSegment returns segment i's byte buffer, zero-padded to a full chunk
// boundary.
func (t *Tree) PaddedSegment(i int, payload []byte) []byte {
	startChunk := i * SegmentMaxChunks
	endChunk := min(startChunk+SegmentMaxChunks, t.numChunks)
	buf := make([]byte, (endChunk-startChunk)*ChunkSize)

	start := startChunk * ChunkSize
	if start < len(payload) {
		copy(buf, payload[start:])
	}
	return buf
}
