package auditlog

import (
	"errors"
	"fmt"
)

// ComputeRoot folds leaves bottom-up. An empty slice yields ZeroHash and a
// single leaf is its own root.
func ComputeRoot(leaves []Hash) Hash {
	if len(leaves) == 0 {
		return ZeroHash
	}
	level := append([]Hash(nil), leaves...)
	for len(level) > 1 {
		next := make([]Hash, 0, (len(level)+1)/2)
		for i := 0; i < len(level); i += 2 {
			left := level[i]
			right := left
			if i+1 < len(level) {
				right = level[i+1]
			}
			next = append(next, HashNodes(left, right))
		}
		level = next
	}
	return level[0]
}

// Replay recomputes the root of an externally held leaf sequence. Any edit,
// reorder or truncation of the sequence changes the result.
func Replay(leaves []Hash) Hash {
	return ComputeRoot(leaves)
}

// Proof is an inclusion proof for one leaf.
//
// Siblings run from the leaf level upward. Bit i of Path is set when the
// sibling at level i is the left operand. When a level has an odd count the
// last node is paired with itself, so its sibling is its own value on the
// right.
type Proof struct {
	LeafIndex uint64 `json:"leaf_index"`
	TreeSize  uint64 `json:"tree_size"`
	Siblings  []Hash `json:"siblings"`
	Path      uint64 `json:"path"`
}

var (
	ErrIndexOutOfRange = errors.New("leaf index out of range")
	ErrEmptyLog        = errors.New("log is empty")
)

// BuildProof produces the inclusion proof for leaves[index].
func BuildProof(leaves []Hash, index uint64) (Proof, error) {
	n := uint64(len(leaves))
	if n == 0 {
		return Proof{}, ErrEmptyLog
	}
	if index >= n {
		return Proof{}, fmt.Errorf("%w: %d not in [0, %d)", ErrIndexOutOfRange, index, n)
	}

	proof := Proof{LeafIndex: index, TreeSize: n, Siblings: []Hash{}}
	level := append([]Hash(nil), leaves...)
	idx := index
	for depth := 0; len(level) > 1; depth++ {
		sib := idx ^ 1
		switch {
		case sib >= uint64(len(level)):
			proof.Siblings = append(proof.Siblings, level[idx])
		default:
			proof.Siblings = append(proof.Siblings, level[sib])
		}
		if idx&1 == 1 {
			proof.Path |= 1 << uint(depth)
		}

		next := make([]Hash, 0, (len(level)+1)/2)
		for i := 0; i < len(level); i += 2 {
			left := level[i]
			right := left
			if i+1 < len(level) {
				right = level[i+1]
			}
			next = append(next, HashNodes(left, right))
		}
		level = next
		idx /= 2
	}
	return proof, nil
}

// proofDepth is the number of levels above the leaves for a tree of size n.
func proofDepth(n uint64) int {
	depth := 0
	for n > 1 {
		n = (n + 1) / 2
		depth++
	}
	return depth
}

// VerifyProof recomputes the root from leaf and proof. The proof shape is
// checked against TreeSize, so a proof cannot claim a position the tree
// does not have.
func VerifyProof(leaf Hash, proof Proof, root Hash) bool {
	if proof.TreeSize == 0 || proof.LeafIndex >= proof.TreeSize {
		return false
	}
	if len(proof.Siblings) != proofDepth(proof.TreeSize) {
		return false
	}
	if len(proof.Siblings) < 64 && proof.Path>>uint(len(proof.Siblings)) != 0 {
		return false
	}

	cur := leaf
	idx := proof.LeafIndex
	size := proof.TreeSize
	for i, sib := range proof.Siblings {
		sibOnLeft := proof.Path&(1<<uint(i)) != 0
		if sibOnLeft != (idx&1 == 1) {
			return false
		}
		if sibOnLeft {
			cur = HashNodes(sib, cur)
		} else {
			if idx^1 >= size && sib != cur {
				// last node of an odd level pairs only with itself
				return false
			}
			cur = HashNodes(cur, sib)
		}
		idx /= 2
		size = (size + 1) / 2
	}
	return cur == root
}
