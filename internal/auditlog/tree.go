package auditlog

// tree keeps every complete pair at each level so a new leaf costs amortized
// O(1) hashing and the root costs O(log n). levels[0] is the leaf sequence;
// levels[k][i] = HashNodes(levels[k-1][2i], levels[k-1][2i+1]).
type tree struct {
	levels [][]Hash
}

func (t *tree) size() uint64 {
	if len(t.levels) == 0 {
		return 0
	}
	return uint64(len(t.levels[0]))
}

func (t *tree) push(leaf Hash) {
	node := leaf
	for k := 0; ; k++ {
		if k == len(t.levels) {
			t.levels = append(t.levels, nil)
		}
		t.levels[k] = append(t.levels[k], node)
		n := len(t.levels[k])
		if n%2 == 1 {
			return
		}
		node = HashNodes(t.levels[k][n-2], t.levels[k][n-1])
	}
}

// root folds the ragged right edge of the tree. At each level the nodes are
// the stored pairs plus at most one carried tail; an unpaired last node is
// combined with the tail, or with itself when there is none.
func (t *tree) root() Hash {
	var (
		tail    Hash
		hasTail bool
	)
	for k := 0; ; k++ {
		var stable []Hash
		if k < len(t.levels) {
			stable = t.levels[k]
		}

		count := len(stable)
		if hasTail {
			count++
		}
		switch count {
		case 0:
			return ZeroHash
		case 1:
			if hasTail {
				return tail
			}
			return stable[0]
		}

		if len(stable)%2 == 1 {
			last := stable[len(stable)-1]
			if hasTail {
				tail = HashNodes(last, tail)
			} else {
				tail = HashNodes(last, last)
			}
			hasTail = true
		} else if hasTail {
			tail = HashNodes(tail, tail)
		}
	}
}

// leaves returns the leaf sequence capped so later appends cannot reach it.
func (t *tree) leaves() []Hash {
	if len(t.levels) == 0 {
		return nil
	}
	l := t.levels[0]
	return l[:len(l):len(l)]
}
