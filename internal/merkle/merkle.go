/*
Copyright 2024 Tabwise Finance Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

	http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

// Package merkle implements sha256 merkle tree construction and inclusion
// proof verification over raw byte leaves.
package merkle

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"errors"
)

var (
	ErrEmptyTree     = errors.New("merkle: tree has no leaves")
	ErrIndexOutRange = errors.New("merkle: leaf index out of range")
)

// HashLeaf hashes a leaf payload.
func HashLeaf(data []byte) []byte {
	h := sha256.Sum256(data)
	return h[:]
}

func hashNodes(left, right []byte) []byte {
	h := sha256.New()
	h.Write(left)
	h.Write(right)
	return h.Sum(nil)
}

// Verify walks the sibling path from hash(leaf) up to the root. The index
// selects, level by level, whether the running hash is the left or right
// child. Returns true iff the path resolves exactly to root.
func Verify(leaf []byte, path [][]byte, index uint64, root []byte) bool {
	if len(root) != sha256.Size {
		return false
	}
	hash := HashLeaf(leaf)
	for _, sibling := range path {
		if len(sibling) != sha256.Size {
			return false
		}
		if index&1 == 0 {
			hash = hashNodes(hash, sibling)
		} else {
			hash = hashNodes(sibling, hash)
		}
		index >>= 1
	}
	return index == 0 && bytes.Equal(hash, root)
}

// VerifyHex is Verify with hex-encoded path and root, as carried on the
// wire.
func VerifyHex(leaf []byte, hexPath []string, index uint64, hexRoot string) bool {
	root, err := hex.DecodeString(hexRoot)
	if err != nil {
		return false
	}
	path := make([][]byte, 0, len(hexPath))
	for _, p := range hexPath {
		decoded, err := hex.DecodeString(p)
		if err != nil {
			return false
		}
		path = append(path, decoded)
	}
	return Verify(leaf, path, index, root)
}

// Tree is an in-memory sha256 merkle tree. Odd nodes are paired with
// themselves, the scheme the proof side expects.
type Tree struct {
	levels [][][]byte
}

// NewTree builds a tree over the given leaves.
func NewTree(leaves [][]byte) (*Tree, error) {
	if len(leaves) == 0 {
		return nil, ErrEmptyTree
	}
	level := make([][]byte, 0, len(leaves))
	for _, leaf := range leaves {
		level = append(level, HashLeaf(leaf))
	}
	levels := [][][]byte{level}
	for len(level) > 1 {
		next := make([][]byte, 0, (len(level)+1)/2)
		for i := 0; i < len(level); i += 2 {
			if i+1 < len(level) {
				next = append(next, hashNodes(level[i], level[i+1]))
			} else {
				next = append(next, hashNodes(level[i], level[i]))
			}
		}
		levels = append(levels, next)
		level = next
	}
	return &Tree{levels: levels}, nil
}

// Root returns the tree's root hash.
func (t *Tree) Root() []byte {
	top := t.levels[len(t.levels)-1]
	return top[0]
}

// RootHex returns the root hash hex encoded.
func (t *Tree) RootHex() string {
	return hex.EncodeToString(t.Root())
}

// Proof returns the sibling path for the leaf at index.
func (t *Tree) Proof(index uint64) ([][]byte, error) {
	if index >= uint64(len(t.levels[0])) {
		return nil, ErrIndexOutRange
	}
	var path [][]byte
	idx := index
	for _, level := range t.levels[:len(t.levels)-1] {
		sibling := idx ^ 1
		if sibling >= uint64(len(level)) {
			sibling = idx
		}
		path = append(path, level[sibling])
		idx >>= 1
	}
	return path, nil
}

// ProofHex returns the sibling path hex encoded.
func (t *Tree) ProofHex(index uint64) ([]string, error) {
	path, err := t.Proof(index)
	if err != nil {
		return nil, err
	}
	hexPath := make([]string, 0, len(path))
	for _, p := range path {
		hexPath = append(hexPath, hex.EncodeToString(p))
	}
	return hexPath, nil
}
