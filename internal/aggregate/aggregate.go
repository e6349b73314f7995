// Package aggregate folds pipeline outcomes into duplicate groups and an
// error list.
package aggregate

import (
	"bytes"
	"sort"

	"github.com/eargollo/dif/internal/pipeline"
)

// Group is a set of paths whose perceptual hashes are byte-for-byte equal.
// Paths keep the order in which their outcomes arrived.
type Group struct {
	Hash  []byte
	Paths []string
}

// Result is everything a run hands to the output writer.
type Result struct {
	// Groups holds only hashes shared by two or more paths, ordered by hash.
	Groups []Group
	// Errors lists paths that could not be read or decoded, in arrival order.
	Errors []string
	// Processed counts every outcome consumed.
	Processed int
}

// DuplicateFiles returns the number of paths across all groups.
func (r Result) DuplicateFiles() int {
	n := 0
	for _, g := range r.Groups {
		n += len(g.Paths)
	}
	return n
}

// Aggregate consumes outcomes until the channel is closed. Arrival order is
// irrelevant to which groups are formed.
func Aggregate(outcomes <-chan pipeline.Outcome) Result {
	var res Result
	byHash := make(map[string][]string)

	for o := range outcomes {
		res.Processed++
		if !o.OK() {
			res.Errors = append(res.Errors, o.Path)
			continue
		}
		key := string(o.Hash)
		byHash[key] = append(byHash[key], o.Path)
	}

	for key, paths := range byHash {
		if len(paths) < 2 {
			continue
		}
		res.Groups = append(res.Groups, Group{Hash: []byte(key), Paths: paths})
	}
	sort.Slice(res.Groups, func(i, j int) bool {
		return bytes.Compare(res.Groups[i].Hash, res.Groups[j].Hash) < 0
	})
	return res
}
