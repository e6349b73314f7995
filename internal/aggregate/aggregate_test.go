package aggregate

import (
	"errors"
	"fmt"
	"math/rand"
	"sort"
	"testing"

	"github.com/eargollo/dif/internal/pipeline"
)

func feed(outcomes []pipeline.Outcome) <-chan pipeline.Outcome {
	ch := make(chan pipeline.Outcome, len(outcomes))
	for _, o := range outcomes {
		ch <- o
	}
	close(ch)
	return ch
}

func ok(path, hash string) pipeline.Outcome {
	return pipeline.Outcome{Path: path, Hash: []byte(hash)}
}

func failed(path string) pipeline.Outcome {
	return pipeline.Outcome{Path: path, Err: errors.New("decode image: unexpected EOF")}
}

// TestAggregateScenario: a and b share a hash, c is unique, d is corrupt.
func TestAggregateScenario(t *testing.T) {
	res := Aggregate(feed([]pipeline.Outcome{
		ok("/a.jpg", "h1"),
		ok("/c.jpg", "h2"),
		failed("/d.jpg"),
		ok("/b.jpg", "h1"),
	}))

	if res.Processed != 4 {
		t.Errorf("Processed: got %d, want 4", res.Processed)
	}
	if len(res.Groups) != 1 {
		t.Fatalf("groups: got %d, want 1: %+v", len(res.Groups), res.Groups)
	}
	g := res.Groups[0]
	if string(g.Hash) != "h1" {
		t.Errorf("group hash: got %q, want h1", g.Hash)
	}
	if len(g.Paths) != 2 || g.Paths[0] != "/a.jpg" || g.Paths[1] != "/b.jpg" {
		t.Errorf("group paths: got %v, want [/a.jpg /b.jpg] in arrival order", g.Paths)
	}
	if len(res.Errors) != 1 || res.Errors[0] != "/d.jpg" {
		t.Errorf("errors: got %v, want [/d.jpg]", res.Errors)
	}
	if res.DuplicateFiles() != 2 {
		t.Errorf("DuplicateFiles: got %d, want 2", res.DuplicateFiles())
	}
}

func TestAggregateEmpty(t *testing.T) {
	res := Aggregate(feed(nil))
	if res.Processed != 0 || len(res.Groups) != 0 || len(res.Errors) != 0 {
		t.Errorf("expected empty result, got %+v", res)
	}
}

func TestAggregateUniqueOnly(t *testing.T) {
	var in []pipeline.Outcome
	for i := 0; i < 100; i++ {
		in = append(in, ok(fmt.Sprintf("/%d.png", i), fmt.Sprintf("hash%03d", i)))
	}
	res := Aggregate(feed(in))
	if len(res.Groups) != 0 {
		t.Errorf("unique hashes must not form groups: %+v", res.Groups)
	}
	if res.Processed != 100 {
		t.Errorf("Processed: got %d, want 100", res.Processed)
	}
}

// TestAggregateOrderIndependent shuffles the same outcomes many times and
// checks group membership never changes.
func TestAggregateOrderIndependent(t *testing.T) {
	var in []pipeline.Outcome
	for i := 0; i < 60; i++ {
		in = append(in, ok(fmt.Sprintf("/%02d.png", i), fmt.Sprintf("h%d", i%7)))
	}
	in = append(in, ok("/solo.png", "unique"), failed("/bad1.jpg"), failed("/bad2.jpg"))

	canonical := func(r Result) string {
		s := ""
		for _, g := range r.Groups {
			paths := append([]string(nil), g.Paths...)
			sort.Strings(paths)
			s += fmt.Sprintf("%s:%v;", g.Hash, paths)
		}
		errs := append([]string(nil), r.Errors...)
		sort.Strings(errs)
		return s + fmt.Sprint(errs)
	}

	want := canonical(Aggregate(feed(in)))
	rng := rand.New(rand.NewSource(1))
	for i := 0; i < 20; i++ {
		shuffled := append([]pipeline.Outcome(nil), in...)
		rng.Shuffle(len(shuffled), func(a, b int) { shuffled[a], shuffled[b] = shuffled[b], shuffled[a] })
		if got := canonical(Aggregate(feed(shuffled))); got != want {
			t.Fatalf("shuffle %d changed the result:\n got %s\nwant %s", i, got, want)
		}
	}
}

func TestAggregateGroupsSortedByHash(t *testing.T) {
	res := Aggregate(feed([]pipeline.Outcome{
		ok("/1", "\x09"), ok("/2", "\x09"),
		ok("/3", "\x01"), ok("/4", "\x01"),
		ok("/5", "\x05"), ok("/6", "\x05"),
	}))
	if len(res.Groups) != 3 {
		t.Fatalf("groups: got %d, want 3", len(res.Groups))
	}
	for i, want := range []byte{0x01, 0x05, 0x09} {
		if res.Groups[i].Hash[0] != want {
			t.Errorf("group %d hash: got %x, want %x", i, res.Groups[i].Hash, want)
		}
	}
}

// TestAggregateExactKeyEquality verifies hashes differing in one byte, or
// sharing a prefix, never merge.
func TestAggregateExactKeyEquality(t *testing.T) {
	res := Aggregate(feed([]pipeline.Outcome{
		ok("/a", "\x00\x00\x00\x01"),
		ok("/b", "\x00\x00\x00\x02"),
		ok("/c", "\x00\x00\x00"),
		ok("/d", "\x00\x00\x00\x01"),
	}))
	if len(res.Groups) != 1 || len(res.Groups[0].Paths) != 2 {
		t.Fatalf("groups: got %+v, want exactly [/a /d]", res.Groups)
	}
}
