package dedup

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/jpeg"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"

	"github.com/eargollo/dif/internal/aggregate"
	"github.com/eargollo/dif/internal/cache"
	"github.com/eargollo/dif/internal/ignore"
	"github.com/eargollo/dif/internal/phash"
	"github.com/eargollo/dif/internal/pipeline"
)

func checker(invert bool) image.Image {
	img := image.NewRGBA(image.Rect(0, 0, 64, 64))
	for x := 0; x < 64; x++ {
		for y := 0; y < 64; y++ {
			v := uint8(0)
			if (x/16+y/16)%2 == 0 {
				v = 255
			}
			if invert {
				v = 255 - v
			}
			img.Set(x, y, color.RGBA{v, v, v, 255})
		}
	}
	return img
}

func jpegBytes(t testing.TB, img image.Image) []byte {
	t.Helper()
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: 90}); err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}

// fixture lays out a.jpg and b.jpg (identical), c.jpg (distinct) and d.jpg
// (truncated).
func fixture(t testing.TB) (root string, a, b, c, d string) {
	t.Helper()
	root = t.TempDir()
	same := jpegBytes(t, checker(false))
	a = filepath.Join(root, "a.jpg")
	b = filepath.Join(root, "sub", "b.jpg")
	c = filepath.Join(root, "c.jpg")
	d = filepath.Join(root, "d.jpg")
	files := map[string][]byte{
		a: same,
		b: same,
		c: jpegBytes(t, checker(true)),
		d: same[:len(same)/4],
	}
	for p, data := range files {
		if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(p, data, 0o644); err != nil {
			t.Fatal(err)
		}
	}
	return root, a, b, c, d
}

func mustHasher(t testing.TB) *phash.Hasher {
	t.Helper()
	h, err := phash.New(phash.PHash)
	if err != nil {
		t.Fatal(err)
	}
	return h
}

func mustCache(t testing.TB) *cache.Cache {
	t.Helper()
	c, err := cache.Open(filepath.Join(t.TempDir(), "hashes.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { c.Close() })
	return c
}

func checkScenario(t *testing.T, res aggregate.Result, a, b, d string) {
	t.Helper()
	if res.Processed != 4 {
		t.Errorf("Processed: got %d, want 4", res.Processed)
	}
	if len(res.Groups) != 1 {
		t.Fatalf("groups: got %d, want 1: %+v", len(res.Groups), res.Groups)
	}
	members := map[string]bool{}
	for _, p := range res.Groups[0].Paths {
		members[p] = true
	}
	if len(members) != 2 || !members[a] || !members[b] {
		t.Errorf("group: got %v, want {%s, %s}", res.Groups[0].Paths, a, b)
	}
	if len(res.Errors) != 1 || res.Errors[0] != d {
		t.Errorf("errors: got %v, want [%s]", res.Errors, d)
	}
}

// TestRunScenarioColdThenWarm runs the fixture twice against one cache. The
// second run must give the same result and read only the uncached corrupt
// file.
func TestRunScenarioColdThenWarm(t *testing.T) {
	for _, mode := range []pipeline.Mode{pipeline.Direct, pipeline.Split} {
		t.Run(string(mode), func(t *testing.T) {
			root, a, b, _, d := fixture(t)
			c := mustCache(t)

			var reads atomic.Int64
			readFile := func(p string) ([]byte, error) {
				reads.Add(1)
				return os.ReadFile(p)
			}
			opts := Options{
				Root:     root,
				Hasher:   mustHasher(t),
				Cache:    c,
				Pipeline: pipeline.Config{Mode: mode, Threads: 3, TasksPerThread: 2, ReadFile: readFile},
			}

			cold, err := Run(context.Background(), opts)
			if err != nil {
				t.Fatalf("cold run: %v", err)
			}
			checkScenario(t, cold, a, b, d)
			if n := reads.Load(); n != 4 {
				t.Errorf("cold reads: got %d, want 4", n)
			}

			reads.Store(0)
			progress := &pipeline.Progress{}
			opts.Progress = progress
			warm, err := Run(context.Background(), opts)
			if err != nil {
				t.Fatalf("warm run: %v", err)
			}
			checkScenario(t, warm, a, b, d)
			if n := reads.Load(); n != 1 {
				t.Errorf("warm reads: got %d, want 1 (only the uncached corrupt file)", n)
			}
			if n := progress.CacheHits.Load(); n != 3 {
				t.Errorf("warm cache hits: got %d, want 3", n)
			}
			if !bytes.Equal(cold.Groups[0].Hash, warm.Groups[0].Hash) {
				t.Errorf("group hash changed between runs: %x vs %x", cold.Groups[0].Hash, warm.Groups[0].Hash)
			}
		})
	}
}

// TestRunIgnoredPathsNeverReported verifies ignored files appear in no
// output collection.
func TestRunIgnoredPathsNeverReported(t *testing.T) {
	root, _, _, _, d := fixture(t)
	m, err := ignore.New([]string{filepath.Join(root, "sub")}, []string{`d\.jpg$`})
	if err != nil {
		t.Fatal(err)
	}

	res, err := Run(context.Background(), Options{
		Root:     root,
		Ignore:   m,
		Hasher:   mustHasher(t),
		Pipeline: pipeline.Config{Threads: 2},
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.Processed != 2 {
		t.Errorf("Processed: got %d, want 2 (a.jpg and c.jpg)", res.Processed)
	}
	if len(res.Groups) != 0 {
		t.Errorf("groups: got %+v, want none once b.jpg is ignored", res.Groups)
	}
	for _, p := range res.Errors {
		if p == d {
			t.Errorf("ignored %s reported as error", d)
		}
	}
}

func TestRunScanErrorAborts(t *testing.T) {
	_, err := Run(context.Background(), Options{
		Root:   filepath.Join(t.TempDir(), "missing"),
		Hasher: mustHasher(t),
	})
	if err == nil {
		t.Fatal("expected error for missing root")
	}
	if errors.Is(err, ErrIncomplete) {
		t.Errorf("scan failure misreported as incomplete: %v", err)
	}
}

// BenchmarkRunCold measures a full run with an empty cache.
// Run with: go test -bench=BenchmarkRunCold -benchtime=3x ./internal/dedup/
func BenchmarkRunCold(b *testing.B) {
	root := b.TempDir()
	data := jpegBytes(b, checker(false))
	for i := 0; i < 100; i++ {
		p := filepath.Join(root, fmt.Sprintf("img%03d.jpg", i))
		if err := os.WriteFile(p, data, 0o644); err != nil {
			b.Fatal(err)
		}
	}
	h := mustHasher(b)

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		c, err := cache.Open(filepath.Join(b.TempDir(), "hashes.db"))
		if err != nil {
			b.Fatal(err)
		}
		if _, err := Run(context.Background(), Options{Root: root, Hasher: h, Cache: c}); err != nil {
			b.Fatal(err)
		}
		c.Close()
	}
}
