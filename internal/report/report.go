// Package report presents a run's duplicate groups and error list: a console
// listing plus a directory of symlinks for inspecting the files.
package report

import (
	"encoding/base64"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/fatih/color"
	"github.com/mattn/go-isatty"
	"github.com/rivo/uniseg"
	"golang.org/x/term"

	"github.com/eargollo/dif/internal/aggregate"
)

const (
	dupDir = "dup"
	errDir = "err"
)

// Group marks alternate between consecutive groups in the listing.
var groupMarks = [2]string{"░", "▓"}

// Writer prints results to out and creates symlinks under dir.
type Writer struct {
	out   io.Writer
	dir   string
	width int // terminal columns; 0 disables truncation

	red, green, yellow func(a ...any) string
}

// New creates a Writer. When out is a terminal, long paths are truncated to
// its width and tags are colored unless NO_COLOR is set.
func New(out io.Writer, dir string) *Writer {
	w := &Writer{out: out, dir: dir}
	tty := false
	if f, ok := out.(*os.File); ok && isatty.IsTerminal(f.Fd()) {
		tty = true
		if cols, _, err := term.GetSize(int(f.Fd())); err == nil {
			w.width = cols
		}
	}
	on := tty && !color.NoColor
	w.red = paint(color.FgRed, on)
	w.green = paint(color.FgGreen, on)
	w.yellow = paint(color.FgYellow, on)
	return w
}

func paint(attr color.Attribute, on bool) func(a ...any) string {
	c := color.New(attr)
	if on {
		c.EnableColor()
	} else {
		c.DisableColor()
	}
	return c.SprintFunc()
}

// Member is one file of a duplicate group with the attributes used to order
// it within the group.
type Member struct {
	Path    string
	Size    int64
	ModTime time.Time
}

// SortMembers stats paths and orders them by size ascending, then by
// modification time descending. Files that cannot be stated sort as empty.
func SortMembers(paths []string) []Member {
	members := make([]Member, len(paths))
	for i, p := range paths {
		members[i] = Member{Path: p}
		if info, err := os.Stat(p); err == nil {
			members[i].Size = info.Size()
			members[i].ModTime = info.ModTime()
		}
	}
	sort.SliceStable(members, func(i, j int) bool {
		if members[i].Size != members[j].Size {
			return members[i].Size < members[j].Size
		}
		return members[i].ModTime.After(members[j].ModTime)
	})
	return members
}

// LinkName returns the symlink name for the n-th duplicate overall.
func LinkName(hash []byte, n int, path string) string {
	return fmt.Sprintf("%s-%d-%s", base64.RawURLEncoding.EncodeToString(hash), n, filepath.Base(path))
}

// WriteErrors lists paths that failed and links each as <dir>/err/<n>.
// A link that cannot be created is reported and skipped.
func (w *Writer) WriteErrors(paths []string) error {
	if len(paths) == 0 {
		return nil
	}
	target := filepath.Join(w.dir, errDir)
	if err := os.MkdirAll(target, 0o755); err != nil {
		return fmt.Errorf("create error dir %q: %w", target, err)
	}

	fmt.Fprintf(w.out, "%s Image format errors:\n", w.red("[ERR]"))
	for n, p := range paths {
		fmt.Fprintln(w.out, w.fit(p, 0))
		if err := os.Symlink(p, filepath.Join(target, strconv.Itoa(n))); err != nil {
			fmt.Fprintf(w.out, "%s Failed to create symlink for: %s [%v]\n", w.red("[ERR]"), p, err)
		}
	}
	fmt.Fprintln(w.out)
	fmt.Fprintf(w.out, "%s Error image symlinks were created in: %s\n\n", w.green("[INFO]"), target)
	return nil
}

// WriteDuplicates lists every group and links each member as
// <dir>/dup/<base64url(hash)>-<n>-<basename>, n counting across groups.
func (w *Writer) WriteDuplicates(groups []aggregate.Group) error {
	if len(groups) == 0 {
		fmt.Fprintln(w.out, "No duplicate images found")
		return nil
	}
	target := filepath.Join(w.dir, dupDir)
	if err := os.MkdirAll(target, 0o755); err != nil {
		return fmt.Errorf("create duplicate dir %q: %w", target, err)
	}

	total := 0
	for _, g := range groups {
		total += len(g.Paths)
	}
	align := len(strconv.Itoa(total))

	fmt.Fprintf(w.out, "%s Duplicate images:\n", w.yellow("[DUP]"))
	n := 0
	for gi, g := range groups {
		mark := groupMarks[gi%2]
		for _, m := range SortMembers(g.Paths) {
			prefix := fmt.Sprintf("%*d %s ", align, n, mark)
			suffix := " (" + humanize.IBytes(uint64(m.Size)) + ")"
			fmt.Fprintf(w.out, "%s%s%s\n", prefix, w.fit(m.Path, uniseg.StringWidth(prefix)+len(suffix)), suffix)

			if err := os.Symlink(m.Path, filepath.Join(target, LinkName(g.Hash, n, m.Path))); err != nil {
				fmt.Fprintf(w.out, "%s%s Failed to create symlink for: %s [%v]\n", prefix, w.red("[ERR]"), m.Path, err)
			}
			n++
		}
	}
	fmt.Fprintln(w.out)
	fmt.Fprintf(w.out, "%s Duplicate image symlinks were created in:\n%s\n", w.green("[INFO]"), target)
	return nil
}

// Summary prints the run totals.
func (w *Writer) Summary(res aggregate.Result, elapsed time.Duration) {
	fmt.Fprintf(w.out, "%s %s images processed, %s duplicate groups (%s files), %s errors in %s\n",
		w.green("[INFO]"),
		humanize.Comma(int64(res.Processed)),
		humanize.Comma(int64(len(res.Groups))),
		humanize.Comma(int64(res.DuplicateFiles())),
		humanize.Comma(int64(len(res.Errors))),
		elapsed.Round(time.Millisecond))
}

func (w *Writer) fit(path string, prefixLen int) string {
	if w.width == 0 {
		return path
	}
	return Truncate(path, prefixLen, w.width)
}

// Truncate shortens path from the left so it fits in width-prefixLen
// terminal columns, marking the cut with "…". Widths are measured per
// grapheme cluster, so wide characters count as two columns. Paths that
// already fit, or widths too small to show anything, are returned unchanged.
func Truncate(path string, prefixLen, width int) string {
	avail := width - prefixLen
	if avail < 2 || uniseg.StringWidth(path) <= avail {
		return path
	}

	var clusters []string
	g := uniseg.NewGraphemes(path)
	for g.Next() {
		clusters = append(clusters, g.Str())
	}
	used, start := 1, len(clusters) // one column for the ellipsis
	for start > 0 {
		cw := uniseg.StringWidth(clusters[start-1])
		if used+cw > avail {
			break
		}
		used += cw
		start--
	}
	return "…" + strings.Join(clusters[start:], "")
}
