package patch

import (
	"errors"
	"fmt"
	"net/url"
	"regexp"
	"strconv"
	"strings"

	"github.com/sergi/go-diff/diffmatchpatch"

	"github.com/starford/blockpatch/internal/document"
)

// ErrHunkRejected is returned when a diffMatchPatch hunk cannot be located in
// the text it is applied to.
var ErrHunkRejected = errors.New("patch: diff hunk rejected")

// diffEditCost is the cleanup cost used when turning two texts into insert
// and delete runs.
const diffEditCost = 5

var hunkHeaderRe = regexp.MustCompile(`^@@ -(\d+),?(\d*) \+(\d+),?(\d*) @@$`)

// Hunk is one parsed section of a diff-match-patch text. Start and length
// fields are byte offsets, zero based.
type Hunk struct {
	Start1, Length1 int
	Start2, Length2 int
	Diffs           []diffmatchpatch.Diff
}

// Source is the text the hunk expects before it is applied.
func (h Hunk) Source() string { return diffmatchpatch.New().DiffText1(h.Diffs) }

// Target is the text the hunk leaves behind.
func (h Hunk) Target() string { return diffmatchpatch.New().DiffText2(h.Diffs) }

// applied reports whether text already holds the hunk's result. When both
// images are present the longer one wins, since it is the stronger match.
func (h Hunk) applied(text string) bool {
	post, pre := h.Target(), h.Source()
	if !substrAt(text, h.Start2, post) {
		return false
	}
	return !substrAt(text, h.Start1, pre) || len(post) > len(pre)
}

func substrAt(text string, at int, s string) bool {
	return at >= 0 && at+len(s) <= len(text) && text[at:at+len(s)] == s
}

// MakeText returns the diff-match-patch text turning prev into next, or ""
// when the texts are equal.
func MakeText(prev, next string) string {
	if prev == next {
		return ""
	}
	dmp := diffmatchpatch.New()
	patches := dmp.PatchMake(prev, next)
	if len(patches) == 0 {
		return ""
	}
	return dmp.PatchToText(patches)
}

// MakeDiffMatchPatch builds a diffMatchPatch patch, reporting false when the
// delta is empty.
func MakeDiffMatchPatch(prev, next string, path document.KeyPath) (Patch, bool) {
	text := MakeText(prev, next)
	if text == "" {
		return Patch{}, false
	}
	return DiffMatchPatch(text, path), true
}

// ParseHunks parses diff-match-patch text into hunks.
func ParseHunks(text string) ([]Hunk, error) {
	var hunks []Hunk
	var cur *Hunk
	for _, line := range strings.Split(text, "\n") {
		if line == "" {
			continue
		}
		if line[0] == '@' {
			m := hunkHeaderRe.FindStringSubmatch(line)
			if m == nil {
				return nil, fmt.Errorf("patch: invalid hunk header %q", line)
			}
			hunks = append(hunks, Hunk{})
			cur = &hunks[len(hunks)-1]
			cur.Start1, cur.Length1 = hunkCoords(m[1], m[2])
			cur.Start2, cur.Length2 = hunkCoords(m[3], m[4])
			continue
		}
		if cur == nil {
			return nil, fmt.Errorf("patch: diff line before hunk header")
		}
		body, err := url.QueryUnescape(strings.ReplaceAll(line[1:], "+", "%2b"))
		if err != nil {
			return nil, fmt.Errorf("patch: decode diff line: %w", err)
		}
		var op diffmatchpatch.Operation
		switch line[0] {
		case '-':
			op = diffmatchpatch.DiffDelete
		case '+':
			op = diffmatchpatch.DiffInsert
		case ' ':
			op = diffmatchpatch.DiffEqual
		default:
			return nil, fmt.Errorf("patch: invalid diff mode %q", line[0])
		}
		cur.Diffs = append(cur.Diffs, diffmatchpatch.Diff{Type: op, Text: body})
	}
	return hunks, nil
}

func hunkCoords(start, length string) (int, int) {
	s, _ := strconv.Atoi(start)
	switch length {
	case "":
		return s - 1, 1
	case "0":
		return s, 0
	default:
		n, _ := strconv.Atoi(length)
		return s - 1, n
	}
}

// ApplyText applies diff-match-patch text to text. Hunks whose result is
// already present are skipped, so applying the same patch twice leaves the
// text as the first application did. Either every remaining hunk applies or
// text is returned unchanged with ErrHunkRejected.
func ApplyText(patchText, text string) (string, error) {
	hunks, err := ParseHunks(patchText)
	if err != nil {
		return text, err
	}
	dmp := diffmatchpatch.New()
	patches, err := dmp.PatchFromText(patchText)
	if err != nil {
		return text, fmt.Errorf("patch: parse: %w", err)
	}
	if len(patches) != len(hunks) {
		return text, fmt.Errorf("patch: parsed %d hunks, library parsed %d", len(hunks), len(patches))
	}
	var pending []diffmatchpatch.Patch
	for i, h := range hunks {
		if h.applied(text) {
			continue
		}
		pending = append(pending, patches[i])
	}
	if len(pending) == 0 {
		return text, nil
	}
	out, results := dmp.PatchApply(pending, text)
	for _, ok := range results {
		if !ok {
			return text, ErrHunkRejected
		}
	}
	return out, nil
}

// Diff returns the insert/delete/equal runs turning from into to.
func Diff(from, to string) []diffmatchpatch.Diff {
	if from == to {
		if from == "" {
			return nil
		}
		return []diffmatchpatch.Diff{{Type: diffmatchpatch.DiffEqual, Text: from}}
	}
	dmp := diffmatchpatch.New()
	dmp.DiffEditCost = diffEditCost
	return dmp.DiffCleanupEfficiency(dmp.DiffMain(from, to, false))
}

// MapOffset moves a byte offset in the text a hunk was made against to the
// matching offset after the hunk is applied. Insertions exactly at offset do
// not move it; deletions spanning it clamp it to the deletion start.
func (h Hunk) MapOffset(offset int) int {
	pos := h.Start1
	delta := 0
	for _, d := range h.Diffs {
		n := len(d.Text)
		switch d.Type {
		case diffmatchpatch.DiffEqual:
			pos += n
		case diffmatchpatch.DiffInsert:
			if pos < offset {
				delta += n
			}
		case diffmatchpatch.DiffDelete:
			switch {
			case pos+n <= offset:
				delta -= n
			case pos < offset:
				delta -= offset - pos
			}
			pos += n
		}
	}
	return offset + delta
}

// MapOffsetThroughDiffs maps an offset in the old text of diffs to the new
// text, with the same tie rules as Hunk.MapOffset.
func MapOffsetThroughDiffs(diffs []diffmatchpatch.Diff, offset int) int {
	return Hunk{Diffs: diffs}.MapOffset(offset)
}
