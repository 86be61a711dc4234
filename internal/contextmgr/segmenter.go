package contextmgr

import (
	"strings"

	"github.com/boomertechie/synology-chat-claude-bridge/internal/logging"
)

// =============================================================================
// Boundary Segmentation
// =============================================================================
// Splits text into ordered segments no larger than maxSize, preferring
// semantic breakpoints. Fenced code regions are atomic: they are never split,
// even when that makes a segment exceed maxSize. Joining the returned
// segments in order always reproduces the input exactly.

const fence = "```"

// fencedRegion is a [start, end) byte range covering a matched pair of
// triple-backtick fences, both fences included.
type fencedRegion struct {
	start int
	end   int
}

// findFencedRegions locates matched fence pairs left to right. A trailing
// unmatched fence is left as ordinary text.
func findFencedRegions(text string) []fencedRegion {
	var regions []fencedRegion
	pos := 0
	for {
		open := strings.Index(text[pos:], fence)
		if open < 0 {
			break
		}
		open += pos
		close := strings.Index(text[open+len(fence):], fence)
		if close < 0 {
			break
		}
		end := open + len(fence) + close + len(fence)
		regions = append(regions, fencedRegion{start: open, end: end})
		pos = end
	}
	return regions
}

// regionAt returns the region starting exactly at pos, if any.
func regionAt(regions []fencedRegion, pos int) (fencedRegion, bool) {
	for _, r := range regions {
		if r.start == pos {
			return r, true
		}
		if r.start > pos {
			break
		}
	}
	return fencedRegion{}, false
}

// regionContaining returns the region strictly containing pos, if any.
func regionContaining(regions []fencedRegion, pos int) (fencedRegion, bool) {
	for _, r := range regions {
		if r.start < pos && pos < r.end {
			return r, true
		}
		if r.start >= pos {
			break
		}
	}
	return fencedRegion{}, false
}

// SplitText segments text with atomic fence preservation enabled. This is
// the variant every caller in the bridge uses.
func SplitText(text string, maxSize int) []Segment {
	return SplitTextOptions(text, maxSize, true)
}

// SplitTextOptions segments text into ordered pieces of at most maxSize
// characters. With preserveAtomic, fenced regions are emitted whole even
// when oversized (logged as an anomaly, never an error). Identical input
// always produces identical output, and every input - including the empty
// string - yields at least one segment.
func SplitTextOptions(text string, maxSize int, preserveAtomic bool) []Segment {
	if maxSize <= 0 || len(text) <= maxSize {
		return []Segment{{Text: text}}
	}

	var regions []fencedRegion
	if preserveAtomic {
		regions = findFencedRegions(text)
	}

	var segments []Segment
	cursor := 0
	for cursor < len(text) {
		// A fenced region starting at the cursor is emitted whole.
		if r, ok := regionAt(regions, cursor); ok {
			if r.end-r.start > maxSize {
				logging.ContextWarn("atomic region of %d chars exceeds max segment size %d, emitting whole",
					r.end-r.start, maxSize)
			}
			segments = append(segments, Segment{Text: text[cursor:r.end], Atomic: true})
			cursor = r.end
			continue
		}

		// Remainder fits: final segment.
		if len(text)-cursor <= maxSize {
			segments = append(segments, Segment{Text: text[cursor:]})
			break
		}

		limit := cursor + maxSize
		// A hard cut must never land inside a fenced region; pull it back
		// to the region start.
		if r, ok := regionContaining(regions, limit); ok && r.start > cursor {
			limit = r.start
		}

		cut := splitPoint(text, regions, cursor, limit)
		segments = append(segments, Segment{Text: text[cursor:cut]})
		cursor = cut
	}

	if len(segments) == 0 {
		segments = []Segment{{Text: text}}
	}
	return segments
}

// splitPoint picks the best cut in (cursor, limit] by descending priority:
// paragraph break, sentence terminator followed by whitespace, line break,
// hard cut at limit. Candidates inside fenced regions are skipped.
func splitPoint(text string, regions []fencedRegion, cursor, limit int) int {
	if cut, ok := paragraphCut(text, regions, cursor, limit); ok {
		return cut
	}
	if cut, ok := sentenceCut(text, regions, cursor, limit); ok {
		return cut
	}
	if cut, ok := lineCut(text, regions, cursor, limit); ok {
		return cut
	}
	return limit
}

// paragraphCut finds the last blank line in the window; the cut falls after
// it so the break stays with the leading segment.
func paragraphCut(text string, regions []fencedRegion, cursor, limit int) (int, bool) {
	idx := strings.LastIndex(text[cursor:limit], "\n\n")
	for idx >= 0 {
		cut := cursor + idx + 2
		if cut > cursor && validCut(regions, cut) {
			return cut, true
		}
		idx = strings.LastIndex(text[cursor:cursor+idx], "\n\n")
	}
	return 0, false
}

// sentenceCut finds the last sentence terminator followed by whitespace.
func sentenceCut(text string, regions []fencedRegion, cursor, limit int) (int, bool) {
	for i := limit - 1; i > cursor; i-- {
		c := text[i-1]
		if c != '.' && c != '!' && c != '?' {
			continue
		}
		if i >= len(text) || !isSpace(text[i]) {
			continue
		}
		if validCut(regions, i) {
			return i, true
		}
	}
	return 0, false
}

// lineCut finds the last single line break in the window.
func lineCut(text string, regions []fencedRegion, cursor, limit int) (int, bool) {
	idx := strings.LastIndexByte(text[cursor:limit], '\n')
	for idx >= 0 {
		cut := cursor + idx + 1
		if cut > cursor && validCut(regions, cut) {
			return cut, true
		}
		idx = strings.LastIndexByte(text[cursor:cursor+idx], '\n')
	}
	return 0, false
}

// validCut reports whether a cut position falls outside every fenced region.
// Cuts exactly at a region boundary are fine.
func validCut(regions []fencedRegion, cut int) bool {
	_, inside := regionContaining(regions, cut)
	return !inside
}

func isSpace(c byte) bool {
	return c == ' ' || c == '\t' || c == '\n' || c == '\r'
}

// JoinSegments reassembles segments into the original text. Mostly useful
// in tests asserting the lossless partition invariant.
func JoinSegments(segments []Segment) string {
	var sb strings.Builder
	for _, s := range segments {
		sb.WriteString(s.Text)
	}
	return sb.String()
}
