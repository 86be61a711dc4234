package contextmgr

import (
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func segmentLengths(segments []Segment) []int {
	lengths := make([]int, len(segments))
	for i, s := range segments {
		lengths[i] = len(s.Text)
	}
	return lengths
}

func TestSplitText_ShortInputIsSingleSegment(t *testing.T) {
	segments := SplitText("hello", 100)
	require.Len(t, segments, 1)
	assert.Equal(t, "hello", segments[0].Text)
}

func TestSplitText_EmptyInputIsSingleSegment(t *testing.T) {
	segments := SplitText("", 100)
	require.Len(t, segments, 1)
	assert.Equal(t, "", segments[0].Text)

	segments = SplitText("   ", 100)
	require.Len(t, segments, 1)
	assert.Equal(t, "   ", segments[0].Text)
}

func TestSplitText_HardCutsWithoutBreakpoints(t *testing.T) {
	// 100 characters with no paragraph, sentence, or line breaks.
	input := strings.Repeat("x", 100)
	segments := SplitText(input, 30)

	assert.Equal(t, []int{30, 30, 30, 10}, segmentLengths(segments))
	assert.Equal(t, input, JoinSegments(segments))
}

func TestSplitText_PrefersParagraphBreak(t *testing.T) {
	input := "aaaa aaaa\n\nbbbb bbbb"
	segments := SplitText(input, 12)

	require.Len(t, segments, 2)
	assert.Equal(t, "aaaa aaaa\n\n", segments[0].Text)
	assert.Equal(t, "bbbb bbbb", segments[1].Text)
}

func TestSplitText_FallsBackToSentenceBoundary(t *testing.T) {
	input := "One sentence. Two sentence. Three"
	segments := SplitText(input, 20)

	require.Len(t, segments, 2)
	assert.Equal(t, "One sentence.", segments[0].Text)
	assert.Equal(t, " Two sentence. Three", segments[1].Text)
}

func TestSplitText_FallsBackToLineBreak(t *testing.T) {
	input := "abcdefgh\nijklmnop\nqrstuvwx"
	segments := SplitText(input, 12)

	assert.Equal(t, []int{9, 9, 8}, segmentLengths(segments))
	assert.Equal(t, input, JoinSegments(segments))
}

func TestSplitText_OversizedFenceEmittedWhole(t *testing.T) {
	fenceBlock := "```\ncode line one\ncode line two\n```"
	input := "intro text\n" + fenceBlock + "\ntail text"
	segments := SplitText(input, 20)

	require.Len(t, segments, 3)
	assert.Equal(t, "intro text\n", segments[0].Text)
	assert.Equal(t, fenceBlock, segments[1].Text)
	assert.True(t, segments[1].Atomic)
	assert.Greater(t, len(segments[1].Text), 20, "atomic region may exceed maxSize")
	assert.Equal(t, "\ntail text", segments[2].Text)
	assert.Equal(t, input, JoinSegments(segments))
}

func TestSplitText_HardCutPulledBackToFenceStart(t *testing.T) {
	// The fence straddles the would-be hard cut at 20; the cut must pull
	// back to the fence start instead of landing inside it.
	input := strings.Repeat("a", 15) + "```xyz```" + strings.Repeat("b", 10)
	segments := SplitText(input, 20)

	assert.Equal(t, []int{15, 9, 10}, segmentLengths(segments))
	assert.Equal(t, "```xyz```", segments[1].Text)
	assert.True(t, segments[1].Atomic)
	assert.Equal(t, input, JoinSegments(segments))
}

func TestSplitText_NoPartialFencePairs(t *testing.T) {
	inputs := []string{
		"before ```fenced content``` after",
		strings.Repeat("text ", 30) + "```\nblock\n```" + strings.Repeat(" more", 30),
		"```a``` middle ```b```",
		strings.Repeat("p", 40) + "\n\n```\n" + strings.Repeat("q", 60) + "\n```\n" + strings.Repeat("r", 40),
	}

	for _, input := range inputs {
		for _, maxSize := range []int{10, 25, 50} {
			segments := SplitText(input, maxSize)
			assert.Equal(t, input, JoinSegments(segments), "lossless for maxSize=%d", maxSize)
			for i, s := range segments {
				count := strings.Count(s.Text, "```")
				assert.Equal(t, 0, count%2, "segment %d has odd fence count %d (maxSize=%d): %q", i, count, maxSize, s.Text)
			}
		}
	}
}

func TestSplitText_SizeBoundExceptAtomic(t *testing.T) {
	input := strings.Repeat("word. ", 50) + "```\n" + strings.Repeat("code", 30) + "\n```" + strings.Repeat(" tail", 20)
	for _, maxSize := range []int{20, 40, 80} {
		for _, s := range SplitText(input, maxSize) {
			if !s.Atomic {
				assert.LessOrEqual(t, len(s.Text), maxSize)
			}
		}
	}
}

func TestSplitText_Lossless(t *testing.T) {
	inputs := []string{
		"",
		"short",
		strings.Repeat("a", 1000),
		strings.Repeat("Sentence one. Sentence two! Question three? ", 20),
		strings.Repeat("line\n", 100),
		strings.Repeat("para one\n\npara two\n\n", 15),
		"mixed ```code``` and\n\ntext. With sentences\nand lines",
	}
	for _, input := range inputs {
		for _, maxSize := range []int{1, 7, 16, 64, 256} {
			segments := SplitText(input, maxSize)
			require.NotEmpty(t, segments)
			assert.Equal(t, input, JoinSegments(segments), "maxSize=%d", maxSize)
		}
	}
}

func TestSplitText_Deterministic(t *testing.T) {
	input := strings.Repeat("Deterministic input. With breaks\n\nand ```fences``` too. ", 10)
	first := SplitText(input, 48)
	second := SplitText(input, 48)
	if diff := cmp.Diff(first, second); diff != "" {
		t.Errorf("segmentation not deterministic (-first +second):\n%s", diff)
	}
}

func TestSplitText_AtomicPreservationDisabled(t *testing.T) {
	input := "aa```" + strings.Repeat("c", 40) + "```zz"
	segments := SplitTextOptions(input, 16, false)

	assert.Equal(t, input, JoinSegments(segments))
	for _, s := range segments {
		assert.LessOrEqual(t, len(s.Text), 16)
		assert.False(t, s.Atomic)
	}
}
