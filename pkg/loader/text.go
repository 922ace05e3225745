package loader

import (
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/OFFIS-RIT/maintkg/backend/pkg/common"

	"github.com/pkoukk/tiktoken-go"
)

const (
	defaultEncoder   = "o200k_base"
	defaultMaxTokens = 400
)

// headingRe matches section headings such as "4.2 Hydraulic system" or
// "Section 3: Inspection". Single numbers are left to numbered steps.
var headingRe = regexp.MustCompile(`^(?:(?i:section|chapter)\s+(\d+(?:\.\d+)*)|(\d+\.\d+(?:\.\d+)*))[.:)]?\s+\S.{0,80}$`)

type TextParams struct {
	ID         string
	Version    int64
	Text       string
	MaxTokens  int
	IngestedAt time.Time
}

type block struct {
	section string
	offset  int
	text    string
}

// FromText cuts cleaned text into segments. Blank lines separate blocks,
// line breaks inside a block are kept, and consecutive blocks of the same
// section are merged while they fit into MaxTokens tokens.
func FromText(params TextParams) (common.Document, error) {
	if params.ID == "" || params.Version < 1 {
		return common.Document{}, fmt.Errorf("%w: text document needs an id and a positive version", common.ErrInvalidDocument)
	}
	maxTokens := params.MaxTokens
	if maxTokens <= 0 {
		maxTokens = defaultMaxTokens
	}
	enc, err := tiktoken.GetEncoding(defaultEncoder)
	if err != nil {
		return common.Document{}, err
	}

	doc := common.Document{ID: params.ID, Version: params.Version, IngestedAt: params.IngestedAt}
	if doc.IngestedAt.IsZero() {
		doc.IngestedAt = time.Now().UTC()
	}

	var cur *common.Segment
	flush := func() {
		if cur != nil && strings.TrimSpace(cur.Text) != "" {
			doc.Segments = append(doc.Segments, *cur)
		}
		cur = nil
	}

	for _, b := range splitBlocks(params.Text) {
		if cur != nil && cur.SectionID == b.section {
			joined := cur.Text + "\n\n" + b.text
			if len(enc.Encode(joined, nil, nil)) <= maxTokens {
				cur.Text = joined
				continue
			}
		}
		flush()
		cur = &common.Segment{Text: b.text, SectionID: b.section, Offset: b.offset}
	}
	flush()
	return doc, nil
}

// splitBlocks returns the non-empty blocks of text with the byte offset of
// their first line and the section heading in force.
func splitBlocks(text string) []block {
	text = strings.ReplaceAll(text, "\r\n", "\n")

	var (
		blocks  []block
		lines   []string
		start   = -1
		section = "preamble"
		offset  = 0
	)
	flush := func() {
		if len(lines) > 0 {
			blocks = append(blocks, block{section: section, offset: start, text: strings.Join(lines, "\n")})
		}
		lines = nil
		start = -1
	}

	for _, line := range strings.SplitAfter(text, "\n") {
		lineOffset := offset
		offset += len(line)
		trimmed := strings.TrimSpace(line)

		if trimmed == "" {
			flush()
			continue
		}
		if m := headingRe.FindStringSubmatch(trimmed); m != nil && !strings.HasSuffix(trimmed, ".") {
			flush()
			section = m[1] + m[2]
		}
		if start < 0 {
			start = lineOffset
		}
		lines = append(lines, trimmed)
	}
	flush()
	return blocks
}
