package engine

import (
	"bytes"
	"fmt"
	"strings"
	"unicode"

	"github.com/ledongthuc/pdf"
)

// Segment is one text row of a page, positioned in PDF user space
// (origin bottom-left, points).
type Segment struct {
	Page     int
	X        float64
	Y        float64
	Width    float64
	FontSize float64
	Text     string
}

// ExtractSegments returns the translatable text rows of every page.
func ExtractSegments(data []byte) (segments []Segment, pageCount int, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("failed to parse PDF text: %v", r)
		}
	}()

	reader, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, 0, fmt.Errorf("failed to open PDF: %w", err)
	}

	pageCount = reader.NumPage()
	for pageNum := 1; pageNum <= pageCount; pageNum++ {
		page := reader.Page(pageNum)
		if page.V.IsNull() {
			continue
		}
		rows, err := page.GetTextByRow()
		if err != nil {
			return nil, 0, fmt.Errorf("failed to read text of page %d: %w", pageNum, err)
		}
		for _, row := range rows {
			if seg, ok := segmentFromRow(pageNum, row); ok {
				segments = append(segments, seg)
			}
		}
	}
	return segments, pageCount, nil
}

func segmentFromRow(pageNum int, row *pdf.Row) (Segment, bool) {
	var sb strings.Builder
	seg := Segment{Page: pageNum}
	first := true
	var lastEnd, totalFont float64
	count := 0

	for _, text := range row.Content {
		if text.S == "" {
			continue
		}
		if first {
			seg.X, seg.Y = text.X, text.Y
			first = false
		} else if text.X > lastEnd+1 {
			sb.WriteString(" ")
		}
		sb.WriteString(text.S)
		width := text.W
		if width <= 0 {
			width = float64(len([]rune(text.S))) * text.FontSize * 0.5
		}
		lastEnd = text.X + width
		totalFont += text.FontSize
		count++
	}
	if count == 0 {
		return Segment{}, false
	}

	seg.Text = strings.Join(strings.Fields(sb.String()), " ")
	seg.FontSize = totalFont / float64(count)
	seg.Width = lastEnd - seg.X
	return seg, ShouldTranslate(seg.Text)
}

// ShouldTranslate skips rows without at least two letters, such as page
// numbers and bare formulas.
func ShouldTranslate(text string) bool {
	letters := 0
	for _, r := range text {
		if unicode.IsLetter(r) {
			letters++
			if letters >= 2 {
				return true
			}
		}
	}
	return false
}
