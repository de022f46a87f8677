package geometry

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/local/questionextractor/internal/model"
)

// marginBand is the fraction of page height at the top and bottom where
// running headers and footers live.
const marginBand = 0.06

var pageOfRe = regexp.MustCompile(`(?i)^page\s+\d+(\s+of\s+\d+)?$`)

// LineCleaner drops running headers, footers, page numbers and noise lines.
type LineCleaner struct {
	Band float64
}

// NewLineCleaner returns a cleaner with the default margin band.
func NewLineCleaner() *LineCleaner { return &LineCleaner{Band: marginBand} }

// Clean filters the blocks of a single page.
func (c *LineCleaner) Clean(page model.PageInfo, blocks []model.TextBlock) []model.TextBlock {
	out := blocks[:0:0]
	for _, b := range blocks {
		trimmed := strings.TrimSpace(b.Text)
		if trimmed == "" || isNoise(trimmed) {
			continue
		}
		if c.inMargin(page, b.BBox) {
			if isPageNumber(trimmed, page.Number) || isHeaderFooter(trimmed) {
				continue
			}
		}
		b.Text = trimmed
		out = append(out, b)
	}
	return out
}

func (c *LineCleaner) inMargin(page model.PageInfo, box model.BBox) bool {
	if page.Height <= 0 {
		return false
	}
	band := page.Height * c.Band
	return box.Y1 <= band || box.Y0 >= page.Height-band
}

func isPageNumber(line string, pageNum int) bool {
	if line == fmt.Sprintf("%d", pageNum) || pageOfRe.MatchString(line) {
		return true
	}
	for _, p := range []string{
		fmt.Sprintf("- %d -", pageNum),
		fmt.Sprintf("[%d]", pageNum),
	} {
		if strings.EqualFold(line, p) {
			return true
		}
	}
	return false
}

func isHeaderFooter(line string) bool {
	if len(line) < 50 && hasLetter(line) && strings.ToUpper(line) == line && len(strings.Fields(line)) <= 2 {
		return true
	}
	upper := strings.ToUpper(line)
	for _, p := range []string{"CONFIDENTIAL", "COPYRIGHT", "ALL RIGHTS RESERVED", "PROPRIETARY"} {
		if strings.Contains(upper, p) && len(line) < 100 {
			return true
		}
	}
	return false
}

// isNoise reports lines made only of punctuation or rules.
func isNoise(line string) bool {
	for _, r := range line {
		if (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') || r > 0x7f {
			return false
		}
	}
	return true
}

func hasLetter(s string) bool {
	for _, r := range s {
		if (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') {
			return true
		}
	}
	return false
}
