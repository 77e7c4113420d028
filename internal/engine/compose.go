package engine

import (
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strings"

	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"
	pdftypes "github.com/pdfcpu/pdfcpu/pkg/pdfcpu/types"
)

func relaxedConfig() *model.Configuration {
	conf := model.NewDefaultConfiguration()
	conf.ValidationMode = model.ValidationRelaxed
	return conf
}

// normalizePDF rewrites inPath to outPath with relaxed validation and returns
// the page count. Malformed input fails here, before any translation work.
func normalizePDF(inPath, outPath string) (int, error) {
	if err := api.OptimizeFile(inPath, outPath, relaxedConfig()); err != nil {
		return 0, fmt.Errorf("invalid PDF: %w", err)
	}
	pages, err := api.PageCountFile(outPath)
	if err != nil {
		return 0, fmt.Errorf("failed to count pages: %w", err)
	}
	return pages, nil
}

// stampDescription places text at (x, y) in points from the bottom-left
// corner, painted over a white box that hides the source row. pdfcpu only
// accepts whole point sizes.
func stampDescription(x, y, fontSize float64, fontName string) string {
	points := int(math.Round(fontSize))
	if fontSize <= 0 {
		points = 10
	} else if points < 1 {
		points = 1
	}
	desc := fmt.Sprintf("pos:bl, off:%.1f %.1f, points:%d, scale:1 abs, rot:0, fillc:#000000, bgcol:#FFFFFF, op:1",
		x, y, points)
	if fontName != "" {
		desc += ", fontname:" + fontName
	}
	return desc
}

// stampTranslations writes a copy of inPath to outPath with every segment's
// translation stamped over it. Segments without a translation are skipped.
func stampTranslations(inPath, outPath string, segments []Segment, translations map[string]string, fontName string) error {
	byPage := make(map[int][]*model.Watermark)
	for _, seg := range segments {
		translated, ok := translations[seg.Text]
		if !ok || strings.TrimSpace(translated) == "" {
			continue
		}
		wm, err := api.TextWatermark(translated, stampDescription(seg.X, seg.Y, seg.FontSize, fontName), true, false, pdftypes.POINTS)
		if err != nil {
			return fmt.Errorf("failed to build stamp for page %d: %w", seg.Page, err)
		}
		byPage[seg.Page] = append(byPage[seg.Page], wm)
	}

	if len(byPage) == 0 {
		return copyFile(inPath, outPath)
	}
	if err := api.AddWatermarksSliceMapFile(inPath, outPath, byPage, relaxedConfig()); err != nil {
		return fmt.Errorf("failed to stamp translations: %w", err)
	}
	return nil
}

// splitPages splits path into single-page files inside dir and returns them
// in page order.
func splitPages(path, dir string, pageCount int) ([]string, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create split directory: %w", err)
	}
	if err := api.SplitFile(path, dir, 1, relaxedConfig()); err != nil {
		return nil, fmt.Errorf("failed to split %s: %w", filepath.Base(path), err)
	}
	base := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	pages := make([]string, pageCount)
	for i := 1; i <= pageCount; i++ {
		pages[i-1] = filepath.Join(dir, fmt.Sprintf("%s_%d.pdf", base, i))
		if _, err := os.Stat(pages[i-1]); err != nil {
			return nil, fmt.Errorf("missing split page %d: %w", i, err)
		}
	}
	return pages, nil
}

// interleavePages builds the dual document: each source page followed by its
// translated counterpart.
func interleavePages(sourcePath, translatedPath, outPath, workDir string, pageCount int) error {
	if pageCount == 1 {
		return mergeFiles([]string{sourcePath, translatedPath}, outPath)
	}
	source, err := splitPages(sourcePath, filepath.Join(workDir, "split-source"), pageCount)
	if err != nil {
		return err
	}
	translated, err := splitPages(translatedPath, filepath.Join(workDir, "split-translated"), pageCount)
	if err != nil {
		return err
	}
	ordered := make([]string, 0, 2*pageCount)
	for i := range source {
		ordered = append(ordered, source[i], translated[i])
	}
	return mergeFiles(ordered, outPath)
}

func mergeFiles(inputs []string, outPath string) error {
	if err := api.MergeCreateFile(inputs, outPath, false, relaxedConfig()); err != nil {
		return fmt.Errorf("failed to merge pages: %w", err)
	}
	return nil
}

func copyFile(src, dst string) error {
	data, err := os.ReadFile(src)
	if err != nil {
		return err
	}
	return os.WriteFile(dst, data, 0644)
}
