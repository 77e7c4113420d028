package engine

import (
	"fmt"
	"path/filepath"
	"sort"
	"strings"

	"github.com/pdfcpu/pdfcpu/pkg/font"
)

// coreFontLanguages are the target languages whose text fits the WinAnsi
// encoding of pdfcpu's built-in core fonts.
var coreFontLanguages = map[string]bool{
	"en": true, "es": true, "fr": true, "de": true,
	"pt": true, "it": true, "id": true,
}

// CoreFontLanguages lists the targets the native engine can render without
// a user font, sorted.
func CoreFontLanguages() []string {
	langs := make([]string, 0, len(coreFontLanguages))
	for lang := range coreFontLanguages {
		langs = append(langs, lang)
	}
	sort.Strings(langs)
	return langs
}

// HasUnicodeFont reports whether name is an installed TrueType font rather
// than a core font.
func HasUnicodeFont(name string) bool {
	return name != "" && !font.IsCoreFont(name) && font.IsUserFont(name)
}

// InstallFont installs fontFile into the pdfcpu user font directory and
// returns the name stamps should reference. fontName defaults to the file
// stem and must match the font's PostScript name. Without a file, fontName
// must already be known to pdfcpu (or be empty for the default core font).
func InstallFont(fontFile, fontName string) (string, error) {
	// Sets font.UserFontDir and loads previously installed fonts.
	relaxedConfig()

	if fontFile == "" {
		if fontName != "" && !font.SupportedFont(fontName) {
			return "", fmt.Errorf("font %q is not installed; set font_file to a .ttf or .ttc file", fontName)
		}
		return fontName, nil
	}

	var err error
	switch strings.ToLower(filepath.Ext(fontFile)) {
	case ".ttf":
		err = font.InstallTrueTypeFont(font.UserFontDir, fontFile)
	case ".ttc":
		err = font.InstallTrueTypeCollection(font.UserFontDir, fontFile)
	default:
		return "", fmt.Errorf("font file %s: only .ttf and .ttc are supported", fontFile)
	}
	if err != nil {
		return "", fmt.Errorf("failed to install font %s: %w", fontFile, err)
	}
	if err := font.LoadUserFonts(); err != nil {
		return "", fmt.Errorf("failed to load installed fonts: %w", err)
	}

	if fontName == "" {
		fontName = strings.TrimSuffix(filepath.Base(fontFile), filepath.Ext(fontFile))
	}
	if !font.IsUserFont(fontName) {
		installed := font.UserFontNames()
		sort.Strings(installed)
		return "", fmt.Errorf("font %q not found after installing %s; set font_name to its PostScript name (installed: %s)",
			fontName, filepath.Base(fontFile), strings.Join(installed, ", "))
	}
	return fontName, nil
}
