package video

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/mgpai22/captioner/internal/failure"
)

// StyleSpec holds the subtitle styling passed to ffmpeg's subtitles filter.
// Colors are hex RGB ("#RRGGBB" or "RRGGBB").
type StyleSpec struct {
	FontSize     int    `json:"font_size" toml:"font_size"`
	FontName     string `json:"font_name" toml:"font_name"`
	TextColor    string `json:"text_color" toml:"text_color"`
	OutlineColor string `json:"outline_color" toml:"outline_color"`
	Outline      int    `json:"outline" toml:"outline"`
	Alignment    int    `json:"alignment" toml:"alignment"`
	MarginV      int    `json:"margin_v" toml:"margin_v"`
}

// DefaultStyle returns white bold text with a thick black outline.
func DefaultStyle() StyleSpec {
	return StyleSpec{
		FontSize:     16,
		FontName:     "Arial Bold",
		TextColor:    "FFFFFF",
		OutlineColor: "000000",
		Outline:      3,
		Alignment:    10,
		MarginV:      50,
	}
}

// WithDefaults fills every unset field from DefaultStyle. A zero Outline or
// MarginV is a valid setting and is kept unless the whole spec is empty.
func (s StyleSpec) WithDefaults() StyleSpec {
	def := DefaultStyle()
	if s == (StyleSpec{}) {
		return def
	}
	if s.FontSize == 0 {
		s.FontSize = def.FontSize
	}
	if strings.TrimSpace(s.FontName) == "" {
		s.FontName = def.FontName
	}
	if strings.TrimSpace(s.TextColor) == "" {
		s.TextColor = def.TextColor
	}
	if strings.TrimSpace(s.OutlineColor) == "" {
		s.OutlineColor = def.OutlineColor
	}
	if s.Alignment == 0 {
		s.Alignment = def.Alignment
	}
	return s
}

// outline border; opaque box is 3
const borderStyleOutline = 1

// ToStyleColor converts "#RRGGBB" into the ASS color token "&H00BBGGRR".
// The leading '#' is optional.
func ToStyleColor(hex string) (string, error) {
	raw := strings.TrimPrefix(strings.TrimSpace(hex), "#")
	if len(raw) != 6 {
		return "", failure.Invalid("color %q must have 6 hex digits", hex)
	}
	if _, err := strconv.ParseUint(raw, 16, 32); err != nil {
		return "", failure.Invalid("color %q is not hexadecimal", hex)
	}

	raw = strings.ToUpper(raw)
	r, g, b := raw[0:2], raw[2:4], raw[4:6]
	return "&H00" + b + g + r, nil
}

// Validate checks every field ffmpeg would otherwise reject late.
func (s StyleSpec) Validate() error {
	_, err := s.ForceStyle()
	return err
}

// ForceStyle renders the force_style value for the subtitles filter.
func (s StyleSpec) ForceStyle() (string, error) {
	if s.FontSize <= 0 {
		return "", failure.Invalid("font size must be positive, got %d", s.FontSize)
	}
	if s.Outline < 0 {
		return "", failure.Invalid("outline must not be negative, got %d", s.Outline)
	}
	if s.MarginV < 0 {
		return "", failure.Invalid("vertical margin must not be negative, got %d", s.MarginV)
	}
	// legacy SSA numbering: 1-3 bottom, 5-7 top, 9-11 middle
	if s.Alignment < 1 || s.Alignment > 11 || s.Alignment == 4 || s.Alignment == 8 {
		return "", failure.Invalid("alignment %d is not a legacy alignment code (1-3, 5-7, 9-11)", s.Alignment)
	}
	fontName := strings.TrimSpace(s.FontName)
	if fontName == "" || strings.ContainsAny(fontName, ",'=:\\") {
		return "", failure.Invalid("font name %q is empty or contains reserved characters", s.FontName)
	}

	primary, err := ToStyleColor(s.TextColor)
	if err != nil {
		return "", err
	}
	outline, err := ToStyleColor(s.OutlineColor)
	if err != nil {
		return "", err
	}

	fields := []string{
		fmt.Sprintf("FontSize=%d", s.FontSize),
		"FontName=" + fontName,
		"PrimaryColour=" + primary,
		"OutlineColour=" + outline,
		fmt.Sprintf("Outline=%d", s.Outline),
		fmt.Sprintf("BorderStyle=%d", borderStyleOutline),
		fmt.Sprintf("Alignment=%d", s.Alignment),
		fmt.Sprintf("MarginV=%d", s.MarginV),
	}
	return strings.Join(fields, ","), nil
}

// SubtitlesFilter builds the -vf value that burns srtPath into the video.
func SubtitlesFilter(srtPath string, style StyleSpec) (string, error) {
	if strings.TrimSpace(srtPath) == "" {
		return "", failure.Invalid("subtitle path is required")
	}
	forceStyle, err := style.ForceStyle()
	if err != nil {
		return "", err
	}
	path := strings.ReplaceAll(srtPath, `\`, "/")
	args := "filename=" + optionEscaper.Replace(path) + ":force_style=" + optionEscaper.Replace(forceStyle)
	return "subtitles=" + graphEscaper.Replace(args), nil
}

// ffmpeg unescapes a filter description twice: once when splitting the
// graph on [],; and once when splitting the filter's own key=value:... list.
var (
	optionEscaper = strings.NewReplacer(`\`, `\\`, "'", `\'`, ":", `\:`)
	graphEscaper  = strings.NewReplacer(`\`, `\\`, "'", `\'`, "[", `\[`, "]", `\]`, ",", `\,`, ";", `\;`)
)
