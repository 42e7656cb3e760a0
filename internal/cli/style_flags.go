package cli

import (
	"github.com/spf13/cobra"

	"github.com/mgpai22/captioner/internal/video"
)

// styleFlags holds the burn-in style flags. Only flags the user set
// override the configured style.
type styleFlags struct {
	spec video.StyleSpec
}

func (f *styleFlags) register(cmd *cobra.Command) {
	def := video.DefaultStyle()
	flags := cmd.Flags()
	flags.IntVar(&f.spec.FontSize, "font-size", def.FontSize, "Subtitle font size")
	flags.StringVar(&f.spec.FontName, "font-name", def.FontName, "Subtitle font name")
	flags.StringVar(&f.spec.TextColor, "text-color", def.TextColor, "Text color as hex RGB (e.g. FFFFFF or #FFFF00)")
	flags.StringVar(&f.spec.OutlineColor, "outline-color", def.OutlineColor, "Outline color as hex RGB")
	flags.IntVar(&f.spec.Outline, "outline", def.Outline, "Outline width")
	flags.IntVar(&f.spec.Alignment, "alignment", def.Alignment, "Subtitle alignment (ASS numpad position)")
	flags.IntVar(&f.spec.MarginV, "margin-v", def.MarginV, "Vertical margin in pixels")
}

func (f *styleFlags) apply(cmd *cobra.Command, base video.StyleSpec) video.StyleSpec {
	changed := cmd.Flags().Changed
	if changed("font-size") {
		base.FontSize = f.spec.FontSize
	}
	if changed("font-name") {
		base.FontName = f.spec.FontName
	}
	if changed("text-color") {
		base.TextColor = f.spec.TextColor
	}
	if changed("outline-color") {
		base.OutlineColor = f.spec.OutlineColor
	}
	if changed("outline") {
		base.Outline = f.spec.Outline
	}
	if changed("alignment") {
		base.Alignment = f.spec.Alignment
	}
	if changed("margin-v") {
		base.MarginV = f.spec.MarginV
	}
	return base
}
