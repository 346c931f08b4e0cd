package models

// Brand palette used by the console.
const (
	ColorIvory      = "#F2F3F1"
	ColorSage       = "#8EA58C"
	ColorMoss       = "#738A6E"
	ColorEvergreen  = "#344C3D"
	ColorFrenchBlue = "#88A5BC"
)

// BrandPalette lists every colour the console templates may use.
var BrandPalette = []string{ColorIvory, ColorSage, ColorMoss, ColorEvergreen, ColorFrenchBlue}

// Badge is the rendering of a risk level: background, foreground and label.
type Badge struct {
	Background string
	Foreground string
	Label      string
}

// RiskBadge maps a risk level onto the palette, darkest for critical and
// lightest for low. Unknown levels render as low.
func RiskBadge(r RiskLevel) Badge {
	switch r {
	case RiskCritical:
		return Badge{Background: ColorEvergreen, Foreground: ColorIvory, Label: "Critical"}
	case RiskHigh:
		return Badge{Background: ColorMoss, Foreground: ColorIvory, Label: "High"}
	case RiskModerate:
		return Badge{Background: ColorSage, Foreground: ColorEvergreen, Label: "Moderate"}
	default:
		return Badge{Background: ColorIvory, Foreground: ColorEvergreen, Label: "Low"}
	}
}
