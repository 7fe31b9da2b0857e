package ui

import "github.com/fatih/color"

var (
	SectionHeaderColor = color.New(color.BgHiBlue, color.FgHiWhite, color.Bold)
	NameColor          = color.New(color.FgHiCyan)
	DimColor           = color.New(color.FgHiBlack)
)

// StageColor returns the color a node stage is printed with.
func StageColor(stage string) *color.Color {
	switch stage {
	case "connected":
		return color.New(color.FgHiGreen)
	case "failed":
		return color.New(color.FgHiRed)
	case "launched":
		return color.New(color.FgHiYellow)
	default:
		return DimColor
	}
}
