package ui

// DetermineLayoutMode picks how much chrome fits next to the output.
func DetermineLayoutMode(cols int) LayoutMode {
	if cols <= 0 || cols >= 120 {
		return LayoutWide
	}
	if cols >= 80 {
		return LayoutCompact
	}
	return LayoutNarrow
}

// WrapWidth is the text width used for briefings in a layout.
func WrapWidth(mode LayoutMode) int {
	switch mode {
	case LayoutWide:
		return 78
	case LayoutCompact:
		return 72
	default:
		return 56
	}
}
