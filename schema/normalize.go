package schema

import (
	"strings"
	"unicode"
)

// NormalizeKind parses a panel kind, case-insensitively.
func NormalizeKind(value string) (Kind, error) {
	switch Kind(strings.ToLower(strings.TrimSpace(value))) {
	case KindAbsolute:
		return KindAbsolute, nil
	case KindRelative:
		return KindRelative, nil
	default:
		return "", ErrInvalidKind
	}
}

// NormalizeGridType parses a grid type. "px" and "%" are accepted as shorthands.
func NormalizeGridType(value string) (GridType, error) {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "pixel", "px":
		return GridPixel, nil
	case "percentage", "percent", "%":
		return GridPercentage, nil
	default:
		return "", ErrInvalidGrid
	}
}

// NormalizeSnapMode parses a snap mode.
func NormalizeSnapMode(value string) (SnapMode, error) {
	switch SnapMode(strings.ToLower(strings.TrimSpace(value))) {
	case SnapShared:
		return SnapShared, nil
	case SnapLocal:
		return SnapLocal, nil
	default:
		return "", ErrInvalidGrid
	}
}

// NormalizeChannelName validates a channel name.
// Allowed characters: A-Z, a-z, 0-9, '.', '_', '-', ':'.
func NormalizeChannelName(value string) (ChannelName, error) {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return DefaultChannelName, nil
	}
	for _, r := range trimmed {
		if r == '.' || r == '_' || r == '-' || r == ':' {
			continue
		}
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			continue
		}
		return "", ErrInvalidMessage
	}
	return ChannelName(trimmed), nil
}
