// Package styles provides consistent styling for the orderstream CLI.
package styles

import (
	"github.com/charmbracelet/lipgloss"

	"github.com/AshkanYarmoradi/orderstream/order"
)

// Color palette
var (
	Primary   = lipgloss.Color("#7C3AED") // Vibrant purple
	Secondary = lipgloss.Color("#06B6D4") // Cyan

	Success      = lipgloss.Color("#10B981") // Emerald green
	Warning      = lipgloss.Color("#F59E0B") // Amber
	WarningLight = lipgloss.Color("#FBBF24") // Light amber
	Error        = lipgloss.Color("#EF4444") // Red
	Info         = lipgloss.Color("#3B82F6") // Blue

	Text      = lipgloss.Color("#F9FAFB") // Almost white
	TextMuted = lipgloss.Color("#9CA3AF") // Gray
	Surface   = lipgloss.Color("#1F2937") // Slightly lighter
	Border    = lipgloss.Color("#374151") // Border gray
)

// Text styles
var (
	Bold = lipgloss.NewStyle().
		Bold(true)

	// Title style for headers
	Title = lipgloss.NewStyle().
		Bold(true).
		Foreground(Primary).
		MarginBottom(1)

	Normal = lipgloss.NewStyle().
		Foreground(Text)

	Muted = lipgloss.NewStyle().
		Foreground(TextMuted)

	// Highlight for important text
	Highlight = lipgloss.NewStyle().
			Bold(true).
			Foreground(Secondary)

	// Code style for inline code
	Code = lipgloss.NewStyle().
		Foreground(WarningLight).
		Background(Surface).
		Padding(0, 1)
)

// Status styles
var (
	SuccessStyle = lipgloss.NewStyle().
			Foreground(Success)

	WarningStyle = lipgloss.NewStyle().
			Foreground(Warning)

	ErrorStyle = lipgloss.NewStyle().
			Foreground(Error)

	InfoStyle = lipgloss.NewStyle().
			Foreground(Info)
)

// Icons
const (
	IconSuccess  = "✓"
	IconError    = "✗"
	IconWarning  = "⚠"
	IconInfo     = "ℹ"
	IconDot      = "•"
	IconPackage  = "📦"
	IconTruck    = "🚚"
	IconMoney    = "💳"
	IconDatabase = "🗄️"
	IconStream   = "⇶"
	IconList     = "☰"
	IconPending  = "◌"
)

func newRoundedBox(borderColor lipgloss.Color) lipgloss.Style {
	return lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(borderColor).
		Padding(1, 2)
}

// Box styles for containers
var (
	BoxError   = newRoundedBox(Error)
	InfoBox    = newRoundedBox(Info).MarginTop(1)
	ListItem   = lipgloss.NewStyle().PaddingLeft(2).Foreground(Text)
	ListBullet = lipgloss.NewStyle().Foreground(Primary).PaddingRight(1)
)

// StatusColor returns the color used for an order status.
func StatusColor(status order.Status) lipgloss.Color {
	switch status {
	case order.StatusCreated:
		return Info
	case order.StatusPaid:
		return Secondary
	case order.StatusShipped:
		return Warning
	case order.StatusDelivered:
		return Success
	case order.StatusCancelled, order.StatusRefunded:
		return Error
	default:
		return TextMuted
	}
}

// StatusIcon returns the icon shown next to an order status.
func StatusIcon(status order.Status) string {
	switch status {
	case order.StatusCreated:
		return IconPackage
	case order.StatusPaid:
		return IconMoney
	case order.StatusShipped:
		return IconTruck
	case order.StatusDelivered:
		return IconSuccess
	case order.StatusCancelled, order.StatusRefunded:
		return IconError
	default:
		return IconPending
	}
}

// FormatSuccess formats a success message with icon
func FormatSuccess(msg string) string {
	return SuccessStyle.Render(IconSuccess) + " " + Normal.Render(msg)
}

// FormatError formats an error message with icon
func FormatError(msg string) string {
	return ErrorStyle.Render(IconError) + " " + Normal.Render(msg)
}

// FormatWarning formats a warning message with icon
func FormatWarning(msg string) string {
	return WarningStyle.Render(IconWarning) + " " + Normal.Render(msg)
}

// FormatInfo formats an info message with icon
func FormatInfo(msg string) string {
	return InfoStyle.Render(IconInfo) + " " + Normal.Render(msg)
}

// FormatKeyValue formats a key-value pair
func FormatKeyValue(key, value string) string {
	keyStyle := lipgloss.NewStyle().
		Foreground(TextMuted).
		Width(22)
	return keyStyle.Render(key+":") + " " + Highlight.Render(value)
}

// FormatStatus renders an order status with its icon and color.
func FormatStatus(status order.Status) string {
	return lipgloss.NewStyle().
		Bold(true).
		Foreground(StatusColor(status)).
		Render(StatusIcon(status) + " " + status.String())
}

// DisableColors disables all colors for terminals that don't support them
func DisableColors() {
	Primary = lipgloss.Color("")
	Secondary = lipgloss.Color("")
	Success = lipgloss.Color("")
	Warning = lipgloss.Color("")
	WarningLight = lipgloss.Color("")
	Error = lipgloss.Color("")
	Info = lipgloss.Color("")
	Text = lipgloss.Color("")
	TextMuted = lipgloss.Color("")
	Surface = lipgloss.Color("")
	Border = lipgloss.Color("")
}
