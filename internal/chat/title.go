package chat

const (
	maxTitleRunes = 50
	titleEllipsis = "..."
)

// DeriveTitle makes a conversation title from its first message: the first
// 50 characters, followed by "..." when the message was longer.
func DeriveTitle(message string) string {
	runes := []rune(message)
	if len(runes) <= maxTitleRunes {
		return message
	}
	return string(runes[:maxTitleRunes]) + titleEllipsis
}
