package notify

import (
	"fmt"
	"html"
	"strings"
	"time"
)

// MaxTextLength is the number of characters of element text quoted in a
// message.
const MaxTextLength = 200

const timeLayout = "2006-01-02 15:04:05"

// Formatter renders notification messages.
type Formatter struct {
	URL          string
	Selector     string
	ExpectedText string
	Location     *time.Location
}

// Format renders the message for kind. text is the element text observed
// this cycle and is empty when the element was not found.
func (f Formatter) Format(kind Kind, text string, at time.Time) string {
	var msg strings.Builder

	switch kind {
	case KindOK:
		msg.WriteString("✅ <b>Element in place!</b>\n\n")
		f.writeTime(&msg, at)
		msg.WriteString(fmt.Sprintf("Text: %s\n", quoteText(text, "found")))
		msg.WriteString("All good.")

	case KindChanged:
		if f.ExpectedText != "" {
			msg.WriteString("⚠️ <b>Element changed!</b>\n\n")
			f.writeTime(&msg, at)
			msg.WriteString(fmt.Sprintf("Expected: %s\n", html.EscapeString(f.ExpectedText)))
			msg.WriteString(fmt.Sprintf("Found: %s", quoteText(text, "not found")))
		} else {
			msg.WriteString("⚠️ <b>Element changed</b>\n\n")
			f.writeTime(&msg, at)
			msg.WriteString(fmt.Sprintf("New text: %s", quoteText(text, "not found")))
		}

	case KindMissing:
		msg.WriteString("⚠️ <b>Element missing!</b>\n\n")
		f.writeTime(&msg, at)
		if f.ExpectedText != "" {
			msg.WriteString(fmt.Sprintf("Expected element with text: %s\n", html.EscapeString(f.ExpectedText)))
		} else if f.Selector != "" {
			msg.WriteString(fmt.Sprintf("Selector: <code>%s</code>\n", html.EscapeString(f.Selector)))
		}
		msg.WriteString("Element not found on the page")

	case KindFoundAgain:
		msg.WriteString("✅ <b>Element found again!</b>\n\n")
		f.writeTime(&msg, at)
		msg.WriteString(fmt.Sprintf("Text: %s", quoteText(text, "found")))

	default:
		return ""
	}

	if f.URL != "" {
		msg.WriteString(fmt.Sprintf("\n\n🔗 %s", html.EscapeString(f.URL)))
	}

	return msg.String()
}

func (f Formatter) writeTime(msg *strings.Builder, at time.Time) {
	loc := f.Location
	if loc == nil {
		loc = time.UTC
	}
	local := at.In(loc)
	msg.WriteString(fmt.Sprintf("Time: %s (%s)\n", local.Format(timeLayout), local.Format("MST")))
}

// Truncate shortens s to at most n characters.
func Truncate(s string, n int) string {
	if n <= 0 {
		return ""
	}
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}

func quoteText(text, fallback string) string {
	if text == "" {
		return fallback
	}
	return html.EscapeString(Truncate(text, MaxTextLength))
}
