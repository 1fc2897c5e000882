package domain

import (
	"fmt"
	"strings"
	"time"
)

const (
	WelcomeText = "Hello! I'm CareXpert AI, your health assistant. Describe your symptoms and I'll help analyze them for you."
	ClearedText = "Chat cleared. Hello! I'm CareXpert AI. Describe your symptoms and I'll help analyze them for you."
	ApologyText = "Sorry, I'm having trouble processing your request. Please try again."

	aiSenderID   = "carexpert-ai"
	aiSenderName = "CareXpert AI"
)

func WelcomeMessage() Message {
	return aiMessage("welcome", WelcomeText, nil)
}

func ClearedMessage() Message {
	return aiMessage("welcome", ClearedText, nil)
}

func ApologyMessage() Message {
	return aiMessage(fmt.Sprintf("error-%d", time.Now().UnixNano()), ApologyText, nil)
}

func AnalysisMessage(analysis AIAnalysis) Message {
	msg := aiMessage(fmt.Sprintf("ai-%d", time.Now().UnixNano()), FormatAIAnalysis(analysis), nil)
	msg.AI = &analysis
	return msg
}

func aiMessage(id, text string, ai *AIAnalysis) Message {
	return Message{
		ID:         id,
		SenderID:   aiSenderID,
		SenderName: aiSenderName,
		Text:       text,
		Kind:       MessageKindAIResponse,
		AI:         ai,
		CreatedAt:  time.Now(),
		Origin:     OriginServerEchoed,
	}
}

// FormatAIAnalysis renders the structured analysis into the multi-paragraph
// body shown in the AI thread.
func FormatAIAnalysis(a AIAnalysis) string {
	var b strings.Builder
	b.WriteString("**Probable Causes:**\n")
	for _, cause := range a.ProbableCauses {
		b.WriteString("• " + cause + "\n")
	}
	b.WriteString("\n**Recommendation:**\n")
	b.WriteString(a.Recommendation)
	b.WriteString("\n\n**Disclaimer:**\n")
	b.WriteString(a.Disclaimer)
	return b.String()
}

// RelativeTime returns a human friendly age for a timestamp: "Just now",
// "5 minutes ago", "3 hours ago", "2 days ago", then a plain date.
func RelativeTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}

	diff := time.Since(t)
	switch {
	case diff < time.Minute:
		return "Just now"
	case diff < time.Hour:
		m := int(diff.Minutes())
		return fmt.Sprintf("%d minute%s ago", m, plural(m))
	case diff < 24*time.Hour:
		h := int(diff.Hours())
		return fmt.Sprintf("%d hour%s ago", h, plural(h))
	case diff < 7*24*time.Hour:
		d := int(diff.Hours() / 24)
		return fmt.Sprintf("%d day%s ago", d, plural(d))
	}
	return t.Format("Jan 2, 2006")
}

func plural(n int) string {
	if n > 1 {
		return "s"
	}
	return ""
}
