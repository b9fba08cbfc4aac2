// Package persona provides a fixed whitelist of bot style tags, validation,
// mutual-exclusion enforcement, and system-prompt construction for the
// completion-service fallback replies.
package persona

import (
	"strings"

	"github.com/nrojasv/ventabot/internal/models"
)

// ---- Whitelist ----

// AllTags is the hard-coded set of safe style tags a business may configure.
var AllTags = map[string]bool{
	// Style
	"concise":   true,
	"detailed":  true,
	"formal":    true,
	"casual":    true,
	"no_emojis": true,
	"emojis_ok": true,
	// Stance
	"warm":                 true,
	"neutral_professional": true,
	"playful":              true,
	"direct":               true,
}

// mutuallyExclusivePairs defines tags where at most one may be active.
// The first configured tag of a pair wins.
var mutuallyExclusivePairs = [][2]string{
	{"concise", "detailed"},
	{"formal", "casual"},
	{"no_emojis", "emojis_ok"},
}

// NormalizeTags strips unknown tags, lowercases, removes duplicates, and
// enforces mutual exclusion keeping the earlier tag of each conflicting pair.
func NormalizeTags(tags []string) []string {
	var cleaned []string
	seen := map[string]bool{}
	for _, t := range tags {
		t = strings.TrimSpace(strings.ToLower(t))
		if AllTags[t] && !seen[t] {
			cleaned = append(cleaned, t)
			seen[t] = true
		}
	}
	for _, pair := range mutuallyExclusivePairs {
		if !seen[pair[0]] || !seen[pair[1]] {
			continue
		}
		// Drop whichever appears later.
		drop := pair[1]
		for _, t := range cleaned {
			if t == pair[0] {
				break
			}
			if t == pair[1] {
				drop = pair[0]
				break
			}
		}
		out := cleaned[:0]
		for _, t := range cleaned {
			if t != drop {
				out = append(out, t)
			}
		}
		cleaned = out
		delete(seen, drop)
	}
	return cleaned
}

// buildStyleGuide produces a compact instruction snippet for the active tags.
// It returns an empty string when there are no active tags.
func buildStyleGuide(tags []string) string {
	if len(tags) == 0 {
		return ""
	}

	set := make(map[string]bool, len(tags))
	for _, t := range tags {
		set[t] = true
	}

	var b strings.Builder
	b.WriteString("\n<STYLE POLICY>\nWrite your replies in the business's configured style:\n")

	if set["concise"] {
		b.WriteString("- Be concise: short sentences, minimal filler.\n")
	}
	if set["detailed"] {
		b.WriteString("- Be detailed: provide slightly more explanation, but avoid rambling.\n")
	}
	if set["formal"] {
		b.WriteString("- Use formal diction and professional register.\n")
	}
	if set["casual"] {
		b.WriteString("- Use casual, friendly language.\n")
	}
	if set["no_emojis"] {
		b.WriteString("- Do NOT use emojis.\n")
	} else if set["emojis_ok"] {
		b.WriteString("- Emojis are welcome where appropriate.\n")
	}

	hasStance := false
	if set["warm"] {
		b.WriteString("- Adopt a warm, welcoming stance toward the customer.\n")
		hasStance = true
	}
	if set["neutral_professional"] {
		b.WriteString("- Keep a neutral, professional stance.\n")
		hasStance = true
	}
	if set["playful"] {
		b.WriteString("- A light, playful touch is fine. Never at the customer's expense.\n")
		hasStance = true
	}
	if set["direct"] {
		b.WriteString("- Be direct: answer first, elaborate only if needed.\n")
		hasStance = true
	}
	if !hasStance {
		b.WriteString("- Keep a neutral, professional stance.\n")
	}

	b.WriteString("- NEVER mirror hostility, sarcasm, insults, or unsafe language.\n")
	b.WriteString("</STYLE POLICY>\n")

	return b.String()
}

// BuildSystemPrompt assembles the completion-service system prompt for
// fallback replies from the business's persona configuration.
func BuildSystemPrompt(b models.Business) string {
	var sb strings.Builder
	botName := b.BotName
	if botName == "" {
		botName = "the assistant"
	}
	sb.WriteString("You are ")
	sb.WriteString(botName)
	sb.WriteString(", the virtual assistant of the business \"")
	sb.WriteString(b.Name)
	sb.WriteString("\" answering customers over chat.\n")
	if b.Description != "" {
		sb.WriteString("About the business: ")
		sb.WriteString(b.Description)
		sb.WriteString("\n")
	}
	sb.WriteString("Answer only questions related to this business and its products or services.\n")
	sb.WriteString("If you do not know the answer, say so and offer to pass the question to a human.\n")
	sb.WriteString("Never invent prices, stock or delivery promises.\n")
	sb.WriteString("Reply in the same language the customer writes in.\n")
	sb.WriteString(buildStyleGuide(NormalizeTags(b.ToneTags)))
	return sb.String()
}
