package persona

import (
	"strings"
	"testing"

	"github.com/nrojasv/ventabot/internal/models"
)

func TestNormalizeTags_StripsUnknownTags(t *testing.T) {
	tags := NormalizeTags([]string{"concise", "UNKNOWN", "formal", "  warm  ", "injected_tag"})
	for _, tag := range tags {
		if !AllTags[tag] {
			t.Errorf("unexpected tag after normalization: %q", tag)
		}
	}
	if len(tags) != 3 { // concise, formal, warm
		t.Errorf("expected 3 tags, got %d: %v", len(tags), tags)
	}
}

func TestNormalizeTags_Deduplicates(t *testing.T) {
	tags := NormalizeTags([]string{"casual", "Casual", "CASUAL"})
	if len(tags) != 1 {
		t.Errorf("expected 1 tag, got %v", tags)
	}
}

func TestNormalizeTags_MutualExclusionKeepsFirst(t *testing.T) {
	tags := NormalizeTags([]string{"detailed", "concise"})
	if len(tags) != 1 || tags[0] != "detailed" {
		t.Errorf("expected [detailed], got %v", tags)
	}
	tags = NormalizeTags([]string{"formal", "warm", "casual"})
	set := toSet(tags)
	if !set["formal"] || set["casual"] {
		t.Errorf("expected formal to win over casual, got %v", tags)
	}
}

func TestBuildSystemPrompt_IncludesPersona(t *testing.T) {
	b := models.Business{
		Name:        "Pizza Sur",
		BotName:     "Toni",
		Description: "Pizzeria con delivery en zona sur.",
		ToneTags:    []string{"casual", "emojis_ok"},
	}
	prompt := BuildSystemPrompt(b)
	for _, want := range []string{"Toni", "Pizza Sur", "Pizzeria con delivery", "casual, friendly", "Emojis are welcome"} {
		if !strings.Contains(prompt, want) {
			t.Errorf("prompt missing %q:\n%s", want, prompt)
		}
	}
}

func TestBuildSystemPrompt_DefaultsWithoutTags(t *testing.T) {
	prompt := BuildSystemPrompt(models.Business{Name: "Kiosco 24"})
	if !strings.Contains(prompt, "the assistant") {
		t.Error("expected default bot name")
	}
	if strings.Contains(prompt, "STYLE POLICY") {
		t.Error("expected no style guide without tags")
	}
}

func TestBuildStyleGuide_NoEmojisOverridesEmojisOk(t *testing.T) {
	guide := buildStyleGuide([]string{"no_emojis", "emojis_ok"})
	if !strings.Contains(guide, "Do NOT use emojis") {
		t.Error("expected no_emojis rule")
	}
	if strings.Contains(guide, "Emojis are welcome") {
		t.Error("emojis_ok should not appear alongside no_emojis")
	}
}

func toSet(tags []string) map[string]bool {
	set := make(map[string]bool, len(tags))
	for _, t := range tags {
		set[t] = true
	}
	return set
}
