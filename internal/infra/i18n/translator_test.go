//go:build !integration

package i18n

import (
	"testing"
	"testing/fstest"
)

func TestTranslator(t *testing.T) {
	translator, err := newTranslatorFromBytes([]byte("greeting: 你好\ndetected: \"%s detected!\""))
	if err != nil {
		t.Fatalf("newTranslatorFromBytes failed: %v", err)
	}

	t.Run("should translate a simple key", func(t *testing.T) {
		if got := translator.T("greeting"); got != "你好" {
			t.Errorf("wanted '你好', got '%s'", got)
		}
	})

	t.Run("should return key if not found", func(t *testing.T) {
		if got := translator.T("nonexistent_key"); got != "nonexistent_key" {
			t.Errorf("wanted 'nonexistent_key', got '%s'", got)
		}
	})

	t.Run("should format arguments correctly", func(t *testing.T) {
		if got := translator.T("detected", "violence, harassment"); got != "violence, harassment detected!" {
			t.Errorf("wanted formatted text, got '%s'", got)
		}
	})
}

func TestNewTranslator(t *testing.T) {
	t.Run("should load every embedded locale", func(t *testing.T) {
		for _, lang := range []string{"en", "zh"} {
			tr, err := NewTranslator(LocalesFS, lang)
			if err != nil {
				t.Fatalf("load %s: %v", lang, err)
			}
			if got := tr.T("moderation.policy", "hate"); got != "detect hate which violates our policy" {
				t.Errorf("%s: unexpected policy text %q", lang, got)
			}
			if tr.Lang() != lang {
				t.Errorf("expected lang %s, got %s", lang, tr.Lang())
			}
		}
	})

	t.Run("should fail on missing locale", func(t *testing.T) {
		fsys := fstest.MapFS{"locales/en.yaml": {Data: []byte("a: b")}}
		if _, err := NewTranslator(fsys, "fa"); err == nil {
			t.Fatal("expected error for missing locale file")
		}
	})
}
