package i18n

import (
	"slices"
	"testing"

	"gopkg.in/yaml.v3"
)

func TestT_EnglishAndFormatting(t *testing.T) {
	Init("en")
	if GetLang() != "en" {
		t.Fatalf("expected lang 'en', got %q", GetLang())
	}
	if got := T("device.none"); got != "No devices registered." {
		t.Fatalf("unexpected translation: %q", got)
	}
	if got := T("device.bound", "D1", "F1"); got != "Device D1 is bound to facility F1." {
		t.Fatalf("unexpected formatted translation: %q", got)
	}
}

func TestT_German(t *testing.T) {
	Init("de")
	defer Init("en")
	if got := T("forensic.disabled"); got != "Forensik-Sperre ist nicht aktiv." {
		t.Fatalf("unexpected German translation: %q", got)
	}
}

func TestT_FallbacksAndUnknownIDs(t *testing.T) {
	Init("fr")
	defer Init("en")
	if got := T("device.none"); got != "No devices registered." {
		t.Fatalf("unsupported languages must fall back to English, got %q", got)
	}
	if got := T("no.such.message"); got != "no.such.message" {
		t.Fatalf("unknown ids are returned unchanged, got %q", got)
	}
}

func catalogKeys(t *testing.T, name string) []string {
	t.Helper()
	data, err := localeFS.ReadFile("locales/" + name)
	if err != nil {
		t.Fatalf("read %s: %v", name, err)
	}
	var m map[string]string
	if err := yaml.Unmarshal(data, &m); err != nil {
		t.Fatalf("parse %s: %v", name, err)
	}
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	slices.Sort(out)
	return out
}

func TestCatalogsHaveTheSameKeys(t *testing.T) {
	en := catalogKeys(t, "active.en.yaml")
	de := catalogKeys(t, "active.de.yaml")
	if !slices.Equal(en, de) {
		t.Fatalf("en and de catalogs define different message ids:\nen=%v\nde=%v", en, de)
	}
}
