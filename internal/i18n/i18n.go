package i18n

import (
	"embed"
	"fmt"
	"os"
	"strings"
	"sync"

	"github.com/BurntSushi/toml"
	goi18n "github.com/nicksnyder/go-i18n/v2/i18n"
	"golang.org/x/text/language"
)

// EnvLang overrides the locale environment for adbkit only
const EnvLang = "ADBKIT_LANG"

var (
	mu              sync.RWMutex
	bundle          *goi18n.Bundle
	localizer       *goi18n.Localizer
	currentLanguage = language.English
	supported       = []language.Tag{
		language.English,
		language.SimplifiedChinese,
		language.Chinese,
	}
	supportedMatcher = language.NewMatcher(supported)
)

//go:embed locales/*.toml
var localeFS embed.FS

// Init loads the embedded catalogs and picks a language from, in order:
// langOverride (--lang), ADBKIT_LANG, LC_ALL, LC_MESSAGES, LANG, the
// platform UI languages, then English.
func Init(langOverride string) error {
	b := goi18n.NewBundle(language.English)
	b.RegisterUnmarshalFunc("toml", toml.Unmarshal)

	entries, err := localeFS.ReadDir("locales")
	if err != nil {
		return fmt.Errorf("load locales: %w", err)
	}
	for _, e := range entries {
		if _, err := b.LoadMessageFileFS(localeFS, "locales/"+e.Name()); err != nil {
			return fmt.Errorf("load locales: %s: %w", e.Name(), err)
		}
	}

	chosen := selectLanguage(langOverride)

	mu.Lock()
	bundle = b
	localizer = goi18n.NewLocalizer(b, chosen.String(), language.English.String())
	currentLanguage = chosen
	mu.Unlock()
	return nil
}

// T translates a message by ID with optional template data. Unknown IDs
// come back unchanged so output is never empty.
func T(id string, data ...map[string]interface{}) string {
	var templateData map[string]interface{}
	if len(data) > 0 {
		templateData = data[0]
	}

	mu.RLock()
	l := localizer
	mu.RUnlock()
	if l == nil {
		if err := Init(""); err != nil {
			fmt.Fprintf(os.Stderr, "i18n init failed: %v\n", err)
			return id
		}
		mu.RLock()
		l = localizer
		mu.RUnlock()
	}

	msg, err := l.Localize(&goi18n.LocalizeConfig{
		MessageID:      id,
		TemplateData:   templateData,
		PluralCount:    pluralCount(templateData),
		DefaultMessage: &goi18n.Message{ID: id, Other: id},
	})
	if err != nil || msg == "" {
		return id
	}
	return msg
}

// CurrentLanguage returns the chosen language tag.
func CurrentLanguage() language.Tag {
	mu.RLock()
	defer mu.RUnlock()
	return currentLanguage
}

func selectLanguage(langOverride string) language.Tag {
	var candidates []string
	if langOverride != "" {
		candidates = append(candidates, langOverride)
	}
	for _, key := range []string{EnvLang, "LC_ALL", "LC_MESSAGES", "LANG"} {
		if val := strings.TrimSpace(os.Getenv(key)); val != "" {
			candidates = append(candidates, val)
		}
	}
	if len(candidates) == 0 {
		candidates = getPlatformLocales()
	}

	var tags []language.Tag
	for _, cand := range candidates {
		if tag, ok := parseLocale(cand); ok {
			tags = append(tags, tag)
		}
	}
	if len(tags) == 0 {
		return language.English
	}

	// the first candidate wins, the matcher only maps it onto a catalog
	tag, _, conf := supportedMatcher.Match(tags[0])
	if conf == language.No {
		return language.English
	}
	base, _ := tag.Base()
	if base.String() == "zh" {
		return language.Chinese
	}
	return language.English
}

// parseLocale accepts BCP 47 tags and POSIX locales like zh_CN.UTF-8
func parseLocale(s string) (language.Tag, bool) {
	clean := strings.TrimSpace(s)
	if i := strings.IndexAny(clean, ".@"); i >= 0 {
		clean = clean[:i]
	}
	clean = strings.ReplaceAll(clean, "_", "-")
	if clean == "" || strings.EqualFold(clean, "C") || strings.EqualFold(clean, "POSIX") {
		return language.Und, false
	}
	tag, err := language.Parse(clean)
	if err != nil {
		return language.Und, false
	}
	return tag, true
}

func pluralCount(data map[string]interface{}) interface{} {
	for _, key := range []string{"Count", "count"} {
		if val, ok := data[key]; ok {
			return val
		}
	}
	return nil
}
