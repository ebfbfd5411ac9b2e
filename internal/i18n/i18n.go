// Package i18n renders session notices in the student's language.
package i18n

import (
	"embed"
	"encoding/json"
	"fmt"

	"github.com/nicksnyder/go-i18n/v2/i18n"
	"github.com/rs/zerolog"
	"golang.org/x/text/language"
)

//go:embed locales/*.json
var localeFS embed.FS

// Bundle holds every embedded translation.
type Bundle struct {
	bundle *i18n.Bundle
	log    zerolog.Logger
}

// Load parses the embedded locale files. The default language is used when a
// requested language has no translation for a message.
func Load(defaultLang string, log zerolog.Logger) (*Bundle, error) {
	tag, err := language.Parse(defaultLang)
	if err != nil {
		return nil, fmt.Errorf("parse language %q: %w", defaultLang, err)
	}

	bundle := i18n.NewBundle(tag)
	bundle.RegisterUnmarshalFunc("json", json.Unmarshal)

	entries, err := localeFS.ReadDir("locales")
	if err != nil {
		return nil, fmt.Errorf("read locales dir: %w", err)
	}
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		data, err := localeFS.ReadFile("locales/" + e.Name())
		if err != nil {
			return nil, fmt.Errorf("read locale file %s: %w", e.Name(), err)
		}
		if _, err := bundle.ParseMessageFileBytes(data, e.Name()); err != nil {
			return nil, fmt.Errorf("parse locale file %s: %w", e.Name(), err)
		}
		log.Debug().Str("file", e.Name()).Msg("Loaded locale file")
	}

	return &Bundle{bundle: bundle, log: log}, nil
}

// Languages lists the loaded language tags, default first.
func (b *Bundle) Languages() []language.Tag {
	return b.bundle.LanguageTags()
}

// Localizer picks the best match among langs, typically the values of an
// Accept-Language header.
func (b *Bundle) Localizer(langs ...string) *Localizer {
	return &Localizer{loc: i18n.NewLocalizer(b.bundle, langs...), log: b.log}
}

// Localizer translates notice codes for one student.
type Localizer struct {
	loc *i18n.Localizer
	log zerolog.Logger
}

// Localize returns the translated message, or id itself when no translation
// exists.
func (l *Localizer) Localize(id string, data map[string]interface{}) string {
	s, err := l.loc.Localize(&i18n.LocalizeConfig{MessageID: id, TemplateData: data})
	if err != nil {
		l.log.Warn().Err(err).Str("id", id).Msg("Missing translation")
		return id
	}
	return s
}
