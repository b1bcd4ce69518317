// Package i18n localizes user-facing error messages and tier labels.
package i18n

import (
	"context"
	"embed"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"

	"github.com/nicksnyder/go-i18n/v2/i18n"
	"golang.org/x/text/language"

	"github.com/pavelanni/voicequiz/internal/model"
)

//go:embed locales/*.json
var localeFS embed.FS

type ctxKey struct{}

var (
	mu          sync.RWMutex
	bundle      *i18n.Bundle
	defaultLang = "en"
)

// Init loads every embedded locale and makes lang the fallback language.
func Init(lang string) error {
	tag, err := language.Parse(lang)
	if err != nil {
		return fmt.Errorf("parse language %q: %w", lang, err)
	}

	b := i18n.NewBundle(tag)
	b.RegisterUnmarshalFunc("json", json.Unmarshal)

	entries, err := localeFS.ReadDir("locales")
	if err != nil {
		return fmt.Errorf("read locales dir: %w", err)
	}
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		data, err := localeFS.ReadFile("locales/" + e.Name())
		if err != nil {
			return fmt.Errorf("read locale file %s: %w", e.Name(), err)
		}
		if _, err := b.ParseMessageFileBytes(data, e.Name()); err != nil {
			return fmt.Errorf("parse locale file %s: %w", e.Name(), err)
		}
		slog.Debug("loaded locale file", "file", e.Name())
	}

	mu.Lock()
	bundle, defaultLang = b, tag.String()
	mu.Unlock()
	return nil
}

// NewLocalizer creates a localizer preferring the given languages, which may
// be raw Accept-Language header values.
func NewLocalizer(langs ...string) *i18n.Localizer {
	mu.RLock()
	defer mu.RUnlock()
	return i18n.NewLocalizer(bundle, append(langs, defaultLang)...)
}

// WithLocalizer stores a localizer in the context.
func WithLocalizer(ctx context.Context, loc *i18n.Localizer) context.Context {
	return context.WithValue(ctx, ctxKey{}, loc)
}

func localizerFromCtx(ctx context.Context) *i18n.Localizer {
	if loc, ok := ctx.Value(ctxKey{}).(*i18n.Localizer); ok {
		return loc
	}
	return NewLocalizer()
}

// T translates a message by ID.
func T(ctx context.Context, msgID string) string {
	return Td(ctx, msgID, nil)
}

// Td translates a message by ID with template data. Unknown IDs are returned as-is.
func Td(ctx context.Context, msgID string, data map[string]any) string {
	mu.RLock()
	ready := bundle != nil
	mu.RUnlock()
	if !ready {
		return msgID
	}
	s, err := localizerFromCtx(ctx).Localize(&i18n.LocalizeConfig{
		MessageID:    msgID,
		TemplateData: data,
	})
	if err != nil {
		slog.Warn("missing translation", "id", msgID, "error", err)
		return msgID
	}
	return s
}

var tierMessages = map[model.Tier]string{
	model.TierFull:          "TierFullCredit",
	model.TierHighPartial:   "TierHighPartial",
	model.TierMediumPartial: "TierMediumPartial",
	model.TierLowPartial:    "TierLowPartial",
	model.TierNone:          "TierNoCredit",
}

// TierLabel returns the localized display name of a grading tier.
func TierLabel(ctx context.Context, tier model.Tier) string {
	id, ok := tierMessages[tier]
	if !ok {
		id = tierMessages[model.TierNone]
	}
	return T(ctx, id)
}
