package i18n

import (
	"io/fs"
	"sort"
	"strings"
	"sync"

	log "github.com/sirupsen/logrus"
	"gopkg.in/yaml.v2"

	"github.com/will7455/shieldy/internal/infra"
	"github.com/will7455/shieldy/resources"
)

const baseLanguage = "en"

var state = struct {
	sync.RWMutex
	translations  map[string]map[string]string
	loaded        map[string]bool
	resourcesPath string
}{
	translations:  make(map[string]map[string]string),
	loaded:        make(map[string]bool),
	resourcesPath: infra.GetResourcesPath("i18n"),
}

func load(lang string) map[string]string {
	state.Lock()
	defer state.Unlock()
	if state.loaded[lang] {
		return state.translations[lang]
	}
	state.loaded[lang] = true

	raw, err := resources.FS.ReadFile(infra.GetResourcesPath(state.resourcesPath, lang+".yml"))
	if err != nil {
		log.WithField("error", err.Error()).WithField("language", lang).Debug("cant load i18n")
		return nil
	}
	translations := make(map[string]string)
	if err := yaml.Unmarshal(raw, &translations); err != nil {
		log.WithField("error", err.Error()).WithField("language", lang).Error("cant unmarshal i18n")
		return nil
	}
	state.translations[lang] = translations
	return translations
}

// Get translates an english key, falling back to the key itself.
func Get(key, lang string) string {
	if lang == "" || lang == baseLanguage {
		return key
	}
	state.RLock()
	translations, ok := state.translations[lang]
	loaded := state.loaded[lang]
	state.RUnlock()
	if !loaded {
		translations = load(lang)
	}
	if res, ok := translations[key]; ok && res != "" {
		return res
	}
	if ok {
		log.Tracef("no translation for key %q", key)
	}
	return key
}

// GetLanguagesList lists english plus every embedded translation.
func GetLanguagesList() []string {
	langs := []string{baseLanguage}
	entries, err := fs.ReadDir(resources.FS, state.resourcesPath)
	if err != nil {
		log.WithField("error", err.Error()).Error("cant list i18n resources")
		return langs
	}
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasSuffix(name, ".yml") {
			continue
		}
		langs = append(langs, strings.TrimSuffix(name, ".yml"))
	}
	sort.Strings(langs[1:])
	return langs
}

// IsSupported reports whether translations exist for the code.
func IsSupported(code string) bool {
	code = strings.ToLower(code)
	for _, lang := range GetLanguagesList() {
		if lang == code {
			return true
		}
	}
	return false
}
