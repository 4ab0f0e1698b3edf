package model

// Breadcrumb preset names. "schema" is JSON-LD based and carries no
// selectors; "custom" uses the caller-supplied selector list.
const (
	PresetSchema     = "schema"
	PresetBootstrap  = "bootstrap"
	PresetFoundation = "foundation"
	PresetBulma      = "bulma"
	PresetTailwind   = "tailwind"
	PresetMaterial   = "material"
	PresetCustom     = "custom"
)

// BreadcrumbPresets maps preset names to their fixed selector lists.
var BreadcrumbPresets = map[string][]string{
	PresetBootstrap:  {".breadcrumb .breadcrumb-item", ".breadcrumb li"},
	PresetFoundation: {".breadcrumbs li"},
	PresetBulma:      {".breadcrumb li"},
	PresetTailwind:   {`nav[aria-label="breadcrumb"] a`},
	PresetMaterial:   {".mdc-breadcrumb__item", ".mdc-breadcrumb li"},
}

// PresetSelectors resolves a breadcrumb config to its selector list.
// The schema preset returns nil (JSON-LD only); unknown presets return
// ok=false so callers can attach a configuration warning.
func PresetSelectors(cfg BreadcrumbConfig) (selectors []string, ok bool) {
	switch cfg.Preset {
	case PresetSchema, "":
		return nil, true
	case PresetCustom:
		return cfg.Selectors, true
	default:
		sel, found := BreadcrumbPresets[cfg.Preset]
		return sel, found
	}
}
