package whisper

import "strings"

// LanguageMode enumerates how the language for one inference is picked.
type LanguageMode int

const (
	// LanguageDefault transcribes in the service's configured default
	// language without running detection.
	LanguageDefault LanguageMode = iota
	// LanguageAuto runs language identification before transcribing.
	LanguageAuto
	// LanguageForced uses the caller-supplied language code verbatim.
	LanguageForced
)

func (m LanguageMode) String() string {
	switch m {
	case LanguageAuto:
		return "auto"
	case LanguageForced:
		return "forced"
	default:
		return "default"
	}
}

// LanguagePolicy pairs a mode with the code it needs. The zero value is
// the default-language policy.
type LanguagePolicy struct {
	mode LanguageMode
	code string
}

func AutoLanguage() LanguagePolicy {
	return LanguagePolicy{mode: LanguageAuto}
}

func DefaultLanguage() LanguagePolicy {
	return LanguagePolicy{mode: LanguageDefault}
}

func ForcedLanguage(code string) LanguagePolicy {
	return LanguagePolicy{mode: LanguageForced, code: strings.ToLower(strings.TrimSpace(code))}
}

// ResolveLanguagePolicy collapses the request flags into one policy.
// An explicit forced language wins over anyLang: any_lang defaults to true
// on the wire, so letting it override would make forcing impossible.
func ResolveLanguagePolicy(anyLang bool, forced string) LanguagePolicy {
	if strings.TrimSpace(forced) != "" {
		return ForcedLanguage(forced)
	}
	if anyLang {
		return AutoLanguage()
	}
	return DefaultLanguage()
}

func (p LanguagePolicy) Mode() LanguageMode { return p.mode }

// Tag returns the language tag handed to the decoder: "auto" for
// detection, the forced code, or the configured default.
func (p LanguagePolicy) Tag(defaultLanguage string) string {
	switch p.mode {
	case LanguageAuto:
		return "auto"
	case LanguageForced:
		return p.code
	default:
		if defaultLanguage == "" {
			return "en"
		}
		return defaultLanguage
	}
}

// DecodeOptions captures the per-request quality/latency trade-offs.
// Quick selects a greedy search; full mode explores a wider beam with the
// same weights.
type DecodeOptions struct {
	Quick    bool
	Language LanguagePolicy
}

const (
	quickBeamSize = 1
	fullBeamSize  = 5
)

func (o DecodeOptions) beamSize() int {
	if o.Quick {
		return quickBeamSize
	}
	return fullBeamSize
}
