package api

import "strings"

// Human-readable error text by code and language. Only the message is
// localized; the machine-readable code is the functional contract.
var messages = map[string]map[string]string{
	"identity_not_found": {
		"en": "No master identity matches the given reference.",
		"es": "Ninguna identidad maestra coincide con la referencia indicada.",
	},
	"alias_not_found": {
		"en": "The alias is not registered for this identity.",
		"es": "El alias no está registrado para esta identidad.",
	},
	"alias_claimed": {
		"en": "The alias is already claimed by another identity.",
		"es": "El alias ya pertenece a otra identidad.",
	},
	"alias_duplicate": {
		"en": "An identical alias is already registered.",
		"es": "Ya existe un alias idéntico.",
	},
	"orphaned_alias": {
		"en": "The alias record has no owning identity and cannot be used.",
		"es": "El alias no tiene una identidad propietaria y no puede usarse.",
	},
	"identity_not_active": {
		"en": "The identity is not active.",
		"es": "La identidad no está activa.",
	},
	"invalid_input": {
		"en": "The request is missing or malformed input.",
		"es": "La solicitud contiene datos ausentes o mal formados.",
	},
	"identifier_exhausted": {
		"en": "The index could not allocate a unique identifier; contact operations.",
		"es": "El índice no pudo asignar un identificador único; contacte a operaciones.",
	},
	"internal": {
		"en": "An internal error occurred.",
		"es": "Se produjo un error interno.",
	},
}

// resolveMessage picks the message for the first supported language in
// the Accept-Language header, falling back to English.
func resolveMessage(code, acceptLanguage string) string {
	byLang, ok := messages[code]
	if !ok {
		return messages["internal"]["en"]
	}
	for _, part := range strings.Split(acceptLanguage, ",") {
		lang := strings.ToLower(strings.TrimSpace(strings.SplitN(part, ";", 2)[0]))
		if idx := strings.Index(lang, "-"); idx > 0 {
			lang = lang[:idx]
		}
		if msg, ok := byLang[lang]; ok {
			return msg
		}
	}
	return byLang["en"]
}
