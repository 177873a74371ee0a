package dgii

import (
	"encoding/json"
	"regexp"
	"strings"
)

// Parsing tolerante de respuestas DGII. Los ambientes reales devuelven
// codificaciones inconsistentes: se intenta JSON, luego extracción de tags
// XML conocidos por regex, y por último se trata una respuesta corta sin
// marcado como valor opaco.


// parseTokenResponse extrae el bearer token de la respuesta de validarsemilla.
func parseTokenResponse(body []byte) (token string, ok bool) {
	// 1) JSON: {"token": "...", "expira": "...", "expedido": "..."}
	var asJSON map[string]any
	if err := json.Unmarshal(body, &asJSON); err == nil {
		for _, key := range []string{"token", "Token", "TOKEN"} {
			if v, found := asJSON[key]; found {
				if s, isStr := v.(string); isStr && s != "" {
					return s, true
				}
			}
		}
	}
	// 2) Tag XML embebido: <token>...</token>
	if v, found := extractXMLTag(body, "token"); found {
		return v, true
	}
	// 3) Valor opaco: respuesta corta sin marcado
	trimmed := strings.TrimSpace(string(body))
	if trimmed != "" && !strings.ContainsAny(trimmed, "<>{}") && len(trimmed) < 4096 {
		return trimmed, true
	}
	return "", false
}

// extractXMLTag busca el primer tag con el nombre dado (insensible a
// mayúsculas). El patrón se construye sobre el nombre pedido: así un tag
// anidado dentro de un envoltorio (<AutenticacionModel><token>...</token>...)
// se encuentra sin que el envoltorio lo absorba.
func extractXMLTag(body []byte, name string) (string, bool) {
	quoted := regexp.QuoteMeta(name)
	pattern, err := regexp.Compile(`(?is)<\s*` + quoted + `\s*>\s*(.*?)\s*<\s*/\s*` + quoted + `\s*>`)
	if err != nil {
		return "", false
	}
	m := pattern.FindSubmatch(body)
	if m == nil {
		return "", false
	}
	return strings.TrimSpace(string(m[1])), true
}

// parseJSONField devuelve el valor string de la primera clave presente
// (probando variantes de capitalización usuales en los ambientes DGII).
func parseJSONField(m map[string]any, keys ...string) string {
	for _, key := range keys {
		if v, found := m[key]; found {
			switch t := v.(type) {
			case string:
				return t
			case float64:
				// códigos numéricos llegan como número JSON
				return trimFloat(t)
			}
		}
	}
	return ""
}

func trimFloat(f float64) string {
	s := strings.TrimRight(strings.TrimRight(jsonNumber(f), "0"), ".")
	if s == "" {
		return "0"
	}
	return s
}

func jsonNumber(f float64) string {
	b, _ := json.Marshal(f)
	return string(b)
}

// parseJSONMessages aplana la lista de mensajes de validación de la DGII.
func parseJSONMessages(m map[string]any, keys ...string) string {
	for _, key := range keys {
		raw, found := m[key]
		if !found {
			continue
		}
		list, isList := raw.([]any)
		if !isList {
			if s, isStr := raw.(string); isStr {
				return s
			}
			continue
		}
		var parts []string
		for _, item := range list {
			switch t := item.(type) {
			case string:
				parts = append(parts, t)
			case map[string]any:
				if v := parseJSONField(t, "valor", "Valor", "mensaje", "Mensaje"); v != "" {
					parts = append(parts, v)
				}
			}
		}
		if len(parts) > 0 {
			return strings.Join(parts, "; ")
		}
	}
	return ""
}
