package decode

import (
	"sort"
	"strings"
)

// recognizedDNAttrs is the set of RDN attribute types the normalizer
// understands. Anything else is dropped — spec §4.1: "not schema-aware,
// sufficient for matching issuer-to-subject in practice".
var recognizedDNAttrs = map[string]bool{
	"C":            true,
	"O":            true,
	"OU":           true,
	"CN":           true,
	"SERIALNUMBER": true,
}

// NormalizeDN parses dn into RDN components, keeps only recognized
// attributes, lowercases and strips all whitespace from their values
// (including internal whitespace — an intentional trade-off documented in
// spec §9 Open Questions), sorts by attribute name, and joins with "|".
// The result is format-agnostic: both comma-separated
// ("CN=X,O=Y,C=KR") and slash-separated ("/C=KR/O=Y/CN=X") source forms
// normalize identically, and normalization is idempotent
// (NormalizeDN(NormalizeDN(dn)) == NormalizeDN(dn)) since "|"-joined
// "attr=value" pairs are themselves valid comma-free RDN components once
// internal whitespace has already been removed.
func NormalizeDN(dn string) string {
	components := map[string][]string{}
	for _, rdn := range splitRDNs(dn) {
		attr, value, ok := splitAttrValue(rdn)
		if !ok {
			continue
		}
		attr = strings.ToUpper(strings.TrimSpace(attr))
		if !recognizedDNAttrs[attr] {
			continue
		}
		value = strings.ToLower(stripAllSpace(unescapeDNValue(value)))
		components[attr] = append(components[attr], value)
	}

	var parts []string
	for attr, values := range components {
		for _, v := range values {
			parts = append(parts, attr+"="+v)
		}
	}
	sort.Strings(parts)
	return strings.Join(parts, "|")
}

// ExtractCountry returns the first recognized C=XX RDN in dn, uppercased,
// or "XX" if absent (spec §4.1, flagged as possibly-buggy-but-preserved
// source behavior in spec §9: when neither subject nor issuer carry a
// country, the certificate is stored under country "XX").
func ExtractCountry(dn string) string {
	for _, rdn := range splitRDNs(dn) {
		attr, value, ok := splitAttrValue(rdn)
		if !ok {
			continue
		}
		if strings.EqualFold(strings.TrimSpace(attr), "C") {
			v := strings.ToUpper(strings.TrimSpace(unescapeDNValue(value)))
			if v != "" {
				return v
			}
		}
	}
	return "XX"
}

// splitRDNs splits dn on its separator (comma, the common LDAP form, or
// slash, the legacy OpenSSL form) while respecting backslash-escaped
// separators.
func splitRDNs(dn string) []string {
	dn = strings.TrimSpace(dn)
	if dn == "" {
		return nil
	}
	sep := byte(',')
	switch {
	case strings.HasPrefix(dn, "/"):
		dn = dn[1:]
		sep = '/'
	case strings.Contains(dn, "|") && !strings.Contains(dn, ","):
		// Already in NormalizeDN's own canonical "attr=value|attr=value"
		// form (e.g. re-normalizing a stored normalized DN) — split on the
		// same separator it was joined with so NormalizeDN is idempotent.
		sep = '|'
	}
	var parts []string
	var cur strings.Builder
	escaped := false
	for i := 0; i < len(dn); i++ {
		c := dn[i]
		switch {
		case escaped:
			cur.WriteByte(c)
			escaped = false
		case c == '\\':
			cur.WriteByte(c)
			escaped = true
		case c == sep:
			parts = append(parts, cur.String())
			cur.Reset()
		default:
			cur.WriteByte(c)
		}
	}
	parts = append(parts, cur.String())

	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

func splitAttrValue(rdn string) (attr, value string, ok bool) {
	idx := strings.Index(rdn, "=")
	if idx < 0 {
		return "", "", false
	}
	return rdn[:idx], rdn[idx+1:], true
}

// unescapeDNValue turns a backslash-escaped comma (or slash) back into a
// literal character, since splitRDNs only uses the escape to avoid
// splitting there.
func unescapeDNValue(value string) string {
	if !strings.Contains(value, "\\") {
		return value
	}
	var b strings.Builder
	for i := 0; i < len(value); i++ {
		if value[i] == '\\' && i+1 < len(value) {
			i++
			b.WriteByte(value[i])
			continue
		}
		b.WriteByte(value[i])
	}
	return b.String()
}

func stripAllSpace(s string) string {
	var b strings.Builder
	for _, r := range s {
		if r == ' ' || r == '\t' || r == '\n' || r == '\r' {
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}
