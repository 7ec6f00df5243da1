package ingest

import (
	"strings"

	"github.com/icao-pkd/localpkd-core/core"
	"github.com/icao-pkd/localpkd-core/decode"
)

// classifyCert applies spec §4.4's classification rule. wasMlscSigner is
// true when the certificate was a CMS SignerInfo of a Master List;
// entryDN is the LDIF entry's DN (empty for certificates sourced from a
// Master List rather than an LDIF entry).
func classifyCert(info *decode.CertInfo, wasMlscSigner bool, entryDN string) core.CertificateType {
	switch {
	case wasMlscSigner:
		return core.MLSC
	case strings.Contains(entryDN, "nc-data"):
		return core.DSCNC
	case info.IsSelfSigned || info.Parsed().IsCA:
		return core.CSCA
	default:
		return core.DSC
	}
}

// resolveCountryCode prefers the subject DN's country, falling back to the
// issuer DN's (spec §4.1 parseX509 contract / §9 Open Questions: both can
// yield "XX", in which case the certificate is stored under country "XX").
func resolveCountryCode(info *decode.CertInfo) string {
	if c := decode.ExtractCountry(info.SubjectDN); c != "XX" {
		return c
	}
	return decode.ExtractCountry(info.IssuerDN)
}
