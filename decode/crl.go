package decode

import (
	"crypto/x509"
	"encoding/hex"
	"time"

	coreerrors "github.com/icao-pkd/localpkd-core/errors"
)

// RevokedEntry is one revoked-certificate row within a parsed CRL.
type RevokedEntry struct {
	SerialNumber   string
	RevocationDate time.Time
	ReasonCode     string
}

// CrlInfo holds the fields spec §4.1 requires extracting from a CRL.
type CrlInfo struct {
	IssuerDN        string
	ThisUpdate      time.Time
	NextUpdate      time.Time
	CRLNumber       string
	RevokedEntries  []RevokedEntry
	Raw             []byte
}

// reasonCodeNames maps the CRLReason enumeration to spec §4.1's string
// values. Anything absent or unrecognized maps to "unspecified".
var reasonCodeNames = map[int]string{
	1: "keyCompromise",
	2: "cACompromise",
	3: "affiliationChanged",
	4: "superseded",
	5: "cessationOfOperation",
	6: "certificateHold",
}

// ParseCRL decodes a DER-encoded CertificateList.
func ParseCRL(der []byte) (*CrlInfo, error) {
	crl, err := x509.ParseRevocationList(der)
	if err != nil {
		return nil, coreerrors.Decode("malformed crl: %v", err)
	}

	info := &CrlInfo{
		IssuerDN:   crl.Issuer.String(),
		ThisUpdate: crl.ThisUpdate,
		NextUpdate: crl.NextUpdate,
		Raw:        der,
	}
	if crl.Number != nil {
		info.CRLNumber = hex.EncodeToString(crl.Number.Bytes())
	}

	for _, rc := range crl.RevokedCertificateEntries {
		entry := RevokedEntry{
			SerialNumber:   hex.EncodeToString(rc.SerialNumber.Bytes()),
			RevocationDate: rc.RevocationTime,
			ReasonCode:     reasonCodeName(rc.ReasonCode),
		}
		info.RevokedEntries = append(info.RevokedEntries, entry)
	}

	return info, nil
}

func reasonCodeName(code int) string {
	if name, ok := reasonCodeNames[code]; ok {
		return name
	}
	return "unspecified"
}
