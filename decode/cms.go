package decode

import (
	"crypto/x509"

	"go.mozilla.org/pkcs7"

	coreerrors "github.com/icao-pkd/localpkd-core/errors"
)

// CmsInfo separates the certificates embedded in a CMS SignedData blob
// (master lists, deviation lists per spec §4.1) into the signer
// certificates that actually produced a SignerInfo and the remaining
// embedded certificates (master-list signing certs travel inside their own
// signed content; deviation lists carry their signer alongside).
type CmsInfo struct {
	SignerCerts   []*x509.Certificate
	EmbeddedCerts []*x509.Certificate
	Content       []byte
}

// ParseCMS parses a DER-encoded CMS SignedData structure and classifies
// its embedded certificates by matching each SignerInfo's
// IssuerAndSerialNumber against the certificate set, the same matching
// approach go.mozilla.org/pkcs7 itself uses internally to pick a verification
// certificate for p7.Verify().
func ParseCMS(der []byte) (*CmsInfo, error) {
	p7, err := pkcs7.Parse(der)
	if err != nil {
		return nil, coreerrors.Decode("malformed cms: %v", err)
	}

	info := &CmsInfo{Content: p7.Content}

	signerSerials := make(map[string]bool, len(p7.Signers))
	for _, si := range p7.Signers {
		signerSerials[string(si.IssuerAndSerialNumber.IssuerName.FullBytes)+"|"+si.IssuerAndSerialNumber.SerialNumber.String()] = true
	}

	for _, cert := range p7.Certificates {
		if signerSerials[string(cert.RawIssuer)+"|"+cert.SerialNumber.String()] {
			info.SignerCerts = append(info.SignerCerts, cert)
		} else {
			info.EmbeddedCerts = append(info.EmbeddedCerts, cert)
		}
	}

	return info, nil
}
