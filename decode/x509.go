package decode

import (
	"crypto/ecdsa"
	"crypto/rsa"
	"crypto/x509"
	"encoding/hex"
	"time"

	coreerrors "github.com/icao-pkd/localpkd-core/errors"
)

// CertInfo holds every field spec §3 requires extracting from an X.509 DER
// blob, before classification (which needs context the decoder doesn't
// have: whether the cert was a CMS signer, and which DIT branch its LDIF
// entry lived under) assigns it a CertificateType.
type CertInfo struct {
	SubjectDN              string
	IssuerDN               string
	SerialNumber           string
	NotBefore              time.Time
	NotAfter               time.Time
	SignatureAlgorithm     string
	PublicKeyAlgorithm     string
	PublicKeySize          int
	PublicKeyCurve         *string
	KeyUsage               []string
	ExtendedKeyUsage       []string
	IsCA                   bool
	PathLenConstraint      *int
	SubjectKeyIdentifier   *string
	AuthorityKeyIdentifier *string
	CRLDistributionPoints  []string
	OCSPResponderURL       *string
	IsSelfSigned           bool
	Raw                    []byte
	parsed                 *x509.Certificate
}

// Parsed exposes the underlying stdlib certificate for callers (the trust
// chain validator) that need to run further signature checks.
func (c *CertInfo) Parsed() *x509.Certificate { return c.parsed }

var keyUsageNames = map[x509.KeyUsage]string{
	x509.KeyUsageDigitalSignature:  "digitalSignature",
	x509.KeyUsageContentCommitment: "nonRepudiation",
	x509.KeyUsageKeyEncipherment:   "keyEncipherment",
	x509.KeyUsageDataEncipherment:  "dataEncipherment",
	x509.KeyUsageKeyAgreement:      "keyAgreement",
	x509.KeyUsageCertSign:          "keyCertSign",
	x509.KeyUsageCRLSign:           "cRLSign",
	x509.KeyUsageEncipherOnly:      "encipherOnly",
	x509.KeyUsageDecipherOnly:      "decipherOnly",
}

var extKeyUsageNames = map[x509.ExtKeyUsage]string{
	x509.ExtKeyUsageAny:             "any",
	x509.ExtKeyUsageServerAuth:      "serverAuth",
	x509.ExtKeyUsageClientAuth:      "clientAuth",
	x509.ExtKeyUsageCodeSigning:     "codeSigning",
	x509.ExtKeyUsageEmailProtection: "emailProtection",
	x509.ExtKeyUsageOCSPSigning:     "ocspSigning",
	x509.ExtKeyUsageTimeStamping:    "timeStamping",
}

// ParseX509 extracts spec §4.1's metadata fields from a DER-encoded
// certificate. It fails with a DecodeError for DER that doesn't parse or
// whose version isn't v1/v2/v3.
func ParseX509(der []byte) (*CertInfo, error) {
	cert, err := x509.ParseCertificate(der)
	if err != nil {
		return nil, coreerrors.Decode("malformed certificate: %v", err)
	}
	if cert.Version < 1 || cert.Version > 3 {
		return nil, coreerrors.Decode("unsupported x509 version %d", cert.Version)
	}

	info := &CertInfo{
		SubjectDN:          cert.Subject.String(),
		IssuerDN:           cert.Issuer.String(),
		SerialNumber:       hex.EncodeToString(cert.SerialNumber.Bytes()),
		NotBefore:          cert.NotBefore,
		NotAfter:           cert.NotAfter,
		SignatureAlgorithm: cert.SignatureAlgorithm.String(),
		PublicKeyAlgorithm: cert.PublicKeyAlgorithm.String(),
		IsCA:               cert.IsCA,
		Raw:                der,
		parsed:             cert,
	}

	info.PublicKeySize, info.PublicKeyCurve = publicKeyDetails(cert)

	for u, name := range keyUsageNames {
		if cert.KeyUsage&u != 0 {
			info.KeyUsage = append(info.KeyUsage, name)
		}
	}
	for _, eku := range cert.ExtKeyUsage {
		if name, ok := extKeyUsageNames[eku]; ok {
			info.ExtendedKeyUsage = append(info.ExtendedKeyUsage, name)
		}
	}

	if cert.BasicConstraintsValid && (cert.MaxPathLen > 0 || cert.MaxPathLenZero) {
		pl := cert.MaxPathLen
		info.PathLenConstraint = &pl
	}
	if len(cert.SubjectKeyId) > 0 {
		ski := hex.EncodeToString(cert.SubjectKeyId)
		info.SubjectKeyIdentifier = &ski
	}
	if len(cert.AuthorityKeyId) > 0 {
		aki := hex.EncodeToString(cert.AuthorityKeyId)
		info.AuthorityKeyIdentifier = &aki
	}
	info.CRLDistributionPoints = cert.CRLDistributionPoints
	if len(cert.OCSPServer) > 0 {
		u := cert.OCSPServer[0]
		info.OCSPResponderURL = &u
	}

	info.IsSelfSigned = NormalizeDN(info.SubjectDN) == NormalizeDN(info.IssuerDN) && VerifySelfSigned(cert)

	return info, nil
}

// publicKeyDetails returns the key size in bits (modulus size for RSA,
// field size for ECDSA) and, for ECDSA keys, the named curve.
func publicKeyDetails(cert *x509.Certificate) (size int, curve *string) {
	switch pub := cert.PublicKey.(type) {
	case *rsa.PublicKey:
		return pub.N.BitLen(), nil
	case *ecdsa.PublicKey:
		name := pub.Curve.Params().Name
		return pub.Curve.Params().BitSize, &name
	default:
		return 0, nil
	}
}

// VerifySelfSigned reports whether cert's signature verifies under its own
// public key, the second half of spec §3 invariant 3's self-signed test
// (the first half, subject-equals-issuer, is the caller's job).
func VerifySelfSigned(cert *x509.Certificate) bool {
	return VerifySignature(cert, cert) == nil
}

// VerifySignature verifies that child was signed by issuer's public key.
// Unlike x509.Certificate.CheckSignatureFrom, this performs only the raw
// cryptographic check: no BasicConstraints/KeyUsage/validity-period gating.
// Spec §4.5 describes the algorithm purely in terms of "verify cert's
// signature under candidate's public key"; Doc 9303 path validation does
// not require the fuller PKIX checks (spec §1 Non-goals).
func VerifySignature(child, issuer *x509.Certificate) error {
	return issuer.CheckSignature(child.SignatureAlgorithm, child.RawTBSCertificate, child.Signature)
}
