// Package ldapdir mirrors the relational store into the ICAO PKD
// directory information tree over LDAP. Writes always target the primary
// endpoint; spec §5 allows reads to be load-balanced across replicas, but
// this core's reads (existence checks before a write, and the leaf listings
// reconciliation uses) go over the same single connection as its writes.
package ldapdir

import (
	"context"
	"fmt"
	"strings"

	"github.com/go-ldap/ldap/v3"

	"github.com/icao-pkd/localpkd-core/core"
	pkderrors "github.com/icao-pkd/localpkd-core/errors"
	blog "github.com/icao-pkd/localpkd-core/log"
)

// ouForType maps a CertificateType to its organizational unit name under
// the DIT (spec §4.3).
var ouForType = map[core.CertificateType]string{
	core.CSCA:  "csca",
	core.DSC:   "dsc",
	core.DSCNC: "dsc",
	core.MLSC:  "mlsc",
}

// Writer implements core.DirectoryWriter over a single LDAP connection.
// legacyDN toggles whether leaf cn attributes also carry the full subject
// DN (spec §4.3's "legacy mode"), controlled by USE_LEGACY_DN.
type Writer struct {
	conn     *ldap.Conn
	baseDN   string
	legacyDN bool
	log      blog.Logger
}

// Config configures a Writer.
type Config struct {
	Addr     string
	BindDN   string
	BindPW   string
	BaseDN   string
	LegacyDN bool
}

// Dial connects and binds to the directory's primary endpoint.
func Dial(cfg Config, logger blog.Logger) (*Writer, error) {
	conn, err := ldap.DialURL(cfg.Addr)
	if err != nil {
		return nil, fmt.Errorf("ldapdir: dial %s: %w", cfg.Addr, err)
	}
	if cfg.BindDN != "" {
		if err := conn.Bind(cfg.BindDN, cfg.BindPW); err != nil {
			conn.Close()
			return nil, fmt.Errorf("ldapdir: bind: %w", err)
		}
	}
	return &Writer{conn: conn, baseDN: cfg.BaseDN, legacyDN: cfg.LegacyDN, log: logger}, nil
}

// Close releases the underlying connection.
func (w *Writer) Close() error {
	return w.conn.Close()
}

// dataContainer returns "dc=nc-data" for DSC_NC and "dc=data" for
// everything else (spec §4.3).
func dataContainer(certType core.CertificateType) string {
	if certType == core.DSCNC {
		return "dc=nc-data"
	}
	return "dc=data"
}

func countryContainerDN(countryCode, dataDC, baseDN string) string {
	return fmt.Sprintf("c=%s,%s,dc=download,%s", strings.ToLower(countryCode), dataDC, baseDN)
}

func ouContainerDN(ou, countryCode, dataDC, baseDN string) string {
	return fmt.Sprintf("o=%s,%s", ou, countryContainerDN(countryCode, dataDC, baseDN))
}

// EnsureContainer idempotently creates the country container and OU for
// certType under countryCode. OBJECT_EXISTS is treated as success (spec
// §4.3 Failure semantics).
func (w *Writer) EnsureContainer(ctx context.Context, certType core.CertificateType, countryCode string) error {
	ou, ok := ouForType[certType]
	if !ok {
		return pkderrors.DirectoryWrite("no organizational unit mapped for type %s", certType)
	}
	dataDC := dataContainer(certType)

	if err := w.addIfMissing(countryContainerDN(countryCode, dataDC, w.baseDN), map[string][]string{
		"objectClass": {"top", "country"},
		"c":           {strings.ToUpper(countryCode)},
	}); err != nil {
		return err
	}
	return w.addIfMissing(ouContainerDN(ou, countryCode, dataDC, w.baseDN), map[string][]string{
		"objectClass":        {"top", "organizationalUnit"},
		"ou":                 {ou},
	})
}

// leafRDN builds the leading "cn=..." RDN component(s) for a leaf entry.
func (w *Writer) leafRDN(fingerprint, subjectDN string) string {
	if w.legacyDN {
		return fmt.Sprintf("cn=%s,cn=%s", fingerprint, subjectDN)
	}
	return fmt.Sprintf("cn=%s", fingerprint)
}

// WriteCertificate inserts (or replaces the binary of) a certificate leaf
// entry. See spec §4.3 for object classes and attributes.
func (w *Writer) WriteCertificate(ctx context.Context, certType core.CertificateType, countryCode, fingerprint, subjectDN, serialNumber string, der []byte) (string, error) {
	ou, ok := ouForType[certType]
	if !ok {
		return "", pkderrors.DirectoryWrite("no organizational unit mapped for type %s", certType)
	}
	parentDN := ouContainerDN(ou, countryCode, dataContainer(certType), w.baseDN)
	dn := fmt.Sprintf("%s,%s", w.leafRDN(fingerprint, subjectDN), parentDN)

	cn := []string{fingerprint}
	if w.legacyDN {
		cn = append(cn, subjectDN)
	}

	addReq := ldap.NewAddRequest(dn, nil)
	addReq.Attribute("objectClass", []string{"top", "person", "organizationalPerson", "inetOrgPerson", "pkdDownload"})
	addReq.Attribute("cn", cn)
	addReq.Attribute("sn", []string{serialNumber})
	addReq.Attribute("userCertificate;binary", []string{string(der)})

	if err := w.conn.Add(addReq); err != nil {
		if isAlreadyExists(err) {
			return dn, w.replaceBinary(dn, "userCertificate;binary", der)
		}
		return "", pkderrors.DirectoryWrite("add certificate entry %s: %v", dn, err)
	}
	return dn, nil
}

// WriteCrl inserts (or replaces the binary of) a CRL leaf entry.
func (w *Writer) WriteCrl(ctx context.Context, countryCode, fingerprint, issuerDN string, der []byte) (string, error) {
	parentDN := ouContainerDN("crl", countryCode, "dc=data", w.baseDN)
	dn := fmt.Sprintf("%s,%s", w.leafRDN(fingerprint, issuerDN), parentDN)

	addReq := ldap.NewAddRequest(dn, nil)
	addReq.Attribute("objectClass", []string{"top", "cRLDistributionPoint", "pkdDownload"})
	addReq.Attribute("cn", []string{fingerprint})
	addReq.Attribute("certificateRevocationList;binary", []string{string(der)})

	if err := w.conn.Add(addReq); err != nil {
		if isAlreadyExists(err) {
			return dn, w.replaceBinary(dn, "certificateRevocationList;binary", der)
		}
		return "", pkderrors.DirectoryWrite("add crl entry %s: %v", dn, err)
	}
	return dn, nil
}

func (w *Writer) replaceBinary(dn, attr string, der []byte) error {
	modReq := ldap.NewModifyRequest(dn, nil)
	modReq.Replace(attr, []string{string(der)})
	if err := w.conn.Modify(modReq); err != nil {
		return pkderrors.DirectoryWrite("replace %s on %s: %v", attr, dn, err)
	}
	return nil
}

// Exists reports whether an entry is present at dn.
func (w *Writer) Exists(ctx context.Context, dn string) (bool, error) {
	req := ldap.NewSearchRequest(dn, ldap.ScopeBaseObject, ldap.NeverDerefAliases,
		1, 0, false, "(objectClass=*)", []string{"cn"}, nil)
	_, err := w.conn.Search(req)
	if err != nil {
		if ldap.IsErrorWithCode(err, ldap.LDAPResultNoSuchObject) {
			return false, nil
		}
		return false, fmt.Errorf("ldapdir: search %s: %w", dn, err)
	}
	return true, nil
}

// DeleteLeaf removes a leaf entry. Used only by reconciliation's
// operator-initiated orphan deletion (spec §4.3, §12).
func (w *Writer) DeleteLeaf(ctx context.Context, dn string) error {
	req := ldap.NewDelRequest(dn, nil)
	if err := w.conn.Del(req); err != nil {
		if ldap.IsErrorWithCode(err, ldap.LDAPResultNoSuchObject) {
			return nil
		}
		return pkderrors.DirectoryWrite("delete %s: %v", dn, err)
	}
	return nil
}

// ListLeaves enumerates every certificate leaf under certType's
// organizational unit for countryCode, used by reconciliation's
// orphan-deletion path. A missing OU (nothing ever written there) is not
// an error; it simply yields no leaves.
func (w *Writer) ListLeaves(ctx context.Context, certType core.CertificateType, countryCode string) ([]core.LeafEntry, error) {
	ou, ok := ouForType[certType]
	if !ok {
		return nil, pkderrors.DirectoryWrite("no organizational unit mapped for type %s", certType)
	}
	base := ouContainerDN(ou, countryCode, dataContainer(certType), w.baseDN)
	return w.listLeavesUnder(base)
}

// ListCrlLeaves is ListLeaves' CRL counterpart.
func (w *Writer) ListCrlLeaves(ctx context.Context, countryCode string) ([]core.LeafEntry, error) {
	base := ouContainerDN("crl", countryCode, "dc=data", w.baseDN)
	return w.listLeavesUnder(base)
}

func (w *Writer) listLeavesUnder(base string) ([]core.LeafEntry, error) {
	req := ldap.NewSearchRequest(base, ldap.ScopeSingleLevel, ldap.NeverDerefAliases,
		0, 0, false, "(objectClass=pkdDownload)", []string{"cn"}, nil)
	res, err := w.conn.Search(req)
	if err != nil {
		if ldap.IsErrorWithCode(err, ldap.LDAPResultNoSuchObject) {
			return nil, nil
		}
		return nil, fmt.Errorf("ldapdir: search %s: %w", base, err)
	}
	out := make([]core.LeafEntry, 0, len(res.Entries))
	for _, entry := range res.Entries {
		cn := entry.GetAttributeValue("cn")
		out = append(out, core.LeafEntry{DN: entry.DN, Fingerprint: cn})
	}
	return out, nil
}

func (w *Writer) addIfMissing(dn string, attrs map[string][]string) error {
	addReq := ldap.NewAddRequest(dn, nil)
	for name, values := range attrs {
		addReq.Attribute(name, values)
	}
	if err := w.conn.Add(addReq); err != nil {
		if isAlreadyExists(err) {
			return nil
		}
		return pkderrors.DirectoryWrite("add container %s: %v", dn, err)
	}
	return nil
}

func isAlreadyExists(err error) bool {
	return ldap.IsErrorWithCode(err, ldap.LDAPResultEntryAlreadyExists)
}
