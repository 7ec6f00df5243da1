// Package validator builds and verifies signature chains from a DSC (or
// DSC_NC) up to a self-signed CSCA, tolerant of link certificates and
// multiple valid roots sharing a subject DN.
package validator

import (
	"context"
	"crypto/x509"
	"encoding/hex"
	"fmt"
	"sort"
	"sync"

	"github.com/jmhodges/clock"
	"golang.org/x/sync/singleflight"

	"github.com/icao-pkd/localpkd-core/core"
	"github.com/icao-pkd/localpkd-core/decode"
	blog "github.com/icao-pkd/localpkd-core/log"
	"github.com/icao-pkd/localpkd-core/metrics"
)

const maxChainDepth = 5

// chainError is a typed outcome the algorithm can terminate with; spec §4.5
// names these explicitly and requires ValidationResult to carry a message
// distinguishing them.
type chainError string

const (
	errChainTooDeep   chainError = "CHAIN_TOO_DEEP"
	errCircularRef    chainError = "CIRCULAR_REFERENCE"
	errCscaNotFound   chainError = "CSCA_NOT_FOUND"
	errSignatureBad   chainError = "SIGNATURE_INVALID"
)

func (e chainError) Error() string { return string(e) }

// Validator implements core.TrustChainValidator. The CSCA cache is filled
// lazily and protected by a single-writer/many-reader discipline: reads
// take the read lock, a miss promotes to a cache fill collapsed via
// singleflight so concurrent misses share one repository scan (spec §4.5
// Failure semantics, §5 CSCA cache).
type Validator struct {
	certs core.CertificateRepository
	crls  core.CrlRepository
	clk   clock.Clock
	log   blog.Logger
	scope metrics.Scope

	mu        sync.RWMutex
	cache     map[string][]core.Certificate // keyed by normalized subject DN
	cacheFull bool
	group     singleflight.Group
}

// New constructs a Validator.
func New(certs core.CertificateRepository, crls core.CrlRepository, clk clock.Clock, logger blog.Logger, scope metrics.Scope) *Validator {
	return &Validator{certs: certs, crls: crls, clk: clk, log: logger, scope: scope, cache: map[string][]core.Certificate{}}
}

// InvalidateCache drops the in-memory CSCA cache. Called whenever a CSCA
// is inserted into or removed from the repository.
func (v *Validator) InvalidateCache() {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.cache = map[string][]core.Certificate{}
	v.cacheFull = false
}

func (v *Validator) ensureCacheFilled(ctx context.Context) error {
	v.mu.RLock()
	full := v.cacheFull
	v.mu.RUnlock()
	if full {
		return nil
	}

	_, err, _ := v.group.Do("fill", func() (interface{}, error) {
		v.mu.RLock()
		full := v.cacheFull
		v.mu.RUnlock()
		if full {
			return nil, nil
		}

		cscas, err := v.certs.AllCscas(ctx)
		if err != nil {
			return nil, fmt.Errorf("validator: fill csca cache: %w", err)
		}

		byDN := map[string][]core.Certificate{}
		for _, c := range cscas {
			byDN[c.NormalizedSubjectDN] = append(byDN[c.NormalizedSubjectDN], c)
		}

		v.mu.Lock()
		v.cache = byDN
		v.cacheFull = true
		v.mu.Unlock()
		return nil, nil
	})
	return err
}

func (v *Validator) candidatesFor(normalizedSubjectDN string) []core.Certificate {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.cache[normalizedSubjectDN]
}

// Validate runs the chain-build algorithm for one DSC/DSC_NC.
func (v *Validator) Validate(ctx context.Context, dsc core.Certificate) (core.ValidationResult, error) {
	if err := v.ensureCacheFilled(ctx); err != nil {
		return core.ValidationResult{}, err
	}

	result := core.ValidationResult{
		CertificateFingerprint: dsc.Fingerprint,
		ValidatedAt:            v.clk.Now(),
	}

	leaf, err := decode.ParseX509(dsc.DER)
	if err != nil {
		result.ValidationStatus = core.ValidationError
		msg := err.Error()
		result.TrustChainMessage = &msg
		v.scope.Inc("validation_results."+string(result.ValidationStatus), 1)
		return result, nil
	}

	path, rootCert, chainErr := v.buildChain(leaf.Parsed(), map[string]bool{}, 0)
	if chainErr != nil {
		result.ValidationStatus = core.ValidationInvalid
		msg := chainErr.Error()
		result.TrustChainMessage = &msg
		result.TrustChainValid = false
		v.scope.Inc("validation_results."+string(result.ValidationStatus), 1)
		return result, nil
	}

	result.TrustChainValid = true
	result.SignatureValid = true
	result.TrustChainPath = cnPath(append([]*x509.Certificate{leaf.Parsed()}, path...))
	if rootCert != nil {
		fp := decode.Fingerprint(rootCert.Raw)
		result.CSCAFingerprint = &fp
	}

	v.assignExpirationStatus(&result, leaf.Parsed())
	v.checkRevocation(ctx, &result, leaf.Parsed())

	v.scope.Inc("validation_results."+string(result.ValidationStatus), 1)
	return result, nil
}

// buildChain implements spec §4.5's algorithm exactly, including the
// critical ordering where the self-signed check runs before the
// circular-reference check: a self-signed certificate's issuer DN equals
// its own subject DN, which the caller has already added to the visited
// set when it reached this certificate as a candidate, so the root would
// otherwise be misreported as circular.
func (v *Validator) buildChain(cert *x509.Certificate, visited map[string]bool, depth int) ([]*x509.Certificate, *x509.Certificate, error) {
	if depth > maxChainDepth {
		return nil, nil, errChainTooDeep
	}

	subject := decode.NormalizeDN(cert.Subject.String())
	issuer := decode.NormalizeDN(cert.Issuer.String())

	if subject == issuer && decode.VerifySelfSigned(cert) {
		return nil, cert, nil
	}

	if visited[issuer] {
		return nil, nil, errCircularRef
	}

	candidates := append([]core.Certificate(nil), v.candidatesFor(issuer)...)
	sort.SliceStable(candidates, func(i, j int) bool {
		iExpired := v.clk.Now().After(candidates[i].NotAfter)
		jExpired := v.clk.Now().After(candidates[j].NotAfter)
		if iExpired != jExpired {
			return !iExpired // not-yet-expired first
		}
		return candidates[i].NotAfter.After(candidates[j].NotAfter) // longer remaining validity next
	})

	nextVisited := make(map[string]bool, len(visited)+1)
	for k := range visited {
		nextVisited[k] = true
	}
	nextVisited[issuer] = true

	sawSignatureFailure := false
	for _, candidateCert := range candidates {
		candidateParsed, err := decode.ParseX509(candidateCert.DER)
		if err != nil {
			continue
		}
		if err := decode.VerifySignature(cert, candidateParsed.Parsed()); err != nil {
			sawSignatureFailure = true
			continue
		}
		rest, root, err := v.buildChain(candidateParsed.Parsed(), nextVisited, depth+1)
		if err != nil {
			continue
		}
		return append([]*x509.Certificate{candidateParsed.Parsed()}, rest...), root, nil
	}

	if sawSignatureFailure {
		return nil, nil, errSignatureBad
	}
	return nil, nil, errCscaNotFound
}

// assignExpirationStatus applies spec §4.5 step 3.
func (v *Validator) assignExpirationStatus(result *core.ValidationResult, dsc *x509.Certificate) {
	now := v.clk.Now()
	switch {
	case now.Before(dsc.NotBefore):
		result.ValidationStatus = core.ValidationPending
		result.ExpirationStatus = "PENDING"
	case now.After(dsc.NotAfter):
		result.ValidationStatus = core.ValidationExpiredValid
		result.ExpirationStatus = "EXPIRED"
	default:
		result.ValidationStatus = core.ValidationValid
		result.ExpirationStatus = "CURRENT"
	}
}

// checkRevocation applies spec §4.5 step 4: a known, current CRL from the
// DSC's issuer forces INVALID on a positive match.
func (v *Validator) checkRevocation(ctx context.Context, result *core.ValidationResult, dsc *x509.Certificate) {
	if len(dsc.CRLDistributionPoints) == 0 {
		return
	}
	issuer := decode.NormalizeDN(dsc.Issuer.String())
	crl, found, err := v.crls.FindByIssuerDN(ctx, issuer)
	if err != nil || !found {
		return
	}
	result.CRLChecked = true

	info, err := decode.ParseCRL(crl.DER)
	if err != nil {
		return
	}
	serial := hex.EncodeToString(dsc.SerialNumber.Bytes())
	for _, entry := range info.RevokedEntries {
		if entry.SerialNumber == serial {
			result.Revoked = true
			result.ValidationStatus = core.ValidationInvalid
			return
		}
	}
}

// cnPath renders a chain (leaf-first) as subject CNs joined by spec §4.5
// step 5's convention.
func cnPath(chain []*x509.Certificate) []string {
	path := make([]string, 0, len(chain))
	for _, c := range chain {
		cn := c.Subject.CommonName
		if cn == "" {
			cn = c.Subject.String()
		}
		path = append(path, cn)
	}
	return path
}

// ValidateBatch validates many DSCs against a single cache fill, grouped
// by issuer DN to maximize cache warmth (spec §4.5 Performance, §12
// Validation batch scheduling).
func (v *Validator) ValidateBatch(ctx context.Context, certs []core.Certificate) ([]core.ValidationResult, error) {
	if err := v.ensureCacheFilled(ctx); err != nil {
		return nil, err
	}

	grouped := make(map[string][]core.Certificate)
	var issuerOrder []string
	for _, c := range certs {
		key := c.NormalizedIssuerDN
		if _, ok := grouped[key]; !ok {
			issuerOrder = append(issuerOrder, key)
		}
		grouped[key] = append(grouped[key], c)
	}

	results := make([]core.ValidationResult, 0, len(certs))
	for _, issuer := range issuerOrder {
		for _, c := range grouped[issuer] {
			result, err := v.Validate(ctx, c)
			if err != nil {
				return nil, err
			}
			results = append(results, result)
		}
	}
	return results, nil
}
