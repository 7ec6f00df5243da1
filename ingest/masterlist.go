package ingest

import (
	"context"

	"github.com/google/uuid"

	"github.com/icao-pkd/localpkd-core/core"
	"github.com/icao-pkd/localpkd-core/decode"
	pkderrors "github.com/icao-pkd/localpkd-core/errors"
)

// ProcessMasterList implements spec §4.4's processMasterList: parse the
// CMS SignedData container, classify every signer certificate as MLSC and
// every embedded certificate as CSCA (self-signed) or Link Certificate
// (cross-signed by another CSCA) via the normal classification rule.
func (p *Pipeline) ProcessMasterList(ctx context.Context, uploadID string, der []byte) (*Result, error) {
	result := newResult()

	info, err := decode.ParseCMS(der)
	if err != nil {
		p.emit(uploadID, core.EventParsingFailed, err.Error(), core.StatusFail)
		return result, err
	}

	if p.containers != nil {
		countryCode := "XX"
		if len(info.SignerCerts) > 0 {
			countryCode = decode.ExtractCountry(info.SignerCerts[0].Subject.String())
		}
		ml := core.MasterList{
			CountryCode:          countryCode,
			Fingerprint:          decode.Fingerprint(der),
			DER:                  der,
			ContributingUploadID: uploadID,
		}
		if err := p.containers.InsertMasterList(ctx, ml); err != nil {
			p.log.WarningErr(err)
		}
	}

	result.TotalEntries = len(info.SignerCerts) + len(info.EmbeddedCerts)

	for _, signer := range info.SignerCerts {
		outcome, err := p.IngestCertificate(ctx, uploadID, signer.Raw, "", true)
		if err != nil {
			result.ErrorCount++
			continue
		}
		result.record(outcome)
	}
	for _, embedded := range info.EmbeddedCerts {
		outcome, err := p.IngestCertificate(ctx, uploadID, embedded.Raw, "", false)
		if err != nil {
			result.ErrorCount++
			continue
		}
		result.record(outcome)
	}

	p.emit(uploadID, core.EventParsingCompleted, "master list parsing complete", core.StatusSuccess)
	return result, nil
}

// ProcessDeviationList implements spec §4.4's processDeviationList: store
// the CMS container verbatim and extract signer metadata, without
// unpacking its embedded certificates into the certificate repository (a
// Deviation List's payload is compliance-violation records, not keys).
func (p *Pipeline) ProcessDeviationList(ctx context.Context, uploadID string, der []byte) error {
	info, err := decode.ParseCMS(der)
	if err != nil {
		p.emit(uploadID, core.EventParsingFailed, err.Error(), core.StatusFail)
		return err
	}

	signerIdentity := ""
	countryCode := "XX"
	if len(info.SignerCerts) > 0 {
		signerIdentity = info.SignerCerts[0].Subject.String()
		countryCode = decode.ExtractCountry(signerIdentity)
	}

	dl := core.DeviationList{
		ID:                   uuid.NewString(),
		CountryCode:          countryCode,
		Fingerprint:          decode.Fingerprint(der),
		SignerIdentity:       signerIdentity,
		DER:                  der,
		ContributingUploadID: uploadID,
	}
	if p.containers == nil {
		return pkderrors.StoreWrite("no container store configured")
	}
	if err := p.containers.InsertDeviationList(ctx, dl); err != nil {
		return pkderrors.StoreWrite("insert deviation list: %v", err)
	}

	p.emit(uploadID, core.EventParsingCompleted, "deviation list stored", core.StatusSuccess)
	return nil
}
