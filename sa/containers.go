package sa

import (
	"context"

	"github.com/google/uuid"

	"github.com/icao-pkd/localpkd-core/core"
	"github.com/icao-pkd/localpkd-core/db"
	pkderrors "github.com/icao-pkd/localpkd-core/errors"
)

// ContainerRepo persists the provenance rows for CMS containers
// (MasterList, DeviationList) alongside the certificates they contribute.
type ContainerRepo struct {
	dbMap db.DatabaseMap
}

// NewContainerRepo constructs a ContainerRepo.
func NewContainerRepo(dbMap db.DatabaseMap) *ContainerRepo {
	return &ContainerRepo{dbMap: dbMap}
}

// InsertMasterList records a Master List container's own fingerprint,
// distinct from the certificates it contributes (core.MasterList doc
// comment).
func (r *ContainerRepo) InsertMasterList(ctx context.Context, ml core.MasterList) error {
	if ml.ID == "" {
		ml.ID = uuid.NewString()
	}
	if err := r.dbMap.Insert(&ml); err != nil {
		return pkderrors.StoreWrite("insert master list: %v", err)
	}
	return nil
}

// InsertDeviationList records a Deviation List container verbatim (spec
// §4.4 processDeviationList).
func (r *ContainerRepo) InsertDeviationList(ctx context.Context, dl core.DeviationList) error {
	if dl.ID == "" {
		dl.ID = uuid.NewString()
	}
	if err := r.dbMap.Insert(&dl); err != nil {
		return pkderrors.StoreWrite("insert deviation list: %v", err)
	}
	return nil
}
