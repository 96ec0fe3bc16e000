package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/tabwise-finance/tabwise/internal/apierror"
	"github.com/tabwise-finance/tabwise/model"
)

const structureCacheTTL = 10 * time.Minute

func structureCacheKey(commitment string) string {
	return "tabwise:structure:" + commitment
}

// RecordVerifiedStructure upserts a commitment and its attested structure.
// Re-verifying an already trusted commitment overwrites with the same value,
// which keeps verifyStructure idempotent.
func (d Datasource) RecordVerifiedStructure(vs model.VerifiedStructure) (model.VerifiedStructure, error) {
	structureJSON, err := json.Marshal(vs.Structure)
	if err != nil {
		return model.VerifiedStructure{}, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to marshal structure", err)
	}

	vs.VerifiedAt = time.Now()
	vs.Trusted = true

	_, err = d.Conn.Exec(`
		INSERT INTO tabwise.verified_structures (commitment, structure, trusted, verified_at, revoked_at)
		VALUES ($1, $2, TRUE, $3, NULL)
		ON CONFLICT (commitment)
		DO UPDATE SET structure = $2, trusted = TRUE, verified_at = $3, revoked_at = NULL
	`, vs.Commitment, structureJSON, vs.VerifiedAt)
	if err != nil {
		return model.VerifiedStructure{}, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to record verified structure", err)
	}

	if d.Cache != nil {
		if err := d.Cache.Set(context.Background(), structureCacheKey(vs.Commitment), vs, structureCacheTTL); err != nil {
			logrus.Errorf("failed to cache verified structure: %s", err)
		}
	}
	return vs, nil
}

func (d Datasource) GetVerifiedStructure(commitment string) (*model.VerifiedStructure, error) {
	if d.Cache != nil {
		var cached model.VerifiedStructure
		if err := d.Cache.Get(context.Background(), structureCacheKey(commitment), &cached); err == nil && cached.Commitment != "" {
			return &cached, nil
		}
	}

	vs := model.VerifiedStructure{}

	row := d.Conn.QueryRow(`
		SELECT commitment, structure, trusted, verified_at, revoked_at
		FROM tabwise.verified_structures
		WHERE commitment = $1
	`, commitment)

	var structureJSON []byte
	var revokedAt sql.NullTime
	err := row.Scan(&vs.Commitment, &structureJSON, &vs.Trusted, &vs.VerifiedAt, &revokedAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, apierror.NewAPIError(apierror.ErrNotFound, "Commitment not found", err)
		}
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to retrieve verified structure", err)
	}

	if len(structureJSON) > 0 && string(structureJSON) != "null" {
		var s model.BillStructure
		if err := json.Unmarshal(structureJSON, &s); err != nil {
			return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to unmarshal structure", err)
		}
		vs.Structure = &s
	}
	if revokedAt.Valid {
		vs.RevokedAt = &revokedAt.Time
	}

	if d.Cache != nil {
		if err := d.Cache.Set(context.Background(), structureCacheKey(commitment), vs, structureCacheTTL); err != nil {
			logrus.Errorf("failed to cache verified structure: %s", err)
		}
	}
	return &vs, nil
}

func (d Datasource) IsCommitmentTrusted(commitment string) (bool, error) {
	if d.Cache != nil {
		var cached model.VerifiedStructure
		if err := d.Cache.Get(context.Background(), structureCacheKey(commitment), &cached); err == nil && cached.Commitment != "" {
			return cached.Trusted, nil
		}
	}

	var trusted bool
	err := d.Conn.QueryRow(`
		SELECT trusted FROM tabwise.verified_structures WHERE commitment = $1
	`, commitment).Scan(&trusted)
	if err != nil {
		if err == sql.ErrNoRows {
			return false, nil
		}
		return false, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to check commitment trust", err)
	}
	return trusted, nil
}

// RevokeStructure clears the trusted flag and the stored structure but
// keeps the commitment row for auditability.
func (d Datasource) RevokeStructure(commitment string, revokedAt time.Time) error {
	result, err := d.Conn.Exec(`
		UPDATE tabwise.verified_structures
		SET trusted = FALSE, structure = NULL, revoked_at = $2
		WHERE commitment = $1
	`, commitment, revokedAt)
	if err != nil {
		return apierror.NewAPIError(apierror.ErrInternalServer, "Failed to revoke structure", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return apierror.NewAPIError(apierror.ErrInternalServer, "Failed to check revocation result", err)
	}
	if affected == 0 {
		return apierror.NewAPIError(apierror.ErrNotFound, "Commitment not found", nil)
	}

	// The revoked record must not be served from cache under any race, so
	// the entry is dropped rather than rewritten.
	if d.Cache != nil {
		if err := d.Cache.Delete(context.Background(), structureCacheKey(commitment)); err != nil {
			logrus.Errorf("failed to drop cached structure: %s", err)
		}
	}
	return nil
}
