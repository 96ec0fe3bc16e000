/*
Copyright 2024 Tabwise Finance Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package tabwise

import (
	"context"
	"encoding/hex"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/tabwise-finance/tabwise/config"
	"github.com/tabwise-finance/tabwise/internal/apierror"
	"github.com/tabwise-finance/tabwise/internal/merkle"
	"github.com/tabwise-finance/tabwise/internal/notification"
	"github.com/tabwise-finance/tabwise/model"
)

var verifierTracer = otel.Tracer("tabwise.verifier")

// StructureCommitment computes the commitment for a bill structure: the hex
// encoded merkle leaf hash of its canonical encoding.
func StructureCommitment(structure *model.BillStructure) (string, error) {
	encoded, err := structure.Encode()
	if err != nil {
		return "", err
	}
	return hex.EncodeToString(merkle.HashLeaf(encoded)), nil
}

// validateStructure applies the rules a bill structure must satisfy before
// its inclusion proof is even looked at.
func validateStructure(structure *model.BillStructure, maxGroupSize int) error {
	if structure == nil {
		return apierror.ValidationError("structure is required")
	}
	if structure.BillID == "" {
		return apierror.ValidationError("structure bill id is required")
	}
	if structure.Total <= 0 {
		return apierror.ValidationError("structure total must be positive")
	}
	if len(structure.Members) == 0 {
		return apierror.ValidationError("structure must have at least one member")
	}
	if len(structure.Members) > maxGroupSize {
		return apierror.ValidationError(fmt.Sprintf("structure exceeds the maximum of %d members", maxGroupSize))
	}
	switch structure.SplitType {
	case model.SplitEqual:
		// per-member amounts are derived, no values expected
	case model.SplitPercentage:
		if len(structure.Values) != len(structure.Members) {
			return apierror.ValidationError("percentage values must match the member count")
		}
		if !model.ValidatePercentageSplit(structure.Values) {
			return apierror.ValidationError("percentage values must sum to 10000 basis points")
		}
	case model.SplitCustom:
		if len(structure.Values) != len(structure.Members) {
			return apierror.ValidationError("custom values must match the member count")
		}
		var sum int64
		for _, v := range structure.Values {
			sum += v
		}
		if sum != structure.Total {
			return apierror.ValidationError("custom values must sum to the structure total")
		}
	default:
		return apierror.ValidationError(fmt.Sprintf("unknown split type %s", structure.SplitType))
	}
	return nil
}

func (t *Tabwise) postVerifyActions(_ context.Context, verified *model.VerifiedStructure) {
	go func() {
		err := SendWebhook(NewWebhook{
			Event:   EventStructureVerified,
			Payload: verified,
		})
		if err != nil {
			notification.NotifyError(err)
		}
	}()
}

// VerifyStructure checks a merkle inclusion proof for a bill structure
// against a trusted root and, on success, records the structure's commitment
// as trusted. Re-verifying an already trusted commitment refreshes the stored
// record and is not an error.
func (t *Tabwise) VerifyStructure(ctx context.Context, structure *model.BillStructure, root string, proof model.StructureProof) (model.VerifiedStructure, error) {
	ctx, span := verifierTracer.Start(ctx, "VerifyStructure")
	defer span.End()

	if err := t.checkActive(); err != nil {
		return model.VerifiedStructure{}, err
	}
	conf, err := config.Fetch()
	if err != nil {
		return model.VerifiedStructure{}, err
	}
	if err := validateStructure(structure, conf.Settlement.MaxGroupSize); err != nil {
		return model.VerifiedStructure{}, err
	}
	if root == "" {
		return model.VerifiedStructure{}, apierror.ValidationError("commitment root is required")
	}

	encoded, err := structure.Encode()
	if err != nil {
		return model.VerifiedStructure{}, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to encode structure", err)
	}

	if !merkle.VerifyHex(encoded, proof.Path, proof.Index, root) {
		return model.VerifiedStructure{}, apierror.ValidationError("merkle proof does not verify against the given root")
	}

	verified := model.VerifiedStructure{
		Commitment: hex.EncodeToString(merkle.HashLeaf(encoded)),
		Structure:  structure,
		Trusted:    true,
		VerifiedAt: time.Now(),
	}
	verified, err = t.datasource.RecordVerifiedStructure(verified)
	if err != nil {
		span.RecordError(err)
		return model.VerifiedStructure{}, err
	}

	span.AddEvent("Structure verified", trace.WithAttributes(attribute.String("structure.commitment", verified.Commitment)))
	t.postVerifyActions(ctx, &verified)
	return verified, nil
}

// BatchVerifyStructures verifies several structures against the same root in
// one call. The batch is all-or-nothing on shape (mismatched slice lengths or
// an oversized batch reject the whole request) but per-item on proof outcome:
// the result slice carries one entry per input, Trusted=false for items whose
// proof failed.
func (t *Tabwise) BatchVerifyStructures(ctx context.Context, structures []*model.BillStructure, root string, proofs []model.StructureProof) ([]model.VerifiedStructure, error) {
	if err := t.checkActive(); err != nil {
		return nil, err
	}
	conf, err := config.Fetch()
	if err != nil {
		return nil, err
	}

	if len(structures) != len(proofs) {
		return nil, apierror.ValidationError("structures and proofs must have the same length")
	}
	if len(structures) == 0 {
		return nil, apierror.ValidationError("batch must not be empty")
	}
	if len(structures) > conf.Settlement.MaxBatchVerify {
		return nil, apierror.ValidationError(fmt.Sprintf("batch exceeds the maximum size of %d", conf.Settlement.MaxBatchVerify))
	}

	results := make([]model.VerifiedStructure, 0, len(structures))
	for i, structure := range structures {
		verified, err := t.VerifyStructure(ctx, structure, root, proofs[i])
		if err != nil {
			if apierror.Is(err, apierror.ErrInvalidInput) {
				commitment := ""
				if structure != nil {
					commitment, _ = StructureCommitment(structure)
				}
				results = append(results, model.VerifiedStructure{Commitment: commitment, Trusted: false})
				continue
			}
			return nil, err
		}
		results = append(results, verified)
	}
	return results, nil
}

// GetVerifiedStructure returns the stored record for a commitment.
func (t *Tabwise) GetVerifiedStructure(commitment string) (*model.VerifiedStructure, error) {
	return t.datasource.GetVerifiedStructure(commitment)
}

// IsCommitmentTrusted reports whether a commitment has been verified and not
// revoked.
func (t *Tabwise) IsCommitmentTrusted(commitment string) (bool, error) {
	return t.datasource.IsCommitmentTrusted(commitment)
}

// RevokeStructure withdraws trust from a previously verified commitment. The
// record is kept with its structure cleared so the revocation stays visible.
func (t *Tabwise) RevokeStructure(ctx context.Context, commitment string) error {
	_, span := verifierTracer.Start(ctx, "RevokeStructure")
	defer span.End()

	if err := t.checkActive(); err != nil {
		return err
	}

	verified, err := t.datasource.GetVerifiedStructure(commitment)
	if err != nil {
		return err
	}
	if !verified.Trusted {
		return apierror.ConflictError("commitment is already revoked")
	}

	if err := t.datasource.RevokeStructure(commitment, time.Now()); err != nil {
		span.RecordError(err)
		return err
	}

	span.AddEvent("Structure revoked", trace.WithAttributes(attribute.String("structure.commitment", commitment)))
	go func() {
		err := SendWebhook(NewWebhook{
			Event:   EventStructureRevoked,
			Payload: map[string]string{"commitment": commitment},
		})
		if err != nil {
			notification.NotifyError(err)
		}
	}()
	return nil
}
