package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/Azure/azure-sdk-for-go/sdk/data/aztables"
	log "github.com/sirupsen/logrus"

	"rfq-sync/domain"
)

const maxSequenceAttempts = 10

func int64Literal(v int64) string {
	return strconv.FormatInt(v, 10) + "L"
}

// NextID allocates the next value of the named sequence. Concurrent writers
// are serialised with the row ETag.
func (s *Tables) NextID(ctx context.Context, sequence string) (int64, error) {
	for attempt := 1; attempt <= maxSequenceAttempts; attempt++ {
		resp, err := s.sequences.GetEntity(ctx, sequencePartition, sequence, nil)
		if err != nil {
			if !isNotFound(err) {
				return 0, err
			}
			ent := sequenceEntity{
				Entity:    aztables.Entity{PartitionKey: sequencePartition, RowKey: sequence},
				Value:     1,
				ValueType: edmInt64,
			}
			payload, err := json.Marshal(ent)
			if err != nil {
				return 0, err
			}
			if _, err := s.sequences.AddEntity(ctx, payload, nil); err != nil {
				if isConflict(err) {
					continue
				}
				return 0, err
			}
			return 1, nil
		}

		var ent sequenceEntity
		if err := json.Unmarshal(resp.Value, &ent); err != nil {
			return 0, err
		}
		ent.Value++
		ent.ValueType = edmInt64
		payload, err := json.Marshal(ent)
		if err != nil {
			return 0, err
		}
		etag := resp.ETag
		_, err = s.sequences.UpdateEntity(ctx, payload, &aztables.UpdateEntityOptions{
			IfMatch:    &etag,
			UpdateMode: aztables.UpdateModeReplace,
		})
		if err == nil {
			return ent.Value, nil
		}
		if !isConflict(err) {
			return 0, err
		}
		log.WithFields(log.Fields{"sequence": sequence, "attempt": attempt}).Debug("sequence conflict, retrying")
	}
	return 0, fmt.Errorf("next id for %s: %w", sequence, domain.ErrConcurrencyConflict)
}
