package syncengine

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"slices"
	"sync"

	"monerosync/internal/models"
)

// StaticRecords serves a fixed record list, used when no database is
// configured.
type StaticRecords struct {
	mu      sync.RWMutex
	records []models.TxRecord
}

func NewStaticRecords(records []models.TxRecord) *StaticRecords {
	return &StaticRecords{records: slices.Clone(records)}
}

func (s *StaticRecords) ListTxRecords(_ context.Context, _ string) ([]models.TxRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Clone(s.records), nil
}

// Append adds records seen after the source was created.
func (s *StaticRecords) Append(records ...models.TxRecord) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records = append(s.records, records...)
}

// LoadRecordsFile reads a JSON array of records and validates each one.
func LoadRecordsFile(path string) ([]models.TxRecord, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read records file: %w", err)
	}

	var records []models.TxRecord
	if err := json.Unmarshal(data, &records); err != nil {
		return nil, fmt.Errorf("failed to parse records file %s: %w", path, err)
	}

	for i, r := range records {
		if err := r.Validate(); err != nil {
			return nil, fmt.Errorf("record %d: %w", i, err)
		}
	}

	return records, nil
}
