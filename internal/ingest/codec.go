package ingest

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sync"

	"escalation/internal/domain"
)

const maxPooledBatchCapacity = 4096

type decodeScratch struct {
	records []domain.IntakeRecord
}

var decodeScratchPool = sync.Pool{
	New: func() any {
		return &decodeScratch{records: make([]domain.IntakeRecord, 0, 16)}
	},
}

// decodeSingleRecord decodes one intake record and rejects trailing JSON tokens.
// Params: json decoder for a single record object.
// Returns: validated record or decode error.
func decodeSingleRecord(decoder *json.Decoder) (domain.IntakeRecord, error) {
	var record domain.IntakeRecord
	if err := decoder.Decode(&record); err != nil {
		return domain.IntakeRecord{}, fmt.Errorf("decode intake record: %w", err)
	}
	if err := record.Validate(); err != nil {
		return domain.IntakeRecord{}, err
	}
	if err := ensureJSONEOF(decoder); err != nil {
		return domain.IntakeRecord{}, err
	}
	return record, nil
}

// decodeIntakePayloadInto auto-detects batch vs single payload.
// Params: raw JSON bytes with one object or array, plus pooled scratch
// that owns the returned slice; callers release scratch when done.
// Returns: validated records slice backed by scratch.
func decodeIntakePayloadInto(raw []byte, scratch *decodeScratch) ([]domain.IntakeRecord, error) {
	payload := bytes.TrimSpace(raw)
	if len(payload) == 0 {
		return nil, errors.New("empty payload")
	}
	decoder := json.NewDecoder(bytes.NewReader(payload))
	if payload[0] == '[' {
		return decodeRecordBatchInto(decoder, scratch)
	}
	record, err := decodeSingleRecord(decoder)
	if err != nil {
		return nil, err
	}
	records := scratch.records[:0]
	records = append(records, record)
	scratch.records = records
	return records, nil
}

func decodeRecordBatchInto(decoder *json.Decoder, scratch *decodeScratch) ([]domain.IntakeRecord, error) {
	records := scratch.records[:0]
	if err := decoder.Decode(&records); err != nil {
		return nil, fmt.Errorf("decode intake batch: %w", err)
	}
	if len(records) == 0 {
		return nil, errors.New("intake batch must contain at least one record")
	}
	for i := range records {
		if err := records[i].Validate(); err != nil {
			return nil, fmt.Errorf("record[%d]: %w", i, err)
		}
	}
	if err := ensureJSONEOF(decoder); err != nil {
		return nil, err
	}
	scratch.records = records
	return records, nil
}

func acquireDecodeScratch() *decodeScratch {
	return decodeScratchPool.Get().(*decodeScratch)
}

func releaseDecodeScratch(scratch *decodeScratch) {
	if scratch == nil {
		return
	}
	for i := range scratch.records {
		scratch.records[i] = domain.IntakeRecord{}
	}
	if cap(scratch.records) > maxPooledBatchCapacity {
		scratch.records = make([]domain.IntakeRecord, 0, 16)
	} else {
		scratch.records = scratch.records[:0]
	}
	decodeScratchPool.Put(scratch)
}

// ensureJSONEOF rejects trailing tokens after a decoded JSON payload.
// Params: decoder positioned after primary decode.
// Returns: nil on EOF or error on trailing tokens.
func ensureJSONEOF(decoder *json.Decoder) error {
	var extra json.RawMessage
	err := decoder.Decode(&extra)
	if err == io.EOF {
		return nil
	}
	if err != nil {
		return fmt.Errorf("decode trailing json: %w", err)
	}
	return errors.New("unexpected trailing json tokens")
}
