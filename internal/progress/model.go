package progress

import (
	"strconv"

	"github.com/MarcoPoloResearchLab/readsync/internal/apperr"
	"github.com/MarcoPoloResearchLab/readsync/internal/keyspace"
)

// Hash field names of a stored record.
const (
	FieldDocument   = "document"
	FieldProgress   = "progress"
	FieldPercentage = "percentage"
	FieldDevice     = "device"
	FieldDeviceID   = "device_id"
	FieldTimestamp  = "timestamp"
)

const (
	minPercentage = 0.0
	maxPercentage = 100.0
)

// Record is the reading position of one document as last reported by a device.
type Record struct {
	Document   string  `json:"document"`
	Progress   string  `json:"progress"`
	Percentage float64 `json:"percentage"`
	Device     string  `json:"device"`
	DeviceID   string  `json:"device_id"`
	Timestamp  uint64  `json:"timestamp"`
}

// ZeroRecord is returned for documents that were never synced.
func ZeroRecord() Record {
	return Record{}
}

// RecordFromFields builds a record from its hash representation. Missing fields keep
// their zero value and unparseable numbers read as zero.
func RecordFromFields(fields map[string]string) Record {
	record := ZeroRecord()
	record.Document = fields[FieldDocument]
	record.Progress = fields[FieldProgress]
	record.Device = fields[FieldDevice]
	record.DeviceID = fields[FieldDeviceID]
	if raw, ok := fields[FieldPercentage]; ok {
		if percentage, err := strconv.ParseFloat(raw, 64); err == nil {
			record.Percentage = percentage
		}
	}
	if raw, ok := fields[FieldTimestamp]; ok {
		if timestamp, err := strconv.ParseUint(raw, 10, 64); err == nil {
			record.Timestamp = timestamp
		}
	}
	return record
}

// Fields returns the hash representation written to the store.
func (r Record) Fields() map[string]string {
	return map[string]string{
		FieldDocument:   r.Document,
		FieldProgress:   r.Progress,
		FieldPercentage: strconv.FormatFloat(r.Percentage, 'f', -1, 64),
		FieldDevice:     r.Device,
		FieldDeviceID:   r.DeviceID,
		FieldTimestamp:  strconv.FormatUint(r.Timestamp, 10),
	}
}

// Validate checks document, percentage, progress and device in that order and
// reports the first offending field.
func (r Record) Validate() error {
	if !keyspace.IsValidKeyField(r.Document) {
		return apperr.InvalidField(FieldDocument)
	}
	if !(r.Percentage >= minPercentage && r.Percentage <= maxPercentage) {
		return apperr.InvalidField(FieldPercentage)
	}
	if !keyspace.IsValidField(r.Progress) {
		return apperr.InvalidField(FieldProgress)
	}
	if !keyspace.IsValidField(r.Device) {
		return apperr.InvalidField(FieldDevice)
	}
	return nil
}
