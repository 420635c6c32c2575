package entity

import (
	"fmt"
	"strconv"
)

// SensorRecord is the canonical form of one broker entity, ready to be
// written as a single wide-column cell. Value is nil when no numeric
// reading could be resolved from the entity.
type SensorRecord struct {
	ID         string   `json:"id"`
	Type       string   `json:"type"`
	Room       string   `json:"room"`
	Timestamp  string   `json:"timestamp"`
	SensorName string   `json:"sensor_name"`
	Value      *float64 `json:"value,omitempty"`
}

// HasValue reports whether a numeric reading was resolved.
func (r *SensorRecord) HasValue() bool {
	return r.Value != nil
}

// CellValue renders the stored cell payload, "<value>|<timestamp>".
func (r *SensorRecord) CellValue() string {
	if r.Value == nil {
		return "|" + r.Timestamp
	}
	return strconv.FormatFloat(*r.Value, 'g', -1, 64) + "|" + r.Timestamp
}

func (r *SensorRecord) String() string {
	value := "<unresolved>"
	if r.Value != nil {
		value = strconv.FormatFloat(*r.Value, 'g', -1, 64)
	}
	return fmt.Sprintf("SensorRecord{id=%s type=%s room=%s sensor=%s value=%s ts=%s}",
		r.ID, r.Type, r.Room, r.SensorName, value, r.Timestamp)
}
