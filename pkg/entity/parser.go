package entity

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/oarkflow/date"
	"github.com/oarkflow/log"
)

// DefaultRoom is where readings land when no known room can be derived.
const DefaultRoom = "room1"

// Rooms is the fixed set of rooms the destination schema partitions by.
var Rooms = map[string]struct{}{
	"bathroom": {},
	"kitchen":  {},
	"room1":    {},
	"room2":    {},
	"room3":    {},
	"toilet":   {},
}

// sensorNames maps entity types to the metric name used as the column
// qualifier. Unknown types fall back to the lowercased type string.
var sensorNames = map[string]string{
	"BrightnessSensor":                "brightness",
	"HumiditySensor":                  "humidity",
	"TemperatureSensor":               "temperature",
	"ThermostatTemperatureSensor":     "thermostatTemperature",
	"SetpointHistorySensor":           "setpointHistory",
	"VirtualOutdoorTemperatureSensor": "virtualOutdoorTemperature",
	"OutdoorTemperatureSensor":        "outdoorTemperature",
}

// metadataKeys are entity attributes that never hold a sensor reading and
// are skipped by the fallback value scan.
var metadataKeys = map[string]struct{}{
	"id":           {},
	"type":         {},
	"@context":     {},
	"dateObserved": {},
	"timestamp":    {},
	"room":         {},
}

// Parser converts raw NGSI-LD entities into SensorRecords. The zero value
// is not usable; construct with NewParser.
type Parser struct {
	logger *log.Logger
	now    func() time.Time
}

func NewParser(logger *log.Logger) *Parser {
	if logger == nil {
		logger = &log.DefaultLogger
	}
	return &Parser{logger: logger, now: time.Now}
}

// Parse builds a SensorRecord from one raw entity. Missing id or type is a
// hard parse failure. Every other field resolves through ordered fallbacks
// and the record is emitted even when no numeric value was found. Panics
// from malformed payloads are recovered and reported as parse errors.
func (p *Parser) Parse(raw map[string]any) (rec *SensorRecord, err error) {
	defer func() {
		if r := recover(); r != nil {
			rec = nil
			err = fmt.Errorf("panic parsing entity: %v", r)
			p.logger.Error().Any("entity", raw).Msgf("recovered from parse panic: %v", r)
		}
	}()

	id, ok := raw["id"].(string)
	if !ok || id == "" {
		p.logger.Error().Any("entity", raw).Msg("entity is missing required id field")
		return nil, fmt.Errorf("entity is missing required id field")
	}
	entityType, ok := raw["type"].(string)
	if !ok || entityType == "" {
		p.logger.Error().Any("entity", raw).Msg("entity is missing required type field")
		return nil, fmt.Errorf("entity %s is missing required type field", id)
	}

	rec = &SensorRecord{
		ID:         id,
		Type:       entityType,
		Room:       p.resolveRoom(raw, id),
		Timestamp:  p.resolveTimestamp(raw, id),
		SensorName: SensorName(entityType),
	}

	if v, ok := p.resolveValue(raw, rec.SensorName); ok {
		rec.Value = &v
	} else {
		p.logger.Error().Str("id", id).Str("type", entityType).Str("sensor", rec.SensorName).
			Msg("no numeric value resolvable for entity, emitting unresolved record")
	}
	return rec, nil
}

// SensorName derives the metric name for an entity type.
func SensorName(entityType string) string {
	if name, ok := sensorNames[entityType]; ok {
		return name
	}
	return strings.ToLower(entityType)
}

// resolveTimestamp tries the timestamp attribute, then dateObserved, then
// falls back to the current wall-clock time.
func (p *Parser) resolveTimestamp(raw map[string]any, id string) string {
	for _, attr := range []string{"timestamp", "dateObserved"} {
		if v, ok := attrValue(raw, attr); ok {
			if s, ok := v.(string); ok && s != "" {
				if _, err := date.Parse(s); err != nil {
					p.logger.Warn().Str("id", id).Str("attr", attr).Str("value", s).Msg("unparseable timestamp, trying next source")
					continue
				}
				return s
			}
		}
	}
	now := p.now().Format(time.RFC3339)
	p.logger.Warn().Str("id", id).Str("fallback", now).Msg("no timestamp found on entity, using current time")
	return now
}

// resolveRoom tries the explicit room attribute, then the room segment of
// the entity id, and defaults to room1 for anything unrecognized.
func (p *Parser) resolveRoom(raw map[string]any, id string) string {
	if v, ok := attrValue(raw, "room"); ok {
		if s, ok := v.(string); ok && s != "" {
			room := strings.ToLower(s)
			if _, known := Rooms[room]; known {
				return room
			}
			p.logger.Warn().Str("id", id).Str("room", room).Msg("unknown room attribute, defaulting to room1")
			return DefaultRoom
		}
	}
	if room, ok := roomFromID(id); ok {
		return room
	}
	p.logger.Warn().Str("id", id).Msg("no room derivable from entity id, defaulting to room1")
	return DefaultRoom
}

// roomFromID pulls the room out of ids shaped like
// urn:ngsi-ld:<Type>:<room>:<n> or urn:ngsi-ld:<Type>:<room>_<metric>_<n>.
func roomFromID(id string) (string, bool) {
	parts := strings.Split(id, ":")
	if len(parts) < 4 {
		return "", false
	}
	segment := strings.ToLower(parts[3])
	if _, ok := Rooms[segment]; ok {
		return segment, true
	}
	if head, _, found := strings.Cut(segment, "_"); found {
		if _, ok := Rooms[head]; ok {
			return head, true
		}
	}
	return "", false
}

// resolveValue looks up the attribute named after the sensor, then scans the
// remaining attributes in deterministic order for the first numeric value.
func (p *Parser) resolveValue(raw map[string]any, sensorName string) (float64, bool) {
	if v, ok := attrValue(raw, sensorName); ok {
		if n, ok := numericValue(v); ok {
			return n, true
		}
		p.logger.Warn().Str("sensor", sensorName).Msg("sensor attribute present but value is not numeric")
	}
	keys := make([]string, 0, len(raw))
	for k := range raw {
		if _, skip := metadataKeys[k]; skip || k == sensorName {
			continue
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		if v, ok := attrValue(raw, k); ok {
			if n, ok := numericValue(v); ok {
				p.logger.Info().Str("attr", k).Float64("value", n).Msg("resolved value from fallback attribute")
				return n, true
			}
		}
	}
	return 0, false
}

// attrValue unwraps the value of an NGSI-LD property object.
func attrValue(raw map[string]any, name string) (any, bool) {
	prop, ok := raw[name].(map[string]any)
	if !ok {
		return nil, false
	}
	v, ok := prop["value"]
	return v, ok
}

func numericValue(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint64:
		return float64(n), true
	default:
		return 0, false
	}
}
