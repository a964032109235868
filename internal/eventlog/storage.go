package eventlog

import (
	"database/sql/driver"
	"fmt"

	log "github.com/sirupsen/logrus"
	"github.com/ukydev/fieldops/internal/metrics"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/bsontype"
)

const storedField = "event_log"

// Value stores the log as JSON text.
func (l Log) Value() (driver.Value, error) {
	return Encode(l), nil
}

// Scan decodes a stored log. It never fails: unreadable values become an empty log.
func (l *Log) Scan(value interface{}) error {
	switch v := value.(type) {
	case nil:
		*l = Log{}
	case []byte:
		*l = DecodeLenient(storedField, string(v))
	case string:
		*l = DecodeLenient(storedField, v)
	default:
		reportMalformed(storedField, fmt.Errorf("unsupported column type %T", value))
		*l = Log{}
	}
	return nil
}

// MarshalBSONValue stores the log as a JSON string so both backends share one format.
func (l Log) MarshalBSONValue() (bsontype.Type, []byte, error) {
	return bson.MarshalValue(Encode(l))
}

// UnmarshalBSONValue mirrors Scan for MongoDB documents.
func (l *Log) UnmarshalBSONValue(t bsontype.Type, data []byte) error {
	raw := bson.RawValue{Type: t, Value: data}
	switch t {
	case bsontype.Null, bsontype.Undefined:
		*l = Log{}
	case bsontype.String:
		text, ok := raw.StringValueOK()
		if !ok {
			reportMalformed(storedField, fmt.Errorf("invalid bson string"))
			*l = Log{}
			return nil
		}
		*l = DecodeLenient(storedField, text)
	default:
		reportMalformed(storedField, fmt.Errorf("unsupported bson type %s", t))
		*l = Log{}
	}
	return nil
}

// ReportMalformed records a stored field that had to be replaced by its empty value.
// Other packages with lenient codecs share it so diagnostics land in one place.
func ReportMalformed(field string, err error) {
	reportMalformed(field, err)
}

func reportMalformed(field string, err error) {
	metrics.MalformedFields.WithLabelValues(field).Inc()
	log.WithFields(log.Fields{
		"field": field,
		"error": err,
	}).Warn("Discarding malformed stored field")
}
