package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/ukydev/fieldops/internal/eventlog"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/bsontype"
)

// EvidenceCategory groups attachments by the moment they were captured.
type EvidenceCategory string

const (
	EvidenceBefore EvidenceCategory = "before"
	EvidenceDuring EvidenceCategory = "during"
	EvidenceAfter  EvidenceCategory = "after"
)

// EvidenceCategories lists every category in display order.
var EvidenceCategories = []EvidenceCategory{EvidenceBefore, EvidenceDuring, EvidenceAfter}

// IsValidEvidenceCategory checks if a category is known.
func IsValidEvidenceCategory(c EvidenceCategory) bool {
	switch c {
	case EvidenceBefore, EvidenceDuring, EvidenceAfter:
		return true
	default:
		return false
	}
}

// Attachment references captured media. The engine never reads the media itself.
type Attachment struct {
	URI   string `json:"uri" bson:"uri"`
	Notes string `json:"notes,omitempty" bson:"notes,omitempty"`
}

// AttachmentList is an ordered list of attachments with unique URIs.
type AttachmentList []Attachment

// Index returns the position of uri, or -1.
func (l AttachmentList) Index(uri string) int {
	for i, a := range l {
		if a.URI == uri {
			return i
		}
	}
	return -1
}

// Contains reports whether uri is present.
func (l AttachmentList) Contains(uri string) bool {
	return l.Index(uri) >= 0
}

// With returns a copy with a appended, or replaced in place if its URI is present.
func (l AttachmentList) With(a Attachment) AttachmentList {
	out := make(AttachmentList, len(l), len(l)+1)
	copy(out, l)
	if i := out.Index(a.URI); i >= 0 {
		out[i] = a
		return out
	}
	return append(out, a)
}

// Without returns a copy with uri removed.
func (l AttachmentList) Without(uri string) AttachmentList {
	out := make(AttachmentList, 0, len(l))
	for _, a := range l {
		if a.URI != uri {
			out = append(out, a)
		}
	}
	return out
}

// Value stores the list as JSON text.
func (l AttachmentList) Value() (driver.Value, error) {
	text, err := encodeAttachments(l)
	if err != nil {
		return nil, err
	}
	return text, nil
}

// Scan decodes a stored list; unreadable values become an empty list.
func (l *AttachmentList) Scan(value interface{}) error {
	switch v := value.(type) {
	case nil:
		*l = AttachmentList{}
	case []byte:
		*l = decodeAttachments(string(v))
	case string:
		*l = decodeAttachments(v)
	default:
		eventlog.ReportMalformed("evidence", fmt.Errorf("unsupported column type %T", value))
		*l = AttachmentList{}
	}
	return nil
}

// MarshalBSONValue stores the list as JSON text, matching the SQL column format.
func (l AttachmentList) MarshalBSONValue() (bsontype.Type, []byte, error) {
	text, err := encodeAttachments(l)
	if err != nil {
		return 0, nil, err
	}
	return bson.MarshalValue(text)
}

// UnmarshalBSONValue accepts the JSON text form or a native array.
func (l *AttachmentList) UnmarshalBSONValue(t bsontype.Type, data []byte) error {
	raw := bson.RawValue{Type: t, Value: data}
	switch t {
	case bsontype.Null, bsontype.Undefined:
		*l = AttachmentList{}
	case bsontype.String:
		*l = decodeAttachments(raw.StringValue())
	case bsontype.Array:
		var items []Attachment
		if err := raw.Unmarshal(&items); err != nil {
			eventlog.ReportMalformed("evidence", err)
			*l = AttachmentList{}
			return nil
		}
		*l = AttachmentList(items)
	default:
		eventlog.ReportMalformed("evidence", fmt.Errorf("unsupported bson type %s", t))
		*l = AttachmentList{}
	}
	return nil
}

func encodeAttachments(l AttachmentList) (string, error) {
	if len(l) == 0 {
		return "[]", nil
	}
	data, err := json.Marshal([]Attachment(l))
	if err != nil {
		return "", fmt.Errorf("encode evidence: %w", err)
	}
	return string(data), nil
}

func decodeAttachments(text string) AttachmentList {
	text = strings.TrimSpace(text)
	if text == "" || text == "null" {
		return AttachmentList{}
	}
	var items []Attachment
	if err := json.Unmarshal([]byte(text), &items); err != nil {
		eventlog.ReportMalformed("evidence", err)
		return AttachmentList{}
	}
	out := make(AttachmentList, 0, len(items))
	for _, a := range items {
		if a.URI == "" || out.Contains(a.URI) {
			continue
		}
		out = append(out, a)
	}
	return out
}
