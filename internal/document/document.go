// Package document defines the unit of work flowing through the ingestion and
// alerting pipelines, and how it is decoded from queue payloads.
package document

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"
)

const (
	// IDKey is the payload key holding the document id.
	IDKey = "@uuid"
	// FallbackIDKey is accepted when IDKey is absent.
	FallbackIDKey = "doc_id"
	// CollectionKey is the payload key naming the source collection.
	CollectionKey = "collection"

	// ContentTypeJSON is the default payload encoding.
	ContentTypeJSON = "application/json"
	// ContentTypeProtobuf marks a payload encoded as a google.protobuf.Struct.
	ContentTypeProtobuf = "application/x-protobuf"
)

// ErrMalformed is returned when a payload cannot be turned into a Document.
var ErrMalformed = errors.New("malformed document payload")

// Document is a decoded queue payload. It is never mutated after construction;
// consumers must treat Data as read-only.
type Document struct {
	Data       map[string]any
	DocID      string
	Collection string
}

// New builds a Document. A nil data map is replaced with an empty one.
func New(data map[string]any, docID, collection string) *Document {
	if data == nil {
		data = map[string]any{}
	}
	return &Document{Data: data, DocID: docID, Collection: collection}
}

// Decode parses a payload according to its content type. An empty content type
// is treated as JSON.
func Decode(payload []byte, contentType string) (*Document, error) {
	var data map[string]any

	switch ct := strings.ToLower(strings.TrimSpace(contentType)); ct {
	case "", ContentTypeJSON:
		if err := json.Unmarshal(payload, &data); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
		}
		if data == nil {
			return nil, fmt.Errorf("%w: payload is not a JSON object", ErrMalformed)
		}
	case ContentTypeProtobuf:
		var pb structpb.Struct
		if err := proto.Unmarshal(payload, &pb); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
		}
		data = pb.AsMap()
	default:
		return nil, fmt.Errorf("%w: unsupported content type %q", ErrMalformed, contentType)
	}

	docID := stringValue(data[IDKey])
	if docID == "" {
		docID = stringValue(data[FallbackIDKey])
	}
	return New(data, docID, stringValue(data[CollectionKey])), nil
}

// Encode renders the document as the JSON payload Decode accepts.
func Encode(doc *Document) ([]byte, error) {
	out := make(map[string]any, len(doc.Data)+2)
	for k, v := range doc.Data {
		out[k] = v
	}
	if doc.DocID != "" {
		out[IDKey] = doc.DocID
	}
	if doc.Collection != "" {
		out[CollectionKey] = doc.Collection
	}
	return json.Marshal(out)
}

// EncodeProtobuf renders the document as a google.protobuf.Struct payload.
func EncodeProtobuf(doc *Document) ([]byte, error) {
	raw, err := Encode(doc)
	if err != nil {
		return nil, err
	}
	var generic map[string]any
	if err := json.Unmarshal(raw, &generic); err != nil {
		return nil, err
	}
	pb, err := structpb.NewStruct(generic)
	if err != nil {
		return nil, fmt.Errorf("failed to build protobuf struct: %w", err)
	}
	return proto.Marshal(pb)
}

// Lookup resolves a dotted field path ("a.b.0.c") inside data. Numeric segments
// index into slices. It reports false for any missing or untraversable segment.
func Lookup(data map[string]any, path string) (any, bool) {
	if data == nil || path == "" {
		return nil, false
	}

	var cur any = data
	for _, seg := range strings.Split(path, ".") {
		switch node := cur.(type) {
		case map[string]any:
			v, ok := node[seg]
			if !ok {
				return nil, false
			}
			cur = v
		case []any:
			i, err := strconv.Atoi(seg)
			if err != nil || i < 0 || i >= len(node) {
				return nil, false
			}
			cur = node[i]
		default:
			return nil, false
		}
	}
	return cur, true
}

func stringValue(v any) string {
	switch s := v.(type) {
	case string:
		return s
	case nil:
		return ""
	case float64:
		return strconv.FormatFloat(s, 'f', -1, 64)
	default:
		return fmt.Sprint(s)
	}
}
