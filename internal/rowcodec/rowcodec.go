// Package rowcodec maps table rows onto document identifiers and value blobs.
//
// An identifier is the primary-key values in key order, each written as
// <decimal length>:<bytes>, with _ standing for NULL. Because every component
// is self-delimiting, data can never collide with a separator and the key of
// (a) is a string prefix of the key of (a, b).
//
// A value blob holds the non-key values in column order:
//
//	flag byte      0 = raw, 1 = snappy-compressed payload
//	payload        uvarint field count, then per field a tag byte
//	               (0 = NULL, 1 = string), a uvarint length and the bytes
package rowcodec

import (
	"encoding/binary"
	"fmt"
	"strconv"
	"strings"

	"github.com/golang/snappy"

	"github.com/docsql/docsql/internal/catalog"
	"github.com/docsql/docsql/internal/docstore"
	dserrors "github.com/docsql/docsql/internal/errors"
)

const (
	flagRaw    byte = 0
	flagSnappy byte = 1

	tagNull   byte = 0
	tagString byte = 1

	// compressThreshold is the payload size from which blobs are compressed.
	compressThreshold = 128

	nullComponent = "_"
)

// Row is a decoded row. Values are in table column order; each is a string
// or nil for NULL.
type Row struct {
	ID     string
	Values []any
}

// EncodeKey encodes identifier components. Components must be strings or nil.
func EncodeKey(components []any) string {
	var sb strings.Builder
	for _, c := range components {
		s, ok := c.(string)
		if !ok {
			sb.WriteString(nullComponent)
			continue
		}
		sb.WriteString(strconv.Itoa(len(s)))
		sb.WriteByte(':')
		sb.WriteString(s)
	}
	return sb.String()
}

// DecodeKey splits an identifier back into its components.
func DecodeKey(key string) ([]any, error) {
	var out []any
	for i := 0; i < len(key); {
		if key[i] == '_' {
			out = append(out, nil)
			i++
			continue
		}
		colon := strings.IndexByte(key[i:], ':')
		if colon <= 0 {
			return nil, fmt.Errorf("malformed key component at offset %d", i)
		}
		n, err := strconv.Atoi(key[i : i+colon])
		if err != nil || n < 0 {
			return nil, fmt.Errorf("malformed key length at offset %d", i)
		}
		start := i + colon + 1
		if start+n > len(key) {
			return nil, fmt.Errorf("key component at offset %d overruns key", i)
		}
		out = append(out, key[start:start+n])
		i = start + n
	}
	return out, nil
}

// EncodeValues encodes a value blob. Values must be strings or nil.
func EncodeValues(values []any) []byte {
	payload := binary.AppendUvarint(nil, uint64(len(values)))
	for _, v := range values {
		s, ok := v.(string)
		if !ok {
			payload = append(payload, tagNull)
			continue
		}
		payload = append(payload, tagString)
		payload = binary.AppendUvarint(payload, uint64(len(s)))
		payload = append(payload, s...)
	}

	if len(payload) >= compressThreshold {
		compressed := snappy.Encode(nil, payload)
		return append([]byte{flagSnappy}, compressed...)
	}
	return append([]byte{flagRaw}, payload...)
}

// DecodeValues decodes a value blob produced by EncodeValues. An empty blob
// decodes to no values.
func DecodeValues(blob []byte) ([]any, error) {
	if len(blob) == 0 {
		return nil, nil
	}

	payload := blob[1:]
	switch blob[0] {
	case flagRaw:
	case flagSnappy:
		decoded, err := snappy.Decode(nil, payload)
		if err != nil {
			return nil, fmt.Errorf("failed to decompress value blob: %w", err)
		}
		payload = decoded
	default:
		return nil, fmt.Errorf("unknown value blob flag %d", blob[0])
	}

	count, n := binary.Uvarint(payload)
	if n <= 0 {
		return nil, fmt.Errorf("malformed value count")
	}
	payload = payload[n:]
	if count > uint64(len(payload)) {
		return nil, fmt.Errorf("value count %d exceeds blob size", count)
	}

	values := make([]any, 0, count)
	for i := uint64(0); i < count; i++ {
		if len(payload) == 0 {
			return nil, fmt.Errorf("value blob truncated at field %d", i)
		}
		tag := payload[0]
		payload = payload[1:]
		switch tag {
		case tagNull:
			values = append(values, nil)
		case tagString:
			size, n := binary.Uvarint(payload)
			if n <= 0 || size > uint64(len(payload)-n) {
				return nil, fmt.Errorf("malformed length of field %d", i)
			}
			payload = payload[n:]
			values = append(values, string(payload[:size]))
			payload = payload[size:]
		default:
			return nil, fmt.Errorf("unknown tag %d at field %d", tag, i)
		}
	}
	if len(payload) != 0 {
		return nil, fmt.Errorf("%d trailing bytes in value blob", len(payload))
	}
	return values, nil
}

// Encode builds the document of a row given its values in column order.
// Primary-key values must not be NULL.
func Encode(table *catalog.Table, values []any) (docstore.Document, error) {
	if len(values) != len(table.Columns) {
		return docstore.Document{}, dserrors.NewSchemaError(dserrors.CodeInvalidValue,
			fmt.Sprintf("expected %d values for table '%s', got %d", len(table.Columns), table.Name, len(values)))
	}

	pkPos := table.PrimaryKeyPositions()
	key := make([]any, len(pkPos))
	for i, p := range pkPos {
		if p < 0 {
			return docstore.Document{}, dserrors.NewSchemaError(dserrors.CodeInvalidDefinition,
				fmt.Sprintf("primary key column '%s' is not declared in table '%s'", table.Constraints.PrimaryKey[i], table.Name))
		}
		if values[p] == nil {
			return docstore.Document{}, dserrors.NewSchemaError(dserrors.CodeInvalidValue,
				fmt.Sprintf("primary key column '%s' cannot be NULL", table.Columns[p].Name))
		}
		key[i] = values[p]
	}

	nonKey := table.NonKeyPositions()
	rest := make([]any, len(nonKey))
	for i, p := range nonKey {
		rest[i] = values[p]
	}

	return docstore.Document{ID: EncodeKey(key), Value: EncodeValues(rest)}, nil
}

// Decode recovers a row from its document.
func Decode(table *catalog.Table, doc docstore.Document) (Row, error) {
	key, err := DecodeIdentity(table, doc.ID)
	if err != nil {
		return Row{}, err
	}

	rest, err := DecodeValues(doc.Value)
	if err != nil {
		return Row{}, corrupt(table, doc.ID, err)
	}
	nonKey := table.NonKeyPositions()
	if len(rest) != len(nonKey) {
		return Row{}, corrupt(table, doc.ID,
			fmt.Errorf("value blob has %d fields, table has %d non-key columns", len(rest), len(nonKey)))
	}

	values := make([]any, len(table.Columns))
	for i, p := range table.PrimaryKeyPositions() {
		values[p] = key[i]
	}
	for i, p := range nonKey {
		values[p] = rest[i]
	}
	return Row{ID: doc.ID, Values: values}, nil
}

// DecodeIdentity returns the primary-key values of a row identifier, in
// primary-key order.
func DecodeIdentity(table *catalog.Table, id string) ([]any, error) {
	key, err := DecodeKey(id)
	if err != nil {
		return nil, corrupt(table, id, err)
	}
	if len(key) != len(table.Constraints.PrimaryKey) {
		return nil, corrupt(table, id,
			fmt.Errorf("identifier has %d components, primary key has %d", len(key), len(table.Constraints.PrimaryKey)))
	}
	return key, nil
}

func corrupt(table *catalog.Table, id string, err error) error {
	return dserrors.Wrap(dserrors.ErrCategoryStorage, dserrors.CodeCorruptDocument,
		fmt.Sprintf("row '%s' of table '%s' cannot be decoded", id, table.Name), err)
}

// Value returns the named column of a row, or nil when the column is absent.
func (r Row) Value(table *catalog.Table, column string) any {
	i := table.ColumnIndex(column)
	if i < 0 || i >= len(r.Values) {
		return nil
	}
	return r.Values[i]
}
