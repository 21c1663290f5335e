package storage

import (
	"encoding/binary"
	"fmt"
	"math"
	"strings"

	"github.com/vmihailenco/msgpack/v5"

	"github.com/dshills/recallkit/pkg/types"
)

// serializeVector converts a float32 slice to a byte blob (little-endian).
// An empty vector serializes to nil so the column stays NULL.
func serializeVector(vector []float32) []byte {
	if len(vector) == 0 {
		return nil
	}
	blob := make([]byte, len(vector)*4)
	for i, v := range vector {
		binary.LittleEndian.PutUint32(blob[i*4:], math.Float32bits(v))
	}
	return blob
}

// deserializeVector converts a byte blob back to a float32 slice
func deserializeVector(blob []byte) []float32 {
	if len(blob) < 4 {
		return nil
	}
	vector := make([]float32, len(blob)/4)
	for i := range vector {
		bits := binary.LittleEndian.Uint32(blob[i*4:])
		vector[i] = math.Float32frombits(bits)
	}
	return vector
}

// serializeChunks encodes a list of chunk vectors with MessagePack
func serializeChunks(chunks [][]float32) ([]byte, error) {
	if len(chunks) == 0 {
		return nil, nil
	}
	blob, err := msgpack.Marshal(chunks)
	if err != nil {
		return nil, fmt.Errorf("failed to encode chunk vectors: %w", err)
	}
	return blob, nil
}

// deserializeChunks decodes a MessagePack chunk vector list
func deserializeChunks(blob []byte) ([][]float32, error) {
	if len(blob) == 0 {
		return nil, nil
	}
	var chunks [][]float32
	if err := msgpack.Unmarshal(blob, &chunks); err != nil {
		return nil, fmt.Errorf("failed to decode chunk vectors: %w", err)
	}
	return chunks, nil
}

// buildFTSQuery turns search words into an FTS5 boolean OR expression.
// Every word is quoted so FTS5 operators and syntax characters are literal.
func buildFTSQuery(words []string) string {
	terms := make([]string, 0, len(words))
	seen := make(map[string]bool, len(words))
	for _, w := range words {
		w = strings.TrimSpace(w)
		if w == "" || seen[w] {
			continue
		}
		seen[w] = true
		terms = append(terms, `"`+strings.ReplaceAll(w, `"`, `""`)+`"`)
	}
	return strings.Join(terms, " OR ")
}

// ftsColumns are the text columns of records_fts
var ftsColumns = map[types.FieldName]bool{
	types.FieldRequest:      true,
	types.FieldResponse:     true,
	types.FieldToolResponse: true,
	types.FieldSummary:      true,
}

// restrictFTSColumns scopes an FTS5 expression to the given fields' columns.
// Fields without a column are ignored; no usable field leaves match unscoped.
func restrictFTSColumns(match string, fields []types.FieldName) string {
	cols := make([]string, 0, len(fields))
	seen := make(map[types.FieldName]bool, len(fields))
	for _, f := range fields {
		if !ftsColumns[f] || seen[f] {
			continue
		}
		seen[f] = true
		cols = append(cols, string(f))
	}
	if match == "" || len(cols) == 0 {
		return match
	}
	return "{" + strings.Join(cols, " ") + "} : (" + match + ")"
}

// SerializeVector is an exported helper for testing
func SerializeVector(vector []float32) []byte {
	return serializeVector(vector)
}

// DeserializeVector is an exported helper for testing
func DeserializeVector(blob []byte) []float32 {
	return deserializeVector(blob)
}
