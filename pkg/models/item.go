// Package models contains domain models for clusterlens.
package models

import (
	"database/sql/driver"
	"fmt"

	"github.com/goccy/go-json"
)

// Item is a single clusterable entry: a display name, an embedding produced by
// the external extractor, and the label assigned by the last committed run.
type Item struct {
	ClusterLabel   *int      `json:"cluster_id"`
	Name           string    `json:"filename"`
	BlobKey        string    `json:"blob_key,omitempty"`
	CreatedAt      string    `json:"created_at"`
	Embedding      Embedding `json:"-"`
	ID             int64     `json:"id"`
	CreatedAtEpoch int64     `json:"created_at_epoch"`
}

// Assignment returns the item's committed assignment.
func (i *Item) Assignment() Assignment {
	if i.ClusterLabel == nil {
		return Noise()
	}
	return Assigned(*i.ClusterLabel)
}

// HasBlob reports whether the item is backed by a stored file.
func (i *Item) HasBlob() bool {
	return i.BlobKey != ""
}

// Embedding is a fixed-length feature vector stored as a JSON array.
// Implements sql.Scanner and driver.Valuer.
type Embedding []float32

// Dimensions returns the vector length.
func (e Embedding) Dimensions() int {
	return len(e)
}

// Float64 returns a float64 copy of the vector.
func (e Embedding) Float64() []float64 {
	out := make([]float64, len(e))
	for i, v := range e {
		out[i] = float64(v)
	}
	return out
}

// Scan implements sql.Scanner.
func (e *Embedding) Scan(value interface{}) error {
	var data []byte
	switch v := value.(type) {
	case nil:
		*e = nil
		return nil
	case string:
		data = []byte(v)
	case []byte:
		data = v
	default:
		return fmt.Errorf("scan embedding: unsupported type %T", value)
	}
	if len(data) == 0 {
		*e = nil
		return nil
	}
	return json.Unmarshal(data, e)
}

// Value implements driver.Valuer.
func (e Embedding) Value() (driver.Value, error) {
	if e == nil {
		return "[]", nil
	}
	data, err := json.Marshal([]float32(e))
	if err != nil {
		return nil, err
	}
	return string(data), nil
}

// JSONInt64Array is an int64 slice stored as a JSON array.
type JSONInt64Array []int64

// Scan implements sql.Scanner.
func (a *JSONInt64Array) Scan(value interface{}) error {
	var data []byte
	switch v := value.(type) {
	case nil:
		*a = nil
		return nil
	case string:
		data = []byte(v)
	case []byte:
		data = v
	default:
		return fmt.Errorf("scan int64 array: unsupported type %T", value)
	}
	if len(data) == 0 {
		*a = nil
		return nil
	}
	return json.Unmarshal(data, a)
}

// Value implements driver.Valuer.
func (a JSONInt64Array) Value() (driver.Value, error) {
	if a == nil {
		return "[]", nil
	}
	data, err := json.Marshal([]int64(a))
	if err != nil {
		return nil, err
	}
	return string(data), nil
}
