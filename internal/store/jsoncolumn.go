package store

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
)

// JSONColumn persists an arbitrary Go value as a Postgres JSONB column
// through GORM without a dedicated JSON-column library — database/sql's
// Valuer/Scanner pair is exactly the extension point GORM already
// understands.
type JSONColumn[T any] struct {
	Val T
}

func NewJSONColumn[T any](v T) JSONColumn[T] {
	return JSONColumn[T]{Val: v}
}

func (c JSONColumn[T]) Value() (driver.Value, error) {
	b, err := json.Marshal(c.Val)
	if err != nil {
		return nil, err
	}
	return b, nil
}

func (c *JSONColumn[T]) Scan(src any) error {
	if src == nil {
		return nil
	}
	var b []byte
	switch v := src.(type) {
	case []byte:
		b = v
	case string:
		b = []byte(v)
	default:
		return fmt.Errorf("JSONColumn: unsupported scan type %T", src)
	}
	if len(b) == 0 {
		return nil
	}
	return json.Unmarshal(b, &c.Val)
}

// GormDataType tells GORM which generic column type to use when it
// auto-migrates this field.
func (JSONColumn[T]) GormDataType() string {
	return "jsonb"
}
