package content

import (
	"database/sql/driver"
	"fmt"
)

func (d Document) Value() (driver.Value, error) {
	if d.Root == nil {
		return nil, nil
	}
	b, err := d.MarshalJSON()
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

// Scan and Value let Document live in a jsonb column.
func (d *Document) Scan(src any) error {
	switch v := src.(type) {
	case nil:
		d.Root = nil
		return nil
	case []byte:
		return d.UnmarshalJSON(v)
	case string:
		return d.UnmarshalJSON([]byte(v))
	default:
		return fmt.Errorf("content: cannot scan %T into Document", src)
	}
}
