package store

import (
	"fmt"
	"time"
)

// sqlNullDate scans DATE columns, which SQLite hands back as either a
// parsed time or the stored text depending on how the row was written.
type sqlNullDate struct {
	Time  time.Time
	Valid bool
}

func (d *sqlNullDate) Scan(value any) error {
	d.Time, d.Valid = time.Time{}, false
	switch v := value.(type) {
	case nil:
		return nil
	case time.Time:
		y, m, day := v.UTC().Date()
		d.Time = time.Date(y, m, day, 0, 0, 0, 0, time.UTC)
		d.Valid = true
		return nil
	case string:
		return d.parse(v)
	case []byte:
		return d.parse(string(v))
	default:
		return fmt.Errorf("cannot scan %T into date", value)
	}
}

func (d *sqlNullDate) parse(s string) error {
	if len(s) > 10 {
		s = s[:10]
	}
	t, err := time.ParseInLocation("2006-01-02", s, time.UTC)
	if err != nil {
		return fmt.Errorf("parse date %q: %w", s, err)
	}
	d.Time = t
	d.Valid = true
	return nil
}
