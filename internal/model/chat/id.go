package chat

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
)

// ID identifies users, channels and messages. The wire form may be a JSON
// number (channel and message ids from the database) or a string (uuids),
// so both are accepted and kept as their decimal/text representation.
type ID string

// NumericID formats an integer key as an ID.
func NumericID(n int64) ID {
	return ID(strconv.FormatInt(n, 10))
}

// String implements fmt.Stringer.
func (id ID) String() string { return string(id) }

// IsZero reports whether the id is unset.
func (id ID) IsZero() bool { return id == "" }

// Int64 returns the numeric value when the id is an integer key.
func (id ID) Int64() (int64, bool) {
	if id == "" {
		return 0, false
	}
	n, err := strconv.ParseInt(string(id), 10, 64)
	if err != nil {
		return 0, false
	}
	// "007" is not the canonical form of 7 and stays a string id.
	if strconv.FormatInt(n, 10) != string(id) {
		return 0, false
	}
	return n, true
}

// MarshalJSON emits integer keys as numbers and everything else as strings.
func (id ID) MarshalJSON() ([]byte, error) {
	if n, ok := id.Int64(); ok {
		return []byte(strconv.FormatInt(n, 10)), nil
	}
	return json.Marshal(string(id))
}

// UnmarshalJSON accepts a JSON string, number or null.
func (id *ID) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		*id = ""
		return nil
	}
	if data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*id = ID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("invalid id %s: %w", data, err)
	}
	if _, err := n.Int64(); err != nil {
		return fmt.Errorf("invalid id %s: not an integer", data)
	}
	*id = ID(n.String())
	return nil
}
