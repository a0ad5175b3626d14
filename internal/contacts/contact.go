// Package contacts holds the contact model and everything that turns a CSV
// export into batches of dialable contacts: phone normalization, filtering,
// batching, and the CSV-backed contact store.
package contacts

import "strings"

// Status is the delivery state persisted in the contact store.
type Status string

const (
	StatusNotSent Status = "Not Sent"
	StatusSent    Status = "Sent"
	StatusFailed  Status = "Failed"
)

// Contact is one row of the contact store.
//
// Columns the tool does not interpret are kept in Extra so a rewrite
// preserves the original file.
type Contact struct {
	FirstName       string
	MiddleName      string
	LastName        string
	Phone           string
	NormalizedPhone string
	Status          Status
	Organization    string

	Extra map[string]string
}

// FullName joins the non-empty name parts with single spaces.
func (c Contact) FullName() string {
	parts := make([]string, 0, 3)
	for _, p := range []string{c.FirstName, c.MiddleName, c.LastName} {
		if p = strings.TrimSpace(p); p != "" {
			parts = append(parts, p)
		}
	}
	return strings.Join(parts, " ")
}

// Key is the natural key used to match a contact across store rewrites.
type Key struct {
	Phone      string
	FirstName  string
	MiddleName string
	LastName   string
}

func (c Contact) Key() Key {
	return Key{Phone: c.NormalizedPhone, FirstName: c.FirstName, MiddleName: c.MiddleName, LastName: c.LastName}
}

// Dialable reports whether the normalized phone is usable as a chat target.
func (c Contact) Dialable() bool {
	return c.NormalizedPhone != "" && c.NormalizedPhone != InvalidPhone
}

// Clone returns a deep copy; Extra is copied so the clone can cross goroutines.
func (c Contact) Clone() Contact {
	cp := c
	if c.Extra != nil {
		cp.Extra = make(map[string]string, len(c.Extra))
		for k, v := range c.Extra {
			cp.Extra[k] = v
		}
	}
	return cp
}
