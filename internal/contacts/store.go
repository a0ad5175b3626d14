package contacts

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// Columns names the CSV headers the store interprets.
type Columns struct {
	FirstName       string
	MiddleName      string
	LastName        string
	Phone           string
	Organization    string
	Status          string
	NormalizedPhone string
}

// DefaultColumns matches a Google Contacts CSV export.
func DefaultColumns() Columns {
	return Columns{
		FirstName:       "First Name",
		MiddleName:      "Middle Name",
		LastName:        "Last Name",
		Phone:           "Phone 1 - Value",
		Organization:    "Organization Name",
		Status:          "Status",
		NormalizedPhone: "ModifiedPhoneNumber",
	}
}

func (c Columns) withDefaults() Columns {
	d := DefaultColumns()
	if strings.TrimSpace(c.FirstName) == "" {
		c.FirstName = d.FirstName
	}
	if strings.TrimSpace(c.MiddleName) == "" {
		c.MiddleName = d.MiddleName
	}
	if strings.TrimSpace(c.LastName) == "" {
		c.LastName = d.LastName
	}
	if strings.TrimSpace(c.Phone) == "" {
		c.Phone = d.Phone
	}
	if strings.TrimSpace(c.Organization) == "" {
		c.Organization = d.Organization
	}
	if strings.TrimSpace(c.Status) == "" {
		c.Status = d.Status
	}
	if strings.TrimSpace(c.NormalizedPhone) == "" {
		c.NormalizedPhone = d.NormalizedPhone
	}
	return c
}

// Table is the whole contact store: header order plus rows.
type Table struct {
	Header   []string
	Contacts []*Contact
}

// Merge replaces every row whose Key matches an updated contact with a copy of
// that contact. Rows with no match are left untouched; updates with no
// matching row are ignored. It returns the number of rows replaced.
func (t *Table) Merge(updated []Contact) int {
	if t == nil || len(updated) == 0 {
		return 0
	}
	byKey := make(map[Key]Contact, len(updated))
	for _, u := range updated {
		byKey[u.Key()] = u
	}
	n := 0
	for i, row := range t.Contacts {
		if row == nil {
			continue
		}
		if u, ok := byKey[row.Key()]; ok {
			cp := u.Clone()
			t.Contacts[i] = &cp
			n++
		}
	}
	return n
}

// Store reads and rewrites the CSV contact file.
type Store struct {
	path string
	cols Columns
}

func NewStore(path string, cols Columns) *Store {
	return &Store{path: path, cols: cols.withDefaults()}
}

func (s *Store) Path() string { return s.path }

// Load parses the whole file. A missing file is ErrInvalidConfiguration.
func (s *Store) Load() (*Table, error) {
	f, err := os.Open(s.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w: contact file %q not found", ErrInvalidConfiguration, s.path)
		}
		return nil, err
	}
	defer f.Close()
	return s.read(f)
}

func (s *Store) read(r io.Reader) (*Table, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	header, err := cr.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return &Table{}, nil
		}
		return nil, fmt.Errorf("read header: %w", err)
	}
	if len(header) > 0 {
		header[0] = strings.TrimPrefix(header[0], "\ufeff")
	}

	t := &Table{Header: header}
	for line := 2; ; line++ {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read row %d: %w", line, err)
		}
		t.Contacts = append(t.Contacts, s.fromRecord(header, rec))
	}
	return t, nil
}

func (s *Store) fromRecord(header, rec []string) *Contact {
	c := &Contact{Extra: map[string]string{}}
	for i, name := range header {
		v := ""
		if i < len(rec) {
			v = rec[i]
		}
		switch name {
		case s.cols.FirstName:
			c.FirstName = v
		case s.cols.MiddleName:
			c.MiddleName = v
		case s.cols.LastName:
			c.LastName = v
		case s.cols.Phone:
			c.Phone = v
		case s.cols.Organization:
			c.Organization = v
		case s.cols.Status:
			c.Status = Status(v)
		case s.cols.NormalizedPhone:
			c.NormalizedPhone = v
		default:
			c.Extra[name] = v
		}
	}
	return c
}

func (s *Store) toRecord(header []string, c *Contact) []string {
	rec := make([]string, len(header))
	for i, name := range header {
		switch name {
		case s.cols.FirstName:
			rec[i] = c.FirstName
		case s.cols.MiddleName:
			rec[i] = c.MiddleName
		case s.cols.LastName:
			rec[i] = c.LastName
		case s.cols.Phone:
			rec[i] = c.Phone
		case s.cols.Organization:
			rec[i] = c.Organization
		case s.cols.Status:
			rec[i] = string(c.Status)
		case s.cols.NormalizedPhone:
			rec[i] = c.NormalizedPhone
		default:
			rec[i] = c.Extra[name]
		}
	}
	return rec
}

// header returns t.Header with the status and normalized-phone columns
// appended when the source file did not have them.
func (s *Store) header(t *Table) []string {
	h := append([]string(nil), t.Header...)
	has := map[string]bool{}
	for _, name := range h {
		has[name] = true
	}
	for _, name := range []string{s.cols.FirstName, s.cols.MiddleName, s.cols.LastName, s.cols.Phone, s.cols.Status, s.cols.NormalizedPhone} {
		if !has[name] {
			h = append(h, name)
			has[name] = true
		}
	}
	return h
}

// Save rewrites the whole file atomically: the table is written to a temp file
// in the same directory which then replaces the store.
func (s *Store) Save(t *Table) error {
	dir := filepath.Dir(s.path)
	tmp, err := os.CreateTemp(dir, filepath.Base(s.path)+".*.tmp")
	if err != nil {
		return err
	}
	tmpPath := tmp.Name()
	cleanup := func() { _ = os.Remove(tmpPath) }

	header := s.header(t)
	w := csv.NewWriter(tmp)
	if err := w.Write(header); err != nil {
		_ = tmp.Close()
		cleanup()
		return err
	}
	for _, c := range t.Contacts {
		if c == nil {
			continue
		}
		if err := w.Write(s.toRecord(header, c)); err != nil {
			_ = tmp.Close()
			cleanup()
			return err
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		_ = tmp.Close()
		cleanup()
		return err
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		cleanup()
		return err
	}
	if err := tmp.Close(); err != nil {
		cleanup()
		return err
	}
	if err := os.Rename(tmpPath, s.path); err != nil {
		cleanup()
		return err
	}
	t.Header = header
	return nil
}

// Prepare loads the store, fills in a default status and the normalized phone
// where they are missing, and writes the result back once.
func (s *Store) Prepare() (*Table, error) {
	t, err := s.Load()
	if err != nil {
		return nil, err
	}
	for _, c := range t.Contacts {
		if strings.TrimSpace(string(c.Status)) == "" {
			c.Status = StatusNotSent
		}
		if strings.TrimSpace(c.NormalizedPhone) == "" {
			c.NormalizedPhone = NormalizePhone(c.Phone)
		}
	}
	if len(t.Contacts) == 0 {
		return t, nil
	}
	if err := s.Save(t); err != nil {
		return nil, fmt.Errorf("rewrite contacts: %w", err)
	}
	return t, nil
}
