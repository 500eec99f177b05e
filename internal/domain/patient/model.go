package patient

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"
)

const (
	// ContactsLength is the exact length a contact number must have.
	ContactsLength = 10
	// MaxAge is the largest accepted age.
	MaxAge = 101
)

// MedicalHistoryVocabulary lists the tags the data-entry form offers. The
// server stores whatever tags it is given.
var MedicalHistoryVocabulary = []string{"bp", "act", "asthma", "thyroid", "dm", "pregnancy"}

// Patient is a single clinic record.
type Patient struct {
	ID             string    `json:"_id"`
	FirstName      string    `json:"firstName"`
	LastName       string    `json:"lastName,omitempty"`
	Contacts       string    `json:"contacts,omitempty"`
	Age            *float64  `json:"age,omitempty"`
	DateOfEntry    *Date     `json:"dateOfentry,omitempty"`
	MedicalHistory []string  `json:"medicalHistory"`
	DoctorName     string    `json:"doctorName,omitempty"`
	CreatedAt      time.Time `json:"createdAt"`
	UpdatedAt      time.Time `json:"updatedAt"`
}

// PatientPatch carries the fields of a partial update. A nil field keeps the
// stored value.
type PatientPatch struct {
	FirstName      *string   `json:"firstName"`
	LastName       *string   `json:"lastName"`
	Contacts       *string   `json:"contacts"`
	Age            *float64  `json:"age"`
	DateOfEntry    *Date     `json:"dateOfentry"`
	MedicalHistory *[]string `json:"medicalHistory"`
	DoctorName     *string   `json:"doctorName"`
}

// Apply copies the present fields of the patch onto p.
func (pp *PatientPatch) Apply(p *Patient) {
	if pp.FirstName != nil {
		p.FirstName = *pp.FirstName
	}
	if pp.LastName != nil {
		p.LastName = *pp.LastName
	}
	if pp.Contacts != nil {
		p.Contacts = *pp.Contacts
	}
	if pp.Age != nil {
		age := *pp.Age
		p.Age = &age
	}
	if pp.DateOfEntry != nil {
		d := *pp.DateOfEntry
		p.DateOfEntry = &d
	}
	if pp.MedicalHistory != nil {
		p.MedicalHistory = append([]string(nil), (*pp.MedicalHistory)...)
	}
	if pp.DoctorName != nil {
		p.DoctorName = *pp.DoctorName
	}
}

// Normalize trims text fields, drops blank history tags and clears a zero
// entry date.
func (p *Patient) Normalize() {
	p.FirstName = strings.TrimSpace(p.FirstName)
	p.LastName = strings.TrimSpace(p.LastName)
	p.Contacts = strings.TrimSpace(p.Contacts)
	p.DoctorName = strings.TrimSpace(p.DoctorName)

	history := make([]string, 0, len(p.MedicalHistory))
	for _, tag := range p.MedicalHistory {
		if tag = strings.TrimSpace(tag); tag != "" {
			history = append(history, tag)
		}
	}
	p.MedicalHistory = history

	if p.DateOfEntry != nil && p.DateOfEntry.IsZero() {
		p.DateOfEntry = nil
	}
}

// Validate checks the record constraints and reports every failing field.
func (p *Patient) Validate() error {
	fields := map[string]string{}
	if strings.TrimSpace(p.FirstName) == "" {
		fields["firstName"] = "is required"
	}
	if p.Contacts != "" && utf8.RuneCountInString(p.Contacts) != ContactsLength {
		fields["contacts"] = fmt.Sprintf("must be exactly %d characters", ContactsLength)
	}
	if p.Age != nil && *p.Age > MaxAge {
		fields["age"] = fmt.Sprintf("must be at most %d", MaxAge)
	}
	if len(fields) > 0 {
		return &ValidationError{Fields: fields}
	}
	return nil
}

// Clone returns a deep copy of p.
func (p *Patient) Clone() *Patient {
	c := *p
	if p.Age != nil {
		age := *p.Age
		c.Age = &age
	}
	if p.DateOfEntry != nil {
		d := *p.DateOfEntry
		c.DateOfEntry = &d
	}
	c.MedicalHistory = append(make([]string, 0, len(p.MedicalHistory)), p.MedicalHistory...)
	return &c
}

// Date is the entry date of a record. It decodes a calendar date, an RFC 3339
// timestamp or the value of an HTML datetime-local input, and encodes as an
// RFC 3339 timestamp in UTC.
type Date struct {
	time.Time
}

var dateLayouts = []string{
	"2006-01-02",
	time.RFC3339Nano,
	"2006-01-02T15:04:05",
	"2006-01-02T15:04",
}

// ParseDate parses s with any of the accepted layouts.
func ParseDate(s string) (Date, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return Date{}, nil
	}
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return Date{Time: t.UTC()}, nil
		}
	}
	return Date{}, fmt.Errorf("invalid date %q", s)
}

func (d Date) MarshalJSON() ([]byte, error) {
	if d.IsZero() {
		return []byte("null"), nil
	}
	return json.Marshal(d.UTC().Format(time.RFC3339))
}

func (d *Date) UnmarshalJSON(data []byte) error {
	if bytes.Equal(data, []byte("null")) {
		*d = Date{}
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return fmt.Errorf("dateOfentry must be a string: %w", err)
	}
	parsed, err := ParseDate(s)
	if err != nil {
		return err
	}
	*d = parsed
	return nil
}

// UnmarshalJSON decodes a record, accepting age as a number or a numeric
// string.
func (p *Patient) UnmarshalJSON(data []byte) error {
	type plain Patient
	aux := struct {
		*plain
		Age json.RawMessage `json:"age"`
	}{plain: (*plain)(p)}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	if aux.Age == nil {
		return nil
	}
	age, err := decodeAge(aux.Age)
	if err != nil {
		return err
	}
	p.Age = age
	return nil
}

// UnmarshalJSON decodes a patch, accepting age as a number or a numeric
// string.
func (pp *PatientPatch) UnmarshalJSON(data []byte) error {
	type plain PatientPatch
	aux := struct {
		*plain
		Age json.RawMessage `json:"age"`
	}{plain: (*plain)(pp)}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	if aux.Age == nil {
		return nil
	}
	age, err := decodeAge(aux.Age)
	if err != nil {
		return err
	}
	pp.Age = age
	return nil
}

// decodeAge reads a JSON number or a string holding one. null and blank
// strings decode as absent.
func decodeAge(raw json.RawMessage) (*float64, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return nil, nil
	}
	if raw[0] == '"' {
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return nil, err
		}
		s = strings.TrimSpace(s)
		if s == "" {
			return nil, nil
		}
		age, err := strconv.ParseFloat(s, 64)
		if err != nil || math.IsNaN(age) || math.IsInf(age, 0) {
			return nil, fmt.Errorf("age must be a number, got %q", s)
		}
		return &age, nil
	}
	var age float64
	if err := json.Unmarshal(raw, &age); err != nil {
		return nil, fmt.Errorf("age must be a number: %w", err)
	}
	return &age, nil
}

// SearchFilter is an exact-match filter on a single indexed field.
type SearchFilter struct {
	Field string
	Value string
}

const (
	FieldFirstName  = "firstName"
	FieldDoctorName = "doctorName"
)

// SearchCriteria holds the search query parameters as received.
type SearchCriteria struct {
	FirstName  string
	DoctorName string
}

// Filter picks the single filter to apply. firstName wins when both are set;
// blank values count as absent.
func (sc SearchCriteria) Filter() (SearchFilter, error) {
	if v := strings.TrimSpace(sc.FirstName); v != "" {
		return SearchFilter{Field: FieldFirstName, Value: v}, nil
	}
	if v := strings.TrimSpace(sc.DoctorName); v != "" {
		return SearchFilter{Field: FieldDoctorName, Value: v}, nil
	}
	return SearchFilter{}, ErrSearchCriterion
}
