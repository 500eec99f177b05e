package patient

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

type querier interface {
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
	Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error)
}

const pgCheckViolation = "23514"

// patientSchemaDDL creates the patient table. Each record is one JSONB
// document; the CHECK constraints hold the same rules as Patient.Validate.
var patientSchemaDDL = []string{
	fmt.Sprintf(`CREATE TABLE IF NOT EXISTS patient (
		id UUID PRIMARY KEY,
		doc JSONB NOT NULL,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		CONSTRAINT patient_first_name_required
			CHECK (length(btrim(coalesce(doc->>'firstName', ''))) > 0),
		CONSTRAINT patient_contacts_length
			CHECK (coalesce(doc->>'contacts', '') = '' OR char_length(doc->>'contacts') = %d),
		CONSTRAINT patient_age_max
			CHECK (jsonb_typeof(doc->'age') IS DISTINCT FROM 'number' OR (doc->>'age')::numeric <= %d)
	)`, ContactsLength, MaxAge),
	`CREATE INDEX IF NOT EXISTS idx_patient_first_name ON patient ((doc->>'firstName'))`,
	`CREATE INDEX IF NOT EXISTS idx_patient_doctor_name ON patient ((doc->>'doctorName'))`,
}

// constraintFields maps CHECK constraint names to the JSON field they guard.
var constraintFields = map[string]string{
	"patient_first_name_required": FieldFirstName,
	"patient_contacts_length":     "contacts",
	"patient_age_max":             "age",
}

var searchColumns = map[string]string{
	FieldFirstName:  `doc->>'firstName'`,
	FieldDoctorName: `doc->>'doctorName'`,
}

const patientCols = `id::text, doc, created_at, updated_at`

// patientBody is the JSONB document stored per row.
type patientBody struct {
	FirstName      string   `json:"firstName"`
	LastName       string   `json:"lastName,omitempty"`
	Contacts       string   `json:"contacts,omitempty"`
	Age            *float64 `json:"age,omitempty"`
	DateOfEntry    *Date    `json:"dateOfentry,omitempty"`
	MedicalHistory []string `json:"medicalHistory"`
	DoctorName     string   `json:"doctorName,omitempty"`
}

func encodeBody(p *Patient) ([]byte, error) {
	body := patientBody{
		FirstName:      p.FirstName,
		LastName:       p.LastName,
		Contacts:       p.Contacts,
		Age:            p.Age,
		DateOfEntry:    p.DateOfEntry,
		MedicalHistory: p.MedicalHistory,
		DoctorName:     p.DoctorName,
	}
	if body.MedicalHistory == nil {
		body.MedicalHistory = []string{}
	}
	return json.Marshal(body)
}

type patientRepoPG struct{ q querier }

func NewPatientRepoPG(pool *pgxpool.Pool) PatientRepository {
	return &patientRepoPG{q: pool}
}

func (r *patientRepoPG) scanRow(row pgx.Row) (*Patient, error) {
	var (
		p   Patient
		raw []byte
	)
	if err := row.Scan(&p.ID, &raw, &p.CreatedAt, &p.UpdatedAt); err != nil {
		return nil, err
	}
	var body patientBody
	if err := json.Unmarshal(raw, &body); err != nil {
		return nil, fmt.Errorf("decode patient %s: %w", p.ID, err)
	}
	p.FirstName = body.FirstName
	p.LastName = body.LastName
	p.Contacts = body.Contacts
	p.Age = body.Age
	p.DateOfEntry = body.DateOfEntry
	p.MedicalHistory = body.MedicalHistory
	p.DoctorName = body.DoctorName
	if p.MedicalHistory == nil {
		p.MedicalHistory = []string{}
	}
	return &p, nil
}

func (r *patientRepoPG) Create(ctx context.Context, p *Patient) error {
	body, err := encodeBody(p)
	if err != nil {
		return fmt.Errorf("encode patient: %w", err)
	}
	id := uuid.New()
	_, err = r.q.Exec(ctx, `
		INSERT INTO patient (id, doc, created_at, updated_at)
		VALUES ($1, $2, $3, $4)`,
		id, body, p.CreatedAt, p.UpdatedAt)
	if err != nil {
		return pgWriteError("insert patient", err)
	}
	p.ID = id.String()
	return nil
}

func (r *patientRepoPG) GetByID(ctx context.Context, id string) (*Patient, error) {
	uid, err := uuid.Parse(id)
	if err != nil {
		return nil, ErrNotFound
	}
	p, err := r.scanRow(r.q.QueryRow(ctx, `SELECT `+patientCols+` FROM patient WHERE id = $1`, uid))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get patient: %w", err)
	}
	return p, nil
}

func (r *patientRepoPG) Update(ctx context.Context, p *Patient) error {
	uid, err := uuid.Parse(p.ID)
	if err != nil {
		return ErrNotFound
	}
	body, err := encodeBody(p)
	if err != nil {
		return fmt.Errorf("encode patient: %w", err)
	}
	tag, err := r.q.Exec(ctx, `UPDATE patient SET doc = $2, updated_at = $3 WHERE id = $1`,
		uid, body, p.UpdatedAt)
	if err != nil {
		return pgWriteError("update patient", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *patientRepoPG) Delete(ctx context.Context, id string) (*Patient, error) {
	uid, err := uuid.Parse(id)
	if err != nil {
		return nil, ErrNotFound
	}
	p, err := r.scanRow(r.q.QueryRow(ctx, `DELETE FROM patient WHERE id = $1 RETURNING `+patientCols, uid))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("delete patient: %w", err)
	}
	return p, nil
}

func (r *patientRepoPG) List(ctx context.Context) ([]*Patient, error) {
	return r.query(ctx, `SELECT `+patientCols+` FROM patient ORDER BY created_at, id`)
}

func (r *patientRepoPG) Search(ctx context.Context, filter SearchFilter) ([]*Patient, error) {
	col, ok := searchColumns[filter.Field]
	if !ok {
		return nil, fmt.Errorf("search patients: unsupported field %q", filter.Field)
	}
	return r.query(ctx, `SELECT `+patientCols+` FROM patient WHERE `+col+` = $1 ORDER BY created_at, id`, filter.Value)
}

func (r *patientRepoPG) query(ctx context.Context, sql string, args ...interface{}) ([]*Patient, error) {
	rows, err := r.q.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("query patients: %w", err)
	}
	defer rows.Close()

	items := []*Patient{}
	for rows.Next() {
		p, err := r.scanRow(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("read patients: %w", err)
	}
	return items, nil
}

func (r *patientRepoPG) EnsureSchema(ctx context.Context) error {
	for _, stmt := range patientSchemaDDL {
		if _, err := r.q.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("ensure patient schema: %w", err)
		}
	}
	return nil
}

// pgWriteError turns a CHECK violation into a *ValidationError naming the
// guarded field and wraps anything else.
func pgWriteError(op string, err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == pgCheckViolation {
		field, ok := constraintFields[pgErr.ConstraintName]
		if !ok {
			field = "record"
		}
		return &ValidationError{Fields: map[string]string{field: "rejected by the store schema"}}
	}
	return fmt.Errorf("%s: %w", op, err)
}
