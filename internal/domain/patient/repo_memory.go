package patient

import (
	"context"
	"sync"

	"github.com/google/uuid"
)

// patientRepoMemory keeps records in process memory in insertion order. It
// backs the memory store driver used for local runs and tests.
type patientRepoMemory struct {
	mu      sync.RWMutex
	records map[string]*Patient
	order   []string
}

func NewPatientRepoMemory() PatientRepository {
	return &patientRepoMemory{records: make(map[string]*Patient)}
}

func (r *patientRepoMemory) Create(_ context.Context, p *Patient) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	p.ID = uuid.NewString()
	r.records[p.ID] = p.Clone()
	r.order = append(r.order, p.ID)
	return nil
}

func (r *patientRepoMemory) GetByID(_ context.Context, id string) (*Patient, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	p, ok := r.records[id]
	if !ok {
		return nil, ErrNotFound
	}
	return p.Clone(), nil
}

func (r *patientRepoMemory) Update(_ context.Context, p *Patient) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.records[p.ID]; !ok {
		return ErrNotFound
	}
	r.records[p.ID] = p.Clone()
	return nil
}

func (r *patientRepoMemory) Delete(_ context.Context, id string) (*Patient, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	p, ok := r.records[id]
	if !ok {
		return nil, ErrNotFound
	}
	delete(r.records, id)
	for i, existing := range r.order {
		if existing == id {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
	return p, nil
}

func (r *patientRepoMemory) List(_ context.Context) ([]*Patient, error) {
	return r.collect(func(*Patient) bool { return true }), nil
}

func (r *patientRepoMemory) Search(_ context.Context, filter SearchFilter) ([]*Patient, error) {
	return r.collect(func(p *Patient) bool {
		switch filter.Field {
		case FieldFirstName:
			return p.FirstName == filter.Value
		case FieldDoctorName:
			return p.DoctorName == filter.Value
		}
		return false
	}), nil
}

func (r *patientRepoMemory) EnsureSchema(context.Context) error { return nil }

func (r *patientRepoMemory) collect(match func(*Patient) bool) []*Patient {
	r.mu.RLock()
	defer r.mu.RUnlock()

	items := make([]*Patient, 0, len(r.order))
	for _, id := range r.order {
		if p := r.records[id]; match(p) {
			items = append(items, p.Clone())
		}
	}
	return items
}
