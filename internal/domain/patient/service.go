package patient

import (
	"context"
	"fmt"
	"time"
)

type Service struct {
	patients PatientRepository
	now      func() time.Time
}

func NewService(patients PatientRepository) *Service {
	return &Service{patients: patients, now: time.Now}
}

// CreatePatient validates p, stamps it and stores it. Any identifier on p is
// replaced by the one the store assigns.
func (s *Service) CreatePatient(ctx context.Context, p *Patient) error {
	p.Normalize()
	if err := p.Validate(); err != nil {
		return err
	}
	now := s.now().UTC()
	p.ID = ""
	p.CreatedAt = now
	p.UpdatedAt = now
	if err := s.patients.Create(ctx, p); err != nil {
		return fmt.Errorf("create patient: %w", err)
	}
	return nil
}

// ListPatients returns every record. The result is never nil.
func (s *Service) ListPatients(ctx context.Context) ([]*Patient, error) {
	items, err := s.patients.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("list patients: %w", err)
	}
	if items == nil {
		items = []*Patient{}
	}
	return items, nil
}

// SearchPatients filters by exact first name, or by exact doctor name when no
// first name is given.
func (s *Service) SearchPatients(ctx context.Context, criteria SearchCriteria) ([]*Patient, error) {
	filter, err := criteria.Filter()
	if err != nil {
		return nil, err
	}
	items, err := s.patients.Search(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("search patients: %w", err)
	}
	if items == nil {
		items = []*Patient{}
	}
	return items, nil
}

// UpdatePatient merges patch into the stored record, re-validates the result
// and writes it back.
func (s *Service) UpdatePatient(ctx context.Context, id string, patch *PatientPatch) (*Patient, error) {
	p, err := s.patients.GetByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("update patient %s: %w", id, err)
	}
	patch.Apply(p)
	p.Normalize()
	if err := p.Validate(); err != nil {
		return nil, err
	}
	p.UpdatedAt = s.now().UTC()
	if err := s.patients.Update(ctx, p); err != nil {
		return nil, fmt.Errorf("update patient %s: %w", id, err)
	}
	return p, nil
}

// DeletePatient removes the record permanently and returns it.
func (s *Service) DeletePatient(ctx context.Context, id string) (*Patient, error) {
	p, err := s.patients.Delete(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("delete patient %s: %w", id, err)
	}
	return p, nil
}

// InitStore prepares the backing collection or table.
func (s *Service) InitStore(ctx context.Context) error {
	return s.patients.EnsureSchema(ctx)
}
