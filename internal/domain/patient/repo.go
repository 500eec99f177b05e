package patient

import (
	"context"
	"fmt"

	"github.com/clinic/records/internal/config"
	"github.com/clinic/records/internal/platform/db"
)

// PatientRepository persists patient records. Implementations return
// ErrNotFound for unknown or malformed identifiers and a *ValidationError when
// the store itself rejects a record.
type PatientRepository interface {
	Create(ctx context.Context, p *Patient) error
	GetByID(ctx context.Context, id string) (*Patient, error)
	Update(ctx context.Context, p *Patient) error
	Delete(ctx context.Context, id string) (*Patient, error)
	List(ctx context.Context) ([]*Patient, error)
	Search(ctx context.Context, filter SearchFilter) ([]*Patient, error)
	// EnsureSchema creates the collection or table with its constraints and
	// indexes. It is safe to call on every start.
	EnsureSchema(ctx context.Context) error
}

// NewRepository returns the repository for the store's driver.
func NewRepository(store *db.Store) (PatientRepository, error) {
	switch store.Driver {
	case config.DriverMongo:
		return NewPatientRepoMongo(store.MongoDB), nil
	case config.DriverPostgres:
		return NewPatientRepoPG(store.Pool), nil
	case config.DriverMemory:
		return NewPatientRepoMemory(), nil
	}
	return nil, fmt.Errorf("no patient repository for driver %q", store.Driver)
}
