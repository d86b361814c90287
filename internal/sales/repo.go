package sales

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/iretilight/retailpos-backend/pkg/db/models"
)

// ErrNotFound is returned when a sale cannot be located.
var ErrNotFound = errors.New("sale not found")

// Repository manages persistence for sales.
type Repository interface {
	WithTx(tx *gorm.DB) Repository

	Create(ctx context.Context, sale *models.Sale) error
	FindByID(ctx context.Context, id uuid.UUID) (*models.Sale, error)
	FindByIDForUpdate(ctx context.Context, id uuid.UUID) (*models.Sale, error)
	FindByRegisterReference(ctx context.Context, reference string) (*models.Sale, error)
	Update(ctx context.Context, sale *models.Sale) error
}

type repository struct {
	db *gorm.DB
}

// NewRepository returns a sale repository bound to the provided database.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

func (r *repository) Create(ctx context.Context, sale *models.Sale) error {
	return r.db.WithContext(ctx).Create(sale).Error
}

func (r *repository) FindByID(ctx context.Context, id uuid.UUID) (*models.Sale, error) {
	var sale models.Sale
	if err := r.db.WithContext(ctx).First(&sale, "id = ?", id).Error; err != nil {
		return nil, translateNotFound(err)
	}
	return &sale, nil
}

// FindByIDForUpdate loads a sale holding a row-level write lock for the rest
// of the surrounding transaction, serializing concurrent attempts to claim
// the sale's active payment slot. SQLite has no FOR UPDATE clause; its
// single-writer transactions provide the equivalent guarantee.
func (r *repository) FindByIDForUpdate(ctx context.Context, id uuid.UUID) (*models.Sale, error) {
	query := r.db.WithContext(ctx)
	if r.db.Dialector.Name() != "sqlite" {
		query = query.Clauses(clause.Locking{Strength: "UPDATE"})
	}
	var sale models.Sale
	if err := query.First(&sale, "id = ?", id).Error; err != nil {
		return nil, translateNotFound(err)
	}
	return &sale, nil
}

func (r *repository) FindByRegisterReference(ctx context.Context, reference string) (*models.Sale, error) {
	var sale models.Sale
	if err := r.db.WithContext(ctx).First(&sale, "register_reference = ?", reference).Error; err != nil {
		return nil, translateNotFound(err)
	}
	return &sale, nil
}

func (r *repository) Update(ctx context.Context, sale *models.Sale) error {
	return r.db.WithContext(ctx).Save(sale).Error
}

func translateNotFound(err error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ErrNotFound
	}
	return err
}
