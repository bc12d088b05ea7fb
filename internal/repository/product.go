package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"

	"fablink/internal/models"
)

type ProductRepository struct {
	db *sql.DB
}

func NewProductRepository(db *sql.DB) *ProductRepository {
	return &ProductRepository{db: db}
}

func (r *ProductRepository) Create(ctx context.Context, p *models.Product) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO products (id, maker_id, name, status, created_at, updated_at)
		 VALUES ($1,$2,$3,$4,$5,$6)`,
		p.ID, p.MakerID, p.Name, p.Status, p.CreatedAt, p.UpdatedAt)
	if err != nil {
		return fmt.Errorf("create product: %w", err)
	}
	return nil
}

func (r *ProductRepository) ListByMaker(ctx context.Context, makerID uuid.UUID) ([]models.Product, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, maker_id, name, status, created_at, updated_at
		 FROM products WHERE maker_id=$1 ORDER BY created_at`, makerID)
	if err != nil {
		return nil, fmt.Errorf("list products: %w", err)
	}
	defer rows.Close()

	var res []models.Product
	for rows.Next() {
		var p models.Product
		if err := rows.Scan(&p.ID, &p.MakerID, &p.Name, &p.Status, &p.CreatedAt, &p.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan product: %w", err)
		}
		res = append(res, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate products: %w", err)
	}
	return res, nil
}
