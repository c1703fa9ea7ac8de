package repositories

import (
	"context"

	"count-backend/internal/models"

	"github.com/jackc/pgx/v5/pgxpool"
)

// MasterDataRepository reads the sector, product and user tables owned by the master-data service
type MasterDataRepository struct {
	DB *pgxpool.Pool
}

func NewMasterDataRepository(db *pgxpool.Pool) *MasterDataRepository {
	return &MasterDataRepository{DB: db}
}

func (r *MasterDataRepository) GetSector(ctx context.Context, id int) (*models.Sector, error) {
	var s models.Sector
	err := r.DB.QueryRow(ctx,
		`SELECT id, company_id, name, is_active FROM sectors WHERE id=$1`, id,
	).Scan(&s.ID, &s.CompanyID, &s.Name, &s.IsActive)
	if err != nil {
		return nil, notFound(err)
	}
	return &s, nil
}

// ListActiveSectors returns the company's sectors that take part in a new cycle
func (r *MasterDataRepository) ListActiveSectors(ctx context.Context, companyID int) ([]*models.Sector, error) {
	rows, err := r.DB.Query(ctx,
		`SELECT id, company_id, name, is_active FROM sectors
         WHERE company_id=$1 AND is_active ORDER BY id`, companyID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var sectors []*models.Sector
	for rows.Next() {
		var s models.Sector
		if err := rows.Scan(&s.ID, &s.CompanyID, &s.Name, &s.IsActive); err != nil {
			return nil, err
		}
		sectors = append(sectors, &s)
	}
	return sectors, rows.Err()
}

func (r *MasterDataRepository) GetProduct(ctx context.Context, id int) (*models.Product, error) {
	var p models.Product
	err := r.DB.QueryRow(ctx,
		`SELECT id, company_id, sku, name, system_stock FROM products WHERE id=$1`, id,
	).Scan(&p.ID, &p.CompanyID, &p.SKU, &p.Name, &p.SystemStock)
	if err != nil {
		return nil, notFound(err)
	}
	return &p, nil
}

func (r *MasterDataRepository) ListProducts(ctx context.Context, ids []int) ([]*models.Product, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	rows, err := r.DB.Query(ctx,
		`SELECT id, company_id, sku, name, system_stock FROM products WHERE id = ANY($1) ORDER BY id`, ids)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var products []*models.Product
	for rows.Next() {
		var p models.Product
		if err := rows.Scan(&p.ID, &p.CompanyID, &p.SKU, &p.Name, &p.SystemStock); err != nil {
			return nil, err
		}
		products = append(products, &p)
	}
	return products, rows.Err()
}

func (r *MasterDataRepository) GetUser(ctx context.Context, id int) (*models.User, error) {
	var u models.User
	err := r.DB.QueryRow(ctx,
		`SELECT id, name, role, is_active FROM users WHERE id=$1`, id,
	).Scan(&u.ID, &u.Name, &u.Role, &u.IsActive)
	if err != nil {
		return nil, notFound(err)
	}
	return &u, nil
}
