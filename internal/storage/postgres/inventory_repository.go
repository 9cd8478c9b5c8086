package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/mubai-gl/monoshop/internal/domain"
)

type inventoryRepository struct {
	db *sql.DB
}

// NewInventoryRepository создаёт PostgreSQL-реализацию InventoryRepository.
func NewInventoryRepository(store *Store) domain.InventoryRepository {
	return &inventoryRepository{db: store.DB()}
}

func (r *inventoryRepository) Get(ctx context.Context, productID string) (domain.InventoryRecord, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	var record domain.InventoryRecord
	err := r.db.QueryRowContext(ctx, `
		SELECT product_id, quantity_on_hand, reserved_quantity, version, created_at, updated_at
		FROM inventory_records
		WHERE product_id = $1
	`, productID).Scan(
		&record.ProductID, &record.QuantityOnHand, &record.ReservedQuantity,
		&record.Version, &record.CreatedAt, &record.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.InventoryRecord{}, domain.ErrProductNotTracked
		}
		return domain.InventoryRecord{}, fmt.Errorf("select inventory record: %w", err)
	}

	return record, nil
}

func (r *inventoryRepository) GetByProductIDs(ctx context.Context, productIDs []string) ([]domain.InventoryRecord, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	if len(productIDs) == 0 {
		return []domain.InventoryRecord{}, nil
	}

	// ANY($1) вместо ручной сборки плейсхолдеров, pgx передаёт срез как массив.
	rows, err := r.db.QueryContext(ctx, `
		SELECT product_id, quantity_on_hand, reserved_quantity, version, created_at, updated_at
		FROM inventory_records
		WHERE product_id = ANY($1)
		ORDER BY product_id
	`, productIDs)
	if err != nil {
		return nil, fmt.Errorf("select inventory records: %w", err)
	}
	defer rows.Close()

	return scanInventoryRows(rows)
}

func (r *inventoryRepository) List(ctx context.Context) ([]domain.InventoryRecord, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	rows, err := r.db.QueryContext(ctx, `
		SELECT product_id, quantity_on_hand, reserved_quantity, version, created_at, updated_at
		FROM inventory_records
		ORDER BY product_id
	`)
	if err != nil {
		return nil, fmt.Errorf("list inventory records: %w", err)
	}
	defer rows.Close()

	return scanInventoryRows(rows)
}

func (r *inventoryRepository) Create(ctx context.Context, record domain.InventoryRecord) error {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	now := time.Now().UTC()
	if record.CreatedAt.IsZero() {
		record.CreatedAt = now
	}
	if record.UpdatedAt.IsZero() {
		record.UpdatedAt = now
	}

	_, err := r.db.ExecContext(ctx, `
		INSERT INTO inventory_records (
			product_id, quantity_on_hand, reserved_quantity, version, created_at, updated_at
		) VALUES ($1,$2,$3,$4,$5,$6)
	`,
		record.ProductID, record.QuantityOnHand, record.ReservedQuantity,
		record.Version, record.CreatedAt, record.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return domain.ErrVersionConflict
		}
		return fmt.Errorf("insert inventory record: %w", err)
	}

	return nil
}

func (r *inventoryRepository) Save(ctx context.Context, record domain.InventoryRecord) error {
	return r.SaveBatch(ctx, []domain.InventoryRecord{record})
}

// SaveBatch применяет пакет записей в одной транзакции: несовпавшая версия
// любой записи откатывает всё.
func (r *inventoryRepository) SaveBatch(ctx context.Context, records []domain.InventoryRecord) error {
	if len(records) == 0 {
		return nil
	}

	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}

	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	now := time.Now().UTC()
	for _, record := range records {
		var res sql.Result
		res, err = tx.ExecContext(ctx, `
			UPDATE inventory_records
			SET quantity_on_hand = $1,
			    reserved_quantity = $2,
			    version = version + 1,
			    updated_at = $3
			WHERE product_id = $4
			  AND version = $5
		`,
			record.QuantityOnHand, record.ReservedQuantity, now,
			record.ProductID, record.Version,
		)
		if err != nil {
			return fmt.Errorf("update inventory record: %w", err)
		}

		var affected int64
		affected, err = res.RowsAffected()
		if err != nil {
			return fmt.Errorf("rows affected: %w", err)
		}
		if affected == 0 {
			var exists bool
			exists, err = r.recordExistsTx(ctx, tx, record.ProductID)
			if err != nil {
				return err
			}
			if !exists {
				err = domain.ErrProductNotTracked
				return err
			}
			err = domain.ErrVersionConflict
			return err
		}
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit inventory batch: %w", err)
	}

	return nil
}

func (r *inventoryRepository) recordExistsTx(ctx context.Context, tx *sql.Tx, productID string) (bool, error) {
	var id string
	err := tx.QueryRowContext(ctx, `SELECT product_id FROM inventory_records WHERE product_id = $1`, productID).Scan(&id)
	if err == nil {
		return true, nil
	}
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	return false, fmt.Errorf("check inventory record exists: %w", err)
}

func scanInventoryRows(rows *sql.Rows) ([]domain.InventoryRecord, error) {
	records := make([]domain.InventoryRecord, 0)
	for rows.Next() {
		var record domain.InventoryRecord
		if err := rows.Scan(
			&record.ProductID, &record.QuantityOnHand, &record.ReservedQuantity,
			&record.Version, &record.CreatedAt, &record.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan inventory record: %w", err)
		}
		records = append(records, record)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate inventory records: %w", err)
	}

	return records, nil
}

var _ domain.InventoryRepository = (*inventoryRepository)(nil)
