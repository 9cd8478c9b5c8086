package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/mubai-gl/monoshop/internal/domain"
)

type paymentRepository struct {
	db *sql.DB
}

// NewPaymentRepository создаёт PostgreSQL-реализацию PaymentRepository.
func NewPaymentRepository(store *Store) domain.PaymentRepository {
	return &paymentRepository{db: store.DB()}
}

func (r *paymentRepository) Create(ctx context.Context, payment domain.Payment) error {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	_, err := r.db.ExecContext(ctx, `
		INSERT INTO payments (
			id, order_id, amount_minor, currency, status, provider, method,
			provider_reference, failure_reason, version, created_at, updated_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)
	`,
		payment.ID, payment.OrderID, payment.AmountMinor, payment.Currency,
		string(payment.Status), payment.Provider, payment.Method, payment.ProviderReference,
		payment.FailureReason, payment.Version, payment.CreatedAt, payment.UpdatedAt,
	)
	if err != nil {
		// Уникальность по order_id гарантирует ровно одну платёжную запись на заказ.
		if isUniqueViolation(err) {
			return domain.ErrVersionConflict
		}
		return fmt.Errorf("insert payment: %w", err)
	}

	return nil
}

func (r *paymentRepository) GetByOrder(ctx context.Context, orderID string) (domain.Payment, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	var payment domain.Payment
	var status string

	err := r.db.QueryRowContext(ctx, `
		SELECT id, order_id, amount_minor, currency, status, provider, method,
		       provider_reference, failure_reason, version, created_at, updated_at
		FROM payments
		WHERE order_id = $1
	`, orderID).Scan(
		&payment.ID, &payment.OrderID, &payment.AmountMinor, &payment.Currency,
		&status, &payment.Provider, &payment.Method, &payment.ProviderReference,
		&payment.FailureReason, &payment.Version, &payment.CreatedAt, &payment.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Payment{}, domain.ErrPaymentNotFound
		}
		return domain.Payment{}, fmt.Errorf("select payment: %w", err)
	}
	payment.Status = domain.PaymentStatus(status)

	return payment, nil
}

func (r *paymentRepository) Save(ctx context.Context, payment domain.Payment) error {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	res, err := r.db.ExecContext(ctx, `
		UPDATE payments
		SET amount_minor = $1,
		    currency = $2,
		    status = $3,
		    provider = $4,
		    method = $5,
		    provider_reference = $6,
		    failure_reason = $7,
		    version = version + 1,
		    updated_at = $8
		WHERE id = $9
		  AND version = $10
	`,
		payment.AmountMinor, payment.Currency, string(payment.Status),
		payment.Provider, payment.Method, payment.ProviderReference, payment.FailureReason,
		payment.UpdatedAt, payment.ID, payment.Version,
	)
	if err != nil {
		return fmt.Errorf("update payment: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if affected == 0 {
		exists, err := r.paymentExists(ctx, payment.ID)
		if err != nil {
			return err
		}
		if !exists {
			return domain.ErrPaymentNotFound
		}
		return domain.ErrVersionConflict
	}

	return nil
}

func (r *paymentRepository) paymentExists(ctx context.Context, id string) (bool, error) {
	var found string
	err := r.db.QueryRowContext(ctx, `SELECT id FROM payments WHERE id = $1`, id).Scan(&found)
	if err == nil {
		return true, nil
	}
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	return false, fmt.Errorf("check payment exists: %w", err)
}

var _ domain.PaymentRepository = (*paymentRepository)(nil)
