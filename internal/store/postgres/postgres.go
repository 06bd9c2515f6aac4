package postgres

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/shopspring/decimal"

	"blankpos/backend/internal/domain"
	"blankpos/backend/internal/store"
)

type Store struct {
	db *sql.DB
}

func New(ctx context.Context, databaseURL string) (*Store, error) {
	db, err := sql.Open("pgx", databaseURL)
	if err != nil {
		return nil, err
	}

	db.SetMaxIdleConns(8)
	db.SetMaxOpenConns(30)
	db.SetConnMaxLifetime(30 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 6*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, err
	}

	return &Store{db: db}, nil
}

func NewWithDB(db *sql.DB) *Store {
	return &Store{db: db}
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *Store) InsertSale(ctx context.Context, sale store.NewSale) (store.SaleRow, error) {
	if _, err := uuid.Parse(sale.UserID); err != nil {
		return store.SaleRow{}, store.ErrInvalidRecord
	}
	if sale.Total.IsNegative() || strings.TrimSpace(sale.PaymentMethod) == "" {
		return store.SaleRow{}, store.ErrInvalidRecord
	}

	row := store.SaleRow{
		UserID:        sale.UserID,
		Total:         sale.Total,
		PaymentMethod: sale.PaymentMethod,
	}
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO sales (user_id, total, payment_method)
		VALUES ($1, $2, $3)
		RETURNING id, total, created_at
	`, sale.UserID, sale.Total, sale.PaymentMethod).Scan(&row.ID, &row.Total, &row.CreatedAt)
	if err != nil {
		return store.SaleRow{}, err
	}
	row.CreatedAt = row.CreatedAt.UTC()
	return row, nil
}

func (s *Store) ListSalesByUser(ctx context.Context, userID string) ([]store.SaleRow, error) {
	if _, err := uuid.Parse(userID); err != nil {
		return nil, store.ErrInvalidRecord
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, user_id, total, payment_method, created_at
		FROM sales
		WHERE user_id = $1
		ORDER BY created_at DESC
	`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	sales := make([]store.SaleRow, 0, 64)
	for rows.Next() {
		var row store.SaleRow
		if err := rows.Scan(&row.ID, &row.UserID, &row.Total, &row.PaymentMethod, &row.CreatedAt); err != nil {
			return nil, err
		}
		row.CreatedAt = row.CreatedAt.UTC()
		sales = append(sales, row)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return sales, nil
}

func (s *Store) GetSale(ctx context.Context, id string) (store.SaleRow, error) {
	if _, err := uuid.Parse(id); err != nil {
		return store.SaleRow{}, store.ErrNotFound
	}

	var row store.SaleRow
	err := s.db.QueryRowContext(ctx, `
		SELECT id, user_id, total, payment_method, created_at
		FROM sales
		WHERE id = $1
	`, id).Scan(&row.ID, &row.UserID, &row.Total, &row.PaymentMethod, &row.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return store.SaleRow{}, store.ErrNotFound
		}
		return store.SaleRow{}, err
	}
	row.CreatedAt = row.CreatedAt.UTC()
	return row, nil
}

func (s *Store) DeleteSalesByUser(ctx context.Context, userID string) (int64, error) {
	if _, err := uuid.Parse(userID); err != nil {
		return 0, store.ErrInvalidRecord
	}

	res, err := s.db.ExecContext(ctx, `DELETE FROM sales WHERE user_id = $1`, userID)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (s *Store) SalesTotalsByUser(ctx context.Context) ([]domain.UserSalesTotal, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT s.user_id, COALESCE(u.email, ''), SUM(s.total), COUNT(*)
		FROM sales s
		LEFT JOIN app_users u ON u.id = s.user_id
		GROUP BY s.user_id, u.email
		ORDER BY SUM(s.total) DESC, s.user_id ASC
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	totals := make([]domain.UserSalesTotal, 0, 16)
	for rows.Next() {
		var (
			entry domain.UserSalesTotal
			sum   decimal.Decimal
		)
		if err := rows.Scan(&entry.UserID, &entry.Email, &sum, &entry.Count); err != nil {
			return nil, err
		}
		entry.Total = sum
		totals = append(totals, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return totals, nil
}

func (s *Store) CreateUser(ctx context.Context, user domain.UserAccount) (domain.UserAccount, error) {
	user.Email = strings.ToLower(strings.TrimSpace(user.Email))
	if user.Email == "" || strings.TrimSpace(user.Password) == "" {
		return domain.UserAccount{}, store.ErrInvalidRecord
	}
	if user.Role == "" {
		user.Role = "user"
	}

	err := s.db.QueryRowContext(ctx, `
		INSERT INTO app_users (email, password, role, active)
		VALUES ($1, $2, $3, $4)
		RETURNING id, created_at
	`, user.Email, user.Password, user.Role, user.Active).Scan(&user.ID, &user.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return domain.UserAccount{}, store.ErrConflict
		}
		return domain.UserAccount{}, err
	}
	user.CreatedAt = user.CreatedAt.UTC()
	return user, nil
}

func (s *Store) GetUserByEmail(ctx context.Context, email string) (domain.UserAccount, error) {
	return s.getUser(ctx, `WHERE email = $1`, strings.ToLower(strings.TrimSpace(email)))
}

func (s *Store) GetUserByID(ctx context.Context, id string) (domain.UserAccount, error) {
	if _, err := uuid.Parse(id); err != nil {
		return domain.UserAccount{}, store.ErrNotFound
	}
	return s.getUser(ctx, `WHERE id = $1`, id)
}

func (s *Store) getUser(ctx context.Context, where string, arg string) (domain.UserAccount, error) {
	var user domain.UserAccount
	err := s.db.QueryRowContext(ctx, `
		SELECT id, email, password, role, active, created_at
		FROM app_users
		`+where, arg).Scan(&user.ID, &user.Email, &user.Password, &user.Role, &user.Active, &user.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.UserAccount{}, store.ErrNotFound
		}
		return domain.UserAccount{}, err
	}
	user.CreatedAt = user.CreatedAt.UTC()
	return user, nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	return false
}
