package memory

import (
	"context"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"blankpos/backend/internal/domain"
	"blankpos/backend/internal/store"
)

// Store is an in-process stand-in for the remote database. Ids and
// timestamps are assigned on insert the way the database does it.
type Store struct {
	mu        sync.RWMutex
	now       func() time.Time
	sales     []store.SaleRow
	usersByID map[string]domain.UserAccount
	idByEmail map[string]string
}

func New() *Store {
	return &Store{
		now:       time.Now,
		usersByID: make(map[string]domain.UserAccount),
		idByEmail: make(map[string]string),
	}
}

// NewSeeded creates a store with one admin account when a password is given.
func NewSeeded(adminEmail string, adminPassword string, logger *zap.Logger) *Store {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := New()
	if strings.TrimSpace(adminPassword) == "" {
		logger.Warn("no seed admin password configured; admin endpoints unavailable in memory mode")
		return s
	}
	if strings.TrimSpace(adminEmail) == "" {
		adminEmail = "admin@blankpos.local"
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(adminPassword), bcrypt.DefaultCost)
	if err != nil {
		logger.Error("failed to hash seed admin password", zap.Error(err))
		return s
	}
	if _, err := s.CreateUser(context.Background(), domain.UserAccount{
		Email:    adminEmail,
		Password: string(hash),
		Role:     "admin",
		Active:   true,
	}); err != nil {
		logger.Error("failed to seed admin", zap.Error(err))
	}
	return s
}

func (s *Store) SetClock(now func() time.Time) {
	s.mu.Lock()
	s.now = now
	s.mu.Unlock()
}

func (s *Store) Close() error {
	return nil
}

func (s *Store) InsertSale(_ context.Context, sale store.NewSale) (store.SaleRow, error) {
	if strings.TrimSpace(sale.UserID) == "" || sale.UserID == domain.GuestUserID {
		return store.SaleRow{}, store.ErrInvalidRecord
	}
	if sale.Total.IsNegative() || strings.TrimSpace(sale.PaymentMethod) == "" {
		return store.SaleRow{}, store.ErrInvalidRecord
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	row := store.SaleRow{
		ID:            uuid.NewString(),
		UserID:        sale.UserID,
		Total:         sale.Total.Round(2),
		PaymentMethod: sale.PaymentMethod,
		CreatedAt:     s.now().UTC(),
	}
	s.sales = append(s.sales, row)
	return row, nil
}

func (s *Store) ListSalesByUser(_ context.Context, userID string) ([]store.SaleRow, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]store.SaleRow, 0, 16)
	for _, row := range s.sales {
		if row.UserID == userID {
			result = append(result, row)
		}
	}
	slices.SortStableFunc(result, func(a, b store.SaleRow) int {
		return b.CreatedAt.Compare(a.CreatedAt)
	})
	return result, nil
}

func (s *Store) GetSale(_ context.Context, id string) (store.SaleRow, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, row := range s.sales {
		if row.ID == id {
			return row, nil
		}
	}
	return store.SaleRow{}, store.ErrNotFound
}

func (s *Store) DeleteSalesByUser(_ context.Context, userID string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	before := len(s.sales)
	s.sales = slices.DeleteFunc(s.sales, func(row store.SaleRow) bool {
		return row.UserID == userID
	})
	return int64(before - len(s.sales)), nil
}

func (s *Store) SalesTotalsByUser(_ context.Context) ([]domain.UserSalesTotal, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	byUser := make(map[string]*domain.UserSalesTotal)
	order := make([]string, 0, 8)
	for _, row := range s.sales {
		entry, ok := byUser[row.UserID]
		if !ok {
			entry = &domain.UserSalesTotal{UserID: row.UserID, Total: decimal.Zero}
			if user, found := s.usersByID[row.UserID]; found {
				entry.Email = user.Email
			}
			byUser[row.UserID] = entry
			order = append(order, row.UserID)
		}
		entry.Total = entry.Total.Add(row.Total)
		entry.Count++
	}

	result := make([]domain.UserSalesTotal, 0, len(order))
	for _, userID := range order {
		result = append(result, *byUser[userID])
	}
	slices.SortStableFunc(result, func(a, b domain.UserSalesTotal) int {
		if c := b.Total.Cmp(a.Total); c != 0 {
			return c
		}
		return strings.Compare(a.UserID, b.UserID)
	})
	return result, nil
}

func (s *Store) CreateUser(_ context.Context, user domain.UserAccount) (domain.UserAccount, error) {
	user.Email = strings.ToLower(strings.TrimSpace(user.Email))
	if user.Email == "" || strings.TrimSpace(user.Password) == "" {
		return domain.UserAccount{}, store.ErrInvalidRecord
	}
	if user.Role == "" {
		user.Role = "user"
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.idByEmail[user.Email]; exists {
		return domain.UserAccount{}, store.ErrConflict
	}
	user.ID = uuid.NewString()
	user.CreatedAt = s.now().UTC()
	s.usersByID[user.ID] = user
	s.idByEmail[user.Email] = user.ID
	return user, nil
}

func (s *Store) GetUserByEmail(_ context.Context, email string) (domain.UserAccount, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.idByEmail[strings.ToLower(strings.TrimSpace(email))]
	if !ok {
		return domain.UserAccount{}, store.ErrNotFound
	}
	return s.usersByID[id], nil
}

func (s *Store) GetUserByID(_ context.Context, id string) (domain.UserAccount, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	user, ok := s.usersByID[id]
	if !ok {
		return domain.UserAccount{}, store.ErrNotFound
	}
	return user, nil
}
