package auth

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"freightmarket/db"
)

var (
	// ErrAccountNotFound signals that the account does not exist.
	ErrAccountNotFound = errors.New("auth: account not found")
	// ErrDuplicateEmail signals that the email is already registered.
	ErrDuplicateEmail = errors.New("auth: email already exists")
)

type Repository interface {
	CreateAccount(ctx context.Context, account Account) (Account, error)
	GetAccountByEmail(ctx context.Context, email string) (Account, error)
	GetAccountByID(ctx context.Context, id string) (Account, error)
}

// PGRepository implements Repository backed by PostgreSQL.
type PGRepository struct {
	pool db.Querier
}

func NewRepository(pool db.Querier) *PGRepository {
	return &PGRepository{pool: pool}
}

func (r *PGRepository) CreateAccount(ctx context.Context, account Account) (Account, error) {
	const insertSQL = `
		INSERT INTO accounts (id, email, display_name, password_hash, created_at)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id, email, display_name, password_hash, created_at
	`

	created, err := scanAccount(db.Conn(ctx, r.pool).QueryRow(ctx, insertSQL,
		account.ID, account.Email, account.DisplayName, account.PasswordHash, account.CreatedAt))
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return Account{}, ErrDuplicateEmail
		}
		return Account{}, fmt.Errorf("auth: create account: %w", err)
	}
	return created, nil
}

func (r *PGRepository) GetAccountByEmail(ctx context.Context, email string) (Account, error) {
	const selectSQL = `
		SELECT id, email, display_name, password_hash, created_at
		FROM accounts
		WHERE email = $1
	`

	account, err := scanAccount(db.Conn(ctx, r.pool).QueryRow(ctx, selectSQL, email))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Account{}, ErrAccountNotFound
		}
		return Account{}, fmt.Errorf("auth: get account by email: %w", err)
	}
	return account, nil
}

func (r *PGRepository) GetAccountByID(ctx context.Context, id string) (Account, error) {
	const selectSQL = `
		SELECT id, email, display_name, password_hash, created_at
		FROM accounts
		WHERE id = $1
	`

	account, err := scanAccount(db.Conn(ctx, r.pool).QueryRow(ctx, selectSQL, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Account{}, ErrAccountNotFound
		}
		return Account{}, fmt.Errorf("auth: get account by id: %w", err)
	}
	return account, nil
}

func scanAccount(row pgx.Row) (Account, error) {
	var account Account
	err := row.Scan(
		&account.ID,
		&account.Email,
		&account.DisplayName,
		&account.PasswordHash,
		&account.CreatedAt,
	)
	if err != nil {
		return Account{}, err
	}
	return account, nil
}

// MemoryRepository keeps accounts in process for the memory storage backend.
type MemoryRepository struct {
	mu      sync.RWMutex
	byEmail map[string]Account
	byID    map[string]Account
}

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		byEmail: make(map[string]Account),
		byID:    make(map[string]Account),
	}
}

func (m *MemoryRepository) CreateAccount(_ context.Context, account Account) (Account, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.byEmail[account.Email]; exists {
		return Account{}, ErrDuplicateEmail
	}
	m.byEmail[account.Email] = account
	m.byID[account.ID] = account
	return account, nil
}

func (m *MemoryRepository) GetAccountByEmail(_ context.Context, email string) (Account, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	account, ok := m.byEmail[email]
	if !ok {
		return Account{}, ErrAccountNotFound
	}
	return account, nil
}

func (m *MemoryRepository) GetAccountByID(_ context.Context, id string) (Account, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	account, ok := m.byID[id]
	if !ok {
		return Account{}, ErrAccountNotFound
	}
	return account, nil
}
