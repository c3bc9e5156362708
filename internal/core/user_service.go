package core

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// UserService reads the user directory. Accounts are managed elsewhere.
type UserService interface {
	// GetByID returns the user; actors other than staff may only read themselves.
	GetByID(ctx context.Context, actor Actor, userID int) (*User, error)
	// ListDeliveryAgents returns active LIVREUR users, for assignment pickers.
	ListDeliveryAgents(ctx context.Context, actor Actor) ([]User, error)
}

type userService struct {
	pool *pgxpool.Pool
}

// NewUserService constructs a UserService backed by PostgreSQL.
func NewUserService(pool *pgxpool.Pool) UserService {
	return &userService{pool: pool}
}

const userColumns = `id, name, email, role, credit_limit, is_active, created_at`

func scanUser(row pgx.Row) (*User, error) {
	u := &User{}
	var role string
	if err := row.Scan(&u.ID, &u.Name, &u.Email, &role, &u.CreditLimit, &u.IsActive, &u.CreatedAt); err != nil {
		return nil, err
	}
	u.Role = Role(role)
	return u, nil
}

func (s *userService) GetByID(ctx context.Context, actor Actor, userID int) (*User, error) {
	if actor.ID != userID && actor.Role != RoleAdmin && actor.Role != RoleMagasinier {
		return nil, notFoundError("user", userID)
	}
	u, err := scanUser(s.pool.QueryRow(ctx, "SELECT "+userColumns+" FROM users WHERE id = $1", userID))
	if err != nil {
		return nil, storeError("fetch user", "user", userID, err)
	}
	return u, nil
}

func (s *userService) ListDeliveryAgents(ctx context.Context, actor Actor) ([]User, error) {
	if err := Authorize(actor, PermAssignAgent); err != nil {
		return nil, err
	}
	rows, err := s.pool.Query(ctx, `
		SELECT `+userColumns+`
		FROM users
		WHERE role = 'LIVREUR' AND is_active = true
		ORDER BY name, id
	`)
	if err != nil {
		return nil, storeError("query delivery agents", "users", "LIVREUR", err)
	}
	defer rows.Close()

	var agents []User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, storeError("scan delivery agent", "users", "LIVREUR", err)
		}
		agents = append(agents, *u)
	}
	if err := rows.Err(); err != nil {
		return nil, storeError("iterate delivery agents", "users", "LIVREUR", err)
	}
	return agents, nil
}
