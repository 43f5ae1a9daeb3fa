package repo

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"

	"therapyhub.io/shared/pg/model"
)

const pgErrUniqueViolation = "23505"

var (
	_ model.AccountStore = (*PostgresDB)(nil)
	_ model.RoleStore    = (*PostgresDB)(nil)
	_ model.SessionStore = (*PostgresDB)(nil)
)

// accountTable describes how one account type maps onto its table.
type accountTable struct {
	name    string
	columns string
}

var accountTables = map[model.AccountType]accountTable{
	model.AccountAdmin: {
		name:    "admins",
		columns: `id, email, password_hash, COALESCE(role, ''), '' AS status, is_active, NULL::timestamptz AS deleted_at`,
	},
	model.AccountTherapist: {
		name:    "therapists",
		columns: `id, email, password_hash, '' AS role, status, true AS is_active, deleted_at`,
	},
	model.AccountPatient: {
		name:    "users",
		columns: `id, email, password_hash, '' AS role, status, true AS is_active, deleted_at`,
	},
}

type PostgresDB struct {
	db  *sql.DB
	now func() time.Time
}

func NewPostgresDB(db *sql.DB) *PostgresDB {
	return &PostgresDB{db: db, now: time.Now}
}

// Open connects through the pgx stdlib driver and verifies the connection.
func Open(ctx context.Context, dsn string) (*sql.DB, error) {
	if dsn == "" {
		return nil, errors.New("database dsn is required")
	}
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	db.SetMaxOpenConns(20)
	db.SetMaxIdleConns(10)
	db.SetConnMaxLifetime(30 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping db: %w", err)
	}
	return db, nil
}

func (p *PostgresDB) Ping(ctx context.Context) error {
	return p.db.PingContext(ctx)
}

func (p *PostgresDB) FindAccount(ctx context.Context, accountType model.AccountType, id string) (*model.Account, error) {
	table, ok := accountTables[accountType]
	if !ok {
		return nil, fmt.Errorf("unknown account type %q", accountType)
	}
	query := `SELECT ` + table.columns + ` FROM ` + table.name + ` WHERE id = $1`
	return p.scanAccount(p.db.QueryRowContext(ctx, query, id), accountType)
}

func (p *PostgresDB) FindAccountByEmail(ctx context.Context, accountType model.AccountType, email string) (*model.Account, error) {
	table, ok := accountTables[accountType]
	if !ok {
		return nil, fmt.Errorf("unknown account type %q", accountType)
	}
	query := `SELECT ` + table.columns + ` FROM ` + table.name + ` WHERE lower(email) = lower($1)`
	return p.scanAccount(p.db.QueryRowContext(ctx, query, email), accountType)
}

func (p *PostgresDB) scanAccount(row *sql.Row, accountType model.AccountType) (*model.Account, error) {
	acc := &model.Account{Type: accountType}
	var deletedAt sql.NullTime
	err := row.Scan(&acc.ID, &acc.Email, &acc.PasswordHash, &acc.Role, &acc.Status, &acc.IsActive, &deletedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, model.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan %s account: %w", accountType, err)
	}
	if deletedAt.Valid {
		t := deletedAt.Time
		acc.DeletedAt = &t
	}
	return acc, nil
}

func (p *PostgresDB) UpdatePasswordHash(ctx context.Context, accountType model.AccountType, id, passwordHash string) error {
	table, ok := accountTables[accountType]
	if !ok {
		return fmt.Errorf("unknown account type %q", accountType)
	}
	res, err := p.db.ExecContext(ctx,
		`UPDATE `+table.name+` SET password_hash = $2, updated_at = $3 WHERE id = $1`,
		id, passwordHash, p.now())
	if err != nil {
		return fmt.Errorf("update password hash: %w", err)
	}
	return expectAffected(res)
}

func (p *PostgresDB) FindRoleByName(ctx context.Context, name string) (*model.Role, error) {
	role := &model.Role{}
	err := p.db.QueryRowContext(ctx,
		`SELECT id, name, COALESCE(description, ''), is_active FROM roles WHERE name = $1`, name,
	).Scan(&role.ID, &role.Name, &role.Description, &role.IsActive)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, model.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("find role %q: %w", name, err)
	}
	return role, nil
}

func (p *PostgresDB) PermissionsForRole(ctx context.Context, roleID string) ([]model.Permission, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT p.id, p.name, COALESCE(p.description, '')
		FROM permissions p
		JOIN role_permissions rp ON rp.permission_id = p.id
		WHERE rp.role_id = $1
		ORDER BY p.name`, roleID)
	if err != nil {
		return nil, fmt.Errorf("permissions for role %s: %w", roleID, err)
	}
	defer rows.Close()

	var perms []model.Permission
	for rows.Next() {
		var perm model.Permission
		if err := rows.Scan(&perm.ID, &perm.Name, &perm.Description); err != nil {
			return nil, err
		}
		perms = append(perms, perm)
	}
	return perms, rows.Err()
}

// SetRolePermissions fails with ErrNotFound, and changes nothing, when a name
// does not exist in the permissions table.
func (p *PostgresDB) SetRolePermissions(ctx context.Context, roleID string, permissionNames []string) error {
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `DELETE FROM role_permissions WHERE role_id = $1`, roleID); err != nil {
		return fmt.Errorf("clear role permissions: %w", err)
	}
	for _, name := range permissionNames {
		res, err := tx.ExecContext(ctx, `
			INSERT INTO role_permissions (role_id, permission_id)
			SELECT $1, id FROM permissions WHERE name = $2`, roleID, name)
		if err != nil {
			return fmt.Errorf("assign permission %q: %w", name, err)
		}
		if err := expectAffected(res); err != nil {
			return fmt.Errorf("permission %q: %w", name, err)
		}
	}
	return tx.Commit()
}

func (p *PostgresDB) StoreToken(ctx context.Context, tok *model.IssuedToken) error {
	return insertToken(ctx, p.db, tok)
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func insertToken(ctx context.Context, db execer, tok *model.IssuedToken) error {
	_, err := db.ExecContext(ctx, `
		INSERT INTO refresh_tokens (token, principal_type, principal_id, expires_at, created_at)
		VALUES ($1, $2, $3, $4, $5)`,
		tok.Token, string(tok.PrincipalType), tok.PrincipalID, tok.ExpiresAt, tok.CreatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgErrUniqueViolation {
			return model.ErrConflict
		}
		return fmt.Errorf("insert refresh token: %w", err)
	}
	return nil
}

func (p *PostgresDB) FindToken(ctx context.Context, token string) (*model.IssuedToken, error) {
	tok := &model.IssuedToken{}
	var (
		principalType string
		revokedAt     sql.NullTime
	)
	err := p.db.QueryRowContext(ctx, `
		SELECT token, principal_type, principal_id, expires_at, revoked_at, created_at
		FROM refresh_tokens WHERE token = $1`, token,
	).Scan(&tok.Token, &principalType, &tok.PrincipalID, &tok.ExpiresAt, &revokedAt, &tok.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, model.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("find refresh token: %w", err)
	}
	tok.PrincipalType = model.AccountType(principalType)
	if revokedAt.Valid {
		t := revokedAt.Time
		tok.RevokedAt = &t
	}
	return tok, nil
}

func (p *PostgresDB) RevokeToken(ctx context.Context, token string, at time.Time) error {
	_, err := p.db.ExecContext(ctx,
		`UPDATE refresh_tokens SET revoked_at = $2 WHERE token = $1 AND revoked_at IS NULL`, token, at)
	if err != nil {
		return fmt.Errorf("revoke refresh token: %w", err)
	}
	return nil
}

func (p *PostgresDB) RevokeAllTokens(ctx context.Context, principalType model.AccountType, principalID string, at time.Time) (int64, error) {
	res, err := p.db.ExecContext(ctx, `
		UPDATE refresh_tokens SET revoked_at = $3
		WHERE principal_type = $1 AND principal_id = $2 AND revoked_at IS NULL`,
		string(principalType), principalID, at)
	if err != nil {
		return 0, fmt.Errorf("revoke refresh tokens: %w", err)
	}
	return res.RowsAffected()
}

func (p *PostgresDB) RotateToken(ctx context.Context, oldToken string, next *model.IssuedToken, at time.Time) error {
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	res, err := tx.ExecContext(ctx, `
		UPDATE refresh_tokens SET revoked_at = $2
		WHERE token = $1 AND revoked_at IS NULL AND expires_at > $2`, oldToken, at)
	if err != nil {
		return fmt.Errorf("revoke rotated token: %w", err)
	}
	if n, err := res.RowsAffected(); err != nil {
		return err
	} else if n == 0 {
		return model.ErrTokenUnusable
	}
	if err := insertToken(ctx, tx, next); err != nil {
		return err
	}
	return tx.Commit()
}

func expectAffected(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return model.ErrNotFound
	}
	return nil
}
