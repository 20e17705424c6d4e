package users

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"

	"github.com/kenneth/s3-console/internal/users/migrations"
)

// DBTX is the subset of database/sql used by the repository.
// Both *sql.DB and *sql.Tx satisfy it.
type DBTX interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

const userColumns = `id, email, password_hash, is_verified,
		verification_token, verification_token_expires,
		reset_token_hash, reset_token_expires,
		has_credentials, aws_access_key, aws_secret_key, aws_region, bucket_name,
		created_at, updated_at`

const uniqueViolation = "23505"

// PostgresRepository is a Repository backed by PostgreSQL.
type PostgresRepository struct {
	db DBTX
}

func NewPostgresRepository(db DBTX) *PostgresRepository {
	return &PostgresRepository{db: db}
}

// Open connects to PostgreSQL through the pgx stdlib driver.
func Open(ctx context.Context, dsn string) (*sql.DB, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("db open error: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("db ping error: %w", err)
	}
	return db, nil
}

// gooseUpContext is a seam for testing goose.UpContext.
var gooseUpContext = func(ctx context.Context, db *sql.DB, dir string, opts ...goose.OptionsFunc) error {
	return goose.UpContext(ctx, db, dir, opts...)
}

// RunMigrations applies the embedded schema migrations.
func RunMigrations(ctx context.Context, db *sql.DB) error {
	goose.SetBaseFS(migrations.Migrations)
	if err := goose.SetDialect("pgx"); err != nil {
		return fmt.Errorf("migration dialect: %w", err)
	}
	if err := gooseUpContext(ctx, db, "."); err != nil {
		return fmt.Errorf("migration error: %w", err)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanUser(row rowScanner) (*User, error) {
	var (
		u                       User
		verifyToken, resetHash  sql.NullString
		verifyExpires, resetExp sql.NullTime
		accessKey, secretKey    sql.NullString
		region, bucket          sql.NullString
	)
	err := row.Scan(&u.ID, &u.Email, &u.PasswordHash, &u.IsVerified,
		&verifyToken, &verifyExpires,
		&resetHash, &resetExp,
		&u.HasCredentials, &accessKey, &secretKey, &region, &bucket,
		&u.CreatedAt, &u.UpdatedAt)
	if err != nil {
		return nil, err
	}

	u.VerificationToken = verifyToken.String
	u.VerificationTokenExpires = verifyExpires.Time
	u.ResetTokenHash = resetHash.String
	u.ResetTokenExpires = resetExp.Time
	u.Credentials = Credentials{
		EncryptedAccessKey: accessKey.String,
		EncryptedSecretKey: secretKey.String,
		Region:             region.String,
		Bucket:             bucket.String,
	}
	return &u, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func nullTime(t time.Time) sql.NullTime {
	return sql.NullTime{Time: t, Valid: !t.IsZero()}
}

func mapErr(err error) error {
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
		return ErrDuplicateEmail
	}
	return fmt.Errorf("db error: %w", err)
}

func (r *PostgresRepository) queryOne(ctx context.Context, query string, args ...any) (*User, error) {
	u, err := scanUser(r.db.QueryRowContext(ctx, query, args...))
	if err != nil {
		return nil, mapErr(err)
	}
	return u, nil
}

func (r *PostgresRepository) execOne(ctx context.Context, query string, args ...any) error {
	res, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return mapErr(err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *PostgresRepository) Create(ctx context.Context, user *User) (*User, error) {
	if user.ID == "" {
		user.ID = uuid.NewString()
	}
	query := `INSERT INTO users (id, email, password_hash, verification_token, verification_token_expires)
		 VALUES ($1, $2, $3, $4, $5)
		 RETURNING ` + userColumns

	return r.queryOne(ctx, query,
		user.ID, strings.ToLower(user.Email), user.PasswordHash,
		nullString(user.VerificationToken), nullTime(user.VerificationTokenExpires))
}

func (r *PostgresRepository) GetByID(ctx context.Context, id string) (*User, error) {
	query := `SELECT ` + userColumns + ` FROM users
		 WHERE id = $1`
	return r.queryOne(ctx, query, id)
}

func (r *PostgresRepository) GetByEmail(ctx context.Context, email string) (*User, error) {
	query := `SELECT ` + userColumns + ` FROM users
		 WHERE email = $1`
	return r.queryOne(ctx, query, strings.ToLower(email))
}

func (r *PostgresRepository) SetVerificationToken(ctx context.Context, id, token string, expires time.Time) error {
	query := `UPDATE users SET verification_token = $2, verification_token_expires = $3, updated_at = now()
		 WHERE id = $1`
	if token == "" {
		expires = time.Time{}
	}
	return r.execOne(ctx, query, id, nullString(token), nullTime(expires))
}

func (r *PostgresRepository) MarkVerified(ctx context.Context, id, token string, now time.Time) (*User, error) {
	query := `UPDATE users SET is_verified = TRUE, verification_token = NULL, verification_token_expires = NULL, updated_at = now()
		 WHERE id = $1 AND verification_token = $2 AND verification_token_expires > $3
		 RETURNING ` + userColumns
	return r.queryOne(ctx, query, id, token, now)
}

func (r *PostgresRepository) SetResetToken(ctx context.Context, id, hash string, expires time.Time) error {
	query := `UPDATE users SET reset_token_hash = $2, reset_token_expires = $3, updated_at = now()
		 WHERE id = $1`
	if hash == "" {
		expires = time.Time{}
	}
	return r.execOne(ctx, query, id, nullString(hash), nullTime(expires))
}

func (r *PostgresRepository) ResetPassword(ctx context.Context, hash, passwordHash string, now time.Time) (*User, error) {
	query := `UPDATE users SET password_hash = $2, reset_token_hash = NULL, reset_token_expires = NULL, updated_at = now()
		 WHERE reset_token_hash = $1 AND reset_token_expires > $3
		 RETURNING ` + userColumns
	return r.queryOne(ctx, query, hash, passwordHash, now)
}

func (r *PostgresRepository) SetCredentials(ctx context.Context, id string, creds Credentials) (*User, error) {
	query := `UPDATE users SET aws_access_key = $2, aws_secret_key = $3, aws_region = $4, bucket_name = $5,
		 has_credentials = TRUE, updated_at = now()
		 WHERE id = $1
		 RETURNING ` + userColumns
	return r.queryOne(ctx, query, id,
		creds.EncryptedAccessKey, creds.EncryptedSecretKey, creds.Region, creds.Bucket)
}

func (r *PostgresRepository) ClearCredentials(ctx context.Context, id string) (*User, error) {
	query := `UPDATE users SET aws_access_key = NULL, aws_secret_key = NULL, aws_region = NULL, bucket_name = NULL,
		 has_credentials = FALSE, updated_at = now()
		 WHERE id = $1
		 RETURNING ` + userColumns
	return r.queryOne(ctx, query, id)
}

func (r *PostgresRepository) Delete(ctx context.Context, id string) (*User, error) {
	query := `DELETE FROM users
		 WHERE id = $1
		 RETURNING ` + userColumns
	return r.queryOne(ctx, query, id)
}
