package remote

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"golang.org/x/crypto/bcrypt"

	"inspectra/internal/common"
)

// tableKeys maps each table reachable through the row contract to its key
// column. Tables outside this map are rejected before any SQL is built.
var tableKeys = map[string]string{
	common.TableSessionLocks: "account_id",
	common.TableRecords:      "id",
	common.TableChecklists:   "id",
}

// Postgres implements Store over a pgx connection pool. Sign-in verifies
// the operator credential against the accounts table with bcrypt and mints
// a short-lived HS256 bearer token carrying the account id and admin flag.
// The token is the session credential: every row operation re-verifies it,
// so an expired or cleared token surfaces as ErrorUnauthorized.
type Postgres struct {
	pool        *pgxpool.Pool
	tokenSecret []byte
	tokenTTL    time.Duration

	mu          sync.Mutex
	accessToken string
}

// tokenClaims are the session claims carried by the bearer token.
type tokenClaims struct {
	jwt.RegisteredClaims
	Admin bool `json:"admin"`
}

func NewPostgres(ctx context.Context, dsn string, tokenSecret []byte, tokenTTL time.Duration) (*Postgres, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("connect: %w", err)
	}
	return &Postgres{pool: pool, tokenSecret: tokenSecret, tokenTTL: tokenTTL}, nil
}

func (p *Postgres) Close() {
	p.pool.Close()
}

func (p *Postgres) SignIn(ctx context.Context, identity string, secret []byte) (*Auth, error) {
	var accountID, secretHash string
	var admin bool

	row := p.pool.QueryRow(ctx,
		`SELECT id, secret_hash, is_admin FROM accounts WHERE identity = $1`, identity)
	if err := row.Scan(&accountID, &secretHash, &admin); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, common.ErrInvalidCredential
		}
		return nil, fmt.Errorf("%w: %v", common.ErrNetworkFailure, err)
	}

	if err := bcrypt.CompareHashAndPassword([]byte(secretHash), secret); err != nil {
		return nil, common.ErrInvalidCredential
	}

	token, err := p.mintToken(accountID, admin)
	if err != nil {
		return nil, fmt.Errorf("mint token: %w", err)
	}

	// The session identity is whatever the verified token attests to, not
	// the raw row scan.
	claims, err := p.parseToken(token)
	if err != nil {
		return nil, fmt.Errorf("verify token: %w", err)
	}

	p.mu.Lock()
	p.accessToken = token
	p.mu.Unlock()

	return &Auth{AccountID: claims.Subject, AccessToken: token, Admin: claims.Admin}, nil
}

func (p *Postgres) mintToken(accountID string, admin bool) (string, error) {
	now := time.Now()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, tokenClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   accountID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(p.tokenTTL)),
		},
		Admin: admin,
	})
	return token.SignedString(p.tokenSecret)
}

func (p *Postgres) parseToken(tokenString string) (*tokenClaims, error) {
	claims := &tokenClaims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (interface{}, error) {
		return p.tokenSecret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		return nil, err
	}
	if !token.Valid || claims.Subject == "" {
		return nil, common.ErrorUnauthorized
	}
	return claims, nil
}

// authorize gates row operations on a live, verifiable access token.
func (p *Postgres) authorize() error {
	p.mu.Lock()
	token := p.accessToken
	p.mu.Unlock()

	if token == "" {
		return common.ErrorUnauthorized
	}
	if _, err := p.parseToken(token); err != nil {
		return fmt.Errorf("%w: %v", common.ErrorUnauthorized, err)
	}
	return nil
}

func (p *Postgres) SignOut(ctx context.Context) error {
	p.mu.Lock()
	p.accessToken = ""
	p.mu.Unlock()
	return nil
}

func keyColumn(table string) (string, error) {
	col, ok := tableKeys[table]
	if !ok {
		return "", fmt.Errorf("unknown table %q", table)
	}
	return col, nil
}

// sortedColumns returns field names in a stable order so generated SQL is
// deterministic.
func sortedColumns(fields map[string]any) []string {
	cols := make([]string, 0, len(fields))
	for c := range fields {
		cols = append(cols, c)
	}
	sort.Strings(cols)
	return cols
}

func (p *Postgres) UpsertRow(ctx context.Context, table string, key string, fields map[string]any) error {
	if err := p.authorize(); err != nil {
		return err
	}
	keyCol, err := keyColumn(table)
	if err != nil {
		return err
	}

	cols := sortedColumns(fields)
	names := []string{pgx.Identifier{keyCol}.Sanitize()}
	placeholders := []string{"$1"}
	updates := make([]string, 0, len(cols))
	args := []any{key}

	for i, c := range cols {
		ident := pgx.Identifier{c}.Sanitize()
		names = append(names, ident)
		placeholders = append(placeholders, fmt.Sprintf("$%d", i+2))
		updates = append(updates, fmt.Sprintf("%s = EXCLUDED.%s", ident, ident))
		args = append(args, fields[c])
	}

	query := fmt.Sprintf(`INSERT INTO %s (%s) VALUES (%s) ON CONFLICT (%s) DO UPDATE SET %s`,
		pgx.Identifier{table}.Sanitize(),
		strings.Join(names, ", "),
		strings.Join(placeholders, ", "),
		pgx.Identifier{keyCol}.Sanitize(),
		strings.Join(updates, ", "))

	if _, err := p.pool.Exec(ctx, query, args...); err != nil {
		return fmt.Errorf("%w: upsert %s: %v", common.ErrNetworkFailure, table, err)
	}
	return nil
}

func (p *Postgres) SelectRow(ctx context.Context, table string, key string) (map[string]any, error) {
	if err := p.authorize(); err != nil {
		return nil, err
	}
	keyCol, err := keyColumn(table)
	if err != nil {
		return nil, err
	}

	query := fmt.Sprintf(`SELECT * FROM %s WHERE %s = $1`,
		pgx.Identifier{table}.Sanitize(), pgx.Identifier{keyCol}.Sanitize())

	rows, err := p.pool.Query(ctx, query, key)
	if err != nil {
		return nil, fmt.Errorf("%w: select %s: %v", common.ErrNetworkFailure, table, err)
	}
	defer rows.Close()

	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return nil, fmt.Errorf("%w: select %s: %v", common.ErrNetworkFailure, table, err)
		}
		return nil, nil
	}

	values, err := rows.Values()
	if err != nil {
		return nil, fmt.Errorf("select %s: %w", table, err)
	}

	result := make(map[string]any, len(values))
	for i, fd := range rows.FieldDescriptions() {
		result[fd.Name] = values[i]
	}
	return result, nil
}

func (p *Postgres) InsertRow(ctx context.Context, table string, fields map[string]any) error {
	if err := p.authorize(); err != nil {
		return err
	}
	if _, err := keyColumn(table); err != nil {
		return err
	}

	cols := sortedColumns(fields)
	names := make([]string, 0, len(cols))
	placeholders := make([]string, 0, len(cols))
	args := make([]any, 0, len(cols))

	for i, c := range cols {
		names = append(names, pgx.Identifier{c}.Sanitize())
		placeholders = append(placeholders, fmt.Sprintf("$%d", i+1))
		args = append(args, fields[c])
	}

	query := fmt.Sprintf(`INSERT INTO %s (%s) VALUES (%s)`,
		pgx.Identifier{table}.Sanitize(), strings.Join(names, ", "), strings.Join(placeholders, ", "))

	if _, err := p.pool.Exec(ctx, query, args...); err != nil {
		return fmt.Errorf("%w: insert %s: %v", common.ErrNetworkFailure, table, err)
	}
	return nil
}

func (p *Postgres) UpdateRow(ctx context.Context, table string, key string, fields map[string]any) error {
	if err := p.authorize(); err != nil {
		return err
	}
	keyCol, err := keyColumn(table)
	if err != nil {
		return err
	}

	cols := sortedColumns(fields)
	sets := make([]string, 0, len(cols))
	args := make([]any, 0, len(cols)+1)

	for i, c := range cols {
		sets = append(sets, fmt.Sprintf("%s = $%d", pgx.Identifier{c}.Sanitize(), i+1))
		args = append(args, fields[c])
	}
	args = append(args, key)

	query := fmt.Sprintf(`UPDATE %s SET %s WHERE %s = $%d`,
		pgx.Identifier{table}.Sanitize(), strings.Join(sets, ", "),
		pgx.Identifier{keyCol}.Sanitize(), len(cols)+1)

	tag, err := p.pool.Exec(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("%w: update %s: %v", common.ErrNetworkFailure, table, err)
	}
	if tag.RowsAffected() == 0 {
		return common.ErrorNotFound
	}
	return nil
}
