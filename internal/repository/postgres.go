// Package repository содержит реализацию доступа к данным в PostgreSQL.
package repository

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/mmeshcher/bchgate-system/internal/model"
	"github.com/pressly/goose/v3"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// ErrUserExists возвращается при попытке создать пользователя с уже существующим email.
var (
	ErrUserExists = errors.New("user already exists")
	// ErrUserNotFound возвращается, если пользователь не найден.
	ErrUserNotFound = errors.New("user not found")
	// ErrInsufficientCredit возвращается при попытке списания суммы, превышающей кредит.
	ErrInsufficientCredit = errors.New("insufficient credit")
)

// PostgresRepository предоставляет доступ к хранилищу данных в PostgreSQL.
type PostgresRepository struct {
	pool *pgxpool.Pool
}

// NewPostgresRepository создаёт новый репозиторий и инициализирует схему БД через миграции.
func NewPostgresRepository(dsn string) (*PostgresRepository, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse pool config: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	r := &PostgresRepository{pool: pool}

	if err := r.runMigrations(ctx); err != nil {
		pool.Close()
		return nil, err
	}

	return r, nil
}

func (r *PostgresRepository) runMigrations(ctx context.Context) error {
	db := stdlib.OpenDBFromPool(r.pool)
	defer db.Close()

	goose.SetBaseFS(migrationsFS)

	if err := goose.SetDialect("postgres"); err != nil {
		return fmt.Errorf("set dialect: %w", err)
	}

	if err := goose.UpContext(ctx, db, "migrations"); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}

	return nil
}

func (r *PostgresRepository) withRetry(ctx context.Context, fn func() error) error {
	var err error
	delays := []time.Duration{1 * time.Second, 3 * time.Second, 5 * time.Second}

	for i := 0; i <= len(delays); i++ {
		err = fn()
		if err == nil {
			return nil
		}

		// Если ошибка контекста — выходим сразу
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return err
		}

		// Ретраи полезны для Serialization Failure или Deadlocks.
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) {
			if pgErr.Code == pgerrcode.SerializationFailure || pgErr.Code == pgerrcode.DeadlockDetected {
				if i < len(delays) {
					time.Sleep(delays[i])
					continue
				}
			}
		}

		// Если это не pg-ошибка, но сетевая
		if isConnectionError(err) {
			if i < len(delays) {
				time.Sleep(delays[i])
				continue
			}
		}

		break
	}
	return err
}

func isConnectionError(err error) bool {
	// Упрощенная проверка на ошибки соединения
	return strings.Contains(err.Error(), "connection refused") ||
		strings.Contains(err.Error(), "broken pipe") ||
		strings.Contains(err.Error(), "connection reset by peer")
}

// Close закрывает пул соединений с БД.
func (r *PostgresRepository) Close() error {
	r.pool.Close()
	return nil
}

const userColumns = `id, email, name, password_hash, hd_index, bch_addr,
	 credit_cents, last_balance_sat, api_token, api_level, api_token_exp, created_at`

func scanUser(row pgx.Row) (*model.User, error) {
	var u model.User
	err := row.Scan(&u.ID, &u.Email, &u.Name, &u.PasswordHash, &u.HDIndex, &u.BCHAddr,
		&u.CreditCents, &u.LastBalanceSat, &u.APIToken, &u.APILevel, &u.APITokenExp, &u.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrUserNotFound
		}
		return nil, fmt.Errorf("scan user: %w", err)
	}
	return &u, nil
}

// CreateUser создаёт нового пользователя. Индекс деривации выделяется из
// последовательности внутри транзакции, после чего depositAddr вычисляет
// депозитный адрес для этого индекса.
func (r *PostgresRepository) CreateUser(ctx context.Context, email, name string, passwordHash []byte, depositAddr func(hdIndex int64) (string, error)) (*model.User, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	var id, hdIndex int64
	err = tx.QueryRow(ctx,
		`INSERT INTO users (email, name, password_hash, hd_index)
		 VALUES ($1, $2, $3, nextval('hd_index_seq'))
		 RETURNING id, hd_index`,
		email, name, passwordHash,
	).Scan(&id, &hdIndex)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgerrcode.UniqueViolation {
			return nil, fmt.Errorf("%w: %s", ErrUserExists, email)
		}
		return nil, fmt.Errorf("create user: %w", err)
	}

	addr, err := depositAddr(hdIndex)
	if err != nil {
		return nil, fmt.Errorf("derive deposit address: %w", err)
	}

	row := tx.QueryRow(ctx,
		`UPDATE users SET bch_addr = $2 WHERE id = $1 RETURNING `+userColumns,
		id, addr,
	)
	u, err := scanUser(row)
	if err != nil {
		return nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit tx: %w", err)
	}

	return u, nil
}

// GetUserByEmail возвращает пользователя по email.
func (r *PostgresRepository) GetUserByEmail(ctx context.Context, email string) (*model.User, error) {
	row := r.pool.QueryRow(ctx,
		`SELECT `+userColumns+` FROM users WHERE email = $1`,
		email,
	)
	return scanUser(row)
}

// GetUserByID возвращает пользователя по идентификатору.
func (r *PostgresRepository) GetUserByID(ctx context.Context, id int64) (*model.User, error) {
	row := r.pool.QueryRow(ctx,
		`SELECT `+userColumns+` FROM users WHERE id = $1`,
		id,
	)
	return scanUser(row)
}

// UpdateProfile обновляет имя и, если передан непустой хеш, пароль пользователя.
func (r *PostgresRepository) UpdateProfile(ctx context.Context, id int64, name string, passwordHash []byte) error {
	var tag pgconn.CommandTag
	var err error
	if len(passwordHash) > 0 {
		tag, err = r.pool.Exec(ctx,
			`UPDATE users SET name = $2, password_hash = $3 WHERE id = $1`,
			id, name, passwordHash,
		)
	} else {
		tag, err = r.pool.Exec(ctx,
			`UPDATE users SET name = $2 WHERE id = $1`,
			id, name,
		)
	}
	if err != nil {
		return fmt.Errorf("update profile: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrUserNotFound
	}
	return nil
}

// DeleteUser удаляет пользователя. Вместе со строкой исчезает и сохранённый
// API-токен, поэтому валидация выданных ранее токенов начинает отказывать.
func (r *PostgresRepository) DeleteUser(ctx context.Context, id int64) error {
	tag, err := r.pool.Exec(ctx, `DELETE FROM users WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete user: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrUserNotFound
	}
	return nil
}

// DepositResult описывает исход применения наблюдаемого on-chain баланса.
type DepositResult struct {
	// CreditCents — кредит пользователя после применения.
	CreditCents int64
	// AddedCents — начисленная за новый депозит сумма, 0 если депозита не было.
	AddedCents int64
	// DeltaSat — разница наблюдаемого баланса и последнего учтённого.
	// Отрицательное значение означает рассогласование данных индексатора.
	DeltaSat int64
}

// ApplyDeposit сверяет наблюдаемый on-chain баланс с последним учтённым и
// конвертирует положительную разницу в кредит по курсу usdPerBCH. Кредит и
// учтённый баланс обновляются одной транзакцией под блокировкой строки
// пользователя: повторное применение того же наблюдения не даёт повторного
// начисления.
func (r *PostgresRepository) ApplyDeposit(ctx context.Context, userID int64, observedSat int64, usdPerBCH float64) (*DepositResult, error) {
	var res *DepositResult
	err := r.withRetry(ctx, func() error {
		tx, err := r.pool.Begin(ctx)
		if err != nil {
			return fmt.Errorf("begin tx: %w", err)
		}
		defer tx.Rollback(ctx)

		var creditCents, lastSat int64
		err = tx.QueryRow(ctx,
			`SELECT credit_cents, last_balance_sat FROM users WHERE id = $1 FOR UPDATE`,
			userID,
		).Scan(&creditCents, &lastSat)
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return ErrUserNotFound
			}
			return fmt.Errorf("lock user for update: %w", err)
		}

		delta := observedSat - lastSat
		if delta <= 0 {
			res = &DepositResult{CreditCents: creditCents, DeltaSat: delta}
			return tx.Commit(ctx)
		}

		addedCents := satToCents(delta, usdPerBCH)
		newCredit := creditCents + addedCents

		_, err = tx.Exec(ctx,
			`UPDATE users SET credit_cents = $2, last_balance_sat = $3 WHERE id = $1`,
			userID, newCredit, observedSat,
		)
		if err != nil {
			return fmt.Errorf("apply deposit: %w", err)
		}

		_, err = tx.Exec(ctx,
			`INSERT INTO operations (user_id, op_type, amount_cents, balance_after_cents)
			 VALUES ($1, $2, $3, $4)`,
			userID, string(model.OperationDeposit), addedCents, newCredit,
		)
		if err != nil {
			return fmt.Errorf("insert operation: %w", err)
		}

		if err := tx.Commit(ctx); err != nil {
			return fmt.Errorf("commit tx: %w", err)
		}

		res = &DepositResult{CreditCents: newCredit, AddedCents: addedCents, DeltaSat: delta}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return res, nil
}

// satToCents конвертирует сатоши в центы по курсу usdPerBCH c округлением вниз.
func satToCents(sat int64, usdPerBCH float64) int64 {
	return int64(float64(sat) / 1e8 * usdPerBCH * 100)
}

// CreditUser увеличивает кредит пользователя на amountCents. Используется для
// возвратов при досрочной замене токена; amountCents должен быть неотрицательным.
func (r *PostgresRepository) CreditUser(ctx context.Context, userID int64, amountCents int64, opType model.OperationType) (int64, error) {
	if amountCents < 0 {
		return 0, fmt.Errorf("credit amount must be non-negative, got %d", amountCents)
	}

	var newCredit int64
	err := r.withRetry(ctx, func() error {
		tx, err := r.pool.Begin(ctx)
		if err != nil {
			return fmt.Errorf("begin tx: %w", err)
		}
		defer tx.Rollback(ctx)

		err = tx.QueryRow(ctx,
			`UPDATE users SET credit_cents = credit_cents + $2 WHERE id = $1 RETURNING credit_cents`,
			userID, amountCents,
		).Scan(&newCredit)
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return ErrUserNotFound
			}
			return fmt.Errorf("credit user: %w", err)
		}

		if amountCents > 0 {
			_, err = tx.Exec(ctx,
				`INSERT INTO operations (user_id, op_type, amount_cents, balance_after_cents)
				 VALUES ($1, $2, $3, $4)`,
				userID, string(opType), amountCents, newCredit,
			)
			if err != nil {
				return fmt.Errorf("insert operation: %w", err)
			}
		}

		return tx.Commit(ctx)
	})
	if err != nil {
		return 0, err
	}
	return newCredit, nil
}

// PurchaseToken списывает стоимость тарифа и сохраняет новый API-токен одной
// транзакцией. Старый токен при этом перезаписывается и перестаёт быть
// действительным. Возвращает ErrInsufficientCredit без каких-либо изменений,
// если кредита не хватает.
func (r *PostgresRepository) PurchaseToken(ctx context.Context, userID int64, priceCents int64, token string, level int, exp time.Time) (int64, error) {
	var newCredit int64
	err := r.withRetry(ctx, func() error {
		tx, err := r.pool.Begin(ctx)
		if err != nil {
			return fmt.Errorf("begin tx: %w", err)
		}
		defer tx.Rollback(ctx)

		var creditCents int64
		err = tx.QueryRow(ctx,
			`SELECT credit_cents FROM users WHERE id = $1 FOR UPDATE`,
			userID,
		).Scan(&creditCents)
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return ErrUserNotFound
			}
			return fmt.Errorf("lock user for update: %w", err)
		}

		if priceCents > creditCents {
			return ErrInsufficientCredit
		}

		newCredit = creditCents - priceCents

		_, err = tx.Exec(ctx,
			`UPDATE users SET credit_cents = $2, api_token = $3, api_level = $4, api_token_exp = $5
			 WHERE id = $1`,
			userID, newCredit, token, level, exp,
		)
		if err != nil {
			return fmt.Errorf("save token: %w", err)
		}

		if priceCents > 0 {
			_, err = tx.Exec(ctx,
				`INSERT INTO operations (user_id, op_type, amount_cents, balance_after_cents)
				 VALUES ($1, $2, $3, $4)`,
				userID, string(model.OperationPurchase), -priceCents, newCredit,
			)
			if err != nil {
				return fmt.Errorf("insert operation: %w", err)
			}
		}

		return tx.Commit(ctx)
	})
	if err != nil {
		return 0, err
	}
	return newCredit, nil
}

// GetOperationsByUser возвращает историю изменений кредитного баланса пользователя.
func (r *PostgresRepository) GetOperationsByUser(ctx context.Context, userID int64) ([]model.Operation, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT op_type, amount_cents, balance_after_cents, processed_at
		 FROM operations
		 WHERE user_id = $1
		 ORDER BY processed_at DESC`,
		userID,
	)
	if err != nil {
		return nil, fmt.Errorf("select operations: %w", err)
	}
	defer rows.Close()

	var res []model.Operation
	for rows.Next() {
		var (
			opType       string
			amountCents  int64
			balanceCents int64
			processedAt  time.Time
		)
		if err := rows.Scan(&opType, &amountCents, &balanceCents, &processedAt); err != nil {
			return nil, fmt.Errorf("scan operation: %w", err)
		}

		res = append(res, model.Operation{
			Type:         model.OperationType(opType),
			Amount:       float64(amountCents) / 100,
			BalanceAfter: float64(balanceCents) / 100,
			ProcessedAt:  processedAt,
		})
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return res, nil
}
