// Package repository содержит реализации хранилища записей в PostgreSQL и SQLite.
package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"

	"github.com/mmeshcher/animal-sales-tracker/internal/model"
)

// ChangeChannel — канал LISTEN/NOTIFY, в который триггеры пишут имя изменённой таблицы.
const ChangeChannel = "record_changes"

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

	return runMigrations(ctx, db, goose.DialectPostgres, "migrations/postgres")
}

func (r *PostgresRepository) withRetry(ctx context.Context, fn func() error) error {
	var err error
	delays := []time.Duration{1 * time.Second, 3 * time.Second, 5 * time.Second}

	for i := 0; i <= len(delays); i++ {
		err = fn()
		if err == nil {
			return nil
		}

		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return err
		}

		// Повторяем только конфликты сериализации, взаимоблокировки и обрывы соединения.
		if isRetryablePgError(err) || isConnectionError(err) {
			if i < len(delays) {
				timer := time.NewTimer(delays[i])
				select {
				case <-ctx.Done():
					timer.Stop()
					return ctx.Err()
				case <-timer.C:
				}
				continue
			}
		}

		break
	}
	return err
}

func isRetryablePgError(err error) bool {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return false
	}
	return pgErr.Code == pgerrcode.SerializationFailure || pgErr.Code == pgerrcode.DeadlockDetected
}

func isConnectionError(err error) bool {
	return strings.Contains(err.Error(), "connection refused") ||
		strings.Contains(err.Error(), "broken pipe") ||
		strings.Contains(err.Error(), "connection reset by peer")
}

// pgWriteError переводит ошибки ограничений PostgreSQL в ошибки репозитория.
func pgWriteError(err error) error {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return nil
	}
	switch pgErr.Code {
	case pgerrcode.ForeignKeyViolation:
		return fmt.Errorf("%w: %s", ErrForeignKeyViolation, pgErr.ConstraintName)
	case pgerrcode.CheckViolation:
		return fmt.Errorf("%w: %s", ErrNegativeValue, pgErr.ConstraintName)
	}
	return nil
}

// pgDeleteError переводит отказ удаления по ограничению внешнего ключа в ErrReferentialIntegrity.
func pgDeleteError(err error) error {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return nil
	}
	switch pgErr.Code {
	case pgerrcode.ForeignKeyViolation, pgerrcode.RestrictViolation:
		return fmt.Errorf("%w: %s", ErrReferentialIntegrity, pgErr.ConstraintName)
	}
	return nil
}

func wrapWrite(op string, err error) error {
	if mapped := pgWriteError(err); mapped != nil {
		return mapped
	}
	return fmt.Errorf("%s: %w", op, err)
}

// Close закрывает пул соединений с БД.
func (r *PostgresRepository) Close() error {
	r.pool.Close()
	return nil
}

// ListAnimals возвращает всех животных.
func (r *PostgresRepository) ListAnimals(ctx context.Context) ([]model.Animal, error) {
	return r.queryAnimals(ctx, queryListAnimals)
}

// ListAnimalsWithoutOrders возвращает животных, на которых нет ни одного заказа.
func (r *PostgresRepository) ListAnimalsWithoutOrders(ctx context.Context) ([]model.Animal, error) {
	return r.queryAnimals(ctx, queryListAnimalsWithoutOrders)
}

// ListOrderableAnimals возвращает животных без заказов и животное из заказа orderID.
func (r *PostgresRepository) ListOrderableAnimals(ctx context.Context, orderID int64) ([]model.Animal, error) {
	return r.queryAnimals(ctx,
		`SELECT `+animalColumns+`
		 FROM animals AS a
		 WHERE NOT EXISTS (SELECT 1 FROM orders AS o WHERE o.animal_id = a.animal_id)
		    OR a.animal_id = (SELECT animal_id FROM orders WHERE id = $1)
		 ORDER BY a.animal_id`,
		orderID,
	)
}

func (r *PostgresRepository) queryAnimals(ctx context.Context, sql string, args ...any) ([]model.Animal, error) {
	rows, err := r.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("select animals: %w", err)
	}
	defer rows.Close()

	animals := make([]model.Animal, 0)
	for rows.Next() {
		a, err := scanAnimal(rows)
		if err != nil {
			return nil, fmt.Errorf("scan animal: %w", err)
		}
		animals = append(animals, a)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return animals, nil
}

// GetAnimal возвращает животное по идентификатору.
func (r *PostgresRepository) GetAnimal(ctx context.Context, id int64) (*model.Animal, error) {
	a, err := scanAnimal(r.pool.QueryRow(ctx,
		`SELECT `+animalColumns+` FROM animals AS a WHERE a.animal_id = $1`,
		id,
	))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("%w: animal %d", ErrNotFound, id)
		}
		return nil, fmt.Errorf("get animal: %w", err)
	}
	return &a, nil
}

// UpsertAnimal вставляет животное или заменяет запись с тем же идентификатором.
func (r *PostgresRepository) UpsertAnimal(ctx context.Context, a model.Animal) (int64, error) {
	if a.ID == 0 {
		var id int64
		err := r.withRetry(ctx, func() error {
			return r.pool.QueryRow(ctx,
				`INSERT INTO animals (name, type, dob, weight, buyer_id)
				 VALUES ($1, $2, $3, $4, $5)
				 RETURNING animal_id`,
				a.Name, a.Type, a.DOB, a.Weight, a.BuyerID,
			).Scan(&id)
		})
		if err != nil {
			return 0, wrapWrite("insert animal", err)
		}
		return id, nil
	}

	err := r.upsertWithID(ctx, "animals", "animal_id",
		`INSERT INTO animals (animal_id, name, type, dob, weight, buyer_id)
		 VALUES ($1, $2, $3, $4, $5, $6)
		 ON CONFLICT (animal_id) DO UPDATE SET
		     name = EXCLUDED.name,
		     type = EXCLUDED.type,
		     dob = EXCLUDED.dob,
		     weight = EXCLUDED.weight,
		     buyer_id = EXCLUDED.buyer_id`,
		a.ID, a.Name, a.Type, a.DOB, a.Weight, a.BuyerID,
	)
	if err != nil {
		return 0, wrapWrite("upsert animal", err)
	}
	return a.ID, nil
}

// upsertWithID выполняет вставку с явным ключом и сдвигает последовательность таблицы,
// чтобы следующая вставка без ключа не столкнулась с уже занятым значением.
func (r *PostgresRepository) upsertWithID(ctx context.Context, table, column, sql string, args ...any) error {
	return r.withRetry(ctx, func() error {
		tx, err := r.pool.Begin(ctx)
		if err != nil {
			return fmt.Errorf("begin tx: %w", err)
		}
		defer tx.Rollback(ctx)

		if _, err := tx.Exec(ctx, sql, args...); err != nil {
			return err
		}

		_, err = tx.Exec(ctx,
			fmt.Sprintf(`SELECT setval(pg_get_serial_sequence('%[1]s', '%[2]s'), (SELECT MAX(%[2]s) FROM %[1]s))`, table, column),
		)
		if err != nil {
			return fmt.Errorf("bump sequence: %w", err)
		}

		return tx.Commit(ctx)
	})
}

// UpdateAnimal обновляет животное по идентификатору. Покупатель не меняется.
func (r *PostgresRepository) UpdateAnimal(ctx context.Context, a model.Animal) error {
	return r.execAffecting(ctx, "update animal", fmt.Sprintf("animal %d", a.ID),
		`UPDATE animals SET name = $2, type = $3, dob = $4, weight = $5 WHERE animal_id = $1`,
		a.ID, a.Name, a.Type, a.DOB, a.Weight,
	)
}

// DeleteAnimal удаляет животное вместе со всеми его заказами.
func (r *PostgresRepository) DeleteAnimal(ctx context.Context, id int64) error {
	return r.execAffecting(ctx, "delete animal", fmt.Sprintf("animal %d", id),
		`DELETE FROM animals WHERE animal_id = $1`,
		id,
	)
}

// DeleteAllAnimals удаляет всех животных и, каскадно, их заказы.
func (r *PostgresRepository) DeleteAllAnimals(ctx context.Context) (int64, error) {
	var n int64
	err := r.withRetry(ctx, func() error {
		tag, err := r.pool.Exec(ctx, queryDeleteAllAnimals)
		n = tag.RowsAffected()
		return err
	})
	if err != nil {
		return 0, fmt.Errorf("delete animals: %w", err)
	}
	return n, nil
}

func (r *PostgresRepository) execAffecting(ctx context.Context, op, what, sql string, args ...any) error {
	var affected int64
	err := r.withRetry(ctx, func() error {
		tag, err := r.pool.Exec(ctx, sql, args...)
		affected = tag.RowsAffected()
		return err
	})
	if err != nil {
		return wrapWrite(op, err)
	}
	if affected == 0 {
		return fmt.Errorf("%w: %s", ErrNotFound, what)
	}
	return nil
}

// ListCustomers возвращает всех покупателей.
func (r *PostgresRepository) ListCustomers(ctx context.Context) ([]model.Customer, error) {
	rows, err := r.pool.Query(ctx, queryListCustomers)
	if err != nil {
		return nil, fmt.Errorf("select customers: %w", err)
	}
	defer rows.Close()

	customers := make([]model.Customer, 0)
	for rows.Next() {
		c, err := scanCustomer(rows)
		if err != nil {
			return nil, fmt.Errorf("scan customer: %w", err)
		}
		customers = append(customers, c)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return customers, nil
}

// GetCustomer возвращает покупателя по идентификатору.
func (r *PostgresRepository) GetCustomer(ctx context.Context, id int64) (*model.Customer, error) {
	c, err := scanCustomer(r.pool.QueryRow(ctx,
		`SELECT customer_id, name, email, phone FROM customers WHERE customer_id = $1`,
		id,
	))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("%w: customer %d", ErrNotFound, id)
		}
		return nil, fmt.Errorf("get customer: %w", err)
	}
	return &c, nil
}

// UpsertCustomer вставляет покупателя или заменяет запись с тем же идентификатором.
func (r *PostgresRepository) UpsertCustomer(ctx context.Context, c model.Customer) (int64, error) {
	if c.ID == 0 {
		var id int64
		err := r.withRetry(ctx, func() error {
			return r.pool.QueryRow(ctx,
				`INSERT INTO customers (name, email, phone) VALUES ($1, $2, $3) RETURNING customer_id`,
				c.Name, c.Email, c.Phone,
			).Scan(&id)
		})
		if err != nil {
			return 0, wrapWrite("insert customer", err)
		}
		return id, nil
	}

	err := r.upsertWithID(ctx, "customers", "customer_id",
		`INSERT INTO customers (customer_id, name, email, phone)
		 VALUES ($1, $2, $3, $4)
		 ON CONFLICT (customer_id) DO UPDATE SET
		     name = EXCLUDED.name,
		     email = EXCLUDED.email,
		     phone = EXCLUDED.phone`,
		c.ID, c.Name, c.Email, c.Phone,
	)
	if err != nil {
		return 0, wrapWrite("upsert customer", err)
	}
	return c.ID, nil
}

// UpdateCustomer обновляет покупателя по идентификатору.
func (r *PostgresRepository) UpdateCustomer(ctx context.Context, c model.Customer) error {
	return r.execAffecting(ctx, "update customer", fmt.Sprintf("customer %d", c.ID),
		`UPDATE customers SET name = $2, email = $3, phone = $4 WHERE customer_id = $1`,
		c.ID, c.Name, c.Email, c.Phone,
	)
}

// DeleteCustomer удаляет покупателя. Удаление запрещено, пока на покупателя ссылается заказ.
func (r *PostgresRepository) DeleteCustomer(ctx context.Context, id int64) error {
	var affected int64
	err := r.withRetry(ctx, func() error {
		tag, err := r.pool.Exec(ctx, `DELETE FROM customers WHERE customer_id = $1`, id)
		affected = tag.RowsAffected()
		return err
	})
	if err != nil {
		if mapped := pgDeleteError(err); mapped != nil {
			return mapped
		}
		return fmt.Errorf("delete customer: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("%w: customer %d", ErrNotFound, id)
	}
	return nil
}

// ListOrders возвращает все заказы.
func (r *PostgresRepository) ListOrders(ctx context.Context) ([]model.Order, error) {
	rows, err := r.pool.Query(ctx, queryListOrders)
	if err != nil {
		return nil, fmt.Errorf("select orders: %w", err)
	}
	defer rows.Close()

	orders := make([]model.Order, 0)
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, fmt.Errorf("scan order: %w", err)
		}
		orders = append(orders, o)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return orders, nil
}

// ListOrderDetails возвращает заказы с именами животного и покупателя.
func (r *PostgresRepository) ListOrderDetails(ctx context.Context) ([]model.OrderDetail, error) {
	rows, err := r.pool.Query(ctx, queryListOrderDetails)
	if err != nil {
		return nil, fmt.Errorf("select order details: %w", err)
	}
	defer rows.Close()

	details := make([]model.OrderDetail, 0)
	for rows.Next() {
		d, err := scanOrderDetail(rows)
		if err != nil {
			return nil, fmt.Errorf("scan order detail: %w", err)
		}
		details = append(details, d)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return details, nil
}

// GetOrder возвращает заказ по идентификатору.
func (r *PostgresRepository) GetOrder(ctx context.Context, id int64) (*model.Order, error) {
	o, err := scanOrder(r.pool.QueryRow(ctx,
		`SELECT `+orderColumns+` FROM orders AS o WHERE o.id = $1`,
		id,
	))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("%w: order %d", ErrNotFound, id)
		}
		return nil, fmt.Errorf("get order: %w", err)
	}
	return &o, nil
}

// UpsertOrder вставляет заказ или заменяет запись с тем же идентификатором.
func (r *PostgresRepository) UpsertOrder(ctx context.Context, o model.Order) (int64, error) {
	if o.ID == 0 {
		var id int64
		err := r.withRetry(ctx, func() error {
			return r.pool.QueryRow(ctx,
				`INSERT INTO orders (animal_id, customer_id, deposit, payment, ready_date, purchase_complete)
				 VALUES ($1, $2, $3, $4, $5, $6)
				 RETURNING id`,
				o.AnimalID, o.CustomerID, int64(o.Deposit), int64(o.Payment), o.ReadyDate, o.PurchaseComplete,
			).Scan(&id)
		})
		if err != nil {
			return 0, wrapWrite("insert order", err)
		}
		return id, nil
	}

	err := r.upsertWithID(ctx, "orders", "id",
		`INSERT INTO orders (id, animal_id, customer_id, deposit, payment, ready_date, purchase_complete)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)
		 ON CONFLICT (id) DO UPDATE SET
		     animal_id = EXCLUDED.animal_id,
		     customer_id = EXCLUDED.customer_id,
		     deposit = EXCLUDED.deposit,
		     payment = EXCLUDED.payment,
		     ready_date = EXCLUDED.ready_date,
		     purchase_complete = EXCLUDED.purchase_complete`,
		o.ID, o.AnimalID, o.CustomerID, int64(o.Deposit), int64(o.Payment), o.ReadyDate, o.PurchaseComplete,
	)
	if err != nil {
		return 0, wrapWrite("upsert order", err)
	}
	return o.ID, nil
}

// UpdateOrder обновляет заказ по идентификатору.
func (r *PostgresRepository) UpdateOrder(ctx context.Context, o model.Order) error {
	return r.execAffecting(ctx, "update order", fmt.Sprintf("order %d", o.ID),
		`UPDATE orders
		 SET animal_id = $2, customer_id = $3, deposit = $4, payment = $5, ready_date = $6, purchase_complete = $7
		 WHERE id = $1`,
		o.ID, o.AnimalID, o.CustomerID, int64(o.Deposit), int64(o.Payment), o.ReadyDate, o.PurchaseComplete,
	)
}

// DeleteOrder удаляет заказ.
func (r *PostgresRepository) DeleteOrder(ctx context.Context, id int64) error {
	return r.execAffecting(ctx, "delete order", fmt.Sprintf("order %d", id),
		`DELETE FROM orders WHERE id = $1`,
		id,
	)
}

// DeleteCompletedOrders удаляет все завершённые заказы и возвращает их количество.
func (r *PostgresRepository) DeleteCompletedOrders(ctx context.Context) (int64, error) {
	var n int64
	err := r.withRetry(ctx, func() error {
		tag, err := r.pool.Exec(ctx, queryDeleteCompletedOrders)
		n = tag.RowsAffected()
		return err
	})
	if err != nil {
		return 0, fmt.Errorf("delete completed orders: %w", err)
	}
	return n, nil
}

// Aggregate вычисляет один агрегатный показатель.
func (r *PostgresRepository) Aggregate(ctx context.Context, a model.Aggregate) (int64, error) {
	sql, err := aggregateQuery(a)
	if err != nil {
		return 0, err
	}

	var v int64
	if err := r.pool.QueryRow(ctx, sql).Scan(&v); err != nil {
		return 0, fmt.Errorf("aggregate %s: %w", a, err)
	}
	return v, nil
}

// Summary вычисляет все сводные показатели одним запросом.
func (r *PostgresRepository) Summary(ctx context.Context) (*model.Summary, error) {
	s, err := scanSummary(r.pool.QueryRow(ctx, querySummary))
	if err != nil {
		return nil, fmt.Errorf("summary: %w", err)
	}
	return s, nil
}

// ListenChanges подписывается на уведомления об изменении таблиц и вызывает fn
// для каждого уведомления, пока не будет отменён контекст.
func (r *PostgresRepository) ListenChanges(ctx context.Context, fn func(model.Table)) error {
	conn, err := r.pool.Acquire(ctx)
	if err != nil {
		return fmt.Errorf("acquire listen conn: %w", err)
	}
	defer conn.Release()

	if _, err := conn.Exec(ctx, "LISTEN "+ChangeChannel); err != nil {
		return fmt.Errorf("listen: %w", err)
	}
	defer func() {
		unlistenCtx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_, _ = conn.Exec(unlistenCtx, "UNLISTEN "+ChangeChannel)
	}()

	for {
		n, err := conn.Conn().WaitForNotification(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("wait for notification: %w", err)
		}

		if t, ok := model.ParseTable(n.Payload); ok {
			fn(t)
		}
	}
}
