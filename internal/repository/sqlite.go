package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/pressly/goose/v3"
	msqlite "modernc.org/sqlite"
	sqlite3lib "modernc.org/sqlite/lib"

	"github.com/mmeshcher/animal-sales-tracker/internal/model"
)

// SQLiteRepository хранит записи в локальном файле SQLite.
type SQLiteRepository struct {
	db *sql.DB
}

// NewSQLiteRepository открывает файл БД, включает внешние ключи и применяет миграции.
func NewSQLiteRepository(ctx context.Context, path string) (*SQLiteRepository, error) {
	if strings.TrimSpace(path) == "" {
		return nil, errors.New("sqlite path is required")
	}

	dsn := filepath.Clean(path) +
		"?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	db.SetMaxOpenConns(1)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping sqlite db: %w", err)
	}

	if err := runMigrations(ctx, db, goose.DialectSQLite3, "migrations/sqlite"); err != nil {
		_ = db.Close()
		return nil, err
	}

	return &SQLiteRepository{db: db}, nil
}

// Close закрывает файл БД.
func (r *SQLiteRepository) Close() error {
	return r.db.Close()
}

func sqliteCode(err error) (int, bool) {
	var sqliteErr *msqlite.Error
	if !errors.As(err, &sqliteErr) {
		return 0, false
	}
	return sqliteErr.Code(), true
}

func sqliteWriteError(op string, err error) error {
	code, ok := sqliteCode(err)
	if ok {
		switch code {
		case sqlite3lib.SQLITE_CONSTRAINT_FOREIGNKEY:
			return fmt.Errorf("%w: %s", ErrForeignKeyViolation, op)
		case sqlite3lib.SQLITE_CONSTRAINT_CHECK:
			return fmt.Errorf("%w: %s", ErrNegativeValue, op)
		}
	}
	return fmt.Errorf("%s: %w", op, err)
}

// sqliteDeleteError переводит отказ удаления по внешнему ключу в ErrReferentialIntegrity.
// ON DELETE RESTRICT SQLite сообщает кодом SQLITE_CONSTRAINT_TRIGGER.
func sqliteDeleteError(err error) error {
	code, ok := sqliteCode(err)
	if !ok {
		return nil
	}
	switch code {
	case sqlite3lib.SQLITE_CONSTRAINT_FOREIGNKEY, sqlite3lib.SQLITE_CONSTRAINT_TRIGGER:
		return ErrReferentialIntegrity
	}
	return nil
}

func (r *SQLiteRepository) execAffecting(ctx context.Context, op, what, query string, args ...any) error {
	res, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return sqliteWriteError(op, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("%s: rows affected: %w", op, err)
	}
	if n == 0 {
		return fmt.Errorf("%w: %s", ErrNotFound, what)
	}
	return nil
}

func (r *SQLiteRepository) insertReturningID(ctx context.Context, op, query string, args ...any) (int64, error) {
	res, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, sqliteWriteError(op, err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("%s: last insert id: %w", op, err)
	}
	return id, nil
}

func (r *SQLiteRepository) deleteAll(ctx context.Context, op, query string) (int64, error) {
	res, err := r.db.ExecContext(ctx, query)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", op, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("%s: rows affected: %w", op, err)
	}
	return n, nil
}

// ListAnimals возвращает всех животных.
func (r *SQLiteRepository) ListAnimals(ctx context.Context) ([]model.Animal, error) {
	return r.queryAnimals(ctx, queryListAnimals)
}

// ListAnimalsWithoutOrders возвращает животных, на которых нет ни одного заказа.
func (r *SQLiteRepository) ListAnimalsWithoutOrders(ctx context.Context) ([]model.Animal, error) {
	return r.queryAnimals(ctx, queryListAnimalsWithoutOrders)
}

// ListOrderableAnimals возвращает животных без заказов и животное из заказа orderID.
func (r *SQLiteRepository) ListOrderableAnimals(ctx context.Context, orderID int64) ([]model.Animal, error) {
	return r.queryAnimals(ctx,
		`SELECT `+animalColumns+`
		 FROM animals AS a
		 WHERE NOT EXISTS (SELECT 1 FROM orders AS o WHERE o.animal_id = a.animal_id)
		    OR a.animal_id = (SELECT animal_id FROM orders WHERE id = ?)
		 ORDER BY a.animal_id`,
		orderID,
	)
}

func (r *SQLiteRepository) queryAnimals(ctx context.Context, query string, args ...any) ([]model.Animal, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
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
func (r *SQLiteRepository) GetAnimal(ctx context.Context, id int64) (*model.Animal, error) {
	a, err := scanAnimal(r.db.QueryRowContext(ctx,
		`SELECT `+animalColumns+` FROM animals AS a WHERE a.animal_id = ?`, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: animal %d", ErrNotFound, id)
		}
		return nil, fmt.Errorf("get animal: %w", err)
	}
	return &a, nil
}

// UpsertAnimal вставляет животное или заменяет запись с тем же идентификатором.
func (r *SQLiteRepository) UpsertAnimal(ctx context.Context, a model.Animal) (int64, error) {
	if a.ID == 0 {
		return r.insertReturningID(ctx, "insert animal",
			`INSERT INTO animals (name, type, dob, weight, buyer_id) VALUES (?, ?, ?, ?, ?)`,
			a.Name, a.Type, a.DOB, a.Weight, a.BuyerID,
		)
	}

	_, err := r.db.ExecContext(ctx,
		`INSERT INTO animals (animal_id, name, type, dob, weight, buyer_id)
		 VALUES (?, ?, ?, ?, ?, ?)
		 ON CONFLICT (animal_id) DO UPDATE SET
		     name = excluded.name,
		     type = excluded.type,
		     dob = excluded.dob,
		     weight = excluded.weight,
		     buyer_id = excluded.buyer_id`,
		a.ID, a.Name, a.Type, a.DOB, a.Weight, a.BuyerID,
	)
	if err != nil {
		return 0, sqliteWriteError("upsert animal", err)
	}
	return a.ID, nil
}

// UpdateAnimal обновляет животное по идентификатору. Покупатель не меняется.
func (r *SQLiteRepository) UpdateAnimal(ctx context.Context, a model.Animal) error {
	return r.execAffecting(ctx, "update animal", fmt.Sprintf("animal %d", a.ID),
		`UPDATE animals SET name = ?, type = ?, dob = ?, weight = ? WHERE animal_id = ?`,
		a.Name, a.Type, a.DOB, a.Weight, a.ID,
	)
}

// DeleteAnimal удаляет животное вместе со всеми его заказами.
func (r *SQLiteRepository) DeleteAnimal(ctx context.Context, id int64) error {
	return r.execAffecting(ctx, "delete animal", fmt.Sprintf("animal %d", id),
		`DELETE FROM animals WHERE animal_id = ?`, id)
}

// DeleteAllAnimals удаляет всех животных и, каскадно, их заказы.
func (r *SQLiteRepository) DeleteAllAnimals(ctx context.Context) (int64, error) {
	return r.deleteAll(ctx, "delete animals", queryDeleteAllAnimals)
}

// ListCustomers возвращает всех покупателей.
func (r *SQLiteRepository) ListCustomers(ctx context.Context) ([]model.Customer, error) {
	rows, err := r.db.QueryContext(ctx, queryListCustomers)
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
func (r *SQLiteRepository) GetCustomer(ctx context.Context, id int64) (*model.Customer, error) {
	c, err := scanCustomer(r.db.QueryRowContext(ctx,
		`SELECT customer_id, name, email, phone FROM customers WHERE customer_id = ?`, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: customer %d", ErrNotFound, id)
		}
		return nil, fmt.Errorf("get customer: %w", err)
	}
	return &c, nil
}

// UpsertCustomer вставляет покупателя или заменяет запись с тем же идентификатором.
func (r *SQLiteRepository) UpsertCustomer(ctx context.Context, c model.Customer) (int64, error) {
	if c.ID == 0 {
		return r.insertReturningID(ctx, "insert customer",
			`INSERT INTO customers (name, email, phone) VALUES (?, ?, ?)`,
			c.Name, c.Email, c.Phone,
		)
	}

	_, err := r.db.ExecContext(ctx,
		`INSERT INTO customers (customer_id, name, email, phone)
		 VALUES (?, ?, ?, ?)
		 ON CONFLICT (customer_id) DO UPDATE SET
		     name = excluded.name,
		     email = excluded.email,
		     phone = excluded.phone`,
		c.ID, c.Name, c.Email, c.Phone,
	)
	if err != nil {
		return 0, sqliteWriteError("upsert customer", err)
	}
	return c.ID, nil
}

// UpdateCustomer обновляет покупателя по идентификатору.
func (r *SQLiteRepository) UpdateCustomer(ctx context.Context, c model.Customer) error {
	return r.execAffecting(ctx, "update customer", fmt.Sprintf("customer %d", c.ID),
		`UPDATE customers SET name = ?, email = ?, phone = ? WHERE customer_id = ?`,
		c.Name, c.Email, c.Phone, c.ID,
	)
}

// DeleteCustomer удаляет покупателя. Удаление запрещено, пока на покупателя ссылается заказ.
func (r *SQLiteRepository) DeleteCustomer(ctx context.Context, id int64) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM customers WHERE customer_id = ?`, id)
	if err != nil {
		if mapped := sqliteDeleteError(err); mapped != nil {
			return fmt.Errorf("%w: customer %d has orders", mapped, id)
		}
		return fmt.Errorf("delete customer: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete customer: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("%w: customer %d", ErrNotFound, id)
	}
	return nil
}

// ListOrders возвращает все заказы.
func (r *SQLiteRepository) ListOrders(ctx context.Context) ([]model.Order, error) {
	rows, err := r.db.QueryContext(ctx, queryListOrders)
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
func (r *SQLiteRepository) ListOrderDetails(ctx context.Context) ([]model.OrderDetail, error) {
	rows, err := r.db.QueryContext(ctx, queryListOrderDetails)
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
func (r *SQLiteRepository) GetOrder(ctx context.Context, id int64) (*model.Order, error) {
	o, err := scanOrder(r.db.QueryRowContext(ctx,
		`SELECT `+orderColumns+` FROM orders AS o WHERE o.id = ?`, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: order %d", ErrNotFound, id)
		}
		return nil, fmt.Errorf("get order: %w", err)
	}
	return &o, nil
}

// UpsertOrder вставляет заказ или заменяет запись с тем же идентификатором.
func (r *SQLiteRepository) UpsertOrder(ctx context.Context, o model.Order) (int64, error) {
	if o.ID == 0 {
		return r.insertReturningID(ctx, "insert order",
			`INSERT INTO orders (animal_id, customer_id, deposit, payment, ready_date, purchase_complete)
			 VALUES (?, ?, ?, ?, ?, ?)`,
			o.AnimalID, o.CustomerID, int64(o.Deposit), int64(o.Payment), o.ReadyDate, o.PurchaseComplete,
		)
	}

	_, err := r.db.ExecContext(ctx,
		`INSERT INTO orders (id, animal_id, customer_id, deposit, payment, ready_date, purchase_complete)
		 VALUES (?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT (id) DO UPDATE SET
		     animal_id = excluded.animal_id,
		     customer_id = excluded.customer_id,
		     deposit = excluded.deposit,
		     payment = excluded.payment,
		     ready_date = excluded.ready_date,
		     purchase_complete = excluded.purchase_complete`,
		o.ID, o.AnimalID, o.CustomerID, int64(o.Deposit), int64(o.Payment), o.ReadyDate, o.PurchaseComplete,
	)
	if err != nil {
		return 0, sqliteWriteError("upsert order", err)
	}
	return o.ID, nil
}

// UpdateOrder обновляет заказ по идентификатору.
func (r *SQLiteRepository) UpdateOrder(ctx context.Context, o model.Order) error {
	return r.execAffecting(ctx, "update order", fmt.Sprintf("order %d", o.ID),
		`UPDATE orders
		 SET animal_id = ?, customer_id = ?, deposit = ?, payment = ?, ready_date = ?, purchase_complete = ?
		 WHERE id = ?`,
		o.AnimalID, o.CustomerID, int64(o.Deposit), int64(o.Payment), o.ReadyDate, o.PurchaseComplete, o.ID,
	)
}

// DeleteOrder удаляет заказ.
func (r *SQLiteRepository) DeleteOrder(ctx context.Context, id int64) error {
	return r.execAffecting(ctx, "delete order", fmt.Sprintf("order %d", id),
		`DELETE FROM orders WHERE id = ?`, id)
}

// DeleteCompletedOrders удаляет все завершённые заказы и возвращает их количество.
func (r *SQLiteRepository) DeleteCompletedOrders(ctx context.Context) (int64, error) {
	return r.deleteAll(ctx, "delete completed orders", queryDeleteCompletedOrders)
}

// Aggregate вычисляет один агрегатный показатель.
func (r *SQLiteRepository) Aggregate(ctx context.Context, a model.Aggregate) (int64, error) {
	query, err := aggregateQuery(a)
	if err != nil {
		return 0, err
	}

	var v int64
	if err := r.db.QueryRowContext(ctx, query).Scan(&v); err != nil {
		return 0, fmt.Errorf("aggregate %s: %w", a, err)
	}
	return v, nil
}

// Summary вычисляет все сводные показатели одним запросом.
func (r *SQLiteRepository) Summary(ctx context.Context) (*model.Summary, error) {
	s, err := scanSummary(r.db.QueryRowContext(ctx, querySummary))
	if err != nil {
		return nil, fmt.Errorf("summary: %w", err)
	}
	return s, nil
}
