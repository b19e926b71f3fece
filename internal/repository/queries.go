package repository

import (
	"fmt"

	"github.com/mmeshcher/animal-sales-tracker/internal/model"
)

// Запросы без параметров одинаковы для PostgreSQL и SQLite.
const (
	animalColumns = `a.animal_id, a.name, a.type, a.dob, a.weight, a.buyer_id`
	orderColumns  = `o.id, o.animal_id, o.customer_id, o.deposit, o.payment, o.ready_date, o.purchase_complete`

	queryListAnimals = `SELECT ` + animalColumns + ` FROM animals AS a ORDER BY a.animal_id`

	queryListAnimalsWithoutOrders = `SELECT ` + animalColumns + `
		FROM animals AS a
		LEFT JOIN orders AS o ON o.animal_id = a.animal_id
		WHERE o.id IS NULL
		ORDER BY a.animal_id`

	queryListCustomers = `SELECT customer_id, name, email, phone FROM customers ORDER BY customer_id`

	queryListOrders = `SELECT ` + orderColumns + ` FROM orders AS o ORDER BY o.id`

	queryListOrderDetails = `SELECT ` + orderColumns + `, COALESCE(a.name, ''), COALESCE(c.name, '')
		FROM orders AS o
		LEFT JOIN animals AS a ON a.animal_id = o.animal_id
		LEFT JOIN customers AS c ON c.customer_id = o.customer_id
		ORDER BY o.id`

	queryDeleteAllAnimals       = `DELETE FROM animals`
	queryDeleteCompletedOrders  = `DELETE FROM orders WHERE purchase_complete = TRUE`
	subqueryOpenOrders          = `SELECT COUNT(*) FROM orders WHERE purchase_complete = FALSE`
	subqueryClosedOrders        = `SELECT COUNT(*) FROM orders WHERE purchase_complete = TRUE`
	subqueryDeposits            = `SELECT CAST(COALESCE(SUM(deposit), 0) AS BIGINT) FROM orders`
	subqueryPayments            = `SELECT CAST(COALESCE(SUM(payment), 0) AS BIGINT) FROM orders`
	subqueryAnimalsSold         = `SELECT COUNT(DISTINCT animal_id) FROM orders WHERE purchase_complete = TRUE AND animal_id IS NOT NULL`
	subqueryAnimalsAvailable    = `SELECT COUNT(*) FROM animals AS a WHERE NOT EXISTS (SELECT 1 FROM orders AS o WHERE o.animal_id = a.animal_id)`
)

var aggregateQueries = map[model.Aggregate]string{
	model.AggregateOpenOrders:       subqueryOpenOrders,
	model.AggregateClosedOrders:     subqueryClosedOrders,
	model.AggregateDeposits:         subqueryDeposits,
	model.AggregatePayments:         subqueryPayments,
	model.AggregateAnimalsSold:      subqueryAnimalsSold,
	model.AggregateAnimalsAvailable: subqueryAnimalsAvailable,
}

// querySummary вычисляет все показатели одним запросом, то есть на одном снимке данных.
var querySummary = `SELECT
	(` + subqueryOpenOrders + `),
	(` + subqueryClosedOrders + `),
	(` + subqueryDeposits + `),
	(` + subqueryPayments + `),
	(` + subqueryAnimalsSold + `),
	(` + subqueryAnimalsAvailable + `)`

func aggregateQuery(a model.Aggregate) (string, error) {
	q, ok := aggregateQueries[a]
	if !ok {
		return "", fmt.Errorf("unknown aggregate %q", a)
	}
	return q, nil
}

// rowScanner реализуется и pgx.Row, и *sql.Row / *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanAnimal(row rowScanner) (model.Animal, error) {
	var a model.Animal
	err := row.Scan(&a.ID, &a.Name, &a.Type, &a.DOB, &a.Weight, &a.BuyerID)
	return a, err
}

func scanCustomer(row rowScanner) (model.Customer, error) {
	var c model.Customer
	err := row.Scan(&c.ID, &c.Name, &c.Email, &c.Phone)
	return c, err
}

func scanOrder(row rowScanner) (model.Order, error) {
	var (
		o                model.Order
		deposit, payment int64
	)
	err := row.Scan(&o.ID, &o.AnimalID, &o.CustomerID, &deposit, &payment, &o.ReadyDate, &o.PurchaseComplete)
	o.Deposit = model.Cents(deposit)
	o.Payment = model.Cents(payment)
	return o, err
}

func scanOrderDetail(row rowScanner) (model.OrderDetail, error) {
	var (
		d                model.OrderDetail
		deposit, payment int64
	)
	err := row.Scan(
		&d.ID, &d.AnimalID, &d.CustomerID, &deposit, &payment, &d.ReadyDate, &d.PurchaseComplete,
		&d.AnimalName, &d.CustomerName,
	)
	d.Deposit = model.Cents(deposit)
	d.Payment = model.Cents(payment)
	return d, err
}

func scanSummary(row rowScanner) (*model.Summary, error) {
	var (
		s                  model.Summary
		deposits, payments int64
	)
	if err := row.Scan(
		&s.OpenOrders,
		&s.ClosedOrders,
		&deposits,
		&payments,
		&s.AnimalsSold,
		&s.AnimalsAvailable,
	); err != nil {
		return nil, err
	}
	s.Deposits = model.Cents(deposits)
	s.Payments = model.Cents(payments)
	return &s, nil
}
