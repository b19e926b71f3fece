// Package model содержит доменные сущности учёта продаж животных.
package model

// Animal описывает животное, выставленное на продажу.
type Animal struct {
	ID     int64
	Name   string
	Type   string
	DOB    string
	Weight float64

	// BuyerID устарело: связь с покупателем хранится в заказах.
	// Поле принимается при создании и не меняется при обновлении.
	BuyerID *int64
}

// Customer описывает покупателя.
type Customer struct {
	ID    int64
	Name  string
	Email string
	Phone string
}

// Order описывает заказ на животное.
type Order struct {
	ID               int64
	AnimalID         *int64
	CustomerID       *int64
	Deposit          Cents
	Payment          Cents
	ReadyDate        string
	PurchaseComplete bool
}

// OrderDetail — заказ с разрешёнными внешними ключами для отображения.
type OrderDetail struct {
	Order
	AnimalName   string
	CustomerName string
}

// Summary содержит сводные показатели по заказам и животным.
type Summary struct {
	OpenOrders       int64
	ClosedOrders     int64
	Deposits         Cents
	Payments         Cents
	AnimalsSold      int64
	AnimalsAvailable int64
}

// Value возвращает значение показателя из сводки.
func (s Summary) Value(a Aggregate) int64 {
	switch a {
	case AggregateOpenOrders:
		return s.OpenOrders
	case AggregateClosedOrders:
		return s.ClosedOrders
	case AggregateDeposits:
		return int64(s.Deposits)
	case AggregatePayments:
		return int64(s.Payments)
	case AggregateAnimalsSold:
		return s.AnimalsSold
	case AggregateAnimalsAvailable:
		return s.AnimalsAvailable
	}
	return 0
}

// Aggregate описывает агрегатный запрос над хранилищем.
type Aggregate string

const (
	AggregateOpenOrders       Aggregate = "open_orders"
	AggregateClosedOrders     Aggregate = "closed_orders"
	AggregateDeposits         Aggregate = "deposits"
	AggregatePayments         Aggregate = "payments"
	AggregateAnimalsSold      Aggregate = "animals_sold"
	AggregateAnimalsAvailable Aggregate = "animals_available"
)

// Aggregates перечисляет все поддерживаемые агрегаты.
var Aggregates = []Aggregate{
	AggregateOpenOrders,
	AggregateClosedOrders,
	AggregateDeposits,
	AggregatePayments,
	AggregateAnimalsSold,
	AggregateAnimalsAvailable,
}

// IsMoney сообщает, выражен ли агрегат в деньгах.
func (a Aggregate) IsMoney() bool {
	return a == AggregateDeposits || a == AggregatePayments
}

// Tables возвращает таблицы, от которых зависит агрегат.
func (a Aggregate) Tables() []Table {
	switch a {
	case AggregateAnimalsSold, AggregateAnimalsAvailable:
		return []Table{TableAnimals, TableOrders}
	default:
		return []Table{TableOrders}
	}
}

// ParseAggregate разбирает имя агрегата.
func ParseAggregate(s string) (Aggregate, bool) {
	for _, a := range Aggregates {
		if string(a) == s {
			return a, true
		}
	}
	return "", false
}

// Table — таблица хранилища, единица уведомления об изменениях.
type Table string

const (
	TableAnimals   Table = "animals"
	TableCustomers Table = "customers"
	TableOrders    Table = "orders"
)

// ParseTable разбирает имя таблицы, пришедшее из уведомления БД.
func ParseTable(s string) (Table, bool) {
	switch Table(s) {
	case TableAnimals, TableCustomers, TableOrders:
		return Table(s), true
	}
	return "", false
}
