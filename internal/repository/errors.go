package repository

import "errors"

var (
	// ErrNotFound возвращается, если запись с указанным идентификатором не найдена.
	ErrNotFound = errors.New("record not found")
	// ErrForeignKeyViolation возвращается, если запись ссылается на несуществующее животное или покупателя.
	ErrForeignKeyViolation = errors.New("foreign key violation")
	// ErrReferentialIntegrity возвращается при удалении покупателя, на которого ссылаются заказы.
	ErrReferentialIntegrity = errors.New("referential integrity violation")
	// ErrNegativeValue возвращается, если хранилище отклонило отрицательный вес или сумму.
	ErrNegativeValue = errors.New("negative value")
)
