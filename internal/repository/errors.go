package repository

import (
	"errors"

	"github.com/google/uuid"

	"github.com/mmeshcher/gophermart-payments/internal/model"
)

var (
	// ErrNotFound возвращается, если платёж не найден.
	ErrNotFound = errors.New("payment not found")
	// ErrAlreadyFinalized возвращается при попытке изменить платёж в терминальном статусе.
	ErrAlreadyFinalized = errors.New("payment already finalized")
	// ErrDuplicateCode возвращается при коллизии кода-комментария.
	ErrDuplicateCode = errors.New("duplicate payment code")
	// ErrReferenceTaken возвращается, если внешняя ссылка уже привязана к другому платежу.
	ErrReferenceTaken = errors.New("external reference already bound to another payment")
	// ErrNotClaimable возвращается, если к платежу нельзя привязать внешнюю ссылку.
	ErrNotClaimable = errors.New("payment cannot be claimed")
)

// PendingFilter задаёт условия поиска ожидающего платежа. Пустые поля не учитываются.
type PendingFilter struct {
	ID          uuid.UUID
	Method      model.Method
	Code        string
	ExternalRef string
}
