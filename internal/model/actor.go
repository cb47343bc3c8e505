package model

import "github.com/google/uuid"

// Role - роль пользователя.
type Role string

const (
	RoleCustomer Role = "customer"
	RoleAdmin    Role = "admin"
)

// Actor - инициатор запроса. Нулевое значение соответствует гостю.
type Actor struct {
	UserID uuid.UUID
	Role   Role
}

// IsAdmin сообщает, что запрос выполняет администратор.
func (a Actor) IsAdmin() bool {
	return a.Role == RoleAdmin
}

// IsGuest сообщает, что запрос выполняется без аутентификации.
func (a Actor) IsGuest() bool {
	return a.UserID == uuid.Nil
}

// Ref возвращает ссылку на пользователя для журналов; для гостя - nil.
func (a Actor) Ref() *uuid.UUID {
	if a.IsGuest() {
		return nil
	}
	id := a.UserID
	return &id
}
