// Package model содержит доменные сущности сервиса bchgate.
package model

import "time"

// User представляет пользователя сервиса платного API-доступа.
type User struct {
	ID           int64
	Email        string
	Name         string
	PasswordHash []byte

	// HDIndex — индекс деривации депозитного адреса. Назначается один раз
	// при регистрации и больше не меняется.
	HDIndex int64
	// BCHAddr — депозитный адрес, детерминированно выводимый из HDIndex.
	BCHAddr string

	// CreditCents — баланс кредита в центах. Не бывает отрицательным.
	CreditCents int64
	// LastBalanceSat — последний наблюдавшийся on-chain баланс депозитного
	// адреса в сатоши. Используется для детектирования новых депозитов.
	LastBalanceSat int64

	// APIToken — действующий API-токен, пустая строка если токена нет.
	APIToken string
	// APILevel — уровень тарифа действующего токена, 0 — бесплатный тариф.
	APILevel int
	// APITokenExp — момент истечения действующего токена.
	APITokenExp time.Time

	CreatedAt time.Time
}

// OperationType описывает причину изменения кредитного баланса.
type OperationType string

const (
	OperationDeposit  OperationType = "DEPOSIT"
	OperationPurchase OperationType = "PURCHASE"
	OperationRefund   OperationType = "REFUND"
)

// Operation — одна запись журнала изменений кредитного баланса.
type Operation struct {
	Type         OperationType `json:"type"`
	Amount       float64       `json:"amount"`
	BalanceAfter float64       `json:"balance_after"`
	ProcessedAt  time.Time     `json:"processed_at"`
}

// Credit переводит баланс пользователя из центов в доллары для ответа API.
func (u *User) Credit() float64 {
	return float64(u.CreditCents) / 100
}

// HasActiveToken сообщает, есть ли у пользователя неистёкший API-токен.
func (u *User) HasActiveToken(now time.Time) bool {
	return u.APIToken != "" && now.Before(u.APITokenExp)
}
