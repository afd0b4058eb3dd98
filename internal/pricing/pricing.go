// Package pricing содержит тарифную таблицу и расчёт возвратов. Все функции
// чистые: результат зависит только от аргументов.
package pricing

import (
	"errors"
	"time"
)

// ErrUnknownTier возвращается для тарифа, отсутствующего в таблице.
var ErrUnknownTier = errors.New("unknown tier")

// Schedule — тарифная таблица: стоимость токена каждого уровня в центах и
// единый срок действия токена.
type Schedule struct {
	prices        map[int]int64
	tokenLifetime time.Duration
}

// Default возвращает действующую тарифную таблицу: уровень 0 бесплатен,
// платные уровни стоят номинал уровня в долларах за токен на 30 дней.
func Default() *Schedule {
	return &Schedule{
		prices: map[int]int64{
			0:  0,
			10: 1000,
			20: 2000,
			40: 4000,
		},
		tokenLifetime: 30 * 24 * time.Hour,
	}
}

// NewSchedule создаёт таблицу с заданными ценами и сроком действия токена.
func NewSchedule(prices map[int]int64, tokenLifetime time.Duration) *Schedule {
	cp := make(map[int]int64, len(prices))
	for tier, price := range prices {
		cp[tier] = price
	}
	return &Schedule{prices: cp, tokenLifetime: tokenLifetime}
}

// KnownTier сообщает, есть ли тариф в таблице.
func (s *Schedule) KnownTier(tier int) bool {
	_, ok := s.prices[tier]
	return ok
}

// PriceOf возвращает стоимость токена указанного уровня в центах.
func (s *Schedule) PriceOf(tier int) (int64, error) {
	price, ok := s.prices[tier]
	if !ok {
		return 0, ErrUnknownTier
	}
	return price, nil
}

// TokenLifetime возвращает срок действия выдаваемых токенов.
func (s *Schedule) TokenLifetime() time.Duration {
	return s.tokenLifetime
}

// RefundFor вычисляет возврат за неиспользованный остаток действующего токена:
// линейная доля стоимости тарифа, пропорциональная оставшемуся времени.
// Доля считается с точностью до секунды, чтобы произведение цены на остаток
// не выходило за пределы int64. Результат лежит в [0, PriceOf(level)): за
// только что выданный токен возвращается чуть меньше полной цены, за
// истёкший — ничего.
func (s *Schedule) RefundFor(level int, exp time.Time, now time.Time) int64 {
	price, ok := s.prices[level]
	if !ok || price <= 0 {
		return 0
	}

	lifetimeSec := int64(s.tokenLifetime / time.Second)
	if lifetimeSec <= 0 {
		return 0
	}

	remaining := exp.Sub(now)
	if remaining <= 0 {
		return 0
	}
	if remaining > s.tokenLifetime {
		remaining = s.tokenLifetime
	}

	refund := price * int64(remaining/time.Second) / lifetimeSec
	if refund >= price {
		refund = price - 1
	}
	if refund < 0 {
		refund = 0
	}

	return refund
}
