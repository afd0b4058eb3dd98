// Package service реализует бизнес-логику сервиса bchgate: учёт кредита за
// BCH-депозиты и выдачу платных API-токенов.
package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/mmeshcher/bchgate-system/internal/model"
	"github.com/mmeshcher/bchgate-system/internal/pricing"
	"github.com/mmeshcher/bchgate-system/internal/repository"
	"github.com/mmeshcher/bchgate-system/internal/token"
)

// ErrInvalidCredentials возвращается при неверной паре email/пароль.
var (
	ErrInvalidCredentials = errors.New("invalid credentials")
	// ErrBalanceUnavailable возвращается, когда индексатор недоступен.
	// Недоступный индексатор никогда не трактуется как нулевой баланс.
	ErrBalanceUnavailable = errors.New("balance lookup failed")
	// ErrPriceUnavailable возвращается, когда источник курса недоступен или
	// вернул некорректную котировку.
	ErrPriceUnavailable = errors.New("price unavailable")
)

// sessionLifetime — срок действия токена сессии, выдаваемого при входе.
const sessionLifetime = 24 * time.Hour

// Repository описывает контракт доступа к данным, используемый сервисом.
type Repository interface {
	Close() error
	CreateUser(ctx context.Context, email, name string, passwordHash []byte, depositAddr func(hdIndex int64) (string, error)) (*model.User, error)
	GetUserByEmail(ctx context.Context, email string) (*model.User, error)
	GetUserByID(ctx context.Context, id int64) (*model.User, error)
	UpdateProfile(ctx context.Context, id int64, name string, passwordHash []byte) error
	DeleteUser(ctx context.Context, id int64) error
	ApplyDeposit(ctx context.Context, userID int64, observedSat int64, usdPerBCH float64) (*repository.DepositResult, error)
	CreditUser(ctx context.Context, userID int64, amountCents int64, opType model.OperationType) (int64, error)
	PurchaseToken(ctx context.Context, userID int64, priceCents int64, token string, level int, exp time.Time) (int64, error)
	GetOperationsByUser(ctx context.Context, userID int64) ([]model.Operation, error)
}

// BalanceSource возвращает подтверждённый и неподтверждённый баланс адреса в сатоши.
type BalanceSource interface {
	GetBalance(ctx context.Context, addr string) (confirmed, unconfirmed int64, err error)
}

// PriceSource возвращает текущий курс BCH в долларах за монету.
type PriceSource interface {
	CurrentPrice(ctx context.Context) (float64, error)
}

// AddressDeriver детерминированно выводит депозитный адрес по индексу деривации.
type AddressDeriver interface {
	AddressAt(index int64) (string, error)
}

// DepositSweeper переводит средства с депозитного адреса на корпоративный кошелёк.
type DepositSweeper interface {
	SweepAddress(ctx context.Context, hdIndex int64) (string, error)
}

// Service содержит бизнес-логику сервиса bchgate.
type Service struct {
	repo     Repository
	balances BalanceSource
	prices   PriceSource
	deriver  AddressDeriver
	sweeper  DepositSweeper
	schedule *pricing.Schedule
	signer   *token.Signer
	logger   *zap.Logger

	locks *userLocks
	now   func() time.Time
}

// NewService создаёт новый сервис с указанными коллабораторами. sweeper может
// быть nil — тогда депозиты остаются на адресах пользователей.
func NewService(repo Repository, balances BalanceSource, prices PriceSource, deriver AddressDeriver, sweeper DepositSweeper, schedule *pricing.Schedule, signer *token.Signer, logger *zap.Logger) *Service {
	return &Service{
		repo:     repo,
		balances: balances,
		prices:   prices,
		deriver:  deriver,
		sweeper:  sweeper,
		schedule: schedule,
		signer:   signer,
		logger:   logger,
		locks:    newUserLocks(),
		now:      time.Now,
	}
}

// Close закрывает ресурсы сервиса.
func (s *Service) Close() error {
	if s.repo != nil {
		return s.repo.Close()
	}
	return nil
}

// RegisterUser регистрирует нового пользователя, назначая ему индекс
// деривации и депозитный адрес, и возвращает токен сессии.
func (s *Service) RegisterUser(ctx context.Context, email, password, name string) (*model.User, string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return nil, "", fmt.Errorf("hash password: %w", err)
	}

	u, err := s.repo.CreateUser(ctx, email, name, hash, s.deriver.AddressAt)
	if err != nil {
		return nil, "", err
	}

	session, err := s.signer.Sign(u.ID, 0, s.now().Add(sessionLifetime))
	if err != nil {
		return nil, "", err
	}

	return u, session, nil
}

// AuthenticateUser проверяет email и пароль пользователя и возвращает токен сессии.
func (s *Service) AuthenticateUser(ctx context.Context, email, password string) (*model.User, string, error) {
	u, err := s.repo.GetUserByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, repository.ErrUserNotFound) {
			return nil, "", ErrInvalidCredentials
		}
		return nil, "", err
	}

	if err := bcrypt.CompareHashAndPassword(u.PasswordHash, []byte(password)); err != nil {
		return nil, "", ErrInvalidCredentials
	}

	session, err := s.signer.Sign(u.ID, 0, s.now().Add(sessionLifetime))
	if err != nil {
		return nil, "", err
	}

	return u, session, nil
}

// GetUser возвращает пользователя по идентификатору.
func (s *Service) GetUser(ctx context.Context, id int64) (*model.User, error) {
	return s.repo.GetUserByID(ctx, id)
}

// UpdateProfile обновляет имя и, при непустом пароле, пароль пользователя.
func (s *Service) UpdateProfile(ctx context.Context, id int64, name, password string) error {
	var hash []byte
	if password != "" {
		var err error
		hash, err = bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
		if err != nil {
			return fmt.Errorf("hash password: %w", err)
		}
	}
	return s.repo.UpdateProfile(ctx, id, name, hash)
}

// DeleteUser удаляет аккаунт. Сохранённый API-токен исчезает вместе с ним,
// так что действующий токен сразу перестаёт проходить валидацию.
func (s *Service) DeleteUser(ctx context.Context, id int64) error {
	mu := s.locks.forUser(id)
	mu.Lock()
	defer mu.Unlock()

	return s.repo.DeleteUser(ctx, id)
}

// GetOperationsByUser возвращает историю изменений кредита пользователя.
func (s *Service) GetOperationsByUser(ctx context.Context, userID int64) ([]model.Operation, error) {
	return s.repo.GetOperationsByUser(ctx, userID)
}

// RefreshCredit сверяет on-chain баланс депозитного адреса с последним
// учтённым и конвертирует новые поступления в кредит по текущему курсу.
// Повторный вызов без нового депозита ничего не меняет. Возвращает кредит
// пользователя в долларах.
func (s *Service) RefreshCredit(ctx context.Context, userID int64) (float64, error) {
	mu := s.locks.forUser(userID)
	mu.Lock()
	defer mu.Unlock()

	u, err := s.repo.GetUserByID(ctx, userID)
	if err != nil {
		return 0, err
	}

	confirmed, unconfirmed, err := s.balances.GetBalance(ctx, u.BCHAddr)
	if err != nil {
		return 0, fmt.Errorf("%w: %s", ErrBalanceUnavailable, err)
	}

	observed := confirmed + unconfirmed
	if observed <= u.LastBalanceSat {
		if observed < u.LastBalanceSat {
			// Баланс депозитного адреса не должен уменьшаться: это
			// рассогласование индексатора, оно не конвертируется в списание.
			s.logger.Warn("observed balance decreased",
				zap.Int64("userID", userID),
				zap.Int64("observed", observed),
				zap.Int64("lastBalance", u.LastBalanceSat))
		}
		return u.Credit(), nil
	}

	usdPerBCH, err := s.prices.CurrentPrice(ctx)
	if err != nil {
		return 0, fmt.Errorf("%w: %s", ErrPriceUnavailable, err)
	}

	res, err := s.repo.ApplyDeposit(ctx, userID, observed, usdPerBCH)
	if err != nil {
		return 0, err
	}

	if res.AddedCents > 0 {
		s.logger.Info("deposit credited",
			zap.Int64("userID", userID),
			zap.Int64("deltaSat", res.DeltaSat),
			zap.Int64("addedCents", res.AddedCents))
		s.sweepDeposit(ctx, u)
	}

	return float64(res.CreditCents) / 100, nil
}

// sweepDeposit переводит зачисленный депозит на корпоративный кошелёк.
// Ошибка не мешает уже зафиксированному начислению и только логируется.
func (s *Service) sweepDeposit(ctx context.Context, u *model.User) {
	if s.sweeper == nil {
		return
	}

	txid, err := s.sweeper.SweepAddress(ctx, u.HDIndex)
	if err != nil {
		s.logger.Error("sweep deposit failed", zap.Int64("userID", u.ID), zap.Error(err))
		return
	}
	if txid != "" {
		s.logger.Info("deposit swept", zap.Int64("userID", u.ID), zap.String("txid", txid))
	}
}

// IssueToken выдаёт пользователю API-токен запрошенного уровня. За ещё
// действующий токен сначала начисляется пропорциональный возврат; возврат
// остаётся за пользователем и тогда, когда на новый тариф не хватает кредита
// и покупка завершается repository.ErrInsufficientCredit.
func (s *Service) IssueToken(ctx context.Context, userID int64, apiLevel int) (string, error) {
	mu := s.locks.forUser(userID)
	mu.Lock()
	defer mu.Unlock()

	priceCents, err := s.schedule.PriceOf(apiLevel)
	if err != nil {
		return "", err
	}

	u, err := s.repo.GetUserByID(ctx, userID)
	if err != nil {
		return "", err
	}

	now := s.now()

	if u.HasActiveToken(now) {
		refund := s.schedule.RefundFor(u.APILevel, u.APITokenExp, now)
		if refund > 0 {
			if _, err := s.repo.CreditUser(ctx, userID, refund, model.OperationRefund); err != nil {
				return "", fmt.Errorf("apply refund: %w", err)
			}
			s.logger.Info("token refund credited",
				zap.Int64("userID", userID),
				zap.Int("oldLevel", u.APILevel),
				zap.Int64("refundCents", refund))
		}
	}

	exp := now.Add(s.schedule.TokenLifetime())
	tokenString, err := s.signer.Sign(userID, apiLevel, exp)
	if err != nil {
		return "", err
	}

	if _, err := s.repo.PurchaseToken(ctx, userID, priceCents, tokenString, apiLevel, exp); err != nil {
		return "", err
	}

	return tokenString, nil
}

// ValidateToken проверяет API-токен. Любая ошибка — подписи, разбора, срока
// действия, несоответствия сохранённому токену — даёт isValid=false, наружу
// ошибки не выходят. Уровень тарифа берётся из записи пользователя, а не из
// claims токена: административная смена тарифа действует немедленно.
func (s *Service) ValidateToken(ctx context.Context, tokenString string) (isValid bool, apiLevel int) {
	claims, err := s.signer.Parse(tokenString)
	if err != nil {
		return false, 0
	}

	u, err := s.repo.GetUserByID(ctx, claims.UserID)
	if err != nil {
		return false, 0
	}

	if u.APIToken != tokenString {
		// Токен пересоздавался: старый, даже неистёкший, отозван.
		return false, 0
	}

	if !u.HasActiveToken(s.now()) {
		return false, 0
	}

	return true, u.APILevel
}
