// Package accounts serves bank lookups and provider-issued virtual accounts.
package accounts

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"payplatform/internal/common/cache"
	"payplatform/internal/directory"
	"payplatform/internal/providers"
	"payplatform/internal/settlement"
)

// ErrNoAccount is returned when the user has no virtual account yet.
var ErrNoAccount = errors.New("user has no virtual account")

// Config holds lookup cache configuration.
type Config struct {
	BankProvider  string        `envconfig:"BANK_DIRECTORY_PROVIDER" default:"rova"`
	BankListTTL   time.Duration `envconfig:"BANK_LIST_TTL" default:"24h"`
	NameLookupTTL time.Duration `envconfig:"NAME_LOOKUP_TTL" default:"1h"`
}

// Cache stores JSON values with a TTL. cache.Client implements it.
type Cache interface {
	GetJSON(ctx context.Context, key string, v any) error
	SetJSON(ctx context.Context, key string, v any, ttl time.Duration) error
}

// Users reads and assigns wallet accounts.
type Users interface {
	Payer(ctx context.Context, userID string) (settlement.Payer, error)
	SetVirtualAccount(ctx context.Context, userID, accountNumber string) error
}

// Service answers account lookups through a provider, caching read-only answers.
type Service struct {
	banks  providers.BankDirectory
	opener providers.AccountOpener
	users  Users
	cache  Cache
	config Config
	logger *slog.Logger
}

// NewService creates an accounts service. cache may be nil.
func NewService(banks providers.BankDirectory, opener providers.AccountOpener, users Users, c Cache, cfg Config, logger *slog.Logger) *Service {
	return &Service{
		banks:  banks,
		opener: opener,
		users:  users,
		cache:  c,
		config: cfg,
		logger: logger,
	}
}

// ListBanks returns the provider's bank directory.
func (s *Service) ListBanks(ctx context.Context) ([]providers.Bank, error) {
	key := "banks:" + s.banks.Name()
	var banks []providers.Bank
	if s.cached(ctx, key, &banks) {
		return banks, nil
	}

	banks, err := s.banks.ListBanks(ctx)
	if err != nil {
		return nil, fmt.Errorf("listing banks: %w", err)
	}
	s.store(ctx, key, banks, s.config.BankListTTL)
	return banks, nil
}

// VerifyAccountName resolves the holder name of a bank account.
func (s *Service) VerifyAccountName(ctx context.Context, accountNumber, bankCode string) (providers.AccountName, error) {
	key := "account_name:" + s.banks.Name() + ":" + bankCode + ":" + accountNumber
	var name providers.AccountName
	if s.cached(ctx, key, &name) {
		return name, nil
	}

	name, err := s.banks.VerifyAccountName(ctx, accountNumber, bankCode)
	if err != nil {
		return providers.AccountName{}, fmt.Errorf("verifying account name: %w", err)
	}
	s.store(ctx, key, name, s.config.NameLookupTTL)
	return name, nil
}

// OpenVirtualAccount opens a wallet account for the user, or returns the one they hold.
func (s *Service) OpenVirtualAccount(ctx context.Context, userID string) (providers.VirtualAccount, error) {
	user, err := s.users.Payer(ctx, userID)
	if err != nil {
		return providers.VirtualAccount{}, err
	}
	if user.AccountNumber != "" {
		return s.opener.AccountBalance(ctx, user.AccountNumber)
	}

	account, err := s.opener.OpenAccount(ctx, providers.OpenAccountRequest{
		Email:     user.Email,
		FirstName: user.FirstName,
		LastName:  user.LastName,
		Phone:     user.Phone,
	})
	if err != nil {
		return providers.VirtualAccount{}, fmt.Errorf("opening virtual account: %w", err)
	}

	if err := s.users.SetVirtualAccount(ctx, userID, account.AccountNumber); err != nil {
		if errors.Is(err, directory.ErrAccountAssigned) {
			s.logger.Warn("virtual account opened concurrently, keeping the first",
				"user_id", userID,
				"discarded_account", account.AccountNumber,
			)
			return s.Balance(ctx, userID)
		}
		return providers.VirtualAccount{}, err
	}

	s.logger.Info("virtual account opened", "user_id", userID, "account_number", account.AccountNumber)
	return account, nil
}

// Balance returns the user's virtual account with its balance.
func (s *Service) Balance(ctx context.Context, userID string) (providers.VirtualAccount, error) {
	user, err := s.users.Payer(ctx, userID)
	if err != nil {
		return providers.VirtualAccount{}, err
	}
	if user.AccountNumber == "" {
		return providers.VirtualAccount{}, ErrNoAccount
	}
	return s.opener.AccountBalance(ctx, user.AccountNumber)
}

func (s *Service) cached(ctx context.Context, key string, v any) bool {
	if s.cache == nil {
		return false
	}
	err := s.cache.GetJSON(ctx, key, v)
	if err != nil && !errors.Is(err, cache.ErrMiss) {
		s.logger.Warn("cache read failed", "key", key, "error", err)
	}
	return err == nil
}

func (s *Service) store(ctx context.Context, key string, v any, ttl time.Duration) {
	if s.cache == nil {
		return
	}
	if err := s.cache.SetJSON(ctx, key, v, ttl); err != nil {
		s.logger.Warn("cache write failed", "key", key, "error", err)
	}
}
