package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"papertrade/internal/config"
	"papertrade/internal/models"
	"papertrade/internal/repository"
)

var (
	ErrNotFound     = errors.New("not found")
	ErrInvalidInput = errors.New("invalid input")
)

// AccountService manages accounts and portfolios.
type AccountService struct {
	Repo   repository.Repository
	Logger *zap.Logger
}

// Bootstrap ensures one account named {strategy}_{exchange} per enabled
// strategy and exchange, splitting paper.initial_capital evenly.
func (s *AccountService) Bootstrap(ctx context.Context, cfg config.Config) ([]models.Account, error) {
	if s == nil || s.Repo == nil {
		return nil, nil
	}
	type pair struct{ strategy, exchange string }
	var pairs []pair
	for _, name := range cfg.EnabledStrategies() {
		for _, ex := range cfg.Strategies[name].Exchanges {
			ex = strings.ToLower(strings.TrimSpace(ex))
			if ex != "" {
				pairs = append(pairs, pair{strategy: name, exchange: ex})
			}
		}
	}
	if len(pairs) == 0 {
		return nil, nil
	}
	capital := decimal.NewFromFloat(cfg.Paper.InitialCapital).DivRound(decimal.NewFromInt(int64(len(pairs))), 2)

	out := make([]models.Account, 0, len(pairs))
	for _, p := range pairs {
		acct, created, err := s.Repo.EnsureAccount(ctx, &models.Account{
			Name:           p.strategy + "_" + p.exchange,
			Exchange:       p.exchange,
			Strategy:       p.strategy,
			InitialCapital: capital,
			Active:         true,
		})
		if err != nil {
			return nil, fmt.Errorf("ensure account %s_%s: %w", p.strategy, p.exchange, err)
		}
		if created && s.Logger != nil {
			s.Logger.Info("account created",
				zap.String("account", acct.Name),
				zap.String("initial_capital", acct.InitialCapital.String()),
			)
		}
		out = append(out, *acct)
	}
	return out, nil
}

type CreateAccountInput struct {
	Name           string  `json:"name"`
	Exchange       string  `json:"exchange"`
	Strategy       string  `json:"strategy"`
	InitialCapital float64 `json:"initial_capital"`
}

func (s *AccountService) CreateAccount(ctx context.Context, in CreateAccountInput) (*models.Account, error) {
	name := strings.TrimSpace(in.Name)
	exchange := strings.ToLower(strings.TrimSpace(in.Exchange))
	strat := strings.TrimSpace(in.Strategy)
	if name == "" || exchange == "" || strat == "" {
		return nil, fmt.Errorf("%w: name, exchange and strategy are required", ErrInvalidInput)
	}
	if in.InitialCapital <= 0 {
		return nil, fmt.Errorf("%w: initial_capital must be > 0", ErrInvalidInput)
	}
	acct := &models.Account{
		Name:           name,
		Exchange:       exchange,
		Strategy:       strat,
		InitialCapital: decimal.NewFromFloat(in.InitialCapital),
		Active:         true,
	}
	if err := s.Repo.CreateAccount(ctx, acct); err != nil {
		return nil, err
	}
	return acct, nil
}

type UpdateAccountInput struct {
	Name   *string `json:"name"`
	Active *bool   `json:"active"`
}

func (s *AccountService) UpdateAccount(ctx context.Context, id uint64, in UpdateAccountInput) (*models.Account, error) {
	if in.Name != nil {
		v := strings.TrimSpace(*in.Name)
		if v == "" {
			return nil, fmt.Errorf("%w: name must not be empty", ErrInvalidInput)
		}
		in.Name = &v
	}
	existing, err := s.Repo.GetAccount(ctx, id)
	if err != nil {
		return nil, err
	}
	if existing == nil {
		return nil, ErrNotFound
	}
	return s.Repo.UpdateAccount(ctx, id, repository.UpdateAccountParams{Name: in.Name, Active: in.Active})
}

type CreatePortfolioInput struct {
	Name        string   `json:"name"`
	Description *string  `json:"description"`
	AccountIDs  []uint64 `json:"account_ids"`
}

func (s *AccountService) CreatePortfolio(ctx context.Context, in CreatePortfolioInput) (*models.Portfolio, error) {
	name := strings.TrimSpace(in.Name)
	if name == "" {
		return nil, fmt.Errorf("%w: name is required", ErrInvalidInput)
	}
	for _, id := range in.AccountIDs {
		acct, err := s.Repo.GetAccount(ctx, id)
		if err != nil {
			return nil, err
		}
		if acct == nil {
			return nil, fmt.Errorf("%w: account %d", ErrNotFound, id)
		}
	}
	p := &models.Portfolio{Name: name, Description: in.Description}
	if err := s.Repo.CreatePortfolio(ctx, p, in.AccountIDs...); err != nil {
		return nil, err
	}
	return p, nil
}

// AddMember is idempotent.
func (s *AccountService) AddMember(ctx context.Context, portfolioID, accountID uint64) error {
	if err := s.requireMembers(ctx, portfolioID, accountID); err != nil {
		return err
	}
	return s.Repo.AddPortfolioMember(ctx, portfolioID, accountID)
}

// RemoveMember is idempotent.
func (s *AccountService) RemoveMember(ctx context.Context, portfolioID, accountID uint64) error {
	p, err := s.Repo.GetPortfolio(ctx, portfolioID)
	if err != nil {
		return err
	}
	if p == nil {
		return fmt.Errorf("%w: portfolio %d", ErrNotFound, portfolioID)
	}
	return s.Repo.RemovePortfolioMember(ctx, portfolioID, accountID)
}

func (s *AccountService) requireMembers(ctx context.Context, portfolioID, accountID uint64) error {
	p, err := s.Repo.GetPortfolio(ctx, portfolioID)
	if err != nil {
		return err
	}
	if p == nil {
		return fmt.Errorf("%w: portfolio %d", ErrNotFound, portfolioID)
	}
	acct, err := s.Repo.GetAccount(ctx, accountID)
	if err != nil {
		return err
	}
	if acct == nil {
		return fmt.Errorf("%w: account %d", ErrNotFound, accountID)
	}
	return nil
}
