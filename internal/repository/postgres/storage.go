package postgres

import (
	"context"
	"fmt"

	"github.com/sorcerlabs/auctionflow/internal/repository"
)

type Storage struct {
	db DBTX
}

func NewStorage(db DBTX) repository.Storage {
	return &Storage{db: db}
}

func (s *Storage) User() repository.UserRepo {
	return &UserRepo{DB: s.db}
}

func (s *Storage) Credit() repository.CreditRepo {
	return &CreditRepo{DB: s.db}
}

func (s *Storage) Item() repository.ItemRepo {
	return &ItemRepo{DB: s.db}
}

func (s *Storage) Setting() repository.SettingRepo {
	return &SettingRepo{DB: s.db}
}

func (s *Storage) WebhookEvent() repository.WebhookEventRepo {
	return &WebhookEventRepo{DB: s.db}
}

func (s *Storage) InTx(ctx context.Context, fn func(repository.Storage) error) (err error) {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("db tx error: %w", err)
	}

	defer func() {
		switch err {
		case nil:
			err = tx.Commit(ctx)
		default:
			_ = tx.Rollback(ctx)
		}
	}()

	err = fn(NewStorage(tx))

	return err
}
