package botprompts

import (
	"context"

	"github.com/goliatone/go-errors"
	"github.com/google/uuid"
	"github.com/lowtechclub/botprompts/repository"
	"github.com/uptrace/bun"
)

// TokensRepository is the sys_users_tokens store
type TokensRepository struct {
	*repository.Repository[*Token, int64]
	db *bun.DB
}

func NewTokensRepository(db *bun.DB) *TokensRepository {
	repo := repository.NewRepository(db, repository.ModelHandlers[*Token, int64]{
		NewRecord: func() *Token { return &Token{} },
		GetID: func(t *Token) int64 {
			if t == nil {
				return 0
			}
			return t.ID
		},
		SetID: func(t *Token, id int64) {
			if t != nil {
				t.ID = id
			}
		},
	})
	return &TokensRepository{Repository: repo, db: db}
}

// GetByValue loads the persisted token row matching the token string
// and type.
func (r *TokensRepository) GetByValue(ctx context.Context, value string, tokenType TokenType) (*Token, error) {
	return r.GetByValueTx(ctx, r.db, value, tokenType)
}

func (r *TokensRepository) GetByValueTx(ctx context.Context, tx bun.IDB, value string, tokenType TokenType) (*Token, error) {
	record := &Token{}
	err := tx.NewSelect().
		Model(record).
		Where("?TableAlias.token = ?", value).
		Where("?TableAlias.token_type = ?", tokenType).
		Limit(1).
		Scan(ctx)
	if err != nil {
		if repository.IsRecordNotFound(err) {
			return nil, repository.NewRecordNotFound().WithMetadata(map[string]any{
				"token_type": tokenType,
			})
		}
		return nil, errors.Wrap(err, errors.CategoryInternal, "failed to load token")
	}
	return record, nil
}

// DeleteRow removes a token row physically. Single-use redemption
// always deletes, never deactivates.
func (r *TokensRepository) DeleteRow(ctx context.Context, token *Token) error {
	return r.DeleteRowTx(ctx, r.db, token)
}

func (r *TokensRepository) DeleteRowTx(ctx context.Context, tx bun.IDB, token *Token) error {
	_, err := tx.NewDelete().
		Model(token).
		WherePK().
		Exec(ctx)
	if err != nil {
		return errors.Wrap(err, errors.CategoryInternal, "failed to delete token")
	}
	return nil
}

// DeleteForUser removes every token of the given type held by a user.
// Used to invalidate older verification or reset tokens when a fresh
// one is issued.
func (r *TokensRepository) DeleteForUser(ctx context.Context, userID uuid.UUID, tokenType TokenType) error {
	_, err := r.db.NewDelete().
		Model((*Token)(nil)).
		Where("?TableAlias.user_id = ?", userID).
		Where("?TableAlias.token_type = ?", tokenType).
		Exec(ctx)
	if err != nil {
		return errors.Wrap(err, errors.CategoryInternal, "failed to delete user tokens")
	}
	return nil
}
