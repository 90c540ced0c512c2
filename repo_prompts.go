package botprompts

import (
	"context"
	"strings"

	"github.com/goliatone/go-errors"
	"github.com/lowtechclub/botprompts/repository"
	"github.com/uptrace/bun"
)

// PromptListRow is the flattened prompt+current-revision projection
// used by the current-prompts listing.
type PromptListRow struct {
	ID          int64  `json:"id"`
	RevisionID  int64  `json:"revision_id"`
	Slug        string `json:"slug"`
	IsActive    bool   `json:"is_active"`
	Description string `json:"description"`
	PromptText  string `json:"prompt_text"`
	CreatedAt   string `json:"created_at"`
	UpdatedAt   string `json:"updated_at"`
}

// PromptsRepository is the prompts store, covering the prompt rows,
// their revisions and the append-only access history.
type PromptsRepository struct {
	*repository.Repository[*Prompt, int64]
	revisions *repository.Repository[*PromptRevision, int64]
	history   *repository.Repository[*PromptHistory, int64]
	db        *bun.DB
}

func NewPromptsRepository(db *bun.DB) *PromptsRepository {
	prompts := repository.NewRepository(db, repository.ModelHandlers[*Prompt, int64]{
		NewRecord: func() *Prompt { return &Prompt{} },
		GetID: func(p *Prompt) int64 {
			if p == nil {
				return 0
			}
			return p.ID
		},
		SetID: func(p *Prompt, id int64) {
			if p != nil {
				p.ID = id
			}
		},
	})

	revisions := repository.NewRepository(db, repository.ModelHandlers[*PromptRevision, int64]{
		NewRecord: func() *PromptRevision { return &PromptRevision{} },
		GetID: func(r *PromptRevision) int64 {
			if r == nil {
				return 0
			}
			return r.ID
		},
		SetID: func(r *PromptRevision, id int64) {
			if r != nil {
				r.ID = id
			}
		},
	})

	history := repository.NewRepository(db, repository.ModelHandlers[*PromptHistory, int64]{
		NewRecord: func() *PromptHistory { return &PromptHistory{} },
		GetID: func(h *PromptHistory) int64 {
			if h == nil {
				return 0
			}
			return h.ID
		},
		SetID: func(h *PromptHistory, id int64) {
			if h != nil {
				h.ID = id
			}
		},
	})

	return &PromptsRepository{
		Repository: prompts,
		revisions:  revisions,
		history:    history,
		db:         db,
	}
}

// Revisions exposes the revision adapter for generic listings
func (r *PromptsRepository) Revisions() *repository.Repository[*PromptRevision, int64] {
	return r.revisions
}

// GetBySlug loads an active prompt by slug, with its current revision
// attached. Returns not-found for inactive or missing slugs.
func (r *PromptsRepository) GetBySlug(ctx context.Context, slug string) (*Prompt, error) {
	record := &Prompt{}
	err := r.db.NewSelect().
		Model(record).
		Where("?TableAlias.slug = ?", strings.TrimSpace(slug)).
		Where("?TableAlias.is_active = TRUE").
		Limit(1).
		Scan(ctx)
	if err != nil {
		if repository.IsRecordNotFound(err) {
			return nil, repository.NewRecordNotFound().WithMetadata(map[string]any{
				"slug": slug,
			})
		}
		return nil, errors.Wrap(err, errors.CategoryInternal, "failed to load prompt by slug")
	}

	if err := r.LoadCurrentRevision(ctx, record); err != nil {
		return nil, err
	}
	return record, nil
}

// LoadCurrentRevision attaches the single is_current revision
func (r *PromptsRepository) LoadCurrentRevision(ctx context.Context, prompt *Prompt) error {
	if prompt == nil {
		return errors.New("prompt is required", errors.CategoryBadInput)
	}

	rev := &PromptRevision{}
	err := r.db.NewSelect().
		Model(rev).
		Where("?TableAlias.prompt_id = ?", prompt.ID).
		Where("?TableAlias.is_current = TRUE").
		Limit(1).
		Scan(ctx)
	if err != nil {
		if repository.IsRecordNotFound(err) {
			return errors.New("prompt has no current revision", errors.CategoryInternal).
				WithMetadata(map[string]any{"prompt_id": prompt.ID})
		}
		return errors.Wrap(err, errors.CategoryInternal, "failed to load current revision")
	}

	prompt.Revision = rev
	return nil
}

// LoadHistory attaches every active revision, newest first. Fetching
// history is expensive, so callers opt in.
func (r *PromptsRepository) LoadHistory(ctx context.Context, prompt *Prompt) error {
	if prompt == nil {
		return errors.New("prompt is required", errors.CategoryBadInput)
	}

	revs := []*PromptRevision{}
	err := r.db.NewSelect().
		Model(&revs).
		Where("?TableAlias.prompt_id = ?", prompt.ID).
		Where("?TableAlias.is_active = TRUE").
		OrderExpr("?TableAlias.id DESC").
		Scan(ctx)
	if err != nil {
		return errors.Wrap(err, errors.CategoryInternal, "failed to load prompt history")
	}

	prompt.History = revs
	return nil
}

// CurrentList returns the flattened list of active prompts joined to
// their current revision, ordered by slug.
func (r *PromptsRepository) CurrentList(ctx context.Context) ([]*PromptListRow, error) {
	rows := []*PromptListRow{}
	err := r.db.NewRaw(`
		SELECT
			p.id, pr.id AS revision_id, p.slug, p.is_active,
			pr.description, pr.prompt_text, pr.created_at, pr.updated_at
		FROM prompts p
			INNER JOIN prompts_revisions pr ON pr.prompt_id = p.id AND pr.is_current = TRUE
		WHERE p.is_active = TRUE
		ORDER BY p.slug ASC
	`).Scan(ctx, &rows)
	if err != nil {
		return nil, errors.Wrap(err, errors.CategoryInternal, "failed to list current prompts")
	}
	return rows, nil
}

// CreateWithRevision inserts the prompt and its first revision in one
// transaction, marking the revision current.
func (r *PromptsRepository) CreateWithRevision(ctx context.Context, prompt *Prompt, description, promptText string) (*Prompt, error) {
	err := r.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		prompt.IsActive = true
		if _, err := r.Repository.CreateTx(ctx, tx, prompt); err != nil {
			return err
		}

		rev := &PromptRevision{
			PromptID:    prompt.ID,
			IsCurrent:   true,
			Description: description,
			PromptText:  promptText,
			IsActive:    true,
		}
		if _, err := r.revisions.CreateTx(ctx, tx, rev); err != nil {
			return err
		}

		prompt.Revision = rev
		return nil
	})
	if err != nil {
		return nil, err
	}
	return prompt, nil
}

// AppendRevision demotes the current revision and inserts a fresh one
// marked current, in one transaction. The old revision stays in the
// trail.
func (r *PromptsRepository) AppendRevision(ctx context.Context, prompt *Prompt, description, promptText string) (*Prompt, error) {
	if prompt == nil || prompt.Revision == nil {
		return nil, errors.New("prompt with current revision is required", errors.CategoryBadInput)
	}

	err := r.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		if _, err := r.revisions.UpdateTx(ctx, tx, prompt.Revision, map[string]any{
			"is_current": false,
		}); err != nil {
			return err
		}

		rev := &PromptRevision{
			PromptID:    prompt.ID,
			IsCurrent:   true,
			Description: description,
			PromptText:  promptText,
			IsActive:    true,
		}
		if _, err := r.revisions.CreateTx(ctx, tx, rev); err != nil {
			return err
		}

		prompt.Revision = rev
		return nil
	})
	if err != nil {
		return nil, err
	}
	return prompt, nil
}

// RecordAccess appends one history row for a prompt read
func (r *PromptsRepository) RecordAccess(ctx context.Context, promptID, revisionID int64) error {
	_, err := r.history.Create(ctx, &PromptHistory{
		PromptID:   promptID,
		RevisionID: revisionID,
		IsActive:   true,
	})
	return err
}
