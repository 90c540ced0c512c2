package botprompts

import (
	"context"
	"strings"
	"sync"

	"github.com/goliatone/go-errors"
	"github.com/gosimple/slug"
	"github.com/lowtechclub/botprompts/repository"
	"github.com/rs/zerolog"
)

// historyBuffer caps pending access records before they drop
const historyBuffer = 256

type promptAccess struct {
	promptID   int64
	revisionID int64
}

// PromptsService manages versioned prompts: each prompt has a unique
// slug and a revision trail with exactly one current revision. Reads
// of a prompt detail feed an append-only usage history through a
// background recorder so the request path never waits on the write.
type PromptsService struct {
	repos  RepositoryManager
	logger zerolog.Logger

	accesses chan promptAccess
	done     chan struct{}
	once     sync.Once
}

func NewPromptsService(repos RepositoryManager, logger zerolog.Logger) *PromptsService {
	s := &PromptsService{
		repos:    repos,
		logger:   logger.With().Str("component", "prompts").Logger(),
		accesses: make(chan promptAccess, historyBuffer),
		done:     make(chan struct{}),
	}
	go s.recordLoop()
	return s
}

// Close drains and stops the history recorder
func (s *PromptsService) Close() {
	s.once.Do(func() {
		close(s.accesses)
		<-s.done
	})
}

func (s *PromptsService) recordLoop() {
	defer close(s.done)
	for access := range s.accesses {
		ctx := context.Background()
		if err := s.repos.Prompts().RecordAccess(ctx, access.promptID, access.revisionID); err != nil {
			s.logger.Error().
				Err(err).
				Int64("prompt_id", access.promptID).
				Msg("could not record prompt access")
		}
	}
}

// Slugify normalizes free text into a prompt slug
func Slugify(s string) string {
	return slug.Make(s)
}

// Get loads an active prompt by slug with its current revision, and
// optionally the full revision trail.
func (s *PromptsService) Get(ctx context.Context, slugValue string, withHistory bool) (*Prompt, error) {
	prompt, err := s.repos.Prompts().GetBySlug(ctx, slugValue)
	if err != nil {
		if repository.IsRecordNotFound(err) {
			return nil, ErrPromptDoesNotExist
		}
		return nil, err
	}
	if withHistory {
		if err := s.repos.Prompts().LoadHistory(ctx, prompt); err != nil {
			return nil, err
		}
	}
	return prompt, nil
}

// GetAndRecord loads a prompt and queues a usage history row. The
// queue is bounded; under pressure the access is dropped with a log
// rather than stalling the read.
func (s *PromptsService) GetAndRecord(ctx context.Context, slugValue string) (*Prompt, error) {
	prompt, err := s.Get(ctx, slugValue, false)
	if err != nil {
		return nil, err
	}

	select {
	case s.accesses <- promptAccess{promptID: prompt.ID, revisionID: prompt.Revision.ID}:
	default:
		s.logger.Warn().Str("slug", prompt.Slug).Msg("history queue full, access dropped")
	}
	return prompt, nil
}

// List returns the flattened active prompts joined to their current
// revisions.
func (s *PromptsService) List(ctx context.Context) ([]*PromptListRow, error) {
	return s.repos.Prompts().CurrentList(ctx)
}

// Create inserts a prompt under a slug derived from the given name,
// with the first revision marked current. A taken slug is rejected.
func (s *PromptsService) Create(ctx context.Context, name, description, promptText string) (*Prompt, error) {
	slugValue := Slugify(name)
	if slugValue == "" {
		return nil, errors.New("prompt name is required", errors.CategoryBadInput).
			WithCode(errors.CodeBadRequest)
	}

	prompt, err := s.repos.Prompts().CreateWithRevision(ctx, &Prompt{Slug: slugValue}, description, promptText)
	if err != nil {
		if repository.IsConstraintViolation(err) {
			return nil, NewValidationError([]string{TextCodePromptAlreadyExists})
		}
		return nil, err
	}

	s.logger.Info().Str("slug", slugValue).Msg("prompt created")
	return prompt, nil
}

// Update appends a new current revision to exactly one prompt. The
// fields may carry either the prompt text, the description or both;
// unchanged values carry over from the retiring revision.
func (s *PromptsService) Update(ctx context.Context, slugValue string, description, promptText *string) (*Prompt, error) {
	prompt, err := s.Get(ctx, slugValue, false)
	if err != nil {
		return nil, err
	}

	newDescription := prompt.Revision.Description
	if description != nil {
		newDescription = *description
	}
	newText := prompt.Revision.PromptText
	if promptText != nil {
		newText = *promptText
	}

	if newDescription == prompt.Revision.Description && newText == prompt.Revision.PromptText {
		return prompt, nil
	}

	return s.repos.Prompts().AppendRevision(ctx, prompt, newDescription, newText)
}

// Delete removes a prompt by slug. Soft delete hides the prompt while
// keeping the revision trail; hard delete removes the prompt row.
func (s *PromptsService) Delete(ctx context.Context, slugValue string, hard bool) error {
	prompt, err := s.Get(ctx, strings.TrimSpace(slugValue), false)
	if err != nil {
		return err
	}

	if err := s.repos.Prompts().Delete(ctx, prompt, hard); err != nil {
		return errors.Wrap(err, errors.CategoryInternal, "failed to delete prompt")
	}
	s.logger.Info().Str("slug", prompt.Slug).Bool("hard", hard).Msg("prompt deleted")
	return nil
}
