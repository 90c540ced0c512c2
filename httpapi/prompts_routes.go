package httpapi

import (
	"encoding/json"

	"github.com/gofiber/fiber/v2"

	"github.com/lowtechclub/botprompts"
	"github.com/lowtechclub/botprompts/repository"
)

type promptCreateRequest struct {
	Name        string `json:"name" form:"name"`
	Description string `json:"description" form:"description"`
	PromptText  string `json:"prompt_text" form:"prompt_text"`
}

type promptUpdateRequest struct {
	IDs  []int64 `json:"ids"`
	Data struct {
		Description *string `json:"description"`
		PromptText  *string `json:"prompt_text"`
	} `json:"data"`
}

type promptListResponse struct {
	Prompts []*botprompts.Prompt `json:"prompts"`
	Total   int                  `json:"total"`
}

type promptCurrentListResponse struct {
	Prompts []*botprompts.PromptListRow `json:"prompts"`
	Total   int                         `json:"total"`
}

func (s *Server) registerPromptRoutes(api fiber.Router) {
	group := api.Group("/prompts")

	group.Get("/", s.requireScopes(botprompts.ScopeSuperuser, "prompts:list"), s.handlePromptList)
	group.Get("/current", s.requireScopes(botprompts.ScopeSuperuser, "prompts:get"), s.handlePromptCurrentList)
	group.Get("/detail/:slug", s.requireScopes(botprompts.ScopeSuperuser, "prompts:get"), s.handlePromptDetail)
	group.Post("/", s.requireScopes(botprompts.ScopeSuperuser, "prompts:create"), s.handlePromptCreate)
	group.Put("/", s.requireScopes(botprompts.ScopeSuperuser, "prompts:update"), s.handlePromptUpdate)
	group.Delete("/:slug", s.requireScopes(botprompts.ScopeSuperuser, "prompts:delete"), s.handlePromptDelete)
}

func (s *Server) handlePromptList(c *fiber.Ctx) error {
	ctx := c.UserContext()
	repo := s.manager.Repos().Prompts()
	withHistory := c.QueryBool("history", false)

	var (
		records []*botprompts.Prompt
		total   int
		err     error
	)

	if raw := c.Query("ids"); raw != "" {
		var ids []int64
		if jsonErr := json.Unmarshal([]byte(raw), &ids); jsonErr != nil {
			return fiber.NewError(fiber.StatusUnprocessableEntity, "ids must be a JSON array")
		}
		records, err = repo.GetByIDs(ctx, ids)
		if err != nil {
			return err
		}
		total = len(records)
	} else {
		criteria := repository.Criteria{
			Filter:        map[string]any{},
			SortField:     c.Query("sort_field", "id"),
			SortDirection: c.Query("sort_order", repository.SortAsc),
			RangeStart:    c.QueryInt("range_start", 0),
			RangeEnd:      c.QueryInt("range_end", -1),
		}
		if raw := c.Query("filter"); raw != "" {
			if jsonErr := json.Unmarshal([]byte(raw), &criteria.Filter); jsonErr != nil {
				return fiber.NewError(fiber.StatusUnprocessableEntity, "filter must be a JSON object")
			}
		}

		records, err = repo.GetMany(ctx, criteria)
		if err != nil {
			return err
		}
		total, err = repo.TotalRows(ctx)
		if err != nil {
			return err
		}
	}

	for _, record := range records {
		if err := repo.LoadCurrentRevision(ctx, record); err != nil {
			return err
		}
		// fetching history is an expensive operation, callers opt in
		if withHistory {
			if err := repo.LoadHistory(ctx, record); err != nil {
				return err
			}
		}
	}

	return c.JSON(promptListResponse{Prompts: records, Total: total})
}

func (s *Server) handlePromptCurrentList(c *fiber.Ctx) error {
	rows, err := s.prompts.List(c.UserContext())
	if err != nil {
		return err
	}
	return c.JSON(promptCurrentListResponse{Prompts: rows, Total: len(rows)})
}

// handlePromptDetail serves one prompt by slug and queues an access
// history row in the background.
func (s *Server) handlePromptDetail(c *fiber.Ctx) error {
	ctx := c.UserContext()

	prompt, err := s.prompts.GetAndRecord(ctx, c.Params("slug"))
	if err != nil {
		return err
	}

	if c.QueryBool("history", false) {
		if err := s.manager.Repos().Prompts().LoadHistory(ctx, prompt); err != nil {
			return err
		}
	}
	return c.JSON(prompt)
}

func (s *Server) handlePromptCreate(c *fiber.Ctx) error {
	payload := new(promptCreateRequest)
	if err := c.BodyParser(payload); err != nil {
		return fiber.NewError(fiber.StatusUnprocessableEntity, "malformed request body")
	}

	prompt, err := s.prompts.Create(c.UserContext(), payload.Name, payload.Description, payload.PromptText)
	if err != nil {
		return err
	}
	return c.JSON(prompt)
}

// handlePromptUpdate appends a revision to exactly one prompt. Bulk
// updates are rejected so a revision trail is never skipped.
func (s *Server) handlePromptUpdate(c *fiber.Ctx) error {
	ctx := c.UserContext()

	payload := new(promptUpdateRequest)
	if err := c.BodyParser(payload); err != nil {
		return fiber.NewError(fiber.StatusUnprocessableEntity, "malformed request body")
	}
	if len(payload.IDs) != 1 {
		return botprompts.ErrPromptUpdateOnlyOne
	}

	record, err := s.manager.Repos().Prompts().Get(ctx, payload.IDs[0])
	if err != nil {
		if repository.IsRecordNotFound(err) {
			return botprompts.ErrPromptDoesNotExist
		}
		return err
	}

	prompt, err := s.prompts.Update(ctx, record.Slug, payload.Data.Description, payload.Data.PromptText)
	if err != nil {
		return err
	}
	return c.JSON(prompt)
}

func (s *Server) handlePromptDelete(c *fiber.Ctx) error {
	if err := s.prompts.Delete(c.UserContext(), c.Params("slug"), false); err != nil {
		return err
	}
	return c.SendStatus(fiber.StatusOK)
}
