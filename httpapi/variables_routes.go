package httpapi

import (
	"context"

	"github.com/gofiber/fiber/v2"

	"github.com/lowtechclub/botprompts"
)

type variableCreateRequest struct {
	Name        string   `json:"name" form:"name"`
	DisplayName string   `json:"display_name" form:"display_name"`
	Value       string   `json:"value" form:"value"`
	Permissions []string `json:"permissions"`
}

// variableUpdateRequest distinguishes absent fields from empty ones. A
// nil Permissions list leaves the links alone; an empty list clears
// them, making the variable public.
type variableUpdateRequest struct {
	DisplayName *string  `json:"display_name"`
	Value       *string  `json:"value"`
	Permissions []string `json:"permissions"`
}

// registerVariableRoutes wires the administrative surface for system
// variables plus the permission-gated value read. Creation and updates
// bypass the generic handlers because the payload carries permission
// names that must resolve to real records. The value read accepts
// anonymous callers, who see what the guest role sees.
func (s *Server) registerVariableRoutes(api fiber.Router) {
	repos := s.manager.Repos()

	registerResource(s, api, "/sys/variables", resourceDescriptor[*botprompts.Variable, int64]{
		scopeName: "sys:variables",
		repo:      repos.Variables().Repository,
		parseID:   parseInt64ID,
		byName: func(ctx context.Context, name string) (*botprompts.Variable, error) {
			return repos.Variables().GetByName(ctx, name)
		},
	})

	api.Post("/sys/variables", s.requireScopes(botprompts.ScopeSuperuser, "sys:variables:create"), s.handleVariableCreate)
	api.Put("/sys/variables/:name_or_id", s.requireScopes(botprompts.ScopeSuperuser, "sys:variables:update"), s.handleVariableUpdate)

	api.Get("/vars/:name", s.requireScopes(), s.handleVariableValue)
}

func (s *Server) handleVariableCreate(c *fiber.Ctx) error {
	var req variableCreateRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(fiber.StatusUnprocessableEntity, "malformed request body")
	}

	variable, err := s.variables.Create(c.UserContext(), req.Name, req.DisplayName, req.Value, req.Permissions)
	if err != nil {
		return err
	}
	return c.JSON(variable)
}

func (s *Server) handleVariableUpdate(c *fiber.Ctx) error {
	ctx := c.UserContext()
	repos := s.manager.Repos()

	nameOrID := c.Params("name_or_id")
	var variable *botprompts.Variable
	var err error
	if id, ok := parseInt64ID(nameOrID); ok {
		variable, err = repos.Variables().Get(ctx, id)
	} else {
		variable, err = repos.Variables().GetByName(ctx, nameOrID)
	}
	if err != nil {
		return err
	}

	var req variableUpdateRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(fiber.StatusUnprocessableEntity, "malformed request body")
	}

	fields := map[string]any{}
	if req.DisplayName != nil {
		fields["display_name"] = *req.DisplayName
	}
	if req.Value != nil {
		fields["value"] = *req.Value
	}

	updated, err := s.variables.Update(ctx, variable, fields, req.Permissions)
	if err != nil {
		return err
	}
	return c.JSON(updated)
}

func (s *Server) handleVariableValue(c *fiber.Ctx) error {
	variable, err := s.variables.GetValue(c.UserContext(), c.Params("name"), callerIdentity(c))
	if err != nil {
		return err
	}
	return c.JSON(variable)
}
