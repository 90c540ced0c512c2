package httpapi

import (
	"context"
	"encoding/json"
	"strconv"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"

	"github.com/lowtechclub/botprompts"
	"github.com/lowtechclub/botprompts/repository"
)

// listResponse is the wire shape for every generic listing
type listResponse struct {
	Data  any `json:"data"`
	Total int `json:"total"`
}

// resourceDescriptor wires one entity into the generic CRUD routes.
// The descriptor is data plus a handful of type-specific hooks; the
// route handlers themselves are shared across every entity.
type resourceDescriptor[T any, I comparable] struct {
	// scopeName prefixes the per-operation scopes, e.g. "sys:roles"
	// yields sys:roles:list, sys:roles:get and so on
	scopeName string
	repo      *repository.Repository[T, I]
	parseID   func(string) (I, bool)
	// byName resolves the entity's natural name, nil when the entity
	// has none (lookups are then id-only)
	byName func(context.Context, string) (T, error)
	// beforeCreate and beforeUpdate normalize inbound payloads, e.g.
	// hashing a plaintext password. beforeCreate gets the request so it
	// can pick up fields the model deliberately refuses to unmarshal.
	beforeCreate func(*fiber.Ctx, T) error
	beforeUpdate func(context.Context, map[string]any) error

	withCreate bool
	withUpdate bool
}

func registerResource[T any, I comparable](s *Server, api fiber.Router, prefix string, d resourceDescriptor[T, I]) {
	group := api.Group(prefix)

	group.Get("/", s.requireScopes(botprompts.ScopeSuperuser, d.scopeName+":list"), d.handleList)
	group.Get("/:name_or_id", s.requireScopes(botprompts.ScopeSuperuser, d.scopeName+":get"), d.handleGet)
	if d.withCreate {
		group.Post("/", s.requireScopes(botprompts.ScopeSuperuser, d.scopeName+":create"), d.handleCreate)
	}
	if d.withUpdate {
		group.Put("/:name_or_id", s.requireScopes(botprompts.ScopeSuperuser, d.scopeName+":update"), d.handleUpdate)
	}
	group.Delete("/:name_or_id", s.requireScopes(botprompts.ScopeSuperuser, d.scopeName+":delete"), d.handleDelete)
}

// resolve finds a record by its id or natural name
func (d resourceDescriptor[T, I]) resolve(ctx context.Context, nameOrID string) (T, error) {
	if id, ok := d.parseID(nameOrID); ok {
		return d.repo.Get(ctx, id)
	}
	if d.byName == nil {
		var zero T
		return zero, repository.NewRecordNotFound()
	}
	return d.byName(ctx, nameOrID)
}

func (d resourceDescriptor[T, I]) handleList(c *fiber.Ctx) error {
	ctx := c.UserContext()

	if raw := c.Query("ids"); raw != "" {
		var idStrings []string
		if err := json.Unmarshal([]byte(raw), &idStrings); err != nil {
			return fiber.NewError(fiber.StatusUnprocessableEntity, "ids must be a JSON array")
		}
		ids := make([]I, 0, len(idStrings))
		for _, s := range idStrings {
			if id, ok := d.parseID(s); ok {
				ids = append(ids, id)
			}
		}

		records, err := d.repo.GetByIDs(ctx, ids)
		if err != nil {
			return err
		}
		return c.JSON(listResponse{Data: records, Total: len(records)})
	}

	criteria := repository.Criteria{
		Filter:        map[string]any{},
		SortField:     c.Query("sort_field", "id"),
		SortDirection: c.Query("sort_order", repository.SortAsc),
		RangeStart:    c.QueryInt("range_start", 0),
		RangeEnd:      c.QueryInt("range_end", -1),
	}
	if raw := c.Query("filter"); raw != "" {
		if err := json.Unmarshal([]byte(raw), &criteria.Filter); err != nil {
			return fiber.NewError(fiber.StatusUnprocessableEntity, "filter must be a JSON object")
		}
	}

	records, err := d.repo.GetMany(ctx, criteria)
	if err != nil {
		return err
	}
	total, err := d.repo.TotalRows(ctx)
	if err != nil {
		return err
	}
	return c.JSON(listResponse{Data: records, Total: total})
}

func (d resourceDescriptor[T, I]) handleGet(c *fiber.Ctx) error {
	record, err := d.resolve(c.UserContext(), c.Params("name_or_id"))
	if err != nil {
		return err
	}
	return c.JSON(record)
}

func (d resourceDescriptor[T, I]) handleCreate(c *fiber.Ctx) error {
	ctx := c.UserContext()

	record := d.repo.NewRecord()
	if err := c.BodyParser(record); err != nil {
		return fiber.NewError(fiber.StatusUnprocessableEntity, "malformed request body")
	}
	if d.beforeCreate != nil {
		if err := d.beforeCreate(c, record); err != nil {
			return err
		}
	}

	created, err := d.repo.Create(ctx, record)
	if err != nil {
		return err
	}
	return c.JSON(created)
}

func (d resourceDescriptor[T, I]) handleUpdate(c *fiber.Ctx) error {
	ctx := c.UserContext()

	record, err := d.resolve(ctx, c.Params("name_or_id"))
	if err != nil {
		return err
	}

	fields := map[string]any{}
	if err := json.Unmarshal(c.Body(), &fields); err != nil {
		return fiber.NewError(fiber.StatusUnprocessableEntity, "malformed request body")
	}
	delete(fields, "id")
	if d.beforeUpdate != nil {
		if err := d.beforeUpdate(ctx, fields); err != nil {
			return err
		}
	}

	updated, err := d.repo.Update(ctx, record, fields)
	if err != nil {
		return err
	}
	return c.JSON(updated)
}

func (d resourceDescriptor[T, I]) handleDelete(c *fiber.Ctx) error {
	ctx := c.UserContext()

	record, err := d.resolve(ctx, c.Params("name_or_id"))
	if err != nil {
		return err
	}

	if err := d.repo.Delete(ctx, record, true); err != nil {
		return err
	}
	return c.SendStatus(fiber.StatusOK)
}

func parseInt64ID(s string) (int64, bool) {
	id, err := strconv.ParseInt(s, 10, 64)
	return id, err == nil
}

func parseUUIDID(s string) (uuid.UUID, bool) {
	id, err := uuid.Parse(s)
	return id, err == nil
}

// registerResourceRoutes wires the administrative CRUD surface for
// every system entity under /sys.
func (s *Server) registerResourceRoutes(api fiber.Router) {
	repos := s.manager.Repos()

	registerResource(s, api, "/sys/users", resourceDescriptor[*botprompts.User, uuid.UUID]{
		scopeName: "sys:users",
		repo:      repos.Users().Repository,
		parseID:   parseUUIDID,
		byName: func(ctx context.Context, name string) (*botprompts.User, error) {
			return repos.Users().GetByDisplayName(ctx, name)
		},
		beforeCreate: s.prepareUserCreate,
		beforeUpdate: s.hashPasswordField,
		withCreate:   true,
		withUpdate:   true,
	})

	registerResource(s, api, "/sys/roles", resourceDescriptor[*botprompts.Role, int64]{
		scopeName: "sys:roles",
		repo:      repos.Roles().Repository,
		parseID:   parseInt64ID,
		byName: func(ctx context.Context, name string) (*botprompts.Role, error) {
			return repos.Roles().GetByName(ctx, name)
		},
		withCreate: true,
		withUpdate: true,
	})

	registerResource(s, api, "/sys/permissions", resourceDescriptor[*botprompts.Permission, int64]{
		scopeName: "sys:permissions",
		repo:      repos.Permissions().Repository,
		parseID:   parseInt64ID,
		byName: func(ctx context.Context, name string) (*botprompts.Permission, error) {
			return repos.Permissions().GetByName(ctx, name)
		},
		withCreate: true,
		withUpdate: true,
	})

	// tokens are issued by the system, never created or edited by hand
	registerResource(s, api, "/sys/tokens", resourceDescriptor[*botprompts.Token, int64]{
		scopeName: "sys:tokens",
		repo:      repos.Tokens().Repository,
		parseID:   parseInt64ID,
	})
}

// prepareUserCreate hashes the inbound plaintext password before the
// row is written. The user model never unmarshals its password field,
// so the plaintext is pulled straight from the request body.
func (s *Server) prepareUserCreate(c *fiber.Ctx, u *botprompts.User) error {
	var secret struct {
		Password string `json:"password" form:"password"`
	}
	if err := c.BodyParser(&secret); err != nil {
		return fiber.NewError(fiber.StatusUnprocessableEntity, "malformed request body")
	}

	digest, err := s.manager.Hasher().Hash(secret.Password)
	if err != nil {
		return err
	}
	u.Password = digest
	return nil
}

func (s *Server) hashPasswordField(_ context.Context, fields map[string]any) error {
	raw, ok := fields["password"]
	if !ok {
		return nil
	}
	plaintext, ok := raw.(string)
	if !ok {
		return fiber.NewError(fiber.StatusUnprocessableEntity, "password must be a string")
	}
	digest, err := s.manager.Hasher().Hash(plaintext)
	if err != nil {
		return err
	}
	fields["password"] = digest
	return nil
}
