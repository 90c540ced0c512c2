package httpapi

import (
	"context"

	"github.com/gofiber/fiber/v2"

	"github.com/lowtechclub/botprompts"
	"github.com/lowtechclub/botprompts/repository"
)

type permissionIDsRequest struct {
	PermissionIDs []int64 `json:"permission_ids"`
}

type roleIDsRequest struct {
	RoleIDs []int64 `json:"role_ids"`
}

// registerMembershipRoutes wires the role-permission and user-role
// link management under the resource prefixes. The bare POST sets the
// full membership via a symmetric diff; /add and /remove apply
// incremental, idempotent changes.
func (s *Server) registerMembershipRoutes(api fiber.Router) {
	roles := api.Group("/sys/roles/:name_or_id/perms")
	roles.Post("/", s.requireScopes(botprompts.ScopeSuperuser, "sys:roles:edit"), s.handleRolePermsSet)
	roles.Post("/add", s.requireScopes(botprompts.ScopeSuperuser, "sys:roles:edit"), s.handleRolePermsAdd)
	roles.Post("/remove", s.requireScopes(botprompts.ScopeSuperuser, "sys:roles:edit"), s.handleRolePermsRemove)

	users := api.Group("/sys/users/:name_or_id/roles")
	users.Post("/", s.requireScopes(botprompts.ScopeSuperuser, "sys:users:edit"), s.handleUserRolesSet)
	users.Post("/add", s.requireScopes(botprompts.ScopeSuperuser, "sys:users:edit"), s.handleUserRolesAdd)
	users.Post("/remove", s.requireScopes(botprompts.ScopeSuperuser, "sys:users:edit"), s.handleUserRolesRemove)
}

func (s *Server) resolveRoleParam(ctx context.Context, nameOrID string) (*botprompts.Role, error) {
	repos := s.manager.Repos()
	if id, ok := parseInt64ID(nameOrID); ok {
		role, err := repos.Roles().Get(ctx, id)
		if err != nil {
			if repository.IsRecordNotFound(err) {
				return nil, botprompts.ErrRoleDoesNotExist
			}
			return nil, err
		}
		return role, nil
	}

	role, err := repos.Roles().GetByName(ctx, nameOrID)
	if err != nil {
		if repository.IsRecordNotFound(err) {
			return nil, botprompts.ErrRoleDoesNotExist
		}
		return nil, err
	}
	return role, nil
}

func (s *Server) resolveUserParam(ctx context.Context, nameOrID string) (*botprompts.User, error) {
	repos := s.manager.Repos()
	if id, ok := parseUUIDID(nameOrID); ok {
		user, err := repos.Users().Get(ctx, id)
		if err != nil {
			if repository.IsRecordNotFound(err) {
				return nil, botprompts.ErrUserDoesNotExist
			}
			return nil, err
		}
		return user, nil
	}

	user, err := repos.Users().GetByDisplayName(ctx, nameOrID)
	if err != nil {
		if repository.IsRecordNotFound(err) {
			return nil, botprompts.ErrUserDoesNotExist
		}
		return nil, err
	}
	return user, nil
}

// roleWithPermissions reloads the role's permission set for the
// response body.
func (s *Server) roleWithPermissions(ctx context.Context, role *botprompts.Role) (*botprompts.Role, error) {
	if err := s.manager.Repos().Roles().LoadPermissions(ctx, role); err != nil {
		return nil, err
	}
	return role, nil
}

func (s *Server) userWithRoles(ctx context.Context, user *botprompts.User) (*botprompts.User, error) {
	if err := s.manager.Repos().Users().LoadRoles(ctx, user); err != nil {
		return nil, err
	}
	return user, nil
}

func (s *Server) handleRolePermsSet(c *fiber.Ctx) error {
	ctx := c.UserContext()

	role, err := s.resolveRoleParam(ctx, c.Params("name_or_id"))
	if err != nil {
		return err
	}

	payload := new(permissionIDsRequest)
	if err := c.BodyParser(payload); err != nil {
		return fiber.NewError(fiber.StatusUnprocessableEntity, "malformed request body")
	}

	// only ids naming real permissions participate in the diff
	perms, err := s.manager.Repos().Permissions().GetByIDs(ctx, payload.PermissionIDs)
	if err != nil {
		return err
	}
	ids := make([]int64, 0, len(perms))
	for _, p := range perms {
		ids = append(ids, p.ID)
	}

	if err := s.manager.SetRolePermissions(ctx, role, ids); err != nil {
		return err
	}

	role, err = s.roleWithPermissions(ctx, role)
	if err != nil {
		return err
	}
	return c.JSON(role)
}

func (s *Server) handleRolePermsAdd(c *fiber.Ctx) error {
	return s.mutateRolePerms(c, s.manager.AddPermissionsToRole)
}

func (s *Server) handleRolePermsRemove(c *fiber.Ctx) error {
	return s.mutateRolePerms(c, s.manager.RemovePermissionsFromRole)
}

func (s *Server) mutateRolePerms(c *fiber.Ctx, apply func(context.Context, *botprompts.Role, []*botprompts.Permission) error) error {
	ctx := c.UserContext()

	role, err := s.resolveRoleParam(ctx, c.Params("name_or_id"))
	if err != nil {
		return err
	}

	payload := new(permissionIDsRequest)
	if err := c.BodyParser(payload); err != nil {
		return fiber.NewError(fiber.StatusUnprocessableEntity, "malformed request body")
	}

	perms, err := s.manager.Repos().Permissions().GetByIDs(ctx, payload.PermissionIDs)
	if err != nil {
		return err
	}

	if err := apply(ctx, role, perms); err != nil {
		return err
	}

	role, err = s.roleWithPermissions(ctx, role)
	if err != nil {
		return err
	}
	return c.JSON(role)
}

func (s *Server) handleUserRolesSet(c *fiber.Ctx) error {
	ctx := c.UserContext()

	user, err := s.resolveUserParam(ctx, c.Params("name_or_id"))
	if err != nil {
		return err
	}

	payload := new(roleIDsRequest)
	if err := c.BodyParser(payload); err != nil {
		return fiber.NewError(fiber.StatusUnprocessableEntity, "malformed request body")
	}

	roles, err := s.manager.Repos().Roles().GetByIDs(ctx, payload.RoleIDs)
	if err != nil {
		return err
	}
	ids := make([]int64, 0, len(roles))
	for _, r := range roles {
		ids = append(ids, r.ID)
	}

	if err := s.manager.SetUserRoles(ctx, user, ids); err != nil {
		return err
	}

	user, err = s.userWithRoles(ctx, user)
	if err != nil {
		return err
	}
	return c.JSON(user)
}

func (s *Server) handleUserRolesAdd(c *fiber.Ctx) error {
	return s.mutateUserRoles(c, s.manager.AddRolesToUser)
}

func (s *Server) handleUserRolesRemove(c *fiber.Ctx) error {
	return s.mutateUserRoles(c, s.manager.RemoveRolesFromUser)
}

func (s *Server) mutateUserRoles(c *fiber.Ctx, apply func(context.Context, *botprompts.User, []*botprompts.Role) error) error {
	ctx := c.UserContext()

	user, err := s.resolveUserParam(ctx, c.Params("name_or_id"))
	if err != nil {
		return err
	}

	payload := new(roleIDsRequest)
	if err := c.BodyParser(payload); err != nil {
		return fiber.NewError(fiber.StatusUnprocessableEntity, "malformed request body")
	}

	roles, err := s.manager.Repos().Roles().GetByIDs(ctx, payload.RoleIDs)
	if err != nil {
		return err
	}

	if err := apply(ctx, user, roles); err != nil {
		return err
	}

	user, err = s.userWithRoles(ctx, user)
	if err != nil {
		return err
	}
	return c.JSON(user)
}
