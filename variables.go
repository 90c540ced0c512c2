package botprompts

import (
	"context"

	"github.com/lowtechclub/botprompts/repository"
	"github.com/rs/zerolog"
)

// VariablesService reads system variables subject to permission
// gating. A variable with no linked permissions is public; otherwise
// the caller must hold at least one of the linked permission names.
// Superusers see everything.
type VariablesService struct {
	repos  RepositoryManager
	logger zerolog.Logger
}

func NewVariablesService(repos RepositoryManager, logger zerolog.Logger) *VariablesService {
	return &VariablesService{
		repos:  repos,
		logger: logger.With().Str("component", "variables").Logger(),
	}
}

// Create stores a new variable and links it to the named permissions.
// Unknown permission names reject the whole request.
func (s *VariablesService) Create(ctx context.Context, name, displayName, value string, permissionNames []string) (*Variable, error) {
	permissions, err := s.resolvePermissions(ctx, permissionNames)
	if err != nil {
		return nil, err
	}

	variable, err := s.repos.Variables().Create(ctx, &Variable{
		Name:        name,
		DisplayName: displayName,
		Value:       value,
		IsActive:    true,
	})
	if err != nil {
		return nil, err
	}

	if err := s.repos.Variables().ReplacePermissions(ctx, variable, permissions); err != nil {
		return nil, err
	}

	s.logger.Info().Str("variable", name).Int("permissions", len(permissions)).Msg("variable created")
	return variable, nil
}

// Update applies field changes and, when permissionNames is non-nil,
// swaps the permission links. A nil list leaves the links alone; an
// empty list makes the variable public.
func (s *VariablesService) Update(ctx context.Context, variable *Variable, fields map[string]any, permissionNames []string) (*Variable, error) {
	permissions, err := s.resolvePermissions(ctx, permissionNames)
	if err != nil {
		return nil, err
	}

	if len(fields) > 0 {
		variable, err = s.repos.Variables().Update(ctx, variable, fields)
		if err != nil {
			return nil, err
		}
	}

	if permissionNames != nil {
		if err := s.repos.Variables().ReplacePermissions(ctx, variable, permissions); err != nil {
			return nil, err
		}
	} else if err := s.repos.Variables().LoadPermissions(ctx, variable); err != nil {
		return nil, err
	}
	return variable, nil
}

func (s *VariablesService) resolvePermissions(ctx context.Context, names []string) ([]*Permission, error) {
	permissions := make([]*Permission, 0, len(names))
	for _, name := range names {
		perm, err := s.repos.Permissions().GetByName(ctx, name)
		if err != nil {
			if repository.IsRecordNotFound(err) {
				s.logger.Warn().Str("permission", name).Msg("unknown permission name on variable")
				return nil, ErrInvalidPermission
			}
			return nil, err
		}
		permissions = append(permissions, perm)
	}
	return permissions, nil
}

// Visible reports whether the identity may read the variable. The
// variable's permission links must already be loaded.
func (s *VariablesService) Visible(variable *Variable, identity *Identity) bool {
	if variable == nil {
		return false
	}
	if len(variable.Permissions) == 0 {
		return true
	}
	if identity == nil {
		return false
	}
	for _, p := range variable.Permissions {
		if identity.Satisfies(p.Name) {
			return true
		}
	}
	return false
}

// GetValue loads a variable by name enforcing visibility. A variable
// the caller may not see reads as not-found, so its existence does not
// leak.
func (s *VariablesService) GetValue(ctx context.Context, name string, identity *Identity) (*Variable, error) {
	variable, err := s.repos.Variables().GetByName(ctx, name)
	if err != nil {
		return nil, err
	}
	if err := s.repos.Variables().LoadPermissions(ctx, variable); err != nil {
		return nil, err
	}

	if !s.Visible(variable, identity) {
		s.logger.Debug().Str("variable", name).Msg("variable hidden from caller")
		return nil, repository.NewRecordNotFound()
	}
	return variable, nil
}

// VisibleList filters a loaded variable list down to what the
// identity may see, loading permission links per variable.
func (s *VariablesService) VisibleList(ctx context.Context, variables []*Variable, identity *Identity) ([]*Variable, error) {
	out := make([]*Variable, 0, len(variables))
	for _, v := range variables {
		if err := s.repos.Variables().LoadPermissions(ctx, v); err != nil {
			return nil, err
		}
		if s.Visible(v, identity) {
			out = append(out, v)
		}
	}
	return out, nil
}
