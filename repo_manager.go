package botprompts

import (
	"context"
	"database/sql"
	"log"

	"github.com/goliatone/go-errors"
	"github.com/uptrace/bun"
)

// RepositoryManager exposes every store plus the shared transaction
// boundary.
type RepositoryManager interface {
	Validate() error
	MustValidate()
	RunInTx(ctx context.Context, opts *sql.TxOptions, f func(ctx context.Context, tx bun.Tx) error) error
	Users() *UsersRepository
	Roles() *RolesRepository
	Permissions() *PermissionsRepository
	Membership() *MembershipRepository
	Tokens() *TokensRepository
	Variables() *VariablesRepository
	Prompts() *PromptsRepository
}

type mngr struct {
	db          *bun.DB
	users       *UsersRepository
	roles       *RolesRepository
	permissions *PermissionsRepository
	membership  *MembershipRepository
	tokens      *TokensRepository
	variables   *VariablesRepository
	prompts     *PromptsRepository
}

func NewRepositoryManager(db *bun.DB) RepositoryManager {
	return &mngr{
		db:          db,
		users:       NewUsersRepository(db),
		roles:       NewRolesRepository(db),
		permissions: NewPermissionsRepository(db),
		membership:  NewMembershipRepository(db),
		tokens:      NewTokensRepository(db),
		variables:   NewVariablesRepository(db),
		prompts:     NewPromptsRepository(db),
	}
}

func (m mngr) Validate() error {
	if m.db == nil {
		return errors.New("repository manager requires a database handle", errors.CategoryBadInput)
	}
	if m.users == nil || m.roles == nil || m.permissions == nil {
		return errors.New("identity repositories should be initialized", errors.CategoryBadInput)
	}
	if m.tokens == nil || m.variables == nil || m.prompts == nil || m.membership == nil {
		return errors.New("domain repositories should be initialized", errors.CategoryBadInput)
	}
	return nil
}

func (m mngr) MustValidate() {
	if err := m.Validate(); err != nil {
		log.Panic(err)
	}
}

func (m mngr) RunInTx(ctx context.Context, opts *sql.TxOptions, f func(ctx context.Context, tx bun.Tx) error) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
		return m.db.RunInTx(ctx, opts, f)
	}
}

func (m mngr) Users() *UsersRepository             { return m.users }
func (m mngr) Roles() *RolesRepository             { return m.roles }
func (m mngr) Permissions() *PermissionsRepository { return m.permissions }
func (m mngr) Membership() *MembershipRepository   { return m.membership }
func (m mngr) Tokens() *TokensRepository           { return m.tokens }
func (m mngr) Variables() *VariablesRepository     { return m.variables }
func (m mngr) Prompts() *PromptsRepository         { return m.prompts }
