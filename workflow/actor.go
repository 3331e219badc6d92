package workflow

import (
	"context"

	"github.com/mmdatafocus/hoa_backend/utils"
)

// Actor is the caller on whose behalf an operation runs.
type Actor struct {
	Username string
	Role     string
}

// SystemActor stamps writes made by scheduled jobs.
var SystemActor = Actor{Username: "system:reconciler", Role: utils.RoleOfficial}

// ActorFromContext builds the actor the session middleware put on ctx.
func ActorFromContext(ctx context.Context) Actor {
	username, _ := utils.GetUsernameFromContext(ctx)
	actor := Actor{Username: username, Role: utils.RoleMember}
	if isAdmin, ok := utils.GetIsAdminFromContext(ctx); ok && isAdmin {
		actor.Role = utils.RoleOfficial
	}
	return actor
}

// Authorizer answers whether an actor may edit dues and override member status.
type Authorizer interface {
	IsAuthorized(ctx context.Context, actor Actor) bool
}

// RoleAuthorizer trusts the role claim carried on the actor.
type RoleAuthorizer struct{}

func (RoleAuthorizer) IsAuthorized(_ context.Context, actor Actor) bool {
	return actor.Username != "" && actor.Role == utils.RoleOfficial
}
