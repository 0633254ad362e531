package civilization

import (
	"context"

	"github.com/smallbiznis/pantheon/internal/civilization/domain"
	"github.com/smallbiznis/pantheon/internal/civilization/service"
	religionservice "github.com/smallbiznis/pantheon/internal/religion/service"
	"go.uber.org/fx"
)

var Module = fx.Module("civilization.registry",
	fx.Provide(
		NewReligionLookup,
		service.New,
	),
	fx.Invoke(subscribeReligionDeletion),
)

type religionLookup struct {
	registry *religionservice.Registry
}

// NewReligionLookup exposes the religion registry to civilization rules as read-only views.
func NewReligionLookup(registry *religionservice.Registry) service.ReligionLookup {
	return religionLookup{registry: registry}
}

func (l religionLookup) LookupReligion(religionID string) (domain.ReligionView, bool) {
	religion, ok := l.registry.GetReligion(religionID)
	if !ok {
		return domain.ReligionView{}, false
	}
	return domain.ReligionView{
		ID:          religion.ID,
		Name:        religion.Name,
		Deity:       religion.Deity,
		FounderID:   religion.FounderID,
		MemberCount: religion.MemberCount(),
	}, true
}

func subscribeReligionDeletion(religions *religionservice.Registry, civilizations *service.Registry) {
	religions.Subscribe(func(ctx context.Context, religionID string) {
		civilizations.OnReligionDeleted(ctx, religionID)
	})
}
