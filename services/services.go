package services

import (
	"context"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/pkg/errors"

	"shop-service/database"
	"shop-service/models"
	"shop-service/utils"
)

// EventPublisher delivers order lifecycle events to other services.
type EventPublisher interface {
	Publish(ctx context.Context, ev models.OrderEvent) error
}

// NopPublisher drops every event. It is used when messaging is disabled.
type NopPublisher struct{}

func (NopPublisher) Publish(context.Context, models.OrderEvent) error { return nil }

type Options struct {
	DefaultPageLimit   int
	MaxPageLimit       int
	AllowNegativeStock bool
}

var validate = validator.New()

// validationError turns validator failures into a BadRequest listing the
// offending fields.
func validationError(err error) error {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return errors.Wrap(err, "validate")
	}
	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		if fe.Param() != "" {
			msgs = append(msgs, fmt.Sprintf("%s must satisfy %s=%s", fe.Field(), fe.Tag(), fe.Param()))
			continue
		}
		msgs = append(msgs, fmt.Sprintf("%s is %s", fe.Field(), fe.Tag()))
	}
	return utils.BadRequest("%s", strings.Join(msgs, ", "))
}

// populate resolves user references in place. References to unknown users
// keep only their id.
func populate(ctx context.Context, users database.UserRepository, withEmail bool, refs ...*models.UserRef) error {
	if len(refs) == 0 {
		return nil
	}
	seen := make(map[string]struct{}, len(refs))
	ids := make([]string, 0, len(refs))
	for _, ref := range refs {
		if _, ok := seen[ref.ID]; ok || ref.ID == "" {
			continue
		}
		seen[ref.ID] = struct{}{}
		ids = append(ids, ref.ID)
	}

	found, err := users.FindByIDs(ctx, ids)
	if err != nil {
		return errors.Wrap(err, "populate users")
	}
	for _, ref := range refs {
		u, ok := found[ref.ID]
		if !ok {
			continue
		}
		ref.Name = u.Name
		if withEmail {
			ref.Email = u.Email
		}
	}
	return nil
}
