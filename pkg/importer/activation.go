package importer

import (
	"context"

	"github.com/Gobusters/ectologger"

	"github.com/recambia/recambia/pkg/events"
	"github.com/recambia/recambia/pkg/models"
	"github.com/recambia/recambia/pkg/tracing"
)

// Activator owns the single activation rule: a part is sellable when its
// price is valid and it has at least one resolved vehicle relation. Every
// path that could change either input re-evaluates through here.
type Activator struct {
	parts     PartStore
	relations RelationStore
	emitter   *events.Emitter
	logger    ectologger.Logger
}

// NewActivator creates a new activator.
func NewActivator(parts PartStore, relations RelationStore, emitter *events.Emitter, logger ectologger.Logger) *Activator {
	return &Activator{
		parts:     parts,
		relations: relations,
		emitter:   emitter,
		logger:    logger,
	}
}

// Evaluate recomputes the activation state of a part and writes it only when
// it changed. Returns the resulting state.
func (a *Activator) Evaluate(ctx context.Context, p *models.Part) (bool, error) {
	ctx, span := tracing.StartSpan(ctx, "importer.Activator.Evaluate")
	defer span.End()

	priceOK := PriceValid(p.Precio)

	hasRelation := false
	if priceOK {
		var err error
		hasRelation, err = a.relations.HasResolved(ctx, p.ID)
		if err != nil {
			return false, err
		}
	}

	active := priceOK && hasRelation
	changed, err := a.parts.SetActive(ctx, p.ID, active)
	if err != nil {
		return false, err
	}

	if changed {
		a.logger.WithContext(ctx).WithFields(map[string]any{
			"part_id":      p.ID,
			"active":       active,
			"price_valid":  priceOK,
			"has_relation": hasRelation,
		}).Debug("Part activation changed")

		if active {
			a.emitter.EmitPartActivated(ctx, p)
		}
	}

	return active, nil
}
