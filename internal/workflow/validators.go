package workflow

import (
	"context"
	"fmt"
	"strings"

	"osline/internal/domain"
)

func requireChecklist(ctx context.Context, c Check) error {
	items, err := c.Reader.ListChecklistItems(ctx, c.Order.ID, c.Order.Stage)
	if err != nil {
		return Persistence("list checklist items", err)
	}
	required, done := 0, 0
	for _, it := range items {
		if !it.Required {
			continue
		}
		required++
		if it.Done {
			done++
		}
	}
	if required == 0 {
		return Invalid("no required checklist items configured")
	}
	if done < required {
		return Invalid(fmt.Sprintf("required checklist incomplete (%d/%d complete)", done, required))
	}
	return nil
}

func requireAssets(kinds ...domain.AssetKind) Validator {
	return func(ctx context.Context, c Check) error {
		var missing []string
		for _, kind := range kinds {
			assets, err := c.Reader.ListAssets(ctx, c.Order.ID, kind)
			if err != nil {
				return Persistence("list assets", err)
			}
			if len(assets) == 0 {
				missing = append(missing, string(kind))
			}
		}
		switch len(missing) {
		case 0:
			return nil
		case 1:
			return Invalid("missing required asset: " + missing[0])
		default:
			return Invalid("missing required assets: " + strings.Join(missing, ", "))
		}
	}
}

func requireInternalApproval(_ context.Context, c Check) error {
	if !c.Order.InternalApproved {
		return Invalid("internal approval required before external approval")
	}
	return nil
}

func requireExternalApproval(_ context.Context, c Check) error {
	if !c.Order.ExternalApproved {
		return Invalid("external approval required before scheduling")
	}
	return nil
}

func webhookOnly(context.Context, Check) error {
	return Invalid("transition to POSTADO only permitted via webhook")
}
