package usecase

import (
	"context"
	"fmt"

	"crmsync-backend/internal/crm/domain"
	"crmsync-backend/internal/crm/repository"
)

// Matcher resolves message participants to contacts and their deals.
type Matcher struct {
	lookup repository.LookupRepository
}

func NewMatcher(lookup repository.LookupRepository) *Matcher {
	return &Matcher{lookup: lookup}
}

// Match returns the contacts owning any of addresses and every deal those contacts belong to.
func (m *Matcher) Match(ctx context.Context, companyID string, addresses []string) (domain.Match, error) {
	var match domain.Match
	if len(addresses) == 0 {
		return match, nil
	}

	contacts, err := m.lookup.FindContactsByEmails(ctx, companyID, addresses)
	if err != nil {
		return match, fmt.Errorf("failed to look up contacts: %w", err)
	}
	if len(contacts) == 0 {
		return match, nil
	}

	seen := make(map[string]struct{}, len(contacts))
	for _, c := range contacts {
		if _, ok := seen[c.ID]; ok {
			continue
		}
		seen[c.ID] = struct{}{}
		match.ContactIDs = append(match.ContactIDs, c.ID)
	}

	match.DealIDs, err = m.lookup.FindDealIDsByContactIDs(ctx, companyID, match.ContactIDs)
	if err != nil {
		return match, fmt.Errorf("failed to look up deals: %w", err)
	}
	return match, nil
}
