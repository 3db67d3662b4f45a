package usecase

import (
	"context"
	"strings"
	"testing"

	"crmsync-backend/internal/crm/domain"
	"crmsync-backend/internal/crm/repository"
	"crmsync-backend/pkg/database"
)

func TestMatch(t *testing.T) {
	db, err := database.Open("sqlite::memory:")
	if err != nil {
		t.Fatalf("database.Open() error: %v", err)
	}
	if err := db.AutoMigrate(&domain.Contact{}, &domain.Deal{}, &domain.DealContact{}); err != nil {
		t.Fatalf("AutoMigrate() error: %v", err)
	}

	seed := []interface{}{
		&domain.Contact{ID: "c1", CompanyID: "co", Email: "Alice@Client.com"},
		&domain.Contact{ID: "c2", CompanyID: "co", Email: "bob@client.com"},
		&domain.Contact{ID: "c3", CompanyID: "other", Email: "carol@client.com"},
		&domain.Deal{ID: "d1", CompanyID: "co"},
		&domain.Deal{ID: "d2", CompanyID: "co"},
		&domain.DealContact{DealID: "d1", ContactID: "c1"},
		&domain.DealContact{DealID: "d1", ContactID: "c2"},
		&domain.DealContact{DealID: "d2", ContactID: "c2"},
	}
	for _, row := range seed {
		if err := db.Create(row).Error; err != nil {
			t.Fatalf("seed error: %v", err)
		}
	}

	m := NewMatcher(repository.NewLookupRepository(db))
	tests := []struct {
		name      string
		addresses []string
		contacts  string
		deals     string
	}{
		{"case-insensitive union", []string{"alice@client.com", "BOB@client.com", "stranger@x.com"}, "c1,c2", "d1,d2"},
		{"company scoped", []string{"carol@client.com"}, "", ""},
		{"no addresses", nil, "", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := m.Match(context.Background(), "co", tt.addresses)
			if err != nil {
				t.Fatalf("Match() error: %v", err)
			}
			if c := strings.Join(got.ContactIDs, ","); c != tt.contacts {
				t.Errorf("contacts = %q, want %q", c, tt.contacts)
			}
			if d := strings.Join(got.DealIDs, ","); d != tt.deals {
				t.Errorf("deals = %q, want %q", d, tt.deals)
			}
		})
	}
}
