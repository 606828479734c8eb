package sqlite

import (
	"testing"

	"github.com/fleetshift/deployctl/internal/domain"
	"github.com/fleetshift/deployctl/internal/domain/storerepotest"
)

func TestStoreContract(t *testing.T) {
	storerepotest.Run(t, func(t *testing.T) domain.Store {
		db := OpenTestDB(t)
		return &Store{DB: db}
	})
}
