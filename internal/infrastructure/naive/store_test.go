package naive

import (
	"testing"

	"github.com/fleetshift/deployctl/internal/domain"
	"github.com/fleetshift/deployctl/internal/domain/storerepotest"
)

func TestStoreContract(t *testing.T) {
	storerepotest.Run(t, func(t *testing.T) domain.Store {
		return NewStore()
	})
}
