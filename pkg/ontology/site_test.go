package ontology

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCoordinate_Validate(t *testing.T) {
	valid := []Coordinate{{0, 0}, {90, 180}, {-90, -180}, {25.5941, 85.1376}}
	for _, c := range valid {
		assert.NoError(t, c.Validate(), c.String())
	}

	invalid := []Coordinate{{90.0001, 0}, {-91, 0}, {0, 180.5}, {0, -181}}
	for _, c := range invalid {
		assert.ErrorIs(t, c.Validate(), ErrInvalidCoordinate, c.String())
	}
}
