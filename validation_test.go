package shelfdb

import (
	"math"
	"regexp"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shelfdb/shelfdb.go/pkg/models"
)

func TestRuleCheck(t *testing.T) {
	notBob := func(v any, _ models.Document) bool { return v != "bob" }
	sameAsOther := func(v any, doc models.Document) bool { return v == doc["other"] }

	tests := []struct {
		name  string
		rule  Rule
		doc   models.Document
		valid bool
	}{
		{"string", IsType(TypeString), models.Document{"f": "x"}, true},
		{"string given number", IsType(TypeString), models.Document{"f": 1}, false},
		{"type implies presence", IsType(TypeString), models.Document{}, false},
		{"number int", IsType(TypeNumber), models.Document{"f": 3}, true},
		{"number uint64", IsType(TypeNumber), models.Document{"f": uint64(3)}, true},
		{"number float", IsType(TypeNumber), models.Document{"f": 2.5}, true},
		{"number NaN", IsType(TypeNumber), models.Document{"f": math.NaN()}, false},
		{"number given text", IsType(TypeNumber), models.Document{"f": "3"}, false},
		{"boolean", IsType(TypeBoolean), models.Document{"f": false}, true},
		{"boolean given number", IsType(TypeBoolean), models.Document{"f": 0}, false},
		{"date", IsType(TypeDate), models.Document{"f": time.Now()}, true},
		{"date as text", IsType(TypeDate), models.Document{"f": "2024-05-01T10:00:00Z"}, true},
		{"date given text", IsType(TypeDate), models.Document{"f": "yesterday"}, false},
		{"object", IsType(TypeObject), models.Document{"f": map[string]any{}}, true},
		{"object document", IsType(TypeObject), models.Document{"f": models.Document{}}, true},
		{"object given array", IsType(TypeObject), models.Document{"f": []any{}}, false},
		{"array", IsType(TypeArray), models.Document{"f": []any{1}}, true},
		{"array of strings", IsType(TypeArray), models.Document{"f": []string{}}, true},
		{"array given object", IsType(TypeArray), models.Document{"f": map[string]any{}}, false},
		{"unknown type", IsType("uuid"), models.Document{"f": "x"}, false},
		{"required present", Required(), models.Document{"f": "x"}, true},
		{"required false is a value", Required(), models.Document{"f": false}, true},
		{"required missing", Required(), models.Document{}, false},
		{"required nil", Required(), models.Document{"f": nil}, false},
		{"required empty text", Required(), models.Document{"f": ""}, false},
		{"required zero", Required(), models.Document{"f": 0}, false},
		{"required NaN", Required(), models.Document{"f": math.NaN()}, false},
		{"not required missing", Rule{}, models.Document{}, true},
		{"custom", Custom(notBob), models.Document{"f": "ann"}, true},
		{"custom fails", Custom(notBob), models.Document{"f": "bob"}, false},
		{"custom sees document", Custom(sameAsOther), models.Document{"f": 1, "other": 1}, true},
		{"pattern", Matches(regexp.MustCompile(`^[a-z]+$`)), models.Document{"f": "abc"}, true},
		{"pattern fails", Matches(regexp.MustCompile(`^[a-z]+$`)), models.Document{"f": "ABC"}, false},
		{"pattern given number", Matches(regexp.MustCompile(`^\d+$`)), models.Document{"f": 12}, false},
		{"combined", Rule{Type: TypeString, Required: true, Validate: notBob}, models.Document{"f": "bob"}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.rule.check("f", tt.doc)
			if tt.valid {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.ErrorIs(t, err, ErrValidationFailed)

			var shelfErr *Error
			require.ErrorAs(t, err, &shelfErr)
			assert.Equal(t, "f", shelfErr.Field)
		})
	}
}

func TestValidateReportsFirstFieldInOrder(t *testing.T) {
	rules := map[string]Rule{
		"b": Required(),
		"a": Required(),
		"c": IsType(TypeString),
	}

	err := validate(rules, models.Document{"c": "ok"})
	var shelfErr *Error
	require.ErrorAs(t, err, &shelfErr)
	assert.Equal(t, "a", shelfErr.Field)
	assert.Contains(t, err.Error(), "not empty")

	assert.NoError(t, validate(rules, models.Document{"a": 1, "b": true, "c": "x"}))
	assert.NoError(t, validate(nil, models.Document{}))
}

func TestTypeMessage(t *testing.T) {
	err := IsType(TypeString).check("f", models.Document{"f": 1})
	require.Error(t, err)
	assert.Equal(t, "shelfdb: validate: validation failed (field f): expected type string, was number", err.Error())
}
