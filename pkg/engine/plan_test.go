package engine

import (
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPlan(t *testing.T) {
	live := &State{Rev: "2-a"}
	gone := &State{Rev: "3-b", Deleted: true}

	tests := []struct {
		name    string
		current *State
		doc     Doc
		status  int
		action  Action
		gen     int
	}{
		{"new without id", nil, Doc{}, 0, CreateAction, 1},
		{"new with id", nil, Doc{FieldID: "a"}, 0, CreateAction, 1},
		{"unknown id with rev", nil, Doc{FieldID: "a", FieldRev: "1-x"}, http.StatusConflict, "", 0},
		{"delete unknown", nil, Doc{FieldID: "a", FieldRev: "1-x", FieldDeleted: true}, http.StatusNotFound, "", 0},
		{"delete without id", nil, Doc{FieldDeleted: true}, http.StatusNotFound, "", 0},
		{"live without rev", live, Doc{FieldID: "a"}, http.StatusConflict, "", 0},
		{"live with rev", live, Doc{FieldID: "a", FieldRev: "2-a"}, 0, UpdateAction, 3},
		{"live with stale rev", live, Doc{FieldID: "a", FieldRev: "1-z"}, http.StatusConflict, "", 0},
		{"delete live", live, Doc{FieldID: "a", FieldRev: "2-a", FieldDeleted: true}, 0, DeleteAction, 3},
		{"delete stale", live, Doc{FieldID: "a", FieldRev: "1-z", FieldDeleted: true}, http.StatusConflict, "", 0},
		{"recreate deleted", gone, Doc{FieldID: "a"}, 0, CreateAction, 4},
		{"resurrect with rev", gone, Doc{FieldID: "a", FieldRev: "3-b"}, 0, CreateAction, 4},
		{"delete deleted", gone, Doc{FieldID: "a", FieldRev: "3-b", FieldDeleted: true}, http.StatusNotFound, "", 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w, err := Plan(tt.current, tt.doc)
			if tt.status != 0 {
				require.NotNil(t, err)
				assert.Equal(t, tt.status, err.Status)
				return
			}
			require.Nil(t, err)
			assert.Equal(t, tt.action, w.Action)
			assert.Equal(t, tt.gen, Generation(w.Rev))
			assert.NotEmpty(t, w.ID)
			assert.Equal(t, tt.action == DeleteAction, w.Deleted)
		})
	}
}
