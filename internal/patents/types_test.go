package patents

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSearchSpec_Validate(t *testing.T) {
	tests := []struct {
		name    string
		spec    SearchSpec
		wantErr string
	}{
		{
			name: "valid minimal",
			spec: SearchSpec{Term: "aspirin"},
		},
		{
			name: "valid full",
			spec: SearchSpec{Term: "semaglutide", Limit: 100, Countries: []string{"US", "ep"},
				UseLogin: true, GetDetails: true, MaxDetails: 10},
		},
		{
			name:    "missing term",
			spec:    SearchSpec{},
			wantErr: "term",
		},
		{
			name:    "blank term",
			spec:    SearchSpec{Term: "   "},
			wantErr: "term",
		},
		{
			name:    "limit too large",
			spec:    SearchSpec{Term: "aspirin", Limit: 1001},
			wantErr: "limit",
		},
		{
			name:    "max details above limit",
			spec:    SearchSpec{Term: "aspirin", Limit: 5, MaxDetails: 6},
			wantErr: "max_details",
		},
		{
			name:    "max details above default limit",
			spec:    SearchSpec{Term: "aspirin", MaxDetails: 51},
			wantErr: "max_details",
		},
		{
			name:    "unknown country",
			spec:    SearchSpec{Term: "aspirin", Countries: []string{"US", "XX"}},
			wantErr: "countries",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.spec.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			var verr *ValidationError
			require.ErrorAs(t, err, &verr)
			assert.Equal(t, tt.wantErr, verr.Field)
		})
	}
}

func TestSearchSpec_Normalized(t *testing.T) {
	spec := SearchSpec{Term: "  aspirin ", Countries: []string{"us", " ep"}}
	norm := spec.Normalized()

	assert.Equal(t, "aspirin", norm.Term)
	assert.Equal(t, DefaultLimit, norm.Limit)
	assert.Equal(t, []string{"US", "EP"}, norm.Countries)

	// The original spec is left untouched.
	assert.Equal(t, 0, spec.Limit)
	assert.Equal(t, []string{"us", " ep"}, spec.Countries)
}
