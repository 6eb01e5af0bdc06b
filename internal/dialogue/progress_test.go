package dialogue

import (
	"math"
	"testing"

	"reasongate/internal/types"
)

func TestProgressModel(t *testing.T) {
	manyFiles := []string{"a.go", "b.go", "c.go", "d.go", "e.go", "f.go"}
	findings := make([]types.Finding, 3)

	tests := []struct {
		name        string
		ctx         types.RequestContext
		want        float64
		finalizable bool
	}{
		{
			name: "bare context",
			ctx:  types.RequestContext{FocusArea: types.CodeScope{Files: []string{"a.go"}}},
			want: 0.3,
		},
		{
			name: "findings raise the base",
			ctx: types.RequestContext{
				PartialFindings: findings,
				FocusArea:       types.CodeScope{Files: []string{"a.go"}},
			},
			want: 0.5,
		},
		{
			name: "stuck point names a cause",
			ctx: types.RequestContext{
				StuckPoints: []string{"narrowed the root cause to the cache layer"},
				FocusArea:   types.CodeScope{Files: []string{"a.go"}},
			},
			want: 0.6,
		},
		{
			name: "wide scope with findings and cause",
			ctx: types.RequestContext{
				PartialFindings: findings,
				StuckPoints:     []string{"the issue reproduces on writes"},
				FocusArea:       types.CodeScope{Files: manyFiles},
			},
			want:        0.9,
			finalizable: true,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, finalizable := Progress(tt.ctx)
			if math.Abs(got-tt.want) > 1e-9 {
				t.Fatalf("progress = %v, want %v", got, tt.want)
			}
			if finalizable != tt.finalizable {
				t.Fatalf("finalizable = %v, want %v", finalizable, tt.finalizable)
			}
		})
	}
}
