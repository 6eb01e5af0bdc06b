package dialogue

import (
	"strings"

	"reasongate/internal/types"
)

// finalizableProgress is the threshold above which a conversation may
// be finalized.
const finalizableProgress = 0.8

// Progress derives the analysis progress scalar from caller-observable
// request state. The remote's self-assessment is never consulted: the
// finalizability signal must not be gameable by the model.
//
// Base 0.2, or 0.4 with three or more validated partial findings;
// +0.3 when a stuck point names a cause or issue; +0.2 for scopes over
// five files, +0.1 otherwise; capped at 0.95.
func Progress(reqCtx types.RequestContext) (progress float64, finalizable bool) {
	p := 0.2
	if len(reqCtx.PartialFindings) >= 3 {
		p = 0.4
	}
	for _, stuck := range reqCtx.StuckPoints {
		lower := strings.ToLower(stuck)
		if strings.Contains(lower, "cause") || strings.Contains(lower, "issue") {
			p += 0.3
			break
		}
	}
	if len(reqCtx.FocusArea.Files) > 5 {
		p += 0.2
	} else {
		p += 0.1
	}
	if p > 0.95 {
		p = 0.95
	}
	return p, p >= finalizableProgress
}
