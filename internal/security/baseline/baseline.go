// Package baseline provides a reference security.Auditor implementation
// checking the same class of invariant the config generator's secure
// defaults enforce, following the teacher's recurring
// "Validate() []error accumulate, then report" shape used throughout its
// options packages.
package baseline

import (
	"github.com/openclaw/reconciler-core/internal/security"
)

// Auditor is a minimal reference implementation of security.Auditor. It
// blocks configs that still carry an insecure default despite the
// generator's secure-defaults pass (defense in depth against a future
// generator regression), and warns on lower-severity observations.
type Auditor struct{}

var _ security.Auditor = (*Auditor)(nil)

func New() *Auditor { return &Auditor{} }

func (a *Auditor) Audit(manifestCfg map[string]any, finalCfg map[string]any) (security.Verdict, error) {
	var blockers, warnings []security.Finding

	if auth, _ := finalCfg["gatewayAuth"].(map[string]any); auth != nil {
		_, hasToken := auth["token"]
		_, hasPassword := auth["password"]
		if !hasToken && !hasPassword {
			blockers = append(blockers, security.Finding{
				Field:   "gatewayAuth",
				Message: "no gateway authentication configured",
			})
		}
	} else {
		blockers = append(blockers, security.Finding{
			Field:   "gatewayAuth",
			Message: "gatewayAuth block missing entirely",
		})
	}

	if elevated, _ := finalCfg["elevatedToolsEnabled"].(bool); elevated {
		allowList, _ := finalCfg["elevatedToolsAllowList"].([]any)
		if len(allowList) == 0 {
			blockers = append(blockers, security.Finding{
				Field:   "elevatedToolsEnabled",
				Message: "elevated tools enabled with an empty allow-list",
			})
		}
	}

	if redaction, ok := finalCfg["logRedaction"].(string); !ok || redaction == "" {
		warnings = append(warnings, security.Finding{
			Field:   "logRedaction",
			Message: "log redaction not configured",
		})
	}

	return security.Verdict{
		Allowed:  len(blockers) == 0,
		Blockers: blockers,
		Warnings: warnings,
	}, nil
}
