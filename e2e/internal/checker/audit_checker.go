package checker

import (
	"context"
	"fmt"

	"github.com/saaga0h/mqtt-samples/e2e/internal/scenario"
	"github.com/saaga0h/mqtt-samples/internal/audit"
)

// EventAudit is the part of the PostgreSQL audit the checker reads
type EventAudit interface {
	Recent(ctx context.Context, limit int) ([]audit.Entry, error)
}

// auditReadLimit bounds how many audit rows a check reads
const auditReadLimit = 500

// CheckAuditExpectation validates the number of audited events of one kind
func CheckAuditExpectation(ctx context.Context, a EventAudit, exp scenario.Expectation) (bool, string, interface{}) {
	if a == nil {
		return false, "audit not enabled (set --postgres-dsn)", nil
	}

	entries, err := a.Recent(ctx, auditReadLimit)
	if err != nil {
		return false, fmt.Sprintf("postgres check failed: %v", err), nil
	}

	count := 0
	for _, e := range entries {
		if e.Kind == exp.Event {
			count++
		}
	}

	return checkCount(fmt.Sprintf("audited %s events", exp.Event), exp, count)
}
