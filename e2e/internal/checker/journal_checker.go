package checker

import (
	"context"
	"fmt"

	"github.com/saaga0h/mqtt-samples/e2e/internal/scenario"
	"github.com/saaga0h/mqtt-samples/internal/journal"
)

// DeliveryJournal is the part of the Redis journal the checker reads
type DeliveryJournal interface {
	Deliveries(ctx context.Context, limit int64) ([]journal.Delivery, error)
}

// journalReadLimit bounds how many journal entries a check reads
const journalReadLimit = 1000

// CheckJournalExpectation validates the number of journaled deliveries,
// optionally restricted to one topic
func CheckJournalExpectation(ctx context.Context, j DeliveryJournal, exp scenario.Expectation) (bool, string, interface{}) {
	if j == nil {
		return false, "journal not enabled (set --redis-addr)", nil
	}

	deliveries, err := j.Deliveries(ctx, journalReadLimit)
	if err != nil {
		return false, fmt.Sprintf("Redis error: %v", err), nil
	}

	count := 0
	for _, d := range deliveries {
		if exp.Topic == "" || d.Topic == exp.Topic {
			count++
		}
	}

	return checkCount("journaled deliveries", exp, count)
}
