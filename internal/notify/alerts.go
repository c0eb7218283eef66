package notify

import (
	"fmt"
	"strings"
	"time"

	"github.com/alanyoungcy/priceoracle/internal/domain"
)

// Alert is a rendered notification ready for delivery.
type Alert struct {
	Event   string
	Title   string
	Message string
}

// CycleAlerts derives the alerts a finished cycle should raise. A spread
// alert fires when spreadAlertBps > 0 and the consensus spread exceeds it.
func CycleAlerts(res domain.ConsensusResult, spreadAlertBps float64) []Alert {
	var out []Alert
	if res.Degraded() {
		out = append(out, Alert{
			Event:   EventCycleDegraded,
			Title:   fmt.Sprintf("%s: no consensus price", res.Pair),
			Message: joinMessages(res.Messages, "no quotes collected"),
		})
	}
	if len(res.Dropped) > 0 {
		ids := make([]string, len(res.Dropped))
		for i, q := range res.Dropped {
			ids[i] = q.SourceID
		}
		out = append(out, Alert{
			Event:   EventOutliersDropped,
			Title:   fmt.Sprintf("%s: %d outlier(s) dropped", res.Pair, len(res.Dropped)),
			Message: "sources: " + strings.Join(ids, ", "),
		})
	}
	if spreadAlertBps > 0 && res.SpreadMaxBps != nil && *res.SpreadMaxBps > spreadAlertBps {
		out = append(out, Alert{
			Event:   EventSpreadAlert,
			Title:   fmt.Sprintf("%s: spread %.2f bps", res.Pair, *res.SpreadMaxBps),
			Message: fmt.Sprintf("cross-source spread above %.2f bps at median %.6f", spreadAlertBps, derefOr(res.MedianMid)),
		})
	}
	return out
}

// ArchiveAlert reports a completed archive run.
func ArchiveAlert(count int64, before time.Time) Alert {
	return Alert{
		Event:   EventArchiveDone,
		Title:   "cycle history archived",
		Message: fmt.Sprintf("%d cycle(s) before %s moved to cold storage", count, before.UTC().Format(time.RFC3339)),
	}
}

func joinMessages(msgs []string, fallback string) string {
	if len(msgs) == 0 {
		return fallback
	}
	return strings.Join(msgs, "\n")
}

func derefOr(v *float64) float64 {
	if v == nil {
		return 0
	}
	return *v
}
