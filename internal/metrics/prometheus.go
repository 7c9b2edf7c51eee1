package metrics

import (
	"fmt"
	"net/http"
)

// promSeries binds one internal counter to a label value on an exposed family.
type promSeries struct {
	counter string
	value   string
}

// promFamily is one exposed counter family with its own HELP text.
type promFamily struct {
	name   string
	help   string
	label  string
	series []promSeries
}

// families maps every internal counter onto the scrape surface. All series are
// emitted even at zero so dashboards see the full label set from the first
// scrape.
var families = []promFamily{
	{
		name:   "rendezvous_connections_total",
		help:   "Signaling WebSocket connections opened and closed.",
		label:  "state",
		series: []promSeries{{ConnectionsOpened, "opened"}, {ConnectionsClosed, "closed"}},
	},
	{
		name:   "rendezvous_joins_total",
		help:   "Admitted room joins by room kind.",
		label:  "kind",
		series: []promSeries{{PairwiseJoins, "pairwise"}, {ChatJoins, "chat"}},
	},
	{
		name:   "rendezvous_key_bootstrap_total",
		help:   "Key bootstrap steps: first-joiner host elections and newcomer pairings.",
		label:  "step",
		series: []promSeries{{InitHost, "host_elected"}, {BootstrapPaired, "paired"}},
	},
	{
		name:   "rendezvous_relayed_total",
		help:   "Opaque payloads forwarded between peers.",
		label:  "kind",
		series: []promSeries{{SignalsRelayed, "signal"}, {ChatMessagesRelayed, "chat_message"}},
	},
	{
		name:  "rendezvous_dropped_total",
		help:  "Messages rejected or dropped instead of delivered, by reason.",
		label: "reason",
		series: []promSeries{
			{DropReasonRoomFull, "room_full"},
			{DropReasonNicknameTaken, "nickname_taken"},
			{DropReasonUnknownRecipient, "unknown_recipient"},
			{DropReasonSendQueueFull, "send_queue_full"},
			{DropReasonRateLimited, "rate_limited"},
		},
	},
}

// PrometheusHandler exposes Metrics in Prometheus' text exposition format.
func PrometheusHandler(m *Metrics) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if m == nil {
			http.Error(w, "metrics not configured", http.StatusInternalServerError)
			return
		}

		snap := m.Snapshot()
		w.Header().Set("Content-Type", "text/plain; version=0.0.4; charset=utf-8")
		for _, f := range families {
			_, _ = fmt.Fprintf(w, "# HELP %s %s\n", f.name, f.help)
			_, _ = fmt.Fprintf(w, "# TYPE %s counter\n", f.name)
			for _, s := range f.series {
				_, _ = fmt.Fprintf(w, "%s{%s=%q} %d\n", f.name, f.label, s.value, snap[s.counter])
			}
		}
	})
}
