package alerter

import (
	"OFSniff/internal/config"
	"OFSniff/internal/engine/impl/latency"
	"OFSniff/internal/engine/statistic"
	"OFSniff/internal/model"
	"OFSniff/internal/pkg/logging"
	"fmt"
	"html"
	"strings"
	"sync"
	"time"
)

var log = logging.For("alerter")

// SnapshotSource provides the statistics the rules are evaluated against.
type SnapshotSource interface {
	Snapshot() model.Snapshot
}

// Alert is one rule violated by one series.
type Alert struct {
	Rule     string
	Endpoint string
	Series   string
	Stat     string
	Value    float64
	Operator string
	Limit    float64
}

func (a Alert) String() string {
	return fmt.Sprintf("%s: %s %s %s=%.6g %s %.6g", a.Rule, a.Endpoint, a.Series, a.Stat, a.Value, a.Operator, a.Limit)
}

type rule struct {
	config.AlerterRule
	metric  statistic.Metric
	port    uint32
	anyPort bool // LinkLat rule without a port
}

// Alerter evaluates snapshots against latency thresholds and reports
// violations through a notifier.
type Alerter struct {
	source        SnapshotSource
	rules         []rule
	notifier      model.Notifier
	checkInterval time.Duration
	stopChan      chan struct{}
	wg            sync.WaitGroup
	once          sync.Once
}

// NewAlerter validates the rules and creates an Alerter.
func NewAlerter(cfg *config.AlerterConfig, source SnapshotSource, notifier model.Notifier) (*Alerter, error) {
	interval, err := config.ParseDuration("alerter.check_interval", cfg.CheckInterval)
	if err != nil {
		return nil, err
	}

	a := &Alerter{
		source:        source,
		notifier:      notifier,
		checkInterval: interval,
		stopChan:      make(chan struct{}),
	}
	for _, r := range cfg.Rules {
		m, port, err := statistic.ParseLogName(r.Metric)
		anyPort := false
		if err != nil && r.Metric == "LinkLat" {
			m, err, anyPort = statistic.LinkLat, nil, true
		}
		if err != nil {
			return nil, fmt.Errorf("alerter rule %q: %w", r.Name, err)
		}
		switch r.Statistic {
		case "avg", "var", "med":
		default:
			return nil, fmt.Errorf("alerter rule %q: unknown statistic %q", r.Name, r.Statistic)
		}
		switch r.Operator {
		case ">", "<", "=", ">=", "<=":
		default:
			return nil, fmt.Errorf("alerter rule %q: unknown operator %q", r.Name, r.Operator)
		}
		a.rules = append(a.rules, rule{AlerterRule: r, metric: m, port: port, anyPort: anyPort})
	}
	return a, nil
}

// Start launches the periodic evaluation loop.
func (a *Alerter) Start() {
	log.Infof("Alerter started with %d rule(s), checking every %s", len(a.rules), a.checkInterval)
	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		ticker := time.NewTicker(a.checkInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				a.check()
			case <-a.stopChan:
				return
			}
		}
	}()
}

// Stop ends the loop and runs a final evaluation.
func (a *Alerter) Stop() {
	a.once.Do(func() {
		log.Info("Stopping Alerter...")
		close(a.stopChan)
		a.wg.Wait()
		a.check()
	})
}

// Evaluate returns every violation in the current snapshot.
func (a *Alerter) Evaluate() []Alert {
	snap := a.source.Snapshot()
	var alerts []Alert
	for _, st := range snap.Endpoints {
		for _, s := range latency.SeriesOf(st) {
			for _, r := range a.rules {
				if r.metric != s.Metric || (s.Metric == statistic.LinkLat && !r.anyPort && r.port != s.LinkPort) {
					continue
				}
				value := statValue(s.Summary, r.Statistic)
				if check(value, r.Threshold, r.Operator) {
					alerts = append(alerts, Alert{
						Rule:     r.Name,
						Endpoint: st.Endpoint.String(),
						Series:   s.Name(),
						Stat:     r.Statistic,
						Value:    value,
						Operator: r.Operator,
						Limit:    r.Threshold,
					})
				}
			}
		}
	}
	return alerts
}

func statValue(sum statistic.Summary, stat string) float64 {
	switch stat {
	case "var":
		return sum.Variance
	case "med":
		return sum.Median
	default:
		return sum.Mean
	}
}

func check(value, threshold float64, operator string) bool {
	switch operator {
	case ">":
		return value > threshold
	case "<":
		return value < threshold
	case "=":
		return value == threshold
	case ">=":
		return value >= threshold
	case "<=":
		return value <= threshold
	default:
		return false
	}
}

func (a *Alerter) check() {
	alerts := a.Evaluate()
	if len(alerts) == 0 {
		return
	}
	log.Infof("Alerter evaluation completed. %d alert(s) triggered.", len(alerts))
	if a.notifier == nil {
		for _, al := range alerts {
			log.Warn(al.String())
		}
		return
	}

	subject := fmt.Sprintf("OFSniff Alert Summary (%d Triggered)", len(alerts))
	if err := a.notifier.Send(subject, RenderHTML(alerts)); err != nil {
		log.Errorf("Failed to send alert notification: %v", err)
	} else {
		log.Info("Alert notification sent successfully.")
	}
}

// RenderHTML formats alerts as the notification body.
func RenderHTML(alerts []Alert) string {
	var b strings.Builder
	b.WriteString("<h1>OFSniff Alert Summary</h1>")
	b.WriteString("<p>The following latency thresholds were crossed during the last check:</p>")
	b.WriteString("<table><tr><th>Rule</th><th>Endpoint</th><th>Series</th><th>Statistic</th><th>Value</th><th>Threshold</th></tr>")
	for _, al := range alerts {
		fmt.Fprintf(&b, "<tr><td>%s</td><td>%s</td><td>%s</td><td>%s</td><td>%.6g</td><td>%s %.6g</td></tr>",
			html.EscapeString(al.Rule), html.EscapeString(al.Endpoint), html.EscapeString(al.Series),
			al.Stat, al.Value, html.EscapeString(al.Operator), al.Limit)
	}
	b.WriteString("</table>")
	return b.String()
}
