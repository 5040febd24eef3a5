package notification

import "github.com/prometheus/client_golang/prometheus"

// Metrics は通知ファンアウトのPrometheusメトリクス。
type Metrics struct {
	// events はイベント種別ごとの処理件数。
	events *prometheus.CounterVec
	// fanoutRows は挿入された通知行の件数。
	fanoutRows *prometheus.CounterVec
	// fanoutSkipped は未読行が既にあるため挿入を省略した件数。
	fanoutSkipped *prometheus.CounterVec
	// deliveries はチャネル・結果ごとの配信試行件数。
	deliveries *prometheus.CounterVec
}

// NewMetrics はメトリクスを生成する。regがnilでなければ登録も行う。
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		events: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "marketnotify",
			Name:      "events_total",
			Help:      "処理した通知イベントの件数",
		}, []string{"kind"}),
		fanoutRows: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "marketnotify",
			Name:      "fanout_rows_total",
			Help:      "挿入した通知行の件数",
		}, []string{"kind"}),
		fanoutSkipped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "marketnotify",
			Name:      "fanout_skipped_total",
			Help:      "未読の通知行が既に存在したため挿入しなかった件数",
		}, []string{"kind"}),
		deliveries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "marketnotify",
			Name:      "deliveries_total",
			Help:      "配信チャネルごとの試行結果の件数",
		}, []string{"channel", "kind", "outcome"}),
	}
	if reg != nil {
		reg.MustRegister(m.events, m.fanoutRows, m.fanoutSkipped, m.deliveries)
	}
	return m
}
