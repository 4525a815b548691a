// Package observer implements the Gateway's threshold classification,
// debounced/rate-limited notification fan-out, and cloud uplinks
// (§4.6), plus the supplemented daily battery report (§12).
package observer

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/semit-takahashi/sast-gateway/internal/cloudclient"
	"github.com/semit-takahashi/sast-gateway/internal/frame"
	"github.com/semit-takahashi/sast-gateway/internal/store"
)

// highWarnDebounce and lostDebounce are the elapsed-time windows from
// §4.6, checked against the reading's own timestamp, not wall-clock
// notification history (§9).
const (
	highWarnDebounce = 5 * time.Minute
	lostDebounce     = 15 * time.Minute
	notifyCap        = 10
)

// Logger is the minimal logging surface Observer needs.
type Logger interface {
	Printf(format string, v ...any)
}

// Store is the subset of *store.Store the Observer needs.
type Store interface {
	GetNotifyList(ctx context.Context, nodeNo int, clearFlag bool) ([]store.NotifyRow, error)
	GetLatestByMAC(ctx context.Context, mac frame.MAC) (store.Reading, bool, error)
	GetThreshold(ctx context.Context, mac frame.MAC) (store.Thresholds, error)
	UpsertNotify(ctx context.Context, mac frame.MAC, state store.SensorState, count int, date time.Time) error
	SetLostDate(ctx context.Context, mac frame.MAC, date time.Time) error
	DrainLatestAll(ctx context.Context) ([]store.LatestWithAmbient, error)
	GetSensorInfo(ctx context.Context, mac frame.MAC) (name, nodeName string, nodeNo int, warn store.Thresholds, err error)
	GetDiscordToken(ctx context.Context, node int) (string, error)
	GetAmbientInfo(ctx context.Context, node int) (string, error)
	GetBattery(ctx context.Context, mac frame.MAC) (batt float64, date time.Time, rssi int, err error)
	GetSensors(ctx context.Context, node int) ([]store.SensorRef, error)
	NumNode(ctx context.Context) (int, error)
}

// Observer runs the classification/fan-out/uplink cycle.
type Observer struct {
	store      Store
	chat       *cloudclient.ChatClient
	series     *cloudclient.TimeSeriesClient
	cloud      *cloudclient.Client
	log        Logger
	sendNoData bool
}

// New builds an Observer. series may be nil if no time-series sink is
// configured; cloud may be nil if no log-uplink endpoint is
// configured.
func New(st Store, chat *cloudclient.ChatClient, series *cloudclient.TimeSeriesClient, cloud *cloudclient.Client, sendNoData bool, logger Logger) *Observer {
	return &Observer{store: st, chat: chat, series: series, cloud: cloud, sendNoData: sendNoData, log: logger}
}

// Tick runs one full observer cycle: classify every registered
// sensor, fan out notifications per Node, drain Latest, then push the
// drained rows to the time-series and cloud log uplinks (§4.6).
func (o *Observer) Tick(ctx context.Context) error {
	if err := o.classifyAll(ctx); err != nil {
		return fmt.Errorf("observer: classify: %w", err)
	}
	if err := o.notifyFanOut(ctx); err != nil {
		o.log.Printf("observer: notify fan-out: %v", err)
	}

	rows, err := o.store.DrainLatestAll(ctx)
	if err != nil {
		return fmt.Errorf("observer: drain_latest(all): %w", err)
	}
	if err := o.timeSeriesUplink(ctx, rows); err != nil {
		o.log.Printf("observer: time-series uplink: %v", err)
	}
	if err := o.cloudLogUplink(ctx, rows); err != nil {
		o.log.Printf("observer: cloud log uplink: %v", err)
	}
	return nil
}

// classifyAll walks every Notify row (skipping node-body MACs) and
// applies the §4.6 state machine.
func (o *Observer) classifyAll(ctx context.Context) error {
	rows, err := o.store.GetNotifyList(ctx, 0, false)
	if err != nil {
		return fmt.Errorf("get_notify_list: %w", err)
	}
	now := time.Now()
	for _, prev := range rows {
		if prev.MAC.IsNodeBody() {
			continue
		}
		if err := o.classifyOne(ctx, prev, now); err != nil {
			o.log.Printf("observer: classify %s: %v", prev.MAC, err)
		}
	}
	return nil
}

func (o *Observer) classifyOne(ctx context.Context, prev store.NotifyRow, now time.Time) error {
	reading, present, err := o.store.GetLatestByMAC(ctx, prev.MAC)
	if err != nil {
		return fmt.Errorf("get_latest: %w", err)
	}
	warn, err := o.store.GetThreshold(ctx, prev.MAC)
	if err != nil {
		return fmt.Errorf("get_threshold: %w", err)
	}

	if present {
		return o.classifyPresent(ctx, prev, reading, warn)
	}
	return o.classifyAbsent(ctx, prev, now)
}

func (o *Observer) classifyPresent(ctx context.Context, prev store.NotifyRow, reading store.Reading, warn store.Thresholds) error {
	switch {
	case warn.HighCaution != nil && reading.Templ >= *warn.HighCaution:
		count := 1
		if prev.Status == store.SensorHighCaution {
			count = prev.Count + 1
		}
		return o.store.UpsertNotify(ctx, prev.MAC, store.SensorHighCaution, count, reading.Date)

	case warn.HighWarn != nil && reading.Templ >= *warn.HighWarn:
		if prev.Count == 0 {
			return o.store.UpsertNotify(ctx, prev.MAC, store.SensorHighWarn, 1, reading.Date)
		}
		if reading.Date.Sub(prev.Date) >= highWarnDebounce {
			count := 1
			if prev.Status == store.SensorHighWarn {
				count = prev.Count + 1
			}
			return o.store.UpsertNotify(ctx, prev.MAC, store.SensorHighWarn, count, reading.Date)
		}
		return nil

	default:
		return o.store.UpsertNotify(ctx, prev.MAC, store.SensorNormal, 0, reading.Date)
	}
}

func (o *Observer) classifyAbsent(ctx context.Context, prev store.NotifyRow, now time.Time) error {
	if prev.Status == store.SensorNone {
		return nil
	}
	elapsed := now.Sub(prev.Date)
	switch {
	case elapsed >= lostDebounce && prev.Status == store.SensorNormal:
		if err := o.store.SetLostDate(ctx, prev.MAC, now); err != nil {
			return fmt.Errorf("set_lost_date: %w", err)
		}
		// Stamp now, not prev.Date: Notify.date is the basis of elapsed
		// above, so leaving it unchanged would make the next tick see
		// the same (already-expired) window and refire immediately.
		return o.store.UpsertNotify(ctx, prev.MAC, store.SensorLost, 1, now)
	case elapsed >= lostDebounce && prev.Status == store.SensorLost:
		return o.store.UpsertNotify(ctx, prev.MAC, store.SensorLost, prev.Count+1, now)
	default:
		return nil
	}
}

// notifyFanOut composes one chat message per Node aggregating that
// Node's sensors with notify==1, status in the alerting set, and
// count below the cap (§4.6 Notification fan-out).
func (o *Observer) notifyFanOut(ctx context.Context) error {
	rows, err := o.store.GetNotifyList(ctx, 0, true)
	if err != nil {
		return fmt.Errorf("get_notify_list: %w", err)
	}

	byNode := map[int][]store.NotifyRow{}
	for _, r := range rows {
		if r.MAC.IsNodeBody() || !r.Notify || r.Count >= notifyCap {
			continue
		}
		if !isAlerting(r.Status) {
			continue
		}
		byNode[r.Node] = append(byNode[r.Node], r)
	}

	for node, sensors := range byNode {
		token, err := o.store.GetDiscordToken(ctx, node)
		if err != nil || token == "" {
			if err != nil {
				o.log.Printf("observer: get_discord_token(%d): %v", node, err)
			}
			continue
		}
		text := o.composeMessage(ctx, node, sensors)
		if o.chat == nil {
			continue
		}
		if err := o.chat.Post(ctx, token, text); err != nil {
			o.log.Printf("observer: chat post node %d: %v", node, err)
		}
	}
	return nil
}

func isAlerting(s store.SensorState) bool {
	return s == store.SensorHighWarn || s == store.SensorHighCaution || s == store.SensorLost
}

func (o *Observer) composeMessage(ctx context.Context, node int, rows []store.NotifyRow) string {
	var b strings.Builder
	for _, r := range rows {
		name, _, _, _, err := o.store.GetSensorInfo(ctx, r.MAC)
		if err != nil {
			name = r.MAC.String()
		}
		b.WriteString(notifyEmoji(r.Status))
		b.WriteString(" ")
		b.WriteString(name)
		b.WriteString(": ")
		b.WriteString(r.Status.String())
		b.WriteString("\n")
	}
	return b.String()
}

func notifyEmoji(s store.SensorState) string {
	switch s {
	case store.SensorHighCaution:
		return "\U0001F6A8" // rotating light
	case store.SensorHighWarn:
		return "⚠️" // warning sign
	case store.SensorLost:
		return "\U0001F50C" // electric plug (disconnected)
	default:
		return ""
	}
}

// timeSeriesUplink builds a per-Node payload of up to 8 slots keyed by
// each sensor's ambient_conf name and posts it (§4.6 Time-series
// uplink).
func (o *Observer) timeSeriesUplink(ctx context.Context, rows []store.LatestWithAmbient) error {
	if o.series == nil {
		return nil
	}

	byNode := map[int][]store.LatestWithAmbient{}
	for _, r := range rows {
		if r.MAC.IsNodeBody() {
			continue
		}
		byNode[r.Node] = append(byNode[r.Node], r)
	}

	n, err := o.store.NumNode(ctx)
	if err != nil {
		return fmt.Errorf("num_node: %w", err)
	}
	for node := 1; node <= n; node++ {
		nodeRows, ok := byNode[node]
		if !ok && !o.sendNoData {
			continue
		}
		ambient, err := o.store.GetAmbientInfo(ctx, node)
		if err != nil || ambient == "" {
			continue
		}
		channelID, writeKey, ok := strings.Cut(ambient, ":")
		if !ok {
			o.log.Printf("observer: malformed ambient_conf for node %d: %q", node, ambient)
			continue
		}
		fields := map[string]float64{}
		for _, r := range nodeRows {
			slot := slotFromAmbient(r.AmbientConf)
			if slot == "" {
				continue
			}
			fields[slot] = r.Templ
		}
		if len(fields) == 0 && !o.sendNoData {
			continue
		}
		point := cloudclient.TimeSeriesPoint{ChannelID: channelID, WriteKey: writeKey, Fields: fields, Created: time.Now()}
		if err := o.series.Post(ctx, point); err != nil {
			o.log.Printf("observer: time-series post node %d: %v", node, err)
		}
	}
	return nil
}

// slotFromAmbient maps a sensor's ambient_conf value to one of the
// fixed slot names d1..d8; any other value is not a time-series slot.
func slotFromAmbient(ambientConf string) string {
	n, err := strconv.Atoi(strings.TrimSpace(ambientConf))
	if err != nil || n < 1 || n > 8 {
		return ""
	}
	return fmt.Sprintf("d%d", n)
}

// cloudLogUplink serialises every drained Latest row and posts it to
// the configured log endpoint (§4.6 Cloud log uplink).
func (o *Observer) cloudLogUplink(ctx context.Context, rows []store.LatestWithAmbient) error {
	if o.cloud == nil || len(rows) == 0 {
		return nil
	}
	logRows := make([]cloudclient.LogRow, 0, len(rows))
	for _, r := range rows {
		logRows = append(logRows, cloudclient.LogRow{
			MAC: r.MAC.String(), Date: r.Date.Unix(), Templ: r.Templ, Humid: r.Humid,
			Batt: r.Batt, RSSI: r.RSSI, Ext: r.Ext, Light: r.Light, Status: int(r.Status),
		})
	}
	mess, err := o.cloud.PushLog(ctx, logRows)
	if err != nil {
		o.log.Printf("observer: push_log: %v (ack=%q)", err, mess)
	}
	return nil
}

// lowBatteryThreshold is the percentage at or below which a sensor is
// flagged for battery replacement in the daily report (§12).
const lowBatteryThreshold = 15.0

// BatteryReport composes and sends, once per Node, a daily summary of
// every sensor's last-known battery level, flagging any at or below
// lowBatteryThreshold (§12, grounded on _checkBattery).
func (o *Observer) BatteryReport(ctx context.Context) error {
	n, err := o.store.NumNode(ctx)
	if err != nil {
		return fmt.Errorf("observer: battery_report: num_node: %w", err)
	}
	for node := 1; node <= n; node++ {
		sensors, err := o.store.GetSensors(ctx, node)
		if err != nil {
			o.log.Printf("observer: battery_report: get_sensors(%d): %v", node, err)
			continue
		}
		if len(sensors) == 0 {
			continue
		}
		token, err := o.store.GetDiscordToken(ctx, node)
		if err != nil || token == "" {
			continue
		}

		var b strings.Builder
		for _, s := range sensors {
			batt, date, _, err := o.store.GetBattery(ctx, s.MAC)
			if err != nil {
				continue
			}
			marker := ""
			if batt <= lowBatteryThreshold {
				marker = " (replace battery)"
			}
			fmt.Fprintf(&b, "%s: %.0f%% as of %s%s\n", s.Name, batt, date.Format("2006-01-02 15:04"), marker)
		}
		if b.Len() == 0 || o.chat == nil {
			continue
		}
		if err := o.chat.Post(ctx, token, b.String()); err != nil {
			o.log.Printf("observer: battery_report: chat post node %d: %v", node, err)
		}
	}
	return nil
}
