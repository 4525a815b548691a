package store

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/semit-takahashi/sast-gateway/internal/frame"
)

const timeLayout = "2006-01-02 15:04:05"

// Store is the embedded SQL-backed persistence handle. One Store may be
// shared by several goroutines: database/sql gives each concurrent
// caller its own pooled connection to the same file.
type Store struct {
	db *sql.DB
}

// Open opens (creating if absent) the SQLite database at path in WAL
// mode and ensures the schema in §3 exists.
func Open(path string) (*Store, error) {
	dsn := fmt.Sprintf("%s?_journal_mode=WAL&_busy_timeout=5000", path)
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("store: open %s: %w", path, err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("store: migrate: %w", err)
	}
	s := &Store{db: db}
	if err := s.ensureStatusRow(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) ensureStatusRow() error {
	var count int
	if err := s.db.QueryRow(`SELECT COUNT(id) FROM status`).Scan(&count); err != nil {
		return fmt.Errorf("store: count status: %w", err)
	}
	if count == 0 {
		if _, err := s.db.Exec(`INSERT INTO status (stat) VALUES (?)`, int(NodeStatusNone)); err != nil {
			return fmt.Errorf("store: init status: %w", err)
		}
	}
	return nil
}

// Clear drops every table. Used by the CLEAR CLI verb (§6).
func (s *Store) Clear(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, dropAll); err != nil {
		return fmt.Errorf("store: clear: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("store: recreate schema: %w", err)
	}
	return s.ensureStatusRow()
}

// InitNode clears the Latest table, matching the reference
// STARTUP_NODE cache-clear performed on every Node boot.
func (s *Store) InitNode(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM latest`); err != nil {
		return fmt.Errorf("store: init node: %w", err)
	}
	return nil
}

// InitGateway clears Latest and rebuilds Notify, matching the
// reference STARTUP_GATE cache-clear performed on every Gateway boot.
func (s *Store) InitGateway(ctx context.Context) error {
	if err := s.InitNode(ctx); err != nil {
		return err
	}
	_, err := s.RebuildNotify(ctx)
	return err
}

// AppendReading inserts into History and upserts Latest for one
// reading, in a single transaction (§4.5 append_reading).
func (s *Store) AppendReading(ctx context.Context, r Reading) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("store: append_reading: begin: %w", err)
	}
	defer tx.Rollback()

	mac := r.MAC.String()
	date := r.Date.Format(timeLayout)

	_, err = tx.ExecContext(ctx, `
		INSERT INTO history (mac, date, node, templ, humid, batt, rssi, ext, light, status)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		mac, date, r.Node, r.Templ, r.Humid, r.Batt, r.RSSI, r.Ext, r.Light, int(r.Status))
	if err != nil {
		return fmt.Errorf("store: append_reading: insert history: %w", err)
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO latest (mac, date, node, templ, humid, batt, rssi, ext, light, status)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(mac) DO UPDATE SET
			date=excluded.date, node=excluded.node, templ=excluded.templ,
			humid=excluded.humid, batt=excluded.batt, rssi=excluded.rssi,
			ext=excluded.ext, light=excluded.light, status=excluded.status`,
		mac, date, r.Node, r.Templ, r.Humid, r.Batt, r.RSSI, r.Ext, r.Light, int(r.Status))
	if err != nil {
		return fmt.Errorf("store: append_reading: upsert latest: %w", err)
	}

	return tx.Commit()
}

func scanReading(rows *sql.Rows) (Reading, error) {
	var (
		r          Reading
		mac, date  string
		statusVal  int
	)
	if err := rows.Scan(&mac, &date, &r.Node, &r.Templ, &r.Humid, &r.Batt, &r.RSSI, &r.Ext, &r.Light, &statusVal); err != nil {
		return r, err
	}
	m, err := frame.ParseMAC(mac)
	if err != nil {
		return r, err
	}
	r.MAC = m
	t, err := time.Parse(timeLayout, date)
	if err != nil {
		return r, err
	}
	r.Date = t
	r.Status = SensorState(statusVal)
	return r, nil
}

// DrainLatestNode returns and deletes every Latest row for the given
// node, atomically (§4.5 drain_latest(node)).
func (s *Store) DrainLatestNode(ctx context.Context, node int) ([]Reading, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("store: drain_latest(node=%d): begin: %w", node, err)
	}
	defer tx.Rollback()

	rows, err := tx.QueryContext(ctx, `
		SELECT mac, date, node, templ, humid, batt, rssi, ext, light, status
		FROM latest WHERE node = ?`, node)
	if err != nil {
		return nil, fmt.Errorf("store: drain_latest(node=%d): select: %w", node, err)
	}
	var out []Reading
	for rows.Next() {
		r, err := scanReading(rows)
		if err != nil {
			rows.Close()
			return nil, fmt.Errorf("store: drain_latest(node=%d): scan: %w", node, err)
		}
		out = append(out, r)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(out) == 0 {
		return out, tx.Commit()
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM latest WHERE node = ?`, node); err != nil {
		return nil, fmt.Errorf("store: drain_latest(node=%d): delete: %w", node, err)
	}
	return out, tx.Commit()
}

// DrainLatestAll returns and deletes every Latest row, joined with
// each sensor's configured time-series slot (§4.5 drain_latest(all),
// consumed by the Observer's cloud uplinks).
func (s *Store) DrainLatestAll(ctx context.Context) ([]LatestWithAmbient, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("store: drain_latest(all): begin: %w", err)
	}
	defer tx.Rollback()

	rows, err := tx.QueryContext(ctx, `
		SELECT L.mac, L.date, L.node, L.templ, L.humid, L.batt, L.rssi, L.ext, L.light, L.status, C.ambient_conf
		FROM latest AS L INNER JOIN conf AS C ON (L.mac = C.mac)`)
	if err != nil {
		return nil, fmt.Errorf("store: drain_latest(all): select: %w", err)
	}
	var out []LatestWithAmbient
	for rows.Next() {
		var (
			mac, date, ambient string
			statusVal          int
			l                  LatestWithAmbient
		)
		if err := rows.Scan(&mac, &date, &l.Node, &l.Templ, &l.Humid, &l.Batt, &l.RSSI, &l.Ext, &l.Light, &statusVal, &ambient); err != nil {
			rows.Close()
			return nil, fmt.Errorf("store: drain_latest(all): scan: %w", err)
		}
		m, err := frame.ParseMAC(mac)
		if err != nil {
			rows.Close()
			return nil, err
		}
		t, err := time.Parse(timeLayout, date)
		if err != nil {
			rows.Close()
			return nil, err
		}
		l.MAC = m
		l.Date = t
		l.Status = SensorState(statusVal)
		l.AmbientConf = ambient
		out = append(out, l)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(out) == 0 {
		return out, tx.Commit()
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM latest`); err != nil {
		return nil, fmt.Errorf("store: drain_latest(all): delete: %w", err)
	}
	return out, tx.Commit()
}

// UpsertNotify sets a sensor's alert state (§4.5 upsert_notify): notify
// is cleared iff the new state is NORMAL. date is stored as given: the
// observer passes the reading's own timestamp (Latest.date) when a
// reading is present, and the observer tick time on LOST transitions,
// so the elapsed-time debounce windows in §4.6 restart from that value.
func (s *Store) UpsertNotify(ctx context.Context, mac frame.MAC, state SensorState, count int, date time.Time) error {
	notify := 1
	if state == SensorNormal {
		notify = 0
	}
	_, err := s.db.ExecContext(ctx, `
		UPDATE notify SET date = ?, status = ?, notify = ?, count = ? WHERE mac = ?`,
		date.Format(timeLayout), int(state), notify, count, mac.String())
	if err != nil {
		return fmt.Errorf("store: upsert_notify(%s): %w", mac, err)
	}
	return nil
}

// GetLatestByMAC reads (without deleting) the Latest row for mac, used
// by the Observer's classification pass before the per-cycle drain.
func (s *Store) GetLatestByMAC(ctx context.Context, mac frame.MAC) (Reading, bool, error) {
	var (
		r         Reading
		date      string
		statusVal int
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT date, node, templ, humid, batt, rssi, ext, light, status
		FROM latest WHERE mac = ?`, mac.String()).
		Scan(&date, &r.Node, &r.Templ, &r.Humid, &r.Batt, &r.RSSI, &r.Ext, &r.Light, &statusVal)
	if err == sql.ErrNoRows {
		return Reading{}, false, nil
	}
	if err != nil {
		return Reading{}, false, fmt.Errorf("store: get_latest(%s): %w", mac, err)
	}
	t, err := time.Parse(timeLayout, date)
	if err != nil {
		return Reading{}, false, err
	}
	r.MAC = mac
	r.Date = t
	r.Status = SensorState(statusVal)
	return r, true, nil
}

// SetLostDate records the timestamp a sensor first transitioned to
// LOST; storectl's notify listing shows it.
func (s *Store) SetLostDate(ctx context.Context, mac frame.MAC, date time.Time) error {
	_, err := s.db.ExecContext(ctx, `UPDATE notify SET lost_date = ? WHERE mac = ?`, date.Format(timeLayout), mac.String())
	if err != nil {
		return fmt.Errorf("store: set_lost_date(%s): %w", mac, err)
	}
	return nil
}

// RebuildNotify ensures every use=true sensor has a Notify row
// (inserted as NORMAL if missing) and drops stale Latest rows for
// sensors no longer in use (§4.5 rebuild_notify).
func (s *Store) RebuildNotify(ctx context.Context) (int, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("store: rebuild_notify: begin: %w", err)
	}
	defer tx.Rollback()

	validMACs, err := sensorMACs(ctx, tx, true)
	if err != nil {
		return 0, fmt.Errorf("store: rebuild_notify: valid macs: %w", err)
	}
	for _, mac := range validMACs {
		var exists int
		if err := tx.QueryRowContext(ctx, `SELECT COUNT(mac) FROM notify WHERE mac = ?`, mac).Scan(&exists); err != nil {
			return 0, fmt.Errorf("store: rebuild_notify: check %s: %w", mac, err)
		}
		if exists != 0 {
			continue
		}
		nodeNo, err := getNodeNo(ctx, tx, mac)
		if err != nil {
			return 0, fmt.Errorf("store: rebuild_notify: node for %s: %w", mac, err)
		}
		_, err = tx.ExecContext(ctx, `
			INSERT INTO notify (mac, status, notify, count, node) VALUES (?, ?, 0, 0, ?)`,
			mac, int(SensorNormal), nodeNo)
		if err != nil {
			return 0, fmt.Errorf("store: rebuild_notify: insert %s: %w", mac, err)
		}
	}

	invalidMACs, err := sensorMACs(ctx, tx, false)
	if err != nil {
		return 0, fmt.Errorf("store: rebuild_notify: invalid macs: %w", err)
	}
	for _, mac := range invalidMACs {
		if _, err := tx.ExecContext(ctx, `DELETE FROM latest WHERE mac = ?`, mac); err != nil {
			return 0, fmt.Errorf("store: rebuild_notify: drop stale latest %s: %w", mac, err)
		}
	}

	var count int
	if err := tx.QueryRowContext(ctx, `SELECT COUNT(mac) FROM notify`).Scan(&count); err != nil {
		return 0, fmt.Errorf("store: rebuild_notify: count: %w", err)
	}
	return count, tx.Commit()
}

func sensorMACs(ctx context.Context, tx *sql.Tx, use bool) ([]string, error) {
	rows, err := tx.QueryContext(ctx, `SELECT mac FROM conf WHERE use = ?`, use)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var macs []string
	for rows.Next() {
		var mac string
		if err := rows.Scan(&mac); err != nil {
			return nil, err
		}
		macs = append(macs, mac)
	}
	return macs, rows.Err()
}

func getNodeNo(ctx context.Context, tx *sql.Tx, mac string) (int, error) {
	var nodeStr string
	err := tx.QueryRowContext(ctx, `SELECT node FROM conf WHERE mac = ?`, mac).Scan(&nodeStr)
	if err == sql.ErrNoRows {
		return -1, nil
	}
	if err != nil {
		return -1, err
	}
	return parseNodeNo(nodeStr)
}

// parseNodeNo accepts either a bare integer or the "LORA00".."LORANN"
// form used for the owning-node label on Conf rows.
func parseNodeNo(s string) (int, error) {
	s = strings.TrimSpace(s)
	if strings.HasPrefix(strings.ToUpper(s), "LORA") {
		s = s[4:]
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return -1, fmt.Errorf("store: malformed node label %q: %w", s, err)
	}
	return n, nil
}

// ApplyConfig atomically replaces Conf and ConfDate with rows pulled
// from the cloud, iff cloudUpdatedAt differs from the stored
// ConfDate. On success it rebuilds Notify; on "unchanged" it does not
// (§4.5, §9 — collapsing the reference implementation's two divergent
// call sites to one consistent policy).
func (s *Store) ApplyConfig(ctx context.Context, rows []Conf, cloudUpdatedAt time.Time) (ApplyResult, error) {
	var stored sql.NullString
	err := s.db.QueryRowContext(ctx, `SELECT date FROM conf_date WHERE id = 1`).Scan(&stored)
	if err != nil && err != sql.ErrNoRows {
		return ApplyUnchanged, fmt.Errorf("store: apply_config: read conf_date: %w", err)
	}
	if stored.Valid {
		prev, err := time.Parse(time.RFC3339Nano, stored.String)
		if err == nil && prev.Equal(cloudUpdatedAt) {
			return ApplyUnchanged, nil
		}
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return ApplyUnchanged, fmt.Errorf("store: apply_config: begin: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM conf`); err != nil {
		return ApplyUnchanged, fmt.Errorf("store: apply_config: clear conf: %w", err)
	}
	for _, c := range rows {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO conf (mac, name, node, use, warn, ambient_conf, discord_token, memo)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			strings.ToLower(c.MAC.String()), c.Name, c.Node, c.Use, encodeThresholds(c.Warn),
			c.AmbientConf, c.DiscordToken, c.Memo)
		if err != nil {
			return ApplyUnchanged, fmt.Errorf("store: apply_config: insert %s: %w", c.MAC, err)
		}
	}
	_, err = tx.ExecContext(ctx, `
		INSERT INTO conf_date (id, date) VALUES (1, ?)
		ON CONFLICT(id) DO UPDATE SET date = excluded.date`, cloudUpdatedAt.Format(time.RFC3339Nano))
	if err != nil {
		return ApplyUnchanged, fmt.Errorf("store: apply_config: write conf_date: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return ApplyUnchanged, fmt.Errorf("store: apply_config: commit: %w", err)
	}

	if _, err := s.RebuildNotify(ctx); err != nil {
		return ApplyUpdated, fmt.Errorf("store: apply_config: rebuild_notify: %w", err)
	}
	return ApplyUpdated, nil
}

// FormatThresholds renders t as the cloud's 4-field CSV form
// ("lC,lW,hW,hC", literal "NONE" for an unset member), for callers
// outside this package (e.g. configsync) that need the same encoding
// Conf rows use.
func FormatThresholds(t Thresholds) string {
	return encodeThresholds(t)
}

// ParseThresholds parses the cloud's 4-field CSV form.
func ParseThresholds(s string) (Thresholds, error) {
	return decodeThresholds(s)
}

func encodeThresholds(t Thresholds) string {
	field := func(v *float64) string {
		if v == nil {
			return "NONE"
		}
		return strconv.FormatFloat(*v, 'f', -1, 64)
	}
	return strings.Join([]string{field(t.LowCaution), field(t.LowWarn), field(t.HighWarn), field(t.HighCaution)}, ",")
}

func decodeThresholds(s string) (Thresholds, error) {
	parts := strings.Split(s, ",")
	if len(parts) != 4 {
		return Thresholds{}, fmt.Errorf("store: malformed warn field %q", s)
	}
	parse := func(v string) (*float64, error) {
		v = strings.TrimSpace(v)
		if strings.EqualFold(v, "NONE") || v == "" {
			return nil, nil
		}
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return nil, err
		}
		return &f, nil
	}
	lc, err := parse(parts[0])
	if err != nil {
		return Thresholds{}, err
	}
	lw, err := parse(parts[1])
	if err != nil {
		return Thresholds{}, err
	}
	hw, err := parse(parts[2])
	if err != nil {
		return Thresholds{}, err
	}
	hc, err := parse(parts[3])
	if err != nil {
		return Thresholds{}, err
	}
	return Thresholds{LowCaution: lc, LowWarn: lw, HighWarn: hw, HighCaution: hc}, nil
}

// GetThreshold returns the warn thresholds configured for mac.
func (s *Store) GetThreshold(ctx context.Context, mac frame.MAC) (Thresholds, error) {
	var warn string
	err := s.db.QueryRowContext(ctx, `SELECT warn FROM conf WHERE mac = ?`, mac.String()).Scan(&warn)
	if err == sql.ErrNoRows {
		return Thresholds{}, nil
	}
	if err != nil {
		return Thresholds{}, fmt.Errorf("store: get_threshold(%s): %w", mac, err)
	}
	return decodeThresholds(warn)
}

// GetNotifyList returns Notify rows for nodeNo (0 = all nodes). When
// clearFlag is true, matching rows' notify flag is cleared in the same
// transaction used to read them (§4.6 fan-out cadence).
func (s *Store) GetNotifyList(ctx context.Context, nodeNo int, clearFlag bool) ([]NotifyRow, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("store: get_notify_list: begin: %w", err)
	}
	defer tx.Rollback()

	query := `SELECT node, mac, date, lost_date, status, count, notify FROM notify`
	args := []any{}
	switch {
	case clearFlag && nodeNo == 0:
		query += ` WHERE notify = 1`
	case clearFlag:
		query += ` WHERE node = ? AND notify = 1`
		args = append(args, nodeNo)
	case nodeNo != 0:
		query += ` WHERE node = ?`
		args = append(args, nodeNo)
	}

	rows, err := tx.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("store: get_notify_list: select: %w", err)
	}
	var out []NotifyRow
	for rows.Next() {
		var (
			mac       string
			date      sql.NullString
			lostDate  sql.NullString
			statusVal int
			count     int
			notifyVal int
			n         NotifyRow
		)
		if err := rows.Scan(&n.Node, &mac, &date, &lostDate, &statusVal, &count, &notifyVal); err != nil {
			rows.Close()
			return nil, fmt.Errorf("store: get_notify_list: scan: %w", err)
		}
		m, err := frame.ParseMAC(mac)
		if err != nil {
			rows.Close()
			return nil, err
		}
		if date.Valid {
			t, err := time.Parse(timeLayout, date.String)
			if err != nil {
				rows.Close()
				return nil, err
			}
			n.Date = t
		}
		n.MAC = m
		n.Status = SensorState(statusVal)
		n.Count = count
		n.Notify = notifyVal != 0
		if lostDate.Valid {
			lt, err := time.Parse(timeLayout, lostDate.String)
			if err == nil {
				n.LostDate = &lt
			}
		}
		out = append(out, n)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if clearFlag && len(out) > 0 {
		clearQuery := `UPDATE notify SET notify = 0 WHERE notify = 1`
		clearArgs := []any{}
		if nodeNo != 0 {
			clearQuery = `UPDATE notify SET notify = 0 WHERE node = ? AND notify = 1`
			clearArgs = append(clearArgs, nodeNo)
		}
		if _, err := tx.ExecContext(ctx, clearQuery, clearArgs...); err != nil {
			return nil, fmt.Errorf("store: get_notify_list: clear flags: %w", err)
		}
	}
	return out, tx.Commit()
}

// GetStatus returns the current Notify.status for mac, or SensorNone
// if the sensor has no Notify row yet.
func (s *Store) GetStatus(ctx context.Context, mac frame.MAC) (SensorState, error) {
	var statusVal int
	err := s.db.QueryRowContext(ctx, `SELECT status FROM notify WHERE mac = ?`, mac.String()).Scan(&statusVal)
	if err == sql.ErrNoRows {
		return SensorNone, nil
	}
	if err != nil {
		return SensorNone, fmt.Errorf("store: get_status(%s): %w", mac, err)
	}
	return SensorState(statusVal), nil
}

// ChangeNodeStatus updates the singleton Status row (drives the
// Node's OLED, out of scope here, but the row itself is in-scope
// per §3).
func (s *Store) ChangeNodeStatus(ctx context.Context, stat NodeStatus) error {
	_, err := s.db.ExecContext(ctx, `UPDATE status SET stat = ? WHERE id = 1`, int(stat))
	if err != nil {
		return fmt.Errorf("store: change_node_status: %w", err)
	}
	return nil
}

// GetNodeStatus reads the singleton Status row.
func (s *Store) GetNodeStatus(ctx context.Context) (NodeStatus, error) {
	var stat int
	err := s.db.QueryRowContext(ctx, `SELECT stat FROM status WHERE id = 1`).Scan(&stat)
	if err != nil {
		return NodeStatusNone, fmt.Errorf("store: get_node_status: %w", err)
	}
	return NodeStatus(stat), nil
}

// UseSensor reports whether mac is an enabled sensor (or any node-body
// MAC, which is always usable) belonging to node.
func (s *Store) UseSensor(ctx context.Context, node int, mac frame.MAC) (bool, error) {
	if mac.IsNodeBody() {
		return true, nil
	}
	var use bool
	err := s.db.QueryRowContext(ctx, `SELECT use FROM conf WHERE mac = ? AND node = ?`, mac.String(), fmt.Sprintf("LORA%02d", node)).Scan(&use)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("store: use_sensor(%s): %w", mac, err)
	}
	return use, nil
}

// GetSensorInfo returns the sensor's display name, its owning node's
// name, node number, and warn thresholds.
func (s *Store) GetSensorInfo(ctx context.Context, mac frame.MAC) (name, nodeName string, nodeNo int, warn Thresholds, err error) {
	var nodeLabel, warnCSV string
	err = s.db.QueryRowContext(ctx, `SELECT name, node, warn FROM conf WHERE mac = ?`, mac.String()).Scan(&name, &nodeLabel, &warnCSV)
	if err != nil {
		return "", "", 0, Thresholds{}, fmt.Errorf("store: get_sensor_info(%s): %w", mac, err)
	}
	warn, err = decodeThresholds(warnCSV)
	if err != nil {
		return "", "", 0, Thresholds{}, err
	}
	nodeNo, err = parseNodeNo(nodeLabel)
	if err != nil {
		return "", "", 0, Thresholds{}, err
	}
	err = s.db.QueryRowContext(ctx, `SELECT name FROM conf WHERE node = ?`, fmt.Sprintf("LORA%02d", nodeNo)).Scan(&nodeName)
	if err == sql.ErrNoRows {
		err = nil
	}
	if err != nil {
		return "", "", 0, Thresholds{}, fmt.Errorf("store: get_sensor_info(%s): node name: %w", mac, err)
	}
	return name, nodeName, nodeNo, warn, nil
}

// GetSensors returns the sensors owned by node.
func (s *Store) GetSensors(ctx context.Context, node int) ([]SensorRef, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT mac, name FROM conf WHERE node = ?`, fmt.Sprintf("LORA%02d", node))
	if err != nil {
		return nil, fmt.Errorf("store: get_sensors(%d): %w", node, err)
	}
	defer rows.Close()
	var out []SensorRef
	for rows.Next() {
		var mac, name string
		if err := rows.Scan(&mac, &name); err != nil {
			return nil, err
		}
		m, err := frame.ParseMAC(mac)
		if err != nil {
			return nil, err
		}
		out = append(out, SensorRef{MAC: m, Name: name})
	}
	return out, rows.Err()
}

// GetDiscordToken returns the chat-webhook token configured for node.
func (s *Store) GetDiscordToken(ctx context.Context, node int) (string, error) {
	var token sql.NullString
	err := s.db.QueryRowContext(ctx, `SELECT discord_token FROM conf WHERE node = ?`, fmt.Sprintf("LORA%02d", node)).Scan(&token)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("store: get_discord_token(%d): %w", node, err)
	}
	return token.String, nil
}

// GetBattery returns the most recent history row's battery/rssi for
// mac.
func (s *Store) GetBattery(ctx context.Context, mac frame.MAC) (batt float64, date time.Time, rssi int, err error) {
	var dateStr string
	err = s.db.QueryRowContext(ctx, `
		SELECT batt, date, rssi FROM history WHERE mac = ? ORDER BY date DESC LIMIT 1`, mac.String()).
		Scan(&batt, &dateStr, &rssi)
	if err != nil {
		return 0, time.Time{}, 0, fmt.Errorf("store: get_battery(%s): %w", mac, err)
	}
	date, err = time.Parse(timeLayout, dateStr)
	return batt, date, rssi, err
}

// NumNode returns the number of Nodes registered in Conf (the LORANN
// rows, excluding the gateway's own LORA00).
func (s *Store) NumNode(ctx context.Context) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM conf WHERE node LIKE 'LORA__'`).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("store: num_node: %w", err)
	}
	if count == 0 {
		return 0, nil
	}
	return count - 1, nil
}

// NodeRSSISnapshot returns, for each Node 1..N, the most recent RSSI
// of its node-body MAC within the last hour, or 0 if none (§4.5
// node_rssi_snapshot).
func (s *Store) NodeRSSISnapshot(ctx context.Context) ([]int, error) {
	n, err := s.NumNode(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]int, n)
	for node := 1; node <= n; node++ {
		mac := frame.NodeBodyMAC(node).String()
		var rssi int
		var dateStr string
		err := s.db.QueryRowContext(ctx, `
			SELECT rssi, date FROM history WHERE mac = ? ORDER BY date DESC LIMIT 1`, mac).
			Scan(&rssi, &dateStr)
		if err == sql.ErrNoRows {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("store: node_rssi_snapshot: node %d: %w", node, err)
		}
		t, err := time.Parse(timeLayout, dateStr)
		if err != nil {
			return nil, err
		}
		if time.Since(t) < time.Hour {
			out[node-1] = rssi
		}
	}
	return out, nil
}

// IsArriveNode reports whether node has reported within the last 10
// minutes (supplemented liveness helper, §12).
func (s *Store) IsArriveNode(ctx context.Context, node int) (bool, error) {
	cutoff := time.Now().Add(-10 * time.Minute).Format(timeLayout)
	mac := frame.NodeBodyMAC(node).String()
	var count int
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(DISTINCT mac) FROM history WHERE date > ? AND mac = ?`, cutoff, mac).Scan(&count)
	if err != nil {
		return false, fmt.Errorf("store: is_arrive_node(%d): %w", node, err)
	}
	return count > 0, nil
}

// NumSensorsMe returns the number of distinct sensors that reported
// within the last hour (supplemented liveness helper, §12).
func (s *Store) NumSensorsMe(ctx context.Context) (int, error) {
	cutoff := time.Now().Add(-time.Hour).Format(timeLayout)
	var count int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(DISTINCT mac) FROM history WHERE date > ?`, cutoff).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("store: num_sensors_me: %w", err)
	}
	return count, nil
}

// GetNodeNo returns the node number a sensor's MAC belongs to.
func (s *Store) GetNodeNo(ctx context.Context, mac frame.MAC) (int, error) {
	var nodeLabel string
	err := s.db.QueryRowContext(ctx, `SELECT node FROM conf WHERE mac = ?`, mac.String()).Scan(&nodeLabel)
	if err == sql.ErrNoRows {
		return -1, nil
	}
	if err != nil {
		return -1, fmt.Errorf("store: get_node_no(%s): %w", mac, err)
	}
	return parseNodeNo(nodeLabel)
}

// GetAmbientInfo returns the raw ambient_conf string configured for a
// node's LORANN row. The observer reads it as "channelID:writeKey" for
// the node's time-series channel.
func (s *Store) GetAmbientInfo(ctx context.Context, node int) (string, error) {
	var ambient sql.NullString
	err := s.db.QueryRowContext(ctx, `SELECT ambient_conf FROM conf WHERE node = ?`, fmt.Sprintf("LORA%02d", node)).Scan(&ambient)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("store: get_ambient_info(%d): %w", node, err)
	}
	return ambient.String, nil
}

// GetNodeInfo returns the display name configured for a node.
func (s *Store) GetNodeInfo(ctx context.Context, node int) (string, error) {
	var name string
	err := s.db.QueryRowContext(ctx, `SELECT name FROM conf WHERE node = ?`, fmt.Sprintf("LORA%02d", node)).Scan(&name)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("store: get_node_info(%d): %w", node, err)
	}
	return name, nil
}
