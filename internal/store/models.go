// Package store is the embedded SQL-backed persistence layer shared by
// the Gateway and Node deployables: sensor/node configuration, rolling
// history, per-sensor "latest" state, per-sensor notification state,
// and node system status (§3, §4.5).
package store

import (
	"fmt"
	"time"

	"github.com/semit-takahashi/sast-gateway/internal/frame"
)

// SensorState is the per-sensor classification held in Notify.status.
type SensorState int

const (
	SensorNone        SensorState = -1
	SensorLost        SensorState = 0
	SensorNormal      SensorState = 1
	SensorLowWarn     SensorState = 2
	SensorLowCaution  SensorState = 3
	SensorHighWarn    SensorState = 4
	SensorHighCaution SensorState = 5
)

func (s SensorState) String() string {
	switch s {
	case SensorNone:
		return "NONE"
	case SensorLost:
		return "LOST"
	case SensorNormal:
		return "NORMAL"
	case SensorLowWarn:
		return "LOW_WARN"
	case SensorLowCaution:
		return "LOW_CAUTION"
	case SensorHighWarn:
		return "HIGH_WARN"
	case SensorHighCaution:
		return "HIGH_CAUTION"
	default:
		return fmt.Sprintf("SensorState(%d)", int(s))
	}
}

// NodeStatus is the Node system state surfaced through the Status
// table and driven by NodeLink's state machine (§4.4).
type NodeStatus int

const (
	NodeStatusNone NodeStatus = iota
	NodeStatusStart
	NodeStatusWaitBeacon
	NodeStatusWaitSend
	NodeStatusGood
	NodeStatusCaution
	NodeStatusWarn
	NodeStatusLost
)

// Thresholds is the 4-tuple warn configuration for one sensor. Any
// member may be absent (the reference CSV's literal "NONE" entries),
// modelled here as the dynamic-dict-row's CSV field generalised to a
// tagged record of optionals (§9).
type Thresholds struct {
	LowCaution  *float64
	LowWarn     *float64
	HighWarn    *float64
	HighCaution *float64
}

// Conf is one row of sensor/node configuration, replaced atomically on
// every successful cloud config apply.
type Conf struct {
	MAC          frame.MAC
	Name         string
	Node         string // owning NodeNo as "LORA00".."LORANN", or the sensor's own node id
	Use          bool
	Warn         Thresholds
	AmbientConf  string
	DiscordToken string
	Memo         string
}

// Reading is one sensor (or node-body) observation, the common shape
// of both History and Latest rows.
type Reading struct {
	MAC    frame.MAC
	Date   time.Time
	Node   int
	Templ  float64
	Humid  float64
	Batt   float64
	RSSI   int
	Ext    int
	Light  float64
	Status SensorState
}

// LatestWithAmbient augments a Reading with the sensor's configured
// time-series slot, as returned by DrainLatestAll (joined against Conf).
type LatestWithAmbient struct {
	Reading
	AmbientConf string
}

// NotifyRow is one sensor's alert state (§3 Notify, §4.6).
type NotifyRow struct {
	Node     int
	MAC      frame.MAC
	Date     time.Time
	LostDate *time.Time
	Status   SensorState
	Count    int
	Notify   bool
}

// SensorRef names a sensor belonging to a node, as returned by
// GetSensors.
type SensorRef struct {
	MAC  frame.MAC
	Name string
}

// ApplyResult is the outcome of ApplyConfig.
type ApplyResult int

const (
	ApplyUpdated ApplyResult = iota
	ApplyUnchanged
)
