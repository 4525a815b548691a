// Package nodelink implements the Node side of the radio protocol
// (§4.4): a one-shot beacon receiver that locks onto the Gateway's
// per-minute cycle and assigns this Node's TDMA slot, followed by a
// periodic, phase-locked sender.
package nodelink

import (
	"context"
	"fmt"
	"log"
	"math"
	"time"

	"github.com/semit-takahashi/sast-gateway/internal/frame"
	"github.com/semit-takahashi/sast-gateway/internal/radio"
	"github.com/semit-takahashi/sast-gateway/internal/store"
)

// AckOutcome is the result of one send-and-wait-for-ACK cycle.
type AckOutcome int

const (
	AckReceived AckOutcome = iota
	AckNone
	AckTimeout
)

func (o AckOutcome) String() string {
	switch o {
	case AckReceived:
		return "ACK"
	case AckNone:
		return "NONE"
	default:
		return "TIMEOUT"
	}
}

// MaxTimeSkew is the maximum tolerated drift between the beacon's
// embedded time and this host's clock before it is latched as skewed.
const MaxTimeSkew = 10 * time.Second

// AckWait is the fixed pause after transmit before draining whatever
// the Gateway has replied with (§5 "Cancellation / timeouts").
const AckWait = 1 * time.Second

// Store is the subset of *store.Store the Node's send path needs.
type Store interface {
	DrainLatestNode(ctx context.Context, node int) ([]store.Reading, error)
	GetStatus(ctx context.Context, mac frame.MAC) (store.SensorState, error)
	ChangeNodeStatus(ctx context.Context, stat store.NodeStatus) error
}

// NodeLink owns the one-shot beacon-sync routine and the periodic
// sender that follows it.
type NodeLink struct {
	link         *radio.Link
	store        Store
	nodeNo       int
	beaconPeriod time.Duration
	log          *log.Logger

	seq        uint8
	timeSkewed bool
}

// New builds a NodeLink for nodeNo over an already-open radio Link.
func New(link *radio.Link, st Store, nodeNo int, beaconPeriod time.Duration, logger *log.Logger) *NodeLink {
	if logger == nil {
		logger = log.Default()
	}
	return &NodeLink{link: link, store: st, nodeNo: nodeNo, beaconPeriod: beaconPeriod, log: logger}
}

// SyncAndRun blocks for the one-shot beacon-receive handshake, then
// runs the periodic sender until ctx is done. It is the Node's whole
// state-machine lifecycle: START → WAIT_BEACON → WAIT_SEND → GOOD,
// with error exits surfaced through Store.ChangeNodeStatus.
func (n *NodeLink) SyncAndRun(ctx context.Context) error {
	n.setStatus(ctx, store.NodeStatusStart)

	baseTime, err := n.waitForSlotOne(ctx)
	if err != nil {
		n.setStatus(ctx, store.NodeStatusWarn)
		return fmt.Errorf("nodelink: beacon sync: %w", err)
	}

	n.setStatus(ctx, store.NodeStatusWaitSend)
	slot := time.Duration(n.nodeNo) * 10 * time.Second
	select {
	case <-time.After(time.Until(baseTime.Add(slot))):
	case <-ctx.Done():
		return ctx.Err()
	}

	n.setStatus(ctx, store.NodeStatusGood)
	n.runSender(ctx, baseTime.Add(slot))
	return nil
}

func (n *NodeLink) setStatus(ctx context.Context, s store.NodeStatus) {
	if err := n.store.ChangeNodeStatus(ctx, s); err != nil {
		n.log.Printf("change_node_status(%v): %v", s, err)
	}
}

// waitForSlotOne sets Mode 0, waits for a beacon with seq==1, and
// returns the local-clock time it was received at (the base instant
// this Node's TDMA slot is computed from).
func (n *NodeLink) waitForSlotOne(ctx context.Context) (time.Time, error) {
	if err := n.link.SetMode(radio.ModeNormal); err != nil {
		return time.Time{}, fmt.Errorf("set mode normal: %w", err)
	}
	n.setStatus(ctx, store.NodeStatusWaitBeacon)

	for {
		select {
		case <-ctx.Done():
			return time.Time{}, ctx.Err()
		default:
		}
		buf, err := n.link.RecvExact(ctx, frame.AddressHeaderLen+frame.BeaconRecordSize)
		if err != nil {
			return time.Time{}, fmt.Errorf("recv beacon: %w", err)
		}
		rec, err := frame.DecodeBeacon(buf[frame.AddressHeaderLen:])
		if err != nil {
			n.log.Printf("decode beacon: %v", err)
			continue
		}
		if rec.Type != frame.TypeBeacon {
			continue
		}
		received := time.Now()
		skew := received.Sub(time.Unix(int64(rec.Time), 0))
		if math.Abs(skew.Seconds()) > MaxTimeSkew.Seconds() {
			n.timeSkewed = true
			n.log.Printf("time skew %v exceeds %v", skew, MaxTimeSkew)
		}
		if rec.Seq == 1 {
			if err := n.link.SetMode(radio.ModeDeepSleep); err != nil {
				n.log.Printf("set mode deep sleep: %v", err)
			}
			return received, nil
		}
	}
}

// runSender fires one send cycle per beaconPeriod, phase-locked to
// base (§4.4 "The next send fires at base_time + k·BEACON_INTERVAL").
func (n *NodeLink) runSender(ctx context.Context, base time.Time) {
	for k := 0; ; k++ {
		next := base.Add(time.Duration(k) * n.beaconPeriod)
		select {
		case <-time.After(time.Until(next)):
		case <-ctx.Done():
			return
		}
		outcome, err := n.sendCycle(ctx)
		if err != nil {
			n.log.Printf("send cycle: %v", err)
			n.setStatus(ctx, store.NodeStatusCaution)
			continue
		}
		switch outcome {
		case AckReceived:
			n.setStatus(ctx, store.NodeStatusGood)
		case AckNone, AckTimeout:
			n.log.Printf("send cycle: %s", outcome)
			n.setStatus(ctx, store.NodeStatusWarn)
		}
	}
}

// sendCycle builds and transmits one burst, then waits AckWait before
// draining and scanning for this burst's ACK (§4.4 Sender steps 1-5).
func (n *NodeLink) sendCycle(ctx context.Context) (AckOutcome, error) {
	if err := n.link.SetMode(radio.ModeNormal); err != nil {
		return AckNone, fmt.Errorf("set mode normal: %w", err)
	}
	if err := n.link.WaitReady(ctx); err != nil {
		return AckNone, fmt.Errorf("wait ready: %w", err)
	}

	records, err := n.buildBurst(ctx)
	if err != nil {
		return AckNone, fmt.Errorf("build burst: %w", err)
	}
	burstSeq := uint16(records[len(records)-1].Seq)

	header := frame.AddressHeader{Addr: frame.GatewayAddress(0), Channel: frame.NodeChannel}
	buf := append(header.Encode(), frame.EncodeDataBurst(records)...)
	if err := n.link.Send(ctx, buf); err != nil {
		return AckNone, fmt.Errorf("send: %w", err)
	}

	select {
	case <-time.After(AckWait):
	case <-ctx.Done():
		return AckNone, ctx.Err()
	}

	outcome, err := n.awaitAck(ctx, burstSeq)
	if err := n.link.SetMode(radio.ModeDeepSleep); err != nil {
		n.log.Printf("set mode deep sleep: %v", err)
	}
	return outcome, err
}

// buildBurst composes this Node's burst: a node-body record first,
// then one record per drained sensor reading (§4.4 step 2).
func (n *NodeLink) buildBurst(ctx context.Context) ([]frame.DataRecord, error) {
	now := uint32(time.Now().Unix())
	nodeMAC := frame.NodeBodyMAC(n.nodeNo)
	nodeStatus, err := n.store.GetStatus(ctx, nodeMAC)
	if err != nil {
		return nil, fmt.Errorf("get_status(node body): %w", err)
	}

	n.seq++
	records := []frame.DataRecord{{
		Node:   uint8(n.nodeNo),
		Chan:   frame.NodeChannel,
		Seq:    uint16(n.seq),
		MAC:    nodeMAC,
		Time:   now,
		Status: int16(nodeStatus),
	}}

	readings, err := n.store.DrainLatestNode(ctx, n.nodeNo)
	if err != nil {
		return nil, fmt.Errorf("drain_latest(node=%d): %w", n.nodeNo, err)
	}
	for _, r := range readings {
		status, err := n.store.GetStatus(ctx, r.MAC)
		if err != nil {
			return nil, fmt.Errorf("get_status(%s): %w", r.MAC, err)
		}
		n.seq++
		records = append(records, frame.DataRecord{
			Node:   uint8(n.nodeNo),
			Chan:   frame.NodeChannel,
			Seq:    uint16(n.seq),
			MAC:    r.MAC,
			Time:   now,
			Templ:  frame.FixedPoint10(r.Templ),
			Humid:  frame.FixedPoint10(r.Humid),
			Batt:   frame.FixedPoint10(r.Batt),
			RSSI:   int16(r.RSSI),
			Status: int16(status),
		})
	}
	return records, nil
}

// awaitAck drains whatever's buffered and scans 9-byte ACK-framed
// records (8-byte record + 1 RSSI byte) for a matching seq (§4.4
// step 4).
func (n *NodeLink) awaitAck(ctx context.Context, wantSeq uint16) (AckOutcome, error) {
	buf, err := n.link.RecvAvailable(ctx)
	if err != nil {
		return AckNone, fmt.Errorf("recv available: %w", err)
	}
	if len(buf) == 0 {
		return AckTimeout, nil
	}

	const ackFrameSize = frame.BeaconRecordSize + 1
	for off := 0; off+ackFrameSize <= len(buf); off += ackFrameSize {
		rec, err := frame.DecodeBeacon(buf[off : off+frame.BeaconRecordSize])
		if err != nil {
			continue
		}
		switch rec.Type {
		case frame.TypeAck:
			if uint16(rec.Seq) == wantSeq {
				return AckReceived, nil
			}
		case frame.TypeBeacon:
			// stray beacon, ignore
		}
	}
	return AckNone, nil
}
