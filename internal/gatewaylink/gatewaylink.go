// Package gatewaylink implements the Gateway side of the radio
// protocol (§4.3): a periodic beacon broadcast and a receiver loop
// that ingests Node data bursts and replies with one ACK per burst.
package gatewaylink

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/semit-takahashi/sast-gateway/internal/frame"
	"github.com/semit-takahashi/sast-gateway/internal/radio"
	"github.com/semit-takahashi/sast-gateway/internal/store"
)

// BeaconCount is the number of beacon frames sent at each wall-clock
// minute boundary.
const BeaconCount = 1

// Store is the subset of *store.Store the Gateway's receive path
// needs (§9 "Cyclic module references" — components depend on a
// capability interface, not the concrete store).
type Store interface {
	UseSensor(ctx context.Context, node int, mac frame.MAC) (bool, error)
	AppendReading(ctx context.Context, r store.Reading) error
	GetStatus(ctx context.Context, mac frame.MAC) (store.SensorState, error)
}

// GatewayLink owns the beacon and receiver tasks. Both share one
// *radio.Link; writeMu keeps a beacon transmit from interleaving with
// an in-progress burst receive on the same UART handle (§5 "Shared
// resources").
type GatewayLink struct {
	link    *radio.Link
	store   Store
	log     *log.Logger
	writeMu sync.Mutex

	seq uint8
}

// New builds a GatewayLink over an already-open radio Link.
func New(link *radio.Link, st Store, logger *log.Logger) *GatewayLink {
	if logger == nil {
		logger = log.Default()
	}
	return &GatewayLink{link: link, store: st, log: logger}
}

// RunBeacon blocks, sending BeaconCount beacons at every wall-clock
// minute boundary, until ctx is done.
func (g *GatewayLink) RunBeacon(ctx context.Context) {
	for {
		wait := time.Until(nextMinuteBoundary(time.Now()))
		select {
		case <-ctx.Done():
			return
		case <-time.After(wait):
		}
		if err := g.sendBeacons(ctx); err != nil {
			g.log.Printf("beacon: %v", err)
		}
	}
}

func nextMinuteBoundary(now time.Time) time.Time {
	return now.Truncate(time.Minute).Add(time.Minute)
}

func (g *GatewayLink) sendBeacons(ctx context.Context) error {
	g.writeMu.Lock()
	defer g.writeMu.Unlock()

	header := frame.AddressHeader{Addr: frame.BroadcastAddress, Channel: frame.NodeChannel}
	for i := 1; i <= BeaconCount; i++ {
		rec := frame.BeaconRecord{Type: frame.TypeBeacon, Seq: uint8(i), Time: uint32(time.Now().Unix())}
		buf := append(header.Encode(), rec.Encode()...)
		if err := g.link.Send(ctx, buf); err != nil {
			return fmt.Errorf("gatewaylink: send beacon %d: %w", i, err)
		}
	}
	return nil
}

// RunReceiver blocks, looping forever on incoming data bursts, until
// ctx is done.
func (g *GatewayLink) RunReceiver(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}
		if err := g.receiveBurst(ctx); err != nil && ctx.Err() == nil {
			g.log.Printf("receiver: %v", err)
		}
	}
}

// receiveBurst reads one length-prefixed burst, persists its records,
// and replies with a single ACK carrying the burst's terminal seq
// (§4.3 Receiver task).
func (g *GatewayLink) receiveBurst(ctx context.Context) error {
	lenBuf, err := g.link.RecvExact(ctx, frame.LengthPrefixLen)
	if err != nil {
		return fmt.Errorf("read length prefix: %w", err)
	}
	payloadLen := int(lenBuf[0]) | int(lenBuf[1])<<8

	payload, err := g.link.RecvExact(ctx, payloadLen)
	if err != nil {
		return fmt.Errorf("read payload: %w", err)
	}
	rssiBuf, err := g.link.RecvExact(ctx, 1)
	if err != nil {
		return fmt.Errorf("read rssi: %w", err)
	}
	rssi := frame.DecodeEnvelopeRSSI(rssiBuf[0])

	records, remainder := frame.SplitDataBurst(payload)
	if len(remainder) != 0 {
		g.log.Printf("receiver: dropping %d trailing bytes, not a whole record", len(remainder))
	}

	now := time.Now()
	var lastSeq uint16
	var originNode uint8
	var accepted int
	for _, raw := range records {
		rec, err := frame.DecodeDataRecord(raw)
		if err != nil {
			g.log.Printf("receiver: decode: %v", err)
			continue
		}
		if err := frame.Validate(rec, now); err != nil {
			g.log.Printf("receiver: reject: %v", err)
			continue
		}
		if err := g.ingest(ctx, rec, rssi); err != nil {
			g.log.Printf("receiver: ingest: %v", err)
			continue
		}
		lastSeq = rec.Seq
		originNode = rec.Node
		accepted++
	}

	if accepted == 0 {
		return nil
	}
	return g.sendAck(ctx, originNode, lastSeq)
}

func (g *GatewayLink) ingest(ctx context.Context, rec frame.DataRecord, envelopeRSSI int) error {
	ok, err := g.store.UseSensor(ctx, int(rec.Node), rec.MAC)
	if err != nil {
		return fmt.Errorf("use_sensor(%s): %w", rec.MAC, err)
	}
	if !ok {
		return nil
	}

	status, err := g.store.GetStatus(ctx, rec.MAC)
	if err != nil {
		return fmt.Errorf("get_status(%s): %w", rec.MAC, err)
	}

	// A node-body record carries no sensor tag to measure, so its RSSI
	// is the LoRa envelope byte for this burst; a sensor record's RSSI
	// is the Node's own reading of its BLE sensor tag's signal and
	// travels on the wire in the record itself (§4.1, §4.3 point 2).
	rssi := envelopeRSSI
	if !rec.MAC.IsNodeBody() {
		rssi = int(rec.RSSI)
	}
	reading := store.Reading{
		MAC:    rec.MAC,
		Date:   time.Unix(int64(rec.Time), 0),
		Node:   int(rec.Node),
		Templ:  frame.FromFixedPoint10(rec.Templ),
		Humid:  frame.FromFixedPoint10(rec.Humid),
		Batt:   frame.FromFixedPoint10(rec.Batt),
		RSSI:   rssi,
		Status: status,
	}
	return g.store.AppendReading(ctx, reading)
}

func (g *GatewayLink) sendAck(ctx context.Context, node uint8, seq uint16) error {
	g.writeMu.Lock()
	defer g.writeMu.Unlock()

	header := frame.AddressHeader{Addr: frame.GatewayAddress(int(node)), Channel: frame.GatewayChannel}
	rec := frame.BeaconRecord{Type: frame.TypeAck, Seq: uint8(seq), Time: uint32(time.Now().Unix())}
	buf := append(header.Encode(), rec.Encode()...)
	if err := g.link.Send(ctx, buf); err != nil {
		return fmt.Errorf("gatewaylink: send ack: %w", err)
	}
	return nil
}
