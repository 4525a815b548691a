package frame

// Fixed addressing scheme (§6): the Gateway's own address is offset
// from a base by its NodeNo (always 0), Nodes listen on a shared
// broadcast address, and the two roles use distinct channels.
const (
	gatewayAddrBase  uint16 = 0x2310
	BroadcastAddress uint16 = 0xFFFF
	GatewayChannel   byte   = 0
	NodeChannel      byte   = 10
)

// GatewayAddress returns the Gateway's own address, nodeNo is always 0
// for the Gateway itself but the formula is shared with the per-Node
// ACK destination address built in gatewaylink's sendAck.
func GatewayAddress(nodeNo int) uint16 {
	return gatewayAddrBase + uint16(nodeNo)
}
