package lifx

import (
	"context"
	"encoding/binary"
	"net"
	"sync"
	"testing"
	"time"

	"go.yhsif.com/lifxlan"
)

// testSerial is the serial of the fake devices used across tests.
var testSerial = Serial{0xd0, 0x73, 0xd5, 0x01, 0x02, 0x03}

// fastConnection returns transport settings suited to loopback tests.
func fastConnection(port int) ConnectionConfig {
	return ConnectionConfig{
		Port:           port,
		MessageTimeout: 20 * time.Millisecond,
		RetryCount:     2,
		OverallTimeout: 200 * time.Millisecond,
	}
}

// waitFor polls cond until it holds or the timeout passes.
func waitFor(t *testing.T, timeout time.Duration, cond func() bool) bool {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return true
		}
		time.Sleep(5 * time.Millisecond)
	}
	return cond()
}

// =============================================================================
// Fake device (loopback UDP)
// =============================================================================

// fakeDevice answers LIFX requests on a loopback UDP socket, enough for a
// colour bulb to be discovered, polled and switched.
type fakeDevice struct {
	conn   *net.UDPConn
	serial Serial

	mu        sync.Mutex
	color     HSBK
	power     lifxlan.Power
	label     string
	group     string
	productID uint32
	firmware  uint32
	silent    bool
	dropNext  int
	requests  []Header

	// replies are held back by delay; outstanding holds the requests not
	// yet answered and peak the most seen at once.
	delay       time.Duration
	outstanding map[requestKey]struct{}
	peak        int

	wg sync.WaitGroup
}

type requestKey struct {
	source   uint32
	sequence uint8
}

func newFakeDevice(t *testing.T, serial Serial) *fakeDevice {
	t.Helper()

	conn, err := net.ListenUDP("udp4", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)})
	if err != nil {
		t.Fatalf("listen: %v", err)
	}

	d := &fakeDevice{
		conn:      conn,
		serial:    serial,
		color:     HSBK{Hue: 0, Saturation: 0, Brightness: 65535, Kelvin: 3500},
		power:     lifxlan.PowerOn,
		label:     "Kitchen",
		group:     "Downstairs",
		productID: 27,
		firmware:  3<<16 | 70,

		outstanding: make(map[requestKey]struct{}),
	}

	d.wg.Add(1)
	go d.serve()

	t.Cleanup(func() {
		conn.Close()
		d.wg.Wait()
	})
	return d
}

func (d *fakeDevice) port() int {
	return d.conn.LocalAddr().(*net.UDPAddr).Port
}

func (d *fakeDevice) setSilent(silent bool) {
	d.mu.Lock()
	d.silent = silent
	d.mu.Unlock()
}

func (d *fakeDevice) drop(n int) {
	d.mu.Lock()
	d.dropNext = n
	d.mu.Unlock()
}

func (d *fakeDevice) setDelay(delay time.Duration) {
	d.mu.Lock()
	d.delay = delay
	d.mu.Unlock()
}

// peakOutstanding is the largest number of distinct requests that were
// waiting for an answer at the same time.
func (d *fakeDevice) peakOutstanding() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.peak
}

func (d *fakeDevice) answered(key requestKey) {
	d.mu.Lock()
	delete(d.outstanding, key)
	d.mu.Unlock()
}

func (d *fakeDevice) currentPower() lifxlan.Power {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.power
}

func (d *fakeDevice) currentColor() HSBK {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.color
}

func (d *fakeDevice) requestCount(t MessageType) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	n := 0
	for _, h := range d.requests {
		if h.Type == t {
			n++
		}
	}
	return n
}

func (d *fakeDevice) serve() {
	defer d.wg.Done()

	buf := make([]byte, readBufferSize)
	for {
		n, from, err := d.conn.ReadFromUDP(buf)
		if err != nil {
			return
		}
		packet, err := DecodePacket(buf[:n])
		if err != nil {
			continue
		}
		key := requestKey{source: packet.Header.Source, sequence: packet.Header.Sequence}
		reply, delay := d.handle(packet)
		if delay <= 0 {
			if reply != nil {
				d.conn.WriteToUDP(reply, from) //nolint:errcheck // test device
			}
			d.answered(key)
			continue
		}

		d.wg.Add(1)
		go func() {
			defer d.wg.Done()
			time.Sleep(delay)
			if reply != nil {
				d.conn.WriteToUDP(reply, from) //nolint:errcheck // test device
			}
			d.answered(key)
		}()
	}
}

func (d *fakeDevice) handle(req Packet) ([]byte, time.Duration) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.requests = append(d.requests, req.Header)
	d.outstanding[requestKey{source: req.Header.Source, sequence: req.Header.Sequence}] = struct{}{}
	d.peak = max(d.peak, len(d.outstanding))

	if d.silent {
		return nil, 0
	}
	if d.dropNext > 0 {
		d.dropNext--
		return nil, 0
	}
	return d.reply(req), d.delay
}

// reply applies a request to the device state and builds the answer, if
// any. Caller holds d.mu.
func (d *fakeDevice) reply(req Packet) []byte {

	switch req.Header.Type {
	case TypeSetPower, TypeSetLightPower:
		d.power = lifxlan.Power(binary.LittleEndian.Uint16(req.Payload[:2]))
	case TypeSetColor:
		var p struct {
			_        uint8
			Color    HSBK
			Duration uint32
		}
		if decodePayload(req.Header.Type, req.Payload, &p) == nil {
			d.color = p.Color
		}
	}

	var (
		t       MessageType
		payload []byte
	)
	switch req.Header.Type {
	case TypeGetService:
		t, payload = TypeStateService, encodePayload(StateService{Service: serviceUDP, Port: uint32(d.port())}) //nolint:gosec // test port
	case TypeGetColor:
		t, payload = TypeLightState, lightStatePayload(d.color, d.power, d.label)
	case TypeGetPower:
		t, payload = TypeStatePower, encodePayload(uint16(d.power))
	case TypeGetLabel:
		t, payload = TypeStateLabel, labelPayload(d.label)
	case TypeGetGroup:
		t, payload = TypeStateGroup, groupPayload(d.group)
	case TypeGetVersion:
		t, payload = TypeStateVersion, encodePayload(StateVersion{Vendor: 1, Product: d.productID})
	case TypeGetHostFirmware:
		t, payload = TypeStateHostFirmware, encodePayload(struct {
			Build   uint64
			_       uint64
			Version uint32
		}{Version: d.firmware})
	case TypeGetWifiInfo:
		t, payload = TypeStateWifiInfo, encodePayload(StateWifiInfo{Signal: 1e-5})
	default:
		if !req.Header.AckRequired {
			return nil
		}
		t = TypeAcknowledgement
	}

	return Packet{
		Header: Header{
			Source:   req.Header.Source,
			Target:   d.serial,
			Sequence: req.Header.Sequence,
			Type:     t,
		},
		Payload: payload,
	}.Encode()
}

func lightStatePayload(c HSBK, power lifxlan.Power, label string) []byte {
	p := struct {
		Color HSBK
		_     int16
		Power uint16
		Label [labelSize]byte
		_     uint64
	}{Color: c, Power: uint16(power)}
	copy(p.Label[:], label)
	return encodePayload(p)
}

func labelPayload(label string) []byte {
	var raw [labelSize]byte
	copy(raw[:], label)
	return raw[:]
}

func groupPayload(label string) []byte {
	p := struct {
		Group     [16]byte
		Label     [labelSize]byte
		UpdatedAt uint64
	}{}
	copy(p.Label[:], label)
	return encodePayload(p)
}

// =============================================================================
// Mock sender
// =============================================================================

// mockSender answers requests from an in-memory light without a socket.
type mockSender struct {
	mu        sync.Mutex
	serial    Serial
	state     LightState
	productID uint32
	err       error
	requests  []Request
}

func newMockSender(productID uint32) *mockSender {
	return &mockSender{
		serial:    testSerial,
		productID: productID,
		state: LightState{
			Color: HSBK{Hue: 21845, Saturation: 65535, Brightness: 65535, Kelvin: 3500},
			Power: lifxlan.PowerOn,
			Label: "Kitchen",
		},
	}
}

func (m *mockSender) Send(_ context.Context, req Request) (Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.requests = append(m.requests, req)
	if m.err != nil {
		return Message{}, m.err
	}

	var resp Response
	switch req.Type {
	case TypeGetColor:
		resp = m.state
	case TypeGetHostFirmware:
		resp = StateHostFirmware{Version: 3<<16 | 70}
	case TypeGetVersion:
		resp = StateVersion{Vendor: 1, Product: m.productID}
	case TypeGetGroup:
		resp = StateGroup{Label: "Downstairs"}
	case TypeGetLabel:
		resp = StateLabel{Label: m.state.Label}
	case TypeGetWifiInfo:
		resp = StateWifiInfo{Signal: 1e-5}
	case TypeGetHevCycle:
		resp = StateHevCycle{Duration: 7200, Remaining: 3600}
	case TypeGetInfrared:
		resp = StateInfrared{Brightness: 16383}
	case TypeGetExtendedColorZones:
		var frame [ExtendedZonesFrame]HSBK
		for i := range 16 {
			frame[i] = HSBK{Hue: uint16(i * 1000), Saturation: 65535, Brightness: 65535, Kelvin: 3500} //nolint:gosec // small
		}
		resp = StateExtendedColorZones{ZonesCount: 16, ColorsCount: 16, Colors: frame}
	case TypeGetMultiZoneEffect:
		resp = StateMultiZoneEffect{Effect: MultiZoneEffectOff}
	case TypeSetPower, TypeSetLightPower:
		m.state.Power = lifxlan.Power(binary.LittleEndian.Uint16(req.Payload[:2]))
		resp = Acknowledgement{}
	default:
		resp = Acknowledgement{}
	}

	return Message{
		Header:   Header{Target: m.serial, Type: resp.ResponseType()},
		Response: resp,
	}, nil
}

func (m *mockSender) setErr(err error) {
	m.mu.Lock()
	m.err = err
	m.mu.Unlock()
}

func (m *mockSender) setPower(p lifxlan.Power) {
	m.mu.Lock()
	m.state.Power = p
	m.mu.Unlock()
}

func (m *mockSender) types() []MessageType {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]MessageType, len(m.requests))
	for i, r := range m.requests {
		out[i] = r.Type
	}
	return out
}

func (m *mockSender) count(t MessageType) int {
	n := 0
	for _, got := range m.types() {
		if got == t {
			n++
		}
	}
	return n
}

func (m *mockSender) last(t MessageType) (Request, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := len(m.requests) - 1; i >= 0; i-- {
		if m.requests[i].Type == t {
			return m.requests[i], true
		}
	}
	return Request{}, false
}

func (m *mockSender) reset() {
	m.mu.Lock()
	m.requests = nil
	m.mu.Unlock()
}

// =============================================================================
// Mock connectivity
// =============================================================================

type mockConnectivity struct {
	mu        sync.Mutex
	connected bool
	sets      []bool
	seen      int
}

func (m *mockConnectivity) IsConnected(Serial) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.connected
}

func (m *mockConnectivity) SetConnected(_ Serial, connected bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.connected = connected
	m.sets = append(m.sets, connected)
}

func (m *mockConnectivity) MarkSeen(Serial) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.connected = true
	m.seen++
}

func (m *mockConnectivity) seenCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.seen
}

func (m *mockConnectivity) set(connected bool) {
	m.mu.Lock()
	m.connected = connected
	m.mu.Unlock()
}

func (m *mockConnectivity) setCalls() []bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]bool(nil), m.sets...)
}
