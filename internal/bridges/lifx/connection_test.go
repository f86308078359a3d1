package lifx

import (
	"context"
	"errors"
	"net"
	"sync"
	"testing"
	"time"

	"go.yhsif.com/lifxlan"
)

func TestConnectionConfigDefaults(t *testing.T) {
	cfg := ConnectionConfig{}.withDefaults()

	if cfg.Port != DefaultPort {
		t.Errorf("Port = %d", cfg.Port)
	}
	if cfg.MessageTimeout != DefaultMessageTimeout || cfg.RetryCount != DefaultRetryCount || cfg.OverallTimeout != DefaultOverallTimeout {
		t.Errorf("timing = %v %d %v", cfg.MessageTimeout, cfg.RetryCount, cfg.OverallTimeout)
	}
	if cfg.MaxInFlight != defaultConnectionInFlight {
		t.Errorf("MaxInFlight = %d", cfg.MaxInFlight)
	}
	if cfg.Source < 2 {
		t.Errorf("Source = %d", cfg.Source)
	}
}

func TestConnectionSendReceivesResponse(t *testing.T) {
	dev := newFakeDevice(t, testSerial)
	conn := NewConnection("127.0.0.1", testSerial, fastConnection(dev.port()))
	defer conn.Close()

	msg, err := conn.Send(context.Background(), GetColor())
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	ls, ok := msg.Response.(LightState)
	if !ok {
		t.Fatalf("response = %T, want LightState", msg.Response)
	}
	if ls.Label != "Kitchen" {
		t.Errorf("label = %q", ls.Label)
	}
	if msg.Header.Target != testSerial {
		t.Errorf("target = %v", msg.Header.Target)
	}

	stats := conn.Stats()
	if stats.Sent == 0 || stats.Received == 0 || stats.Timeouts != 0 {
		t.Errorf("stats = %+v", stats)
	}
}

func TestConnectionSetGetsAcknowledgement(t *testing.T) {
	dev := newFakeDevice(t, testSerial)
	conn := NewConnection("127.0.0.1", testSerial, fastConnection(dev.port()))
	defer conn.Close()

	msg, err := conn.Send(context.Background(), SetPower(lifxlan.PowerOff))
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	if _, ok := msg.Response.(Acknowledgement); !ok {
		t.Errorf("response = %T, want Acknowledgement", msg.Response)
	}
	if dev.currentPower() != lifxlan.PowerOff {
		t.Error("fake device still on")
	}
}

func TestConnectionLearnsWildcardTarget(t *testing.T) {
	dev := newFakeDevice(t, testSerial)
	conn := NewConnection("127.0.0.1", WildcardSerial, fastConnection(dev.port()))
	defer conn.Close()

	if _, err := conn.Send(context.Background(), GetColor()); err != nil {
		t.Fatalf("Send: %v", err)
	}
	if got := conn.Target(); got != testSerial {
		t.Errorf("Target() = %v, want %v", got, testSerial)
	}
}

func TestConnectionRetransmits(t *testing.T) {
	dev := newFakeDevice(t, testSerial)
	dev.drop(1)

	conn := NewConnection("127.0.0.1", testSerial, fastConnection(dev.port()))
	defer conn.Close()

	if _, err := conn.Send(context.Background(), GetColor()); err != nil {
		t.Fatalf("Send: %v", err)
	}
	stats := conn.Stats()
	if stats.Retransmits != 1 {
		t.Errorf("Retransmits = %d, want 1", stats.Retransmits)
	}
	if dev.requestCount(TypeGetColor) != 2 {
		t.Errorf("device saw %d GetColor, want 2", dev.requestCount(TypeGetColor))
	}
}

func TestConnectionTimeoutThenReconnect(t *testing.T) {
	dev := newFakeDevice(t, testSerial)
	dev.setSilent(true)

	conn := NewConnection("127.0.0.1", testSerial, fastConnection(dev.port()))
	defer conn.Close()

	_, err := conn.Send(context.Background(), GetColor())
	if !errors.Is(err, ErrRequestTimeout) {
		t.Fatalf("Send error = %v, want ErrRequestTimeout", err)
	}

	stats := conn.Stats()
	if stats.Timeouts != 1 || !stats.MustReconnect {
		t.Errorf("stats after timeout = %+v", stats)
	}
	if stats.Pending != 0 {
		t.Errorf("Pending = %d after timeout", stats.Pending)
	}
	if got := dev.requestCount(TypeGetColor); got != 2 {
		t.Errorf("transmissions = %d, want RetryCount (2)", got)
	}

	dev.setSilent(false)
	if _, err := conn.Send(context.Background(), GetColor()); err != nil {
		t.Fatalf("Send after recovery: %v", err)
	}
	stats = conn.Stats()
	if stats.Reconnects != 1 || stats.MustReconnect {
		t.Errorf("stats after reconnect = %+v", stats)
	}
}

func TestConnectionContextCancelled(t *testing.T) {
	dev := newFakeDevice(t, testSerial)
	dev.setSilent(true)

	conn := NewConnection("127.0.0.1", testSerial, ConnectionConfig{
		Port:           dev.port(),
		MessageTimeout: time.Second,
		RetryCount:     3,
		OverallTimeout: 5 * time.Second,
	})
	defer conn.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()

	_, err := conn.Send(ctx, GetColor())
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Send error = %v, want DeadlineExceeded", err)
	}
	if conn.Stats().MustReconnect {
		t.Error("a cancelled send must not flag a reconnect")
	}
}

func TestConnectionConcurrentSends(t *testing.T) {
	dev := newFakeDevice(t, testSerial)
	cfg := fastConnection(dev.port())
	cfg.OverallTimeout = 2 * time.Second
	cfg.RetryCount = 5
	conn := NewConnection("127.0.0.1", testSerial, cfg)
	defer conn.Close()

	var wg sync.WaitGroup
	errs := make(chan error, 20)
	for range 20 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := conn.Send(context.Background(), GetLabel()); err != nil {
				errs <- err
			}
		}()
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		t.Errorf("Send: %v", err)
	}
}

func TestConnectionBoundsOutstandingRequests(t *testing.T) {
	dev := newFakeDevice(t, testSerial)
	dev.setDelay(15 * time.Millisecond)

	conn := NewConnection("127.0.0.1", testSerial, ConnectionConfig{
		Port:           dev.port(),
		MessageTimeout: 50 * time.Millisecond,
		RetryCount:     5,
		OverallTimeout: 5 * time.Second,
	})
	defer conn.Close()

	var wg sync.WaitGroup
	errs := make(chan error, 20)
	for range 20 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := conn.Send(context.Background(), GetLabel()); err != nil {
				errs <- err
			}
		}()
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		t.Errorf("Send: %v", err)
	}
	if got := dev.requestCount(TypeGetLabel); got < 20 {
		t.Errorf("device saw %d requests, want at least 20", got)
	}
	if peak := dev.peakOutstanding(); peak > defaultConnectionInFlight {
		t.Errorf("peak outstanding requests = %d, want at most %d", peak, defaultConnectionInFlight)
	} else if peak < 2 {
		t.Errorf("peak outstanding requests = %d, sends were not concurrent", peak)
	}
}

func TestConnectionSendWaitingForSlotHonoursContext(t *testing.T) {
	dev := newFakeDevice(t, testSerial)
	dev.setSilent(true)

	conn := NewConnection("127.0.0.1", testSerial, ConnectionConfig{
		Port:           dev.port(),
		MessageTimeout: time.Second,
		RetryCount:     3,
		OverallTimeout: 5 * time.Second,
		MaxInFlight:    1,
	})
	defer conn.Close()

	// Occupy the only slot.
	holdCtx, release := context.WithCancel(context.Background())
	defer release()
	go conn.Send(holdCtx, GetColor()) //nolint:errcheck // holds the slot
	if !waitFor(t, time.Second, func() bool { return dev.requestCount(TypeGetColor) > 0 }) {
		t.Fatal("first request never reached the device")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	start := time.Now()
	_, err := conn.Send(ctx, GetLabel())
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Send error = %v, want DeadlineExceeded", err)
	}
	if elapsed := time.Since(start); elapsed > 500*time.Millisecond {
		t.Errorf("Send waited %v for a slot after its context ended", elapsed)
	}
	if dev.requestCount(TypeGetLabel) != 0 {
		t.Error("request sent without a free slot")
	}
}

func TestConnectionIgnoresForeignSource(t *testing.T) {
	conn := NewConnection("127.0.0.1", testSerial, ConnectionConfig{Source: 1000})

	conn.handleDatagram(Packet{
		Header:  Header{Source: 2000, Target: testSerial, Type: TypeAcknowledgement},
		Payload: nil,
	}.Encode())
	conn.handleDatagram([]byte{1, 2, 3})

	stats := conn.Stats()
	if stats.Late != 1 || stats.Invalid != 1 || stats.Received != 0 {
		t.Errorf("stats = %+v", stats)
	}
}

func TestConnectionLateResponseCounted(t *testing.T) {
	conn := NewConnection("127.0.0.1", testSerial, ConnectionConfig{Source: 1000})

	// No request is pending under sequence 9.
	conn.handleDatagram(Packet{
		Header: Header{Source: 1000, Target: testSerial, Sequence: 9, Type: TypeAcknowledgement},
	}.Encode())

	stats := conn.Stats()
	if stats.Received != 1 || stats.Late != 1 {
		t.Errorf("stats = %+v", stats)
	}
}

func TestConnectionOpenFailure(t *testing.T) {
	conn := NewConnection("127.0.0.1", testSerial, ConnectionConfig{Port: 70000})
	err := conn.Open(context.Background())
	if !errors.Is(err, ErrSetupFailed) {
		t.Errorf("Open error = %v, want ErrSetupFailed", err)
	}
}

func TestConnectionAddr(t *testing.T) {
	conn := NewConnection("10.0.0.9", testSerial, ConnectionConfig{Port: 1234})
	if got := conn.Addr(); got != net.JoinHostPort("10.0.0.9", "1234") {
		t.Errorf("Addr() = %q", got)
	}
	if conn.Host() != "10.0.0.9" {
		t.Errorf("Host() = %q", conn.Host())
	}
}
