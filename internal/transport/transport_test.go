package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"

	"github.com/dshills/mcpbridge/internal/jsonrpc"
	"github.com/dshills/mcpbridge/internal/process"
)

func TestMain(m *testing.M) {
	if mode := os.Getenv(stubEnv); mode != "" {
		os.Exit(runStubServer(mode))
	}
	os.Exit(m.Run())
}

func stubLaunch(t *testing.T, mode string) Launch {
	t.Helper()
	exe, err := os.Executable()
	if err != nil {
		t.Fatalf("os.Executable: %v", err)
	}
	return Launch{
		Name: "stub-" + mode,
		Spec: process.Spec{
			Command: exe,
			Args:    []string{"-test.run=^$"},
			Env:     map[string]string{stubEnv: mode},
		},
	}
}

// startStub starts a transport against the stub server and registers
// cleanup.
func startStub(t *testing.T, mode string, opts ...Option) *Transport {
	t.Helper()
	tr := New(opts...)
	if err := tr.Start(context.Background(), stubLaunch(t, mode)); err != nil {
		t.Fatalf("Start(%s) error = %v", mode, err)
	}
	t.Cleanup(func() { _, _ = tr.Shutdown(time.Second) })
	return tr
}

func echoValue(t *testing.T, raw json.RawMessage) any {
	t.Helper()
	var v struct {
		Value any `json:"value"`
	}
	if err := json.Unmarshal(raw, &v); err != nil {
		t.Fatalf("unmarshal %s: %v", raw, err)
	}
	return v.Value
}

func TestStart_ToolsListScenario(t *testing.T) {
	tr := startStub(t, modeDefault)

	if tr.State() != StateReady {
		t.Fatalf("State() = %v, want ready", tr.State())
	}
	if !tr.IsReady() || !tr.IsAlive() {
		t.Fatal("expected ready and alive transport")
	}
	if tr.PID() <= 0 {
		t.Errorf("PID() = %d", tr.PID())
	}

	var info struct {
		ServerInfo struct {
			Name string `json:"name"`
		} `json:"serverInfo"`
		Params initializeParams `json:"params"`
	}
	if err := json.Unmarshal(tr.ServerInfo(), &info); err != nil {
		t.Fatalf("ServerInfo() not JSON: %v", err)
	}
	if info.ServerInfo.Name != "stub" {
		t.Errorf("server name = %q", info.ServerInfo.Name)
	}
	if info.Params.ProtocolVersion != ProtocolVersion {
		t.Errorf("protocolVersion sent = %q", info.Params.ProtocolVersion)
	}
	if info.Params.ClientInfo.Name != "mcpbridge" {
		t.Errorf("clientInfo sent = %+v", info.Params.ClientInfo)
	}

	result, err := tr.Call(context.Background(), "tools/list", nil, time.Second)
	if err != nil {
		t.Fatalf("Call(tools/list) error = %v", err)
	}
	if string(result) != `{"tools":[{"name":"x"}]}` {
		t.Errorf("result = %s", result)
	}
}

func TestStart_Twice(t *testing.T) {
	tr := startStub(t, modeDefault)
	if err := tr.Start(context.Background(), stubLaunch(t, modeDefault)); !errors.Is(err, ErrAlreadyStarted) {
		t.Errorf("second Start() = %v, want ErrAlreadyStarted", err)
	}
}

func TestStart_SpawnError(t *testing.T) {
	tr := New()
	err := tr.Start(context.Background(), Launch{Spec: process.Spec{Command: "/no/such/mcp-server"}})

	var startErr *StartError
	if !errors.As(err, &startErr) {
		t.Fatalf("expected *StartError, got %T: %v", err, err)
	}
	if startErr.Phase != PhaseSpawn {
		t.Errorf("Phase = %q, want spawn", startErr.Phase)
	}
	var spawnErr *process.SpawnError
	if !errors.As(err, &spawnErr) {
		t.Errorf("expected wrapped *process.SpawnError, got %v", err)
	}
	if tr.State() != StateStopped {
		t.Errorf("State() = %v, want stopped", tr.State())
	}
	if _, err := tr.Call(context.Background(), "tools/list", nil, time.Second); !errors.Is(err, ErrTransportClosed) {
		t.Errorf("Call after failed start = %v, want ErrTransportClosed", err)
	}
}

func TestStart_HandshakeFailures(t *testing.T) {
	tests := []struct {
		name    string
		mode    string
		wantErr func(error) bool
	}{
		{
			name:    "no reply",
			mode:    modeNoHandshake,
			wantErr: func(err error) bool { return errors.Is(err, ErrTimeout) },
		},
		{
			name: "remote error",
			mode: modeInitError,
			wantErr: func(err error) bool {
				var rpcErr *jsonrpc.Error
				return errors.As(err, &rpcErr) && rpcErr.Code == -32603
			},
		},
		{
			name:    "child exits",
			mode:    modeCrash,
			wantErr: func(err error) bool { return errors.Is(err, ErrTransportClosed) },
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tr := New(WithHandshakeTimeout(200*time.Millisecond), WithShutdownGrace(500*time.Millisecond))

			start := time.Now()
			err := tr.Start(context.Background(), stubLaunch(t, tt.mode))
			if elapsed := time.Since(start); elapsed > 3*time.Second {
				t.Errorf("Start took %v", elapsed)
			}

			var startErr *StartError
			if !errors.As(err, &startErr) || startErr.Phase != PhaseHandshake {
				t.Fatalf("expected handshake StartError, got %v", err)
			}
			if !tt.wantErr(err) {
				t.Errorf("unexpected cause: %v", err)
			}
			if tr.State() != StateStopped {
				t.Errorf("State() = %v, want stopped", tr.State())
			}
			if tr.IsAlive() {
				t.Error("child should be terminated after a failed start")
			}
			if tr.PendingCalls() != 0 {
				t.Errorf("PendingCalls() = %d, want 0", tr.PendingCalls())
			}
		})
	}
}

func TestCall_NotStarted(t *testing.T) {
	tr := New()

	if _, err := tr.Call(context.Background(), "tools/list", nil, time.Second); !errors.Is(err, ErrNotReady) {
		t.Errorf("Call() = %v, want ErrNotReady", err)
	}
	if err := tr.Notify(context.Background(), "x", nil); !errors.Is(err, ErrNotReady) {
		t.Errorf("Notify() = %v, want ErrNotReady", err)
	}
	if err := tr.Restart(context.Background()); !errors.Is(err, ErrNeverStarted) {
		t.Errorf("Restart() = %v, want ErrNeverStarted", err)
	}
	select {
	case <-tr.Exited():
	default:
		t.Error("Exited() should be closed without a session")
	}
}

func TestCall_CorrelationUnderConcurrency(t *testing.T) {
	tr := startStub(t, modeDefault)

	const n = 25
	var wg sync.WaitGroup
	errs := make(chan error, n)

	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			want := fmt.Sprintf("caller-%d", i)
			// The stub holds replies until all n requests arrived and then
			// answers them in a random order.
			raw, err := tr.Call(context.Background(), "hold", map[string]any{"value": want, "count": n}, 5*time.Second)
			if err != nil {
				errs <- fmt.Errorf("call %d: %w", i, err)
				return
			}
			var got struct {
				Value string `json:"value"`
			}
			if err := json.Unmarshal(raw, &got); err != nil {
				errs <- err
				return
			}
			if got.Value != want {
				errs <- fmt.Errorf("call %d got reply for %q", i, got.Value)
			}
		}(i)
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		t.Error(err)
	}
	if tr.PendingCalls() != 0 {
		t.Errorf("PendingCalls() = %d after all replies", tr.PendingCalls())
	}
}

func TestCall_Timeout(t *testing.T) {
	tr := startStub(t, modeDefault)

	timeout := 200 * time.Millisecond
	start := time.Now()
	_, err := tr.Call(context.Background(), "never", nil, timeout)
	elapsed := time.Since(start)

	if !errors.Is(err, ErrTimeout) {
		t.Fatalf("Call() = %v, want ErrTimeout", err)
	}
	if elapsed < timeout {
		t.Errorf("returned after %v, before the timeout", elapsed)
	}
	if elapsed > 300*time.Millisecond {
		t.Errorf("returned after %v, want <= 300ms", elapsed)
	}
	if tr.PendingCalls() != 0 {
		t.Errorf("timed out entry still pending")
	}
	if tr.State() != StateReady {
		t.Errorf("timeout should not affect state, got %v", tr.State())
	}
}

func TestCall_DefaultTimeout(t *testing.T) {
	tr := startStub(t, modeDefault, WithCallTimeout(100*time.Millisecond))

	start := time.Now()
	if _, err := tr.Call(context.Background(), "never", nil, 0); !errors.Is(err, ErrTimeout) {
		t.Fatalf("Call() = %v, want ErrTimeout", err)
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Errorf("default timeout not applied, took %v", elapsed)
	}
}

func TestCall_LateReplyHasNoEffect(t *testing.T) {
	reg := prometheus.NewRegistry()
	metrics, err := NewMetrics(reg)
	if err != nil {
		t.Fatalf("NewMetrics() error = %v", err)
	}
	tr := startStub(t, modeDefault, WithMetrics(metrics))

	_, err = tr.Call(context.Background(), "slow", map[string]any{"value": "late", "delay_ms": 150}, 30*time.Millisecond)
	if !errors.Is(err, ErrTimeout) {
		t.Fatalf("Call() = %v, want ErrTimeout", err)
	}

	// Let the late reply arrive, then make sure it was dropped.
	deadline := time.Now().Add(2 * time.Second)
	for testutil.ToFloat64(metrics.unmatched) < 1 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	if got := testutil.ToFloat64(metrics.unmatched); got != 1 {
		t.Fatalf("unmatched replies = %v, want 1", got)
	}

	raw, err := tr.Call(context.Background(), "echo", map[string]any{"value": "fresh"}, time.Second)
	if err != nil {
		t.Fatalf("follow-up Call() error = %v", err)
	}
	if v := echoValue(t, raw); v != "fresh" {
		t.Errorf("follow-up got %v, want fresh", v)
	}

	if got := testutil.ToFloat64(metrics.calls.WithLabelValues("slow", outcomeTimeout)); got != 1 {
		t.Errorf("timeout calls = %v, want 1", got)
	}
}

func TestCall_ExactlyOnceUnderRaces(t *testing.T) {
	reg := prometheus.NewRegistry()
	metrics, err := NewMetrics(reg)
	if err != nil {
		t.Fatalf("NewMetrics() error = %v", err)
	}
	tr := startStub(t, modeDefault, WithMetrics(metrics))

	// Replies land right around the timeout so that resolve and abandon
	// race for the same entries.
	const n = 60
	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		ok, late int
	)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			want := fmt.Sprintf("v%d", i)
			raw, err := tr.Call(context.Background(), "slow",
				map[string]any{"value": want, "delay_ms": 20 + i%5}, 22*time.Millisecond)

			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				if v := echoValue(t, raw); v != want {
					t.Errorf("call %d resolved with %v", i, v)
				}
				ok++
			case errors.Is(err, ErrTimeout):
				late++
			default:
				t.Errorf("call %d: unexpected error %v", i, err)
			}
		}(i)
	}
	wg.Wait()

	if ok+late != n {
		t.Errorf("observed %d outcomes for %d calls", ok+late, n)
	}
	if tr.PendingCalls() != 0 {
		t.Errorf("PendingCalls() = %d, want 0", tr.PendingCalls())
	}

	// Every timed-out call eventually produces exactly one unmatched reply.
	deadline := time.Now().Add(2 * time.Second)
	for int(testutil.ToFloat64(metrics.unmatched)) < late && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	if got := int(testutil.ToFloat64(metrics.unmatched)); got != late {
		t.Errorf("unmatched replies = %d, want %d", got, late)
	}
}

func TestCall_ContextCanceled(t *testing.T) {
	tr := startStub(t, modeDefault)

	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(50*time.Millisecond, cancel)

	_, err := tr.Call(ctx, "never", nil, 5*time.Second)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("Call() = %v, want context.Canceled", err)
	}
	if tr.PendingCalls() != 0 {
		t.Errorf("canceled entry still pending")
	}
}

func TestCall_RemoteError(t *testing.T) {
	tr := startStub(t, modeDefault)

	_, err := tr.Call(context.Background(), "fail", nil, time.Second)

	var rpcErr *jsonrpc.Error
	if !errors.As(err, &rpcErr) {
		t.Fatalf("expected *jsonrpc.Error, got %T: %v", err, err)
	}
	if rpcErr.Code != -32000 || rpcErr.Message != "boom" {
		t.Errorf("unexpected error %+v", rpcErr)
	}
	if string(rpcErr.Data) != `{"detail":"x"}` {
		t.Errorf("Data = %s", rpcErr.Data)
	}

	_, err = tr.Call(context.Background(), "no/such/method", nil, time.Second)
	if !errors.As(err, &rpcErr) || rpcErr.Code != jsonrpc.CodeMethodNotFound {
		t.Errorf("unknown method error = %v", err)
	}
}

func TestReader_MalformedLinesAreSkipped(t *testing.T) {
	reg := prometheus.NewRegistry()
	metrics, err := NewMetrics(reg)
	if err != nil {
		t.Fatalf("NewMetrics() error = %v", err)
	}
	tr := startStub(t, modeDefault, WithMetrics(metrics))

	raw, err := tr.Call(context.Background(), "garbage", nil, time.Second)
	if err != nil {
		t.Fatalf("Call() error = %v", err)
	}
	if v := echoValue(t, raw); v != "after garbage" {
		t.Errorf("got %v", v)
	}
	if got := testutil.ToFloat64(metrics.decodeErrors); got != 3 {
		t.Errorf("decode errors = %v, want 3", got)
	}

	if _, err := tr.Call(context.Background(), "unknown-reply", nil, time.Second); err != nil {
		t.Fatalf("Call() error = %v", err)
	}
	if got := testutil.ToFloat64(metrics.unmatched); got != 1 {
		t.Errorf("unmatched replies = %v, want 1", got)
	}
	if tr.State() != StateReady {
		t.Errorf("State() = %v, want ready", tr.State())
	}
}

func TestNotifications_DeliveredInOrder(t *testing.T) {
	var (
		mu   sync.Mutex
		seqs []int
	)
	handler := func(method string, params json.RawMessage) {
		if method != "notifications/message" {
			return
		}
		var p struct {
			Seq int `json:"seq"`
		}
		_ = json.Unmarshal(params, &p)
		mu.Lock()
		seqs = append(seqs, p.Seq)
		mu.Unlock()
	}
	tr := startStub(t, modeDefault, WithNotificationHandler(handler))

	if _, err := tr.Call(context.Background(), "notify", map[string]any{"count": 5}, time.Second); err != nil {
		t.Fatalf("Call() error = %v", err)
	}

	// Notifications precede the reply on the wire and are dispatched inline.
	mu.Lock()
	defer mu.Unlock()
	if len(seqs) != 5 {
		t.Fatalf("received %d notifications, want 5", len(seqs))
	}
	for i, s := range seqs {
		if s != i+1 {
			t.Errorf("notification %d has seq %d", i, s)
		}
	}
}

func TestNotifications_HandlerPanicIsContained(t *testing.T) {
	tr := startStub(t, modeDefault, WithNotificationHandler(func(string, json.RawMessage) {
		panic("handler bug")
	}))

	if _, err := tr.Call(context.Background(), "notify", map[string]any{"count": 2}, time.Second); err != nil {
		t.Fatalf("Call() error = %v", err)
	}
	if _, err := tr.Call(context.Background(), "echo", map[string]any{"value": 1}, time.Second); err != nil {
		t.Fatalf("reader stopped after handler panic: %v", err)
	}
}

func TestNotify(t *testing.T) {
	tr := startStub(t, modeDefault)

	for i := 0; i < 3; i++ {
		if err := tr.Notify(context.Background(), "notifications/custom", map[string]int{"i": i}); err != nil {
			t.Fatalf("Notify() error = %v", err)
		}
	}

	raw, err := tr.Call(context.Background(), "notifications-seen", nil, time.Second)
	if err != nil {
		t.Fatalf("Call() error = %v", err)
	}
	if string(raw) != `{"count":3}` {
		t.Errorf("stub saw %s, want 3 notifications", raw)
	}
}

func TestServerRequests(t *testing.T) {
	tr := startStub(t, modeDefault)

	raw, err := tr.Call(context.Background(), "ask", map[string]any{"method": "ping"}, 2*time.Second)
	if err != nil {
		t.Fatalf("Call(ask ping) error = %v", err)
	}
	if !strings.Contains(string(raw), `"result":{}`) {
		t.Errorf("ping answer = %s", raw)
	}

	raw, err = tr.Call(context.Background(), "ask", map[string]any{"method": "sampling/createMessage"}, 2*time.Second)
	if err != nil {
		t.Fatalf("Call(ask sampling) error = %v", err)
	}
	if !strings.Contains(string(raw), `"code":-32601`) {
		t.Errorf("unknown server request answer = %s", raw)
	}
}

func TestStderrIsLogged(t *testing.T) {
	var buf syncBuffer
	tr := startStub(t, modeDefault, WithLogger(zerolog.New(&buf)))

	if _, err := tr.Call(context.Background(), "stderr", map[string]any{"text": "diagnostic hello"}, time.Second); err != nil {
		t.Fatalf("Call() error = %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for !strings.Contains(buf.String(), "diagnostic hello") && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	out := buf.String()
	if !strings.Contains(out, `"message":"diagnostic hello"`) {
		t.Fatalf("stderr line not logged verbatim:\n%s", out)
	}
	if !strings.Contains(out, `"stream":"stderr"`) {
		t.Errorf("stderr line missing stream field:\n%s", out)
	}
}

func TestShutdown_RightAfterStart(t *testing.T) {
	tr := startStub(t, modeDefault)

	grace := 2 * time.Second
	start := time.Now()
	term, err := tr.Shutdown(grace)
	if err != nil {
		t.Fatalf("Shutdown() error = %v", err)
	}
	if elapsed := time.Since(start); elapsed > grace {
		t.Errorf("Shutdown took %v, grace was %v", elapsed, grace)
	}
	// The stub exits when its stdin closes.
	if term.Outcome != process.OutcomeExited {
		t.Errorf("Outcome = %v, want exited", term.Outcome)
	}
	if tr.State() != StateStopped {
		t.Errorf("State() = %v, want stopped", tr.State())
	}
	if tr.PendingCalls() != 0 {
		t.Errorf("PendingCalls() = %d after shutdown", tr.PendingCalls())
	}
	if tr.IsAlive() {
		t.Error("child alive after shutdown")
	}
	if _, err := tr.Call(context.Background(), "echo", nil, time.Second); !errors.Is(err, ErrTransportClosed) {
		t.Errorf("Call after shutdown = %v, want ErrTransportClosed", err)
	}

	// Shutting down again is harmless.
	if term, err := tr.Shutdown(grace); err != nil || term.Outcome != process.OutcomeAlreadyExited {
		t.Errorf("second Shutdown() = %+v, %v", term, err)
	}
}

func TestShutdown_ReleasesPendingCalls(t *testing.T) {
	tr := startStub(t, modeDefault)

	const n = 4
	errs := make(chan error, n)
	for i := 0; i < n; i++ {
		go func() {
			_, err := tr.Call(context.Background(), "never", nil, 30*time.Second)
			errs <- err
		}()
	}

	deadline := time.Now().Add(2 * time.Second)
	for tr.PendingCalls() < n && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if tr.PendingCalls() != n {
		t.Fatalf("PendingCalls() = %d, want %d", tr.PendingCalls(), n)
	}

	if _, err := tr.Shutdown(time.Second); err != nil {
		t.Fatalf("Shutdown() error = %v", err)
	}

	for i := 0; i < n; i++ {
		select {
		case err := <-errs:
			if !errors.Is(err, ErrTransportClosed) {
				t.Errorf("pending call returned %v, want ErrTransportClosed", err)
			}
		case <-time.After(2 * time.Second):
			t.Fatal("pending call not released by shutdown")
		}
	}
}

func TestShutdown_KillsStubbornChild(t *testing.T) {
	tr := startStub(t, modeIgnoreStdinClose)

	term, err := tr.Shutdown(100 * time.Millisecond)
	if err != nil {
		t.Fatalf("Shutdown() error = %v", err)
	}
	if term.Outcome != process.OutcomeKilled {
		t.Errorf("Outcome = %v, want killed", term.Outcome)
	}
	if tr.IsAlive() {
		t.Error("child alive after kill")
	}
}

func TestShutdown_DuringHandshake(t *testing.T) {
	tr := New(WithHandshakeTimeout(5*time.Second), WithShutdownGrace(500*time.Millisecond))

	launch := stubLaunch(t, modeNoHandshake)
	startErr := make(chan error, 1)
	go func() { startErr <- tr.Start(context.Background(), launch) }()

	// Wait for the initialize request to be outstanding.
	deadline := time.Now().Add(3 * time.Second)
	for tr.PendingCalls() == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if tr.PendingCalls() != 1 {
		t.Fatalf("PendingCalls() = %d, want the initialize call", tr.PendingCalls())
	}

	start := time.Now()
	if _, err := tr.Shutdown(200 * time.Millisecond); err != nil {
		t.Fatalf("Shutdown() error = %v", err)
	}
	if elapsed := time.Since(start); elapsed > 2*time.Second {
		t.Errorf("Shutdown took %v, handshake was not aborted", elapsed)
	}

	select {
	case err := <-startErr:
		var se *StartError
		if !errors.As(err, &se) || se.Phase != PhaseHandshake {
			t.Fatalf("Start() = %v, want handshake StartError", err)
		}
		if !errors.Is(err, ErrTransportClosed) {
			t.Errorf("Start() = %v, want ErrTransportClosed", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Start did not return after Shutdown")
	}

	if tr.State() != StateStopped {
		t.Errorf("State() = %v, want stopped", tr.State())
	}
	if tr.IsAlive() {
		t.Error("child alive after shutdown")
	}
	if tr.PendingCalls() != 0 {
		t.Errorf("PendingCalls() = %d after shutdown", tr.PendingCalls())
	}
}

func TestStart_AfterShutdown(t *testing.T) {
	fresh := New()
	if _, err := fresh.Shutdown(time.Second); err != nil {
		t.Fatalf("Shutdown() error = %v", err)
	}
	if err := fresh.Start(context.Background(), stubLaunch(t, modeDefault)); !errors.Is(err, ErrTransportClosed) {
		t.Errorf("Start() after Shutdown = %v, want ErrTransportClosed", err)
	}

	tr := startStub(t, modeDefault)
	if _, err := tr.Shutdown(time.Second); err != nil {
		t.Fatalf("Shutdown() error = %v", err)
	}
	if err := tr.Start(context.Background(), stubLaunch(t, modeDefault)); !errors.Is(err, ErrTransportClosed) {
		t.Errorf("Start() after Shutdown = %v, want ErrTransportClosed", err)
	}
	if tr.State() != StateStopped {
		t.Errorf("State() = %v, want stopped", tr.State())
	}

	// Restart is the way back.
	if err := tr.Restart(context.Background()); err != nil {
		t.Fatalf("Restart() error = %v", err)
	}
	if !tr.IsReady() {
		t.Errorf("IsReady() = false after Restart, state %v", tr.State())
	}
}

func TestChildExitAfterHandshake(t *testing.T) {
	tr := startStub(t, modeExitAfterHandshake)

	select {
	case <-tr.Exited():
	case <-time.After(3 * time.Second):
		t.Fatal("child exit not observed")
	}

	if tr.State() != StateDegraded {
		t.Errorf("State() = %v, want degraded", tr.State())
	}

	start := time.Now()
	_, err := tr.Call(context.Background(), "tools/list", nil, 5*time.Second)
	if !errors.Is(err, ErrNotReady) && !errors.Is(err, ErrTransportClosed) {
		t.Errorf("Call() = %v, want ErrNotReady or ErrTransportClosed", err)
	}
	if elapsed := time.Since(start); elapsed > 500*time.Millisecond {
		t.Errorf("Call on dead child took %v", elapsed)
	}
	if tr.IsReady() {
		t.Error("IsReady() should be false")
	}
}

func TestChildDeathReleasesPendingCall(t *testing.T) {
	tr := startStub(t, modeDefault)

	_, err := tr.Call(context.Background(), "exit", nil, 5*time.Second)
	if !errors.Is(err, ErrTransportClosed) {
		t.Fatalf("Call() = %v, want ErrTransportClosed", err)
	}

	<-tr.Exited()
	if tr.State() != StateDegraded {
		t.Errorf("State() = %v, want degraded", tr.State())
	}
	if _, err := tr.Call(context.Background(), "echo", nil, time.Second); !errors.Is(err, ErrNotReady) {
		t.Errorf("Call after death = %v, want ErrNotReady", err)
	}
}

func TestRestart(t *testing.T) {
	tr := startStub(t, modeDefault, WithShutdownGrace(time.Second))
	firstPID := tr.PID()

	_, _ = tr.Call(context.Background(), "exit", nil, 5*time.Second)
	<-tr.Exited()
	if tr.State() != StateDegraded {
		t.Fatalf("State() = %v, want degraded", tr.State())
	}

	if err := tr.Restart(context.Background()); err != nil {
		t.Fatalf("Restart() error = %v", err)
	}
	if tr.State() != StateReady {
		t.Fatalf("State() after restart = %v", tr.State())
	}
	if tr.PID() == firstPID {
		t.Error("restart reused the old child")
	}

	raw, err := tr.Call(context.Background(), "echo", map[string]any{"value": "again"}, time.Second)
	if err != nil {
		t.Fatalf("Call after restart error = %v", err)
	}
	if v := echoValue(t, raw); v != "again" {
		t.Errorf("got %v", v)
	}

	// Restarting a healthy transport also works.
	if err := tr.Restart(context.Background()); err != nil {
		t.Fatalf("second Restart() error = %v", err)
	}
	if !tr.IsReady() {
		t.Error("not ready after second restart")
	}
}

func TestMetrics_StateAndStarts(t *testing.T) {
	reg := prometheus.NewRegistry()
	metrics, err := NewMetrics(reg)
	if err != nil {
		t.Fatalf("NewMetrics() error = %v", err)
	}
	tr := startStub(t, modeDefault, WithMetrics(metrics))

	if got := testutil.ToFloat64(metrics.state); got != float64(StateReady) {
		t.Errorf("state gauge = %v", got)
	}
	if got := testutil.ToFloat64(metrics.starts.WithLabelValues("ok")); got != 1 {
		t.Errorf("ok starts = %v", got)
	}

	if _, err := tr.Shutdown(time.Second); err != nil {
		t.Fatalf("Shutdown() error = %v", err)
	}
	if got := testutil.ToFloat64(metrics.state); got != float64(StateStopped) {
		t.Errorf("state gauge after shutdown = %v", got)
	}

	if _, err := NewMetrics(reg); err == nil {
		t.Error("registering twice should fail")
	}
}

func TestState_String(t *testing.T) {
	tests := map[State]string{
		StateNotStarted: "not_started",
		StateStarting:   "starting",
		StateReady:      "ready",
		StateDegraded:   "degraded",
		StateStopped:    "stopped",
		State(42):       "unknown(42)",
	}
	for s, want := range tests {
		if got := s.String(); got != want {
			t.Errorf("State(%d).String() = %q, want %q", int32(s), got, want)
		}
	}
}

type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}
