package transport

import (
	"bufio"
	"encoding/json"
	"fmt"
	"math/rand"
	"os"
	"sync"
	"time"
)

// stubEnv selects the stub server mode when the test binary is re-executed
// as a child process.
const stubEnv = "MCPBRIDGE_TEST_CHILD"

// Stub modes.
const (
	modeDefault            = "default"
	modeNoHandshake        = "no-handshake"
	modeInitError          = "init-error"
	modeCrash              = "crash"
	modeExitAfterHandshake = "exit-after-handshake"
	modeIgnoreStdinClose   = "ignore-stdin-close"
)

type stubMessage struct {
	ID     json.RawMessage `json:"id,omitempty"`
	Method string          `json:"method,omitempty"`
	Params json.RawMessage `json:"params,omitempty"`
	Result json.RawMessage `json:"result,omitempty"`
	Error  json.RawMessage `json:"error,omitempty"`
}

// stubServer is a tiny MCP-ish server driven by method names.
type stubServer struct {
	mode string

	outMu sync.Mutex
	out   *bufio.Writer

	mu            sync.Mutex
	initialized   bool
	notifications int
	held          []stubMessage
	waiting       map[string]chan stubMessage
}

func runStubServer(mode string) int {
	s := &stubServer{
		mode:    mode,
		out:     bufio.NewWriter(os.Stdout),
		waiting: make(map[string]chan stubMessage),
	}

	if mode == modeCrash {
		fmt.Fprintln(os.Stderr, "stub: crashing on purpose")
		return 2
	}

	fmt.Fprintf(os.Stderr, "stub: started in %s mode\n", mode)

	in := bufio.NewScanner(os.Stdin)
	in.Buffer(make([]byte, 1024*1024), 16*1024*1024)
	for in.Scan() {
		var msg stubMessage
		if err := json.Unmarshal(in.Bytes(), &msg); err != nil {
			fmt.Fprintf(os.Stderr, "stub: bad line %q\n", in.Text())
			continue
		}
		s.handle(msg)
	}

	if mode == modeIgnoreStdinClose {
		time.Sleep(time.Hour)
	}
	return 0
}

func (s *stubServer) send(v any) {
	data, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	s.sendRaw(string(data))
}

func (s *stubServer) sendRaw(line string) {
	s.outMu.Lock()
	defer s.outMu.Unlock()
	s.out.WriteString(line)
	s.out.WriteByte('\n')
	s.out.Flush()
}

func (s *stubServer) result(id json.RawMessage, result any) {
	s.send(map[string]any{"jsonrpc": "2.0", "id": id, "result": result})
}

func (s *stubServer) fail(id json.RawMessage, code int, message string, data any) {
	errObj := map[string]any{"code": code, "message": message}
	if data != nil {
		errObj["data"] = data
	}
	s.send(map[string]any{"jsonrpc": "2.0", "id": id, "error": errObj})
}

func (s *stubServer) notify(method string, params any) {
	s.send(map[string]any{"jsonrpc": "2.0", "method": method, "params": params})
}

func (s *stubServer) handle(msg stubMessage) {
	// A reply to one of our own requests.
	if msg.Method == "" && len(msg.ID) > 0 {
		var id string
		_ = json.Unmarshal(msg.ID, &id)
		s.mu.Lock()
		ch := s.waiting[id]
		delete(s.waiting, id)
		s.mu.Unlock()
		if ch != nil {
			ch <- msg
		}
		return
	}

	if s.mode == modeNoHandshake {
		return
	}

	switch msg.Method {
	case "initialize":
		if s.mode == modeInitError {
			s.fail(msg.ID, -32603, "initialization refused", nil)
			return
		}
		s.result(msg.ID, map[string]any{
			"protocolVersion": "2024-11-05",
			"capabilities":    map[string]any{},
			"serverInfo":      map[string]any{"name": "stub", "version": "1.0.0"},
			"params":          msg.Params,
		})
		return

	case "notifications/initialized":
		s.mu.Lock()
		s.initialized = true
		s.mu.Unlock()
		if s.mode == modeExitAfterHandshake {
			os.Exit(0)
		}
		return
	}

	if len(msg.ID) == 0 {
		s.mu.Lock()
		s.notifications++
		s.mu.Unlock()
		return
	}

	s.mu.Lock()
	initialized := s.initialized
	s.mu.Unlock()
	if !initialized {
		s.fail(msg.ID, -32002, "server not initialized", nil)
		return
	}

	s.dispatch(msg)
}

type stubParams struct {
	Value   any    `json:"value"`
	DelayMS int    `json:"delay_ms"`
	Count   int    `json:"count"`
	Text    string `json:"text"`
	Method  string `json:"method"`
}

func (s *stubServer) dispatch(msg stubMessage) {
	var p stubParams
	if len(msg.Params) > 0 {
		_ = json.Unmarshal(msg.Params, &p)
	}

	switch msg.Method {
	case "tools/list":
		s.result(msg.ID, map[string]any{"tools": []any{map[string]any{"name": "x"}}})

	case "echo":
		s.result(msg.ID, map[string]any{"value": p.Value})

	case "fail":
		s.fail(msg.ID, -32000, "boom", map[string]any{"detail": "x"})

	case "never":

	case "slow":
		go func() {
			time.Sleep(time.Duration(p.DelayMS) * time.Millisecond)
			s.result(msg.ID, map[string]any{"value": p.Value})
		}()

	case "hold":
		s.mu.Lock()
		s.held = append(s.held, msg)
		var batch []stubMessage
		if len(s.held) >= p.Count {
			batch = s.held
			s.held = nil
		}
		s.mu.Unlock()

		rand.Shuffle(len(batch), func(i, j int) { batch[i], batch[j] = batch[j], batch[i] })
		for _, m := range batch {
			var mp stubParams
			_ = json.Unmarshal(m.Params, &mp)
			s.result(m.ID, map[string]any{"value": mp.Value})
		}

	case "garbage":
		s.sendRaw("this is not json")
		s.sendRaw(`{"jsonrpc":"2.0"}`)
		s.sendRaw(`[1,2,3]`)
		s.result(msg.ID, map[string]any{"value": "after garbage"})

	case "notify":
		for i := 1; i <= p.Count; i++ {
			s.notify("notifications/message", map[string]any{"seq": i})
		}
		s.result(msg.ID, map[string]any{"sent": p.Count})

	case "unknown-reply":
		s.result(json.RawMessage(`"no-such-id"`), map[string]any{})
		s.result(msg.ID, map[string]any{"value": "ok"})

	case "stderr":
		fmt.Fprintln(os.Stderr, p.Text)
		s.result(msg.ID, map[string]any{})

	case "notifications-seen":
		s.mu.Lock()
		n := s.notifications
		s.mu.Unlock()
		s.result(msg.ID, map[string]any{"count": n})

	case "ask":
		// Issue a request to the client and return whatever it answered.
		go func() {
			id := fmt.Sprintf("srv-%d", rand.Int63())
			ch := make(chan stubMessage, 1)
			s.mu.Lock()
			s.waiting[id] = ch
			s.mu.Unlock()
			s.send(map[string]any{"jsonrpc": "2.0", "id": id, "method": p.Method})

			select {
			case reply := <-ch:
				s.result(msg.ID, map[string]any{"result": reply.Result, "error": reply.Error})
			case <-time.After(5 * time.Second):
				s.fail(msg.ID, -32000, "client never answered", nil)
			}
		}()

	case "exit":
		os.Exit(3)

	default:
		s.fail(msg.ID, -32601, "method not found", nil)
	}
}
