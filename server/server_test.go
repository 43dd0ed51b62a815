package server

import (
	"context"
	"encoding/json"
	"net"
	"strings"
	"testing"
	"time"

	"github.com/victoralfred/cadgate/client"
	"github.com/victoralfred/cadgate/config"
	"github.com/victoralfred/cadgate/dispatcher"
	"github.com/victoralfred/cadgate/internal/frame"
	"github.com/victoralfred/cadgate/macro"
)

// startServer runs a gateway on a loopback port and returns its address.
func startServer(t *testing.T, cfg config.ServerConfig) string {
	t.Helper()

	macros, err := macro.NewStore(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	disp, err := dispatcher.NewBuilder().WithMacros(macros).Build()
	if err != nil {
		t.Fatal(err)
	}

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}

	srv := New(cfg, disp)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- srv.Serve(ctx, ln) }()

	t.Cleanup(func() {
		cancel()
		select {
		case <-done:
		case <-time.After(5 * time.Second):
			t.Error("server did not stop")
		}
		_ = disp.Shutdown(context.Background())
	})
	return ln.Addr().String()
}

func dialClient(t *testing.T, addr string) *client.Client {
	t.Helper()
	c, err := client.Dial(context.Background(), addr, client.DefaultOptions())
	if err != nil {
		t.Fatalf("Dial failed: %v", err)
	}
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func TestServer_EndToEnd(t *testing.T) {
	addr := startServer(t, config.ServerConfig{})
	c := dialClient(t, addr)
	ctx := context.Background()

	if err := c.Ping(ctx); err != nil {
		t.Fatalf("Ping failed: %v", err)
	}

	resp, err := c.ExecuteCode(ctx, `print("area: " + str(radius * radius))`, "Part",
		map[string]any{"radius": 3.0})
	if err != nil {
		t.Fatalf("ExecuteCode failed: %v", err)
	}
	if resp.Status != dispatcher.StatusSuccess {
		t.Fatalf("execution failed: %+v", resp)
	}
	if resp.Output != "area: 9.0\n" {
		t.Errorf("Output = %q", resp.Output)
	}

	resp, err = c.ValidateCode(ctx, `eval("1")`, nil)
	if err != nil {
		t.Fatalf("ValidateCode failed: %v", err)
	}
	if resp.Data["valid"] != false {
		t.Errorf("Data = %v", resp.Data)
	}

	if _, err := c.CreateMacro(ctx, "hello", `print("from macro")`, ""); err != nil {
		t.Fatal(err)
	}
	resp, err = c.RunMacro(ctx, "hello", "Part", nil)
	if err != nil {
		t.Fatalf("RunMacro failed: %v", err)
	}
	if resp.Output != "from macro\n" {
		t.Errorf("Output = %q", resp.Output)
	}

	resp, err = c.GetReport(ctx)
	if err != nil {
		t.Fatalf("GetReport failed: %v", err)
	}
	if resp.Status != dispatcher.StatusSuccess {
		t.Errorf("report = %+v", resp)
	}
}

func TestServer_SequentialRequestsOnOneConnection(t *testing.T) {
	addr := startServer(t, config.ServerConfig{})
	c := dialClient(t, addr)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		if err := c.Ping(ctx); err != nil {
			t.Fatalf("ping %d failed: %v", i, err)
		}
	}
}

func TestServer_BadRequestKeepsConnection(t *testing.T) {
	addr := startServer(t, config.ServerConfig{})

	conn, err := net.Dial("tcp", addr)
	if err != nil {
		t.Fatal(err)
	}
	defer conn.Close()

	if err := frame.Write(conn, []byte("this is not json")); err != nil {
		t.Fatal(err)
	}
	resp := readResponse(t, conn)
	if resp.Code != "BAD_REQUEST" {
		t.Errorf("Code = %q, want BAD_REQUEST", resp.Code)
	}

	// The connection survives a bad frame.
	if err := frame.Write(conn, []byte(`{"type":"ping"}`)); err != nil {
		t.Fatal(err)
	}
	resp = readResponse(t, conn)
	if resp.Status != dispatcher.StatusSuccess {
		t.Errorf("ping after bad request = %+v", resp)
	}
}

func TestServer_FrameTooLarge(t *testing.T) {
	addr := startServer(t, config.ServerConfig{MaxFrameSize: 64})

	conn, err := net.Dial("tcp", addr)
	if err != nil {
		t.Fatal(err)
	}
	defer conn.Close()

	if err := frame.Write(conn, make([]byte, 128)); err != nil {
		t.Fatal(err)
	}
	resp := readResponse(t, conn)
	if resp.Code != "FRAME_TOO_LARGE" {
		t.Errorf("Code = %q, want FRAME_TOO_LARGE", resp.Code)
	}
}

func TestServer_ClientCap(t *testing.T) {
	addr := startServer(t, config.ServerConfig{MaxClients: 1})

	first := dialClient(t, addr)
	if err := first.Ping(context.Background()); err != nil {
		t.Fatalf("first client ping failed: %v", err)
	}

	// The second connection is told why it is refused.
	conn, err := net.Dial("tcp", addr)
	if err != nil {
		t.Fatal(err)
	}
	defer conn.Close()

	resp := readResponse(t, conn)
	if resp.Code != "RATE_LIMITED" || !strings.Contains(resp.Message, "clients") {
		t.Errorf("refusal = %+v", resp)
	}
}

func readResponse(t *testing.T, conn net.Conn) *dispatcher.Response {
	t.Helper()
	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	data, err := frame.Read(conn, 0)
	if err != nil {
		t.Fatalf("reading response: %v", err)
	}
	var resp dispatcher.Response
	if err := json.Unmarshal(data, &resp); err != nil {
		t.Fatalf("decoding response: %v", err)
	}
	return &resp
}
