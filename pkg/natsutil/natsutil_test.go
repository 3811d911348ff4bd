package natsutil

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	natsserver "github.com/nats-io/nats-server/v2/server"
	"github.com/nats-io/nats.go"
)

type payload struct {
	Name  string `json:"name"`
	Value int    `json:"value"`
}

func startTestNATS(t *testing.T) *nats.Conn {
	t.Helper()
	srv, err := natsserver.NewServer(&natsserver.Options{Port: -1})
	if err != nil {
		t.Fatal(err)
	}
	srv.Start()
	if !srv.ReadyForConnections(5 * time.Second) {
		t.Fatal("nats server not ready")
	}
	nc, err := nats.Connect(srv.ClientURL())
	if err != nil {
		srv.Shutdown()
		t.Fatal(err)
	}
	t.Cleanup(func() {
		nc.Close()
		srv.Shutdown()
	})
	return nc
}

func TestPublishRoundTrip(t *testing.T) {
	nc := startTestNATS(t)

	got := make(chan *nats.Msg, 1)
	sub, err := nc.Subscribe("test.subject", func(msg *nats.Msg) {
		got <- msg
	})
	if err != nil {
		t.Fatal(err)
	}
	defer sub.Unsubscribe()

	if err := Publish(context.Background(), nc, "test.subject", payload{Name: "doc", Value: 7}); err != nil {
		t.Fatal(err)
	}

	select {
	case msg := <-got:
		var p payload
		if err := json.Unmarshal(msg.Data, &p); err != nil {
			t.Fatal(err)
		}
		if p.Name != "doc" || p.Value != 7 {
			t.Fatalf("unexpected payload: %+v", p)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("message never arrived")
	}
}

func TestPublishRejectsUnmarshalable(t *testing.T) {
	nc := startTestNATS(t)

	if err := Publish(context.Background(), nc, "test.subject", make(chan int)); err == nil {
		t.Fatal("expected marshal error")
	}
}

func TestExtractWithoutHeaders(t *testing.T) {
	ctx := Extract(&nats.Msg{Subject: "test.subject"})
	if ctx == nil {
		t.Fatal("expected a usable context")
	}
	if err := ctx.Err(); err != nil {
		t.Fatalf("fresh context should not be done: %v", err)
	}
}

func TestMsgCarrier(t *testing.T) {
	msg := &nats.Msg{}
	c := (*msgCarrier)(msg)

	if got := c.Get("traceparent"); got != "" {
		t.Fatalf("expected empty on nil header, got %q", got)
	}
	c.Set("traceparent", "00-abc-def-01")
	if got := c.Get("traceparent"); got != "00-abc-def-01" {
		t.Fatalf("unexpected value: %q", got)
	}
	if keys := c.Keys(); len(keys) != 1 {
		t.Fatalf("unexpected keys: %v", keys)
	}
}
