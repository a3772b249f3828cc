package gateway

import "testing"

func TestEndpointURL(t *testing.T) {
	e := Endpoint{Host: "10.0.0.5", Port: 18789, Protocol: "wss"}
	want := "wss://10.0.0.5:18789/rpc"
	if got := e.url(); got != want {
		t.Fatalf("url() = %q, want %q", got, want)
	}
}

func TestPoolEvictIsSafeWhenAbsent(t *testing.T) {
	p := NewPool()
	p.Evict("never-dialed")
}
