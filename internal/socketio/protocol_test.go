package socketio

import (
	"encoding/json"
	"testing"
)

func TestParseSocketEventPacket(t *testing.T) {
	pkt, err := parseSocketEventPacket(`212["join-session","S1"]`)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if pkt.Namespace != "/" || pkt.ID == nil || *pkt.ID != 12 || pkt.Event != "join-session" {
		t.Fatalf("unexpected packet: %+v", pkt)
	}
	id, ok := roomArg(pkt.Args)
	if !ok || id != "S1" {
		t.Fatalf("roomArg = %q, %v", id, ok)
	}

	pkt, err = parseSocketEventPacket(`2/admin,["join-dashboard",42]`)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if pkt.Namespace != "/admin" || pkt.ID != nil {
		t.Fatalf("unexpected packet: %+v", pkt)
	}
	if id, ok := roomArg(pkt.Args); !ok || id != "42" {
		t.Fatalf("numeric room id = %q, %v", id, ok)
	}

	for _, bad := range []string{"", "0{}", "2", "2[]", `2[1]`, "2{"} {
		if _, err := parseSocketEventPacket(bad); err == nil {
			t.Fatalf("expected error for %q", bad)
		}
	}
}

func TestBuildPackets(t *testing.T) {
	body := json.RawMessage(`{"sessionId":"S1"}`)
	got, err := buildSocketEventPacket("/", nil, "sensor-data", body)
	if err != nil {
		t.Fatalf("build event: %v", err)
	}
	if got != `2["sensor-data",{"sessionId":"S1"}]` {
		t.Fatalf("unexpected event packet %s", got)
	}

	got, _ = buildSocketAckPacket("/", 7)
	if got != `37[]` {
		t.Fatalf("unexpected ack packet %s", got)
	}

	got, _ = buildSocketConnectPacket("/", "abc")
	if got != `0{"sid":"abc"}` {
		t.Fatalf("unexpected connect packet %s", got)
	}

	got, _ = buildSocketConnectErrorPacket("/x", "Invalid namespace")
	if got != `4/x,{"message":"Invalid namespace"}` {
		t.Fatalf("unexpected connect error packet %s", got)
	}
}
