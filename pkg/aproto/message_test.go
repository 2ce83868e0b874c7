package aproto

import (
	"bytes"
	"testing"
)

func TestCommandString(t *testing.T) {
	tests := []struct {
		name string
		cmd  Command
		want string
	}{
		{"CNXN", CNXN, "CNXN"},
		{"OPEN", OPEN, "OPEN"},
		{"OKAY", OKAY, "OKAY"},
		{"CLSE", CLSE, "CLSE"},
		{"WRTE", WRTE, "WRTE"},
		{"AUTH", AUTH, "AUTH"},
		{"STLS", STLS, "STLS"},
		{"SYNC", SYNC, "SYNC"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if got := tc.cmd.String(); got != tc.want {
				t.Errorf("String() = %q, want %q", got, tc.want)
			}
		})
	}
}

func TestEncodeDecodeRoundtrip(t *testing.T) {
	tests := []struct {
		name    string
		command Command
		arg0    uint32
		arg1    uint32
		payload []byte
	}{
		{"CNXN no payload", CNXN, VersionSkipChecksum, MaxPayloadV1, nil},
		{"CNXN with payload", CNXN, VersionSkipChecksum, MaxPayloadV1, []byte("host::\x00")},
		{"OPEN", OPEN, 1, 0, []byte("shell:\x00")},
		{"OKAY", OKAY, 17, 1, nil},
		{"WRTE", WRTE, 17, 1, []byte("hello")},
		{"CLSE", CLSE, 17, 1, nil},
		{"AUTH token", AUTH, AuthToken, 0, make([]byte, 20)},
		{"STLS", STLS, STLSVersionMin, 0, nil},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			frame := Encode(tc.command, tc.arg0, tc.arg1, tc.payload)

			pkt, err := Decode(bytes.NewReader(frame), MaxPayload)
			if err != nil {
				t.Fatalf("Decode: %v", err)
			}

			if pkt.Command != tc.command || pkt.Arg0 != tc.arg0 || pkt.Arg1 != tc.arg1 {
				t.Fatalf("got %+v, want command=%v arg0=%d arg1=%d", pkt.Message, tc.command, tc.arg0, tc.arg1)
			}
			if !bytes.Equal(pkt.Payload, tc.payload) && !(len(pkt.Payload) == 0 && len(tc.payload) == 0) {
				t.Fatalf("payload = %v, want %v", pkt.Payload, tc.payload)
			}
			if !Validate(pkt.Message, pkt.Payload) {
				t.Fatal("Validate returned false for a just-decoded frame")
			}
		})
	}
}

func TestMagicLaw(t *testing.T) {
	for _, cmd := range []Command{SYNC, CNXN, OPEN, OKAY, CLSE, WRTE, AUTH, STLS} {
		frame := Encode(cmd, 0, 0, nil)
		pkt, err := Decode(bytes.NewReader(frame), MaxPayload)
		if err != nil {
			t.Fatalf("Decode(%v): %v", cmd, err)
		}
		if uint32(pkt.Command)^pkt.Magic != 0xFFFFFFFF {
			t.Errorf("command %v: command XOR magic = %#x, want 0xFFFFFFFF", cmd, uint32(pkt.Command)^pkt.Magic)
		}
	}
}

func TestChecksumLaw(t *testing.T) {
	payload := []byte{1, 2, 3, 0xFF}
	var want uint32
	for _, b := range payload {
		want += uint32(b)
	}

	frame := Encode(CNXN, VersionMin, MaxPayloadV1, payload)
	pkt, err := Decode(bytes.NewReader(frame), MaxPayload)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if pkt.DataCheck != want {
		t.Errorf("DataCheck = %d, want %d", pkt.DataCheck, want)
	}

	// Above VersionSkipChecksum, the checksum is still computed on encode
	// but peers must not reject on mismatch; Validate does not check it.
	m := Message{
		Command:    CNXN,
		Arg0:       VersionSkipChecksum,
		DataLength: uint32(len(payload)),
		DataCheck:  0xDEADBEEF,
		Magic:      uint32(CNXN) ^ 0xFFFFFFFF,
	}
	if !Validate(m, payload) {
		t.Error("Validate rejected a mismatched checksum on a non-legacy CNXN frame")
	}
}

func TestValidateRejectsBadMagic(t *testing.T) {
	m := Message{Command: CNXN, Magic: 0}
	if Validate(m, nil) {
		t.Error("Validate accepted a frame with wrong magic")
	}
}

func TestValidateRejectsLengthMismatch(t *testing.T) {
	m := Message{
		Command:    WRTE,
		DataLength: 5,
		Magic:      uint32(WRTE) ^ 0xFFFFFFFF,
	}
	if Validate(m, []byte("hi")) {
		t.Error("Validate accepted a frame whose DataLength disagrees with payload length")
	}
}

func TestValidateRejectsLegacyChecksumMismatch(t *testing.T) {
	m := Message{
		Command:    CNXN,
		Arg0:       VersionMin,
		DataLength: 2,
		DataCheck:  999,
		Magic:      uint32(CNXN) ^ 0xFFFFFFFF,
	}
	if Validate(m, []byte("hi")) {
		t.Error("Validate accepted a legacy CNXN frame with a bad checksum")
	}
}

func TestDecodeEmptyPayload(t *testing.T) {
	frame := Encode(OKAY, 1, 2, nil)
	pkt, err := Decode(bytes.NewReader(frame), MaxPayload)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if len(pkt.Payload) != 0 {
		t.Errorf("payload = %v, want empty", pkt.Payload)
	}
}

func TestDecodeRejectsOversizedPayload(t *testing.T) {
	frame := Encode(WRTE, 1, 2, make([]byte, 100))
	_, err := Decode(bytes.NewReader(frame), 10)
	if err != ErrPayloadTooLarge {
		t.Fatalf("got err=%v, want ErrPayloadTooLarge", err)
	}
}

func TestDecodeShortHeaderIsStreamClosed(t *testing.T) {
	_, err := Decode(bytes.NewReader([]byte{1, 2, 3}), MaxPayload)
	if err != ErrStreamClosed {
		t.Fatalf("got err=%v, want ErrStreamClosed", err)
	}
}

func TestDecodeShortPayloadIsStreamClosed(t *testing.T) {
	frame := Encode(WRTE, 1, 2, []byte("hello"))
	truncated := frame[:len(frame)-2]
	_, err := Decode(bytes.NewReader(truncated), MaxPayload)
	if err != ErrStreamClosed {
		t.Fatalf("got err=%v, want ErrStreamClosed", err)
	}
}
