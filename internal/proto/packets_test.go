package proto

import "testing"

func TestDecodeMissingType(t *testing.T) {
	_, err := Decode([]byte(`{"request_id":"abc"}`))
	if err == nil {
		t.Fatal("expected error for missing type")
	}
	perr, ok := err.(*Error)
	if !ok {
		t.Fatalf("expected *Error, got %T", err)
	}
	if perr.Class != ErrProtocolError {
		t.Errorf("expected ProtocolError, got %s", perr.Class)
	}
}

func TestDecodeInvalidJSON(t *testing.T) {
	_, err := Decode([]byte(`not json`))
	if err == nil {
		t.Fatal("expected error for invalid JSON")
	}
}

func TestDecodeCommand(t *testing.T) {
	env, err := Decode([]byte(`{"type":"command","request_id":"r1","sequence":[{"audio":["bark.wav"]}]}`))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if env.Type != TypeCommand {
		t.Errorf("expected type command, got %s", env.Type)
	}
	if len(env.Sequence) != 1 || len(env.Sequence[0].Audio) != 1 {
		t.Fatalf("unexpected sequence: %+v", env.Sequence)
	}
}

func TestCommandItemEmpty(t *testing.T) {
	empty := CommandItem{}
	if !empty.Empty() {
		t.Error("zero-value CommandItem should be Empty")
	}

	withAudio := CommandItem{Audio: []string{"a.wav"}}
	if withAudio.Empty() {
		t.Error("CommandItem with audio should not be Empty")
	}

	choreo := "wave"
	withChoreo := CommandItem{Choreography: &choreo}
	if withChoreo.Empty() {
		t.Error("CommandItem with choreography should not be Empty")
	}

	blankChoreo := ""
	withBlankChoreo := CommandItem{Choreography: &blankChoreo}
	if !withBlankChoreo.Empty() {
		t.Error("CommandItem with an empty-string choreography pointer should be Empty")
	}
}

func TestEventNames(t *testing.T) {
	if (ButtonEvent{}).EventName() != "button" {
		t.Error("button event name mismatch")
	}
	if (EarEvent{}).EventName() != "ears" {
		t.Error("ear event name mismatch")
	}
	if (RFIDEvent{}).EventName() != "rfid" {
		t.Error("bare rfid event name mismatch")
	}
	if (RFIDEvent{App: "lamp"}).EventName() != "rfid/lamp" {
		t.Error("scoped rfid event name mismatch")
	}
	if (ASREvent{}).EventName() != "asr" {
		t.Error("bare asr event name mismatch")
	}
	if (ASREvent{NLU: NLU{Intent: "play_song"}}).EventName() != "asr/play_song" {
		t.Error("scoped asr event name mismatch")
	}
}

func TestIsAbsoluteResourcePath(t *testing.T) {
	if !IsAbsoluteResourcePath("/etc/passwd") {
		t.Error("expected absolute path to be rejected")
	}
	if IsAbsoluteResourcePath("myapp/audio/bark.wav") {
		t.Error("expected relative path to be accepted")
	}
}

func TestAsProtoError(t *testing.T) {
	wrapped := AsProtoError(NewError(ErrInvalidParameter, "bad"))
	if wrapped.Class != ErrInvalidParameter {
		t.Errorf("expected class preserved, got %s", wrapped.Class)
	}

	generic := AsProtoError(errPlain("boom"))
	if generic.Class != ErrStateError {
		t.Errorf("expected generic error wrapped as StateError, got %s", generic.Class)
	}

	if AsProtoError(nil) != nil {
		t.Error("expected nil in, nil out")
	}
}

type errPlain string

func (e errPlain) Error() string { return string(e) }
