package core

import "testing"

func TestStateEntryKeyRoundTrip(t *testing.T) {
	var k StateEntryKey
	k.Context[0] = 0xAB
	k.Key[31] = 0xCD

	enc := k.Encode()
	if len(enc) != 64 {
		t.Fatalf("expected 64 bytes, got %d", len(enc))
	}
	dec, err := DecodeStateEntryKey(enc)
	if err != nil {
		t.Fatal(err)
	}
	if dec != k {
		t.Fatalf("round trip mismatch: got %+v want %+v", dec, k)
	}
}

func TestStateEntryKeyDecodeRejectsWrongLength(t *testing.T) {
	if _, err := DecodeStateEntryKey(make([]byte, 63)); err == nil {
		t.Fatal("expected error for short buffer")
	}
}

func TestMetaEntryKeyRoundTrip(t *testing.T) {
	var k MetaEntryKey
	k.Context[5] = 0x42
	dec, err := DecodeMetaEntryKey(k.Encode())
	if err != nil {
		t.Fatal(err)
	}
	if dec != k {
		t.Fatalf("round trip mismatch")
	}
}

func TestTransactionLogKeyOrdersBySequence(t *testing.T) {
	var ctx ContextId
	k1 := TransactionLogKey{Context: ctx, Seq: 1}
	k2 := TransactionLogKey{Context: ctx, Seq: 2}
	if string(k1.Encode()) >= string(k2.Encode()) {
		t.Fatal("expected seq=1 to sort before seq=2 lexicographically")
	}

	dec, err := DecodeTransactionLogKey(k2.Encode())
	if err != nil {
		t.Fatal(err)
	}
	if dec.Seq != 2 {
		t.Fatalf("expected seq 2, got %d", dec.Seq)
	}
}

func TestEncodeDecodeValueRoundTrip(t *testing.T) {
	raw := []byte("hello world")
	enc := EncodeValue(raw)
	dec, err := DecodeValue(enc)
	if err != nil {
		t.Fatal(err)
	}
	if string(dec) != string(raw) {
		t.Fatalf("got %q want %q", dec, raw)
	}
}

func TestDecodeValueRejectsTruncated(t *testing.T) {
	if _, err := DecodeValue([]byte{0, 1}); err == nil {
		t.Fatal("expected error for truncated buffer")
	}
}

func TestDecodeValueRejectsLengthMismatch(t *testing.T) {
	enc := EncodeValue([]byte("abc"))
	enc = enc[:len(enc)-1] // truncate payload without adjusting length prefix
	if _, err := DecodeValue(enc); err == nil {
		t.Fatal("expected error for length mismatch")
	}
}

func TestColumnString(t *testing.T) {
	if ColumnState.String() != "state" {
		t.Fatalf("unexpected: %s", ColumnState.String())
	}
	if Column(99).String() == "" {
		t.Fatal("expected non-empty fallback string")
	}
}
