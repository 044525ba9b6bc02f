package engine

import (
	"bytes"
	"testing"
)

func TestKeylistAddCheckRemove(t *testing.T) {
	var list []byte
	list = keylistAddKey(list, []byte("alpha"))
	list = keylistAddKey(list, []byte("beta"))

	if !keylistCheck(list, []byte("alpha")) {
		t.Fatal("expected alpha present")
	}
	if !keylistCheck(list, []byte("beta")) {
		t.Fatal("expected beta present")
	}
	if keylistCheck(list, []byte("gamma")) {
		t.Fatal("expected gamma absent")
	}

	out, ok := keylistRmvKey(list, []byte("alpha"))
	if !ok {
		t.Fatal("expected removal to succeed")
	}
	if keylistCheck(out, []byte("alpha")) {
		t.Fatal("alpha should be gone")
	}
	if !keylistCheck(out, []byte("beta")) {
		t.Fatal("beta should remain")
	}

	if _, ok := keylistRmvKey(out, []byte("missing")); ok {
		t.Fatal("removing an absent key must fail")
	}
}

func TestKeylistEach(t *testing.T) {
	var list []byte
	list = keylistAddKey(list, []byte("one"))
	list = keylistAddKey(list, []byte("two"))
	list = keylistAddKey(list, []byte("three"))

	var seen [][]byte
	keylistEach(list, func(k []byte) bool {
		seen = append(seen, append([]byte(nil), k...))
		return true
	})
	if len(seen) != 3 {
		t.Fatalf("expected 3 entries, got %d", len(seen))
	}
	if !bytes.Equal(seen[0], []byte("one")) || !bytes.Equal(seen[2], []byte("three")) {
		t.Fatalf("unexpected iteration order: %v", seen)
	}
}

func TestKeylistNextPanicsOnCorruption(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Fatal("expected panic on truncated record")
		}
	}()
	keylistNext([]byte{0x00}, 0)
}

func TestKeylistEmpty(t *testing.T) {
	if !keylistEmpty(nil) {
		t.Fatal("nil list should be empty")
	}
	list := keylistAddKey(nil, []byte("x"))
	if keylistEmpty(list) {
		t.Fatal("list with one entry should not be empty")
	}
}
