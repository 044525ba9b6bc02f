package engine

import "testing"

func newTestEngine(clock *fakeClock) *Engine {
	return New(WithClock(clock), WithCleanupInterval(0))
}

// TestClassicSetGetDelete covers spec.md §8 scenario 1.
func TestClassicSetGetDelete(t *testing.T) {
	e := newTestEngine(newFakeClock(1000))
	defer e.Stop()

	key := []byte("a")
	if res := e.Set(key, []byte("apple"), 0, 0); res != StoreStored {
		t.Fatalf("set: got %s", res)
	}
	it, ok := e.Get(key)
	if !ok || string(it.Data) != "apple" {
		t.Fatalf("get: got %v, ok=%v", it, ok)
	}
	if res := e.GetAndDelete(key, false); res != StoreExists {
		t.Fatalf("delete: got %s", res)
	}
	if _, ok := e.Get(key); ok {
		t.Fatal("expected miss after delete")
	}
}

// TestExpiry covers spec.md §8 scenario 2: a past-exptime item is a lazy miss.
func TestExpiry(t *testing.T) {
	clock := newFakeClock(1000)
	e := newTestEngine(clock)
	defer e.Stop()

	key := []byte("exp")
	it := e.NewItem(key, []byte("v"))
	it.Exptime = 1010
	if res := e.IQSet(it, ReqSet, 0); res != StoreStored {
		t.Fatalf("set: got %s", res)
	}
	if _, ok := e.Get(key); !ok {
		t.Fatal("expected hit before expiry")
	}

	clock.Advance(20)
	if _, ok := e.Get(key); ok {
		t.Fatal("expected miss after expiry")
	}
}

// TestCas covers the classic CAS mismatch/match pair.
func TestCas(t *testing.T) {
	e := newTestEngine(newFakeClock(1000))
	defer e.Stop()

	key := []byte("cas")
	e.Set(key, []byte("v1"), 0, 0)
	it, _ := e.Get(key)
	staleCas := it.Cas

	bogus := e.NewItem(key, []byte("v2"))
	bogus.Cas = staleCas + 1
	if res := e.IQSet(bogus, ReqCas, 0); res != StoreExists {
		t.Fatalf("cas mismatch: got %s", res)
	}

	good := e.NewItem(key, []byte("v3"))
	good.Cas = staleCas
	if res := e.IQSet(good, ReqCas, 0); res != StoreStored {
		t.Fatalf("cas match: got %s", res)
	}
	it2, _ := e.Get(key)
	if string(it2.Data) != "v3" {
		t.Fatalf("expected v3, got %s", it2.Data)
	}
}

// TestAppendOverflow covers spec.md §8 scenario 7: an append that would
// overflow the slab class is refused without mutating the existing value.
func TestAppendOverflow(t *testing.T) {
	e := newTestEngine(newFakeClock(1000))
	defer e.Stop()

	key := []byte("big")
	huge := make([]byte, (1<<20)-10) // lands in the top (1 MiB) slab class, 10 bytes short of full
	for i := range huge {
		huge[i] = 'x'
	}
	it := e.NewItem(key, huge)
	if res := e.IQSet(it, ReqSet, 0); res != StoreStored {
		t.Fatalf("set huge: got %s", res)
	}

	extra := e.NewItem(key, []byte("overflow-by-a-few-bytes"))
	if res := e.IQSet(extra, ReqAppend, 0); res != StoreClientError {
		t.Fatalf("append overflow: got %s", res)
	}

	got, ok := e.Get(key)
	if !ok || len(got.Data) != len(huge) {
		t.Fatalf("expected original value untouched, got len=%d ok=%v", len(got.Data), ok)
	}
}

// TestILeaseHandshake covers spec.md §8 scenario 4: a cold miss mints a
// lease token, and iqset redeems it.
func TestILeaseHandshake(t *testing.T) {
	e := newTestEngine(newFakeClock(1000))
	defer e.Stop()

	key := []byte("lease")
	res, _, token := e.IQGet(key, 0, []byte("tid1"), false)
	if res != IQLease {
		t.Fatalf("iqget cold: got %s", res)
	}
	if token == 0 {
		t.Fatal("expected a nonzero token")
	}

	// A second concurrent miss against the same still-leased key is a hotmiss.
	res2, _, tok2 := e.IQGet(key, 0, []byte("tid2"), false)
	if res2 != IQMiss || tok2 != LeaseHotmiss {
		t.Fatalf("iqget hotmiss: got %s, token %d", res2, tok2)
	}

	it := e.NewItem(key, []byte("value"))
	if res := e.IQSet(it, ReqIQSet, token); res != StoreStored {
		t.Fatalf("iqset redeem: got %s", res)
	}

	res3, value, _ := e.IQGet(key, 0, []byte("tid3"), false)
	if res3 != IQValue || string(value.Data) != "value" {
		t.Fatalf("iqget after redeem: got %s, %v", res3, value)
	}
}

// TestQuarantineAndReadCommit covers spec.md §8 scenario 5.
func TestQuarantineAndReadCommit(t *testing.T) {
	e := newTestEngine(newFakeClock(1000))
	defer e.Stop()

	key := []byte("q")
	e.Set(key, []byte("original"), 0, 0)

	tid := []byte("tidQ")
	res, pv, token := e.QuarantineAndRead(tid, key, 0, 0)
	if res != IQLease || token == 0 {
		t.Fatalf("quarantine_and_read: got %s, token %d", res, token)
	}
	if pv == nil || string(pv.Data) != "original" {
		t.Fatalf("expected pending version to mirror original value, got %v", pv)
	}

	if res := e.Commit(tid, false, 0); res != IQOK {
		t.Fatalf("commit: got %s", res)
	}
	it, ok := e.Get(key)
	if !ok || string(it.Data) != "original" {
		t.Fatalf("expected value preserved after commit, got %v ok=%v", it, ok)
	}
}

// TestReleaseRollsBack covers spec.md §8 scenario 6: releasing a
// transaction discards its quarantine without touching the live value.
func TestReleaseRollsBack(t *testing.T) {
	e := newTestEngine(newFakeClock(1000))
	defer e.Stop()

	key := []byte("r")
	e.Set(key, []byte("kept"), 0, 0)

	tid := []byte("tidR")
	if res, _, _ := e.QuarantineAndRead(tid, key, 0, 0); res != IQLease {
		t.Fatalf("quarantine_and_read: got %s", res)
	}
	if res := e.Release(tid); res != IQOK {
		t.Fatalf("release: got %s", res)
	}

	it, ok := e.Get(key)
	if !ok || string(it.Data) != "kept" {
		t.Fatalf("expected value untouched by release, got %v ok=%v", it, ok)
	}
}

// TestCoSessionCommit covers the CO family's read/modify/write cycle.
func TestCoSessionCommit(t *testing.T) {
	e := newTestEngine(newFakeClock(1000))
	defer e.Stop()

	key := []byte("co")
	e.Set(key, []byte("v0"), 0, 0)

	sid := []byte("sid1")
	if res, it := e.CIGet(sid, key, 0); res != COOK || string(it.Data) != "v0" {
		t.Fatalf("ciget: got %s, %v", res, it)
	}
	if res := e.OQWrite(sid, key, []byte("v1"), 0); res != COOK {
		t.Fatalf("oqwrite: got %s", res)
	}
	if res := e.Validate(sid); res != COOK {
		t.Fatalf("validate: got %s", res)
	}
	if res := e.DCommit(sid); res != COOK {
		t.Fatalf("dcommit: got %s", res)
	}

	it, ok := e.Get(key)
	if !ok || string(it.Data) != "v1" {
		t.Fatalf("expected v1 after commit, got %v ok=%v", it, ok)
	}
}

// TestCoUnleaseDiscardsWrite ensures a rolled-back session never promotes
// its staged write.
func TestCoUnleaseDiscardsWrite(t *testing.T) {
	e := newTestEngine(newFakeClock(1000))
	defer e.Stop()

	key := []byte("co2")
	e.Set(key, []byte("v0"), 0, 0)

	sid := []byte("sid2")
	e.CIGet(sid, key, 0)
	e.OQWrite(sid, key, []byte("staged"), 0)
	if res := e.CoUnlease(sid); res != COOK {
		t.Fatalf("co_unlease: got %s", res)
	}

	it, ok := e.Get(key)
	if !ok || string(it.Data) != "v0" {
		t.Fatalf("expected v0 preserved after unlease, got %v ok=%v", it, ok)
	}
}

// TestOQWriteAbortsOtherCooperativeReaders covers spec.md §4.7.7's
// oqread/oqwrite rule: a session that had only cooperatively read a key (C
// colease) is bumped to ABORT once another session claims the exclusive
// O_REF colease to write it, and its next CO call observes the abort.
func TestOQWriteAbortsOtherCooperativeReaders(t *testing.T) {
	e := newTestEngine(newFakeClock(1000))
	defer e.Stop()

	key := []byte("shared")
	e.Set(key, []byte("v0"), 0, 0)

	reader := []byte("reader")
	writer := []byte("writer")

	if res, _ := e.CIGet(reader, key, 0); res != COOK {
		t.Fatalf("reader ciget: got %s", res)
	}
	if res, _ := e.CIGet(writer, key, 0); res != COOK {
		t.Fatalf("writer ciget: got %s", res)
	}
	if res := e.OQWrite(writer, key, []byte("v1"), 0); res != COOK {
		t.Fatalf("writer oqwrite: got %s", res)
	}

	// The reader never re-touched the key; its session is flagged ABORT and
	// its next CO call discovers and finalizes that.
	if res := e.Validate(reader); res != COAbort {
		t.Fatalf("reader validate: expected CO_ABORT, got %s", res)
	}

	if res := e.DCommit(writer); res != COOK {
		t.Fatalf("writer dcommit: got %s", res)
	}
	got, ok := e.Get(key)
	if !ok || string(got.Data) != "v1" {
		t.Fatalf("expected v1 after writer commit, got %v ok=%v", got, ok)
	}
}

// TestIQIncrDecr covers spec.md §4.7.8's counter semantics: saturation at
// zero on decrement, straightforward addition on increment.
func TestIQIncrDecr(t *testing.T) {
	e := newTestEngine(newFakeClock(1000))
	defer e.Stop()

	key := []byte("ctr")
	e.Set(key, []byte("10"), 0, 0)

	if res, n := e.IQIncr(key, 5); res != IQOK || n != 15 {
		t.Fatalf("incr: got %s, %d", res, n)
	}
	if res, n := e.IQDecr(key, 100); res != IQOK || n != 0 {
		t.Fatalf("decr saturates at zero: got %s, %d", res, n)
	}
}

// TestFlushExpired covers spec.md §8 property 7: once a flush_all boundary
// is set, FlushExpired unlinks items whose atime is at or after it and is
// idempotent to call twice; items older than the boundary are dropped
// lazily on their next Get. Anything set after the clock has moved past
// the boundary is unaffected.
func TestFlushExpired(t *testing.T) {
	clock := newFakeClock(1000)
	e := newTestEngine(clock)
	defer e.Stop()

	e.Set([]byte("old"), []byte("v"), 0, 0)
	clock.Advance(100)
	e.SetOldestLive(clock.Now())

	e.FlushExpired()
	e.FlushExpired() // idempotent

	if _, ok := e.Get([]byte("old")); ok {
		t.Fatal("expected pre-boundary item to be gone after flush_all")
	}

	clock.Advance(1)
	e.Set([]byte("survivor"), []byte("v"), 0, 0)
	if _, ok := e.Get([]byte("survivor")); !ok {
		t.Fatal("expected item set after FlushExpired to survive")
	}
}
